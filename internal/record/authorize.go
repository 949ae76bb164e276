package record

import "context"

// Authorizer is the external authorization collaborator. The engine consumes
// this interface and never implements it: by default the accessor is raw and
// every operation is allowed.
type Authorizer interface {
	// Authorize is invoked before Set, Update, CompareAndSet, and Delete
	// with the affected field names mapped to their required masks and the
	// caller's mask (the registry entry's permissions value). Returning an
	// error fails the operation before any statement is issued.
	Authorize(ctx context.Context, fields map[string]int64, callerMask int64) error
}

// WithAuthorizer wires the authorization collaborator. fieldMasks maps
// payload field names to the mask required to write them; fields without an
// entry require mask 0.
func WithAuthorizer(auth Authorizer, fieldMasks map[string]int64) Option {
	return func(a *Accessor) {
		a.auth = auth
		a.fieldMasks = fieldMasks
	}
}

// authorize consults the collaborator for a write touching payload's fields.
// A nil payload (Delete) presents every configured field.
func (a *Accessor) authorize(ctx context.Context, payload Payload) error {
	if a.auth == nil {
		return nil
	}

	entry, err := a.resolver.Entry(ctx)
	if err != nil {
		return err
	}

	fields := make(map[string]int64)
	if payload == nil {
		for k, mask := range a.fieldMasks {
			fields[k] = mask
		}
	} else {
		for k := range payload {
			fields[k] = a.fieldMasks[k]
		}
	}

	return a.auth.Authorize(ctx, fields, entry.Permissions)
}

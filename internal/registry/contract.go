package registry

import (
	"errors"
	"fmt"
)

// ChangeClass classifies a change to an existing registry entry. The
// classification contract belongs to the schema-migration tooling; the
// registry only consumes it during provisioning.
type ChangeClass int

const (
	// ChangeSafe changes can be applied automatically.
	ChangeSafe ChangeClass = iota

	// ChangeDangerous changes require operator intervention. Provisioning
	// refuses to apply them.
	ChangeDangerous
)

func (c ChangeClass) String() string {
	switch c {
	case ChangeSafe:
		return "safe"
	case ChangeDangerous:
		return "dangerous"
	default:
		return fmt.Sprintf("ChangeClass(%d)", int(c))
	}
}

// Classifier decides whether altering an existing registry entry is safe to
// apply automatically.
type Classifier interface {
	Classify(existing, desired Entry) ChangeClass
}

// DefaultClassifier treats anything that moves data out from under callers
// as dangerous: repointing storage or reassigning the owner. Permission mask
// changes are safe.
type DefaultClassifier struct{}

func (DefaultClassifier) Classify(existing, desired Entry) ChangeClass {
	if existing.Ptr != desired.Ptr || existing.Owner != desired.Owner {
		return ChangeDangerous
	}
	return ChangeSafe
}

// DangerousChangeError reports a manifest entry whose application was refused
// by the change classifier.
type DangerousChangeError struct {
	ID       string
	Existing Entry
	Desired  Entry
}

func (e *DangerousChangeError) Error() string {
	return fmt.Sprintf("dangerous change to registry entry %q: ptr %q -> %q, owner %q -> %q",
		e.ID, e.Existing.Ptr, e.Desired.Ptr, e.Existing.Owner, e.Desired.Owner)
}

// IsDangerousChange returns true if the error is a refused provisioning
// change. Uses errors.As to handle wrapped errors.
func IsDangerousChange(err error) bool {
	var dc *DangerousChangeError
	return errors.As(err, &dc)
}

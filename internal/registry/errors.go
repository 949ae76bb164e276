package registry

import (
	"errors"
	"fmt"
)

// NotFoundError reports a logical name with no registry entry for the
// requesting owner.
type NotFoundError struct {
	Logical string
	Owner   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no registry entry for %q owned by %q", e.Logical, e.Owner)
}

// IsNotFound returns true if the error is a registry miss. Uses errors.As to
// handle wrapped errors.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidIdentifierError reports a physical identifier that failed the
// allow-list. Identifiers cannot be parameterized, so nothing outside the
// allow-list may ever be interpolated into statement text.
type InvalidIdentifierError struct {
	Ptr string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid physical identifier %q: must match %s", e.Ptr, identPattern.String())
}

// IsInvalidIdentifier returns true if the error is an allow-list rejection.
// Uses errors.As to handle wrapped errors.
func IsInvalidIdentifier(err error) bool {
	var ii *InvalidIdentifierError
	return errors.As(err, &ii)
}

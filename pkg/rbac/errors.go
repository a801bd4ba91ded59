package rbac

import "errors"

// ErrNotFound marks lookups that matched no row. Wrapped by store errors so
// handlers can map it to 404.
var ErrNotFound = errors.New("not found")

// ConflictError is a business-rule violation on a mutation: the role is
// already assigned, another role is held in the module, or the target cannot
// hold the role. The request completes normally with no state change.
type ConflictError struct {
	Message string
	// HeldRole names the role already held, when that is the conflict
	HeldRole string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflict reports whether err is a mutation conflict
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ForbiddenError is a refusal that no input can make succeed: editing a
// protected role's task set, or removing yourself from a protected role.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

// IsForbidden reports whether err is a forbidden mutation
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

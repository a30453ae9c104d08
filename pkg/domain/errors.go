package domain

import (
	"errors"
	"fmt"
)

// Sentinels matched through errors.Is by the typed errors below.
var (
	ErrIdentityConflict       = errors.New("identity conflict")
	ErrUninitializedField     = errors.New("uninitialized field")
	ErrMissingRequiredParent  = errors.New("missing required parent")
	ErrDanglingReference      = errors.New("dangling reference")
	ErrNotFound               = errors.New("entity not found")
	ErrBuilderCommitted       = errors.New("builder already committed")
	ErrModificationNotAllowed = errors.New("entity is not modifiable")
	ErrReadOnlyData           = errors.New("entity data is read-only")
)

// IdentityConflictError reports an attempt to attach an entity that is
// already owned by another builder or already carries an EntityID.
type IdentityConflictError struct {
	Type   EntityType
	ID     EntityID
	Reason string
}

func (e IdentityConflictError) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("entity %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("entity %s (%s): %s", e.Type, e.ID, e.Reason)
}

// Is matches ErrIdentityConflict.
func (e IdentityConflictError) Is(target error) bool { return target == ErrIdentityConflict }

// UninitializedFieldError names a required field that was read or committed
// before being set.
type UninitializedFieldError struct {
	Type  EntityType
	Field string
}

func (e UninitializedFieldError) Error() string {
	return fmt.Sprintf("field %s#%s should be initialized", e.Type, e.Field)
}

// Is matches ErrUninitializedField.
func (e UninitializedFieldError) Is(target error) bool { return target == ErrUninitializedField }

// MissingRequiredParentError reports an add without a resolvable required parent.
type MissingRequiredParentError struct {
	Child      EntityType
	Parent     EntityType
	Connection ConnectionID
}

func (e MissingRequiredParentError) Error() string {
	return fmt.Sprintf("entity %s requires a parent of type %s via %s", e.Child, e.Parent, e.Connection)
}

// Is matches ErrMissingRequiredParent.
func (e MissingRequiredParentError) Is(target error) bool { return target == ErrMissingRequiredParent }

// DanglingReferenceError reports a connection that points at an absent entity.
type DanglingReferenceError struct {
	From       EntityID
	To         EntityID
	Connection ConnectionID
}

func (e DanglingReferenceError) Error() string {
	return fmt.Sprintf("entity %s references missing %s via %s", e.From, e.To, e.Connection)
}

// Is matches ErrDanglingReference.
func (e DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// NotFoundError reports a lookup of an id absent from a builder.
type NotFoundError struct {
	ID EntityID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

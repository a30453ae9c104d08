package domain

// Field holds a scalar value together with an explicit "not yet set" marker.
// Reading an unset field fails with an UninitializedFieldError instead of
// yielding a zero value.
type Field[T any] struct {
	value T
	set   bool
}

// NewField returns an initialized field.
func NewField[T any](v T) Field[T] {
	return Field[T]{value: v, set: true}
}

// Set assigns the value and flags the field initialized.
func (f *Field[T]) Set(v T) {
	f.value = v
	f.set = true
}

// IsSet reports whether the field has been initialized.
func (f Field[T]) IsSet() bool {
	return f.set
}

// Get returns the value or an UninitializedFieldError naming the field.
func (f Field[T]) Get(owner EntityType, name string) (T, error) {
	if !f.set {
		var zero T
		return zero, UninitializedFieldError{Type: owner, Field: name}
	}
	return f.value, nil
}

// Value returns the stored value without the initialization check. Callers
// use it only after CheckInitialized has passed, e.g. on snapshot reads.
func (f Field[T]) Value() T {
	return f.value
}

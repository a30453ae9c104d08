package core

import (
	"workspacestore/internal/containers"
	"workspacestore/pkg/domain"
)

// RelabelField assigns the external value of a scalar field through set when
// it differs from the current one. An unset external field is skipped.
func RelabelField[T comparable](current, external domain.Field[T], set func(T) error) error {
	if !external.IsSet() || current == external {
		return nil
	}
	return set(external.Value())
}

// RelabelSource assigns the external provenance when it differs.
func RelabelSource(current, external domain.EntitySource, set func(domain.EntitySource) error) error {
	if current == external {
		return nil
	}
	return set(external)
}

// RelabelList replaces a collection field wholesale when its contents differ
// from the external collection. A nil external collection is skipped.
func RelabelList[T comparable](current, external *containers.TrackedList[T], set func([]T) error) error {
	if external == nil || current.Equal(external) {
		return nil
	}
	return set(external.Items())
}

// Package entities holds the entity types of the workspace model. Every type
// follows the same fixed shape: a data holder (XxxData), a read-only façade
// materialized from snapshots (Xxx) and a modifiable builder façade
// (XxxBuilder) that routes every write through core.Modifiable.
package entities

import (
	"fmt"
	"workspacestore/internal/containers"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"
)

// Register adds every entity type of the package to reg.
func Register(reg *core.Registry) error {
	for _, d := range []core.TypeDescriptor{
		widgetDescriptor(),
		moduleDescriptor(),
		contentRootDescriptor(),
		facetDescriptor(),
		outputDescriptor(),
		withSealedDescriptor(),
	} {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a sealed registry holding every entity type.
func NewRegistry() (*core.Registry, error) {
	reg := core.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}
	return reg, nil
}

func dataOf[D domain.EntityData](m *core.Modifiable, forWrite bool) (D, error) {
	var zero D
	data, err := m.EntityData(forWrite)
	if err != nil {
		return zero, err
	}
	typed, ok := data.(D)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected data holder %T", m.Type(), data)
	}
	return typed, nil
}

// write applies fn to a writable copy of the data and marks field changed.
func write[D domain.EntityData](m *core.Modifiable, field string, fn func(D) error) error {
	if err := m.CheckModificationAllowed(); err != nil {
		return err
	}
	data, err := dataOf[D](m, true)
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	m.MarkChanged(field)
	return nil
}

// replaceList overwrites the contents of *list in place, so handles taken
// from the list earlier see the new values. An unset list is created.
func replaceList[T comparable](list **containers.TrackedList[T], v []T) error {
	if *list == nil {
		*list = containers.FromSlice(v)
		return nil
	}
	return (*list).Replace(v)
}

// trackedList returns a collection field ready for in-place mutation: the
// data is copied for write when attached and the list reports to field.
func trackedList[D domain.EntityData, T comparable](m *core.Modifiable, field string, pick func(D) *containers.TrackedList[T]) (*containers.TrackedList[T], error) {
	forWrite := m.Ownership() == core.OwnerBuilder
	if forWrite {
		if err := m.CheckModificationAllowed(); err != nil {
			return nil, err
		}
	}
	data, err := dataOf[D](m, forWrite)
	if err != nil {
		return nil, err
	}
	list := pick(data)
	if list == nil {
		return nil, domain.UninitializedFieldError{Type: m.Type(), Field: field}
	}
	m.Track(field, list)
	return list, nil
}

func materialize[D domain.EntityData](s *core.Snapshot, data domain.EntityData, build func(D) domain.Entity) domain.Entity {
	return s.InitializeEntity(data.ID(), func() domain.Entity { return build(data.(D)) })
}

// lookup returns the typed read-only façade for id from s.
func lookup[E domain.Entity](s *core.Snapshot, id domain.EntityID) (E, bool) {
	var zero E
	ent, ok := s.Entity(id)
	if !ok {
		return zero, false
	}
	typed, ok := ent.(E)
	return typed, ok
}

// modify runs fn against the typed builder façade of id.
func modify[F core.ModifiableEntity](b *core.Builder, id domain.EntityID, fn func(F) error) error {
	return b.ModifyEntity(id, func(m core.ModifiableEntity) error {
		typed, ok := m.(F)
		if !ok {
			return fmt.Errorf("%s: unexpected façade %T", id, m)
		}
		return fn(typed)
	})
}

// builderOf returns the typed façade for id in b.
func builderOf[F core.ModifiableEntity](b *core.Builder, id domain.EntityID) (F, error) {
	var zero F
	m, err := b.Facade(id)
	if err != nil {
		return zero, err
	}
	typed, ok := m.(F)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected façade %T", id, m)
	}
	return typed, nil
}

// requireParents checks that parents cover every required parent type.
func requireParents(child domain.EntityType, required []domain.EntityType, parents []core.ModifiableEntity) error {
	for _, want := range required {
		found := false
		for _, p := range parents {
			if p != nil && p.Base().Type() == want {
				found = true
				break
			}
		}
		if !found {
			return domain.MissingRequiredParentError{Child: child, Parent: want}
		}
	}
	return nil
}

func asData[D domain.EntityData](other domain.EntityData) (D, bool) {
	typed, ok := other.(D)
	return typed, ok
}

func errRelabelType(want domain.EntityType, got domain.EntityData) error {
	if got == nil {
		return fmt.Errorf("relabel %s: nil external data", want)
	}
	return fmt.Errorf("relabel %s: external data is %s", want, got.Type())
}

package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"workspacestore/pkg/domain"
)

// TypeDescriptor binds an entity type's schema metadata to the factories the
// store needs to instantiate data holders and façades for it.
type TypeDescriptor struct {
	Metadata domain.Metadata
	// New returns an empty, detached data holder.
	New func() domain.EntityData
	// Wrap returns the modifiable façade for an entity attached to b.
	Wrap func(b *Builder, id domain.EntityID) ModifiableEntity
	// Materialize returns the read-only façade for a snapshot entry.
	Materialize func(s *Snapshot, data domain.EntityData) domain.Entity
}

// Registry enumerates entity types and the connections each participates in.
type Registry struct {
	mu       sync.RWMutex
	types    map[domain.EntityType]TypeDescriptor
	byType   map[domain.EntityType][]domain.ConnectionID
	sealed   bool
	sealOnce sync.Once
	sealErr  error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:  make(map[domain.EntityType]TypeDescriptor),
		byType: make(map[domain.EntityType][]domain.ConnectionID),
	}
}

// Register adds an entity type. Connections are indexed under both endpoint
// types; endpoints are resolved when the registry is sealed.
func (r *Registry) Register(d TypeDescriptor) error {
	t := d.Metadata.Type
	if t == "" {
		return errors.New("register entity type: empty type tag")
	}
	if d.New == nil || d.Wrap == nil || d.Materialize == nil {
		return fmt.Errorf("register entity type %s: New, Wrap and Materialize are required", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register entity type %s: registry is sealed", t)
	}
	if _, exists := r.types[t]; exists {
		return fmt.Errorf("register entity type %s: already registered", t)
	}
	for _, conn := range d.Metadata.Connections {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("register entity type %s: %w", t, err)
		}
		if conn.Parent != t && conn.Child != t {
			return fmt.Errorf("register entity type %s: connection %s does not involve the type", t, conn)
		}
	}
	r.types[t] = d
	for _, conn := range d.Metadata.Connections {
		r.index(conn.Parent, conn)
		r.index(conn.Child, conn)
	}
	return nil
}

func (r *Registry) index(t domain.EntityType, conn domain.ConnectionID) {
	if !slices.Contains(r.byType[t], conn) {
		r.byType[t] = append(r.byType[t], conn)
	}
}

// MustRegister panics when Register fails. Used by entity packages whose
// descriptors are static.
func (r *Registry) MustRegister(d TypeDescriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Seal validates the registered schema and freezes the registry: every
// connection endpoint must be registered, required parents must be backed by
// a non-nullable connection and the parent->child graph must be acyclic.
// Sealing is idempotent.
func (r *Registry) Seal() error {
	r.sealOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.sealErr = r.validate()
		if r.sealErr == nil {
			r.sealed = true
		}
	})
	return r.sealErr
}

// Sealed reports whether Seal succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) validate() error {
	for t, conns := range r.byType {
		if _, ok := r.types[t]; !ok {
			return fmt.Errorf("connection %s references unregistered type %s", conns[0], t)
		}
	}
	for t, d := range r.types {
		for _, parent := range d.Metadata.RequiredParents {
			found := false
			for _, conn := range r.byType[t] {
				if conn.Child == t && conn.Parent == parent && !conn.ParentNullable {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("entity type %s requires parent %s but declares no non-nullable connection to it", t, parent)
			}
		}
	}
	return r.checkAcyclic()
}

func (r *Registry) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[domain.EntityType]int, len(r.types))
	var visit func(t domain.EntityType, path []domain.EntityType) error
	visit = func(t domain.EntityType, path []domain.EntityType) error {
		switch marks[t] {
		case visiting:
			return fmt.Errorf("connection cycle detected: %v", append(path, t))
		case done:
			return nil
		}
		marks[t] = visiting
		for _, conn := range r.byType[t] {
			if conn.Parent != t {
				continue
			}
			if err := visit(conn.Child, append(path, t)); err != nil {
				return err
			}
		}
		marks[t] = done
		return nil
	}
	for _, t := range r.sortedTypes() {
		if err := visit(t, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) sortedTypes() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Types lists registered entity types in ascending order.
func (r *Registry) Types() []domain.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedTypes()
}

// Descriptor returns the descriptor registered for t.
func (r *Registry) Descriptor(t domain.EntityType) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[t]
	return d, ok
}

// ConnectionsOf returns every connection t participates in as parent or child.
func (r *Registry) ConnectionsOf(t domain.EntityType) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byType[t])
}

// ParentConnections returns the connections where t is the child.
func (r *Registry) ParentConnections(t domain.EntityType) []domain.ConnectionID {
	return r.filter(t, func(c domain.ConnectionID) bool { return c.Child == t })
}

// ChildConnections returns the connections where t is the parent.
func (r *Registry) ChildConnections(t domain.EntityType) []domain.ConnectionID {
	return r.filter(t, func(c domain.ConnectionID) bool { return c.Parent == t })
}

func (r *Registry) filter(t domain.EntityType, keep func(domain.ConnectionID) bool) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ConnectionID
	for _, c := range r.byType[t] {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// HasConnection reports whether conn is registered for t.
func (r *Registry) HasConnection(t domain.EntityType, conn domain.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.byType[t], conn)
}

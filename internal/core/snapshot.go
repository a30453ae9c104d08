package core

import (
	"sort"
	"sync"
	"workspacestore/pkg/domain"

	"github.com/Workiva/go-datastructures/trie/ctrie"
	"github.com/google/uuid"
)

// record is the immutable unit stored in a snapshot's persistent map. Builders
// never mutate a record reachable from a snapshot; they copy it first.
type record struct {
	data     domain.EntityData
	parents  map[domain.ConnectionID]domain.EntityID
	children map[domain.ConnectionID][]domain.EntityID
}

func newRecord(data domain.EntityData) *record {
	return &record{
		data:     data,
		parents:  make(map[domain.ConnectionID]domain.EntityID),
		children: make(map[domain.ConnectionID][]domain.EntityID),
	}
}

// copyLinks returns a record sharing data but owning its relation maps.
func (r *record) copyLinks() *record {
	out := &record{
		data:     r.data,
		parents:  make(map[domain.ConnectionID]domain.EntityID, len(r.parents)),
		children: make(map[domain.ConnectionID][]domain.EntityID, len(r.children)),
	}
	for conn, id := range r.parents {
		out.parents[conn] = id
	}
	for conn, ids := range r.children {
		out.children[conn] = append([]domain.EntityID(nil), ids...)
	}
	return out
}

// connections lists the connections the record currently participates in,
// ordered for deterministic walks.
func (r *record) connections() []domain.ConnectionID {
	seen := make(map[domain.ConnectionID]struct{}, len(r.parents)+len(r.children))
	out := make([]domain.ConnectionID, 0, len(r.parents)+len(r.children))
	for conn := range r.parents {
		if _, ok := seen[conn]; !ok {
			seen[conn] = struct{}{}
			out = append(out, conn)
		}
	}
	for conn, ids := range r.children {
		if len(ids) == 0 {
			continue
		}
		if _, ok := seen[conn]; !ok {
			seen[conn] = struct{}{}
			out = append(out, conn)
		}
	}
	sortConnections(out)
	return out
}

func sortConnections(conns []domain.ConnectionID) {
	sort.Slice(conns, func(i, j int) bool { return conns[i].String() < conns[j].String() })
}

func sortIDs(ids []domain.EntityID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].Seq < ids[j].Seq
	})
}

// Snapshot is an immutable view of the entity store. It is safe for
// concurrent readers without synchronization; the only mutable state is the
// façade cache, which is compute-once.
type Snapshot struct {
	registry *Registry
	// master is kept writable only so that builders can take O(1) copies of
	// it; nothing inserts into it after construction.
	master  *ctrie.Ctrie
	view    *ctrie.Ctrie
	lineage uuid.UUID
	version uint64
	nextSeq uint64
	size    int
	facades sync.Map
}

// NewSnapshot returns the empty root snapshot of a new lineage.
func NewSnapshot(reg *Registry) *Snapshot {
	master := ctrie.New(nil)
	return &Snapshot{
		registry: reg,
		master:   master,
		view:     master.ReadOnlySnapshot(),
		lineage:  uuid.New(),
		nextSeq:  1,
	}
}

// Registry returns the registry the snapshot was built against.
func (s *Snapshot) Registry() *Registry { return s.registry }

// Lineage identifies the chain of snapshots derived from one root.
func (s *Snapshot) Lineage() uuid.UUID { return s.lineage }

// Version counts commits since the lineage root.
func (s *Snapshot) Version() uint64 { return s.version }

// NextSeq is the sequence the next added entity will receive.
func (s *Snapshot) NextSeq() uint64 { return s.nextSeq }

// Len returns the number of entities.
func (s *Snapshot) Len() int { return s.size }

func (s *Snapshot) record(id domain.EntityID) (*record, bool) {
	if id.IsZero() {
		return nil, false
	}
	v, ok := s.view.Lookup(id.Key())
	if !ok {
		return nil, false
	}
	return v.(*record), true
}

// records drains the map into a slice ordered by id.
func (s *Snapshot) records() []*record {
	out := make([]*record, 0, s.size)
	for entry := range s.view.Iterator(nil) {
		out = append(out, entry.Value.(*record))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].data.ID(), out[j].data.ID()
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Seq < b.Seq
	})
	return out
}

// Contains reports whether id is present.
func (s *Snapshot) Contains(id domain.EntityID) bool {
	_, ok := s.record(id)
	return ok
}

// EntityData returns the finalized data for id. The returned value must not
// be mutated; its collections are frozen.
func (s *Snapshot) EntityData(id domain.EntityID) (domain.EntityData, bool) {
	rec, ok := s.record(id)
	if !ok {
		return nil, false
	}
	return rec.data, true
}

// Entities returns every entity of type t ordered by sequence.
func (s *Snapshot) Entities(t domain.EntityType) []domain.EntityData {
	var out []domain.EntityData
	for _, rec := range s.records() {
		if rec.data.Type() == t {
			out = append(out, rec.data)
		}
	}
	return out
}

// All returns every entity ordered by type then sequence.
func (s *Snapshot) All() []domain.EntityData {
	recs := s.records()
	out := make([]domain.EntityData, len(recs))
	for i, rec := range recs {
		out[i] = rec.data
	}
	return out
}

// IDs returns every entity id ordered by type then sequence.
func (s *Snapshot) IDs() []domain.EntityID {
	recs := s.records()
	out := make([]domain.EntityID, len(recs))
	for i, rec := range recs {
		out[i] = rec.data.ID()
	}
	return out
}

// Parent returns the parent of child on conn.
func (s *Snapshot) Parent(child domain.EntityID, conn domain.ConnectionID) (domain.EntityID, bool) {
	rec, ok := s.record(child)
	if !ok {
		return domain.EntityID{}, false
	}
	id, ok := rec.parents[conn]
	return id, ok
}

// Children returns the children of parent on conn in link order.
func (s *Snapshot) Children(parent domain.EntityID, conn domain.ConnectionID) []domain.EntityID {
	rec, ok := s.record(parent)
	if !ok {
		return nil
	}
	return append([]domain.EntityID(nil), rec.children[conn]...)
}

// Connections lists the connections id currently participates in.
func (s *Snapshot) Connections(id domain.EntityID) []domain.ConnectionID {
	rec, ok := s.record(id)
	if !ok {
		return nil
	}
	return rec.connections()
}

// InitializeEntity returns the cached façade for id, building it with factory
// on first use. Concurrent callers observe the same instance.
func (s *Snapshot) InitializeEntity(id domain.EntityID, factory func() domain.Entity) domain.Entity {
	if cached, ok := s.facades.Load(id); ok {
		return cached.(domain.Entity)
	}
	actual, _ := s.facades.LoadOrStore(id, factory())
	return actual.(domain.Entity)
}

// Entity materializes the read-only façade for id through its registered
// type descriptor.
func (s *Snapshot) Entity(id domain.EntityID) (domain.Entity, bool) {
	rec, ok := s.record(id)
	if !ok {
		return nil, false
	}
	desc, ok := s.registry.Descriptor(id.Type)
	if !ok {
		return nil, false
	}
	return desc.Materialize(s, rec.data), true
}

// Derive opens a builder over the snapshot. No data is copied until an
// entity is touched.
func (s *Snapshot) Derive() *Builder {
	return newBuilder(s)
}

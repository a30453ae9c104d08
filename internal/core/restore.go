package core

import (
	"errors"
	"fmt"
	"workspacestore/pkg/domain"

	"github.com/Workiva/go-datastructures/trie/ctrie"
	"github.com/google/uuid"
)

// RestoredEntity is one entity handed to RestoreSnapshot: attached data with
// its id already set and its child-side links.
type RestoredEntity struct {
	Data    domain.EntityData
	Parents map[domain.ConnectionID]domain.EntityID
}

// SnapshotState is the identity of a snapshot within its lineage.
type SnapshotState struct {
	Lineage uuid.UUID
	Version uint64
	NextSeq uint64
}

// State returns the lineage position of s.
func (s *Snapshot) State() SnapshotState {
	return SnapshotState{Lineage: s.lineage, Version: s.version, NextSeq: s.nextSeq}
}

// Links returns the child-side links of id.
func (s *Snapshot) Links(id domain.EntityID) map[domain.ConnectionID]domain.EntityID {
	rec, ok := s.record(id)
	if !ok {
		return nil
	}
	out := make(map[domain.ConnectionID]domain.EntityID, len(rec.parents))
	for conn, pid := range rec.parents {
		out[conn] = pid
	}
	return out
}

// RestoreSnapshot rebuilds a snapshot from previously exported entities,
// keeping their ids. Children are derived from the parent links in entity
// order. The result is validated like a commit.
func RestoreSnapshot(reg *Registry, state SnapshotState, entities []RestoredEntity) (*Snapshot, error) {
	if reg == nil {
		return nil, errors.New("restore snapshot: registry is required")
	}
	if state.Lineage == uuid.Nil {
		state.Lineage = uuid.New()
	}
	records := make(map[domain.EntityID]*record, len(entities))
	order := make([]domain.EntityID, 0, len(entities))
	maxSeq := uint64(0)
	for _, e := range entities {
		if e.Data == nil {
			return nil, errors.New("restore snapshot: nil entity data")
		}
		id := e.Data.ID()
		if id.IsZero() || id.Type != e.Data.Type() {
			return nil, fmt.Errorf("restore snapshot: entity %s has invalid id %s", e.Data.Type(), id)
		}
		if _, dup := records[id]; dup {
			return nil, domain.IdentityConflictError{Type: id.Type, ID: id, Reason: "duplicate id in archive"}
		}
		if _, ok := reg.Descriptor(id.Type); !ok {
			return nil, fmt.Errorf("restore snapshot: unknown entity type %s", id.Type)
		}
		if err := e.Data.CheckInitialized(); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		records[id] = newRecord(e.Data)
		order = append(order, id)
		maxSeq = max(maxSeq, id.Seq)
	}
	sortIDs(order)
	byID := make(map[domain.EntityID]map[domain.ConnectionID]domain.EntityID, len(entities))
	for _, e := range entities {
		byID[e.Data.ID()] = e.Parents
	}
	for _, id := range order {
		rec := records[id]
		for conn, pid := range byID[id] {
			if conn.Child != id.Type || !reg.HasConnection(id.Type, conn) {
				return nil, fmt.Errorf("restore snapshot: %s is not a parent connection of %s", conn, id)
			}
			parent, ok := records[pid]
			if !ok {
				return nil, domain.DanglingReferenceError{From: id, To: pid, Connection: conn}
			}
			rec.parents[conn] = pid
			parent.children[conn] = append(parent.children[conn], id)
		}
		for _, conn := range reg.ParentConnections(id.Type) {
			if _, ok := rec.parents[conn]; !ok && !conn.ParentNullable {
				return nil, domain.MissingRequiredParentError{Child: id.Type, Parent: conn.Parent, Connection: conn}
			}
		}
	}

	master := ctrie.New(nil)
	for _, id := range order {
		rec := records[id]
		freezeData(rec.data)
		master.Insert(id.Key(), rec)
	}
	if state.NextSeq <= maxSeq {
		state.NextSeq = maxSeq + 1
	}
	return &Snapshot{
		registry: reg,
		master:   master,
		view:     master.ReadOnlySnapshot(),
		lineage:  state.Lineage,
		version:  state.Version,
		nextSeq:  state.NextSeq,
		size:     len(order),
	}, nil
}

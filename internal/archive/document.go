// Package archive persists committed snapshots as self-describing JSON
// documents and restores them against a registry. Documents are written to
// a Sink: a blob store or a SQL table.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"

	"github.com/google/uuid"
)

// FormatVersion is the document layout written by Encode.
const FormatVersion = 1

// Document is the archived form of one snapshot.
type Document struct {
	FormatVersion int       `json:"format_version"`
	Lineage       uuid.UUID `json:"lineage"`
	Version       uint64    `json:"version"`
	NextSeq       uint64    `json:"next_seq"`
	CreatedAt     time.Time `json:"created_at"`
	Entities      []Entry   `json:"entities"`
}

// Entry is one archived entity: identity, provenance, the encoded data
// holder and the child-side links.
type Entry struct {
	ID      domain.EntityID     `json:"id"`
	Source  domain.EntitySource `json:"source"`
	Data    json.RawMessage     `json:"data"`
	Parents []Link              `json:"parents,omitempty"`
}

// Link records the parent of an entry on one connection.
type Link struct {
	Connection domain.ConnectionID `json:"connection"`
	Parent     domain.EntityID     `json:"parent"`
}

// Ref addresses an archived document.
type Ref struct {
	Lineage uuid.UUID `json:"lineage"`
	Version uint64    `json:"version"`
}

func (r Ref) String() string { return fmt.Sprintf("%s@%d", r.Lineage, r.Version) }

// Ref returns the address of d.
func (d *Document) Ref() Ref { return Ref{Lineage: d.Lineage, Version: d.Version} }

// ErrFormat is returned when a document cannot be decoded.
var ErrFormat = errors.New("archive: unsupported document")

// Encode captures snap as a document. Entries follow the snapshot id order
// and links are sorted by connection so equal snapshots encode identically.
func Encode(snap *core.Snapshot, now time.Time) (*Document, error) {
	if snap == nil {
		return nil, errors.New("encode: snapshot is required")
	}
	state := snap.State()
	doc := &Document{
		FormatVersion: FormatVersion,
		Lineage:       state.Lineage,
		Version:       state.Version,
		NextSeq:       state.NextSeq,
		CreatedAt:     now.UTC(),
		Entities:      make([]Entry, 0, snap.Len()),
	}
	for _, id := range snap.IDs() {
		data, _ := snap.EntityData(id)
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}
		entry := Entry{ID: id, Source: data.Source(), Data: raw}
		for conn, parent := range snap.Links(id) {
			entry.Parents = append(entry.Parents, Link{Connection: conn, Parent: parent})
		}
		sort.Slice(entry.Parents, func(i, j int) bool {
			return entry.Parents[i].Connection.String() < entry.Parents[j].Connection.String()
		})
		doc.Entities = append(doc.Entities, entry)
	}
	return doc, nil
}

// Decode rebuilds the snapshot described by doc. Every entity type must be
// registered in reg; the restored snapshot keeps lineage, version and ids.
func Decode(reg *core.Registry, doc *Document) (*core.Snapshot, error) {
	if doc == nil {
		return nil, errors.New("decode: document is required")
	}
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrFormat, doc.FormatVersion)
	}
	restored := make([]core.RestoredEntity, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		desc, ok := reg.Descriptor(e.ID.Type)
		if !ok {
			return nil, fmt.Errorf("%w: unknown entity type %s", ErrFormat, e.ID.Type)
		}
		data := desc.New()
		if err := json.Unmarshal(e.Data, data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.ID, err)
		}
		if err := data.SetID(e.ID); err != nil {
			return nil, err
		}
		if err := data.SetSource(e.Source); err != nil {
			return nil, err
		}
		var parents map[domain.ConnectionID]domain.EntityID
		if len(e.Parents) > 0 {
			parents = make(map[domain.ConnectionID]domain.EntityID, len(e.Parents))
			for _, l := range e.Parents {
				parents[l.Connection] = l.Parent
			}
		}
		restored = append(restored, core.RestoredEntity{Data: data, Parents: parents})
	}
	state := core.SnapshotState{Lineage: doc.Lineage, Version: doc.Version, NextSeq: doc.NextSeq}
	snap, err := core.RestoreSnapshot(reg, state, restored)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc.Ref(), err)
	}
	return snap, nil
}

func marshalDocument(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}

func unmarshalDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return &doc, nil
}

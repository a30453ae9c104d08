package domain

import (
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// FieldKind classifies a declared entity field.
type FieldKind string

// Field kinds recognised by the metadata registry.
const (
	FieldScalar     FieldKind = "scalar"
	FieldCollection FieldKind = "collection"
	FieldSealed     FieldKind = "sealed"
)

// FieldDescriptor describes a single declared field.
type FieldDescriptor struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required"`
}

// Metadata is the schema descriptor an entity type exposes to the
// connection registry and to serialization.
type Metadata struct {
	Type            EntityType        `json:"type"`
	Fields          []FieldDescriptor `json:"fields"`
	Connections     []ConnectionID    `json:"connections"`
	RequiredParents []EntityType      `json:"required_parents,omitempty"`
}

// Field returns the descriptor for name.
func (m Metadata) Field(name string) (FieldDescriptor, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// Collection is the subset of tracked collection behaviour the store drives
// when an entity moves between modifiable and finalized states.
type Collection interface {
	SetModificationUpdateAction(fn func())
	CleanModificationUpdateAction()
	Freeze()
	IsFrozen() bool
}

// EntityData is the mutable field container backing one entity instance.
// Implementations are produced per entity type following a fixed pattern.
type EntityData interface {
	Type() EntityType
	ID() EntityID
	// SetID is invoked by the store when the data is attached.
	SetID(EntityID) error
	Source() EntitySource
	SetSource(EntitySource) error
	// Freeze finalizes the holder: every later write fails with
	// ErrReadOnlyData. Collections are frozen separately.
	Freeze()
	Frozen() bool
	// Clone deep-copies the data; tracked collections of the clone are
	// independent, unfrozen and carry no change callback.
	Clone() EntityData
	Equal(other EntityData) bool
	EqualIgnoringSource(other EntityData) bool
	Hash() uint64
	HashIgnoringSource() uint64
	// CheckInitialized fails with an UninitializedFieldError naming the first
	// unset required field.
	CheckInitialized() error
	RequiredParents() []EntityType
	Metadata() Metadata
	// Fields returns the initialized field values keyed by field name.
	Fields() map[string]any
	Collections() []Collection
}

// Entity is the read-only façade shared by every materialized entity.
type Entity interface {
	EntityID() EntityID
	EntityType() EntityType
	EntitySource() EntitySource
}

// Equal compares two data holders including provenance.
func Equal(a, b EntityData) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Type() == b.Type() && a.Equal(b)
}

// EqualIgnoringSource compares two data holders on their fields only.
func EqualIgnoringSource(a, b EntityData) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Type() == b.Type() && a.EqualIgnoringSource(b)
}

// DataBase is embedded by every data holder and owns the identity and the
// provenance field.
type DataBase struct {
	id     EntityID
	source Field[EntitySource]
	frozen bool
}

// ID returns the attached identifier, zero while detached.
func (d *DataBase) ID() EntityID { return d.id }

// SetID records the identifier assigned by the store.
func (d *DataBase) SetID(id EntityID) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.id = id
	return nil
}

// Source returns the provenance tag.
func (d *DataBase) Source() EntitySource { return d.source.Value() }

// SetSource assigns the provenance tag.
func (d *DataBase) SetSource(s EntitySource) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.source.Set(s)
	return nil
}

// Freeze marks the holder read-only.
func (d *DataBase) Freeze() { d.frozen = true }

// Frozen reports whether the holder belongs to a snapshot.
func (d *DataBase) Frozen() bool { return d.frozen }

// CheckWritable fails with ErrReadOnlyData once the holder is frozen. Every
// setter of a data holder calls it first.
func (d *DataBase) CheckWritable() error {
	if d.frozen {
		return fmt.Errorf("entity %s: %w", d.id, ErrReadOnlyData)
	}
	return nil
}

// SourceInitialized reports whether the provenance tag was set.
func (d *DataBase) SourceInitialized() bool { return d.source.IsSet() }

// CheckSource fails when the provenance tag is unset.
func (d *DataBase) CheckSource(t EntityType) error {
	if !d.source.IsSet() {
		return UninitializedFieldError{Type: t, Field: "entitySource"}
	}
	return nil
}

// CopyBase returns a writable copy of the base; clones keep the id so that
// builder copies stay addressable.
func (d *DataBase) CopyBase() DataBase {
	return DataBase{id: d.id, source: d.source}
}

// Hasher accumulates field values into an xxhash digest. Every write is
// terminated so that adjacent values cannot collide by concatenation.
type Hasher struct {
	d *xxhash.Digest
}

// NewHasher returns an empty hasher.
func NewHasher() *Hasher {
	return &Hasher{d: xxhash.New()}
}

var _ io.Writer = (*Hasher)(nil)

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.d.Write(p)
}

// String mixes a string value.
func (h *Hasher) String(s string) *Hasher {
	_, _ = h.d.WriteString(s)
	_, _ = h.d.Write([]byte{0})
	return h
}

// Value mixes any printable value.
func (h *Hasher) Value(v any) *Hasher {
	_, _ = fmt.Fprintf(h.d, "%v", v)
	_, _ = h.d.Write([]byte{0})
	return h
}

// Source mixes a provenance tag.
func (h *Hasher) Source(s EntitySource) *Hasher {
	return h.String(s.Kind).String(s.Location)
}

// Sum64 returns the digest.
func (h *Hasher) Sum64() uint64 {
	return h.d.Sum64()
}

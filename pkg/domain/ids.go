// Package domain defines the public contracts of the workspace entity store:
// entity identity, provenance, typed fields, connections, the data holder
// contract every entity type implements, and the error taxonomy surfaced by
// builder mutation paths.
package domain

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// EntityType is the type tag of an entity (for example "Widget").
type EntityType string

// EntityID identifies an attached entity within a snapshot lineage. The zero
// value denotes a detached entity that has not been added to any builder.
type EntityID struct {
	Type EntityType `json:"type"`
	Seq  uint64     `json:"seq"`
}

// NewEntityID constructs an identifier from its parts.
func NewEntityID(t EntityType, seq uint64) EntityID {
	return EntityID{Type: t, Seq: seq}
}

// IsZero reports whether the identifier is unset.
func (id EntityID) IsZero() bool {
	return id.Type == "" && id.Seq == 0
}

// String renders the identifier as "Type#seq".
func (id EntityID) String() string {
	if id.IsZero() {
		return "EntityID(detached)"
	}
	return string(id.Type) + "#" + strconv.FormatUint(id.Seq, 10)
}

// Key returns a stable binary key used by persistent map implementations.
func (id EntityID) Key() []byte {
	key := make([]byte, 0, len(id.Type)+9)
	key = append(key, id.Type...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, id.Seq)
}

// ParseEntityID parses the String form of an identifier.
func ParseEntityID(s string) (EntityID, error) {
	typ, seq, ok := strings.Cut(s, "#")
	if !ok || typ == "" {
		return EntityID{}, fmt.Errorf("parse entity id %q: missing type tag", s)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return EntityID{}, fmt.Errorf("parse entity id %q: %w", s, err)
	}
	return EntityID{Type: EntityType(typ), Seq: n}, nil
}

// EntitySource is the opaque provenance tag attached to every entity. It is
// compared by value and excluded from "ignoring source" comparisons.
type EntitySource struct {
	Kind     string `json:"kind"`
	Location string `json:"location,omitempty"`
}

// NewEntitySource builds a provenance tag.
func NewEntitySource(kind, location string) EntitySource {
	return EntitySource{Kind: kind, Location: location}
}

// String renders the source for diagnostics.
func (s EntitySource) String() string {
	if s.Location == "" {
		return s.Kind
	}
	return s.Kind + "(" + s.Location + ")"
}

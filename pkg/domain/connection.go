package domain

import "fmt"

// Cardinality describes how many children a parent may hold on a connection.
type Cardinality string

// Supported connection cardinalities.
const (
	OneToOne  Cardinality = "one_to_one"
	OneToMany Cardinality = "one_to_many"
)

// ConnectionID identifies a typed parent/child relation between two entity
// types. ParentNullable reports whether a child may outlive its parent: when
// true, removing the parent clears the child's link; when false, the child is
// removed together with the parent.
type ConnectionID struct {
	Parent         EntityType  `json:"parent"`
	Child          EntityType  `json:"child"`
	Cardinality    Cardinality `json:"cardinality"`
	ParentNullable bool        `json:"parent_nullable"`
}

// String renders the connection for diagnostics.
func (c ConnectionID) String() string {
	nullable := ""
	if c.ParentNullable {
		nullable = "?"
	}
	return fmt.Sprintf("%s->%s%s[%s]", c.Parent, c.Child, nullable, c.Cardinality)
}

// Validate checks that both endpoints and the cardinality are set.
func (c ConnectionID) Validate() error {
	if c.Parent == "" || c.Child == "" {
		return fmt.Errorf("connection %s: parent and child types are required", c)
	}
	switch c.Cardinality {
	case OneToOne, OneToMany:
		return nil
	default:
		return fmt.Errorf("connection %s: unknown cardinality %q", c, c.Cardinality)
	}
}

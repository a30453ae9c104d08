package core

import (
	"fmt"
	"slices"
	"workspacestore/pkg/domain"
)

// ModifiableEntity is implemented by every typed builder façade.
type ModifiableEntity interface {
	Base() *Modifiable
	// ConnectionIDs returns the static set of connections of the type.
	ConnectionIDs() []domain.ConnectionID
	// AfterModification detaches collection change callbacks.
	AfterModification()
	// Relabel assigns the fields of external that differ from the current
	// value, then re-resolves child-side links from parents.
	Relabel(external domain.EntityData, parents []domain.EntityID) error
}

// Ownership is the attachment state of a façade.
type Ownership int

// Façade ownership states.
const (
	OwnerDetached Ownership = iota
	OwnerBuilder
	OwnerFinalized
)

// String renders the ownership state.
func (o Ownership) String() string {
	switch o {
	case OwnerBuilder:
		return "modifiable"
	case OwnerFinalized:
		return "finalized"
	default:
		return "detached"
	}
}

type parentLink struct {
	entity *Modifiable
	id     domain.EntityID
}

// Modifiable carries the state shared by every builder façade: the ownership
// tag, the owning builder and, while detached, the standalone data and the
// relations declared before attachment.
type Modifiable struct {
	self     ModifiableEntity
	typ      domain.EntityType
	state    Ownership
	owner    *Builder
	id       domain.EntityID
	detached domain.EntityData
	final    domain.EntityData
	links    map[domain.ConnectionID]parentLink
	pending  []*Modifiable
	applying bool
}

// NewDetached returns the base of a standalone façade over data.
func NewDetached(self ModifiableEntity, data domain.EntityData) *Modifiable {
	return &Modifiable{self: self, typ: data.Type(), detached: data}
}

// NewAttached returns the base of a façade for an entity already present in b.
func NewAttached(self ModifiableEntity, b *Builder, id domain.EntityID) *Modifiable {
	return &Modifiable{self: self, typ: id.Type, state: OwnerBuilder, owner: b, id: id}
}

// Ownership returns the attachment state.
func (m *Modifiable) Ownership() Ownership { return m.state }

// ID returns the entity id, zero while detached.
func (m *Modifiable) ID() domain.EntityID { return m.id }

// Builder returns the owning builder, nil unless modifiable.
func (m *Modifiable) Builder() *Builder {
	if m.state != OwnerBuilder {
		return nil
	}
	return m.owner
}

// Type returns the entity type.
func (m *Modifiable) Type() domain.EntityType { return m.typ }

// ApplyToBuilder attaches a detached façade to b. Applying to the owning
// builder again is a no-op; applying to any other builder is an identity
// conflict. Parents linked while detached are attached first, children
// linked while detached are attached afterwards.
func (m *Modifiable) ApplyToBuilder(b *Builder) error {
	switch m.state {
	case OwnerBuilder:
		if m.owner == b {
			return nil
		}
		return domain.IdentityConflictError{Type: m.typ, ID: m.id, Reason: "entity is already created in a different builder"}
	case OwnerFinalized:
		return domain.IdentityConflictError{Type: m.typ, ID: m.id, Reason: "entity belongs to a committed snapshot"}
	}
	if m.applying {
		return nil
	}
	m.applying = true
	defer func() { m.applying = false }()

	parents := make(map[domain.ConnectionID]domain.EntityID, len(m.links))
	for conn, link := range m.links {
		if link.entity == nil {
			parents[conn] = link.id
			continue
		}
		if err := link.entity.ApplyToBuilder(b); err != nil {
			return fmt.Errorf("apply parent over %s: %w", conn, err)
		}
		parents[conn] = link.entity.id
	}
	id, err := b.AddEntity(m.detached, parents)
	if err != nil {
		return err
	}
	m.state = OwnerBuilder
	m.owner = b
	m.id = id
	m.detached = nil
	m.links = nil
	b.adopt(id, m.self)

	pending := m.pending
	m.pending = nil
	for _, child := range pending {
		if child.state != OwnerDetached {
			continue
		}
		if err := child.ApplyToBuilder(b); err != nil {
			return err
		}
	}
	return nil
}

// LinkParent declares parent as the parent of this entity on conn. Both
// sides may be detached; the link is resolved when they are applied.
func (m *Modifiable) LinkParent(conn domain.ConnectionID, parent ModifiableEntity) error {
	if conn.Child != m.typ {
		return fmt.Errorf("link %s: connection %s has child type %s", m.typ, conn, conn.Child)
	}
	p := parent.Base()
	if p.typ != conn.Parent {
		return fmt.Errorf("link %s: parent type %s does not match %s", m.typ, p.typ, conn)
	}
	switch m.state {
	case OwnerDetached:
		if m.links == nil {
			m.links = make(map[domain.ConnectionID]parentLink)
		}
		if p.state == OwnerDetached {
			m.links[conn] = parentLink{entity: p}
			if !slices.Contains(p.pending, m) {
				p.pending = append(p.pending, m)
			}
			return nil
		}
		m.links[conn] = parentLink{id: p.id}
		return nil
	case OwnerBuilder:
		if p.state == OwnerDetached {
			if err := p.ApplyToBuilder(m.owner); err != nil {
				return err
			}
		}
		if p.owner != m.owner {
			return domain.IdentityConflictError{Type: p.typ, ID: p.id, Reason: "parent belongs to a different builder"}
		}
		if err := m.owner.SetParent(m.id, conn, p.id); err != nil {
			return err
		}
		m.MarkChanged(parentField(conn))
		return nil
	default:
		return domain.ErrModificationNotAllowed
	}
}

// LinkParentID declares an already attached parent by id.
func (m *Modifiable) LinkParentID(conn domain.ConnectionID, parent domain.EntityID) error {
	switch m.state {
	case OwnerDetached:
		if m.links == nil {
			m.links = make(map[domain.ConnectionID]parentLink)
		}
		m.links[conn] = parentLink{id: parent}
		return nil
	case OwnerBuilder:
		if err := m.owner.SetParent(m.id, conn, parent); err != nil {
			return err
		}
		m.MarkChanged(parentField(conn))
		return nil
	default:
		return domain.ErrModificationNotAllowed
	}
}

// ParentID returns the parent on conn, including links declared while
// detached whose parent is already attached.
func (m *Modifiable) ParentID(conn domain.ConnectionID) (domain.EntityID, bool) {
	switch m.state {
	case OwnerDetached:
		link, ok := m.links[conn]
		if !ok {
			return domain.EntityID{}, false
		}
		if link.entity != nil {
			return link.entity.id, !link.entity.id.IsZero()
		}
		return link.id, true
	case OwnerBuilder:
		return m.owner.Parent(m.id, conn)
	default:
		return domain.EntityID{}, false
	}
}

func parentField(conn domain.ConnectionID) string {
	return "parent:" + string(conn.Parent)
}

// CheckModificationAllowed fails unless the façade is detached or attached to
// an open builder that still holds the entity.
func (m *Modifiable) CheckModificationAllowed() error {
	switch m.state {
	case OwnerDetached:
		return nil
	case OwnerBuilder:
		if m.owner.committed {
			return domain.ErrBuilderCommitted
		}
		if !m.owner.Contains(m.id) {
			return domain.NotFoundError{ID: m.id}
		}
		return nil
	default:
		return fmt.Errorf("%s %s: %w", m.typ, m.id, domain.ErrModificationNotAllowed)
	}
}

// EntityData returns the backing data. forWrite yields a builder-private
// copy for attached façades.
func (m *Modifiable) EntityData(forWrite bool) (domain.EntityData, error) {
	switch m.state {
	case OwnerDetached:
		return m.detached, nil
	case OwnerBuilder:
		if forWrite {
			return m.owner.EntityDataForWrite(m.id)
		}
		data, ok := m.owner.EntityData(m.id)
		if !ok {
			return nil, domain.NotFoundError{ID: m.id}
		}
		return data, nil
	default:
		if forWrite {
			return nil, fmt.Errorf("%s %s: %w", m.typ, m.id, domain.ErrModificationNotAllowed)
		}
		return m.final, nil
	}
}

// MarkChanged records field as changed in the owning builder.
func (m *Modifiable) MarkChanged(field string) {
	if m.state == OwnerBuilder {
		m.owner.MarkChanged(m.id, field)
	}
}

// ChangedFields returns the fields changed in the owning builder.
func (m *Modifiable) ChangedFields() []string {
	if m.state != OwnerBuilder {
		return nil
	}
	return m.owner.ChangedFields(m.id)
}

// Track attaches the change sink for field to c while the façade is live in
// an open builder, and detaches it otherwise.
func (m *Modifiable) Track(field string, c domain.Collection) {
	if c == nil || c.IsFrozen() {
		return
	}
	if m.state == OwnerBuilder && !m.owner.committed {
		c.SetModificationUpdateAction(func() { m.MarkChanged(field) })
		return
	}
	c.CleanModificationUpdateAction()
}

// CleanCollections detaches the change sinks of the current data.
func (m *Modifiable) CleanCollections() {
	data, err := m.EntityData(false)
	if err != nil || data == nil {
		return
	}
	for _, c := range data.Collections() {
		c.CleanModificationUpdateAction()
	}
}

func (m *Modifiable) finalize(data domain.EntityData) {
	m.state = OwnerFinalized
	m.final = data
	m.owner = nil
}

// UpdateChildToParentReferences re-resolves every child-side connection of
// the type from parents. A connection whose parent type is present in parents
// is relinked to it; an absent nullable link is cleared; an absent
// non-nullable link keeps its current parent. A nil set leaves links alone.
// A supplied parent missing from the builder is a DanglingReferenceError and
// no link is touched.
func (m *Modifiable) UpdateChildToParentReferences(parents []domain.EntityID) error {
	if parents == nil {
		return nil
	}
	if err := m.CheckModificationAllowed(); err != nil {
		return err
	}
	if m.state != OwnerBuilder {
		return nil
	}
	b := m.owner
	conns := b.registry.ParentConnections(m.typ)
	for _, conn := range conns {
		for _, p := range parents {
			if p.Type == conn.Parent && !b.Contains(p) {
				return domain.DanglingReferenceError{From: m.id, To: p, Connection: conn}
			}
		}
	}
	for _, conn := range conns {
		target, found := domain.EntityID{}, false
		for _, p := range parents {
			if p.Type == conn.Parent {
				target, found = p, true
				break
			}
		}
		current, linked := b.Parent(m.id, conn)
		switch {
		case found:
			if linked && current == target {
				continue
			}
			if err := b.SetParent(m.id, conn, target); err != nil {
				return err
			}
			m.MarkChanged(parentField(conn))
		case conn.ParentNullable:
			if !linked {
				continue
			}
			if err := b.ClearParent(m.id, conn); err != nil {
				return err
			}
			m.MarkChanged(parentField(conn))
		case !linked:
			return domain.MissingRequiredParentError{Child: m.typ, Parent: conn.Parent, Connection: conn}
		}
	}
	return nil
}

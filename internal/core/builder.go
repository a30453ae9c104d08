package core

import (
	"errors"
	"fmt"
	"slices"
	"workspacestore/internal/logx"
	"workspacestore/pkg/domain"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EntityState is the lifecycle state of an entity inside one builder.
type EntityState int

// Builder entity states.
const (
	StateAbsent EntityState = iota
	StateUnchanged
	StateAdded
	StateModified
	StateRemoved
)

func (s EntityState) String() string {
	switch s {
	case StateUnchanged:
		return "unchanged"
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateRemoved:
		return "removed"
	default:
		return "absent"
	}
}

type overlayEntry struct {
	// rec is nil once the entity is removed.
	rec       *record
	state     EntityState
	ownsData  bool
	ownsLinks bool
	changed   []string
}

// Builder is a mutable overlay over a base snapshot. A builder has a single
// writer and performs no locking.
type Builder struct {
	id        uuid.UUID
	base      *Snapshot
	registry  *Registry
	overlay   map[domain.EntityID]*overlayEntry
	order     []domain.EntityID
	nextSeq   uint64
	facades   map[domain.EntityID]ModifiableEntity
	committed bool
	logger    logx.Logger
}

func newBuilder(base *Snapshot) *Builder {
	return &Builder{
		id:       uuid.New(),
		base:     base,
		registry: base.registry,
		overlay:  make(map[domain.EntityID]*overlayEntry),
		nextSeq:  base.nextSeq,
		facades:  make(map[domain.EntityID]ModifiableEntity),
		logger:   logx.Nop(),
	}
}

// WithLogger replaces the builder's logger and returns the builder.
func (b *Builder) WithLogger(l logx.Logger) *Builder {
	if l != nil {
		b.logger = l.With(zap.String("builder", b.id.String()))
	}
	return b
}

// ID identifies the builder in logs.
func (b *Builder) ID() uuid.UUID { return b.id }

// Base returns the snapshot the builder was derived from.
func (b *Builder) Base() *Snapshot { return b.base }

// Registry returns the connection registry in use.
func (b *Builder) Registry() *Registry { return b.registry }

// Committed reports whether Commit has succeeded.
func (b *Builder) Committed() bool { return b.committed }

func (b *Builder) checkOpen() error {
	if b.committed {
		return domain.ErrBuilderCommitted
	}
	return nil
}

func (b *Builder) lookup(id domain.EntityID) (*record, bool) {
	if e, ok := b.overlay[id]; ok {
		return e.rec, e.rec != nil
	}
	return b.base.record(id)
}

// entry returns the overlay entry for a present entity, creating one that
// shares the base record on first touch.
func (b *Builder) entry(id domain.EntityID) (*overlayEntry, error) {
	if e, ok := b.overlay[id]; ok {
		if e.rec == nil {
			return nil, domain.NotFoundError{ID: id}
		}
		return e, nil
	}
	rec, ok := b.base.record(id)
	if !ok {
		return nil, domain.NotFoundError{ID: id}
	}
	e := &overlayEntry{rec: rec, state: StateUnchanged}
	b.overlay[id] = e
	b.order = append(b.order, id)
	return e, nil
}

func (b *Builder) writableData(id domain.EntityID) (*overlayEntry, error) {
	e, err := b.entry(id)
	if err != nil {
		return nil, err
	}
	if !e.ownsData {
		if !e.ownsLinks {
			e.rec = &record{data: e.rec.data, parents: e.rec.parents, children: e.rec.children}
		}
		e.rec.data = e.rec.data.Clone()
		e.ownsData = true
	}
	return e, nil
}

func (b *Builder) writableLinks(id domain.EntityID) (*overlayEntry, error) {
	e, err := b.entry(id)
	if err != nil {
		return nil, err
	}
	if !e.ownsLinks {
		e.rec = e.rec.copyLinks()
		e.ownsLinks = true
	}
	return e, nil
}

// Contains reports whether id is present in the working set.
func (b *Builder) Contains(id domain.EntityID) bool {
	_, ok := b.lookup(id)
	return ok
}

// EntityData returns the current data for id, overlay first. The result is
// for reading; use EntityDataForWrite before mutating.
func (b *Builder) EntityData(id domain.EntityID) (domain.EntityData, bool) {
	rec, ok := b.lookup(id)
	if !ok {
		return nil, false
	}
	return rec.data, true
}

// EntityDataForWrite returns a builder-private copy of the data for id. The
// base snapshot's value is never touched.
func (b *Builder) EntityDataForWrite(id domain.EntityID) (domain.EntityData, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	e, err := b.writableData(id)
	if err != nil {
		return nil, err
	}
	return e.rec.data, nil
}

// Entities returns the working-set entities of type t ordered by sequence.
func (b *Builder) Entities(t domain.EntityType) []domain.EntityData {
	var out []domain.EntityData
	for _, rec := range b.base.records() {
		id := rec.data.ID()
		if id.Type != t {
			continue
		}
		if _, touched := b.overlay[id]; !touched {
			out = append(out, rec.data)
		}
	}
	for _, id := range b.order {
		e := b.overlay[id]
		if id.Type == t && e.rec != nil {
			out = append(out, e.rec.data)
		}
	}
	slices.SortFunc(out, func(a, c domain.EntityData) int {
		switch {
		case a.ID().Seq < c.ID().Seq:
			return -1
		case a.ID().Seq > c.ID().Seq:
			return 1
		}
		return 0
	})
	return out
}

// AddEntity attaches detached data under a freshly allocated id. parents maps
// each child-side connection to the parent it links to; every non-nullable
// parent connection of the type must be supplied. On success the caller's
// data carries the new id and can no longer be added anywhere else.
func (b *Builder) AddEntity(data domain.EntityData, parents map[domain.ConnectionID]domain.EntityID) (domain.EntityID, error) {
	if err := b.checkOpen(); err != nil {
		return domain.EntityID{}, err
	}
	if data == nil {
		return domain.EntityID{}, errors.New("add entity: nil data")
	}
	t := data.Type()
	if !data.ID().IsZero() {
		return domain.EntityID{}, domain.IdentityConflictError{Type: t, ID: data.ID(), Reason: "entity is already attached"}
	}
	if data.Frozen() {
		return domain.EntityID{}, fmt.Errorf("add %s: %w", t, domain.ErrReadOnlyData)
	}
	if _, ok := b.registry.Descriptor(t); !ok {
		return domain.EntityID{}, fmt.Errorf("add entity: unknown entity type %s", t)
	}
	if err := data.CheckInitialized(); err != nil {
		return domain.EntityID{}, err
	}
	resolved, err := b.resolveParents(t, data.RequiredParents(), parents)
	if err != nil {
		return domain.EntityID{}, err
	}

	id := domain.NewEntityID(t, b.nextSeq)
	stored := data.Clone()
	if err := stored.SetID(id); err != nil {
		return domain.EntityID{}, err
	}
	b.nextSeq++
	b.overlay[id] = &overlayEntry{rec: newRecord(stored), state: StateAdded, ownsData: true, ownsLinks: true}
	b.order = append(b.order, id)

	conns := make([]domain.ConnectionID, 0, len(resolved))
	for conn := range resolved {
		conns = append(conns, conn)
	}
	sortConnections(conns)
	for _, conn := range conns {
		if err := b.link(conn, resolved[conn], id); err != nil {
			return domain.EntityID{}, err
		}
	}
	if err := data.SetID(id); err != nil {
		return domain.EntityID{}, err
	}
	b.logger.Debug("entity added", zap.Stringer("id", id), zap.Int("parents", len(resolved)))
	return id, nil
}

func (b *Builder) resolveParents(t domain.EntityType, required []domain.EntityType, parents map[domain.ConnectionID]domain.EntityID) (map[domain.ConnectionID]domain.EntityID, error) {
	resolved := make(map[domain.ConnectionID]domain.EntityID, len(parents))
	for conn, pid := range parents {
		if conn.Child != t || !b.registry.HasConnection(t, conn) {
			return nil, fmt.Errorf("add %s: %s is not a parent connection of the type", t, conn)
		}
		if pid.IsZero() {
			continue
		}
		if pid.Type != conn.Parent {
			return nil, fmt.Errorf("add %s: parent %s does not match connection %s", t, pid, conn)
		}
		if !b.Contains(pid) {
			if conn.ParentNullable {
				return nil, domain.DanglingReferenceError{To: pid, Connection: conn}
			}
			return nil, domain.MissingRequiredParentError{Child: t, Parent: conn.Parent, Connection: conn}
		}
		resolved[conn] = pid
	}
	for _, conn := range b.registry.ParentConnections(t) {
		if _, ok := resolved[conn]; !ok && !conn.ParentNullable {
			return nil, domain.MissingRequiredParentError{Child: t, Parent: conn.Parent, Connection: conn}
		}
	}
	for _, parentType := range required {
		found := false
		for conn := range resolved {
			if conn.Parent == parentType {
				found = true
				break
			}
		}
		if !found {
			return nil, domain.MissingRequiredParentError{Child: t, Parent: parentType}
		}
	}
	return resolved, nil
}

// link records child under parent on conn. A one-to-one connection displaces
// the previous child: a nullable link is cleared, otherwise the previous
// child is removed.
func (b *Builder) link(conn domain.ConnectionID, parent, child domain.EntityID) error {
	pe, err := b.writableLinks(parent)
	if err != nil {
		return err
	}
	if conn.Cardinality == domain.OneToOne {
		for _, prev := range slices.Clone(pe.rec.children[conn]) {
			if prev == child {
				continue
			}
			if conn.ParentNullable {
				if err := b.unlink(conn, parent, prev); err != nil {
					return err
				}
				continue
			}
			if _, err := b.RemoveEntity(prev); err != nil {
				return err
			}
		}
		// RemoveEntity may have replaced the entry's record.
		if pe, err = b.writableLinks(parent); err != nil {
			return err
		}
	}
	ce, err := b.writableLinks(child)
	if err != nil {
		return err
	}
	ce.rec.parents[conn] = parent
	if !slices.Contains(pe.rec.children[conn], child) {
		pe.rec.children[conn] = append(pe.rec.children[conn], child)
	}
	return nil
}

func (b *Builder) unlink(conn domain.ConnectionID, parent, child domain.EntityID) error {
	if b.Contains(parent) {
		pe, err := b.writableLinks(parent)
		if err != nil {
			return err
		}
		kids := slices.DeleteFunc(pe.rec.children[conn], func(id domain.EntityID) bool { return id == child })
		if len(kids) == 0 {
			delete(pe.rec.children, conn)
		} else {
			pe.rec.children[conn] = kids
		}
	}
	if b.Contains(child) {
		ce, err := b.writableLinks(child)
		if err != nil {
			return err
		}
		delete(ce.rec.parents, conn)
	}
	return nil
}

// Parent returns the parent of child on conn.
func (b *Builder) Parent(child domain.EntityID, conn domain.ConnectionID) (domain.EntityID, bool) {
	rec, ok := b.lookup(child)
	if !ok {
		return domain.EntityID{}, false
	}
	id, ok := rec.parents[conn]
	return id, ok
}

// Children returns the children of parent on conn in link order.
func (b *Builder) Children(parent domain.EntityID, conn domain.ConnectionID) []domain.EntityID {
	rec, ok := b.lookup(parent)
	if !ok {
		return nil
	}
	return slices.Clone(rec.children[conn])
}

// Connections lists the connections id currently participates in.
func (b *Builder) Connections(id domain.EntityID) []domain.ConnectionID {
	rec, ok := b.lookup(id)
	if !ok {
		return nil
	}
	return rec.connections()
}

// SetParent links child to parent on conn, replacing any previous parent.
func (b *Builder) SetParent(child domain.EntityID, conn domain.ConnectionID, parent domain.EntityID) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if child.Type != conn.Child || parent.Type != conn.Parent || !b.registry.HasConnection(child.Type, conn) {
		return fmt.Errorf("set parent of %s to %s: connection %s does not apply", child, parent, conn)
	}
	if !b.Contains(child) {
		return domain.NotFoundError{ID: child}
	}
	if !b.Contains(parent) {
		return domain.DanglingReferenceError{From: child, To: parent, Connection: conn}
	}
	if prev, ok := b.Parent(child, conn); ok {
		if prev == parent {
			return nil
		}
		if err := b.unlink(conn, prev, child); err != nil {
			return err
		}
	}
	return b.link(conn, parent, child)
}

// ClearParent removes child's link on a nullable connection.
func (b *Builder) ClearParent(child domain.EntityID, conn domain.ConnectionID) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if !conn.ParentNullable {
		return domain.MissingRequiredParentError{Child: child.Type, Parent: conn.Parent, Connection: conn}
	}
	prev, ok := b.Parent(child, conn)
	if !ok {
		return nil
	}
	return b.unlink(conn, prev, child)
}

// RemoveEntity erases id and cascades through its children: children linked
// over a non-nullable connection are removed transitively, nullable links are
// cleared. It returns the removed ids in removal order.
func (b *Builder) RemoveEntity(id domain.EntityID) ([]domain.EntityID, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if !b.Contains(id) {
		return nil, domain.NotFoundError{ID: id}
	}
	var removed []domain.EntityID
	seen := make(map[domain.EntityID]bool)
	queue := []domain.EntityID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		rec, ok := b.lookup(cur)
		if !ok {
			continue
		}
		seen[cur] = true

		conns := make([]domain.ConnectionID, 0, len(rec.children))
		for conn := range rec.children {
			conns = append(conns, conn)
		}
		sortConnections(conns)
		for _, conn := range conns {
			for _, kid := range slices.Clone(rec.children[conn]) {
				if !conn.ParentNullable {
					queue = append(queue, kid)
					continue
				}
				if b.Contains(kid) {
					ke, err := b.writableLinks(kid)
					if err != nil {
						return removed, err
					}
					delete(ke.rec.parents, conn)
				}
			}
		}
		for conn, pid := range rec.parents {
			if seen[pid] {
				continue
			}
			if err := b.unlink(conn, pid, cur); err != nil {
				return removed, err
			}
		}
		b.erase(cur)
		removed = append(removed, cur)
	}
	b.logger.Debug("entity removed", zap.Stringer("id", id), zap.Int("cascade", len(removed)-1))
	return removed, nil
}

func (b *Builder) erase(id domain.EntityID) {
	e, ok := b.overlay[id]
	if !ok {
		e = &overlayEntry{}
		b.overlay[id] = e
		b.order = append(b.order, id)
	}
	e.rec = nil
	e.state = StateRemoved
	e.changed = nil
	delete(b.facades, id)
}

// ModifyEntity runs mutator against the typed modifiable façade of id, then
// settles the modification.
func (b *Builder) ModifyEntity(id domain.EntityID, mutator func(ModifiableEntity) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	f, err := b.Facade(id)
	if err != nil {
		return err
	}
	err = mutator(f)
	b.AfterModification(id)
	if err != nil {
		return fmt.Errorf("modify %s: %w", id, err)
	}
	return nil
}

// Facade returns the modifiable façade for id. Repeated calls return the same
// instance.
func (b *Builder) Facade(id domain.EntityID) (ModifiableEntity, error) {
	if f, ok := b.facades[id]; ok {
		return f, nil
	}
	if !b.Contains(id) {
		return nil, domain.NotFoundError{ID: id}
	}
	desc, ok := b.registry.Descriptor(id.Type)
	if !ok {
		return nil, fmt.Errorf("facade %s: unknown entity type", id)
	}
	f := desc.Wrap(b, id)
	b.facades[id] = f
	return f, nil
}

func (b *Builder) adopt(id domain.EntityID, f ModifiableEntity) {
	b.facades[id] = f
}

// MarkChanged records field as changed on id.
func (b *Builder) MarkChanged(id domain.EntityID, field string) {
	e, err := b.entry(id)
	if err != nil {
		return
	}
	if !slices.Contains(e.changed, field) {
		e.changed = append(e.changed, field)
	}
	if e.state == StateUnchanged {
		e.state = StateModified
	}
}

// ChangedFields returns the fields changed on id in first-change order.
func (b *Builder) ChangedFields(id domain.EntityID) []string {
	if e, ok := b.overlay[id]; ok {
		return slices.Clone(e.changed)
	}
	return nil
}

// State reports the lifecycle state of id within the builder.
func (b *Builder) State(id domain.EntityID) EntityState {
	if e, ok := b.overlay[id]; ok {
		return e.state
	}
	if b.base.Contains(id) {
		return StateUnchanged
	}
	return StateAbsent
}

// CheckInitialization verifies that every required field of id is set.
func (b *Builder) CheckInitialization(id domain.EntityID) error {
	rec, ok := b.lookup(id)
	if !ok {
		return domain.NotFoundError{ID: id}
	}
	return rec.data.CheckInitialized()
}

// freezeData finalizes data and its collections once it enters a snapshot.
func freezeData(data domain.EntityData) {
	data.Freeze()
	for _, c := range data.Collections() {
		c.Freeze()
	}
}

// AfterModification detaches the change callbacks of id's collections so
// that a settled batch stops reporting changes.
func (b *Builder) AfterModification(id domain.EntityID) {
	if f, ok := b.facades[id]; ok {
		f.AfterModification()
		return
	}
	if rec, ok := b.lookup(id); ok {
		for _, c := range rec.data.Collections() {
			c.CleanModificationUpdateAction()
		}
	}
}

// Relabel reconciles id with external data, keeping its identity. parents
// re-resolves child-side links; nil leaves them untouched.
func (b *Builder) Relabel(id domain.EntityID, external domain.EntityData, parents []domain.EntityID) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if external == nil || external.Type() != id.Type {
		return fmt.Errorf("relabel %s: external data has a different type", id)
	}
	f, err := b.Facade(id)
	if err != nil {
		return err
	}
	err = f.Relabel(external, parents)
	f.AfterModification()
	if err != nil {
		return fmt.Errorf("relabel %s: %w", id, err)
	}
	return nil
}

// Changes returns the change log in first-touch order.
func (b *Builder) Changes() []domain.Change {
	var out []domain.Change
	for _, id := range b.order {
		e := b.overlay[id]
		switch {
		case e.rec == nil && b.base.Contains(id):
			out = append(out, domain.Change{Entity: id.Type, Action: domain.ActionDelete, ID: id})
		case e.rec != nil && e.state == StateAdded:
			out = append(out, domain.Change{Entity: id.Type, Action: domain.ActionCreate, ID: id})
		case e.rec != nil && e.state == StateModified:
			out = append(out, domain.Change{Entity: id.Type, Action: domain.ActionUpdate, ID: id, Fields: slices.Clone(e.changed)})
		}
	}
	return out
}

// Commit validates the working set and produces the next snapshot. The
// builder cannot be used for edits afterwards.
func (b *Builder) Commit() (*Snapshot, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var errs error
	for _, id := range b.order {
		e := b.overlay[id]
		if e.rec == nil || !(e.state == StateAdded || e.ownsData) {
			continue
		}
		errs = multierr.Append(errs, e.rec.data.CheckInitialized())
	}
	if errs != nil {
		return nil, fmt.Errorf("commit: %w", errs)
	}
	if err := b.checkReferences(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	master := b.base.master.Snapshot()
	size := b.base.size
	for _, id := range b.order {
		e := b.overlay[id]
		switch {
		case e.rec == nil:
			if _, ok := master.Remove(id.Key()); ok {
				size--
			}
		case e.state == StateAdded || e.ownsData || e.ownsLinks:
			if e.ownsData {
				freezeData(e.rec.data)
			}
			if e.state == StateAdded {
				size++
			}
			master.Insert(id.Key(), e.rec)
		}
	}
	next := &Snapshot{
		registry: b.registry,
		master:   master,
		view:     master.ReadOnlySnapshot(),
		lineage:  b.base.lineage,
		version:  b.base.version + 1,
		nextSeq:  b.nextSeq,
		size:     size,
	}
	b.committed = true
	for id, f := range b.facades {
		if rec, ok := next.record(id); ok {
			f.Base().finalize(rec.data)
		}
	}
	b.logger.Debug("builder committed",
		zap.Uint64("version", next.version),
		zap.Int("entities", next.size),
		zap.Int("touched", len(b.order)))
	return next, nil
}

func (b *Builder) checkReferences() error {
	for _, id := range b.order {
		e := b.overlay[id]
		if e.rec == nil {
			continue
		}
		for conn, pid := range e.rec.parents {
			if !b.Contains(pid) {
				return domain.DanglingReferenceError{From: id, To: pid, Connection: conn}
			}
		}
		for conn, kids := range e.rec.children {
			for _, kid := range kids {
				if !b.Contains(kid) {
					return domain.DanglingReferenceError{From: id, To: kid, Connection: conn}
				}
			}
		}
	}
	return nil
}

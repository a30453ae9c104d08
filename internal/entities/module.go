package entities

import (
	"encoding/json"
	"workspacestore/internal/containers"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"
)

// ModuleType tags Module entities.
const ModuleType domain.EntityType = "Module"

// Connections owned by Module.
var (
	// ModuleContentRoots removes content roots together with their module.
	ModuleContentRoots = domain.ConnectionID{Parent: ModuleType, Child: ContentRootType, Cardinality: domain.OneToMany}
	// ModuleFacets keeps facets alive when their module goes away.
	ModuleFacets = domain.ConnectionID{Parent: ModuleType, Child: FacetType, Cardinality: domain.OneToMany, ParentNullable: true}
	// ModuleOutput holds at most one output per module.
	ModuleOutput = domain.ConnectionID{Parent: ModuleType, Child: OutputType, Cardinality: domain.OneToOne}
)

var moduleConnections = []domain.ConnectionID{ModuleContentRoots, ModuleFacets, ModuleOutput}

var moduleMetadata = domain.Metadata{
	Type: ModuleType,
	Fields: []domain.FieldDescriptor{
		{Name: "name", Kind: domain.FieldScalar, Required: true},
		{Name: "dependencies", Kind: domain.FieldCollection},
	},
	Connections: moduleConnections,
}

// Module groups content roots, facets and an output.
type Module interface {
	domain.Entity
	Name() string
	Dependencies() []string
	ContentRoots() []ContentRoot
	Facets() []Facet
	Output() (Output, bool)
}

// ModuleData backs a Module.
type ModuleData struct {
	domain.DataBase
	name         domain.Field[string]
	dependencies *containers.TrackedList[string]
}

// NewModuleData returns detached data with no dependencies.
func NewModuleData(source domain.EntitySource) *ModuleData {
	d := &ModuleData{dependencies: containers.NewTrackedList[string]()}
	_ = d.SetSource(source)
	return d
}

// Type reports ModuleType.
func (d *ModuleData) Type() domain.EntityType { return ModuleType }

// Metadata returns the module schema.
func (d *ModuleData) Metadata() domain.Metadata { return moduleMetadata }

// RequiredParents is empty: a module can be added without a parent.
func (d *ModuleData) RequiredParents() []domain.EntityType { return nil }

// Name returns the name or an UninitializedFieldError.
func (d *ModuleData) Name() (string, error) { return d.name.Get(ModuleType, "name") }

// SetName assigns the name.
func (d *ModuleData) SetName(v string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.name.Set(v)
	return nil
}

// Dependencies returns the dependency list.
func (d *ModuleData) Dependencies() *containers.TrackedList[string] { return d.dependencies }

// SetDependencies replaces the dependency list with a copy of v.
func (d *ModuleData) SetDependencies(v []string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	return replaceList(&d.dependencies, v)
}

// CheckInitialized returns an UninitializedFieldError for the first unset
// required field, checking the source first.
func (d *ModuleData) CheckInitialized() error {
	if err := d.CheckSource(ModuleType); err != nil {
		return err
	}
	if !d.name.IsSet() {
		return domain.UninitializedFieldError{Type: ModuleType, Field: "name"}
	}
	return nil
}

// Clone returns a deep copy carrying the same id and source. The copy is
// writable even when d is frozen.
func (d *ModuleData) Clone() domain.EntityData {
	return &ModuleData{DataBase: d.CopyBase(), name: d.name, dependencies: d.dependencies.Clone()}
}

// Equal compares source and declared fields. Ids are not compared.
func (d *ModuleData) Equal(other domain.EntityData) bool {
	o, ok := asData[*ModuleData](other)
	return ok && d.Source() == o.Source() && d.EqualIgnoringSource(o)
}

// EqualIgnoringSource compares the declared fields only.
func (d *ModuleData) EqualIgnoringSource(other domain.EntityData) bool {
	o, ok := asData[*ModuleData](other)
	return ok && d.name == o.name && d.dependencies.Equal(o.dependencies)
}

// Hash agrees with Equal.
func (d *ModuleData) Hash() uint64 {
	return d.hashFields(domain.NewHasher().Source(d.Source()))
}

// HashIgnoringSource agrees with EqualIgnoringSource.
func (d *ModuleData) HashIgnoringSource() uint64 {
	return d.hashFields(domain.NewHasher().String(string(ModuleType)))
}

func (d *ModuleData) hashFields(h *domain.Hasher) uint64 {
	h.Value(d.name)
	d.dependencies.HashInto(h)
	return h.Sum64()
}

// Fields returns the set fields keyed by name. Unset scalars are omitted.
func (d *ModuleData) Fields() map[string]any {
	out := map[string]any{"dependencies": d.dependencies.Items()}
	if d.name.IsSet() {
		out["name"] = d.name.Value()
	}
	return out
}

// Collections returns the tracked lists so commit can freeze them.
func (d *ModuleData) Collections() []domain.Collection {
	return []domain.Collection{d.dependencies}
}

type moduleWire struct {
	Name         *string  `json:"name,omitempty"`
	Dependencies []string `json:"dependencies"`
}

// MarshalJSON encodes the declared fields.
func (d *ModuleData) MarshalJSON() ([]byte, error) {
	w := moduleWire{Dependencies: d.dependencies.Items()}
	if d.name.IsSet() {
		name := d.name.Value()
		w.Name = &name
	}
	if w.Dependencies == nil {
		w.Dependencies = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the declared fields. Frozen data is rejected.
func (d *ModuleData) UnmarshalJSON(raw []byte) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	var w moduleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if w.Name != nil {
		d.name.Set(*w.Name)
	}
	d.dependencies = containers.FromSlice(w.Dependencies)
	return nil
}

// CreateDetachedEntity returns a standalone builder façade over a copy of
// the data.
func (d *ModuleData) CreateDetachedEntity() *ModuleBuilder {
	cp := d.Clone()
	_ = cp.SetID(domain.EntityID{})
	m := &ModuleBuilder{}
	m.base = core.NewDetached(m, cp)
	return m
}

type module struct {
	data *ModuleData
	snap *core.Snapshot
}

func (m *module) EntityID() domain.EntityID         { return m.data.ID() }
func (m *module) EntityType() domain.EntityType     { return ModuleType }
func (m *module) EntitySource() domain.EntitySource { return m.data.Source() }
func (m *module) Name() string                      { return m.data.name.Value() }
func (m *module) Dependencies() []string            { return m.data.dependencies.Items() }

func (m *module) ContentRoots() []ContentRoot {
	var out []ContentRoot
	for _, id := range m.snap.Children(m.data.ID(), ModuleContentRoots) {
		if root, ok := ContentRootOf(m.snap, id); ok {
			out = append(out, root)
		}
	}
	return out
}

func (m *module) Facets() []Facet {
	var out []Facet
	for _, id := range m.snap.Children(m.data.ID(), ModuleFacets) {
		if facet, ok := FacetOf(m.snap, id); ok {
			out = append(out, facet)
		}
	}
	return out
}

func (m *module) Output() (Output, bool) {
	ids := m.snap.Children(m.data.ID(), ModuleOutput)
	if len(ids) == 0 {
		return nil, false
	}
	return OutputOf(m.snap, ids[0])
}

// ModuleBuilder is the modifiable façade of a Module.
type ModuleBuilder struct {
	base *core.Modifiable
}

// NewModule returns a detached module builder.
func NewModule(source domain.EntitySource) *ModuleBuilder {
	return NewModuleData(source).CreateDetachedEntity()
}

// Base returns the shared modifiable state.
func (m *ModuleBuilder) Base() *core.Modifiable { return m.base }

// ConnectionIDs lists the connections a module takes part in.
func (m *ModuleBuilder) ConnectionIDs() []domain.ConnectionID { return moduleConnections }

// AfterModification detaches the change sinks of the list fields.
func (m *ModuleBuilder) AfterModification() { m.base.CleanCollections() }

// ID returns the entity id, zero while detached.
func (m *ModuleBuilder) ID() domain.EntityID { return m.base.ID() }

// ApplyToBuilder attaches the module, and any children linked to it while
// detached, to b.
func (m *ModuleBuilder) ApplyToBuilder(b *core.Builder) error { return m.base.ApplyToBuilder(b) }

// EntitySource returns the provenance tag.
func (m *ModuleBuilder) EntitySource() (domain.EntitySource, error) {
	d, err := dataOf[*ModuleData](m.base, false)
	if err != nil {
		return domain.EntitySource{}, err
	}
	return d.Source(), nil
}

// SetEntitySource assigns the provenance tag.
func (m *ModuleBuilder) SetEntitySource(v domain.EntitySource) error {
	return write(m.base, "entitySource", func(d *ModuleData) error { return d.SetSource(v) })
}

// Name returns the name.
func (m *ModuleBuilder) Name() (string, error) {
	d, err := dataOf[*ModuleData](m.base, false)
	if err != nil {
		return "", err
	}
	return d.Name()
}

// SetName assigns the name.
func (m *ModuleBuilder) SetName(v string) error {
	return write(m.base, "name", func(d *ModuleData) error { return d.SetName(v) })
}

// Dependencies returns the live dependency list.
func (m *ModuleBuilder) Dependencies() (*containers.TrackedList[string], error) {
	return trackedList(m.base, "dependencies", func(d *ModuleData) *containers.TrackedList[string] { return d.dependencies })
}

// SetDependencies replaces the dependency list.
func (m *ModuleBuilder) SetDependencies(v []string) error {
	return write(m.base, "dependencies", func(d *ModuleData) error { return d.SetDependencies(v) })
}

// ContentRoots lists the attached content roots.
func (m *ModuleBuilder) ContentRoots() []domain.EntityID {
	return m.children(ModuleContentRoots)
}

// Facets lists the attached facets.
func (m *ModuleBuilder) Facets() []domain.EntityID {
	return m.children(ModuleFacets)
}

func (m *ModuleBuilder) children(conn domain.ConnectionID) []domain.EntityID {
	b := m.base.Builder()
	if b == nil {
		return nil
	}
	return b.Children(m.base.ID(), conn)
}

// Relabel assigns the differing fields of external and re-resolves parents.
func (m *ModuleBuilder) Relabel(external domain.EntityData, parents []domain.EntityID) error {
	ext, ok := asData[*ModuleData](external)
	if !ok {
		return errRelabelType(ModuleType, external)
	}
	cur, err := dataOf[*ModuleData](m.base, false)
	if err != nil {
		return err
	}
	if err := core.RelabelSource(cur.Source(), ext.Source(), m.SetEntitySource); err != nil {
		return err
	}
	if err := core.RelabelField(cur.name, ext.name, m.SetName); err != nil {
		return err
	}
	if err := core.RelabelList(cur.dependencies, ext.dependencies, m.SetDependencies); err != nil {
		return err
	}
	return m.base.UpdateChildToParentReferences(parents)
}

// ModuleOf returns the read-only module id from s.
func ModuleOf(s *core.Snapshot, id domain.EntityID) (Module, bool) {
	return lookup[Module](s, id)
}

// ModifyModule runs fn against the builder façade of id.
func ModifyModule(b *core.Builder, id domain.EntityID, fn func(*ModuleBuilder) error) error {
	return modify(b, id, fn)
}

// ModuleBuilderOf returns the builder façade of id.
func ModuleBuilderOf(b *core.Builder, id domain.EntityID) (*ModuleBuilder, error) {
	return builderOf[*ModuleBuilder](b, id)
}

func moduleDescriptor() core.TypeDescriptor {
	return core.TypeDescriptor{
		Metadata: moduleMetadata,
		New:      func() domain.EntityData { return &ModuleData{dependencies: containers.NewTrackedList[string]()} },
		Wrap: func(b *core.Builder, id domain.EntityID) core.ModifiableEntity {
			m := &ModuleBuilder{}
			m.base = core.NewAttached(m, b, id)
			return m
		},
		Materialize: func(s *core.Snapshot, data domain.EntityData) domain.Entity {
			return materialize(s, data, func(d *ModuleData) domain.Entity { return &module{data: d, snap: s} })
		},
	}
}

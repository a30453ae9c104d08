package entities

import (
	"encoding/json"
	"fmt"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"
)

// FacetType tags Facet entities.
const FacetType domain.EntityType = "Facet"

// FacetKind is the closed set of facet flavours: JavaFacet or WebFacet.
type FacetKind interface {
	facetKind() string
}

// JavaFacet configures a JVM language level.
type JavaFacet struct {
	LanguageLevel int `json:"languageLevel"`
}

// WebFacet configures a web resource root.
type WebFacet struct {
	WebRoot string `json:"webRoot"`
}

func (JavaFacet) facetKind() string { return "java" }
func (WebFacet) facetKind() string  { return "web" }

type kindEnvelope struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalFacetKind encodes k with its variant tag.
func MarshalFacetKind(k FacetKind) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v := k.(type) {
	case JavaFacet:
		raw, err = json.Marshal(v)
	case WebFacet:
		raw, err = json.Marshal(v)
	default:
		return nil, fmt.Errorf("facet kind: unsupported variant %T", k)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(kindEnvelope{Kind: k.facetKind(), Value: raw})
}

// UnmarshalFacetKind decodes a tagged facet kind, rejecting unknown tags.
func UnmarshalFacetKind(raw []byte) (FacetKind, error) {
	var env kindEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case "java":
		var v JavaFacet
		err := json.Unmarshal(env.Value, &v)
		return v, err
	case "web":
		var v WebFacet
		err := json.Unmarshal(env.Value, &v)
		return v, err
	default:
		return nil, fmt.Errorf("facet kind: unknown tag %q", env.Kind)
	}
}

var facetMetadata = domain.Metadata{
	Type: FacetType,
	Fields: []domain.FieldDescriptor{
		{Name: "name", Kind: domain.FieldScalar, Required: true},
		{Name: "kind", Kind: domain.FieldSealed, Required: true},
	},
	Connections: []domain.ConnectionID{ModuleFacets},
}

// Facet attaches framework configuration to a module. It survives the
// removal of its module with the link cleared.
type Facet interface {
	domain.Entity
	Name() string
	Kind() FacetKind
	Module() (Module, bool)
}

// FacetData backs a Facet.
type FacetData struct {
	domain.DataBase
	name domain.Field[string]
	kind domain.Field[FacetKind]
}

// NewFacetData returns detached data.
func NewFacetData(source domain.EntitySource) *FacetData {
	d := &FacetData{}
	_ = d.SetSource(source)
	return d
}

// Type reports FacetType.
func (d *FacetData) Type() domain.EntityType { return FacetType }

// Metadata returns the facet schema.
func (d *FacetData) Metadata() domain.Metadata { return facetMetadata }

// RequiredParents is empty: a facet can be added without a parent.
func (d *FacetData) RequiredParents() []domain.EntityType { return nil }

// Name returns the name or an UninitializedFieldError.
func (d *FacetData) Name() (string, error) { return d.name.Get(FacetType, "name") }

// SetName assigns the name.
func (d *FacetData) SetName(v string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.name.Set(v)
	return nil
}

// Kind returns the facet kind or an UninitializedFieldError.
func (d *FacetData) Kind() (FacetKind, error) { return d.kind.Get(FacetType, "kind") }

// SetKind assigns the facet kind.
func (d *FacetData) SetKind(v FacetKind) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.kind.Set(v)
	return nil
}

// CheckInitialized fails on an unset source or required field.
func (d *FacetData) CheckInitialized() error {
	if err := d.CheckSource(FacetType); err != nil {
		return err
	}
	if !d.name.IsSet() {
		return domain.UninitializedFieldError{Type: FacetType, Field: "name"}
	}
	if !d.kind.IsSet() || d.kind.Value() == nil {
		return domain.UninitializedFieldError{Type: FacetType, Field: "kind"}
	}
	return nil
}

// Clone returns a writable deep copy.
func (d *FacetData) Clone() domain.EntityData {
	return &FacetData{DataBase: d.CopyBase(), name: d.name, kind: d.kind}
}

// Equal compares source and fields.
func (d *FacetData) Equal(other domain.EntityData) bool {
	o, ok := asData[*FacetData](other)
	return ok && d.Source() == o.Source() && d.EqualIgnoringSource(o)
}

// EqualIgnoringSource compares fields only.
func (d *FacetData) EqualIgnoringSource(other domain.EntityData) bool {
	o, ok := asData[*FacetData](other)
	return ok && d.name == o.name && d.kind == o.kind
}

// Hash agrees with Equal.
func (d *FacetData) Hash() uint64 {
	return d.hashFields(domain.NewHasher().Source(d.Source()))
}

// HashIgnoringSource agrees with EqualIgnoringSource.
func (d *FacetData) HashIgnoringSource() uint64 {
	return d.hashFields(domain.NewHasher().String(string(FacetType)))
}

func (d *FacetData) hashFields(h *domain.Hasher) uint64 {
	h.Value(d.name)
	if k := d.kind.Value(); k != nil {
		h.String(k.facetKind()).Value(k)
	}
	return h.Sum64()
}

// Fields returns the set fields by name.
func (d *FacetData) Fields() map[string]any {
	out := map[string]any{}
	if d.name.IsSet() {
		out["name"] = d.name.Value()
	}
	if k := d.kind.Value(); d.kind.IsSet() && k != nil {
		out["kind"] = k.facetKind()
	}
	return out
}

// Collections is empty: a facet has no list fields.
func (d *FacetData) Collections() []domain.Collection { return nil }

type facetWire struct {
	Name *string         `json:"name,omitempty"`
	Kind json.RawMessage `json:"kind,omitempty"`
}

// MarshalJSON encodes the declared fields.
func (d *FacetData) MarshalJSON() ([]byte, error) {
	var w facetWire
	if d.name.IsSet() {
		name := d.name.Value()
		w.Name = &name
	}
	if k := d.kind.Value(); d.kind.IsSet() && k != nil {
		raw, err := MarshalFacetKind(k)
		if err != nil {
			return nil, err
		}
		w.Kind = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the declared fields. Frozen data is rejected.
func (d *FacetData) UnmarshalJSON(raw []byte) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	var w facetWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if w.Name != nil {
		d.name.Set(*w.Name)
	}
	if len(w.Kind) > 0 {
		k, err := UnmarshalFacetKind(w.Kind)
		if err != nil {
			return err
		}
		d.kind.Set(k)
	}
	return nil
}

// CreateDetachedEntity returns a standalone builder façade over a copy of the
// data, optionally linked to a module.
func (d *FacetData) CreateDetachedEntity(parents ...core.ModifiableEntity) (*FacetBuilder, error) {
	cp := d.Clone()
	_ = cp.SetID(domain.EntityID{})
	f := &FacetBuilder{}
	f.base = core.NewDetached(f, cp)
	for _, p := range parents {
		if p != nil && p.Base().Type() == ModuleType {
			if err := f.base.LinkParent(ModuleFacets, p); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

type facet struct {
	data *FacetData
	snap *core.Snapshot
}

func (f *facet) EntityID() domain.EntityID         { return f.data.ID() }
func (f *facet) EntityType() domain.EntityType     { return FacetType }
func (f *facet) EntitySource() domain.EntitySource { return f.data.Source() }
func (f *facet) Name() string                      { return f.data.name.Value() }
func (f *facet) Kind() FacetKind                   { return f.data.kind.Value() }

func (f *facet) Module() (Module, bool) {
	id, ok := f.snap.Parent(f.data.ID(), ModuleFacets)
	if !ok {
		return nil, false
	}
	return ModuleOf(f.snap, id)
}

// FacetBuilder is the modifiable façade of a Facet.
type FacetBuilder struct {
	base *core.Modifiable
}

// NewFacet returns a detached facet, linked to module when it is not nil.
func NewFacet(source domain.EntitySource, name string, kind FacetKind, module *ModuleBuilder) (*FacetBuilder, error) {
	d := NewFacetData(source)
	if err := d.SetName(name); err != nil {
		return nil, err
	}
	if err := d.SetKind(kind); err != nil {
		return nil, err
	}
	if module == nil {
		return d.CreateDetachedEntity()
	}
	return d.CreateDetachedEntity(module)
}

// Base returns the shared modifiable state.
func (f *FacetBuilder) Base() *core.Modifiable { return f.base }

// ConnectionIDs lists the connections a facet takes part in.
func (f *FacetBuilder) ConnectionIDs() []domain.ConnectionID { return facetMetadata.Connections }

// AfterModification detaches the change sinks of the list fields.
func (f *FacetBuilder) AfterModification() { f.base.CleanCollections() }

// ID returns the entity id, zero while detached.
func (f *FacetBuilder) ID() domain.EntityID { return f.base.ID() }

// ApplyToBuilder attaches the facet to b.
func (f *FacetBuilder) ApplyToBuilder(b *core.Builder) error { return f.base.ApplyToBuilder(b) }

// EntitySource returns the provenance tag.
func (f *FacetBuilder) EntitySource() (domain.EntitySource, error) {
	d, err := dataOf[*FacetData](f.base, false)
	if err != nil {
		return domain.EntitySource{}, err
	}
	return d.Source(), nil
}

// SetEntitySource assigns the provenance tag.
func (f *FacetBuilder) SetEntitySource(v domain.EntitySource) error {
	return write(f.base, "entitySource", func(d *FacetData) error { return d.SetSource(v) })
}

// Name returns the name.
func (f *FacetBuilder) Name() (string, error) {
	d, err := dataOf[*FacetData](f.base, false)
	if err != nil {
		return "", err
	}
	return d.Name()
}

// SetName assigns the name.
func (f *FacetBuilder) SetName(v string) error {
	return write(f.base, "name", func(d *FacetData) error { return d.SetName(v) })
}

// Kind returns the facet kind.
func (f *FacetBuilder) Kind() (FacetKind, error) {
	d, err := dataOf[*FacetData](f.base, false)
	if err != nil {
		return nil, err
	}
	return d.Kind()
}

// SetKind assigns the facet kind.
func (f *FacetBuilder) SetKind(v FacetKind) error {
	return write(f.base, "kind", func(d *FacetData) error { return d.SetKind(v) })
}

// Module returns the parent module id, if linked.
func (f *FacetBuilder) Module() (domain.EntityID, bool) {
	return f.base.ParentID(ModuleFacets)
}

// SetModule links the facet to module.
func (f *FacetBuilder) SetModule(module *ModuleBuilder) error {
	return f.base.LinkParent(ModuleFacets, module)
}

// DetachModule clears the module link.
func (f *FacetBuilder) DetachModule() error {
	b := f.base.Builder()
	if b == nil {
		return domain.ErrModificationNotAllowed
	}
	if err := b.ClearParent(f.base.ID(), ModuleFacets); err != nil {
		return err
	}
	f.base.MarkChanged("parent:" + string(ModuleType))
	return nil
}

// Relabel assigns the differing fields of external and re-resolves parents.
func (f *FacetBuilder) Relabel(external domain.EntityData, parents []domain.EntityID) error {
	ext, ok := asData[*FacetData](external)
	if !ok {
		return errRelabelType(FacetType, external)
	}
	cur, err := dataOf[*FacetData](f.base, false)
	if err != nil {
		return err
	}
	if err := core.RelabelSource(cur.Source(), ext.Source(), f.SetEntitySource); err != nil {
		return err
	}
	if err := core.RelabelField(cur.name, ext.name, f.SetName); err != nil {
		return err
	}
	if err := core.RelabelField(cur.kind, ext.kind, f.SetKind); err != nil {
		return err
	}
	return f.base.UpdateChildToParentReferences(parents)
}

// FacetOf returns the read-only facet id from s.
func FacetOf(s *core.Snapshot, id domain.EntityID) (Facet, bool) {
	return lookup[Facet](s, id)
}

// ModifyFacet runs fn against the builder façade of id.
func ModifyFacet(b *core.Builder, id domain.EntityID, fn func(*FacetBuilder) error) error {
	return modify(b, id, fn)
}

func facetDescriptor() core.TypeDescriptor {
	return core.TypeDescriptor{
		Metadata: facetMetadata,
		New:      func() domain.EntityData { return &FacetData{} },
		Wrap: func(b *core.Builder, id domain.EntityID) core.ModifiableEntity {
			f := &FacetBuilder{}
			f.base = core.NewAttached(f, b, id)
			return f
		},
		Materialize: func(s *core.Snapshot, data domain.EntityData) domain.Entity {
			return materialize(s, data, func(d *FacetData) domain.Entity { return &facet{data: d, snap: s} })
		},
	}
}

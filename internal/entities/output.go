package entities

import (
	"encoding/json"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"
)

// OutputType tags Output entities.
const OutputType domain.EntityType = "Output"

var outputMetadata = domain.Metadata{
	Type: OutputType,
	Fields: []domain.FieldDescriptor{
		{Name: "path", Kind: domain.FieldScalar, Required: true},
		{Name: "exploded", Kind: domain.FieldScalar},
	},
	Connections:     []domain.ConnectionID{ModuleOutput},
	RequiredParents: []domain.EntityType{ModuleType},
}

// Output is the single build output of a module. Adding a second output to
// the same module replaces the first.
type Output interface {
	domain.Entity
	Path() string
	Exploded() bool
	Module() (Module, bool)
}

// OutputData backs an Output.
type OutputData struct {
	domain.DataBase
	path     domain.Field[string]
	exploded bool
}

// NewOutputData returns detached data.
func NewOutputData(source domain.EntitySource) *OutputData {
	d := &OutputData{}
	_ = d.SetSource(source)
	return d
}

// Type reports OutputType.
func (d *OutputData) Type() domain.EntityType { return OutputType }

// Metadata returns the output schema.
func (d *OutputData) Metadata() domain.Metadata { return outputMetadata }

// RequiredParents is empty: a output can be added without a parent.
func (d *OutputData) RequiredParents() []domain.EntityType {
	return []domain.EntityType{ModuleType}
}

// Path returns the output path or an UninitializedFieldError.
func (d *OutputData) Path() (string, error) { return d.path.Get(OutputType, "path") }

// SetPath assigns the output path.
func (d *OutputData) SetPath(v string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.path.Set(v)
	return nil
}

// Exploded reports whether the output is an exploded directory.
func (d *OutputData) Exploded() bool { return d.exploded }

// SetExploded sets the exploded flag.
func (d *OutputData) SetExploded(v bool) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.exploded = v
	return nil
}

// CheckInitialized fails on an unset source or required field.
func (d *OutputData) CheckInitialized() error {
	if err := d.CheckSource(OutputType); err != nil {
		return err
	}
	if !d.path.IsSet() {
		return domain.UninitializedFieldError{Type: OutputType, Field: "path"}
	}
	return nil
}

// Clone returns a writable deep copy.
func (d *OutputData) Clone() domain.EntityData {
	return &OutputData{DataBase: d.CopyBase(), path: d.path, exploded: d.exploded}
}

// Equal compares source and fields.
func (d *OutputData) Equal(other domain.EntityData) bool {
	o, ok := asData[*OutputData](other)
	return ok && d.Source() == o.Source() && d.EqualIgnoringSource(o)
}

// EqualIgnoringSource compares fields only.
func (d *OutputData) EqualIgnoringSource(other domain.EntityData) bool {
	o, ok := asData[*OutputData](other)
	return ok && d.path == o.path && d.exploded == o.exploded
}

// Hash agrees with Equal.
func (d *OutputData) Hash() uint64 {
	return domain.NewHasher().Source(d.Source()).Value(d.path).Value(d.exploded).Sum64()
}

// HashIgnoringSource agrees with EqualIgnoringSource.
func (d *OutputData) HashIgnoringSource() uint64 {
	return domain.NewHasher().String(string(OutputType)).Value(d.path).Value(d.exploded).Sum64()
}

// Fields returns the set fields by name.
func (d *OutputData) Fields() map[string]any {
	out := map[string]any{"exploded": d.exploded}
	if d.path.IsSet() {
		out["path"] = d.path.Value()
	}
	return out
}

// Collections is empty: a output has no list fields.
func (d *OutputData) Collections() []domain.Collection { return nil }

type outputWire struct {
	Path     *string `json:"path,omitempty"`
	Exploded bool    `json:"exploded"`
}

// MarshalJSON encodes the declared fields.
func (d *OutputData) MarshalJSON() ([]byte, error) {
	w := outputWire{Exploded: d.exploded}
	if d.path.IsSet() {
		path := d.path.Value()
		w.Path = &path
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the declared fields. Frozen data is rejected.
func (d *OutputData) UnmarshalJSON(raw []byte) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	var w outputWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if w.Path != nil {
		d.path.Set(*w.Path)
	}
	d.exploded = w.Exploded
	return nil
}

// CreateDetachedEntity returns a standalone builder façade over a copy of the
// data. The module parent must be supplied up front.
func (d *OutputData) CreateDetachedEntity(parents ...core.ModifiableEntity) (*OutputBuilder, error) {
	if err := requireParents(OutputType, d.RequiredParents(), parents); err != nil {
		return nil, err
	}
	cp := d.Clone()
	_ = cp.SetID(domain.EntityID{})
	o := &OutputBuilder{}
	o.base = core.NewDetached(o, cp)
	for _, p := range parents {
		if p.Base().Type() == ModuleType {
			if err := o.base.LinkParent(ModuleOutput, p); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

type output struct {
	data *OutputData
	snap *core.Snapshot
}

func (o *output) EntityID() domain.EntityID         { return o.data.ID() }
func (o *output) EntityType() domain.EntityType     { return OutputType }
func (o *output) EntitySource() domain.EntitySource { return o.data.Source() }
func (o *output) Path() string                      { return o.data.path.Value() }
func (o *output) Exploded() bool                    { return o.data.exploded }

func (o *output) Module() (Module, bool) {
	id, ok := o.snap.Parent(o.data.ID(), ModuleOutput)
	if !ok {
		return nil, false
	}
	return ModuleOf(o.snap, id)
}

// OutputBuilder is the modifiable façade of an Output.
type OutputBuilder struct {
	base *core.Modifiable
}

// NewOutput returns a detached output linked to module.
func NewOutput(source domain.EntitySource, path string, module *ModuleBuilder) (*OutputBuilder, error) {
	d := NewOutputData(source)
	if err := d.SetPath(path); err != nil {
		return nil, err
	}
	if module == nil {
		return d.CreateDetachedEntity()
	}
	return d.CreateDetachedEntity(module)
}

// Base returns the shared modifiable state.
func (o *OutputBuilder) Base() *core.Modifiable { return o.base }

// ConnectionIDs lists the connections a output takes part in.
func (o *OutputBuilder) ConnectionIDs() []domain.ConnectionID { return outputMetadata.Connections }

// AfterModification detaches the change sinks of the list fields.
func (o *OutputBuilder) AfterModification() { o.base.CleanCollections() }

// ID returns the entity id, zero while detached.
func (o *OutputBuilder) ID() domain.EntityID { return o.base.ID() }

// ApplyToBuilder attaches the output to b.
func (o *OutputBuilder) ApplyToBuilder(b *core.Builder) error { return o.base.ApplyToBuilder(b) }

// SetEntitySource assigns the provenance tag.
func (o *OutputBuilder) SetEntitySource(v domain.EntitySource) error {
	return write(o.base, "entitySource", func(d *OutputData) error { return d.SetSource(v) })
}

// Path returns the output path.
func (o *OutputBuilder) Path() (string, error) {
	d, err := dataOf[*OutputData](o.base, false)
	if err != nil {
		return "", err
	}
	return d.Path()
}

// SetPath assigns the output path.
func (o *OutputBuilder) SetPath(v string) error {
	return write(o.base, "path", func(d *OutputData) error { return d.SetPath(v) })
}

// SetExploded sets the exploded flag.
func (o *OutputBuilder) SetExploded(v bool) error {
	return write(o.base, "exploded", func(d *OutputData) error { return d.SetExploded(v) })
}

// Relabel assigns the differing fields of external and re-resolves parents.
func (o *OutputBuilder) Relabel(external domain.EntityData, parents []domain.EntityID) error {
	ext, ok := asData[*OutputData](external)
	if !ok {
		return errRelabelType(OutputType, external)
	}
	cur, err := dataOf[*OutputData](o.base, false)
	if err != nil {
		return err
	}
	if err := core.RelabelSource(cur.Source(), ext.Source(), o.SetEntitySource); err != nil {
		return err
	}
	if err := core.RelabelField(cur.path, ext.path, o.SetPath); err != nil {
		return err
	}
	if cur.exploded != ext.exploded {
		if err := o.SetExploded(ext.exploded); err != nil {
			return err
		}
	}
	return o.base.UpdateChildToParentReferences(parents)
}

// OutputOf returns the read-only output id from s.
func OutputOf(s *core.Snapshot, id domain.EntityID) (Output, bool) {
	return lookup[Output](s, id)
}

func outputDescriptor() core.TypeDescriptor {
	return core.TypeDescriptor{
		Metadata: outputMetadata,
		New:      func() domain.EntityData { return &OutputData{} },
		Wrap: func(b *core.Builder, id domain.EntityID) core.ModifiableEntity {
			o := &OutputBuilder{}
			o.base = core.NewAttached(o, b, id)
			return o
		},
		Materialize: func(s *core.Snapshot, data domain.EntityData) domain.Entity {
			return materialize(s, data, func(d *OutputData) domain.Entity { return &output{data: d, snap: s} })
		},
	}
}

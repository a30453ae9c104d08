package entities

import (
	"encoding/json"
	"workspacestore/internal/containers"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"
)

// WidgetType tags Widget entities.
const WidgetType domain.EntityType = "Widget"

var widgetMetadata = domain.Metadata{
	Type: WidgetType,
	Fields: []domain.FieldDescriptor{
		{Name: "name", Kind: domain.FieldScalar, Required: true},
		{Name: "tags", Kind: domain.FieldCollection},
	},
}

// Widget is a free-standing entity with a name and tags.
type Widget interface {
	domain.Entity
	Name() string
	Tags() []string
}

// WidgetData backs a Widget.
type WidgetData struct {
	domain.DataBase
	name domain.Field[string]
	tags *containers.TrackedList[string]
}

// NewWidgetData returns detached data with an empty tag list.
func NewWidgetData(source domain.EntitySource) *WidgetData {
	d := &WidgetData{tags: containers.NewTrackedList[string]()}
	_ = d.SetSource(source)
	return d
}

// Type reports WidgetType.
func (d *WidgetData) Type() domain.EntityType { return WidgetType }

// Metadata returns the widget schema.
func (d *WidgetData) Metadata() domain.Metadata { return widgetMetadata }

// RequiredParents is empty: widgets stand alone.
func (d *WidgetData) RequiredParents() []domain.EntityType { return nil }

// Name returns the name or an UninitializedFieldError.
func (d *WidgetData) Name() (string, error) { return d.name.Get(WidgetType, "name") }

// SetName assigns the name.
func (d *WidgetData) SetName(v string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.name.Set(v)
	return nil
}

// Tags returns the tag list.
func (d *WidgetData) Tags() *containers.TrackedList[string] { return d.tags }

// SetTags replaces the tag list with a copy of v.
func (d *WidgetData) SetTags(v []string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	return replaceList(&d.tags, v)
}

// CheckInitialized returns an UninitializedFieldError for the first unset
// required field, checking the source first.
func (d *WidgetData) CheckInitialized() error {
	if err := d.CheckSource(WidgetType); err != nil {
		return err
	}
	if !d.name.IsSet() {
		return domain.UninitializedFieldError{Type: WidgetType, Field: "name"}
	}
	return nil
}

// Clone returns a deep copy carrying the same id and source. The copy is
// writable even when d is frozen.
func (d *WidgetData) Clone() domain.EntityData {
	return &WidgetData{DataBase: d.CopyBase(), name: d.name, tags: d.tags.Clone()}
}

// Equal compares source and declared fields. Ids are not compared.
func (d *WidgetData) Equal(other domain.EntityData) bool {
	o, ok := asData[*WidgetData](other)
	return ok && d.Source() == o.Source() && d.EqualIgnoringSource(o)
}

// EqualIgnoringSource compares the declared fields only.
func (d *WidgetData) EqualIgnoringSource(other domain.EntityData) bool {
	o, ok := asData[*WidgetData](other)
	return ok && d.name == o.name && d.tags.Equal(o.tags)
}

// Hash agrees with Equal.
func (d *WidgetData) Hash() uint64 {
	h := domain.NewHasher().Source(d.Source())
	return d.hashFields(h)
}

// HashIgnoringSource agrees with EqualIgnoringSource.
func (d *WidgetData) HashIgnoringSource() uint64 {
	return d.hashFields(domain.NewHasher().String(string(WidgetType)))
}

func (d *WidgetData) hashFields(h *domain.Hasher) uint64 {
	h.Value(d.name)
	d.tags.HashInto(h)
	return h.Sum64()
}

// Fields returns the set fields keyed by name. Unset scalars are omitted.
func (d *WidgetData) Fields() map[string]any {
	out := map[string]any{"tags": d.tags.Items()}
	if d.name.IsSet() {
		out["name"] = d.name.Value()
	}
	return out
}

// Collections returns the tracked lists so commit can freeze them.
func (d *WidgetData) Collections() []domain.Collection {
	return []domain.Collection{d.tags}
}

type widgetWire struct {
	Name *string  `json:"name,omitempty"`
	Tags []string `json:"tags"`
}

// MarshalJSON encodes the declared fields.
func (d *WidgetData) MarshalJSON() ([]byte, error) {
	w := widgetWire{Tags: d.tags.Items()}
	if d.name.IsSet() {
		name := d.name.Value()
		w.Name = &name
	}
	if w.Tags == nil {
		w.Tags = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the declared fields; an absent name stays unset.
func (d *WidgetData) UnmarshalJSON(raw []byte) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	var w widgetWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if w.Name != nil {
		d.name.Set(*w.Name)
	}
	d.tags = containers.FromSlice(w.Tags)
	return nil
}

// CreateDetachedEntity returns a standalone builder façade over a copy of
// the data, without identity.
func (d *WidgetData) CreateDetachedEntity() *WidgetBuilder {
	cp := d.Clone()
	_ = cp.SetID(domain.EntityID{})
	b := &WidgetBuilder{}
	b.base = core.NewDetached(b, cp)
	return b
}

type widget struct {
	data *WidgetData
}

func (w *widget) EntityID() domain.EntityID         { return w.data.ID() }
func (w *widget) EntityType() domain.EntityType     { return WidgetType }
func (w *widget) EntitySource() domain.EntitySource { return w.data.Source() }
func (w *widget) Name() string                      { return w.data.name.Value() }
func (w *widget) Tags() []string                    { return w.data.tags.Items() }

// WidgetBuilder is the modifiable façade of a Widget.
type WidgetBuilder struct {
	base *core.Modifiable
}

// NewWidget returns a detached widget builder. Set the name before applying.
func NewWidget(source domain.EntitySource) *WidgetBuilder {
	return NewWidgetData(source).CreateDetachedEntity()
}

// Base returns the shared modifiable state.
func (w *WidgetBuilder) Base() *core.Modifiable { return w.base }

// ConnectionIDs is empty: widgets have no connections.
func (w *WidgetBuilder) ConnectionIDs() []domain.ConnectionID { return nil }

// AfterModification detaches the change sinks of the list fields.
func (w *WidgetBuilder) AfterModification() { w.base.CleanCollections() }

// ID returns the entity id, zero while detached.
func (w *WidgetBuilder) ID() domain.EntityID { return w.base.ID() }

// ApplyToBuilder attaches the widget to b.
func (w *WidgetBuilder) ApplyToBuilder(b *core.Builder) error { return w.base.ApplyToBuilder(b) }

// EntitySource returns the provenance tag.
func (w *WidgetBuilder) EntitySource() (domain.EntitySource, error) {
	d, err := dataOf[*WidgetData](w.base, false)
	if err != nil {
		return domain.EntitySource{}, err
	}
	return d.Source(), nil
}

// SetEntitySource assigns the provenance tag.
func (w *WidgetBuilder) SetEntitySource(v domain.EntitySource) error {
	return write(w.base, "entitySource", func(d *WidgetData) error { return d.SetSource(v) })
}

// Name returns the name.
func (w *WidgetBuilder) Name() (string, error) {
	d, err := dataOf[*WidgetData](w.base, false)
	if err != nil {
		return "", err
	}
	return d.Name()
}

// SetName assigns the name.
func (w *WidgetBuilder) SetName(v string) error {
	return write(w.base, "name", func(d *WidgetData) error { return d.SetName(v) })
}

// Tags returns the live tag list; mutations mark "tags" changed.
func (w *WidgetBuilder) Tags() (*containers.TrackedList[string], error) {
	return trackedList(w.base, "tags", func(d *WidgetData) *containers.TrackedList[string] { return d.tags })
}

// SetTags replaces the tag list.
func (w *WidgetBuilder) SetTags(v []string) error {
	return write(w.base, "tags", func(d *WidgetData) error { return d.SetTags(v) })
}

// Relabel assigns the differing fields of external.
func (w *WidgetBuilder) Relabel(external domain.EntityData, parents []domain.EntityID) error {
	ext, ok := asData[*WidgetData](external)
	if !ok {
		return errRelabelType(WidgetType, external)
	}
	cur, err := dataOf[*WidgetData](w.base, false)
	if err != nil {
		return err
	}
	if err := core.RelabelSource(cur.Source(), ext.Source(), w.SetEntitySource); err != nil {
		return err
	}
	if err := core.RelabelField(cur.name, ext.name, w.SetName); err != nil {
		return err
	}
	if err := core.RelabelList(cur.tags, ext.tags, w.SetTags); err != nil {
		return err
	}
	return w.base.UpdateChildToParentReferences(parents)
}

// WidgetOf returns the read-only widget id from s.
func WidgetOf(s *core.Snapshot, id domain.EntityID) (Widget, bool) {
	return lookup[Widget](s, id)
}

// ModifyWidget runs fn against the builder façade of id.
func ModifyWidget(b *core.Builder, id domain.EntityID, fn func(*WidgetBuilder) error) error {
	return modify(b, id, fn)
}

// WidgetBuilderOf returns the builder façade of id.
func WidgetBuilderOf(b *core.Builder, id domain.EntityID) (*WidgetBuilder, error) {
	return builderOf[*WidgetBuilder](b, id)
}

func widgetDescriptor() core.TypeDescriptor {
	return core.TypeDescriptor{
		Metadata: widgetMetadata,
		New:      func() domain.EntityData { return &WidgetData{tags: containers.NewTrackedList[string]()} },
		Wrap: func(b *core.Builder, id domain.EntityID) core.ModifiableEntity {
			w := &WidgetBuilder{}
			w.base = core.NewAttached(w, b, id)
			return w
		},
		Materialize: func(s *core.Snapshot, data domain.EntityData) domain.Entity {
			return materialize(s, data, func(d *WidgetData) domain.Entity { return &widget{data: d} })
		},
	}
}

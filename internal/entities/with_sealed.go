package entities

import (
	"encoding/json"
	"fmt"
	"workspacestore/internal/containers"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"
)

// WithSealedType tags WithSealed entities.
const WithSealedType domain.EntityType = "WithSealed"

// SealedClass is a closed sum type: TextClass or NumberClass.
type SealedClass interface {
	sealedClass() string
}

// TextClass carries a text payload.
type TextClass struct {
	Text string `json:"text"`
}

// NumberClass carries a numeric payload.
type NumberClass struct {
	Number int `json:"number"`
}

func (TextClass) sealedClass() string   { return "text" }
func (NumberClass) sealedClass() string { return "number" }

// SealedInterface is a closed sum type: NamedImpl or FlagImpl.
type SealedInterface interface {
	sealedInterface() string
}

// NamedImpl carries a name.
type NamedImpl struct {
	Name string `json:"name"`
}

// FlagImpl carries a switch.
type FlagImpl struct {
	Enabled bool `json:"enabled"`
}

func (NamedImpl) sealedInterface() string { return "named" }
func (FlagImpl) sealedInterface() string  { return "flag" }

func encodeSealedClass(v SealedClass) (kindEnvelope, error) {
	var (
		raw []byte
		err error
	)
	switch c := v.(type) {
	case TextClass:
		raw, err = json.Marshal(c)
	case NumberClass:
		raw, err = json.Marshal(c)
	default:
		return kindEnvelope{}, fmt.Errorf("sealed class: unsupported variant %T", v)
	}
	return kindEnvelope{Kind: v.sealedClass(), Value: raw}, err
}

func decodeSealedClass(env kindEnvelope) (SealedClass, error) {
	switch env.Kind {
	case "text":
		var c TextClass
		err := json.Unmarshal(env.Value, &c)
		return c, err
	case "number":
		var c NumberClass
		err := json.Unmarshal(env.Value, &c)
		return c, err
	default:
		return nil, fmt.Errorf("sealed class: unknown tag %q", env.Kind)
	}
}

func encodeSealedInterface(v SealedInterface) (kindEnvelope, error) {
	var (
		raw []byte
		err error
	)
	switch c := v.(type) {
	case NamedImpl:
		raw, err = json.Marshal(c)
	case FlagImpl:
		raw, err = json.Marshal(c)
	default:
		return kindEnvelope{}, fmt.Errorf("sealed interface: unsupported variant %T", v)
	}
	return kindEnvelope{Kind: v.sealedInterface(), Value: raw}, err
}

func decodeSealedInterface(env kindEnvelope) (SealedInterface, error) {
	switch env.Kind {
	case "named":
		var c NamedImpl
		err := json.Unmarshal(env.Value, &c)
		return c, err
	case "flag":
		var c FlagImpl
		err := json.Unmarshal(env.Value, &c)
		return c, err
	default:
		return nil, fmt.Errorf("sealed interface: unknown tag %q", env.Kind)
	}
}

var withSealedMetadata = domain.Metadata{
	Type: WithSealedType,
	Fields: []domain.FieldDescriptor{
		{Name: "classes", Kind: domain.FieldCollection, Required: true},
		{Name: "interfaces", Kind: domain.FieldCollection, Required: true},
	},
}

// WithSealed holds lists of sealed values.
type WithSealed interface {
	domain.Entity
	Classes() []SealedClass
	Interfaces() []SealedInterface
}

// WithSealedData backs a WithSealed entity. Both lists are required: a nil
// list is uninitialized, an empty list is a valid value.
type WithSealedData struct {
	domain.DataBase
	classes    *containers.TrackedList[SealedClass]
	interfaces *containers.TrackedList[SealedInterface]
}

// NewWithSealedData returns detached data with both lists unset.
func NewWithSealedData(source domain.EntitySource) *WithSealedData {
	d := &WithSealedData{}
	_ = d.SetSource(source)
	return d
}

// Type reports WithSealedType.
func (d *WithSealedData) Type() domain.EntityType { return WithSealedType }

// Metadata returns the sealed-hierarchy holder schema.
func (d *WithSealedData) Metadata() domain.Metadata { return withSealedMetadata }

// RequiredParents is empty: a sealed-hierarchy holder can be added without a parent.
func (d *WithSealedData) RequiredParents() []domain.EntityType { return nil }

// Classes returns the sealed class list.
func (d *WithSealedData) Classes() *containers.TrackedList[SealedClass] { return d.classes }

// SetClasses replaces the class list contents with v.
func (d *WithSealedData) SetClasses(v []SealedClass) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	return replaceList(&d.classes, v)
}

// Interfaces returns the sealed interface list.
func (d *WithSealedData) Interfaces() *containers.TrackedList[SealedInterface] { return d.interfaces }

// SetInterfaces replaces the interface list contents with v.
func (d *WithSealedData) SetInterfaces(v []SealedInterface) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	return replaceList(&d.interfaces, v)
}

// CheckInitialized returns an UninitializedFieldError for the first unset
// required field, checking the source first.
func (d *WithSealedData) CheckInitialized() error {
	if err := d.CheckSource(WithSealedType); err != nil {
		return err
	}
	if d.classes == nil {
		return domain.UninitializedFieldError{Type: WithSealedType, Field: "classes"}
	}
	if d.interfaces == nil {
		return domain.UninitializedFieldError{Type: WithSealedType, Field: "interfaces"}
	}
	return nil
}

// Clone returns a deep copy carrying the same id and source. The copy is
// writable even when d is frozen.
func (d *WithSealedData) Clone() domain.EntityData {
	return &WithSealedData{DataBase: d.CopyBase(), classes: d.classes.Clone(), interfaces: d.interfaces.Clone()}
}

// Equal compares source and declared fields. Ids are not compared.
func (d *WithSealedData) Equal(other domain.EntityData) bool {
	o, ok := asData[*WithSealedData](other)
	return ok && d.Source() == o.Source() && d.EqualIgnoringSource(o)
}

// EqualIgnoringSource compares the declared fields only.
func (d *WithSealedData) EqualIgnoringSource(other domain.EntityData) bool {
	o, ok := asData[*WithSealedData](other)
	return ok && d.classes.Equal(o.classes) && d.interfaces.Equal(o.interfaces)
}

// Hash agrees with Equal.
func (d *WithSealedData) Hash() uint64 {
	return d.hashFields(domain.NewHasher().Source(d.Source()))
}

// HashIgnoringSource agrees with EqualIgnoringSource.
func (d *WithSealedData) HashIgnoringSource() uint64 {
	return d.hashFields(domain.NewHasher().String(string(WithSealedType)))
}

func (d *WithSealedData) hashFields(h *domain.Hasher) uint64 {
	h.Value(d.classes.Len())
	for _, c := range d.classes.Items() {
		h.String(c.sealedClass()).Value(c)
	}
	h.Value(d.interfaces.Len())
	for _, i := range d.interfaces.Items() {
		h.String(i.sealedInterface()).Value(i)
	}
	return h.Sum64()
}

// Fields returns the set fields keyed by name. Unset scalars are omitted.
func (d *WithSealedData) Fields() map[string]any {
	out := map[string]any{}
	if d.classes != nil {
		out["classes"] = d.classes.Items()
	}
	if d.interfaces != nil {
		out["interfaces"] = d.interfaces.Items()
	}
	return out
}

// Collections returns the tracked lists so commit can freeze them.
func (d *WithSealedData) Collections() []domain.Collection {
	var out []domain.Collection
	if d.classes != nil {
		out = append(out, d.classes)
	}
	if d.interfaces != nil {
		out = append(out, d.interfaces)
	}
	return out
}

type withSealedWire struct {
	Classes    []kindEnvelope `json:"classes,omitempty"`
	Interfaces []kindEnvelope `json:"interfaces,omitempty"`
	// Set flags distinguish an empty list from an unset one.
	HasClasses    bool `json:"hasClasses"`
	HasInterfaces bool `json:"hasInterfaces"`
}

// MarshalJSON encodes the declared fields.
func (d *WithSealedData) MarshalJSON() ([]byte, error) {
	w := withSealedWire{HasClasses: d.classes != nil, HasInterfaces: d.interfaces != nil}
	for _, c := range d.classes.Items() {
		env, err := encodeSealedClass(c)
		if err != nil {
			return nil, err
		}
		w.Classes = append(w.Classes, env)
	}
	for _, i := range d.interfaces.Items() {
		env, err := encodeSealedInterface(i)
		if err != nil {
			return nil, err
		}
		w.Interfaces = append(w.Interfaces, env)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the declared fields. Frozen data is rejected.
func (d *WithSealedData) UnmarshalJSON(raw []byte) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	var w withSealedWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if w.HasClasses {
		classes := make([]SealedClass, 0, len(w.Classes))
		for _, env := range w.Classes {
			c, err := decodeSealedClass(env)
			if err != nil {
				return err
			}
			classes = append(classes, c)
		}
		d.classes = containers.FromSlice(classes)
	}
	if w.HasInterfaces {
		ifaces := make([]SealedInterface, 0, len(w.Interfaces))
		for _, env := range w.Interfaces {
			i, err := decodeSealedInterface(env)
			if err != nil {
				return err
			}
			ifaces = append(ifaces, i)
		}
		d.interfaces = containers.FromSlice(ifaces)
	}
	return nil
}

// CreateDetachedEntity returns a standalone builder façade over a copy of the
// data.
func (d *WithSealedData) CreateDetachedEntity() *WithSealedBuilder {
	cp := d.Clone()
	_ = cp.SetID(domain.EntityID{})
	w := &WithSealedBuilder{}
	w.base = core.NewDetached(w, cp)
	return w
}

type withSealed struct {
	data *WithSealedData
}

func (w *withSealed) EntityID() domain.EntityID         { return w.data.ID() }
func (w *withSealed) EntityType() domain.EntityType     { return WithSealedType }
func (w *withSealed) EntitySource() domain.EntitySource { return w.data.Source() }
func (w *withSealed) Classes() []SealedClass            { return w.data.classes.Items() }
func (w *withSealed) Interfaces() []SealedInterface     { return w.data.interfaces.Items() }

// WithSealedBuilder is the modifiable façade of a WithSealed entity.
type WithSealedBuilder struct {
	base *core.Modifiable
}

// NewWithSealed returns a detached builder with both lists set.
func NewWithSealed(source domain.EntitySource, classes []SealedClass, interfaces []SealedInterface) *WithSealedBuilder {
	d := NewWithSealedData(source)
	_ = d.SetClasses(classes)
	_ = d.SetInterfaces(interfaces)
	return d.CreateDetachedEntity()
}

// Base returns the shared modifiable state.
func (w *WithSealedBuilder) Base() *core.Modifiable { return w.base }

// ConnectionIDs is empty: the holder has no connections.
func (w *WithSealedBuilder) ConnectionIDs() []domain.ConnectionID { return nil }

// AfterModification detaches the change sinks of the list fields.
func (w *WithSealedBuilder) AfterModification() { w.base.CleanCollections() }

// ID returns the entity id, zero while detached.
func (w *WithSealedBuilder) ID() domain.EntityID { return w.base.ID() }

// ApplyToBuilder attaches the sealed-hierarchy holder to b.
func (w *WithSealedBuilder) ApplyToBuilder(b *core.Builder) error { return w.base.ApplyToBuilder(b) }

// SetEntitySource assigns the provenance tag.
func (w *WithSealedBuilder) SetEntitySource(v domain.EntitySource) error {
	return write(w.base, "entitySource", func(d *WithSealedData) error { return d.SetSource(v) })
}

// Classes returns the live class list.
func (w *WithSealedBuilder) Classes() (*containers.TrackedList[SealedClass], error) {
	return trackedList(w.base, "classes", func(d *WithSealedData) *containers.TrackedList[SealedClass] { return d.classes })
}

// SetClasses replaces the class list.
func (w *WithSealedBuilder) SetClasses(v []SealedClass) error {
	return write(w.base, "classes", func(d *WithSealedData) error { return d.SetClasses(v) })
}

// Interfaces returns the live interface list.
func (w *WithSealedBuilder) Interfaces() (*containers.TrackedList[SealedInterface], error) {
	return trackedList(w.base, "interfaces", func(d *WithSealedData) *containers.TrackedList[SealedInterface] {
		return d.interfaces
	})
}

// SetInterfaces replaces the interface list.
func (w *WithSealedBuilder) SetInterfaces(v []SealedInterface) error {
	return write(w.base, "interfaces", func(d *WithSealedData) error { return d.SetInterfaces(v) })
}

// Relabel assigns the differing fields of external and re-resolves parents.
func (w *WithSealedBuilder) Relabel(external domain.EntityData, parents []domain.EntityID) error {
	ext, ok := asData[*WithSealedData](external)
	if !ok {
		return errRelabelType(WithSealedType, external)
	}
	cur, err := dataOf[*WithSealedData](w.base, false)
	if err != nil {
		return err
	}
	if err := core.RelabelSource(cur.Source(), ext.Source(), w.SetEntitySource); err != nil {
		return err
	}
	if err := core.RelabelList(cur.classes, ext.classes, w.SetClasses); err != nil {
		return err
	}
	if err := core.RelabelList(cur.interfaces, ext.interfaces, w.SetInterfaces); err != nil {
		return err
	}
	return w.base.UpdateChildToParentReferences(parents)
}

// WithSealedOf returns the read-only entity id from s.
func WithSealedOf(s *core.Snapshot, id domain.EntityID) (WithSealed, bool) {
	return lookup[WithSealed](s, id)
}

// ModifyWithSealed runs fn against the builder façade of id.
func ModifyWithSealed(b *core.Builder, id domain.EntityID, fn func(*WithSealedBuilder) error) error {
	return modify(b, id, fn)
}

func withSealedDescriptor() core.TypeDescriptor {
	return core.TypeDescriptor{
		Metadata: withSealedMetadata,
		New:      func() domain.EntityData { return &WithSealedData{} },
		Wrap: func(b *core.Builder, id domain.EntityID) core.ModifiableEntity {
			w := &WithSealedBuilder{}
			w.base = core.NewAttached(w, b, id)
			return w
		},
		Materialize: func(s *core.Snapshot, data domain.EntityData) domain.Entity {
			return materialize(s, data, func(d *WithSealedData) domain.Entity { return &withSealed{data: d} })
		},
	}
}

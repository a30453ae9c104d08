package entities

import (
	"encoding/json"
	"workspacestore/internal/containers"
	"workspacestore/internal/core"
	"workspacestore/pkg/domain"
)

// ContentRootType tags ContentRoot entities.
const ContentRootType domain.EntityType = "ContentRoot"

var contentRootMetadata = domain.Metadata{
	Type: ContentRootType,
	Fields: []domain.FieldDescriptor{
		{Name: "url", Kind: domain.FieldScalar, Required: true},
		{Name: "excludedPatterns", Kind: domain.FieldCollection},
	},
	Connections:     []domain.ConnectionID{ModuleContentRoots},
	RequiredParents: []domain.EntityType{ModuleType},
}

// ContentRoot is a directory of a module. It cannot exist without one.
type ContentRoot interface {
	domain.Entity
	URL() string
	ExcludedPatterns() []string
	Module() (Module, bool)
}

// ContentRootData backs a ContentRoot.
type ContentRootData struct {
	domain.DataBase
	url              domain.Field[string]
	excludedPatterns *containers.TrackedList[string]
}

// NewContentRootData returns detached data with no exclusions.
func NewContentRootData(source domain.EntitySource) *ContentRootData {
	d := &ContentRootData{excludedPatterns: containers.NewTrackedList[string]()}
	_ = d.SetSource(source)
	return d
}

// Type reports ContentRootType.
func (d *ContentRootData) Type() domain.EntityType { return ContentRootType }

// Metadata returns the content root schema.
func (d *ContentRootData) Metadata() domain.Metadata { return contentRootMetadata }

// RequiredParents reports that a Module must exist first.
func (d *ContentRootData) RequiredParents() []domain.EntityType {
	return []domain.EntityType{ModuleType}
}

// URL returns the root url or an UninitializedFieldError.
func (d *ContentRootData) URL() (string, error) { return d.url.Get(ContentRootType, "url") }

// SetURL assigns the root url.
func (d *ContentRootData) SetURL(v string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	d.url.Set(v)
	return nil
}

// ExcludedPatterns returns the exclusion list.
func (d *ContentRootData) ExcludedPatterns() *containers.TrackedList[string] {
	return d.excludedPatterns
}

// SetExcludedPatterns replaces the exclusion list contents with v.
func (d *ContentRootData) SetExcludedPatterns(v []string) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	return replaceList(&d.excludedPatterns, v)
}

// CheckInitialized returns an UninitializedFieldError for the first unset
// required field, checking the source first.
func (d *ContentRootData) CheckInitialized() error {
	if err := d.CheckSource(ContentRootType); err != nil {
		return err
	}
	if !d.url.IsSet() {
		return domain.UninitializedFieldError{Type: ContentRootType, Field: "url"}
	}
	return nil
}

// Clone returns a deep copy carrying the same id and source. The copy is
// writable even when d is frozen.
func (d *ContentRootData) Clone() domain.EntityData {
	return &ContentRootData{DataBase: d.CopyBase(), url: d.url, excludedPatterns: d.excludedPatterns.Clone()}
}

// Equal compares source and declared fields. Ids are not compared.
func (d *ContentRootData) Equal(other domain.EntityData) bool {
	o, ok := asData[*ContentRootData](other)
	return ok && d.Source() == o.Source() && d.EqualIgnoringSource(o)
}

// EqualIgnoringSource compares the declared fields only.
func (d *ContentRootData) EqualIgnoringSource(other domain.EntityData) bool {
	o, ok := asData[*ContentRootData](other)
	return ok && d.url == o.url && d.excludedPatterns.Equal(o.excludedPatterns)
}

// Hash agrees with Equal.
func (d *ContentRootData) Hash() uint64 {
	return d.hashFields(domain.NewHasher().Source(d.Source()))
}

// HashIgnoringSource agrees with EqualIgnoringSource.
func (d *ContentRootData) HashIgnoringSource() uint64 {
	return d.hashFields(domain.NewHasher().String(string(ContentRootType)))
}

func (d *ContentRootData) hashFields(h *domain.Hasher) uint64 {
	h.Value(d.url)
	d.excludedPatterns.HashInto(h)
	return h.Sum64()
}

// Fields returns the set fields keyed by name. Unset scalars are omitted.
func (d *ContentRootData) Fields() map[string]any {
	out := map[string]any{"excludedPatterns": d.excludedPatterns.Items()}
	if d.url.IsSet() {
		out["url"] = d.url.Value()
	}
	return out
}

// Collections returns the tracked lists so commit can freeze them.
func (d *ContentRootData) Collections() []domain.Collection {
	return []domain.Collection{d.excludedPatterns}
}

type contentRootWire struct {
	URL              *string  `json:"url,omitempty"`
	ExcludedPatterns []string `json:"excludedPatterns"`
}

// MarshalJSON encodes the declared fields.
func (d *ContentRootData) MarshalJSON() ([]byte, error) {
	w := contentRootWire{ExcludedPatterns: d.excludedPatterns.Items()}
	if d.url.IsSet() {
		url := d.url.Value()
		w.URL = &url
	}
	if w.ExcludedPatterns == nil {
		w.ExcludedPatterns = []string{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the declared fields. Frozen data is rejected.
func (d *ContentRootData) UnmarshalJSON(raw []byte) error {
	if err := d.CheckWritable(); err != nil {
		return err
	}
	var w contentRootWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	if w.URL != nil {
		d.url.Set(*w.URL)
	}
	d.excludedPatterns = containers.FromSlice(w.ExcludedPatterns)
	return nil
}

// CreateDetachedEntity returns a standalone builder façade over a copy of the
// data. The module parent must be supplied up front.
func (d *ContentRootData) CreateDetachedEntity(parents ...core.ModifiableEntity) (*ContentRootBuilder, error) {
	if err := requireParents(ContentRootType, d.RequiredParents(), parents); err != nil {
		return nil, err
	}
	cp := d.Clone()
	_ = cp.SetID(domain.EntityID{})
	c := &ContentRootBuilder{}
	c.base = core.NewDetached(c, cp)
	for _, p := range parents {
		if p.Base().Type() == ModuleType {
			if err := c.base.LinkParent(ModuleContentRoots, p); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

type contentRoot struct {
	data *ContentRootData
	snap *core.Snapshot
}

func (c *contentRoot) EntityID() domain.EntityID         { return c.data.ID() }
func (c *contentRoot) EntityType() domain.EntityType     { return ContentRootType }
func (c *contentRoot) EntitySource() domain.EntitySource { return c.data.Source() }
func (c *contentRoot) URL() string                       { return c.data.url.Value() }
func (c *contentRoot) ExcludedPatterns() []string        { return c.data.excludedPatterns.Items() }

func (c *contentRoot) Module() (Module, bool) {
	id, ok := c.snap.Parent(c.data.ID(), ModuleContentRoots)
	if !ok {
		return nil, false
	}
	return ModuleOf(c.snap, id)
}

// ContentRootBuilder is the modifiable façade of a ContentRoot.
type ContentRootBuilder struct {
	base *core.Modifiable
}

// NewContentRoot returns a detached content root linked to module.
func NewContentRoot(source domain.EntitySource, url string, module *ModuleBuilder) (*ContentRootBuilder, error) {
	d := NewContentRootData(source)
	if err := d.SetURL(url); err != nil {
		return nil, err
	}
	if module == nil {
		return d.CreateDetachedEntity()
	}
	return d.CreateDetachedEntity(module)
}

// Base returns the shared modifiable state.
func (c *ContentRootBuilder) Base() *core.Modifiable { return c.base }

// ConnectionIDs lists the connections a content root takes part in.
func (c *ContentRootBuilder) ConnectionIDs() []domain.ConnectionID {
	return contentRootMetadata.Connections
}

// AfterModification detaches the change sinks of the list fields.
func (c *ContentRootBuilder) AfterModification() { c.base.CleanCollections() }

// ID returns the entity id, zero while detached.
func (c *ContentRootBuilder) ID() domain.EntityID { return c.base.ID() }

// ApplyToBuilder attaches the content root to b.
func (c *ContentRootBuilder) ApplyToBuilder(b *core.Builder) error { return c.base.ApplyToBuilder(b) }

// EntitySource returns the provenance tag.
func (c *ContentRootBuilder) EntitySource() (domain.EntitySource, error) {
	d, err := dataOf[*ContentRootData](c.base, false)
	if err != nil {
		return domain.EntitySource{}, err
	}
	return d.Source(), nil
}

// SetEntitySource assigns the provenance tag.
func (c *ContentRootBuilder) SetEntitySource(v domain.EntitySource) error {
	return write(c.base, "entitySource", func(d *ContentRootData) error { return d.SetSource(v) })
}

// URL returns the root url.
func (c *ContentRootBuilder) URL() (string, error) {
	d, err := dataOf[*ContentRootData](c.base, false)
	if err != nil {
		return "", err
	}
	return d.URL()
}

// SetURL assigns the root url.
func (c *ContentRootBuilder) SetURL(v string) error {
	return write(c.base, "url", func(d *ContentRootData) error { return d.SetURL(v) })
}

// ExcludedPatterns returns the live exclusion list.
func (c *ContentRootBuilder) ExcludedPatterns() (*containers.TrackedList[string], error) {
	return trackedList(c.base, "excludedPatterns", func(d *ContentRootData) *containers.TrackedList[string] {
		return d.excludedPatterns
	})
}

// SetExcludedPatterns replaces the exclusion list.
func (c *ContentRootBuilder) SetExcludedPatterns(v []string) error {
	return write(c.base, "excludedPatterns", func(d *ContentRootData) error { return d.SetExcludedPatterns(v) })
}

// Module returns the parent module id.
func (c *ContentRootBuilder) Module() (domain.EntityID, bool) {
	return c.base.ParentID(ModuleContentRoots)
}

// SetModule moves the content root under module.
func (c *ContentRootBuilder) SetModule(module *ModuleBuilder) error {
	return c.base.LinkParent(ModuleContentRoots, module)
}

// Relabel assigns the differing fields of external and re-resolves parents.
func (c *ContentRootBuilder) Relabel(external domain.EntityData, parents []domain.EntityID) error {
	ext, ok := asData[*ContentRootData](external)
	if !ok {
		return errRelabelType(ContentRootType, external)
	}
	cur, err := dataOf[*ContentRootData](c.base, false)
	if err != nil {
		return err
	}
	if err := core.RelabelSource(cur.Source(), ext.Source(), c.SetEntitySource); err != nil {
		return err
	}
	if err := core.RelabelField(cur.url, ext.url, c.SetURL); err != nil {
		return err
	}
	if err := core.RelabelList(cur.excludedPatterns, ext.excludedPatterns, c.SetExcludedPatterns); err != nil {
		return err
	}
	return c.base.UpdateChildToParentReferences(parents)
}

// ContentRootOf returns the read-only content root id from s.
func ContentRootOf(s *core.Snapshot, id domain.EntityID) (ContentRoot, bool) {
	return lookup[ContentRoot](s, id)
}

// ModifyContentRoot runs fn against the builder façade of id.
func ModifyContentRoot(b *core.Builder, id domain.EntityID, fn func(*ContentRootBuilder) error) error {
	return modify(b, id, fn)
}

func contentRootDescriptor() core.TypeDescriptor {
	return core.TypeDescriptor{
		Metadata: contentRootMetadata,
		New: func() domain.EntityData {
			return &ContentRootData{excludedPatterns: containers.NewTrackedList[string]()}
		},
		Wrap: func(b *core.Builder, id domain.EntityID) core.ModifiableEntity {
			c := &ContentRootBuilder{}
			c.base = core.NewAttached(c, b, id)
			return c
		},
		Materialize: func(s *core.Snapshot, data domain.EntityData) domain.Entity {
			return materialize(s, data, func(d *ContentRootData) domain.Entity { return &contentRoot{data: d, snap: s} })
		},
	}
}

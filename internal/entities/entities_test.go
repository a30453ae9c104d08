package entities_test

import (
	"encoding/json"
	"testing"
	"workspacestore/internal/core"
	"workspacestore/internal/entities"
	"workspacestore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	local  = domain.NewEntitySource("local", "/ws")
	remote = domain.NewEntitySource("remote", "https://example.org")
)

func newBuilder(t *testing.T) *core.Builder {
	t.Helper()
	reg, err := entities.NewRegistry()
	require.NoError(t, err)
	return core.NewSnapshot(reg).Derive()
}

func TestRegistryHoldsEveryType(t *testing.T) {
	reg, err := entities.NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityType{
		entities.ContentRootType,
		entities.FacetType,
		entities.ModuleType,
		entities.OutputType,
		entities.WidgetType,
		entities.WithSealedType,
	}, reg.Types())
	assert.Len(t, reg.ChildConnections(entities.ModuleType), 3)
	assert.Equal(t, []domain.ConnectionID{entities.ModuleFacets}, reg.ParentConnections(entities.FacetType))
}

func TestDetachedWidgetReportsUnsetName(t *testing.T) {
	w := entities.NewWidget(local)
	_, err := w.Name()
	assert.ErrorIs(t, err, domain.ErrUninitializedField)
	require.NoError(t, w.SetName("a"))
	name, err := w.Name()
	require.NoError(t, err)
	assert.Equal(t, "a", name)
	assert.True(t, w.ID().IsZero())
	assert.Empty(t, w.Base().ChangedFields())
}

func TestCloneIsIndependent(t *testing.T) {
	d := entities.NewWidgetData(local)
	require.NoError(t, d.SetName("a"))
	require.NoError(t, d.Tags().Append("x"))

	cp := d.Clone().(*entities.WidgetData)
	require.NoError(t, cp.Tags().Append("y"))
	assert.Equal(t, []string{"x"}, d.Tags().Items())
	assert.Equal(t, []string{"x", "y"}, cp.Tags().Items())
	assert.False(t, domain.Equal(d, cp))
}

func TestProvenanceComparisons(t *testing.T) {
	a := entities.NewModuleData(local)
	require.NoError(t, a.SetName("app"))
	b := entities.NewModuleData(remote)
	require.NoError(t, b.SetName("app"))

	assert.False(t, a.Equal(b))
	assert.True(t, a.EqualIgnoringSource(b))
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.Equal(t, a.HashIgnoringSource(), b.HashIgnoringSource())

	w := entities.NewWidgetData(local)
	require.NoError(t, w.SetName("app"))
	assert.False(t, domain.EqualIgnoringSource(a, w))
	assert.NotEqual(t, a.HashIgnoringSource(), w.HashIgnoringSource())

	c := entities.NewModuleData(domain.NewEntitySource("mirror", "/m"))
	require.NoError(t, c.SetName("app"))
	for _, x := range []domain.EntityData{a, b, c} {
		assert.True(t, domain.EqualIgnoringSource(x, x))
		assert.True(t, domain.Equal(x, x))
	}
	assert.Equal(t, domain.EqualIgnoringSource(a, b), domain.EqualIgnoringSource(b, a))
	assert.Equal(t, domain.Equal(a, b), domain.Equal(b, a))
	require.True(t, domain.EqualIgnoringSource(a, b))
	require.True(t, domain.EqualIgnoringSource(b, c))
	assert.True(t, domain.EqualIgnoringSource(a, c))

	require.NoError(t, c.SetName("other"))
	assert.False(t, domain.EqualIgnoringSource(a, c))
	assert.False(t, domain.EqualIgnoringSource(c, a))
}

func TestProvenanceComparisonsOnAttachedEntities(t *testing.T) {
	b := newBuilder(t)
	var ids []domain.EntityID
	for _, src := range []domain.EntitySource{local, remote, local} {
		w := entities.NewWidget(src)
		require.NoError(t, w.SetName("toolbar"))
		require.NoError(t, w.SetTags([]string{"ui"}))
		require.NoError(t, w.ApplyToBuilder(b))
		ids = append(ids, w.ID())
	}
	snap, err := b.Commit()
	require.NoError(t, err)

	data := make([]domain.EntityData, len(ids))
	for i, id := range ids {
		data[i], _ = snap.EntityData(id)
	}
	assert.NotEqual(t, data[0].ID(), data[2].ID())
	assert.True(t, domain.Equal(data[0], data[2]), "identity is not a field")
	assert.False(t, domain.Equal(data[0], data[1]))
	for i := range data {
		for j := range data {
			assert.True(t, domain.EqualIgnoringSource(data[i], data[j]), "%d ~ %d", i, j)
			assert.Equal(t, data[i].HashIgnoringSource(), data[j].HashIgnoringSource())
		}
	}
}

func TestSetTagsKeepsEarlierListHandles(t *testing.T) {
	b := newBuilder(t)
	w := entities.NewWidget(local)
	require.NoError(t, w.SetName("a"))
	require.NoError(t, w.ApplyToBuilder(b))
	snap, err := b.Commit()
	require.NoError(t, err)

	b2 := snap.Derive()
	require.NoError(t, entities.ModifyWidget(b2, w.ID(), func(wb *entities.WidgetBuilder) error {
		tags, err := wb.Tags()
		if err != nil {
			return err
		}
		if err := wb.SetTags([]string{"y"}); err != nil {
			return err
		}
		assert.Equal(t, []string{"y"}, tags.Items())
		return tags.Append("x")
	}))
	next, err := b2.Commit()
	require.NoError(t, err)
	got, ok := entities.WidgetOf(next, w.ID())
	require.True(t, ok)
	assert.Equal(t, []string{"y", "x"}, got.Tags())
	old, _ := entities.WidgetOf(snap, w.ID())
	assert.Empty(t, old.Tags())
}

func TestMissingSourceIsUninitialized(t *testing.T) {
	d := &entities.WidgetData{}
	err := d.CheckInitialized()
	var fieldErr domain.UninitializedFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "entitySource", fieldErr.Field)
}

func TestFacetKindJSONRoundTrip(t *testing.T) {
	d := entities.NewFacetData(local)
	require.NoError(t, d.SetName("java"))
	require.NoError(t, d.SetKind(entities.JavaFacet{LanguageLevel: 21}))
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"java","kind":{"kind":"java","value":{"languageLevel":21}}}`, string(raw))

	out := &entities.FacetData{}
	require.NoError(t, json.Unmarshal(raw, out))
	kind, err := out.Kind()
	require.NoError(t, err)
	assert.Equal(t, entities.JavaFacet{LanguageLevel: 21}, kind)
	assert.True(t, d.EqualIgnoringSource(out))
}

func TestFacetKindRejectsUnknownTag(t *testing.T) {
	_, err := entities.UnmarshalFacetKind([]byte(`{"kind":"kotlin","value":{}}`))
	assert.ErrorContains(t, err, `unknown tag "kotlin"`)

	out := &entities.FacetData{}
	assert.Error(t, json.Unmarshal([]byte(`{"name":"x","kind":{"kind":"gradle","value":{}}}`), out))
}

func TestWithSealedDistinguishesEmptyFromUnset(t *testing.T) {
	empty := entities.NewWithSealedData(local)
	require.NoError(t, empty.SetClasses([]entities.SealedClass{}))
	require.NoError(t, empty.SetInterfaces(nil))
	require.NoError(t, empty.CheckInitialized())

	raw, err := json.Marshal(empty)
	require.NoError(t, err)
	decoded := &entities.WithSealedData{}
	require.NoError(t, json.Unmarshal(raw, decoded))
	require.NoError(t, decoded.SetSource(local))
	require.NoError(t, decoded.CheckInitialized())
	assert.True(t, empty.Equal(decoded))

	unset := entities.NewWithSealedData(local)
	require.NoError(t, unset.SetClasses([]entities.SealedClass{entities.TextClass{Text: "t"}}))
	assert.ErrorIs(t, unset.CheckInitialized(), domain.ErrUninitializedField)
}

func TestWithSealedVariantsRoundTrip(t *testing.T) {
	d := entities.NewWithSealedData(local)
	require.NoError(t, d.SetClasses([]entities.SealedClass{entities.TextClass{Text: "t"}, entities.NumberClass{Number: 7}}))
	require.NoError(t, d.SetInterfaces([]entities.SealedInterface{entities.NamedImpl{Name: "n"}, entities.FlagImpl{Enabled: true}}))
	raw, err := json.Marshal(d)
	require.NoError(t, err)

	out := entities.NewWithSealedData(local)
	require.NoError(t, json.Unmarshal(raw, out))
	assert.Equal(t, d.Classes().Items(), out.Classes().Items())
	assert.Equal(t, d.Interfaces().Items(), out.Interfaces().Items())
	assert.Equal(t, d.Hash(), out.Hash())

	assert.Error(t, json.Unmarshal([]byte(`{"hasClasses":true,"classes":[{"kind":"blob","value":{}}]}`), out))
}

func TestWithSealedAttachesThroughBuilder(t *testing.T) {
	b := newBuilder(t)
	w := entities.NewWithSealedData(local).CreateDetachedEntity()
	require.ErrorIs(t, w.ApplyToBuilder(b), domain.ErrUninitializedField)

	w = entities.NewWithSealed(local, []entities.SealedClass{}, []entities.SealedInterface{entities.FlagImpl{}})
	require.NoError(t, w.ApplyToBuilder(b))
	snap, err := b.Commit()
	require.NoError(t, err)
	ws, ok := entities.WithSealedOf(snap, w.ID())
	require.True(t, ok)
	assert.Empty(t, ws.Classes())
	assert.Equal(t, []entities.SealedInterface{entities.FlagImpl{}}, ws.Interfaces())
}

func TestContentRootRequiresModule(t *testing.T) {
	_, err := entities.NewContentRoot(local, "file:///x", nil)
	assert.ErrorIs(t, err, domain.ErrMissingRequiredParent)
	_, err = entities.NewOutput(local, "out", nil)
	assert.ErrorIs(t, err, domain.ErrMissingRequiredParent)

	m := entities.NewModule(local)
	root, err := entities.NewContentRoot(local, "file:///x", m)
	require.NoError(t, err)
	_, linked := root.Module()
	assert.False(t, linked, "parent not attached yet")
}

func TestDetachedChildFollowsParent(t *testing.T) {
	b := newBuilder(t)
	m := entities.NewModule(local)
	require.NoError(t, m.SetName("app"))
	root, err := entities.NewContentRoot(local, "file:///x", m)
	require.NoError(t, err)

	require.NoError(t, root.ApplyToBuilder(b), "applying a child attaches its parent first")
	assert.False(t, m.ID().IsZero())
	parent, ok := root.Module()
	require.True(t, ok)
	assert.Equal(t, m.ID(), parent)
	assert.Equal(t, []domain.EntityID{root.ID()}, m.ContentRoots())
	assert.Less(t, m.ID().Seq, root.ID().Seq)
}

func TestRelabelMarksOnlyDifferingFields(t *testing.T) {
	b := newBuilder(t)
	w := entities.NewWidget(local)
	require.NoError(t, w.SetName("a"))
	require.NoError(t, w.SetTags([]string{"t"}))
	require.NoError(t, w.ApplyToBuilder(b))
	snap, err := b.Commit()
	require.NoError(t, err)

	same := entities.NewWidgetData(local)
	require.NoError(t, same.SetName("a"))
	require.NoError(t, same.SetTags([]string{"t"}))
	b2 := snap.Derive()
	require.NoError(t, b2.Relabel(w.ID(), same, nil))
	assert.Empty(t, b2.ChangedFields(w.ID()))
	assert.Equal(t, core.StateUnchanged, b2.State(w.ID()))

	renamed := entities.NewWidgetData(local)
	require.NoError(t, renamed.SetName("b"))
	require.NoError(t, renamed.SetTags([]string{"t"}))
	require.NoError(t, b2.Relabel(w.ID(), renamed, nil))
	assert.Equal(t, []string{"name"}, b2.ChangedFields(w.ID()))

	moved := entities.NewWidgetData(remote)
	require.NoError(t, moved.SetName("b"))
	require.NoError(t, moved.SetTags([]string{"t"}))
	require.NoError(t, b2.Relabel(w.ID(), moved, nil))
	assert.Equal(t, []string{"name", "entitySource"}, b2.ChangedFields(w.ID()))

	assert.Error(t, b2.Relabel(w.ID(), entities.NewModuleData(local), nil))
}

func TestRelabelResolvesParents(t *testing.T) {
	b := newBuilder(t)
	m := entities.NewModule(local)
	require.NoError(t, m.SetName("app"))
	require.NoError(t, m.ApplyToBuilder(b))
	f, err := entities.NewFacet(local, "web", entities.WebFacet{WebRoot: "/"}, m)
	require.NoError(t, err)
	require.NoError(t, f.ApplyToBuilder(b))
	snap, err := b.Commit()
	require.NoError(t, err)

	ext := entities.NewFacetData(local)
	require.NoError(t, ext.SetName("web"))
	require.NoError(t, ext.SetKind(entities.WebFacet{WebRoot: "/"}))

	b2 := snap.Derive()
	require.NoError(t, b2.Relabel(f.ID(), ext, []domain.EntityID{m.ID()}))
	assert.Empty(t, b2.ChangedFields(f.ID()), "same parent is not a change")

	ghost := domain.NewEntityID(entities.ModuleType, 999)
	err = b2.Relabel(f.ID(), ext, []domain.EntityID{ghost})
	assert.ErrorIs(t, err, domain.ErrDanglingReference)
	var dangling domain.DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, ghost, dangling.To)
	assert.Equal(t, entities.ModuleFacets, dangling.Connection)
	parent, linked := b2.Parent(f.ID(), entities.ModuleFacets)
	assert.True(t, linked, "a rejected relabel keeps the link")
	assert.Equal(t, m.ID(), parent)
	assert.Empty(t, b2.ChangedFields(f.ID()))

	require.NoError(t, b2.Relabel(f.ID(), ext, []domain.EntityID{}))
	assert.Equal(t, []string{"parent:Module"}, b2.ChangedFields(f.ID()))
	_, linked = b2.Parent(f.ID(), entities.ModuleFacets)
	assert.False(t, linked)
	assert.Empty(t, b2.Children(m.ID(), entities.ModuleFacets))
}

func TestFacetDetachModule(t *testing.T) {
	b := newBuilder(t)
	m := entities.NewModule(local)
	require.NoError(t, m.SetName("app"))
	f, err := entities.NewFacet(local, "web", entities.WebFacet{WebRoot: "/"}, m)
	require.NoError(t, err)
	require.NoError(t, m.ApplyToBuilder(b))
	assert.Equal(t, []domain.EntityID{f.ID()}, m.Facets())

	require.NoError(t, f.DetachModule())
	assert.Empty(t, m.Facets())
	assert.Contains(t, f.Base().ChangedFields(), "parent:Module")
}

func TestModuleReadFacadeNavigatesChildren(t *testing.T) {
	b := newBuilder(t)
	m := entities.NewModule(local)
	require.NoError(t, m.SetName("app"))
	require.NoError(t, m.SetDependencies([]string{"lib"}))
	_, err := entities.NewContentRoot(local, "file:///a", m)
	require.NoError(t, err)
	_, err = entities.NewFacet(local, "java", entities.JavaFacet{LanguageLevel: 17}, m)
	require.NoError(t, err)
	_, err = entities.NewOutput(local, "out/app", m)
	require.NoError(t, err)
	require.NoError(t, m.ApplyToBuilder(b))
	snap, err := b.Commit()
	require.NoError(t, err)

	mod, ok := entities.ModuleOf(snap, m.ID())
	require.True(t, ok)
	assert.Equal(t, "app", mod.Name())
	assert.Equal(t, []string{"lib"}, mod.Dependencies())
	require.Len(t, mod.ContentRoots(), 1)
	require.Len(t, mod.Facets(), 1)
	assert.Equal(t, entities.JavaFacet{LanguageLevel: 17}, mod.Facets()[0].Kind())
	out, ok := mod.Output()
	require.True(t, ok)
	back, ok := out.Module()
	require.True(t, ok)
	assert.Same(t, mod, back)
}

package core_test

import (
	"encoding/json"
	"errors"
	"testing"
	"workspacestore/internal/containers"
	"workspacestore/internal/core"
	"workspacestore/internal/entities"
	"workspacestore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

var (
	local  = domain.NewEntitySource("local", "/ws")
	remote = domain.NewEntitySource("remote", "https://example.org")
)

func newRegistry(t *testing.T) *core.Registry {
	t.Helper()
	reg, err := entities.NewRegistry()
	require.NoError(t, err)
	return reg
}

func addWidget(t *testing.T, b *core.Builder, name string, tags ...string) domain.EntityID {
	t.Helper()
	w := entities.NewWidget(local)
	require.NoError(t, w.SetName(name))
	require.NoError(t, w.SetTags(tags))
	require.NoError(t, w.ApplyToBuilder(b))
	return w.ID()
}

func commit(t *testing.T, b *core.Builder) *core.Snapshot {
	t.Helper()
	snap, err := b.Commit()
	require.NoError(t, err)
	return snap
}

func TestWidgetScenarioAppendTagThenCommit(t *testing.T) {
	s0 := core.NewSnapshot(newRegistry(t))
	b := s0.Derive()
	d := entities.NewWidgetData(local)
	require.NoError(t, d.SetName("a"))
	id, err := b.AddEntity(d, nil)
	require.NoError(t, err)
	s1 := commit(t, b)

	b2 := s1.Derive()
	require.NoError(t, entities.ModifyWidget(b2, id, func(w *entities.WidgetBuilder) error {
		tags, err := w.Tags()
		if err != nil {
			return err
		}
		return tags.Append("x")
	}))
	assert.Equal(t, []string{"tags"}, b2.ChangedFields(id))
	s2 := commit(t, b2)

	w2, ok := entities.WidgetOf(s2, id)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, w2.Tags())
	w1, ok := entities.WidgetOf(s1, id)
	require.True(t, ok)
	assert.Empty(t, w1.Tags())
	assert.False(t, s0.Contains(id))
	assert.Equal(t, uint64(2), s2.Version())
	assert.Equal(t, s0.Lineage(), s2.Lineage())
}

func TestAddWithoutRequiredFieldAllocatesNoID(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	d := entities.NewWidgetData(local)
	require.NoError(t, d.Tags().Append("x"))

	_, err := b.AddEntity(d, nil)
	require.ErrorIs(t, err, domain.ErrUninitializedField)
	var fieldErr domain.UninitializedFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "name", fieldErr.Field)
	assert.Equal(t, "field Widget#name should be initialized", err.Error())
	assert.True(t, d.ID().IsZero())

	require.NoError(t, d.SetName("late"))
	id, err := b.AddEntity(d, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id.Seq)
}

func TestAddRejectsAttachedData(t *testing.T) {
	reg := newRegistry(t)
	b := core.NewSnapshot(reg).Derive()
	d := entities.NewWidgetData(local)
	require.NoError(t, d.SetName("a"))
	_, err := b.AddEntity(d, nil)
	require.NoError(t, err)

	other := core.NewSnapshot(reg).Derive()
	_, err = other.AddEntity(d, nil)
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)
	_, err = b.AddEntity(d, nil)
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)
}

func TestApplyToBuilderOwnership(t *testing.T) {
	reg := newRegistry(t)
	b := core.NewSnapshot(reg).Derive()
	w := entities.NewWidget(local)
	require.NoError(t, w.SetName("a"))
	assert.Equal(t, core.OwnerDetached, w.Base().Ownership())

	require.NoError(t, w.ApplyToBuilder(b))
	require.NoError(t, w.ApplyToBuilder(b), "re-applying to the owner is a no-op")
	assert.Equal(t, core.OwnerBuilder, w.Base().Ownership())
	assert.Equal(t, 1, len(b.Entities(entities.WidgetType)))

	err := w.ApplyToBuilder(core.NewSnapshot(reg).Derive())
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)

	facade, err := b.Facade(w.ID())
	require.NoError(t, err)
	assert.Same(t, w, facade)

	commit(t, b)
	assert.Equal(t, core.OwnerFinalized, w.Base().Ownership())
	assert.ErrorIs(t, w.SetName("b"), domain.ErrModificationNotAllowed)
	tags, err := w.Tags()
	require.NoError(t, err)
	assert.ErrorIs(t, tags.Append("x"), containers.ErrReadOnlyCollection)
}

func TestBuilderIsolatedFromBase(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	touched := addWidget(t, b, "touched", "t")
	untouched := addWidget(t, b, "untouched", "u")
	base := commit(t, b)

	b2 := base.Derive()
	require.NoError(t, entities.ModifyWidget(b2, touched, func(w *entities.WidgetBuilder) error {
		return w.SetName("renamed")
	}))

	before, _ := base.EntityData(untouched)
	after, _ := b2.EntityData(untouched)
	assert.Same(t, before, after)

	baseWidget, _ := entities.WidgetOf(base, touched)
	assert.Equal(t, "touched", baseWidget.Name())
	current, _ := b2.EntityData(touched)
	name, err := current.(*entities.WidgetData).Name()
	require.NoError(t, err)
	assert.Equal(t, "renamed", name)
	assert.Equal(t, core.StateModified, b2.State(touched))
	assert.Equal(t, core.StateUnchanged, b2.State(untouched))

	next := commit(t, b2)
	nextWidget, _ := entities.WidgetOf(next, touched)
	assert.Equal(t, "renamed", nextWidget.Name())
	assert.Equal(t, "touched", baseWidget.Name())
	kept, _ := next.EntityData(untouched)
	assert.Same(t, before, kept)
}

func TestSnapshotDataRejectsWrites(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	id := addWidget(t, b, "original", "t")
	s1 := commit(t, b)

	b2 := s1.Derive()
	read, ok := b2.EntityData(id)
	require.True(t, ok)
	wd := read.(*entities.WidgetData)
	assert.True(t, wd.Frozen())
	assert.ErrorIs(t, wd.SetName("mutated-through-builder"), domain.ErrReadOnlyData)
	assert.ErrorIs(t, wd.SetSource(remote), domain.ErrReadOnlyData)
	assert.ErrorIs(t, wd.SetID(domain.NewEntityID(entities.WidgetType, 99)), domain.ErrReadOnlyData)
	assert.ErrorIs(t, wd.SetTags([]string{"x"}), domain.ErrReadOnlyData)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"name":"x","tags":[]}`), wd), domain.ErrReadOnlyData)

	snapData, _ := s1.EntityData(id)
	assert.Same(t, read, snapData)
	w, _ := entities.WidgetOf(s1, id)
	assert.Equal(t, "original", w.Name())
	assert.Equal(t, []string{"t"}, w.Tags())
	assert.Equal(t, id, snapData.ID())
	assert.Equal(t, local, snapData.Source())

	require.NoError(t, entities.ModifyWidget(b2, id, func(w *entities.WidgetBuilder) error {
		return w.SetName("renamed")
	}))
	current, _ := b2.EntityData(id)
	assert.False(t, current.Frozen())
	next := commit(t, b2)
	committed, _ := next.EntityData(id)
	assert.True(t, committed.Frozen())
	assert.Equal(t, "original", w.Name())
}

func TestCommittedBuilderRejectsEdits(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	id := addWidget(t, b, "a")
	commit(t, b)

	_, err := b.Commit()
	assert.ErrorIs(t, err, domain.ErrBuilderCommitted)
	_, err = b.AddEntity(entities.NewWidgetData(local), nil)
	assert.ErrorIs(t, err, domain.ErrBuilderCommitted)
	_, err = b.RemoveEntity(id)
	assert.ErrorIs(t, err, domain.ErrBuilderCommitted)
	assert.True(t, b.Committed())
}

func TestRemoveCascadesNonNullableAndClearsNullable(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	m := entities.NewModule(local)
	require.NoError(t, m.SetName("app"))
	root, err := entities.NewContentRoot(local, "file:///app", m)
	require.NoError(t, err)
	facet, err := entities.NewFacet(local, "java", entities.JavaFacet{LanguageLevel: 21}, m)
	require.NoError(t, err)
	out, err := entities.NewOutput(local, "out/app", m)
	require.NoError(t, err)
	require.NoError(t, m.ApplyToBuilder(b))
	require.False(t, root.ID().IsZero(), "children linked while detached follow their parent")
	require.False(t, facet.ID().IsZero())
	require.False(t, out.ID().IsZero())
	snap := commit(t, b)

	b2 := snap.Derive()
	removed, err := b2.RemoveEntity(m.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.EntityID{m.ID(), root.ID(), out.ID()}, removed)
	assert.Equal(t, m.ID(), removed[0])
	assert.True(t, b2.Contains(facet.ID()))
	_, linked := b2.Parent(facet.ID(), entities.ModuleFacets)
	assert.False(t, linked)
	assert.Equal(t, core.StateRemoved, b2.State(root.ID()))

	next := commit(t, b2)
	assert.Equal(t, 1, next.Len())
	f, ok := entities.FacetOf(next, facet.ID())
	require.True(t, ok)
	_, hasModule := f.Module()
	assert.False(t, hasModule)
	assert.Equal(t, 4, snap.Len(), "base snapshot keeps every entity")
}

func TestRemovedIDIsNeverReused(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	first := addWidget(t, b, "a")
	_, err := b.RemoveEntity(first)
	require.NoError(t, err)
	second := addWidget(t, b, "a")
	assert.NotEqual(t, first, second)
	assert.Greater(t, second.Seq, first.Seq)
	_, err = b.RemoveEntity(first)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	snap := commit(t, b)
	assert.Equal(t, second.Seq+1, snap.NextSeq())
}

func TestAddRequiresNonNullableParent(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	d := entities.NewContentRootData(local)
	require.NoError(t, d.SetURL("file:///x"))
	_, err := b.AddEntity(d, nil)
	assert.ErrorIs(t, err, domain.ErrMissingRequiredParent)

	_, err = d.CreateDetachedEntity()
	assert.ErrorIs(t, err, domain.ErrMissingRequiredParent)

	ghost := domain.NewEntityID(entities.ModuleType, 99)
	_, err = b.AddEntity(d, map[domain.ConnectionID]domain.EntityID{entities.ModuleContentRoots: ghost})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredParent)
}

func TestOneToOneReplacementRemovesPreviousChild(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	m := entities.NewModule(local)
	require.NoError(t, m.SetName("app"))
	require.NoError(t, m.ApplyToBuilder(b))
	first, err := entities.NewOutput(local, "out/1", m)
	require.NoError(t, err)
	require.NoError(t, first.ApplyToBuilder(b))
	second, err := entities.NewOutput(local, "out/2", m)
	require.NoError(t, err)
	require.NoError(t, second.ApplyToBuilder(b))

	assert.False(t, b.Contains(first.ID()))
	assert.Equal(t, []domain.EntityID{second.ID()}, b.Children(m.ID(), entities.ModuleOutput))
	assert.ErrorIs(t, first.SetPath("x"), domain.ErrNotFound)

	snap := commit(t, b)
	mod, _ := entities.ModuleOf(snap, m.ID())
	o, ok := mod.Output()
	require.True(t, ok)
	assert.Equal(t, "out/2", o.Path())
}

func TestSetParentMovesChild(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	a := entities.NewModule(local)
	require.NoError(t, a.SetName("a"))
	z := entities.NewModule(local)
	require.NoError(t, z.SetName("z"))
	root, err := entities.NewContentRoot(local, "file:///r", a)
	require.NoError(t, err)
	require.NoError(t, a.ApplyToBuilder(b))
	require.NoError(t, z.ApplyToBuilder(b))

	require.NoError(t, root.SetModule(z))
	assert.Empty(t, b.Children(a.ID(), entities.ModuleContentRoots))
	assert.Equal(t, []domain.EntityID{root.ID()}, b.Children(z.ID(), entities.ModuleContentRoots))
	parent, ok := root.Module()
	require.True(t, ok)
	assert.Equal(t, z.ID(), parent)

	assert.ErrorIs(t, b.ClearParent(root.ID(), entities.ModuleContentRoots), domain.ErrMissingRequiredParent)
	assert.Equal(t, []domain.ConnectionID{entities.ModuleContentRoots}, b.Connections(root.ID()))
}

func TestChangesFollowTouchOrder(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	keep := addWidget(t, b, "keep")
	drop := addWidget(t, b, "drop")
	snap := commit(t, b)

	b2 := snap.Derive()
	require.NoError(t, entities.ModifyWidget(b2, keep, func(w *entities.WidgetBuilder) error {
		if err := w.SetName("kept"); err != nil {
			return err
		}
		return w.SetTags([]string{"t"})
	}))
	_, err := b2.RemoveEntity(drop)
	require.NoError(t, err)
	added := addWidget(t, b2, "new")
	scratch := addWidget(t, b2, "scratch")
	_, err = b2.RemoveEntity(scratch)
	require.NoError(t, err)

	assert.Equal(t, []domain.Change{
		{Entity: entities.WidgetType, Action: domain.ActionUpdate, ID: keep, Fields: []string{"name", "tags"}},
		{Entity: entities.WidgetType, Action: domain.ActionDelete, ID: drop},
		{Entity: entities.WidgetType, Action: domain.ActionCreate, ID: added},
	}, b2.Changes())
}

func TestCommitAggregatesInitializationFailures(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	var ids []domain.EntityID
	for _, name := range []string{"java", "web"} {
		f, err := entities.NewFacet(local, name, entities.WebFacet{WebRoot: "/"}, nil)
		require.NoError(t, err)
		require.NoError(t, f.ApplyToBuilder(b))
		ids = append(ids, f.ID())
	}
	for _, id := range ids {
		require.NoError(t, entities.ModifyFacet(b, id, func(f *entities.FacetBuilder) error { return f.SetKind(nil) }))
		assert.ErrorIs(t, b.CheckInitialization(id), domain.ErrUninitializedField)
	}

	_, err := b.Commit()
	require.ErrorIs(t, err, domain.ErrUninitializedField)
	assert.Len(t, multierr.Errors(errors.Unwrap(err)), 2)
	assert.Contains(t, err.Error(), "Facet#kind")
	assert.False(t, b.Committed())
}

func TestTrackedListCallbackDetachedAfterModification(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	id := addWidget(t, b, "a")
	snap := commit(t, b)

	b2 := snap.Derive()
	var live *containers.TrackedList[string]
	require.NoError(t, entities.ModifyWidget(b2, id, func(w *entities.WidgetBuilder) error {
		tags, err := w.Tags()
		live = tags
		assert.True(t, tags.HasModificationUpdateAction())
		return err
	}))
	assert.False(t, live.HasModificationUpdateAction())
	assert.Empty(t, b2.ChangedFields(id), "reading a list is not a change")
}

func TestModifyUnknownEntity(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	err := b.ModifyEntity(domain.NewEntityID(entities.WidgetType, 7), func(core.ModifiableEntity) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, core.StateAbsent, b.State(domain.NewEntityID(entities.WidgetType, 7)))
}

func TestModifyPropagatesMutatorError(t *testing.T) {
	b := core.NewSnapshot(newRegistry(t)).Derive()
	id := addWidget(t, b, "a")
	boom := errors.New("boom")
	err := entities.ModifyWidget(b, id, func(*entities.WidgetBuilder) error { return boom })
	assert.ErrorIs(t, err, boom)
}

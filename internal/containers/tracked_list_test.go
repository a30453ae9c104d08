package containers

import (
	"encoding/json"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackedListNotifiesOnMutation(t *testing.T) {
	l := NewTrackedList("a")
	calls := 0
	l.SetModificationUpdateAction(func() { calls++ })

	require.NoError(t, l.Append("b", "c"))
	require.NoError(t, l.Insert(0, "z"))
	require.NoError(t, l.Set(1, "A"))
	require.NoError(t, l.RemoveAt(3))
	found, err := l.Remove("missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 4, calls, "a miss does not notify")
	assert.Equal(t, []string{"z", "A", "b"}, l.Items())

	l.CleanModificationUpdateAction()
	require.NoError(t, l.Clear())
	assert.Equal(t, 4, calls)
	assert.Equal(t, 0, l.Len())
}

func TestTrackedListRangeErrorsDoNotNotify(t *testing.T) {
	l := NewTrackedList(1, 2)
	l.SetModificationUpdateAction(func() { t.Fatal("unexpected notification") })
	assert.Error(t, l.Insert(5, 3))
	assert.Error(t, l.Set(-1, 3))
	assert.Error(t, l.RemoveAt(2))
}

func TestTrackedListFrozenRejectsMutation(t *testing.T) {
	l := NewTrackedList("a")
	l.SetModificationUpdateAction(func() {})
	l.Freeze()
	assert.True(t, l.IsFrozen())
	assert.False(t, l.HasModificationUpdateAction())
	assert.ErrorIs(t, l.Append("b"), ErrReadOnlyCollection)
	assert.ErrorIs(t, l.Replace(nil), ErrReadOnlyCollection)
	_, err := l.Remove("zzz")
	assert.ErrorIs(t, err, ErrReadOnlyCollection)
	assert.Equal(t, []string{"a"}, l.Items())

	cp := l.Clone()
	assert.False(t, cp.IsFrozen())
	require.NoError(t, cp.Append("b"))
	assert.Equal(t, 1, l.Len())
}

func TestTrackedListEqualityIgnoresSink(t *testing.T) {
	a := NewTrackedList(1, 2)
	b := FromSlice([]int{1, 2})
	b.SetModificationUpdateAction(func() {})
	assert.True(t, a.Equal(b))
	assert.True(t, a.EqualItems([]int{1, 2}))
	assert.False(t, a.Equal(nil))

	var nilList *TrackedList[int]
	assert.True(t, nilList.Equal(nil))
	assert.Equal(t, 0, nilList.Len())
	assert.Nil(t, nilList.Clone())
}

func TestTrackedListHashFollowsContents(t *testing.T) {
	sum := func(l *TrackedList[string]) uint64 {
		d := xxhash.New()
		l.HashInto(d)
		return d.Sum64()
	}
	assert.Equal(t, sum(NewTrackedList("a", "b")), sum(NewTrackedList("a", "b")))
	assert.NotEqual(t, sum(NewTrackedList("ab")), sum(NewTrackedList("a", "b")))
	assert.NotEqual(t, sum(NewTrackedList[string]()), sum(nil))
}

func TestTrackedListJSON(t *testing.T) {
	raw, err := json.Marshal(FromSlice[string](nil))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	var l TrackedList[string]
	calls := 0
	l.SetModificationUpdateAction(func() { calls++ })
	require.NoError(t, json.Unmarshal([]byte(`["x","y"]`), &l))
	assert.Equal(t, []string{"x", "y"}, l.Items())
	assert.Zero(t, calls)
}

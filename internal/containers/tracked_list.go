// Package containers provides collection types used by entity data holders.
package containers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

// ErrReadOnlyCollection is returned when a finalized collection is mutated.
var ErrReadOnlyCollection = errors.New("collection is read-only")

// TrackedList is an ordered sequence that reports every structural mutation
// to an optional change sink. Lists owned by finalized snapshot entities are
// frozen and reject mutation. Equality and hashing look at contents only.
type TrackedList[T comparable] struct {
	items    []T
	onChange func()
	frozen   bool
}

// NewTrackedList copies items into a new list.
func NewTrackedList[T comparable](items ...T) *TrackedList[T] {
	return &TrackedList[T]{items: slices.Clone(items)}
}

// FromSlice copies items into a new list; a nil slice yields an empty list.
func FromSlice[T comparable](items []T) *TrackedList[T] {
	out := &TrackedList[T]{items: make([]T, len(items))}
	copy(out.items, items)
	return out
}

// SetModificationUpdateAction attaches the change sink.
func (l *TrackedList[T]) SetModificationUpdateAction(fn func()) {
	l.onChange = fn
}

// CleanModificationUpdateAction detaches the change sink.
func (l *TrackedList[T]) CleanModificationUpdateAction() {
	l.onChange = nil
}

// HasModificationUpdateAction reports whether a change sink is attached.
func (l *TrackedList[T]) HasModificationUpdateAction() bool {
	return l != nil && l.onChange != nil
}

// Freeze detaches the change sink and rejects further mutation.
func (l *TrackedList[T]) Freeze() {
	l.onChange = nil
	l.frozen = true
}

// IsFrozen reports whether the list rejects mutation.
func (l *TrackedList[T]) IsFrozen() bool {
	return l.frozen
}

// Len returns the number of elements.
func (l *TrackedList[T]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns the element at i; it panics when i is out of range, as slices do.
func (l *TrackedList[T]) At(i int) T {
	return l.items[i]
}

// Items returns a copy of the contents.
func (l *TrackedList[T]) Items() []T {
	if l == nil {
		return nil
	}
	return slices.Clone(l.items)
}

// Contains reports whether v is present.
func (l *TrackedList[T]) Contains(v T) bool {
	return l != nil && slices.Contains(l.items, v)
}

// Append adds values to the end of the list.
func (l *TrackedList[T]) Append(values ...T) error {
	return l.mutate(func() error {
		l.items = append(l.items, values...)
		return nil
	})
}

// Insert places v at index i.
func (l *TrackedList[T]) Insert(i int, v T) error {
	return l.mutate(func() error {
		if i < 0 || i > len(l.items) {
			return fmt.Errorf("insert at %d: index out of range [0,%d]", i, len(l.items))
		}
		l.items = slices.Insert(l.items, i, v)
		return nil
	})
}

// Set replaces the element at index i.
func (l *TrackedList[T]) Set(i int, v T) error {
	return l.mutate(func() error {
		if i < 0 || i >= len(l.items) {
			return fmt.Errorf("set at %d: index out of range [0,%d)", i, len(l.items))
		}
		l.items[i] = v
		return nil
	})
}

// RemoveAt deletes the element at index i.
func (l *TrackedList[T]) RemoveAt(i int) error {
	return l.mutate(func() error {
		if i < 0 || i >= len(l.items) {
			return fmt.Errorf("remove at %d: index out of range [0,%d)", i, len(l.items))
		}
		l.items = slices.Delete(l.items, i, i+1)
		return nil
	})
}

// Remove deletes the first occurrence of v and reports whether it was found.
// A miss is not a mutation and does not notify the sink.
func (l *TrackedList[T]) Remove(v T) (bool, error) {
	idx := slices.Index(l.items, v)
	if idx < 0 {
		if l.frozen {
			return false, ErrReadOnlyCollection
		}
		return false, nil
	}
	return true, l.RemoveAt(idx)
}

// Clear removes every element.
func (l *TrackedList[T]) Clear() error {
	return l.mutate(func() error {
		l.items = l.items[:0]
		return nil
	})
}

// Replace swaps the whole contents.
func (l *TrackedList[T]) Replace(items []T) error {
	return l.mutate(func() error {
		l.items = slices.Clone(items)
		if l.items == nil {
			l.items = []T{}
		}
		return nil
	})
}

func (l *TrackedList[T]) mutate(apply func() error) error {
	if l.frozen {
		return ErrReadOnlyCollection
	}
	if err := apply(); err != nil {
		return err
	}
	if l.onChange != nil {
		l.onChange()
	}
	return nil
}

// Clone returns an independent, unfrozen copy with no change sink.
func (l *TrackedList[T]) Clone() *TrackedList[T] {
	if l == nil {
		return nil
	}
	return FromSlice(l.items)
}

// Equal compares contents. A nil list only equals another nil list.
func (l *TrackedList[T]) Equal(other *TrackedList[T]) bool {
	if l == nil || other == nil {
		return l == nil && other == nil
	}
	return slices.Equal(l.items, other.items)
}

// EqualItems compares contents against a plain slice.
func (l *TrackedList[T]) EqualItems(items []T) bool {
	if l == nil {
		return items == nil
	}
	return slices.Equal(l.items, items)
}

// HashInto writes the contents to w, one terminated element at a time.
func (l *TrackedList[T]) HashInto(w io.Writer) {
	if l == nil {
		_, _ = w.Write([]byte{0xff})
		return
	}
	_, _ = fmt.Fprintf(w, "%d:", len(l.items))
	for _, item := range l.items {
		_, _ = fmt.Fprintf(w, "%v", item)
		_, _ = w.Write([]byte{0})
	}
}

// MarshalJSON encodes the contents as a JSON array.
func (l *TrackedList[T]) MarshalJSON() ([]byte, error) {
	if l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// UnmarshalJSON replaces the contents without notifying the sink.
func (l *TrackedList[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		items = []T{}
	}
	l.items = items
	return nil
}

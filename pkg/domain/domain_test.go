package domain

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityIDStringAndParse(t *testing.T) {
	id := NewEntityID("Widget", 42)
	assert.Equal(t, "Widget#42", id.String())
	parsed, err := ParseEntityID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, "EntityID(detached)", EntityID{}.String())
	assert.True(t, EntityID{}.IsZero())

	for _, bad := range []string{"Widget", "#1", "Widget#x"} {
		_, err := ParseEntityID(bad)
		assert.Error(t, err, bad)
	}
}

func TestEntityIDKeyIsUnambiguous(t *testing.T) {
	a := NewEntityID("A", 256).Key()
	b := NewEntityID("A\x00", 1).Key()
	assert.False(t, bytes.Equal(a, b))
	assert.Equal(t, NewEntityID("A", 1).Key(), NewEntityID("A", 1).Key())
}

func TestFieldTracksInitialization(t *testing.T) {
	var f Field[string]
	assert.False(t, f.IsSet())
	_, err := f.Get("Widget", "name")
	var fieldErr UninitializedFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "name", fieldErr.Field)

	f.Set("")
	v, err := f.Get("Widget", "name")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	assert.Equal(t, NewField(""), f)
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	conn := ConnectionID{Parent: "Module", Child: "ContentRoot", Cardinality: OneToMany}
	cases := []struct {
		err      error
		sentinel error
	}{
		{IdentityConflictError{Type: "Widget", Reason: "already attached"}, ErrIdentityConflict},
		{UninitializedFieldError{Type: "Widget", Field: "name"}, ErrUninitializedField},
		{MissingRequiredParentError{Child: "ContentRoot", Parent: "Module", Connection: conn}, ErrMissingRequiredParent},
		{DanglingReferenceError{From: NewEntityID("ContentRoot", 2), To: NewEntityID("Module", 1), Connection: conn}, ErrDanglingReference},
		{NotFoundError{ID: NewEntityID("Widget", 3)}, ErrNotFound},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		assert.ErrorIs(t, wrapped, tc.sentinel, tc.err.Error())
		for _, other := range cases {
			if other.sentinel != tc.sentinel {
				assert.False(t, errors.Is(tc.err, other.sentinel))
			}
		}
	}
	assert.Equal(t, "field Widget#name should be initialized", UninitializedFieldError{Type: "Widget", Field: "name"}.Error())
}

func TestConnectionValidate(t *testing.T) {
	ok := ConnectionID{Parent: "A", Child: "B", Cardinality: OneToOne, ParentNullable: true}
	require.NoError(t, ok.Validate())
	assert.Equal(t, "A->B?[one_to_one]", ok.String())
	assert.Error(t, ConnectionID{Child: "B", Cardinality: OneToOne}.Validate())
	assert.Error(t, ConnectionID{Parent: "A", Child: "B", Cardinality: "many_to_many"}.Validate())
}

func TestHasherSeparatesValues(t *testing.T) {
	a := NewHasher().String("ab").String("c").Sum64()
	b := NewHasher().String("a").String("bc").Sum64()
	assert.NotEqual(t, a, b)
	assert.Equal(t, NewHasher().Value(1).Sum64(), NewHasher().Value(1).Sum64())
	src := NewEntitySource("local", "/ws")
	assert.NotEqual(t, NewHasher().Source(src).Sum64(), NewHasher().Source(NewEntitySource("local", "")).Sum64())
}

func TestResultHasBlocking(t *testing.T) {
	var r Result
	r.Merge(Result{Violations: []Violation{{Rule: "w", Severity: SeverityWarn}}})
	assert.False(t, r.HasBlocking())
	r.Merge(Result{Violations: []Violation{{Rule: "b", Severity: SeverityBlock, Message: "stop"}}})
	assert.True(t, r.HasBlocking())
	assert.Equal(t, "commit blocked by rule b: stop", RuleViolationError{Result: r}.Error())
}

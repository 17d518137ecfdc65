package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_CombineCopies(t *testing.T) {
	f := Append[int]("n")
	base := make([]int, 1, 8)
	base[0] = 1

	out, err := f.Combine(base, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)

	// A second combine onto the same base must not clobber the first result.
	out2, err := f.Combine(base, []int{9})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, []int{1, 9}, out2)
}

func TestAppend_TypeMismatch(t *testing.T) {
	f := Append[int]("n")
	_, err := f.Combine(nil, []string{"x"})
	require.Error(t, err)
	_, err = f.Combine("not a slice", []int{1})
	require.Error(t, err)
}

func TestState_ApplyIsAllOrNothing(t *testing.T) {
	fields := map[string]Field{
		"a": Replace("a"),
		"n": Append[int]("n"),
	}
	s := NewState(Update{"a": "seed"})

	err := s.apply(fields, Update{"a": "new", "n": "wrong type"})
	require.Error(t, err)
	v, _ := s.Get("a")
	assert.Equal(t, "seed", v)

	require.NoError(t, s.apply(fields, Update{"a": "new", "n": []int{1}}))
	require.NoError(t, s.apply(fields, Update{"n": []int{2}}))
	n, ok := Lookup[[]int](s, "n")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, n)
	a, _ := Lookup[string](s, "a")
	assert.Equal(t, "new", a)
}

func TestState_UnknownField(t *testing.T) {
	s := NewState(nil)
	err := s.apply(map[string]Field{}, Update{"ghost": 1})
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestLookup_WrongType(t *testing.T) {
	s := NewState(Update{"x": 1})
	_, ok := Lookup[string](s, "x")
	assert.False(t, ok)
	_, ok = Lookup[int](s, "missing")
	assert.False(t, ok)
}

func TestState_SnapshotIsACopy(t *testing.T) {
	s := NewState(Update{"x": 1})
	snap := s.Snapshot()
	snap["x"] = 2
	v, _ := s.Get("x")
	assert.Equal(t, 1, v)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "replace", PolicyReplace.String())
	assert.Equal(t, "append", PolicyAppend.String())
	assert.Equal(t, "policy(7)", Policy(7).String())
}

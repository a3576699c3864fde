package registry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/registry"
)

func TestSetGet_FlatPath(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("device", "cuda:0", false))

	v, err := r.Get("device", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "cuda:0", v)
}

func TestSet_NestedPathAutoCreatesSubRegistries(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("a:b:c", 42, false))

	v, err := r.Get("a:b:c", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSet_OverwriteFalseConflictsOnExistingKey(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("k", 1, false))

	err := r.Set("k", 2, false)
	assert.True(t, errors.Is(err, errs.ErrConflict))

	require.NoError(t, r.Set("k", 2, true))
	v, err := r.Get("k", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestGet_MissingPathWithoutDefaultIsNotFound(t *testing.T) {
	r := registry.New(nil)
	_, err := r.Get("missing", nil, false)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestGet_MissingPathWithDefaultReturnsDefault(t *testing.T) {
	r := registry.New(nil)
	v, err := r.Get("missing", "fallback", true)
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestRemove_DeletesAndForgetsOrder(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("k", 1, false))
	require.NoError(t, r.Remove("k"))

	assert.False(t, r.Contains("k"))
	assert.Empty(t, r.Keys())
}

func TestRemove_MissingPathIsNotFound(t *testing.T) {
	r := registry.New(nil)
	err := r.Remove("missing")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCopy_DuplicatesValueAtNewPath(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("src", "value", false))
	require.NoError(t, r.Copy("src", "dst"))

	v, err := r.Get("dst", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestGetAllOfType_FiltersLeavesOnlyAtOneLevel(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("str-a", "hello", false))
	require.NoError(t, r.Set("str-b", "world", false))
	require.NoError(t, r.Set("int-a", 7, false))
	require.NoError(t, r.Set("nested:str-c", "deep", false))

	strings := r.GetAllOfType(func(v any) bool {
		_, ok := v.(string)
		return ok
	})
	assert.ElementsMatch(t, []any{"hello", "world"}, strings)
}

func TestKeys_PreservesInsertionOrder(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("b", 1, false))
	require.NoError(t, r.Set("a", 2, false))
	require.NoError(t, r.Set("c", 3, false))

	assert.Equal(t, []string{"b", "a", "c"}, r.Keys())
}

func TestSetSub_InstallsPreBuiltChild(t *testing.T) {
	child := registry.New(nil)
	require.NoError(t, child.Set("inner", "value", false))

	r := registry.New(nil)
	require.NoError(t, r.SetSub("mounted", child))

	v, err := r.Get("mounted:inner", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestNavigate_SegmentThatIsALeafCannotBeDescendedInto(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Set("leaf", "value", false))

	err := r.Set("leaf:child", "value", false)
	assert.Error(t, err)
}

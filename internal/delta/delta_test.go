package delta

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDelta_ScalarReplaceRoundTrips(t *testing.T) {
	doc := map[string]any{"hp": float64(10), "name": "hero"}

	d, after, err := BuildDelta(doc, func(m map[string]any) (map[string]any, error) {
		m["hp"] = float64(7)
		return m, nil
	})
	require.NoError(t, err)
	assert.Equal(t, float64(7), after["hp"])

	applied, err := Apply(doc, d)
	require.NoError(t, err)
	if diff := cmp.Diff(after, applied); diff != "" {
		t.Fatalf("apply mismatch (-want +got):\n%s", diff)
	}

	reverted, err := Revert(applied, d)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, reverted); diff != "" {
		t.Fatalf("revert mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDelta_AddAndRemoveKey(t *testing.T) {
	doc := map[string]any{"name": "hero"}

	d, after, err := BuildDelta(doc, func(m map[string]any) (map[string]any, error) {
		m["title"] = "the brave"
		return m, nil
	})
	require.NoError(t, err)
	require.Len(t, d.Apply, 1)
	assert.Equal(t, OpAdd, d.Apply[0].Kind)

	reverted, err := Revert(after, d)
	require.NoError(t, err)
	_, hasTitle := reverted["title"]
	assert.False(t, hasTitle)
}

func TestBuildDelta_IDKeyedSliceInsertPreservesSiblings(t *testing.T) {
	doc := map[string]any{
		"children": []any{
			map[string]any{"id": "a", "text": "first"},
			map[string]any{"id": "c", "text": "third"},
		},
	}

	d, after, err := BuildDelta(doc, func(m map[string]any) (map[string]any, error) {
		children := m["children"].([]any)
		m["children"] = append(children, map[string]any{"id": "b", "text": "second"})
		return m, nil
	})
	require.NoError(t, err)
	assert.Len(t, after["children"].([]any), 3)

	applied, err := Apply(doc, d)
	require.NoError(t, err)
	assert.Len(t, applied["children"].([]any), 3)

	reverted, err := Revert(applied, d)
	require.NoError(t, err)
	children := reverted["children"].([]any)
	require.Len(t, children, 2)
	ids := []string{children[0].(map[string]any)["id"].(string), children[1].(map[string]any)["id"].(string)}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestBuildDelta_IDKeyedSliceRemoveMiddle(t *testing.T) {
	doc := map[string]any{
		"children": []any{
			map[string]any{"id": "a"},
			map[string]any{"id": "b"},
			map[string]any{"id": "c"},
		},
	}

	d, after, err := BuildDelta(doc, func(m map[string]any) (map[string]any, error) {
		var out []any
		for _, e := range m["children"].([]any) {
			if e.(map[string]any)["id"] != "b" {
				out = append(out, e)
			}
		}
		m["children"] = out
		return m, nil
	})
	require.NoError(t, err)
	assert.Len(t, after["children"].([]any), 2)

	reverted, err := Revert(after, d)
	require.NoError(t, err)
	children := reverted["children"].([]any)
	require.Len(t, children, 3)
	ids := make([]string, len(children))
	for i, e := range children {
		ids[i] = e.(map[string]any)["id"].(string)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestBuildDelta_NestedFieldChangeOnIDKeyedElement(t *testing.T) {
	doc := map[string]any{
		"children": []any{
			map[string]any{"id": "a", "hp": float64(10)},
		},
	}

	d, _, err := BuildDelta(doc, func(m map[string]any) (map[string]any, error) {
		m["children"].([]any)[0].(map[string]any)["hp"] = float64(3)
		return m, nil
	})
	require.NoError(t, err)

	applied, err := Apply(doc, d)
	require.NoError(t, err)
	assert.Equal(t, float64(3), applied["children"].([]any)[0].(map[string]any)["hp"])

	reverted, err := Revert(applied, d)
	require.NoError(t, err)
	assert.Equal(t, float64(10), reverted["children"].([]any)[0].(map[string]any)["hp"])
}

func TestApply_DoesNotMutateOriginalDoc(t *testing.T) {
	doc := map[string]any{"hp": float64(10)}
	d, _, err := BuildDelta(doc, func(m map[string]any) (map[string]any, error) {
		m["hp"] = float64(1)
		return m, nil
	})
	require.NoError(t, err)

	_, err = Apply(doc, d)
	require.NoError(t, err)
	assert.Equal(t, float64(10), doc["hp"])
}

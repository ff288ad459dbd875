package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifengine/internal/delta"
)

func TestDeepSet_MutatesStateAndReturnsDelta(t *testing.T) {
	e := newTestEngine(t, plainReplies("d", "w", "d2"))

	d, err := e.DeepSet("player/hp", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, d.Apply)
	assert.EqualValues(t, 100, e.State()["player"].(map[string]any)["hp"])
}

func TestPatchState_DeepMergesWithoutClobberingSiblingKeys(t *testing.T) {
	e := newTestEngine(t, plainReplies("d", "w", "d2"))
	_, err := e.DeepSet("player/hp", 80)
	require.NoError(t, err)
	_, err = e.DeepSet("player/mana", 30)
	require.NoError(t, err)

	_, err = e.PatchState(map[string]any{"player": map[string]any{"hp": 90}})
	require.NoError(t, err)

	player := e.State()["player"].(map[string]any)
	assert.EqualValues(t, 90, player["hp"])
	assert.EqualValues(t, 30, player["mana"])
}

// TestWorldState_DeltaRoundTrip exercises the exact sequence spec.md's
// world-state testable scenario describes: deep_set, add_plot, update_plot,
// remove_plot, then reverting apply order in reverse restores the original
// document bit for bit.
func TestWorldState_DeltaRoundTrip(t *testing.T) {
	e := newTestEngine(t, plainReplies("d", "w", "d2"))

	before := e.State()["player"]
	assert.Nil(t, before)

	d1, err := e.DeepSet("player/hp", 100)
	require.NoError(t, err)

	plot, d2, err := e.AddPlot("Main Quest", "Defeat the dragon", 0.1, 1)
	require.NoError(t, err)

	d3, err := e.UpdatePlot(plot.ID, PlotUpdate{Alignment: floatPtr(0.15)})
	require.NoError(t, err)

	d4, err := e.RemovePlot(plot.ID)
	require.NoError(t, err)

	assert.Empty(t, e.Plots())

	for _, d := range []delta.Delta{d4, d3, d2, d1} {
		after, err := delta.Revert(e.world, d)
		require.NoError(t, err)
		e.world = after
	}

	assert.Empty(t, e.Plots())
	assert.Nil(t, e.State()["player"])
}

func floatPtr(f float64) *float64 { return &f }

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifengine/internal/chatprovider"
	"ifengine/internal/engine"
	"ifengine/internal/memorybank"
	"ifengine/internal/plotcards"
	"ifengine/internal/storytree"
	"ifengine/internal/toolschema"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Dimensions() int { return 4 }
func (fakeEmbedder) Name() string    { return "fake" }

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3, 4}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3, 4}
	}
	return out, nil
}

type fakeChat struct{}

func (fakeChat) Name() string { return "fake" }
func (fakeChat) Chat(ctx context.Context, req chatprovider.ChatRequest) (chatprovider.ChatResponse, error) {
	return chatprovider.ChatResponse{Content: "the story continues"}, nil
}
func (fakeChat) ChatStream(ctx context.Context, req chatprovider.ChatRequest) (<-chan chatprovider.ChatChunk, error) {
	ch := make(chan chatprovider.ChatChunk)
	close(ch)
	return ch, nil
}

func newTestFixtures(t *testing.T) (*engine.Engine, *memorybank.Bank, *plotcards.Index) {
	t.Helper()
	tree := storytree.New(storytree.Turn{Actor: storytree.ActorWriter, Text: "You wake up in a dim cellar."})

	mem, err := memorybank.Open(filepath.Join(t.TempDir(), "mem.db"), fakeEmbedder{}, fakeChat{})
	require.NoError(t, err)
	plots, err := plotcards.Open(filepath.Join(t.TempDir(), "plots.db"), fakeEmbedder{})
	require.NoError(t, err)

	_, err = plots.AddPlotCard(context.Background(), plotcards.PlotCard{
		Category: "quest", Name: "Escape", Content: "Find a way out of the cellar.",
	})
	require.NoError(t, err)

	cfg := engine.DefaultConfig()
	e := engine.New(tree, mem, plots, fakeChat{}, toolschema.NewRegistry(), map[string]any{"state": map[string]any{"hp": float64(10)}}, cfg)

	return e, mem, plots
}

func TestSaveThenLoad_RoundTripsSelectionAndWorldState(t *testing.T) {
	e, mem, plots := newTestFixtures(t)
	_, err := e.Act(context.Background(), "look around")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, Save(path, e, mem, plots))

	env, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.Current(), env.SelectedNodeID)
	assert.Len(t, env.UndoStack, 1)
}

func TestLoad_MissingFileReturnsNotOK(t *testing.T) {
	env, ok, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, env)
}

func TestRestore_RebuildsMemoryAndPlotIndexes(t *testing.T) {
	e, mem, plots := newTestFixtures(t)
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, Save(path, e, mem, plots))

	env, ok, err := Load(path)
	require.NoError(t, err)
	require.True(t, ok)

	freshTree := storytree.New(storytree.Turn{Actor: storytree.ActorWriter, Text: "You wake up in a dim cellar."})
	freshMem, err := memorybank.Open(filepath.Join(t.TempDir(), "mem2.db"), fakeEmbedder{}, fakeChat{})
	require.NoError(t, err)
	freshPlots, err := plotcards.Open(filepath.Join(t.TempDir(), "plots2.db"), fakeEmbedder{})
	require.NoError(t, err)
	freshEngine := engine.New(freshTree, freshMem, freshPlots, fakeChat{}, toolschema.NewRegistry(), nil, engine.DefaultConfig())

	require.NoError(t, Restore(env, freshEngine, freshMem, freshPlots))
	assert.EqualValues(t, 10, freshEngine.State()["hp"])
	assert.Len(t, freshPlots.GetAllPlotCards(), 1)
}

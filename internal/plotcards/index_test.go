package plotcards

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder embeds by a deterministic function of the text's rune sum,
// without any network call. Every vector points in nearly the same
// direction, so semantic similarity barely tells cards apart.
type fakeEmbedder struct{}

func (fakeEmbedder) Dimensions() int { return 4 }
func (fakeEmbedder) Name() string    { return "fake" }

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := fakeEmbedder{}.EmbedBatch(ctx, []string{text})
	return vecs[0], err
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var sum float32
		for _, r := range t {
			sum += float32(r)
		}
		out[i] = []float32{sum, sum / 2, sum / 3, 1}
	}
	return out, nil
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plotcards.db")
	idx, err := Open(path, fakeEmbedder{})
	require.NoError(t, err)
	return idx
}

func TestAddPlotCard_StoresAndMirrors(t *testing.T) {
	idx := openTestIndex(t)
	card, err := idx.AddPlotCard(context.Background(), PlotCard{
		Category: "item", Name: "rusty key", Content: "opens the cellar door", TriggerKeyword: "cellar",
	})
	require.NoError(t, err)
	assert.NotZero(t, card.ID)
	assert.Len(t, idx.GetAllPlotCards(), 1)
}

func TestEditPlotCard_ReembedsOnlyOnContentChange(t *testing.T) {
	idx := openTestIndex(t)
	card, err := idx.AddPlotCard(context.Background(), PlotCard{Name: "lantern", Content: "a dim brass lantern"})
	require.NoError(t, err)

	updated, err := idx.EditPlotCard(context.Background(), card.ID, PlotCard{Name: "old lantern"})
	require.NoError(t, err)
	assert.Equal(t, "old lantern", updated.Name)
	assert.Equal(t, "a dim brass lantern", updated.Content)

	updated, err = idx.EditPlotCard(context.Background(), card.ID, PlotCard{Content: "a bright brass lantern"})
	require.NoError(t, err)
	assert.Equal(t, "a bright brass lantern", updated.Content)
}

func TestRemovePlotCard_UnknownIDErrors(t *testing.T) {
	idx := openTestIndex(t)
	err := idx.RemovePlotCard(999)
	assert.Error(t, err)
}

func TestSearch_KeywordTriggerAlwaysWinsAgainstSemanticNoise(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	_, err := idx.AddPlotCard(ctx, PlotCard{Name: "trapdoor", Content: "a hidden trapdoor under the rug", TriggerKeyword: "trapdoor"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := idx.AddPlotCard(ctx, PlotCard{Name: "filler", Content: "an unrelated tavern description"})
		require.NoError(t, err)
	}

	results, err := idx.Search(ctx, "the player searches for the trapdoor", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "trapdoor", results[0].Name)
}

func TestSearch_RespectsLimit(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := idx.AddPlotCard(ctx, PlotCard{Name: "card", Content: "some content"})
		require.NoError(t, err)
	}

	results, err := idx.Search(ctx, "some content", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestClear_EmptiesIndex(t *testing.T) {
	idx := openTestIndex(t)
	_, err := idx.AddPlotCard(context.Background(), PlotCard{Name: "a", Content: "b"})
	require.NoError(t, err)
	require.NoError(t, idx.Clear())
	assert.Empty(t, idx.GetAllPlotCards())
}

package plotcards

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"ifengine/internal/embedprovider"
	"ifengine/internal/logging"
	"ifengine/internal/vectorstore"
)

const schemaVersion = 1

// Index is the plot-card store: a vectorstore.Store of card-content
// embeddings plus an in-memory mirror used for keyword-trigger matching,
// which is a pure string scan and never needs the vector search path.
type Index struct {
	mu     sync.RWMutex
	store  *vectorstore.Store
	embed  embedprovider.Provider
	mirror map[int64]*PlotCard
}

// Open opens or creates the named vector store backing the plot-card index.
func Open(path string, embed embedprovider.Provider) (*Index, error) {
	cfg := vectorstore.Config{
		Name:          "plotcards",
		SchemaVersion: schemaVersion,
		Dimension:     embed.Dimensions(),
		Format:        vectorstore.Dense,
		Normalize:     true,
		Distance:      vectorstore.Cosine,
		IDField:       "id",
	}

	store, err := vectorstore.Open(path, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("plotcards: open store: %w", err)
	}

	idx := &Index{store: store, embed: embed, mirror: map[int64]*PlotCard{}}
	if err := idx.loadMirror(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) loadMirror() error {
	return idx.store.Scan(func(r vectorstore.Record) bool {
		idx.mirror[r.ID] = cardFromMeta(r.ID, r.Meta)
		return true
	})
}

func cardFromMeta(id int64, meta map[string]any) *PlotCard {
	c := &PlotCard{ID: id}
	if v, ok := meta["category"].(string); ok {
		c.Category = v
	}
	if v, ok := meta["name"].(string); ok {
		c.Name = v
	}
	if v, ok := meta["content"].(string); ok {
		c.Content = v
	}
	if v, ok := meta["trigger_keyword"].(string); ok {
		c.TriggerKeyword = v
	}
	return c
}

func metaFromCard(c *PlotCard) map[string]any {
	return map[string]any{
		"category":        c.Category,
		"name":            c.Name,
		"content":         c.Content,
		"trigger_keyword": c.TriggerKeyword,
	}
}

// AddPlotCard embeds card.Content and stores the card, returning it with its
// assigned id.
func (idx *Index) AddPlotCard(ctx context.Context, card PlotCard) (*PlotCard, error) {
	vec, err := idx.embed.Embed(ctx, card.Content)
	if err != nil {
		return nil, fmt.Errorf("plotcards: embed: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	id, err := idx.store.UpsertDense(nil, vec, metaFromCard(&card))
	if err != nil {
		return nil, fmt.Errorf("plotcards: upsert: %w", err)
	}
	card.ID = id
	stored := card
	idx.mirror[id] = &stored

	logging.PlotCards("add_plot_card id=%d name=%q", id, card.Name)
	return &stored, nil
}

// EditPlotCard applies updates to an existing card, re-embedding only if
// Content changed; otherwise it reuses the stored vector via a point-get.
func (idx *Index) EditPlotCard(ctx context.Context, id int64, updates PlotCard) (*PlotCard, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, ok := idx.mirror[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}

	merged := *existing
	if updates.Category != "" {
		merged.Category = updates.Category
	}
	if updates.Name != "" {
		merged.Name = updates.Name
	}
	if updates.TriggerKeyword != "" {
		merged.TriggerKeyword = updates.TriggerKeyword
	}
	contentChanged := updates.Content != "" && updates.Content != existing.Content
	if updates.Content != "" {
		merged.Content = updates.Content
	}

	if contentChanged {
		vec, err := idx.embed.Embed(ctx, merged.Content)
		if err != nil {
			return nil, fmt.Errorf("plotcards: re-embed: %w", err)
		}
		if _, err := idx.store.UpsertDense(&id, vec, metaFromCard(&merged)); err != nil {
			return nil, fmt.Errorf("plotcards: upsert: %w", err)
		}
	} else {
		rec, err := idx.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("plotcards: point-get %d: %w", id, err)
		}
		vec := decodeDenseVector(rec.Vector)
		if _, err := idx.store.UpsertDense(&id, vec, metaFromCard(&merged)); err != nil {
			return nil, fmt.Errorf("plotcards: upsert: %w", err)
		}
	}

	stored := merged
	idx.mirror[id] = &stored
	logging.PlotCards("edit_plot_card id=%d reembedded=%v", id, contentChanged)
	return &stored, nil
}

// RemovePlotCard deletes a card from both the store and the mirror.
func (idx *Index) RemovePlotCard(id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.mirror[id]; !ok {
		return &ErrNotFound{ID: id}
	}
	if err := idx.store.Delete(id); err != nil {
		return fmt.Errorf("plotcards: delete %d: %w", id, err)
	}
	delete(idx.mirror, id)
	logging.PlotCards("remove_plot_card id=%d", id)
	return nil
}

// Export returns the vector-store export payload backing the index, for
// session serialization's plot_cards field.
func (idx *Index) Export() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.store.Export()
}

// Import replaces the index's contents from a previously exported payload
// and rebuilds the in-memory mirror from the restored records.
func (idx *Index) Import(data []byte) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.store.Import(data, true); err != nil {
		return fmt.Errorf("plotcards: import: %w", err)
	}
	idx.mirror = map[int64]*PlotCard{}
	return idx.loadMirror()
}

// Close releases the underlying vector store's resources.
func (idx *Index) Close() error {
	return idx.store.Close()
}

// Clear removes every card from the store and the mirror.
func (idx *Index) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.store.Clear(); err != nil {
		return fmt.Errorf("plotcards: clear: %w", err)
	}
	idx.mirror = map[int64]*PlotCard{}
	return nil
}

// GetAllPlotCards returns every card in the index, in no particular order.
func (idx *Index) GetAllPlotCards() []*PlotCard {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*PlotCard, 0, len(idx.mirror))
	for _, c := range idx.mirror {
		out = append(out, c)
	}
	return out
}

type scoredCard struct {
	card  *PlotCard
	score float64
}

// Search returns up to limit cards: cards whose trigger keyword is a
// case-insensitive substring of query always rank first (sentinel score
// 2.0, ties won by the trigger), backed by the top len(triggered)+limit
// cosine-nearest cards from the vector store.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]*PlotCard, error) {
	if limit <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	lowerQuery := strings.ToLower(query)
	var triggered []*PlotCard
	triggeredSet := map[int64]bool{}
	for _, c := range idx.mirror {
		if c.TriggerKeyword != "" && strings.Contains(lowerQuery, strings.ToLower(c.TriggerKeyword)) {
			triggered = append(triggered, c)
			triggeredSet[c.ID] = true
		}
	}
	idx.mu.RUnlock()

	vec, err := idx.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("plotcards: embed query: %w", err)
	}

	k := limit + len(triggered)
	results, err := idx.store.SearchDense(vec, vectorstore.SearchOptions{K: k})
	if err != nil {
		return nil, fmt.Errorf("plotcards: search: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var scored []scoredCard
	for _, c := range triggered {
		scored = append(scored, scoredCard{card: c, score: triggerScore})
	}
	for _, r := range results {
		if triggeredSet[r.Record.ID] {
			continue
		}
		c, ok := idx.mirror[r.Record.ID]
		if !ok {
			continue
		}
		scored = append(scored, scoredCard{card: c, score: r.Score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	out := make([]*PlotCard, len(scored))
	for i, s := range scored {
		out[i] = s.card
	}
	return out, nil
}

// decodeDenseVector reverses vectorstore's little-endian float32 packing,
// used when reusing a stored vector unchanged (edit without a content
// change).
func decodeDenseVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

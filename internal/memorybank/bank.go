package memorybank

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"ifengine/internal/chatprovider"
	"ifengine/internal/delta"
	"ifengine/internal/embedprovider"
	"ifengine/internal/logging"
	"ifengine/internal/vectorstore"
)

const schemaVersion = 1

// thinkTagPattern strips a director/writer model's private reasoning block
// out of a summary before it is stored, matching regardless of case or the
// number of lines the block spans.
var thinkTagPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)

// recencyBlendSize is how many additional not-already-hit memories, ranked
// purely by recency, search folds into a semantic result set.
const recencyBlendSize = 5

// Bank is the memory store: a vectorstore.Store of embeddings, whose meta
// blob carries each Memory's text and created/last-accessed turns as of its
// last write, plus an in-memory mirror of each Memory. Access recency
// updated by search is kept in the mirror only.
type Bank struct {
	mu     sync.RWMutex
	store  *vectorstore.Store
	embed  embedprovider.Provider
	chat   chatprovider.Provider
	mirror map[int64]*Memory
}

// Open opens or creates the named vector store backing the memory bank and
// loads its mirror from whatever records already exist.
func Open(path string, embed embedprovider.Provider, chat chatprovider.Provider) (*Bank, error) {
	cfg := vectorstore.Config{
		Name:          "memorybank",
		SchemaVersion: schemaVersion,
		Dimension:     embed.Dimensions(),
		Format:        vectorstore.Dense,
		Normalize:     true,
		Distance:      vectorstore.Cosine,
		IDField:       "id",
	}

	store, err := vectorstore.Open(path, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("memorybank: open store: %w", err)
	}

	b := &Bank{store: store, embed: embed, chat: chat, mirror: map[int64]*Memory{}}
	if err := b.loadMirror(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bank) loadMirror() error {
	return b.store.Scan(func(r vectorstore.Record) bool {
		b.mirror[r.ID] = memoryFromMeta(r.ID, r.Meta)
		return true
	})
}

func memoryFromMeta(id int64, meta map[string]any) *Memory {
	m := &Memory{ID: id}
	if v, ok := meta["text"].(string); ok {
		m.Text = v
	}
	if v, ok := meta["created_at_turn"].(float64); ok {
		m.CreatedAtTurn = int(v)
	}
	if v, ok := meta["last_accessed_at_turn"].(float64); ok {
		m.LastAccessedAtTurn = int(v)
	}
	return m
}

func metaFromMemory(m *Memory) map[string]any {
	return map[string]any{
		"text":                  m.Text,
		"created_at_turn":       m.CreatedAtTurn,
		"last_accessed_at_turn": m.LastAccessedAtTurn,
	}
}

// AddMemory embeds text, stores it, and returns the created Memory plus the
// delta pair recording the mirror mutation (for undo/redo bookkeeping),
// expressed against the bank's own {memories} document.
func (b *Bank) AddMemory(ctx context.Context, text string, currentTurn int) (*Memory, delta.Delta, error) {
	vec, err := b.embed.Embed(ctx, text)
	if err != nil {
		return nil, delta.Delta{}, fmt.Errorf("memorybank: embed: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	before := b.toDocLocked()

	m := &Memory{Text: text, CreatedAtTurn: currentTurn, LastAccessedAtTurn: currentTurn}
	id, err := b.store.UpsertDense(nil, vec, metaFromMemory(m))
	if err != nil {
		return nil, delta.Delta{}, fmt.Errorf("memorybank: upsert: %w", err)
	}
	m.ID = id
	b.mirror[id] = m

	after := b.toDocLocked()
	d, _, err := delta.BuildDelta(before, func(map[string]any) (map[string]any, error) { return after, nil })
	if err != nil {
		return nil, delta.Delta{}, err
	}

	logging.MemoryBank("add_memory id=%d turn=%d", id, currentTurn)
	return m, d, nil
}

// RemoveMemory deletes a memory's vector, then its mirror entry. If the
// vector delete fails, the mirror is left untouched: mirror.ids and
// store.ids must never diverge.
func (b *Bank) RemoveMemory(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.mirror[id]; !ok {
		return &ErrNotFound{ID: id}
	}

	if err := b.store.Delete(id); err != nil {
		return fmt.Errorf("memorybank: delete %d: %w", id, err)
	}
	delete(b.mirror, id)

	logging.MemoryBank("remove_memory id=%d", id)
	return nil
}

// GenerateAndAddMemory summarizes turns via the chat provider, strips any
// <think>...</think> block from the response, and stores the remainder as a
// new memory.
func (b *Bank) GenerateAndAddMemory(ctx context.Context, turns []string, currentTurn int, systemPrompt string) (*Memory, delta.Delta, error) {
	messages := make([]chatprovider.Message, len(turns))
	for i, t := range turns {
		messages[i] = chatprovider.Message{Role: chatprovider.RoleUser, Content: t}
	}

	resp, err := b.chat.Chat(ctx, chatprovider.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	})
	if err != nil {
		return nil, delta.Delta{}, fmt.Errorf("memorybank: summarize: %w", err)
	}

	summary := thinkTagPattern.ReplaceAllString(resp.Content, "")
	summary = strings.TrimSpace(summary)

	return b.AddMemory(ctx, summary, currentTurn)
}

// scoredHit pairs a memory with the score its ranking pass produced, used
// only to sort the blended result before the final id/text output.
type scoredHit struct {
	memory *Memory
	rank   float64
}

// Search returns up to limit memories: first the top semantic matches for
// query (which also refreshes their last_accessed_at_turn in the mirror
// only, never in the persisted record), blended with up to five additional
// recency picks not already among the hits, unioned and sorted by
// last_accessed_at_turn descending.
func (b *Bank) Search(ctx context.Context, query string, currentTurn int, limit int) ([]*Memory, error) {
	if limit <= 0 {
		return nil, nil
	}

	vec, err := b.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memorybank: embed query: %w", err)
	}

	results, err := b.store.SearchDense(vec, vectorstore.SearchOptions{K: 2 * limit})
	if err != nil {
		return nil, fmt.Errorf("memorybank: search: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	hitSet := make(map[int64]bool, len(results))
	var hits []scoredHit
	for _, r := range results {
		m, ok := b.mirror[r.Record.ID]
		if !ok {
			continue
		}
		m.LastAccessedAtTurn = currentTurn
		hitSet[m.ID] = true
		hits = append(hits, scoredHit{memory: m, rank: float64(m.LastAccessedAtTurn)})
	}

	var recencyPool []*Memory
	for id, m := range b.mirror {
		if hitSet[id] {
			continue
		}
		recencyPool = append(recencyPool, m)
	}
	sort.Slice(recencyPool, func(i, j int) bool {
		return recencyPool[i].LastAccessedAtTurn > recencyPool[j].LastAccessedAtTurn
	})
	if len(recencyPool) > recencyBlendSize {
		recencyPool = recencyPool[:recencyBlendSize]
	}
	for _, m := range recencyPool {
		hits = append(hits, scoredHit{memory: m, rank: float64(m.LastAccessedAtTurn)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank > hits[j].rank })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]*Memory, len(hits))
	for i, h := range hits {
		out[i] = h.memory
	}

	logging.MemoryBankDebug("search query=%q hits=%d", query, len(out))
	return out, nil
}

// ApplyDelta reconciles the mirror against a target set of memories,
// diffed by id: memories present in target but absent from the mirror, or
// whose text differs from the mirrored text, are re-embedded and stored
// under their id; memories absent from target are removed.
func (b *Bank) ApplyDelta(ctx context.Context, target []*Memory) error {
	b.mu.Lock()
	targetByID := make(map[int64]*Memory, len(target))
	for _, m := range target {
		targetByID[m.ID] = m
	}

	var toRemove []int64
	for id := range b.mirror {
		if _, ok := targetByID[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	b.mu.Unlock()

	for _, id := range toRemove {
		if err := b.RemoveMemory(id); err != nil {
			return err
		}
	}

	for _, m := range target {
		b.mu.RLock()
		existing, ok := b.mirror[m.ID]
		b.mu.RUnlock()
		if ok && existing.Text == m.Text {
			continue
		}

		vec, err := b.embed.Embed(ctx, m.Text)
		if err != nil {
			return fmt.Errorf("memorybank: apply_delta: re-embed %d: %w", m.ID, err)
		}

		b.mu.Lock()
		id := m.ID
		if _, err := b.store.UpsertDense(&id, vec, metaFromMemory(m)); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("memorybank: apply_delta: upsert %d: %w", m.ID, err)
		}
		b.mirror[id] = m
		b.mu.Unlock()
	}

	return nil
}

// Export returns the vector-store export payload backing the bank, for
// session serialization's memory_bank field.
func (b *Bank) Export() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Export()
}

// Import replaces the bank's contents from a previously exported payload
// and rebuilds the in-memory mirror from the restored records.
func (b *Bank) Import(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.store.Import(data, true); err != nil {
		return fmt.Errorf("memorybank: import: %w", err)
	}
	b.mirror = map[int64]*Memory{}
	return b.loadMirror()
}

// Close releases the underlying vector store's resources.
func (b *Bank) Close() error {
	return b.store.Close()
}

// Clear removes every memory from both the store and the mirror.
func (b *Bank) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.Clear(); err != nil {
		return fmt.Errorf("memorybank: clear: %w", err)
	}
	b.mirror = map[int64]*Memory{}
	logging.MemoryBank("clear")
	return nil
}

// Doc returns the mirror's current document form, the same shape AddMemory
// and GenerateAndAddMemory diff to build their delta pairs. Callers use it
// together with delta.Apply/delta.Revert to compute the target memory set
// for ApplyDelta when undoing or redoing a turn that generated a memory.
func (b *Bank) Doc() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.toDocLocked()
}

// MemoriesFromDoc parses a document in the {"memories": [...]} shape Doc
// returns back into a target memory set, for feeding to ApplyDelta.
func MemoriesFromDoc(doc map[string]any) ([]*Memory, error) {
	raw, _ := doc["memories"].([]any)
	out := make([]*Memory, 0, len(raw))
	for _, e := range raw {
		rec, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("memorybank: memory record is not an object")
		}
		idStr, _ := rec["id"].(string)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("memorybank: bad memory id %q: %w", idStr, err)
		}
		m := &Memory{ID: id}
		if v, ok := rec["text"].(string); ok {
			m.Text = v
		}
		if v, ok := rec["created_at_turn"].(int); ok {
			m.CreatedAtTurn = v
		}
		if v, ok := rec["last_accessed_at_turn"].(int); ok {
			m.LastAccessedAtTurn = v
		}
		out = append(out, m)
	}
	return out, nil
}

func (b *Bank) toDocLocked() map[string]any {
	list := make([]any, 0, len(b.mirror))
	for _, m := range b.mirror {
		list = append(list, map[string]any{
			"id":                    fmt.Sprint(m.ID),
			"text":                  m.Text,
			"created_at_turn":       m.CreatedAtTurn,
			"last_accessed_at_turn": m.LastAccessedAtTurn,
		})
	}
	return map[string]any{"memories": list}
}

package vectorstore

import (
	"container/heap"
	"math"
)

// SearchOptions bounds a top-K query.
type SearchOptions struct {
	K             int
	Predicate     Predicate
	MaxCandidates int // 0 means unbounded
}

// scoredHeap is a min-heap on Score: the root is always the current worst
// of the retained top-K, so exceeding K evicts it in O(log K).
type scoredHeap []ScoredRecord

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(ScoredRecord)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SearchDense runs a top-K search over a dense-format store. For
// cfg.Distance == Cosine the score is a plain dot product: normalization is
// the caller's responsibility (cfg.Normalize, applied once at insert time
// and to the query here), not the scorer's, so a Cosine store opened with
// Normalize:false gets exactly the raw dot product it asked for rather than
// a scorer that silently renormalizes underneath it. Euclidean uses the
// negated L2 distance (higher is still better) so results share a single
// "higher score wins" heap ordering.
func (s *Store) SearchDense(query []float32, opts SearchOptions) ([]ScoredRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.cfg.Format != Dense {
		return nil, &ErrFormatMismatch{Store: s.cfg.Name, Expected: Dense, Got: Binary}
	}
	if len(query) != s.cfg.Dimension {
		return nil, &ErrDimensionMismatch{Store: s.cfg.Name, Expected: s.cfg.Dimension, Got: len(query)}
	}

	q := query
	if s.cfg.Normalize && s.cfg.Distance == Cosine {
		q = normalizeVector(query)
	}

	h := &scoredHeap{}
	heap.Init(h)
	candidates := 0

	scoreFn := func(rec Record) float64 {
		v := decodeFloat32LE(rec.Vector)
		if s.cfg.Distance == Euclidean {
			return -euclideanDistance(q, v)
		}
		return dotProduct(q, v)
	}

	visit := func(rec Record) bool {
		if opts.Predicate != nil && !opts.Predicate(rec.Meta) {
			return true
		}
		candidates++
		pushScored(h, rec, scoreFn(rec), opts.K)
		return opts.MaxCandidates == 0 || candidates < opts.MaxCandidates
	}

	if err := s.Scan(visit); err != nil {
		return nil, err
	}
	return drainDescending(h), nil
}

// SearchBinary runs a top-K Hamming-distance search over a binary-format
// store. Lower Hamming distance is better; the heap score is the negated
// distance so smaller distances win.
func (s *Store) SearchBinary(query []byte, opts SearchOptions) ([]ScoredRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.cfg.Format != Binary {
		return nil, &ErrFormatMismatch{Store: s.cfg.Name, Expected: Binary, Got: Dense}
	}
	if 8*len(query) < s.cfg.Dimension {
		return nil, &ErrDimensionMismatch{Store: s.cfg.Name, Expected: s.cfg.Dimension, Got: 8 * len(query)}
	}

	h := &scoredHeap{}
	heap.Init(h)
	candidates := 0

	visit := func(rec Record) bool {
		if opts.Predicate != nil && !opts.Predicate(rec.Meta) {
			return true
		}
		candidates++
		dist := s.hamming(query, rec.Vector)
		pushScored(h, rec, -float64(dist), opts.K)
		return opts.MaxCandidates == 0 || candidates < opts.MaxCandidates
	}

	if err := s.Scan(visit); err != nil {
		return nil, err
	}
	return drainDescending(h), nil
}

func pushScored(h *scoredHeap, rec Record, score float64, k int) {
	if k <= 0 {
		return
	}
	if h.Len() < k {
		heap.Push(h, ScoredRecord{Record: rec, Score: score})
		return
	}
	if h.Len() > 0 && score > (*h)[0].Score {
		heap.Pop(h)
		heap.Push(h, ScoredRecord{Record: rec, Score: score})
	}
}

// drainDescending empties the heap into a best-first slice.
func drainDescending(h *scoredHeap) []ScoredRecord {
	n := h.Len()
	out := make([]ScoredRecord, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(ScoredRecord)
	}
	return out
}

// dotProduct returns the inner product of two equal-length vectors. Used
// as the Cosine distance score: with unit-norm vectors (cfg.Normalize) this
// equals cosine similarity; with Normalize:false it is the raw dot product
// the caller asked for.
func dotProduct(a, b []float32) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

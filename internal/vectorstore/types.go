// Package vectorstore implements the embedded, versioned vector store: a
// per-named-store persistent record set with online schema migrations, an
// optional in-memory mirror, and heap-based top-K search over dense
// (cosine/Euclidean) and packed-binary (Hamming) vectors.
//
// Persistence is modernc.org/sqlite (pure Go, no cgo), following the same
// single-writer, WAL-journaled discipline the teacher's own embedded stores
// use: one *sql.DB per store handle, SetMaxOpenConns(1).
package vectorstore

import "fmt"

// Format identifies how a record's vector bytes are laid out.
type Format int

const (
	// Dense records store raw little-endian float32 components.
	Dense Format = iota
	// Binary records store LSB-first packed bits.
	Binary
)

func (f Format) String() string {
	switch f {
	case Dense:
		return "dense"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Format) UnmarshalText(b []byte) error {
	switch string(b) {
	case "dense":
		*f = Dense
	case "binary":
		*f = Binary
	default:
		return fmt.Errorf("unknown vector format %q", string(b))
	}
	return nil
}

// Distance selects the scoring metric for dense top-K search.
type Distance int

const (
	Cosine Distance = iota
	Euclidean
)

func (d Distance) String() string {
	if d == Euclidean {
		return "euclidean"
	}
	return "cosine"
}

// Config declares how a named store should be opened.
type Config struct {
	Name          string
	SchemaVersion int
	Dimension     int
	Format        Format
	Normalize     bool
	Distance      Distance
	IDField       string
	MetaIndexes   []string
	Cache         bool
	Verbose       bool
}

// Record is an immutable (from the caller's perspective) vector aggregate
// keyed by an integer id assigned on first insert.
type Record struct {
	ID        int64
	Format    Format
	Vector    []byte // raw LE f32 bytes for Dense; packed LSB-first bits for Binary
	Meta      map[string]any
	CreatedAt int64 // unix ms
	UpdatedAt int64 // unix ms
}

// SchemaMeta is the single-row `schema` meta record.
type SchemaMeta struct {
	Version   int      `json:"version"`
	Dimension int      `json:"dimension"`
	Format    string   `json:"format"` // "dense" | "binary" | "mixed"
	Normalize bool     `json:"normalize"`
	Indexes   []string `json:"indexes"`
	CreatedAt int64    `json:"created_at_ms"`
	UpdatedAt int64    `json:"updated_at_ms"`
}

// MigrationLogEntry is one applied (from, to) hop.
type MigrationLogEntry struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ScoredRecord is a top-K search result: a record plus its similarity score
// (higher is always better, regardless of metric).
type ScoredRecord struct {
	Record Record
	Score  float64
}

// Predicate filters candidate records by their meta before vector math runs.
type Predicate func(meta map[string]any) bool

package vectorstore

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
)

// UpsertDense stores a dense float vector. If id is nil, an id is
// auto-assigned (only valid when cfg.IDField == "id"); otherwise the given
// id is inserted or replaced. The vector must have exactly cfg.Dimension
// components; if cfg.Normalize is set, it is divided by its own L2 norm
// (the zero vector passes through unchanged).
func (s *Store) UpsertDense(id *int64, vec []float32, meta map[string]any) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if s.cfg.Format != Dense {
		return 0, &ErrFormatMismatch{Store: s.cfg.Name, Expected: Dense, Got: Binary}
	}
	if len(vec) != s.cfg.Dimension {
		return 0, &ErrDimensionMismatch{Store: s.cfg.Name, Expected: s.cfg.Dimension, Got: len(vec)}
	}

	out := vec
	if s.cfg.Normalize {
		out = normalizeVector(vec)
	}
	return s.upsert(id, Dense, encodeFloat32LE(out), meta)
}

// UpsertBinaryBits packs a []bool bit source LSB-first and upserts it.
func (s *Store) UpsertBinaryBits(id *int64, bits []bool, meta map[string]any) (int64, error) {
	if len(bits) != s.cfg.Dimension {
		return 0, &ErrDimensionMismatch{Store: s.cfg.Name, Expected: s.cfg.Dimension, Got: len(bits)}
	}
	return s.upsertBinary(id, packBitsLSB(bits, s.cfg.Dimension), meta)
}

// UpsertBinaryInts packs a []int (0/1) bit source LSB-first and upserts it.
func (s *Store) UpsertBinaryInts(id *int64, ints []int, meta map[string]any) (int64, error) {
	if len(ints) != s.cfg.Dimension {
		return 0, &ErrDimensionMismatch{Store: s.cfg.Name, Expected: s.cfg.Dimension, Got: len(ints)}
	}
	return s.upsertBinary(id, packIntsLSB(ints, s.cfg.Dimension), meta)
}

// UpsertBinaryPacked accepts a pre-packed byte sequence; 8*len(packed) must
// be >= cfg.Dimension.
func (s *Store) UpsertBinaryPacked(id *int64, packed []byte, meta map[string]any) (int64, error) {
	if 8*len(packed) < s.cfg.Dimension {
		return 0, &ErrDimensionMismatch{Store: s.cfg.Name, Expected: s.cfg.Dimension, Got: 8 * len(packed)}
	}
	return s.upsertBinary(id, packed, meta)
}

func (s *Store) upsertBinary(id *int64, packed []byte, meta map[string]any) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if s.cfg.Format != Binary {
		return 0, &ErrFormatMismatch{Store: s.cfg.Name, Expected: Binary, Got: Dense}
	}
	return s.upsert(id, Binary, packed, meta)
}

func (s *Store) upsert(id *int64, format Format, vector []byte, meta map[string]any) (int64, error) {
	now := nowMillis()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}

	assignedID, err := s.resolveID(id)
	if err != nil {
		return 0, err
	}

	createdAt := now
	if id != nil {
		if existing, err := s.getFromBackend(assignedID); err == nil {
			createdAt = existing.CreatedAt
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO records (store_name, id, format, vector, meta_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_name, id) DO UPDATE SET
			format = excluded.format, vector = excluded.vector, meta_json = excluded.meta_json, updated_at = excluded.updated_at
	`, s.cfg.Name, assignedID, format.String(), vector, string(metaJSON), createdAt, now)
	if err != nil {
		return 0, &ErrBackend{Store: s.cfg.Name, Op: "upsert", Cause: err}
	}

	rec := Record{ID: assignedID, Format: format, Vector: vector, Meta: meta, CreatedAt: createdAt, UpdatedAt: now}
	if s.mirror != nil {
		s.mirror.put(rec)
	}
	return assignedID, nil
}

// resolveID returns the id to write: the caller-supplied one, or an
// auto-assigned one drawn from a per-store counter kept in the schema meta.
func (s *Store) resolveID(id *int64) (int64, error) {
	if id != nil {
		return *id, nil
	}
	var next int64
	row := s.db.QueryRow(`
		UPDATE store_meta
		SET schema_json = json_set(schema_json, '$.next_id', COALESCE(json_extract(schema_json, '$.next_id'), 1) + 1)
		WHERE name = ?
		RETURNING COALESCE(json_extract(schema_json, '$.next_id'), 1)
	`, s.cfg.Name)
	if err := row.Scan(&next); err != nil {
		if err == sql.ErrNoRows {
			return 0, &ErrNotInitialized{Store: s.cfg.Name}
		}
		return 0, &ErrBackend{Store: s.cfg.Name, Op: "assign id", Cause: err}
	}
	return next, nil
}

func normalizeVector(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func encodeFloat32LE(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeFloat32LE(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

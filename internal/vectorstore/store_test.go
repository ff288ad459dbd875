package vectorstore

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, cfg Config, migrations []Migration) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, cfg, migrations)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_FreshStoreInitializesSchemaMeta(t *testing.T) {
	s := openTestStore(t, Config{Name: "facts", SchemaVersion: 3, Dimension: 4, Format: Dense}, nil)

	meta, err := s.GetSchemaMeta()
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Version)
	assert.Equal(t, 4, meta.Dimension)
	assert.Equal(t, "dense", meta.Format)
}

func TestOpen_RunsMigrationsInOrderAndLogsThem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open at v1 first.
	s1, err := Open(path, Config{Name: "facts", SchemaVersion: 1, Dimension: 4, Format: Dense}, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	var order []int
	migrations := []Migration{
		{From: 1, To: 2, Fn: func(tx *sql.Tx) error { order = append(order, 1); return nil }},
		{From: 2, To: 3, Fn: func(tx *sql.Tx) error { order = append(order, 2); return nil }},
	}

	// Reopen declaring v3: both hops must run, in order.
	s2, err := Open(path, Config{Name: "facts", SchemaVersion: 3, Dimension: 4, Format: Dense}, migrations)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, []int{1, 2}, order)

	meta, err := s2.GetSchemaMeta()
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Version)

	log, err := s2.GetMigrationLog()
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, MigrationLogEntry{From: 1, To: 2}, log[0])
	assert.Equal(t, MigrationLogEntry{From: 2, To: 3}, log[1])
}

func TestOpen_PersistedNewerThanDeclaredFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path, Config{Name: "facts", SchemaVersion: 5, Dimension: 4, Format: Dense}, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	_, err = Open(path, Config{Name: "facts", SchemaVersion: 2, Dimension: 4, Format: Dense}, nil)
	require.Error(t, err)
	var newer *ErrSchemaNewerThanCode
	assert.ErrorAs(t, err, &newer)
}

func TestOpen_MissingMigrationHopIsSkippedNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path, Config{Name: "facts", SchemaVersion: 1, Dimension: 4, Format: Dense}, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// No migration registered for 1->2 or 2->3.
	s2, err := Open(path, Config{Name: "facts", SchemaVersion: 3, Dimension: 4, Format: Dense}, nil)
	require.NoError(t, err)
	defer s2.Close()

	meta, err := s2.GetSchemaMeta()
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Version)

	log, err := s2.GetMigrationLog()
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestUpsertDense_AutoAssignsSequentialIDs(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 1, Dimension: 3, Format: Dense}, nil)

	id1, err := s.UpsertDense(nil, []float32{1, 0, 0}, map[string]any{"tag": "a"})
	require.NoError(t, err)
	id2, err := s.UpsertDense(nil, []float32{0, 1, 0}, map[string]any{"tag": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	rec, err := s.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Meta["tag"])
}

func TestUpsertDense_WrongDimensionFails(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 1, Dimension: 3, Format: Dense}, nil)
	_, err := s.UpsertDense(nil, []float32{1, 0}, nil)
	require.Error(t, err)
	var mismatch *ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestUpsertDense_NormalizeProducesUnitVector(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 1, Dimension: 2, Format: Dense, Normalize: true}, nil)
	id, err := s.UpsertDense(nil, []float32{3, 4}, nil)
	require.NoError(t, err)

	rec, err := s.Get(id)
	require.NoError(t, err)
	v := decodeFloat32LE(rec.Vector)
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-6)
}

func TestDelete_RemovesFromStoreAndMirror(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 1, Dimension: 2, Format: Dense, Cache: true}, nil)
	id, err := s.UpsertDense(nil, []float32{1, 1}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	_, err = s.Get(id)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestSearchDense_ReturnsBestFirst(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 1, Dimension: 2, Format: Dense}, nil)
	_, err := s.UpsertDense(nil, []float32{1, 0}, map[string]any{"name": "east"})
	require.NoError(t, err)
	_, err = s.UpsertDense(nil, []float32{0, 1}, map[string]any{"name": "north"})
	require.NoError(t, err)
	_, err = s.UpsertDense(nil, []float32{0.9, 0.1}, map[string]any{"name": "near-east"})
	require.NoError(t, err)

	results, err := s.SearchDense([]float32{1, 0}, SearchOptions{K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "east", results[0].Record.Meta["name"])
	assert.Equal(t, "near-east", results[1].Record.Meta["name"])
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchDense_PredicateFiltersCandidates(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 1, Dimension: 2, Format: Dense}, nil)
	_, err := s.UpsertDense(nil, []float32{1, 0}, map[string]any{"active": false})
	require.NoError(t, err)
	_, err = s.UpsertDense(nil, []float32{0.9, 0.1}, map[string]any{"active": true})
	require.NoError(t, err)

	results, err := s.SearchDense([]float32{1, 0}, SearchOptions{
		K: 5,
		Predicate: func(meta map[string]any) bool {
			active, _ := meta["active"].(bool)
			return active
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].Record.Meta["active"])
}

func TestSearchBinary_ExactMatchWinsWithZeroDistance(t *testing.T) {
	s := openTestStore(t, Config{Name: "codes", SchemaVersion: 1, Dimension: 8, Format: Binary}, nil)
	_, err := s.UpsertBinaryBits(nil, []bool{true, false, true, false, true, false, true, false}, map[string]any{"n": "a"})
	require.NoError(t, err)
	_, err = s.UpsertBinaryBits(nil, []bool{false, false, false, false, false, false, false, false}, map[string]any{"n": "b"})
	require.NoError(t, err)

	results, err := s.SearchBinary(packBitsLSB([]bool{true, false, true, false, true, false, true, false}, 8), SearchOptions{K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Record.Meta["n"])
	assert.Equal(t, float64(0), results[0].Score)
}

func TestHamming_AccelModuleUsedUntilItFails(t *testing.T) {
	s := openTestStore(t, Config{Name: "codes", SchemaVersion: 1, Dimension: 8, Format: Binary}, nil)

	calls := 0
	failing := failingAccel{calls: &calls}
	s.EnableAccel(failing)

	a := []byte{0b10101010}
	b := []byte{0b00000000}

	// First call: accel fails, falls back, and matches the software result.
	got := s.hamming(a, b)
	want := hammingFallback(a, b)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, calls)

	// Second call: already fell back, accel is not invoked again.
	_ = s.hamming(a, b)
	assert.Equal(t, 1, calls)
}

type failingAccel struct{ calls *int }

func (f failingAccel) Hamming(a, b []byte) (int, bool) {
	*f.calls++
	return 0, false
}
func (f failingAccel) Name() string { return "failing" }

func TestExportImport_RoundTrip(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 2, Dimension: 2, Format: Dense}, nil)
	id, err := s.UpsertDense(nil, []float32{1, 2}, map[string]any{"tag": "x"})
	require.NoError(t, err)

	data, err := s.Export()
	require.NoError(t, err)

	s2 := openTestStore(t, Config{Name: "vecs2", SchemaVersion: 2, Dimension: 2, Format: Dense}, nil)
	require.NoError(t, s2.Import(data, true))

	rec, err := s2.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "x", rec.Meta["tag"])
	assert.Equal(t, []float32{1, 2}, decodeFloat32LE(rec.Vector))
}

func TestClear_EmptiesStoreAndMirror(t *testing.T) {
	s := openTestStore(t, Config{Name: "vecs", SchemaVersion: 1, Dimension: 2, Format: Dense, Cache: true}, nil)
	_, err := s.UpsertDense(nil, []float32{1, 1}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

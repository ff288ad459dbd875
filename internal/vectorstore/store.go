package vectorstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ifengine/internal/logging"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// Store is a handle to one named vector store backed by an embedded SQLite
// database. Following the teacher's LocalStore pattern, a single *sql.DB
// with SetMaxOpenConns(1) enforces the single-writer discipline spec.md
// requires without any additional locking.
type Store struct {
	db         *sql.DB
	cfg        Config
	migrations []Migration
	nextAccel  *accelHandle
	mirror     *mirror
	closed     bool
}

// Open opens (creating if necessary) the SQLite-backed store at path,
// applying the open/upgrade protocol from spec.md §4.1: matching versions
// just refresh updated_at; an older persisted version runs every registered
// migration in [persisted, declared) inside one transaction; a newer
// persisted version is a hard failure.
func Open(path string, cfg Config, migrations []Migration) (*Store, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("vectorstore: config.Name required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vectorstore %q: dimension must be > 0", cfg.Name)
	}
	if cfg.Format == Binary {
		cfg.Normalize = false
	}
	if cfg.IDField == "" {
		cfg.IDField = "id"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &ErrBackend{Store: cfg.Name, Op: "open", Cause: err}
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &ErrBackend{Store: cfg.Name, Op: pragma, Cause: err}
		}
	}

	s := &Store{db: db, cfg: cfg, migrations: migrations}

	if err := s.ensureTables(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.ensureMetaIndexes(); err != nil {
		db.Close()
		return nil, err
	}

	persisted, exists, err := s.persistedVersion()
	if err != nil {
		db.Close()
		return nil, err
	}
	if !exists {
		if err := s.initSchemaMeta(); err != nil {
			db.Close()
			return nil, err
		}
	} else if err := s.runMigrations(persisted, cfg.SchemaVersion); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Cache {
		m, err := s.loadMirror()
		if err != nil {
			db.Close()
			return nil, err
		}
		s.mirror = m
	}

	logging.VectorStore("opened store %q dim=%d format=%s cache=%v", cfg.Name, cfg.Dimension, cfg.Format, cfg.Cache)
	return s, nil
}

func (s *Store) ensureTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			name TEXT PRIMARY KEY,
			schema_json TEXT NOT NULL,
			migrations_json TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			store_name TEXT NOT NULL,
			id INTEGER NOT NULL,
			format TEXT NOT NULL,
			vector BLOB NOT NULL,
			meta_json TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (store_name, id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return &ErrBackend{Store: s.cfg.Name, Op: "create tables", Cause: err}
		}
	}
	return nil
}

// ensureMetaIndexes creates a non-unique secondary index over
// json_extract(meta_json, '$.<field>') for each configured meta index,
// mirroring the teacher's PRAGMA table_info-driven idempotent migration
// helpers generalized to SQLite generated-expression indexes.
func (s *Store) ensureMetaIndexes() error {
	for _, field := range s.cfg.MetaIndexes {
		idxName := fmt.Sprintf("idx_%s_meta_%s", sanitizeIdent(s.cfg.Name), sanitizeIdent(field))
		stmt := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON records (json_extract(meta_json, '$.%s')) WHERE store_name = '%s'`,
			idxName, field, s.cfg.Name,
		)
		if _, err := s.db.Exec(stmt); err != nil {
			return &ErrBackend{Store: s.cfg.Name, Op: "create meta index " + field, Cause: err}
		}
	}
	return nil
}

func sanitizeIdent(s string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(s)
}

func (s *Store) persistedVersion() (int, bool, error) {
	var schemaJSON string
	err := s.db.QueryRow(`SELECT schema_json FROM store_meta WHERE name = ?`, s.cfg.Name).Scan(&schemaJSON)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &ErrBackend{Store: s.cfg.Name, Op: "read persisted version", Cause: err}
	}
	var meta SchemaMeta
	if err := json.Unmarshal([]byte(schemaJSON), &meta); err != nil {
		return 0, false, &ErrBackend{Store: s.cfg.Name, Op: "decode schema meta", Cause: err}
	}
	return meta.Version, true, nil
}

func (s *Store) initSchemaMeta() error {
	now := nowMillis()
	meta := SchemaMeta{
		Version:   s.cfg.SchemaVersion,
		Dimension: s.cfg.Dimension,
		Format:    s.cfg.Format.String(),
		Normalize: s.cfg.Normalize,
		Indexes:   s.cfg.MetaIndexes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO store_meta (name, schema_json, migrations_json) VALUES (?, ?, '[]')`, s.cfg.Name, string(metaJSON))
	if err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "init schema meta", Cause: err}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "close", Cause: err}
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s == nil || s.db == nil || s.closed {
		return &ErrNotInitialized{Store: s.name()}
	}
	return nil
}

func (s *Store) name() string {
	if s == nil {
		return "<nil>"
	}
	return s.cfg.Name
}

// Count returns the number of records in the store.
func (s *Store) Count() (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE store_name = ?`, s.cfg.Name).Scan(&n); err != nil {
		return 0, &ErrBackend{Store: s.cfg.Name, Op: "count", Cause: err}
	}
	return n, nil
}

// Clear deletes every record from the store (and mirror, if enabled).
func (s *Store) Clear() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM records WHERE store_name = ?`, s.cfg.Name); err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "clear", Cause: err}
	}
	if s.mirror != nil {
		s.mirror.clear()
	}
	return nil
}

// Get performs a point-get by id.
func (s *Store) Get(id int64) (Record, error) {
	if err := s.checkOpen(); err != nil {
		return Record{}, err
	}
	if s.mirror != nil {
		if r, ok := s.mirror.get(id); ok {
			return r, nil
		}
		return Record{}, &ErrNotFound{Store: s.cfg.Name, ID: id}
	}
	return s.getFromBackend(id)
}

func (s *Store) getFromBackend(id int64) (Record, error) {
	row := s.db.QueryRow(`SELECT id, format, vector, meta_json, created_at, updated_at FROM records WHERE store_name = ? AND id = ?`, s.cfg.Name, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, &ErrNotFound{Store: s.cfg.Name, ID: id}
	}
	if err != nil {
		return Record{}, &ErrBackend{Store: s.cfg.Name, Op: "get", Cause: err}
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var formatStr, metaJSON string
	if err := row.Scan(&r.ID, &formatStr, &r.Vector, &metaJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Record{}, err
	}
	if err := (&r.Format).UnmarshalText([]byte(formatStr)); err != nil {
		return Record{}, err
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &r.Meta); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

// Delete removes a record by id.
func (s *Store) Delete(id int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.Exec(`DELETE FROM records WHERE store_name = ? AND id = ?`, s.cfg.Name, id)
	if err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "delete", Cause: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrNotFound{Store: s.cfg.Name, ID: id}
	}
	if s.mirror != nil {
		s.mirror.delete(id)
	}
	return nil
}

// Scan iterates every record in the store in id order. If the cache is
// enabled, iterates the in-memory mirror; otherwise it is a store cursor.
func (s *Store) Scan(fn func(Record) bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.mirror != nil {
		s.mirror.scan(fn)
		return nil
	}
	rows, err := s.db.Query(`SELECT id, format, vector, meta_json, created_at, updated_at FROM records WHERE store_name = ? ORDER BY id`, s.cfg.Name)
	if err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "scan", Cause: err}
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return &ErrBackend{Store: s.cfg.Name, Op: "scan decode", Cause: err}
		}
		if !fn(r) {
			break
		}
	}
	return rows.Err()
}

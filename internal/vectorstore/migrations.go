package vectorstore

import (
	"database/sql"
	"encoding/json"

	"ifengine/internal/logging"
)

// Migration is one registered schema hop. Migrations are passed to Open per
// store config rather than kept in a process-global registry — per DESIGN
// NOTES §9, "the migration registry is per-store-config."
type Migration struct {
	From int
	To   int
	Fn   func(tx *sql.Tx) error
}

// runMigrations executes every registered v->v+1 hop for v in [persisted, declared)
// inside one atomic transaction that also owns the meta-record update. A
// missing consecutive hop is logged and skipped; the final persisted schema
// version is overwritten to `declared` regardless of which hops actually ran.
func (s *Store) runMigrations(persisted int, declared int) error {
	if persisted > declared {
		return &ErrSchemaNewerThanCode{Store: s.cfg.Name, Persisted: persisted, Declared: declared}
	}
	if persisted == declared {
		return s.touchSchemaMeta()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "begin migration tx", Cause: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	byFrom := make(map[int]Migration, len(s.migrations))
	for _, m := range s.migrations {
		byFrom[m.From] = m
	}

	applied := make([]MigrationLogEntry, 0, declared-persisted)
	for v := persisted; v < declared; v++ {
		m, ok := byFrom[v]
		if !ok {
			logging.VectorStoreWarn("vectorstore %q: no registered migration %d->%d, skipping hop", s.cfg.Name, v, v+1)
			continue
		}
		if err := m.Fn(tx); err != nil {
			return &ErrMigrationFailed{Store: s.cfg.Name, From: v, To: v + 1, Cause: err}
		}
		applied = append(applied, MigrationLogEntry{From: v, To: v + 1})
		logging.VectorStore("vectorstore %q: applied migration %d->%d", s.cfg.Name, v, v+1)
	}

	if err := s.writeSchemaMetaTx(tx, declared, applied); err != nil {
		return &ErrMigrationFailed{Store: s.cfg.Name, From: persisted, To: declared, Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &ErrMigrationFailed{Store: s.cfg.Name, From: persisted, To: declared, Cause: err}
	}
	committed = true
	return nil
}

func (s *Store) writeSchemaMetaTx(tx *sql.Tx, newVersion int, applied []MigrationLogEntry) error {
	meta, migLog, err := s.readMetaTx(tx)
	if err != nil {
		return err
	}
	meta.Version = newVersion
	meta.UpdatedAt = nowMillis()
	migLog = append(migLog, applied...)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	migJSON, err := json.Marshal(migLog)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO store_meta (name, schema_json, migrations_json)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET schema_json = excluded.schema_json, migrations_json = excluded.migrations_json
	`, s.cfg.Name, string(metaJSON), string(migJSON))
	return err
}

func (s *Store) readMetaTx(tx *sql.Tx) (SchemaMeta, []MigrationLogEntry, error) {
	var metaJSON, migJSON sql.NullString
	err := tx.QueryRow(`SELECT schema_json, migrations_json FROM store_meta WHERE name = ?`, s.cfg.Name).Scan(&metaJSON, &migJSON)
	if err == sql.ErrNoRows {
		return SchemaMeta{}, nil, nil
	}
	if err != nil {
		return SchemaMeta{}, nil, err
	}
	var meta SchemaMeta
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
			return SchemaMeta{}, nil, err
		}
	}
	var migLog []MigrationLogEntry
	if migJSON.Valid && migJSON.String != "" {
		if err := json.Unmarshal([]byte(migJSON.String), &migLog); err != nil {
			return SchemaMeta{}, nil, err
		}
	}
	return meta, migLog, nil
}

// touchSchemaMeta refreshes updated_at when the persisted version already
// matches the declared version.
func (s *Store) touchSchemaMeta() error {
	_, err := s.db.Exec(`
		UPDATE store_meta SET schema_json = json_set(schema_json, '$.updated_at_ms', ?)
		WHERE name = ?
	`, nowMillis(), s.cfg.Name)
	if err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "touch schema meta", Cause: err}
	}
	return nil
}

// GetSchemaMeta returns the persisted schema meta record for this store.
func (s *Store) GetSchemaMeta() (SchemaMeta, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return SchemaMeta{}, &ErrBackend{Store: s.cfg.Name, Op: "begin read meta", Cause: err}
	}
	defer tx.Rollback()
	meta, _, err := s.readMetaTx(tx)
	if err != nil {
		return SchemaMeta{}, &ErrBackend{Store: s.cfg.Name, Op: "read schema meta", Cause: err}
	}
	return meta, nil
}

// GetMigrationLog returns the persisted (from, to) application log.
func (s *Store) GetMigrationLog() ([]MigrationLogEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, &ErrBackend{Store: s.cfg.Name, Op: "begin read migrations", Cause: err}
	}
	defer tx.Rollback()
	_, migLog, err := s.readMetaTx(tx)
	if err != nil {
		return nil, &ErrBackend{Store: s.cfg.Name, Op: "read migration log", Cause: err}
	}
	return migLog, nil
}

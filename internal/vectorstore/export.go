package vectorstore

import "encoding/json"

// exportedVector is one record in the export wire format.
type exportedVector struct {
	ID        int64          `json:"id"`
	Format    string         `json:"format"`
	Vector    []byte         `json:"vector"`
	Meta      map[string]any `json:"meta"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// exportedSchema mirrors SchemaMeta for the export payload.
type exportedSchema struct {
	Version   int      `json:"version"`
	Dimension int      `json:"dimension"`
	Format    string   `json:"format"`
	Normalize bool     `json:"normalize"`
	Indexes   []string `json:"indexes"`
}

// exportPayload is the full wire form: {schema, vectors: [...]}.
type exportPayload struct {
	Schema  exportedSchema   `json:"schema"`
	Vectors []exportedVector `json:"vectors"`
}

// Export serializes the schema and every record to the wire format
// described in spec.md §6.
func (s *Store) Export() ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := s.GetSchemaMeta()
	if err != nil {
		return nil, err
	}

	payload := exportPayload{
		Schema: exportedSchema{
			Version:   meta.Version,
			Dimension: meta.Dimension,
			Format:    meta.Format,
			Normalize: meta.Normalize,
			Indexes:   meta.Indexes,
		},
	}

	err = s.Scan(func(rec Record) bool {
		payload.Vectors = append(payload.Vectors, exportedVector{
			ID:        rec.ID,
			Format:    rec.Format.String(),
			Vector:    rec.Vector,
			Meta:      rec.Meta,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
		return true
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(payload)
}

// Import loads records from an Export payload. If clearBefore is set, all
// existing records for this store are removed first; otherwise imported
// records upsert by id.
func (s *Store) Import(data []byte, clearBefore bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var payload exportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &ErrBackend{Store: s.cfg.Name, Op: "import", Cause: err}
	}

	if clearBefore {
		if err := s.Clear(); err != nil {
			return err
		}
	}

	for _, v := range payload.Vectors {
		format, err := parseFormat(v.Format)
		if err != nil {
			return err
		}
		if format != s.cfg.Format {
			return &ErrFormatMismatch{Store: s.cfg.Name, Expected: s.cfg.Format, Got: format}
		}
		id := v.ID
		if _, err := s.upsert(&id, format, v.Vector, v.Meta); err != nil {
			return err
		}
	}
	return nil
}

func parseFormat(s string) (Format, error) {
	var f Format
	if err := f.UnmarshalText([]byte(s)); err != nil {
		return 0, &ErrBackend{Op: "parse format", Cause: err}
	}
	return f, nil
}

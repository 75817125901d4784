package calibration

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"go.viam.com/depthrelay/rimage/transform"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps transforms in a sqlite database, one row per key.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open calibration database %s", path)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot create calibration schema"), db.Close())
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the transform stored under key.
func (s *SQLiteStore) Load(ctx context.Context, key string) LoadResult {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM perspective_transforms WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound()
		}
		return corrupt(err)
	}
	h, err := decodeMatrixJSON([]byte(data))
	if err != nil {
		return corrupt(err)
	}
	return loaded(h)
}

// Save upserts h under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, h transform.Homography) error {
	encoded, err := json.Marshal(encodeMatrix(h))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO perspective_transforms (key, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, key, string(encoded))
	if err != nil {
		return errors.Wrapf(err, "failed to save transform %q", key)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/effort-cli/internal/regressor"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS models (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	backend     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	artifact    BLOB NOT NULL,
	metrics     TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 0,
	trained_at  DATETIME NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_models_active ON models(active);
CREATE INDEX IF NOT EXISTS idx_models_created_at ON models(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveModel(ctx context.Context, tm *regressor.TrainedModel, activate bool) error {
	artifact, metrics, err := summarize(tm)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE models SET active = 0 WHERE active = 1`); err != nil {
			return eris.Wrap(err, "sqlite: deactivate models")
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO models (id, name, backend, fingerprint, artifact, metrics, active, trained_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tm.ID, tm.Name, string(tm.Backend), tm.Fingerprint, artifact, string(metrics), activate, tm.TrainedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert model %s", tm.ID)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	zap.L().Info("store: model saved", zap.String("model_id", tm.ID), zap.Bool("active", activate))
	return nil
}

func (s *SQLiteStore) GetActiveModel(ctx context.Context) (*regressor.TrainedModel, error) {
	var artifact []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT artifact FROM models WHERE active = 1 ORDER BY created_at DESC LIMIT 1`,
	).Scan(&artifact)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get active model")
	}
	return regressor.DecodeArtifact(artifact)
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*regressor.TrainedModel, error) {
	var artifact []byte
	err := s.db.QueryRowContext(ctx, `SELECT artifact FROM models WHERE id = ?`, id).Scan(&artifact)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get model %s", id)
	}
	return regressor.DecodeArtifact(artifact)
}

func (s *SQLiteStore) ListModels(ctx context.Context, limit int) ([]ModelInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, backend, fingerprint, metrics, active, trained_at, created_at
		 FROM models ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list models")
	}
	defer rows.Close() //nolint:errcheck

	var out []ModelInfo
	for rows.Next() {
		var m ModelInfo
		var metrics string
		if err := rows.Scan(&m.ID, &m.Name, &m.Backend, &m.Fingerprint, &metrics, &m.Active, &m.TrainedAt, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan model")
		}
		if err := json.Unmarshal([]byte(metrics), &m.Metrics); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal metrics")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list models iterate")
}

func (s *SQLiteStore) ActivateModel(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE models SET active = 0 WHERE active = 1`); err != nil {
		return eris.Wrap(err, "sqlite: deactivate models")
	}
	res, err := tx.ExecContext(ctx, `UPDATE models SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate model %s", id)
	}
	if err := checkRowsAffected(res, id); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete model %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByBackend: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT backend, COUNT(*) FROM models GROUP BY backend`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count models")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var backend string
		var n int
		if err := rows.Scan(&backend, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		st.ByBackend[backend] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: count models iterate")
	}

	var active sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT id FROM models WHERE active = 1 LIMIT 1`).Scan(&active)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: active model id")
	}
	st.ActiveID = active.String

	if st.Total > 0 {
		var last time.Time
		if err := s.db.QueryRowContext(ctx, `SELECT trained_at FROM models ORDER BY trained_at DESC LIMIT 1`).Scan(&last); err != nil {
			return nil, eris.Wrap(err, "sqlite: last trained")
		}
		st.LastTrainedAt = &last
	}
	return st, nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

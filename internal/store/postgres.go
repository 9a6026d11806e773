package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/effort-cli/internal/regressor"
)

// Pool is the subset of pgxpool.Pool the registry needs. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS models (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	backend     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	artifact    BYTEA NOT NULL,
	metrics     JSONB NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT false,
	trained_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_models_single_active ON models(active) WHERE active;
CREATE INDEX IF NOT EXISTS idx_models_created_at ON models(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveModel(ctx context.Context, tm *regressor.TrainedModel, activate bool) error {
	artifact, metrics, err := summarize(tm)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	if activate {
		if _, err := tx.Exec(ctx, `UPDATE models SET active = false WHERE active`); err != nil {
			_ = tx.Rollback(ctx)
			return eris.Wrap(err, "postgres: deactivate models")
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO models (id, name, backend, fingerprint, artifact, metrics, active, trained_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tm.ID, tm.Name, string(tm.Backend), tm.Fingerprint, artifact, metrics, activate, tm.TrainedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrapf(err, "postgres: insert model %s", tm.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	zap.L().Info("store: model saved", zap.String("model_id", tm.ID), zap.Bool("active", activate))
	return nil
}

func (s *PostgresStore) GetActiveModel(ctx context.Context) (*regressor.TrainedModel, error) {
	var artifact []byte
	err := s.pool.QueryRow(ctx,
		`SELECT artifact FROM models WHERE active ORDER BY created_at DESC LIMIT 1`,
	).Scan(&artifact)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get active model")
	}
	return regressor.DecodeArtifact(artifact)
}

func (s *PostgresStore) GetModel(ctx context.Context, id string) (*regressor.TrainedModel, error) {
	var artifact []byte
	err := s.pool.QueryRow(ctx, `SELECT artifact FROM models WHERE id = $1`, id).Scan(&artifact)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get model %s", id)
	}
	return regressor.DecodeArtifact(artifact)
}

func (s *PostgresStore) ListModels(ctx context.Context, limit int) ([]ModelInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, backend, fingerprint, metrics, active, trained_at, created_at
		 FROM models ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list models")
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		var m ModelInfo
		var backend string
		var metrics []byte
		if err := rows.Scan(&m.ID, &m.Name, &backend, &m.Fingerprint, &metrics, &m.Active, &m.TrainedAt, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan model")
		}
		m.Backend = regressor.Kind(backend)
		if err := json.Unmarshal(metrics, &m.Metrics); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal metrics")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list models iterate")
}

func (s *PostgresStore) ActivateModel(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	if _, err := tx.Exec(ctx, `UPDATE models SET active = false WHERE active`); err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrap(err, "postgres: deactivate models")
	}
	tag, err := tx.Exec(ctx, `UPDATE models SET active = true WHERE id = $1`, id)
	if err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrapf(err, "postgres: activate model %s", id)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return notFound(id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) DeleteModel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete model %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByBackend: make(map[string]int)}

	rows, err := s.pool.Query(ctx, `SELECT backend, COUNT(*) FROM models GROUP BY backend`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count models")
	}
	for rows.Next() {
		var backend string
		var n int64
		if err := rows.Scan(&backend, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		st.ByBackend[backend] = int(n)
		st.Total += int(n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: count models iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT id FROM models WHERE active LIMIT 1), '')`,
	).Scan(&st.ActiveID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active model id")
	}

	if st.Total > 0 {
		var last time.Time
		if err := s.pool.QueryRow(ctx, `SELECT MAX(trained_at) FROM models`).Scan(&last); err != nil {
			return nil, eris.Wrap(err, "postgres: last trained")
		}
		st.LastTrainedAt = &last
	}
	return st, nil
}

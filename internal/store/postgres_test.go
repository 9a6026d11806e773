package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/effort-cli/internal/regressor"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS models`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveModel_Activate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	tm := trainedModel(t, "pg-1")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE models SET active = false WHERE active`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO models`).
		WithArgs("pg-1", "model-pg-1", "symmetric", tm.Fingerprint, pgxmock.AnyArg(), pgxmock.AnyArg(), true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveModel(context.Background(), tm, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveModel_InsertFailsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO models`).
		WithArgs("pg-dup", "model-pg-dup", "symmetric", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := s.SaveModel(context.Background(), trainedModel(t, "pg-dup"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert model pg-dup")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetModel(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	tm := trainedModel(t, "pg-2")
	artifact, err := regressor.EncodeArtifact(tm)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT artifact FROM models WHERE id = \$1`).
		WithArgs("pg-2").
		WillReturnRows(pgxmock.NewRows([]string{"artifact"}).AddRow(artifact))

	got, err := s.GetModel(context.Background(), "pg-2")
	require.NoError(t, err)
	assert.Equal(t, "pg-2", got.ID)
	assert.Equal(t, tm.Fingerprint, got.Fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetModel_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT artifact FROM models WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetModel(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActiveModel_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT artifact FROM models WHERE active`).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetActiveModel(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetActiveModel_TamperedArtifact(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT artifact FROM models WHERE active`).
		WillReturnRows(pgxmock.NewRows([]string{"artifact"}).AddRow([]byte(`{"format":"other"}`)))

	_, err := s.GetActiveModel(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListModels(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, name, backend, fingerprint, metrics, active, trained_at, created_at`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "backend", "fingerprint", "metrics", "active", "trained_at", "created_at"}).
			AddRow("a", "first", "linear", "fp", []byte(`{"train":{"rmse":1.5}}`), true, now, now).
			AddRow("b", "second", "symmetric", "fp", []byte(`{}`), false, now, now))

	models, err := s.ListModels(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, regressor.KindLinear, models[0].Backend)
	assert.True(t, models[0].Active)
	assert.InDelta(t, 1.5, models[0].Metrics.Train.RMSE, 0)
	assert.False(t, models[1].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ActivateModel_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE models SET active = false WHERE active`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE models SET active = true WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.ActivateModel(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ActivateModel(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE models SET active = false WHERE active`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE models SET active = true WHERE id = \$1`).
		WithArgs("m7").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.ActivateModel(context.Background(), "m7"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteModel_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM models WHERE id = \$1`).
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteModel(context.Background(), "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	last := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT backend, COUNT\(\*\) FROM models GROUP BY backend`).
		WillReturnRows(pgxmock.NewRows([]string{"backend", "count"}).
			AddRow("symmetric", int64(3)).
			AddRow("linear", int64(1)))
	mock.ExpectQuery(`SELECT COALESCE`).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow("m3"))
	mock.ExpectQuery(`SELECT MAX\(trained_at\) FROM models`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(last))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3, st.ByBackend["symmetric"])
	assert.Equal(t, "m3", st.ActiveID)
	require.NotNil(t, st.LastTrainedAt)
	assert.True(t, last.Equal(*st.LastTrainedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

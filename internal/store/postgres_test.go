package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-enrich/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgres(t)
	run := sampleRun("run-1", "rec-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	data, err := json.Marshal(run)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO enrichment_runs").
		WithArgs("run-1", "rec-1", data, run.CreatedAt.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgres(t)
	run := sampleRun("run-1", "rec-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	data, err := json.Marshal(run)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT data FROM enrichment_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", got.RecordID)
	assert.Equal(t, model.RunPending, got.OverallStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT data FROM enrichment_runs WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_FindLatestRun_NoneIsNil(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT data FROM enrichment_runs WHERE record_id").
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	run, err := s.FindLatestRun(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestPostgresStore_FindRunsFor(t *testing.T) {
	s, mock := newMockPostgres(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer, err := json.Marshal(sampleRun("run-2", "rec-1", base.Add(time.Hour)))
	require.NoError(t, err)
	older, err := json.Marshal(sampleRun("run-1", "rec-1", base))
	require.NoError(t, err)

	mock.ExpectQuery("SELECT data FROM enrichment_runs WHERE record_id").
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(newer).AddRow(older))

	runs, err := s.FindRunsFor(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
}

func TestPostgresStore_UpdateRun(t *testing.T) {
	s, mock := newMockPostgres(t)
	run := sampleRun("run-1", "rec-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	data, err := json.Marshal(run)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT data FROM enrichment_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))
	mock.ExpectExec("UPDATE enrichment_runs SET data").
		WithArgs(pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	confirmed := model.RunConfirmed
	require.NoError(t, s.UpdateRun(context.Background(), "run-1", RunPatch{
		FieldStatuses: map[model.Field]model.FieldStatus{model.FieldWebsite: model.FieldConfirmed},
		OverallStatus: &confirmed,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAndGetRecord(t *testing.T) {
	s, mock := newMockPostgres(t)
	rec := &model.Record{ID: "rec-1", Name: "Acme"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO records").
		WithArgs("rec-1", data, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.SaveRecord(context.Background(), rec))

	mock.ExpectQuery("SELECT data FROM records WHERE id").
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.GetRecord(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT data FROM records WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	_, err := s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

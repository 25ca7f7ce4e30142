package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolavoura/carcalc/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "CERRADO", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), sampleParcel(), model.BiomeCerrado)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "parcel", "biome", "status", "result", "created_at", "updated_at"}).
		AddRow("run-1", []byte(`{"name":"Sitio Boa Vista","area_ha":104.5}`), "CERRADO", "complete",
			[]byte(`{"zone_count":3}`), now, now)
	mock.ExpectQuery(`SELECT id, parcel, biome, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Sitio Boa Vista", run.Parcel.Name)
	assert.Equal(t, model.BiomeCerrado, run.Biome)
	require.NotNil(t, run.Result)
	assert.Equal(t, 3, run.Result.ZoneCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, parcel, biome, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("zones", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateRunStatus(context.Background(), "run-1", model.RunStatusZones))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("zones", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusZones)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunResult_Failed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// A result carrying an error flips the run status to failed.
	mock.ExpectExec(`UPDATE runs SET result = \$1, status = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs(pgxmock.AnyArg(), "failed", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateRunResult(context.Background(), "run-1", &model.RunResult{Error: "boom"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreatePhase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_phases`).
		WithArgs(pgxmock.AnyArg(), "run-1", "zones", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	phase, err := s.CreatePhase(context.Background(), "run-1", "zones")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStatusRunning, phase.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompletePhase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_phases SET status = \$1, result = \$2 WHERE id = \$3`).
		WithArgs("complete", pgxmock.AnyArg(), "phase-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompletePhase(context.Background(), "phase-1", &model.PhaseResult{Status: model.PhaseStatusComplete})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveZones(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"run_zones"},
		[]string{"id", "run_id", "code", "class", "condition", "area_ha", "buffer_m"}).
		WillReturnResult(2)

	zones := model.ZoneCollection{Zones: []model.ProtectionZone{
		{Code: "APP_MARGEM_001", Class: model.ZoneRiverMargin, Condition: model.CondToClassify, AreaHa: 6, BufferM: 30},
		{Code: "APP_NASC_001", Class: model.ZoneSpring, Condition: model.CondToClassify, AreaHa: 0.78, BufferM: 50},
	}}
	require.NoError(t, s.SaveZones(context.Background(), "run-1", zones))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListZones(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"code", "class", "condition", "area_ha", "buffer_m"}).
		AddRow("APP_MARGEM_001", "MARGEM_CURSO_DAGUA", "A_CLASSIFICAR", 6.0, 30.0).
		AddRow("APP_NASC_001", "NASCENTE", "A_CLASSIFICAR", 0.78, 50.0)
	mock.ExpectQuery(`SELECT code, class, condition, area_ha, buffer_m FROM run_zones`).
		WithArgs("run-1").
		WillReturnRows(rows)

	zones, err := s.ListZones(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, model.ZoneRiverMargin, zones[0].Class)
	assert.Equal(t, 50.0, zones[1].BufferM)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "parcel", "biome", "status", "result", "created_at", "updated_at"}).
		AddRow("run-1", []byte(`{"name":"Sitio Boa Vista"}`), "CERRADO", "complete", []byte(nil), now, now)
	mock.ExpectQuery(`SELECT id, parcel, biome, status, result, created_at, updated_at FROM runs WHERE 1=1 AND status = \$1`).
		WithArgs("complete", 100).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

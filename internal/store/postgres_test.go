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

	"github.com/sells-group/intellifin/internal/model"
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

func TestPostgresStore_GetCompany(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	industry := "Lending"
	mock.ExpectQuery(`SELECT company_code, name, sector, industry, active FROM companies WHERE company_code = \$1`).
		WithArgs("BAJFIN").
		WillReturnRows(pgxmock.NewRows([]string{"company_code", "name", "sector", "industry", "active"}).
			AddRow("BAJFIN", "Bajaj Finance", "NBFC", &industry, true))

	c, err := s.GetCompany(context.Background(), "BAJFIN")
	require.NoError(t, err)
	assert.Equal(t, "NBFC", c.Sector)
	assert.Equal(t, "Lending", c.Industry)
	assert.True(t, c.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompany_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM companies WHERE company_code = \$1`).
		WithArgs("NOPE").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCompany(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	var nf *model.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "company", nf.Entity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRaw_Inserted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO raw_financials .*ON CONFLICT \(checksum\) DO NOTHING\s+RETURNING id`).
		WithArgs("TCS", "NSE", "FY2024", pgxmock.AnyArg(), "abc123", "INGESTED", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, inserted, err := s.InsertRaw(context.Background(), model.RawRecord{
		CompanyCode: "TCS",
		Source:      "NSE",
		Period:      "FY2024",
		Payload:     map[string]float64{"Total Revenue": 100},
		Checksum:    "abc123",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRaw_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO raw_financials`).
		WillReturnError(pgx.ErrNoRows)

	id, inserted, err := s.InsertRaw(context.Background(), model.RawRecord{
		CompanyCode: "TCS",
		Checksum:    "abc123",
		Payload:     map[string]float64{},
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Zero(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PromoteGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("TCS").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`INSERT INTO clean_financials`).
		WithArgs([]int64{1, 2}, "TCS", "FY2024", 100.0, 20.0, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(`UPDATE raw_financials SET status = \$1 WHERE id = ANY\(\$2\) AND status = \$3`).
		WithArgs("VALIDATED", []int64{1, 2}, "INGESTED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	id, err := s.PromoteGroup(context.Background(), model.CleanRecord{
		RawIDs:      []int64{1, 2},
		CompanyCode: "TCS",
		Period:      "FY2024",
		Revenue:     100,
		PAT:         20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PromoteGroup_StaleRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("TCS").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`INSERT INTO clean_financials`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(`UPDATE raw_financials`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectRollback()

	_, err := s.PromoteGroup(context.Background(), model.CleanRecord{
		RawIDs:      []int64{1, 2},
		CompanyCode: "TCS",
		Period:      "FY2024",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrTransactionFailure))
	assert.Contains(t, err.Error(), "no longer INGESTED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("TCS").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`UPDATE raw_financials SET status = \$1`).
		WithArgs("FAILED", []int64{3}, "INGESTED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.FailGroup(context.Background(), "TCS", []int64{3}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestClean_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM clean_financials WHERE company_code = \$1 ORDER BY period DESC LIMIT 1`).
		WithArgs("TCS").
		WillReturnError(pgx.ErrNoRows)

	c, err := s.LatestClean(context.Background(), "TCS")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestClean(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now()
	mock.ExpectQuery(`FROM clean_financials`).
		WithArgs("TCS").
		WillReturnRows(pgxmock.NewRows([]string{"id", "raw_ids", "company_code", "period", "revenue", "pat", "validation_notes", "created_at"}).
			AddRow(int64(4), []int64{9}, "TCS", "FY2024", 240893.0, 46099.0, []byte(`["PAT negative"]`), now))

	c, err := s.LatestClean(context.Background(), "TCS")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "FY2024", c.Period)
	assert.Equal(t, []int64{9}, c.RawIDs)
	assert.Equal(t, []string{"PAT negative"}, c.ValidationNotes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceMetrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("TCS").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`DELETE FROM derived_metrics WHERE company_code = \$1`).
		WithArgs("TCS").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"derived_metrics"}, metricColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	err := s.ReplaceMetrics(context.Background(), "TCS", []model.DerivedMetric{
		{CompanyCode: "TCS", Sector: "IT", MetricName: model.MetricPATMargin, MetricValue: 0.19, BasedOnPeriods: []string{"FY2024"}},
		{CompanyCode: "TCS", Sector: "IT", MetricName: model.MetricFCFMargin, MetricValue: 0.16, BasedOnPeriods: []string{"FY2024"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceMetrics_DeleteFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("TCS").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`DELETE FROM derived_metrics`).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	err := s.ReplaceMetrics(context.Background(), "TCS", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrTransactionFailure))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAssumptionSet_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM assumption_sets WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAssumptionSet(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Contains(t, err.Error(), `"42"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO valuation_runs`).
		WithArgs("TCS", "IT", "DCF", int64(3), pgxmock.AnyArg(), pgxmock.AnyArg(), 1234.56).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(99)))

	id, err := s.InsertRun(context.Background(), model.ValuationRun{
		CompanyCode:     "TCS",
		Sector:          "IT",
		ModelType:       model.ModelDCF,
		AssumptionSetID: 3,
		IntrinsicValue:  1234.56,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now()
	mock.ExpectQuery(`FROM valuation_runs WHERE company_code = \$1 ORDER BY created_at DESC, id DESC LIMIT \$2`).
		WithArgs("TCS", defaultRunLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_code", "sector", "model_type", "assumption_set_id", "data_snapshot", "output", "intrinsic_value", "created_at"}).
			AddRow(int64(1), "TCS", "IT", "DCF", int64(3),
				[]byte(`{"base_revenue":100,"base_period":"FY2024","metrics":{"FCF_MARGIN":0.2}}`),
				[]byte(`{"base_cf":20,"applied_terminal_growth":0.05}`),
				500.0, now))

	runs, err := s.ListRuns(context.Background(), "TCS", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "FY2024", runs[0].DataSnapshot.BasePeriod)
	assert.InDelta(t, 0.2, runs[0].DataSnapshot.Metrics["FCF_MARGIN"], 1e-12)
	assert.InDelta(t, 0.05, runs[0].Output.AppliedTerminalGrowth, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_SkipsApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_financials.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS assumption_sets`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs("002_valuation.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationNames_Sorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_financials.sql", "002_valuation.sql"}, names)
}

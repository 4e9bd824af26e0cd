package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intellifin/internal/db"
	"github.com/sells-group/intellifin/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
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

	maxConns := int32(10)
	minConns := int32(2)
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// lockCompany takes a transaction-scoped advisory lock so writers for the
// same company serialize across processes.
func lockCompany(ctx context.Context, tx pgx.Tx, companyCode string) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", companyCode)
	return err
}

// --- Company registry ---

func (s *PostgresStore) GetCompany(ctx context.Context, code string) (*model.Company, error) {
	var c model.Company
	var industry *string
	err := s.pool.QueryRow(ctx,
		`SELECT company_code, name, sector, industry, active FROM companies WHERE company_code = $1`,
		code,
	).Scan(&c.Code, &c.Name, &c.Sector, &industry, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFound("company", code)
		}
		return nil, eris.Wrapf(err, "postgres: get company %s", code)
	}
	if industry != nil {
		c.Industry = *industry
	}
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT company_code, name, sector, industry, active FROM companies WHERE active ORDER BY company_code`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		var industry *string
		if err := rows.Scan(&c.Code, &c.Name, &c.Sector, &industry, &c.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		if industry != nil {
			c.Industry = *industry
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) UpsertCompany(ctx context.Context, c model.Company) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (company_code, name, sector, industry, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (company_code) DO UPDATE SET
		   name = EXCLUDED.name, sector = EXCLUDED.sector,
		   industry = EXCLUDED.industry, active = EXCLUDED.active`,
		c.Code, c.Name, c.Sector, c.Industry, c.Active,
	)
	return eris.Wrapf(err, "postgres: upsert company %s", c.Code)
}

// --- Raw ledger ---

func (s *PostgresStore) InsertRaw(ctx context.Context, r model.RawRecord) (int64, bool, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: marshal payload")
	}
	fetchedAt := r.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO raw_financials (company_code, source, period, payload, checksum, status, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (checksum) DO NOTHING
		 RETURNING id`,
		r.CompanyCode, r.Source, r.Period, payload, r.Checksum, string(model.RawStatusIngested), fetchedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "postgres: insert raw %s/%s/%s", r.CompanyCode, r.Source, r.Period)
	}
	return id, true, nil
}

func (s *PostgresStore) ListRawByStatus(ctx context.Context, status model.RawStatus) ([]model.RawRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_code, source, period, payload, checksum, status, fetched_at
		 FROM raw_financials WHERE status = $1 ORDER BY fetched_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list raw %s", status)
	}
	defer rows.Close()

	var out []model.RawRecord
	for rows.Next() {
		var r model.RawRecord
		var payload []byte
		var st string
		if err := rows.Scan(&r.ID, &r.CompanyCode, &r.Source, &r.Period, &payload, &r.Checksum, &st, &r.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw")
		}
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode payload of raw %d", r.ID)
		}
		r.Status = model.RawStatus(st)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list raw iterate")
}

func (s *PostgresStore) FailGroup(ctx context.Context, companyCode string, rawIDs []int64) error {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockCompany(ctx, tx, companyCode); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE raw_financials SET status = $1 WHERE id = ANY($2) AND status = $3`,
			string(model.RawStatusFailed), rawIDs, string(model.RawStatusIngested),
		)
		return err
	})
	if err != nil {
		return model.NewTransactionError("fail group "+companyCode, err)
	}
	return nil
}

// --- Clean layer ---

func (s *PostgresStore) PromoteGroup(ctx context.Context, rec model.CleanRecord) (int64, error) {
	notes, err := json.Marshal(nonNilNotes(rec.ValidationNotes))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal validation notes")
	}

	var id int64
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockCompany(ctx, tx, rec.CompanyCode); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO clean_financials (raw_ids, company_code, period, revenue, pat, validation_notes)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			rec.RawIDs, rec.CompanyCode, rec.Period, rec.Revenue, rec.PAT, notes,
		).Scan(&id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE raw_financials SET status = $1 WHERE id = ANY($2) AND status = $3`,
			string(model.RawStatusValidated), rec.RawIDs, string(model.RawStatusIngested),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != int64(len(rec.RawIDs)) {
			return eris.Errorf("%d of %d raw rows were no longer INGESTED", tag.RowsAffected(), len(rec.RawIDs))
		}
		return nil
	})
	if err != nil {
		return 0, model.NewTransactionError("promote group "+rec.CompanyCode+"/"+rec.Period, err)
	}
	return id, nil
}

func (s *PostgresStore) ListClean(ctx context.Context, companyCode string) ([]model.CleanRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, raw_ids, company_code, period, revenue, pat, validation_notes, created_at
		 FROM clean_financials WHERE company_code = $1 ORDER BY period ASC`,
		companyCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list clean %s", companyCode)
	}
	defer rows.Close()

	var out []model.CleanRecord
	for rows.Next() {
		c, err := scanClean(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clean iterate")
}

func (s *PostgresStore) LatestClean(ctx context.Context, companyCode string) (*model.CleanRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, raw_ids, company_code, period, revenue, pat, validation_notes, created_at
		 FROM clean_financials WHERE company_code = $1 ORDER BY period DESC LIMIT 1`,
		companyCode,
	)
	c, err := scanClean(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func scanClean(row pgx.Row) (*model.CleanRecord, error) {
	var c model.CleanRecord
	var notes []byte
	if err := row.Scan(&c.ID, &c.RawIDs, &c.CompanyCode, &c.Period, &c.Revenue, &c.PAT, &notes, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan clean")
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &c.ValidationNotes); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode notes of clean %d", c.ID)
		}
	}
	return &c, nil
}

// --- Derived metrics ---

var metricColumns = []string{"company_code", "sector", "metric_name", "metric_value", "based_on_periods"}

func (s *PostgresStore) ListMetrics(ctx context.Context, companyCode string) ([]model.DerivedMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT company_code, sector, metric_name, metric_value, based_on_periods
		 FROM derived_metrics WHERE company_code = $1 ORDER BY id ASC`,
		companyCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list metrics %s", companyCode)
	}
	defer rows.Close()

	var out []model.DerivedMetric
	for rows.Next() {
		var m model.DerivedMetric
		if err := rows.Scan(&m.CompanyCode, &m.Sector, &m.MetricName, &m.MetricValue, &m.BasedOnPeriods); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list metrics iterate")
}

// ReplaceMetrics deletes the company's metrics and COPYs the new set inside
// one transaction, so readers never observe an empty set.
func (s *PostgresStore) ReplaceMetrics(ctx context.Context, companyCode string, metrics []model.DerivedMetric) error {
	rows := make([][]any, len(metrics))
	for i, m := range metrics {
		rows[i] = []any{m.CompanyCode, m.Sector, m.MetricName, m.MetricValue, m.BasedOnPeriods}
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockCompany(ctx, tx, companyCode); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM derived_metrics WHERE company_code = $1`, companyCode); err != nil {
			return err
		}
		_, err := db.CopyFrom(ctx, tx, "derived_metrics", metricColumns, rows)
		return err
	})
	if err != nil {
		return model.NewTransactionError("replace metrics "+companyCode, err)
	}
	return nil
}

// --- Assumption sets ---

const assumptionColumns = `id, company_code, sector, name, revenue_growth, wacc, terminal_growth, notes`

func scanAssumption(row pgx.Row) (*model.AssumptionSet, error) {
	var a model.AssumptionSet
	var notes *string
	if err := row.Scan(&a.ID, &a.CompanyCode, &a.Sector, &a.Name, &a.RevenueGrowth, &a.WACC, &a.TerminalGrowth, &notes); err != nil {
		return nil, err
	}
	if notes != nil {
		a.Notes = *notes
	}
	return &a, nil
}

func (s *PostgresStore) GetAssumptionSet(ctx context.Context, id int64) (*model.AssumptionSet, error) {
	a, err := scanAssumption(s.pool.QueryRow(ctx,
		`SELECT `+assumptionColumns+` FROM assumption_sets WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFound("assumption_set", strconv.FormatInt(id, 10))
		}
		return nil, eris.Wrapf(err, "postgres: get assumption set %d", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAssumptionSets(ctx context.Context) ([]model.AssumptionSet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assumptionColumns+` FROM assumption_sets ORDER BY id ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assumption sets")
	}
	defer rows.Close()

	var out []model.AssumptionSet
	for rows.Next() {
		a, err := scanAssumption(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan assumption set")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list assumption sets iterate")
}

func (s *PostgresStore) InsertAssumptionSet(ctx context.Context, a model.AssumptionSet) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO assumption_sets (company_code, sector, name, revenue_growth, wacc, terminal_growth, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.CompanyCode, a.Sector, a.Name, a.RevenueGrowth, a.WACC, a.TerminalGrowth, a.Notes,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert assumption set %s", a.Name)
	}
	return id, nil
}

// --- Valuation runs ---

func (s *PostgresStore) InsertRun(ctx context.Context, run model.ValuationRun) (int64, error) {
	snapshot, err := json.Marshal(run.DataSnapshot)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal snapshot")
	}
	output, err := json.Marshal(run.Output)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal output")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO valuation_runs (company_code, sector, model_type, assumption_set_id, data_snapshot, output, intrinsic_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		run.CompanyCode, run.Sector, run.ModelType, run.AssumptionSetID, snapshot, output, run.IntrinsicValue,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert valuation run for %s", run.CompanyCode)
	}
	return id, nil
}

const runColumns = `id, company_code, sector, model_type, assumption_set_id, data_snapshot, output, intrinsic_value, created_at`

func scanRun(row pgx.Row) (*model.ValuationRun, error) {
	var r model.ValuationRun
	var snapshot, output []byte
	if err := row.Scan(&r.ID, &r.CompanyCode, &r.Sector, &r.ModelType, &r.AssumptionSetID, &snapshot, &output, &r.IntrinsicValue, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &r.DataSnapshot); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode snapshot of run %d", r.ID)
	}
	if err := json.Unmarshal(output, &r.Output); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode output of run %d", r.ID)
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*model.ValuationRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM valuation_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewNotFound("valuation_run", strconv.FormatInt(id, 10))
		}
		return nil, eris.Wrapf(err, "postgres: get run %d", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, companyCode string, limit int) ([]model.ValuationRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM valuation_runs WHERE company_code = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		companyCode, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list runs %s", companyCode)
	}
	defer rows.Close()

	var out []model.ValuationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func nonNilNotes(notes []string) []string {
	if notes == nil {
		return []string{}
	}
	return notes
}

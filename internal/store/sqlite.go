package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intellifin/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Array and JSON
// columns are stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	company_code TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	sector       TEXT NOT NULL,
	industry     TEXT,
	active       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS raw_financials (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	company_code TEXT NOT NULL,
	source       TEXT NOT NULL,
	period       TEXT NOT NULL,
	payload      TEXT NOT NULL,
	checksum     TEXT NOT NULL UNIQUE,
	status       TEXT NOT NULL DEFAULT 'INGESTED'
	             CHECK (status IN ('INGESTED', 'VALIDATED', 'FAILED')),
	fetched_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS clean_financials (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	raw_ids          TEXT NOT NULL,
	company_code     TEXT NOT NULL,
	period           TEXT NOT NULL,
	revenue          REAL NOT NULL,
	pat              REAL NOT NULL,
	validation_notes TEXT NOT NULL DEFAULT '[]',
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS derived_metrics (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	company_code     TEXT NOT NULL,
	sector           TEXT NOT NULL,
	metric_name      TEXT NOT NULL,
	metric_value     REAL NOT NULL,
	based_on_periods TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assumption_sets (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	company_code    TEXT NOT NULL,
	sector          TEXT NOT NULL,
	name            TEXT NOT NULL,
	revenue_growth  REAL NOT NULL,
	wacc            REAL NOT NULL,
	terminal_growth REAL NOT NULL,
	notes           TEXT
);

CREATE TABLE IF NOT EXISTS valuation_runs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	company_code      TEXT NOT NULL,
	sector            TEXT NOT NULL,
	model_type        TEXT NOT NULL,
	assumption_set_id INTEGER NOT NULL REFERENCES assumption_sets(id),
	data_snapshot     TEXT NOT NULL,
	output            TEXT NOT NULL,
	intrinsic_value   REAL NOT NULL,
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_financials_status ON raw_financials(status, fetched_at);
CREATE INDEX IF NOT EXISTS idx_clean_financials_company_period ON clean_financials(company_code, period);
CREATE INDEX IF NOT EXISTS idx_derived_metrics_company ON derived_metrics(company_code);
CREATE INDEX IF NOT EXISTS idx_valuation_runs_company ON valuation_runs(company_code, created_at);

CREATE TRIGGER IF NOT EXISTS valuation_runs_no_update
BEFORE UPDATE ON valuation_runs
BEGIN
	SELECT RAISE(ABORT, 'valuation_runs is append-only');
END;

CREATE TRIGGER IF NOT EXISTS valuation_runs_no_delete
BEFORE DELETE ON valuation_runs
BEGIN
	SELECT RAISE(ABORT, 'valuation_runs is append-only');
END;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) GetCompany(ctx context.Context, code string) (*model.Company, error) {
	var c model.Company
	var industry sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT company_code, name, sector, industry, active FROM companies WHERE company_code = ?`, code,
	).Scan(&c.Code, &c.Name, &c.Sector, &industry, &c.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewNotFound("company", code)
		}
		return nil, eris.Wrapf(err, "sqlite: get company %s", code)
	}
	c.Industry = industry.String
	return &c, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_code, name, sector, industry, active FROM companies WHERE active = 1 ORDER BY company_code`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Company
	for rows.Next() {
		var c model.Company
		var industry sql.NullString
		if err := rows.Scan(&c.Code, &c.Name, &c.Sector, &industry, &c.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		c.Industry = industry.String
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) UpsertCompany(ctx context.Context, c model.Company) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (company_code, name, sector, industry, active)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (company_code) DO UPDATE SET
		   name = excluded.name, sector = excluded.sector,
		   industry = excluded.industry, active = excluded.active`,
		c.Code, c.Name, c.Sector, c.Industry, c.Active,
	)
	return eris.Wrapf(err, "sqlite: upsert company %s", c.Code)
}

func (s *SQLiteStore) InsertRaw(ctx context.Context, r model.RawRecord) (int64, bool, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: marshal payload")
	}
	fetchedAt := r.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO raw_financials (company_code, source, period, payload, checksum, status, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (checksum) DO NOTHING
		 RETURNING id`,
		r.CompanyCode, r.Source, r.Period, string(payload), r.Checksum, string(model.RawStatusIngested), fetchedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, eris.Wrapf(err, "sqlite: insert raw %s/%s/%s", r.CompanyCode, r.Source, r.Period)
	}
	return id, true, nil
}

func (s *SQLiteStore) ListRawByStatus(ctx context.Context, status model.RawStatus) ([]model.RawRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_code, source, period, payload, checksum, status, fetched_at
		 FROM raw_financials WHERE status = ? ORDER BY fetched_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list raw %s", status)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RawRecord
	for rows.Next() {
		var r model.RawRecord
		var payload, st string
		if err := rows.Scan(&r.ID, &r.CompanyCode, &r.Source, &r.Period, &payload, &r.Checksum, &st, &r.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw")
		}
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode payload of raw %d", r.ID)
		}
		r.Status = model.RawStatus(st)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list raw iterate")
}

// idList renders ids as a placeholder list and its arguments, prefixed by
// the given leading arguments.
func idList(ids []int64, lead ...any) (string, []any) {
	marks := make([]string, len(ids))
	args := append([]any{}, lead...)
	for i, id := range ids {
		marks[i] = "?"
		args = append(args, id)
	}
	return strings.Join(marks, ", "), args
}

func (s *SQLiteStore) FailGroup(ctx context.Context, companyCode string, rawIDs []int64) error {
	if len(rawIDs) == 0 {
		return nil
	}
	marks, args := idList(rawIDs, string(model.RawStatusFailed), string(model.RawStatusIngested))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE raw_financials SET status = ? WHERE status = ? AND id IN (`+marks+`)`, args...,
		)
		return err
	})
	if err != nil {
		return model.NewTransactionError("fail group "+companyCode, err)
	}
	return nil
}

func (s *SQLiteStore) PromoteGroup(ctx context.Context, rec model.CleanRecord) (int64, error) {
	rawIDs, err := json.Marshal(rec.RawIDs)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal raw ids")
	}
	notes, err := json.Marshal(nonNilNotes(rec.ValidationNotes))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal validation notes")
	}

	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO clean_financials (raw_ids, company_code, period, revenue, pat, validation_notes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			string(rawIDs), rec.CompanyCode, rec.Period, rec.Revenue, rec.PAT, string(notes), time.Now().UTC(),
		).Scan(&id); err != nil {
			return err
		}

		marks, args := idList(rec.RawIDs, string(model.RawStatusValidated), string(model.RawStatusIngested))
		res, err := tx.ExecContext(ctx,
			`UPDATE raw_financials SET status = ? WHERE status = ? AND id IN (`+marks+`)`, args...,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(rec.RawIDs)) {
			return eris.Errorf("%d of %d raw rows were no longer INGESTED", n, len(rec.RawIDs))
		}
		return nil
	})
	if err != nil {
		return 0, model.NewTransactionError("promote group "+rec.CompanyCode+"/"+rec.Period, err)
	}
	return id, nil
}

const cleanColumns = `id, raw_ids, company_code, period, revenue, pat, validation_notes, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanCleanSQLite(row scannable) (*model.CleanRecord, error) {
	var c model.CleanRecord
	var rawIDs, notes string
	if err := row.Scan(&c.ID, &rawIDs, &c.CompanyCode, &c.Period, &c.Revenue, &c.PAT, &notes, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rawIDs), &c.RawIDs); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode raw ids of clean %d", c.ID)
	}
	if err := json.Unmarshal([]byte(notes), &c.ValidationNotes); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode notes of clean %d", c.ID)
	}
	return &c, nil
}

func (s *SQLiteStore) ListClean(ctx context.Context, companyCode string) ([]model.CleanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cleanColumns+` FROM clean_financials WHERE company_code = ? ORDER BY period ASC`, companyCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list clean %s", companyCode)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CleanRecord
	for rows.Next() {
		c, err := scanCleanSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clean")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clean iterate")
}

func (s *SQLiteStore) LatestClean(ctx context.Context, companyCode string) (*model.CleanRecord, error) {
	c, err := scanCleanSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+cleanColumns+` FROM clean_financials WHERE company_code = ? ORDER BY period DESC, id DESC LIMIT 1`,
		companyCode,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest clean %s", companyCode)
	}
	return c, nil
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, companyCode string) ([]model.DerivedMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_code, sector, metric_name, metric_value, based_on_periods
		 FROM derived_metrics WHERE company_code = ? ORDER BY id ASC`,
		companyCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list metrics %s", companyCode)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DerivedMetric
	for rows.Next() {
		var m model.DerivedMetric
		var periods string
		if err := rows.Scan(&m.CompanyCode, &m.Sector, &m.MetricName, &m.MetricValue, &periods); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		if err := json.Unmarshal([]byte(periods), &m.BasedOnPeriods); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode metric periods")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list metrics iterate")
}

func (s *SQLiteStore) ReplaceMetrics(ctx context.Context, companyCode string, metrics []model.DerivedMetric) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM derived_metrics WHERE company_code = ?`, companyCode); err != nil {
			return err
		}
		for _, m := range metrics {
			periods, err := json.Marshal(m.BasedOnPeriods)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO derived_metrics (company_code, sector, metric_name, metric_value, based_on_periods)
				 VALUES (?, ?, ?, ?, ?)`,
				m.CompanyCode, m.Sector, m.MetricName, m.MetricValue, string(periods),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.NewTransactionError("replace metrics "+companyCode, err)
	}
	return nil
}

func scanAssumptionSQLite(row scannable) (*model.AssumptionSet, error) {
	var a model.AssumptionSet
	var notes sql.NullString
	if err := row.Scan(&a.ID, &a.CompanyCode, &a.Sector, &a.Name, &a.RevenueGrowth, &a.WACC, &a.TerminalGrowth, &notes); err != nil {
		return nil, err
	}
	a.Notes = notes.String
	return &a, nil
}

func (s *SQLiteStore) GetAssumptionSet(ctx context.Context, id int64) (*model.AssumptionSet, error) {
	a, err := scanAssumptionSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+assumptionColumns+` FROM assumption_sets WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewNotFound("assumption_set", strconv.FormatInt(id, 10))
		}
		return nil, eris.Wrapf(err, "sqlite: get assumption set %d", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListAssumptionSets(ctx context.Context) ([]model.AssumptionSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assumptionColumns+` FROM assumption_sets ORDER BY id ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assumption sets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AssumptionSet
	for rows.Next() {
		a, err := scanAssumptionSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assumption set")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list assumption sets iterate")
}

func (s *SQLiteStore) InsertAssumptionSet(ctx context.Context, a model.AssumptionSet) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO assumption_sets (company_code, sector, name, revenue_growth, wacc, terminal_growth, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.CompanyCode, a.Sector, a.Name, a.RevenueGrowth, a.WACC, a.TerminalGrowth, a.Notes,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert assumption set %s", a.Name)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: assumption set id")
}

func (s *SQLiteStore) InsertRun(ctx context.Context, run model.ValuationRun) (int64, error) {
	snapshot, err := json.Marshal(run.DataSnapshot)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal snapshot")
	}
	output, err := json.Marshal(run.Output)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal output")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO valuation_runs (company_code, sector, model_type, assumption_set_id, data_snapshot, output, intrinsic_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.CompanyCode, run.Sector, run.ModelType, run.AssumptionSetID,
		string(snapshot), string(output), run.IntrinsicValue, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert valuation run for %s", run.CompanyCode)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: valuation run id")
}

func scanRunSQLite(row scannable) (*model.ValuationRun, error) {
	var r model.ValuationRun
	var snapshot, output string
	if err := row.Scan(&r.ID, &r.CompanyCode, &r.Sector, &r.ModelType, &r.AssumptionSetID, &snapshot, &output, &r.IntrinsicValue, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snapshot), &r.DataSnapshot); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode snapshot of run %d", r.ID)
	}
	if err := json.Unmarshal([]byte(output), &r.Output); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode output of run %d", r.ID)
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*model.ValuationRun, error) {
	r, err := scanRunSQLite(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM valuation_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewNotFound("valuation_run", strconv.FormatInt(id, 10))
		}
		return nil, eris.Wrapf(err, "sqlite: get run %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, companyCode string, limit int) ([]model.ValuationRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM valuation_runs WHERE company_code = ? ORDER BY id DESC LIMIT ?`,
		companyCode, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list runs %s", companyCode)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ValuationRun
	for rows.Next() {
		r, err := scanRunSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

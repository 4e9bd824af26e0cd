// Package store persists the raw ledger, clean layer, derived metrics,
// assumption sets and the valuation run log.
package store

import (
	"context"

	"github.com/sells-group/intellifin/internal/model"
)

// Store is the persistence contract shared by every pipeline stage.
// Valuation runs have no update or delete operation.
type Store interface {
	// Company registry
	GetCompany(ctx context.Context, code string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
	UpsertCompany(ctx context.Context, c model.Company) error

	// Raw ledger
	InsertRaw(ctx context.Context, r model.RawRecord) (id int64, inserted bool, err error)
	ListRawByStatus(ctx context.Context, status model.RawStatus) ([]model.RawRecord, error)
	FailGroup(ctx context.Context, companyCode string, rawIDs []int64) error

	// Clean layer
	PromoteGroup(ctx context.Context, rec model.CleanRecord) (int64, error)
	ListClean(ctx context.Context, companyCode string) ([]model.CleanRecord, error)
	LatestClean(ctx context.Context, companyCode string) (*model.CleanRecord, error)

	// Derived metrics
	ListMetrics(ctx context.Context, companyCode string) ([]model.DerivedMetric, error)
	ReplaceMetrics(ctx context.Context, companyCode string, metrics []model.DerivedMetric) error

	// Assumption sets
	GetAssumptionSet(ctx context.Context, id int64) (*model.AssumptionSet, error)
	ListAssumptionSets(ctx context.Context) ([]model.AssumptionSet, error)
	InsertAssumptionSet(ctx context.Context, a model.AssumptionSet) (int64, error)

	// Valuation runs
	InsertRun(ctx context.Context, run model.ValuationRun) (int64, error)
	GetRun(ctx context.Context, id int64) (*model.ValuationRun, error)
	ListRuns(ctx context.Context, companyCode string, limit int) ([]model.ValuationRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultRunLimit = 50

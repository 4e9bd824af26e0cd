package metrics

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intellifin/internal/lock"
	"github.com/sells-group/intellifin/internal/model"
	"github.com/sells-group/intellifin/internal/sector"
)

// Store is the persistence the metrics stage needs.
type Store interface {
	GetCompany(ctx context.Context, code string) (*model.Company, error)
	ListClean(ctx context.Context, companyCode string) ([]model.CleanRecord, error)
	ReplaceMetrics(ctx context.Context, companyCode string, metrics []model.DerivedMetric) error
}

// Result describes one company's computation.
type Result struct {
	CompanyCode string
	Sector      string
	Skipped     bool
	Periods     int
	Metrics     []model.DerivedMetric
}

// Stage computes derived metrics.
type Stage struct {
	store       Store
	sectors     *sector.Registry
	locks       *lock.Keyed
	concurrency int
}

// NewStage returns a Stage. A nil locks gets a private lock set.
func NewStage(st Store, sectors *sector.Registry, locks *lock.Keyed, concurrency int) *Stage {
	if locks == nil {
		locks = &lock.Keyed{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Stage{store: st, sectors: sectors, locks: locks, concurrency: concurrency}
}

// Compute derives and stores the metric set for one company. An unknown
// company is an error; a company whose sector has no profile is skipped.
func (s *Stage) Compute(ctx context.Context, companyCode string) (*Result, error) {
	unlock := s.locks.Lock(companyCode)
	defer unlock()

	log := zap.L().With(zap.String("component", "metrics"), zap.String("company", companyCode))

	company, err := s.store.GetCompany(ctx, companyCode)
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: resolve company %s", companyCode)
	}

	profile, err := s.sectors.Get(company.Sector)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Warn("no sector profile, skipping metrics", zap.String("sector", company.Sector))
			return &Result{CompanyCode: companyCode, Sector: company.Sector, Skipped: true}, nil
		}
		return nil, eris.Wrapf(err, "metrics: resolve profile %s", company.Sector)
	}

	series, err := s.store.ListClean(ctx, companyCode)
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: load clean series %s", companyCode)
	}

	var derived []model.DerivedMetric
	if len(series) > 0 {
		derived = Derive(series, profile)
	}

	if err := s.store.ReplaceMetrics(ctx, companyCode, derived); err != nil {
		return nil, eris.Wrapf(err, "metrics: replace %s", companyCode)
	}

	log.Info("metrics computed", zap.Int("periods", len(series)), zap.Int("metrics", len(derived)))
	return &Result{
		CompanyCode: companyCode,
		Sector:      company.Sector,
		Periods:     len(series),
		Metrics:     derived,
	}, nil
}

// BatchResult collects ComputeAll outcomes; Errors is keyed by company.
type BatchResult struct {
	Results   []*Result
	Errors    map[string]error
	Succeeded int
	Skipped   int
	Failed    int
}

// ComputeAll runs Compute for each company concurrently. One company's
// failure does not stop the others.
func (s *Stage) ComputeAll(ctx context.Context, codes []string) (*BatchResult, error) {
	results := make([]*Result, len(codes))
	errs := make([]error, len(codes))
	var succeeded, skipped, failed atomic.Int32

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, code := range codes {
		eg.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := s.Compute(gctx, code)
			if err != nil {
				errs[i] = err
				failed.Add(1)
				zap.L().Error("metrics: company failed", zap.String("company", code), zap.Error(err))
				return nil
			}
			results[i] = res
			if res.Skipped {
				skipped.Add(1)
			} else {
				succeeded.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "metrics: batch cancelled")
	}

	batch := &BatchResult{
		Errors:    make(map[string]error),
		Succeeded: int(succeeded.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	for i, code := range codes {
		if errs[i] != nil {
			batch.Errors[code] = errs[i]
			continue
		}
		batch.Results = append(batch.Results, results[i])
	}
	return batch, nil
}

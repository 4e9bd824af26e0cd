package valuation

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intellifin/internal/model"
)

// Outcome is one assumption set's run within a batch.
type Outcome struct {
	AssumptionSetID int64
	CompanyCode     string
	Result          *Result
	Err             error
}

// BatchResult collects RunAll outcomes in assumption-set order.
type BatchResult struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
}

// Failures returns the outcomes that errored.
func (b *BatchResult) Failures() []Outcome {
	var out []Outcome
	for _, o := range b.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// RunAll values every assumption set with the given model. Companies run
// concurrently; a company's sets run in order. A failed run is recorded and
// does not stop the batch.
func (e *Engine) RunAll(ctx context.Context, modelType string) (*BatchResult, error) {
	sets, err := e.store.ListAssumptionSets(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "valuation: list assumption sets")
	}

	byCompany := make(map[string][]int)
	var order []string
	for i, s := range sets {
		if _, ok := byCompany[s.CompanyCode]; !ok {
			order = append(order, s.CompanyCode)
		}
		byCompany[s.CompanyCode] = append(byCompany[s.CompanyCode], i)
	}

	outcomes := make([]Outcome, len(sets))
	var succeeded, failed atomic.Int32

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency)
	for _, code := range order {
		idxs := byCompany[code]
		eg.Go(func() error {
			for _, i := range idxs {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				set := sets[i]
				res, err := e.Run(gctx, Request{
					CompanyCode:     set.CompanyCode,
					Model:           modelType,
					AssumptionSetID: set.ID,
				})
				outcomes[i] = Outcome{AssumptionSetID: set.ID, CompanyCode: set.CompanyCode, Result: res, Err: err}
				if err != nil {
					failed.Add(1)
					continue
				}
				succeeded.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "valuation: batch cancelled")
	}

	zap.L().Info("valuation batch complete",
		zap.String("component", "valuation"),
		zap.String("model", modelType),
		zap.Int("assumption_sets", len(sets)),
		zap.Int32("succeeded", succeeded.Load()),
		zap.Int32("failed", failed.Load()),
	)

	return &BatchResult{
		Outcomes:  outcomes,
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}, nil
}

// IsGuardFailure reports whether err is a policy rejection rather than a data
// or infrastructure problem.
func IsGuardFailure(err error) bool {
	return errors.Is(err, model.ErrModelNotAllowed) ||
		errors.Is(err, model.ErrModelNotImplemented) ||
		errors.Is(err, model.ErrArithmeticGuard)
}

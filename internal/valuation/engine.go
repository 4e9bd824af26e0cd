// Package valuation runs guarded valuations against the derived-metric layer
// and appends each successful run to the immutable run log.
package valuation

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/lock"
	"github.com/sells-group/intellifin/internal/model"
	"github.com/sells-group/intellifin/internal/sector"
)

// State is a step of a single run attempt.
type State string

const (
	StateResolving     State = "RESOLVING"
	StateGuardChecking State = "GUARD_CHECKING"
	StateComputing     State = "COMPUTING"
	StatePersisting    State = "PERSISTING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// Store is the persistence the engine reads from and appends to.
type Store interface {
	GetCompany(ctx context.Context, code string) (*model.Company, error)
	GetAssumptionSet(ctx context.Context, id int64) (*model.AssumptionSet, error)
	ListAssumptionSets(ctx context.Context) ([]model.AssumptionSet, error)
	ListMetrics(ctx context.Context, companyCode string) ([]model.DerivedMetric, error)
	LatestClean(ctx context.Context, companyCode string) (*model.CleanRecord, error)
	InsertRun(ctx context.Context, run model.ValuationRun) (int64, error)
}

// Request identifies one valuation.
type Request struct {
	CompanyCode     string
	Model           string
	AssumptionSetID int64
}

// Result is the outcome of a persisted run.
type Result struct {
	RunID           int64
	CompanyCode     string
	Sector          string
	Model           string
	AssumptionSetID int64
	IntrinsicValue  float64
	Breakdown       model.Breakdown
	Snapshot        model.DataSnapshot
}

// RunError reports the state a run failed in. Snapshot is set once the base
// data has been read so failed attempts can still be audited by the caller.
type RunError struct {
	State    State
	Request  Request
	Snapshot *model.DataSnapshot
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("valuation %s/%s (assumption %d) failed in %s: %v",
		e.Request.CompanyCode, e.Request.Model, e.Request.AssumptionSetID, e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Engine runs valuations.
type Engine struct {
	store       Store
	sectors     *sector.Registry
	locks       *lock.Keyed
	concurrency int
}

// NewEngine returns an Engine. A nil locks gets a private lock set.
func NewEngine(st Store, sectors *sector.Registry, locks *lock.Keyed, concurrency int) *Engine {
	if locks == nil {
		locks = &lock.Keyed{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{store: st, sectors: sectors, locks: locks, concurrency: concurrency}
}

// attempt tracks one run through its states.
type attempt struct {
	req      Request
	state    State
	snapshot *model.DataSnapshot
	log      *zap.Logger
}

func (a *attempt) enter(s State) {
	a.log.Debug("valuation state", zap.String("from", string(a.state)), zap.String("to", string(s)))
	a.state = s
}

// fail moves the attempt to FAILED and reports the state it failed in.
func (a *attempt) fail(err error) error {
	failedIn := a.state
	a.enter(StateFailed)
	a.log.Warn("valuation failed", zap.String("state", string(failedIn)), zap.Error(err))
	return &RunError{State: failedIn, Request: a.req, Snapshot: a.snapshot, Err: err}
}

// Run executes one valuation. Nothing is persisted unless every step passes;
// failures come back as *RunError.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		req.Model = model.ModelDCF
	}

	unlock := e.locks.Lock(req.CompanyCode)
	defer unlock()

	a := &attempt{
		req:   req,
		state: StateResolving,
		log: zap.L().With(
			zap.String("component", "valuation"),
			zap.String("company", req.CompanyCode),
			zap.String("model", req.Model),
			zap.Int64("assumption_set", req.AssumptionSetID),
		),
	}

	company, err := e.store.GetCompany(ctx, req.CompanyCode)
	if err != nil {
		return nil, a.fail(eris.Wrap(err, "valuation: resolve company"))
	}
	profile, err := e.sectors.Get(company.Sector)
	if err != nil {
		return nil, a.fail(eris.Wrap(err, "valuation: resolve sector profile"))
	}

	a.enter(StateGuardChecking)
	if !profile.AllowsModel(req.Model) {
		return nil, a.fail(eris.Wrapf(model.ErrModelNotAllowed, "%s for sector %s", req.Model, profile.Sector))
	}

	a.enter(StateComputing)
	assumptions, err := e.store.GetAssumptionSet(ctx, req.AssumptionSetID)
	if err != nil {
		return nil, a.fail(eris.Wrap(err, "valuation: resolve assumption set"))
	}
	if assumptions.CompanyCode != company.Code {
		a.log.Warn("assumption set belongs to another company", zap.String("assumption_company", assumptions.CompanyCode))
	}

	snapshot, err := e.loadSnapshot(ctx, company.Code)
	if err != nil {
		return nil, a.fail(err)
	}
	a.snapshot = snapshot

	applied := ClampTerminalGrowth(assumptions.TerminalGrowth, profile.TerminalGrowthCap())
	if applied != assumptions.TerminalGrowth {
		a.log.Info("terminal growth clamped",
			zap.Float64("requested", assumptions.TerminalGrowth), zap.Float64("applied", applied))
	}

	var (
		breakdown model.Breakdown
		intrinsic float64
	)
	switch req.Model {
	case model.ModelDCF:
		marginName := profile.MarginMetric()
		margin, ok := snapshot.Metrics[marginName]
		if !ok {
			return nil, a.fail(eris.Wrapf(model.ErrMissingMetric, "%s for %s", marginName, company.Code))
		}
		breakdown, intrinsic, err = DCF(DCFInput{
			BaseRevenue:             snapshot.BaseRevenue,
			Margin:                  margin,
			FCFProxy:                string(profile.FCFProxy),
			RevenueGrowth:           assumptions.RevenueGrowth,
			WACC:                    assumptions.WACC,
			RequestedTerminalGrowth: assumptions.TerminalGrowth,
			AppliedTerminalGrowth:   applied,
		})
		if err != nil {
			return nil, a.fail(err)
		}
	default:
		return nil, a.fail(eris.Wrapf(model.ErrModelNotImplemented, "%s", req.Model))
	}

	a.enter(StatePersisting)
	runID, err := e.store.InsertRun(ctx, model.ValuationRun{
		CompanyCode:     company.Code,
		Sector:          profile.Sector,
		ModelType:       req.Model,
		AssumptionSetID: assumptions.ID,
		DataSnapshot:    *snapshot,
		Output:          breakdown,
		IntrinsicValue:  intrinsic,
	})
	if err != nil {
		return nil, a.fail(eris.Wrap(err, "valuation: persist run"))
	}

	a.enter(StateDone)
	a.log.Info("valuation complete", zap.Int64("run_id", runID), zap.Float64("intrinsic_value", intrinsic))

	return &Result{
		RunID:           runID,
		CompanyCode:     company.Code,
		Sector:          profile.Sector,
		Model:           req.Model,
		AssumptionSetID: assumptions.ID,
		IntrinsicValue:  intrinsic,
		Breakdown:       breakdown,
		Snapshot:        *snapshot,
	}, nil
}

// loadSnapshot reads the metric map and the latest clean period. Metrics
// arrive in insertion order, so the last value seen for a name wins.
func (e *Engine) loadSnapshot(ctx context.Context, companyCode string) (*model.DataSnapshot, error) {
	metrics, err := e.store.ListMetrics(ctx, companyCode)
	if err != nil {
		return nil, eris.Wrap(err, "valuation: load metrics")
	}
	latest, err := e.store.LatestClean(ctx, companyCode)
	if err != nil {
		return nil, eris.Wrap(err, "valuation: load latest clean record")
	}
	if latest == nil {
		return nil, eris.Wrapf(model.ErrInsufficientData, "no clean records for %s", companyCode)
	}

	m := make(map[string]float64, len(metrics))
	for _, dm := range metrics {
		m[dm.MetricName] = dm.MetricValue
	}
	return &model.DataSnapshot{
		BaseRevenue: latest.Revenue,
		BasePeriod:  latest.Period,
		Metrics:     m,
	}, nil
}

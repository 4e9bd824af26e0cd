// Package validate consolidates INGESTED raw filings per (company, period),
// applies business rules, and promotes passing groups to the clean layer.
package validate

import (
	"context"
	"errors"
	"maps"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intellifin/internal/lock"
	"github.com/sells-group/intellifin/internal/model"
)

// Store is the persistence the validation stage needs.
type Store interface {
	ListRawByStatus(ctx context.Context, status model.RawStatus) ([]model.RawRecord, error)
	PromoteGroup(ctx context.Context, rec model.CleanRecord) (int64, error)
	FailGroup(ctx context.Context, companyCode string, rawIDs []int64) error
}

// Group is every INGESTED row for one (company, period), payloads merged in
// fetch order.
type Group struct {
	CompanyCode string
	Period      string
	RawIDs      []int64
	Payload     map[string]float64
}

// Outcome is the terminal state of a group within one run.
type Outcome string

const (
	OutcomeValidated Outcome = "VALIDATED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeErrored   Outcome = "ERROR"
)

// GroupResult records what happened to one group.
type GroupResult struct {
	CompanyCode string
	Period      string
	RawIDs      []int64
	Outcome     Outcome
	Notes       []string
	CleanID     int64
	Err         error
}

// Report summarises a validation run. Groups keep first-seen order.
type Report struct {
	Groups    []GroupResult
	Validated int
	Failed    int
	Errored   int
}

// Err joins the per-group problems: FAILED groups as ErrValidationFailed and
// ERROR groups with their underlying cause.
func (r *Report) Err() error {
	var errs []error
	for _, g := range r.Groups {
		switch g.Outcome {
		case OutcomeFailed:
			errs = append(errs, eris.Wrapf(model.ErrValidationFailed, "%s/%s", g.CompanyCode, g.Period))
		case OutcomeErrored:
			errs = append(errs, g.Err)
		}
	}
	return errors.Join(errs...)
}

// ErroredCompanies returns the companies with at least one ERROR group, in
// report order.
func (r *Report) ErroredCompanies() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range r.Groups {
		if g.Outcome == OutcomeErrored && !seen[g.CompanyCode] {
			seen[g.CompanyCode] = true
			out = append(out, g.CompanyCode)
		}
	}
	return out
}

// Stage runs validation batches.
type Stage struct {
	store       Store
	aliases     AliasTable
	rules       []Rule
	locks       *lock.Keyed
	concurrency int
}

// Option configures a Stage.
type Option func(*Stage)

// WithRules replaces the default rule set.
func WithRules(rules ...Rule) Option { return func(s *Stage) { s.rules = rules } }

// WithAliases replaces the default alias table.
func WithAliases(a AliasTable) Option { return func(s *Stage) { s.aliases = a } }

// WithLocks shares a per-company lock with other stages.
func WithLocks(l *lock.Keyed) Option { return func(s *Stage) { s.locks = l } }

// WithConcurrency bounds how many companies are processed at once.
func WithConcurrency(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewStage returns a Stage with the default aliases and rules.
func NewStage(st Store, opts ...Option) *Stage {
	s := &Stage{
		store:       st,
		aliases:     DefaultAliases(),
		rules:       DefaultRules(),
		concurrency: 5,
	}
	for _, o := range opts {
		o(s)
	}
	if s.locks == nil {
		s.locks = &lock.Keyed{}
	}
	return s
}

// Run validates every INGESTED group.
func (s *Stage) Run(ctx context.Context) (*Report, error) {
	return s.run(ctx, "")
}

// RunCompany validates the INGESTED groups of one company.
func (s *Stage) RunCompany(ctx context.Context, companyCode string) (*Report, error) {
	if companyCode == "" {
		return nil, eris.New("validate: company code is required")
	}
	return s.run(ctx, companyCode)
}

func (s *Stage) run(ctx context.Context, only string) (*Report, error) {
	log := zap.L().With(zap.String("component", "validate"))

	raws, err := s.store.ListRawByStatus(ctx, model.RawStatusIngested)
	if err != nil {
		return nil, eris.Wrap(err, "validate: list ingested")
	}
	if only != "" {
		filtered := raws[:0:0]
		for _, r := range raws {
			if r.CompanyCode == only {
				filtered = append(filtered, r)
			}
		}
		raws = filtered
	}

	groups := Consolidate(raws)
	if len(groups) == 0 {
		log.Info("no ingested filings to validate")
		return &Report{}, nil
	}

	// Group indices per company, in first-seen order.
	var companies []string
	byCompany := make(map[string][]int)
	for i, g := range groups {
		if _, ok := byCompany[g.CompanyCode]; !ok {
			companies = append(companies, g.CompanyCode)
		}
		byCompany[g.CompanyCode] = append(byCompany[g.CompanyCode], i)
	}

	results := make([]GroupResult, len(groups))
	var validated, failed, errored atomic.Int32

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for _, code := range companies {
		idx := byCompany[code]
		eg.Go(func() error {
			unlock := s.locks.Lock(code)
			defer unlock()

			for _, i := range idx {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res := s.processGroup(gctx, groups[i])
				results[i] = res
				switch res.Outcome {
				case OutcomeValidated:
					validated.Add(1)
				case OutcomeFailed:
					failed.Add(1)
				default:
					errored.Add(1)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "validate: batch cancelled")
	}

	report := &Report{
		Groups:    results,
		Validated: int(validated.Load()),
		Failed:    int(failed.Load()),
		Errored:   int(errored.Load()),
	}
	log.Info("validation complete",
		zap.Int("groups", len(groups)),
		zap.Int("validated", report.Validated),
		zap.Int("failed", report.Failed),
		zap.Int("errored", report.Errored),
	)
	return report, nil
}

// Consolidate groups raw rows by (company, period) in first-seen order and
// merges payloads so later rows overwrite earlier labels. Rows must already
// be sorted by fetch time.
func Consolidate(raws []model.RawRecord) []Group {
	type key struct{ company, period string }
	index := make(map[key]int)
	var groups []Group
	for _, r := range raws {
		k := key{r.CompanyCode, r.Period}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{
				CompanyCode: r.CompanyCode,
				Period:      r.Period,
				Payload:     make(map[string]float64),
			})
		}
		groups[i].RawIDs = append(groups[i].RawIDs, r.ID)
		maps.Copy(groups[i].Payload, r.Payload)
	}
	return groups
}

// Extract resolves the canonical fields of a merged payload. A field with no
// alias present resolves to zero.
func (s *Stage) Extract(payload map[string]float64) Extracted {
	var x Extracted
	var ok bool
	if x.Revenue, _, ok = s.aliases.Resolve(payload, FieldRevenue); !ok {
		x.Missing = append(x.Missing, FieldRevenue)
	}
	if x.PAT, _, ok = s.aliases.Resolve(payload, FieldPAT); !ok {
		x.Missing = append(x.Missing, FieldPAT)
	}
	return x
}

// Evaluate applies the rules to a group and returns its notes and whether it
// passes.
func (s *Stage) Evaluate(g Group, x Extracted) (notes []string, pass bool) {
	pass = true
	notes = []string{}
	for _, field := range x.Missing {
		notes = append(notes, Finding{Severity: SeverityWarning, Message: field + " not found"}.Note())
	}
	for _, rule := range s.rules {
		for _, f := range rule.Check(g, x) {
			notes = append(notes, f.Note())
			if f.Severity == SeverityCritical {
				pass = false
			}
		}
	}
	return notes, pass
}

func (s *Stage) processGroup(ctx context.Context, g Group) GroupResult {
	log := zap.L().With(
		zap.String("component", "validate"),
		zap.String("company", g.CompanyCode),
		zap.String("period", g.Period),
	)
	res := GroupResult{CompanyCode: g.CompanyCode, Period: g.Period, RawIDs: g.RawIDs}

	x := s.Extract(g.Payload)
	notes, pass := s.Evaluate(g, x)
	res.Notes = notes

	if !pass {
		if err := s.store.FailGroup(ctx, g.CompanyCode, g.RawIDs); err != nil {
			res.Outcome = OutcomeErrored
			res.Err = eris.Wrapf(err, "validate: fail group %s/%s", g.CompanyCode, g.Period)
			log.Error("could not mark group failed", zap.Error(err))
			return res
		}
		res.Outcome = OutcomeFailed
		log.Warn("group failed validation", zap.Strings("notes", notes))
		return res
	}

	id, err := s.store.PromoteGroup(ctx, model.CleanRecord{
		RawIDs:          g.RawIDs,
		CompanyCode:     g.CompanyCode,
		Period:          g.Period,
		Revenue:         x.Revenue,
		PAT:             x.PAT,
		ValidationNotes: notes,
	})
	if err != nil {
		res.Outcome = OutcomeErrored
		res.Err = eris.Wrapf(err, "validate: promote group %s/%s", g.CompanyCode, g.Period)
		log.Error("group promotion failed", zap.Error(err))
		return res
	}
	res.Outcome = OutcomeValidated
	res.CleanID = id
	if len(notes) > 0 {
		log.Info("group validated with notes", zap.Strings("notes", notes), zap.Int64("clean_id", id))
	} else {
		log.Debug("group validated", zap.Int64("clean_id", id))
	}
	return res
}

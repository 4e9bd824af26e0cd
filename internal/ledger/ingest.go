package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/model"
)

// RawWriter is the slice of the store the ingestor writes through.
type RawWriter interface {
	InsertRaw(ctx context.Context, r model.RawRecord) (id int64, inserted bool, err error)
}

// Ingestor appends filings to the raw ledger.
type Ingestor struct {
	store RawWriter
	now   func() time.Time

	// Strict turns a duplicate filing into an ErrDuplicateIngestion error
	// instead of a reported no-op.
	Strict bool
}

// NewIngestor returns an Ingestor writing through st.
func NewIngestor(st RawWriter) *Ingestor {
	return &Ingestor{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Outcome is the per-period result of an ingest.
type Outcome struct {
	Period    string `json:"period"`
	ID        int64  `json:"id,omitempty"`
	Checksum  string `json:"checksum"`
	Duplicate bool   `json:"duplicate"`
}

// Result summarises one ingest call.
type Result struct {
	CompanyCode string    `json:"company_code"`
	Source      string    `json:"source"`
	Inserted    int       `json:"inserted"`
	Duplicate   int       `json:"duplicate"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Ingest writes one raw row per period payload. Identical content (same
// checksum) already in the ledger is counted as Duplicate and left untouched.
func (i *Ingestor) Ingest(ctx context.Context, companyCode, source string, periods []PeriodPayload) (*Result, error) {
	if companyCode == "" || source == "" {
		return nil, eris.New("ledger: company code and source are required")
	}
	log := zap.L().With(
		zap.String("component", "ledger"),
		zap.String("company", companyCode),
		zap.String("source", source),
	)

	res := &Result{CompanyCode: companyCode, Source: source}
	fetchedAt := i.now()
	for _, p := range periods {
		sum, err := Checksum(companyCode, source, p.Period, p.Payload)
		if err != nil {
			return res, err
		}

		id, inserted, err := i.store.InsertRaw(ctx, model.RawRecord{
			CompanyCode: companyCode,
			Source:      source,
			Period:      p.Period,
			Payload:     p.Payload,
			Checksum:    sum,
			Status:      model.RawStatusIngested,
			FetchedAt:   fetchedAt,
		})
		if err != nil {
			return res, eris.Wrapf(err, "ledger: ingest %s/%s/%s", companyCode, source, p.Period)
		}

		out := Outcome{Period: p.Period, ID: id, Checksum: sum, Duplicate: !inserted}
		res.Outcomes = append(res.Outcomes, out)
		if !inserted {
			res.Duplicate++
			log.Info("duplicate filing skipped", zap.String("period", p.Period))
			if i.Strict {
				return res, eris.Wrapf(model.ErrDuplicateIngestion, "ledger: %s/%s/%s", companyCode, source, p.Period)
			}
			continue
		}
		res.Inserted++
		log.Debug("filing ingested", zap.String("period", p.Period), zap.Int64("raw_id", id))
	}

	log.Info("ingest complete", zap.Int("inserted", res.Inserted), zap.Int("duplicate", res.Duplicate))
	return res, nil
}

package valuation

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/intellifin/internal/model"
)

// ForecastYears is the explicit DCF horizon.
const ForecastYears = 5

// DCFInput is everything the DCF calculation reads.
type DCFInput struct {
	BaseRevenue             float64
	Margin                  float64
	FCFProxy                string
	RevenueGrowth           float64
	WACC                    float64
	RequestedTerminalGrowth float64
	AppliedTerminalGrowth   float64
}

// ClampTerminalGrowth caps the requested terminal growth at capFraction.
// Out-of-range requests are never rejected.
func ClampTerminalGrowth(requested, capFraction float64) float64 {
	return math.Min(requested, capFraction)
}

// DCF projects base cash flow over ForecastYears, adds a Gordon-growth
// terminal value and returns the breakdown with the intrinsic value rounded
// to two decimals.
func DCF(in DCFInput) (model.Breakdown, float64, error) {
	baseCF := in.BaseRevenue * in.Margin

	b := model.Breakdown{
		BaseCF:                  baseCF,
		FCFProxy:                in.FCFProxy,
		RequestedTerminalGrowth: in.RequestedTerminalGrowth,
		AppliedTerminalGrowth:   in.AppliedTerminalGrowth,
		Forecasts:               make([]model.ForecastYear, 0, ForecastYears),
	}

	var sumPV float64
	for year := 1; year <= ForecastYears; year++ {
		projected := baseCF * math.Pow(1+in.RevenueGrowth, float64(year))
		pv := projected / math.Pow(1+in.WACC, float64(year))
		b.Forecasts = append(b.Forecasts, model.ForecastYear{Year: year, ProjectedCF: projected, PV: pv})
		sumPV += pv
	}
	b.PresentValueOfForecasts = sumPV

	g := in.AppliedTerminalGrowth
	if !(in.WACC > g) {
		return model.Breakdown{}, 0, eris.Wrapf(model.ErrArithmeticGuard,
			"wacc %.4f must exceed terminal growth %.4f", in.WACC, g)
	}

	lastCF := b.Forecasts[ForecastYears-1].ProjectedCF
	b.TerminalValue = lastCF * (1 + g) / (in.WACC - g)
	b.DiscountedTV = b.TerminalValue / math.Pow(1+in.WACC, ForecastYears)

	return b, round2(sumPV + b.DiscountedTV), nil
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

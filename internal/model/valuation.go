package model

import "time"

// Valuation model names.
const (
	ModelDCF      = "DCF"
	ModelRelative = "Relative"
)

// DataSnapshot captures the inputs a valuation run was computed from.
type DataSnapshot struct {
	BaseRevenue float64            `json:"base_revenue"`
	BasePeriod  string             `json:"base_period"`
	Metrics     map[string]float64 `json:"metrics"`
}

// ForecastYear is one row of the explicit forecast horizon.
type ForecastYear struct {
	Year        int     `json:"year"`
	ProjectedCF float64 `json:"projected_cf"`
	PV          float64 `json:"pv"`
}

// Breakdown is the explainable output of a DCF run.
type Breakdown struct {
	BaseCF                  float64        `json:"base_cf"`
	FCFProxy                string         `json:"fcf_proxy"`
	RequestedTerminalGrowth float64        `json:"requested_terminal_growth"`
	AppliedTerminalGrowth   float64        `json:"applied_terminal_growth"`
	Forecasts               []ForecastYear `json:"forecasts"`
	TerminalValue           float64        `json:"terminal_value"`
	DiscountedTV            float64        `json:"discounted_tv"`
	PresentValueOfForecasts float64        `json:"present_value_of_forecasts"`
}

// ValuationRun is an append-only audit record of one successful valuation.
type ValuationRun struct {
	ID              int64        `json:"id"`
	CompanyCode     string       `json:"company_code"`
	Sector          string       `json:"sector"`
	ModelType       string       `json:"model_type"`
	AssumptionSetID int64        `json:"assumption_set_id"`
	DataSnapshot    DataSnapshot `json:"data_snapshot"`
	Output          Breakdown    `json:"output"`
	IntrinsicValue  float64      `json:"intrinsic_value"`
	CreatedAt       time.Time    `json:"created_at"`
}

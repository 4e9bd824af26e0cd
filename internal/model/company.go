package model

// Company is an entry in the company registry. The pipeline only reads it.
type Company struct {
	Code     string `json:"company_code"`
	Name     string `json:"name"`
	Sector   string `json:"sector"`
	Industry string `json:"industry,omitempty"`
	Active   bool   `json:"active"`
}

// AssumptionSet is a named valuation scenario authored outside the pipeline.
// It is immutable once a valuation run references it.
type AssumptionSet struct {
	ID             int64   `json:"id"`
	CompanyCode    string  `json:"company_code"`
	Sector         string  `json:"sector"`
	Name           string  `json:"name"`
	RevenueGrowth  float64 `json:"revenue_growth"`
	WACC           float64 `json:"wacc"`
	TerminalGrowth float64 `json:"terminal_growth"`
	Notes          string  `json:"notes,omitempty"`
}

package model

import "time"

// RawStatus is the lifecycle state of a raw filing row.
type RawStatus string

const (
	RawStatusIngested  RawStatus = "INGESTED"
	RawStatusValidated RawStatus = "VALIDATED"
	RawStatusFailed    RawStatus = "FAILED"
)

// RawRecord is one ingested filing for a company, source and period.
// Payload maps source-specific metric labels to values.
type RawRecord struct {
	ID          int64              `json:"id"`
	CompanyCode string             `json:"company_code"`
	Source      string             `json:"source"`
	Period      string             `json:"period"`
	Payload     map[string]float64 `json:"payload"`
	Checksum    string             `json:"checksum"`
	Status      RawStatus          `json:"status"`
	FetchedAt   time.Time          `json:"fetched_at"`
}

// CleanRecord is the validated, canonical view of one (company, period) group.
type CleanRecord struct {
	ID              int64     `json:"id"`
	RawIDs          []int64   `json:"raw_ids"`
	CompanyCode     string    `json:"company_code"`
	Period          string    `json:"period"`
	Revenue         float64   `json:"revenue"`
	PAT             float64   `json:"pat"`
	ValidationNotes []string  `json:"validation_notes"`
	CreatedAt       time.Time `json:"created_at"`
}

// Derived metric names.
const (
	MetricPATMargin     = "PAT_MARGIN"
	MetricRevenueGrowth = "REVENUE_GROWTH_YOY"
	MetricFCFMargin     = "FCF_MARGIN"
	MetricROE           = "ROE"
)

// DerivedMetric is one analytical ratio computed from the clean layer.
type DerivedMetric struct {
	CompanyCode    string   `json:"company_code"`
	Sector         string   `json:"sector"`
	MetricName     string   `json:"metric_name"`
	MetricValue    float64  `json:"metric_value"`
	BasedOnPeriods []string `json:"based_on_periods"`
}

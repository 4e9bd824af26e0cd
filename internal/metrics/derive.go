// Package metrics derives sector-aware analytical ratios from the clean
// layer and replaces a company's derived-metric set wholesale.
package metrics

import (
	"github.com/sells-group/intellifin/internal/model"
	"github.com/sells-group/intellifin/internal/sector"
)

// FCFProxyFactor approximates free cash flow as a fixed share of PAT. It is
// a placeholder until cash-flow statements are ingested.
const FCFProxyFactor = 0.85

// Derive computes the metric set for an ordered (period ascending) clean
// series. It is a pure function of its inputs. ROE is allowed for some
// sectors but needs equity figures the clean layer does not carry, so it is
// never produced here.
func Derive(series []model.CleanRecord, profile sector.Profile) []model.DerivedMetric {
	var out []model.DerivedMetric
	add := func(name string, value float64, periods ...string) {
		out = append(out, model.DerivedMetric{
			CompanyCode:    series[0].CompanyCode,
			Sector:         profile.Sector,
			MetricName:     name,
			MetricValue:    value,
			BasedOnPeriods: periods,
		})
	}

	for i, cur := range series {
		if cur.Revenue > 0 && profile.AllowsMetric(model.MetricPATMargin) {
			add(model.MetricPATMargin, cur.PAT/cur.Revenue, cur.Period)
		}
		if i > 0 && profile.AllowsMetric(model.MetricRevenueGrowth) {
			prev := series[i-1]
			if prev.Revenue > 0 {
				add(model.MetricRevenueGrowth, (cur.Revenue-prev.Revenue)/prev.Revenue, prev.Period, cur.Period)
			}
		}
		if cur.Revenue > 0 && profile.AllowsMetric(model.MetricFCFMargin) {
			add(model.MetricFCFMargin, cur.PAT*FCFProxyFactor/cur.Revenue, cur.Period)
		}
	}
	return out
}

package validate

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Canonical fields extracted from a merged payload.
const (
	FieldRevenue = "revenue"
	FieldPAT     = "pat"
)

// AliasTable maps a canonical field to its candidate source labels in
// priority order.
type AliasTable map[string][]string

// DefaultAliases covers the labels seen across exchange and vendor filings.
func DefaultAliases() AliasTable {
	return AliasTable{
		FieldRevenue: {"Total income", "Total Revenue", "Revenue from operations", "Operating Revenue"},
		FieldPAT:     {"Net Income", "Net profit", "Profit after tax", "PAT"},
	}
}

// Resolve returns the value of the first alias of field present in payload.
// Exact label matches are tried across every alias before falling back to a
// case- and width-insensitive comparison.
func (a AliasTable) Resolve(payload map[string]float64, field string) (value float64, label string, ok bool) {
	aliases := a[field]
	for _, alias := range aliases {
		if v, found := payload[alias]; found {
			return v, alias, true
		}
	}

	if len(aliases) == 0 || len(payload) == 0 {
		return 0, "", false
	}
	folded := make(map[string]string, len(payload))
	for k := range payload {
		fk := foldLabel(k)
		// Keep the lexically smallest label so lookups are deterministic.
		if prev, dup := folded[fk]; !dup || k < prev {
			folded[fk] = k
		}
	}
	for _, alias := range aliases {
		if k, found := folded[foldLabel(alias)]; found {
			return payload[k], k, true
		}
	}
	return 0, "", false
}

// foldLabel normalises a label for loose matching: NFKC, case folding and
// collapsed whitespace.
func foldLabel(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

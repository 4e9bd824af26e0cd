package ledger

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// PeriodPayload is one period column of a statement table.
type PeriodPayload struct {
	Period  string
	Payload map[string]float64
}

// ParseStatement converts a "Metric | period1 | period2 ..." table into one
// payload per period column, in column order. Cells that do not parse as
// numbers are skipped; a period with no numeric cells is dropped.
func ParseStatement(rows [][]string) ([]PeriodPayload, error) {
	if len(rows) == 0 {
		return nil, eris.New("ledger: statement is empty")
	}
	header := rows[0]
	if len(header) < 2 {
		return nil, eris.New("ledger: statement header has no period columns")
	}

	type column struct {
		index   int
		payload PeriodPayload
	}
	var cols []*column
	seen := make(map[string]bool)
	for i, h := range header[1:] {
		period := strings.TrimSpace(h)
		if period == "" {
			continue
		}
		if seen[period] {
			return nil, eris.Errorf("ledger: duplicate period column %q", period)
		}
		seen[period] = true
		cols = append(cols, &column{
			index:   i + 1,
			payload: PeriodPayload{Period: period, Payload: make(map[string]float64)},
		})
	}

	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		label := strings.TrimSpace(row[0])
		if label == "" {
			continue
		}
		for _, c := range cols {
			if c.index >= len(row) {
				continue
			}
			v, ok := parseAmount(row[c.index])
			if !ok {
				continue
			}
			c.payload.Payload[label] = v
		}
	}

	out := make([]PeriodPayload, 0, len(cols))
	for _, c := range cols {
		if len(c.payload.Payload) == 0 {
			continue
		}
		out = append(out, c.payload)
	}
	return out, nil
}

// parseAmount accepts plain numbers, thousands separators and accounting
// negatives such as "(1,234.5)".
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

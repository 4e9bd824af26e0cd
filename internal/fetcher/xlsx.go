package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions selects the sheet and header offset of a workbook.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // title rows above the header
}

// ReadXLSX returns the rows of one sheet. Numeric cells are returned as
// their stored value rather than the display format, so "1,234.50" formatted
// cells read as "1234.5". Trailing empty cells are trimmed and empty rows
// dropped.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	sheet, err := pickSheet(wb, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for i, row := range sheet.Rows {
		if i < opts.SkipRows || row == nil {
			continue
		}
		if cells := statementCells(row); len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows, nil
}

func pickSheet(wb *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		if sheet, ok := wb.Sheet[opts.SheetName]; ok {
			return sheet, nil
		}
		return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(wb.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (workbook has %d sheets)", opts.SheetIndex, len(wb.Sheets))
	}
	return wb.Sheets[opts.SheetIndex], nil
}

// statementCells converts a row to strings with trailing blanks removed.
func statementCells(row *xlsx.Row) []string {
	cells := make([]string, 0, len(row.Cells))
	last := -1
	for _, cell := range row.Cells {
		var v string
		if cell.Type() == xlsx.CellTypeNumeric {
			v = cell.Value
		} else {
			v = strings.TrimSpace(cell.String())
		}
		cells = append(cells, v)
		if v != "" {
			last = len(cells) - 1
		}
	}
	return cells[:last+1]
}

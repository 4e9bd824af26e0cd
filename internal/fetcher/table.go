package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// TableOptions selects what ReadTable reads from a statement file.
type TableOptions struct {
	Sheet string // XLSX sheet name; first sheet when empty
}

// ReadTable reads a statement table from an .xlsx or .csv file, picking the
// parser from the file extension.
func ReadTable(ctx context.Context, path string, opts TableOptions) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet})
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, CSVOptions{TrimSpace: true, LazyQuotes: true})
	default:
		return nil, eris.Errorf("fetcher: unsupported statement file %q (want .xlsx or .csv)", path)
	}
}

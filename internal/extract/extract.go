// Package extract downloads one year of source data from the upstream APIs
// and writes it as a raw CSV file in the layout the normalizer expects.
package extract

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/schema"
)

// Extractor fetches one year of a source into a raw CSV at destPath and
// returns the number of data rows written.
type Extractor interface {
	Source() schema.Source
	Extract(ctx context.Context, year int, destPath string) (int64, error)
}

// writeCSV writes header and rows to path through a temp file.
func writeCSV(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "extract: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".extract-*.csv")
	if err != nil {
		return eris.Wrap(err, "extract: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "extract: write header")
	}
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "extract: write rows")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "extract: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "extract: rename into %s", path)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

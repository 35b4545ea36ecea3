package partition

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/zeebo/xxh3"

	"github.com/sells-group/climate-pipeline/internal/combine"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/schema"
)

// WriteCanonical writes the canonical records of src to path, replacing any
// previous file. The same records always produce the same bytes.
func WriteCanonical(path string, src schema.Source, recs []schema.Record) error {
	switch src {
	case schema.WorldBank:
		rows := make([]worldBankRow, len(recs))
		for i, r := range recs {
			rows[i] = newWorldBankRow(r)
		}
		return writeAtomic(path, rows)
	case schema.ClimateTrace:
		rows := make([]climateTraceRow, len(recs))
		for i, r := range recs {
			rows[i] = newClimateTraceRow(r)
		}
		return writeAtomic(path, rows)
	default:
		return eris.Errorf("partition: unknown source %q", src)
	}
}

// ReadCanonical reads a canonical partition written by WriteCanonical.
func ReadCanonical(path string, src schema.Source) ([]schema.Record, error) {
	switch src {
	case schema.WorldBank:
		rows, err := parquet.ReadFile[worldBankRow](path)
		if err != nil {
			return nil, eris.Wrapf(err, "partition: read %s", path)
		}
		out := make([]schema.Record, len(rows))
		for i, r := range rows {
			out[i] = schema.Record{CountryCode: r.CountryCode, Year: int(r.Year), Metrics: r.metrics(), DataSource: r.DataSource}
		}
		return out, nil
	case schema.ClimateTrace:
		rows, err := parquet.ReadFile[climateTraceRow](path)
		if err != nil {
			return nil, eris.Wrapf(err, "partition: read %s", path)
		}
		out := make([]schema.Record, len(rows))
		for i, r := range rows {
			out[i] = schema.Record{CountryCode: r.CountryCode, Year: int(r.Year), Metrics: r.metrics(), DataSource: r.DataSource}
		}
		return out, nil
	default:
		return nil, eris.Errorf("partition: unknown source %q", src)
	}
}

// WriteCombined writes combined records to path, replacing any previous file.
func WriteCombined(path string, recs []combine.Record) error {
	rows := make([]combinedRow, len(recs))
	for i, r := range recs {
		rows[i] = newCombinedRow(r)
	}
	return writeAtomic(path, rows)
}

// ReadCombined reads a combined partition.
func ReadCombined(path string) ([]combine.Record, error) {
	rows, err := parquet.ReadFile[combinedRow](path)
	if err != nil {
		return nil, eris.Wrapf(err, "partition: read %s", path)
	}
	out := make([]combine.Record, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// writeAtomic writes rows to a temp file next to path and renames it into
// place, so readers never observe a partial file.
func writeAtomic[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "partition: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".partition-*.parquet")
	if err != nil {
		return eris.Wrap(err, "partition: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if err := parquet.Write(tmp, rows); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(err, "partition: write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "partition: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "partition: close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "partition: rename into %s", path)
	}
	return nil
}

// Detect reads the parquet footer of path and returns its flat column schema
// and row count.
func Detect(path string) ([]model.Column, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "partition: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, 0, eris.Wrapf(err, "partition: stat %s", path)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, 0, eris.Wrapf(err, "partition: open parquet %s", path)
	}

	fields := pf.Schema().Fields()
	cols := make([]model.Column, len(fields))
	for i, field := range fields {
		cols[i] = model.Column{
			Name:     field.Name(),
			Type:     columnType(field.Type().Kind()),
			Nullable: field.Optional(),
		}
	}
	return cols, pf.NumRows(), nil
}

func columnType(k parquet.Kind) string {
	switch k {
	case parquet.Boolean:
		return "BOOL"
	case parquet.Int32, parquet.Int64, parquet.Int96:
		return "INT64"
	case parquet.Float, parquet.Double:
		return "FLOAT64"
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return "STRING"
	default:
		return k.String()
	}
}

// Checksum returns the xxh3 fingerprint of the file at path as 16 hex digits.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "partition: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "partition: hash %s", path)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Package model holds the catalog and run-ledger types shared by the store,
// the runner and the CLI.
package model

import "time"

// Column describes one column of a registered table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Table is a catalog entry pointing a queryable table name at files in the
// data lake. Registering the same (Dataset, Name) again replaces the entry.
type Table struct {
	Dataset      string    `json:"dataset"`
	Name         string    `json:"name"`
	URI          string    `json:"uri"`
	Format       string    `json:"format"`
	Autodetect   bool      `json:"autodetect"`
	Columns      []Column  `json:"columns"`
	Rows         int64     `json:"rows"`
	Checksum     string    `json:"checksum,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// QualifiedName returns "dataset.name".
func (t Table) QualifiedName() string {
	if t.Dataset == "" {
		return t.Name
	}
	return t.Dataset + "." + t.Name
}

// FormatParquet is the only file format the pipeline writes.
const FormatParquet = "PARQUET"

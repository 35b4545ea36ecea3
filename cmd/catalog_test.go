package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/climate-pipeline/internal/model"
)

func TestFormatTables(t *testing.T) {
	tables := []model.Table{
		{
			Dataset:      "zoomcamp_climate_warehouse",
			Name:         "world_bank_data_2022",
			URI:          "s3://zoomcamp-climate-trace/processed/world_bank/2022/data.parquet",
			Columns:      []model.Column{{Name: "country_code", Type: "STRING"}, {Name: "year", Type: "INT64"}},
			Rows:         217,
			RegisteredAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatTables(&buf, tables)
	out := buf.String()

	assert.Contains(t, out, "TABLE")
	assert.Contains(t, out, "zoomcamp_climate_warehouse.world_bank_data_2022")
	assert.Contains(t, out, "217")
	assert.Contains(t, out, "processed/world_bank/2022/data.parquet")
	assert.Contains(t, out, "2024-03-01 09:30")
}

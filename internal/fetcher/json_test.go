package fetcher

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emissionRow struct {
	Country string  `json:"country"`
	CO2     float64 `json:"co2"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"country":"USA","co2":5000},{"country":"FRA","co2":300}]`

	ch, errCh := DecodeJSONArray[emissionRow](context.Background(), strings.NewReader(input))

	var rows []emissionRow
	for row := range ch {
		rows = append(rows, row)
	}
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, rows, 2)
	assert.Equal(t, "USA", rows[0].Country)
	assert.InDelta(t, 300.0, rows[1].CO2, 1e-9)
}

func TestDecodeJSONArray_InvalidFormat(t *testing.T) {
	ch, errCh := DecodeJSONArray[emissionRow](context.Background(), strings.NewReader(`{"country":"USA"}`))
	for range ch { //nolint:revive // drain
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "expected '['")
}

func TestCollectJSONArray(t *testing.T) {
	rows, err := CollectJSONArray[emissionRow](context.Background(), strings.NewReader(`[{"country":"KEN","co2":17.5}]`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "KEN", rows[0].Country)
}

func TestCollectJSONArray_Heterogeneous(t *testing.T) {
	// World Bank responses are [meta, data].
	input := `[{"page":1,"pages":1},[{"date":"2022"}]]`
	parts, err := CollectJSONArray[json.RawMessage](context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.JSONEq(t, `[{"date":"2022"}]`, string(parts[1]))
}

func TestCollectJSONArray_Empty(t *testing.T) {
	rows, err := CollectJSONArray[emissionRow](context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCollectJSONArray_DecodeError(t *testing.T) {
	_, err := CollectJSONArray[emissionRow](context.Background(), strings.NewReader(`[{"country":1}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode element")
}

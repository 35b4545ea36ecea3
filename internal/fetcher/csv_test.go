package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "country,year,co2\nUSA,2022,5000\nFRA,2022,300\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"country", "year", "co2"}, rows[0])
	assert.Equal(t, []string{"FRA", "2022", "300"}, rows[2])
}

func TestStreamCSV_WithHeader(t *testing.T) {
	input := "country,year\nKEN,2022\nUSA,2022\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"country", "year"}, <-headerCh)
	assert.Equal(t, []string{"KEN", "2022"}, rows[0])
}

func TestStreamCSV_NormalizeHeader(t *testing.T) {
	input := "\ufeffcountry , year,SP.POP.TOTL\nKEN,2022,53000000\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader:       true,
		HeaderCh:        headerCh,
		NormalizeHeader: true,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"country", "year", "SP.POP.TOTL"}, <-headerCh)
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	input := " KEN , 2022 \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{TrimSpace: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"KEN", "2022"}, rows[0])
}

func TestStreamCSV_VariableFields(t *testing.T) {
	input := "a,b,c\n1,2\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{HasHeader: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "2"}, rows[0])
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{HasHeader: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\n1\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestNormalizeHeader_ComposesUnicode(t *testing.T) {
	// "e" + combining acute accent composes to a single rune under NFC.
	got := NormalizeHeader([]string{"cafe\u0301"})
	assert.Equal(t, []string{"caf\u00e9"}, got)
}

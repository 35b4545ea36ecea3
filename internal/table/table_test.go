package table

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffCountry,year,SP.POP.TOTL\nKEN,2022,53000000\nUSA,2022\n"

	tbl, err := ReadCSV(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"Country", "year", "SP.POP.TOTL"}, tbl.Header)
	assert.Equal(t, 2, tbl.Len())
	assert.True(t, tbl.Has("country"))
	assert.True(t, tbl.Has("sp.pop.totl"))
	assert.False(t, tbl.Has("co2"))

	assert.Equal(t, "KEN", tbl.Value(tbl.Rows[0], "COUNTRY"))
	assert.Equal(t, "53000000", tbl.Value(tbl.Rows[0], "SP.POP.TOTL"))
	assert.Empty(t, tbl.Value(tbl.Rows[1], "SP.POP.TOTL"), "short rows read as missing")
	assert.Empty(t, tbl.Value(tbl.Rows[0], "nope"))
}

func TestReadCSV_Empty(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, tbl.Header)
	assert.Zero(t, tbl.Len())
	assert.False(t, tbl.Has("country"))
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader("country,co2\n"))
	require.NoError(t, err)
	assert.True(t, tbl.Has("co2"))
	assert.Zero(t, tbl.Len())
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(path, []byte("country,co2\nUSA,5000\n"), 0o644))

	tbl, err := ReadCSVFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "5000", tbl.Value(tbl.Rows[0], "co2"))
}

func TestReadCSVFile_Missing(t *testing.T) {
	_, err := ReadCSVFile(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_DuplicateHeaderFirstWins(t *testing.T) {
	tbl := New([]string{"a", "A"}, [][]string{{"1", "2"}})
	i, ok := tbl.Index("a")
	require.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestCell_OutOfRange(t *testing.T) {
	assert.Empty(t, Cell([]string{"x"}, 3))
	assert.Empty(t, Cell([]string{"x"}, -1))
	assert.Equal(t, "x", Cell([]string{"x"}, 0))
}

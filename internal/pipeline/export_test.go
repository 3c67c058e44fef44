package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-geo-enrich/internal/model"
)

func newMixedTable(t *testing.T) *model.Table {
	t.Helper()
	created := time.Date(2013, 10, 31, 2, 8, 41, 0, time.UTC)
	tbl, err := model.NewTable(
		&model.Column{Name: "unique_key", Type: model.TypeInt, Values: []interface{}{int64(1), int64(2), nil}},
		&model.Column{Name: "created_date", Type: model.TypeDatetime, Values: []interface{}{created, nil, created.Add(time.Hour)}},
		&model.Column{Name: "agency", Type: model.TypeCategory, Values: []interface{}{"NYPD", "NYPD", nil}},
		&model.Column{Name: "descriptor", Type: model.TypeString, Values: []interface{}{"Loud Music", nil, "Pothole"}},
		&model.Column{Name: "zip", Type: model.TypePostal, Values: []interface{}{"01101", nil, "10001"}},
		&model.Column{Name: "latitude", Type: model.TypeFloat, Values: []interface{}{40.866183, nil, 40.6}},
	)
	require.NoError(t, err)
	return tbl
}

func TestParquetRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newMixedTable(t)
	path := filepath.Join(t.TempDir(), "out", "data.parquet")

	res, err := WriteParquet(ctx, src, path, ExportOptions{Compression: "zstd", RowGroupSize: 2})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.RecordCount)
	assert.Greater(t, res.Bytes, int64(0))

	back, err := ReadParquet(ctx, path)
	require.NoError(t, err)
	require.Equal(t, src.ColumnNames(), back.ColumnNames())
	require.Equal(t, 3, back.NumRows())

	for _, col := range src.Columns() {
		got := back.Column(col.Name)
		assert.Equal(t, col.Type, got.Type, col.Name)
		for i := range col.Values {
			if col.Type == model.TypeDatetime && col.Values[i] != nil {
				want, _ := col.Time(i)
				have, ok := got.Time(i)
				require.True(t, ok)
				assert.True(t, want.Equal(have), "%s[%d]", col.Name, i)
				continue
			}
			assert.Equal(t, col.Values[i], got.Values[i], "%s[%d]", col.Name, i)
		}
	}
}

func TestWriteParquetRejectsBadValues(t *testing.T) {
	tbl, err := model.NewTable(&model.Column{Name: "n", Type: model.TypeInt, Values: []interface{}{"x"}})
	require.NoError(t, err)

	res, err := WriteParquet(context.Background(), tbl, filepath.Join(t.TempDir(), "x.parquet"), ExportOptions{})
	assert.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestWriteParquetUnknownCompression(t *testing.T) {
	_, err := WriteParquet(context.Background(), newMixedTable(t), filepath.Join(t.TempDir(), "x.parquet"),
		ExportOptions{Compression: "lzma"})
	assert.ErrorContains(t, err, "lzma")
}

func TestRoundTripReportsSizes(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "311.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(serviceRequestsCSV), 0o644))

	tbl, err := LoadCSV(context.Background(), csvPath, defaultIngestOptions())
	require.NoError(t, err)

	rt, err := RoundTrip(context.Background(), tbl, filepath.Join(dir, "data.parquet"), csvPath, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(serviceRequestsCSV)), rt.CSVBytes)
	assert.Greater(t, rt.Ratio, 0.0)
	assert.Equal(t, tbl.NumRows(), rt.Table.NumRows())
	assert.Equal(t, model.TypeCategory, rt.Table.Column("borough").Type)
	assert.Equal(t, tbl.Column("zip").Values, rt.Table.Column("zip").Values)
}

func TestExportTableCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enriched.csv")
	res, err := ExportTable(context.Background(), newMixedTable(t), path, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "csv", res.Type)
	assert.Equal(t, 3, res.RecordCount)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "unique_key,created_date,agency,descriptor,zip,latitude", lines[0])
	assert.Equal(t, "1,2013-10-31T02:08:41Z,NYPD,Loud Music,01101,40.866183", lines[1])
	assert.Equal(t, "2,,NYPD,,,", lines[2])
}

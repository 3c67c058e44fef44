package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/model"
)

const serviceRequestsCSV = `Unique Key,Created Date,Closed Date,Agency,Complaint Type,Descriptor,Incident Zip,City,Borough,Latitude,Longitude,Status
1,10/31/2013 02:08:41 AM,,NYPD,Noise - Street/Sidewalk,Loud Talking,10034,NEW YORK,MANHATTAN,40.866183,-73.918930,Open
2,10/31/2013 02:01:04 AM,10/31/2013 02:40:00 AM,NYPD,Illegal Parking,Blocked Hydrant,,ASTORIA,QUEENS,40.775945,-73.915445,Closed
3,10/31/2013 01:59:54 AM,,DSNY,Dirty Conditions,N/A,NO CLUE,BRONX,BRONX,,,Open
4,10/31/2013 01:56:23 AM,,HPD,HEATING,Heat,1101.0,BROOKLYN,Unspecified,40.6,-73.9,Open
5,10/31/2013 01:50:00 AM,,DOT,Street Condition,Pothole,11201-1234,BROOKLYN,BROOKLYN,40.69,-73.99,Open
`

func defaultIngestOptions() IngestOptions {
	return IngestOptionsFromConfig(config.New().Ingest)
}

func TestReadCSVDefaultSchema(t *testing.T) {
	tbl, err := ReadCSV(context.Background(), strings.NewReader(serviceRequestsCSV), defaultIngestOptions())
	require.NoError(t, err)

	assert.Equal(t, 5, tbl.NumRows())
	assert.Equal(t, []string{
		"unique_key", "created_date", "closed_date", "agency", "complaint_type", "descriptor",
		"zip", "city", "borough", "latitude", "longitude", "status",
	}, tbl.ColumnNames())

	assert.Equal(t, model.TypeInt, tbl.Column("unique_key").Type)
	assert.Equal(t, int64(1), tbl.Column("unique_key").Values[0])

	created, ok := tbl.Column("created_date").Time(0)
	require.True(t, ok)
	assert.True(t, created.Equal(time.Date(2013, 10, 31, 2, 8, 41, 0, time.UTC)))
	assert.Nil(t, tbl.Column("closed_date").Values[0])
	closed, ok := tbl.Column("closed_date").Time(1)
	require.True(t, ok)
	assert.Equal(t, 2, closed.Hour())

	zip := tbl.Column("zip")
	assert.Equal(t, model.TypePostal, zip.Type)
	assert.Equal(t, []interface{}{"10034", nil, nil, "01101", "11201"}, zip.Values)

	// sentinels
	assert.Nil(t, tbl.Column("descriptor").Values[2])
	assert.Nil(t, tbl.Column("borough").Values[3])
	assert.Nil(t, tbl.Column("latitude").Values[2])

	lat, ok := tbl.Column("latitude").Float(0)
	require.True(t, ok)
	assert.InDelta(t, 40.866183, lat, 1e-9)

	// unlisted column keeps a normalized name and string type
	assert.Equal(t, model.TypeString, tbl.Column("status").Type)
	assert.Equal(t, "Closed", tbl.Column("status").Values[1])
}

func TestReadCSVSelectOnly(t *testing.T) {
	opts := defaultIngestOptions()
	opts.SelectOnly = true
	tbl, err := ReadCSV(context.Background(), strings.NewReader(serviceRequestsCSV), opts)
	require.NoError(t, err)
	assert.Nil(t, tbl.Column("status"))
	assert.Len(t, tbl.Columns(), 11)
}

func TestReadCSVPerColumnNA(t *testing.T) {
	opts := IngestOptions{
		Columns: []model.ColumnSpec{
			{Source: "a", Name: "a", Type: model.TypeInt, NAValues: []string{"-1"}},
			{Source: "b", Name: "b", Type: model.TypeString},
		},
	}
	tbl, err := ReadCSV(context.Background(), strings.NewReader("a,b\n-1,-1\n2,x\n"), opts)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, int64(2)}, tbl.Column("a").Values)
	assert.Equal(t, []interface{}{"-1", "x"}, tbl.Column("b").Values)
}

func TestReadCSVParseError(t *testing.T) {
	data := "Unique Key,Latitude\n1,40.1\nabc,40.2\n"
	opts := IngestOptions{Columns: []model.ColumnSpec{
		{Source: "Unique Key", Name: "unique_key", Type: model.TypeInt},
		{Source: "Latitude", Name: "latitude", Type: model.TypeFloat},
	}}

	_, err := ReadCSV(context.Background(), strings.NewReader(data), opts)
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Line)
	assert.Equal(t, "unique_key", perr.Column)
	assert.Equal(t, "abc", perr.Value)
	assert.Contains(t, err.Error(), "line 3")
}

func TestReadCSVBadDate(t *testing.T) {
	opts := IngestOptions{Columns: []model.ColumnSpec{
		{Source: "d", Name: "d", Type: model.TypeDatetime, Layout: "01/02/2006 03:04:05 PM"},
	}}
	_, err := ReadCSV(context.Background(), strings.NewReader("d\n2013-10-31\n"), opts)
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestReadCSVMissingColumn(t *testing.T) {
	opts := IngestOptions{Columns: []model.ColumnSpec{{Source: "Nope", Name: "nope"}}}
	_, err := ReadCSV(context.Background(), strings.NewReader("a\n1\n"), opts)
	assert.ErrorContains(t, err, `"Nope"`)
}

func TestReadCSVDelimiterAndHeaderCleanup(t *testing.T) {
	data := "\ufeff\"Incident Zip\" ; Borough\n10001;MANHATTAN\n"
	opts := IngestOptions{
		Delimiter: ';',
		Columns:   []model.ColumnSpec{{Source: "Incident Zip", Name: "zip", Type: model.TypePostal}},
	}
	tbl, err := ReadCSV(context.Background(), strings.NewReader(data), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"zip", "borough"}, tbl.ColumnNames())
	assert.Equal(t, "MANHATTAN", tbl.Column("borough").Values[0])
}

func TestReadCSVCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader(serviceRequestsCSV), defaultIngestOptions())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "311.csv")
	require.NoError(t, os.WriteFile(path, []byte(serviceRequestsCSV), 0o644))

	tbl, err := LoadCSV(context.Background(), path, defaultIngestOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, tbl.NumRows())

	_, err = LoadCSV(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), defaultIngestOptions())
	assert.Error(t, err)
}

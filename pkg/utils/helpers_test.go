package utils

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePostalCode(t *testing.T) {
	cases := map[string]string{
		"10001":      "10001",
		" 2134 ":     "02134",
		"2134.0":     "02134",
		"10001-1234": "10001",
		"501":        "00501",
		"N/A":        "N/A",
		"":           "",
		"123456":     "123456",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePostalCode(in), "input %q", in)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "incident_zip", NormalizeName("Incident Zip"))
	assert.Equal(t, "created_date", NormalizeName(` "Created Date" `))
	assert.Equal(t, "x_y_z", NormalizeName("X / Y (Z)"))
}

func TestParseNumbers(t *testing.T) {
	i, err := ParseInt(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), i)

	i, err = ParseInt("7.0")
	require.NoError(t, err)
	assert.Equal(t, int64(7), i)

	_, err = ParseInt("7.5")
	assert.Error(t, err)

	f, err := ParseFloat("-73.95")
	require.NoError(t, err)
	assert.InDelta(t, -73.95, f, 1e-9)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("soon", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
}

func TestOutputManager(t *testing.T) {
	base := t.TempDir()
	om := NewOutputManager(base)

	p, err := om.GetOutputFilePath("run-1", "out.parquet")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "run-1", "out.parquet"), p)
	assert.DirExists(t, filepath.Join(base, "run-1"))

	abs := filepath.Join(base, "nested", "x.parquet")
	p, err = om.GetOutputFilePath("run-1", abs)
	require.NoError(t, err)
	assert.Equal(t, abs, p)

	assert.Equal(t, "parquet", om.GetFileType("x.PARQUET"))
	assert.Equal(t, "csv", om.GetFileType("a.csv"))
}

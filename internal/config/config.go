// Package config defines the pipeline configuration and its defaults.
package config

import (
	"time"

	"go-geo-enrich/internal/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogJSON switches log output to JSON records.
	LogJSON bool `koanf:"log_json"`

	// OutputDir is where per-run output directories are created.
	OutputDir string `koanf:"output_dir"`

	// StorePath is the SQLite file that records runs.
	StorePath string `koanf:"store_path"`

	// MetricsFile, when set, receives Prometheus metrics after each run.
	MetricsFile string `koanf:"metrics_file"`

	// RunTimeout bounds a whole run. Zero means no limit.
	RunTimeout time.Duration `koanf:"run_timeout"`

	Ingest  IngestConfig  `koanf:"ingest"`
	Geocode GeocodeConfig `koanf:"geocode"`
	Export  ExportConfig  `koanf:"export"`
	Enrich  EnrichConfig  `koanf:"enrich"`
}

// IngestConfig describes the delimited input file.
type IngestConfig struct {
	Path          string             `koanf:"path"`
	Delimiter     string             `koanf:"delimiter"`
	NAValues      []string           `koanf:"na_values"`
	KeepDefaultNA bool               `koanf:"keep_default_na"`
	SelectOnly    bool               `koanf:"select_only"`
	Columns       []model.ColumnSpec `koanf:"columns"`

	// Transformations run on text columns after parsing, e.g. "trimStrings".
	Transformations []string `koanf:"transformations"`
}

// GeocodeConfig configures the reverse-geocoding fill.
type GeocodeConfig struct {
	Skip         bool          `koanf:"skip"`
	BaseURL      string        `koanf:"base_url"`
	UserAgent    string        `koanf:"user_agent"`
	Timeout      time.Duration `koanf:"timeout"`
	MinDelay     time.Duration `koanf:"min_delay"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryWaitMin time.Duration `koanf:"retry_wait_min"`
	RetryWaitMax time.Duration `koanf:"retry_wait_max"`
	CachePath    string        `koanf:"cache_path"`
	PostalColumn string        `koanf:"postal_column"`
	LatColumn    string        `koanf:"lat_column"`
	LonColumn    string        `koanf:"lon_column"`
}

// ExportConfig configures the columnar output.
type ExportConfig struct {
	Path         string `koanf:"path"`
	EnrichedPath string `koanf:"enriched_path"`
	Compression  string `koanf:"compression"`
	RowGroupSize int64  `koanf:"row_group_size"`
}

// EnrichConfig configures the demographic join.
type EnrichConfig struct {
	Skip   bool     `koanf:"skip"`
	DBPath string   `koanf:"db_path"`
	Fields []string `koanf:"fields"`
	Prefix string   `koanf:"prefix"`
}

const nycDateLayout = "01/02/2006 03:04:05 PM"

// New returns a Config populated with defaults. The default schema reads
// the NYC 311 service request export.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		OutputDir: "output",
		StorePath: "pipeline.db",
		Ingest: IngestConfig{
			Delimiter:     ",",
			KeepDefaultNA: true,
			NAValues:      []string{"Unspecified", "UNKNOWN", "0", "00000", "000000", "NO CLUE", "NA", "N/A"},
			Columns: []model.ColumnSpec{
				{Source: "Unique Key", Name: "unique_key", Type: model.TypeInt},
				{Source: "Created Date", Name: "created_date", Type: model.TypeDatetime, Layout: nycDateLayout},
				{Source: "Closed Date", Name: "closed_date", Type: model.TypeDatetime, Layout: nycDateLayout},
				{Source: "Agency", Name: "agency", Type: model.TypeCategory},
				{Source: "Complaint Type", Name: "complaint_type", Type: model.TypeCategory},
				{Source: "Descriptor", Name: "descriptor", Type: model.TypeString},
				{Source: "Incident Zip", Name: "zip", Type: model.TypePostal},
				{Source: "City", Name: "city", Type: model.TypeCategory},
				{Source: "Borough", Name: "borough", Type: model.TypeCategory},
				{Source: "Latitude", Name: "latitude", Type: model.TypeFloat},
				{Source: "Longitude", Name: "longitude", Type: model.TypeFloat},
			},
		},
		Geocode: GeocodeConfig{
			BaseURL:      "https://nominatim.openstreetmap.org",
			UserAgent:    "go-geo-enrich/1.0",
			Timeout:      time.Second,
			MinDelay:     time.Second,
			MaxRetries:   0,
			RetryWaitMin: 500 * time.Millisecond,
			RetryWaitMax: 5 * time.Second,
			PostalColumn: "zip",
			LatColumn:    "latitude",
			LonColumn:    "longitude",
		},
		Export: ExportConfig{
			Path:         "data.parquet",
			EnrichedPath: "enriched.parquet",
			Compression:  "snappy",
			RowGroupSize: 64 * 1024,
		},
		Enrich: EnrichConfig{
			DBPath: "zipcodes.db",
			Fields: []string{"median_home_value", "median_household_income", "population", "population_density"},
		},
	}
}

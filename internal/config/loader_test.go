package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/model"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should load the NYC 311 defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Ingest.Delimiter, convey.ShouldEqual, ",")
				convey.So(cfg.Ingest.KeepDefaultNA, convey.ShouldBeTrue)
				convey.So(cfg.Geocode.Timeout, convey.ShouldEqual, time.Second)
				convey.So(cfg.Geocode.MaxRetries, convey.ShouldEqual, 0)
				convey.So(cfg.Geocode.PostalColumn, convey.ShouldEqual, "zip")
				convey.So(cfg.Export.Compression, convey.ShouldEqual, "snappy")
				convey.So(len(cfg.Ingest.Columns), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("ENRICH_LOG_LEVEL", "debug")
			_ = os.Setenv("ENRICH_GEOCODE__TIMEOUT", "3s")
			_ = os.Setenv("ENRICH_GEOCODE__MAX_RETRIES", "2")
			_ = os.Setenv("ENRICH_ENRICH__FIELDS", "median_home_value,state")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.Geocode.Timeout, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.Geocode.MaxRetries, convey.ShouldEqual, 2)
				convey.So(cfg.Enrich.Fields, convey.ShouldResemble, []string{"median_home_value", "state"})
			})
		})

		convey.Convey("When list settings come from the environment", func() {
			_ = os.Setenv("ENRICH_INGEST__NA_VALUES", "NA, N/A,-")
			_ = os.Setenv("ENRICH_INGEST__TRANSFORMATIONS", "trimStrings,normalizeNames")
			_ = os.Setenv("ENRICH_INGEST__DELIMITER", ",")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx, "")

			convey.Convey("Then comma-separated values become lists", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Ingest.NAValues, convey.ShouldResemble, []string{"NA", "N/A", "-"})
				convey.So(cfg.Ingest.Transformations, convey.ShouldResemble, []string{"trimStrings", "normalizeNames"})
				convey.So(cfg.Ingest.Delimiter, convey.ShouldEqual, ",")
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			yamlContent := `
output_dir: /tmp/runs
ingest:
  path: requests.csv
  delimiter: ";"
  na_values: ["-"]
  columns:
    - source: "Opened"
      name: opened
      type: date
      layout: "2006-01-02"
    - source: "Zip"
      name: zip
      type: zip
geocode:
  min_delay: 250ms
export:
  compression: zstd
`
			path := createTempConfigFile(t, yamlContent)
			cfg, err := config.Load(ctx, path)

			convey.Convey("Then the file values win over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.OutputDir, convey.ShouldEqual, "/tmp/runs")
				convey.So(cfg.Ingest.Path, convey.ShouldEqual, "requests.csv")
				convey.So(cfg.Ingest.Delimiter, convey.ShouldEqual, ";")
				convey.So(cfg.Ingest.NAValues, convey.ShouldResemble, []string{"-"})
				convey.So(cfg.Geocode.MinDelay, convey.ShouldEqual, 250*time.Millisecond)
				convey.So(cfg.Export.Compression, convey.ShouldEqual, "zstd")
			})

			convey.Convey("Then column types are normalized", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Ingest.Columns, convey.ShouldHaveLength, 2)
				convey.So(cfg.Ingest.Columns[0].Type, convey.ShouldEqual, model.TypeDatetime)
				convey.So(cfg.Ingest.Columns[1].Type, convey.ShouldEqual, model.TypePostal)
			})
		})

		convey.Convey("When the file names a missing path", func() {
			_, err := config.Load(ctx, filepath.Join(t.TempDir(), "missing.yaml"))

			convey.Convey("Then a load error is returned", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the config is invalid", func() {
			path := createTempConfigFile(t, `
ingest:
  columns:
    - source: "When"
      name: when
      type: datetime
`)
			_, err := config.Load(ctx, path)

			convey.Convey("Then it is rejected as invalid", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	convey.Convey("Given default config", t, func() {
		cfg := config.New()

		convey.Convey("Unknown enrich fields are rejected", func() {
			cfg.Enrich.Fields = []string{"shoe_size"}
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Repeated enrich fields are rejected", func() {
			cfg.Enrich.Fields = []string{"population", "state", "population"}
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "population")
		})

		convey.Convey("Unknown compression is rejected", func() {
			cfg.Export.Compression = "rar"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Duplicate column names are rejected", func() {
			cfg.Ingest.Columns = append(cfg.Ingest.Columns, model.ColumnSpec{Source: "Other Zip", Name: "zip"})
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("A skipped geocoder needs no base URL", func() {
			cfg.Geocode.Skip = true
			cfg.Geocode.BaseURL = ""
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func clearConfigEnvVars() {
	for _, k := range []string{
		"ENRICH_CONFIG", "ENRICH_LOG_LEVEL", "ENRICH_GEOCODE__TIMEOUT",
		"ENRICH_GEOCODE__MAX_RETRIES", "ENRICH_ENRICH__FIELDS", "ENRICH_INGEST__NA_VALUES",
		"ENRICH_INGEST__TRANSFORMATIONS", "ENRICH_INGEST__DELIMITER",
	} {
		_ = os.Unsetenv(k)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

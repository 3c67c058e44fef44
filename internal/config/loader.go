package config

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"go-geo-enrich/internal/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENRICH_"

// Load builds a Config by layering defaults, an optional YAML file and env
// vars. Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML): path, or ENRICH_CONFIG when path is empty
//  3. env (prefix ENRICH_, "__" separates nested keys, e.g. ENRICH_GEOCODE__TIMEOUT)
func Load(_ context.Context, path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(ErrLoadConfig, "reading %s: %v", path, err)
		}
	}

	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(s, v string) (string, interface{}) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
		if listKeys[key] {
			return key, splitList(v)
		}
		return key, v
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errors.Wrapf(ErrLoadConfig, "reading environment: %v", err)
	}

	cfg := *base
	// Lists replace the defaults instead of being decoded over them element by element.
	if k.Exists("ingest.columns") {
		cfg.Ingest.Columns = nil
	}
	if k.Exists("ingest.na_values") {
		cfg.Ingest.NAValues = nil
	}
	if k.Exists("enrich.fields") {
		cfg.Enrich.Fields = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Wrapf(ErrLoadConfig, "decoding: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// listKeys are decoded from comma-separated env values.
var listKeys = map[string]bool{
	"ingest.na_values":       true,
	"ingest.transformations": true,
	"enrich.fields":          true,
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return []string{}
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var compressions = map[string]bool{"snappy": true, "gzip": true, "zstd": true, "brotli": true, "none": true, "": true}

// Validate checks the configuration and normalizes column types in place.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}

	if c.RunTimeout < 0 {
		return invalid("run_timeout must not be negative")
	}
	if utf8.RuneCountInString(c.Ingest.Delimiter) > 1 {
		return invalid("delimiter must be a single character, got %q", c.Ingest.Delimiter)
	}

	seen := make(map[string]bool, len(c.Ingest.Columns))
	for i := range c.Ingest.Columns {
		col := &c.Ingest.Columns[i]
		if col.Source == "" {
			return invalid("column %d has no source header", i)
		}
		if col.Name == "" {
			return invalid("column %q has no name", col.Source)
		}
		if seen[col.Name] {
			return invalid("duplicate column name %q", col.Name)
		}
		seen[col.Name] = true

		typ, err := model.ParseColumnType(string(col.Type))
		if err != nil {
			return invalid("column %q: %v", col.Name, err)
		}
		col.Type = typ
		if typ == model.TypeDatetime && col.Layout == "" {
			return invalid("datetime column %q needs a layout", col.Name)
		}
	}

	g := c.Geocode
	if g.PostalColumn == "" || g.LatColumn == "" || g.LonColumn == "" {
		return invalid("geocode postal, latitude and longitude columns are required")
	}
	if !g.Skip {
		if g.BaseURL == "" {
			return invalid("geocode base_url is required")
		}
		if g.Timeout <= 0 {
			return invalid("geocode timeout must be positive")
		}
	}
	if g.MinDelay < 0 || g.MaxRetries < 0 {
		return invalid("geocode min_delay and max_retries must not be negative")
	}

	if !compressions[strings.ToLower(c.Export.Compression)] {
		return invalid("unknown compression %q", c.Export.Compression)
	}
	if c.Export.RowGroupSize < 0 {
		return invalid("row_group_size must not be negative")
	}

	fields := make(map[string]bool, len(c.Enrich.Fields))
	for _, f := range c.Enrich.Fields {
		if _, ok := model.LookupDemographicField(f); !ok {
			return invalid("unknown enrich field %q", f)
		}
		if fields[f] {
			return invalid("duplicate enrich field %q", f)
		}
		fields[f] = true
	}
	if !c.Enrich.Skip && c.Enrich.DBPath == "" {
		return invalid("enrich db_path is required")
	}
	return nil
}

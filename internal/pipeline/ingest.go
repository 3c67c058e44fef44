package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/model"
	"go-geo-enrich/pkg/logger"
	"go-geo-enrich/pkg/utils"
)

// DefaultNAValues are the strings treated as missing when KeepDefaultNA is set.
var DefaultNAValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// IngestOptions controls how a delimited file becomes a table
type IngestOptions struct {
	Delimiter     rune
	NAValues      []string
	KeepDefaultNA bool
	SelectOnly    bool // drop columns without a ColumnSpec
	Columns       []model.ColumnSpec
}

// IngestOptionsFromConfig converts the ingest section of the config
func IngestOptionsFromConfig(c config.IngestConfig) IngestOptions {
	delim := ','
	if c.Delimiter != "" {
		delim, _ = utf8.DecodeRuneInString(c.Delimiter)
	}
	return IngestOptions{
		Delimiter:     delim,
		NAValues:      c.NAValues,
		KeepDefaultNA: c.KeepDefaultNA,
		SelectOnly:    c.SelectOnly,
		Columns:       c.Columns,
	}
}

// ParseError reports a value that could not be coerced to its column type
type ParseError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %s: cannot parse %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// columnPlan maps one input field onto a table column
type columnPlan struct {
	index  int
	spec   model.ColumnSpec
	na     map[string]struct{}
	column *model.Column
}

// LoadCSV reads a delimited file from a local path or an http(s) URL
func LoadCSV(ctx context.Context, pathOrURL string, opts IngestOptions) (*model.Table, error) {
	var reader io.Reader
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building CSV request")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "failed to GET CSV")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("failed to GET CSV: status %d", resp.StatusCode)
		}
		reader = resp.Body
	} else {
		file, err := os.Open(pathOrURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open CSV file")
		}
		defer file.Close()
		reader = file
	}

	start := time.Now()
	t, err := ReadCSV(ctx, reader, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", pathOrURL)
	}
	logger.Named("ingest").Info(ctx, "📄 CSV ingestion done",
		logger.String("source", pathOrURL),
		logger.Int("rows", t.NumRows()),
		logger.Int("columns", len(t.Columns())),
		logger.Duration("took", time.Since(start)))
	return t, nil
}

// ReadCSV parses delimited text with a header row into a table
func ReadCSV(ctx context.Context, r io.Reader, opts IngestOptions) (*model.Table, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	if opts.Delimiter != 0 {
		csvReader.Comma = opts.Delimiter
	}

	headers, err := csvReader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CSV header")
	}

	plans, err := planColumns(headers, opts)
	if err != nil {
		return nil, err
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrap(err, "CSV read error")
		}

		for _, p := range plans {
			raw := ""
			if p.index < len(record) {
				raw = strings.TrimSpace(record[p.index])
			}
			v, err := coerce(raw, p)
			if err != nil {
				return nil, &ParseError{Line: line, Column: p.spec.Name, Value: raw, Err: err}
			}
			p.column.Values = append(p.column.Values, v)
		}
	}

	columns := make([]*model.Column, len(plans))
	for i, p := range plans {
		columns[i] = p.column
	}
	return model.NewTable(columns...)
}

// planColumns resolves headers against the configured schema
func planColumns(headers []string, opts IngestOptions) ([]*columnPlan, error) {
	bySource := make(map[string]model.ColumnSpec, len(opts.Columns))
	for _, spec := range opts.Columns {
		bySource[spec.Source] = spec
	}

	global := make(map[string]struct{})
	if opts.KeepDefaultNA {
		for _, s := range DefaultNAValues {
			global[s] = struct{}{}
		}
	}
	for _, s := range opts.NAValues {
		global[strings.TrimSpace(s)] = struct{}{}
	}

	matched := make(map[string]bool, len(opts.Columns))
	var plans []*columnPlan
	for i, h := range headers {
		// Clean header names: trim whitespace, a UTF-8 BOM and quotes
		clean := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		clean = strings.ReplaceAll(clean, `"`, "")

		spec, ok := bySource[clean]
		if ok {
			matched[clean] = true
		} else {
			if opts.SelectOnly {
				continue
			}
			spec = model.ColumnSpec{Source: clean, Name: utils.NormalizeName(clean), Type: model.TypeString}
		}
		if spec.Name == "" {
			spec.Name = utils.NormalizeName(clean)
		}
		if spec.Type == "" {
			spec.Type = model.TypeString
		}

		na := global
		if len(spec.NAValues) > 0 {
			na = make(map[string]struct{}, len(global)+len(spec.NAValues))
			for s := range global {
				na[s] = struct{}{}
			}
			for _, s := range spec.NAValues {
				na[strings.TrimSpace(s)] = struct{}{}
			}
		}
		plans = append(plans, &columnPlan{
			index:  i,
			spec:   spec,
			na:     na,
			column: model.NewColumn(spec.Name, spec.Type, 1024),
		})
	}

	for _, spec := range opts.Columns {
		if !matched[spec.Source] {
			return nil, errors.Errorf("column %q not found in header", spec.Source)
		}
	}
	return plans, nil
}

// coerce converts one raw field; a nil result is a missing value
func coerce(raw string, p *columnPlan) (interface{}, error) {
	if _, missing := p.na[raw]; missing {
		return nil, nil
	}

	switch p.spec.Type {
	case model.TypeInt:
		return utils.ParseInt(raw)
	case model.TypeFloat:
		return utils.ParseFloat(raw)
	case model.TypeDatetime:
		return time.ParseInLocation(p.spec.Layout, raw, time.UTC)
	case model.TypePostal:
		zip := utils.NormalizePostalCode(raw)
		if _, missing := p.na[zip]; missing {
			return nil, nil
		}
		return zip, nil
	default:
		return raw, nil
	}
}

package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/model"
	"go-geo-enrich/internal/zipdb"
	"go-geo-enrich/pkg/logger"
	"go-geo-enrich/pkg/metrics"
)

// Lookuper finds demographics for a ZIP code. It returns zipdb.ErrNotFound
// for unknown codes.
type Lookuper interface {
	Lookup(ctx context.Context, zip string) (*model.Demographics, error)
}

// EnrichOptions controls the demographic join
type EnrichOptions struct {
	PostalColumn string
	Fields       []string // empty means every field
	Prefix       string   // prepended to added column names
	Metrics      *metrics.Manager
}

// EnrichOptionsFromConfig builds options from the enrich and geocode sections
func EnrichOptionsFromConfig(cfg *config.Config) EnrichOptions {
	return EnrichOptions{
		PostalColumn: cfg.Geocode.PostalColumn,
		Fields:       cfg.Enrich.Fields,
		Prefix:       cfg.Enrich.Prefix,
	}
}

// EnrichResult reports the lookups made and the join coverage
type EnrichResult struct {
	Queried     []string      `json:"queried"` // distinct codes, sorted
	Matched     int           `json:"matched"` // codes found in the database
	Unmatched   []string      `json:"unmatched"`
	RowsMatched int           `json:"rows_matched"`
	Columns     []string      `json:"columns"`
	Duration    time.Duration `json:"duration"`
}

// EnrichDemographics looks up each distinct postal code once and
// left-joins the selected demographic fields onto every row.
func EnrichDemographics(ctx context.Context, t *model.Table, lk Lookuper, opts EnrichOptions) (EnrichResult, error) {
	start := time.Now()
	var result EnrichResult

	fields, err := resolveFields(opts.Fields)
	if err != nil {
		return result, err
	}
	for _, f := range fields {
		if t.Column(opts.Prefix+f.Name) != nil {
			return result, errors.Errorf("column %q already exists; set an enrich prefix", opts.Prefix+f.Name)
		}
	}

	groups, err := GroupByColumn(t, opts.PostalColumn)
	if err != nil {
		return result, err
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}
	log := logger.Named("enrich")

	found := make(map[string]*model.Demographics, len(groups))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Queried = append(result.Queried, g.Key)
		d, err := lk.Lookup(ctx, g.Key)
		switch {
		case errors.Is(err, zipdb.ErrNotFound):
			result.Unmatched = append(result.Unmatched, g.Key)
			m.RecordZipLookup(metrics.OutcomeNotFound)
			log.Debug(ctx, "zip code not in database", logger.String("zip", g.Key))
			continue
		case err != nil:
			m.RecordZipLookup(metrics.OutcomeError)
			return result, errors.Wrapf(err, "looking up %s", g.Key)
		}
		m.RecordZipLookup(metrics.OutcomeSuccess)
		found[g.Key] = d
		result.Matched++
	}

	postal := t.Column(opts.PostalColumn)
	added := make([]*model.Column, len(fields))
	for k, f := range fields {
		added[k] = model.NewColumn(opts.Prefix+f.Name, f.Type, t.NumRows())
	}
	for i := 0; i < t.NumRows(); i++ {
		var d *model.Demographics
		if zip, ok := postal.String(i); ok {
			d = found[zip]
		}
		if d != nil {
			result.RowsMatched++
		}
		for k, f := range fields {
			added[k].Values = append(added[k].Values, f.Value(d))
		}
	}
	for _, col := range added {
		if err := t.AddColumn(col); err != nil {
			return result, err
		}
		result.Columns = append(result.Columns, col.Name)
	}

	result.Duration = time.Since(start)
	log.Info(ctx, "🏘️ demographic join done",
		logger.Int("distinct_zips", len(result.Queried)),
		logger.Int("matched", result.Matched),
		logger.Int("rows_matched", result.RowsMatched),
		logger.Int("rows", t.NumRows()),
		logger.Duration("took", result.Duration))
	return result, nil
}

func resolveFields(names []string) ([]model.DemographicField, error) {
	if len(names) == 0 {
		return model.DemographicFields, nil
	}
	fields := make([]model.DemographicField, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		f, ok := model.LookupDemographicField(name)
		if !ok {
			return nil, errors.Errorf("unknown demographic field: %s", name)
		}
		if seen[name] {
			return nil, errors.Errorf("duplicate demographic field: %s", name)
		}
		seen[name] = true
		fields = append(fields, f)
	}
	return fields, nil
}

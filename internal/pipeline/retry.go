package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/model"
	"go-geo-enrich/internal/store"
	"go-geo-enrich/pkg/logger"
)

// SpecFromConfig captures the parts of cfg that define a run
func SpecFromConfig(cfg *config.Config) model.RunSpec {
	spec := model.RunSpec{
		Input:        cfg.Ingest.Path,
		Columns:      cfg.Ingest.Columns,
		ParquetPath:  cfg.Export.Path,
		EnrichedPath: cfg.Export.EnrichedPath,
		SkipGeocode:  cfg.Geocode.Skip,
		SkipEnrich:   cfg.Enrich.Skip,
		EnrichFields: cfg.Enrich.Fields,
		PostalColumn: cfg.Geocode.PostalColumn,
		LatColumn:    cfg.Geocode.LatColumn,
		LonColumn:    cfg.Geocode.LonColumn,
	}
	if !spec.SkipGeocode {
		spec.GeocoderURL = cfg.Geocode.BaseURL
	}
	if !spec.SkipEnrich {
		spec.ZipDB = cfg.Enrich.DBPath
	}
	return spec
}

// ApplySpec overlays a stored run description onto cfg
func ApplySpec(cfg *config.Config, spec model.RunSpec) {
	cfg.Ingest.Path = spec.Input
	if len(spec.Columns) > 0 {
		cfg.Ingest.Columns = spec.Columns
	}
	cfg.Export.Path = spec.ParquetPath
	cfg.Export.EnrichedPath = spec.EnrichedPath
	cfg.Geocode.Skip = spec.SkipGeocode
	cfg.Enrich.Skip = spec.SkipEnrich
	if spec.GeocoderURL != "" {
		cfg.Geocode.BaseURL = spec.GeocoderURL
	}
	if spec.ZipDB != "" {
		cfg.Enrich.DBPath = spec.ZipDB
	}
	if len(spec.EnrichFields) > 0 {
		cfg.Enrich.Fields = spec.EnrichFields
	}
	if spec.PostalColumn != "" {
		cfg.Geocode.PostalColumn = spec.PostalColumn
	}
	if spec.LatColumn != "" {
		cfg.Geocode.LatColumn = spec.LatColumn
	}
	if spec.LonColumn != "" {
		cfg.Geocode.LonColumn = spec.LonColumn
	}
}

// RetryRun re-executes a stored run under the same ID. cfg supplies
// everything the stored spec does not record (credentials, timeouts).
func RetryRun(ctx context.Context, runID string, cfg *config.Config, deps Deps) (*Summary, error) {
	if !store.Enabled() {
		return nil, errors.New("run store is not open")
	}
	run, err := store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status == model.StatusCompleted {
		logger.Named("pipeline").Warn(ctx, "run already completed, executing again", logger.String("run_id", runID))
	}
	logger.Named("pipeline").Info(ctx, "🔄 Retrying run", logger.String("run_id", runID), logger.String("previous_status", run.Status))

	retryCfg := *cfg
	ApplySpec(&retryCfg, run.Spec)
	updateStatus(runID, model.StatusPending)

	summary, err := Run(ctx, runID, &retryCfg, deps)
	if err != nil {
		return summary, errors.Wrap(err, "retry failed")
	}
	return summary, nil
}

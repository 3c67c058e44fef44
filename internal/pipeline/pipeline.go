// Package pipeline loads, geocodes, exports and enriches a tabular dataset.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/geocode"
	"go-geo-enrich/internal/model"
	"go-geo-enrich/internal/store"
	"go-geo-enrich/internal/zipdb"
	"go-geo-enrich/pkg/logger"
	"go-geo-enrich/pkg/metrics"
	"go-geo-enrich/pkg/utils"
)

// Deps are the external services a run talks to. A nil Reverser or
// Lookuper skips the corresponding stage.
type Deps struct {
	Reverser geocode.Reverser
	Lookuper Lookuper
	Metrics  *metrics.Manager
}

// Summary is what a run produced
type Summary struct {
	RunID      string               `json:"run_id"`
	Rows       int                  `json:"rows"`
	Validation ValidationReport     `json:"validation"`
	Geocode    GeocodeResult        `json:"geocode"`
	RoundTrip  *RoundTripResult     `json:"round_trip,omitempty"`
	Enrich     EnrichResult         `json:"enrich"`
	Output     *model.ExportResult  `json:"output,omitempty"`
	Stages     []model.StageMetrics `json:"stages"`
	Duration   time.Duration        `json:"duration"`
	Table      *model.Table         `json:"-"`
}

// OpenDeps builds the geocoder and the ZIP database described by cfg.
// The returned function releases them.
func OpenDeps(cfg *config.Config, m *metrics.Manager) (Deps, func() error, error) {
	deps := Deps{Metrics: m}
	var closers []func() error
	closeAll := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if !cfg.Geocode.Skip {
		g := cfg.Geocode
		n, err := geocode.NewNominatim(geocode.NominatimConfig{
			BaseURL:      g.BaseURL,
			UserAgent:    g.UserAgent,
			Timeout:      g.Timeout,
			MaxRetries:   g.MaxRetries,
			RetryWaitMin: g.RetryWaitMin,
			RetryWaitMax: g.RetryWaitMax,
		})
		if err != nil {
			return deps, closeAll, err
		}
		deps.Reverser = n
		if g.CachePath != "" {
			cache, err := geocode.OpenCache(g.CachePath, n)
			if err != nil {
				return deps, closeAll, err
			}
			closers = append(closers, cache.Close)
			deps.Reverser = cache
		}
	}

	if !cfg.Enrich.Skip {
		db, err := zipdb.Open(cfg.Enrich.DBPath)
		if err != nil {
			closeAll()
			return deps, func() error { return nil }, err
		}
		closers = append(closers, db.Close)
		deps.Lookuper = db
	}
	return deps, closeAll, nil
}

func updateStatus(runID, status string) {
	if store.Enabled() {
		store.UpdateRunStatus(runID, status)
	}
}

// Run executes ingest, geocode fill, Parquet round trip, demographic join
// and final export, one stage after the other.
func Run(ctx context.Context, runID string, cfg *config.Config, deps Deps) (summary *Summary, err error) {
	start := time.Now()
	log := logger.Named("pipeline")
	log.Info(ctx, "🚀 Starting pipeline", logger.String("run_id", runID), logger.String("input", cfg.Ingest.Path))

	m := deps.Metrics
	if m == nil {
		m = metrics.Default()
	}
	tracker := NewTracker(runID, m)
	summary = &Summary{RunID: runID}

	defer func() {
		summary.Stages = tracker.Stages()
		summary.Duration = time.Since(start)
		if err != nil {
			updateStatus(runID, model.StatusFailed)
			if store.Enabled() {
				store.SaveRunError(runID, err)
			}
		}
		if cfg.MetricsFile != "" {
			if werr := m.WriteTextfile(cfg.MetricsFile); werr != nil {
				log.Warn(ctx, "metrics textfile not written", logger.Error(werr))
			}
		}
	}()

	if cfg.Ingest.Path == "" {
		return summary, errors.New("no input file configured")
	}
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}
	om := utils.NewOutputManager(cfg.OutputDir)

	// --- INGESTION STAGE ---
	updateStatus(runID, model.StatusIngesting)
	tracker.StartStage(ctx, StageIngest)
	table, err := LoadCSV(ctx, cfg.Ingest.Path, IngestOptionsFromConfig(cfg.Ingest))
	if err != nil {
		tracker.EndStage(ctx, StageIngest, 0, 1, err)
		return summary, errors.Wrap(err, "ingestion")
	}
	tracker.EndStage(ctx, StageIngest, int64(table.NumRows()), 0, nil)
	summary.Rows = table.NumRows()
	m.RecordRowsIngested(table.NumRows())
	if !strings.Contains(cfg.Ingest.Path, "://") {
		if size, err := om.GetFileSize(cfg.Ingest.Path); err == nil {
			m.SetFileSize(om.GetFileType(cfg.Ingest.Path), size)
		}
	}

	// --- TRANSFORMATION STAGE ---
	if len(cfg.Ingest.Transformations) > 0 {
		tracker.StartStage(ctx, StageTransform)
		err = TransformTable(ctx, table, cfg.Ingest.Transformations)
		tracker.EndStage(ctx, StageTransform, int64(table.NumRows()), 0, err)
		if err != nil {
			return summary, errors.Wrap(err, "transformation")
		}
	}

	// --- VALIDATION STAGE ---
	tracker.StartStage(ctx, StageValidate)
	summary.Validation = ValidateTable(ctx, table, cfg.Geocode.PostalColumn, cfg.Geocode.LatColumn, cfg.Geocode.LonColumn)
	tracker.EndStage(ctx, StageValidate, int64(table.NumRows()),
		int64(summary.Validation.InvalidPostal+summary.Validation.InvalidCoordinates), nil)

	// --- GEOCODE STAGE ---
	switch {
	case cfg.Geocode.Skip:
		tracker.SkipStage(ctx, StageGeocode, "disabled by configuration")
	case deps.Reverser == nil:
		tracker.SkipStage(ctx, StageGeocode, "no geocoder available")
	default:
		updateStatus(runID, model.StatusGeocoding)
		tracker.StartStage(ctx, StageGeocode)
		opts := GeocodeOptionsFromConfig(cfg.Geocode)
		opts.Metrics = m
		summary.Geocode, err = FillMissingPostalCodes(ctx, table, deps.Reverser, opts)
		tracker.EndStage(ctx, StageGeocode, int64(len(summary.Geocode.Filled)), int64(summary.Geocode.Failed), err)
		if err != nil {
			return summary, errors.Wrap(err, "geocode")
		}
	}

	// --- EXPORT STAGE ---
	updateStatus(runID, model.StatusExporting)
	tracker.StartStage(ctx, StageExport)
	parquetPath, err := om.GetOutputFilePath(runID, cfg.Export.Path)
	if err != nil {
		tracker.EndStage(ctx, StageExport, 0, 1, err)
		return summary, err
	}
	exportOpts := ExportOptionsFromConfig(cfg.Export)
	summary.RoundTrip, err = RoundTrip(ctx, table, parquetPath, cfg.Ingest.Path, exportOpts)
	if err != nil {
		tracker.EndStage(ctx, StageExport, 0, 1, err)
		return summary, errors.Wrap(err, "export")
	}
	tracker.EndStage(ctx, StageExport, int64(summary.RoundTrip.Write.RecordCount), 0, nil)
	m.SetFileSize("parquet", summary.RoundTrip.Write.Bytes)
	table = summary.RoundTrip.Table

	// --- ENRICHMENT STAGE ---
	switch {
	case cfg.Enrich.Skip:
		tracker.SkipStage(ctx, StageEnrich, "disabled by configuration")
	case deps.Lookuper == nil:
		tracker.SkipStage(ctx, StageEnrich, "no zip code database available")
	default:
		updateStatus(runID, model.StatusEnriching)
		tracker.StartStage(ctx, StageEnrich)
		opts := EnrichOptionsFromConfig(cfg)
		opts.Metrics = m
		summary.Enrich, err = EnrichDemographics(ctx, table, deps.Lookuper, opts)
		tracker.EndStage(ctx, StageEnrich, int64(summary.Enrich.RowsMatched), int64(len(summary.Enrich.Unmatched)), err)
		if err != nil {
			return summary, errors.Wrap(err, "enrichment")
		}
	}

	// --- FINAL EXPORT ---
	if cfg.Export.EnrichedPath != "" {
		tracker.StartStage(ctx, StageFinal)
		outPath, err := om.GetOutputFilePath(runID, cfg.Export.EnrichedPath)
		if err != nil {
			tracker.EndStage(ctx, StageFinal, 0, 1, err)
			return summary, err
		}
		out, err := ExportTable(ctx, table, outPath, exportOpts)
		if err != nil {
			tracker.EndStage(ctx, StageFinal, 0, 1, err)
			return summary, errors.Wrap(err, "final export")
		}
		tracker.EndStage(ctx, StageFinal, int64(out.RecordCount), 0, nil)
		summary.Output = &out
	}

	summary.Table = table
	updateStatus(runID, model.StatusCompleted)
	log.Info(ctx, "🏁 Pipeline completed successfully",
		logger.String("run_id", runID),
		logger.Int("rows", table.NumRows()),
		logger.Duration("took", time.Since(start)))
	return summary, nil
}

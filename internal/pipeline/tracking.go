package pipeline

import (
	"context"
	"sync"
	"time"

	"go-geo-enrich/internal/model"
	"go-geo-enrich/internal/store"
	"go-geo-enrich/pkg/logger"
	"go-geo-enrich/pkg/metrics"
)

// Stage names, in execution order.
const (
	StageIngest    = "ingestion"
	StageValidate  = "validation"
	StageTransform = "transformation"
	StageGeocode   = "geocode"
	StageExport    = "export"
	StageEnrich    = "enrichment"
	StageFinal     = "final_export"
)

// Tracker records per-stage timings and counts for one run. When the run
// store is open, every transition is persisted to stage_progress and
// pipeline_logs.
type Tracker struct {
	RunID string

	mu      sync.Mutex
	stages  map[string]*model.StageMetrics
	order   []string
	metrics *metrics.Manager
	log     logger.Logger
}

// NewTracker creates a tracker for runID
func NewTracker(runID string, m *metrics.Manager) *Tracker {
	if m == nil {
		m = metrics.Default()
	}
	return &Tracker{
		RunID:   runID,
		stages:  make(map[string]*model.StageMetrics),
		metrics: m,
		log:     logger.Named("tracker"),
	}
}

// StartStage marks the start of a pipeline stage
func (pt *Tracker) StartStage(ctx context.Context, stage string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := time.Now()
	pt.stages[stage] = &model.StageMetrics{StageName: stage, StartTime: now, Status: "running"}
	pt.order = append(pt.order, stage)

	if store.Enabled() {
		store.SaveStageProgress(pt.RunID, stage, "started", &now, nil, 0, 0)
		store.SavePipelineLog(pt.RunID, stage, "info", "Starting "+stage+" stage", nil)
	}
	pt.log.Info(ctx, "▶️ stage started", logger.String("run_id", pt.RunID), logger.String("stage", stage))
}

// EndStage marks the end of a stage. A non-nil err marks it failed.
func (pt *Tracker) EndStage(ctx context.Context, stage string, records, errCount int64, err error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	sm, ok := pt.stages[stage]
	if !ok {
		return
	}
	sm.EndTime = time.Now()
	sm.Duration = sm.EndTime.Sub(sm.StartTime)
	sm.RecordsProcessed = records
	sm.ErrorCount = errCount
	sm.Status = "completed"
	if err != nil {
		sm.Status = "failed"
	}
	pt.metrics.ObserveStage(stage, sm.Duration)

	details := map[string]interface{}{
		"duration_ms": sm.Duration.Milliseconds(),
		"records":     records,
		"errors":      errCount,
	}
	level, msg := "info", stage+" stage completed"
	if err != nil {
		level, msg = "error", stage+" stage failed"
		details["error"] = err.Error()
	}
	if store.Enabled() {
		store.SaveStageProgress(pt.RunID, stage, sm.Status, &sm.StartTime, &sm.EndTime, int(records), int(errCount))
		store.SavePipelineLog(pt.RunID, stage, level, msg, details)
	}

	fields := []logger.Field{
		logger.String("run_id", pt.RunID),
		logger.String("stage", stage),
		logger.Int64("records", records),
		logger.Int64("errors", errCount),
		logger.Duration("took", sm.Duration),
	}
	if err != nil {
		pt.log.Error(ctx, "❌ stage failed", append(fields, logger.Error(err))...)
		return
	}
	pt.log.Info(ctx, "✅ stage completed", fields...)
}

// SkipStage records a stage that was not run
func (pt *Tracker) SkipStage(ctx context.Context, stage, reason string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := time.Now()
	pt.stages[stage] = &model.StageMetrics{StageName: stage, StartTime: now, EndTime: now, Status: "skipped"}
	pt.order = append(pt.order, stage)
	if store.Enabled() {
		store.SaveStageProgress(pt.RunID, stage, "skipped", &now, &now, 0, 0)
		store.SavePipelineLog(pt.RunID, stage, "info", "Skipped "+stage+" stage", map[string]interface{}{"reason": reason})
	}
	pt.log.Info(ctx, "⏭️ stage skipped", logger.String("stage", stage), logger.String("reason", reason))
}

// Stages returns a snapshot of the stages in the order they started
func (pt *Tracker) Stages() []model.StageMetrics {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	out := make([]model.StageMetrics, 0, len(pt.order))
	for _, name := range pt.order {
		out = append(out, *pt.stages[name])
	}
	return out
}

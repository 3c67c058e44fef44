package model

import "time"

// ExportResult represents the result of writing or reading a columnar file
type ExportResult struct {
	Type        string        `json:"type"` // "parquet"
	Path        string        `json:"path"`
	RecordCount int           `json:"record_count"`
	Bytes       int64         `json:"bytes"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// StageMetrics represents metrics for a single pipeline stage
type StageMetrics struct {
	StageName        string        `json:"stage_name"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	RecordsProcessed int64         `json:"records_processed"`
	ErrorCount       int64         `json:"error_count"`
	Status           string        `json:"status"` // "running", "completed", "failed", "skipped"
}

package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"go-geo-enrich/internal/model"
)

var db *sql.DB

// InitDB opens the run database and creates tables if needed.
func InitDB(dbPath string) error {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return errors.Wrap(err, "opening run store")
	}
	// one writer; also keeps ":memory:" databases on a single connection
	conn.SetMaxOpenConns(1)

	schema := []string{`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		spec TEXT,
		status TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`, `
	CREATE TABLE IF NOT EXISTS run_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		error_message TEXT,
		created_at DATETIME
	);`, `
	CREATE TABLE IF NOT EXISTS stage_progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		stage TEXT,
		status TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		records INTEGER,
		errors INTEGER
	);`, `
	CREATE TABLE IF NOT EXISTS pipeline_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		stage TEXT,
		level TEXT,
		message TEXT,
		details TEXT,
		created_at DATETIME
	);`,
	}
	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return errors.Wrap(err, "creating run store tables")
		}
	}

	if db != nil {
		db.Close()
	}
	db = conn
	return nil
}

// Enabled reports whether InitDB has been called.
func Enabled() bool {
	return db != nil
}

// Close closes the run database.
func Close() error {
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

// SaveRun stores a new pending run
func SaveRun(runID string, spec model.RunSpec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = db.Exec(`INSERT INTO runs (id, spec, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		runID, string(specJSON), model.StatusPending, now, now)
	return errors.Wrapf(err, "saving run %s", runID)
}

// SaveRunError records an error for a run
func SaveRunError(runID string, err error) error {
	if err == nil {
		return nil
	}
	now := time.Now().UTC()
	_, e := db.Exec(`INSERT INTO run_errors (run_id, error_message, created_at) VALUES (?, ?, ?)`,
		runID, err.Error(), now)
	return e
}

// RunErrors returns the error messages recorded for a run, oldest first
func RunErrors(runID string) ([]string, error) {
	rows, err := db.Query(`SELECT error_message FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SaveStageProgress records the state of a stage
func SaveStageProgress(runID, stage, status string, startedAt, endedAt *time.Time, records, errCount int) error {
	_, err := db.Exec(`INSERT INTO stage_progress (run_id, stage, status, started_at, ended_at, records, errors) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, stage, status, startedAt, endedAt, records, errCount)
	return err
}

// StageProgress returns the latest status recorded for each stage of a run
func StageProgress(runID string) (map[string]string, error) {
	rows, err := db.Query(`SELECT stage, status FROM stage_progress WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var stage, status string
		if err := rows.Scan(&stage, &status); err != nil {
			return nil, err
		}
		out[stage] = status
	}
	return out, rows.Err()
}

// SavePipelineLog stores a log line with structured details
func SavePipelineLog(runID, stage, level, message string, details map[string]interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO pipeline_logs (run_id, stage, level, message, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, stage, level, message, string(detailsJSON), time.Now().UTC())
	return err
}

// ListRuns returns all runs with their specs, newest first
func ListRuns() ([]model.Run, error) {
	rows, err := db.Query(`SELECT id, spec, status, created_at, updated_at FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var specJSON string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&r.ID, &specJSON, &r.Status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(specJSON), &r.Spec); err != nil {
			return nil, errors.Wrapf(err, "decoding spec of run %s", r.ID)
		}
		r.CreatedAt = createdAt.Format(time.RFC3339)
		r.UpdatedAt = updatedAt.Format(time.RFC3339)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun fetches full run spec and status
func GetRun(runID string) (*model.Run, error) {
	var specJSON string
	var createdAt, updatedAt time.Time
	r := model.Run{ID: runID}

	err := db.QueryRow(`SELECT spec, status, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&specJSON, &r.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "loading run %s", runID)
	}

	if err := json.Unmarshal([]byte(specJSON), &r.Spec); err != nil {
		return nil, err
	}
	r.CreatedAt = createdAt.Format(time.RFC3339)
	r.UpdatedAt = updatedAt.Format(time.RFC3339)
	return &r, nil
}

// UpdateRunStatus updates run status
func UpdateRunStatus(runID string, status string) error {
	now := time.Now().UTC()
	_, err := db.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, status, now, runID)
	return err
}

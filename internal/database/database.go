package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nlsukhde/ipod-format/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sqlx.DB
}

func New(dsn string) (*DB, error) {
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &DB{db}, nil
}

// Open connects and migrates.
func Open(dsn string) (*DB, error) {
	db, err := New(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Migrate() error {
	migrations, err := migrationsFS.ReadFile("migrations/001_initial.sql")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	_, err = db.Exec(string(migrations))
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Run operations

func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.StatusRunning
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, run_dir, manifest_path, inputs_json, settings_json, status, started_at, total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.RunDir, run.ManifestPath, run.InputsJSON, run.SettingsJSON, run.Status, run.StartedAt, run.Total)

	return err
}

func (db *DB) FinishRun(ctx context.Context, run *models.Run) error {
	res, err := db.ExecContext(ctx, `
		UPDATE runs SET status = ?, manifest_path = ?, finished_at = ?, elapsed_sec = ?, total = ?, ok = ?, failed = ?, deleted = ?
		WHERE id = ?
	`, run.Status, run.ManifestPath, run.FinishedAt, run.ElapsedSec, run.Total, run.OK, run.Failed, run.Deleted, run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (db *DB) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	err := db.GetContext(ctx, &run, "SELECT * FROM runs WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	decodeInputs(&run)
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []models.Run
	err := db.SelectContext(ctx, &runs, `
		SELECT * FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		decodeInputs(&runs[i])
	}
	return runs, nil
}

func decodeInputs(run *models.Run) {
	if run.InputsJSON == "" {
		return
	}
	_ = json.Unmarshal([]byte(run.InputsJSON), &run.Inputs)
}

// TrackResult operations

func (db *DB) CreateTrackResult(ctx context.Context, tr *models.TrackResult) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.BeforeJSON == "" {
		tr.BeforeJSON = "{}"
	}
	if tr.AfterJSON == "" {
		tr.AfterJSON = "{}"
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO track_results (id, run_id, source, source_codec, target, final_path, action, art_kind, art_detail,
			success, error_msg, source_deleted, elapsed_sec, started_at, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.RunID, tr.Source, tr.SourceCodec, tr.Target, tr.FinalPath, tr.Action, tr.ArtKind, tr.ArtDetail,
		tr.Success, tr.ErrorMsg, tr.SourceDeleted, tr.ElapsedSec, tr.StartedAt, tr.BeforeJSON, tr.AfterJSON)

	return err
}

// ListTrackResults returns a run's tracks in the order they finished.
func (db *DB) ListTrackResults(ctx context.Context, runID string) ([]models.TrackResult, error) {
	var results []models.TrackResult
	err := db.SelectContext(ctx, &results, `
		SELECT * FROM track_results WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}

	for i := range results {
		tr := &results[i]
		tr.Before = decodeSnapshot(tr.BeforeJSON)
		tr.After = decodeSnapshot(tr.AfterJSON)
	}
	return results, nil
}

func decodeSnapshot(s string) *models.MediaSnapshot {
	var snap models.MediaSnapshot
	if err := json.Unmarshal([]byte(s), &snap); err != nil || !snap.Exists {
		return nil
	}
	return &snap
}

// Stats

type RunStats struct {
	TotalRuns      int `db:"total_runs" json:"totalRuns"`
	FailedRuns     int `db:"failed_runs" json:"failedRuns"`
	TotalTracks    int `db:"total_tracks" json:"totalTracks"`
	TracksOK       int `db:"tracks_ok" json:"tracksOk"`
	TracksFailed   int `db:"tracks_failed" json:"tracksFailed"`
	SourcesDeleted int `db:"sources_deleted" json:"sourcesDeleted"`
}

func (db *DB) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{}

	err := db.GetContext(ctx, &stats.TotalRuns, "SELECT COUNT(*) FROM runs")
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	err = db.GetContext(ctx, &stats.FailedRuns, "SELECT COUNT(*) FROM runs WHERE status = ?", models.StatusFailed)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	err = db.GetContext(ctx, &stats.TotalTracks, "SELECT COUNT(*) FROM track_results")
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	err = db.GetContext(ctx, &stats.TracksOK, "SELECT COUNT(*) FROM track_results WHERE success = 1")
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	err = db.GetContext(ctx, &stats.SourcesDeleted, "SELECT COUNT(*) FROM track_results WHERE source_deleted = 1")
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	stats.TracksFailed = stats.TotalTracks - stats.TracksOK
	return stats, nil
}

// Package ledger persists run and unit outcomes to a local SQLite
// database, so batch progress can be inspected while a run is in flight
// and audited afterwards.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Unit statuses.
const (
	UnitCompleted = "completed"
	UnitFailed    = "failed"
	UnitSkipped   = "skipped"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one invocation of the annotator or captioner.
type Run struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	DatasetRoot string     `json:"dataset_root"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	TotalUnits  int        `json:"total_units"`
	FailedUnits int        `json:"failed_units"`
}

// Unit is one (segment, task) or (video, chunk) outcome within a run.
type Unit struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	SegmentID string    `json:"segment_id"`
	Task      string    `json:"task"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Ledger struct {
	conn   *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	l := &Ledger{conn: conn, logger: logger}

	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := l.markInterruptedRuns(); err != nil && logger != nil {
		logger.Warn("failed to mark interrupted runs", "error", err)
	}

	return l, nil
}

func (l *Ledger) Close() error {
	return l.conn.Close()
}

func (l *Ledger) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}

		name := m.Name()

		if l.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := l.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}

		if _, err := l.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		if l.logger != nil {
			l.logger.Info("applied migration", "name", name)
		}
	}

	return nil
}

func (l *Ledger) isMigrationApplied(name string) bool {
	var exists int
	err := l.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = l.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// markInterruptedRuns fails any run left 'running' by a crashed process.
func (l *Ledger) markInterruptedRuns() error {
	_, err := l.conn.ExecContext(context.Background(),
		`UPDATE runs SET status = 'failed', finished_at = datetime('now') WHERE status = 'running'`)
	return err
}

// StartRun records a new run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, kind, datasetRoot string) (string, error) {
	id := uuid.NewString()
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO runs (id, kind, dataset_root, status) VALUES (?, ?, ?, ?)`,
		id, kind, datasetRoot, RunRunning)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun closes out a run with its final unit counts.
func (l *Ledger) FinishRun(ctx context.Context, runID string, totalUnits, failedUnits int) error {
	status := RunCompleted
	if failedUnits > 0 {
		status = RunFailed
	}
	_, err := l.conn.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = datetime('now'), total_units = ?, failed_units = ? WHERE id = ?`,
		status, totalUnits, failedUnits, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordUnit records one unit outcome for a run.
func (l *Ledger) RecordUnit(ctx context.Context, runID, segmentID, task, status, errMsg string) error {
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO units (run_id, segment_id, task, status, error) VALUES (?, ?, ?, ?, ?)`,
		runID, segmentID, task, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to record unit: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT id, kind, dataset_root, status, started_at, finished_at, total_units, failed_units
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &r.DatasetRoot, &r.Status, &started, &finished,
			&r.TotalUnits, &r.FailedUnits); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTimestamp(started)
		if finished.Valid {
			t := parseTimestamp(finished.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id, or (nil, nil) when it does not exist.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, error) {
	runs, err := l.Runs(ctx, 1000)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].ID == runID {
			return &runs[i], nil
		}
	}
	return nil, nil
}

// Units returns every unit outcome recorded for a run, oldest first.
func (l *Ledger) Units(ctx context.Context, runID string) ([]Unit, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT id, run_id, segment_id, task, status, error, updated_at
		 FROM units WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		var updated string
		if err := rows.Scan(&u.ID, &u.RunID, &u.SegmentID, &u.Task, &u.Status, &u.Error, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.UpdatedAt = parseTimestamp(updated)
		units = append(units, u)
	}
	return units, rows.Err()
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

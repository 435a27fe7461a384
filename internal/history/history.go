// Package history records rollouts and steps in a SQLite database under the
// checkpoint directory. The learner aggregates its metrics in memory; this
// store exists for offline analysis of past runs.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Run is one rollout for a single task.
type Run struct {
	ID         string
	Task       string
	Success    bool
	Iterations int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Step is one executed attempt within a run.
type Step struct {
	RunID       string
	StepNumber  int
	ProgramName string
	ReturnCode  int
	Reward      float64
	Success     bool
	Critique    string
}

// Stats summarizes the recorded history.
type Stats struct {
	TotalRuns     int
	SucceededRuns int
	TotalSteps    int
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and runs
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", normalizeDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database after updating planner statistics.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA optimize")
	return s.db.Close()
}

// NewRunID allocates a run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// StartRun inserts a run row at rollout start.
func (s *Store) StartRun(ctx context.Context, id, task string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, task, started_at) VALUES (?, ?, ?)`,
			id, task, time.Now().Unix())
		return err
	})
}

// FinishRun records the rollout outcome.
func (s *Store) FinishRun(ctx context.Context, id string, success bool, iterations int) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET success = ?, iterations = ?, finished_at = ? WHERE id = ?`,
			boolToInt(success), iterations, time.Now().Unix(), id)
		return err
	})
}

// RecordStep inserts a step row.
func (s *Store) RecordStep(ctx context.Context, step Step) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO steps (run_id, step_number, program_name, return_code, reward, success, critique, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			step.RunID, step.StepNumber, step.ProgramName, step.ReturnCode,
			step.Reward, boolToInt(step.Success), step.Critique, time.Now().Unix())
		return err
	})
}

// Stats aggregates the recorded history.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM runs`)
	if err := row.Scan(&stats.TotalRuns, &stats.SucceededRuns); err != nil {
		return Stats{}, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps`)
	if err := row.Scan(&stats.TotalSteps); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, success, iterations, started_at, COALESCE(finished_at, 0)
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var success int
		var started, finished int64
		if err := rows.Scan(&run.ID, &run.Task, &success, &run.Iterations, &started, &finished); err != nil {
			return nil, err
		}
		run.Success = success != 0
		run.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			run.FinishedAt = time.Unix(finished, 0)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// withRetry retries transient SQLite contention errors with backoff.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func isRetryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetVerbose(false)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// normalizeDSN turns a plain path into a file: URI the sqlite driver
// accepts consistently across platforms.
func normalizeDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?mode=rwc"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

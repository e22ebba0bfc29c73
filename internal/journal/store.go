// Package journal keeps a SQLite record of pool runs and the per-worker
// outcome of every round.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"simpool/internal/pool"
)

const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

var errNotConfigured = errors.New("journal is not configured")

// Run is one pool lifetime.
type Run struct {
	ID          string
	Workers     int
	Status      string
	Rounds      int
	TotalReward float64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RoundRecord is one worker's outcome in one round.
type RoundRecord struct {
	RunID  string
	Round  int
	Worker int
	Reward float64
	Done   bool
	State  string
	Fault  string
}

type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens the journal at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// StartRun registers a new run and returns its id.
func (s *Store) StartRun(ctx context.Context, workers int) (string, error) {
	if s == nil || s.sqlDB == nil {
		return "", errNotConfigured
	}
	id := uuid.NewString()
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO runs (id, workers, status, started_at) VALUES (?, ?, ?, ?)
`, id, workers, StatusRunning, s.now().UTC().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run with its final status and round count.
func (s *Store) FinishRun(ctx context.Context, runID string, rounds int, status string) error {
	if s == nil || s.sqlDB == nil {
		return errNotConfigured
	}
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE runs SET status = ?, rounds = ?, finished_at = ? WHERE id = ?
`, status, rounds, s.now().UTC().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// RecordRound writes every worker line of a round in one transaction.
func (s *Store) RecordRound(ctx context.Context, runID string, round int, workers []pool.WorkerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return errNotConfigured
	}
	if runID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin round %d: %w", round, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO round_workers (run_id, round, worker, reward, done, state, fault, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare round %d: %w", round, err)
	}
	defer stmt.Close()

	at := s.now().UTC().UnixMilli()
	for _, w := range workers {
		if _, err := stmt.ExecContext(ctx, runID, round, w.Worker, w.Reward, w.Done, w.State.String(), w.Fault, at); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record round %d worker %d: %w", round, w.Worker, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET rounds = MAX(rounds, ?) WHERE id = ?`, round, runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bump run %s: %w", runID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit round %d: %w", round, err)
	}
	return nil
}

// ListRuns lists newest-first runs with their summed reward.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.sqlDB == nil {
		return nil, errNotConfigured
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	r.id,
	r.workers,
	r.status,
	r.rounds,
	COALESCE((SELECT SUM(w.reward) FROM round_workers w WHERE w.run_id = r.id), 0),
	r.started_at,
	r.finished_at
FROM runs r
ORDER BY r.started_at DESC, r.rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Workers, &r.Status, &r.Rounds, &r.TotalReward, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64).UTC()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ListRounds returns the worker lines of a run, latest round first.
func (s *Store) ListRounds(ctx context.Context, runID string, limit int) ([]RoundRecord, error) {
	if s == nil || s.sqlDB == nil {
		return nil, errNotConfigured
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT run_id, round, worker, reward, done, state, fault
FROM round_workers
WHERE run_id = ?
ORDER BY round DESC, worker ASC
LIMIT ?
`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var rec RoundRecord
		if err := rows.Scan(&rec.RunID, &rec.Round, &rec.Worker, &rec.Reward, &rec.Done, &rec.State, &rec.Fault); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return out, nil
}

// Recorder binds a run id so the store can be handed to a pool.
func (s *Store) Recorder(runID string) pool.Recorder {
	return runRecorder{store: s, runID: runID}
}

type runRecorder struct {
	store *Store
	runID string
}

func (r runRecorder) RecordRound(ctx context.Context, round int, workers []pool.WorkerRecord) error {
	return r.store.RecordRound(ctx, r.runID, round, workers)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/classq/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a
// Store. Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// WAL keeps read-side API queries from blocking the sink's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, runID string, startedAt time.Time) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", runID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, startedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", runID)
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano), runID,
	)
	return err
}

func (s *SQLiteStore) RecordDiscoveryFailure(ctx context.Context, runID, message string) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", runID)
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET discovery_failed = 1, discovery_error = ? WHERE id = ?`,
		message, runID,
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", runID)

	var r Run
	var startedAt string
	var finishedAt sql.NullString
	var failed int

	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, discovery_failed, discovery_error
		 FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &startedAt, &finishedAt, &failed, &r.DiscoveryError)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		r.FinishedAt = &t
	}
	r.DiscoveryFailed = failed != 0
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, discovery_failed, discovery_error
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		var failed int
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &failed, &r.DiscoveryError); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
			r.FinishedAt = &t
		}
		r.DiscoveryFailed = failed != 0
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// --- Results ---

func (s *SQLiteStore) InsertMethodResult(ctx context.Context, runID string, res model.MethodResult) error {
	s.logger.Debug("sql", "op", "insert", "table", "method_results", "class_path", res.ClassPath, "method", res.Method)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO method_results (run_id, class_path, method, runner_id, outcome, message, duration_ms, reported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.ClassPath, res.Method, res.RunnerID, string(res.Outcome), res.Message, res.DurationMs,
		res.ReportedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) FinalizeItem(ctx context.Context, runID string, item *model.Item, outcome model.FinalOutcome, reason model.RetiredReason) error {
	s.logger.Debug("sql", "op", "insert", "table", "finalized_items", "class_path", item.ClassPath, "outcome", outcome)

	methodsJSON, err := json.Marshal(item.Methods)
	if err != nil {
		return fmt.Errorf("marshal methods: %w", err)
	}
	fixturesJSON, err := json.Marshal(item.FixtureMethods)
	if err != nil {
		return fmt.Errorf("marshal fixture methods: %w", err)
	}

	// INSERT OR REPLACE keeps the sink tolerant of a duplicated finalize,
	// which correct operation never produces.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO finalized_items
		 (run_id, class_path, methods, fixture_methods, last_runner, failure_count, timeout_count, outcome, reason, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, item.ClassPath, string(methodsJSON), string(fixturesJSON), item.LastRunner,
		item.FailureCount, item.TimeoutCount, string(outcome), string(reason),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) ListFinalized(ctx context.Context, runID string) ([]*model.FinalizedItem, error) {
	s.logger.Debug("sql", "op", "select", "table", "finalized_items", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, class_path, methods, fixture_methods, last_runner, failure_count, timeout_count, outcome, reason, finalized_at
		 FROM finalized_items WHERE run_id = ? ORDER BY finalized_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.FinalizedItem
	for rows.Next() {
		var f model.FinalizedItem
		var methodsJSON, fixturesJSON, outcome, reason, finalizedAt string
		if err := rows.Scan(&f.RunID, &f.Item.ClassPath, &methodsJSON, &fixturesJSON, &f.Item.LastRunner,
			&f.Item.FailureCount, &f.Item.TimeoutCount, &outcome, &reason, &finalizedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(methodsJSON), &f.Item.Methods); err != nil {
			return nil, fmt.Errorf("unmarshal methods: %w", err)
		}
		if err := json.Unmarshal([]byte(fixturesJSON), &f.Item.FixtureMethods); err != nil {
			return nil, fmt.Errorf("unmarshal fixture methods: %w", err)
		}
		f.Outcome = model.FinalOutcome(outcome)
		f.Reason = model.RetiredReason(reason)
		f.FinalizedAt, _ = time.Parse(time.RFC3339Nano, finalizedAt)
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListMethodResults(ctx context.Context, runID, classPath string) ([]model.MethodResult, error) {
	s.logger.Debug("sql", "op", "select", "table", "method_results", "run_id", runID, "class_path", classPath)

	query := `SELECT class_path, method, runner_id, outcome, message, duration_ms, reported_at
	          FROM method_results WHERE run_id = ?`
	args := []any{runID}
	if classPath != "" {
		query += ` AND class_path = ?`
		args = append(args, classPath)
	}
	query += ` ORDER BY reported_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MethodResult
	for rows.Next() {
		var res model.MethodResult
		var outcome, reportedAt string
		if err := rows.Scan(&res.ClassPath, &res.Method, &res.RunnerID, &outcome, &res.Message, &res.DurationMs, &reportedAt); err != nil {
			return nil, err
		}
		res.Outcome = model.Outcome(outcome)
		res.ReportedAt, _ = time.Parse(time.RFC3339Nano, reportedAt)
		out = append(out, res)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/docprobe/internal/capture"
	"github.com/ibeckermayer/docprobe/internal/linkprobe"
	"github.com/ibeckermayer/docprobe/internal/soft"
	"github.com/ibeckermayer/docprobe/internal/types"
)

var (
	// ErrNoRuns is returned by LatestRun when nothing was saved yet.
	ErrNoRuns = errors.New("no runs recorded")
	// ErrRunNotFound is returned by GetRun for an unknown id.
	ErrRunNotFound = errors.New("run not found")
)

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across queries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		base_url TEXT NOT NULL,
		driver TEXT NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		position INTEGER NOT NULL,
		scenario TEXT NOT NULL,
		device TEXT NOT NULL,
		status TEXT NOT NULL,
		kind TEXT,
		reason TEXT,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		checks TEXT,
		PRIMARY KEY (run_id, position)
	);

	CREATE TABLE IF NOT EXISTS observed_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		scenario TEXT NOT NULL,
		source TEXT NOT NULL,
		message TEXT,
		url TEXT,
		status INTEGER,
		class TEXT NOT NULL,
		observed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS link_probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		scenario TEXT NOT NULL,
		url TEXT NOT NULL,
		outcome TEXT NOT NULL,
		status INTEGER,
		error TEXT,
		elapsed_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_errors_run ON observed_errors(run_id);
	CREATE INDEX IF NOT EXISTS idx_links_run ON link_probes(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts run with all of its results and sets run.ID.
func (s *Store) SaveRun(ctx context.Context, run *types.Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	passed, failed, skipped := run.Counts()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (started_at, finished_at, base_url, driver, passed, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.StartedAt, run.FinishedAt, run.BaseURL, run.Driver, passed, failed, skipped)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, r := range run.Results {
		checksJSON, _ := json.Marshal(r.Checks)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO results (run_id, position, scenario, device, status, kind, reason,
				started_at, duration_ms, checks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, i, r.Scenario, r.Device, string(r.Status), string(r.Kind), r.Reason,
			r.Started, r.Duration.Milliseconds(), string(checksJSON))
		if err != nil {
			return 0, fmt.Errorf("failed to insert result %s: %w", r.Scenario, err)
		}

		for _, e := range r.Errors {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO observed_errors (run_id, scenario, source, message, url, status, class, observed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, id, r.Scenario, string(e.Source), e.Message, e.URL, e.Status, string(e.Class), e.Time)
			if err != nil {
				return 0, fmt.Errorf("failed to insert observed error: %w", err)
			}
		}

		for _, l := range r.Links {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO link_probes (run_id, scenario, url, outcome, status, error, elapsed_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, id, r.Scenario, l.URL, string(l.Outcome), l.Status, l.Err, l.Elapsed.Milliseconds())
			if err != nil {
				return 0, fmt.Errorf("failed to insert link probe: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]types.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, base_url, driver, passed, failed, skipped
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []types.RunSummary
	for rows.Next() {
		var r types.RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.BaseURL, &r.Driver,
			&r.Passed, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun loads a run with its results, observed errors and link probes.
func (s *Store) GetRun(ctx context.Context, id int64) (*types.Run, error) {
	run := &types.Run{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, base_url, driver FROM runs WHERE id = ?
	`, id).Scan(&run.StartedAt, &run.FinishedAt, &run.BaseURL, &run.Driver)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if run.Results, err = s.results(ctx, id); err != nil {
		return nil, err
	}
	index := make(map[string]int, len(run.Results))
	for i, r := range run.Results {
		index[r.Scenario] = i
	}
	if err := s.attachErrors(ctx, id, run.Results, index); err != nil {
		return nil, err
	}
	if err := s.attachLinks(ctx, id, run.Results, index); err != nil {
		return nil, err
	}
	return run, nil
}

// LatestRun loads the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*types.Run, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, err
	}
	return s.GetRun(ctx, id)
}

// Prune deletes all but the keep most recent runs and returns how many
// runs were removed. keep <= 0 keeps everything.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stale := `SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT -1 OFFSET ?`
	for _, table := range []string{"results", "observed_errors", "link_probes"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id IN (`+stale+`)`, keep); err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Store) results(ctx context.Context, runID int64) ([]types.ScenarioResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario, device, status, kind, reason, started_at, duration_ms, checks
		FROM results
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ScenarioResult
	for rows.Next() {
		var (
			r          types.ScenarioResult
			status     string
			kind       sql.NullString
			reason     sql.NullString
			durationMs int64
			checksJSON sql.NullString
		)
		if err := rows.Scan(&r.Scenario, &r.Device, &status, &kind, &reason,
			&r.Started, &durationMs, &checksJSON); err != nil {
			return nil, err
		}
		r.Status = types.Status(status)
		r.Kind = types.FailureKind(kind.String)
		r.Reason = reason.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if checksJSON.Valid {
			var checks []soft.Entry
			json.Unmarshal([]byte(checksJSON.String), &checks)
			r.Checks = checks
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) attachErrors(ctx context.Context, runID int64, results []types.ScenarioResult, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario, source, message, url, status, class, observed_at
		FROM observed_errors
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scenario, source, class string
			message, url            sql.NullString
			status                  sql.NullInt64
			e                       capture.Entry
		)
		if err := rows.Scan(&scenario, &source, &message, &url, &status, &class, &e.Time); err != nil {
			return err
		}
		e.Source = capture.Source(source)
		e.Class = capture.Class(class)
		e.Message = message.String
		e.URL = url.String
		e.Status = int(status.Int64)
		if i, ok := index[scenario]; ok {
			results[i].Errors = append(results[i].Errors, e)
		}
	}
	return rows.Err()
}

func (s *Store) attachLinks(ctx context.Context, runID int64, results []types.ScenarioResult, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario, url, outcome, status, error, elapsed_ms
		FROM link_probes
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scenario, outcome string
			status            sql.NullInt64
			errText           sql.NullString
			elapsedMs         int64
			l                 linkprobe.Result
		)
		if err := rows.Scan(&scenario, &l.URL, &outcome, &status, &errText, &elapsedMs); err != nil {
			return err
		}
		l.Outcome = linkprobe.Outcome(outcome)
		l.Status = int(status.Int64)
		l.Err = errText.String
		l.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		if i, ok := index[scenario]; ok {
			results[i].Links = append(results[i].Links, l)
		}
	}
	return rows.Err()
}

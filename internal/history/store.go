// Package history keeps a ledger of finished workflow runs in SQLite. The
// ledger is for inspection only; runs cannot be resumed from it.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_runs.sql
var migrationV1 string

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Record is one finished run.
type Record struct {
	core.WorkflowStatus
	Template string        `json:"template"`
	Agent    string        `json:"agent,omitempty"`
	Strategy core.Strategy `json:"strategy"`
}

// Filter narrows List results.
type Filter struct {
	Template string
	State    core.WorkflowState
	Limit    int
}

// Store is the SQLite-backed run ledger.
type Store struct {
	dbPath string
	db     *sql.DB // Write connection
	readDB *sql.DB // Read-only connection
	mu     sync.RWMutex

	maxRetries    int
	baseRetryWait time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithRetry sets how often busy writes are retried and the base wait.
func WithRetry(maxRetries int, baseWait time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// Open creates or opens the ledger at dbPath and applies migrations.
func Open(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	// Migrations create the file before the read-only connection is used.
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS history_schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM history_schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	migrations := []string{migrationV1}
	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}
		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO history_schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script into statements, dropping comment lines.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		var sqlLines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				sqlLines = append(sqlLines, line)
			}
		}
		if len(sqlLines) > 0 {
			statements = append(statements, strings.Join(sqlLines, "\n"))
		}
	}
	return statements
}

func (s *Store) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		lastErr = err
		wait := s.baseRetryWait * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// Record stores a finished run. Recording the same ID again replaces it.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		return core.ErrInvalidInput(core.CodeInvalidConfig, "history record needs an id")
	}
	steps := r.Steps
	if steps == nil {
		steps = []core.StepStatus{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}
	var failStep, failKind, failErr sql.NullString
	if f := r.FirstFailure; f != nil {
		failStep = sql.NullString{String: f.Step, Valid: true}
		failKind = sql.NullString{String: string(f.Kind), Valid: true}
		failErr = sql.NullString{String: f.Error, Valid: true}
	}

	return s.retryWrite(ctx, "Record", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO workflow_runs (id, template, name, agent, strategy, state, started_at, finished_at,
				failure_step, failure_kind, failure_error, steps_json, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				finished_at = excluded.finished_at,
				failure_step = excluded.failure_step,
				failure_kind = excluded.failure_kind,
				failure_error = excluded.failure_error,
				steps_json = excluded.steps_json,
				recorded_at = excluded.recorded_at
		`,
			string(r.ID),
			r.Template,
			r.Name,
			r.Agent,
			string(r.Strategy),
			string(r.State),
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
			failStep, failKind, failErr,
			string(stepsJSON),
			time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

const selectColumns = `SELECT id, template, name, agent, strategy, state, started_at, finished_at,
	failure_step, failure_kind, failure_error, steps_json FROM workflow_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var id, strategy, state, stepsJSON string
	var started, finished, failStep, failKind, failErr sql.NullString
	if err := row.Scan(&id, &r.Template, &r.Name, &r.Agent, &strategy, &state, &started, &finished,
		&failStep, &failKind, &failErr, &stepsJSON); err != nil {
		return Record{}, err
	}
	r.ID = core.WorkflowID(id)
	r.Strategy = core.Strategy(strategy)
	r.State = core.WorkflowState(state)
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	if failStep.Valid {
		r.FirstFailure = &core.FailureInfo{Step: failStep.String, Kind: core.ErrorKind(failKind.String), Error: failErr.String}
	}
	if err := json.Unmarshal([]byte(stepsJSON), &r.Steps); err != nil {
		return Record{}, fmt.Errorf("decoding steps of %s: %w", id, err)
	}
	return r, nil
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id core.WorkflowID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.readDB.QueryRowContext(ctx, selectColumns+" WHERE id = ?", string(id))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrInvalidInput(core.CodeWorkflowNotFound, fmt.Sprintf("no recorded run %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return &r, nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectColumns
	var where []string
	var args []any
	if f.Template != "" {
		where = append(where, "template = ?")
		args = append(args, f.Template)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += " ORDER BY started_at DESC, recorded_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes runs that finished before cutoff and reports how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.retryWrite(ctx, "Prune", func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM workflow_runs WHERE finished_at < ?",
			cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Close closes both database connections.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing read connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing write connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

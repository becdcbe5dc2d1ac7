package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for run persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and lets the relay be tested without a database.
type Repository interface {
	Create(ctx context.Context, run *Run) error
	MarkReady(ctx context.Context, id string, ready Ready) error
	Finish(ctx context.Context, id string, result Result) error
	GetByID(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
}

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 50

// timeFormat keeps sub-second precision so runs started in the same second sort correctly.
const timeFormat = time.RFC3339Nano

// runColumns is the SELECT column list for run queries.
const runColumns = `id, started_at, ready_at, ended_at, sampler_pid, target_pid,
			command_line, args, metadata, samples, outcome, exit_code, diagnostic, error`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new run in the running state.
func (r *SQLiteRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRun)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Outcome == "" {
		run.Outcome = OutcomeRunning
	}

	argsJSON, err := marshalStrings(run.Args)
	if err != nil {
		return fmt.Errorf("marshalling args: %w", err)
	}
	cmdJSON, err := marshalStrings(run.CommandLine)
	if err != nil {
		return fmt.Errorf("marshalling command line: %w", err)
	}
	metaJSON, err := marshalMetadata(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	query := `
		INSERT INTO runs (
			id, started_at, sampler_pid, target_pid, command_line, args, metadata, samples, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.StartedAt.UTC().Format(timeFormat),
		run.SamplerPID,
		run.TargetPID,
		cmdJSON,
		argsJSON,
		metaJSON,
		run.Samples,
		string(run.Outcome),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRunExists
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// MarkReady records the process identity reported once austin is running.
func (r *SQLiteRepository) MarkReady(ctx context.Context, id string, ready Ready) error {
	cmdJSON, err := marshalStrings(ready.CommandLine)
	if err != nil {
		return fmt.Errorf("marshalling command line: %w", err)
	}
	if ready.At.IsZero() {
		ready.At = time.Now().UTC()
	}

	query := `
		UPDATE runs SET ready_at = ?, sampler_pid = ?, target_pid = ?, command_line = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		ready.At.UTC().Format(timeFormat),
		ready.SamplerPID,
		ready.TargetPID,
		cmdJSON,
		id,
	)
	if err != nil {
		return fmt.Errorf("marking run ready: %w", err)
	}
	return requireRow(result)
}

// Finish records the end of a run.
func (r *SQLiteRepository) Finish(ctx context.Context, id string, res Result) error {
	if res.Outcome == "" || res.Outcome == OutcomeRunning {
		return fmt.Errorf("%w: finishing with outcome %q", ErrInvalidRun, res.Outcome)
	}
	if res.EndedAt.IsZero() {
		res.EndedAt = time.Now().UTC()
	}

	metaJSON, err := marshalMetadata(res.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	var exitCode sql.NullInt64
	if res.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*res.ExitCode), Valid: true}
	}

	query := `
		UPDATE runs SET ended_at = ?, metadata = ?, samples = ?, outcome = ?,
			exit_code = ?, diagnostic = ?, error = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		res.EndedAt.UTC().Format(timeFormat),
		metaJSON,
		res.Samples,
		string(res.Outcome),
		exitCode,
		res.Diagnostic,
		res.Error,
		id,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return requireRow(result)
}

// GetByID retrieves a run by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run by id: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var readyAt, endedAt sql.NullString
	var cmdJSON, argsJSON, metaJSON, outcome string
	var exitCode sql.NullInt64

	err := scanner.Scan(
		&run.ID,
		&startedAt,
		&readyAt,
		&endedAt,
		&run.SamplerPID,
		&run.TargetPID,
		&cmdJSON,
		&argsJSON,
		&metaJSON,
		&run.Samples,
		&outcome,
		&exitCode,
		&run.Diagnostic,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.Outcome = Outcome(outcome)
	run.StartedAt = parseTime(startedAt)
	if readyAt.Valid {
		t := parseTime(readyAt.String)
		run.ReadyAt = &t
	}
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		run.EndedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}

	if err := json.Unmarshal([]byte(cmdJSON), &run.CommandLine); err != nil {
		return nil, fmt.Errorf("unmarshalling command line: %w", err)
	}
	if err := json.Unmarshal([]byte(argsJSON), &run.Args); err != nil {
		return nil, fmt.Errorf("unmarshalling args: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &run.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}

	return &run, nil
}

// parseTime parses timestamps written by this package; bad values yield zero.
func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalStrings(s []string) (string, error) {
	if s == nil {
		s = []string{}
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func marshalMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

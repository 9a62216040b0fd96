package state

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteLedger implements core.RunLedger with SQLite storage.
type SQLiteLedger struct {
	dbPath string
	db     *sql.DB
	mu     sync.Mutex
	now    func() time.Time
}

// SQLiteLedgerOption configures the ledger.
type SQLiteLedgerOption func(*SQLiteLedger)

// WithLedgerClock overrides time.Now.
func WithLedgerClock(now func() time.Time) SQLiteLedgerOption {
	return func(l *SQLiteLedger) {
		l.now = now
	}
}

// NewSQLiteLedger opens (creating if needed) the ledger at dbPath.
func NewSQLiteLedger(dbPath string, opts ...SQLiteLedgerOption) (*SQLiteLedger, error) {
	l := &SQLiteLedger{
		dbPath: dbPath,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	// WAL lets `status` read while a run is writing.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	l.db = db

	if err := l.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Path returns the database path.
func (l *SQLiteLedger) Path() string {
	return l.dbPath
}

// migrate runs pending migrations.
func (l *SQLiteLedger) migrate() error {
	var version int
	err := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}

	if version < 1 {
		if _, err := l.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// StartRun records a new running run and returns its id.
func (l *SQLiteLedger) StartRun(ctx context.Context, inputPath, outputPath string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, input_path, output_path, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, inputPath, outputPath, core.RunStatusRunning, l.now().UTC())
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// RecordAttempt stores the terminal outcome of one identifier.
func (l *SQLiteLedger) RecordAttempt(ctx context.Context, runID string, rec *core.FetchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var resolved sql.NullInt64
	if rec.ResolvedID != 0 {
		resolved = sql.NullInt64{Int64: rec.ResolvedID, Valid: true}
	}
	var count sql.NullInt64
	if rec.MemberCount != nil {
		count = sql.NullInt64{Int64: int64(*rec.MemberCount), Valid: true}
	}
	checked := rec.CheckedAt
	if checked.IsZero() {
		checked = l.now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attempts (run_id, identifier, resolved_id, access_status, member_count,
			member_count_source, error_message, attempts, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, rec.Identifier.APIForm(), resolved, string(rec.AccessStatus), count,
		nullableString(rec.MemberCountSource), nullableString(core.TruncateMessage(rec.ErrorMessage)),
		rec.Attempts, checked.UTC())
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run.
func (l *SQLiteLedger) FinishRun(ctx context.Context, runID, status string, s core.RunSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	finished := s.FinishedAt
	if finished.IsZero() {
		finished = l.now()
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, total = ?, successful = ?, skipped = ?,
			access_denied = ?, errors = ?, aggregated = ?, abort_reason = ?
		WHERE id = ?
	`, status, finished.UTC(), s.Total, s.Successful, s.Skipped, s.AccessDenied, s.Errors,
		s.Aggregated, nullableString(s.AbortReason), runID)
	if err != nil {
		return fmt.Errorf("recording run end: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound("run", runID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (l *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]core.RunInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, input_path, output_path, status, started_at, finished_at, total, successful,
			skipped, access_denied, errors, aggregated, abort_reason
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []core.RunInfo
	for rows.Next() {
		var (
			info     core.RunInfo
			finished sql.NullTime
			reason   sql.NullString
		)
		if err := rows.Scan(&info.ID, &info.InputPath, &info.OutputPath, &info.Status,
			&info.StartedAt, &finished, &info.Summary.Total, &info.Summary.Successful,
			&info.Summary.Skipped, &info.Summary.AccessDenied, &info.Summary.Errors,
			&info.Summary.Aggregated, &reason); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			info.FinishedAt = &t
			info.Summary.FinishedAt = t
		}
		info.Summary.RunID = info.ID
		info.Summary.OutputPath = info.OutputPath
		info.Summary.StartedAt = info.StartedAt
		info.Summary.AbortReason = reason.String
		info.Summary.Aborted = info.Status == core.RunStatusAborted
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// AttemptCounts returns the number of recorded attempts per access status
// for one run.
func (l *SQLiteLedger) AttemptCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT access_status, COUNT(*) FROM attempts WHERE run_id = ? GROUP BY access_status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("counting attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning attempt count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Backup writes a consistent copy of the ledger to path.
func (l *SQLiteLedger) Backup(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("backing up ledger: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Verify that SQLiteLedger implements core.RunLedger.
var _ core.RunLedger = (*SQLiteLedger)(nil)

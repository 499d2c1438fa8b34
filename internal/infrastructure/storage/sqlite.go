package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides SQLite database access for sync state, run history and
// API call logs. It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	// Run all pending migrations
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// IsSynced checks whether an import token has already been synced
func (s *Storage) IsSynced(ctx context.Context, token string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM synced_transactions WHERE import_token = ?`, token).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check sync state: %w", err)
	}
	return count > 0, nil
}

// MarkSynced records a synced token and clears any failure recorded for it
func (s *Storage) MarkSynced(ctx context.Context, record *SyncRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT source_transaction_id FROM synced_transactions WHERE import_token = ?`,
		record.ImportToken).Scan(&existing)
	switch {
	case err == nil:
		if existing != record.SourceTransactionID {
			return fmt.Errorf("token %s belongs to %s: %w", record.ImportToken, existing, ErrAlreadySynced)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to read sync state: %w", err)
	}

	syncedAt := record.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO synced_transactions
		(import_token, source_transaction_id, source_account_id, destination_account_id,
		 destination_transaction_id, amount, date, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ImportToken,
		record.SourceTransactionID,
		record.SourceAccountID,
		record.DestinationAccountID,
		record.DestinationTransactionID,
		record.Amount,
		record.Date,
		syncedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM failed_transactions WHERE import_token = ?`, record.ImportToken); err != nil {
		return fmt.Errorf("failed to clear failure record: %w", err)
	}

	return tx.Commit()
}

// RecordFailure upserts a failure, accumulating attempts across runs
func (s *Storage) RecordFailure(ctx context.Context, failure *FailureRecord) error {
	failedAt := failure.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_transactions
		(import_token, source_transaction_id, source_account_id, error_type, message, attempts, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(import_token) DO UPDATE SET
			error_type = excluded.error_type,
			message = excluded.message,
			attempts = failed_transactions.attempts + excluded.attempts,
			failed_at = excluded.failed_at`,
		failure.ImportToken,
		failure.SourceTransactionID,
		failure.SourceAccountID,
		string(failure.ErrorType),
		failure.Message,
		failure.Attempts,
		failedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// GetHealth returns record counts and the oldest sync time
func (s *Storage) GetHealth(ctx context.Context) (*Health, error) {
	health := &Health{}

	var oldest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(synced_at) FROM synced_transactions`).Scan(&health.TotalRecords, &oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to read store health: %w", err)
	}

	if oldest.Valid && oldest.String != "" {
		if t, err := parseTimestamp(oldest.String); err == nil {
			health.OldestRecord = &t
		}
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_transactions`).Scan(&health.FailedTransactions)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}

	return health, nil
}

// SaveSyncRun inserts or replaces a run record
func (s *Storage) SaveSyncRun(ctx context.Context, run *SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_runs
		(id, profile_id, started_at, completed_at, dry_run, status, total_accounts,
		 processed, synced, skipped, failed, duplicate, success_rate, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.ProfileID,
		run.StartedAt.UTC(),
		run.CompletedAt.UTC(),
		run.DryRun,
		run.Status,
		run.TotalAccounts,
		run.Processed,
		run.Synced,
		run.Skipped,
		run.Failed,
		run.Duplicate,
		run.SuccessRate,
		run.ResultJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

const syncRunColumns = `id, profile_id, started_at, completed_at, dry_run, status, total_accounts,
	processed, synced, skipped, failed, duplicate, success_rate, result_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row rowScanner) (*SyncRun, error) {
	var run SyncRun
	var completedAt sql.NullTime
	var resultJSON sql.NullString
	err := row.Scan(
		&run.ID,
		&run.ProfileID,
		&run.StartedAt,
		&completedAt,
		&run.DryRun,
		&run.Status,
		&run.TotalAccounts,
		&run.Processed,
		&run.Synced,
		&run.Skipped,
		&run.Failed,
		&run.Duplicate,
		&run.SuccessRate,
		&resultJSON,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	run.ResultJSON = resultJSON.String
	return &run, nil
}

// ListSyncRuns returns recent sync runs, newest first
func (s *Storage) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]SyncRun, 0)
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// GetSyncRun retrieves a sync run by ID
func (s *Storage) GetSyncRun(ctx context.Context, runID string) (*SyncRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncRunColumns+` FROM sync_runs WHERE id = ?`, runID)
	run, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return run, nil
}

// LogAPICall logs an API call to the database
func (s *Storage) LogAPICall(ctx context.Context, call *APICall) error {
	ts := call.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_calls
		(run_id, import_token, timestamp, method, request_json, response_json, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		call.RunID,
		call.ImportToken,
		ts.UTC(),
		call.Method,
		call.RequestJSON,
		call.ResponseJSON,
		call.Error,
		call.DurationMs,
	)
	return err
}

// GetAPICallsByRunID retrieves all API calls for a specific sync run
func (s *Storage) GetAPICallsByRunID(ctx context.Context, runID string) ([]APICall, error) {
	return s.queryAPICalls(ctx, `WHERE run_id = ?`, runID)
}

// GetAPICallsByToken retrieves all API calls for a specific import token
func (s *Storage) GetAPICallsByToken(ctx context.Context, token string) ([]APICall, error) {
	return s.queryAPICalls(ctx, `WHERE import_token = ?`, token)
}

func (s *Storage) queryAPICalls(ctx context.Context, where string, arg string) ([]APICall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, import_token, method, request_json, response_json, error, duration_ms, timestamp
		FROM api_calls `+where+`
		ORDER BY id ASC`, arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var calls []APICall
	for rows.Next() {
		var call APICall
		var responseJSON, callErr sql.NullString
		err := rows.Scan(
			&call.RunID,
			&call.ImportToken,
			&call.Method,
			&call.RequestJSON,
			&responseJSON,
			&callErr,
			&call.DurationMs,
			&call.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		call.ResponseJSON = responseJSON.String
		call.Error = callErr.String
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// parseTimestamp reads the timestamp text SQLite returns from aggregates
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package history persists ScanSummary and per-file results in an
// embedded modernc.org/sqlite database, and exposes the query,
// retention, and transfer operations built on top of that schema.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no CGO

	"github.com/videoguard/scancore/internal/log"
	"github.com/videoguard/scancore/internal/model"
)

// ErrInvariantViolation is returned when a write operation would leave
// the store in a state that contradicts one of the documented
// invariants (duplicate finalize, counter mismatch at finalize).
type ErrInvariantViolation struct {
	Msg string
}

func (e *ErrInvariantViolation) Error() string { return "history: invariant violation: " + e.Msg }

// Store is the embedded relational store of scan runs and per-file
// results. The zero value is not usable; construct with Open.
type Store struct {
	db              *sql.DB
	staleRunSeconds int
}

// Open opens (creating if necessary) the sqlite database at path, runs
// pending migrations, and sweeps orphaned "running" rows left behind
// by a prior crash.
func Open(ctx context.Context, path string, staleRunSeconds int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer per run; sqlite serializes writers anyway

	if staleRunSeconds <= 0 {
		staleRunSeconds = 3600
	}
	s := &Store{db: db, staleRunSeconds: staleRunSeconds}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: run migrations: %w", err)
	}

	if n, err := s.RecoverStaleRuns(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: recover stale runs: %w", err)
	} else if n > 0 {
		historyLog := log.WithComponent("history")
		historyLog.Warn().Int("count", n).Msg("marked orphaned running scans as failed")
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// RecoverStaleRuns transitions every scans row with status=running
// older than the configured staleness window to failed, recomputing
// its counters from scan_results first. Safe to call at any time; it
// is invoked automatically by Open.
func (s *Store) RecoverStaleRuns(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(s.staleRunSeconds) * time.Second).UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM scans WHERE status = 'running' AND started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	_ = rows.Close()

	for _, id := range ids {
		if err := s.finalizeRun(ctx, id, model.StatusFailed); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// OpenRun inserts a new scans row with status=running and returns its
// generated scan_id.
func (s *Store) OpenRun(ctx context.Context, directory string, mode model.ScanMode) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (directory, mode, started_at, status)
		VALUES (?, ?, ?, 'running')`,
		directory, string(mode), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("history: open run: %w", err)
	}
	return res.LastInsertId()
}

// FindResumableRun returns the most recent run against the same
// (directory, mode) whose status is running or cancelled, if one
// exists, so the Run Controller can decide whether to resume it.
func (s *Store) FindResumableRun(ctx context.Context, directory string, mode model.ScanMode) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM scans
		WHERE directory = ? AND mode = ? AND status IN ('running', 'cancelled')
		ORDER BY started_at DESC LIMIT 1`,
		directory, string(mode)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// MarkResumed flags scanID as having been adopted from a prior
// unfinalized run, per the was_resumed attribute on ScanSummary, and
// returns it to status=running with completed_at cleared, so that an
// adopted cancelled run can be finalized again.
func (s *Store) MarkResumed(ctx context.Context, scanID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scans SET was_resumed = 1, status = 'running', completed_at = NULL WHERE id = ?`, scanID)
	return err
}

// SetDiscoveredEligible updates the discovered/eligible counters on a
// running scan. The Run Controller calls this as the walker and
// eligibility filter produce counts, independent of append_result.
func (s *Store) SetDiscoveredEligible(ctx context.Context, scanID int64, discovered, eligible int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scans SET total = ?, eligible = ? WHERE id = ?`, discovered, eligible, scanID)
	return err
}

// AppendResult inserts one scan_results row and increments the
// appropriate counters on the parent scans row, atomically. A failed
// append never partially updates counters.
func (s *Store) AppendResult(ctx context.Context, scanID int64, row model.ResultRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	indicatorsJSON, err := json.Marshal(row.Indicators)
	if err != nil {
		return fmt.Errorf("history: marshal indicators: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_results (
			scan_id, file_path, file_size, mtime, is_corrupt, verdict, confidence,
			indicators, raw_diagnostics, inspection_time_seconds, scan_mode,
			needs_deep, deep_completed, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scanID, row.FilePath, row.FileSize, row.ModTime.UTC().Format(time.RFC3339Nano),
		boolToInt(row.IsCorrupt), string(row.Verdict), row.Confidence,
		string(indicatorsJSON), row.RawDiagnostics, row.InspectSeconds, string(row.ScanMode),
		boolToInt(row.NeedsDeep), boolToInt(row.DeepCompleted), row.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("history: insert result: %w", err)
	}

	if err := incrementCounters(ctx, tx, scanID, row); err != nil {
		return err
	}

	return tx.Commit()
}

func incrementCounters(ctx context.Context, tx *sql.Tx, scanID int64, row model.ResultRow) error {
	processed, healthy, corrupt, suspicious := 0, 0, 0, 0
	switch row.Verdict {
	case model.FileStatusHealthy:
		processed, healthy = 1, 1
	case model.FileStatusCorrupt:
		processed, corrupt = 1, 1
	case model.FileStatusSuspicious:
		processed, suspicious = 1, 1
	}
	deepNeeded, deepCompleted := 0, 0
	if row.NeedsDeep {
		deepNeeded = 1
	}
	if row.DeepCompleted {
		deepCompleted = 1
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE scans SET
			processed = processed + ?,
			healthy = healthy + ?,
			corrupt = corrupt + ?,
			suspicious = suspicious + ?,
			deep_needed = deep_needed + ?,
			deep_completed = deep_completed + ?
		WHERE id = ?`,
		processed, healthy, corrupt, suspicious, deepNeeded, deepCompleted, scanID)
	return err
}

// FinalizeRun sets completed_at/status on scanID, recomputing
// denormalized counters from scan_results as an authority check. A
// mismatch is an invariant violation and is rejected. Finalizing an
// already-terminal run is also rejected.
func (s *Store) FinalizeRun(ctx context.Context, scanID int64, status model.RunStatus) error {
	return s.finalizeRun(ctx, scanID, status)
}

func (s *Store) finalizeRun(ctx context.Context, scanID int64, status model.RunStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = ?`, scanID).Scan(&currentStatus); err != nil {
		if err == sql.ErrNoRows {
			return &ErrInvariantViolation{Msg: fmt.Sprintf("finalize: scan %d does not exist", scanID)}
		}
		return err
	}
	if currentStatus != string(model.StatusRunning) {
		return &ErrInvariantViolation{Msg: fmt.Sprintf("finalize: scan %d already finalized (status=%s)", scanID, currentStatus)}
	}

	var processed, healthy, corrupt, suspicious int
	err = tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE verdict IN ('healthy','corrupt','suspicious')),
			COUNT(*) FILTER (WHERE verdict = 'healthy'),
			COUNT(*) FILTER (WHERE verdict = 'corrupt'),
			COUNT(*) FILTER (WHERE verdict = 'suspicious')
		FROM scan_results WHERE scan_id = ?`, scanID).Scan(&processed, &healthy, &corrupt, &suspicious)
	if err != nil {
		return fmt.Errorf("history: recompute counters: %w", err)
	}

	if status == model.StatusCompleted {
		var storedProcessed, storedHealthy, storedCorrupt, storedSuspicious int
		if err := tx.QueryRowContext(ctx, `SELECT processed, healthy, corrupt, suspicious FROM scans WHERE id = ?`, scanID).
			Scan(&storedProcessed, &storedHealthy, &storedCorrupt, &storedSuspicious); err != nil {
			return err
		}
		if storedProcessed != processed || storedHealthy != healthy || storedCorrupt != corrupt || storedSuspicious != suspicious {
			return &ErrInvariantViolation{Msg: fmt.Sprintf(
				"finalize: counter mismatch for scan %d: stored processed=%d healthy=%d corrupt=%d suspicious=%d, recomputed processed=%d healthy=%d corrupt=%d suspicious=%d",
				scanID, storedProcessed, storedHealthy, storedCorrupt, storedSuspicious, processed, healthy, corrupt, suspicious)}
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE scans SET
			status = ?, completed_at = ?,
			processed = ?, healthy = ?, corrupt = ?, suspicious = ?
		WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), processed, healthy, corrupt, suspicious, scanID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

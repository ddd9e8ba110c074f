package history

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/videoguard/scancore/internal/log"
)

// Cleanup deletes scans (and their cascaded scan_results/resume_entries)
// older than olderThanDays in a single transaction, then vacuums unless
// dryRun. It returns how many scans and results would be (or were)
// removed.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int, dryRun bool) (scansDeleted, resultsDeleted int, err error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var scanIDs []int64
	rows, err := tx.QueryContext(ctx, `SELECT id FROM scans WHERE started_at < ? AND status != 'running'`, cutoff)
	if err != nil {
		return 0, 0, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, 0, err
		}
		scanIDs = append(scanIDs, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, 0, err
	}
	_ = rows.Close()

	if len(scanIDs) == 0 {
		return 0, 0, tx.Commit()
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_results WHERE scan_id IN (
			SELECT id FROM scans WHERE started_at < ? AND status != 'running')`, cutoff).Scan(&resultsDeleted); err != nil {
		return 0, 0, err
	}
	scansDeleted = len(scanIDs)

	if dryRun {
		return scansDeleted, resultsDeleted, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE started_at < ? AND status != 'running'`, cutoff); err != nil {
		return 0, 0, fmt.Errorf("history: cleanup delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		log.WithComponent("history").Warn().Err(err).Msg("vacuum after cleanup failed")
	}
	return scansDeleted, resultsDeleted, nil
}

// Backup writes a snapshot-consistent copy of the store to destination
// using sqlite's online backup mechanism (VACUUM INTO), which never
// observes a writer mid-transaction the way a raw file copy would.
func (s *Store) Backup(ctx context.Context, destination string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destination); err != nil {
		return 0, fmt.Errorf("history: backup: %w", err)
	}
	fi, err := os.Stat(destination)
	if err != nil {
		return 0, fmt.Errorf("history: stat backup: %w", err)
	}
	return fi.Size(), nil
}

// Restore replaces the store's backing file with source. The current
// file is moved aside as a ".bak" sibling unless force is set, in
// which case it is overwritten outright. The caller must not use s
// again after Restore returns; reopen with Open instead.
func Restore(dbPath, source string, force bool) error {
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("history: restore source: %w", err)
	}

	if _, err := os.Stat(dbPath); err == nil && !force {
		backupPath := dbPath + ".bak"
		if err := copyFile(dbPath, backupPath); err != nil {
			return fmt.Errorf("history: moving current store aside: %w", err)
		}
	}

	return copyFile(source, dbPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// verifyOpenable is used by tests to confirm a restored file is a
// readable sqlite database without keeping a long-lived handle open.
func verifyOpenable(path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Ping()
}

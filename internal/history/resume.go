package history

import (
	"context"
	"time"

	"github.com/videoguard/scancore/internal/model"
)

// ResumeEntry is the durable write-ahead record of one finalized file
// within a run, minimal enough to reconstruct counts and verdicts
// without re-inspection.
type ResumeEntry struct {
	FilePath string
	FileSize int64
	ModTime  time.Time
	Verdict  model.FileStatus
	Confidence float64
	ScanMode model.Depth
}

// AppendResumeEntry durably records one finalized file identity for
// scanID. Piggybacked on the History Store per the resume backing
// medium decision: this gives resume state the same transactional
// durability as scan_results.
func (s *Store) AppendResumeEntry(ctx context.Context, scanID int64, entry ResumeEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resume_entries (scan_id, file_path, file_size, mtime, verdict, confidence, scan_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id, file_path) DO UPDATE SET
			file_size = excluded.file_size, mtime = excluded.mtime, verdict = excluded.verdict,
			confidence = excluded.confidence, scan_mode = excluded.scan_mode, created_at = excluded.created_at`,
		scanID, entry.FilePath, entry.FileSize, entry.ModTime.UTC().Format(time.RFC3339Nano),
		string(entry.Verdict), entry.Confidence, string(entry.ScanMode), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// ResumeEntries returns every identity already finalized for scanID,
// keyed by Identity so the Run Controller can skip re-inspecting them.
func (s *Store) ResumeEntries(ctx context.Context, scanID int64) (map[model.Identity]ResumeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, file_size, mtime, verdict, confidence, scan_mode
		FROM resume_entries WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.Identity]ResumeEntry)
	for rows.Next() {
		var e ResumeEntry
		var mtime string
		if err := rows.Scan(&e.FilePath, &e.FileSize, &mtime, &e.Verdict, &e.Confidence, &e.ScanMode); err != nil {
			return nil, err
		}
		e.ModTime, _ = time.Parse(time.RFC3339Nano, mtime)
		id := model.Identity{Path: e.FilePath, Size: e.FileSize, ModTime: e.ModTime}
		out[id] = e
	}
	return out, rows.Err()
}

// ClearResumeEntries removes every resume_entries row for scanID. The
// Run Controller calls this once a run reaches status=completed; a
// cancelled run retains its entries so a later run can resume.
func (s *Store) ClearResumeEntries(ctx context.Context, scanID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resume_entries WHERE scan_id = ?`, scanID)
	return err
}

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/videoguard/scancore/internal/model"
)

// ResultFilter narrows the rows returned by Query and ResultsFor.
type ResultFilter struct {
	DirectoryPrefix  string
	Verdicts         []model.FileStatus
	MinConfidence    *float64
	Since            *time.Time
	Until            *time.Time
	FilenameLike     string // SQL LIKE pattern, matched against file_path
	Limit            int
	Offset           int
}

// RecentScans returns ScanSummary rows ordered by started_at DESC,
// optionally restricted to one directory.
func (s *Store) RecentScans(ctx context.Context, limit int, directory string) ([]model.ScanSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, directory, mode, total, eligible, processed, healthy, corrupt, suspicious,
		deep_needed, deep_completed, scan_time_seconds, started_at, completed_at, was_resumed, status
		FROM scans`
	args := []any{}
	if directory != "" {
		query += ` WHERE directory = ?`
		args = append(args, directory)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ScanSummary
	for rows.Next() {
		summary, err := scanSummaryFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// ScanByID returns a single ScanSummary by its id.
func (s *Store) ScanByID(ctx context.Context, scanID int64) (model.ScanSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, directory, mode, total, eligible, processed, healthy, corrupt, suspicious,
		deep_needed, deep_completed, scan_time_seconds, started_at, completed_at, was_resumed, status
		FROM scans WHERE id = ?`, scanID)

	var summary model.ScanSummary
	var startedAt string
	var completedAt sql.NullString
	var wasResumed int
	if err := row.Scan(
		&summary.ID, &summary.Directory, &summary.Mode, &summary.Discovered, &summary.Eligible,
		&summary.Processed, &summary.Healthy, &summary.Corrupt, &summary.Suspicious,
		&summary.DeepNeeded, &summary.DeepCompleted, &summary.ScanSeconds,
		&startedAt, &completedAt, &wasResumed, &summary.Status,
	); err != nil {
		return model.ScanSummary{}, err
	}
	summary.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			summary.CompletedAt = &t
		}
	}
	summary.WasResumed = wasResumed != 0
	return summary, nil
}

func scanSummaryFromRow(rows *sql.Rows) (model.ScanSummary, error) {
	var summary model.ScanSummary
	var startedAt string
	var completedAt sql.NullString
	var wasResumed int
	if err := rows.Scan(
		&summary.ID, &summary.Directory, &summary.Mode, &summary.Discovered, &summary.Eligible,
		&summary.Processed, &summary.Healthy, &summary.Corrupt, &summary.Suspicious,
		&summary.DeepNeeded, &summary.DeepCompleted, &summary.ScanSeconds,
		&startedAt, &completedAt, &wasResumed, &summary.Status,
	); err != nil {
		return model.ScanSummary{}, err
	}
	summary.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err == nil {
			summary.CompletedAt = &t
		}
	}
	summary.WasResumed = wasResumed != 0
	return summary, nil
}

// ResultsFor returns every InspectionResult persisted against scanID,
// narrowed by filter. filter.DirectoryPrefix is ignored.
func (s *Store) ResultsFor(ctx context.Context, scanID int64, filter ResultFilter) ([]model.ResultRow, error) {
	filter.DirectoryPrefix = ""
	where, args := buildWhere(filter)
	where = append([]string{"scan_id = ?"}, where...)
	args = append([]any{scanID}, args...)
	return s.queryResults(ctx, where, args, filter.Limit, filter.Offset)
}

// Query returns InspectionResults across all runs matching filter.
func (s *Store) Query(ctx context.Context, filter ResultFilter) ([]model.ResultRow, error) {
	where, args := buildWhere(filter)
	return s.queryResults(ctx, where, args, filter.Limit, filter.Offset)
}

func buildWhere(filter ResultFilter) ([]string, []any) {
	var clauses []string
	var args []any

	if filter.DirectoryPrefix != "" {
		clauses = append(clauses, "file_path LIKE ?")
		args = append(args, filter.DirectoryPrefix+"%")
	}
	if len(filter.Verdicts) > 0 {
		placeholders := make([]string, len(filter.Verdicts))
		for i, v := range filter.Verdicts {
			placeholders[i] = "?"
			args = append(args, string(v))
		}
		clauses = append(clauses, fmt.Sprintf("verdict IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.MinConfidence != nil {
		clauses = append(clauses, "confidence >= ?")
		args = append(args, *filter.MinConfidence)
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	if filter.FilenameLike != "" {
		clauses = append(clauses, "file_path LIKE ?")
		args = append(args, filter.FilenameLike)
	}
	return clauses, args
}

func (s *Store) queryResults(ctx context.Context, where []string, args []any, limit, offset int) ([]model.ResultRow, error) {
	query := `SELECT id, scan_id, file_path, file_size, mtime, is_corrupt, verdict, confidence,
		indicators, raw_diagnostics, inspection_time_seconds, scan_mode, needs_deep, deep_completed, timestamp
		FROM scan_results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ResultRow
	for rows.Next() {
		row, err := resultRowFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func resultRowFromRow(rows *sql.Rows) (model.ResultRow, error) {
	var row model.ResultRow
	var mtime, timestamp string
	var isCorrupt int
	var indicatorsJSON string
	var needsDeep, deepCompleted int
	if err := rows.Scan(
		&row.ID, &row.ScanID, &row.FilePath, &row.FileSize, &mtime, &isCorrupt, &row.Verdict, &row.Confidence,
		&indicatorsJSON, &row.RawDiagnostics, &row.InspectSeconds, &row.ScanMode, &needsDeep, &deepCompleted, &timestamp,
	); err != nil {
		return model.ResultRow{}, err
	}
	row.ModTime, _ = time.Parse(time.RFC3339Nano, mtime)
	row.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	row.IsCorrupt = isCorrupt != 0
	row.NeedsDeep = needsDeep != 0
	row.DeepCompleted = deepCompleted != 0
	_ = json.Unmarshal([]byte(indicatorsJSON), &row.Indicators)
	return row, nil
}

// RecentHealthy reports whether a result for this exact (path, size,
// mtime) identity exists with verdict=healthy within the last
// windowDays. Used by the Scheduler's incremental-skip policy.
func (s *Store) RecentHealthy(ctx context.Context, id model.Identity, windowDays int) (bool, error) {
	cutoff := time.Now().AddDate(0, 0, -windowDays).UTC().Format(time.RFC3339Nano)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_results
		WHERE file_path = ? AND file_size = ? AND mtime = ? AND verdict = 'healthy' AND timestamp >= ?`,
		id.Path, id.Size, id.ModTime.UTC().Format(time.RFC3339Nano), cutoff).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TrendPoint is one daily aggregation bucket returned by CorruptionTrend.
type TrendPoint struct {
	Date    string
	Total   int
	Corrupt int
	Rate    float64
}

// CorruptionTrend returns a daily aggregation of processed vs. corrupt
// counts for directory over the last days.
func (s *Store) CorruptionTrend(ctx context.Context, directory string, days int) ([]TrendPoint, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(r.timestamp, 1, 10) AS day,
			COUNT(*) AS total,
			SUM(CASE WHEN r.verdict = 'corrupt' THEN 1 ELSE 0 END) AS corrupt
		FROM scan_results r
		JOIN scans sc ON sc.id = r.scan_id
		WHERE sc.directory = ? AND r.timestamp >= ? AND r.verdict IN ('healthy','corrupt','suspicious')
		GROUP BY day
		ORDER BY day ASC`, directory, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Date, &p.Total, &p.Corrupt); err != nil {
			return nil, err
		}
		if p.Total > 0 {
			p.Rate = float64(p.Corrupt) / float64(p.Total)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CompareResult is the outcome of comparing two runs against the same
// directory by file-path set membership.
type CompareResult struct {
	NewCorrupt   []string
	NewlyHealthy []string
	StillCorrupt []string
	StillHealthy []string
	Gone         []string // present in A, absent in B
	Added        []string // present in B, absent in A
}

// Compare diffs two scans' per-file verdicts by file path.
func (s *Store) Compare(ctx context.Context, scanIDA, scanIDB int64) (CompareResult, error) {
	a, err := s.verdictsByPath(ctx, scanIDA)
	if err != nil {
		return CompareResult{}, err
	}
	b, err := s.verdictsByPath(ctx, scanIDB)
	if err != nil {
		return CompareResult{}, err
	}

	var out CompareResult
	for path, va := range a {
		vb, ok := b[path]
		if !ok {
			out.Gone = append(out.Gone, path)
			continue
		}
		switch {
		case va != model.FileStatusCorrupt && vb == model.FileStatusCorrupt:
			out.NewCorrupt = append(out.NewCorrupt, path)
		case va == model.FileStatusCorrupt && vb == model.FileStatusHealthy:
			out.NewlyHealthy = append(out.NewlyHealthy, path)
		case va == model.FileStatusCorrupt && vb == model.FileStatusCorrupt:
			out.StillCorrupt = append(out.StillCorrupt, path)
		case va == model.FileStatusHealthy && vb == model.FileStatusHealthy:
			out.StillHealthy = append(out.StillHealthy, path)
		}
	}
	for path := range b {
		if _, ok := a[path]; !ok {
			out.Added = append(out.Added, path)
		}
	}
	return out, nil
}

func (s *Store) verdictsByPath(ctx context.Context, scanID int64) (map[string]model.FileStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_path, verdict FROM scan_results WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]model.FileStatus)
	for rows.Next() {
		var path, verdict string
		if err := rows.Scan(&path, &verdict); err != nil {
			return nil, err
		}
		out[path] = model.FileStatus(verdict)
	}
	return out, rows.Err()
}

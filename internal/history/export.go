package history

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportFormat selects the serialization Export streams results in.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
	ExportYAML ExportFormat = "yaml"
)

var csvHeader = []string{
	"scan_id", "file_path", "file_size", "mtime", "verdict", "confidence",
	"indicators", "inspection_time_seconds", "scan_mode", "needs_deep", "deep_completed", "timestamp",
}

// Export streams results matching filter to w in the given format
// without materializing the full result set in memory: rows are
// scanned and written one at a time from the open cursor.
func (s *Store) Export(ctx context.Context, filter ResultFilter, format ExportFormat, w io.Writer) error {
	where, args := buildWhere(filter)
	query := `SELECT id, scan_id, file_path, file_size, mtime, is_corrupt, verdict, confidence,
		indicators, raw_diagnostics, inspection_time_seconds, scan_mode, needs_deep, deep_completed, timestamp
		FROM scan_results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	switch format {
	case ExportCSV:
		return exportCSV(rows, w)
	case ExportYAML:
		return exportRows(rows, yaml.NewEncoder(w).Encode)
	case ExportJSON, "":
		enc := json.NewEncoder(w)
		return exportRows(rows, enc.Encode)
	default:
		return fmt.Errorf("history: unknown export format %q", format)
	}
}

func exportRows(rows *sql.Rows, encode func(any) error) error {
	for rows.Next() {
		row, err := resultRowFromRow(rows)
		if err != nil {
			return err
		}
		if err := encode(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func exportCSV(rows *sql.Rows, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for rows.Next() {
		row, err := resultRowFromRow(rows)
		if err != nil {
			return err
		}
		indicatorsJSON, err := json.Marshal(row.Indicators)
		if err != nil {
			return err
		}
		record := []string{
			strconv.FormatInt(row.ScanID, 10),
			row.FilePath,
			strconv.FormatInt(row.FileSize, 10),
			row.ModTime.Format("2006-01-02T15:04:05Z07:00"),
			string(row.Verdict),
			strconv.FormatFloat(row.Confidence, 'f', -1, 64),
			string(indicatorsJSON),
			strconv.FormatFloat(row.InspectSeconds, 'f', -1, 64),
			string(row.ScanMode),
			strconv.FormatBool(row.NeedsDeep),
			strconv.FormatBool(row.DeepCompleted),
			row.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := rows.Err(); err != nil {
		return err
	}
	return writer.Error()
}

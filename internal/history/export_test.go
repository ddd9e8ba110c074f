package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/videoguard/scancore/internal/model"
)

func TestStore_ExportJSONStreamsOneObjectPerLine(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 3600)
	seedScanWithResults(t, store, "/videos",
		sampleRow("/videos/a.mkv", model.FileStatusHealthy),
		sampleRow("/videos/b.mkv", model.FileStatusCorrupt),
	)

	var buf bytes.Buffer
	require.NoError(t, store.Export(ctx, ResultFilter{}, ExportJSON, &buf))

	dec := json.NewDecoder(&buf)
	var rows []model.ResultRow
	for dec.More() {
		var row model.ResultRow
		require.NoError(t, dec.Decode(&row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
}

func TestStore_ExportCSVIncludesHeader(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 3600)
	seedScanWithResults(t, store, "/videos", sampleRow("/videos/a.mkv", model.FileStatusHealthy))

	var buf bytes.Buffer
	require.NoError(t, store.Export(ctx, ResultFilter{}, ExportCSV, &buf))

	reader := csv.NewReader(&buf)
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2) // header + one row
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "/videos/a.mkv", records[1][1])
}

func TestStore_ExportYAMLRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 3600)
	seedScanWithResults(t, store, "/videos", sampleRow("/videos/a.mkv", model.FileStatusHealthy))

	var buf bytes.Buffer
	require.NoError(t, store.Export(ctx, ResultFilter{}, ExportYAML, &buf))
	require.Contains(t, buf.String(), "/videos/a.mkv")
}

func TestStore_ExportUnknownFormatErrors(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 3600)
	seedScanWithResults(t, store, "/videos", sampleRow("/videos/a.mkv", model.FileStatusHealthy))

	var buf bytes.Buffer
	err := store.Export(ctx, ResultFilter{}, ExportFormat("xml"), &buf)
	require.Error(t, err)
}

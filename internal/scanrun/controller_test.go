package scanrun

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/videoguard/scancore/internal/analyzer"
	"github.com/videoguard/scancore/internal/classifier"
	"github.com/videoguard/scancore/internal/config"
	"github.com/videoguard/scancore/internal/history"
	"github.com/videoguard/scancore/internal/model"
)

// fakeProber reports every file as eligible with one video stream,
// without touching the filesystem.
type fakeProber struct{}

func (fakeProber) Probe(_ context.Context, id model.Identity, _ time.Duration) model.ProbeResult {
	return model.ProbeResult{Identity: id, Success: true, Streams: []model.Stream{{Index: 0, Kind: model.StreamVideo, Codec: "h264"}}}
}

// scriptedInspector returns a canned RawAnalysis per path, defaulting to
// a clean pass for any path not explicitly scripted.
type scriptedInspector struct {
	mu     sync.Mutex
	byPath map[string]analyzer.RawAnalysis
	calls  map[string]int
}

func newScriptedInspector() *scriptedInspector {
	return &scriptedInspector{byPath: map[string]analyzer.RawAnalysis{}, calls: map[string]int{}}
}

func (s *scriptedInspector) Inspect(_ context.Context, id model.Identity, _ model.Depth, _ time.Duration) analyzer.RawAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id.Path]++
	if r, ok := s.byPath[id.Path]; ok {
		return r
	}
	return analyzer.RawAnalysis{ExitCode: 0}
}

func (s *scriptedInspector) callCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func writeVideoFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("fake video bytes"), 0o644))
	}
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scancore.db")
	store, err := history.Open(context.Background(), dbPath, 3600)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestController_QuickModeAllHealthy(t *testing.T) {
	dir := t.TempDir()
	writeVideoFiles(t, dir, "a.mkv", "b.mkv", "c.mkv")

	cfg := config.Default()
	cfg.Scan.Mode = "quick"
	cfg.Scan.Extensions = []string{".mkv"}
	cfg.ProbeCache.Enabled = false
	cfg.Pool.MaxWorkers, cfg.Pool.QueueCapacity = 2, 4

	store := newTestStore(t)
	inspector := newScriptedInspector()
	ctrl := New(cfg, store, nil, fakeProber{}, inspector, classifier.New(cfg))

	summary, err := ctrl.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, summary.Status)
	require.Equal(t, 3, summary.Discovered)
	require.Equal(t, 3, summary.Eligible)
	require.Equal(t, 3, summary.Processed)
	require.Equal(t, 3, summary.Healthy)
}

func TestController_HybridPromotesCorruptToDeep(t *testing.T) {
	dir := t.TempDir()
	writeVideoFiles(t, dir, "good.mkv", "bad.mkv")

	cfg := config.Default()
	cfg.Scan.Mode = "hybrid"
	cfg.Scan.Extensions = []string{".mkv"}
	cfg.ProbeCache.Enabled = false
	cfg.Pool.MaxWorkers, cfg.Pool.QueueCapacity = 2, 4

	store := newTestStore(t)
	inspector := newScriptedInspector()
	badPath := filepath.Join(dir, "bad.mkv")
	inspector.byPath[badPath] = analyzer.RawAnalysis{ExitCode: 1, Diagnostics: "corrupt frame detected"}

	ctrl := New(cfg, store, nil, fakeProber{}, inspector, classifier.New(cfg))
	summary, err := ctrl.Run(context.Background(), dir)
	require.NoError(t, err)

	require.Equal(t, model.StatusCompleted, summary.Status)
	require.Equal(t, 2, summary.Discovered)
	require.Equal(t, 1, summary.Healthy)
	require.Equal(t, 1, summary.Corrupt)
	require.Equal(t, 2, inspector.callCount(badPath), "corrupt file must be re-inspected at deep depth")

	goodPath := filepath.Join(dir, "good.mkv")
	require.Equal(t, 1, inspector.callCount(goodPath), "healthy quick result is never promoted")

	results, err := store.ResultsFor(context.Background(), summary.ID, history.ResultFilter{})
	require.NoError(t, err)
	require.Len(t, results, 2, "one persisted row per file, not one per depth")
}

func TestController_IneligibleFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeVideoFiles(t, dir, "audio_only.mkv")

	cfg := config.Default()
	cfg.Scan.Mode = "quick"
	cfg.Scan.Extensions = []string{".mkv"}
	cfg.ProbeCache.Enabled = false

	store := newTestStore(t)
	prober := ineligibleProber{}
	ctrl := New(cfg, store, nil, prober, newScriptedInspector(), classifier.New(cfg))

	summary, err := ctrl.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Discovered)
	require.Equal(t, 0, summary.Eligible)
	require.Equal(t, 0, summary.Processed)

	results, err := store.ResultsFor(context.Background(), summary.ID, history.ResultFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.FileStatusSkippedIneligible, results[0].Verdict)
}

type ineligibleProber struct{}

func (ineligibleProber) Probe(_ context.Context, id model.Identity, _ time.Duration) model.ProbeResult {
	return model.ProbeResult{Identity: id, Success: true, Streams: []model.Stream{{Index: 0, Kind: model.StreamAudio, Codec: "aac"}}}
}

func TestController_CancellationFinalizesAsCancelledAndRetainsResume(t *testing.T) {
	dir := t.TempDir()
	writeVideoFiles(t, dir, "a.mkv", "b.mkv", "c.mkv")

	cfg := config.Default()
	cfg.Scan.Mode = "quick"
	cfg.Scan.Extensions = []string{".mkv"}
	cfg.ProbeCache.Enabled = false
	cfg.Pool.MaxWorkers, cfg.Pool.QueueCapacity = 1, 1

	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the run even starts

	ctrl := New(cfg, store, nil, fakeProber{}, newScriptedInspector(), classifier.New(cfg))
	summary, err := ctrl.Run(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, summary.Status)
}

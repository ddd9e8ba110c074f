package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/videoguard/scancore/internal/analyzer"
	"github.com/videoguard/scancore/internal/model"
)

// fakeInspector returns a canned RawAnalysis per call without touching
// the filesystem or spawning a subprocess, optionally blocking until ctx
// is cancelled to exercise cancellation behavior.
type fakeInspector struct {
	mu       sync.Mutex
	calls    int32
	result   analyzer.RawAnalysis
	blockCtx bool
}

func (f *fakeInspector) Inspect(ctx context.Context, _ model.Identity, _ model.Depth, _ time.Duration) analyzer.RawAnalysis {
	atomic.AddInt32(&f.calls, 1)
	if f.blockCtx {
		<-ctx.Done()
		return analyzer.RawAnalysis{Timeout: true}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakeInspector) callCount() int32 { return atomic.LoadInt32(&f.calls) }

// fakeClassifier always reports the same verdict, regardless of input.
type fakeClassifier struct {
	verdict    model.Verdict
	confidence float64
}

func (f fakeClassifier) Classify(string, int) (model.Verdict, float64, []model.Indicator) {
	return f.verdict, f.confidence, nil
}

func TestPool_ProcessesAllSubmittedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inspector := &fakeInspector{result: analyzer.RawAnalysis{ExitCode: 0}}
	cls := fakeClassifier{verdict: model.VerdictHealthy}

	pool := New(ctx, inspector, cls, 4, 8)
	pool.Start()

	const n = 20
	waitErr := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			job := Job{File: model.VideoFile{Identity: model.Identity{Path: "f.mkv"}}, Depth: model.DepthQuick, Timeout: time.Second}
			require.True(t, pool.Submit(ctx, job))
		}
		pool.Close()
		waitErr <- pool.Wait()
	}()

	var got int
	for res := range pool.Results() {
		require.NoError(t, res.Err)
		require.Equal(t, model.VerdictHealthy, res.Inspection.Verdict)
		got++
	}
	require.NoError(t, <-waitErr)
	require.Equal(t, n, got)
	require.Equal(t, int32(n), inspector.callCount())
}

func TestPool_LaunchErrorSurfacesAsResultErr(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inspector := &fakeInspector{result: analyzer.RawAnalysis{LaunchError: true}}
	cls := fakeClassifier{verdict: model.VerdictHealthy}

	pool := New(ctx, inspector, cls, 2, 4)
	pool.Start()

	require.True(t, pool.Submit(ctx, Job{File: model.VideoFile{Identity: model.Identity{Path: "f.mkv"}}, Timeout: time.Second}))
	pool.Close()

	res := <-pool.Results()
	require.Error(t, res.Err)
	require.NoError(t, pool.Wait())
}

func TestPool_CancelStopsAcceptingSubmissions(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inspector := &fakeInspector{result: analyzer.RawAnalysis{}}
	cls := fakeClassifier{verdict: model.VerdictHealthy}

	pool := New(ctx, inspector, cls, 1, 1)
	pool.Start()

	pool.Cancel()
	accepted := pool.Submit(ctx, Job{File: model.VideoFile{Identity: model.Identity{Path: "f.mkv"}}, Timeout: time.Second})
	require.False(t, accepted)

	pool.Close()
	require.NoError(t, pool.Wait())
	for range pool.Results() {
	}
}

func TestPool_ContextCancellationUnblocksInFlightWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	inspector := &fakeInspector{blockCtx: true}
	cls := fakeClassifier{verdict: model.VerdictHealthy}

	pool := New(ctx, inspector, cls, 2, 4)
	pool.Start()

	require.True(t, pool.Submit(ctx, Job{File: model.VideoFile{Identity: model.Identity{Path: "f.mkv"}}, Timeout: time.Minute}))

	// give the worker a moment to pick up the job before cancelling.
	time.Sleep(10 * time.Millisecond)
	cancel()
	pool.Close()

	require.NoError(t, pool.Wait())
	for range pool.Results() {
	}
}

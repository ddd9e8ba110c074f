// Package workerpool executes inspection jobs with bounded parallelism:
// a fixed pool of workers pulling from a bounded submission channel,
// publishing results on a single unordered result channel, and
// terminating cleanly on cancellation.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/videoguard/scancore/internal/analyzer"
	"github.com/videoguard/scancore/internal/log"
	"github.com/videoguard/scancore/internal/metrics"
	"github.com/videoguard/scancore/internal/model"
)

// Inspector is the subset of analyzer.Driver the pool depends on,
// narrowed so tests can substitute a fake without launching a real
// subprocess. *analyzer.Driver and analyzer.Driver both satisfy it.
type Inspector interface {
	Inspect(ctx context.Context, id model.Identity, depth model.Depth, timeout time.Duration) analyzer.RawAnalysis
}

// Classifier is the subset of classifier.Classifier the pool depends on.
type Classifier interface {
	Classify(diagnostics string, exitCode int) (model.Verdict, float64, []model.Indicator)
}

// Job is one unit of work submitted to the pool.
type Job struct {
	File    model.VideoFile
	Depth   model.Depth
	Probe   *model.ProbeResult
	Timeout time.Duration
}

// Result is the outcome of one job, published on the pool's result
// channel in no particular order relative to submission.
type Result struct {
	Job        Job
	Inspection model.InspectionResult
	Err        error // non-nil only for a launch-level failure with no usable diagnostics
}

// Pool is a bounded worker pool over the analyzer+classifier pipeline.
// Construct with New; call Start once, Submit any number of times, then
// Close followed by Wait.
type Pool struct {
	driver     Inspector
	classifier Classifier

	jobs    chan Job
	results chan Result
	workers int

	cancelled atomic.Bool
	closeOnce sync.Once

	group    *errgroup.Group
	groupCtx context.Context
}

// New constructs a Pool with the given worker count and queue
// capacity. workers and queueCapacity must both be >= 1.
func New(ctx context.Context, driver Inspector, cls Classifier, workers, queueCapacity int) *Pool {
	group, groupCtx := errgroup.WithContext(ctx)
	return &Pool{
		driver:     driver,
		classifier: cls,
		jobs:       make(chan Job, queueCapacity),
		results:    make(chan Result, queueCapacity),
		workers:    workers,
		group:      group,
		groupCtx:   groupCtx,
	}
}

// Start launches the worker goroutines. Each worker owns at most one
// analyzer child process at a time.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			p.workerLoop()
			return nil
		})
	}
}

func (p *Pool) workerLoop() {
	for job := range p.jobs {
		metrics.WorkerPoolInFlight.Inc()
		result := p.run(job)
		metrics.WorkerPoolInFlight.Dec()

		select {
		case p.results <- result:
		case <-p.groupCtx.Done():
			return
		}
	}
}

func (p *Pool) run(job Job) Result {
	// Each job gets its own correlation id, the same way the teacher
	// tags each inbound HTTP request, so a file's probe/quick/deep
	// invocations can be grepped out of interleaved worker logs.
	jobID := uuid.New().String()
	ctx := log.ContextWithJobID(log.ContextWithFile(p.groupCtx, job.File.Identity.Path), jobID)
	logger := log.WithComponentFromContext(ctx, "workerpool")
	logger.Debug().Str("depth", string(job.Depth)).Msg("inspection started")

	raw := p.driver.Inspect(ctx, job.File.Identity, job.Depth, job.Timeout)

	if raw.LaunchError {
		return Result{Job: job, Err: errLaunchFailure}
	}

	verdict, confidence, indicators := p.classifier.Classify(raw.Diagnostics, raw.ExitCode)
	if raw.Timeout && len(indicators) == 0 {
		// A timeout/stall with no usable diagnostics carries no signal
		// to classify on; report it distinctly so the Scheduler can
		// promote it rather than trusting a manufactured verdict.
		indicators = append(indicators, model.Indicator{Tag: "inspect_timeout", Weight: 0})
	}

	inspection := model.InspectionResult{
		Identity:       job.File.Identity,
		Verdict:        verdict,
		Confidence:     confidence,
		Mode:           job.Depth,
		Indicators:     indicators,
		RawDiagnostics: raw.Diagnostics,
		InspectWall:    raw.Wall,
		Timestamp:      time.Now(),
		Probe:          job.Probe,
	}
	return Result{Job: job, Inspection: inspection}
}

// errLaunchFailure signals a per-file subprocess launch failure with no
// usable diagnostics, as distinct from a completed (even if timed-out)
// invocation.
var errLaunchFailure = launchError{}

type launchError struct{}

func (launchError) Error() string { return "workerpool: analyzer launch failed" }

// Submit enqueues job, blocking if the submission channel is full
// (producer backpressure) until capacity frees up, ctx is done, or the
// pool has been cancelled. It reports whether the job was accepted.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	if p.cancelled.Load() {
		return false
	}
	select {
	case p.jobs <- job:
		metrics.WorkerPoolQueueDepth.Set(float64(len(p.jobs)))
		return true
	case <-ctx.Done():
		return false
	case <-p.groupCtx.Done():
		return false
	}
}

// Results returns the channel workers publish on. There is no ordering
// guarantee between publications.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Cancel flips the shared cancellation flag so that every later Submit
// returns false. It does not interrupt in-flight jobs or their analyzer
// child processes; those stop when the context passed to New is
// cancelled.
func (p *Pool) Cancel() {
	p.cancelled.Store(true)
}

// Close stops accepting submissions and closes the submission channel,
// signalling workers to drain and exit once idle. Safe to call once;
// subsequent calls are no-ops.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
}

// Wait blocks until every worker has exited, then closes the result
// channel. Shutdown order: stop submissions (Close) -> join workers
// (Wait) -> close result channel -> drain result consumer.
func (p *Pool) Wait() error {
	err := p.group.Wait()
	close(p.results)
	return err
}

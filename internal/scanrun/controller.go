// Package scanrun implements the top-level Run Controller: it drives
// one scan end-to-end (discovery, probing, scheduling, inspection,
// persistence) and exposes progress to an external reporter, borrowing
// the busy-guard/ticker-loop shape the teacher uses for its own
// long-running supervised worker.
package scanrun

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/videoguard/scancore/internal/config"
	"github.com/videoguard/scancore/internal/history"
	"github.com/videoguard/scancore/internal/log"
	"github.com/videoguard/scancore/internal/metrics"
	"github.com/videoguard/scancore/internal/model"
	"github.com/videoguard/scancore/internal/probecache"
	"github.com/videoguard/scancore/internal/scheduler"
	"github.com/videoguard/scancore/internal/walker"
	"github.com/videoguard/scancore/internal/workerpool"
)

// Prober is the subset of analyzer.Driver used for metadata extraction,
// narrowed so tests can substitute a fake instead of spawning ffprobe.
type Prober interface {
	Probe(ctx context.Context, id model.Identity, timeout time.Duration) model.ProbeResult
}

// progressEveryN and progressInterval jointly bound the progress
// publish rate: an update fires only once BOTH have elapsed, giving
// the coarser of the two bounds named in the progress contract.
const (
	progressEveryN   = 20
	progressInterval = 100 * time.Millisecond
)

// Controller orchestrates C5 (Walker), C7 (Scheduler) and C6 (Worker
// Pool) against the C4 History Store for one directory scan.
type Controller struct {
	cfg        config.Config
	store      *history.Store
	cache      *probecache.Cache
	prober     Prober
	inspector  workerpool.Inspector
	classifier workerpool.Classifier

	progress chan model.Progress
}

// New builds a Controller. cache may be nil to disable probe caching.
func New(cfg config.Config, store *history.Store, cache *probecache.Cache, prober Prober, inspector workerpool.Inspector, cls workerpool.Classifier) *Controller {
	return &Controller{
		cfg:        cfg,
		store:      store,
		cache:      cache,
		prober:     prober,
		inspector:  inspector,
		classifier: cls,
		progress:   make(chan model.Progress, 8),
	}
}

// Progress returns the channel progress snapshots are published on. It
// is closed when Run returns, so callers can safely range over it.
func (c *Controller) Progress() <-chan model.Progress { return c.progress }

// eligibleFile is one file that has passed probing/eligibility/
// incremental-skip and is queued for inspection.
type eligibleFile struct {
	identity model.Identity
	probe    model.ProbeResult
}

// runState accumulates progress counters and timing across a run. It is
// only ever touched from the Run goroutine, matching the "sole writer"
// concurrency model of the orchestrator task.
type runState struct {
	scanID     int64
	start      time.Time
	discovered int
	eligible   int
	processed  int
	healthy    int
	corrupt    int
	suspicious int

	lastEmit      time.Time
	sinceLastEmit int
}

// Run executes one scan of directory end-to-end and returns its final
// summary. It blocks until the run reaches a terminal state: completed,
// cancelled (ctx done, ResumeRecord retained) or failed (an
// unrecoverable store error).
func (c *Controller) Run(ctx context.Context, directory string) (model.ScanSummary, error) {
	defer close(c.progress)

	mode := model.ScanMode(c.cfg.Scan.Mode)
	scanID, resumeSet, state, err := c.openOrResume(context.WithoutCancel(ctx), directory, mode)
	if err != nil {
		return model.ScanSummary{}, fmt.Errorf("scanrun: open run: %w", err)
	}

	ctx = log.ContextWithRunID(ctx, strconv.FormatInt(scanID, 10))
	logger := log.WithComponentFromContext(ctx, "scanrun")
	logger.Info().Str("directory", directory).Str("mode", string(mode)).Msg("run started")

	sched := scheduler.New(c.cfg, c.store)
	pool := workerpool.New(ctx, c.inspector, c.classifier, c.cfg.Pool.MaxWorkers, c.cfg.Pool.QueueCapacity)
	pool.Start()

	status := model.StatusCompleted
	var runErr error

	files, discoverErr := c.discover(ctx, directory, sched, resumeSet, state, scanID)
	if ctx.Err() != nil {
		status = model.StatusCancelled
	} else if discoverErr != nil {
		status, runErr = model.StatusFailed, discoverErr
	} else {
		if err := c.inspectAll(ctx, pool, sched, files, state, scanID, mode, logger); err != nil {
			status, runErr = model.StatusFailed, err
		} else if ctx.Err() != nil {
			status = model.StatusCancelled
		}
	}

	pool.Close()
	if err := pool.Wait(); err != nil && runErr == nil {
		status, runErr = model.StatusFailed, err
	}

	metrics.SetPhase("finalizing")
	if err := c.store.FinalizeRun(context.WithoutCancel(ctx), scanID, status); err != nil {
		if runErr == nil {
			runErr = err
		}
		logger.Error().Err(err).Msg("finalize failed")
	}
	if status == model.StatusCompleted {
		if err := c.store.ClearResumeEntries(context.WithoutCancel(ctx), scanID); err != nil {
			logger.Warn().Err(err).Msg("clear resume entries failed")
		}
	}

	summary, sumErr := c.store.ScanByID(context.WithoutCancel(ctx), scanID)
	if sumErr != nil && runErr == nil {
		runErr = sumErr
	}
	logger.Info().Str("status", string(status)).Int("processed", state.processed).Msg("run finished")
	return summary, runErr
}

// openOrResume adopts a prior unfinalized run against the same
// (directory, mode), per the Run Controller protocol's resume step, or
// opens a fresh one.
func (c *Controller) openOrResume(ctx context.Context, directory string, mode model.ScanMode) (int64, map[model.Identity]history.ResumeEntry, *runState, error) {
	scanID, found, err := c.store.FindResumableRun(ctx, directory, mode)
	if err != nil {
		return 0, nil, nil, err
	}

	if !found {
		scanID, err = c.store.OpenRun(ctx, directory, mode)
		if err != nil {
			return 0, nil, nil, err
		}
		return scanID, map[model.Identity]history.ResumeEntry{}, &runState{scanID: scanID, start: time.Now()}, nil
	}

	if err := c.store.MarkResumed(ctx, scanID); err != nil {
		return 0, nil, nil, err
	}
	resumeSet, err := c.store.ResumeEntries(ctx, scanID)
	if err != nil {
		return 0, nil, nil, err
	}
	prior, err := c.store.ScanByID(ctx, scanID)
	if err != nil {
		return 0, nil, nil, err
	}
	state := &runState{
		scanID: scanID, start: time.Now(),
		processed: prior.Processed, healthy: prior.Healthy, corrupt: prior.Corrupt, suspicious: prior.Suspicious,
	}
	return scanID, resumeSet, state, nil
}

// discover walks the tree to completion, then probes and filters every
// candidate not already finalized by a prior attempt of this run.
func (c *Controller) discover(ctx context.Context, directory string, sched *scheduler.Scheduler, resumeSet map[model.Identity]history.ResumeEntry, state *runState, scanID int64) ([]eligibleFile, error) {
	metrics.SetPhase("discovery")

	var candidates []walker.Candidate
	for cand := range walker.Walk(ctx, directory, walker.Options{Extensions: c.cfg.Scan.Extensions}) {
		candidates = append(candidates, cand)
	}
	state.discovered = len(candidates)

	var eligible []eligibleFile
	for _, cand := range candidates {
		if _, done := resumeSet[cand.Identity]; done {
			continue
		}

		probe, ok, err := c.probeEligibility(ctx, cand.Identity)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := c.persistSkip(ctx, scanID, cand.Identity, model.FileStatusSkippedIneligible); err != nil {
				return nil, err
			}
			continue
		}

		skip, err := sched.ShouldSkipIncremental(ctx, cand.Identity)
		if err != nil {
			return nil, err
		}
		if skip.Skip {
			if err := c.persistSkip(ctx, scanID, cand.Identity, skip.Reason); err != nil {
				return nil, err
			}
			continue
		}

		state.eligible++
		eligible = append(eligible, eligibleFile{identity: cand.Identity, probe: probe})
	}

	return eligible, c.store.SetDiscoveredEligible(ctx, scanID, state.discovered, state.eligible)
}

// probeEligibility consults the probe cache, falling back to a fresh
// probe on a miss, and reports scan-eligibility. When
// require_probe_before_scan is disabled, eligibility is decided by the
// extension filter alone and no probe is performed.
func (c *Controller) probeEligibility(ctx context.Context, id model.Identity) (model.ProbeResult, bool, error) {
	if !c.cfg.Scan.RequireProbeBeforeScan {
		return model.ProbeResult{Identity: id, Success: true}, true, nil
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(id); ok {
			return cached, cached.ScanEligible(), nil
		}
	}

	probe := c.prober.Probe(ctx, id, c.cfg.ProbeTimeout())
	if c.cache != nil {
		if err := c.cache.Put(id, probe); err != nil {
			log.WithComponent("scanrun").Warn().Err(err).Str("file", id.Path).Msg("probe cache write failed")
		}
	}
	return probe, probe.ScanEligible(), nil
}

func (c *Controller) persistSkip(ctx context.Context, scanID int64, id model.Identity, reason model.FileStatus) error {
	metrics.SkippedTotal.WithLabelValues(string(reason)).Inc()
	row := model.ResultRow{
		FilePath: id.Path, FileSize: id.Size, ModTime: id.ModTime,
		Verdict: reason, Timestamp: time.Now(),
	}
	return c.store.AppendResult(ctx, scanID, row)
}

func (c *Controller) timeoutFor(depth model.Depth) time.Duration {
	if depth == model.DepthDeep {
		return c.cfg.DeepTimeout()
	}
	return c.cfg.QuickTimeout()
}

package scanrun

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/videoguard/scancore/internal/history"
	"github.com/videoguard/scancore/internal/metrics"
	"github.com/videoguard/scancore/internal/model"
	"github.com/videoguard/scancore/internal/scheduler"
	"github.com/videoguard/scancore/internal/workerpool"
)

// pendingDeep is a quick InspectionResult flagged needs_deep, held in
// memory until its deep counterpart completes so the two can be merged
// into a single persisted row, per the one-row-per-file decision.
type pendingDeep struct {
	probe model.ProbeResult
	quick model.InspectionResult
}

// inspectAll drives the Scheduler's mode policy over files: quick/deep
// modes are a single pass; hybrid is strictly two-phase, phase 2
// scheduled only once phase 1 has fully drained.
func (c *Controller) inspectAll(ctx context.Context, pool *workerpool.Pool, sched *scheduler.Scheduler, files []eligibleFile, state *runState, scanID int64, mode model.ScanMode, logger zerolog.Logger) error {
	phase1Depth := sched.InitialDepth()
	metrics.SetPhase(string(phase1Depth))

	jobs := make([]workerpool.Job, len(files))
	for i, f := range files {
		jobs[i] = workerpool.Job{
			File:    model.VideoFile{Identity: f.identity},
			Depth:   phase1Depth,
			Probe:   &f.probe,
			Timeout: c.timeoutFor(phase1Depth),
		}
	}

	var pending []pendingDeep
	var firstErr error

	c.drainPhase(ctx, pool, jobs, state, func(res workerpool.Result) {
		quickFailed := res.Err != nil || hasIndicator(res.Inspection.Indicators, "inspect_timeout")
		if res.Err != nil {
			// launch failure with zero usable diagnostics: there is no
			// quick InspectionResult to carry forward, so synthesize a
			// placeholder identity-only one before the Scheduler ever
			// sees it, so its dedup key is the file's, not the zero value.
			res.Inspection = model.InspectionResult{Identity: res.Job.File.Identity, Mode: model.DepthQuick}
		}

		if mode == model.ModeHybrid && sched.NeedsDeepPromotion(res.Inspection, quickFailed) {
			pending = append(pending, pendingDeep{probe: *res.Job.Probe, quick: res.Inspection})
			return
		}

		if res.Err != nil {
			logger.Warn().Str("file", res.Job.File.Identity.Path).Err(res.Err).Msg("inspection launch failed, no result recorded")
			return
		}

		if err := c.persistFinal(ctx, scanID, res.Job.Probe, res.Inspection, state); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	if firstErr != nil {
		return firstErr
	}
	if ctx.Err() != nil || mode != model.ModeHybrid || len(pending) == 0 {
		return nil
	}

	metrics.SetPhase("deep")
	deepJobs := make([]workerpool.Job, len(pending))
	for i, p := range pending {
		deepJobs[i] = workerpool.Job{
			File:    model.VideoFile{Identity: p.quick.Identity},
			Depth:   model.DepthDeep,
			Probe:   &p.probe,
			Timeout: c.cfg.DeepTimeout(),
		}
	}
	pendingByPath := make(map[string]pendingDeep, len(pending))
	for _, p := range pending {
		pendingByPath[p.quick.Identity.Path] = p
	}

	c.drainPhase(ctx, pool, deepJobs, state, func(res workerpool.Result) {
		if res.Err != nil {
			logger.Warn().Str("file", res.Job.File.Identity.Path).Err(res.Err).Msg("deep inspection launch failed, no result recorded")
			return
		}
		quick := pendingByPath[res.Job.File.Identity.Path].quick
		merged := scheduler.MergeDeepResult(quick, res.Inspection)
		if err := c.persistFinal(ctx, scanID, res.Job.Probe, merged, state); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

func hasIndicator(indicators []model.Indicator, tag string) bool {
	for _, i := range indicators {
		if i.Tag == tag {
			return true
		}
	}
	return false
}

// drainPhase submits jobs to pool and invokes onResult for each
// completed job, tolerant of ctx cancellation mid-phase: it stops
// waiting once the submitter goroutine reports how many jobs it
// actually got to submit before giving up.
func (c *Controller) drainPhase(ctx context.Context, pool *workerpool.Pool, jobs []workerpool.Job, state *runState, onResult func(workerpool.Result)) {
	submitDone := make(chan int, 1)
	go func() {
		n := 0
		for _, j := range jobs {
			if !pool.Submit(ctx, j) {
				break
			}
			n++
		}
		submitDone <- n
	}()

	want := -1
	received := 0
	for want < 0 || received < want {
		select {
		case n, ok := <-submitDone:
			if ok {
				want = n
				submitDone = nil
			}
			if want >= 0 && received >= want {
				return
			}
		case res, ok := <-pool.Results():
			if !ok {
				return
			}
			onResult(res)
			received++
			c.maybeEmitProgress(state)
		case <-ctx.Done():
			return
		}
	}
}

// persistFinal writes one final InspectionResult to the History Store
// and its ResumeRecord counterpart, and updates in-memory counters.
func (c *Controller) persistFinal(ctx context.Context, scanID int64, probe *model.ProbeResult, inspection model.InspectionResult, state *runState) error {
	row := model.ResultRow{
		FilePath: inspection.Identity.Path, FileSize: inspection.Identity.Size, ModTime: inspection.Identity.ModTime,
		IsCorrupt: inspection.Verdict == model.VerdictCorrupt,
		Verdict:   model.FileStatus(inspection.Verdict),
		Confidence: inspection.Confidence, Indicators: inspection.Indicators,
		RawDiagnostics: inspection.RawDiagnostics, InspectSeconds: inspection.InspectWall.Seconds(),
		ScanMode: inspection.Mode, NeedsDeep: inspection.NeedsDeep, DeepCompleted: inspection.DeepCompleted,
		Timestamp: inspection.Timestamp,
	}
	if err := c.store.AppendResult(ctx, scanID, row); err != nil {
		return err
	}

	entry := history.ResumeEntry{
		FilePath: row.FilePath, FileSize: row.FileSize, ModTime: row.ModTime,
		Verdict: row.Verdict, Confidence: row.Confidence, ScanMode: row.ScanMode,
	}
	if err := c.store.AppendResumeEntry(ctx, scanID, entry); err != nil {
		return err
	}

	state.processed++
	switch inspection.Verdict {
	case model.VerdictHealthy:
		state.healthy++
	case model.VerdictCorrupt:
		state.corrupt++
	case model.VerdictSuspicious:
		state.suspicious++
	}
	metrics.VerdictsTotal.WithLabelValues(string(inspection.Verdict)).Inc()
	return nil
}

// maybeEmitProgress publishes a Progress snapshot once both the
// completion-count and time bounds have elapsed, the coarser of the
// two rates named in the progress contract.
func (c *Controller) maybeEmitProgress(state *runState) {
	state.sinceLastEmit++
	now := time.Now()
	if state.sinceLastEmit < progressEveryN || now.Sub(state.lastEmit) < progressInterval {
		return
	}
	state.sinceLastEmit = 0
	state.lastEmit = now

	snapshot := model.Progress{
		RunID: state.scanID, Discovered: state.discovered, Eligible: state.eligible,
		Processed: state.processed, Healthy: state.healthy, Corrupt: state.corrupt, Suspicious: state.suspicious,
		Elapsed: now.Sub(state.start),
	}
	if state.processed > 0 && state.eligible > state.processed {
		rate := float64(state.processed) / snapshot.Elapsed.Seconds()
		if rate > 0 {
			remaining := float64(state.eligible - state.processed)
			snapshot.EstimatedRemain = time.Duration(remaining/rate) * time.Second
		}
	}

	select {
	case c.progress <- snapshot:
	default: // a slow consumer never blocks the orchestrator
	}
}

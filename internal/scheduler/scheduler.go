// Package scheduler implements the scan-mode policy (quick/deep/hybrid)
// and the incremental-skip policy: given a probed candidate, it decides
// whether and how to inspect it, and drives hybrid's two-phase
// promotion of suspicious quick results to a deep re-inspection.
package scheduler

import (
	"context"
	"time"

	"github.com/videoguard/scancore/internal/config"
	"github.com/videoguard/scancore/internal/model"
)

// Clock abstracts the time source, the same injectable pattern used
// elsewhere in the codebase for testing without real sleeps. New
// always installs RealClock, and no Scheduler method reads the clock.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// HealthyLookup answers the incremental-skip policy's question: has
// this exact identity produced a healthy result recently? It is
// satisfied by *history.Store in production and a fake in tests.
type HealthyLookup interface {
	RecentHealthy(ctx context.Context, id model.Identity, windowDays int) (bool, error)
}

// Scheduler decides, per file, whether and how to inspect it.
type Scheduler struct {
	mode        model.ScanMode
	deepTrigger float64
	incremental bool
	windowDays  int
	history     HealthyLookup
	clock       Clock

	// promoted deduplicates deep-phase promotion by identity within a
	// single run: a file is promoted to phase 2 at most once.
	promoted map[string]struct{}
}

// New builds a Scheduler from configuration. history may be nil when
// incremental scanning is disabled.
func New(cfg config.Config, history HealthyLookup) *Scheduler {
	return &Scheduler{
		mode:        model.ScanMode(cfg.Scan.Mode),
		deepTrigger: cfg.DeepTriggerOrDefault(),
		incremental: cfg.Scan.Incremental,
		windowDays:  cfg.Scan.IncrementalWindowDays,
		history:     history,
		clock:       RealClock{},
		promoted:    make(map[string]struct{}),
	}
}

// Mode returns the configured scan mode.
func (s *Scheduler) Mode() model.ScanMode { return s.mode }

// SkipDecision is the outcome of consulting the incremental policy for
// one eligible candidate, before it is ever enqueued.
type SkipDecision struct {
	Skip   bool
	Reason model.FileStatus // FileStatusSkippedRecentHealthy when Skip is true
}

// ShouldSkipIncremental consults History.recent_healthy for id when
// incremental scanning is enabled. A true result means: counted toward
// discovered but not toward eligible, and no job is enqueued.
func (s *Scheduler) ShouldSkipIncremental(ctx context.Context, id model.Identity) (SkipDecision, error) {
	if !s.incremental || s.history == nil {
		return SkipDecision{}, nil
	}
	healthy, err := s.history.RecentHealthy(ctx, id, s.windowDays)
	if err != nil {
		return SkipDecision{}, err
	}
	if healthy {
		return SkipDecision{Skip: true, Reason: model.FileStatusSkippedRecentHealthy}, nil
	}
	return SkipDecision{}, nil
}

// InitialDepth returns the depth of the first inspection job to emit
// for an eligible file under the configured mode. Hybrid always starts
// with a quick pass; its deep phase is driven separately by
// NeedsDeepPromotion once phase 1 results are in.
func (s *Scheduler) InitialDepth() model.Depth {
	switch s.mode {
	case model.ModeDeep:
		return model.DepthDeep
	default: // quick and hybrid both start with (or are limited to) quick
		return model.DepthQuick
	}
}

// NeedsDeepPromotion applies the hybrid-mode promotion rule to one
// quick InspectionResult: true when the verdict is corrupt/suspicious,
// confidence crosses the deep-trigger threshold, or the quick pass
// failed to produce usable diagnostics (timeout/launch error) and so
// cannot be trusted as a final "healthy" verdict. Promotion is
// deduplicated by identity within the run's lifetime.
func (s *Scheduler) NeedsDeepPromotion(quick model.InspectionResult, quickFailed bool) bool {
	if s.mode != model.ModeHybrid {
		return false
	}
	key := quick.Identity.Key()
	if _, already := s.promoted[key]; already {
		return false
	}

	promote := quickFailed ||
		quick.Verdict == model.VerdictCorrupt ||
		quick.Verdict == model.VerdictSuspicious ||
		quick.Confidence >= s.deepTrigger

	if promote {
		s.promoted[key] = struct{}{}
	}
	return promote
}

// MergeDeepResult combines a completed deep InspectionResult with the
// quick result it supersedes: the stored confidence/verdict are the
// deep pass's, while the quick confidence is preserved as an indicator
// for audit, per the "deep supersedes quick" invariant.
func MergeDeepResult(quick, deep model.InspectionResult) model.InspectionResult {
	merged := deep
	merged.DeepCompleted = true
	merged.NeedsDeep = false
	auditTag := model.Indicator{Tag: "quick_pass_confidence", Weight: quick.Confidence}
	merged.Indicators = append(append([]model.Indicator{}, deep.Indicators...), auditTag)
	return merged
}

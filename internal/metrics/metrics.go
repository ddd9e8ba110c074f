// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics exposes the prometheus counters, gauges and
// histograms published by every component. Label sets are fixed and
// initialized at startup so consumers never see "missing data" gaps
// for a label that simply hasn't fired yet.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scancore_files_discovered_total",
		Help: "Total number of files discovered by the walker.",
	})

	FilesEligibleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scancore_files_eligible_total",
		Help: "Total number of files that passed eligibility filtering.",
	})

	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancore_verdicts_total",
		Help: "Total number of files classified, by verdict.",
	}, []string{"verdict"})

	SkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancore_skipped_total",
		Help: "Total number of files skipped, by reason.",
	}, []string{"reason"})

	AnalyzerOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancore_analyzer_outcome_total",
		Help: "Total analyzer invocations, by mode and outcome.",
	}, []string{"mode", "outcome"})

	AnalyzerDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scancore_analyzer_duration_seconds",
		Help:    "Analyzer wall-clock time, by mode.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"mode"})

	RunPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scancore_run_phase",
		Help: "1 if the active run is currently in the given phase, else 0.",
	}, []string{"phase"})

	WorkerPoolInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scancore_worker_pool_in_flight",
		Help: "Number of jobs currently being processed by the worker pool.",
	})

	WorkerPoolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scancore_worker_pool_queue_depth",
		Help: "Number of jobs currently buffered in the submission channel.",
	})

	ProbeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scancore_probe_cache_hits_total",
		Help: "Total probe cache hits.",
	})

	ProbeCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scancore_probe_cache_misses_total",
		Help: "Total probe cache misses.",
	})

	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancore_proc_terminate_total",
		Help: "Total process-group termination attempts, by signal and outcome.",
	}, []string{"signal", "outcome"})

	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancore_proc_wait_total",
		Help: "Total process-group wait outcomes after termination.",
	}, []string{"outcome"})
)

var knownVerdicts = []string{"healthy", "corrupt", "suspicious"}
var knownSkipReasons = []string{"skipped_ineligible", "skipped_recent_healthy"}
var knownModes = []string{"probe", "quick", "deep"}
var knownOutcomes = []string{"ok", "timeout", "launch_error", "parse_error", "stalled"}
var knownPhases = []string{"discovery", "quick", "deep", "finalizing"}

func init() {
	InitMetrics()
}

// InitMetrics sets every known label combination to zero so dashboards
// never render a gap for a verdict, reason or phase that hasn't
// happened yet in this process's lifetime.
func InitMetrics() {
	for _, v := range knownVerdicts {
		VerdictsTotal.WithLabelValues(v).Add(0)
	}
	for _, r := range knownSkipReasons {
		SkippedTotal.WithLabelValues(r).Add(0)
	}
	for _, m := range knownModes {
		for _, o := range knownOutcomes {
			AnalyzerOutcomeTotal.WithLabelValues(m, o).Add(0)
		}
		AnalyzerDurationSeconds.WithLabelValues(m).Observe(0)
	}
	for _, p := range knownPhases {
		RunPhase.WithLabelValues(p).Set(0)
	}
}

// IncProcTerminate records a process-group termination attempt.
func IncProcTerminate(signal, outcome string) {
	ProcTerminateTotal.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait records the outcome observed after a termination attempt.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}

// SetPhase marks the given phase active and every other known phase
// inactive, matching the Run Controller's single-active-phase model.
func SetPhase(active string) {
	for _, p := range knownPhases {
		if p == active {
			RunPhase.WithLabelValues(p).Set(1)
		} else {
			RunPhase.WithLabelValues(p).Set(0)
		}
	}
}

// Package config defines the explicit configuration struct passed to the
// Run Controller. There is no process-wide mutable singleton: every
// component receives the values it needs from a Config that has already
// been loaded, defaulted, and validated.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AnalyzerConfig controls how the external media analyzer is invoked.
type AnalyzerConfig struct {
	Command        string `yaml:"command"`
	ProbeCommand   string `yaml:"probe_command"`
	QuickTimeoutS  int    `yaml:"quick_timeout_s"`
	DeepTimeoutS   int    `yaml:"deep_timeout_s"`
	ProbeTimeoutS  int    `yaml:"probe_timeout_s"`
	StallTimeoutS  int    `yaml:"stall_timeout_s"`
	OutputCapBytes int    `yaml:"output_cap_bytes"`
}

// ClassifierConfig controls confidence-weight and verdict-threshold tuning.
type ClassifierConfig struct {
	CorruptThreshold float64            `yaml:"corrupt_threshold"`
	LowThreshold     float64            `yaml:"low_threshold"`
	DeepTrigger      *float64           `yaml:"deep_trigger"`
	ExitNonZero      float64            `yaml:"exit_nonzero_weight"`
	CriticalWeights  map[string]float64 `yaml:"critical_weights"`
	WarningWeights   map[string]float64 `yaml:"warning_weights"`
}

// PoolConfig controls worker pool sizing.
type PoolConfig struct {
	MaxWorkers    int `yaml:"max_workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// ScanConfig controls walker/scheduler policy for one run.
type ScanConfig struct {
	Mode                    string   `yaml:"mode"`
	Extensions              []string `yaml:"extensions"`
	RequireProbeBeforeScan  bool     `yaml:"require_probe_before_scan"`
	Incremental             bool     `yaml:"incremental"`
	IncrementalWindowDays   int      `yaml:"incremental_window_days"`
	FollowSymlinkedFiles    bool     `yaml:"follow_symlinked_files"`
}

// ProbeCacheConfig controls the on-disk probe cache.
type ProbeCacheConfig struct {
	Enabled bool    `yaml:"enabled"`
	Path    string  `yaml:"path"`
	TTLHours float64 `yaml:"ttl_hours"`
}

// HistoryConfig controls the embedded history store.
type HistoryConfig struct {
	Path             string `yaml:"path"`
	AutoCleanupDays  int    `yaml:"auto_cleanup_days"`
	StaleRunSeconds  int    `yaml:"stale_run_seconds"`
}

// Config is the root configuration object for one scancore invocation.
type Config struct {
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Pool       PoolConfig       `yaml:"pool"`
	Scan       ScanConfig       `yaml:"scan"`
	ProbeCache ProbeCacheConfig `yaml:"probe_cache"`
	History    HistoryConfig    `yaml:"history"`
	LogLevel   string           `yaml:"log_level"`
}

// Default returns a Config with every field set to its documented default.
func Default() Config {
	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}
	if workers < 1 {
		workers = 1
	}
	return Config{
		Analyzer: AnalyzerConfig{
			QuickTimeoutS:  60,
			DeepTimeoutS:   900,
			ProbeTimeoutS:  30,
			StallTimeoutS:  15,
			OutputCapBytes: 1 << 20,
		},
		Classifier: ClassifierConfig{
			CorruptThreshold: 0.5,
			LowThreshold:     0.15,
			ExitNonZero:      0.5,
		},
		Pool: PoolConfig{
			MaxWorkers:    workers,
			QueueCapacity: 2 * workers,
		},
		Scan: ScanConfig{
			Mode:                   "hybrid",
			RequireProbeBeforeScan: true,
			IncrementalWindowDays:  7,
		},
		ProbeCache: ProbeCacheConfig{
			Enabled:  true,
			Path:     "probe_cache.json",
			TTLHours: 24,
		},
		History: HistoryConfig{
			Path:            "scancore.db",
			StaleRunSeconds: 3600,
		},
		LogLevel: "info",
	}
}

// Load reads YAML configuration from path, applying defaults for every
// field the file omits, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return Config{}, &ConfigError{Msg: fmt.Sprintf("reading %s: %v", path, err)}
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigError{Msg: fmt.Sprintf("parsing %s: %v", path, err)}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigError signals invalid or missing required configuration; it is
// always fatal before a run starts.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// Validate checks invariants across configuration fields that a bare
// YAML unmarshal cannot enforce (threshold ordering, positive counts).
func (c Config) Validate() error {
	if c.Classifier.LowThreshold > c.Classifier.CorruptThreshold {
		return &ConfigError{Msg: "classifier.low_threshold must be <= classifier.corrupt_threshold"}
	}
	if c.Classifier.CorruptThreshold < 0 || c.Classifier.CorruptThreshold > 1 {
		return &ConfigError{Msg: "classifier.corrupt_threshold must be in [0,1]"}
	}
	if c.Classifier.LowThreshold < 0 || c.Classifier.LowThreshold > 1 {
		return &ConfigError{Msg: "classifier.low_threshold must be in [0,1]"}
	}
	if c.Pool.MaxWorkers < 1 {
		return &ConfigError{Msg: "pool.max_workers must be >= 1"}
	}
	if c.Pool.QueueCapacity < 1 {
		return &ConfigError{Msg: "pool.queue_capacity must be >= 1"}
	}
	switch c.Scan.Mode {
	case "quick", "deep", "hybrid":
	default:
		return &ConfigError{Msg: fmt.Sprintf("scan.mode must be quick|deep|hybrid, got %q", c.Scan.Mode)}
	}
	if c.Analyzer.QuickTimeoutS < 1 || c.Analyzer.DeepTimeoutS < 1 || c.Analyzer.ProbeTimeoutS < 1 {
		return &ConfigError{Msg: "analyzer timeouts must be >= 1 second"}
	}
	if c.Scan.IncrementalWindowDays < 1 {
		return &ConfigError{Msg: "scan.incremental_window_days must be >= 1"}
	}
	return nil
}

// DeepTriggerOrDefault returns the hybrid deep-promotion threshold,
// defaulting to LowThreshold when unset.
func (c Config) DeepTriggerOrDefault() float64 {
	if c.Classifier.DeepTrigger != nil {
		return *c.Classifier.DeepTrigger
	}
	return c.Classifier.LowThreshold
}

// QuickTimeout, DeepTimeout, ProbeTimeout, StallTimeout return the
// configured analyzer bounds as time.Duration.
func (c Config) QuickTimeout() time.Duration { return time.Duration(c.Analyzer.QuickTimeoutS) * time.Second }
func (c Config) DeepTimeout() time.Duration  { return time.Duration(c.Analyzer.DeepTimeoutS) * time.Second }
func (c Config) ProbeTimeout() time.Duration { return time.Duration(c.Analyzer.ProbeTimeoutS) * time.Second }
func (c Config) StallTimeout() time.Duration { return time.Duration(c.Analyzer.StallTimeoutS) * time.Second }

// ProbeCacheTTL returns the configured cache entry lifetime.
func (c Config) ProbeCacheTTL() time.Duration {
	return time.Duration(c.ProbeCache.TTLHours * float64(time.Hour))
}

// ResolveFFprobeBin returns the effective probe binary path: an explicit
// override wins; otherwise it is derived from the inspect binary's
// directory when that binary is literally named "ffmpeg"; otherwise
// resolution is deferred to PATH lookup at first use.
func ResolveFFprobeBin(ffprobeBin, ffmpegBin string) string {
	return resolveFFprobeBinWithStat(ffprobeBin, ffmpegBin, os.Stat)
}

func resolveFFprobeBinWithStat(ffprobeBin, ffmpegBin string, stat func(string) (os.FileInfo, error)) string {
	ffprobeBin = strings.TrimSpace(ffprobeBin)
	if ffprobeBin != "" {
		return ffprobeBin
	}

	ffmpegBin = strings.TrimSpace(ffmpegBin)
	if ffmpegBin == "" {
		return ""
	}

	if !strings.ContainsRune(ffmpegBin, '/') {
		return ""
	}
	if filepath.Base(ffmpegBin) != "ffmpeg" {
		return ""
	}

	candidate := filepath.Join(filepath.Dir(ffmpegBin), "ffprobe")
	if fi, err := stat(candidate); err == nil && fi != nil && !fi.IsDir() {
		return candidate
	}
	return ""
}

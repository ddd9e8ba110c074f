package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFFprobeBin_Explicit(t *testing.T) {
	t.Parallel()

	got := ResolveFFprobeBin("/custom/ffprobe", "/custom/ffmpeg")
	if got != "/custom/ffprobe" {
		t.Fatalf("expected explicit ffprobe bin, got %q", got)
	}
}

func TestResolveFFprobeBin_DeriveFromFFmpegBin_WhenPresent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ffmpegBin := filepath.Join(dir, "ffmpeg")
	ffprobeBin := filepath.Join(dir, "ffprobe")

	if err := os.WriteFile(ffprobeBin, []byte("stub"), 0o755); err != nil {
		t.Fatalf("write ffprobe stub: %v", err)
	}

	got := ResolveFFprobeBin("", ffmpegBin)
	if got != ffprobeBin {
		t.Fatalf("expected derived ffprobe bin %q, got %q", ffprobeBin, got)
	}
}

func TestResolveFFprobeBin_NoDerive_WhenNotAPath(t *testing.T) {
	t.Parallel()

	got := ResolveFFprobeBin("", "ffmpeg")
	if got != "" {
		t.Fatalf("expected empty (PATH fallback), got %q", got)
	}
}

func TestResolveFFprobeBin_NoDerive_WhenMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got := ResolveFFprobeBin("", filepath.Join(dir, "ffmpeg"))
	if got != "" {
		t.Fatalf("expected empty (PATH fallback), got %q", got)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Classifier.LowThreshold = 0.9
	cfg.Classifier.CorruptThreshold = 0.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for low_threshold > corrupt_threshold")
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.Scan.Mode = "sideways"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid scan mode")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pool.MaxWorkers < 1 {
		t.Fatal("expected defaulted worker count")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scancore.yaml")
	contents := "scan:\n  mode: deep\npool:\n  max_workers: 4\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scan.Mode != "deep" {
		t.Errorf("expected scan.mode=deep, got %q", cfg.Scan.Mode)
	}
	if cfg.Pool.MaxWorkers != 4 {
		t.Errorf("expected pool.max_workers=4, got %d", cfg.Pool.MaxWorkers)
	}
	if cfg.Analyzer.QuickTimeoutS != 60 {
		t.Errorf("expected untouched default quick_timeout_s=60, got %d", cfg.Analyzer.QuickTimeoutS)
	}
}

func TestDeepTriggerOrDefault(t *testing.T) {
	cfg := Default()
	if got := cfg.DeepTriggerOrDefault(); got != cfg.Classifier.LowThreshold {
		t.Errorf("expected deep trigger to default to low threshold, got %v", got)
	}
	custom := 0.3
	cfg.Classifier.DeepTrigger = &custom
	if got := cfg.DeepTriggerOrDefault(); got != 0.3 {
		t.Errorf("expected explicit deep trigger 0.3, got %v", got)
	}
}

// Package analyzer launches the external media analyzer (probe and
// inspect modes) and normalizes its output. It is stateless: every
// exported function is safe to call concurrently from any worker.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/videoguard/scancore/internal/config"
	"github.com/videoguard/scancore/internal/metrics"
	"github.com/videoguard/scancore/internal/model"
	"github.com/videoguard/scancore/internal/procgroup"
)

// Driver launches probe/inspect subprocesses using the binaries resolved
// from Config. It carries no per-call state.
type Driver struct {
	ProbeBin    string
	InspectBin  string
	OutputCap   int
	StallAfter  time.Duration
}

// NewDriver builds a Driver from a loaded, validated configuration.
func NewDriver(cfg config.Config) Driver {
	inspectBin := cfg.Analyzer.Command
	if inspectBin == "" {
		inspectBin = "ffmpeg"
	}
	probeBin := config.ResolveFFprobeBin(cfg.Analyzer.ProbeCommand, cfg.Analyzer.Command)
	if probeBin == "" {
		probeBin = "ffprobe"
	}
	cap := cfg.Analyzer.OutputCapBytes
	if cap <= 0 {
		cap = 1 << 20
	}
	return Driver{
		ProbeBin:   probeBin,
		InspectBin: inspectBin,
		OutputCap:  cap,
		StallAfter: cfg.StallTimeout(),
	}
}

// truncationSentinel is appended to captured output when the buffer cap
// is reached, so a caller can distinguish "short output" from "output
// silently cut off.
const truncationSentinel = "\n...[truncated: output exceeded capture limit]"

// capturingBuffer caps accumulated bytes and records whether it
// overflowed, instead of silently dropping the tail.
type capturingBuffer struct {
	buf        bytes.Buffer
	limit      int
	truncated  bool
}

func (c *capturingBuffer) Write(p []byte) (int, error) {
	if c.truncated {
		return len(p), nil
	}
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capturingBuffer) String() string {
	if c.truncated {
		return c.buf.String() + truncationSentinel
	}
	return c.buf.String()
}

// Probe runs the metadata extractor against one file and returns a
// normalized ProbeResult. It never returns a non-nil error for a
// well-formed per-file failure — those are encoded in the result's
// Success/FailureReason fields.
func (d Driver) Probe(ctx context.Context, id model.Identity, timeout time.Duration) model.ProbeResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_streams", "-show_format", id.Path}
	// #nosec G204 - args are a fixed list; id.Path is passed as an argument, never interpolated
	cmd := exec.Command(d.ProbeBin, args...)
	procgroup.Set(cmd)

	var stdout, stderr capturingBuffer
	stdout.limit, stderr.limit = d.OutputCap, d.OutputCap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := runWithContext(ctx, cmd)
	wall := time.Since(start)

	result := model.ProbeResult{
		Identity:  id,
		ProbeWall: wall,
		Timestamp: start,
	}

	if ctx.Err() == context.DeadlineExceeded {
		metrics.AnalyzerOutcomeTotal.WithLabelValues("probe", "timeout").Inc()
		result.FailureReason = "timeout"
		return result
	}

	data, parseErr := parseProbeJSON(stdout.String())
	if parseErr != nil {
		metrics.AnalyzerOutcomeTotal.WithLabelValues("probe", "parse_error").Inc()
		result.FailureReason = fmt.Sprintf("parse error: %v", parseErr)
		return result
	}

	metrics.AnalyzerOutcomeTotal.WithLabelValues("probe", "ok").Inc()
	metrics.AnalyzerDurationSeconds.WithLabelValues("probe").Observe(wall.Seconds())

	result.Success = true
	result.Streams = data.streams()
	result.Container = data.container()
	if d, ok := data.duration(); ok {
		result.DurationSec = d
		result.DurationKnown = true
	}
	return result
}

func runWithContext(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = procgroup.KillGroup(cmd.Process.Pid, 2*time.Second, 5*time.Second)
		}
		<-done
		return ctx.Err()
	}
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Duration  string `json:"duration,omitempty"`
}

type probeJSON struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (d probeJSON) streams() []model.Stream {
	var out []model.Stream
	for i, s := range d.Streams {
		kind := model.StreamOther
		switch s.CodecType {
		case "video":
			kind = model.StreamVideo
		case "audio":
			kind = model.StreamAudio
		case "subtitle":
			kind = model.StreamSubtitle
		}
		out = append(out, model.Stream{Index: i, Kind: kind, Codec: s.CodecName})
	}
	return out
}

func (d probeJSON) container() string {
	parts := strings.Split(d.Format.FormatName, ",")
	canonical := ""
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "mpegts" {
			return "ts"
		}
		if canonical == "" && t != "" {
			canonical = t
		}
	}
	return canonical
}

func (d probeJSON) duration() (float64, bool) {
	if d.Format.Duration == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(d.Format.Duration, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/videoguard/scancore/internal/model"
)

func writeFakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell binaries not supported on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestProbeParsesValidJSON(t *testing.T) {
	bin := writeFakeBinary(t, `cat <<'EOF'
{"streams":[{"codec_type":"video","codec_name":"h264"}],"format":{"duration":"12.5","format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}
EOF
`)
	d := Driver{ProbeBin: bin, OutputCap: 1 << 20}
	id := model.Identity{Path: "/videos/sample.mp4", Size: 1, ModTime: time.Now()}

	result := d.Probe(context.Background(), id, 5*time.Second)

	if !result.Success {
		t.Fatalf("expected success, got failure: %s", result.FailureReason)
	}
	if !result.HasVideoStream() {
		t.Error("expected a video stream")
	}
	if result.Container != "mov" {
		t.Errorf("expected container mov, got %q", result.Container)
	}
	if !result.DurationKnown || result.DurationSec != 12.5 {
		t.Errorf("expected duration 12.5, got %v (known=%v)", result.DurationSec, result.DurationKnown)
	}
}

func TestProbeVideoStreamWithUnresolvedCodecIsEligible(t *testing.T) {
	bin := writeFakeBinary(t, `cat <<'EOF'
{"streams":[{"codec_type":"video","codec_name":""}],"format":{"duration":"0","format_name":"raw"}}
EOF
`)
	d := Driver{ProbeBin: bin, OutputCap: 1 << 20}
	id := model.Identity{Path: "/videos/unidentifiable.mp4"}

	result := d.Probe(context.Background(), id, 5*time.Second)
	if !result.Success {
		t.Fatalf("expected success, got failure: %s", result.FailureReason)
	}
	if !result.HasVideoStream() {
		t.Fatal("expected a video stream even with an empty codec name")
	}
	if !result.ScanEligible() {
		t.Error("a video stream with an unresolvable codec name is exactly the input this scanner must classify, not skip")
	}
}

func TestProbeNoVideoStreamIsIneligibleNotFailed(t *testing.T) {
	bin := writeFakeBinary(t, `cat <<'EOF'
{"streams":[{"codec_type":"data","codec_name":""}],"format":{"duration":"0","format_name":"raw"}}
EOF
`)
	d := Driver{ProbeBin: bin, OutputCap: 1 << 20}
	id := model.Identity{Path: "/videos/empty.bin"}

	result := d.Probe(context.Background(), id, 5*time.Second)
	if !result.Success {
		t.Fatalf("a well-formed probe with no video stream still succeeds: %s", result.FailureReason)
	}
	if result.ScanEligible() {
		t.Error("expected ineligible: no video stream present")
	}
}

func TestProbeMalformedJSONIsParseError(t *testing.T) {
	bin := writeFakeBinary(t, `echo 'not json'`)
	d := Driver{ProbeBin: bin, OutputCap: 1 << 20}

	result := d.Probe(context.Background(), model.Identity{Path: "/videos/x.mp4"}, 5*time.Second)
	if result.Success {
		t.Fatal("expected failure for malformed JSON")
	}
}

func TestProbeTimeout(t *testing.T) {
	bin := writeFakeBinary(t, `sleep 5`)
	d := Driver{ProbeBin: bin, OutputCap: 1 << 20}

	result := d.Probe(context.Background(), model.Identity{Path: "/videos/slow.mp4"}, 100*time.Millisecond)
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if result.FailureReason != "timeout" {
		t.Errorf("expected timeout reason, got %q", result.FailureReason)
	}
}

func TestInspectCompletesWithDiagnostics(t *testing.T) {
	bin := writeFakeBinary(t, `echo "out_time_us=1000000" >&1; echo "progress=end" >&1; echo "deprecated pixel format used" >&2; exit 0`)
	d := Driver{InspectBin: bin, OutputCap: 1 << 20, StallAfter: time.Second}

	result := d.Inspect(context.Background(), model.Identity{Path: "/videos/a.mkv"}, model.DepthQuick, 5*time.Second)
	if result.Timeout || result.Stalled || result.LaunchError {
		t.Fatalf("unexpected outcome: %+v", result)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestInspectDetectsStall(t *testing.T) {
	bin := writeFakeBinary(t, `echo "out_time_us=1" >&1; echo "progress=continue" >&1; sleep 5`)
	d := Driver{InspectBin: bin, OutputCap: 1 << 20, StallAfter: 200 * time.Millisecond}

	result := d.Inspect(context.Background(), model.Identity{Path: "/videos/b.mkv"}, model.DepthDeep, 10*time.Second)
	if !result.Stalled {
		t.Fatalf("expected stall detection, got %+v", result)
	}
}

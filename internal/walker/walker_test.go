package walker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ctx context.Context, root string, opts Options) []Candidate {
	t.Helper()
	var out []Candidate
	for c := range Walk(ctx, root, opts) {
		out = append(out, c)
	}
	return out
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
}

func TestWalk_FiltersByExtensionCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.MKV"))
	writeFile(t, filepath.Join(dir, "b.mp4"))
	writeFile(t, filepath.Join(dir, "c.txt"))

	candidates := collect(t, context.Background(), dir, Options{Extensions: []string{"mkv", ".mp4"}})
	require.Len(t, candidates, 2)
}

func TestWalk_NoExtensionFilterIncludesEverything(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mkv"))
	writeFile(t, filepath.Join(dir, "b.txt"))

	candidates := collect(t, context.Background(), dir, Options{})
	require.Len(t, candidates, 2)
}

func TestWalk_DescendsNestedDirectoriesSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "z", "a.mkv"))
	writeFile(t, filepath.Join(dir, "a", "b.mkv"))

	candidates := collect(t, context.Background(), dir, Options{Extensions: []string{".mkv"}})
	require.Len(t, candidates, 2)
	require.Contains(t, candidates[0].Identity.Path, filepath.Join("a", "b.mkv"))
	require.Contains(t, candidates[1].Identity.Path, filepath.Join("z", "a.mkv"))
}

func TestWalk_SkipsBrokenSymlinkWithoutAbortingTraversal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "visible.mkv"))
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing-target.mkv"), filepath.Join(dir, "dangling.mkv")))

	candidates := collect(t, context.Background(), dir, Options{Extensions: []string{".mkv"}})
	require.Len(t, candidates, 1)
	require.Contains(t, candidates[0].Identity.Path, "visible.mkv")
}

func TestWalk_SymlinkToDirectoryNeverFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	writeFile(t, filepath.Join(real, "inside.mkv"))
	writeFile(t, filepath.Join(dir, "outside.mkv"))

	require.NoError(t, os.Symlink(real, filepath.Join(dir, "link")))

	candidates := collect(t, context.Background(), dir, Options{Extensions: []string{".mkv"}})
	require.Len(t, candidates, 2, "entries must come from the real tree only, not be duplicated via the symlink")
}

func TestWalk_SymlinkToFileOutsideRootSkipped(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "escaped.mkv"))

	dir := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(outside, "escaped.mkv"), filepath.Join(dir, "link.mkv")))

	candidates := collect(t, context.Background(), dir, Options{Extensions: []string{".mkv"}})
	require.Empty(t, candidates, "a symlink resolving outside root must be skipped")
}

func TestWalk_UnresolvableRootYieldsNoCandidates(t *testing.T) {
	candidates := collect(t, context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), Options{})
	require.Empty(t, candidates)
}

func TestWalk_CancelledContextStopsEarly(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, filepath.Join(dir, string(rune('a'+i))+".mkv"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	candidates := collect(t, ctx, dir, Options{Extensions: []string{".mkv"}})
	require.Empty(t, candidates)
}

func TestWalk_IdentityCarriesSizeAndModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mkv")
	writeFile(t, path)

	candidates := collect(t, context.Background(), dir, Options{Extensions: []string{".mkv"}})
	require.Len(t, candidates, 1)
	require.Equal(t, int64(len("data")), candidates[0].Identity.Size)
	require.WithinDuration(t, time.Now(), candidates[0].Identity.ModTime, time.Minute)
}

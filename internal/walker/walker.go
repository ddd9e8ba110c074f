// Package walker produces a lazy, deterministic sequence of candidate
// video files under a root directory: depth-first, sorted traversal
// with symlink confinement and an extension pre-filter.
package walker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/videoguard/scancore/internal/log"
	"github.com/videoguard/scancore/internal/metrics"
	"github.com/videoguard/scancore/internal/model"
)

// Options controls traversal policy.
type Options struct {
	// Extensions is the allowlist pre-filter; empty means no filter.
	// Matched case-insensitively, with or without a leading dot.
	Extensions []string
}

// Candidate is one filesystem entry the Walker emits before
// eligibility is decided by the probe stage.
type Candidate struct {
	Identity model.Identity
}

// Walk traverses root depth-first in sorted order and sends candidates
// on the returned channel, closing it when traversal completes or ctx
// is cancelled. Errors on individual entries (permission denied, a
// race with deletion) are logged and skipped; they never abort the
// traversal. Symbolic links to directories are never followed;
// symbolic links to regular files are included, resolved to a
// canonical path for identity.
func Walk(ctx context.Context, root string, opts Options) <-chan Candidate {
	out := make(chan Candidate)
	go func() {
		defer close(out)
		walk(ctx, root, opts, out)
	}()
	return out
}

func walk(ctx context.Context, root string, opts Options, out chan<- Candidate) {
	logger := log.WithComponent("walker")

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		logger.Error().Err(err).Str("root", root).Msg("root path unresolvable")
		return
	}
	rootResolved = filepath.Clean(rootResolved)

	_ = filepath.WalkDir(rootResolved, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			logger.Warn().Err(walkErr).Str("path", path).Msg("walk error, skipping")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			// A symlink DirEntry here is to a regular file (directory
			// symlinks are never descended into by WalkDir in the first
			// place when using Lstat-based entries unless dereferenced,
			// but guard explicitly): resolve and confine within root.
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("unresolvable symlink, skipping")
				return nil
			}
			info, err := os.Stat(resolved)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("stat failed, skipping")
				return nil
			}
			if info.IsDir() {
				return nil // symlink to a directory: never followed
			}
			rel, err := filepath.Rel(rootResolved, resolved)
			if err != nil || strings.HasPrefix(rel, "..") {
				logger.Warn().Str("path", path).Msg("symlink escapes root, skipping")
				return nil
			}
			path = resolved
		}

		if !extensionAllowed(path, opts.Extensions) {
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("stat failed, skipping")
			return nil
		}

		candidate := Candidate{Identity: model.Identity{Path: path, Size: info.Size(), ModTime: info.ModTime()}}
		metrics.FilesDiscoveredTotal.Inc()

		select {
		case out <- candidate:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

func extensionAllowed(path string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowed {
		a = strings.ToLower(a)
		if !strings.HasPrefix(a, ".") {
			a = "." + a
		}
		if ext == a {
			return true
		}
	}
	return false
}

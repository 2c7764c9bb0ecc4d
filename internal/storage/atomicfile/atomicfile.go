// Package atomicfile implements crash-safe whole-file replacement.
//
// A write goes to a staging file in the destination directory, is flushed to
// disk, and is renamed over the destination. Readers observe either the old
// content or the new content, never a partial file. A crash before the rename
// leaves only a staging file behind; CleanupStale removes those on the next
// run.
package atomicfile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// stagingInfix marks staging files. A staging file name is
// <dest>.tmp-<pid>-<uuid>, always in the destination's directory so the
// final rename never crosses a filesystem boundary.
const stagingInfix = ".tmp-"

// IsStaging reports whether a file name is a staging file.
func IsStaging(name string) bool {
	return strings.Contains(filepath.Base(name), stagingInfix)
}

// stagingPath returns a fresh staging path for a destination file.
func stagingPath(dest string) string {
	return fmt.Sprintf("%s%s%d-%s", dest, stagingInfix, os.Getpid(), uuid.NewString())
}

// WriteFile atomically replaces dest with data. Parent directories are
// created as needed. On error the destination is untouched; the staging file
// is removed best-effort and otherwise left for CleanupStale.
func WriteFile(dest string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	staging := stagingPath(dest)
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("write staging file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("sync staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("close staging file: %w", err)
	}

	if err := os.Rename(staging, dest); err != nil {
		os.Remove(staging)
		return fmt.Errorf("rename staging file: %w", err)
	}

	// Persist the rename itself.
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}

	return nil
}

// WriteVia opens a staging file for dest, passes it to write, and performs
// the sync-close-rename sequence on success. It exists for writers that
// stream into the file instead of building the content in memory.
func WriteVia(dest string, perm os.FileMode, write func(f *os.File) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	staging := stagingPath(dest)
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(staging)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(staging)
		return fmt.Errorf("sync staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(staging)
		return fmt.Errorf("close staging file: %w", err)
	}

	if err := os.Rename(staging, dest); err != nil {
		os.Remove(staging)
		return fmt.Errorf("rename staging file: %w", err)
	}

	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}

	return nil
}

// syncDir fsyncs a directory so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// =============================================================================
// Stale Staging Cleanup
// =============================================================================

// CleanupResult holds the result of a staging cleanup sweep.
type CleanupResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// CleanupStale walks root and removes staging files older than maxAge.
// Fresh staging files are skipped; a concurrent writer may still be about to
// rename them. Callers run this only while holding the workspace lock.
func CleanupStale(root string, maxAge time.Duration) (CleanupResult, error) {
	var result CleanupResult
	cutoff := time.Now().Add(-maxAge)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			result.Errors = append(result.Errors, err)
			return nil
		}
		if d.IsDir() || !IsStaging(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("stat %s: %w", path, err))
			return nil
		}

		if info.ModTime().After(cutoff) {
			result.FilesSkipped++
			return nil
		}

		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", path, err))
			return nil
		}

		result.FilesDeleted++
		result.BytesFreed += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("walk %s: %w", root, err)
	}

	return result, nil
}

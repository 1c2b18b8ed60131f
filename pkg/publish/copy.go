package publish

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/pixelgardenlabs/shotsync/pkg/metrics"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// copyFile writes src to dst through a temporary file in dst's directory and
// renames it into place, so dst is either absent or complete. Mode and
// modification time are taken from the source.
func (p *Publisher) copyFile(src, dst string, retryCount int, retryWait time.Duration, m metrics.Metrics) (int64, error) {
	var lastErr error
	for i := 0; i <= retryCount; i++ {
		if i > 0 {
			plog.Warn("Retrying file copy", "file", src, "attempt", fmt.Sprintf("%d/%d", i, retryCount), "after", retryWait)
			time.Sleep(retryWait)
		}

		var n int64
		n, lastErr = p.copyFileOnce(src, dst)
		if lastErr == nil {
			m.AddFilesWritten(1)
			m.AddBytesWritten(n)
			return n, nil
		}
	}
	return 0, fmt.Errorf("failed to copy file %s after %d retries: %w", src, retryCount, lastErr)
}

func (p *Publisher) copyFileOnce(src, dst string) (int64, error) {
	in, err := p.fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source file %s: %w", src, err)
	}

	dstDir := filepath.Dir(dst)
	out, err := afero.TempFile(p.fs, dstDir, ".shotsync-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", dstDir, err)
	}
	tempPath := out.Name()
	defer func() {
		if tempPath != "" {
			p.fs.Remove(tempPath)
		}
	}()

	bufPtr := p.buffers.Get()
	defer p.buffers.Put(bufPtr)

	n, err := io.CopyBuffer(out, in, *bufPtr)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to copy content from %s to %s: %w", src, tempPath, err)
	}

	// Close before Chtimes, flushing may touch the modification time.
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temporary file %s: %w", tempPath, err)
	}
	if err := p.fs.Chmod(tempPath, util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		return 0, fmt.Errorf("failed to set permissions on temporary file %s: %w", tempPath, err)
	}
	if err := p.fs.Chtimes(tempPath, info.ModTime(), info.ModTime()); err != nil {
		return 0, fmt.Errorf("failed to set timestamps on %s: %w", tempPath, err)
	}
	if err := p.fs.Rename(tempPath, dst); err != nil {
		return 0, err
	}
	tempPath = ""
	return n, nil
}

// copyDir recreates the tree below src at dst. Symlinks and other special
// files are skipped. On error the partially written dst is removed.
func (p *Publisher) copyDir(src, dst string, retryCount int, retryWait time.Duration, m metrics.Metrics) (written int64, err error) {
	if _, statErr := p.fs.Stat(dst); statErr == nil {
		return 0, fmt.Errorf("%s already exists", dst)
	}
	defer func() {
		if err != nil {
			if rmErr := p.fs.RemoveAll(dst); rmErr != nil {
				plog.Warn("Failed to remove partial copy", "path", dst, "error", rmErr)
			}
		}
	}()

	type dirTimes struct {
		rel     string
		modTime time.Time
	}
	var dirs []dirTimes

	walkErr := afero.Walk(p.fs, src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			if err := p.fs.MkdirAll(target, util.UserWritableDirPerms); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			dirs = append(dirs, dirTimes{rel: rel, modTime: info.ModTime()})
		case info.Mode().IsRegular():
			n, err := p.copyFile(path, target, retryCount, retryWait, m)
			if err != nil {
				return err
			}
			written += n
		default:
			plog.Warn("SKIP", "reason", "not a regular file", "path", path)
		}
		return nil
	})
	if walkErr != nil {
		return 0, walkErr
	}

	// Deepest first so setting a child's times cannot disturb its parent's.
	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i].rel, string(os.PathSeparator)) > strings.Count(dirs[j].rel, string(os.PathSeparator))
	})
	for _, d := range dirs {
		target := filepath.Join(dst, d.rel)
		if err := p.fs.Chtimes(target, d.modTime, d.modTime); err != nil {
			return 0, fmt.Errorf("failed to set timestamps on directory %s: %w", target, err)
		}
	}
	return written, nil
}

// exists reports whether path is present. Errors other than not-exist count as present.
func (p *Publisher) exists(path string) bool {
	_, err := p.fs.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

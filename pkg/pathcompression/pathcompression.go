// Packaging follows a "compress once, fail forward" strategy. Only the batch
// created by the current run is packaged, right after publishing. A batch that
// fails to package keeps its plain directory and is never retried, so one
// corrupt frame cannot break every following run.

// Package pathcompression packages a published batch directory into a single
// archive next to it, for shipping a delivery to an outside vendor.
package pathcompression

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/pixelgardenlabs/shotsync/pkg/hints"
	"github.com/pixelgardenlabs/shotsync/pkg/pathcompressionmetrics"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/pool"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

var ErrDisabled = hints.New("packaging is disabled")

// entry is one file or directory below the batch root.
type entry struct {
	absPath    string
	relPathKey string
	info       os.FileInfo
}

type PathCompressor struct {
	fs      afero.Fs
	buffers *pool.BufferPool
}

func NewPathCompressor(fsys afero.Fs, bufferSize int) *PathCompressor {
	return &PathCompressor{fs: fsys, buffers: pool.NewBufferPool(bufferSize)}
}

// Compress writes batchPath into "<batchPath>.<format>" through a temp file and
// an atomic rename, and returns the archive path. The batch directory is left
// in place. On failure no partial archive remains.
func (c *PathCompressor) Compress(ctx context.Context, batchPath string, p *Plan) (archivePath string, retErr error) {
	if !p.Enabled {
		return "", ErrDisabled
	}
	format := p.Format
	if format == "" {
		format = Zip
	}
	archivePath = batchPath + format.Extension()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	entries, err := c.collect(ctx, batchPath)
	if err != nil {
		return "", err
	}

	if p.DryRun {
		plog.Notice("[DRY RUN] PACKAGE", "batch", batchPath, "archive", archivePath, "entries", len(entries))
		return archivePath, nil
	}
	plog.Notice("PACKAGE", "batch", batchPath, "archive", archivePath, "format", format)

	var m pathcompressionmetrics.Metrics = &pathcompressionmetrics.NoopMetrics{}
	if p.Metrics {
		m = &pathcompressionmetrics.CompressionMetrics{}
	}
	m.StartProgress("Packaging progress", 10*time.Second)
	defer func() {
		m.StopProgress()
		if retErr != nil {
			m.AddArchivesFailed(1)
		}
		m.LogSummary("Packaging finished")
	}()

	tmp, err := afero.TempFile(c.fs, filepath.Dir(batchPath), ".shotsync-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			_ = c.fs.Remove(tmpPath)
		}
	}()

	cw := &countingWriter{w: tmp}
	bw := bufio.NewWriterSize(cw, c.buffers.Size())

	switch format {
	case Zip:
		err = c.writeZip(ctx, bw, entries, p.Level, m)
	case TarGz, TarZst:
		err = c.writeTar(ctx, bw, format, entries, p.Level, m)
	default:
		err = fmt.Errorf("unsupported compression format %q", format)
	}
	if err != nil {
		return "", err
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("buffer flush failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := c.fs.Chmod(tmpPath, util.UserGroupWritableFilePerms); err != nil {
		plog.Debug("Could not set archive permissions", "path", tmpPath, "error", err)
	}
	if err := c.fs.Rename(tmpPath, archivePath); err != nil {
		return "", fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}

	m.AddCompressedBytes(cw.n)
	m.AddArchivesCreated(1)
	return archivePath, nil
}

// collect lists regular files and directories below root in walk order.
// Anything else is skipped with a warning.
func (c *PathCompressor) collect(ctx context.Context, root string) ([]entry, error) {
	var entries []entry
	err := afero.Walk(c.fs, root, func(path string, info os.FileInfo, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			plog.Warn("Skipping special file while packaging", "path", path)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		entries = append(entries, entry{absPath: path, relPathKey: util.NormalizePath(rel), info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk batch %s: %w", root, err)
	}
	return entries, nil
}

// copyContent streams one file into w through a pooled buffer.
func (c *PathCompressor) copyContent(w io.Writer, e entry, m pathcompressionmetrics.Metrics) error {
	f, err := c.fs.Open(e.absPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", e.absPath, err)
	}
	defer f.Close()

	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	n, err := io.CopyBuffer(w, f, *buf)
	m.AddOriginalBytes(n)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", e.relPathKey, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

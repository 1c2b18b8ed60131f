package pathcompression

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/pixelgardenlabs/shotsync/pkg/pathcompressionmetrics"
)

func flateLevel(l Level) int {
	switch l {
	case Fastest:
		return flate.BestSpeed
	case Better:
		return 7
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func (c *PathCompressor) writeZip(ctx context.Context, w io.Writer, entries []entry, level Level, m pathcompressionmetrics.Metrics) (retErr error) {
	zw := zip.NewWriter(w)
	lvl := flateLevel(level)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, lvl)
	})
	defer func() {
		if err := zw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("zip writer close failed: %w", err)
		}
	}()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return fmt.Errorf("failed to create zip header for %s: %w", e.relPathKey, err)
		}
		header.Name = e.relPathKey
		header.Modified = e.info.ModTime()
		if e.info.IsDir() {
			header.Name += "/"
			header.Method = zip.Store
		} else {
			header.Method = zip.Deflate
		}

		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to write zip header for %s: %w", e.relPathKey, err)
		}
		m.AddEntriesProcessed(1)
		if e.info.IsDir() {
			continue
		}
		if err := c.copyContent(fw, e, m); err != nil {
			return err
		}
	}
	return nil
}

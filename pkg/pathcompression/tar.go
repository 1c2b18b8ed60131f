package pathcompression

import (
	"archive/tar"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/pixelgardenlabs/shotsync/pkg/pathcompressionmetrics"
)

func newCompressedWriter(w io.Writer, format Format, level Level) (io.WriteCloser, error) {
	if format == TarZst {
		var encoderLevel zstd.EncoderLevel
		switch level {
		case Fastest:
			encoderLevel = zstd.SpeedFastest
		case Better:
			encoderLevel = zstd.SpeedBetterCompression
		case Best:
			encoderLevel = zstd.SpeedBestCompression
		default:
			encoderLevel = zstd.SpeedDefault
		}
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	}

	var lvl int
	switch level {
	case Fastest:
		lvl = pgzip.BestSpeed
	case Better:
		lvl = 6
	case Best:
		lvl = pgzip.BestCompression
	default:
		lvl = pgzip.DefaultCompression
	}
	gw, err := pgzip.NewWriterLevel(w, lvl)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return gw, nil
}

func (c *PathCompressor) writeTar(ctx context.Context, w io.Writer, format Format, entries []entry, level Level, m pathcompressionmetrics.Metrics) (retErr error) {
	compressedWriter, err := newCompressedWriter(w, format, level)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(compressedWriter)
	defer func() {
		if err := tw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
	}()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", e.relPathKey, err)
		}
		header.Name = e.relPathKey
		if e.info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", e.relPathKey, err)
		}
		m.AddEntriesProcessed(1)
		if e.info.IsDir() {
			continue
		}
		if err := c.copyContent(tw, e, m); err != nil {
			return err
		}
	}
	return nil
}

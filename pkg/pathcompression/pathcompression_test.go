package pathcompression

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchPath = "/exports/EXPORT_14_03_26_10h30"

func newTestBatch(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	mtime := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	files := map[string]string{
		"SQ1_SH010_RENDU_COMP/frame.0001.exr": strings.Repeat("a", 512),
		"SQ1_SH010_RENDU_COMP/frame.0002.exr": strings.Repeat("b", 512),
		"shotA_Anim.mp4":                      "movie",
	}
	for rel, content := range files {
		p := filepath.Join(batchPath, filepath.FromSlash(rel))
		require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0644))
		require.NoError(t, fs.Chtimes(p, mtime, mtime))
	}
	return fs
}

func assertNoTempFiles(t *testing.T, fs afero.Fs) {
	t.Helper()
	entries, err := afero.ReadDir(fs, filepath.Dir(batchPath))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".shotsync-"), "leftover temp file %s", e.Name())
	}
}

var wantNames = []string{
	"SQ1_SH010_RENDU_COMP/",
	"SQ1_SH010_RENDU_COMP/frame.0001.exr",
	"SQ1_SH010_RENDU_COMP/frame.0002.exr",
	"shotA_Anim.mp4",
}

func readTarNames(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	out := map[string]string{}
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[h.Name] = string(data)
	}
	return out
}

func keys(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestCompress(t *testing.T) {
	t.Run("zip", func(t *testing.T) {
		fs := newTestBatch(t)
		c := NewPathCompressor(fs, 4096)

		archive, err := c.Compress(context.Background(), batchPath, &Plan{Enabled: true, Format: Zip, Level: Best, Metrics: true})
		require.NoError(t, err)
		assert.Equal(t, batchPath+".zip", archive)

		data, err := afero.ReadFile(fs, archive)
		require.NoError(t, err)
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)

		got := map[string]string{}
		for _, f := range zr.File {
			rc, err := f.Open()
			require.NoError(t, err)
			content, err := io.ReadAll(rc)
			require.NoError(t, err)
			rc.Close()
			got[f.Name] = string(content)
		}
		assert.Equal(t, wantNames, keys(got))
		assert.Equal(t, "movie", got["shotA_Anim.mp4"])

		exists, _ := afero.DirExists(fs, batchPath)
		assert.True(t, exists, "the batch directory stays")
		assertNoTempFiles(t, fs)
	})

	t.Run("tar.gz", func(t *testing.T) {
		fs := newTestBatch(t)
		archive, err := NewPathCompressor(fs, 4096).Compress(context.Background(), batchPath, &Plan{Enabled: true, Format: TarGz})
		require.NoError(t, err)

		f, err := fs.Open(archive)
		require.NoError(t, err)
		defer f.Close()
		gr, err := pgzip.NewReader(f)
		require.NoError(t, err)
		defer gr.Close()

		got := readTarNames(t, gr)
		assert.Equal(t, wantNames, keys(got))
		assert.Equal(t, strings.Repeat("a", 512), got["SQ1_SH010_RENDU_COMP/frame.0001.exr"])
	})

	t.Run("tar.zst", func(t *testing.T) {
		fs := newTestBatch(t)
		archive, err := NewPathCompressor(fs, 4096).Compress(context.Background(), batchPath, &Plan{Enabled: true, Format: TarZst, Level: Fastest})
		require.NoError(t, err)
		assert.Equal(t, batchPath+".tar.zst", archive)

		f, err := fs.Open(archive)
		require.NoError(t, err)
		defer f.Close()
		dec, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer dec.Close()

		assert.Equal(t, wantNames, keys(readTarNames(t, dec)))
	})
}

func TestCompressDryRun(t *testing.T) {
	fs := newTestBatch(t)
	archive, err := NewPathCompressor(fs, 0).Compress(context.Background(), batchPath, &Plan{Enabled: true, Format: Zip, DryRun: true})
	require.NoError(t, err)

	exists, _ := afero.Exists(fs, archive)
	assert.False(t, exists)
}

func TestCompressDisabled(t *testing.T) {
	_, err := NewPathCompressor(afero.NewMemMapFs(), 0).Compress(context.Background(), batchPath, &Plan{Enabled: false})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestCompressCancelled(t *testing.T) {
	fs := newTestBatch(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPathCompressor(fs, 0).Compress(ctx, batchPath, &Plan{Enabled: true, Format: TarGz})
	assert.ErrorIs(t, err, context.Canceled)

	exists, _ := afero.Exists(fs, batchPath+".tar.gz")
	assert.False(t, exists)
	assertNoTempFiles(t, fs)
}

func TestCompressMissingBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/exports", 0755))
	_, err := NewPathCompressor(fs, 0).Compress(context.Background(), "/exports/nope", &Plan{Enabled: true})
	assert.Error(t, err)
	assertNoTempFiles(t, fs)
}

func TestParseFormatAndLevel(t *testing.T) {
	f, err := ParseFormat("tar.zst")
	require.NoError(t, err)
	assert.Equal(t, TarZst, f)
	assert.Equal(t, ".tar.zst", f.Extension())

	_, err = ParseFormat("rar")
	assert.Error(t, err)

	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, Default, l)

	_, err = ParseLevel("ultra")
	assert.Error(t, err)
	assert.Equal(t, "default", Level("ultra").String())
}

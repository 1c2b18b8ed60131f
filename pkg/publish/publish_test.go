package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgardenlabs/shotsync/pkg/hints"
	"github.com/pixelgardenlabs/shotsync/pkg/metafile"
	"github.com/pixelgardenlabs/shotsync/pkg/metrics"
	"github.com/pixelgardenlabs/shotsync/pkg/reconcile"
)

var fixedNow = time.Date(2026, 3, 14, 10, 30, 45, 0, time.Local)

func newTestPublisher(fsys afero.Fs) *Publisher {
	p := NewPublisher(fsys, 1024)
	p.now = func() time.Time { return fixedNow }
	n := 0
	p.newRunID = func() string {
		n++
		return fmt.Sprintf("%08x-run", n)
	}
	return p
}

func writeFile(t *testing.T, fsys afero.Fs, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0444))
	require.NoError(t, fsys.Chtimes(path, mtime, mtime))
}

func copyDecision(key, source, output string, isDir bool) reconcile.Decision {
	return reconcile.Decision{
		Rule:        "test",
		Key:         key,
		Action:      reconcile.Copy,
		Reason:      reconcile.Newer,
		SourcePath:  source,
		SourceIsDir: isDir,
		OutputName:  output,
	}
}

func testPlan() *Plan {
	return &Plan{Rule: "test", OutputRoot: "/out", BatchPrefix: "EXPORT_", Workers: 2}
}

func TestPublishCopiesFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	mtime := time.Unix(1_700_000_000, 0)
	writeFile(t, fsys, "/mirror/shotA/_preview/shotA_v03.mp4", "frames-a", mtime)
	writeFile(t, fsys, "/mirror/shotB/_preview/shotB_v01.mp4", "frames-b", mtime)

	decisions := []reconcile.Decision{
		copyDecision("shotA_Anim", "/mirror/shotA/_preview/shotA_v03.mp4", "shotA_Anim.mp4", false),
		{Rule: "test", Key: "shotC_Anim", Action: reconcile.Skip, Reason: reconcile.NotNewer},
		copyDecision("shotB_Anim", "/mirror/shotB/_preview/shotB_v01.mp4", "shotB_Anim.mp4", false),
	}

	m := &metrics.RunMetrics{}
	res, err := newTestPublisher(fsys).Publish(context.Background(), decisions, testPlan(), m)
	require.NoError(t, err)

	assert.Equal(t, "EXPORT_14_03_26_10h30", res.Batch.Name)
	assert.Equal(t, filepath.Join("/out", "EXPORT_14_03_26_10h30"), res.Batch.Path)
	assert.Equal(t, Counts{Copied: 2}, res.Counts)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "shotA_Anim", res.Outcomes[0].Decision.Key)
	assert.Equal(t, "shotB_Anim", res.Outcomes[1].Decision.Key)

	target := filepath.Join(res.Batch.Path, "shotA_Anim.mp4")
	data, err := afero.ReadFile(fsys, target)
	require.NoError(t, err)
	assert.Equal(t, "frames-a", string(data))

	info, err := fsys.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime), "modification time is preserved")
	assert.NotZero(t, info.Mode().Perm()&0200, "copies are owner-writable")

	assert.Equal(t, int64(2), m.ItemsCopied.Load())
	assert.Equal(t, int64(2), m.FilesWritten.Load())
	assert.Equal(t, int64(16), m.BytesWritten.Load())

	meta, err := metafile.Read(fsys, res.Batch.Path)
	require.NoError(t, err)
	assert.Equal(t, "test", meta.Rule)
	assert.Equal(t, 2, meta.Copied)
	assert.Equal(t, res.Batch.RunID, meta.RunID)
	assert.Len(t, meta.Entries, 2)
}

func TestPublishCopiesDirectoryTree(t *testing.T) {
	fsys := afero.NewMemMapFs()
	mtime := time.Unix(1_700_000_000, 0)
	for i := 1; i <= 3; i++ {
		writeFile(t, fsys, fmt.Sprintf("/comp/SH010/frame.%04d.exr", i), "exr", mtime)
	}
	writeFile(t, fsys, "/comp/SH010/aov/beauty.0001.exr", "aov", mtime)
	dirTime := time.Unix(1_600_000_000, 0)
	require.NoError(t, fsys.Chtimes("/comp/SH010/aov", dirTime, dirTime))

	decisions := []reconcile.Decision{copyDecision("SQ1_SH010_RENDU_COMP", "/comp/SH010", "SQ1_SH010_RENDU_COMP", true)}
	res, err := newTestPublisher(fsys).Publish(context.Background(), decisions, testPlan(), nil)
	require.NoError(t, err)
	require.Equal(t, Counts{Copied: 1}, res.Counts)
	assert.Equal(t, int64(12), res.Outcomes[0].Bytes)

	root := filepath.Join(res.Batch.Path, "SQ1_SH010_RENDU_COMP")
	for _, rel := range []string{"frame.0001.exr", "frame.0003.exr", "aov/beauty.0001.exr"} {
		ok, err := afero.Exists(fsys, filepath.Join(root, rel))
		require.NoError(t, err)
		assert.True(t, ok, rel)
	}
	info, err := fsys.Stat(filepath.Join(root, "aov"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(dirTime), "directory times are restored")
}

func TestPublishSameMinuteGetsDistinctBatches(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/mirror/a.mp4", "a", time.Unix(1_700_000_000, 0))
	decisions := []reconcile.Decision{copyDecision("a", "/mirror/a.mp4", "a.mp4", false)}

	p := newTestPublisher(fsys)
	first, err := p.Publish(context.Background(), decisions, testPlan(), nil)
	require.NoError(t, err)
	second, err := p.Publish(context.Background(), decisions, testPlan(), nil)
	require.NoError(t, err)

	assert.Equal(t, "EXPORT_14_03_26_10h30", first.Batch.Name)
	assert.Equal(t, "EXPORT_14_03_26_10h30_00000002", second.Batch.Name)
	assert.NotEqual(t, first.Batch.Path, second.Batch.Path)

	ok, _ := afero.Exists(fsys, filepath.Join(second.Batch.Path, "a.mp4"))
	assert.True(t, ok)
}

func TestPublishNothingToDo(t *testing.T) {
	fsys := afero.NewMemMapFs()
	decisions := []reconcile.Decision{{Key: "a", Action: reconcile.Skip, Reason: reconcile.NotFound}}

	res, err := newTestPublisher(fsys).Publish(context.Background(), decisions, testPlan(), nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNothingToPublish)
	assert.True(t, hints.IsHint(err))

	ok, _ := afero.DirExists(fsys, "/out")
	assert.False(t, ok, "no batch is created when nothing is copied")
}

func TestPublishBatchCreateFailure(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/mirror/a.mp4", "a", time.Unix(1_700_000_000, 0))
	decisions := []reconcile.Decision{copyDecision("a", "/mirror/a.mp4", "a.mp4", false)}

	_, err := newTestPublisher(afero.NewReadOnlyFs(fsys)).Publish(context.Background(), decisions, testPlan(), nil)
	assert.ErrorIs(t, err, ErrOutputDirCreateFailed)
}

func TestPublishContinuesAfterCopyFailure(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/mirror/b.mp4", "b", time.Unix(1_700_000_000, 0))
	decisions := []reconcile.Decision{
		copyDecision("a", "/mirror/missing.mp4", "a.mp4", false),
		copyDecision("b", "/mirror/b.mp4", "b.mp4", false),
	}
	plan := testPlan()
	plan.RetryCount = 1

	m := &metrics.RunMetrics{}
	res, err := newTestPublisher(fsys).Publish(context.Background(), decisions, plan, m)
	require.NoError(t, err)
	assert.Equal(t, Counts{Copied: 1, Failed: 1}, res.Counts)
	assert.Equal(t, CopyFailed, res.Outcomes[0].Status)
	assert.Error(t, res.Outcomes[0].Err)
	assert.Equal(t, Copied, res.Outcomes[1].Status)
	assert.Equal(t, int64(1), m.CopyFailures.Load())

	ok, _ := afero.Exists(fsys, filepath.Join(res.Batch.Path, "a.mp4"))
	assert.False(t, ok, "failed copies leave no partial file")
}

func TestPublishDuplicateOutputName(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/mirror/a1.mp4", "1", time.Unix(1_700_000_000, 0))
	writeFile(t, fsys, "/mirror/a2.mp4", "2", time.Unix(1_700_000_000, 0))
	decisions := []reconcile.Decision{
		copyDecision("a1", "/mirror/a1.mp4", "same.mp4", false),
		copyDecision("a2", "/mirror/a2.mp4", "same.mp4", false),
	}
	plan := testPlan()
	plan.Workers = 1

	res, err := newTestPublisher(fsys).Publish(context.Background(), decisions, plan, nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{Copied: 1, Failed: 1}, res.Counts)

	data, err := afero.ReadFile(fsys, filepath.Join(res.Batch.Path, "same.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}

func TestPublishDryRunCreatesPlaceholders(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/mirror/a.mp4", "a", time.Unix(1_700_000_000, 0))
	decisions := []reconcile.Decision{copyDecision("a", "/mirror/a.mp4", "a.mp4", false)}
	plan := testPlan()
	plan.DryRun = true

	res, err := newTestPublisher(fsys).Publish(context.Background(), decisions, plan, nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{Placeholders: 1}, res.Counts)

	isDir, err := afero.IsDir(fsys, filepath.Join(res.Batch.Path, "a.mp4"))
	require.NoError(t, err)
	assert.True(t, isDir, "dry run writes an empty placeholder directory")

	info, err := fsys.Stat(filepath.Join(res.Batch.Path, "a.mp4"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(time.Unix(0, 0)), "placeholder must not outdate real items, got %s", info.ModTime())

	meta, err := metafile.Read(fsys, res.Batch.Path)
	require.NoError(t, err)
	assert.True(t, meta.DryRun)
}

func TestPublishCancelledBeforeStart(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/mirror/a.mp4", "a", time.Unix(1_700_000_000, 0))
	decisions := []reconcile.Decision{copyDecision("a", "/mirror/a.mp4", "a.mp4", false)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newTestPublisher(fsys).Publish(ctx, decisions, testPlan(), nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{Copied, Placeholder, CopyFailed} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got Status
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s Status
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}

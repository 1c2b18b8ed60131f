package pathretention

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgardenlabs/shotsync/pkg/hints"
	"github.com/pixelgardenlabs/shotsync/pkg/metafile"
)

var now = time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

func batch(name string, age time.Duration) metafile.MetafileInfo {
	return metafile.MetafileInfo{RelPathKey: name, Metadata: metafile.MetafileContent{TimestampUTC: now.Add(-age)}}
}

func createTestBatch(t *testing.T, fs afero.Fs, root, name, rule string, ts time.Time) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, fs.MkdirAll(dir, 0755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "shot.mp4"), []byte("x"), 0644))
	require.NoError(t, metafile.Write(fs, dir, &metafile.MetafileContent{Version: "test", Rule: rule, TimestampUTC: ts}))
}

func TestDetermineBatchesToKeep(t *testing.T) {
	const day = 24 * time.Hour
	batches := []metafile.MetafileInfo{
		batch("hourly_1", time.Hour),
		batch("hourly_2", 2*time.Hour),
		batch("daily_1", 25*time.Hour),
		batch("daily_2", 50*time.Hour),
		batch("weekly_1", 8*day),
		batch("weekly_2", 16*day),
		batch("monthly_1", 35*day),
		batch("monthly_2", 70*day),
		batch("yearly_1", 400*day),
		batch("yearly_2", 800*day),
		batch("old_1", 1200*day),
		batch("old_2", 1600*day),
	}
	p := &Plan{Hours: 2, Days: 2, Weeks: 2, Months: 2, Years: 2}

	kept := determineBatchesToKeep(batches, p)

	assert.Len(t, kept, 10)
	for _, b := range batches[:10] {
		assert.True(t, kept[b.RelPathKey], "expected %s to be kept", b.RelPathKey)
	}
	assert.False(t, kept["old_1"])
	assert.False(t, kept["old_2"])
}

// One batch fills the shortest slot it qualifies for and is not counted again.
func TestDetermineBatchesToKeep_Promotion(t *testing.T) {
	const day = 24 * time.Hour
	batches := []metafile.MetafileInfo{
		batch("kept_hourly", time.Hour),
		batch("kept_daily", 25*time.Hour),
		batch("kept_weekly", 8*day),
		batch("kept_monthly", 35*day),
		batch("kept_yearly", 400*day),
		batch("to_be_deleted", 800*day),
	}
	p := &Plan{Hours: 1, Days: 1, Weeks: 1, Months: 1, Years: 1}

	kept := determineBatchesToKeep(batches, p)

	assert.Len(t, kept, 5)
	assert.False(t, kept["to_be_deleted"])
}

func TestPrune(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/dailies"
	createTestBatch(t, fs, root, "13_03_26_11h30", "previews", now.Add(-time.Hour))
	createTestBatch(t, fs, root, "13_03_26_10h30", "previews", now.Add(-2*time.Hour))
	createTestBatch(t, fs, root, "11_03_26_10h30", "previews", now.Add(-50*time.Hour))
	createTestBatch(t, fs, root, "EXPORT_01_01_26_09h00", "renders", now.Add(-1000*time.Hour))
	require.NoError(t, fs.MkdirAll(filepath.Join(root, "handmade"), 0755))

	p := &Plan{Enabled: true, Days: 1, Rule: "previews", Workers: 2}
	res, err := NewPathRetainer(fs).Prune(context.Background(), root, p)
	require.NoError(t, err)

	assert.Equal(t, []string{"13_03_26_11h30"}, res.Kept)
	assert.Equal(t, []string{"13_03_26_10h30", "11_03_26_10h30"}, res.Deleted)
	assert.Empty(t, res.Failed)

	for name, want := range map[string]bool{
		"13_03_26_11h30":        true,
		"13_03_26_10h30":        false,
		"11_03_26_10h30":        false,
		"EXPORT_01_01_26_09h00": true, // another rule
		"handmade":              true, // no metadata
	} {
		exists, err := afero.DirExists(fs, filepath.Join(root, name))
		require.NoError(t, err)
		assert.Equal(t, want, exists, name)
	}
}

func TestPrune_BatchPrefix(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/exports"
	createTestBatch(t, fs, root, "EXPORT_a", "renders", now.Add(-time.Hour))
	createTestBatch(t, fs, root, "EXPORT_b", "renders", now.Add(-2*time.Hour))
	createTestBatch(t, fs, root, "other_c", "renders", now.Add(-3*time.Hour))

	res, err := NewPathRetainer(fs).Prune(context.Background(), root, &Plan{Enabled: true, Hours: 1, BatchPrefix: "EXPORT_", Rule: "renders"})
	require.NoError(t, err)
	assert.Equal(t, []string{"EXPORT_b"}, res.Deleted)

	exists, _ := afero.DirExists(fs, filepath.Join(root, "other_c"))
	assert.True(t, exists)
}

func TestPrune_DryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/dailies"
	createTestBatch(t, fs, root, "new", "previews", now.Add(-time.Hour))
	createTestBatch(t, fs, root, "old", "previews", now.Add(-100*time.Hour))

	res, err := NewPathRetainer(fs).Prune(context.Background(), root, &Plan{Enabled: true, Hours: 1, Rule: "previews", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, res.Deleted)

	exists, _ := afero.DirExists(fs, filepath.Join(root, "old"))
	assert.True(t, exists, "dry run must not delete")
}

func TestPrune_DeleteFailure(t *testing.T) {
	base := afero.NewMemMapFs()
	root := "/dailies"
	createTestBatch(t, base, root, "new", "previews", now.Add(-time.Hour))
	createTestBatch(t, base, root, "old", "previews", now.Add(-100*time.Hour))

	res, err := NewPathRetainer(afero.NewReadOnlyFs(base)).Prune(context.Background(), root, &Plan{Enabled: true, Hours: 1, Rule: "previews"})
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{"old"}, res.Failed)
}

func TestPrune_Hints(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := NewPathRetainer(fs)

	_, err := r.Prune(context.Background(), "/dailies", &Plan{Enabled: false, Days: 3})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = r.Prune(context.Background(), "/dailies", &Plan{Enabled: true})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = r.Prune(context.Background(), "/missing", &Plan{Enabled: true, Days: 3})
	assert.ErrorIs(t, err, ErrNothingToPrune)
	assert.True(t, hints.IsHint(err))
}

func TestPrune_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	createTestBatch(t, fs, "/dailies", "old", "previews", now.Add(-100*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPathRetainer(fs).Prune(ctx, "/dailies", &Plan{Enabled: true, Days: 1})
	assert.True(t, errors.Is(err, context.Canceled))
}

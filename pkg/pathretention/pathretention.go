// Package pathretention prunes old output batches.
//
// Batches are sorted into calendar slots by the UTC timestamp in their metadata
// file: N hourly, N daily, N ISO-weekly, N monthly and N yearly. Walking from
// newest to oldest, a batch fills the shortest slot kind it still qualifies for
// and is not considered for longer ones. Everything left over is deleted.
// Directories without readable metadata are never touched.
package pathretention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/pixelgardenlabs/shotsync/pkg/hints"
	"github.com/pixelgardenlabs/shotsync/pkg/metafile"
	"github.com/pixelgardenlabs/shotsync/pkg/pathretentionmetrics"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

const (
	hourFormat  = "2006-01-02-15"
	dayFormat   = "2006-01-02"
	weekFormat  = "%d-%d" // ISO year and week; time has no layout verb for it
	monthFormat = "2006-01"
	yearFormat  = "2006"
)

var ErrDisabled = hints.New("retention is disabled")
var ErrNothingToPrune = hints.New("nothing to prune")

// Result lists the batches of one prune pass by directory name.
type Result struct {
	Kept    []string
	Deleted []string
	Failed  []string
}

type PathRetainer struct {
	fs afero.Fs
}

func NewPathRetainer(fsys afero.Fs) *PathRetainer {
	return &PathRetainer{fs: fsys}
}

// Prune deletes the batches of p.Rule in outputRoot that fall outside the keep
// slots. Deletion failures are logged and listed in the result; they do not
// stop the pass.
func (r *PathRetainer) Prune(ctx context.Context, outputRoot string, p *Plan) (*Result, error) {
	if !p.Enabled || !p.keepsAnything() {
		return nil, ErrDisabled
	}

	batches, err := r.fetchSortedBatches(ctx, outputRoot, p)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, ErrNothingToPrune
	}

	var m pathretentionmetrics.Metrics = &pathretentionmetrics.NoopMetrics{}
	if p.Metrics {
		m = &pathretentionmetrics.RetentionMetrics{}
	}

	toKeep := determineBatchesToKeep(batches, p)
	res := &Result{}
	var toDelete []metafile.MetafileInfo
	for _, b := range batches {
		if toKeep[b.RelPathKey] {
			res.Kept = append(res.Kept, b.RelPathKey)
			continue
		}
		toDelete = append(toDelete, b)
	}
	m.AddBatchesKept(int64(len(res.Kept)))

	if len(toDelete) == 0 {
		plog.Debug("No batches need deletion", "rule", p.Rule)
		return res, nil
	}

	plog.Info("Deleting outdated batches", "rule", p.Rule, "count", len(toDelete))
	m.StartProgress("Delete progress", 10*time.Second)
	defer func() {
		m.StopProgress()
		m.LogSummary("Delete finished")
	}()

	deleted, failed := r.deleteBatches(ctx, outputRoot, toDelete, p, m)
	res.Deleted, res.Failed = deleted, failed
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// fetchSortedBatches returns the batches of p.Rule, newest first. The
// metadata file is the only source of the batch time.
func (r *PathRetainer) fetchSortedBatches(ctx context.Context, outputRoot string, p *Plan) ([]metafile.MetafileInfo, error) {
	entries, err := afero.ReadDir(r.fs, outputRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			plog.Debug("Output root does not exist yet, nothing to prune", "path", outputRoot)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output root %s: %w", outputRoot, err)
	}

	var found []metafile.MetafileInfo
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, p.BatchPrefix) {
			continue
		}

		metadata, err := metafile.Read(r.fs, filepath.Join(outputRoot, name))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				plog.Warn("Skipping directory; cannot read batch metadata", "rule", p.Rule, "directory", name, "reason", err)
			}
			continue
		}
		if p.Rule != "" && metadata.Rule != p.Rule {
			continue
		}
		found = append(found, metafile.MetafileInfo{RelPathKey: util.NormalizePath(name), Metadata: metadata})
	}

	sort.SliceStable(found, func(i, j int) bool {
		ti, tj := found[i].Metadata.TimestampUTC, found[j].Metadata.TimestampUTC
		if ti.Equal(tj) {
			return found[i].RelPathKey > found[j].RelPathKey
		}
		return ti.After(tj)
	})
	return found, nil
}

// determineBatchesToKeep applies the slots to batches sorted newest first.
func determineBatchesToKeep(batches []metafile.MetafileInfo, p *Plan) map[string]bool {
	toKeep := make(map[string]bool)

	savedHourly := make(map[string]bool)
	savedDaily := make(map[string]bool)
	savedWeekly := make(map[string]bool)
	savedMonthly := make(map[string]bool)
	savedYearly := make(map[string]bool)

	take := func(limit int, saved map[string]bool, key string) bool {
		if limit > 0 && len(saved) < limit && !saved[key] {
			saved[key] = true
			return true
		}
		return false
	}

	for _, b := range batches {
		ts := b.Metadata.TimestampUTC.UTC()
		year, week := ts.ISOWeek()

		switch {
		case take(p.Hours, savedHourly, ts.Format(hourFormat)),
			take(p.Days, savedDaily, ts.Format(dayFormat)),
			take(p.Weeks, savedWeekly, fmt.Sprintf(weekFormat, year, week)),
			take(p.Months, savedMonthly, ts.Format(monthFormat)),
			take(p.Years, savedYearly, ts.Format(yearFormat)):
			toKeep[b.RelPathKey] = true
		}
	}

	plog.Debug("Retention slots filled", "rule", p.Rule,
		"hourly", len(savedHourly), "daily", len(savedDaily), "weekly", len(savedWeekly),
		"monthly", len(savedMonthly), "yearly", len(savedYearly), "kept", len(toKeep))
	return toKeep
}

func (r *PathRetainer) deleteBatches(ctx context.Context, outputRoot string, toDelete []metafile.MetafileInfo, p *Plan, m pathretentionmetrics.Metrics) (deleted, failed []string) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	ok := make([]bool, len(toDelete))
	tried := make([]bool, len(toDelete))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, b := range toDelete {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			tried[i] = true
			dirToDelete := filepath.Join(outputRoot, util.DenormalizePath(b.RelPathKey))
			if p.DryRun {
				plog.Notice("[DRY RUN] DELETE", "rule", p.Rule, "path", dirToDelete)
				ok[i] = true
				return nil
			}
			plog.Notice("DELETE", "rule", p.Rule, "path", dirToDelete)
			if err := r.fs.RemoveAll(dirToDelete); err != nil {
				m.AddBatchesFailed(1)
				plog.Warn("Failed to delete outdated batch", "rule", p.Rule, "path", dirToDelete, "error", err)
				return nil
			}
			m.AddBatchesDeleted(1)
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, b := range toDelete {
		switch {
		case !tried[i]:
		case ok[i]:
			deleted = append(deleted, b.RelPathKey)
		default:
			failed = append(failed, b.RelPathKey)
		}
	}
	return deleted, failed
}

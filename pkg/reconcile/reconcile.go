// Package reconcile decides, per group key, whether the mirror tree holds a
// newer and complete counterpart of the reference item that should be published.
//
// The checks run in a fixed order for every key:
//
//  1. resolve the mirror path        -> MalformedKey
//  2. the mirror item must exist      -> NotFound
//  3. mirror time > reference + margin -> NotNewer otherwise
//  4. completeness only after a Copy  -> IncompleteSource (or IncompleteAllowed)
//
// Every per-key failure becomes a Skip decision. Only cancellation stops a pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/pixelgardenlabs/shotsync/pkg/metrics"
	"github.com/pixelgardenlabs/shotsync/pkg/naming"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/scan"
	"github.com/pixelgardenlabs/shotsync/pkg/selector"
)

type Reconciler struct {
	fs afero.Fs
}

func NewReconciler(fs afero.Fs) *Reconciler {
	return &Reconciler{fs: fs}
}

// Reconcile returns one Decision per key of refs, in sorted key order. Keys are
// spread over p.Workers goroutines; each writes only its own slot. When ctx is
// cancelled no new key is started and the decisions made so far are returned
// together with ctx.Err().
func (r *Reconciler) Reconcile(ctx context.Context, refs selector.ReferenceMap, p *Plan, m metrics.Metrics) ([]Decision, error) {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	keys := refs.Keys()
	decisions := make([]Decision, len(keys))
	done := make([]bool, len(keys))

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			d := r.decide(key, refs[key], p)
			logDecision(d)
			if d.IsCopy() {
				m.AddCopyDecisions(1)
			} else {
				m.AddSkipDecisions(1)
			}
			decisions[i] = d
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := decisions[:0]
	for i := range decisions {
		if done[i] {
			out = append(out, decisions[i])
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (r *Reconciler) decide(key string, ref scan.Item, p *Plan) Decision {
	d := Decision{
		Rule:             p.Rule,
		Key:              key,
		Action:           Skip,
		ReferencePath:    ref.Path,
		ReferenceModTime: ref.ModTime,
	}

	rel, err := p.Mirror.Resolve(key)
	if err != nil {
		d.Reason, d.Err = MalformedKey, err
		return d
	}
	d.MirrorPath = filepath.Join(p.MirrorRoot, filepath.FromSlash(rel))

	itemPath, itemInfo, reason, err := r.mirrorItem(d.MirrorPath, p)
	if reason != Newer {
		d.Reason, d.Err = reason, err
		return d
	}
	d.MirrorItemPath = itemPath
	d.MirrorModTime = itemInfo.ModTime()

	if !d.MirrorModTime.After(ref.ModTime.Add(p.Margin)) {
		d.Reason = NotNewer
		return d
	}

	d.Action, d.Reason = Copy, Newer

	// Completeness compares directory contents, so it only applies when both sides are directories.
	if !p.Completeness.Empty() && ref.IsDir && itemInfo.IsDir() {
		refCount, err := r.countMatching(ref.Path, p.Completeness)
		if err != nil {
			return readError(d, err)
		}
		mirrorCount, err := r.countMatching(itemPath, p.Completeness)
		if err != nil {
			return readError(d, err)
		}
		d.ReferenceCount, d.MirrorCount = refCount, mirrorCount
		if mirrorCount < refCount {
			if !p.AllowIncompleteCopy {
				d.Action, d.Reason = Skip, IncompleteSource
				return d
			}
			d.Reason = IncompleteAllowed
		}
	}

	if p.PublishFrom == naming.FromReference {
		d.SourcePath, d.SourceIsDir = ref.Path, ref.IsDir
	} else {
		d.SourcePath, d.SourceIsDir = itemPath, itemInfo.IsDir()
	}

	ext := ""
	if !d.SourceIsDir {
		ext = filepath.Ext(d.SourcePath)
	}
	name, err := p.OutputName.Name(key, ext)
	if err != nil {
		d.Action, d.Reason, d.Err = Skip, MalformedKey, err
		d.SourcePath, d.SourceIsDir = "", false
		return d
	}
	d.OutputName = name
	return d
}

// mirrorItem locates the item whose modification time stands for the mirror
// candidate. The returned reason is Newer when an item was found.
func (r *Reconciler) mirrorItem(candidate string, p *Plan) (string, fs.FileInfo, Reason, error) {
	info, err := r.fs.Stat(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, NotFound, nil
		}
		return "", nil, ReadError, err
	}

	if p.MirrorSelect != naming.SelectNewest {
		return candidate, info, Newer, nil
	}

	if !info.IsDir() {
		return "", nil, NotFound, fmt.Errorf("%s is not a directory", candidate)
	}
	entries, err := afero.ReadDir(r.fs, candidate)
	if err != nil {
		return "", nil, ReadError, err
	}
	var best fs.FileInfo
	for _, e := range entries {
		if !e.Mode().IsRegular() || !p.MirrorPattern.Match(e.Name()) {
			continue
		}
		if best == nil || e.ModTime().After(best.ModTime()) ||
			(e.ModTime().Equal(best.ModTime()) && e.Name() > best.Name()) {
			best = e
		}
	}
	if best == nil {
		return "", nil, NotFound, fmt.Errorf("no matching files in %s", candidate)
	}
	return filepath.Join(candidate, best.Name()), best, Newer, nil
}

func (r *Reconciler) countMatching(dir string, m naming.Matcher) (int, error) {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Mode().IsRegular() && m.Match(e.Name()) {
			n++
		}
	}
	return n, nil
}

func readError(d Decision, err error) Decision {
	d.Action, d.Reason, d.Err = Skip, ReadError, err
	return d
}

func logDecision(d Decision) {
	switch {
	case d.IsCopy():
		plog.Notice("COPY", "rule", d.Rule, "key", d.Key, "reason", d.Reason, "mirror", d.MirrorItemPath,
			"mirrorTime", d.MirrorModTime.Format(time.DateTime), "referenceTime", d.ReferenceModTime.Format(time.DateTime))
	case d.Reason == ReadError:
		plog.Warn("SKIP", "rule", d.Rule, "key", d.Key, "reason", d.Reason, "error", d.Err)
	default:
		args := []any{"rule", d.Rule, "key", d.Key, "reason", d.Reason}
		if d.Err != nil {
			args = append(args, "detail", d.Err)
		}
		plog.Notice("SKIP", args...)
	}
}

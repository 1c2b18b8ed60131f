// Package publish copies the items selected by the reconciler into a fresh,
// timestamped batch directory below the output root.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/hints"
	"github.com/pixelgardenlabs/shotsync/pkg/metafile"
	"github.com/pixelgardenlabs/shotsync/pkg/metrics"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/pool"
	"github.com/pixelgardenlabs/shotsync/pkg/reconcile"
	"github.com/pixelgardenlabs/shotsync/pkg/sharded"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// ErrOutputDirCreateFailed is fatal for the rule: nothing can be published.
var ErrOutputDirCreateFailed = errors.New("output batch directory could not be created")

// ErrNothingToPublish is returned as a hint when no decision asks for a copy.
var ErrNothingToPublish = hints.New("nothing to publish")

// maxNameAttempts bounds how often a colliding batch name is suffixed with a fresh run id.
const maxNameAttempts = 3

const claimShards = 16

// placeholderTime is the modification time given to dry-run placeholders.
var placeholderTime = time.Unix(0, 0)

// Batch is the directory one run of one rule publishes into.
type Batch struct {
	Name      string
	Path      string
	RunID     string
	CreatedAt time.Time
}

// Outcome is the publish result of one Copy decision.
type Outcome struct {
	Decision   reconcile.Decision
	Status     Status
	TargetPath string
	Bytes      int64
	Err        error
}

type Counts struct {
	Copied       int
	Placeholders int
	Failed       int
}

// Result is returned by Publish. Outcomes follow the order of the decisions.
type Result struct {
	Batch    Batch
	Outcomes []Outcome
	Counts   Counts
}

type Publisher struct {
	fs       afero.Fs
	buffers  *pool.BufferPool
	now      func() time.Time
	newRunID func() string
}

// NewPublisher returns a publisher writing through fsys with copy buffers of bufferSize bytes.
func NewPublisher(fsys afero.Fs, bufferSize int) *Publisher {
	return &Publisher{
		fs:       fsys,
		buffers:  pool.NewBufferPool(bufferSize),
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
}

// Publish creates the batch directory and copies every Copy decision into it.
// Per-item failures are recorded as CopyFailed outcomes and do not stop the run.
// Cancellation is observed between items; a cancelled run returns the outcomes
// so far together with ctx.Err().
func (p *Publisher) Publish(ctx context.Context, decisions []reconcile.Decision, plan *Plan, m metrics.Metrics) (*Result, error) {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	copies := reconcile.CopyDecisions(decisions)
	if len(copies) == 0 {
		return nil, ErrNothingToPublish
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := p.createBatch(plan)
	if err != nil {
		return nil, err
	}
	plog.Info("Publishing", "rule", plan.Rule, "batch", batch.Path, "items", len(copies), "dryRun", plan.DryRun)

	outcomes := make([]Outcome, len(copies))
	done := make([]bool, len(copies))

	// Output names are claimed before copying so two keys never write the same target.
	claimed := sharded.NewSet(claimShards, util.IsHostCaseInsensitiveFS())

	workers := plan.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, d := range copies {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = p.publishOne(d, batch.Path, plan, claimed.Claim, m)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()
	plog.Debug("Output names claimed", "rule", plan.Rule, "batch", batch.Path, "names", claimed.Count())

	res := &Result{Batch: batch}
	for i := range outcomes {
		if !done[i] {
			continue
		}
		o := outcomes[i]
		res.Outcomes = append(res.Outcomes, o)
		switch o.Status {
		case Copied:
			res.Counts.Copied++
		case Placeholder:
			res.Counts.Placeholders++
		case CopyFailed:
			res.Counts.Failed++
		}
	}

	if err := metafile.Write(p.fs, batch.Path, metadataFor(res, plan)); err != nil {
		plog.Warn("Failed to write batch metadata", "batch", batch.Path, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Publisher) publishOne(d reconcile.Decision, batchPath string, plan *Plan, claim func(string) bool, m metrics.Metrics) Outcome {
	o := Outcome{Decision: d, TargetPath: filepath.Join(batchPath, d.OutputName)}

	fail := func(err error) Outcome {
		o.Status, o.Err = CopyFailed, err
		m.AddCopyFailures(1)
		plog.Error("Copy failed", "rule", d.Rule, "key", d.Key, "source", d.SourcePath, "error", err)
		return o
	}

	if !claim(d.OutputName) || p.exists(o.TargetPath) {
		return fail(fmt.Errorf("output name %q is already taken in %s", d.OutputName, batchPath))
	}

	if plan.DryRun {
		if err := p.fs.Mkdir(o.TargetPath, util.UserWritableDirPerms); err != nil {
			return fail(fmt.Errorf("failed to create placeholder %s: %w", o.TargetPath, err))
		}
		// The output root may be scanned again; a placeholder must never look newer than a real item.
		if err := p.fs.Chtimes(o.TargetPath, placeholderTime, placeholderTime); err != nil {
			return fail(fmt.Errorf("failed to date placeholder %s: %w", o.TargetPath, err))
		}
		o.Status = Placeholder
		m.AddPlaceholders(1)
		plog.Notice("[DRY RUN] PLACEHOLDER", "key", d.Key, "source", d.SourcePath, "target", o.TargetPath)
		return o
	}

	var err error
	if d.SourceIsDir {
		o.Bytes, err = p.copyDir(d.SourcePath, o.TargetPath, plan.RetryCount, plan.RetryWait, m)
	} else {
		o.Bytes, err = p.copyFile(d.SourcePath, o.TargetPath, plan.RetryCount, plan.RetryWait, m)
	}
	if err != nil {
		return fail(err)
	}
	o.Status = Copied
	m.AddItemsCopied(1)
	plog.Notice("COPIED", "key", d.Key, "source", d.SourcePath, "target", o.TargetPath, "size", util.ByteCountIEC(o.Bytes))
	return o
}

// createBatch makes the batch directory with an exclusive mkdir. If the
// timestamped name is taken, a short run id is appended and creation retried.
func (p *Publisher) createBatch(plan *Plan) (Batch, error) {
	if err := p.fs.MkdirAll(plan.OutputRoot, util.UserWritableDirPerms); err != nil {
		return Batch{}, fmt.Errorf("%w: %s: %v", ErrOutputDirCreateFailed, plan.OutputRoot, err)
	}

	now := p.now()
	runID := plan.RunID
	if runID == "" {
		runID = p.newRunID()
	}
	base := plan.BatchPrefix + now.Local().Format(plan.layout())
	name := base

	for attempt := 0; ; attempt++ {
		path := filepath.Join(plan.OutputRoot, name)
		err := p.fs.Mkdir(path, util.UserWritableDirPerms)
		if err == nil {
			return Batch{Name: name, Path: path, RunID: runID, CreatedAt: now}, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= maxNameAttempts {
			return Batch{}, fmt.Errorf("%w: %s: %v", ErrOutputDirCreateFailed, path, err)
		}
		if attempt > 0 {
			runID = p.newRunID()
		}
		name = base + "_" + shortID(runID)
		plog.Debug("Batch name taken, adding run id", "name", name)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func metadataFor(res *Result, plan *Plan) *metafile.MetafileContent {
	c := &metafile.MetafileContent{
		Version:      buildinfo.Version,
		RunID:        res.Batch.RunID,
		TimestampUTC: res.Batch.CreatedAt.UTC(),
		Rule:         plan.Rule,
		DryRun:       plan.DryRun,
		Copied:       res.Counts.Copied,
		Placeholders: res.Counts.Placeholders,
		Failed:       res.Counts.Failed,
	}
	for _, o := range res.Outcomes {
		e := metafile.Entry{
			Key:        o.Decision.Key,
			OutputName: o.Decision.OutputName,
			Status:     o.Status.String(),
			Source:     o.Decision.SourcePath,
		}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		c.Entries = append(c.Entries, e)
	}
	return c
}

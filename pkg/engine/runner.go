// Package engine runs the planned commands rule by rule.
//
// A sync pass of one rule goes through these steps:
//
//	preflight -> lock output root -> pre-sync hooks
//	scan -> select -> reconcile -> publish -> package
//	post-sync hooks (deferred) -> release lock
//
// Packaging follows "compress once, fail forward": only the batch of the current
// run is packaged, and a failed package leaves the plain batch in place.
//
// A fatal error aborts the rule. The remaining rules still run unless FailFast
// is set. Cancellation always stops the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/hints"
	"github.com/pixelgardenlabs/shotsync/pkg/hook"
	"github.com/pixelgardenlabs/shotsync/pkg/lockfile"
	"github.com/pixelgardenlabs/shotsync/pkg/metrics"
	"github.com/pixelgardenlabs/shotsync/pkg/pathcompression"
	"github.com/pixelgardenlabs/shotsync/pkg/pathretention"
	"github.com/pixelgardenlabs/shotsync/pkg/planner"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/preflight"
	"github.com/pixelgardenlabs/shotsync/pkg/publish"
	"github.com/pixelgardenlabs/shotsync/pkg/reconcile"
	"github.com/pixelgardenlabs/shotsync/pkg/report"
	"github.com/pixelgardenlabs/shotsync/pkg/scan"
	"github.com/pixelgardenlabs/shotsync/pkg/selector"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

type Validator interface {
	Run(p *preflight.Plan, sourceRoot, mirrorRoot, outputRoot string) error
}

type Scanner interface {
	Scan(ctx context.Context, root string, opts scan.Options) (iter.Seq[scan.Item], error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, refs selector.ReferenceMap, p *reconcile.Plan, m metrics.Metrics) ([]reconcile.Decision, error)
}

type Publisher interface {
	Publish(ctx context.Context, decisions []reconcile.Decision, p *publish.Plan, m metrics.Metrics) (*publish.Result, error)
}

type Compressor interface {
	Compress(ctx context.Context, batchPath string, p *pathcompression.Plan) (string, error)
}

type Retainer interface {
	Prune(ctx context.Context, outputRoot string, p *pathretention.Plan) (*pathretention.Result, error)
}

type HookRunner interface {
	RunPreSync(ctx context.Context, p *hook.Plan, v hook.Vars) error
	RunPostSync(ctx context.Context, p *hook.Plan, v hook.Vars) error
}

type Runner struct {
	validator  Validator
	scanner    Scanner
	reconciler Reconciler
	publisher  Publisher
	compressor Compressor
	retainer   Retainer
	hooks      HookRunner

	// acquireLock allows swapping the output lock in tests.
	acquireLock func(ctx context.Context, dirPath string, owner lockfile.Owner) (*lockfile.Lock, error)
	newRunID    func() string
	now         func() time.Time
}

func NewRunner(v Validator, s Scanner, rc Reconciler, p Publisher, c Compressor, rt Retainer, h HookRunner) *Runner {
	return &Runner{
		validator:  v,
		scanner:    s,
		reconciler: rc,
		publisher:  p,
		compressor: c,
		retainer:   rt,
		hooks:      h,
		acquireLock: func(ctx context.Context, dirPath string, owner lockfile.Owner) (*lockfile.Lock, error) {
			return lockfile.Acquire(ctx, dirPath, owner)
		},
		newRunID: uuid.NewString,
		now:      time.Now,
	}
}

// ExecuteSync runs every rule of p and returns one summary per rule that got
// past its lock. The error joins the fatal errors of the failed rules.
func (r *Runner) ExecuteSync(ctx context.Context, p *planner.SyncPlan) ([]*report.Summary, error) {
	return r.executeRules(ctx, p, "Sync", r.syncRule)
}

// ExecuteCheck runs scan, select and reconcile for every rule of p. Nothing is
// written and no lock is taken.
func (r *Runner) ExecuteCheck(ctx context.Context, p *planner.SyncPlan) ([]*report.Summary, error) {
	return r.executeRules(ctx, p, "Check", r.checkRule)
}

type ruleFunc func(ctx context.Context, p *planner.SyncPlan, rp *planner.RulePlan, m metrics.Metrics) (*report.Summary, error)

func (r *Runner) executeRules(ctx context.Context, p *planner.SyncPlan, name string, run ruleFunc) ([]*report.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := metrics.New(p.Metrics)
	m.StartProgress(name+" progress", 10*time.Second)
	defer func() {
		m.StopProgress()
		m.LogSummary(name + " finished")
	}()

	var summaries []*report.Summary
	var errs []error
	for _, rp := range p.Rules {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		s, err := run(ctx, p, rp, m)
		if s != nil {
			summaries = append(summaries, s)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return summaries, err
		}
		err = fmt.Errorf("rule %s: %w", rp.Name, err)
		if p.FailFast {
			return summaries, err
		}
		plog.Error("Rule failed", "rule", rp.Name, "error", err)
		errs = append(errs, err)
	}
	return summaries, errors.Join(errs...)
}

func (r *Runner) syncRule(ctx context.Context, p *planner.SyncPlan, rp *planner.RulePlan, m metrics.Metrics) (summary *report.Summary, retErr error) {
	runID := r.newRunID()
	vars := hook.Vars{Rule: rp.Name, RunID: runID, TimestampUTC: r.now().UTC(), DryRun: p.DryRun}

	if err := r.validator.Run(rp.Preflight, rp.SourceRoot, rp.MirrorRoot, rp.OutputRoot); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}

	// The lock lives in the output root, so it has to exist even in a dry run.
	if err := os.MkdirAll(rp.OutputRoot, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", publish.ErrOutputDirCreateFailed, rp.OutputRoot, err)
	}
	lock, err := r.lockOutput(ctx, rp.OutputRoot, lockfile.Owner{AppID: buildinfo.Name, Rule: rp.Name, RunID: runID})
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, nil // another run owns the output root
	}
	defer lock.Release()

	if p.Hooks != nil {
		if err := r.hooks.RunPreSync(ctx, p.Hooks, vars); err != nil && !hints.IsHint(err) {
			errMsg := "pre-sync hook failed"
			if errors.Is(err, context.Canceled) {
				errMsg = "pre-sync hook canceled"
			}
			return nil, fmt.Errorf("%s: %w", errMsg, err)
		}
		// Post-sync hooks run even when the rule fails.
		defer func() {
			if err := r.hooks.RunPostSync(ctx, p.Hooks, vars); err != nil && !hints.IsHint(err) {
				if errors.Is(err, context.Canceled) {
					plog.Info("post-sync hooks skipped due to cancellation", "rule", rp.Name)
				} else {
					plog.Warn("post-sync hook failed", "rule", rp.Name, "error", err)
				}
			}
		}()
	}

	plog.Info("Starting sync", "rule", rp.Name, "source", rp.SourceRoot, "mirror", rp.MirrorRoot, "output", rp.OutputRoot)

	decisions, err := r.decide(ctx, rp, m)
	if err != nil {
		return report.New(rp.Name, decisions, nil), err
	}

	publishPlan := *rp.Publish
	publishPlan.RunID = runID
	res, err := r.publisher.Publish(ctx, decisions, &publishPlan, m)
	if err != nil {
		if errors.Is(err, publish.ErrNothingToPublish) {
			plog.Info("Nothing to publish", "rule", rp.Name)
			return report.New(rp.Name, decisions, nil), nil
		}
		return report.New(rp.Name, decisions, res), fmt.Errorf("error during publish: %w", err)
	}
	vars.BatchPath = res.Batch.Path
	vars.Copied = res.Counts.Copied + res.Counts.Placeholders
	vars.Failed = res.Counts.Failed
	summary = report.New(rp.Name, decisions, res)

	if rp.Compression != nil && rp.Compression.Enabled {
		archivePath, err := r.compressor.Compress(ctx, res.Batch.Path, rp.Compression)
		switch {
		case err == nil:
			plog.Info("Batch packaged", "rule", rp.Name, "archive", archivePath)
		case hints.IsHint(err):
		case errors.Is(err, context.Canceled):
			return summary, err
		case p.FailFast:
			return summary, fmt.Errorf("error during package: %w", err)
		default:
			plog.Warn("Error during package, keeping plain batch", "rule", rp.Name, "batch", res.Batch.Path, "error", err)
		}
	}

	plog.Info("Sync completed", "rule", rp.Name, "batch", res.Batch.Name,
		"copied", res.Counts.Copied, "placeholders", res.Counts.Placeholders, "failed", res.Counts.Failed)
	return summary, nil
}

func (r *Runner) checkRule(ctx context.Context, p *planner.SyncPlan, rp *planner.RulePlan, m metrics.Metrics) (*report.Summary, error) {
	if err := r.validator.Run(rp.Preflight, rp.SourceRoot, rp.MirrorRoot, rp.OutputRoot); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}
	plog.Info("Starting check", "rule", rp.Name, "source", rp.SourceRoot, "mirror", rp.MirrorRoot)
	decisions, err := r.decide(ctx, rp, m)
	return report.New(rp.Name, decisions, nil), err
}

// decide runs scan, select and reconcile for one rule.
func (r *Runner) decide(ctx context.Context, rp *planner.RulePlan, m metrics.Metrics) ([]reconcile.Decision, error) {
	opts := rp.Scan
	onItem := opts.OnItem
	opts.OnItem = func(it scan.Item) {
		m.AddItemsScanned(1)
		if onItem != nil {
			onItem(it)
		}
	}

	items, err := r.scanner.Scan(ctx, rp.SourceRoot, opts)
	if err != nil {
		return nil, fmt.Errorf("error during scan: %w", err)
	}
	refs := selector.Select(items, rp.Extractor, rp.Filter)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.AddKeysSelected(int64(len(refs)))
	plog.Debug("Reference items selected", "rule", rp.Name, "keys", len(refs))

	decisions, err := r.reconciler.Reconcile(ctx, refs, rp.Reconcile, m)
	if err != nil {
		return decisions, err
	}
	return decisions, nil
}

// ExecutePrune applies the retention plan of every rule to its output root.
func (r *Runner) ExecutePrune(ctx context.Context, p *planner.PrunePlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	for _, rp := range p.Rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.pruneRule(ctx, rp)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		err = fmt.Errorf("rule %s: %w", rp.Name, err)
		if p.FailFast {
			return err
		}
		plog.Error("Prune failed", "rule", rp.Name, "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runner) pruneRule(ctx context.Context, rp *planner.PruneRulePlan) error {
	if err := r.validator.Run(rp.Preflight, "", "", rp.OutputRoot); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	if _, err := os.Stat(rp.OutputRoot); errors.Is(err, fs.ErrNotExist) {
		plog.Info("Prune skipped", "rule", rp.Name, "reason", "output root does not exist yet")
		return nil
	}

	lock, err := r.lockOutput(ctx, rp.OutputRoot, lockfile.Owner{AppID: buildinfo.Name, Rule: rp.Name, RunID: r.newRunID()})
	if err != nil {
		return err
	}
	if lock == nil {
		return nil
	}
	defer lock.Release()

	plog.Info("Starting prune", "rule", rp.Name, "output", rp.OutputRoot)
	res, err := r.retainer.Prune(ctx, rp.OutputRoot, rp.Retention)
	if err != nil {
		if hints.IsHint(err) {
			plog.Info("Prune skipped", "rule", rp.Name, "reason", err)
			return nil
		}
		return fmt.Errorf("error during prune: %w", err)
	}
	plog.Info("Prune completed", "rule", rp.Name, "kept", len(res.Kept), "deleted", len(res.Deleted), "failed", len(res.Failed))
	if len(res.Failed) > 0 {
		return fmt.Errorf("failed to delete %d batches", len(res.Failed))
	}
	return nil
}

// lockOutput locks the output root. A nil lock with a nil error means the
// root is held by another run and the rule is skipped.
func (r *Runner) lockOutput(ctx context.Context, outputRoot string, owner lockfile.Owner) (*lockfile.Lock, error) {
	plog.Debug("Attempting to acquire lock", "path", outputRoot)
	lock, err := r.acquireLock(ctx, outputRoot, owner)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("Another sync is running on this output root, skipping rule", "rule", owner.Rule, "details", lockErr.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully")
	return lock, nil
}

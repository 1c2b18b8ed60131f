// Package planner turns a validated configuration into the immutable plans the
// engine executes: one RulePlan per selected rule with a plan for every stage.
package planner

import (
	"fmt"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/config"
	"github.com/pixelgardenlabs/shotsync/pkg/hook"
	"github.com/pixelgardenlabs/shotsync/pkg/naming"
	"github.com/pixelgardenlabs/shotsync/pkg/pathcompression"
	"github.com/pixelgardenlabs/shotsync/pkg/pathretention"
	"github.com/pixelgardenlabs/shotsync/pkg/preflight"
	"github.com/pixelgardenlabs/shotsync/pkg/publish"
	"github.com/pixelgardenlabs/shotsync/pkg/reconcile"
	"github.com/pixelgardenlabs/shotsync/pkg/scan"
	"github.com/pixelgardenlabs/shotsync/pkg/selector"
)

// RulePlan holds everything one rule needs for a sync or check pass.
type RulePlan struct {
	Name string
	Kind naming.Kind

	SourceRoot string
	MirrorRoot string
	OutputRoot string

	Scan      scan.Options
	Extractor naming.KeyExtractor
	Filter    selector.Filter

	Preflight   *preflight.Plan
	Reconcile   *reconcile.Plan
	Publish     *publish.Plan
	Compression *pathcompression.Plan
}

// SyncPlan drives the sync and check commands. Check plans carry no publish,
// compression or hook plans.
type SyncPlan struct {
	DryRun   bool
	FailFast bool
	Metrics  bool

	BufferSize int
	Rules      []*RulePlan
	Hooks      *hook.Plan
}

type PruneRulePlan struct {
	Name       string
	OutputRoot string

	Preflight *preflight.Plan
	Retention *pathretention.Plan
}

type PrunePlan struct {
	DryRun   bool
	FailFast bool
	Metrics  bool

	Rules []*PruneRulePlan
}

// GenerateSyncPlan compiles the selected rules for a sync run.
func GenerateSyncPlan(cfg config.Config) (*SyncPlan, error) {
	return generate(cfg, false)
}

// GenerateCheckPlan compiles the selected rules for a read-only check run.
func GenerateCheckPlan(cfg config.Config) (*SyncPlan, error) {
	return generate(cfg, true)
}

func generate(cfg config.Config, checkOnly bool) (*SyncPlan, error) {
	// Global Flags
	dryRun := cfg.Runtime.DryRun || checkOnly
	failFast := cfg.Engine.FailFast
	metrics := cfg.Engine.Metrics

	var compressionFormat pathcompression.Format
	var compressionLevel pathcompression.Level
	if cfg.Compression.Enabled && !checkOnly {
		var err error
		if compressionFormat, err = pathcompression.ParseFormat(cfg.Compression.Format); err != nil {
			return nil, err
		}
		if compressionLevel, err = pathcompression.ParseLevel(cfg.Compression.Level); err != nil {
			return nil, err
		}
	}

	plan := &SyncPlan{
		DryRun:     dryRun,
		FailFast:   failFast,
		Metrics:    metrics,
		BufferSize: cfg.Engine.Performance.BufferSizeKB * 1024,
	}
	if !checkOnly {
		plan.Hooks = &hook.Plan{
			Enabled:          len(cfg.Hooks.PreSync) > 0 || len(cfg.Hooks.PostSync) > 0,
			PreSyncCommands:  cfg.Hooks.PreSync,
			PostSyncCommands: cfg.Hooks.PostSync,
			DryRun:           dryRun,
			FailFast:         failFast,
		}
	}

	rules := cfg.SelectedRules()
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules selected")
	}
	for _, r := range rules {
		rp, err := compileRule(cfg, r, checkOnly)
		if err != nil {
			return nil, err
		}
		if !checkOnly {
			rp.Compression = &pathcompression.Plan{
				Enabled: cfg.Compression.Enabled,
				Format:  compressionFormat,
				Level:   compressionLevel,
				DryRun:  dryRun,
				Metrics: metrics,
			}
		}
		plan.Rules = append(plan.Rules, rp)
	}
	return plan, nil
}

func compileRule(cfg config.Config, r config.RuleConfig, checkOnly bool) (*RulePlan, error) {
	source, mirror, output, err := cfg.ResolveRoots(r)
	if err != nil {
		return nil, err
	}

	extractor, err := naming.NewKeyExtractor(r.Extract, r.Marker)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	conv := naming.Convention{
		Separator: r.Separator,
		Marker:    r.Marker,
		MinParts:  r.MinParts,
		Vars:      cfg.Vars,
	}
	mirrorPath, err := naming.NewTemplateMirror(r.MirrorPathTemplate, conv)
	if err != nil {
		return nil, fmt.Errorf("rule %s: mirror path: %w", r.Name, err)
	}
	outputName, err := naming.NewOutputNamer(r.OutputNameTemplate, conv)
	if err != nil {
		return nil, fmt.Errorf("rule %s: output name: %w", r.Name, err)
	}

	match, err := naming.NewMatcher(r.MatchPatterns)
	if err != nil {
		return nil, fmt.Errorf("rule %s: match patterns: %w", r.Name, err)
	}
	mirrorPattern, err := naming.NewMatcher(splitPattern(r.MirrorPattern))
	if err != nil {
		return nil, fmt.Errorf("rule %s: mirror pattern: %w", r.Name, err)
	}
	completeness, err := naming.NewMatcher(splitPattern(r.CompletenessPattern))
	if err != nil {
		return nil, fmt.Errorf("rule %s: completeness pattern: %w", r.Name, err)
	}

	dryRun := cfg.Runtime.DryRun || checkOnly

	rp := &RulePlan{
		Name:       r.Name,
		Kind:       r.Kind,
		SourceRoot: source,
		MirrorRoot: mirror,
		OutputRoot: output,
		Extractor:  extractor,
		Preflight: &preflight.Plan{
			SourceAccessible:     true,
			MirrorAccessible:     true,
			OutputAccessible:     !checkOnly,
			OutputWritable:       !checkOnly,
			RequireMountedOutput: cfg.Roots.RequireMountedOutput,
			DryRun:               dryRun,
		},
		Reconcile: &reconcile.Plan{
			Rule:                r.Name,
			MirrorRoot:          mirror,
			Mirror:              mirrorPath,
			MirrorSelect:        r.MirrorSelect,
			MirrorPattern:       mirrorPattern,
			Completeness:        completeness,
			Margin:              time.Duration(cfg.Reconcile.MarginSeconds) * time.Second,
			AllowIncompleteCopy: cfg.Reconcile.AllowIncompleteCopy,
			PublishFrom:         r.PublishFrom,
			OutputName:          outputName,
			Workers:             cfg.Engine.Performance.ReconcileWorkers,
			FailFast:            cfg.Engine.FailFast,
			Metrics:             cfg.Engine.Metrics,
		},
	}

	if r.Kind == naming.KindDir {
		rp.Scan = scan.Options{Mode: scan.Dirs, DirMatch: match.Match}
	} else {
		rp.Scan = scan.Options{Mode: scan.Files}
		if !match.Empty() {
			rp.Filter = func(it scan.Item) bool { return match.Match(it.Name) }
		}
	}

	if !checkOnly {
		rp.Publish = &publish.Plan{
			Rule:        r.Name,
			OutputRoot:  output,
			BatchPrefix: r.BatchPrefix,
			BatchLayout: cfg.Publish.BatchTimeFormat,
			DryRun:      dryRun,
			Workers:     cfg.Engine.Performance.PublishWorkers,
			RetryCount:  cfg.Publish.RetryCount,
			RetryWait:   time.Duration(cfg.Publish.RetryWaitSeconds) * time.Second,
		}
	}
	return rp, nil
}

// GeneratePrunePlan builds one retention pass per selected rule. Only the
// output root is needed, so the source and mirror roots may be unset.
func GeneratePrunePlan(cfg config.Config) (*PrunePlan, error) {
	dryRun := cfg.Runtime.DryRun
	failFast := cfg.Engine.FailFast
	metrics := cfg.Engine.Metrics

	plan := &PrunePlan{DryRun: dryRun, FailFast: failFast, Metrics: metrics}
	rules := cfg.SelectedRules()
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules selected")
	}

	ret := cfg.Retention
	for _, r := range rules {
		output, err := cfg.ResolveOutputRoot(r)
		if err != nil {
			return nil, err
		}
		plan.Rules = append(plan.Rules, &PruneRulePlan{
			Name:       r.Name,
			OutputRoot: output,
			Preflight: &preflight.Plan{
				OutputAccessible:     true,
				RequireMountedOutput: cfg.Roots.RequireMountedOutput,
				DryRun:               dryRun,
			},
			Retention: &pathretention.Plan{
				Enabled:     ret.Hours > 0 || ret.Days > 0 || ret.Weeks > 0 || ret.Months > 0 || ret.Years > 0,
				Hours:       ret.Hours,
				Days:        ret.Days,
				Weeks:       ret.Weeks,
				Months:      ret.Months,
				Years:       ret.Years,
				Rule:        r.Name,
				BatchPrefix: r.BatchPrefix,
				Workers:     cfg.Engine.Performance.DeleteWorkers,
				DryRun:      dryRun,
				FailFast:    failFast,
				Metrics:     metrics,
			},
		})
	}
	return plan, nil
}

func splitPattern(p string) []string {
	if p == "" {
		return nil
	}
	return []string{p}
}

// Package config holds the shotsync configuration: global toggles, the rule
// table and the per-workstation roots. It is loaded from a JSON or TOML file,
// overlaid with SHOTSYNC_* environment variables and finally with the flags the
// user set on the command line.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/flagparse"
	"github.com/pixelgardenlabs/shotsync/pkg/naming"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// ConfigFileName is the default configuration file, looked up in the working directory.
const ConfigFileName = "shotsync.config.json"

// EnvFileName is the optional per-workstation environment file next to the config.
const EnvFileName = ".env"

// Environment variables overriding the top-level roots and the log level.
const (
	EnvSourceRoot = "SHOTSYNC_SOURCE_ROOT"
	EnvMirrorRoot = "SHOTSYNC_MIRROR_ROOT"
	EnvOutputRoot = "SHOTSYNC_OUTPUT_ROOT"
	EnvLogLevel   = "SHOTSYNC_LOG_LEVEL"
)

// RuleConfig is one entry of the rule table. Empty roots inherit the top-level
// roots; relative roots are joined to them.
type RuleConfig struct {
	Name     string      `json:"name" toml:"name"`
	Kind     naming.Kind `json:"kind" toml:"kind"`
	Disabled bool        `json:"disabled,omitempty" toml:"disabled,omitempty"`

	SourceRoot  string `json:"sourceRoot" toml:"sourceRoot"`
	MirrorRoot  string `json:"mirrorRoot" toml:"mirrorRoot"`
	OutputRoot  string `json:"outputRoot" toml:"outputRoot"`
	BatchPrefix string `json:"batchPrefix" toml:"batchPrefix"`

	// MatchPatterns are case-insensitive globs on the item name. For dir rules
	// they select the directories to compare.
	MatchPatterns []string           `json:"matchPatterns" toml:"matchPatterns"`
	Extract       naming.ExtractMode `json:"extract" toml:"extract"`
	Marker        string             `json:"marker,omitempty" toml:"marker,omitempty"`
	Separator     string             `json:"separator" toml:"separator"`
	MinParts      int                `json:"minParts,omitempty" toml:"minParts,omitempty"`

	MirrorPathTemplate  string              `json:"mirrorPathTemplate" toml:"mirrorPathTemplate"`
	MirrorSelect        naming.MirrorSelect `json:"mirrorSelect" toml:"mirrorSelect"`
	MirrorPattern       string              `json:"mirrorPattern,omitempty" toml:"mirrorPattern,omitempty"`
	CompletenessPattern string              `json:"completenessPattern,omitempty" toml:"completenessPattern,omitempty"`
	OutputNameTemplate  string              `json:"outputNameTemplate" toml:"outputNameTemplate"`
	PublishFrom         naming.PublishFrom  `json:"publishFrom" toml:"publishFrom"`
}

type RootsConfig struct {
	SourceRoot string `json:"sourceRoot" toml:"sourceRoot"`
	MirrorRoot string `json:"mirrorRoot" toml:"mirrorRoot"`
	OutputRoot string `json:"outputRoot" toml:"outputRoot"`
	// RequireMountedOutput refuses an output root on the system disk (Unix only).
	RequireMountedOutput bool `json:"requireMountedOutput" toml:"requireMountedOutput"`
}

type ReconcileConfig struct {
	MarginSeconds       int  `json:"marginSeconds" toml:"marginSeconds"`
	AllowIncompleteCopy bool `json:"allowIncompleteCopy" toml:"allowIncompleteCopy"`
}

type PublishConfig struct {
	RetryCount       int    `json:"retryCount" toml:"retryCount"`
	RetryWaitSeconds int    `json:"retryWaitSeconds" toml:"retryWaitSeconds"`
	BatchTimeFormat  string `json:"batchTimeFormat" toml:"batchTimeFormat" comment:"Go time layout of the batch timestamp. Default 02_01_06_15h04 (day_month_year_HHhMM)."`
}

type PerformanceConfig struct {
	ReconcileWorkers int `json:"reconcileWorkers" toml:"reconcileWorkers"`
	PublishWorkers   int `json:"publishWorkers" toml:"publishWorkers"`
	DeleteWorkers    int `json:"deleteWorkers" toml:"deleteWorkers"`
	BufferSizeKB     int `json:"bufferSizeKB" toml:"bufferSizeKB"`
}

type EngineConfig struct {
	Metrics     bool              `json:"metrics" toml:"metrics"`
	FailFast    bool              `json:"failFast" toml:"failFast"`
	Performance PerformanceConfig `json:"performance" toml:"performance"`
}

type CompressionConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Format  string `json:"format" toml:"format"`
	Level   string `json:"level" toml:"level"`
}

type RetentionConfig struct {
	Hours  int `json:"hours" toml:"hours"`
	Days   int `json:"days" toml:"days"`
	Weeks  int `json:"weeks" toml:"weeks"`
	Months int `json:"months" toml:"months"`
	Years  int `json:"years" toml:"years"`
}

type HooksConfig struct {
	// PreSync and PostSync run through the shell as given. Only use trusted commands.
	PreSync  []string `json:"preSync" toml:"preSync"`
	PostSync []string `json:"postSync" toml:"postSync"`
}

// RuntimeConfig holds per-invocation settings that are never written to the file.
type RuntimeConfig struct {
	DryRun     bool
	Rules      []string
	ConfigPath string
}

type Config struct {
	Version     string            `json:"version" toml:"version"`
	LogLevel    string            `json:"logLevel" toml:"logLevel"`
	Roots       RootsConfig       `json:"roots" toml:"roots"`
	Vars        map[string]string `json:"vars" toml:"vars"`
	Reconcile   ReconcileConfig   `json:"reconcile" toml:"reconcile"`
	Publish     PublishConfig     `json:"publish" toml:"publish"`
	Engine      EngineConfig      `json:"engine" toml:"engine"`
	Compression CompressionConfig `json:"compression" toml:"compression"`
	Retention   RetentionConfig   `json:"retention" toml:"retention"`
	Hooks       HooksConfig       `json:"hooks" toml:"hooks"`
	Rules       []RuleConfig      `json:"rules" toml:"rules"`
	Runtime     RuntimeConfig     `json:"-" toml:"-"`
}

// NewDefault returns the configuration of the production setup the tool was
// built for: playblast previews and render folders of one project. The roots
// are left empty so every workstation has to set them.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		Vars:     map[string]string{"project": "Kamarade_S_"},
		Reconcile: ReconcileConfig{
			MarginSeconds:       10, // absorbs timestamp jitter between shares
			AllowIncompleteCopy: false,
		},
		Publish: PublishConfig{
			RetryCount:       3,
			RetryWaitSeconds: 5,
			BatchTimeFormat:  "02_01_06_15h04",
		},
		Engine: EngineConfig{
			Metrics:  false,
			FailFast: false,
			Performance: PerformanceConfig{
				ReconcileWorkers: 1,
				PublishWorkers:   1,
				DeleteWorkers:    4,
				BufferSizeKB:     256,
			},
		},
		Compression: CompressionConfig{
			Enabled: false,
			Format:  "zip",
			Level:   "default",
		},
		Retention: RetentionConfig{
			Days:  7,
			Weeks: 4,
		},
		Hooks: HooksConfig{
			PreSync:  []string{},
			PostSync: []string{},
		},
		Rules: DefaultRules(),
	}
}

// DefaultRules returns the two built-in rule presets.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:               "previews",
			Kind:               naming.KindFile,
			SourceRoot:         "PlayBlasts",
			OutputRoot:         "PlayBlasts",
			MatchPatterns:      []string{"*.mp4"},
			Extract:            naming.UntilMarker,
			Marker:             "Anim",
			Separator:          "_",
			MirrorPathTemplate: "{stem}/{key}/_preview",
			MirrorSelect:       naming.SelectNewest,
			MirrorPattern:      "*.mp4",
			OutputNameTemplate: "{key}.mp4",
			PublishFrom:        naming.FromMirror,
		},
		{
			Name:                "renders",
			Kind:                naming.KindDir,
			BatchPrefix:         "EXPORT_",
			MatchPatterns:       []string{"*_RENDU_MAYA", "*_RENDU_COMP"},
			Extract:             naming.WholeName,
			Separator:           "_",
			MinParts:            3,
			MirrorPathTemplate:  "{project}{part0}-{part1}/{project}{part0}-{part1}_Comp/{key}",
			MirrorSelect:        naming.SelectPath,
			CompletenessPattern: "*.exr",
			OutputNameTemplate:  "{key}",
			PublishFrom:         naming.FromMirror,
		},
	}
}

// applyDefaults fills the optional fields a hand-written rule may leave out.
func (r *RuleConfig) applyDefaults() {
	if r.Kind == "" {
		r.Kind = naming.KindFile
	}
	if r.Extract == "" {
		if r.Kind == naming.KindDir {
			r.Extract = naming.WholeName
		} else {
			r.Extract = naming.StripExtension
		}
	}
	if r.MirrorSelect == "" {
		r.MirrorSelect = naming.SelectPath
	}
	if r.PublishFrom == "" {
		r.PublishFrom = naming.FromMirror
	}
	if r.OutputNameTemplate == "" {
		if r.Kind == naming.KindDir {
			r.OutputNameTemplate = "{key}"
		} else {
			r.OutputNameTemplate = "{key}{ext}"
		}
	}
}

// Load reads the configuration file at path. An empty path means ConfigFileName
// in the working directory; if that file is missing the defaults are returned.
// A missing file at an explicit path is an error.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigFileName
	}
	absPath, err := util.AbsPath(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			cfg := NewDefault()
			cfg.Runtime.ConfigPath = absPath
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}

	plog.Info("Loading configuration", "path", absPath)
	cfg := NewDefault()
	// A file without a rules table keeps the presets; one with a table replaces them.
	cfg.Rules = nil
	if err := decode(absPath, data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	for i := range cfg.Rules {
		cfg.Rules[i].applyDefaults()
	}
	cfg.Version = buildinfo.Version
	cfg.Runtime.ConfigPath = absPath
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		return toml.Unmarshal(data, cfg)
	}
	return json.NewDecoder(bytes.NewReader(data)).Decode(cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Generate writes cfg to path, as TOML when path ends in .toml and JSON otherwise.
func Generate(cfg Config, path string) error {
	var data []byte
	var err error
	if isTOML(path) {
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		err = enc.Encode(cfg)
		data = buf.Bytes()
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// LoadEnv reads KEY=VALUE pairs from envFile into the process environment
// without overriding variables that are already set. A missing file is ignored.
func LoadEnv(envFile string) error {
	if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load environment file %s: %w", envFile, err)
	}
	plog.Debug("Loaded environment file", "path", envFile)
	return nil
}

// ApplyEnv overlays the SHOTSYNC_* environment variables on c.
func (c *Config) ApplyEnv() {
	overlay := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	overlay(EnvSourceRoot, &c.Roots.SourceRoot)
	overlay(EnvMirrorRoot, &c.Roots.MirrorRoot)
	overlay(EnvOutputRoot, &c.Roots.OutputRoot)
	overlay(EnvLogLevel, &c.LogLevel)
}

// SelectedRules returns the enabled rules, narrowed to Runtime.Rules when set.
func (c *Config) SelectedRules() []RuleConfig {
	var out []RuleConfig
	for _, r := range c.Rules {
		if len(c.Runtime.Rules) > 0 {
			if !containsFold(c.Runtime.Rules, r.Name) {
				continue
			}
		} else if r.Disabled {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// ResolveRoots returns the absolute source, mirror and output roots of r.
func (c *Config) ResolveRoots(r RuleConfig) (source, mirror, output string, err error) {
	if source, err = resolveRoot(r.SourceRoot, c.Roots.SourceRoot); err != nil {
		return "", "", "", fmt.Errorf("rule %s: source root: %w", r.Name, err)
	}
	if mirror, err = resolveRoot(r.MirrorRoot, c.Roots.MirrorRoot); err != nil {
		return "", "", "", fmt.Errorf("rule %s: mirror root: %w", r.Name, err)
	}
	if output, err = resolveRoot(r.OutputRoot, c.Roots.OutputRoot); err != nil {
		return "", "", "", fmt.Errorf("rule %s: output root: %w", r.Name, err)
	}
	return source, mirror, output, nil
}

// ResolveOutputRoot resolves only the output root of r. Prune needs nothing else.
func (c *Config) ResolveOutputRoot(r RuleConfig) (string, error) {
	output, err := resolveRoot(r.OutputRoot, c.Roots.OutputRoot)
	if err != nil {
		return "", fmt.Errorf("rule %s: output root: %w", r.Name, err)
	}
	return output, nil
}

func resolveRoot(ruleRoot, base string) (string, error) {
	root := os.ExpandEnv(ruleRoot)
	base = os.ExpandEnv(base)
	switch {
	case root == "" && base == "":
		return "", errors.New("not set")
	case root == "":
		root = base
	case !filepath.IsAbs(root) && !strings.HasPrefix(root, "~") && base != "":
		root = filepath.Join(base, root)
	}
	return util.AbsPath(root)
}

// LogSummary logs the effective configuration of the run.
func (c *Config) LogSummary(command flagparse.Command) {
	logArgs := []any{
		"command", command.String(),
		"log_level", c.LogLevel,
		"dry_run", c.Runtime.DryRun,
		"metrics", c.Engine.Metrics,
		"fail_fast", c.Engine.FailFast,
	}
	if c.Runtime.ConfigPath != "" {
		logArgs = append(logArgs, "config", c.Runtime.ConfigPath)
	}

	var names []string
	for _, r := range c.SelectedRules() {
		names = append(names, r.Name)
	}
	logArgs = append(logArgs, "rules", strings.Join(names, ", "))

	switch command {
	case flagparse.Sync, flagparse.Check:
		logArgs = append(logArgs,
			"margin_seconds", c.Reconcile.MarginSeconds,
			"allow_incomplete", c.Reconcile.AllowIncompleteCopy,
			"reconcile_workers", c.Engine.Performance.ReconcileWorkers,
		)
		if command == flagparse.Sync {
			logArgs = append(logArgs,
				"publish_workers", c.Engine.Performance.PublishWorkers,
				"buffer_size_kb", c.Engine.Performance.BufferSizeKB,
				"retry", fmt.Sprintf("%dx%ds", c.Publish.RetryCount, c.Publish.RetryWaitSeconds),
			)
			if c.Compression.Enabled {
				logArgs = append(logArgs, "compression", fmt.Sprintf("enabled (f:%s l:%s)", c.Compression.Format, c.Compression.Level))
			}
			if len(c.Hooks.PreSync) > 0 {
				logArgs = append(logArgs, "pre_sync_hooks", strings.Join(c.Hooks.PreSync, "; "))
			}
			if len(c.Hooks.PostSync) > 0 {
				logArgs = append(logArgs, "post_sync_hooks", strings.Join(c.Hooks.PostSync, "; "))
			}
		}
	case flagparse.Prune:
		logArgs = append(logArgs,
			"retention", fmt.Sprintf("h:%d d:%d w:%d m:%d y:%d",
				c.Retention.Hours, c.Retention.Days, c.Retention.Weeks, c.Retention.Months, c.Retention.Years),
			"delete_workers", c.Engine.Performance.DeleteWorkers,
		)
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the flags the user set explicitly on top of base.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "config":
			merged.Runtime.ConfigPath = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "rules":
			merged.Runtime.Rules = value.([]string)
		case "source-root":
			merged.Roots.SourceRoot = value.(string)
		case "mirror-root":
			merged.Roots.MirrorRoot = value.(string)
		case "output-root":
			merged.Roots.OutputRoot = value.(string)
		case "margin-seconds":
			merged.Reconcile.MarginSeconds = value.(int)
		case "allow-incomplete":
			merged.Reconcile.AllowIncompleteCopy = value.(bool)
		case "reconcile-workers":
			merged.Engine.Performance.ReconcileWorkers = value.(int)
		case "fail-fast":
			merged.Engine.FailFast = value.(bool)
		case "publish-workers":
			merged.Engine.Performance.PublishWorkers = value.(int)
		case "retry-count":
			merged.Publish.RetryCount = value.(int)
		case "retry-wait":
			merged.Publish.RetryWaitSeconds = value.(int)
		case "buffer-size-kb":
			merged.Engine.Performance.BufferSizeKB = value.(int)
		case "batch-time-format":
			merged.Publish.BatchTimeFormat = value.(string)
		case "pre-sync-hooks":
			merged.Hooks.PreSync = value.([]string)
		case "post-sync-hooks":
			merged.Hooks.PostSync = value.([]string)
		case "compression":
			merged.Compression.Enabled = value.(bool)
		case "compression-format":
			merged.Compression.Format = value.(string)
		case "compression-level":
			merged.Compression.Level = value.(string)
		case "delete-workers":
			merged.Engine.Performance.DeleteWorkers = value.(int)
		case "retention-hours":
			merged.Retention.Hours = value.(int)
		case "retention-days":
			merged.Retention.Days = value.(int)
		case "retention-weeks":
			merged.Retention.Weeks = value.(int)
		case "retention-months":
			merged.Retention.Months = value.(int)
		case "retention-years":
			merged.Retention.Years = value.(int)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name, "command", command)
		}
	}
	return merged
}

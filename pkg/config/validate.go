package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/pixelgardenlabs/shotsync/pkg/naming"
)

var ruleNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Validate checks the configuration for errors and inconsistencies. It does not
// touch the filesystem; roots are checked by preflight.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.Required, validation.By(logLevelRule)),
		validation.Field(&c.Rules, validation.Required),
	); err != nil {
		return err
	}
	if err := c.Reconcile.Validate(); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := c.Engine.Performance.Validate(); err != nil {
		return fmt.Errorf("engine.performance: %w", err)
	}
	if err := c.Compression.Validate(); err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	seen := make(map[string]bool, len(c.Rules))
	for i := range c.Rules {
		r := &c.Rules[i]
		if err := r.Validate(c.Vars); err != nil {
			name := r.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return fmt.Errorf("rule %s: %w", name, err)
		}
		key := strings.ToLower(r.Name)
		if seen[key] {
			return fmt.Errorf("rule %s: duplicate rule name", r.Name)
		}
		seen[key] = true
	}

	for _, name := range c.Runtime.Rules {
		if !seen[strings.ToLower(name)] {
			return fmt.Errorf("unknown rule %q selected", name)
		}
	}
	if len(c.SelectedRules()) == 0 {
		return errors.New("no rules enabled")
	}
	return nil
}

func (c *ReconcileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MarginSeconds, validation.Min(0)),
	)
}

func (c *PublishConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RetryCount, validation.Min(0)),
		validation.Field(&c.RetryWaitSeconds, validation.Min(0)),
		validation.Field(&c.BatchTimeFormat, validation.By(batchLayoutRule)),
	)
}

func (c *PerformanceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ReconcileWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.PublishWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.DeleteWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.BufferSizeKB, validation.Required, validation.Min(1)),
	)
}

func (c *CompressionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.When(c.Enabled, validation.Required), validation.In("zip", "tar.gz", "tar.zst")),
		validation.Field(&c.Level, validation.In("default", "fastest", "better", "best")),
	)
}

func (c *RetentionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Hours, validation.Min(0)),
		validation.Field(&c.Days, validation.Min(0)),
		validation.Field(&c.Weeks, validation.Min(0)),
		validation.Field(&c.Months, validation.Min(0)),
		validation.Field(&c.Years, validation.Min(0)),
	)
}

// Validate checks a single rule. Templates are compiled against vars so an
// unknown token is reported here and not in the middle of a run.
func (r *RuleConfig) Validate(vars map[string]string) error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Match(ruleNamePattern)),
		validation.Field(&r.Kind, validation.Required, validation.In(naming.KindFile, naming.KindDir)),
		validation.Field(&r.MatchPatterns, validation.When(r.Kind == naming.KindDir, validation.Required), validation.Each(validation.By(globRule))),
		validation.Field(&r.Extract, validation.Required, validation.In(naming.UntilMarker, naming.WholeName, naming.StripExtension)),
		validation.Field(&r.Marker, validation.When(r.Extract == naming.UntilMarker, validation.Required)),
		validation.Field(&r.MinParts, validation.Min(0)),
		validation.Field(&r.MirrorPathTemplate, validation.Required, validation.By(templateRule(vars, false))),
		validation.Field(&r.MirrorSelect, validation.Required, validation.In(naming.SelectPath, naming.SelectNewest)),
		validation.Field(&r.MirrorPattern, validation.When(r.MirrorSelect == naming.SelectNewest, validation.Required), validation.By(globRule)),
		validation.Field(&r.CompletenessPattern, validation.By(globRule)),
		validation.Field(&r.OutputNameTemplate, validation.Required, validation.By(templateRule(vars, true))),
		validation.Field(&r.PublishFrom, validation.Required, validation.In(naming.FromMirror, naming.FromReference)),
	)
}

func globRule(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := naming.NewMatcher([]string{s}); err != nil {
		return err
	}
	return nil
}

func templateRule(vars map[string]string, output bool) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		conv := naming.Convention{Vars: vars}
		var err error
		if output {
			_, err = naming.NewOutputNamer(s, conv)
		} else {
			_, err = naming.NewTemplateMirror(s, conv)
		}
		return err
	}
}

func logLevelRule(value any) error {
	s, _ := value.(string)
	switch strings.ToLower(s) {
	case "debug", "notice", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("must be one of debug, notice, info, warn, error")
}

func batchLayoutRule(value any) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, `/\`) {
		return errors.New("must not contain path separators")
	}
	return nil
}

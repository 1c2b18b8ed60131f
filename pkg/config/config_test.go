package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/flagparse"
	"github.com/pixelgardenlabs/shotsync/pkg/naming"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("Default Config", func(t *testing.T) {
		cfg := NewDefault()
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected default config to pass validation, but got error: %v", err)
		}
	})

	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Negative Margin", func(c *Config) { c.Reconcile.MarginSeconds = -1 }},
		{"Zero Publish Workers", func(c *Config) { c.Engine.Performance.PublishWorkers = 0 }},
		{"Zero Buffer Size", func(c *Config) { c.Engine.Performance.BufferSizeKB = 0 }},
		{"Unknown Log Level", func(c *Config) { c.LogLevel = "loud" }},
		{"No Rules", func(c *Config) { c.Rules = nil }},
		{"Duplicate Rule Name", func(c *Config) { c.Rules[1].Name = "Previews" }},
		{"Bad Rule Name", func(c *Config) { c.Rules[0].Name = "my rule" }},
		{"Missing Marker", func(c *Config) { c.Rules[0].Marker = "" }},
		{"Unknown Template Token", func(c *Config) { c.Rules[1].MirrorPathTemplate = "{client}/{key}" }},
		{"Unbalanced Template", func(c *Config) { c.Rules[0].OutputNameTemplate = "{key.mp4" }},
		{"Invalid Glob", func(c *Config) { c.Rules[1].CompletenessPattern = "[" }},
		{"Newest Without Pattern", func(c *Config) { c.Rules[0].MirrorPattern = "" }},
		{"Bad Compression Format", func(c *Config) { c.Compression.Enabled, c.Compression.Format = true, "rar" }},
		{"Unknown Selected Rule", func(c *Config) { c.Runtime.Rules = []string{"layout"} }},
		{"All Rules Disabled", func(c *Config) { c.Rules[0].Disabled, c.Rules[1].Disabled = true, true }},
		{"Layout With Separator", func(c *Config) { c.Publish.BatchTimeFormat = "2006/01/02" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected a validation error, got nil")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("Missing Default File Returns Defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(cfg.Rules) != 2 || cfg.Rules[0].Name != "previews" {
			t.Errorf("expected preset rules, got %+v", cfg.Rules)
		}
	})

	t.Run("Missing Explicit File Is An Error", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected an error for a missing explicit config file")
		}
	})

	t.Run("JSON Keeps Defaults For Missing Fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		content := `{"version":"0.0.1","reconcile":{"marginSeconds":30},"rules":[{"name":"layout","matchPatterns":["*.mov"],"mirrorPathTemplate":"{key}"}]}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Version != buildinfo.Version {
			t.Errorf("expected version to be updated to %s, got %s", buildinfo.Version, cfg.Version)
		}
		if cfg.Reconcile.MarginSeconds != 30 {
			t.Errorf("expected margin 30, got %d", cfg.Reconcile.MarginSeconds)
		}
		if cfg.Publish.RetryCount != 3 {
			t.Errorf("expected default retry count, got %d", cfg.Publish.RetryCount)
		}
		if len(cfg.Rules) != 1 {
			t.Fatalf("expected the rule table to replace the presets, got %d rules", len(cfg.Rules))
		}
		r := cfg.Rules[0]
		if r.Kind != naming.KindFile || r.Extract != naming.StripExtension || r.MirrorSelect != naming.SelectPath ||
			r.PublishFrom != naming.FromMirror || r.OutputNameTemplate != "{key}{ext}" {
			t.Errorf("rule defaults not applied: %+v", r)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected loaded config to validate, got %v", err)
		}
	})

	t.Run("Corrupt File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("expected a parse error")
		}
	})
}

func TestGenerateAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"shotsync.config.json", "shotsync.config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := NewDefault()
			cfg.Roots.SourceRoot = "/mnt/edit"
			cfg.Reconcile.AllowIncompleteCopy = true
			if err := Generate(cfg, path); err != nil {
				t.Fatalf("Generate failed: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Roots.SourceRoot != "/mnt/edit" || !loaded.Reconcile.AllowIncompleteCopy {
				t.Errorf("values lost in round trip: %+v", loaded)
			}
			if len(loaded.Rules) != 2 || loaded.Rules[1].MirrorPathTemplate != cfg.Rules[1].MirrorPathTemplate {
				t.Errorf("rules lost in round trip: %+v", loaded.Rules)
			}
			if loaded.Rules[0].MirrorSelect != naming.SelectNewest {
				t.Errorf("enum lost in round trip: %q", loaded.Rules[0].MirrorSelect)
			}
			if loaded.Vars["project"] != "Kamarade_S_" {
				t.Errorf("vars lost in round trip: %v", loaded.Vars)
			}
		})
	}
}

func TestEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, EnvFileName)
	if err := os.WriteFile(envFile, []byte("SHOTSYNC_MIRROR_ROOT=/mnt/shots\nSHOTSYNC_OUTPUT_ROOT=/from/file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvOutputRoot, "/from/env")
	// Registered for cleanup; godotenv sets it through os.Setenv.
	t.Setenv(EnvMirrorRoot, "")
	os.Unsetenv(EnvMirrorRoot)

	if err := LoadEnv(envFile); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	cfg := NewDefault()
	cfg.ApplyEnv()

	if cfg.Roots.MirrorRoot != "/mnt/shots" {
		t.Errorf("expected mirror root from .env, got %q", cfg.Roots.MirrorRoot)
	}
	if cfg.Roots.OutputRoot != "/from/env" {
		t.Errorf("expected the process environment to win over .env, got %q", cfg.Roots.OutputRoot)
	}
	if err := LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("a missing env file must be ignored, got %v", err)
	}
}

func TestResolveRoots(t *testing.T) {
	cfg := NewDefault()
	cfg.Roots = RootsConfig{SourceRoot: "/mnt/edit", MirrorRoot: "/mnt/shots", OutputRoot: "/mnt/edit"}

	src, mirror, out, err := cfg.ResolveRoots(cfg.Rules[0])
	if err != nil {
		t.Fatalf("ResolveRoots failed: %v", err)
	}
	if src != filepath.Join("/mnt/edit", "PlayBlasts") || out != filepath.Join("/mnt/edit", "PlayBlasts") {
		t.Errorf("relative rule roots must be joined to the top-level roots, got %s %s", src, out)
	}
	if mirror != filepath.Clean("/mnt/shots") {
		t.Errorf("empty rule roots must inherit, got %s", mirror)
	}

	cfg.Roots.MirrorRoot = ""
	if _, _, _, err := cfg.ResolveRoots(cfg.Rules[1]); err == nil {
		t.Error("expected an error when neither rule nor top-level mirror root is set")
	}
}

func TestMergeConfigWithFlags(t *testing.T) {
	base := NewDefault()
	flags := map[string]any{
		"dry-run":          true,
		"margin-seconds":   25,
		"allow-incomplete": true,
		"rules":            []string{"renders"},
		"output-root":      "/tmp/out",
		"pre-sync-hooks":   []string{"echo start"},
	}
	merged := MergeConfigWithFlags(flagparse.Sync, base, flags)

	if !merged.Runtime.DryRun || merged.Reconcile.MarginSeconds != 25 || !merged.Reconcile.AllowIncompleteCopy {
		t.Errorf("flags not merged: %+v", merged)
	}
	if merged.Roots.OutputRoot != "/tmp/out" || len(merged.Hooks.PreSync) != 1 {
		t.Errorf("flags not merged: %+v", merged)
	}
	if sel := merged.SelectedRules(); len(sel) != 1 || sel[0].Name != "renders" {
		t.Errorf("expected only renders to be selected, got %+v", sel)
	}
	if base.Runtime.DryRun {
		t.Error("base config must not be modified")
	}
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixelgardenlabs/shotsync/pkg/config"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(&bytes.Buffer{})
	os.Exit(m.Run())
}

func TestRun(t *testing.T) {
	t.Run("No Arguments Prints Usage", func(t *testing.T) {
		if err := run(context.Background(), nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		err := run(context.Background(), []string{"backup"})
		if err == nil || !strings.Contains(err.Error(), "invalid command") {
			t.Fatalf("expected invalid command error, got %v", err)
		}
	})

	t.Run("Version", func(t *testing.T) {
		if err := run(context.Background(), []string{"version"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Init Writes Config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "shotsync.config.toml")
		if err := run(context.Background(), []string{"init", "-config", path}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		cfg, err := config.Load(path)
		if err != nil {
			t.Fatalf("generated config does not load: %v", err)
		}
		if len(cfg.Rules) != 2 {
			t.Errorf("expected the two presets, got %d rules", len(cfg.Rules))
		}
	})

	t.Run("Sync Without Roots Fails", func(t *testing.T) {
		for _, name := range []string{config.EnvSourceRoot, config.EnvMirrorRoot, config.EnvOutputRoot} {
			t.Setenv(name, "")
		}
		path := filepath.Join(t.TempDir(), "shotsync.config.json")
		if err := config.Generate(config.NewDefault(), path); err != nil {
			t.Fatal(err)
		}
		err := run(context.Background(), []string{"sync", "-config", path})
		if err == nil || !strings.Contains(err.Error(), "not set") {
			t.Fatalf("expected missing root error, got %v", err)
		}
	})

	t.Run("Unexpected Arguments", func(t *testing.T) {
		if err := run(context.Background(), []string{"check", "extra"}); err == nil {
			t.Fatal("expected error for positional arguments")
		}
	})
}

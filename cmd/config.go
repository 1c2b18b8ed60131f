package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/pixelgardenlabs/shotsync/pkg/config"
	"github.com/pixelgardenlabs/shotsync/pkg/flagparse"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

// loadRunConfig builds the configuration of one run. Later sources win:
// defaults, config file, .env and SHOTSYNC_* variables, command-line flags.
func loadRunConfig(command flagparse.Command, flagMap map[string]any) (config.Config, error) {
	configPath, _ := flagMap["config"].(string)

	envDir := "."
	if configPath != "" {
		envDir = filepath.Dir(configPath)
	}
	if err := config.LoadEnv(filepath.Join(envDir, config.EnvFileName)); err != nil {
		return config.Config{}, err
	}

	loadedConfig, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	loadedConfig.ApplyEnv()

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	runConfig.LogSummary(command)
	return runConfig, nil
}

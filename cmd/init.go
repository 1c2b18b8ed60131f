package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/config"
	"github.com/pixelgardenlabs/shotsync/pkg/flagparse"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// RunInit writes a configuration file holding the defaults and the built-in
// rule presets. The roots stay empty; set them in the file or in .env.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	configPath, _ := flagMap["config"].(string)
	if configPath == "" {
		configPath = config.ConfigFileName
	}
	absConfigPath, err := util.AbsPath(configPath)
	if err != nil {
		return fmt.Errorf("could not determine absolute path for %s: %w", configPath, err)
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Init, config.NewDefault(), flagMap)
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	if err := ctx.Err(); err != nil {
		return err
	}

	// Check for force flag to bypass confirmation
	force, _ := flagMap["force"].(bool)
	if _, err := os.Stat(absConfigPath); err == nil && !force {
		fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigPath)
		fmt.Printf("It will be overwritten with default values. All custom settings will be lost.\n")
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " init operation canceled.")
			return nil
		}
	}

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Would write configuration file", "path", absConfigPath)
		return nil
	}
	if err := config.Generate(runConfig, absConfigPath); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}
	plog.Info(buildinfo.Name+" configuration initialized. Set the roots before the first sync.", "path", absConfigPath)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/flagparse"
	"github.com/pixelgardenlabs/shotsync/pkg/planner"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

// RunPrune handles the logic for the prune command.
func RunPrune(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Prune, flagMap)
	if err != nil {
		return err
	}

	prunePlan, err := planner.GeneratePrunePlan(runConfig)
	if err != nil {
		return err
	}

	// Check for force flag to bypass confirmation
	force, _ := flagMap["force"].(bool)
	if !runConfig.Runtime.DryRun && !force {
		r := runConfig.Retention
		fmt.Printf("This operation will permanently delete outdated batches based on the retention policy:\n")
		fmt.Printf("  Keep %dh, %dd, %dw, %dm, %dy\n", r.Hours, r.Days, r.Weeks, r.Months, r.Years)
		for _, rp := range prunePlan.Rules {
			fmt.Printf("  Rule %-12s %s\n", rp.Name, rp.OutputRoot)
		}
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " prune operation canceled.")
			return nil
		}
	}

	startTime := time.Now()
	err = newRunner(0).ExecutePrune(ctx, prunePlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" prune finished successfully.", "duration", duration)
	return nil
}

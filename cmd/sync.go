package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/engine"
	"github.com/pixelgardenlabs/shotsync/pkg/flagparse"
	"github.com/pixelgardenlabs/shotsync/pkg/hook"
	"github.com/pixelgardenlabs/shotsync/pkg/pathcompression"
	"github.com/pixelgardenlabs/shotsync/pkg/pathretention"
	"github.com/pixelgardenlabs/shotsync/pkg/planner"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/preflight"
	"github.com/pixelgardenlabs/shotsync/pkg/publish"
	"github.com/pixelgardenlabs/shotsync/pkg/reconcile"
	"github.com/pixelgardenlabs/shotsync/pkg/report"
	"github.com/pixelgardenlabs/shotsync/pkg/scan"
)

// reportOutput receives the run summaries. Tests replace it.
var reportOutput io.Writer = os.Stdout

// newRunner feeds the engine with the leaf workers, all on the OS filesystem.
func newRunner(bufferSize int) *engine.Runner {
	fsys := afero.NewOsFs()
	return engine.NewRunner(
		preflight.Validator{},
		scan.NewScanner(fsys),
		reconcile.NewReconciler(fsys),
		publish.NewPublisher(fsys, bufferSize),
		pathcompression.NewPathCompressor(fsys, bufferSize),
		pathretention.NewPathRetainer(fsys),
		hook.NewHookExecutor(nil),
	)
}

// RunSync handles the logic for the sync command.
func RunSync(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Sync, flagMap)
	if err != nil {
		return err
	}

	syncPlan, err := planner.GenerateSyncPlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	summaries, err := newRunner(syncPlan.BufferSize).ExecuteSync(ctx, syncPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if writeErr := report.Write(reportOutput, summaries...); writeErr != nil {
		plog.Warn("Failed to write run summary", "error", writeErr)
	}
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" sync finished successfully.", "duration", duration)
	return nil
}

// RunCheck handles the logic for the check command. It never writes.
func RunCheck(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Check, flagMap)
	if err != nil {
		return err
	}

	checkPlan, err := planner.GenerateCheckPlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	summaries, err := newRunner(checkPlan.BufferSize).ExecuteCheck(ctx, checkPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if writeErr := report.Write(reportOutput, summaries...); writeErr != nil {
		plog.Warn("Failed to write check summary", "error", writeErr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("check failed: %w", err)
	}
	plog.Info(buildinfo.Name+" check finished.", "duration", duration)
	return nil
}

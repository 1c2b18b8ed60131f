// Package hook runs the user's pre- and post-sync shell commands. Every command
// sees the run through SHOTSYNC_* environment variables, e.g. a post-sync hook
// can post the new batch name to the team chat.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/hints"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Vars describes the run to the hook commands.
type Vars struct {
	Rule         string
	RunID        string
	TimestampUTC time.Time
	DryRun       bool

	// Known after publishing, empty for pre-sync hooks.
	BatchPath string
	Copied    int
	Failed    int
}

// Environ renders v as KEY=value pairs.
func (v Vars) Environ() []string {
	env := []string{
		"SHOTSYNC_RULE=" + v.Rule,
		"SHOTSYNC_RUN_ID=" + v.RunID,
		"SHOTSYNC_TIMESTAMP=" + v.TimestampUTC.Format(time.RFC3339),
		"SHOTSYNC_DRY_RUN=" + strconv.FormatBool(v.DryRun),
	}
	if v.BatchPath != "" {
		env = append(env,
			"SHOTSYNC_BATCH="+v.BatchPath,
			"SHOTSYNC_COPIED="+strconv.Itoa(v.Copied),
			"SHOTSYNC_FAILED="+strconv.Itoa(v.Failed),
		)
	}
	return env
}

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &HookExecutor{commandContext: commandContext}
}

// RunPreSync runs the pre-sync commands. With FailFast the first failing command
// aborts and its error is returned.
func (e *HookExecutor) RunPreSync(ctx context.Context, p *Plan, v Vars) error {
	return e.run(ctx, "pre-sync", p.PreSyncCommands, p, v)
}

// RunPostSync runs the post-sync commands.
func (e *HookExecutor) RunPostSync(ctx context.Context, p *Plan, v Vars) error {
	return e.run(ctx, "post-sync", p.PostSyncCommands, p, v)
}

func (e *HookExecutor) run(ctx context.Context, stage string, commands []string, p *Plan, v Vars) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s hook commands", stage), "rule", v.Rule)

	for _, hookCommand := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, v.Environ()...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A killed command reports its exit status; the cancellation is the real cause.
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pixelgardenlabs/shotsync/cmd"
	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/flagparse"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		return err
	}

	switch command {
	case flagparse.None:
		return nil // usage was printed
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	}

	plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "command", command.String(), "pid", os.Getpid())

	switch command {
	case flagparse.Sync:
		return cmd.RunSync(ctx, flagMap)
	case flagparse.Check:
		return cmd.RunCheck(ctx, flagMap)
	case flagparse.Prune:
		return cmd.RunPrune(ctx, flagMap)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown command %s", command)
	}
}

func main() {
	// The context is canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			plog.Warn(buildinfo.Name + " was interrupted")
			os.Exit(130)
		}
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}

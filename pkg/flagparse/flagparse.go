package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pixelgardenlabs/shotsync/pkg/buildinfo"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// cliFlags holds pointers to all possible command-line flags.
// A nil pointer means the flag is not registered for the command.
type cliFlags struct {
	// Global
	Config   *string
	LogLevel *string
	DryRun   *bool
	Metrics  *bool

	// Rule selection and root overrides
	Rules      *string
	SourceRoot *string
	MirrorRoot *string
	OutputRoot *string

	// Reconcile
	MarginSeconds    *int
	AllowIncomplete  *bool
	ReconcileWorkers *int
	FailFast         *bool

	// Publish
	PublishWorkers   *int
	RetryCount       *int
	RetryWaitSeconds *int
	BufferSizeKB     *int
	BatchTimeFormat  *string

	PreSyncHooks  *string
	PostSyncHooks *string

	CompressionEnabled *bool
	CompressionFormat  *string
	CompressionLevel   *string

	// Prune
	DeleteWorkers   *int
	RetentionHours  *int
	RetentionDays   *int
	RetentionWeeks  *int
	RetentionMonths *int
	RetentionYears  *int

	// Init
	Force *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Config = fs.String("config", "", "Path to the configuration file (.json or .toml). Defaults to ./shotsync.config.json.")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done. Sync creates placeholder directories instead of copying.")
	f.Metrics = fs.Bool("metrics", false, "Enable progress reporting and run counters.")
}

func registerRuleFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Rules = fs.String("rules", "", "Comma-separated list of rule names to run. Defaults to all rules.")
	f.SourceRoot = fs.String("source-root", "", "Override the source (reference) root of the selected rules.")
	f.MirrorRoot = fs.String("mirror-root", "", "Override the mirror root of the selected rules.")
	f.OutputRoot = fs.String("output-root", "", "Override the output root of the selected rules.")
}

func registerReconcileFlags(fs *flag.FlagSet, f *cliFlags) {
	f.MarginSeconds = fs.Int("margin-seconds", 10, "A mirror item must be newer than the reference by more than this many seconds.")
	f.AllowIncomplete = fs.Bool("allow-incomplete", false, "Copy newer mirror items even when they hold fewer frames than the reference.")
	f.ReconcileWorkers = fs.Int("reconcile-workers", 0, "Number of worker goroutines comparing shots.")
	f.FailFast = fs.Bool("fail-fast", false, "Abort the whole run on the first rule that fails.")
}

func registerPublishFlags(fs *flag.FlagSet, f *cliFlags) {
	f.PublishWorkers = fs.Int("publish-workers", 0, "Number of worker goroutines copying into the batch.")
	f.RetryCount = fs.Int("retry-count", 0, "Number of retries for failed file copies.")
	f.RetryWaitSeconds = fs.Int("retry-wait", 0, "Seconds to wait between retries.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies and packaging.")
	f.BatchTimeFormat = fs.String("batch-time-format", "", "Go time layout of the batch directory timestamp (default '02_01_06_15h04').")

	f.PreSyncHooks = fs.String("pre-sync-hooks", "", "Comma-separated list of commands to run before the sync.")
	f.PostSyncHooks = fs.String("post-sync-hooks", "", "Comma-separated list of commands to run after the sync.")

	f.CompressionEnabled = fs.Bool("compression", false, "Package every published batch into an archive.")
	f.CompressionFormat = fs.String("compression-format", "", "Archive format: 'zip', 'tar.gz', or 'tar.zst'.")
	f.CompressionLevel = fs.String("compression-level", "", "Compression level: 'default', 'fastest', 'better', 'best'.")
}

func registerPruneFlags(fs *flag.FlagSet, f *cliFlags) {
	f.DeleteWorkers = fs.Int("delete-workers", 0, "Number of worker goroutines deleting outdated batches.")
	f.RetentionHours = fs.Int("retention-hours", 0, "Number of hourly batches to keep.")
	f.RetentionDays = fs.Int("retention-days", 0, "Number of daily batches to keep.")
	f.RetentionWeeks = fs.Int("retention-weeks", 0, "Number of weekly batches to keep.")
	f.RetentionMonths = fs.Int("retention-months", 0, "Number of monthly batches to keep.")
	f.RetentionYears = fs.Int("retention-years", 0, "Number of yearly batches to keep.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration file.")
}

var commandDescriptions = map[Command]string{
	Sync:  "Compare reference and mirror trees and publish newer shots into a new batch.",
	Check: "Compare reference and mirror trees and print the decisions without publishing.",
	Prune: "Apply the retention policy to the batches in the output roots.",
	Init:  "Write a configuration file with the built-in rule presets.",
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and
// a map holding only the flags the user set explicitly.
func Parse(args []string) (Command, map[string]any, error) {
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])
	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return command, nil, nil
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)

	switch command {
	case Sync:
		registerRuleFlags(fs, f)
		registerReconcileFlags(fs, f)
		registerPublishFlags(fs, f)
	case Check:
		registerRuleFlags(fs, f)
		registerReconcileFlags(fs, f)
	case Prune:
		f.Rules = fs.String("rules", "", "Comma-separated list of rule names whose output roots are pruned.")
		f.OutputRoot = fs.String("output-root", "", "Override the output root of the selected rules.")
		registerPruneFlags(fs, f)
		f.Force = fs.Bool("force", false, "Skip the confirmation prompt.")
	case Init:
		registerInitFlags(fs, f)
	}

	desc := commandDescriptions[command]
	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return command, flagsToMap(fs, f), nil
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "config", f.Config)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)

	addIfUsed(flagMap, usedFlags, "source-root", f.SourceRoot)
	addIfUsed(flagMap, usedFlags, "mirror-root", f.MirrorRoot)
	addIfUsed(flagMap, usedFlags, "output-root", f.OutputRoot)

	addIfUsed(flagMap, usedFlags, "margin-seconds", f.MarginSeconds)
	addIfUsed(flagMap, usedFlags, "allow-incomplete", f.AllowIncomplete)
	addIfUsed(flagMap, usedFlags, "reconcile-workers", f.ReconcileWorkers)
	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)

	addIfUsed(flagMap, usedFlags, "publish-workers", f.PublishWorkers)
	addIfUsed(flagMap, usedFlags, "retry-count", f.RetryCount)
	addIfUsed(flagMap, usedFlags, "retry-wait", f.RetryWaitSeconds)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "batch-time-format", f.BatchTimeFormat)

	addIfUsed(flagMap, usedFlags, "compression", f.CompressionEnabled)
	addIfUsed(flagMap, usedFlags, "compression-format", f.CompressionFormat)
	addIfUsed(flagMap, usedFlags, "compression-level", f.CompressionLevel)

	addIfUsed(flagMap, usedFlags, "delete-workers", f.DeleteWorkers)
	addIfUsed(flagMap, usedFlags, "retention-hours", f.RetentionHours)
	addIfUsed(flagMap, usedFlags, "retention-days", f.RetentionDays)
	addIfUsed(flagMap, usedFlags, "retention-weeks", f.RetentionWeeks)
	addIfUsed(flagMap, usedFlags, "retention-months", f.RetentionMonths)
	addIfUsed(flagMap, usedFlags, "retention-years", f.RetentionYears)

	addIfUsed(flagMap, usedFlags, "force", f.Force)

	addParsedIfUsed(flagMap, usedFlags, "rules", f.Rules, ParseNameList)
	addParsedIfUsed(flagMap, usedFlags, "pre-sync-hooks", f.PreSyncHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-sync-hooks", f.PostSyncHooks, ParseCmdList)

	return flagMap
}

func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Publishes newer shots from the mirror tree into timestamped batches.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  sync        Publish newer shots into a new batch\n")
	fmt.Fprintf(fs.Output(), "  check       Show what sync would publish\n")
	fmt.Fprintf(fs.Output(), "  prune       Apply retention policies to old batches\n")
	fmt.Fprintf(fs.Output(), "  init        Write a configuration file\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s)\n\n", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell commands.
// Quotes and backslash escapes are kept for the shell to interpret.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseNameList parses a comma-separated list of names or patterns. Quotes only
// group items and are removed; backslashes are literal.
func ParseNameList(s string) []string {
	return util.MergeAndDeduplicate(parseListInternal(s, false, false))
}

// parseListInternal splits s on commas outside single or double quotes.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 {
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r {
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else {
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}

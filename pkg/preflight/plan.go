package preflight

// Plan selects which checks Run performs for one rule.
type Plan struct {
	SourceAccessible bool
	MirrorAccessible bool
	OutputAccessible bool
	OutputWritable   bool

	// RequireMountedOutput rejects an output root that lives on the system disk.
	// Useful when the share is mounted under /mnt or /Volumes and may be missing.
	RequireMountedOutput bool

	// Global Flags
	DryRun bool
}

package reconcile

import (
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/naming"
)

// Plan is the immutable per-rule input of the Reconciler.
type Plan struct {
	Rule string

	MirrorRoot    string
	Mirror        naming.PathMirror
	MirrorSelect  naming.MirrorSelect
	MirrorPattern naming.Matcher

	// Completeness counts matching files directly inside the reference and the
	// mirror directory. Empty disables the check.
	Completeness naming.Matcher

	Margin              time.Duration
	AllowIncompleteCopy bool

	PublishFrom naming.PublishFrom
	OutputName  *naming.OutputNamer

	Workers int

	// Global Flags
	FailFast bool
	Metrics  bool
}

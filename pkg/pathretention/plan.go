package pathretention

type Plan struct {
	Enabled bool
	Hours   int
	Days    int
	Weeks   int
	Months  int
	Years   int

	// Rule limits the pass to batches that rule published. Several rules may
	// share an output root.
	Rule        string
	BatchPrefix string
	Workers     int

	// Global Flags
	DryRun   bool
	FailFast bool
	Metrics  bool
}

func (p *Plan) keepsAnything() bool {
	return p.Hours > 0 || p.Days > 0 || p.Weeks > 0 || p.Months > 0 || p.Years > 0
}

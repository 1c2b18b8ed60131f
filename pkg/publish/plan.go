package publish

import "time"

// DefaultBatchLayout renders a batch timestamp as day_month_year_HHhMM.
const DefaultBatchLayout = "02_01_06_15h04"

// Plan holds everything one rule needs to publish its Copy decisions.
type Plan struct {
	Rule        string
	OutputRoot  string
	BatchPrefix string
	BatchLayout string
	DryRun      bool
	// RunID identifies the run in the batch metadata. A fresh one is generated when empty.
	RunID string

	Workers    int
	RetryCount int
	RetryWait  time.Duration
}

func (p *Plan) layout() string {
	if p.BatchLayout == "" {
		return DefaultBatchLayout
	}
	return p.BatchLayout
}

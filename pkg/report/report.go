// Package report renders the outcome of a run for humans: one line per
// decision followed by the counts. The pipeline itself only produces
// structured records; formatting lives here.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pixelgardenlabs/shotsync/pkg/publish"
	"github.com/pixelgardenlabs/shotsync/pkg/reconcile"
)

// Line is one rendered decision.
type Line struct {
	Key     string
	Action  string
	Reason  reconcile.Reason
	Target  string
	Detail  string
	Failed  bool
	Skipped bool
}

// Summary is the report of a single rule.
type Summary struct {
	Rule   string
	Batch  string
	DryRun bool
	Lines  []Line

	Copied       int
	Placeholders int
	Failed       int
	Bytes        int64
	Skipped      map[reconcile.Reason]int
}

// New combines the decisions of a rule with its publish result. res may be nil
// when nothing was published (check runs, or no Copy decisions).
func New(rule string, decisions []reconcile.Decision, res *publish.Result) *Summary {
	s := &Summary{Rule: rule, Skipped: make(map[reconcile.Reason]int)}

	outcomes := make(map[string]publish.Outcome)
	if res != nil {
		s.Batch = res.Batch.Path
		s.Copied = res.Counts.Copied
		s.Placeholders = res.Counts.Placeholders
		s.Failed = res.Counts.Failed
		for _, o := range res.Outcomes {
			outcomes[o.Decision.Key] = o
			s.Bytes += o.Bytes
			if o.Status == publish.Placeholder {
				s.DryRun = true
			}
		}
	}

	for _, d := range decisions {
		l := Line{Key: d.Key, Reason: d.Reason}
		if !d.IsCopy() {
			l.Action, l.Skipped = "SKIP", true
			l.Detail = d.ErrText()
			s.Skipped[d.Reason]++
			s.Lines = append(s.Lines, l)
			continue
		}

		o, published := outcomes[d.Key]
		switch {
		case !published:
			l.Action, l.Target = "COPY", d.OutputName
		case o.Status == publish.CopyFailed:
			l.Action, l.Failed = "FAILED", true
			l.Target = d.OutputName
			if o.Err != nil {
				l.Detail = o.Err.Error()
			}
		case o.Status == publish.Placeholder:
			l.Action, l.Target = "PLACEHOLDER", o.TargetPath
		default:
			l.Action, l.Target = "COPIED", o.TargetPath
			l.Detail = humanize.IBytes(uint64(o.Bytes))
		}
		s.Lines = append(s.Lines, l)
	}
	return s
}

// SkippedTotal is the number of Skip decisions of any reason.
func (s *Summary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

var summaryTmpl = template.Must(template.New("summary").Parse(`{{ .Header }}
{{ range .Lines }}  {{ . }}
{{ end }}{{ .Footer }}
`))

type summaryData struct {
	Header string
	Lines  []string
	Footer string
}

// Write renders the summaries to w. Colors are only emitted when w is a terminal.
func Write(w io.Writer, summaries ...*Summary) error {
	renderer := lipgloss.NewRenderer(w)
	bold := renderer.NewStyle().Bold(true)
	green := renderer.NewStyle().Foreground(lipgloss.Color("2"))
	yellow := renderer.NewStyle().Foreground(lipgloss.Color("3"))
	red := renderer.NewStyle().Foreground(lipgloss.Color("1"))
	faint := renderer.NewStyle().Faint(true)

	for _, s := range summaries {
		header := fmt.Sprintf("Rule %s", s.Rule)
		if s.Batch != "" {
			header += " -> " + s.Batch
		}
		if s.DryRun {
			header += " [DRY RUN]"
		}

		width := 0
		for _, l := range s.Lines {
			width = max(width, len(l.Key))
		}

		data := summaryData{Header: bold.Render(header)}
		for _, l := range s.Lines {
			style := green
			switch {
			case l.Failed:
				style = red
			case l.Skipped:
				style = faint
			case l.Action == "PLACEHOLDER":
				style = yellow
			}
			pad := strings.Repeat(" ", max(0, 11-len(l.Action)))
			line := fmt.Sprintf("%s%s %-*s  %s", style.Render(l.Action), pad, width, l.Key, l.Reason)
			if l.Target != "" {
				line += "  -> " + l.Target
			}
			if l.Detail != "" {
				line += "  (" + l.Detail + ")"
			}
			data.Lines = append(data.Lines, line)
		}
		data.Footer = s.footer()

		if err := summaryTmpl.Execute(w, data); err != nil {
			return fmt.Errorf("failed to write report for rule %s: %w", s.Rule, err)
		}
	}
	return nil
}

func (s *Summary) footer() string {
	parts := []string{
		fmt.Sprintf("%s copied (%s)", humanize.Comma(int64(s.Copied)), humanize.IBytes(uint64(s.Bytes))),
	}
	if s.Placeholders > 0 {
		parts = append(parts, fmt.Sprintf("%s placeholders", humanize.Comma(int64(s.Placeholders))))
	}
	parts = append(parts,
		fmt.Sprintf("%s skipped", humanize.Comma(int64(s.SkippedTotal()))),
		fmt.Sprintf("%s failed", humanize.Comma(int64(s.Failed))),
	)

	reasons := make([]string, 0, len(s.Skipped))
	for r, n := range s.Skipped {
		reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
	}
	sort.Strings(reasons)
	out := "Total: " + strings.Join(parts, ", ")
	if len(reasons) > 0 {
		out += " [" + strings.Join(reasons, " ") + "]"
	}
	return out
}

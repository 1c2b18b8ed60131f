// Package metrics collects run counters for a sync: what was scanned, how many
// shots were reconciled, how the decisions split and what the publisher copied.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/plog"
	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// Metrics is implemented by RunMetrics and NoopMetrics.
type Metrics interface {
	AddItemsScanned(n int64)
	AddKeysSelected(n int64)
	AddCopyDecisions(n int64)
	AddSkipDecisions(n int64)
	AddItemsCopied(n int64)
	AddPlaceholders(n int64)
	AddCopyFailures(n int64)
	AddFilesWritten(n int64)
	AddBytesWritten(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// RunMetrics holds atomic counters shared by the scan, reconcile and publish workers.
type RunMetrics struct {
	ItemsScanned  atomic.Int64
	KeysSelected  atomic.Int64
	CopyDecisions atomic.Int64
	SkipDecisions atomic.Int64
	ItemsCopied   atomic.Int64
	Placeholders  atomic.Int64
	CopyFailures  atomic.Int64
	FilesWritten  atomic.Int64
	BytesWritten  atomic.Int64

	mu        sync.Mutex
	stopChan  chan struct{}
	startTime time.Time
}

func (m *RunMetrics) AddItemsScanned(n int64)  { m.ItemsScanned.Add(n) }
func (m *RunMetrics) AddKeysSelected(n int64)  { m.KeysSelected.Add(n) }
func (m *RunMetrics) AddCopyDecisions(n int64) { m.CopyDecisions.Add(n) }
func (m *RunMetrics) AddSkipDecisions(n int64) { m.SkipDecisions.Add(n) }
func (m *RunMetrics) AddItemsCopied(n int64)   { m.ItemsCopied.Add(n) }
func (m *RunMetrics) AddPlaceholders(n int64)  { m.Placeholders.Add(n) }
func (m *RunMetrics) AddCopyFailures(n int64)  { m.CopyFailures.Add(n) }
func (m *RunMetrics) AddFilesWritten(n int64)  { m.FilesWritten.Add(n) }
func (m *RunMetrics) AddBytesWritten(n int64)  { m.BytesWritten.Add(n) }

func (m *RunMetrics) StartProgress(msg string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		return
	}
	m.startTime = time.Now()
	stop := make(chan struct{})
	m.stopChan = stop
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

func (m *RunMetrics) StopProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary logs all counters under msg. Called by the progress ticker and once at the end.
func (m *RunMetrics) LogSummary(msg string) {
	m.mu.Lock()
	start := m.startTime
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = time.Since(start)
	}

	plog.Info(msg,
		"items_scanned", m.ItemsScanned.Load(),
		"keys_selected", m.KeysSelected.Load(),
		"copy_decisions", m.CopyDecisions.Load(),
		"skip_decisions", m.SkipDecisions.Load(),
		"items_copied", m.ItemsCopied.Load(),
		"placeholders", m.Placeholders.Load(),
		"copy_failures", m.CopyFailures.Load(),
		"files_written", m.FilesWritten.Load(),
		"bytes_written", util.ByteCountIEC(m.BytesWritten.Load()),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics discards everything. Used when metrics are disabled.
type NoopMetrics struct{}

func (m *NoopMetrics) AddItemsScanned(n int64)                          {}
func (m *NoopMetrics) AddKeysSelected(n int64)                          {}
func (m *NoopMetrics) AddCopyDecisions(n int64)                         {}
func (m *NoopMetrics) AddSkipDecisions(n int64)                         {}
func (m *NoopMetrics) AddItemsCopied(n int64)                           {}
func (m *NoopMetrics) AddPlaceholders(n int64)                          {}
func (m *NoopMetrics) AddCopyFailures(n int64)                          {}
func (m *NoopMetrics) AddFilesWritten(n int64)                          {}
func (m *NoopMetrics) AddBytesWritten(n int64)                          {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// New returns RunMetrics when enabled and NoopMetrics otherwise.
func New(enabled bool) Metrics {
	if enabled {
		return &RunMetrics{}
	}
	return &NoopMetrics{}
}

var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)

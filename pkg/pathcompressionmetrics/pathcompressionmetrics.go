// Package pathcompressionmetrics counts what packaging a batch produced.
package pathcompressionmetrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

type Metrics interface {
	AddArchivesCreated(n int64)
	AddArchivesFailed(n int64)
	AddOriginalBytes(n int64)
	AddCompressedBytes(n int64)
	AddEntriesProcessed(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// CompressionMetrics holds the atomic counters of the packaging step.
type CompressionMetrics struct {
	ArchivesCreated  atomic.Int64
	ArchivesFailed   atomic.Int64
	OriginalBytes    atomic.Int64
	CompressedBytes  atomic.Int64
	EntriesProcessed atomic.Int64

	mu       sync.Mutex
	stopChan chan struct{}
}

func (m *CompressionMetrics) AddArchivesCreated(n int64)  { m.ArchivesCreated.Add(n) }
func (m *CompressionMetrics) AddArchivesFailed(n int64)   { m.ArchivesFailed.Add(n) }
func (m *CompressionMetrics) AddOriginalBytes(n int64)    { m.OriginalBytes.Add(n) }
func (m *CompressionMetrics) AddCompressedBytes(n int64)  { m.CompressedBytes.Add(n) }
func (m *CompressionMetrics) AddEntriesProcessed(n int64) { m.EntriesProcessed.Add(n) }

func (m *CompressionMetrics) StartProgress(msg string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil || interval <= 0 {
		return
	}
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

func (m *CompressionMetrics) StopProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary logs the counters and the compressed size as a share of the original.
func (m *CompressionMetrics) LogSummary(msg string) {
	orig := m.OriginalBytes.Load()
	comp := m.CompressedBytes.Load()

	var ratio float64
	if orig > 0 {
		ratio = float64(comp) / float64(orig) * 100.0
	}

	plog.Info(msg,
		"entries_processed", m.EntriesProcessed.Load(),
		"archives_created", m.ArchivesCreated.Load(),
		"archives_failed", m.ArchivesFailed.Load(),
		"original_size", humanize.IBytes(uint64(orig)),
		"compressed_size", humanize.IBytes(uint64(comp)),
		"ratio_pct", fmt.Sprintf("%.2f%%", ratio),
	)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (m *NoopMetrics) AddArchivesCreated(n int64)                       {}
func (m *NoopMetrics) AddArchivesFailed(n int64)                        {}
func (m *NoopMetrics) AddOriginalBytes(n int64)                         {}
func (m *NoopMetrics) AddCompressedBytes(n int64)                       {}
func (m *NoopMetrics) AddEntriesProcessed(n int64)                      {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

var _ Metrics = (*CompressionMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)

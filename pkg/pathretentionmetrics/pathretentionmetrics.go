// Package pathretentionmetrics counts what a prune pass did to the output batches.
package pathretentionmetrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

type Metrics interface {
	AddBatchesKept(n int64)
	AddBatchesDeleted(n int64)
	AddBatchesFailed(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// RetentionMetrics holds the atomic counters of one prune pass.
type RetentionMetrics struct {
	BatchesKept    atomic.Int64
	BatchesDeleted atomic.Int64
	BatchesFailed  atomic.Int64

	mu       sync.Mutex
	stopChan chan struct{}
}

func (m *RetentionMetrics) AddBatchesKept(n int64)    { m.BatchesKept.Add(n) }
func (m *RetentionMetrics) AddBatchesDeleted(n int64) { m.BatchesDeleted.Add(n) }
func (m *RetentionMetrics) AddBatchesFailed(n int64)  { m.BatchesFailed.Add(n) }

func (m *RetentionMetrics) StartProgress(msg string, interval time.Duration) {
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

func (m *RetentionMetrics) StopProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

func (m *RetentionMetrics) LogSummary(msg string) {
	plog.Info(msg,
		"batches_kept", m.BatchesKept.Load(),
		"batches_deleted", m.BatchesDeleted.Load(),
		"batches_failed", m.BatchesFailed.Load(),
	)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (m *NoopMetrics) AddBatchesKept(n int64)                           {}
func (m *NoopMetrics) AddBatchesDeleted(n int64)                        {}
func (m *NoopMetrics) AddBatchesFailed(n int64)                         {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

var _ Metrics = (*RetentionMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)

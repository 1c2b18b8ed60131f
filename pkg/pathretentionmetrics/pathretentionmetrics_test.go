package pathretentionmetrics

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

func TestRetentionMetrics_Adders(t *testing.T) {
	m := &RetentionMetrics{}
	m.AddBatchesKept(4)
	m.AddBatchesDeleted(5)
	m.AddBatchesFailed(2)

	if got := m.BatchesKept.Load(); got != 4 {
		t.Errorf("expected BatchesKept to be 4, got %d", got)
	}
	if got := m.BatchesDeleted.Load(); got != 5 {
		t.Errorf("expected BatchesDeleted to be 5, got %d", got)
	}
	if got := m.BatchesFailed.Load(); got != 2 {
		t.Errorf("expected BatchesFailed to be 2, got %d", got)
	}
}

func TestRetentionMetrics_Log(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m := &RetentionMetrics{}
	m.AddBatchesDeleted(10)
	m.AddBatchesFailed(3)
	m.LogSummary("Test Prune Summary")

	output := logBuf.String()
	for _, want := range []string{`msg="Test Prune Summary"`, "batches_deleted=10", "batches_failed=3", "batches_kept=0"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected log output to contain %q. Got: %s", want, output)
		}
	}
}

func TestRetentionMetrics_ProgressStartStop(t *testing.T) {
	m := &RetentionMetrics{}
	m.StartProgress("tick", time.Hour)
	m.StartProgress("tick", time.Hour)
	m.StopProgress()
	m.StopProgress()
}

func TestNoopMetrics(t *testing.T) {
	m := &NoopMetrics{}
	m.AddBatchesKept(1)
	m.AddBatchesDeleted(1)
	m.AddBatchesFailed(1)
	m.LogSummary("noop test")
	m.StartProgress("noop", 0)
	m.StopProgress()
}

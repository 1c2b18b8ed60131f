package metrics_test

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pixelgardenlabs/shotsync/pkg/metrics"
	"github.com/pixelgardenlabs/shotsync/pkg/plog"
)

func TestRunMetrics(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	t.Run("counters add up", func(t *testing.T) {
		m := &metrics.RunMetrics{}
		m.AddItemsScanned(12)
		m.AddKeysSelected(3)
		m.AddCopyDecisions(2)
		m.AddSkipDecisions(1)
		m.AddItemsCopied(2)
		m.AddBytesWritten(2048)

		if got := m.ItemsScanned.Load(); got != 12 {
			t.Errorf("expected ItemsScanned to be 12, got %d", got)
		}
		if got := m.CopyDecisions.Load() + m.SkipDecisions.Load(); got != m.KeysSelected.Load() {
			t.Errorf("expected decisions to cover all keys, got %d", got)
		}
	})

	t.Run("summary is logged", func(t *testing.T) {
		logBuf.Reset()
		m := &metrics.RunMetrics{}
		m.AddItemsCopied(4)
		m.AddBytesWritten(1536)
		m.LogSummary("Sync finished")

		out := logBuf.String()
		if !strings.Contains(out, "msg=\"Sync finished\"") {
			t.Errorf("expected summary message, got: %s", out)
		}
		if !strings.Contains(out, "items_copied=4") || !strings.Contains(out, "bytes_written=\"1.5 KiB\"") {
			t.Errorf("expected counters in summary, got: %s", out)
		}
	})

	t.Run("progress can be stopped twice", func(t *testing.T) {
		m := &metrics.RunMetrics{}
		m.StartProgress("progress", time.Hour)
		m.StopProgress()
		m.StopProgress()
	})

	t.Run("New picks the implementation", func(t *testing.T) {
		if _, ok := metrics.New(false).(*metrics.NoopMetrics); !ok {
			t.Error("expected NoopMetrics when disabled")
		}
		if _, ok := metrics.New(true).(*metrics.RunMetrics); !ok {
			t.Error("expected RunMetrics when enabled")
		}
	})
}

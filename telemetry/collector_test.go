package telemetry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) TrackerStats() (int, int64) {
	p.calls.Add(1)
	return 3, 42
}

func TestMetricsCollector_CollectsUntilStopped(t *testing.T) {
	provider := &countingProvider{}
	mc := NewMetricsCollector(provider, 5*time.Millisecond)
	mc.Start()

	require.Eventually(t, func() bool { return provider.calls.Load() >= 3 }, time.Second, time.Millisecond)

	mc.Stop()
	after := provider.calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, provider.calls.Load())
}

func TestNoopMetricsWithoutRegistry(t *testing.T) {
	// Without InitializeTelemetry every constructor degrades to a noop
	require.IsType(t, NoopStat{}, NewCounter("x_total", "x"))
	require.IsType(t, noopCounterVec{}, NewCounterVec("y_total", "y", []string{"result"}))
	NewGaugeFunc("z", "z", func() float64 { return 1 })
	NotificationsProcessedTotal.With("processed").Inc()
}

package telemetry

import (
	"sync"
	"time"
)

// StatsProvider interface for components that expose admission stats
type StatsProvider interface {
	TrackerStats() (entries int, bytes int64)
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	entries, bytes := mc.provider.TrackerStats()
	TrackedNotifications.Set(float64(entries))
	TrackedBytes.Set(float64(bytes))
}

package collector

import "time"

// Metric names produced by the synthetic source.
const (
	MetricCPU    = "cpu_usage"
	MetricMemory = "memory_usage"
)

// MetricsSnapshot is the result of a single sampling cycle.
// A published snapshot is never mutated; the sampler replaces it whole.
type MetricsSnapshot struct {
	CPUPercent int   // 1..100
	MemoryMB   int   // 100..1000
	LastUpdate int64 // epoch millis of the sampling cycle, 0 before the first one
}

// NewSnapshot builds a snapshot from a collected metric map, stamped with ts.
// Missing metrics are left at zero.
func NewSnapshot(metrics map[string]float64, ts time.Time) *MetricsSnapshot {
	return &MetricsSnapshot{
		CPUPercent: int(metrics[MetricCPU]),
		MemoryMB:   int(metrics[MetricMemory]),
		LastUpdate: ts.UnixMilli(),
	}
}


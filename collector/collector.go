package collector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"
)

//go:generate mockgen -destination=mock_collector.go -package=collector edgemetrics/collector Collector

// Collector is the public contract any metric source must satisfy.
type Collector interface {
	// Collect produces a map of metric name -> value for one sampling
	// cycle.
	Collect(ctx context.Context) (map[string]float64, error)
}

// CollectAll runs every registered collector and merges the results.
// A failing collector is logged and skipped; later collectors win on
// duplicate names.
func CollectAll(ctx context.Context, colls []Collector, log *zap.Logger) map[string]float64 {
	merged := make(map[string]float64)

	for _, c := range colls {
		m, err := c.Collect(ctx)
		if err != nil {
			log.Error("collector failed", zap.Error(err))
			continue
		}
		for name, val := range m {
			merged[name] = val
		}
	}

	return merged
}

// Range is an inclusive integer interval.
type Range struct {
	Min int
	Max int
}

// Default sampling ranges.
var (
	CPURange    = Range{Min: 1, Max: 100}
	MemoryRange = Range{Min: 100, Max: 1000}
)

func (r Range) valid() bool {
	return r.Min <= r.Max
}

// draw returns a uniform value in [r.Min, r.Max].
func (r Range) draw(rng *rand.Rand) int {
	return r.Min + rng.IntN(r.Max-r.Min+1)
}

// SyntheticCollector produces pseudo-random CPU and memory readings.
// It does not look at the host at all.
type SyntheticCollector struct {
	CPU    Range
	Memory Range

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// NewSyntheticCollector returns a collector drawing from the default ranges
// with a randomly seeded generator.
func NewSyntheticCollector() *SyntheticCollector {
	c, _ := NewSyntheticCollectorWithSeed(CPURange, MemoryRange, rand.Uint64(), rand.Uint64())
	return c
}

// NewSyntheticCollectorWithSeed returns a deterministic collector, mostly
// useful in tests.
func NewSyntheticCollectorWithSeed(cpu, mem Range, seed1, seed2 uint64) (*SyntheticCollector, error) {
	if !cpu.valid() {
		return nil, fmt.Errorf("cpu range [%d,%d]: %w", cpu.Min, cpu.Max, errInvalidBounds)
	}
	if !mem.valid() {
		return nil, fmt.Errorf("memory range [%d,%d]: %w", mem.Min, mem.Max, errInvalidBounds)
	}

	return &SyntheticCollector{
		CPU:    cpu,
		Memory: mem,
		rng:    rand.New(rand.NewPCG(seed1, seed2)),
	}, nil
}

// Collect implements the Collector interface.
func (s *SyntheticCollector) Collect(_ context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// cpu is drawn before memory
	cpu := s.CPU.draw(s.rng)
	mem := s.Memory.draw(s.rng)

	return map[string]float64{
		MetricCPU:    float64(cpu),
		MetricMemory: float64(mem),
	}, nil
}

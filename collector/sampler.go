package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sampler periodically collects metrics and publishes them to a SnapshotStore.
type Sampler struct {
	colls    []Collector
	store    *SnapshotStore
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewSampler wires collectors to store. interval is the pause between cycles.
func NewSampler(store *SnapshotStore, interval time.Duration, log *zap.Logger, colls ...Collector) *Sampler {
	return &Sampler{
		colls:    colls,
		store:    store,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Sample runs one cycle: collect, stamp, publish and log.
// On error nothing is published and the previous snapshot stays current.
func (s *Sampler) Sample(ctx context.Context) (*MetricsSnapshot, error) {
	metrics := CollectAll(ctx, s.colls, s.log)

	for _, name := range []string{MetricCPU, MetricMemory} {
		if _, ok := metrics[name]; !ok {
			return nil, fmt.Errorf("%s: %w", name, errMissingMetric)
		}
	}

	ts := s.now()
	snap := NewSnapshot(metrics, ts)
	s.store.Publish(snap)

	s.log.Info(
		fmt.Sprintf("[%s] Updated: CPU=%d%%, Memory=%dMB", ts.Format(time.TimeOnly), snap.CPUPercent, snap.MemoryMB),
		zap.Int("cpu_percent", snap.CPUPercent),
		zap.Int("memory_mb", snap.MemoryMB),
		zap.Int64("last_update", snap.LastUpdate),
	)

	return snap, nil
}

// Run samples immediately and then once per interval until ctx is cancelled.
// It only returns ctx.Err().
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sample(ctx); err != nil {
			s.log.Error("sampling cycle skipped", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.log.Debug("sampler stopped")
			return ctx.Err()
		}
	}
}

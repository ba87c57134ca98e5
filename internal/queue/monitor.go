package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/store"
)

// MonitorConfig bounds the cost of a worker disappearing mid-task.
// LeaseTimeout must exceed the worst-case single-chunk processing time;
// AckGrace covers only the assignment handshake and can be much shorter.
type MonitorConfig struct {
	LeaseTimeout  time.Duration
	AckGrace      time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
}

// Monitor is the background sweep that returns expired leases to the
// pool. Each reclaim is an independent compare-and-set; no lock is held
// across the scan, and re-sweeping an already-reclaimed chunk is a
// no-op conflict.
type Monitor struct {
	store  *store.Store
	events Events
	agg    *Aggregator
	cfg    MonitorConfig
	log    *zap.Logger
	now    func() time.Time
}

// NewMonitor builds a liveness monitor. agg is consulted after a chunk
// dies so the owning job can reach its terminal state.
func NewMonitor(s *store.Store, events Events, agg *Aggregator, cfg MonitorConfig, log *zap.Logger) *Monitor {
	return &Monitor{store: s, events: events, agg: agg, cfg: cfg, log: log, now: time.Now}
}

// Run performs one orphan-recovery pass (every lease found at boot is
// stale by definition, since no worker can be mid-task across a master
// restart) and then sweeps on the configured interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	if err := m.ReclaimAll(ctx); err != nil {
		m.log.Error("orphan recovery failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.log.Error("reclaim sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep reclaims chunks whose lease expired: assigned chunks past the
// ack grace, processing chunks past the lease timeout.
func (m *Monitor) Sweep(ctx context.Context) error {
	now := m.now().UTC()
	return m.sweep(ctx, now.Add(-m.cfg.AckGrace), now.Add(-m.cfg.LeaseTimeout))
}

// ReclaimAll treats every live lease as already expired. Used once at
// startup to recover chunks orphaned by a crash.
func (m *Monitor) ReclaimAll(ctx context.Context) error {
	now := m.now().UTC()
	return m.sweep(ctx, now, now)
}

func (m *Monitor) sweep(ctx context.Context, assignedBefore, processingBefore time.Time) error {
	expired, err := m.store.ListExpiredLeases(assignedBefore, processingBefore)
	if err != nil {
		return err
	}
	for _, c := range expired {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.reclaim(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// reclaim returns one expired chunk to the pool, or kills it once its
// attempts are exhausted. This is the only path besides creation that
// touches the attempt counter.
func (m *Monitor) reclaim(ctx context.Context, c *model.Chunk) error {
	attempts := c.Attempts + 1

	if attempts > m.cfg.MaxAttempts {
		err := m.store.CompareAndSetChunkState(c.JobID, c.Index, c.State, model.ChunkDead,
			store.ChunkUpdate{Attempts: &attempts, ClearLease: true})
		if errors.Is(err, store.ErrStateConflict) {
			return nil // already moved on, nothing to do
		}
		if err != nil {
			return err
		}
		m.log.Warn("chunk dead",
			zap.String("job", c.JobID),
			zap.Int("index", c.Index),
			zap.Int("attempts", attempts))
		m.events.Publish(model.NewChunkEvent(model.EventChunkDead, c.JobID, c.Index, c.WorkerID))
		return m.agg.FinalizeIfDone(ctx, c.JobID)
	}

	err := m.store.CompareAndSetChunkState(c.JobID, c.Index, c.State, model.ChunkPending,
		store.ChunkUpdate{Attempts: &attempts, ClearLease: true})
	if errors.Is(err, store.ErrStateConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	m.log.Info("chunk reclaimed",
		zap.String("job", c.JobID),
		zap.Int("index", c.Index),
		zap.String("worker", c.WorkerID),
		zap.Int("attempt", attempts))
	m.events.Publish(model.NewChunkEvent(model.EventChunkReclaimed, c.JobID, c.Index, c.WorkerID))
	return nil
}

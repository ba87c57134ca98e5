package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/store"
)

// Coordinator hands the next eligible chunk to a requesting worker,
// establishing a time-bounded lease via the store's compare-and-set.
type Coordinator struct {
	store  *store.Store
	events Events
	log    *zap.Logger
	now    func() time.Time
}

// NewCoordinator builds a coordinator publishing to events.
func NewCoordinator(s *store.Store, events Events, log *zap.Logger) *Coordinator {
	return &Coordinator{store: s, events: events, log: log, now: time.Now}
}

// RequestAssignment selects the pending chunk of the oldest active job,
// lowest index first, and leases it to workerID. A lost compare-and-set
// means another worker raced ahead; selection is retried so the caller
// only ever observes a chunk or no work. Returns (nil, nil) when the
// pool is empty.
func (c *Coordinator) RequestAssignment(ctx context.Context, workerID string) (*model.Chunk, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		cand, err := c.store.NextPendingChunk()
		if err != nil {
			return nil, err
		}
		if cand == nil {
			return nil, nil
		}

		leaseStart := c.now().UTC()
		err = c.store.CompareAndSetChunkState(cand.JobID, cand.Index,
			model.ChunkPending, model.ChunkAssigned,
			store.ChunkUpdate{WorkerID: &workerID, LeaseStartedAt: &leaseStart})
		if errors.Is(err, store.ErrStateConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		cand.State = model.ChunkAssigned
		cand.WorkerID = workerID
		cand.LeaseStartedAt = &leaseStart

		c.log.Info("chunk assigned",
			zap.String("job", cand.JobID),
			zap.Int("index", cand.Index),
			zap.String("worker", workerID),
			zap.Int("attempt", cand.Attempts))
		c.events.Publish(model.NewChunkEvent(model.EventChunkAssigned, cand.JobID, cand.Index, workerID))
		return cand, nil
	}
}

// Acknowledge confirms receipt of an assigned chunk, moving it to
// processing. The transition requires the acknowledging worker to be
// the lease owner; anything else resolves to ErrStateConflict.
func (c *Coordinator) Acknowledge(ctx context.Context, jobID string, index int, workerID string) error {
	err := c.store.CompareAndSetChunkState(jobID, index,
		model.ChunkAssigned, model.ChunkProcessing,
		store.ChunkUpdate{RequireWorker: &workerID})
	if err != nil {
		return err
	}
	c.events.Publish(model.NewChunkEvent(model.EventChunkStarted, jobID, index, workerID))
	return nil
}

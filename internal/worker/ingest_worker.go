// Package worker holds the asynq task handlers run inside the master
// process.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/queue"
	"github.com/scribeflow/api/internal/service"
	"github.com/scribeflow/api/internal/splitter"
	"github.com/scribeflow/api/internal/store"
)

// IngestWorker processes upload-splitting tasks: run ffmpeg over the
// upload, then create the job and its pending chunks in one shot.
type IngestWorker struct {
	store    *store.Store
	splitter *splitter.Splitter
	events   queue.Events
	log      *zap.Logger
}

func NewIngestWorker(s *store.Store, sp *splitter.Splitter, events queue.Events, log *zap.Logger) *IngestWorker {
	return &IngestWorker{store: s, splitter: sp, events: events, log: log}
}

// ProcessTask handles one ingest task. Returning an error lets asynq
// retry; the job record is only created after a fully successful split,
// so a retried task never leaves half a job behind.
func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal ingest payload: %w", err)
	}

	w.log.Info("splitting upload",
		zap.String("job", payload.JobID),
		zap.String("filename", payload.Filename))

	segments, err := w.splitter.Split(ctx, payload.UploadPath, payload.JobID)
	if err != nil {
		return fmt.Errorf("split %s: %w", payload.JobID, err)
	}

	refs := make([]model.SegmentRef, len(segments))
	for i, seg := range segments {
		refs[i] = model.SegmentRef{
			SourceRef: seg.Filename,
			StartSec:  seg.Start,
			EndSec:    seg.End,
		}
	}

	job, err := w.store.CreateJob(payload.JobID, payload.Filename, refs)
	if err != nil {
		return fmt.Errorf("create job %s: %w", payload.JobID, err)
	}

	w.log.Info("job created",
		zap.String("job", job.ID),
		zap.Int("chunks", job.TotalChunks))
	w.events.Publish(model.NewJobEvent(model.EventJobCreated, job.ID, job.Filename))
	return nil
}

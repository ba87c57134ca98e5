package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/store"
)

// Aggregator accepts worker submissions, enforces the success
// transition, and assembles the final transcript once every chunk of a
// job is terminal.
type Aggregator struct {
	store      *store.Store
	events     Events
	resultsDir string
	log        *zap.Logger
	now        func() time.Time
}

// NewAggregator builds an aggregator writing artifacts under resultsDir.
func NewAggregator(s *store.Store, events Events, resultsDir string, log *zap.Logger) *Aggregator {
	return &Aggregator{store: s, events: events, resultsDir: resultsDir, log: log, now: time.Now}
}

// Submit validates and stores one chunk result. Duplicate submissions
// to a completed chunk and stale submissions from a worker that lost
// its lease resolve to a rejection verdict, never an error: the
// submitting worker did nothing wrong, it just lost a race.
func (a *Aggregator) Submit(ctx context.Context, req *model.CompleteRequest) (model.SubmitVerdict, error) {
	chunk, err := a.store.GetChunk(req.JobID, req.Index)
	if err != nil {
		return model.SubmitVerdict{}, err
	}

	switch {
	case chunk.State == model.ChunkCompleted:
		// A result already landed, possibly from another worker after a
		// reclaim. The stored result is immutable.
		return model.SubmitVerdict{Accepted: false, Reason: "duplicate"}, nil
	case chunk.State == model.ChunkDead:
		return model.SubmitVerdict{Accepted: false, Reason: "chunk dead"}, nil
	case chunk.WorkerID != req.WorkerID:
		return model.SubmitVerdict{Accepted: false, Reason: "not lease owner"}, nil
	}

	payload, err := json.Marshal(req.Transcript)
	if err != nil {
		return model.SubmitVerdict{}, fmt.Errorf("marshal transcript: %w", err)
	}

	completedAt := a.now().UTC()
	err = a.store.CompareAndSetChunkState(req.JobID, req.Index,
		model.ChunkProcessing, model.ChunkCompleted,
		store.ChunkUpdate{
			Result:        payload,
			ProcessingSec: &req.ProcessingSec,
			CompletedAt:   &completedAt,
			RequireWorker: &req.WorkerID,
		})
	if errors.Is(err, store.ErrStateConflict) {
		// Reclaimed (or completed by the new owner) between our read
		// and the write. Benign.
		return model.SubmitVerdict{Accepted: false, Reason: "lease expired"}, nil
	}
	if err != nil {
		return model.SubmitVerdict{}, err
	}

	a.log.Info("chunk completed",
		zap.String("job", req.JobID),
		zap.Int("index", req.Index),
		zap.String("worker", req.WorkerID),
		zap.Float64("processingSec", req.ProcessingSec))
	a.events.Publish(model.NewChunkEvent(model.EventChunkCompleted, req.JobID, req.Index, req.WorkerID))

	if err := a.FinalizeIfDone(ctx, req.JobID); err != nil {
		return model.SubmitVerdict{}, err
	}
	return model.SubmitVerdict{Accepted: true}, nil
}

// FinalizeIfDone transitions the job to its terminal status once every
// chunk is terminal, assembles the transcript artifact, and emits the
// job-level event. The store-side status guard makes the transition
// (and its event) happen exactly once across racing callers.
func (a *Aggregator) FinalizeIfDone(ctx context.Context, jobID string) error {
	counts, err := a.store.ChunkStateCounts(jobID)
	if err != nil {
		return err
	}
	completed := counts[model.ChunkCompleted]
	dead := counts[model.ChunkDead]
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 || completed+dead < total {
		return nil
	}

	status := model.JobStatusCompleted
	kind := model.EventJobCompleted
	if dead > 0 {
		status = model.JobStatusFailed
		kind = model.EventJobFailed
	}

	done, err := a.store.MarkJobDone(jobID, status, a.now().UTC())
	if err != nil {
		return err
	}
	if !done {
		return nil // someone else finalized first
	}

	transcript, err := a.assemble(jobID)
	if err != nil {
		return err
	}
	if err := a.writeArtifact(transcript); err != nil {
		return err
	}

	a.log.Info("job finalized",
		zap.String("job", jobID),
		zap.String("status", string(status)),
		zap.Int("completed", completed),
		zap.Int("dead", dead))
	a.events.Publish(model.NewJobEvent(kind, jobID, transcript.Filename))
	return nil
}

// assemble concatenates chunk results in ascending index order,
// offsetting each segment by its chunk's absolute start so the global
// timeline is monotonic. Dead chunks become gap ranges.
func (a *Aggregator) assemble(jobID string) (*model.Transcript, error) {
	job, err := a.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	chunks, err := a.store.ListJobChunks(jobID)
	if err != nil {
		return nil, err
	}

	out := &model.Transcript{
		JobID:       jobID,
		Filename:    job.Filename,
		CompletedAt: a.now().UTC(),
		TotalChunks: job.TotalChunks,
	}

	var texts []string
	for _, c := range chunks {
		if c.State == model.ChunkDead {
			out.Gaps = append(out.Gaps, model.GapRange{ChunkIndex: c.Index, Start: c.StartSec, End: c.EndSec})
			continue
		}
		if c.State != model.ChunkCompleted || len(c.Result) == 0 {
			continue
		}
		var ct model.ChunkTranscript
		if err := json.Unmarshal(c.Result, &ct); err != nil {
			return nil, fmt.Errorf("chunk %s/%d result: %w", jobID, c.Index, err)
		}
		for _, seg := range ct.Segments {
			out.Segments = append(out.Segments, model.Segment{
				Start: seg.Start + c.StartSec,
				End:   seg.End + c.StartSec,
				Text:  seg.Text,
			})
			if t := strings.TrimSpace(seg.Text); t != "" {
				texts = append(texts, t)
			}
		}
	}
	out.FullText = strings.Join(texts, " ")
	return out, nil
}

func (a *Aggregator) writeArtifact(t *model.Transcript) error {
	if err := os.MkdirAll(a.resultsDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.ArtifactPath(t.JobID), data, 0o644)
}

// ArtifactPath returns where the assembled transcript for a job lives.
func (a *Aggregator) ArtifactPath(jobID string) string {
	return filepath.Join(a.resultsDir, jobID+"_transcript.json")
}

package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/scribeflow/api/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func segments(n int) []model.SegmentRef {
	out := make([]model.SegmentRef, n)
	for i := range out {
		out[i] = model.SegmentRef{
			SourceRef: "chunk.mp3",
			StartSec:  float64(i) * 1200,
			EndSec:    float64(i+1) * 1200,
		}
	}
	return out
}

func TestCreateJobRejectsEmptySegments(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("j1", "book.m4b", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := s.CreateJob("", "book.m4b", segments(1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty id, got %v", err)
	}
}

func TestCreateJobChunks(t *testing.T) {
	s := openTestStore(t)
	job, err := s.CreateJob("j1", "book.m4b", segments(3))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.TotalChunks != 3 {
		t.Fatalf("total chunks = %d, want 3", job.TotalChunks)
	}

	chunks, err := s.ListJobChunks("j1")
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.State != model.ChunkPending {
			t.Errorf("chunk %d state = %s, want pending", i, c.State)
		}
		if c.Attempts != 0 {
			t.Errorf("chunk %d attempts = %d, want 0", i, c.Attempts)
		}
	}
}

func TestCompareAndSetConflict(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("j1", "book.m4b", segments(1)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	worker := "w1"
	now := time.Now().UTC()
	err := s.CompareAndSetChunkState("j1", 0, model.ChunkPending, model.ChunkAssigned,
		ChunkUpdate{WorkerID: &worker, LeaseStartedAt: &now})
	if err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Second transition from pending must lose.
	err = s.CompareAndSetChunkState("j1", 0, model.ChunkPending, model.ChunkAssigned,
		ChunkUpdate{WorkerID: &worker, LeaseStartedAt: &now})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	c, err := s.GetChunk("j1", 0)
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	if c.State != model.ChunkAssigned || c.WorkerID != "w1" {
		t.Fatalf("chunk = %s/%s, want assigned/w1", c.State, c.WorkerID)
	}
}

func TestRequireWorkerGuard(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("j1", "book.m4b", segments(1)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	owner := "w1"
	now := time.Now().UTC()
	if err := s.CompareAndSetChunkState("j1", 0, model.ChunkPending, model.ChunkAssigned,
		ChunkUpdate{WorkerID: &owner, LeaseStartedAt: &now}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// A different worker cannot acknowledge.
	stranger := "w2"
	err := s.CompareAndSetChunkState("j1", 0, model.ChunkAssigned, model.ChunkProcessing,
		ChunkUpdate{RequireWorker: &stranger})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for non-owner, got %v", err)
	}

	if err := s.CompareAndSetChunkState("j1", 0, model.ChunkAssigned, model.ChunkProcessing,
		ChunkUpdate{RequireWorker: &owner}); err != nil {
		t.Fatalf("owner ack: %v", err)
	}
}

func TestNextPendingChunkOrdering(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("job-a", "a.m4b", segments(2)); err != nil {
		t.Fatalf("create job-a: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.CreateJob("job-b", "b.m4b", segments(2)); err != nil {
		t.Fatalf("create job-b: %v", err)
	}

	// Oldest job, lowest index first.
	expect := []struct {
		job string
		idx int
	}{
		{"job-a", 0}, {"job-a", 1}, {"job-b", 0}, {"job-b", 1},
	}
	worker := "w1"
	now := time.Now().UTC()
	for i, want := range expect {
		c, err := s.NextPendingChunk()
		if err != nil {
			t.Fatalf("next pending: %v", err)
		}
		if c == nil {
			t.Fatalf("step %d: no candidate", i)
		}
		if c.JobID != want.job || c.Index != want.idx {
			t.Fatalf("step %d: got %s/%d, want %s/%d", i, c.JobID, c.Index, want.job, want.idx)
		}
		if err := s.CompareAndSetChunkState(c.JobID, c.Index, model.ChunkPending, model.ChunkAssigned,
			ChunkUpdate{WorkerID: &worker, LeaseStartedAt: &now}); err != nil {
			t.Fatalf("step %d assign: %v", i, err)
		}
	}

	c, err := s.NextPendingChunk()
	if err != nil {
		t.Fatalf("next pending on empty pool: %v", err)
	}
	if c != nil {
		t.Fatalf("expected no candidate, got %s/%d", c.JobID, c.Index)
	}
}

func TestNextPendingSkipsPausedJobs(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("j1", "book.m4b", segments(1)); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := s.SetJobPaused("j1", true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	c, err := s.NextPendingChunk()
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if c != nil {
		t.Fatalf("paused job yielded chunk %s/%d", c.JobID, c.Index)
	}

	if err := s.SetJobPaused("j1", false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	c, err = s.NextPendingChunk()
	if err != nil {
		t.Fatalf("next pending after resume: %v", err)
	}
	if c == nil {
		t.Fatal("resumed job yielded no chunk")
	}
}

func TestSetJobPausedUnknownJob(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetJobPaused("nope", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListExpiredLeases(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("j1", "book.m4b", segments(3)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	worker := "w1"
	old := time.Now().UTC().Add(-time.Hour)
	fresh := time.Now().UTC()

	// chunk 0: assigned long ago, chunk 1: processing long ago,
	// chunk 2: assigned just now.
	if err := s.CompareAndSetChunkState("j1", 0, model.ChunkPending, model.ChunkAssigned,
		ChunkUpdate{WorkerID: &worker, LeaseStartedAt: &old}); err != nil {
		t.Fatal(err)
	}
	if err := s.CompareAndSetChunkState("j1", 1, model.ChunkPending, model.ChunkAssigned,
		ChunkUpdate{WorkerID: &worker, LeaseStartedAt: &old}); err != nil {
		t.Fatal(err)
	}
	if err := s.CompareAndSetChunkState("j1", 1, model.ChunkAssigned, model.ChunkProcessing,
		ChunkUpdate{RequireWorker: &worker}); err != nil {
		t.Fatal(err)
	}
	if err := s.CompareAndSetChunkState("j1", 2, model.ChunkPending, model.ChunkAssigned,
		ChunkUpdate{WorkerID: &worker, LeaseStartedAt: &fresh}); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().UTC().Add(-time.Minute)
	expired, err := s.ListExpiredLeases(cutoff, cutoff)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("got %d expired leases, want 2", len(expired))
	}
	for _, c := range expired {
		if c.Index == 2 {
			t.Fatal("fresh lease reported as expired")
		}
	}
}

func TestMarkJobDoneExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("j1", "book.m4b", segments(1)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	now := time.Now().UTC()
	done, err := s.MarkJobDone("j1", model.JobStatusCompleted, now)
	if err != nil || !done {
		t.Fatalf("first finalize: done=%v err=%v", done, err)
	}
	done, err = s.MarkJobDone("j1", model.JobStatusFailed, now)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if done {
		t.Fatal("second finalize also won")
	}

	job, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
}

func TestDeleteJobReturnsRefs(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateJob("j1", "book.m4b", segments(2)); err != nil {
		t.Fatalf("create job: %v", err)
	}

	refs, err := s.DeleteJob("j1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if _, err := s.GetJob("j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.GetChunk("j1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected chunks gone, got %v", err)
	}
}

func TestWorkerRegistry(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertWorker("w1", "host-a"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.TouchWorker("w1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// First contact via heartbeat creates the record.
	if err := s.TouchWorker("w2"); err != nil {
		t.Fatalf("touch unknown: %v", err)
	}

	workers, err := s.ActiveWorkers(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("active workers: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("got %d workers, want 2", len(workers))
	}

	workers, err = s.ActiveWorkers(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("active workers future cutoff: %v", err)
	}
	if len(workers) != 0 {
		t.Fatalf("got %d workers past cutoff, want 0", len(workers))
	}
}

func TestActivityLogRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.AddActivityLog("job_created", "job j1 created"); err != nil {
		t.Fatalf("add log: %v", err)
	}
	logs, err := s.RecentLogs(10)
	if err != nil {
		t.Fatalf("recent logs: %v", err)
	}
	if len(logs) != 1 || logs[0].LogType != "job_created" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

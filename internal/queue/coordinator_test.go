package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/store"
)

func TestRequestAssignmentOrder(t *testing.T) {
	s := newTestStore(t)
	sink := &eventSink{}
	coord := NewCoordinator(s, sink, testLogger())

	createJob(t, s, "job-a", 2)
	time.Sleep(5 * time.Millisecond)
	createJob(t, s, "job-b", 1)

	ctx := context.Background()
	want := []struct {
		job string
		idx int
	}{
		{"job-a", 0}, {"job-a", 1}, {"job-b", 0},
	}
	for i, w := range want {
		c, err := coord.RequestAssignment(ctx, "w1")
		if err != nil {
			t.Fatalf("assignment %d: %v", i, err)
		}
		if c == nil {
			t.Fatalf("assignment %d: no work", i)
		}
		if c.JobID != w.job || c.Index != w.idx {
			t.Fatalf("assignment %d: got %s/%d, want %s/%d", i, c.JobID, c.Index, w.job, w.idx)
		}
		if c.State != model.ChunkAssigned || c.WorkerID != "w1" {
			t.Fatalf("assignment %d: state %s worker %s", i, c.State, c.WorkerID)
		}
	}

	c, err := coord.RequestAssignment(ctx, "w1")
	if err != nil {
		t.Fatalf("empty pool: %v", err)
	}
	if c != nil {
		t.Fatalf("expected no work, got %s/%d", c.JobID, c.Index)
	}
	if !sink.has(model.EventChunkAssigned) {
		t.Fatal("no chunk-assigned event published")
	}
}

func TestRequestAssignmentConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	coord := NewCoordinator(s, NopEvents{}, testLogger())
	createJob(t, s, "j1", 1)

	const workers = 8
	results := make([]*model.Chunk, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.RequestAssignment(context.Background(), string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	granted := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != nil {
			granted++
		}
	}
	if granted != 1 {
		t.Fatalf("%d workers got the single chunk, want exactly 1", granted)
	}
}

func TestAcknowledge(t *testing.T) {
	s := newTestStore(t)
	sink := &eventSink{}
	coord := NewCoordinator(s, sink, testLogger())
	createJob(t, s, "j1", 1)

	ctx := context.Background()
	if _, err := coord.RequestAssignment(ctx, "w1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Only the lease owner may acknowledge.
	err := coord.Acknowledge(ctx, "j1", 0, "w2")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for non-owner, got %v", err)
	}

	if err := coord.Acknowledge(ctx, "j1", 0, "w1"); err != nil {
		t.Fatalf("owner ack: %v", err)
	}
	c, err := s.GetChunk("j1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.State != model.ChunkProcessing {
		t.Fatalf("state = %s, want processing", c.State)
	}

	// A second ack finds the chunk already processing.
	err = coord.Acknowledge(ctx, "j1", 0, "w1")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on duplicate ack, got %v", err)
	}
	if !sink.has(model.EventChunkStarted) {
		t.Fatal("no chunk-started event published")
	}
}

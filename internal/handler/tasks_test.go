package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/queue"
	"github.com/scribeflow/api/internal/store"
)

func newTaskApp(t *testing.T) (*fiber.App, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := zap.NewNop()
	coord := queue.NewCoordinator(s, queue.NopEvents{}, log)
	agg := queue.NewAggregator(s, queue.NopEvents{}, t.TempDir(), log)
	h := NewTaskHandler(s, coord, agg, validator.New())

	app := fiber.New()
	app.Get("/api/tasks/next", h.Next)
	app.Post("/api/tasks/ack", h.Ack)
	app.Post("/api/tasks/complete", h.Complete)
	return app, s
}

func seedJob(t *testing.T, s *store.Store, id string, chunks int) {
	t.Helper()
	segs := make([]model.SegmentRef, chunks)
	for i := range segs {
		segs[i] = model.SegmentRef{SourceRef: "c.mp3", StartSec: float64(i) * 1200, EndSec: float64(i+1) * 1200}
	}
	if _, err := s.CreateJob(id, id+".m4b", segs); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	app, s := newTaskApp(t)
	seedJob(t, s, "j1", 1)

	// Poll grants the lease.
	var poll model.PollResponse
	if code := doJSON(t, app, http.MethodGet, "/api/tasks/next?workerId=w1", nil, &poll); code != http.StatusOK {
		t.Fatalf("next status = %d", code)
	}
	if poll.Task == nil || poll.Task.JobID != "j1" || poll.Task.Index != 0 {
		t.Fatalf("task = %+v", poll.Task)
	}

	// Second poll finds nothing.
	var empty model.PollResponse
	doJSON(t, app, http.MethodGet, "/api/tasks/next?workerId=w2", nil, &empty)
	if empty.Task != nil {
		t.Fatalf("second poll got %+v", empty.Task)
	}

	// Ack from the wrong worker is a benign rejection.
	var verdict model.SubmitVerdict
	doJSON(t, app, http.MethodPost, "/api/tasks/ack",
		model.AckRequest{JobID: "j1", Index: 0, WorkerID: "w2"}, &verdict)
	if verdict.Accepted {
		t.Fatal("non-owner ack accepted")
	}

	doJSON(t, app, http.MethodPost, "/api/tasks/ack",
		model.AckRequest{JobID: "j1", Index: 0, WorkerID: "w1"}, &verdict)
	if !verdict.Accepted {
		t.Fatalf("owner ack rejected: %s", verdict.Reason)
	}

	// Submit the result; the single-chunk job completes.
	doJSON(t, app, http.MethodPost, "/api/tasks/complete", model.CompleteRequest{
		JobID:    "j1",
		Index:    0,
		WorkerID: "w1",
		Transcript: model.ChunkTranscript{
			Segments: []model.Segment{{Start: 0, End: 5, Text: "hello"}},
		},
	}, &verdict)
	if !verdict.Accepted {
		t.Fatalf("complete rejected: %s", verdict.Reason)
	}

	job, err := s.GetJob("j1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
}

func TestNextRequiresWorkerID(t *testing.T) {
	app, _ := newTaskApp(t)
	if code := doJSON(t, app, http.MethodGet, "/api/tasks/next", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestCompleteUnknownChunk(t *testing.T) {
	app, _ := newTaskApp(t)
	code := doJSON(t, app, http.MethodPost, "/api/tasks/complete", model.CompleteRequest{
		JobID:    "nope",
		Index:    0,
		WorkerID: "w1",
		Transcript: model.ChunkTranscript{
			Segments: []model.Segment{{Start: 0, End: 1, Text: "x"}},
		},
	}, nil)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

package queue

import (
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *store.Store, id string, chunks int) {
	t.Helper()
	segs := make([]model.SegmentRef, chunks)
	for i := range segs {
		segs[i] = model.SegmentRef{
			SourceRef: "chunk.mp3",
			StartSec:  float64(i) * 1200,
			EndSec:    float64(i+1) * 1200,
		}
	}
	if _, err := s.CreateJob(id, id+".m4b", segs); err != nil {
		t.Fatalf("create job %s: %v", id, err)
	}
}

// eventSink records published events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (e *eventSink) Publish(ev model.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventSink) kinds() []model.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.EventKind, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Kind
	}
	return out
}

func (e *eventSink) has(kind model.EventKind) bool {
	for _, k := range e.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func testLogger() *zap.Logger { return zap.NewNop() }

package model

import (
	"fmt"
	"time"
)

// EventKind identifies a state-change notification pushed to observers.
type EventKind string

const (
	EventJobCreated     EventKind = "job-created"
	EventJobCompleted   EventKind = "job-completed"
	EventJobFailed      EventKind = "job-failed"
	EventJobPaused      EventKind = "job-paused"
	EventJobResumed     EventKind = "job-resumed"
	EventJobDeleted     EventKind = "job-deleted"
	EventChunkAssigned  EventKind = "chunk-assigned"
	EventChunkStarted   EventKind = "chunk-started"
	EventChunkCompleted EventKind = "chunk-completed"
	EventChunkReclaimed EventKind = "chunk-reclaimed"
	EventChunkDead      EventKind = "chunk-dead"
	EventWorkerJoined   EventKind = "worker-joined"
)

// Event is a best-effort progress notification. Delivery is at most
// once per observer connection; disconnected observers reconcile by
// polling current state.
type Event struct {
	Kind       EventKind `json:"kind"`
	JobID      string    `json:"jobId,omitempty"`
	ChunkIndex *int      `json:"chunkIndex,omitempty"`
	WorkerID   string    `json:"workerId,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewJobEvent builds a job-level event stamped with the current time.
func NewJobEvent(kind EventKind, jobID, filename string) Event {
	return Event{Kind: kind, JobID: jobID, Filename: filename, Timestamp: time.Now().UTC()}
}

// NewChunkEvent builds a chunk-level event stamped with the current time.
func NewChunkEvent(kind EventKind, jobID string, index int, workerID string) Event {
	return Event{Kind: kind, JobID: jobID, ChunkIndex: &index, WorkerID: workerID, Timestamp: time.Now().UTC()}
}

// NewWorkerEvent builds a worker lifecycle event.
func NewWorkerEvent(kind EventKind, workerID, hostname string) Event {
	return Event{Kind: kind, WorkerID: workerID, Filename: hostname, Timestamp: time.Now().UTC()}
}

// LogEntry renders the event as an activity-log line for the dashboard
// history. ok is false for kinds that are not worth persisting.
func (e Event) LogEntry() (logType, message string, ok bool) {
	switch e.Kind {
	case EventJobCreated:
		return "job", fmt.Sprintf("New audiobook %s (job %s)", e.Filename, e.JobID), true
	case EventJobCompleted:
		return "job", fmt.Sprintf("Job %s fully transcribed", e.JobID), true
	case EventJobFailed:
		return "job", fmt.Sprintf("Job %s finished with dead chunks", e.JobID), true
	case EventJobPaused:
		return "job", fmt.Sprintf("Job %s paused", e.JobID), true
	case EventJobResumed:
		return "job", fmt.Sprintf("Job %s resumed", e.JobID), true
	case EventJobDeleted:
		return "job", fmt.Sprintf("Job %s deleted", e.JobID), true
	case EventChunkAssigned:
		return "chunk", fmt.Sprintf("Chunk %d of job %s assigned to %s", deref(e.ChunkIndex), e.JobID, e.WorkerID), true
	case EventChunkCompleted:
		return "chunk", fmt.Sprintf("Chunk %d of job %s completed by %s", deref(e.ChunkIndex), e.JobID, e.WorkerID), true
	case EventChunkReclaimed:
		return "chunk", fmt.Sprintf("Chunk %d of job %s reclaimed from %s", deref(e.ChunkIndex), e.JobID, e.WorkerID), true
	case EventChunkDead:
		return "chunk", fmt.Sprintf("Chunk %d of job %s exhausted its attempts", deref(e.ChunkIndex), e.JobID), true
	case EventWorkerJoined:
		return "worker", fmt.Sprintf("Worker %s joined (%s)", e.WorkerID, e.Filename), true
	default:
		return "", "", false
	}
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

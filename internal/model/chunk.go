package model

import "time"

// ChunkState is the assignment state of one work unit.
//
//	pending --lease--> assigned --ack--> processing --result--> completed
//	assigned|processing --lease expired--> pending (attempts+1)
//	assigned|processing --attempts exhausted--> dead
type ChunkState string

const (
	ChunkPending    ChunkState = "pending"
	ChunkAssigned   ChunkState = "assigned"
	ChunkProcessing ChunkState = "processing"
	ChunkCompleted  ChunkState = "completed"
	ChunkDead       ChunkState = "dead"
)

// Terminal reports whether no further transition can occur.
func (s ChunkState) Terminal() bool {
	return s == ChunkCompleted || s == ChunkDead
}

// Leased reports whether the chunk is claimed by a worker.
func (s ChunkState) Leased() bool {
	return s == ChunkAssigned || s == ChunkProcessing
}

// Chunk is one fixed-duration audio segment of a job. Indices within a
// job are contiguous 0..TotalChunks-1. StartSec/EndSec are absolute
// offsets into the original audiobook.
type Chunk struct {
	JobID          string     `json:"jobId"`
	Index          int        `json:"index"`
	SourceRef      string     `json:"sourceRef"`
	StartSec       float64    `json:"startSec"`
	EndSec         float64    `json:"endSec"`
	State          ChunkState `json:"state"`
	WorkerID       string     `json:"workerId,omitempty"`
	LeaseStartedAt *time.Time `json:"leaseStartedAt,omitempty"`
	Attempts       int        `json:"attempts"`
	Result         []byte     `json:"-"`
	ProcessingSec  float64    `json:"processingSec,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Duration returns the chunk length in seconds.
func (c *Chunk) Duration() float64 {
	return c.EndSec - c.StartSec
}

// SegmentRef describes one ordered segment handed to CreateJob by the
// ingestion pipeline.
type SegmentRef struct {
	SourceRef string
	StartSec  float64
	EndSec    float64
}

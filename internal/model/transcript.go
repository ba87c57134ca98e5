package model

import "time"

// Segment is one timestamped piece of transcribed text. Within a chunk
// result, start times are non-decreasing in submission order.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ChunkTranscript is the output of transcribing one chunk, with
// timestamps relative to the chunk start.
type ChunkTranscript struct {
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments"`
}

// GapRange marks a stretch of the final transcript lost to a dead
// chunk. Partial-success jobs keep their completed text and report
// the holes instead of silently dropping them.
type GapRange struct {
	ChunkIndex int     `json:"chunkIndex"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

// Transcript is the final assembled artifact for a job: all chunk
// segments in ascending index order with globally offset timestamps.
type Transcript struct {
	JobID       string     `json:"jobId"`
	Filename    string     `json:"filename"`
	CompletedAt time.Time  `json:"completedAt"`
	TotalChunks int        `json:"totalChunks"`
	Segments    []Segment  `json:"segments"`
	Gaps        []GapRange `json:"gaps,omitempty"`
	FullText    string     `json:"fullText"`
}

package model

import "time"

// JobStatus is the lifecycle status of an audiobook job. ACTIVE until
// every chunk reaches a terminal state, then COMPLETED or FAILED.
type JobStatus string

const (
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one audiobook submitted for transcription. TotalChunks is
// fixed at creation; Status only changes at the terminal transition.
type Job struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	TotalChunks int        `json:"totalChunks"`
	Status      JobStatus  `json:"status"`
	Paused      bool       `json:"paused"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobProgress summarizes chunk states for one job.
type JobProgress struct {
	Total      int     `json:"total"`
	Pending    int     `json:"pending"`
	Assigned   int     `json:"assigned"`
	Processing int     `json:"processing"`
	Completed  int     `json:"completed"`
	Dead       int     `json:"dead"`
	Percent    float64 `json:"percent"`
}

// JobSummary is a job plus its progress, as listed on the dashboard.
type JobSummary struct {
	Job
	Progress JobProgress `json:"progress"`
}

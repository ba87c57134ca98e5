package model

// TaskDescriptor is what a polling worker receives for a granted lease.
type TaskDescriptor struct {
	JobID     string  `json:"jobId"`
	Index     int     `json:"index"`
	SourceRef string  `json:"sourceRef"`
	StartSec  float64 `json:"startSec"`
	EndSec    float64 `json:"endSec"`
	Attempt   int     `json:"attempt"`
}

// PollResponse wraps the /api/tasks/next reply. Task is null when no
// work is available; that is a normal outcome, not an error.
type PollResponse struct {
	Task *TaskDescriptor `json:"task"`
}

// AckRequest confirms receipt of an assigned chunk (assigned -> processing).
type AckRequest struct {
	JobID    string `json:"jobId" validate:"required"`
	Index    int    `json:"index" validate:"min=0"`
	WorkerID string `json:"workerId" validate:"required"`
}

// CompleteRequest submits one chunk's transcription result.
type CompleteRequest struct {
	JobID         string          `json:"jobId" validate:"required"`
	Index         int             `json:"index" validate:"min=0"`
	WorkerID      string          `json:"workerId" validate:"required"`
	Transcript    ChunkTranscript `json:"transcript" validate:"required"`
	ProcessingSec float64         `json:"processingSec"`
}

// SubmitVerdict is the accept/reject outcome of a submission or ack.
// Rejections are benign: duplicates and stale leases resolve here, not
// as errors.
type SubmitVerdict struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// RegisterWorkerRequest announces a worker to the master.
type RegisterWorkerRequest struct {
	WorkerID string `json:"workerId" validate:"required"`
	Hostname string `json:"hostname" validate:"required"`
}

// UploadResponse acknowledges an accepted audiobook upload. Splitting
// happens in the background; the job appears once chunking finishes.
type UploadResponse struct {
	JobID    string `json:"jobId"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// ActivityLog is one persisted dashboard history line.
type ActivityLog struct {
	LogType   string `json:"logType"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// StatusSummary is the overall system snapshot served by /api/status
// and the dashboard websocket init frame.
type StatusSummary struct {
	Chunks  JobProgress  `json:"chunks"`
	Jobs    []JobSummary `json:"jobs"`
	Workers []Worker     `json:"workers"`
}

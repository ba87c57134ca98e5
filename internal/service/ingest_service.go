package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskTypeIngest is the asynq task that splits an upload into chunks
// and creates the job's work units.
const TaskTypeIngest = "ingest:split"

// IngestPayload is the asynq task payload for one upload.
type IngestPayload struct {
	JobID      string `json:"jobId"`
	Filename   string `json:"filename"`
	UploadPath string `json:"uploadPath"`
}

// IngestService accepts audiobook uploads and queues the splitting
// work. The job only becomes visible (and assignable) once the ingest
// worker has produced its chunks.
type IngestService struct {
	asynqClient *asynq.Client
	uploadDir   string
	log         *zap.Logger
}

func NewIngestService(asynqClient *asynq.Client, uploadDir string, log *zap.Logger) *IngestService {
	return &IngestService{asynqClient: asynqClient, uploadDir: uploadDir, log: log}
}

// Enqueue stores the uploaded file and schedules splitting. Returns the
// new job id.
func (s *IngestService) Enqueue(ctx context.Context, filename string, file multipart.File) (string, error) {
	jobID := uuid.New().String()[:8]

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("upload dir: %w", err)
	}
	uploadPath := filepath.Join(s.uploadDir, jobID+"_"+filepath.Base(filename))
	dst, err := os.Create(uploadPath)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(uploadPath)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}

	payload, err := json.Marshal(IngestPayload{
		JobID:      jobID,
		Filename:   filename,
		UploadPath: uploadPath,
	})
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(TaskTypeIngest, payload)
	if _, err := s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue("ingest"),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Hour),
	); err != nil {
		os.Remove(uploadPath)
		return "", fmt.Errorf("enqueue ingest: %w", err)
	}

	s.log.Info("upload accepted",
		zap.String("job", jobID),
		zap.String("filename", filename))
	return jobID, nil
}

// RemoveJobFiles deletes the chunk files and original upload belonging
// to a finished or deleted job. Missing files are not an error.
func (s *IngestService) RemoveJobFiles(jobID, chunkDir string, chunkRefs []string) {
	for _, ref := range chunkRefs {
		_ = os.Remove(filepath.Join(chunkDir, filepath.Base(ref)))
	}
	matches, err := filepath.Glob(filepath.Join(s.uploadDir, jobID+"_*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

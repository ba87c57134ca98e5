package handler

import (
	"errors"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/queue"
	"github.com/scribeflow/api/internal/service"
	"github.com/scribeflow/api/internal/store"
	"github.com/scribeflow/api/pkg/response"
)

type JobHandler struct {
	store     *store.Store
	ingest    *service.IngestService
	agg       *queue.Aggregator
	events    queue.Events
	chunkDir  string
	validator *validator.Validate
}

func NewJobHandler(s *store.Store, ingest *service.IngestService, agg *queue.Aggregator, events queue.Events, chunkDir string, v *validator.Validate) *JobHandler {
	return &JobHandler{
		store:     s,
		ingest:    ingest,
		agg:       agg,
		events:    events,
		chunkDir:  chunkDir,
		validator: v,
	}
}

// Create handles POST /api/jobs: accept an audiobook upload and queue
// it for splitting. The job shows up once chunking completes.
func (h *JobHandler) Create(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "audio/") &&
		contentType != "application/octet-stream" {
		return response.ValidationError(c, "Audio file expected", map[string]interface{}{
			"contentType": contentType,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open upload")
	}
	defer f.Close()

	jobID, err := h.ingest.Enqueue(c.Context(), file.Filename, f)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, model.UploadResponse{
		JobID:    jobID,
		Filename: file.Filename,
		Status:   "queued",
	})
}

// List handles GET /api/jobs.
func (h *JobHandler) List(c *fiber.Ctx) error {
	jobs, err := h.store.ListJobs()
	if err != nil {
		return storeError(c, err)
	}
	if jobs == nil {
		jobs = []model.JobSummary{}
	}
	return response.OK(c, jobs)
}

// Get handles GET /api/jobs/:jobId.
func (h *JobHandler) Get(c *fiber.Ctx) error {
	job, err := h.store.GetJob(c.Params("jobId"))
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, "Job not found")
	}
	if err != nil {
		return storeError(c, err)
	}
	progress, err := h.store.JobProgress(job.ID)
	if err != nil {
		return storeError(c, err)
	}
	return response.OK(c, model.JobSummary{Job: *job, Progress: *progress})
}

// Pause handles POST /api/jobs/:jobId/pause. Paused jobs stop handing
// out new leases; in-flight chunks finish normally.
func (h *JobHandler) Pause(c *fiber.Ctx) error {
	return h.setPaused(c, true, model.EventJobPaused)
}

// Resume handles POST /api/jobs/:jobId/resume.
func (h *JobHandler) Resume(c *fiber.Ctx) error {
	return h.setPaused(c, false, model.EventJobResumed)
}

func (h *JobHandler) setPaused(c *fiber.Ctx, paused bool, kind model.EventKind) error {
	jobID := c.Params("jobId")
	err := h.store.SetJobPaused(jobID, paused)
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, "Job not found")
	}
	if err != nil {
		return storeError(c, err)
	}
	h.events.Publish(model.NewJobEvent(kind, jobID, ""))
	return response.OK(c, fiber.Map{"jobId": jobID, "paused": paused})
}

// Delete handles DELETE /api/jobs/:jobId, removing the job, its chunks
// and their audio files.
func (h *JobHandler) Delete(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	refs, err := h.store.DeleteJob(jobID)
	if err != nil {
		return storeError(c, err)
	}
	h.ingest.RemoveJobFiles(jobID, h.chunkDir, refs)
	h.events.Publish(model.NewJobEvent(model.EventJobDeleted, jobID, ""))
	return response.NoContent(c)
}

// Transcript handles GET /api/jobs/:jobId/transcript, serving the
// assembled artifact of a finished job.
func (h *JobHandler) Transcript(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	job, err := h.store.GetJob(jobID)
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, "Job not found")
	}
	if err != nil {
		return storeError(c, err)
	}
	if job.Status == model.JobStatusActive {
		return response.Conflict(c, "Job not finished yet")
	}

	path := h.agg.ArtifactPath(jobID)
	if _, err := os.Stat(path); err != nil {
		return response.NotFound(c, "Transcript not found")
	}
	return c.Download(path, jobID+"_transcript.json")
}

package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/queue"
	"github.com/scribeflow/api/internal/store"
	"github.com/scribeflow/api/pkg/response"
)

// TaskHandler is the worker-facing coordination surface: polling for
// leases, acknowledging receipt, and submitting results.
type TaskHandler struct {
	store       *store.Store
	coordinator *queue.Coordinator
	agg         *queue.Aggregator
	validator   *validator.Validate
}

func NewTaskHandler(s *store.Store, coord *queue.Coordinator, agg *queue.Aggregator, v *validator.Validate) *TaskHandler {
	return &TaskHandler{store: s, coordinator: coord, agg: agg, validator: v}
}

// Next handles GET /api/tasks/next?workerId=... A null task means no
// eligible work; the worker should back off and poll again.
func (h *TaskHandler) Next(c *fiber.Ctx) error {
	workerID := c.Query("workerId")
	if workerID == "" {
		return response.ValidationError(c, "workerId is required", nil)
	}

	// Polling doubles as a heartbeat.
	if err := h.store.TouchWorker(workerID); err != nil {
		return storeError(c, err)
	}

	chunk, err := h.coordinator.RequestAssignment(c.Context(), workerID)
	if err != nil {
		return storeError(c, err)
	}
	if chunk == nil {
		return response.OK(c, model.PollResponse{Task: nil})
	}
	return response.OK(c, model.PollResponse{Task: &model.TaskDescriptor{
		JobID:     chunk.JobID,
		Index:     chunk.Index,
		SourceRef: chunk.SourceRef,
		StartSec:  chunk.StartSec,
		EndSec:    chunk.EndSec,
		Attempt:   chunk.Attempts,
	}})
}

// Ack handles POST /api/tasks/ack. A rejected ack tells the worker its
// lease is gone and the chunk must be abandoned.
func (h *TaskHandler) Ack(c *fiber.Ctx) error {
	var req model.AckRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	err := h.coordinator.Acknowledge(c.Context(), req.JobID, req.Index, req.WorkerID)
	if errors.Is(err, store.ErrStateConflict) {
		return response.OK(c, model.SubmitVerdict{Accepted: false, Reason: "lease not held"})
	}
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, "Chunk not found")
	}
	if err != nil {
		return storeError(c, err)
	}
	return response.OK(c, model.SubmitVerdict{Accepted: true})
}

// Complete handles POST /api/tasks/complete. Duplicate and stale
// submissions come back as benign rejection verdicts.
func (h *TaskHandler) Complete(c *fiber.Ctx) error {
	var req model.CompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	verdict, err := h.agg.Submit(c.Context(), &req)
	if errors.Is(err, store.ErrNotFound) {
		return response.NotFound(c, "Chunk not found")
	}
	if err != nil {
		return storeError(c, err)
	}
	return response.OK(c, verdict)
}

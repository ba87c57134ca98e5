package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/queue"
	"github.com/scribeflow/api/internal/store"
	"github.com/scribeflow/api/pkg/response"
)

type WorkerHandler struct {
	store     *store.Store
	events    queue.Events
	workerTTL time.Duration
	validator *validator.Validate
}

func NewWorkerHandler(s *store.Store, events queue.Events, workerTTL time.Duration, v *validator.Validate) *WorkerHandler {
	return &WorkerHandler{store: s, events: events, workerTTL: workerTTL, validator: v}
}

// Register handles POST /api/workers/register. Re-registering is fine;
// it just refreshes the record.
func (h *WorkerHandler) Register(c *fiber.Ctx) error {
	var req model.RegisterWorkerRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.store.UpsertWorker(req.WorkerID, req.Hostname); err != nil {
		return storeError(c, err)
	}
	h.events.Publish(model.NewWorkerEvent(model.EventWorkerJoined, req.WorkerID, req.Hostname))
	return response.Created(c, fiber.Map{"workerId": req.WorkerID})
}

// Heartbeat handles POST /api/workers/:workerId/heartbeat.
func (h *WorkerHandler) Heartbeat(c *fiber.Ctx) error {
	if err := h.store.TouchWorker(c.Params("workerId")); err != nil {
		return storeError(c, err)
	}
	return response.OK(c, fiber.Map{"ok": true})
}

// List handles GET /api/workers, returning workers seen within the TTL.
func (h *WorkerHandler) List(c *fiber.Ctx) error {
	workers, err := h.store.ActiveWorkers(time.Now().Add(-h.workerTTL))
	if err != nil {
		return storeError(c, err)
	}
	if workers == nil {
		workers = []model.Worker{}
	}
	return response.OK(c, workers)
}

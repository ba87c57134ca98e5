package handler

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/scribeflow/api/internal/model"
	"github.com/scribeflow/api/internal/store"
	"github.com/scribeflow/api/pkg/response"
)

// StatusHandler serves the global system snapshot and the activity log
// history used by the dashboard.
type StatusHandler struct {
	store     *store.Store
	workerTTL time.Duration
}

func NewStatusHandler(s *store.Store, workerTTL time.Duration) *StatusHandler {
	return &StatusHandler{store: s, workerTTL: workerTTL}
}

// Status handles GET /api/status.
func (h *StatusHandler) Status(c *fiber.Ctx) error {
	summary, err := h.snapshot()
	if err != nil {
		return storeError(c, err)
	}
	return response.OK(c, summary)
}

// Logs handles GET /api/logs, the persisted dashboard history.
func (h *StatusHandler) Logs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit < 1 || limit > 500 {
		limit = 100
	}
	logs, err := h.store.RecentLogs(limit)
	if err != nil {
		return storeError(c, err)
	}
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	return response.OK(c, logs)
}

func (h *StatusHandler) snapshot() (*model.StatusSummary, error) {
	progress, err := h.store.StatusSummary()
	if err != nil {
		return nil, err
	}
	jobs, err := h.store.ListJobs()
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []model.JobSummary{}
	}
	workers, err := h.store.ActiveWorkers(time.Now().Add(-h.workerTTL))
	if err != nil {
		return nil, err
	}
	if workers == nil {
		workers = []model.Worker{}
	}
	return &model.StatusSummary{Chunks: *progress, Jobs: jobs, Workers: workers}, nil
}

// DashboardInit builds the first frame pushed to a freshly connected
// dashboard websocket: current snapshot plus recent history.
func (h *StatusHandler) DashboardInit() ([]byte, error) {
	summary, err := h.snapshot()
	if err != nil {
		return nil, err
	}
	logs, err := h.store.RecentLogs(100)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	return json.Marshal(struct {
		Type    string               `json:"type"`
		Status  *model.StatusSummary `json:"status"`
		History []model.ActivityLog  `json:"history"`
	}{Type: "init", Status: summary, History: logs})
}

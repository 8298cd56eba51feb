package handlers

import (
	"net/http"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/api/response"
	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
)

// SystemHandler serves liveness and version endpoints.
type SystemHandler struct {
	systemService *service.SystemService
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(systemService *service.SystemService) *SystemHandler {
	return &SystemHandler{
		systemService: systemService,
	}
}

// LastRunSummary is the most recent run as reported by the health endpoint.
type LastRunSummary struct {
	RunID        string          `json:"run_id"`
	Status       model.RunStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	ErrorSummary *string         `json:"error_summary,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string          `json:"status"`
	Database string          `json:"database"`
	LastRun  *LastRunSummary `json:"last_run,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Health reports store connectivity and the outcome of the latest run.
// A failed last run marks the service degraded but still answers 200 so
// liveness probes only trip on an unreachable store.
//
// Endpoint: GET /api/system/health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	report, err := h.systemService.CheckHealth(r.Context())
	if err != nil {
		response.RespondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "unhealthy",
			Database: "disconnected",
			Error:    err.Error(),
		})
		return
	}

	resp := HealthResponse{
		Status:   "healthy",
		Database: "connected",
	}
	if run := report.LastRun; run != nil {
		resp.LastRun = &LastRunSummary{
			RunID:        run.ID,
			Status:       run.Status,
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
			ErrorSummary: run.ErrorSummary,
		}
		if run.Status == model.RunStatusFail {
			resp.Status = "degraded"
		}
	}
	response.RespondJSON(w, http.StatusOK, resp)
}

// Version handles GET requests to retrieve version information.
//
// Endpoint: GET /api/system/version
// Response: 200 OK with model.VersionInfo
// Error: 500 Internal Server Error if the schema version cannot be read
func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	info, err := h.systemService.CheckVersion(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, apperrors.ErrFailedToGetVersionInfo.Error(), err.Error())
		return
	}
	response.RespondJSON(w, http.StatusOK, info)
}

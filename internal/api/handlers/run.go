package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/api/response"
	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
	"github.com/ndewijer/portfolio-snapshot/internal/validation"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 200
)

// RunHandler handles HTTP requests for capture runs.
// It serves as the HTTP layer adapter, parsing requests and delegating
// orchestration to the RunCoordinator.
type RunHandler struct {
	coordinator *service.RunCoordinator
}

// NewRunHandler creates a new RunHandler with the provided coordinator.
func NewRunHandler(coordinator *service.RunCoordinator) *RunHandler {
	return &RunHandler{
		coordinator: coordinator,
	}
}

// TriggerRun handles POST requests that start a capture run and wait for it
// to finish. A run that finalizes as partial or fail is still a completed
// request; the outcome is reported in the body.
//
// Endpoint: POST /api/run
// Request Body: TriggerRunRequest (trigger_type, triggered_by)
// Response: 201 Created with RunResult
// Error: 400 Bad Request if validation fails or no accounts are configured
// Error: 503 Service Unavailable if the store cannot be reached
// Error: 500 Internal Server Error if the run cannot be started or finalized
func (h *RunHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.TriggerRunRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := validation.ValidateTriggerRun(req); err != nil {
		response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	result, err := h.coordinator.Trigger(r.Context(), service.TriggerRequest{
		TriggerType: strings.TrimSpace(req.TriggerType),
		TriggeredBy: req.TriggeredBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNoAccountsConfigured), errors.Is(err, apperrors.ErrInvalidTriggerType):
			response.RespondError(w, http.StatusBadRequest, "run not started", err.Error())
		case errors.Is(err, apperrors.ErrStoreUnavailable):
			response.RespondError(w, http.StatusServiceUnavailable, apperrors.ErrStoreUnavailable.Error(), err.Error())
		default:
			response.RespondError(w, http.StatusInternalServerError, apperrors.ErrFailedToStartRun.Error(), err.Error())
		}
		return
	}

	response.RespondJSON(w, http.StatusCreated, result)
}

// ListRuns handles GET requests to list the most recent runs, newest first.
//
// Endpoint: GET /api/run?limit=20
// Response: 200 OK with array of Run
// Error: 400 Bad Request if limit is invalid
// Error: 500 Internal Server Error if retrieval fails
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := request.ParseLimit(r.URL.Query().Get("limit"), defaultRunListLimit, maxRunListLimit)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	runs, err := h.coordinator.ListRuns(r.Context(), limit)
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, apperrors.ErrFailedToRetrieveRuns.Error(), err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, runs)
}

// GetRun handles GET requests to retrieve one run with its account outcomes.
//
// Endpoint: GET /api/run/{uuid}
// Response: 200 OK with RunDetail
// Error: 400 Bad Request if run ID is invalid (validated by middleware)
// Error: 404 Not Found if run not found
// Error: 500 Internal Server Error if retrieval fails
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "uuid")

	run, err := h.coordinator.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, apperrors.ErrRunNotFound) {
			response.RespondError(w, http.StatusNotFound, apperrors.ErrRunNotFound.Error(), err.Error())
			return
		}
		response.RespondError(w, http.StatusInternalServerError, apperrors.ErrFailedToRetrieveRuns.Error(), err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, run)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/api/response"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
)

// ViewHandler serves the read-only analytics views over committed snapshots.
type ViewHandler struct {
	views *service.ViewService
	now   func() time.Time
}

// NewViewHandler creates a new ViewHandler.
func NewViewHandler(views *service.ViewService) *ViewHandler {
	return &ViewHandler{
		views: views,
		now:   time.Now,
	}
}

// LatestSnapshots handles GET requests for the most recent snapshot of every account.
//
// Endpoint: GET /api/snapshot/latest
// Response: 200 OK with array of LatestSnapshot
// Error: 500 Internal Server Error if retrieval fails
func (h *ViewHandler) LatestSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.views.LatestSnapshots(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to retrieve latest snapshots", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, snapshots)
}

// DailyPortfolioValue handles GET requests for the summed portfolio value per UTC day.
// Without parameters the last 30 days are returned.
//
// Endpoint: GET /api/portfolio/daily?start=YYYY-MM-DD&end=YYYY-MM-DD
// Response: 200 OK with array of DailyPortfolioValue
// Error: 400 Bad Request if the date range is invalid
// Error: 500 Internal Server Error if retrieval fails
func (h *ViewHandler) DailyPortfolioValue(w http.ResponseWriter, r *http.Request) {
	start, end, err := request.ParseDateRange(
		r.URL.Query().Get("start"),
		r.URL.Query().Get("end"),
		h.now(),
	)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid date range", err.Error())
		return
	}

	values, err := h.views.DailyPortfolioValue(r.Context(), start, end)
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to retrieve daily portfolio value", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, values)
}

// PositionHistory handles GET requests for position observations over time.
//
// Endpoint: GET /api/position/history?broker&account&instrument&start&end
// Response: 200 OK with array of PositionHistoryRow
// Error: 400 Bad Request if a filter is invalid
// Error: 500 Internal Server Error if retrieval fails
func (h *ViewHandler) PositionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := request.ParsePositionHistoryFilter(
		q.Get("broker"),
		q.Get("account"),
		q.Get("instrument"),
		q.Get("start"),
		q.Get("end"),
	)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid filter parameters", err.Error())
		return
	}

	rows, err := h.views.PositionHistory(r.Context(), filter)
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to retrieve position history", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, rows)
}

// Allocation handles GET requests for portfolio allocation by global instrument.
// Unmapped instruments are excluded.
//
// Endpoint: GET /api/allocation
// Response: 200 OK with array of AllocationEntry
// Error: 500 Internal Server Error if retrieval fails
func (h *ViewHandler) Allocation(w http.ResponseWriter, r *http.Request) {
	entries, err := h.views.Allocation(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to retrieve allocation", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, entries)
}

// AllocationByBroker handles GET requests for the value held at each broker.
//
// Endpoint: GET /api/allocation/broker
// Response: 200 OK with array of BrokerAllocation
// Error: 500 Internal Server Error if retrieval fails
func (h *ViewHandler) AllocationByBroker(w http.ResponseWriter, r *http.Request) {
	entries, err := h.views.AllocationByBroker(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to retrieve broker allocation", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, entries)
}

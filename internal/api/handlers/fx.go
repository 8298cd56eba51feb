package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/api/response"
	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/validation"
)

const (
	defaultRateListLimit = 30
	maxRateListLimit     = 1000
)

// FxHandler exposes exchange-rate lookups and manual rate entry.
type FxHandler struct {
	converter *fx.Converter
	now       func() time.Time
}

// NewFxHandler creates a new FxHandler.
func NewFxHandler(converter *fx.Converter) *FxHandler {
	return &FxHandler{
		converter: converter,
		now:       time.Now,
	}
}

// GetRate handles GET requests to resolve the rate used for a conversion at
// an instant: the exact observation or the most recent one before it.
//
// Endpoint: GET /api/fx?from=USD&to=EUR&asof=2024-03-15
// Response: 200 OK with FxRate (id is empty for same-currency pairs)
// Error: 400 Bad Request if currencies or asof are invalid
// Error: 404 Not Found if no rate exists at or before asof
// Error: 500 Internal Server Error if retrieval fails
func (h *FxHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))

	if err := validation.ValidateCurrencyPair(from, to); err != nil {
		response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	asOf := h.now().UTC()
	if param := q.Get("asof"); param != "" {
		parsed, err := validation.ParseTime(param)
		if err != nil {
			response.RespondError(w, http.StatusBadRequest, "invalid asof", err.Error())
			return
		}
		asOf = parsed
	}

	rate, err := h.converter.Rate(r.Context(), from, to, asOf)
	if err != nil {
		if errors.Is(err, apperrors.ErrExchangeRateNotFound) {
			response.RespondError(w, http.StatusNotFound, apperrors.ErrExchangeRateNotFound.Error(), err.Error())
			return
		}
		response.RespondError(w, http.StatusInternalServerError, apperrors.ErrFailedToRetrieveExchangeRate.Error(), err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, rate)
}

// ListRates handles GET requests to list stored observations of a pair, newest first.
//
// Endpoint: GET /api/fx/history?from=USD&to=EUR&limit=30
// Response: 200 OK with array of FxRate
// Error: 400 Bad Request if currencies or limit are invalid
// Error: 500 Internal Server Error if retrieval fails
func (h *FxHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))

	if err := validation.ValidateCurrencyPair(from, to); err != nil {
		response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}
	limit, err := request.ParseLimit(q.Get("limit"), defaultRateListLimit, maxRateListLimit)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	rates, err := h.converter.List(r.Context(), from, to, limit)
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, apperrors.ErrFailedToRetrieveExchangeRate.Error(), err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, rates)
}

// SetRate handles POST requests that record a manual exchange rate.
// Recording the same observation twice returns the stored row.
//
// Endpoint: POST /api/fx
// Request Body: SetExchangeRateRequest (asOf, fromCurrency, toCurrency, rate)
// Response: 201 Created with FxRate
// Error: 400 Bad Request if validation fails or request body is invalid
// Error: 500 Internal Server Error if the rate cannot be stored
func (h *FxHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.SetExchangeRateRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := validation.ValidateSetExchangeRate(req); err != nil {
		response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	// Both parses already succeeded during validation.
	asOf, _ := validation.ParseTime(req.AsOf)
	rate, _ := decimal.NewFromString(strings.TrimSpace(req.Rate))

	stored, err := h.converter.Store(r.Context(), model.FxRate{
		AsOf:           asOf,
		SourceCurrency: req.FromCurrency,
		TargetCurrency: req.ToCurrency,
		Rate:           rate,
		Provider:       fx.ManualProvider,
	})
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, apperrors.ErrFailedToUpdateExchangeRate.Error(), err.Error())
		return
	}

	response.RespondJSON(w, http.StatusCreated, stored)
}

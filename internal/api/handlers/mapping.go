package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/api/response"
	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/database"
	"github.com/ndewijer/portfolio-snapshot/internal/instrument"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/validation"
)

// MappingHandler handles the administrative instrument mapping endpoints.
// The capture pipeline never maps instruments; these requests do.
type MappingHandler struct {
	mapper *instrument.Mapper
}

// NewMappingHandler creates a new MappingHandler.
func NewMappingHandler(mapper *instrument.Mapper) *MappingHandler {
	return &MappingHandler{
		mapper: mapper,
	}
}

// MapByISINResponse reports how many instruments a heuristic pass mapped.
type MapByISINResponse struct {
	Mapped int `json:"mapped"`
}

// CreateGlobalInstrument handles POST requests that create a broker-independent
// instrument identity.
//
// Endpoint: POST /api/instrument/global
// Request Body: CreateGlobalInstrumentRequest (name, symbol, assetClass, isin)
// Response: 201 Created with GlobalInstrument
// Error: 400 Bad Request if validation fails or request body is invalid
// Error: 409 Conflict if the ISIN is already used by another identity
// Error: 500 Internal Server Error if creation fails
func (h *MappingHandler) CreateGlobalInstrument(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.CreateGlobalInstrumentRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := validation.ValidateCreateGlobalInstrument(req); err != nil {
		response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	global, err := h.mapper.CreateGlobal(r.Context(), model.GlobalInstrument{
		Name:       req.Name,
		Symbol:     strings.TrimSpace(req.Symbol),
		AssetClass: strings.TrimSpace(req.AssetClass),
		ISIN:       req.ISIN,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidGlobalPayload):
			response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		case database.IsUniqueViolation(err):
			response.RespondError(w, http.StatusConflict, "global instrument already exists", err.Error())
		default:
			response.RespondError(w, http.StatusInternalServerError, "failed to create global instrument", err.Error())
		}
		return
	}

	response.RespondJSON(w, http.StatusCreated, global)
}

// MapInstrument handles POST requests that link a broker instrument to a
// global identity. Mapping to the current target again is a no-op; moving
// an already-mapped instrument requires replace=true.
//
// Endpoint: POST /api/instrument/mapping
// Request Body: MapInstrumentRequest (instrumentId, globalInstrumentId, source, confidence, replace)
// Response: 200 OK with InstrumentMapping
// Error: 400 Bad Request if validation fails or request body is invalid
// Error: 404 Not Found if either instrument does not exist
// Error: 409 Conflict if the instrument is mapped elsewhere and replace is false
// Error: 500 Internal Server Error if mapping fails
func (h *MappingHandler) MapInstrument(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.MapInstrumentRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := validation.ValidateMapInstrument(req); err != nil {
		response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	mapReq := instrument.MapRequest{
		InstrumentID:       req.InstrumentID,
		GlobalInstrumentID: req.GlobalInstrumentID,
		Source:             model.MappingSourceManual,
		Replace:            req.Replace,
	}
	if req.Source != "" {
		mapReq.Source = model.MappingSource(req.Source)
	}
	if req.Confidence != nil {
		// Validated above.
		c, _ := decimal.NewFromString(strings.TrimSpace(*req.Confidence))
		mapReq.Confidence = decimal.NewNullDecimal(c)
	}

	mapping, err := h.mapper.Map(r.Context(), mapReq)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInstrumentNotFound), errors.Is(err, apperrors.ErrGlobalInstrumentNotFound):
			response.RespondError(w, http.StatusNotFound, "instrument not found", err.Error())
		case errors.Is(err, apperrors.ErrMappingExists):
			response.RespondError(w, http.StatusConflict, apperrors.ErrMappingExists.Error(), err.Error())
		case errors.Is(err, apperrors.ErrInvalidMappingSource):
			response.RespondError(w, http.StatusBadRequest, "validation failed", err.Error())
		default:
			response.RespondError(w, http.StatusInternalServerError, "failed to map instrument", err.Error())
		}
		return
	}

	response.RespondJSON(w, http.StatusOK, mapping)
}

// MapByISIN handles POST requests that run the ISIN heuristic over every
// unmapped instrument.
//
// Endpoint: POST /api/instrument/mapping/isin
// Response: 200 OK with MapByISINResponse
// Error: 500 Internal Server Error if the pass fails
func (h *MappingHandler) MapByISIN(w http.ResponseWriter, r *http.Request) {
	mapped, err := h.mapper.MapByISIN(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to map instruments by ISIN", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, MapByISINResponse{Mapped: mapped})
}

// ListUnmapped handles GET requests for instruments without a global identity.
// These instruments are excluded from the allocation view.
//
// Endpoint: GET /api/instrument/unmapped
// Response: 200 OK with array of Instrument
// Error: 500 Internal Server Error if retrieval fails
func (h *MappingHandler) ListUnmapped(w http.ResponseWriter, r *http.Request) {
	instruments, err := h.mapper.ListUnmapped(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to retrieve unmapped instruments", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, instruments)
}

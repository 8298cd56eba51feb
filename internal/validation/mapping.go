package validation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

func ValidateCreateGlobalInstrument(req request.CreateGlobalInstrumentRequest) error {
	errors := make(map[string]string)

	if strings.TrimSpace(req.Name) == "" {
		errors["name"] = "name is required"
	}
	if req.ISIN != nil {
		isin := strings.TrimSpace(*req.ISIN)
		if isin != "" && len(isin) != 12 {
			errors["isin"] = "isin must be 12 characters"
		}
	}

	return errorOrNil(errors)
}

func ValidateMapInstrument(req request.MapInstrumentRequest) error {
	errors := make(map[string]string)

	if err := ValidateUUID(req.InstrumentID); err != nil {
		errors["instrumentId"] = err.Error()
	}
	if err := ValidateUUID(req.GlobalInstrumentID); err != nil {
		errors["globalInstrumentId"] = err.Error()
	}
	if req.Source != "" && !model.MappingSource(req.Source).Valid() {
		errors["source"] = "source must be one of: manual, heuristic, broker"
	}
	if req.Confidence != nil {
		c, err := decimal.NewFromString(strings.TrimSpace(*req.Confidence))
		switch {
		case err != nil:
			errors["confidence"] = "confidence not a valid number"
		case c.IsNegative() || c.GreaterThan(decimal.NewFromInt(1)):
			errors["confidence"] = "confidence must be between 0 and 1"
		}
	}

	return errorOrNil(errors)
}

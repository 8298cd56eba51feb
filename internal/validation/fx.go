package validation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/api/request"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
)

// ValidateSetExchangeRate checks a manual rate before it is stored.
func ValidateSetExchangeRate(req request.SetExchangeRateRequest) error {
	errors := make(map[string]string)

	if strings.TrimSpace(req.AsOf) == "" {
		errors["asOf"] = "asOf is required"
	} else if _, err := ParseTime(req.AsOf); err != nil {
		errors["asOf"] = err.Error()
	}

	if err := fx.ValidateCurrency(strings.ToUpper(strings.TrimSpace(req.FromCurrency))); err != nil {
		errors["fromCurrency"] = err.Error()
	}
	if err := fx.ValidateCurrency(strings.ToUpper(strings.TrimSpace(req.ToCurrency))); err != nil {
		errors["toCurrency"] = err.Error()
	}
	if _, ok := errors["fromCurrency"]; !ok && strings.EqualFold(strings.TrimSpace(req.FromCurrency), strings.TrimSpace(req.ToCurrency)) {
		errors["toCurrency"] = "toCurrency must differ from fromCurrency"
	}

	if strings.TrimSpace(req.Rate) == "" {
		errors["rate"] = "rate is required"
	} else if rate, err := decimal.NewFromString(strings.TrimSpace(req.Rate)); err != nil {
		errors["rate"] = "rate not a valid number"
	} else if !rate.IsPositive() {
		errors["rate"] = "rate must be positive"
	}

	return errorOrNil(errors)
}

// ValidateCurrencyPair checks the query parameters of a rate lookup.
func ValidateCurrencyPair(from, to string) error {
	errors := make(map[string]string)
	if err := fx.ValidateCurrency(strings.ToUpper(from)); err != nil {
		errors["from"] = err.Error()
	}
	if err := fx.ValidateCurrency(strings.ToUpper(to)); err != nil {
		errors["to"] = err.Error()
	}
	return errorOrNil(errors)
}

package request

// SetExchangeRateRequest is the request body for recording a manual exchange rate.
type SetExchangeRateRequest struct {
	AsOf         string `json:"asOf"`         // AsOf is the observation time, YYYY-MM-DD or RFC3339.
	FromCurrency string `json:"fromCurrency"` // FromCurrency is the source currency code (e.g. "USD").
	ToCurrency   string `json:"toCurrency"`   // ToCurrency is the target currency code (e.g. "EUR").
	Rate         string `json:"rate"`         // Rate is the exchange rate as a decimal string.
}

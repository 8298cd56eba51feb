package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FxRate is an immutable exchange rate observation: 1 SourceCurrency = Rate TargetCurrency.
// The same-currency identity rate carries an empty ID and is never stored.
type FxRate struct {
	ID             string          `json:"id"`
	AsOf           time.Time       `json:"asOf"`
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	Rate           decimal.Decimal `json:"rate"`
	Provider       string          `json:"provider"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// IsIdentity reports whether the rate is the same-currency short-circuit.
func (r FxRate) IsIdentity() bool {
	return r.ID == "" && r.SourceCurrency == r.TargetCurrency
}

// RateID returns a pointer to the stored rate id, or nil for the identity rate.
func (r FxRate) RateID() *string {
	if r.ID == "" {
		return nil
	}
	id := r.ID
	return &id
}

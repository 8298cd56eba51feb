package fx

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a rate observation returned by a Source.
type Quote struct {
	AsOf     time.Time
	Rate     decimal.Decimal
	Provider string
}

// Pair is a currency conversion direction: 1 Source = rate Target.
type Pair struct {
	Source string
	Target string
}

// Source fetches rates from an external provider. Implementations return
// apperrors.ErrExchangeRateNotFound when the provider has no observation at
// or before asOf.
type Source interface {
	GetRate(ctx context.Context, source, target string, asOf time.Time) (Quote, error)
}

// Package broker defines the capability every broker integration provides
// and the retry policy applied around it. Concrete adapters live in their
// own packages and register a Factory with a Registry.
package broker

import (
	"context"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/shopspring/decimal"
)

// Adapter fetches one account's current state from a broker. Fetch must
// not mutate broker-side state and must be safe to call repeatedly.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, account model.BrokerAccount) (*FetchResult, error)
}

// HealthChecker is implemented by adapters that can verify their
// credentials without fetching a full snapshot.
type HealthChecker interface {
	CheckAuth(ctx context.Context) error
}

// RawDocument is one verbatim broker response.
type RawDocument struct {
	Endpoint    string
	ContentType string
	Payload     []byte
	ReceivedAt  time.Time
}

// NormalizedPosition is one holding as reported by the broker, in the
// instrument's local currency.
type NormalizedPosition struct {
	Instrument   model.ObservedInstrument
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	MarketValue  decimal.Decimal
	CostBasis    decimal.NullDecimal
	UnrealizedPL decimal.NullDecimal
	Short        bool
}

// NormalizedSnapshot is the broker-independent view of an account. AsOf is
// the broker-asserted instant, not the fetch time.
type NormalizedSnapshot struct {
	AsOf            time.Time
	Currency        string
	TotalValueLocal decimal.Decimal
	Positions       []NormalizedPosition
}

// NormalizedTrade is a broker-reported execution.
type NormalizedTrade struct {
	BrokerTradeID string
	Instrument    model.ObservedInstrument
	TradeTime     time.Time
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Currency      string
}

// FetchResult carries the verbatim payloads of one fetch together with the
// normalized representation derived from them. FxRates holds broker-native
// conversion rates; Trades is empty for brokers that do not report them.
type FetchResult struct {
	Raw      []RawDocument
	Snapshot NormalizedSnapshot
	FxRates  []model.FxRate
	Trades   []NormalizedTrade
}

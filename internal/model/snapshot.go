package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one broker account's point-in-time state. SnapshotKey is
// derived from broker, account and as-of time only; RunID records the run
// that last wrote or touched the row.
type Snapshot struct {
	ID              string          `json:"id"`
	RunID           string          `json:"runId"`
	AccountID       string          `json:"accountId"`
	Broker          string          `json:"broker"`
	BrokerAccountID string          `json:"brokerAccountId"`
	AsOf            time.Time       `json:"asOf"`
	SnapshotKey     string          `json:"snapshotKey"`
	LocalCurrency   string          `json:"localCurrency"`
	TotalValueLocal decimal.Decimal `json:"totalValueLocal"`
	TotalValueBase  decimal.Decimal `json:"totalValueBase"`
	BaseCurrency    string          `json:"baseCurrency"`
	FxRateID        *string         `json:"fxRateId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Position is one instrument holding within a snapshot.
type Position struct {
	ID               string              `json:"id"`
	SnapshotID       string              `json:"snapshotId"`
	InstrumentID     string              `json:"instrumentId"`
	Quantity         decimal.Decimal     `json:"quantity"`
	Price            decimal.Decimal     `json:"price"`
	Currency         string              `json:"currency"`
	MarketValueLocal decimal.Decimal     `json:"marketValueLocal"`
	MarketValueBase  decimal.Decimal     `json:"marketValueBase"`
	FxRateID         *string             `json:"fxRateId,omitempty"`
	CostBasis        decimal.NullDecimal `json:"costBasis"`
	UnrealizedPL     decimal.NullDecimal `json:"unrealizedPl"`
	IsShort          bool                `json:"isShort"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// SameValues reports whether two positions record the same underlying values.
func (p Position) SameValues(o Position) bool {
	return p.Quantity.Equal(o.Quantity) &&
		p.Price.Equal(o.Price) &&
		p.Currency == o.Currency &&
		p.MarketValueLocal.Equal(o.MarketValueLocal) &&
		p.MarketValueBase.Equal(o.MarketValueBase) &&
		equalStringPtr(p.FxRateID, o.FxRateID) &&
		equalNullDecimal(p.CostBasis, o.CostBasis) &&
		equalNullDecimal(p.UnrealizedPL, o.UnrealizedPL) &&
		p.IsShort == o.IsShort
}

// RawPayload is a verbatim broker response retained for audit and replay.
type RawPayload struct {
	ID          string    `json:"id"`
	RunID       string    `json:"runId"`
	AccountID   string    `json:"accountId"`
	Broker      string    `json:"broker"`
	Endpoint    string    `json:"endpoint"`
	ContentType string    `json:"contentType"`
	Payload     []byte    `json:"-"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Trade is a broker-reported transaction, upserted by BrokerTradeID.
type Trade struct {
	ID              string              `json:"id"`
	Broker          string              `json:"broker"`
	BrokerTradeID   string              `json:"brokerTradeId"`
	AccountID       string              `json:"accountId"`
	BrokerAccountID string              `json:"brokerAccountId"`
	InstrumentID    string              `json:"instrumentId"`
	TradeTime       time.Time           `json:"tradeTime"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Price           decimal.Decimal     `json:"price"`
	Currency        string              `json:"currency"`
	AmountLocal     decimal.Decimal     `json:"amountLocal"`
	AmountBase      decimal.NullDecimal `json:"amountBase"`
	FxRateID        *string             `json:"fxRateId,omitempty"`
	RunID           string              `json:"runId"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalNullDecimal(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Decimal.Equal(b.Decimal)
}

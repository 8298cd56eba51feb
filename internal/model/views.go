package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LatestSnapshot is the most recent snapshot of one broker account.
type LatestSnapshot struct {
	SnapshotID      string          `json:"snapshotId"`
	Broker          string          `json:"broker"`
	BrokerAccountID string          `json:"brokerAccountId"`
	AsOf            time.Time       `json:"asOf"`
	LocalCurrency   string          `json:"localCurrency"`
	TotalValueLocal decimal.Decimal `json:"totalValueLocal"`
	BaseCurrency    string          `json:"baseCurrency"`
	TotalValueBase  decimal.Decimal `json:"totalValueBase"`
}

// DailyAccountValue is the last snapshot of an account on a UTC day.
type DailyAccountValue struct {
	Day             string
	Broker          string
	BrokerAccountID string
	AsOf            time.Time
	BaseCurrency    string
	TotalValueBase  decimal.Decimal
}

// DailyPortfolioValue sums the daily account values across accounts.
type DailyPortfolioValue struct {
	Day          string          `json:"day"`
	BaseCurrency string          `json:"baseCurrency"`
	TotalValue   decimal.Decimal `json:"totalValue"`
	Accounts     int             `json:"accounts"`
}

// PositionHistoryRow is one position observation over time.
type PositionHistoryRow struct {
	AsOf               time.Time           `json:"asOf"`
	Broker             string              `json:"broker"`
	BrokerAccountID    string              `json:"brokerAccountId"`
	InstrumentID       string              `json:"instrumentId"`
	BrokerInstrumentID string              `json:"brokerInstrumentId"`
	Symbol             string              `json:"symbol"`
	Name               string              `json:"name"`
	Currency           string              `json:"currency"`
	Quantity           decimal.Decimal     `json:"quantity"`
	Price              decimal.Decimal     `json:"price"`
	MarketValueLocal   decimal.Decimal     `json:"marketValueLocal"`
	BaseCurrency       string              `json:"baseCurrency"`
	MarketValueBase    decimal.Decimal     `json:"marketValueBase"`
	CostBasis          decimal.NullDecimal `json:"costBasis"`
	UnrealizedPL       decimal.NullDecimal `json:"unrealizedPl"`
}

// PositionHistoryFilter narrows a position history query. Empty fields match everything.
type PositionHistoryFilter struct {
	Broker          string
	BrokerAccountID string
	InstrumentID    string
	Start           *time.Time
	End             *time.Time
}

// AllocationRow is one mapped position of a latest snapshot.
type AllocationRow struct {
	GlobalInstrumentID string
	GlobalName         string
	GlobalSymbol       string
	Broker             string
	BrokerAccountID    string
	BaseCurrency       string
	Quantity           decimal.Decimal
	MarketValueBase    decimal.Decimal
}

// AllocationEntry aggregates value per global instrument across brokers.
type AllocationEntry struct {
	GlobalInstrumentID string          `json:"globalInstrumentId"`
	Name               string          `json:"name"`
	Symbol             string          `json:"symbol"`
	BaseCurrency       string          `json:"baseCurrency"`
	Quantity           decimal.Decimal `json:"quantity"`
	Value              decimal.Decimal `json:"value"`
	Weight             decimal.Decimal `json:"weight"`
}

// BrokerAllocation is the portfolio value held at one broker.
type BrokerAllocation struct {
	Broker       string          `json:"broker"`
	BaseCurrency string          `json:"baseCurrency"`
	Value        decimal.Decimal `json:"value"`
	Accounts     int             `json:"accounts"`
}

// Package alpaca reads account state from the Alpaca trading API using the
// official SDK.
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BrokerName is the registry key for this adapter.
const BrokerName = "alpaca"

const (
	LiveBaseURL  = "https://api.alpaca.markets"
	PaperBaseURL = "https://paper-api.alpaca.markets"
)

// TradingAPI is the subset of the SDK client used by the adapter.
type TradingAPI interface {
	GetAccount() (*alpacaapi.Account, error)
	GetPositions() ([]alpacaapi.Position, error)
	GetClock() (*alpacaapi.Clock, error)
}

// Adapter captures an Alpaca account. The as-of instant is the broker
// clock timestamp.
type Adapter struct {
	api TradingAPI
	log zerolog.Logger
	now func() time.Time
}

// Register adds the Alpaca factory to reg.
func Register(reg *broker.Registry) {
	reg.Register(BrokerName, New)
}

// New is the broker.Factory for Alpaca accounts.
func New(s broker.Settings, log zerolog.Logger) (broker.Adapter, error) {
	if s.APIKey == "" || s.APISecret == "" {
		return nil, errors.New("alpaca api key and secret are required")
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = LiveBaseURL
		if s.Paper {
			baseURL = PaperBaseURL
		}
	}
	client := alpacaapi.NewClient(alpacaapi.ClientOpts{
		APIKey:    s.APIKey,
		APISecret: s.APISecret,
		BaseURL:   strings.TrimRight(baseURL, "/"),
	})
	return NewAdapter(client, log), nil
}

// NewAdapter wraps an SDK client.
func NewAdapter(api TradingAPI, log zerolog.Logger) *Adapter {
	return &Adapter{api: api, log: log, now: time.Now}
}

// Name returns the broker name.
func (a *Adapter) Name() string { return BrokerName }

// CheckAuth verifies the key pair by reading the account.
func (a *Adapter) CheckAuth(ctx context.Context) error {
	_, err := call(ctx, a.api.GetAccount)
	if err != nil {
		return classify(err, "account")
	}
	return nil
}

type accountDoc struct {
	AccountNumber string          `json:"account_number"`
	Currency      string          `json:"currency"`
	Equity        decimal.Decimal `json:"equity"`
}

type positionDoc struct {
	AssetID      string              `json:"asset_id"`
	Symbol       string              `json:"symbol"`
	AssetClass   string              `json:"asset_class"`
	Qty          decimal.Decimal     `json:"qty"`
	Side         string              `json:"side"`
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	MarketValue  decimal.NullDecimal `json:"market_value"`
	CostBasis    decimal.NullDecimal `json:"cost_basis"`
	UnrealizedPL decimal.NullDecimal `json:"unrealized_pl"`
}

type clockDoc struct {
	Timestamp time.Time `json:"timestamp"`
}

// Fetch reads the clock, the account and its open positions.
func (a *Adapter) Fetch(ctx context.Context, account model.BrokerAccount) (*broker.FetchResult, error) {
	clock, err := call(ctx, a.api.GetClock)
	if err != nil {
		return nil, classify(err, "clock")
	}
	acct, err := call(ctx, a.api.GetAccount)
	if err != nil {
		return nil, classify(err, "account")
	}
	positions, err := call(ctx, a.api.GetPositions)
	if err != nil {
		return nil, classify(err, "positions")
	}

	var raw []broker.RawDocument
	var cd clockDoc
	var ad accountDoc
	var pd []positionDoc
	for _, part := range []struct {
		endpoint string
		value    any
		into     any
	}{
		{"/v2/clock", clock, &cd},
		{"/v2/account", acct, &ad},
		{"/v2/positions", positions, &pd},
	} {
		payload, err := json.Marshal(part.value)
		if err != nil {
			return nil, broker.NewParsingError("failed to encode "+part.endpoint, raw, err)
		}
		raw = append(raw, broker.RawDocument{
			Endpoint:    part.endpoint,
			ContentType: "application/json",
			Payload:     payload,
			ReceivedAt:  a.now().UTC(),
		})
		if err := json.Unmarshal(payload, part.into); err != nil {
			return nil, broker.NewParsingError("failed to decode "+part.endpoint, raw, err)
		}
	}

	if ad.AccountNumber != "" && ad.AccountNumber != account.BrokerAccountID {
		return nil, broker.NewValidationError(
			fmt.Sprintf("credentials belong to account %s, not %s", ad.AccountNumber, account.BrokerAccountID), raw, nil)
	}

	snap, err := normalize(cd, ad, pd)
	if err != nil {
		return nil, broker.NewParsingError("failed to normalize alpaca account", raw, err)
	}

	a.log.Debug().
		Str("account", account.BrokerAccountID).
		Time("as_of", snap.AsOf).
		Int("positions", len(snap.Positions)).
		Msg("alpaca account normalized")

	return &broker.FetchResult{Raw: raw, Snapshot: snap}, nil
}

func normalize(clock clockDoc, acct accountDoc, positions []positionDoc) (broker.NormalizedSnapshot, error) {
	if clock.Timestamp.IsZero() {
		return broker.NormalizedSnapshot{}, errors.New("clock timestamp missing")
	}
	currency := strings.ToUpper(acct.Currency)
	if currency == "" {
		currency = "USD"
	}

	snap := broker.NormalizedSnapshot{
		AsOf:            clock.Timestamp.UTC(),
		Currency:        currency,
		TotalValueLocal: acct.Equity,
	}

	for _, p := range positions {
		if p.AssetID == "" && p.Symbol == "" {
			return broker.NormalizedSnapshot{}, errors.New("position without asset id")
		}
		id := p.AssetID
		if id == "" {
			id = p.Symbol
		}
		short := strings.EqualFold(p.Side, "short")
		qty := p.Qty
		if short && qty.IsPositive() {
			qty = qty.Neg()
		}

		price := p.CurrentPrice.Decimal
		value := p.MarketValue.Decimal
		if !p.MarketValue.Valid {
			value = price.Mul(qty)
		}

		snap.Positions = append(snap.Positions, broker.NormalizedPosition{
			Instrument: model.ObservedInstrument{
				BrokerInstrumentID: id,
				Symbol:             p.Symbol,
				AssetClass:         p.AssetClass,
				Currency:           currency,
			},
			Quantity:     qty,
			Price:        price,
			MarketValue:  value,
			CostBasis:    p.CostBasis,
			UnrealizedPL: p.UnrealizedPL,
			Short:        short || qty.IsNegative(),
		})
	}
	return snap, nil
}

// call runs a blocking SDK request so that ctx cancellation is observed.
// The SDK does not accept a context; an abandoned request finishes in the
// background and its result is discarded.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func classify(err error, what string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *alpacaapi.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("alpaca %s request returned %d", what, apiErr.StatusCode)
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return broker.NewAuthError(msg, err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return broker.NewRateLimitError(msg, 0, err)
		case apiErr.StatusCode >= 500:
			return broker.NewNetworkError(msg, err)
		default:
			return broker.NewValidationError(msg, nil, err)
		}
	}
	return broker.NewNetworkError("alpaca "+what+" request failed", err)
}

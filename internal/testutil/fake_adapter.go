package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// FakeAdapter is a scripted broker.Adapter for testing. Each call to Fetch
// consumes the next scripted step; the last step repeats once the script is
// exhausted.
//
// Example usage:
//
//	adapter := testutil.NewFakeAdapter("fake").
//	    Failing(broker.NewNetworkError("reset", nil)).
//	    Returning(testutil.NewFetchResult(asOf).WithTotal("100").Build())
type FakeAdapter struct {
	name  string
	delay time.Duration

	mu    sync.Mutex
	steps []fakeStep
	calls int
}

type fakeStep struct {
	res   *broker.FetchResult
	err   error
	panic any
}

// NewFakeAdapter creates a FakeAdapter reporting name as its broker.
func NewFakeAdapter(name string) *FakeAdapter {
	return &FakeAdapter{name: name}
}

// Returning appends a successful step.
func (f *FakeAdapter) Returning(res *broker.FetchResult) *FakeAdapter {
	f.steps = append(f.steps, fakeStep{res: res})
	return f
}

// Failing appends a failing step.
func (f *FakeAdapter) Failing(err error) *FakeAdapter {
	f.steps = append(f.steps, fakeStep{err: err})
	return f
}

// Panicking appends a step that panics with v.
func (f *FakeAdapter) Panicking(v any) *FakeAdapter {
	f.steps = append(f.steps, fakeStep{panic: v})
	return f
}

// WithDelay makes every Fetch wait d, or until the context ends.
func (f *FakeAdapter) WithDelay(d time.Duration) *FakeAdapter {
	f.delay = d
	return f
}

// Name returns the broker name.
func (f *FakeAdapter) Name() string { return f.name }

// Fetch plays the next scripted step.
func (f *FakeAdapter) Fetch(ctx context.Context, _ model.BrokerAccount) (*broker.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	var step fakeStep
	if len(f.steps) > 0 {
		i := f.calls - 1
		if i >= len(f.steps) {
			i = len(f.steps) - 1
		}
		step = f.steps[i]
	}
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.panic != nil {
		panic(step.panic)
	}
	return step.res, step.err
}

// CallCount returns how many times Fetch was called.
func (f *FakeAdapter) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FetchResultBuilder provides a fluent interface for adapter results.
//
// Example usage:
//
//	res := testutil.NewFetchResult(asOf).
//	    WithCurrency("USD").
//	    WithTotal("1500").
//	    WithPosition("AAPL", "10", "150").
//	    Build()
type FetchResultBuilder struct {
	res broker.FetchResult
}

// NewFetchResult creates a builder for a USD snapshot at asOf with one raw document.
func NewFetchResult(asOf time.Time) *FetchResultBuilder {
	return &FetchResultBuilder{res: broker.FetchResult{
		Raw: []broker.RawDocument{{
			Endpoint:    "/fake/account",
			ContentType: "application/json",
			Payload:     []byte(`{"fake":true}`),
			ReceivedAt:  asOf,
		}},
		Snapshot: broker.NormalizedSnapshot{
			AsOf:            asOf,
			Currency:        "USD",
			TotalValueLocal: decimal.Zero,
		},
	}}
}

// WithCurrency sets the snapshot's local currency.
func (b *FetchResultBuilder) WithCurrency(ccy string) *FetchResultBuilder {
	b.res.Snapshot.Currency = ccy
	return b
}

// WithTotal sets the snapshot's local total.
func (b *FetchResultBuilder) WithTotal(total string) *FetchResultBuilder {
	b.res.Snapshot.TotalValueLocal = decimal.RequireFromString(total)
	return b
}

// WithPosition adds a long position whose market value is qty * price, in the snapshot currency.
func (b *FetchResultBuilder) WithPosition(instrumentID, qty, price string) *FetchResultBuilder {
	return b.withPosition(instrumentID, qty, price, b.res.Snapshot.Currency, false)
}

// WithPositionIn adds a long position held in currency ccy.
func (b *FetchResultBuilder) WithPositionIn(instrumentID, qty, price, ccy string) *FetchResultBuilder {
	return b.withPosition(instrumentID, qty, price, ccy, false)
}

// WithShortPosition adds a short position; qty should be negative.
func (b *FetchResultBuilder) WithShortPosition(instrumentID, qty, price string) *FetchResultBuilder {
	return b.withPosition(instrumentID, qty, price, b.res.Snapshot.Currency, true)
}

func (b *FetchResultBuilder) withPosition(instrumentID, qty, price, ccy string, short bool) *FetchResultBuilder {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	b.res.Snapshot.Positions = append(b.res.Snapshot.Positions, broker.NormalizedPosition{
		Instrument: model.ObservedInstrument{
			BrokerInstrumentID: instrumentID,
			Symbol:             instrumentID,
			Name:               instrumentID + " Inc",
			AssetClass:         "STK",
			Currency:           ccy,
		},
		Quantity:    q,
		Price:       p,
		MarketValue: q.Mul(p),
		Short:       short,
	})
	return b
}

// WithTrade adds a trade on instrumentID.
func (b *FetchResultBuilder) WithTrade(brokerTradeID, instrumentID, qty, price string, at time.Time) *FetchResultBuilder {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	b.res.Trades = append(b.res.Trades, broker.NormalizedTrade{
		BrokerTradeID: brokerTradeID,
		Instrument: model.ObservedInstrument{
			BrokerInstrumentID: instrumentID,
			Symbol:             instrumentID,
			Currency:           b.res.Snapshot.Currency,
		},
		TradeTime: at,
		Quantity:  q,
		Price:     p,
		Amount:    q.Mul(p).Neg(),
		Currency:  b.res.Snapshot.Currency,
	})
	return b
}

// WithFxRate adds a broker-native conversion rate.
func (b *FetchResultBuilder) WithFxRate(source, target, rate string, at time.Time) *FetchResultBuilder {
	b.res.FxRates = append(b.res.FxRates, model.FxRate{
		AsOf:           at,
		SourceCurrency: source,
		TargetCurrency: target,
		Rate:           decimal.RequireFromString(rate),
		Provider:       "fake",
	})
	return b
}

// WithRaw replaces the raw documents with a single payload.
func (b *FetchResultBuilder) WithRaw(endpoint string, payload []byte) *FetchResultBuilder {
	b.res.Raw = []broker.RawDocument{{
		Endpoint:    endpoint,
		ContentType: "application/json",
		Payload:     payload,
		ReceivedAt:  b.res.Snapshot.AsOf,
	}}
	return b
}

// Build returns a copy of the result.
func (b *FetchResultBuilder) Build() *broker.FetchResult {
	res := b.res
	res.Raw = append([]broker.RawDocument(nil), b.res.Raw...)
	res.Snapshot.Positions = append([]broker.NormalizedPosition(nil), b.res.Snapshot.Positions...)
	res.Trades = append([]broker.NormalizedTrade(nil), b.res.Trades...)
	res.FxRates = append([]model.FxRate(nil), b.res.FxRates...)
	return &res
}

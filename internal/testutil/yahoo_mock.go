package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/yahoo"
)

// MockYahooClient is a yahoo.Client serving canned FX charts. Charts can be
// registered per symbol with WithChart; otherwise the default response is
// returned for every symbol. It is safe for concurrent use.
type MockYahooClient struct {
	mu       sync.Mutex
	charts   map[string]yahoo.Response
	fallback yahoo.Response
	err      error

	// LastSymbol records the symbol of the most recent query
	LastSymbol string
	// QueryCount tracks how many times a query method was called
	QueryCount int
}

// NewMockYahooClient creates a mock with no data; every query returns an
// empty chart until a response is configured.
func NewMockYahooClient() *MockYahooClient {
	return &MockYahooClient{
		charts:   make(map[string]yahoo.Response),
		fallback: emptyChart(),
	}
}

// QuerySymbolByDateRange returns the chart registered for symbol, the
// default response, or the configured error.
func (m *MockYahooClient) QuerySymbolByDateRange(_ context.Context, symbol string, _, _ time.Time) (yahoo.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.QueryCount++
	m.LastSymbol = symbol
	if m.err != nil {
		return yahoo.Response{}, m.err
	}
	if resp, ok := m.charts[symbol]; ok {
		return resp, nil
	}
	return m.fallback, nil
}

// ParseChart uses the real parser; it has no side effects.
func (m *MockYahooClient) ParseChart(yahooResult yahoo.Response) (yahoo.PriceChart, error) {
	return yahoo.NewFinanceClient("", 0).ParseChart(yahooResult)
}

// Queries returns the number of queries made so far.
func (m *MockYahooClient) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.QueryCount
}

// WithError makes every query fail with err.
func (m *MockYahooClient) WithError(err error) *MockYahooClient {
	m.err = err
	return m
}

// WithResponse sets the response returned for symbols without their own chart.
func (m *MockYahooClient) WithResponse(resp yahoo.Response) *MockYahooClient {
	m.fallback = resp
	return m
}

// WithChart registers a response for one symbol, e.g. "USDEUR=X".
func (m *MockYahooClient) WithChart(symbol string, resp yahoo.Response) *MockYahooClient {
	m.charts[symbol] = resp
	return m
}

// WithEmptyResponse makes unregistered symbols return a chart without results.
func (m *MockYahooClient) WithEmptyResponse() *MockYahooClient {
	m.fallback = emptyChart()
	return m
}

// FxClose is one daily close of a currency pair.
type FxClose struct {
	Date time.Time
	Rate float64
}

// NewFxChart builds a Yahoo chart response for an FX symbol from daily closes.
func NewFxChart(symbol string, closes ...FxClose) yahoo.Response {
	timestamps := make([]int64, len(closes))
	rates := make([]*float64, len(closes))
	volumes := make([]*int64, len(closes))
	for i, c := range closes {
		rate := c.Rate
		zero := int64(0)
		timestamps[i] = c.Date.Unix()
		rates[i] = &rate
		volumes[i] = &zero
	}

	return yahoo.Response{
		Chart: yahoo.Chart{
			Result: []yahoo.Result{{
				Meta: yahoo.Meta{
					Symbol:       symbol,
					ExchangeName: "CCY",
					Shortname:    symbol,
				},
				Timestamp: timestamps,
				Indicators: yahoo.IndicatorsContainer{
					Quote: []yahoo.Quote{{
						Open:   rates,
						High:   rates,
						Low:    rates,
						Close:  rates,
						Volume: volumes,
					}},
				},
			}},
		},
	}
}

// NewFxChartAt builds a chart with a single close at date.
func NewFxChartAt(symbol string, date time.Time, rate float64) yahoo.Response {
	return NewFxChart(symbol, FxClose{Date: date, Rate: rate})
}

// NewYahooErrorResponse builds a chart response carrying a Yahoo error message.
func NewYahooErrorResponse(msg string) yahoo.Response {
	return yahoo.Response{
		Chart: yahoo.Chart{
			Result: []yahoo.Result{},
			Error:  &msg,
		},
	}
}

func emptyChart() yahoo.Response {
	return yahoo.Response{Chart: yahoo.Chart{Result: []yahoo.Result{}}}
}

package alpaca

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	clockJSON     = `{"timestamp":"2024-03-15T16:00:00.5-04:00","is_open":false}`
	accountJSON   = `{"id":"b1c2","account_number":"PA3ABC","status":"ACTIVE","currency":"USD","cash":"100","equity":"2600.25"}`
	positionsJSON = `[
	  {"asset_id":"a-aapl","symbol":"AAPL","exchange":"NASDAQ","asset_class":"us_equity","qty":"10","side":"long",
	   "avg_entry_price":"120","market_value":"1500","cost_basis":"1200","unrealized_pl":"300","current_price":"150"},
	  {"asset_id":"a-tsla","symbol":"TSLA","exchange":"NASDAQ","asset_class":"us_equity","qty":"-5","side":"short",
	   "avg_entry_price":"210","market_value":"-1000","cost_basis":"-1050","unrealized_pl":"50","current_price":"200"}
	]`
)

var testAccount = model.BrokerAccount{ID: "acc-1", Broker: BrokerName, BrokerAccountID: "PA3ABC", BaseCurrency: "EUR"}

func newServerAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(broker.Settings{
		Broker:    BrokerName,
		APIKey:    "key",
		APISecret: "secret",
		BaseURL:   srv.URL,
	}, zerolog.Nop())
	require.NoError(t, err)
	return a.(*Adapter)
}

func alpacaHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/clock":
			w.Write([]byte(clockJSON)) //nolint:errcheck
		case "/v2/account":
			w.Write([]byte(accountJSON)) //nolint:errcheck
		case "/v2/positions":
			w.Write([]byte(positionsJSON)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

// TestAdapter_Fetch_Normalizes verifies the clock as-of, equity total and positions.
func TestAdapter_Fetch_Normalizes(t *testing.T) {
	a := newServerAdapter(t, alpacaHandler(t))

	res, err := a.Fetch(context.Background(), testAccount)
	require.NoError(t, err)

	want := time.Date(2024, 3, 15, 20, 0, 0, 500_000_000, time.UTC)
	assert.True(t, res.Snapshot.AsOf.Equal(want), "as-of %s", res.Snapshot.AsOf)
	assert.Equal(t, time.UTC, res.Snapshot.AsOf.Location())
	assert.Equal(t, "USD", res.Snapshot.Currency)
	assert.Equal(t, "2600.25", res.Snapshot.TotalValueLocal.String())
	assert.Len(t, res.Raw, 3)

	require.Len(t, res.Snapshot.Positions, 2)
	long := res.Snapshot.Positions[0]
	assert.Equal(t, "a-aapl", long.Instrument.BrokerInstrumentID)
	assert.Equal(t, "AAPL", long.Instrument.Symbol)
	assert.Equal(t, "10", long.Quantity.String())
	assert.Equal(t, "150", long.Price.String())
	assert.Equal(t, "1500", long.MarketValue.String())
	assert.Equal(t, "300", long.UnrealizedPL.Decimal.String())
	assert.False(t, long.Short)

	short := res.Snapshot.Positions[1]
	assert.Equal(t, "-5", short.Quantity.String())
	assert.True(t, short.Short)
}

func TestAdapter_Fetch_WrongAccount(t *testing.T) {
	a := newServerAdapter(t, alpacaHandler(t))

	other := testAccount
	other.BrokerAccountID = "PA3XYZ"
	_, err := a.Fetch(context.Background(), other)

	require.Error(t, err)
	assert.Equal(t, broker.CategoryValidation, broker.CategoryOf(err))
	assert.Len(t, broker.RawOf(err), 3)
}

func TestAdapter_Fetch_Unauthorized(t *testing.T) {
	a := newServerAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":40110000,"message":"request is not authorized"}`)) //nolint:errcheck
	})

	_, err := a.Fetch(context.Background(), testAccount)
	require.Error(t, err)
	assert.Equal(t, broker.CategoryAuth, broker.CategoryOf(err))

	assert.Equal(t, broker.CategoryAuth, broker.CategoryOf(a.CheckAuth(context.Background())))
}

type blockingAPI struct {
	release chan struct{}
}

func (b *blockingAPI) GetAccount() (*alpacaapi.Account, error) {
	<-b.release
	return nil, nil
}

func (b *blockingAPI) GetPositions() ([]alpacaapi.Position, error) {
	<-b.release
	return nil, nil
}

func (b *blockingAPI) GetClock() (*alpacaapi.Clock, error) {
	<-b.release
	return nil, nil
}

// TestAdapter_Fetch_HonorsContext verifies a stalled SDK call is abandoned on ctx expiry.
//
// WHY: the SDK has no context parameter; without this a hung broker would
// hold a coordinator slot past the fetch timeout.
func TestAdapter_Fetch_HonorsContext(t *testing.T) {
	api := &blockingAPI{release: make(chan struct{})}
	defer close(api.release)
	a := NewAdapter(api, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.Fetch(ctx, testAccount)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, broker.CategoryNetwork, broker.CategoryOf(err))
}

func TestNormalize_MissingClock(t *testing.T) {
	_, err := normalize(clockDoc{}, accountDoc{Currency: "USD"}, nil)
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(broker.Settings{Broker: BrokerName, APIKey: "k"}, zerolog.Nop())
	assert.Error(t, err)

	a, err := New(broker.Settings{Broker: BrokerName, APIKey: "k", APISecret: "s", Paper: true}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, BrokerName, a.Name())
}

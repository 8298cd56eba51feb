package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestParseChart(t *testing.T) {
	day1 := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)

	resp := Response{Chart: Chart{Result: []Result{{
		Meta:      Meta{Symbol: "EURUSD=X", Currency: "USD"},
		Timestamp: []int64{day1.Unix(), day2.Unix(), day3.Unix()},
		Indicators: IndicatorsContainer{Quote: []Quote{{
			Close: []*float64{ptr(1.08), nil, ptr(1.09)},
			Open:  []*float64{ptr(1.07), nil, nil},
		}}},
	}}}}

	client := NewFinanceClient("", time.Second)

	t.Run("drops null closes", func(t *testing.T) {
		chart, err := client.ParseChart(resp)
		require.NoError(t, err)
		require.Len(t, chart.Indicators, 2)
		assert.Equal(t, "1.08", chart.Indicators[0].PriceClose.String())
		assert.Equal(t, "1.07", chart.Indicators[0].PriceOpen.String())
		assert.True(t, chart.Indicators[1].PriceOpen.IsZero())
	})

	t.Run("latest at or before picks the closest earlier point", func(t *testing.T) {
		chart, err := client.ParseChart(resp)
		require.NoError(t, err)

		ind, ok := chart.LatestAtOrBefore(day2.Add(12 * time.Hour))
		require.True(t, ok)
		assert.Equal(t, day1, ind.Date)

		_, ok = chart.LatestAtOrBefore(day1.Add(-time.Hour))
		assert.False(t, ok)
	})

	t.Run("mismatched lengths are rejected", func(t *testing.T) {
		bad := Response{Chart: Chart{Result: []Result{{
			Timestamp:  []int64{day1.Unix()},
			Indicators: IndicatorsContainer{Quote: []Quote{{Close: []*float64{ptr(1.0), ptr(2.0)}}}},
		}}}}
		_, err := client.ParseChart(bad)
		assert.Error(t, err)
	})

	t.Run("empty result is rejected", func(t *testing.T) {
		_, err := client.ParseChart(Response{})
		assert.Error(t, err)
	})
}

func TestQuerySymbolByDateRange(t *testing.T) {
	t.Run("decodes chart from server", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v8/finance/chart/EURUSD=X", r.URL.Path)
			assert.Equal(t, "1d", r.URL.Query().Get("interval"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"EURUSD=X","currency":"USD"},` + //nolint:errcheck
				`"timestamp":[1709510400],"indicators":{"quote":[{"close":[1.0843]}]}}],"error":null}}`))
		}))
		defer srv.Close()

		client := NewFinanceClient(srv.URL, time.Second)
		resp, err := client.QuerySymbolByDateRange(context.Background(), "EURUSD=X",
			time.Unix(1709000000, 0), time.Unix(1709600000, 0))
		require.NoError(t, err)

		chart, err := client.ParseChart(resp)
		require.NoError(t, err)
		assert.Equal(t, "EURUSD=X", chart.Symbol)
		assert.Equal(t, "1.0843", chart.Indicators[0].PriceClose.String())
	})

	t.Run("surfaces yahoo error message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"chart":{"result":null,"error":"No data found"}}`)) //nolint:errcheck
		}))
		defer srv.Close()

		client := NewFinanceClient(srv.URL, time.Second)
		_, err := client.QuerySymbolByDateRange(context.Background(), "XXXYYY=X", time.Now(), time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "No data found")
	})
}

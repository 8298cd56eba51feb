package fx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/yahoo"
)

// YahooProvider is the provider label stored with rates fetched from Yahoo Finance.
const YahooProvider = "yahoo"

// lookback is how far before as-of the daily chart is requested, wide
// enough to span weekends and market holidays.
const lookback = 7 * 24 * time.Hour

// YahooSource reads daily FX closes from the Yahoo Finance chart API using
// the "EURUSD=X" symbol convention.
type YahooSource struct {
	client yahoo.Client
}

// NewYahooSource creates a Source backed by the given Yahoo client.
func NewYahooSource(client yahoo.Client) *YahooSource {
	return &YahooSource{client: client}
}

// Symbol returns the Yahoo ticker for a currency pair.
func Symbol(source, target string) string {
	return strings.ToUpper(source) + strings.ToUpper(target) + "=X"
}

// GetRate returns the latest daily close at or before asOf.
func (s *YahooSource) GetRate(ctx context.Context, source, target string, asOf time.Time) (Quote, error) {
	resp, err := s.client.QuerySymbolByDateRange(ctx, Symbol(source, target), asOf.Add(-lookback), asOf.Add(24*time.Hour))
	if err != nil {
		return Quote{}, fmt.Errorf("failed to query yahoo for %s/%s: %w", source, target, err)
	}

	chart, err := s.client.ParseChart(resp)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s/%s: %w", apperrors.ErrExchangeRateNotFound, source, target, err)
	}

	ind, ok := chart.LatestAtOrBefore(asOf)
	if !ok || !ind.PriceClose.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s/%s at %s", apperrors.ErrExchangeRateNotFound, source, target, asOf.Format(time.RFC3339))
	}

	return Quote{AsOf: ind.Date, Rate: ind.PriceClose, Provider: YahooProvider}, nil
}

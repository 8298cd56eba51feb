package fx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/logger"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/ndewijer/portfolio-snapshot/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConverter_Rate verifies the rate selection policy.
//
// WHY: every base-currency value records the rate it was converted with, so
// picking the wrong observation silently corrupts portfolio totals.
func TestConverter_Rate(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (*fx.Converter, model.FxRate, model.FxRate) {
		t.Helper()
		db := testutil.SetupTestDB(t)
		early := testutil.NewFxRate("USD", "EUR", "1.25").At(day.Add(9 * time.Hour)).Build(t, db)
		late := testutil.NewFxRate("USD", "EUR", "1.30").At(day.Add(11 * time.Hour)).Build(t, db)
		return fx.NewConverter(repository.NewFxRateRepository(db), nil, logger.Nop()), early, late
	}

	t.Run("uses latest rate before as-of", func(t *testing.T) {
		// Setup
		conv, early, _ := setup(t)

		// Execute
		rate, err := conv.Rate(ctx, "USD", "EUR", day.Add(10*time.Hour))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, early.ID, rate.ID)
		assert.True(t, rate.Rate.Equal(decimal.RequireFromString("1.25")))
	})

	t.Run("prefers exact timestamp match", func(t *testing.T) {
		conv, _, late := setup(t)

		rate, err := conv.Rate(ctx, "USD", "EUR", day.Add(11*time.Hour))

		require.NoError(t, err)
		assert.Equal(t, late.ID, rate.ID)
	})

	t.Run("never extrapolates backwards", func(t *testing.T) {
		conv, _, _ := setup(t)

		_, err := conv.Rate(ctx, "USD", "EUR", day.Add(8*time.Hour))

		assert.ErrorIs(t, err, apperrors.ErrExchangeRateNotFound)
	})

	t.Run("does not invert pairs", func(t *testing.T) {
		conv, _, _ := setup(t)

		_, err := conv.Rate(ctx, "EUR", "USD", day.Add(12*time.Hour))

		assert.ErrorIs(t, err, apperrors.ErrExchangeRateNotFound)
	})

	t.Run("same currency short-circuits without a stored id", func(t *testing.T) {
		conv, _, _ := setup(t)

		rate, err := conv.Rate(ctx, "eur", "EUR", day)

		require.NoError(t, err)
		assert.True(t, rate.Rate.Equal(decimal.NewFromInt(1)))
		assert.Empty(t, rate.ID)
		assert.Nil(t, rate.RateID())
		assert.True(t, rate.IsIdentity())
	})
}

func TestConverter_Convert(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	asOf := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	stored := testutil.NewFxRate("USD", "EUR", "0.9").At(asOf.Add(-time.Hour)).Build(t, db)
	conv := fx.NewConverter(repository.NewFxRateRepository(db), nil, logger.Nop())

	amount, rate, err := conv.Convert(ctx, decimal.RequireFromString("1500.50"), "USD", "EUR", asOf)

	require.NoError(t, err)
	assert.Equal(t, "1350.45", amount.String())
	require.NotNil(t, rate.RateID())
	assert.Equal(t, stored.ID, *rate.RateID())
}

func TestConverter_Store(t *testing.T) {
	ctx := context.Background()
	asOf := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	t.Run("rejects unknown currency", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		conv := fx.NewConverter(repository.NewFxRateRepository(db), nil, logger.Nop())

		_, err := conv.Store(ctx, model.FxRate{SourceCurrency: "XXQ", TargetCurrency: "EUR", Rate: decimal.NewFromInt(1), AsOf: asOf})

		assert.ErrorIs(t, err, apperrors.ErrInvalidCurrency)
	})

	t.Run("rejects non-positive rate", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		conv := fx.NewConverter(repository.NewFxRateRepository(db), nil, logger.Nop())

		_, err := conv.Store(ctx, model.FxRate{SourceCurrency: "USD", TargetCurrency: "EUR", Rate: decimal.Zero, AsOf: asOf})

		assert.ErrorIs(t, err, apperrors.ErrNonPositiveRate)
	})

	t.Run("duplicate observation keeps the first row", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		conv := fx.NewConverter(repository.NewFxRateRepository(db), nil, logger.Nop())

		first, err := conv.Store(ctx, model.FxRate{SourceCurrency: "usd", TargetCurrency: "eur", Rate: decimal.RequireFromString("0.91"), AsOf: asOf})
		require.NoError(t, err)
		second, err := conv.Store(ctx, model.FxRate{SourceCurrency: "USD", TargetCurrency: "EUR", Rate: decimal.RequireFromString("0.95"), AsOf: asOf})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "0.91", second.Rate.String())
		assert.Equal(t, fx.ManualProvider, second.Provider)
		assert.Equal(t, 1, testutil.CountRows(t, db, "fx_rate"))
	})
}

func TestConverter_Prefetch(t *testing.T) {
	ctx := context.Background()
	asOf := time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC)

	t.Run("fills missing pairs from the source once per day", func(t *testing.T) {
		// Setup
		db := testutil.SetupTestDB(t)
		mock := testutil.NewMockYahooClient().
			WithResponse(testutil.NewFxChartAt("USDEUR=X", asOf.Truncate(24*time.Hour), 0.92))
		conv := fx.NewConverter(repository.NewFxRateRepository(db), fx.NewYahooSource(mock), logger.Nop())
		pairs := []fx.Pair{{Source: "USD", Target: "EUR"}, {Source: "usd", Target: "eur"}, {Source: "EUR", Target: "EUR"}}

		// Execute
		stored := conv.Prefetch(ctx, pairs, asOf)
		again := conv.Prefetch(ctx, pairs, asOf)

		// Assert
		assert.Equal(t, 1, stored)
		assert.Equal(t, 0, again)
		assert.Equal(t, 1, mock.Queries())
		assert.Equal(t, "USDEUR=X", mock.LastSymbol)

		rate, err := conv.Rate(ctx, "USD", "EUR", asOf)
		require.NoError(t, err)
		assert.Equal(t, "0.92", rate.Rate.String())
		assert.Equal(t, fx.YahooProvider, rate.Provider)
	})

	t.Run("source failures are skipped", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		mock := testutil.NewMockYahooClient().WithError(errors.New("connection refused"))
		conv := fx.NewConverter(repository.NewFxRateRepository(db), fx.NewYahooSource(mock), logger.Nop())

		stored := conv.Prefetch(ctx, []fx.Pair{{Source: "USD", Target: "EUR"}}, asOf)

		assert.Equal(t, 0, stored)
		_, err := conv.Rate(ctx, "USD", "EUR", asOf)
		assert.ErrorIs(t, err, apperrors.ErrExchangeRateNotFound)
	})

	t.Run("no source is a no-op", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		conv := fx.NewConverter(repository.NewFxRateRepository(db), nil, logger.Nop())

		assert.Equal(t, 0, conv.Prefetch(ctx, []fx.Pair{{Source: "USD", Target: "EUR"}}, asOf))
	})
}

func TestYahooSource_GetRate(t *testing.T) {
	ctx := context.Background()
	asOf := time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC)

	t.Run("quote after as-of is not used", func(t *testing.T) {
		mock := testutil.NewMockYahooClient().
			WithResponse(testutil.NewFxChartAt("EURUSD=X", asOf.Add(time.Hour), 1.1))

		_, err := fx.NewYahooSource(mock).GetRate(ctx, "EUR", "USD", asOf)

		assert.ErrorIs(t, err, apperrors.ErrExchangeRateNotFound)
	})

	t.Run("uses the latest close at or before as-of", func(t *testing.T) {
		day := asOf.Truncate(24 * time.Hour)
		mock := testutil.NewMockYahooClient().
			WithChart("EURUSD=X", testutil.NewFxChart("EURUSD=X",
				testutil.FxClose{Date: day.AddDate(0, 0, -2), Rate: 1.08},
				testutil.FxClose{Date: day.AddDate(0, 0, -1), Rate: 1.085},
				testutil.FxClose{Date: day.AddDate(0, 0, 1), Rate: 1.2},
			)).
			WithChart("GBPUSD=X", testutil.NewFxChartAt("GBPUSD=X", day, 1.27))

		quote, err := fx.NewYahooSource(mock).GetRate(ctx, "eur", "usd", asOf)

		require.NoError(t, err)
		assert.Equal(t, "1.085", quote.Rate.String())
		assert.True(t, quote.AsOf.Equal(day.AddDate(0, 0, -1)))
		assert.Equal(t, "EURUSD=X", mock.LastSymbol)
	})

	t.Run("yahoo error response is not found", func(t *testing.T) {
		mock := testutil.NewMockYahooClient().
			WithResponse(testutil.NewYahooErrorResponse("No data found, symbol may be delisted"))

		_, err := fx.NewYahooSource(mock).GetRate(ctx, "EUR", "XYZ", asOf)

		assert.ErrorIs(t, err, apperrors.ErrExchangeRateNotFound)
	})

	t.Run("empty chart is not found", func(t *testing.T) {
		mock := testutil.NewMockYahooClient().WithEmptyResponse()

		_, err := fx.NewYahooSource(mock).GetRate(ctx, "EUR", "USD", asOf)

		assert.ErrorIs(t, err, apperrors.ErrExchangeRateNotFound)
	})
}

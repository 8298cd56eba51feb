package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/idempotency"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
	"github.com/ndewijer/portfolio-snapshot/internal/testutil"
)

var writerAsOf = time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)

// TestSnapshotWriter_Commit_IdempotentRetry verifies that committing the
// same fetch twice converges on one snapshot.
//
// WHY: runs are retried as a whole with a fresh run id; without
// convergence every retry would duplicate the portfolio history.
func TestSnapshotWriter_Commit_IdempotentRetry(t *testing.T) {
	// Setup
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
	run1 := testutil.NewRun().Build(t, db)
	run2 := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).
		WithTotal("2500").
		WithPosition("AAPL", "10", "150").
		WithPosition("MSFT", "2.5", "400").
		Build()

	// Execute
	first, err := writer.Commit(ctx, run1, account, res)
	require.NoError(t, err)
	second, err := writer.Commit(ctx, run2, account, res)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, service.WriteCreated, first.Outcome)
	assert.Equal(t, service.WriteUnchanged, second.Outcome)
	assert.Equal(t, first.SnapshotID, second.SnapshotID)
	assert.Equal(t, idempotency.SnapshotKey(account.Broker, account.BrokerAccountID, writerAsOf), first.SnapshotKey)

	testutil.AssertRowCount(t, db, "snapshot", 1)
	testutil.AssertRowCount(t, db, "position", 2)
	testutil.AssertRowCount(t, db, "instrument", 2)
	// Every fetch attempt keeps its raw payload.
	testutil.AssertRowCount(t, db, "raw_payload", 2)

	stored, err := repository.NewSnapshotRepository(db).GetByID(ctx, first.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, run2.ID, stored.RunID, "provenance moves to the run that last touched the snapshot")
	assert.True(t, stored.TotalValueBase.Equal(decimal.RequireFromString("2500")))
	assert.Nil(t, stored.FxRateID, "same-currency totals record no rate")
}

// TestSnapshotWriter_Commit_Conflict verifies that a differing total under
// an existing key is reported and nothing is written.
func TestSnapshotWriter_Commit_Conflict(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)

	_, err := writer.Commit(ctx, run, account, testutil.NewFetchResult(writerAsOf).WithTotal("100").Build())
	require.NoError(t, err)

	_, err = writer.Commit(ctx, run, account, testutil.NewFetchResult(writerAsOf).WithTotal("101").Build())

	require.ErrorIs(t, err, apperrors.ErrSnapshotConflict)
	assert.Equal(t, broker.CategoryStorage, broker.CategoryOf(err))
	testutil.AssertRowCount(t, db, "snapshot", 1)
	testutil.AssertRowCount(t, db, "raw_payload", 1)

	stored, err := repository.NewSnapshotRepository(db).GetByKey(ctx,
		idempotency.SnapshotKey(account.Broker, account.BrokerAccountID, writerAsOf))
	require.NoError(t, err)
	assert.Equal(t, "100", stored.TotalValueLocal.String())
}

// TestSnapshotWriter_Commit_BaseCurrencyChanged verifies that a snapshot is
// never relabelled after the account's base currency was edited.
func TestSnapshotWriter_Commit_BaseCurrencyChanged(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).WithTotal("100").WithPosition("AAPL", "1", "100").Build()

	first, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)

	testutil.NewFxRate("USD", "EUR", "0.9").At(writerAsOf.Add(-time.Hour)).Build(t, db)
	account.BaseCurrency = "EUR"

	_, err = writer.Commit(ctx, run, account, res)

	require.ErrorIs(t, err, apperrors.ErrSnapshotConflict)
	assert.Contains(t, err.Error(), "base currency USD")

	repo := repository.NewSnapshotRepository(db)
	stored, err := repo.GetByID(ctx, first.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "USD", stored.BaseCurrency)
	assert.Equal(t, "100", stored.TotalValueBase.String())
	assert.Nil(t, stored.FxRateID)

	positions, err := repo.ListPositions(ctx, first.SnapshotID)
	require.NoError(t, err)
	for _, p := range positions {
		assert.Equal(t, "100", p.MarketValueBase.String())
	}
	testutil.AssertRowCount(t, db, "snapshot", 1)
}

// TestSnapshotWriter_Commit_CollapsesDuplicatePositions verifies one row per instrument.
func TestSnapshotWriter_Commit_CollapsesDuplicatePositions(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).
		WithTotal("1800").
		WithPosition("AAPL", "10", "150").
		WithPosition("AAPL", "12", "150").
		Build()

	result, err := writer.Commit(ctx, run, account, res)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Positions)
	testutil.AssertRowCount(t, db, "position", 1)

	positions, err := repository.NewSnapshotRepository(db).ListPositions(ctx, result.SnapshotID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	for _, p := range positions {
		assert.Equal(t, "12", p.Quantity.String(), "last seen entry wins")
		assert.Equal(t, "1800", p.MarketValueLocal.String())
	}
}

// TestSnapshotWriter_Commit_RollsBackOnFailure verifies that nothing of a
// failed account unit becomes visible.
//
// WHY: raw payloads, instruments and positions are written before the
// failing conversion; a partial commit would leave orphaned rows.
func TestSnapshotWriter_Commit_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).
		WithTotal("1000").
		WithPosition("AAPL", "1", "100").
		WithPositionIn("VOD", "100", "0.7", "GBP").
		Build()

	_, err := writer.Commit(ctx, run, account, res)

	require.ErrorIs(t, err, apperrors.ErrExchangeRateNotFound)
	assert.Equal(t, broker.CategoryValidation, broker.CategoryOf(err))
	for _, table := range []string{"snapshot", "position", "raw_payload", "instrument"} {
		testutil.AssertRowCount(t, db, table, 0)
	}
}

// TestSnapshotWriter_Commit_ConvertsToBase verifies base values and rate provenance.
func TestSnapshotWriter_Commit_ConvertsToBase(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("EUR").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	rate := testutil.NewFxRate("USD", "EUR", "0.9").At(writerAsOf.Add(-time.Hour)).Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).
		WithTotal("1000").
		WithPosition("AAPL", "4", "250").
		Build()

	result, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)

	repo := repository.NewSnapshotRepository(db)
	snap, err := repo.GetByID(ctx, result.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "900", snap.TotalValueBase.String())
	assert.Equal(t, "EUR", snap.BaseCurrency)
	assert.Equal(t, "USD", snap.LocalCurrency)
	require.NotNil(t, snap.FxRateID)
	assert.Equal(t, rate.ID, *snap.FxRateID)

	positions, err := repo.ListPositions(ctx, result.SnapshotID)
	require.NoError(t, err)
	for _, p := range positions {
		assert.Equal(t, "900", p.MarketValueBase.String())
		require.NotNil(t, p.FxRateID)
		assert.Equal(t, rate.ID, *p.FxRateID)
	}
}

func TestSnapshotWriter_Commit_UsesBrokerNativeRates(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("EUR").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).
		WithTotal("200").
		WithFxRate("USD", "EUR", "0.5", writerAsOf).
		Build()

	result, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)

	snap, err := repository.NewSnapshotRepository(db).GetByID(ctx, result.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "100", snap.TotalValueBase.String())
	testutil.AssertRowCount(t, db, "fx_rate", 1)

	// A second commit of the same statement does not duplicate the rate.
	_, err = writer.Commit(ctx, run, account, res)
	require.NoError(t, err)
	testutil.AssertRowCount(t, db, "fx_rate", 1)
}

// TestSnapshotWriter_Commit_RefreshesConvertedValues verifies that a newer
// rate observation updates base values in place.
func TestSnapshotWriter_Commit_RefreshesConvertedValues(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("EUR").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	testutil.NewFxRate("USD", "EUR", "0.9").At(writerAsOf.Add(-2 * time.Hour)).Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).WithTotal("1000").WithPosition("AAPL", "4", "250").Build()

	first, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)

	newer := testutil.NewFxRate("USD", "EUR", "0.95").At(writerAsOf.Add(-time.Hour)).Build(t, db)
	second, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)

	assert.Equal(t, service.WriteRefreshed, second.Outcome)
	assert.Equal(t, first.SnapshotID, second.SnapshotID)

	repo := repository.NewSnapshotRepository(db)
	snap, err := repo.GetByID(ctx, first.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, "950", snap.TotalValueBase.String())
	assert.Equal(t, newer.ID, *snap.FxRateID)

	positions, err := repo.ListPositions(ctx, first.SnapshotID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	for _, p := range positions {
		assert.Equal(t, "950", p.MarketValueBase.String())
	}
	testutil.AssertRowCount(t, db, "position", 1)
}

// TestSnapshotWriter_Commit_FrozenWindow verifies that old snapshots can be
// touched but not rewritten.
func TestSnapshotWriter_Commit_FrozenWindow(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("EUR").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	asOf := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)
	testutil.NewFxRate("USD", "EUR", "0.9").At(asOf.Add(-time.Hour)).Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 24*time.Hour)
	res := testutil.NewFetchResult(asOf).WithTotal("1000").Build()

	// A late first capture of an old as-of is still accepted.
	_, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)

	// Identical data only touches provenance.
	again, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)
	assert.Equal(t, service.WriteUnchanged, again.Outcome)

	// A newer rate would change values outside the window.
	testutil.NewFxRate("USD", "EUR", "0.8").At(asOf.Add(-30 * time.Minute)).Build(t, db)
	_, err = writer.Commit(ctx, run, account, res)
	require.ErrorIs(t, err, apperrors.ErrSnapshotFrozen)
	assert.Equal(t, broker.CategoryStorage, broker.CategoryOf(err))
}

func TestSnapshotWriter_Commit_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		res  func() *broker.FetchResult
		rule error
	}{
		{
			name: "negative quantity on long position",
			res: func() *broker.FetchResult {
				return testutil.NewFetchResult(writerAsOf).WithPosition("AAPL", "-3", "100").Build()
			},
			rule: apperrors.ErrNegativeQuantity,
		},
		{
			name: "missing as-of",
			res: func() *broker.FetchResult {
				return testutil.NewFetchResult(time.Time{}).Build()
			},
			rule: apperrors.ErrMissingAsOf,
		},
		{
			name: "unknown currency",
			res: func() *broker.FetchResult {
				return testutil.NewFetchResult(writerAsOf).WithCurrency("ZZZ").Build()
			},
			rule: apperrors.ErrInvalidCurrency,
		},
		{
			name: "missing instrument id",
			res: func() *broker.FetchResult {
				return testutil.NewFetchResult(writerAsOf).WithPosition("", "1", "1").Build()
			},
			rule: apperrors.ErrMissingInstrumentID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
			run := testutil.NewRun().Build(t, db)
			writer := testutil.NewTestSnapshotWriter(t, db, 0)

			_, err := writer.Commit(ctx, run, account, tt.res())

			require.ErrorIs(t, err, apperrors.ErrInvalidSnapshot)
			require.ErrorIs(t, err, tt.rule)
			assert.Equal(t, broker.CategoryValidation, broker.CategoryOf(err))
			testutil.AssertRowCount(t, db, "raw_payload", 0)
		})
	}
}

func TestSnapshotWriter_Commit_ShortPosition(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	res := testutil.NewFetchResult(writerAsOf).WithTotal("-500").WithShortPosition("TSLA", "-5", "100").Build()

	result, err := writer.Commit(ctx, run, account, res)
	require.NoError(t, err)

	positions, err := repository.NewSnapshotRepository(db).ListPositions(ctx, result.SnapshotID)
	require.NoError(t, err)
	for _, p := range positions {
		assert.True(t, p.IsShort)
		assert.Equal(t, "-500", p.MarketValueLocal.String())
	}
}

// TestSnapshotWriter_Commit_UpsertsTrades verifies trades are keyed by broker trade id.
func TestSnapshotWriter_Commit_UpsertsTrades(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	tradeAt := writerAsOf.Add(-3 * time.Hour)

	_, err := writer.Commit(ctx, run, account, testutil.NewFetchResult(writerAsOf).
		WithTotal("1500").WithTrade("fake:T1", "AAPL", "10", "150", tradeAt).Build())
	require.NoError(t, err)

	// The broker corrected the execution price; a later as-of reports it again.
	_, err = writer.Commit(ctx, run, account, testutil.NewFetchResult(writerAsOf.Add(24*time.Hour)).
		WithTotal("1510").WithTrade("fake:T1", "AAPL", "10", "151", tradeAt).Build())
	require.NoError(t, err)

	testutil.AssertRowCount(t, db, "trade", 1)
	trade, err := repository.NewSnapshotRepository(db).GetTradeByBrokerID(ctx, "fake:T1")
	require.NoError(t, err)
	assert.Equal(t, "151", trade.Price.String())
	assert.Equal(t, "-1510", trade.AmountLocal.String())
	assert.True(t, trade.AmountBase.Valid)
	assert.True(t, trade.TradeTime.Equal(tradeAt))
}

// TestSnapshotWriter_Commit_TradeIDOwnedByAnotherAccount verifies that a
// trade id reported by a second account never takes over the stored trade.
func TestSnapshotWriter_Commit_TradeIDOwnedByAnotherAccount(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	first := testutil.NewAccount().WithBroker("alpha").WithBaseCurrency("USD").Build(t, db)
	second := testutil.NewAccount().WithBroker("beta").WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)
	tradeAt := writerAsOf.Add(-3 * time.Hour)

	_, err := writer.Commit(ctx, run, first, testutil.NewFetchResult(writerAsOf).
		WithTotal("1500").WithTrade("T1", "AAPL", "10", "150", tradeAt).Build())
	require.NoError(t, err)

	_, err = writer.Commit(ctx, run, second, testutil.NewFetchResult(writerAsOf).
		WithTotal("990").WithTrade("T1", "MSFT", "3", "330", tradeAt).Build())

	require.ErrorIs(t, err, apperrors.ErrTradeConflict)
	assert.Equal(t, broker.CategoryStorage, broker.CategoryOf(err))

	trade, err := repository.NewSnapshotRepository(db).GetTradeByBrokerID(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, trade.AccountID)
	assert.Equal(t, "150", trade.Price.String())
	testutil.AssertRowCount(t, db, "trade", 1)
	testutil.AssertRowCount(t, db, "snapshot", 1)
}

func TestSnapshotWriter_Commit_TradeWithoutRateKeepsLocalAmount(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().WithBaseCurrency("EUR").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	testutil.NewFxRate("USD", "EUR", "0.9").At(writerAsOf.Add(-time.Hour)).Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)

	_, err := writer.Commit(ctx, run, account, testutil.NewFetchResult(writerAsOf).
		WithTotal("10").WithTrade("fake:OLD", "AAPL", "1", "10", writerAsOf.Add(-30*24*time.Hour)).Build())
	require.NoError(t, err)

	trade, err := repository.NewSnapshotRepository(db).GetTradeByBrokerID(ctx, "fake:OLD")
	require.NoError(t, err)
	assert.False(t, trade.AmountBase.Valid)
	assert.Nil(t, trade.FxRateID)
}

func TestSnapshotWriter_RetainRaw(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	account := testutil.NewAccount().Build(t, db)
	run := testutil.NewRun().Build(t, db)
	writer := testutil.NewTestSnapshotWriter(t, db, 0)

	raw := testutil.NewFetchResult(writerAsOf).WithRaw("/broken", []byte("<not json")).Build().Raw
	require.NoError(t, writer.RetainRaw(ctx, run, account, raw))
	require.NoError(t, writer.RetainRaw(ctx, run, account, nil))

	payloads, err := repository.NewSnapshotRepository(db).ListRawPayloads(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "/broken", payloads[0].Endpoint)
	assert.Equal(t, []byte("<not json"), payloads[0].Payload)
	assert.Equal(t, account.ID, payloads[0].AccountID)
}

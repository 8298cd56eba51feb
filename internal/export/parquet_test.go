package export_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/portfolio-snapshot/internal/export"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/testutil"
)

type fakeHistory struct {
	rows []model.PositionHistoryRow
	err  error
}

func (f fakeHistory) StreamPositionHistory(_ context.Context, _ model.PositionHistoryFilter, fn func(model.PositionHistoryRow) error) error {
	for _, r := range f.rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return f.err
}

func historyRow(asOf time.Time, symbol, qty string) model.PositionHistoryRow {
	return model.PositionHistoryRow{
		AsOf:               asOf,
		Broker:             "ibkr",
		BrokerAccountID:    "U123",
		InstrumentID:       testutil.MakeID(),
		BrokerInstrumentID: symbol,
		Symbol:             symbol,
		Currency:           "USD",
		Quantity:           decimal.RequireFromString(qty),
		Price:              decimal.RequireFromString("187.123456789"),
		MarketValueLocal:   decimal.RequireFromString("100"),
		BaseCurrency:       "EUR",
		MarketValueBase:    decimal.RequireFromString("92"),
	}
}

func TestWritePositionHistory(t *testing.T) {
	asOf := time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)
	first := historyRow(asOf, "AAPL", "10")
	first.CostBasis = decimal.NewNullDecimal(decimal.RequireFromString("1500.50"))
	src := fakeHistory{rows: []model.PositionHistoryRow{first, historyRow(asOf, "MSFT", "-2.5")}}

	var buf bytes.Buffer
	n, err := export.WritePositionHistory(context.Background(), &buf, src, model.PositionHistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := parquet.Read[export.PositionRecord](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "AAPL", records[0].Symbol)
	assert.Equal(t, asOf.UnixMilli(), records[0].AsOf)
	assert.Equal(t, "187.123456789", records[0].Price)
	require.NotNil(t, records[0].CostBasis)
	assert.Equal(t, "1500.5", *records[0].CostBasis)
	assert.Nil(t, records[0].UnrealizedPL)
	assert.Equal(t, "-2.5", records[1].Quantity)
}

func TestWritePositionHistory_SourceError(t *testing.T) {
	src := fakeHistory{err: errors.New("database is locked")}

	var buf bytes.Buffer
	_, err := export.WritePositionHistory(context.Background(), &buf, src, model.PositionHistoryFilter{})
	assert.ErrorContains(t, err, "database is locked")
}

func TestWritePositionHistoryFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	acct := testutil.NewAccount().WithBroker("schwab").WithBaseCurrency("USD").Build(t, db)
	run := testutil.NewRun().Build(t, db)
	res := testutil.NewFetchResult(time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)).
		WithTotal("250").
		WithPosition("AAPL", "1", "150").
		WithPosition("MSFT", "1", "100").
		Build()
	_, err := testutil.NewTestSnapshotWriter(t, db, 0).Commit(context.Background(), run, acct, res)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "positions.parquet")
	n, err := export.WritePositionHistoryFile(context.Background(), path, testutil.NewTestViewService(t, db), model.PositionHistoryFilter{Broker: "schwab"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := parquet.ReadFile[export.PositionRecord](path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "schwab", r.Broker)
	}
}

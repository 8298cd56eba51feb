// Package export writes captured history to columnar files for offline analysis.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// batchSize is the number of rows buffered before a write to the parquet writer.
const batchSize = 1024

// PositionRecord is the Parquet schema for one position observation.
// Decimal values are stored as canonical decimal text so no precision is lost.
type PositionRecord struct {
	AsOf               int64   `parquet:"as_of,timestamp(millisecond)"` // Unix ms
	Broker             string  `parquet:"broker,dict"`
	BrokerAccountID    string  `parquet:"broker_account_id,dict"`
	InstrumentID       string  `parquet:"instrument_id"`
	BrokerInstrumentID string  `parquet:"broker_instrument_id"`
	Symbol             string  `parquet:"symbol,dict"`
	Name               string  `parquet:"name"`
	Currency           string  `parquet:"currency,dict"`
	Quantity           string  `parquet:"quantity"`
	Price              string  `parquet:"price"`
	MarketValueLocal   string  `parquet:"market_value_local"`
	BaseCurrency       string  `parquet:"base_currency,dict"`
	MarketValueBase    string  `parquet:"market_value_base"`
	CostBasis          *string `parquet:"cost_basis,optional"`
	UnrealizedPL       *string `parquet:"unrealized_pl,optional"`
}

// HistorySource streams position history rows.
type HistorySource interface {
	StreamPositionHistory(ctx context.Context, filter model.PositionHistoryFilter, fn func(model.PositionHistoryRow) error) error
}

// NewPositionRecord converts a view row to its on-disk form.
func NewPositionRecord(row model.PositionHistoryRow) PositionRecord {
	rec := PositionRecord{
		AsOf:               row.AsOf.UnixMilli(),
		Broker:             row.Broker,
		BrokerAccountID:    row.BrokerAccountID,
		InstrumentID:       row.InstrumentID,
		BrokerInstrumentID: row.BrokerInstrumentID,
		Symbol:             row.Symbol,
		Name:               row.Name,
		Currency:           row.Currency,
		Quantity:           row.Quantity.String(),
		Price:              row.Price.String(),
		MarketValueLocal:   row.MarketValueLocal.String(),
		BaseCurrency:       row.BaseCurrency,
		MarketValueBase:    row.MarketValueBase.String(),
	}
	if row.CostBasis.Valid {
		s := row.CostBasis.Decimal.String()
		rec.CostBasis = &s
	}
	if row.UnrealizedPL.Valid {
		s := row.UnrealizedPL.Decimal.String()
		rec.UnrealizedPL = &s
	}
	return rec
}

// WritePositionHistory streams the rows matching filter from src into w as a
// single Parquet file and returns the number of rows written.
func WritePositionHistory(ctx context.Context, w io.Writer, src HistorySource, filter model.PositionHistoryFilter) (int, error) {
	pw := parquet.NewGenericWriter[PositionRecord](w)

	total := 0
	batch := make([]PositionRecord, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := pw.Write(batch)
		total += n
		batch = batch[:0]
		return err
	}

	err := src.StreamPositionHistory(ctx, filter, func(row model.PositionHistoryRow) error {
		batch = append(batch, NewPositionRecord(row))
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		_ = pw.Close()
		return total, fmt.Errorf("failed to write position history: %w", err)
	}

	if err := pw.Close(); err != nil {
		return total, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return total, nil
}

// WritePositionHistoryFile writes the export to path, creating parent
// directories as needed. A failed export removes the partial file.
func WritePositionHistoryFile(ctx context.Context, path string, src HistorySource, filter model.PositionHistoryFilter) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	n, err := WritePositionHistory(ctx, f, src, filter)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

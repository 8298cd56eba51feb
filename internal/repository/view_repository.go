package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// ViewRepository reads the analytical views. It never mutates raw or
// normalized rows. Results are streamed through callbacks so long histories
// are processed one row at a time.
type ViewRepository struct {
	db *sql.DB
}

// NewViewRepository creates a new repository instance.
func NewViewRepository(db *sql.DB) *ViewRepository {
	return &ViewRepository{db: db}
}

// StreamLatestSnapshots calls fn for the latest snapshot of every account.
func (r *ViewRepository) StreamLatestSnapshots(ctx context.Context, fn func(model.LatestSnapshot) error) error {
	query := `
		SELECT id, broker, broker_account_id, asof_ts, local_currency, total_value_local,
		       base_currency, total_value_base
		FROM v_latest_snapshot
		ORDER BY broker, broker_account_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query v_latest_snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.LatestSnapshot
		var asOf string
		if err := rows.Scan(&s.SnapshotID, &s.Broker, &s.BrokerAccountID, &asOf, &s.LocalCurrency,
			&s.TotalValueLocal, &s.BaseCurrency, &s.TotalValueBase); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if s.AsOf, err = ParseTime(asOf); err != nil {
			return fmt.Errorf("failed to parse asof_ts: %w", err)
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

// StreamDailyAccountValues calls fn for the last snapshot of each account on
// each UTC day between start and end, inclusive, ordered by day.
func (r *ViewRepository) StreamDailyAccountValues(
	ctx context.Context,
	startDate, endDate time.Time,
	fn func(model.DailyAccountValue) error,
) error {
	query := `
		SELECT day, broker, broker_account_id, asof_ts, base_currency, total_value_base
		FROM v_daily_account_value
		WHERE day >= ? AND day <= ?
		ORDER BY day ASC, broker, broker_account_id
	`
	rows, err := r.db.QueryContext(ctx, query, startDate.UTC().Format("2006-01-02"), endDate.UTC().Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("failed to query v_daily_account_value: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v model.DailyAccountValue
		var asOf string
		if err := rows.Scan(&v.Day, &v.Broker, &v.BrokerAccountID, &asOf, &v.BaseCurrency, &v.TotalValueBase); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if v.AsOf, err = ParseTime(asOf); err != nil {
			return fmt.Errorf("failed to parse asof_ts: %w", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

// StreamPositionHistory calls fn for every position observation matching the filter, oldest first.
func (r *ViewRepository) StreamPositionHistory(
	ctx context.Context,
	filter model.PositionHistoryFilter,
	fn func(model.PositionHistoryRow) error,
) error {
	var where []string
	var args []any
	if filter.Broker != "" {
		where = append(where, "broker = ?")
		args = append(args, filter.Broker)
	}
	if filter.BrokerAccountID != "" {
		where = append(where, "broker_account_id = ?")
		args = append(args, filter.BrokerAccountID)
	}
	if filter.InstrumentID != "" {
		where = append(where, "instrument_id = ?")
		args = append(args, filter.InstrumentID)
	}
	if filter.Start != nil {
		where = append(where, "asof_ts >= ?")
		args = append(args, FormatTime(*filter.Start))
	}
	if filter.End != nil {
		where = append(where, "asof_ts <= ?")
		args = append(args, FormatTime(*filter.End))
	}

	query := `
		SELECT asof_ts, broker, broker_account_id, base_currency, instrument_id, broker_instrument_id,
		       symbol, name, currency, quantity, price, market_value_local, market_value_base,
		       cost_basis, unrealized_pl
		FROM v_position_history
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY asof_ts ASC, broker, broker_account_id, symbol"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query v_position_history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.PositionHistoryRow
		var asOf string
		if err := rows.Scan(&asOf, &p.Broker, &p.BrokerAccountID, &p.BaseCurrency, &p.InstrumentID,
			&p.BrokerInstrumentID, &p.Symbol, &p.Name, &p.Currency, &p.Quantity, &p.Price,
			&p.MarketValueLocal, &p.MarketValueBase, &p.CostBasis, &p.UnrealizedPL); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if p.AsOf, err = ParseTime(asOf); err != nil {
			return fmt.Errorf("failed to parse asof_ts: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

// StreamAllocationRows calls fn for every mapped position of the latest snapshots.
func (r *ViewRepository) StreamAllocationRows(ctx context.Context, fn func(model.AllocationRow) error) error {
	query := `
		SELECT global_instrument_id, global_name, global_symbol, broker, broker_account_id,
		       base_currency, quantity, market_value_base
		FROM v_allocation_by_global_instrument
		ORDER BY global_name, broker, broker_account_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query v_allocation_by_global_instrument: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a model.AllocationRow
		if err := rows.Scan(&a.GlobalInstrumentID, &a.GlobalName, &a.GlobalSymbol, &a.Broker,
			&a.BrokerAccountID, &a.BaseCurrency, &a.Quantity, &a.MarketValueBase); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

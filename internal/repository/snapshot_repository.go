package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// SnapshotRepository provides data access methods for the snapshot, position,
// raw_payload and trade tables. The Snapshot Writer uses it through WithTx so
// that one account's rows become visible together.
type SnapshotRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewSnapshotRepository creates a new SnapshotRepository with the provided database connection.
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// WithTx returns a new SnapshotRepository that uses the provided transaction.
func (r *SnapshotRepository) WithTx(tx *sql.Tx) *SnapshotRepository {
	return &SnapshotRepository{db: r.db, tx: tx}
}

func (r *SnapshotRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const snapshotColumns = `id, run_id, account_id, broker, broker_account_id, asof_ts, snapshot_key,
	local_currency, total_value_local, total_value_base, base_currency, fx_rate_id, created_at, updated_at`

// GetByKey retrieves a snapshot by its idempotency key.
func (r *SnapshotRepository) GetByKey(ctx context.Context, key string) (model.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshot WHERE snapshot_key = ?`
	return scanSnapshot(r.getQuerier().QueryRowContext(ctx, query, key))
}

// GetByID retrieves a snapshot by id.
func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (model.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshot WHERE id = ?`
	return scanSnapshot(r.getQuerier().QueryRowContext(ctx, query, id))
}

// Insert stores a new snapshot. A key collision surfaces as a unique
// constraint error; callers look the key up first.
func (r *SnapshotRepository) Insert(ctx context.Context, s model.Snapshot) error {
	query := `INSERT INTO snapshot (` + snapshotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.getQuerier().ExecContext(ctx, query,
		s.ID, s.RunID, s.AccountID, s.Broker, s.BrokerAccountID, FormatTime(s.AsOf), s.SnapshotKey,
		s.LocalCurrency, s.TotalValueLocal, s.TotalValueBase, s.BaseCurrency, nullString(s.FxRateID),
		FormatTime(s.CreatedAt), FormatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Touch records runID as the run that last wrote the snapshot and refreshes
// the base-currency conversion.
func (r *SnapshotRepository) Touch(ctx context.Context, id, runID string, totalBase decimal.Decimal, fxRateID *string, updatedAt time.Time) error {
	query := `
		UPDATE snapshot SET run_id = ?, total_value_base = ?, fx_rate_id = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.getQuerier().ExecContext(ctx, query, runID, totalBase, nullString(fxRateID), FormatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("failed to touch snapshot: %w", err)
	}
	return nil
}

// CountByAccount returns how many snapshots exist for a broker account.
func (r *SnapshotRepository) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.getQuerier().QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshot WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

func scanSnapshot(row rowScanner) (model.Snapshot, error) {
	var s model.Snapshot
	var asOf, createdAt, updatedAt string
	var fxRateID sql.NullString
	err := row.Scan(&s.ID, &s.RunID, &s.AccountID, &s.Broker, &s.BrokerAccountID, &asOf, &s.SnapshotKey,
		&s.LocalCurrency, &s.TotalValueLocal, &s.TotalValueBase, &s.BaseCurrency, &fxRateID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, apperrors.ErrSnapshotNotFound
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	s.FxRateID = stringPtr(fxRateID)
	if s.AsOf, err = ParseTime(asOf); err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to parse asof_ts: %w", err)
	}
	if s.CreatedAt, err = ParseTime(createdAt); err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if s.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return model.Snapshot{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return s, nil
}

const positionColumns = `id, snapshot_id, instrument_id, quantity, price, currency, market_value_local,
	market_value_base, fx_rate_id, cost_basis, unrealized_pl, is_short, created_at, updated_at`

// ListPositions returns the positions of a snapshot keyed by instrument id.
func (r *SnapshotRepository) ListPositions(ctx context.Context, snapshotID string) (map[string]model.Position, error) {
	rows, err := r.getQuerier().QueryContext(ctx,
		`SELECT `+positionColumns+` FROM position WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]model.Position)
	for rows.Next() {
		var p model.Position
		var fxRateID sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.SnapshotID, &p.InstrumentID, &p.Quantity, &p.Price, &p.Currency,
			&p.MarketValueLocal, &p.MarketValueBase, &fxRateID, &p.CostBasis, &p.UnrealizedPL, &p.IsShort,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.FxRateID = stringPtr(fxRateID)
		if p.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if p.UpdatedAt, err = ParseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		positions[p.InstrumentID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// UpsertPosition inserts a position or updates the values of the existing
// row for the same (snapshot_id, instrument_id).
func (r *SnapshotRepository) UpsertPosition(ctx context.Context, p model.Position) error {
	query := `
		INSERT INTO position (` + positionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (snapshot_id, instrument_id) DO UPDATE SET
			quantity = excluded.quantity,
			price = excluded.price,
			currency = excluded.currency,
			market_value_local = excluded.market_value_local,
			market_value_base = excluded.market_value_base,
			fx_rate_id = excluded.fx_rate_id,
			cost_basis = excluded.cost_basis,
			unrealized_pl = excluded.unrealized_pl,
			is_short = excluded.is_short,
			updated_at = excluded.updated_at
	`
	_, err := r.getQuerier().ExecContext(ctx, query,
		p.ID, p.SnapshotID, p.InstrumentID, p.Quantity, p.Price, p.Currency, p.MarketValueLocal,
		p.MarketValueBase, nullString(p.FxRateID), p.CostBasis, p.UnrealizedPL, p.IsShort,
		FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// InsertRawPayload stores a verbatim broker response. Raw payloads are never
// deduplicated: every fetch attempt is retained.
func (r *SnapshotRepository) InsertRawPayload(ctx context.Context, p model.RawPayload) error {
	query := `
		INSERT INTO raw_payload (id, run_id, account_id, broker, endpoint, content_type, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.getQuerier().ExecContext(ctx, query,
		p.ID, p.RunID, p.AccountID, p.Broker, p.Endpoint, p.ContentType, p.Payload, FormatTime(p.ReceivedAt))
	if err != nil {
		return fmt.Errorf("failed to insert raw payload: %w", err)
	}
	return nil
}

// ListRawPayloads returns the raw payloads captured by a run, oldest first.
func (r *SnapshotRepository) ListRawPayloads(ctx context.Context, runID string) ([]model.RawPayload, error) {
	query := `
		SELECT id, run_id, account_id, broker, endpoint, content_type, payload, received_at
		FROM raw_payload WHERE run_id = ? ORDER BY received_at, id
	`
	rows, err := r.getQuerier().QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw payloads: %w", err)
	}
	defer rows.Close()

	payloads := []model.RawPayload{}
	for rows.Next() {
		var p model.RawPayload
		var receivedAt string
		if err := rows.Scan(&p.ID, &p.RunID, &p.AccountID, &p.Broker, &p.Endpoint, &p.ContentType,
			&p.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw payload: %w", err)
		}
		if p.ReceivedAt, err = ParseTime(receivedAt); err != nil {
			return nil, fmt.Errorf("failed to parse received_at: %w", err)
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw payload rows: %w", err)
	}
	return payloads, nil
}

// UpsertTrade inserts a trade or updates the row with the same broker trade
// id. The broker is authoritative, so its latest report wins, but only for
// the account that first reported the id; any other account gets
// apperrors.ErrTradeConflict.
func (r *SnapshotRepository) UpsertTrade(ctx context.Context, t model.Trade) error {
	query := `
		INSERT INTO trade (id, broker, broker_trade_id, account_id, broker_account_id, instrument_id,
			trade_ts, quantity, price, currency, amount_local, amount_base, fx_rate_id, run_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (broker_trade_id) DO UPDATE SET
			instrument_id = excluded.instrument_id,
			trade_ts = excluded.trade_ts,
			quantity = excluded.quantity,
			price = excluded.price,
			currency = excluded.currency,
			amount_local = excluded.amount_local,
			amount_base = excluded.amount_base,
			fx_rate_id = excluded.fx_rate_id,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
		WHERE trade.broker = excluded.broker AND trade.account_id = excluded.account_id
	`
	res, err := r.getQuerier().ExecContext(ctx, query,
		t.ID, t.Broker, t.BrokerTradeID, t.AccountID, t.BrokerAccountID, t.InstrumentID,
		FormatTime(t.TradeTime), t.Quantity, t.Price, t.Currency, t.AmountLocal, t.AmountBase,
		nullString(t.FxRateID), t.RunID, FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to upsert trade: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s (%s/%s)", apperrors.ErrTradeConflict, t.BrokerTradeID, t.Broker, t.BrokerAccountID)
	}
	return nil
}

// GetTradeByBrokerID retrieves a trade by its broker trade id.
func (r *SnapshotRepository) GetTradeByBrokerID(ctx context.Context, brokerTradeID string) (model.Trade, error) {
	query := `
		SELECT id, broker, broker_trade_id, account_id, broker_account_id, instrument_id, trade_ts,
			quantity, price, currency, amount_local, amount_base, fx_rate_id, run_id, created_at, updated_at
		FROM trade WHERE broker_trade_id = ?
	`
	var t model.Trade
	var tradeTS, createdAt, updatedAt string
	var fxRateID sql.NullString
	err := r.getQuerier().QueryRowContext(ctx, query, brokerTradeID).Scan(
		&t.ID, &t.Broker, &t.BrokerTradeID, &t.AccountID, &t.BrokerAccountID, &t.InstrumentID, &tradeTS,
		&t.Quantity, &t.Price, &t.Currency, &t.AmountLocal, &t.AmountBase, &fxRateID, &t.RunID,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trade{}, fmt.Errorf("trade %s: %w", brokerTradeID, sql.ErrNoRows)
	}
	if err != nil {
		return model.Trade{}, fmt.Errorf("failed to scan trade: %w", err)
	}
	t.FxRateID = stringPtr(fxRateID)
	if t.TradeTime, err = ParseTime(tradeTS); err != nil {
		return model.Trade{}, fmt.Errorf("failed to parse trade_ts: %w", err)
	}
	if t.CreatedAt, err = ParseTime(createdAt); err != nil {
		return model.Trade{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if t.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return model.Trade{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return t, nil
}

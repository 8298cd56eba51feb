package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// InstrumentRepository provides data access methods for the instrument table.
// Use WithTx to scope calls to a snapshot write transaction.
type InstrumentRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewInstrumentRepository creates a new InstrumentRepository with the provided database connection.
func NewInstrumentRepository(db *sql.DB) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

// WithTx returns a new InstrumentRepository that uses the provided transaction.
func (r *InstrumentRepository) WithTx(tx *sql.Tx) *InstrumentRepository {
	return &InstrumentRepository{db: r.db, tx: tx}
}

func (r *InstrumentRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const instrumentColumns = `id, broker, broker_instrument_id, symbol, name, asset_class, currency,
	isin, cusip, created_at, updated_at`

// GetByBrokerID looks up an instrument by (broker, broker_instrument_id).
func (r *InstrumentRepository) GetByBrokerID(ctx context.Context, broker, brokerInstrumentID string) (model.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instrument WHERE broker = ? AND broker_instrument_id = ?`
	return scanInstrument(r.getQuerier().QueryRowContext(ctx, query, broker, brokerInstrumentID))
}

// GetByID retrieves an instrument by id.
func (r *InstrumentRepository) GetByID(ctx context.Context, id string) (model.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instrument WHERE id = ?`
	return scanInstrument(r.getQuerier().QueryRowContext(ctx, query, id))
}

// InsertIfAbsent inserts the instrument unless one already exists for the
// same (broker, broker_instrument_id). It reports whether a row was inserted.
func (r *InstrumentRepository) InsertIfAbsent(ctx context.Context, inst model.Instrument) (bool, error) {
	query := `
		INSERT INTO instrument (` + instrumentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (broker, broker_instrument_id) DO NOTHING
	`
	res, err := r.getQuerier().ExecContext(ctx, query,
		inst.ID, inst.Broker, inst.BrokerInstrumentID, inst.Symbol, inst.Name, inst.AssetClass, inst.Currency,
		nullString(inst.ISIN), nullString(inst.CUSIP), FormatTime(inst.CreatedAt), FormatTime(inst.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert instrument: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n == 1, nil
}

// UpdateDescriptive updates the mutable descriptive fields and fills
// identifiers that were previously empty. Identifiers already set are never overwritten.
func (r *InstrumentRepository) UpdateDescriptive(ctx context.Context, inst model.Instrument) error {
	query := `
		UPDATE instrument SET
			name = ?,
			currency = ?,
			isin = COALESCE(isin, ?),
			cusip = COALESCE(cusip, ?),
			updated_at = ?
		WHERE id = ?
	`
	_, err := r.getQuerier().ExecContext(ctx, query,
		inst.Name, inst.Currency, nullString(inst.ISIN), nullString(inst.CUSIP), FormatTime(inst.UpdatedAt), inst.ID)
	if err != nil {
		return fmt.Errorf("failed to update instrument: %w", err)
	}
	return nil
}

// ListUnmapped returns instruments without an instrument_mapping row.
func (r *InstrumentRepository) ListUnmapped(ctx context.Context) ([]model.Instrument, error) {
	query := `
		SELECT ` + prefixed("i", instrumentColumns) + `
		FROM instrument i
		LEFT JOIN instrument_mapping m ON m.instrument_id = i.id
		WHERE m.id IS NULL
		ORDER BY i.broker, i.symbol
	`
	rows, err := r.getQuerier().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmapped instruments: %w", err)
	}
	defer rows.Close()

	instruments := []model.Instrument{}
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instrument rows: %w", err)
	}
	return instruments, nil
}

func scanInstrument(row rowScanner) (model.Instrument, error) {
	var inst model.Instrument
	var isin, cusip sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&inst.ID, &inst.Broker, &inst.BrokerInstrumentID, &inst.Symbol, &inst.Name,
		&inst.AssetClass, &inst.Currency, &isin, &cusip, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instrument{}, apperrors.ErrInstrumentNotFound
	}
	if err != nil {
		return model.Instrument{}, fmt.Errorf("failed to scan instrument: %w", err)
	}
	inst.ISIN = stringPtr(isin)
	inst.CUSIP = stringPtr(cusip)
	if inst.CreatedAt, err = ParseTime(createdAt); err != nil {
		return model.Instrument{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if inst.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return model.Instrument{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return inst, nil
}

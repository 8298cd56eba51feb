package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// FxRateRepository provides data access methods for the fx_rate table.
// Rows are immutable: inserts that collide on (pair, asof_ts, provider) keep
// the stored observation.
type FxRateRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewFxRateRepository creates a new FxRateRepository with the provided database connection.
func NewFxRateRepository(db *sql.DB) *FxRateRepository {
	return &FxRateRepository{db: db}
}

// WithTx returns a new FxRateRepository that uses the provided transaction.
func (r *FxRateRepository) WithTx(tx *sql.Tx) *FxRateRepository {
	return &FxRateRepository{db: r.db, tx: tx}
}

func (r *FxRateRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const fxRateColumns = `id, asof_ts, source_currency, target_currency, rate, provider, created_at`

// Insert stores the rate unless the same observation already exists, and
// returns the stored row either way.
func (r *FxRateRepository) Insert(ctx context.Context, rate model.FxRate) (model.FxRate, error) {
	query := `
		INSERT INTO fx_rate (` + fxRateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_currency, target_currency, asof_ts, provider) DO NOTHING
	`
	q := r.getQuerier()
	if _, err := q.ExecContext(ctx, query,
		rate.ID, FormatTime(rate.AsOf), rate.SourceCurrency, rate.TargetCurrency,
		rate.Rate, rate.Provider, FormatTime(rate.CreatedAt)); err != nil {
		return model.FxRate{}, fmt.Errorf("failed to insert exchange rate: %w", err)
	}

	lookup := `
		SELECT ` + fxRateColumns + ` FROM fx_rate
		WHERE source_currency = ? AND target_currency = ? AND asof_ts = ? AND provider = ?
	`
	return scanFxRate(q.QueryRowContext(ctx, lookup,
		rate.SourceCurrency, rate.TargetCurrency, FormatTime(rate.AsOf), rate.Provider))
}

// FindAtOrBefore returns the rate for the pair with the greatest asof_ts not
// after asOf. An exact timestamp match is by construction the greatest such
// rate; ties between providers resolve by provider name for determinism.
func (r *FxRateRepository) FindAtOrBefore(ctx context.Context, source, target string, asOf time.Time) (model.FxRate, error) {
	query := `
		SELECT ` + fxRateColumns + ` FROM fx_rate
		WHERE source_currency = ? AND target_currency = ? AND asof_ts <= ?
		ORDER BY asof_ts DESC, provider ASC, id ASC
		LIMIT 1
	`
	return scanFxRate(r.getQuerier().QueryRowContext(ctx, query, source, target, FormatTime(asOf)))
}

// GetByID retrieves a stored rate.
func (r *FxRateRepository) GetByID(ctx context.Context, id string) (model.FxRate, error) {
	return scanFxRate(r.getQuerier().QueryRowContext(ctx, `SELECT `+fxRateColumns+` FROM fx_rate WHERE id = ?`, id))
}

// List returns stored rates for a pair, newest first. Empty currencies match any.
func (r *FxRateRepository) List(ctx context.Context, source, target string, limit int) ([]model.FxRate, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + fxRateColumns + ` FROM fx_rate
		WHERE (? = '' OR source_currency = ?) AND (? = '' OR target_currency = ?)
		ORDER BY asof_ts DESC, provider ASC
		LIMIT ?
	`
	rows, err := r.getQuerier().QueryContext(ctx, query, source, source, target, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchange rates: %w", err)
	}
	defer rows.Close()

	rates := []model.FxRate{}
	for rows.Next() {
		rate, err := scanFxRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exchange rates: %w", err)
	}
	return rates, nil
}

func scanFxRate(row rowScanner) (model.FxRate, error) {
	var rate model.FxRate
	var asOf, createdAt string
	err := row.Scan(&rate.ID, &asOf, &rate.SourceCurrency, &rate.TargetCurrency, &rate.Rate, &rate.Provider, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FxRate{}, apperrors.ErrExchangeRateNotFound
	}
	if err != nil {
		return model.FxRate{}, fmt.Errorf("failed to scan exchange rate: %w", err)
	}
	if rate.AsOf, err = ParseTime(asOf); err != nil {
		return model.FxRate{}, fmt.Errorf("failed to parse asof_ts: %w", err)
	}
	if rate.CreatedAt, err = ParseTime(createdAt); err != nil {
		return model.FxRate{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return rate, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
)

// MappingRepository provides data access methods for global_instrument and
// instrument_mapping. The capture pipeline never writes through it.
type MappingRepository struct {
	db *sql.DB
	tx *sql.Tx
}

// NewMappingRepository creates a new MappingRepository with the provided database connection.
func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// WithTx returns a new MappingRepository that uses the provided transaction.
func (r *MappingRepository) WithTx(tx *sql.Tx) *MappingRepository {
	return &MappingRepository{db: r.db, tx: tx}
}

func (r *MappingRepository) getQuerier() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// InsertGlobal stores a new global instrument identity.
func (r *MappingRepository) InsertGlobal(ctx context.Context, g model.GlobalInstrument) error {
	query := `
		INSERT INTO global_instrument (id, name, symbol, asset_class, isin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.getQuerier().ExecContext(ctx, query,
		g.ID, g.Name, g.Symbol, g.AssetClass, nullString(g.ISIN), FormatTime(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert global instrument: %w", err)
	}
	return nil
}

// GetGlobal retrieves a global instrument by id.
func (r *MappingRepository) GetGlobal(ctx context.Context, id string) (model.GlobalInstrument, error) {
	query := `SELECT id, name, symbol, asset_class, isin, created_at FROM global_instrument WHERE id = ?`
	var g model.GlobalInstrument
	var isin sql.NullString
	var createdAt string
	err := r.getQuerier().QueryRowContext(ctx, query, id).Scan(&g.ID, &g.Name, &g.Symbol, &g.AssetClass, &isin, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GlobalInstrument{}, apperrors.ErrGlobalInstrumentNotFound
	}
	if err != nil {
		return model.GlobalInstrument{}, fmt.Errorf("failed to scan global instrument: %w", err)
	}
	g.ISIN = stringPtr(isin)
	if g.CreatedAt, err = ParseTime(createdAt); err != nil {
		return model.GlobalInstrument{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return g, nil
}

// GetMapping returns the mapping of an instrument, or nil when it is unmapped.
func (r *MappingRepository) GetMapping(ctx context.Context, instrumentID string) (*model.InstrumentMapping, error) {
	query := `
		SELECT id, instrument_id, global_instrument_id, source, confidence, created_at, updated_at
		FROM instrument_mapping WHERE instrument_id = ?
	`
	var m model.InstrumentMapping
	var source, createdAt, updatedAt string
	err := r.getQuerier().QueryRowContext(ctx, query, instrumentID).Scan(
		&m.ID, &m.InstrumentID, &m.GlobalInstrumentID, &source, &m.Confidence, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan instrument mapping: %w", err)
	}
	m.Source = model.MappingSource(source)
	if m.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if m.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &m, nil
}

// InsertMapping links an unmapped instrument to a global identity.
func (r *MappingRepository) InsertMapping(ctx context.Context, m model.InstrumentMapping) error {
	query := `
		INSERT INTO instrument_mapping (id, instrument_id, global_instrument_id, source, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.getQuerier().ExecContext(ctx, query,
		m.ID, m.InstrumentID, m.GlobalInstrumentID, string(m.Source), m.Confidence,
		FormatTime(m.CreatedAt), FormatTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert instrument mapping: %w", err)
	}
	return nil
}

// ReplaceMapping points an existing mapping at a different global identity.
func (r *MappingRepository) ReplaceMapping(ctx context.Context, m model.InstrumentMapping) error {
	query := `
		UPDATE instrument_mapping
		SET global_instrument_id = ?, source = ?, confidence = ?, updated_at = ?
		WHERE instrument_id = ?
	`
	_, err := r.getQuerier().ExecContext(ctx, query,
		m.GlobalInstrumentID, string(m.Source), m.Confidence, FormatTime(m.UpdatedAt), m.InstrumentID)
	if err != nil {
		return fmt.Errorf("failed to replace instrument mapping: %w", err)
	}
	return nil
}

// ISINCandidate pairs an unmapped instrument with the global identity that
// carries the same ISIN.
type ISINCandidate struct {
	InstrumentID       string
	GlobalInstrumentID string
	ISIN               string
}

// ListISINCandidates returns unmapped instruments whose ISIN matches exactly
// one global instrument.
func (r *MappingRepository) ListISINCandidates(ctx context.Context) ([]ISINCandidate, error) {
	query := `
		SELECT i.id, g.id, i.isin
		FROM instrument i
		JOIN global_instrument g ON g.isin = i.isin
		LEFT JOIN instrument_mapping m ON m.instrument_id = i.id
		WHERE m.id IS NULL AND i.isin IS NOT NULL
		ORDER BY i.isin, i.broker
	`
	rows, err := r.getQuerier().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ISIN candidates: %w", err)
	}
	defer rows.Close()

	candidates := []ISINCandidate{}
	for rows.Next() {
		var c ISINCandidate
		if err := rows.Scan(&c.InstrumentID, &c.GlobalInstrumentID, &c.ISIN); err != nil {
			return nil, fmt.Errorf("failed to scan ISIN candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ISIN candidate rows: %w", err)
	}
	return candidates, nil
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

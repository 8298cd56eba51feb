package instrument

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HeuristicISINConfidence is the confidence recorded for ISIN-based mappings.
var HeuristicISINConfidence = decimal.RequireFromString("0.9")

// MapRequest asks for an instrument to be linked to a global identity.
// Replace must be set to move an instrument that is already mapped.
type MapRequest struct {
	InstrumentID       string
	GlobalInstrumentID string
	Source             model.MappingSource
	Confidence         decimal.NullDecimal
	Replace            bool
}

// Mapper performs the administrative mapping actions. The capture pipeline
// never calls it.
type Mapper struct {
	db          *sql.DB
	instruments *repository.InstrumentRepository
	mappings    *repository.MappingRepository
	log         zerolog.Logger
	now         func() time.Time
}

// NewMapper creates a Mapper.
func NewMapper(
	db *sql.DB,
	instruments *repository.InstrumentRepository,
	mappings *repository.MappingRepository,
	log zerolog.Logger,
) *Mapper {
	return &Mapper{
		db:          db,
		instruments: instruments,
		mappings:    mappings,
		log:         log.With().Str("component", "instrument_mapper").Logger(),
		now:         time.Now,
	}
}

// CreateGlobal stores a new global instrument identity.
func (m *Mapper) CreateGlobal(ctx context.Context, g model.GlobalInstrument) (model.GlobalInstrument, error) {
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return model.GlobalInstrument{}, apperrors.ErrInvalidGlobalPayload
	}
	g.ISIN = optional(deref(g.ISIN))
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	g.CreatedAt = m.now().UTC()

	if err := m.mappings.InsertGlobal(ctx, g); err != nil {
		return model.GlobalInstrument{}, err
	}
	return g, nil
}

// Map links an instrument to a global identity inside one transaction.
// Mapping an already-mapped instrument to the same identity is a no-op; to a
// different identity it fails with ErrMappingExists unless Replace is set.
func (m *Mapper) Map(ctx context.Context, req MapRequest) (model.InstrumentMapping, error) {
	if !req.Source.Valid() {
		return model.InstrumentMapping{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidMappingSource, req.Source)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return model.InstrumentMapping{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	mapping, changed, err := m.mapTx(ctx, tx, req)
	if err != nil {
		return model.InstrumentMapping{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.InstrumentMapping{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if changed {
		m.log.Info().
			Str("instrument_id", mapping.InstrumentID).
			Str("global_instrument_id", mapping.GlobalInstrumentID).
			Str("source", string(mapping.Source)).
			Msg("instrument mapped")
	}
	return mapping, nil
}

func (m *Mapper) mapTx(ctx context.Context, tx *sql.Tx, req MapRequest) (model.InstrumentMapping, bool, error) {
	instruments := m.instruments.WithTx(tx)
	mappings := m.mappings.WithTx(tx)

	if _, err := instruments.GetByID(ctx, req.InstrumentID); err != nil {
		return model.InstrumentMapping{}, false, err
	}
	if _, err := mappings.GetGlobal(ctx, req.GlobalInstrumentID); err != nil {
		return model.InstrumentMapping{}, false, err
	}

	existing, err := mappings.GetMapping(ctx, req.InstrumentID)
	if err != nil {
		return model.InstrumentMapping{}, false, err
	}

	now := m.now().UTC()
	mapping := model.InstrumentMapping{
		InstrumentID:       req.InstrumentID,
		GlobalInstrumentID: req.GlobalInstrumentID,
		Source:             req.Source,
		Confidence:         req.Confidence,
		UpdatedAt:          now,
	}

	switch {
	case existing == nil:
		mapping.ID = uuid.New().String()
		mapping.CreatedAt = now
		if err := mappings.InsertMapping(ctx, mapping); err != nil {
			return model.InstrumentMapping{}, false, err
		}
		return mapping, true, nil
	case existing.GlobalInstrumentID == req.GlobalInstrumentID && !req.Replace:
		return *existing, false, nil
	case !req.Replace:
		return model.InstrumentMapping{}, false, fmt.Errorf("%w: instrument %s is mapped to %s",
			apperrors.ErrMappingExists, req.InstrumentID, existing.GlobalInstrumentID)
	}

	mapping.ID = existing.ID
	mapping.CreatedAt = existing.CreatedAt
	if err := mappings.ReplaceMapping(ctx, mapping); err != nil {
		return model.InstrumentMapping{}, false, err
	}
	return mapping, true, nil
}

// MapByISIN links every unmapped instrument whose ISIN equals a global
// identity's ISIN, as a heuristic mapping. It returns the number of new mappings.
func (m *Mapper) MapByISIN(ctx context.Context) (int, error) {
	candidates, err := m.mappings.ListISINCandidates(ctx)
	if err != nil {
		return 0, err
	}

	mapped := 0
	for _, c := range candidates {
		_, err := m.Map(ctx, MapRequest{
			InstrumentID:       c.InstrumentID,
			GlobalInstrumentID: c.GlobalInstrumentID,
			Source:             model.MappingSourceHeuristic,
			Confidence:         decimal.NewNullDecimal(HeuristicISINConfidence),
		})
		if errors.Is(err, apperrors.ErrMappingExists) {
			continue
		}
		if err != nil {
			return mapped, fmt.Errorf("failed to map instrument %s by ISIN %s: %w", c.InstrumentID, c.ISIN, err)
		}
		mapped++
	}
	return mapped, nil
}

// ListUnmapped returns instruments that are excluded from cross-broker views.
func (m *Mapper) ListUnmapped(ctx context.Context) ([]model.Instrument, error) {
	return m.instruments.ListUnmapped(ctx)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

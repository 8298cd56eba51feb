// Package instrument maintains broker instrument references and their
// links to broker-independent global identities.
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
)

// Resolver turns observed broker instruments into stored Instrument rows.
// It never creates an InstrumentMapping: unseen instruments stay unmapped
// until an operator or the ISIN heuristic links them.
type Resolver struct {
	repo *repository.InstrumentRepository
	now  func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(repo *repository.InstrumentRepository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// WithTx returns a Resolver bound to tx.
func (r *Resolver) WithTx(tx *sql.Tx) *Resolver {
	return &Resolver{repo: r.repo.WithTx(tx), now: r.now}
}

// Resolve returns the instrument for (broker, obs.BrokerInstrumentID),
// inserting it on first sighting. For a known instrument only name and
// currency are refreshed, and missing ISIN/CUSIP filled; identifiers already
// stored are kept.
func (r *Resolver) Resolve(ctx context.Context, broker string, obs model.ObservedInstrument) (model.Instrument, error) {
	brokerID := strings.TrimSpace(obs.BrokerInstrumentID)
	if brokerID == "" {
		return model.Instrument{}, apperrors.ErrMissingInstrumentID
	}

	existing, err := r.repo.GetByBrokerID(ctx, broker, brokerID)
	switch {
	case err == nil:
		return r.refresh(ctx, existing, obs)
	case !errors.Is(err, apperrors.ErrInstrumentNotFound):
		return model.Instrument{}, err
	}

	now := r.now().UTC()
	inst := model.Instrument{
		ID:                 uuid.New().String(),
		Broker:             broker,
		BrokerInstrumentID: brokerID,
		Symbol:             obs.Symbol,
		Name:               obs.Name,
		AssetClass:         obs.AssetClass,
		Currency:           strings.ToUpper(obs.Currency),
		ISIN:               optional(obs.ISIN),
		CUSIP:              optional(obs.CUSIP),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	inserted, err := r.repo.InsertIfAbsent(ctx, inst)
	if err != nil {
		return model.Instrument{}, err
	}
	if !inserted {
		// Lost a race against another writer; the stored row wins.
		return r.repo.GetByBrokerID(ctx, broker, brokerID)
	}
	return inst, nil
}

func (r *Resolver) refresh(ctx context.Context, inst model.Instrument, obs model.ObservedInstrument) (model.Instrument, error) {
	updated := inst
	if obs.Name != "" {
		updated.Name = obs.Name
	}
	if obs.Currency != "" {
		updated.Currency = strings.ToUpper(obs.Currency)
	}
	if updated.ISIN == nil {
		updated.ISIN = optional(obs.ISIN)
	}
	if updated.CUSIP == nil {
		updated.CUSIP = optional(obs.CUSIP)
	}

	if updated.Name == inst.Name && updated.Currency == inst.Currency &&
		updated.ISIN == inst.ISIN && updated.CUSIP == inst.CUSIP {
		return inst, nil
	}

	updated.UpdatedAt = r.now().UTC()
	if err := r.repo.UpdateDescriptive(ctx, updated); err != nil {
		return model.Instrument{}, fmt.Errorf("failed to refresh instrument %s: %w", inst.ID, err)
	}
	return updated, nil
}

func optional(s string) *string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	return &s
}

// Package fx resolves exchange rates from the rate store and converts
// amounts between currencies.
package fx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ManualProvider labels rates entered through the API or CLI.
const ManualProvider = "manual"

// Converter selects stored FX rates. Selection never extrapolates: the rate
// used is the exact observation at as-of if one exists, otherwise the most
// recent observation before it.
type Converter struct {
	repo   *repository.FxRateRepository
	source Source
	log    zerolog.Logger
	now    func() time.Time
}

// NewConverter creates a Converter. source may be nil, in which case
// Prefetch is a no-op and only stored rates are used.
func NewConverter(repo *repository.FxRateRepository, source Source, log zerolog.Logger) *Converter {
	return &Converter{
		repo:   repo,
		source: source,
		log:    log.With().Str("component", "fx").Logger(),
		now:    time.Now,
	}
}

// WithTx returns a Converter whose store lookups and inserts run inside tx.
func (c *Converter) WithTx(tx *sql.Tx) *Converter {
	return &Converter{repo: c.repo.WithTx(tx), source: c.source, log: c.log, now: c.now}
}

// Rate returns the rate converting source into target at asOf. Same-currency
// pairs return rate 1 with an empty ID and never touch the store.
func (c *Converter) Rate(ctx context.Context, source, target string, asOf time.Time) (model.FxRate, error) {
	source, target = normalize(source), normalize(target)
	if source == target {
		return model.FxRate{
			AsOf:           asOf,
			SourceCurrency: source,
			TargetCurrency: target,
			Rate:           decimal.NewFromInt(1),
		}, nil
	}

	rate, err := c.repo.FindAtOrBefore(ctx, source, target, asOf)
	if err != nil {
		if errors.Is(err, apperrors.ErrExchangeRateNotFound) {
			return model.FxRate{}, fmt.Errorf("%w: %s/%s at or before %s",
				apperrors.ErrExchangeRateNotFound, source, target, asOf.UTC().Format(time.RFC3339))
		}
		return model.FxRate{}, err
	}
	return rate, nil
}

// Convert multiplies amount by the selected rate and returns the converted
// amount and the rate used.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, source, target string, asOf time.Time) (decimal.Decimal, model.FxRate, error) {
	rate, err := c.Rate(ctx, source, target, asOf)
	if err != nil {
		return decimal.Zero, model.FxRate{}, err
	}
	return amount.Mul(rate.Rate), rate, nil
}

// Store validates and records a rate observation. A duplicate observation
// for the same pair, instant and provider returns the stored row.
func (c *Converter) Store(ctx context.Context, rate model.FxRate) (model.FxRate, error) {
	rate.SourceCurrency = normalize(rate.SourceCurrency)
	rate.TargetCurrency = normalize(rate.TargetCurrency)
	if err := ValidateCurrency(rate.SourceCurrency); err != nil {
		return model.FxRate{}, err
	}
	if err := ValidateCurrency(rate.TargetCurrency); err != nil {
		return model.FxRate{}, err
	}
	if !rate.Rate.IsPositive() {
		return model.FxRate{}, fmt.Errorf("%w: %s", apperrors.ErrNonPositiveRate, rate.Rate)
	}
	if rate.AsOf.IsZero() {
		return model.FxRate{}, apperrors.ErrMissingAsOf
	}
	if rate.ID == "" {
		rate.ID = uuid.New().String()
	}
	if rate.Provider == "" {
		rate.Provider = ManualProvider
	}
	if rate.CreatedAt.IsZero() {
		rate.CreatedAt = c.now().UTC()
	}
	return c.repo.Insert(ctx, rate)
}

// Prefetch makes sure the store holds a rate for every pair as of asOf by
// asking the Source for pairs with no stored observation on the same UTC
// day. It performs network I/O and must run outside any write transaction.
// Failures are logged and skipped: a missing rate surfaces later as
// ErrExchangeRateNotFound when the rate is actually needed.
func (c *Converter) Prefetch(ctx context.Context, pairs []Pair, asOf time.Time) int {
	if c.source == nil {
		return 0
	}

	stored := 0
	seen := make(map[Pair]bool, len(pairs))
	for _, p := range pairs {
		p = Pair{Source: normalize(p.Source), Target: normalize(p.Target)}
		if p.Source == p.Target || seen[p] {
			continue
		}
		seen[p] = true

		existing, err := c.repo.FindAtOrBefore(ctx, p.Source, p.Target, asOf)
		if err == nil && sameDay(existing.AsOf, asOf) {
			continue
		}

		q, err := c.source.GetRate(ctx, p.Source, p.Target, asOf)
		if err != nil {
			c.log.Warn().Err(err).Str("pair", p.Source+"/"+p.Target).Msg("fx prefetch failed")
			continue
		}
		if _, err := c.Store(ctx, model.FxRate{
			AsOf:           q.AsOf,
			SourceCurrency: p.Source,
			TargetCurrency: p.Target,
			Rate:           q.Rate,
			Provider:       q.Provider,
		}); err != nil {
			c.log.Warn().Err(err).Str("pair", p.Source+"/"+p.Target).Msg("failed to store prefetched rate")
			continue
		}
		stored++
	}
	return stored
}

// List returns stored rates, newest first.
func (c *Converter) List(ctx context.Context, source, target string, limit int) ([]model.FxRate, error) {
	return c.repo.List(ctx, normalize(source), normalize(target), limit)
}

// ValidateCurrency checks code against the ISO 4217 table.
func ValidateCurrency(code string) error {
	if len(code) != 3 || money.GetCurrency(code) == nil {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidCurrency, code)
	}
	return nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func sameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

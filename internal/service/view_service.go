package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
)

// ViewService aggregates the read-only analytical views. Sums are computed
// here rather than in SQL so that decimal precision is preserved. Accounts
// with different base currencies are never added together.
type ViewService struct {
	views *repository.ViewRepository
}

// NewViewService creates a ViewService.
func NewViewService(views *repository.ViewRepository) *ViewService {
	return &ViewService{views: views}
}

// LatestSnapshots returns the most recent snapshot of every account.
func (s *ViewService) LatestSnapshots(ctx context.Context) ([]model.LatestSnapshot, error) {
	out := []model.LatestSnapshot{}
	err := s.views.StreamLatestSnapshots(ctx, func(ls model.LatestSnapshot) error {
		out = append(out, ls)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DailyPortfolioValue sums, per UTC day and base currency, the last snapshot
// of each account on that day.
func (s *ViewService) DailyPortfolioValue(ctx context.Context, start, end time.Time) ([]model.DailyPortfolioValue, error) {
	if end.Before(start) {
		return nil, apperrors.ErrInvalidDateRange
	}

	type dayKey struct{ day, ccy string }
	totals := make(map[dayKey]*model.DailyPortfolioValue)
	var order []dayKey

	err := s.views.StreamDailyAccountValues(ctx, start, end, func(v model.DailyAccountValue) error {
		k := dayKey{v.Day, v.BaseCurrency}
		agg, ok := totals[k]
		if !ok {
			agg = &model.DailyPortfolioValue{Day: v.Day, BaseCurrency: v.BaseCurrency, TotalValue: decimal.Zero}
			totals[k] = agg
			order = append(order, k)
		}
		agg.TotalValue = agg.TotalValue.Add(v.TotalValueBase)
		agg.Accounts++
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].day != order[j].day {
			return order[i].day < order[j].day
		}
		return order[i].ccy < order[j].ccy
	})
	out := make([]model.DailyPortfolioValue, 0, len(order))
	for _, k := range order {
		out = append(out, *totals[k])
	}
	return out, nil
}

// PositionHistory returns position observations matching filter, oldest first.
func (s *ViewService) PositionHistory(ctx context.Context, filter model.PositionHistoryFilter) ([]model.PositionHistoryRow, error) {
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return nil, apperrors.ErrInvalidDateRange
	}
	out := []model.PositionHistoryRow{}
	err := s.views.StreamPositionHistory(ctx, filter, func(row model.PositionHistoryRow) error {
		out = append(out, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StreamPositionHistory passes position observations to fn one at a time.
func (s *ViewService) StreamPositionHistory(ctx context.Context, filter model.PositionHistoryFilter, fn func(model.PositionHistoryRow) error) error {
	return s.views.StreamPositionHistory(ctx, filter, fn)
}

// Allocation aggregates the latest mapped positions by global instrument.
// Instruments without a mapping are not part of the result. Weight is the
// share of the total mapped value in the same base currency.
func (s *ViewService) Allocation(ctx context.Context) ([]model.AllocationEntry, error) {
	type key struct{ id, ccy string }
	entries := make(map[key]*model.AllocationEntry)
	totals := make(map[string]decimal.Decimal)
	var order []key

	err := s.views.StreamAllocationRows(ctx, func(r model.AllocationRow) error {
		k := key{r.GlobalInstrumentID, r.BaseCurrency}
		e, ok := entries[k]
		if !ok {
			e = &model.AllocationEntry{
				GlobalInstrumentID: r.GlobalInstrumentID,
				Name:               r.GlobalName,
				Symbol:             r.GlobalSymbol,
				BaseCurrency:       r.BaseCurrency,
				Quantity:           decimal.Zero,
				Value:              decimal.Zero,
			}
			entries[k] = e
			order = append(order, k)
		}
		e.Quantity = e.Quantity.Add(r.Quantity)
		e.Value = e.Value.Add(r.MarketValueBase)
		totals[r.BaseCurrency] = totals[r.BaseCurrency].Add(r.MarketValueBase)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate allocation: %w", err)
	}

	out := make([]model.AllocationEntry, 0, len(order))
	for _, k := range order {
		e := *entries[k]
		if total := totals[e.BaseCurrency]; !total.IsZero() {
			e.Weight = e.Value.DivRound(total, 6)
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BaseCurrency != out[j].BaseCurrency {
			return out[i].BaseCurrency < out[j].BaseCurrency
		}
		return out[i].Value.GreaterThan(out[j].Value)
	})
	return out, nil
}

// AllocationByBroker sums the latest snapshot value per broker and base currency.
func (s *ViewService) AllocationByBroker(ctx context.Context) ([]model.BrokerAllocation, error) {
	type key struct{ broker, ccy string }
	agg := make(map[key]*model.BrokerAllocation)
	var order []key

	err := s.views.StreamLatestSnapshots(ctx, func(ls model.LatestSnapshot) error {
		k := key{ls.Broker, ls.BaseCurrency}
		b, ok := agg[k]
		if !ok {
			b = &model.BrokerAllocation{Broker: ls.Broker, BaseCurrency: ls.BaseCurrency, Value: decimal.Zero}
			agg[k] = b
			order = append(order, k)
		}
		b.Value = b.Value.Add(ls.TotalValueBase)
		b.Accounts++
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.BrokerAllocation, 0, len(order))
	for _, k := range order {
		out = append(out, *agg[k])
	}
	return out, nil
}

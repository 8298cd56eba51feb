package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/database"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/idempotency"
	"github.com/ndewijer/portfolio-snapshot/internal/instrument"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
)

// WriteOutcome describes what a commit did to the snapshot row.
type WriteOutcome string

const (
	// WriteCreated means a new snapshot row was inserted.
	WriteCreated WriteOutcome = "created"
	// WriteUnchanged means the snapshot already held identical values; only
	// its provenance (run id, updated_at) moved.
	WriteUnchanged WriteOutcome = "unchanged"
	// WriteRefreshed means converted values changed, typically because a
	// different FX rate was resolved, and were updated in place.
	WriteRefreshed WriteOutcome = "refreshed"
)

// WriteResult summarizes one committed account unit.
type WriteResult struct {
	SnapshotID  string
	SnapshotKey string
	Outcome     WriteOutcome
	Positions   int
	Trades      int
	RawPayloads int
}

// SnapshotWriter commits one adapter result per transaction: raw payloads,
// broker-native rates, instruments, the snapshot, its positions and any
// reported trades become visible together or not at all.
type SnapshotWriter struct {
	db            *sql.DB
	snapshots     *repository.SnapshotRepository
	resolver      *instrument.Resolver
	converter     *fx.Converter
	rewriteWindow time.Duration
	storageRetry  time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

// NewSnapshotWriter creates a SnapshotWriter. Snapshots whose as-of time is
// older than rewriteWindow can no longer have their values changed; a
// window of zero disables the check.
func NewSnapshotWriter(
	db *sql.DB,
	snapshots *repository.SnapshotRepository,
	resolver *instrument.Resolver,
	converter *fx.Converter,
	rewriteWindow time.Duration,
	log zerolog.Logger,
) *SnapshotWriter {
	return &SnapshotWriter{
		db:            db,
		snapshots:     snapshots,
		resolver:      resolver,
		converter:     converter,
		rewriteWindow: rewriteWindow,
		storageRetry:  100 * time.Millisecond,
		log:           log.With().Str("component", "snapshot_writer").Logger(),
		now:           time.Now,
	}
}

// Commit validates res and writes it for account within run. A transient
// lock error retries the whole transaction once.
func (w *SnapshotWriter) Commit(ctx context.Context, run model.Run, account model.BrokerAccount, res *broker.FetchResult) (*WriteResult, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty fetch result", apperrors.ErrInvalidSnapshot)
	}
	if err := validateSnapshot(account, res.Snapshot); err != nil {
		return nil, err
	}
	positions := collapsePositions(res.Snapshot.Positions)

	var result *WriteResult
	backoff := retry.WithMaxRetries(1, retry.NewConstant(w.storageRetry))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := w.commitTx(ctx, run, account, res, positions)
		if err != nil {
			if database.IsTransient(err) {
				w.log.Warn().Err(err).Str("account", account.Ref()).Msg("transient storage error, retrying commit")
				return retry.RetryableError(err)
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.log.Info().
		Str("run_id", run.ID).
		Str("account", account.Ref()).
		Str("snapshot_id", result.SnapshotID).
		Str("outcome", string(result.Outcome)).
		Int("positions", result.Positions).
		Int("trades", result.Trades).
		Msg("snapshot committed")
	return result, nil
}

func (w *SnapshotWriter) commitTx(
	ctx context.Context,
	run model.Run,
	account model.BrokerAccount,
	res *broker.FetchResult,
	positions []broker.NormalizedPosition,
) (result *WriteResult, err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	snapshots := w.snapshots.WithTx(tx)
	resolver := w.resolver.WithTx(tx)
	converter := w.converter.WithTx(tx)
	now := w.now().UTC()
	snap := res.Snapshot
	localCcy := strings.ToUpper(snap.Currency)
	baseCcy := strings.ToUpper(account.BaseCurrency)

	if err := insertRaw(ctx, snapshots, run, account, res.Raw); err != nil {
		return nil, err
	}

	for _, rate := range res.FxRates {
		if _, err := converter.Store(ctx, rate); err != nil {
			return nil, fmt.Errorf("failed to store broker rate %s/%s: %w", rate.SourceCurrency, rate.TargetCurrency, err)
		}
	}

	key := idempotency.SnapshotKey(account.Broker, account.BrokerAccountID, snap.AsOf)
	stored, err := snapshots.GetByKey(ctx, key)
	existing := err == nil
	if err != nil && !errors.Is(err, apperrors.ErrSnapshotNotFound) {
		return nil, err
	}

	// The base currency is part of the recorded fact; a changed account
	// currency never relabels history.
	if existing {
		if stored.LocalCurrency != localCcy || !stored.TotalValueLocal.Equal(snap.TotalValueLocal) {
			return nil, fmt.Errorf("%w: key %s stores %s %s, fetch reports %s %s", apperrors.ErrSnapshotConflict,
				key, stored.TotalValueLocal, stored.LocalCurrency, snap.TotalValueLocal, localCcy)
		}
		if stored.BaseCurrency != baseCcy {
			return nil, fmt.Errorf("%w: key %s stores base currency %s, account now uses %s", apperrors.ErrSnapshotConflict,
				key, stored.BaseCurrency, baseCcy)
		}
	}

	totalBase, totalRate, err := converter.Convert(ctx, snap.TotalValueLocal, localCcy, baseCcy, snap.AsOf)
	if err != nil {
		return nil, fmt.Errorf("failed to convert snapshot total: %w", err)
	}

	result = &WriteResult{SnapshotKey: key, RawPayloads: len(res.Raw)}
	var previous map[string]model.Position

	if existing {
		if previous, err = snapshots.ListPositions(ctx, stored.ID); err != nil {
			return nil, err
		}
		result.SnapshotID = stored.ID
		result.Outcome = WriteUnchanged
	} else {
		stored = model.Snapshot{
			ID:              uuid.New().String(),
			RunID:           run.ID,
			AccountID:       account.ID,
			Broker:          account.Broker,
			BrokerAccountID: account.BrokerAccountID,
			AsOf:            snap.AsOf.UTC(),
			SnapshotKey:     key,
			LocalCurrency:   localCcy,
			TotalValueLocal: snap.TotalValueLocal,
			TotalValueBase:  totalBase,
			BaseCurrency:    baseCcy,
			FxRateID:        totalRate.RateID(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := snapshots.Insert(ctx, stored); err != nil {
			return nil, err
		}
		result.SnapshotID = stored.ID
		result.Outcome = WriteCreated
	}

	changed := existing && (!stored.TotalValueBase.Equal(totalBase) || !sameRateID(stored.FxRateID, totalRate.RateID()))

	rows := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		inst, err := resolver.Resolve(ctx, account.Broker, p.Instrument)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve instrument %s: %w", p.Instrument.BrokerInstrumentID, err)
		}
		ccy := inst.Currency
		if ccy == "" {
			ccy = localCcy
		}
		valueBase, rate, err := converter.Convert(ctx, p.MarketValue, ccy, baseCcy, snap.AsOf)
		if err != nil {
			return nil, fmt.Errorf("failed to convert position %s: %w", inst.BrokerInstrumentID, err)
		}

		row := model.Position{
			ID:               uuid.New().String(),
			SnapshotID:       stored.ID,
			InstrumentID:     inst.ID,
			Quantity:         p.Quantity,
			Price:            p.Price,
			Currency:         ccy,
			MarketValueLocal: p.MarketValue,
			MarketValueBase:  valueBase,
			FxRateID:         rate.RateID(),
			CostBasis:        p.CostBasis,
			UnrealizedPL:     p.UnrealizedPL,
			IsShort:          p.Short,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if old, ok := previous[inst.ID]; ok {
			if old.SameValues(row) {
				continue
			}
			row.ID = old.ID
			row.CreatedAt = old.CreatedAt
			changed = true
		} else if existing {
			changed = true
		}
		rows = append(rows, row)
	}
	result.Positions = len(positions)

	if changed {
		if w.frozen(snap.AsOf, now) {
			return nil, fmt.Errorf("%w: snapshot %s as of %s", apperrors.ErrSnapshotFrozen,
				stored.ID, snap.AsOf.UTC().Format(time.RFC3339))
		}
		result.Outcome = WriteRefreshed
	}

	for _, row := range rows {
		if err := snapshots.UpsertPosition(ctx, row); err != nil {
			return nil, err
		}
	}

	if existing {
		if err := snapshots.Touch(ctx, stored.ID, run.ID, totalBase, totalRate.RateID(), now); err != nil {
			return nil, err
		}
	}

	for _, t := range res.Trades {
		if err := w.upsertTrade(ctx, resolver, converter, snapshots, run, account, t, now); err != nil {
			return nil, err
		}
	}
	result.Trades = len(res.Trades)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (w *SnapshotWriter) upsertTrade(
	ctx context.Context,
	resolver *instrument.Resolver,
	converter *fx.Converter,
	snapshots *repository.SnapshotRepository,
	run model.Run,
	account model.BrokerAccount,
	t broker.NormalizedTrade,
	now time.Time,
) error {
	if strings.TrimSpace(t.BrokerTradeID) == "" {
		return fmt.Errorf("%w: trade without broker trade id", apperrors.ErrInvalidSnapshot)
	}
	inst, err := resolver.Resolve(ctx, account.Broker, t.Instrument)
	if err != nil {
		return fmt.Errorf("failed to resolve trade instrument %s: %w", t.Instrument.BrokerInstrumentID, err)
	}
	ccy := strings.ToUpper(t.Currency)
	if ccy == "" {
		ccy = inst.Currency
	}

	trade := model.Trade{
		ID:              uuid.New().String(),
		Broker:          account.Broker,
		BrokerTradeID:   t.BrokerTradeID,
		AccountID:       account.ID,
		BrokerAccountID: account.BrokerAccountID,
		InstrumentID:    inst.ID,
		TradeTime:       t.TradeTime.UTC(),
		Quantity:        t.Quantity,
		Price:           t.Price,
		Currency:        ccy,
		AmountLocal:     t.Amount,
		RunID:           run.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Trades may predate every stored rate; the base amount is then left empty.
	amountBase, rate, err := converter.Convert(ctx, t.Amount, ccy, account.BaseCurrency, t.TradeTime)
	switch {
	case err == nil:
		trade.AmountBase = decimal.NewNullDecimal(amountBase)
		trade.FxRateID = rate.RateID()
	case !errors.Is(err, apperrors.ErrExchangeRateNotFound):
		return fmt.Errorf("failed to convert trade %s: %w", t.BrokerTradeID, err)
	}

	return snapshots.UpsertTrade(ctx, trade)
}

// RetainRaw stores the raw documents of a fetch that could not be committed,
// in a transaction of its own, so the payload stays available for replay.
func (w *SnapshotWriter) RetainRaw(ctx context.Context, run model.Run, account model.BrokerAccount, raw []broker.RawDocument) error {
	if len(raw) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertRaw(ctx, w.snapshots.WithTx(tx), run, account, raw); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit raw payloads: %w", err)
	}
	w.log.Debug().Str("run_id", run.ID).Str("account", account.Ref()).Int("documents", len(raw)).Msg("raw payloads retained")
	return nil
}

func (w *SnapshotWriter) frozen(asOf, now time.Time) bool {
	return w.rewriteWindow > 0 && now.Sub(asOf) > w.rewriteWindow
}

func insertRaw(ctx context.Context, repo *repository.SnapshotRepository, run model.Run, account model.BrokerAccount, raw []broker.RawDocument) error {
	for _, doc := range raw {
		received := doc.ReceivedAt
		if received.IsZero() {
			received = time.Now()
		}
		if err := repo.InsertRawPayload(ctx, model.RawPayload{
			ID:          uuid.New().String(),
			RunID:       run.ID,
			AccountID:   account.ID,
			Broker:      account.Broker,
			Endpoint:    doc.Endpoint,
			ContentType: doc.ContentType,
			Payload:     doc.Payload,
			ReceivedAt:  received.UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// validateSnapshot checks the normalized data before any write. Every error
// wraps ErrInvalidSnapshot together with the specific rule that failed.
func validateSnapshot(account model.BrokerAccount, snap broker.NormalizedSnapshot) error {
	invalid := func(rule error, format string, args ...any) error {
		return fmt.Errorf("%w: %w: %s", apperrors.ErrInvalidSnapshot, rule, fmt.Sprintf(format, args...))
	}

	if snap.AsOf.IsZero() {
		return invalid(apperrors.ErrMissingAsOf, "account %s", account.Ref())
	}
	if err := fx.ValidateCurrency(strings.ToUpper(snap.Currency)); err != nil {
		return invalid(apperrors.ErrInvalidCurrency, "snapshot currency %q", snap.Currency)
	}
	if err := fx.ValidateCurrency(strings.ToUpper(account.BaseCurrency)); err != nil {
		return invalid(apperrors.ErrInvalidCurrency, "base currency %q", account.BaseCurrency)
	}
	for i, p := range snap.Positions {
		if strings.TrimSpace(p.Instrument.BrokerInstrumentID) == "" {
			return invalid(apperrors.ErrMissingInstrumentID, "position %d", i)
		}
		if p.Instrument.Currency != "" {
			if err := fx.ValidateCurrency(strings.ToUpper(p.Instrument.Currency)); err != nil {
				return invalid(apperrors.ErrInvalidCurrency, "position %s currency %q",
					p.Instrument.BrokerInstrumentID, p.Instrument.Currency)
			}
		}
		if p.Quantity.IsNegative() && !p.Short {
			return invalid(apperrors.ErrNegativeQuantity, "position %s quantity %s",
				p.Instrument.BrokerInstrumentID, p.Quantity)
		}
	}
	return nil
}

// collapsePositions keeps one entry per broker instrument id. The last
// entry seen wins and takes the position of the first occurrence.
func collapsePositions(in []broker.NormalizedPosition) []broker.NormalizedPosition {
	index := make(map[string]int, len(in))
	out := make([]broker.NormalizedPosition, 0, len(in))
	for _, p := range in {
		id := strings.TrimSpace(p.Instrument.BrokerInstrumentID)
		if i, ok := index[id]; ok {
			out[i] = p
			continue
		}
		index[id] = len(out)
		out = append(out, p)
	}
	return out
}

func sameRateID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

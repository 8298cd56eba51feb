package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/database"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/ndewijer/portfolio-snapshot/internal/version"
)

// TriggerRequest starts a run. TriggerType is required ("manual",
// "scheduled", "cli", ...); TriggeredBy optionally names the caller.
type TriggerRequest struct {
	TriggerType string
	TriggeredBy *string
}

// RunResult is returned once a run is terminal.
type RunResult struct {
	RunID        string                    `json:"run_id"`
	Status       model.RunStatus           `json:"status"`
	ErrorSummary *string                   `json:"error_summary"`
	StartedAt    time.Time                 `json:"started_at"`
	FinishedAt   time.Time                 `json:"finished_at"`
	Outcomes     []model.RunAccountOutcome `json:"outcomes"`
}

// CoordinatorConfig bounds the fan-out of a run.
type CoordinatorConfig struct {
	// Concurrency is the number of account units processed at once.
	Concurrency int
	// PerBrokerConcurrency limits concurrent fetches against one broker.
	PerBrokerConcurrency int
	Policy               broker.Policy
}

// RunCoordinator orchestrates one capture run across all configured
// accounts. Every unit fetches first and only then opens its write
// transaction, so no lock is held across a network call.
type RunCoordinator struct {
	db        *sql.DB
	runs      *repository.RunRepository
	targets   TargetLoader
	writer    *SnapshotWriter
	converter *fx.Converter
	cfg       CoordinatorConfig
	log       zerolog.Logger
	now       func() time.Time
}

// NewRunCoordinator creates a RunCoordinator.
func NewRunCoordinator(
	db *sql.DB,
	runs *repository.RunRepository,
	targets TargetLoader,
	writer *SnapshotWriter,
	converter *fx.Converter,
	cfg CoordinatorConfig,
	log zerolog.Logger,
) *RunCoordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PerBrokerConcurrency < 1 {
		cfg.PerBrokerConcurrency = cfg.Concurrency
	}
	return &RunCoordinator{
		db:        db,
		runs:      runs,
		targets:   targets,
		writer:    writer,
		converter: converter,
		cfg:       cfg,
		log:       log.With().Str("component", "run_coordinator").Logger(),
		now:       time.Now,
	}
}

// Trigger runs a capture across every target and returns once the run is
// terminal. Configuration and store failures are returned before a run row
// exists; after that every account failure is recorded as an outcome and
// the caller always receives a run id and terminal status.
func (c *RunCoordinator) Trigger(ctx context.Context, req TriggerRequest) (*RunResult, error) {
	triggerType := strings.TrimSpace(req.TriggerType)
	if triggerType == "" {
		return nil, apperrors.ErrInvalidTriggerType
	}

	if err := database.HealthCheck(ctx, c.db); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	schemaVersion, err := database.SchemaVersion(ctx, c.db)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}

	targets, err := c.targets.Targets(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, apperrors.ErrNoAccountsConfigured
	}

	run := model.Run{
		ID:            uuid.New().String(),
		TriggerType:   triggerType,
		TriggeredBy:   req.TriggeredBy,
		StartedAt:     c.now().UTC(),
		Status:        model.RunStatusRunning,
		SchemaVersion: schemaVersion,
		AppVersion:    version.Version,
	}
	if err := c.runs.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToStartRun, err)
	}

	log := c.log.With().Str("run_id", run.ID).Logger()
	log.Info().Str("trigger", triggerType).Int("accounts", len(targets)).Msg("run started")

	outcomes := c.fanOut(ctx, run, targets)

	status := ComputeStatus(outcomes)
	summary := BuildErrorSummary(outcomes)
	finishedAt := c.now().UTC()

	// Finalization must happen even when the caller has gone away.
	if err := c.runs.FinalizeRun(context.WithoutCancel(ctx), run.ID, status, finishedAt, summary); err != nil {
		log.Error().Err(err).Msg("failed to finalize run")
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToFinalizeRun, err)
	}

	event := log.Info()
	if status != model.RunStatusSuccess {
		event = log.Warn()
	}
	event.Str("status", string(status)).Dur("duration", finishedAt.Sub(run.StartedAt)).Msg("run finished")

	return &RunResult{
		RunID:        run.ID,
		Status:       status,
		ErrorSummary: summary,
		StartedAt:    run.StartedAt,
		FinishedAt:   finishedAt,
		Outcomes:     outcomes,
	}, nil
}

// fanOut processes every target independently and returns one outcome per
// target, in target order. It returns only after every unit is terminal.
func (c *RunCoordinator) fanOut(ctx context.Context, run model.Run, targets []Target) []model.RunAccountOutcome {
	perBroker := make(map[string]*semaphore.Weighted)
	for _, t := range targets {
		if _, ok := perBroker[t.Account.Broker]; !ok {
			perBroker[t.Account.Broker] = semaphore.NewWeighted(int64(c.cfg.PerBrokerConcurrency))
		}
	}

	outcomes := make([]model.RunAccountOutcome, len(targets))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			outcomes[i] = c.processAccount(ctx, run, t, perBroker[t.Account.Broker])
			if err := c.runs.InsertOutcome(context.WithoutCancel(ctx), outcomes[i]); err != nil {
				c.log.Error().Err(err).Str("run_id", run.ID).Str("account", t.Account.Ref()).
					Msg("failed to record account outcome")
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// processAccount runs fetch then write for one account. A panic anywhere in
// the unit becomes an adapter_error outcome.
func (c *RunCoordinator) processAccount(
	ctx context.Context,
	run model.Run,
	t Target,
	sem *semaphore.Weighted,
) (out model.RunAccountOutcome) {
	account := t.Account
	log := c.log.With().Str("run_id", run.ID).Str("account", account.Ref()).Logger()

	out = model.RunAccountOutcome{
		ID:              uuid.New().String(),
		RunID:           run.ID,
		AccountID:       account.ID,
		Broker:          account.Broker,
		BrokerAccountID: account.BrokerAccountID,
		StartedAt:       c.now().UTC(),
	}
	fail := func(kind model.OutcomeKind, err error) {
		out.Outcome = kind
		out.Category = string(broker.CategoryOf(err))
		out.Message = broker.MessageOf(err)
		log.Warn().Err(err).Str("outcome", string(kind)).Str("category", out.Category).Msg("account failed")
	}
	defer func() {
		if p := recover(); p != nil {
			out.Outcome = model.OutcomeAdapterError
			out.Category = string(broker.CategoryUnknown)
			out.Message = fmt.Sprintf("panic: %v", p)
			log.Error().Interface("panic", p).Msg("account unit panicked")
		}
		out.FinishedAt = c.now().UTC()
	}()

	if t.Err != nil {
		fail(model.OutcomeAdapterError, t.Err)
		return out
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		fail(model.OutcomeAdapterError, broker.NewNetworkError("run cancelled before fetch", err))
		return out
	}
	res, attempts, err := func() (*broker.FetchResult, int, error) {
		defer sem.Release(1)
		return broker.FetchWithRetry(ctx, c.cfg.Policy, t.Adapter, account)
	}()
	out.Attempts = attempts

	if err != nil {
		if raw := broker.RawOf(err); len(raw) > 0 {
			if rerr := c.writer.RetainRaw(context.WithoutCancel(ctx), run, account, raw); rerr != nil {
				log.Error().Err(rerr).Msg("failed to retain raw payloads")
			}
		}
		fail(model.OutcomeAdapterError, err)
		return out
	}

	if c.converter != nil {
		c.converter.Prefetch(ctx, currencyPairs(res, account.BaseCurrency), res.Snapshot.AsOf)
	}

	wr, err := c.writer.Commit(ctx, run, account, res)
	if err != nil {
		if broker.CategoryOf(err) == broker.CategoryValidation {
			if rerr := c.writer.RetainRaw(context.WithoutCancel(ctx), run, account, res.Raw); rerr != nil {
				log.Error().Err(rerr).Msg("failed to retain raw payloads")
			}
		}
		fail(model.OutcomeWriterError, err)
		return out
	}

	out.Outcome = model.OutcomeOK
	out.SnapshotID = &wr.SnapshotID
	return out
}

// currencyPairs lists the conversions a commit of res will need.
func currencyPairs(res *broker.FetchResult, base string) []fx.Pair {
	pairs := []fx.Pair{{Source: res.Snapshot.Currency, Target: base}}
	for _, p := range res.Snapshot.Positions {
		if p.Instrument.Currency != "" {
			pairs = append(pairs, fx.Pair{Source: p.Instrument.Currency, Target: base})
		}
	}
	return pairs
}

// GetRun returns a run with its account outcomes.
func (c *RunCoordinator) GetRun(ctx context.Context, id string) (*model.RunDetail, error) {
	run, err := c.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	outcomes, err := c.runs.ListOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.RunDetail{Run: run, Outcomes: outcomes}, nil
}

// ListRuns returns the most recent runs, newest first.
func (c *RunCoordinator) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	runs, err := c.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveRuns, err)
	}
	return runs, nil
}

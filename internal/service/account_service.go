package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
)

// AccountSpec is one configured broker account together with the
// connection settings its adapter needs.
type AccountSpec struct {
	Broker          string
	BrokerAccountID string
	DisplayName     string
	BaseCurrency    string
	Settings        broker.Settings
}

// Target pairs a registered account with the adapter that captures it.
type Target struct {
	Account model.BrokerAccount
	Adapter broker.Adapter
	// Err is set when the adapter could not be built. The account then
	// fails its unit without a fetch.
	Err error
}

// TargetLoader supplies the accounts a run should capture.
type TargetLoader interface {
	Targets(ctx context.Context) ([]Target, error)
}

// StaticTargets is a fixed target list.
type StaticTargets []Target

// Targets returns the list unchanged.
func (s StaticTargets) Targets(context.Context) ([]Target, error) {
	return s, nil
}

// AccountService keeps configured accounts registered as reference data and
// builds the adapters used by each run.
type AccountService struct {
	accounts *repository.AccountRepository
	registry *broker.Registry
	specs    []AccountSpec
	log      zerolog.Logger
}

// NewAccountService creates an AccountService for the configured specs.
func NewAccountService(
	accounts *repository.AccountRepository,
	registry *broker.Registry,
	specs []AccountSpec,
	log zerolog.Logger,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		registry: registry,
		specs:    specs,
		log:      log.With().Str("component", "accounts").Logger(),
	}
}

// Sync registers every configured account, inserting unknown ones and
// refreshing display name and base currency of known ones.
func (s *AccountService) Sync(ctx context.Context) ([]model.BrokerAccount, error) {
	out := make([]model.BrokerAccount, 0, len(s.specs))
	for _, spec := range s.specs {
		if !s.registry.Has(spec.Broker) {
			return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownBroker, spec.Broker)
		}
		if err := fx.ValidateCurrency(spec.BaseCurrency); err != nil {
			return nil, fmt.Errorf("account %s/%s: %w", spec.Broker, spec.BrokerAccountID, err)
		}
		acct, err := s.accounts.Register(ctx, model.BrokerAccount{
			Broker:          spec.Broker,
			BrokerAccountID: spec.BrokerAccountID,
			DisplayName:     spec.DisplayName,
			BaseCurrency:    spec.BaseCurrency,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// List returns the registered accounts.
func (s *AccountService) List(ctx context.Context) ([]model.BrokerAccount, error) {
	return s.accounts.List(ctx)
}

// Targets resolves every configured account to its stored row and builds
// its adapter. Accounts that were never registered are registered first.
// An adapter that cannot be built is reported on its Target as an auth
// error; only store failures and unknown brokers fail the whole call.
func (s *AccountService) Targets(ctx context.Context) ([]Target, error) {
	targets := make([]Target, 0, len(s.specs))
	for _, spec := range s.specs {
		acct, err := s.accounts.GetByBrokerAccount(ctx, spec.Broker, spec.BrokerAccountID)
		if errors.Is(err, apperrors.ErrBrokerAccountNotFound) {
			acct, err = s.accounts.Register(ctx, model.BrokerAccount{
				Broker:          spec.Broker,
				BrokerAccountID: spec.BrokerAccountID,
				DisplayName:     spec.DisplayName,
				BaseCurrency:    spec.BaseCurrency,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToBuildTargets, err)
		}

		settings := spec.Settings
		settings.Broker = spec.Broker
		settings.AccountID = spec.BrokerAccountID
		adapter, err := s.registry.New(settings, s.log)
		if errors.Is(err, apperrors.ErrUnknownBroker) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToBuildTargets, err)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("account", acct.Ref()).Msg("adapter unavailable")
			targets = append(targets, Target{Account: acct, Err: broker.NewAuthError("adapter unavailable", err)})
			continue
		}
		targets = append(targets, Target{Account: acct, Adapter: adapter})
	}
	return targets, nil
}

// CheckAuth runs the credential check of every adapter that supports one.
// The result maps "broker/account" to nil on success, the error otherwise;
// adapters without a check are omitted.
func (s *AccountService) CheckAuth(ctx context.Context) (map[string]error, error) {
	targets, err := s.Targets(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[string]error)
	for _, t := range targets {
		if t.Err != nil {
			results[t.Account.Ref()] = t.Err
			continue
		}
		hc, ok := t.Adapter.(broker.HealthChecker)
		if !ok {
			continue
		}
		results[t.Account.Ref()] = hc.CheckAuth(ctx)
	}
	return results, nil
}

package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/logger"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
	"github.com/ndewijer/portfolio-snapshot/internal/testutil"
)

// checkedAdapter is a FakeAdapter that also verifies credentials.
type checkedAdapter struct {
	*testutil.FakeAdapter
	authErr error
}

func (c checkedAdapter) CheckAuth(context.Context) error { return c.authErr }

func testRegistry() *broker.Registry {
	reg := broker.NewRegistry()
	reg.Register("fake", func(s broker.Settings, _ zerolog.Logger) (broker.Adapter, error) {
		return testutil.NewFakeAdapter("fake"), nil
	})
	reg.Register("checked", func(s broker.Settings, _ zerolog.Logger) (broker.Adapter, error) {
		var err error
		if s.Token == "" {
			err = broker.NewAuthError("no token", nil)
		}
		return checkedAdapter{FakeAdapter: testutil.NewFakeAdapter("checked"), authErr: err}, nil
	})
	reg.Register("broken", func(broker.Settings, zerolog.Logger) (broker.Adapter, error) {
		return nil, errors.New("missing credentials")
	})
	return reg
}

func TestAccountService_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("registers configured accounts once", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		specs := []service.AccountSpec{
			{Broker: "fake", BrokerAccountID: "U1", DisplayName: "Main", BaseCurrency: "EUR"},
			{Broker: "fake", BrokerAccountID: "U2", DisplayName: "Kids", BaseCurrency: "USD"},
		}
		svc := service.NewAccountService(repository.NewAccountRepository(db), testRegistry(), specs, logger.Nop())

		first, err := svc.Sync(ctx)
		require.NoError(t, err)
		second, err := svc.Sync(ctx)
		require.NoError(t, err)

		require.Len(t, first, 2)
		assert.Equal(t, first[0].ID, second[0].ID)
		testutil.AssertRowCount(t, db, "broker_account", 2)

		listed, err := svc.List(ctx)
		require.NoError(t, err)
		assert.Len(t, listed, 2)
	})

	t.Run("unknown broker", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := service.NewAccountService(repository.NewAccountRepository(db), testRegistry(),
			[]service.AccountSpec{{Broker: "etrade", BrokerAccountID: "1", BaseCurrency: "USD"}}, logger.Nop())

		_, err := svc.Sync(ctx)

		require.ErrorIs(t, err, apperrors.ErrUnknownBroker)
		testutil.AssertRowCount(t, db, "broker_account", 0)
	})

	t.Run("invalid base currency", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := service.NewAccountService(repository.NewAccountRepository(db), testRegistry(),
			[]service.AccountSpec{{Broker: "fake", BrokerAccountID: "1", BaseCurrency: "ZZZ"}}, logger.Nop())

		_, err := svc.Sync(ctx)

		require.ErrorIs(t, err, apperrors.ErrInvalidCurrency)
	})
}

func TestAccountService_Targets(t *testing.T) {
	ctx := context.Background()

	t.Run("builds one adapter per account", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := service.NewAccountService(repository.NewAccountRepository(db), testRegistry(), []service.AccountSpec{
			{Broker: "fake", BrokerAccountID: "U1", BaseCurrency: "EUR"},
			{Broker: "checked", BrokerAccountID: "C1", BaseCurrency: "USD", Settings: broker.Settings{Token: "t"}},
		}, logger.Nop())

		targets, err := svc.Targets(ctx)

		require.NoError(t, err)
		require.Len(t, targets, 2)
		assert.Equal(t, "U1", targets[0].Account.BrokerAccountID)
		assert.NotEmpty(t, targets[0].Account.ID, "unregistered accounts are registered on demand")
		assert.Equal(t, "fake", targets[0].Adapter.Name())
		assert.Equal(t, "checked", targets[1].Adapter.Name())
	})

	t.Run("factory failure is reported on the target", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := service.NewAccountService(repository.NewAccountRepository(db), testRegistry(), []service.AccountSpec{
			{Broker: "broken", BrokerAccountID: "B1", BaseCurrency: "EUR"},
			{Broker: "fake", BrokerAccountID: "U1", BaseCurrency: "EUR"},
		}, logger.Nop())

		targets, err := svc.Targets(ctx)

		require.NoError(t, err)
		require.Len(t, targets, 2)
		assert.Nil(t, targets[0].Adapter)
		require.Error(t, targets[0].Err)
		assert.Equal(t, broker.CategoryAuth, broker.CategoryOf(targets[0].Err))
		assert.Contains(t, targets[0].Err.Error(), "missing credentials")
		assert.NoError(t, targets[1].Err)
		assert.Equal(t, "fake", targets[1].Adapter.Name())
	})

	t.Run("unknown broker fails the call", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := service.NewAccountService(repository.NewAccountRepository(db), testRegistry(), []service.AccountSpec{
			{Broker: "nope", BrokerAccountID: "N1", BaseCurrency: "EUR"},
		}, logger.Nop())

		_, err := svc.Targets(ctx)

		require.ErrorIs(t, err, apperrors.ErrFailedToBuildTargets)
		require.ErrorIs(t, err, apperrors.ErrUnknownBroker)
	})
}

func TestAccountService_CheckAuth(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := service.NewAccountService(repository.NewAccountRepository(db), testRegistry(), []service.AccountSpec{
		{Broker: "fake", BrokerAccountID: "U1", BaseCurrency: "EUR"},
		{Broker: "checked", BrokerAccountID: "good", BaseCurrency: "USD", Settings: broker.Settings{Token: "t"}},
		{Broker: "checked", BrokerAccountID: "bad", BaseCurrency: "USD"},
	}, logger.Nop())

	results, err := svc.CheckAuth(ctx)

	require.NoError(t, err)
	require.Len(t, results, 2, "adapters without a credential check are skipped")
	assert.NoError(t, results["checked/good"])
	require.Error(t, results["checked/bad"])
	assert.Equal(t, broker.CategoryAuth, broker.CategoryOf(results["checked/bad"]))
}

// StaticTargets is what the CLI uses for single-account runs.
func TestStaticTargets(t *testing.T) {
	acct := model.BrokerAccount{ID: "a", Broker: "fake", BrokerAccountID: "1"}
	targets := service.StaticTargets{{Account: acct, Adapter: testutil.NewFakeAdapter("fake")}}

	got, err := targets.Targets(context.Background())

	require.NoError(t, err)
	assert.Len(t, got, 1)
}

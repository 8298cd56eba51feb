package testutil

import (
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/instrument"
	"github.com/ndewijer/portfolio-snapshot/internal/logger"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
)

// NewTestConverter creates a Converter over the test database. source may be nil.
func NewTestConverter(t *testing.T, db *sql.DB, source fx.Source) *fx.Converter {
	t.Helper()

	return fx.NewConverter(repository.NewFxRateRepository(db), source, logger.Nop())
}

// NewTestSnapshotWriter creates a SnapshotWriter with the given rewrite window.
func NewTestSnapshotWriter(t *testing.T, db *sql.DB, rewriteWindow time.Duration) *service.SnapshotWriter {
	t.Helper()

	return service.NewSnapshotWriter(
		db,
		repository.NewSnapshotRepository(db),
		instrument.NewResolver(repository.NewInstrumentRepository(db)),
		NewTestConverter(t, db, nil),
		rewriteWindow,
		logger.Nop(),
	)
}

// TestPolicy retries quickly so tests do not sleep for seconds.
func TestPolicy() broker.Policy {
	return broker.Policy{
		Attempts:     3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		FetchTimeout: 2 * time.Second,
	}
}

// NewTestRunCoordinator creates a RunCoordinator capturing targets with a
// fast retry policy and no FX source.
func NewTestRunCoordinator(t *testing.T, db *sql.DB, targets service.TargetLoader) *service.RunCoordinator {
	t.Helper()

	return NewTestRunCoordinatorWithConfig(t, db, targets, service.CoordinatorConfig{
		Concurrency:          4,
		PerBrokerConcurrency: 2,
		Policy:               TestPolicy(),
	})
}

// NewTestRunCoordinatorWithConfig creates a RunCoordinator with cfg.
func NewTestRunCoordinatorWithConfig(
	t *testing.T,
	db *sql.DB,
	targets service.TargetLoader,
	cfg service.CoordinatorConfig,
) *service.RunCoordinator {
	t.Helper()

	return service.NewRunCoordinator(
		db,
		repository.NewRunRepository(db),
		targets,
		NewTestSnapshotWriter(t, db, 0),
		NewTestConverter(t, db, nil),
		cfg,
		logger.Nop(),
	)
}

// NewTestViewService creates a ViewService over the test database.
func NewTestViewService(t *testing.T, db *sql.DB) *service.ViewService {
	t.Helper()

	return service.NewViewService(repository.NewViewRepository(db))
}

// NewTestMapper creates an instrument Mapper over the test database.
func NewTestMapper(t *testing.T, db *sql.DB) *instrument.Mapper {
	t.Helper()

	return instrument.NewMapper(
		db,
		repository.NewInstrumentRepository(db),
		repository.NewMappingRepository(db),
		logger.Nop(),
	)
}

func NewTestSystemService(t *testing.T, db *sql.DB) *service.SystemService {
	t.Helper()

	return service.NewSystemService(db, repository.NewRunRepository(db))
}

// MakeID generates a UUID string for use in tests.
//
// Example usage:
//
//	id := testutil.MakeID()
//	// Returns: "550e8400-e29b-41d4-a716-446655440000"
func MakeID() string {
	return uuid.New().String()
}

// MakeISIN generates a realistic ISIN code for testing.
//
// Example usage:
//
//	isin := testutil.MakeISIN("US")
//	// Returns: "US1A2B3C4D5E"
func MakeISIN(prefix string) string {
	if prefix == "" {
		prefix = "US"
	}
	return prefix + randomAlphanumeric(10)
}

// MakeSymbol generates a stock ticker symbol for testing.
//
// Example usage:
//
//	symbol := testutil.MakeSymbol("AAPL")
//	// Returns: "AAPL1A2B"
func MakeSymbol(base string) string {
	if base == "" {
		base = "TEST"
	}
	return base + randomAlphanumeric(4)
}

// MakeAccountNumber generates a broker account number for testing.
//
// Example usage:
//
//	acct := testutil.MakeAccountNumber("U")
//	// Returns: "U7K2M9Q1"
func MakeAccountNumber(prefix string) string {
	if prefix == "" {
		prefix = "A"
	}
	return prefix + randomAlphanumeric(7)
}

// MakeSymbolName generates a unique instrument name for testing.
//
// Example usage:
//
//	name := testutil.MakeSymbolName("Tech Symbol")
//	// Returns: "Tech Symbol XYZ789"
func MakeSymbolName(base string) string {
	if base == "" {
		base = "Symbol"
	}
	return base + " " + randomAlphanumeric(6)
}

// randomAlphanumeric generates a random alphanumeric string of specified length.
func randomAlphanumeric(length int) string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		//nolint:gosec // G404: Using math/rand for test data generation is acceptable
		result[i] = charset[rand.Intn(len(charset))]
	}
	return string(result)
}

// Common test constants

var (
	// CommonCurrencies contains frequently used currency codes
	CommonCurrencies = []string{"USD", "EUR", "GBP", "JPY", "CAD", "CHF", "AUD"}

	// CommonBrokers contains the broker names with a registered adapter
	CommonBrokers = []string{"ibkr", "schwab", "alpaca"}
)

// RandomCurrency returns a random currency from CommonCurrencies.
func RandomCurrency() string {
	//nolint:gosec // G404: Using math/rand for test data generation is acceptable
	return CommonCurrencies[rand.Intn(len(CommonCurrencies))]
}

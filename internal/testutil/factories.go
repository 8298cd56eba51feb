package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/shopspring/decimal"
)

// AccountBuilder provides a fluent interface for creating test broker accounts.
//
// Example usage:
//
//	// Simple creation with defaults
//	acct := testutil.NewAccount().Build(t, db)
//
//	// Customized account
//	acct := testutil.NewAccount().
//	    WithBroker("schwab").
//	    WithBaseCurrency("USD").
//	    Build(t, db)
type AccountBuilder struct {
	ID              string
	Broker          string
	BrokerAccountID string
	DisplayName     string
	BaseCurrency    string
}

// NewAccount creates an AccountBuilder with sensible defaults.
func NewAccount() *AccountBuilder {
	return &AccountBuilder{
		ID:              MakeID(),
		Broker:          "fake",
		BrokerAccountID: MakeAccountNumber("U"),
		DisplayName:     "Test Account",
		BaseCurrency:    "EUR",
	}
}

// WithBroker sets the broker name.
func (b *AccountBuilder) WithBroker(broker string) *AccountBuilder {
	b.Broker = broker
	return b
}

// WithBrokerAccountID sets the broker-side account number.
func (b *AccountBuilder) WithBrokerAccountID(id string) *AccountBuilder {
	b.BrokerAccountID = id
	return b
}

// WithBaseCurrency sets the account's reporting currency.
func (b *AccountBuilder) WithBaseCurrency(ccy string) *AccountBuilder {
	b.BaseCurrency = ccy
	return b
}

// Build registers the account in the database and returns the stored row.
func (b *AccountBuilder) Build(t *testing.T, db *sql.DB) model.BrokerAccount {
	t.Helper()

	acct, err := repository.NewAccountRepository(db).Register(context.Background(), model.BrokerAccount{
		ID:              b.ID,
		Broker:          b.Broker,
		BrokerAccountID: b.BrokerAccountID,
		DisplayName:     b.DisplayName,
		BaseCurrency:    b.BaseCurrency,
	})
	if err != nil {
		t.Fatalf("Failed to create test account: %v", err)
	}
	return acct
}

// InstrumentBuilder provides a fluent interface for creating test instruments.
type InstrumentBuilder struct {
	ID                 string
	Broker             string
	BrokerInstrumentID string
	Symbol             string
	Name               string
	AssetClass         string
	Currency           string
	ISIN               *string
}

// NewInstrument creates an InstrumentBuilder with sensible defaults.
func NewInstrument() *InstrumentBuilder {
	symbol := MakeSymbol("TST")
	return &InstrumentBuilder{
		ID:                 MakeID(),
		Broker:             "fake",
		BrokerInstrumentID: symbol,
		Symbol:             symbol,
		Name:               MakeSymbolName("Test Instrument"),
		AssetClass:         "STK",
		Currency:           "USD",
	}
}

// WithBroker sets the broker name.
func (b *InstrumentBuilder) WithBroker(broker string) *InstrumentBuilder {
	b.Broker = broker
	return b
}

// WithBrokerInstrumentID sets the broker's instrument identifier.
func (b *InstrumentBuilder) WithBrokerInstrumentID(id string) *InstrumentBuilder {
	b.BrokerInstrumentID = id
	return b
}

// WithCurrency sets the trading currency.
func (b *InstrumentBuilder) WithCurrency(ccy string) *InstrumentBuilder {
	b.Currency = ccy
	return b
}

// WithISIN sets the ISIN.
func (b *InstrumentBuilder) WithISIN(isin string) *InstrumentBuilder {
	b.ISIN = &isin
	return b
}

// Build creates the instrument in the database and returns it.
func (b *InstrumentBuilder) Build(t *testing.T, db *sql.DB) model.Instrument {
	t.Helper()

	now := time.Now().UTC()
	inst := model.Instrument{
		ID:                 b.ID,
		Broker:             b.Broker,
		BrokerInstrumentID: b.BrokerInstrumentID,
		Symbol:             b.Symbol,
		Name:               b.Name,
		AssetClass:         b.AssetClass,
		Currency:           b.Currency,
		ISIN:               b.ISIN,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := repository.NewInstrumentRepository(db).InsertIfAbsent(context.Background(), inst); err != nil {
		t.Fatalf("Failed to create test instrument: %v", err)
	}
	return inst
}

// GlobalInstrumentBuilder provides a fluent interface for creating global instrument identities.
type GlobalInstrumentBuilder struct {
	ID     string
	Name   string
	Symbol string
	ISIN   *string
}

// NewGlobalInstrument creates a GlobalInstrumentBuilder with sensible defaults.
func NewGlobalInstrument() *GlobalInstrumentBuilder {
	return &GlobalInstrumentBuilder{
		ID:     MakeID(),
		Name:   MakeSymbolName("Global"),
		Symbol: MakeSymbol("GLB"),
	}
}

// WithName sets the display name.
func (b *GlobalInstrumentBuilder) WithName(name string) *GlobalInstrumentBuilder {
	b.Name = name
	return b
}

// WithISIN sets the ISIN.
func (b *GlobalInstrumentBuilder) WithISIN(isin string) *GlobalInstrumentBuilder {
	b.ISIN = &isin
	return b
}

// Build creates the global instrument in the database and returns it.
func (b *GlobalInstrumentBuilder) Build(t *testing.T, db *sql.DB) model.GlobalInstrument {
	t.Helper()

	g := model.GlobalInstrument{
		ID:        b.ID,
		Name:      b.Name,
		Symbol:    b.Symbol,
		ISIN:      b.ISIN,
		CreatedAt: time.Now().UTC(),
	}
	if err := repository.NewMappingRepository(db).InsertGlobal(context.Background(), g); err != nil {
		t.Fatalf("Failed to create test global instrument: %v", err)
	}
	return g
}

// CreateMapping links an instrument to a global instrument with a manual mapping.
func CreateMapping(t *testing.T, db *sql.DB, instrumentID, globalID string) model.InstrumentMapping {
	t.Helper()

	now := time.Now().UTC()
	m := model.InstrumentMapping{
		ID:                 MakeID(),
		InstrumentID:       instrumentID,
		GlobalInstrumentID: globalID,
		Source:             model.MappingSourceManual,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := repository.NewMappingRepository(db).InsertMapping(context.Background(), m); err != nil {
		t.Fatalf("Failed to create test mapping: %v", err)
	}
	return m
}

// FxRateBuilder provides a fluent interface for creating exchange rates.
//
// Example usage:
//
//	rate := testutil.NewFxRate("USD", "EUR", "0.92").At(asOf).Build(t, db)
type FxRateBuilder struct {
	ID       string
	Source   string
	Target   string
	Rate     decimal.Decimal
	AsOf     time.Time
	Provider string
}

// NewFxRate creates an FxRateBuilder for the pair and rate, dated yesterday.
func NewFxRate(source, target, rate string) *FxRateBuilder {
	return &FxRateBuilder{
		ID:       MakeID(),
		Source:   source,
		Target:   target,
		Rate:     decimal.RequireFromString(rate),
		AsOf:     time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second),
		Provider: "test",
	}
}

// At sets the observation time.
func (b *FxRateBuilder) At(asOf time.Time) *FxRateBuilder {
	b.AsOf = asOf
	return b
}

// WithProvider sets the provider label.
func (b *FxRateBuilder) WithProvider(provider string) *FxRateBuilder {
	b.Provider = provider
	return b
}

// Build stores the rate and returns the stored row.
func (b *FxRateBuilder) Build(t *testing.T, db *sql.DB) model.FxRate {
	t.Helper()

	rate, err := repository.NewFxRateRepository(db).Insert(context.Background(), model.FxRate{
		ID:             b.ID,
		AsOf:           b.AsOf,
		SourceCurrency: b.Source,
		TargetCurrency: b.Target,
		Rate:           b.Rate,
		Provider:       b.Provider,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to create test exchange rate: %v", err)
	}
	return rate
}

// RunBuilder provides a fluent interface for creating runs. Runs stay in the
// running state unless Finished is called.
type RunBuilder struct {
	ID           string
	TriggerType  string
	StartedAt    time.Time
	Status       model.RunStatus
	ErrorSummary *string
}

// NewRun creates a RunBuilder with sensible defaults.
func NewRun() *RunBuilder {
	return &RunBuilder{
		ID:          MakeID(),
		TriggerType: "test",
		StartedAt:   time.Now().UTC(),
	}
}

// Finished makes Build finalize the run with status one minute after it started.
func (b *RunBuilder) Finished(status model.RunStatus, summary string) *RunBuilder {
	b.Status = status
	if summary != "" {
		b.ErrorSummary = &summary
	}
	return b
}

// StartedAtTime sets the run start time.
func (b *RunBuilder) StartedAtTime(at time.Time) *RunBuilder {
	b.StartedAt = at.UTC()
	return b
}

// Build creates the run in the database and returns it.
func (b *RunBuilder) Build(t *testing.T, db *sql.DB) model.Run {
	t.Helper()

	run := model.Run{
		ID:            b.ID,
		TriggerType:   b.TriggerType,
		StartedAt:     b.StartedAt,
		Status:        model.RunStatusRunning,
		SchemaVersion: 2,
		AppVersion:    "test",
	}
	runs := repository.NewRunRepository(db)
	if err := runs.InsertRun(context.Background(), run); err != nil {
		t.Fatalf("Failed to create test run: %v", err)
	}
	if b.Status == "" || b.Status == model.RunStatusRunning {
		return run
	}

	finishedAt := b.StartedAt.Add(time.Minute)
	if err := runs.FinalizeRun(context.Background(), run.ID, b.Status, finishedAt, b.ErrorSummary); err != nil {
		t.Fatalf("Failed to finalize test run: %v", err)
	}
	run.Status = b.Status
	run.FinishedAt = &finishedAt
	run.ErrorSummary = b.ErrorSummary
	return run
}

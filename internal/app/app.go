// Package app assembles the services shared by the server and the admin CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ndewijer/portfolio-snapshot/internal/alpaca"
	"github.com/ndewijer/portfolio-snapshot/internal/api"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/config"
	"github.com/ndewijer/portfolio-snapshot/internal/database"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/ibkr"
	"github.com/ndewijer/portfolio-snapshot/internal/instrument"
	"github.com/ndewijer/portfolio-snapshot/internal/repository"
	"github.com/ndewijer/portfolio-snapshot/internal/schwab"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
	"github.com/ndewijer/portfolio-snapshot/internal/yahoo"
)

// App holds the wired services over one database connection.
type App struct {
	Config      *config.Config
	DB          *sql.DB
	Log         zerolog.Logger
	Registry    *broker.Registry
	Accounts    *service.AccountService
	Coordinator *service.RunCoordinator
	Converter   *fx.Converter
	Mapper      *instrument.Mapper
	Views       *service.ViewService
	System      *service.SystemService
}

// NewRegistry returns a registry with every supported broker registered.
func NewRegistry() *broker.Registry {
	reg := broker.NewRegistry()
	ibkr.Register(reg)
	schwab.Register(reg)
	alpaca.Register(reg)
	return reg
}

// AccountSpecs converts the configured accounts to service specs.
func AccountSpecs(accounts []config.AccountConfig) []service.AccountSpec {
	specs := make([]service.AccountSpec, 0, len(accounts))
	for _, a := range accounts {
		specs = append(specs, service.AccountSpec{
			Broker:          a.Broker,
			BrokerAccountID: a.AccountID,
			DisplayName:     a.DisplayName,
			BaseCurrency:    a.BaseCurrency,
			Settings:        a.Settings(),
		})
	}
	return specs
}

// NewFxSource returns the configured external rate source, or nil when
// rates are only recorded manually or by brokers.
func NewFxSource(cfg *config.Config) fx.Source {
	if cfg.FX.Provider != fx.YahooProvider {
		return nil
	}
	return fx.NewYahooSource(yahoo.NewFinanceClient("", cfg.Snapshot.FetchTimeout))
}

// New opens the database, applies pending migrations and wires every service.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	version, err := database.Migrate(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().
		Str("path", cfg.Database.Path).
		Int64("schema_version", version).
		Msg("Database ready")

	return Wire(db, cfg, log), nil
}

// Wire builds the services over an already migrated database.
func Wire(db *sql.DB, cfg *config.Config, log zerolog.Logger) *App {
	registry := NewRegistry()

	converter := fx.NewConverter(repository.NewFxRateRepository(db), NewFxSource(cfg), log)
	writer := service.NewSnapshotWriter(
		db,
		repository.NewSnapshotRepository(db),
		instrument.NewResolver(repository.NewInstrumentRepository(db)),
		converter,
		cfg.Snapshot.RewriteWindow,
		log,
	)
	accounts := service.NewAccountService(
		repository.NewAccountRepository(db),
		registry,
		AccountSpecs(cfg.Accounts),
		log,
	)
	coordinator := service.NewRunCoordinator(
		db,
		repository.NewRunRepository(db),
		accounts,
		writer,
		converter,
		service.CoordinatorConfig{
			Concurrency:          cfg.Snapshot.Concurrency,
			PerBrokerConcurrency: cfg.Snapshot.PerBrokerConcurrency,
			Policy:               cfg.Policy(),
		},
		log,
	)

	return &App{
		Config:      cfg,
		DB:          db,
		Log:         log,
		Registry:    registry,
		Accounts:    accounts,
		Coordinator: coordinator,
		Converter:   converter,
		Mapper: instrument.NewMapper(
			db,
			repository.NewInstrumentRepository(db),
			repository.NewMappingRepository(db),
			log,
		),
		Views:  service.NewViewService(repository.NewViewRepository(db)),
		System: service.NewSystemService(db, repository.NewRunRepository(db)),
	}
}

// Router returns the HTTP API over the app's services.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Services{
		System:    a.System,
		Runs:      a.Coordinator,
		Views:     a.Views,
		Converter: a.Converter,
		Mapper:    a.Mapper,
	}, a.Config, a.Log)
}

// Close closes the database.
func (a *App) Close() error {
	return a.DB.Close()
}

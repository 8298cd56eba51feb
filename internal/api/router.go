package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ndewijer/portfolio-snapshot/internal/api/handlers"
	custommiddleware "github.com/ndewijer/portfolio-snapshot/internal/api/middleware"
	"github.com/ndewijer/portfolio-snapshot/internal/config"
	"github.com/ndewijer/portfolio-snapshot/internal/fx"
	"github.com/ndewijer/portfolio-snapshot/internal/instrument"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
)

// Services bundles the services exposed over HTTP.
type Services struct {
	System    *service.SystemService
	Runs      *service.RunCoordinator
	Views     *service.ViewService
	Converter *fx.Converter
	Mapper    *instrument.Mapper
}

// NewRouter creates and configures the HTTP router
func NewRouter(svc Services, cfg *config.Config, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.Logger(log))
	r.Use(middleware.Recoverer)

	// CORS middleware
	corsMiddleware := custommiddleware.NewCORS(cfg.CORS.AllowedOrigins)
	r.Use(corsMiddleware.Handler)

	requireAPIKey := custommiddleware.APIKey(cfg.Server.APIKey)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// System namespace
		r.Route("/system", func(r chi.Router) {
			systemHandler := handlers.NewSystemHandler(svc.System)
			r.Get("/health", systemHandler.Health)
			r.Get("/version", systemHandler.Version)
		})

		r.Route("/run", func(r chi.Router) {
			runHandler := handlers.NewRunHandler(svc.Runs)
			r.Get("/", runHandler.ListRuns)
			r.With(requireAPIKey).Post("/", runHandler.TriggerRun)
			r.With(custommiddleware.ValidateUUIDMiddleware).Get("/{uuid}", runHandler.GetRun)
		})

		viewHandler := handlers.NewViewHandler(svc.Views)
		r.Get("/snapshot/latest", viewHandler.LatestSnapshots)
		r.Get("/portfolio/daily", viewHandler.DailyPortfolioValue)
		r.Get("/position/history", viewHandler.PositionHistory)
		r.Route("/allocation", func(r chi.Router) {
			r.Get("/", viewHandler.Allocation)
			r.Get("/broker", viewHandler.AllocationByBroker)
		})

		r.Route("/fx", func(r chi.Router) {
			fxHandler := handlers.NewFxHandler(svc.Converter)
			r.Get("/", fxHandler.GetRate)
			r.Get("/history", fxHandler.ListRates)
			r.With(requireAPIKey).Post("/", fxHandler.SetRate)
		})

		r.Route("/instrument", func(r chi.Router) {
			mappingHandler := handlers.NewMappingHandler(svc.Mapper)
			r.Get("/unmapped", mappingHandler.ListUnmapped)
			r.Group(func(r chi.Router) {
				r.Use(requireAPIKey)
				r.Post("/global", mappingHandler.CreateGlobalInstrument)
				r.Post("/mapping", mappingHandler.MapInstrument)
				r.Post("/mapping/isin", mappingHandler.MapByISIN)
			})
		})
	})

	return r
}

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ndewijer/portfolio-snapshot/internal/api/middleware"
	"github.com/ndewijer/portfolio-snapshot/internal/config"
	"github.com/ndewijer/portfolio-snapshot/internal/logger"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
	"github.com/ndewijer/portfolio-snapshot/internal/testutil"
)

const routerAPIKey = "router-test-key"

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	db := testutil.SetupTestDB(t)

	cfg := &config.Config{
		Server: config.ServerConfig{APIKey: routerAPIKey},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
	svc := Services{
		System:    testutil.NewTestSystemService(t, db),
		Runs:      testutil.NewTestRunCoordinator(t, db, service.StaticTargets{}),
		Views:     testutil.NewTestViewService(t, db),
		Converter: testutil.NewTestConverter(t, db, nil),
		Mapper:    testutil.NewTestMapper(t, db),
	}
	return NewRouter(svc, cfg, logger.Nop())
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := setupRouter(t)

	paths := []string{
		"/api/system/health",
		"/api/system/version",
		"/api/run",
		"/api/snapshot/latest",
		"/api/allocation",
		"/api/allocation/broker",
		"/api/instrument/unmapped",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			if w.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestRouter_InvalidRunID(t *testing.T) {
	router := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/run/not-a-uuid", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_MutatingRoutesRequireAPIKey(t *testing.T) {
	router := setupRouter(t)

	paths := []string{
		"/api/run",
		"/api/fx",
		"/api/instrument/global",
		"/api/instrument/mapping",
		"/api/instrument/mapping/isin",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d: %s", w.Code, w.Body.String())
			}
		})
	}

	t.Run("authorized request reaches the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/instrument/mapping/isin", nil)
		req.Header.Set("X-API-Key", routerAPIKey)
		req.Header.Set("X-Time-Token", middleware.GenerateTimeToken(routerAPIKey))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})
}

package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/ndewijer/portfolio-snapshot/internal/service"
	"github.com/ndewijer/portfolio-snapshot/internal/testutil"
)

var handlerAsOf = time.Date(2024, 3, 15, 21, 0, 0, 0, time.UTC)

func setupRunHandler(t *testing.T, adapters ...*testutil.FakeAdapter) (*RunHandler, *sql.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	targets := make(service.StaticTargets, 0, len(adapters))
	for i, a := range adapters {
		acct := testutil.NewAccount().
			WithBroker(a.Name()).
			WithBrokerAccountID(string(rune('A' + i))).
			WithBaseCurrency("USD").
			Build(t, db)
		targets = append(targets, service.Target{Account: acct, Adapter: a})
	}

	return NewRunHandler(testutil.NewTestRunCoordinator(t, db, targets)), db
}

func triggerRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRunHandler_TriggerRun(t *testing.T) {
	result := testutil.NewFetchResult(handlerAsOf).WithTotal("150").WithPosition("AAPL", "1", "150").Build()

	t.Run("runs every account and returns the result", func(t *testing.T) {
		handler, _ := setupRunHandler(t,
			testutil.NewFakeAdapter("fake").Returning(result),
			testutil.NewFakeAdapter("other").Failing(broker.NewAuthError("token expired", nil)),
		)

		w := httptest.NewRecorder()
		handler.TriggerRun(w, triggerRequest(`{"trigger_type":"manual","triggered_by":"ops"}`))

		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
		}

		var response service.RunResult
		//nolint:errcheck // Test assertion - decode failure would cause test to fail anyway
		json.NewDecoder(w.Body).Decode(&response)

		if response.RunID == "" {
			t.Error("Expected run_id to be populated")
		}
		if response.Status != model.RunStatusPartial {
			t.Errorf("Expected status 'partial', got '%s'", response.Status)
		}
		if response.ErrorSummary == nil || !strings.Contains(*response.ErrorSummary, "auth") {
			t.Errorf("Expected error summary naming the auth failure, got %v", response.ErrorSummary)
		}
		if len(response.Outcomes) != 2 {
			t.Errorf("Expected 2 outcomes, got %d", len(response.Outcomes))
		}
	})

	t.Run("returns 400 for missing trigger type", func(t *testing.T) {
		handler, db := setupRunHandler(t, testutil.NewFakeAdapter("fake").Returning(result))

		w := httptest.NewRecorder()
		handler.TriggerRun(w, triggerRequest(`{"trigger_type":"  "}`))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
		}
		testutil.AssertRowCount(t, db, "run", 0)
	})

	t.Run("returns 400 for invalid body", func(t *testing.T) {
		handler, _ := setupRunHandler(t, testutil.NewFakeAdapter("fake").Returning(result))

		w := httptest.NewRecorder()
		handler.TriggerRun(w, triggerRequest(`{"trigger_type":`))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("returns 400 when no accounts are configured", func(t *testing.T) {
		handler, db := setupRunHandler(t)

		w := httptest.NewRecorder()
		handler.TriggerRun(w, triggerRequest(`{"trigger_type":"manual"}`))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
		}
		testutil.AssertRowCount(t, db, "run", 0)
	})

	t.Run("returns 503 when the store is unavailable", func(t *testing.T) {
		handler, db := setupRunHandler(t, testutil.NewFakeAdapter("fake").Returning(result))
		db.Close()

		w := httptest.NewRecorder()
		handler.TriggerRun(w, triggerRequest(`{"trigger_type":"manual"}`))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestRunHandler_ListAndGet(t *testing.T) {
	result := testutil.NewFetchResult(handlerAsOf).WithTotal("150").Build()
	handler, _ := setupRunHandler(t, testutil.NewFakeAdapter("fake").Returning(result))

	w := httptest.NewRecorder()
	handler.TriggerRun(w, triggerRequest(`{"trigger_type":"manual"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var triggered service.RunResult
	//nolint:errcheck // Test assertion - decode failure would cause test to fail anyway
	json.NewDecoder(w.Body).Decode(&triggered)

	t.Run("lists runs", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListRuns(w, httptest.NewRequest(http.MethodGet, "/api/run", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}

		var runs []model.Run
		//nolint:errcheck // Test assertion - decode failure would cause test to fail anyway
		json.NewDecoder(w.Body).Decode(&runs)

		if len(runs) != 1 {
			t.Fatalf("Expected 1 run, got %d", len(runs))
		}
		if runs[0].ID != triggered.RunID {
			t.Errorf("Expected run %s, got %s", triggered.RunID, runs[0].ID)
		}
		if runs[0].Status != model.RunStatusSuccess {
			t.Errorf("Expected status 'success', got '%s'", runs[0].Status)
		}
	})

	t.Run("returns 400 for invalid limit", func(t *testing.T) {
		req := testutil.NewRequestWithQueryParams(http.MethodGet, "/api/run", map[string]string{"limit": "0"})
		w := httptest.NewRecorder()

		handler.ListRuns(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("returns run with outcomes", func(t *testing.T) {
		req := testutil.NewRequestWithURLParams(http.MethodGet, "/api/run/"+triggered.RunID,
			map[string]string{"uuid": triggered.RunID})
		w := httptest.NewRecorder()

		handler.GetRun(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}

		var detail model.RunDetail
		//nolint:errcheck // Test assertion - decode failure would cause test to fail anyway
		json.NewDecoder(w.Body).Decode(&detail)

		if detail.ID != triggered.RunID {
			t.Errorf("Expected run %s, got %s", triggered.RunID, detail.ID)
		}
		if len(detail.Outcomes) != 1 || detail.Outcomes[0].Outcome != model.OutcomeOK {
			t.Errorf("Expected one ok outcome, got %+v", detail.Outcomes)
		}
	})

	t.Run("returns 404 for unknown run", func(t *testing.T) {
		id := testutil.MakeID()
		req := testutil.NewRequestWithURLParams(http.MethodGet, "/api/run/"+id, map[string]string{"uuid": id})
		w := httptest.NewRecorder()

		handler.GetRun(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d: %s", w.Code, w.Body.String())
		}
	})
}

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	t.Run("decodes valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))

		got, err := parseJSON[body](req)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Name != "x" {
			t.Errorf("Expected name 'x', got '%s'", got.Name)
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))

		if _, err := parseJSON[body](req); err == nil {
			t.Error("Expected error for empty body")
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nam":"x"}`))

		if _, err := parseJSON[body](req); err == nil {
			t.Error("Expected error for unknown field")
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))

		if _, err := parseJSON[body](req); err == nil {
			t.Error("Expected error for malformed JSON")
		}
	})
}

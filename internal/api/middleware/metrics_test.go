package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePathCollapsesAgentID(t *testing.T) {
	if got := normalizePath("/agents/trader-1"); got != "/agents/:id" {
		t.Fatalf("expected /agents/:id, got %s", got)
	}
}

func TestNormalizePathCollapsesServiceType(t *testing.T) {
	if got := normalizePath("/services/weather"); got != "/services/:type" {
		t.Fatalf("expected /services/:type, got %s", got)
	}
}

func TestNormalizePathLeavesUnmatchedPathAlone(t *testing.T) {
	if got := normalizePath("/rpc/node-info"); got != "/rpc/node-info" {
		t.Fatalf("expected path unchanged, got %s", got)
	}
}

func TestNormalizePathRequiresSuffixAfterPrefix(t *testing.T) {
	if got := normalizePath("/agents/"); got != "/agents/" {
		t.Fatalf("expected bare prefix with no id to be left alone, got %s", got)
	}
}

func TestMetricsMiddlewarePassesResponseThrough(t *testing.T) {
	called := false
	handler := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/rpc/send-message", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected downstream handler to be called")
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status to pass through, got %d", rec.Code)
	}
}

func TestMetricsMiddlewareDefaultsStatusWhenNoWriteHeaderCalled(t *testing.T) {
	handler := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/rpc/node-info", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected implicit 200 when WriteHeader is never called, got %d", rec.Code)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/secondbrain-go/brain-relay/pkg/gateway/config"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func readyConfig() config.Config {
	return config.Config{
		OpenAIAPIKey:    "sk-test",
		IdentityBaseURL: "https://id.example",
	}
}

func decodeReady(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	return body
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestReadyHandler_OK(t *testing.T) {
	h := ReadyHandler{Config: readyConfig(), Store: fakePinger{}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if body := decodeReady(t, rec); body["ok"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyHandler_MissingConfig(t *testing.T) {
	h := ReadyHandler{Config: config.Config{}, Store: fakePinger{}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeReady(t, rec)
	issues, _ := body["issues"].([]any)
	if len(issues) != 2 {
		t.Fatalf("issues = %v, want 2", issues)
	}
}

func TestReadyHandler_StoreDown(t *testing.T) {
	h := ReadyHandler{Config: readyConfig(), Store: fakePinger{err: errors.New("connection refused")}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	h := ReadyHandler{Config: readyConfig(), Store: fakePinger{}, Draining: func() bool { return true }}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body := decodeReady(t, rec); body["draining"] != true {
		t.Fatalf("body = %v", body)
	}
}

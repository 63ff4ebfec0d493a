package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/secondbrain-go/brain-relay/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is the slice of the store the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports whether the relay can take new voice sessions:
// configuration is complete, the store answers, and the server is not
// draining.
type ReadyHandler struct {
	Config   config.Config
	Store    Pinger
	Draining func() bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "openai api key is not configured")
	}
	if h.Config.IdentityBaseURL == "" {
		issues = append(issues, "identity base url is not configured")
	}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			issues = append(issues, "store: "+err.Error())
		}
	}

	draining := h.Draining != nil && h.Draining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{OK: ok, Draining: draining, Issues: issues})
}

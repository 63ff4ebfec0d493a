// Package server wires the relay's HTTP surface: health probes, metrics,
// and the voice WebSocket endpoint.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/config"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/handlers"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/metrics"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/mw"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/sessions"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

type Dependencies struct {
	Config   config.Config
	Logger   *slog.Logger
	Verifier identity.Verifier
	Store    store.Store
	Tools    *tools.Registry
	Metrics  *metrics.Metrics
}

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	router   chi.Router
	sessions *sessions.Tracker
	draining atomic.Bool
}

func New(deps Dependencies) (*Server, error) {
	if deps.Verifier == nil {
		return nil, fmt.Errorf("server: verifier is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("server: tool registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   logger,
		sessions: sessions.NewTracker(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.AccessLog(logger))
	r.Use(mw.Recover(logger))

	r.Method(http.MethodGet, "/healthz", handlers.HealthHandler{})
	r.Method(http.MethodGet, "/readyz", handlers.ReadyHandler{
		Config:   deps.Config,
		Store:    deps.Store,
		Draining: s.IsDraining,
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Handle("/v1/voice", handlers.VoiceHandler{
		Config:   deps.Config,
		Verifier: deps.Verifier,
		Tools:    deps.Tools,
		Logger:   logger,
		Metrics:  deps.Metrics,
		Sessions: s.sessions,
		Draining: s.IsDraining,
	})

	s.router = r
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions exposes the live session tracker for drain coordination.
func (s *Server) Sessions() *sessions.Tracker {
	return s.sessions
}

func (s *Server) SetDraining(draining bool) {
	s.draining.Store(draining)
}

func (s *Server) IsDraining() bool {
	return s.draining.Load()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/secondbrain-go/brain-relay/pkg/brain/classify"
	"github.com/secondbrain-go/brain-relay/pkg/brain/memory"
	"github.com/secondbrain-go/brain-relay/pkg/brain/search"
	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/config"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/metrics"
	gatewayserver "github.com/secondbrain-go/brain-relay/pkg/gateway/server"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools/braintools"
)

type relayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config) (store.Store, error)
	newVerifier  func(cfg config.Config) (identity.Verifier, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		newVerifier: func(cfg config.Config) (identity.Verifier, error) {
			return identity.NewHTTPVerifier(cfg.IdentityBaseURL, cfg.IdentityAPIKey)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return store.NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return store.NewSQLite(cfg.SQLitePath)
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runRelay(ctx context.Context, logger *slog.Logger, deps relayDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newVerifier == nil {
		return errors.New("missing construction dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := deps.openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	verifier, err := deps.newVerifier(cfg)
	if err != nil {
		return fmt.Errorf("identity verifier: %w", err)
	}

	handlers, err := braintools.All(braintools.Deps{
		Store:      st,
		Memory:     memory.NewIndex(st),
		Classifier: classify.NewLLMClassifier(cfg.OpenAIAPIKey, cfg.ClassifierModel, "", nil),
		Search:     search.NewClient(cfg.TavilyAPIKey, cfg.TavilyBaseURL, nil),
	})
	if err != nil {
		return fmt.Errorf("tool catalog: %w", err)
	}
	registry := tools.NewRegistry(handlers...)

	gw, err := gatewayserver.New(gatewayserver.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Verifier: verifier,
		Store:    st,
		Tools:    registry,
		Metrics:  metrics.New(cfg.MetricsNamespace),
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting relay",
		"addr", cfg.Addr,
		"store", string(cfg.StoreDriver),
		"model", cfg.RealtimeModel,
		"tools", len(registry.Names()),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)
	gw.Sessions().NotifyAll("server is restarting, please reconnect shortly")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.Sessions().Wait(waitCtx) {
		gw.Sessions().CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("relay stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "brain-relay: load .env: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "brain-relay: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreDriver string

const (
	StoreDriverSQLite   StoreDriver = "sqlite"
	StoreDriverPostgres StoreDriver = "postgres"
)

type Config struct {
	Addr string

	// Browser origins allowed to open voice sessions. Empty means any
	// origin, which suits local development.
	AllowedOrigins map[string]struct{}

	// Upstream Realtime API.
	OpenAIAPIKey  string
	RealtimeURL   string
	RealtimeModel string
	RealtimeVoice string
	Instructions  string

	// Server-side voice activity detection pushed in session.update.
	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int
	TranscriptionModel   string

	// Identity service used to resolve downstream session tokens.
	IdentityBaseURL string
	IdentityAPIKey  string

	// Knowledge store backend.
	StoreDriver StoreDriver
	SQLitePath  string
	PostgresDSN string

	// Capture classification.
	ClassifierModel string

	// Web search backend.
	TavilyAPIKey  string
	TavilyBaseURL string

	// Session limits. MaxSessionDuration and MaxSessionsPerUser of zero
	// mean unlimited.
	MaxSessionDuration  time.Duration
	MaxSessionsPerUser  int
	UpstreamDialTimeout time.Duration
	WriteTimeout        time.Duration
	ToolTimeout         time.Duration
	MaxMessageBytes     int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	MetricsNamespace    string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("BRAIN_RELAY_ADDR", ":8080"),
		OpenAIAPIKey:         strings.TrimSpace(os.Getenv("BRAIN_RELAY_OPENAI_API_KEY")),
		RealtimeURL:          envOr("BRAIN_RELAY_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:        envOr("BRAIN_RELAY_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		RealtimeVoice:        envOr("BRAIN_RELAY_REALTIME_VOICE", "alloy"),
		Instructions:         envOr("BRAIN_RELAY_INSTRUCTIONS", defaultInstructions),
		AllowedOrigins:       parseOrigins(os.Getenv("BRAIN_RELAY_ALLOWED_ORIGINS")),
		VADThreshold:         envFloat64Or("BRAIN_RELAY_VAD_THRESHOLD", 0.5),
		VADPrefixPaddingMS:   envIntOr("BRAIN_RELAY_VAD_PREFIX_PADDING_MS", 300),
		VADSilenceDurationMS: envIntOr("BRAIN_RELAY_VAD_SILENCE_DURATION_MS", 500),
		TranscriptionModel:   envOr("BRAIN_RELAY_TRANSCRIPTION_MODEL", "whisper-1"),
		IdentityBaseURL:      strings.TrimSpace(os.Getenv("BRAIN_RELAY_IDENTITY_BASE_URL")),
		IdentityAPIKey:       strings.TrimSpace(os.Getenv("BRAIN_RELAY_IDENTITY_API_KEY")),
		StoreDriver:          StoreDriver(envOr("BRAIN_RELAY_STORE_DRIVER", string(StoreDriverSQLite))),
		SQLitePath:           envOr("BRAIN_RELAY_SQLITE_PATH", "brain.db"),
		PostgresDSN:          strings.TrimSpace(os.Getenv("BRAIN_RELAY_POSTGRES_DSN")),
		ClassifierModel:      envOr("BRAIN_RELAY_CLASSIFIER_MODEL", "gpt-4o-mini"),
		TavilyAPIKey:         strings.TrimSpace(os.Getenv("BRAIN_RELAY_TAVILY_API_KEY")),
		TavilyBaseURL:        envOr("BRAIN_RELAY_TAVILY_BASE_URL", "https://api.tavily.com"),
		MaxSessionDuration:   envDurationOr("BRAIN_RELAY_MAX_SESSION_DURATION", 0),
		MaxSessionsPerUser:   envIntOr("BRAIN_RELAY_MAX_SESSIONS_PER_USER", 0),
		UpstreamDialTimeout:  envDurationOr("BRAIN_RELAY_UPSTREAM_DIAL_TIMEOUT", 10*time.Second),
		WriteTimeout:         envDurationOr("BRAIN_RELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		ToolTimeout:          envDurationOr("BRAIN_RELAY_TOOL_TIMEOUT", 15*time.Second),
		MaxMessageBytes:      envInt64Or("BRAIN_RELAY_MAX_MESSAGE_BYTES", 1<<20), // 1 MiB
		ReadHeaderTimeout:    envDurationOr("BRAIN_RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("BRAIN_RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		MetricsNamespace:     envOr("BRAIN_RELAY_METRICS_NAMESPACE", "brain_relay"),
	}

	// The OpenAI key is deliberately allowed to be empty at load time.
	// Sessions fail with a configuration error instead of the process
	// refusing to start, so health endpoints stay reachable.

	switch cfg.StoreDriver {
	case StoreDriverSQLite, StoreDriverPostgres:
	default:
		return Config{}, fmt.Errorf("BRAIN_RELAY_STORE_DRIVER must be one of sqlite|postgres")
	}
	if cfg.StoreDriver == StoreDriverSQLite && strings.TrimSpace(cfg.SQLitePath) == "" {
		return Config{}, fmt.Errorf("BRAIN_RELAY_SQLITE_PATH must not be empty")
	}
	if cfg.StoreDriver == StoreDriverPostgres && cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("BRAIN_RELAY_POSTGRES_DSN must be set when BRAIN_RELAY_STORE_DRIVER=postgres")
	}

	if !strings.HasPrefix(cfg.RealtimeURL, "ws://") && !strings.HasPrefix(cfg.RealtimeURL, "wss://") {
		return Config{}, fmt.Errorf("BRAIN_RELAY_REALTIME_URL must be a ws:// or wss:// URL")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("BRAIN_RELAY_REALTIME_MODEL must not be empty")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_VAD_THRESHOLD must be in [0, 1]")
	}
	if cfg.VADPrefixPaddingMS < 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_VAD_PREFIX_PADDING_MS must be >= 0")
	}
	if cfg.VADSilenceDurationMS < 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_VAD_SILENCE_DURATION_MS must be >= 0")
	}
	if strings.TrimSpace(cfg.TavilyBaseURL) == "" {
		return Config{}, fmt.Errorf("BRAIN_RELAY_TAVILY_BASE_URL must not be empty")
	}
	if cfg.MaxSessionDuration < 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_MAX_SESSION_DURATION must be >= 0")
	}
	if cfg.MaxSessionsPerUser < 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_MAX_SESSIONS_PER_USER must be >= 0")
	}
	if cfg.UpstreamDialTimeout <= 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_UPSTREAM_DIAL_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_TOOL_TIMEOUT must be > 0")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("BRAIN_RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if strings.TrimSpace(cfg.MetricsNamespace) == "" {
		return Config{}, fmt.Errorf("BRAIN_RELAY_METRICS_NAMESPACE must not be empty")
	}

	return cfg, nil
}

const defaultInstructions = "You are a personal assistant with access to the user's " +
	"knowledge base, tasks, calendar, and contacts. Use the available tools to save " +
	"and retrieve information instead of guessing. Keep spoken replies short."

func parseOrigins(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		out[strings.TrimRight(origin, "/")] = struct{}{}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/secondbrain-go/brain-relay/pkg/gateway/config"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/metrics"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/sessions"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

// VoiceHandler handles /v1/voice websocket sessions. Authentication happens
// after the upgrade so the browser always gets a structured error frame
// instead of a bare handshake failure.
type VoiceHandler struct {
	Config   config.Config
	Verifier identity.Verifier
	Tools    *tools.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Sessions *sessions.Tracker
	Draining func() bool
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Draining != nil && h.Draining() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is draining")
		return
	}
	if !h.originAllowed(r) {
		writeJSONError(w, http.StatusForbidden, "origin is not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxMessageBytes)
	}

	token, ok := identity.TokenFromRequest(r)
	if !ok {
		h.closeWithError(conn, protocol.CodeAuthMissing, "token query parameter is required")
		return
	}
	principal, err := h.verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			h.closeWithError(conn, protocol.CodeAuthInvalid, "token was rejected")
			return
		}
		h.closeWithError(conn, protocol.CodeConfigurationError, "identity service is unavailable")
		return
	}
	if h.Config.OpenAIAPIKey == "" {
		h.closeWithError(conn, protocol.CodeConfigurationError, "realtime api key is not configured")
		return
	}
	if h.Config.MaxSessionsPerUser > 0 && h.Sessions != nil &&
		h.Sessions.CountForUser(principal.ID) >= h.Config.MaxSessionsPerUser {
		h.closeWithError(conn, protocol.CodeSessionLimit, "too many concurrent voice sessions")
		return
	}

	sessionID := "s_" + randHex(8)
	sess, err := relay.NewSession(relay.Options{
		ID:        sessionID,
		Principal: principal,
		Upstream: relay.UpstreamConfig{
			URL:          h.Config.RealtimeURL,
			Model:        h.Config.RealtimeModel,
			APIKey:       h.Config.OpenAIAPIKey,
			DialTimeout:  h.Config.UpstreamDialTimeout,
			WriteTimeout: h.Config.WriteTimeout,
		},
		Session:     h.sessionConfig(),
		Tools:       h.Tools,
		ToolTimeout: h.Config.ToolTimeout,
		MaxDuration: h.Config.MaxSessionDuration,
		Logger:      h.Logger,
		Metrics:     h.Metrics,
	}, conn)
	if err != nil {
		h.closeWithError(conn, protocol.CodeConfigurationError, "failed to initialize session")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			UserID: principal.ID,
			Cancel: cancel,
			Notify: sess.Notify,
		})
	}
	defer unregister()

	sess.Run(ctx)
}

func (h VoiceHandler) verify(ctx context.Context, token string) (*identity.Principal, error) {
	if h.Verifier == nil {
		return nil, fmt.Errorf("no verifier configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return h.Verifier.Verify(ctx, token)
}

func (h VoiceHandler) sessionConfig() protocol.SessionConfig {
	return protocol.SessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      h.Config.Instructions,
		Voice:             h.Config.RealtimeVoice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &protocol.InputAudioTranscription{
			Model: h.Config.TranscriptionModel,
		},
		TurnDetection: &protocol.TurnDetection{
			Type:              "server_vad",
			Threshold:         h.Config.VADThreshold,
			PrefixPaddingMS:   h.Config.VADPrefixPaddingMS,
			SilenceDurationMS: h.Config.VADSilenceDurationMS,
		},
	}
}

func (h VoiceHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.Config.AllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.AllowedOrigins[strings.TrimRight(origin, "/")]
	return ok
}

// closeWithError sends a fatal error frame and closes the socket with a
// policy violation code so browsers surface the reason.
func (h VoiceHandler) closeWithError(conn *websocket.Conn, code, message string) {
	if h.Metrics != nil {
		h.Metrics.Error(code)
	}
	if h.Logger != nil {
		h.Logger.Warn("voice session rejected", "code", code)
	}
	_ = conn.WriteJSON(protocol.NewServerError(code, message, true))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(2*time.Second))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

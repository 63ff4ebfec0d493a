package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/secondbrain-go/brain-relay/pkg/gateway/config"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/sessions"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

type fakeVerifier struct {
	principal *identity.Principal
	err       error
}

func (v fakeVerifier) Verify(context.Context, string) (*identity.Principal, error) {
	return v.principal, v.err
}

func voiceConfig() config.Config {
	return config.Config{
		OpenAIAPIKey:        "sk-test",
		RealtimeURL:         "ws://127.0.0.1:1/v1/realtime", // never dialed in gate tests
		RealtimeModel:       "gpt-4o-realtime-preview-2024-12-17",
		RealtimeVoice:       "alloy",
		UpstreamDialTimeout: time.Second,
		WriteTimeout:        time.Second,
		ToolTimeout:         time.Second,
		MaxMessageBytes:     1 << 20,
	}
}

func newVoiceServer(t *testing.T, h VoiceHandler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dialVoice(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/voice"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readErrorFrame(t *testing.T, conn *websocket.Conn) protocol.ServerError {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var serr protocol.ServerError
	if err := json.Unmarshal(data, &serr); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	return serr
}

func TestVoiceHandler_MissingToken(t *testing.T) {
	srv := newVoiceServer(t, VoiceHandler{
		Config:   voiceConfig(),
		Verifier: fakeVerifier{principal: &identity.Principal{ID: "u1"}},
		Tools:    tools.NewRegistry(),
	})
	conn := dialVoice(t, srv, "")

	serr := readErrorFrame(t, conn)
	if serr.Code != protocol.CodeAuthMissing {
		t.Fatalf("code = %q, want %q", serr.Code, protocol.CodeAuthMissing)
	}
	if !serr.Close {
		t.Fatal("error frame should be fatal")
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection should close after a fatal error")
	}
}

func TestVoiceHandler_InvalidToken(t *testing.T) {
	srv := newVoiceServer(t, VoiceHandler{
		Config:   voiceConfig(),
		Verifier: fakeVerifier{err: identity.ErrInvalidToken},
		Tools:    tools.NewRegistry(),
	})
	conn := dialVoice(t, srv, "?token=stale")

	if serr := readErrorFrame(t, conn); serr.Code != protocol.CodeAuthInvalid {
		t.Fatalf("code = %q, want %q", serr.Code, protocol.CodeAuthInvalid)
	}
}

func TestVoiceHandler_IdentityUnavailable(t *testing.T) {
	srv := newVoiceServer(t, VoiceHandler{
		Config:   voiceConfig(),
		Verifier: fakeVerifier{err: errors.New("dial tcp: connection refused")},
		Tools:    tools.NewRegistry(),
	})
	conn := dialVoice(t, srv, "?token=tok")

	if serr := readErrorFrame(t, conn); serr.Code != protocol.CodeConfigurationError {
		t.Fatalf("code = %q, want %q", serr.Code, protocol.CodeConfigurationError)
	}
}

func TestVoiceHandler_MissingUpstreamKey(t *testing.T) {
	cfg := voiceConfig()
	cfg.OpenAIAPIKey = ""
	srv := newVoiceServer(t, VoiceHandler{
		Config:   cfg,
		Verifier: fakeVerifier{principal: &identity.Principal{ID: "u1"}},
		Tools:    tools.NewRegistry(),
	})
	conn := dialVoice(t, srv, "?token=tok")

	if serr := readErrorFrame(t, conn); serr.Code != protocol.CodeConfigurationError {
		t.Fatalf("code = %q, want %q", serr.Code, protocol.CodeConfigurationError)
	}
}

func TestVoiceHandler_SessionLimitPerUser(t *testing.T) {
	cfg := voiceConfig()
	cfg.MaxSessionsPerUser = 1
	tracker := sessions.NewTracker()
	unregister := tracker.Register("s_existing", sessions.Handle{UserID: "u1"})
	defer unregister()

	srv := newVoiceServer(t, VoiceHandler{
		Config:   cfg,
		Verifier: fakeVerifier{principal: &identity.Principal{ID: "u1"}},
		Tools:    tools.NewRegistry(),
		Sessions: tracker,
	})
	conn := dialVoice(t, srv, "?token=tok")

	serr := readErrorFrame(t, conn)
	if serr.Code != protocol.CodeSessionLimit {
		t.Fatalf("code = %q, want %q", serr.Code, protocol.CodeSessionLimit)
	}
	if !serr.Close {
		t.Fatal("error frame should be fatal")
	}

	// Another user is under their own cap and passes the gate; the session
	// then fails on the unreachable upstream rather than the limit.
	srv2 := newVoiceServer(t, VoiceHandler{
		Config:   cfg,
		Verifier: fakeVerifier{principal: &identity.Principal{ID: "u2"}},
		Tools:    tools.NewRegistry(),
		Sessions: tracker,
	})
	conn2 := dialVoice(t, srv2, "?token=tok")
	if serr := readErrorFrame(t, conn2); serr.Code != protocol.CodeUpstreamConnectError {
		t.Fatalf("code = %q, want %q", serr.Code, protocol.CodeUpstreamConnectError)
	}
}

func TestVoiceHandler_MethodNotAllowed(t *testing.T) {
	srv := newVoiceServer(t, VoiceHandler{Config: voiceConfig(), Tools: tools.NewRegistry()})
	resp, err := http.Post(srv.URL+"/v1/voice", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestVoiceHandler_DrainingRejectsUpgrade(t *testing.T) {
	srv := newVoiceServer(t, VoiceHandler{
		Config:   voiceConfig(),
		Tools:    tools.NewRegistry(),
		Draining: func() bool { return true },
	})
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/voice?token=tok", nil)
	if err == nil {
		t.Fatal("expected dial to fail while draining")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp = %+v, want 503", resp)
	}
}

func TestVoiceHandler_OriginAllowlist(t *testing.T) {
	cfg := voiceConfig()
	cfg.AllowedOrigins = map[string]struct{}{"https://app.example.com": {}}
	srv := newVoiceServer(t, VoiceHandler{
		Config:   cfg,
		Verifier: fakeVerifier{principal: &identity.Principal{ID: "u1"}},
		Tools:    tools.NewRegistry(),
	})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/voice?token=tok", header)
	if err == nil {
		t.Fatal("expected dial to fail for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v, want 403", resp)
	}

	// An allowlisted origin passes the gate and reaches token validation.
	header = http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/voice", header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	defer conn.Close()
	if serr := readErrorFrame(t, conn); serr.Code != protocol.CodeAuthMissing {
		t.Fatalf("code = %q, want %q", serr.Code, protocol.CodeAuthMissing)
	}
}

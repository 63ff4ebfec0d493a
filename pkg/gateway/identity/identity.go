// Package identity resolves the bearer token a browser presents on the
// voice endpoint into a Principal. Verification is delegated to the
// identity service backing the rest of the product, so the relay never
// holds user credentials of its own.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidToken means the identity service looked at the token and said
// no. It is distinct from transport failures, which surface as other errors.
var ErrInvalidToken = errors.New("identity: invalid token")

// Principal is the authenticated user behind a session. ID scopes every
// store operation for the life of the session.
type Principal struct {
	ID    string
	Email string
}

// TokenFromRequest pulls the session token off an upgrade request. Browsers
// cannot set headers on a WebSocket handshake, so the token rides the query
// string.
func TokenFromRequest(r *http.Request) (string, bool) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		return "", false
	}
	return token, true
}

// Verifier turns a raw token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// HTTPVerifier validates tokens against the identity service's user
// endpoint. A 2xx response with a user id is a valid token; 401/403 is an
// invalid one.
type HTTPVerifier struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPVerifier(baseURL, apiKey string) (*HTTPVerifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("identity: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("identity: invalid base url: %w", err)
	}
	return &HTTPVerifier{
		BaseURL:    baseURL,
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.APIKey != "" {
		req.Header.Set("apikey", v.APIKey)
	}

	client := v.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: verify token: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, ErrInvalidToken
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("identity: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user userResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return nil, fmt.Errorf("identity: decode user: %w", err)
	}
	if strings.TrimSpace(user.ID) == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{ID: user.ID, Email: user.Email}, nil
}

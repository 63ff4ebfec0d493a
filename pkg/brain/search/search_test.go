package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSearch_Success(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("auth header=%q", got)
		}
		if r.URL.Path != "/search" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["query"] != "golang websocket" {
			t.Fatalf("query=%v", body["query"])
		}
		if body["max_results"] != float64(3) {
			t.Fatalf("max_results=%v", body["max_results"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"Gorilla","url":"https://example.com","content":"a websocket library"}]}`))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, nil)
	hits, err := c.Search(context.Background(), "golang websocket", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits)=%d", len(hits))
	}
	if hits[0].Title != "Gorilla" || hits[0].URL != "https://example.com" || hits[0].Snippet != "a websocket library" {
		t.Fatalf("hit=%+v", hits[0])
	}
}

func TestClientSearch_ClampsMaxResults(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["max_results"] != float64(5) {
			t.Fatalf("max_results=%v, want default 5", body["max_results"])
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, nil)
	if _, err := c.Search(context.Background(), "q", 50); err != nil {
		t.Fatal(err)
	}
}

func TestClientSearch_Unconfigured(t *testing.T) {
	t.Parallel()

	c := NewClient("", "", nil)
	if c.Configured() {
		t.Fatal("client should not report configured")
	}
	if _, err := c.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientSearch_EmptyQuery(t *testing.T) {
	t.Parallel()

	c := NewClient("key", "", nil)
	if _, err := c.Search(context.Background(), "  ", 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientSearch_UpstreamError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, nil)
	if _, err := c.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error")
	}
}

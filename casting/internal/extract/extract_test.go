package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/casting/connectivity"
)

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer key")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Content != Instruction {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Extract(t *testing.T) {
	// WHAT: A fenced JSON answer becomes coerced candidates.
	// WHY: This is the happy path of every web source.
	content := "```json\n[{\"title\": \"Senior Actor\"}, {\"title\": \"\", \"description\": \"\"}]\n```"
	srv := completionServer(t, http.StatusOK, content)

	c := New(Config{Endpoint: srv.URL, APIKey: "key"}, nil, nil)
	recs, err := c.Extract(context.Background(), "We are casting a senior actor.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Title != "Senior Actor" || r.Description != "" || r.Location != "" || r.ContactInfo != "" {
		t.Fatalf("record = %+v", r)
	}
}

func TestClient_ExtractEmpty(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "[]")
	c := New(Config{Endpoint: srv.URL, APIKey: "key"}, nil, nil)
	recs, err := c.Extract(context.Background(), "weather report")
	if err != nil || len(recs) != 0 {
		t.Fatalf("Extract = %v, %v", recs, err)
	}
}

func TestClient_ExtractMalformed(t *testing.T) {
	// WHAT: Non-JSON model output is ErrMalformed.
	// WHY: The poller treats it as a failed source, not as zero records.
	srv := completionServer(t, http.StatusOK, "Sorry, I cannot help with that.")
	c := New(Config{Endpoint: srv.URL, APIKey: "key"}, nil, nil)
	_, err := c.Extract(context.Background(), "text")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestClient_ExtractUpstreamError(t *testing.T) {
	srv := completionServer(t, http.StatusTooManyRequests, "")
	c := New(Config{Endpoint: srv.URL, APIKey: "key"}, nil, nil)
	_, err := c.Extract(context.Background(), "text")

	var se *connectivity.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want StatusError 429", err)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := "héllo" // é is 2 bytes at [1:3]
	if got := truncate(s, 2); got != "h" {
		t.Fatalf("truncate = %q, want %q", got, "h")
	}
}

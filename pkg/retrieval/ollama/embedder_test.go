package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mentat-ai/mentat/pkg/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(2 * time.Millisecond)
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{Embedding: []float64{0.5, 0.25}})
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "", WithRetry(fastRetry()), WithHTTPClient(server.Client()))
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != 0.25 {
		t.Errorf("unexpected vector %v", vec)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestEmbedClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewEmbedder(server.URL, "missing", WithRetry(fastRetry()))
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

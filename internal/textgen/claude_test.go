package textgen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pdiddy/gap-engine/internal/httputil"
	"github.com/pdiddy/gap-engine/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

// withTestServer points the backend at a local server for one test.
func withTestServer(t *testing.T, handler http.HandlerFunc) *ClaudeBackend {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	old := claudeAPIURL
	claudeAPIURL = ts.URL
	t.Cleanup(func() { claudeAPIURL = old })

	return NewClaudeBackend(types.AIConfig{
		Model:      "test-model",
		APIKey:     "test-key",
		MaxRetries: 1,
		Timeout:    5 * time.Second,
	})
}

func TestGenerateSuccess(t *testing.T) {
	backend := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`{"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}]}`))
	})

	got, err := backend.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestGenerateOverloadedMapsToUnavailable(t *testing.T) {
	backend := withTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(529)
	})

	_, err := backend.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestGenerateServerErrorMapsToUnavailable(t *testing.T) {
	backend := withTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := backend.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestGenerateSafetyBlocked(t *testing.T) {
	backend := withTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "request blocked by safety filter"}}`))
	})

	_, err := backend.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrSafetyBlocked) {
		t.Errorf("err = %v, want ErrSafetyBlocked", err)
	}
}

func TestGenerateRefusalStopReason(t *testing.T) {
	backend := withTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"content": [], "stop_reason": "refusal"}`))
	})

	_, err := backend.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrSafetyBlocked) {
		t.Errorf("err = %v, want ErrSafetyBlocked", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	backend := withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	backend.timeout = 50 * time.Millisecond

	_, err := backend.Generate(context.Background(), "prompt")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	calls := 0
	backend := withTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"content": [{"type": "text", "text": "after retry"}]}`))
	})

	got, err := backend.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "after retry" {
		t.Errorf("got %q, want %q", got, "after retry")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

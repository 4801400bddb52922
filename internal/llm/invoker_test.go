package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openaiServer(t *testing.T, status int, text string, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"type":"server_error","message":"boom"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "m",
			"choices": []map[string]any{{"message": map[string]any{"content": text}, "finish_reason": "stop"}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

// deadURL returns an address nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

func userRequest() Request {
	return Request{Messages: []Message{Text(RoleUser, "hello")}}
}

func TestInvoke_FailsOverToThird(t *testing.T) {
	var thirdHits int32
	third := openaiServer(t, http.StatusOK, "from third", &thirdHits)

	inv := NewInvoker([]ProviderConfig{
		{ID: "first", APIKey: "k", BaseURL: deadURL(t), Model: "m"},
		{ID: "second", APIKey: "k", BaseURL: deadURL(t), Model: "m"},
		{ID: "third", APIKey: "k", BaseURL: third.URL, Model: "m"},
	}, 2*time.Second, testLogger())

	resp, err := inv.Invoke(context.Background(), userRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "third" || resp.Text != "from third" {
		t.Errorf("expected third provider's answer, got %s/%q", resp.Provider, resp.Text)
	}
	if len(resp.Failures) != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", len(resp.Failures))
	}
	if resp.Failures[0].Provider != "first" || resp.Failures[1].Provider != "second" {
		t.Errorf("unexpected failure order: %+v", resp.Failures)
	}
	if atomic.LoadInt32(&thirdHits) != 1 {
		t.Errorf("expected third provider called once, got %d", thirdHits)
	}
}

func TestInvoke_StopsAtFirstSuccess(t *testing.T) {
	var secondHits int32
	first := openaiServer(t, http.StatusOK, "ok", nil)
	second := openaiServer(t, http.StatusOK, "never", &secondHits)

	inv := NewInvoker([]ProviderConfig{
		{ID: "first", APIKey: "k", BaseURL: first.URL, Model: "m"},
		{ID: "second", APIKey: "k", BaseURL: second.URL, Model: "m"},
	}, time.Second, testLogger())

	resp, err := inv.Invoke(context.Background(), userRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "first" || len(resp.Failures) != 0 {
		t.Errorf("expected clean first-provider answer, got %s with %d failures", resp.Provider, len(resp.Failures))
	}
	if atomic.LoadInt32(&secondHits) != 0 {
		t.Errorf("expected second provider untouched, got %d calls", secondHits)
	}
}

func TestInvoke_AllFail(t *testing.T) {
	a := openaiServer(t, http.StatusInternalServerError, "", nil)
	b := openaiServer(t, http.StatusTooManyRequests, "", nil)

	inv := NewInvoker([]ProviderConfig{
		{ID: "alpha", APIKey: "k", BaseURL: a.URL, Model: "m"},
		{ID: "beta", APIKey: "k", BaseURL: b.URL, Model: "m"},
		{ID: "gamma", Kind: KindAnthropic, APIKey: "k", BaseURL: deadURL(t), Model: "m"},
	}, time.Second, testLogger())

	_, err := inv.Invoke(context.Background(), userRequest())
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected *AggregateError, got %v", err)
	}
	if got := strings.Join(agg.Providers(), ","); got != "alpha,beta,gamma" {
		t.Errorf("expected all three providers named, got %s", got)
	}
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("expected error message to name %s: %v", name, err)
		}
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected wrapped provider error, got %v", perr)
	}
	if got := strings.Join(agg.RateLimited(), ","); got != "beta" {
		t.Errorf("expected only beta rate limited, got %q", got)
	}
}

func TestInvoke_NoProviders(t *testing.T) {
	inv := NewInvoker([]ProviderConfig{{ID: "openai", BaseURL: "http://unused", Model: "m"}}, time.Second, testLogger())
	if len(inv.Providers()) != 0 {
		t.Fatal("expected provider without key to be excluded")
	}
	_, err := inv.Invoke(context.Background(), userRequest())
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	var agg *AggregateError
	if errors.As(err, &agg) {
		t.Error("configuration error must be distinguishable from provider failures")
	}
}

func TestInvoke_TimeoutTreatedAsFailure(t *testing.T) {
	release := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(release); hung.Close() })
	good := openaiServer(t, http.StatusOK, "rescued", nil)

	inv := NewInvoker([]ProviderConfig{
		{ID: "hung", APIKey: "k", BaseURL: hung.URL, Model: "m"},
		{ID: "good", APIKey: "k", BaseURL: good.URL, Model: "m"},
	}, 100*time.Millisecond, testLogger())

	resp, err := inv.Invoke(context.Background(), userRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "good" {
		t.Errorf("expected failover past the hung provider, got %s", resp.Provider)
	}
	if !errors.Is(resp.Failures[0].Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded failure, got %v", resp.Failures[0].Err)
	}
}

func TestInvoke_ProviderOrderOverride(t *testing.T) {
	a := openaiServer(t, http.StatusOK, "from a", nil)
	b := openaiServer(t, http.StatusOK, "from b", nil)
	inv := NewInvoker([]ProviderConfig{
		{ID: "a", APIKey: "k", BaseURL: a.URL, Model: "m"},
		{ID: "b", APIKey: "k", BaseURL: b.URL, Model: "m"},
	}, time.Second, testLogger())

	req := userRequest()
	req.Providers = []string{"b", "unknown"}
	resp, err := inv.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("expected override to try b first, got %s", resp.Provider)
	}
}

func TestInvoke_RejectsInvalidToolChoiceBeforeDispatch(t *testing.T) {
	var hits int32
	srv := openaiServer(t, http.StatusOK, "x", &hits)
	inv := NewInvoker([]ProviderConfig{{ID: "a", APIKey: "k", BaseURL: srv.URL, Model: "m"}}, time.Second, testLogger())

	req := userRequest()
	req.ToolChoice = &ToolChoice{Mode: ToolChoiceRequired}
	req.Tools = []Tool{{Name: "one"}, {Name: "two"}}

	if _, err := inv.Invoke(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("expected no provider calls, got %d", hits)
	}
}

func TestNormalizeToolChoice(t *testing.T) {
	one := []Tool{{Name: "lookup"}}

	got, err := NormalizeToolChoice(&ToolChoice{Mode: ToolChoiceRequired}, one)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Mode != ToolChoiceTool || got.Name != "lookup" {
		t.Errorf("expected rewrite to explicit tool, got %+v", got)
	}

	if _, err := NormalizeToolChoice(&ToolChoice{Mode: ToolChoiceRequired}, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected error for required with zero tools, got %v", err)
	}
	if _, err := NormalizeToolChoice(&ToolChoice{Mode: ToolChoiceTool, Name: "missing"}, one); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected error for undeclared tool, got %v", err)
	}
	if got, err := NormalizeToolChoice(nil, one); got != nil || err != nil {
		t.Errorf("expected nil passthrough, got %+v, %v", got, err)
	}
}

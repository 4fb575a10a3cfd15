package anthropicprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"rely/internal/llm/core"
	"rely/internal/llm/retry"
)

const successBody = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-20250514",
	"content": [{"type": "text", "text": "ok"}],
	"stop_reason": "end_turn",
	"stop_sequence": null,
	"usage": {"input_tokens": 3, "output_tokens": 2}
}`

func testRequest() *core.Request {
	return &core.Request{
		Model:     "claude-sonnet-4-20250514",
		Messages:  []core.Message{{Role: core.RoleUser, Content: "hello"}},
		MaxTokens: 128,
	}
}

func TestCompleteRetriesOn429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Rate limit exceeded"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, successBody)
	}))
	defer server.Close()

	p := New(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Retry:   &retry.Policy{Attempts: 3, MinDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	})

	resp, err := p.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("Text = %q, want %q", resp.Text, "ok")
	}
	if resp.StopReason != core.StopReasonStop {
		t.Fatalf("StopReason = %q, want %q", resp.StopReason, core.StopReasonStop)
	}
	if resp.Usage.InputTokens != 3 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("Usage = %+v", resp.Usage)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestCompleteDoesNotRetryAuthErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	p := New(Config{
		APIKey:  "bad-key",
		BaseURL: server.URL,
		Retry:   &retry.Policy{Attempts: 5, MinDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	})

	_, err := p.Complete(context.Background(), testRequest())
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *anthropic.Error surfaced unchanged", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestCompleteExhaustsRetriesOnOverload(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer server.Close()

	p := New(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Retry:   &retry.Policy{Attempts: 2, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})

	_, err := p.Complete(context.Background(), testRequest())
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *anthropic.Error", err)
	}
	if apiErr.StatusCode != 529 {
		t.Fatalf("StatusCode = %d, want 529", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestCompleteCancelDuringBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Rate limit exceeded"}}`)
	}))
	defer server.Close()

	p := New(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Retry:   &retry.Policy{Attempts: 3, MinDelay: time.Second, MaxDelay: 2 * time.Second},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := p.Complete(ctx, testRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestCompleteMissingAPIKeyFailsFast(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	_, err := p.Complete(context.Background(), testRequest())
	if !errors.Is(err, core.ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}

func TestCompleteRequestRetryOverridesProviderPolicy(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer server.Close()

	// Provider has no retry policy; the request supplies one.
	p := New(Config{APIKey: "test-key", BaseURL: server.URL})

	req := testRequest()
	req.Retry = &retry.Policy{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	_, err := p.Complete(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestMapStopReason(t *testing.T) {
	t.Parallel()

	cases := []struct {
		reason string
		want   core.StopReason
	}{
		{"end_turn", core.StopReasonStop},
		{"stop_sequence", core.StopReasonStop},
		{"pause_turn", core.StopReasonStop},
		{"max_tokens", core.StopReasonLength},
		{"refusal", core.StopReasonError},
	}
	for _, tc := range cases {
		got, err := mapStopReason(tc.reason)
		if err != nil {
			t.Fatalf("mapStopReason(%q) error = %v", tc.reason, err)
		}
		if got != tc.want {
			t.Fatalf("mapStopReason(%q) = %q, want %q", tc.reason, got, tc.want)
		}
	}

	if _, err := mapStopReason("mystery"); err == nil {
		t.Fatalf("expected error for unknown stop reason")
	}
}

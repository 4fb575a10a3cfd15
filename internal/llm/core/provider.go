package core

import (
	"context"
	"strings"

	"rely/internal/llm/retry"
)

// Provider executes one model completion per call. Implementations own
// their transport; retry orchestration wraps the whole call.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is the provider-agnostic completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	Metadata    map[string]string

	// Retry overlays the provider's configured policy for this request.
	// Nil leaves the provider policy untouched.
	Retry *retry.Policy
}

// Response is the provider-agnostic completion result.
type Response struct {
	Text       string
	StopReason StopReason
	Usage      Usage
}

// Validate rejects requests the providers cannot serve.
func (r *Request) Validate() error {
	if r == nil {
		return ErrInvalidRequest
	}
	if strings.TrimSpace(r.Model) == "" {
		return ErrInvalidRequest
	}
	if len(r.Messages) == 0 {
		return ErrInvalidRequest
	}
	if r.MaxTokens <= 0 {
		return ErrInvalidRequest
	}
	return nil
}

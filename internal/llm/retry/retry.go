// Package retry is the retry decision engine for LLM provider calls: it
// classifies provider-shaped failures as transient or fatal, computes
// exponential backoff honoring provider retry hints, and orchestrates
// bounded re-invocation of an operation under context cancellation.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultAttempts = 3
	defaultMinDelay = 1 * time.Second
	defaultMaxDelay = 60 * time.Second
	defaultJitter   = 0.2

	rateLimitAttempts = 5
	rateLimitMinDelay = 5 * time.Second
	rateLimitJitter   = 0.3
)

// Policy configures bounded retry with exponential backoff. The zero value
// is not useful on its own; use a preset or Normalize.
type Policy struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
	Jitter   float64
}

// Attempt records one retry taken. Records exist for diagnostics only and
// are never surfaced to the caller.
type Attempt struct {
	Index int
	Delay time.Duration
	Err   string
}

// DefaultPolicy returns the general-purpose retry preset.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: defaultAttempts,
		MinDelay: defaultMinDelay,
		MaxDelay: defaultMaxDelay,
		Jitter:   defaultJitter,
	}
}

// RateLimitPolicy returns the conservative preset for rate-limit recovery:
// more attempts, longer initial waits, wider jitter.
func RateLimitPolicy() Policy {
	return Policy{
		Attempts: rateLimitAttempts,
		MinDelay: rateLimitMinDelay,
		MaxDelay: defaultMaxDelay,
		Jitter:   rateLimitJitter,
	}
}

// Normalize fills unset policy fields with defaults. Attempts below 1 is
// clamped to 1: the operation always runs at least once.
func Normalize(p Policy) Policy {
	if p.Attempts == 0 {
		p.Attempts = defaultAttempts
	}
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.MinDelay < 0 {
		p.MinDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Merge overlays request-level retry options on top of a base policy.
func Merge(base, override Policy) Policy {
	merged := Normalize(base)
	if override.Attempts > 0 {
		merged.Attempts = override.Attempts
	}
	if override.MinDelay > 0 {
		merged.MinDelay = override.MinDelay
	}
	if override.MaxDelay > 0 {
		merged.MaxDelay = override.MaxDelay
	}
	if override.Jitter > 0 {
		merged.Jitter = override.Jitter
	}
	if merged.MaxDelay < merged.MinDelay {
		merged.MaxDelay = merged.MinDelay
	}
	return merged
}

// Option adjusts Do behavior for a single call.
type Option func(*callConfig)

type callConfig struct {
	logger   *slog.Logger
	classify func(any) Classification
	onRetry  func(Attempt)
}

// WithLogger routes the retry log events for this call through l.
func WithLogger(l *slog.Logger) Option {
	return func(c *callConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnRetry registers a hook invoked with each retry record before the
// backoff wait begins.
func WithOnRetry(fn func(Attempt)) Option {
	return func(c *callConfig) { c.onRetry = fn }
}

// WithClassifier replaces the default Classify function for this call.
// Providers use it to fold transport-level knowledge (typed SDK errors,
// response headers) into the verdict.
func WithClassifier(fn func(any) Classification) Option {
	return func(c *callConfig) {
		if fn != nil {
			c.classify = fn
		}
	}
}

// Do invokes op up to policy.Attempts times, sleeping a classified backoff
// delay between failed attempts. A nil policy disables retry entirely: op
// runs exactly once and its error propagates untouched.
//
// On terminal failure the returned error is the original error from the
// most recent attempt, never wrapped, so callers see exactly the failure
// the transport produced. A context fired during the inter-attempt wait
// aborts with ctx.Err().
func Do[T any](ctx context.Context, policy *Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T

	if policy == nil {
		return op(ctx)
	}
	p := Normalize(*policy)

	cfg := callConfig{logger: slog.Default(), classify: Classify}
	for _, opt := range opts {
		opt(&cfg)
	}

	var history []Attempt
	var lastErr error
	var lastMessage string

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}

		verdict := cfg.classify(err)
		lastMessage = verdict.Message
		if !verdict.Retryable {
			cfg.logger.Debug("non-retryable provider error",
				"attempt", attempt,
				"error", verdict.Message,
			)
			return zero, err
		}
		if attempt == p.Attempts {
			break
		}

		delay := p.backoffDelay(attempt)
		if verdict.RetryAfter > 0 {
			// Provider hints beat the generic backoff curve.
			delay = min(verdict.RetryAfter, p.MaxDelay)
		}

		record := Attempt{Index: attempt, Delay: delay, Err: verdict.Message}
		history = append(history, record)
		if cfg.onRetry != nil {
			cfg.onRetry(record)
		}
		cfg.logger.Info("retry scheduled",
			"attempt", attempt,
			"attempts", p.Attempts,
			"delay", delay,
			"error", verdict.Message,
		)

		if err := SleepContext(ctx, delay); err != nil {
			return zero, err
		}
	}

	cfg.logger.Warn("retries exhausted",
		"attempts", p.Attempts,
		"retries", len(history),
		"error", lastMessage,
	)
	return zero, lastErr
}

// backoffDelay returns the jittered exponential delay after the given
// 1-indexed failed attempt, clamped to [0, MaxDelay].
func (p Policy) backoffDelay(attempt int) time.Duration {
	delay := p.MinDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		u := (rand.Float64()*2 - 1) * p.Jitter
		delay = time.Duration(math.Round(float64(delay) * (1 + u)))
	}
	if delay < 0 {
		delay = 0
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// SleepContext waits for delay unless the context is canceled first.
func SleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package llm re-exports the provider-agnostic completion surface and the
// retry decision engine under one import path.
package llm

import (
	"rely/internal/llm/core"
	anthropicprovider "rely/internal/llm/providers/anthropic"
	mockprovider "rely/internal/llm/providers/mock"
	"rely/internal/llm/retry"
)

type (
	// Provider is the public completion provider contract.
	Provider = core.Provider

	// Request and Response define the completion call protocol.
	Request  = core.Request
	Response = core.Response

	// Conversation-model aliases.
	Role       = core.Role
	StopReason = core.StopReason
	Message    = core.Message
	Usage      = core.Usage

	// Retry engine aliases.
	RetryPolicy    = retry.Policy
	Classification = retry.Classification
	RetryAttempt   = retry.Attempt

	// Anthropic* aliases expose provider-specific configuration and implementation.
	AnthropicConfig   = anthropicprovider.Config
	AnthropicProvider = anthropicprovider.Provider

	// MockProvider replays scripted outcomes for tests.
	MockProvider = mockprovider.Provider
	MockOutcome  = mockprovider.Outcome
)

const (
	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant

	StopReasonStop    = core.StopReasonStop
	StopReasonLength  = core.StopReasonLength
	StopReasonError   = core.StopReasonError
	StopReasonAborted = core.StopReasonAborted
)

var (
	// ErrInvalidRequest indicates malformed completion request payloads.
	ErrInvalidRequest = core.ErrInvalidRequest
	// ErrMissingAPIKey indicates missing provider API credentials.
	ErrMissingAPIKey = core.ErrMissingAPIKey
)

// Classify inspects an arbitrary provider-shaped failure and reports whether
// it is a transient rate-limit/overload condition.
func Classify(v any) Classification {
	return retry.Classify(v)
}

// NewAnthropicProvider constructs an Anthropic provider with normalized defaults.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return anthropicprovider.New(cfg)
}

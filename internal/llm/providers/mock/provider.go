package mockprovider

import (
	"context"
	"time"

	"rely/internal/llm/core"
)

// Outcome is one scripted provider result.
type Outcome struct {
	Response *core.Response
	Err      error
}

// Provider replays a predefined outcome script for deterministic tests.
// Calls past the end of the script repeat the last outcome.
type Provider struct {
	Outcomes []Outcome
	Delay    time.Duration

	calls int
}

// Calls reports how many times Complete has been invoked.
func (m *Provider) Calls() int {
	return m.calls
}

// Complete returns the next scripted outcome, honoring cancellation
// during the optional artificial delay.
func (m *Provider) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	_ = req

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	idx := m.calls
	m.calls++
	if len(m.Outcomes) == 0 {
		return &core.Response{StopReason: core.StopReasonStop}, nil
	}
	if idx >= len(m.Outcomes) {
		idx = len(m.Outcomes) - 1
	}
	out := m.Outcomes[idx]
	return out.Response, out.Err
}

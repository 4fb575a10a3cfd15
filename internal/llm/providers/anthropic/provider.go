package anthropicprovider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"rely/internal/llm/core"
	"rely/internal/llm/retry"
)

// Config configures the Anthropic provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Version    string
	HTTPClient *http.Client

	// Retry is the provider-wide retry policy. Nil disables retry: every
	// request runs exactly once unless it carries its own policy.
	Retry *retry.Policy

	Logger *slog.Logger
}

// Provider is a thin wrapper around the official anthropic-sdk-go client
// with all retry behavior owned by this module's orchestrator.
type Provider struct {
	apiKey string
	retry  *retry.Policy
	log    *slog.Logger

	client anthropic.Client
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // explicit retry behavior in this module
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	var policy *retry.Policy
	if cfg.Retry != nil {
		normalized := retry.Normalize(*cfg.Retry)
		policy = &normalized
	}

	return &Provider{
		apiKey: apiKey,
		retry:  policy,
		log:    logger,
		client: anthropic.NewClient(clientOptions...),
	}
}

// Complete executes one Anthropic Messages API request through the retry
// orchestrator. Terminal failures surface the SDK error unchanged.
func (p *Provider) Complete(ctx context.Context, req *core.Request) (*core.Response, error) {
	if p == nil {
		return nil, fmt.Errorf("anthropic provider is nil")
	}
	if strings.TrimSpace(p.apiKey) == "" {
		return nil, core.ErrMissingAPIKey
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params, err := toAnthropicSDKParams(req)
	if err != nil {
		return nil, err
	}

	policy := p.retry
	if req.Retry != nil {
		merged := retry.Merge(valueOrDefault(p.retry), *req.Retry)
		policy = &merged
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (*core.Response, error) {
		return p.completeOnce(ctx, params)
	},
		retry.WithLogger(p.log.With("provider", "anthropic", "model", req.Model)),
		retry.WithClassifier(classifyProviderError),
	)
}

func valueOrDefault(p *retry.Policy) retry.Policy {
	if p == nil {
		return retry.DefaultPolicy()
	}
	return *p
}

// completeOnce issues a single SDK call and maps the result.
func (p *Provider) completeOnce(ctx context.Context, params anthropic.MessageNewParams) (*core.Response, error) {
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	reason, err := mapStopReason(string(msg.StopReason))
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return &core.Response{
		Text:       text.String(),
		StopReason: reason,
		Usage: core.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// mapStopReason maps Anthropic stop reasons to canonical values.
func mapStopReason(reason string) (core.StopReason, error) {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return core.StopReasonStop, nil
	case "max_tokens":
		return core.StopReasonLength, nil
	case "refusal", "sensitive":
		return core.StopReasonError, nil
	default:
		return "", fmt.Errorf("unhandled stop reason: %s", reason)
	}
}

// toAnthropicSDKParams converts a validated canonical request into SDK params.
func toAnthropicSDKParams(req *core.Request) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case core.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("%w: unsupported role %q", core.ErrInvalidRequest, msg.Role)
		}
	}
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("%w: no non-empty messages", core.ErrInvalidRequest)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if userID := strings.TrimSpace(req.Metadata["user_id"]); userID != "" {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String(userID)}
	}
	return params, nil
}

package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/codebuddy-ai/codebuddy-memory/internal/logging"
	"github.com/codebuddy-ai/codebuddy-memory/pkg/types"
)

const (
	// MaxRetries is the maximum number of retries for API errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
)

// DefaultModelString names the model used when the configuration is silent.
const DefaultModelString = "anthropic/claude-sonnet-4-20250514"

// Provider is an LLM provider backed by an Eino ChatModel.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// ChatModel returns the Eino ChatModel for this provider.
	ChatModel() model.ToolCallingChatModel
}

// newRetryBackoff creates an exponential backoff with jitter for API
// retries, bounded by the caller's context.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// ChatFunc adapts a provider into the engine's chat callback. The returned
// function converts turns to Eino messages, calls Generate, and retries
// transient failures with exponential backoff.
func ChatFunc(p Provider) types.ChatFunc {
	return func(ctx context.Context, turns []types.Turn) (string, error) {
		messages := ToEinoMessages(turns)

		var reply string
		operation := func() error {
			out, err := p.ChatModel().Generate(ctx, messages)
			if err != nil {
				logging.Warn().Err(err).Str("provider", p.ID()).Msg("chat completion attempt failed")
				return err
			}
			reply = out.Content
			return nil
		}

		if err := backoff.Retry(operation, newRetryBackoff(ctx)); err != nil {
			return "", fmt.Errorf("chat completion via %s: %w", p.ID(), err)
		}
		return reply, nil
	}
}

// ToEinoMessages converts engine turns to Eino schema messages.
func ToEinoMessages(turns []types.Turn) []*schema.Message {
	result := make([]*schema.Message, 0, len(turns))

	for _, t := range turns {
		msg := &schema.Message{Content: t.Content}

		switch t.Role {
		case types.RoleSystem:
			msg.Role = schema.System
		case types.RoleUser:
			msg.Role = schema.User
		case types.RoleTool:
			msg.Role = schema.Tool
			msg.ToolCallID = t.ToolCallID
		default:
			msg.Role = schema.Assistant
		}

		for _, tc := range t.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name: tc.Name,
				},
			})
		}

		result = append(result, msg)
	}

	return result
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// FromConfig builds the chat callback for the model named in cfg. An empty
// or provider-less model string falls back to the Anthropic default, and
// credentials missing from the configuration are read from the provider's
// environment variables.
func FromConfig(ctx context.Context, cfg *types.Config) (types.ChatFunc, error) {
	modelStr := ""
	var creds map[string]types.ProviderConfig
	if cfg != nil {
		modelStr = cfg.Model
		creds = cfg.Provider
	}
	if modelStr == "" {
		modelStr = DefaultModelString
	}

	providerID, modelID := ParseModelString(modelStr)
	if providerID == "" {
		providerID = "anthropic"
	}
	pc := creds[providerID]
	if modelID == "" {
		modelID = pc.Model
	}

	var (
		p   Provider
		err error
	)
	switch providerID {
	case "anthropic", "claude":
		p, err = NewAnthropicProvider(ctx, &AnthropicConfig{
			ID:      providerID,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   modelID,
		})
	case "openai":
		p, err = NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   modelID,
		})
	case "ark":
		p, err = NewArkProvider(ctx, &ArkConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   modelID,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerID)
	}
	if err != nil {
		return nil, err
	}

	logging.Debug().Str("provider", p.ID()).Str("model", modelID).Msg("chat provider initialized")
	return ChatFunc(p), nil
}

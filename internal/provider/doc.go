// Package provider adapts Eino chat models to the memory engine's chat
// callback.
//
// The engine makes exactly one kind of external call: handing a prepared
// turn list to a model and reading the text reply. This package builds that
// callback for the supported providers and wraps it with retry behavior.
//
// # Supported Providers
//
// ## Anthropic (Claude)
//
//	provider, err := NewAnthropicProvider(ctx, &AnthropicConfig{
//	    APIKey:    "sk-...",
//	    Model:     "claude-sonnet-4-20250514",
//	    MaxTokens: 8192,
//	})
//
// ## OpenAI (GPT)
//
// Native OpenAI or any OpenAI-compatible endpoint via BaseURL:
//
//	provider, err := NewOpenAIProvider(ctx, &OpenAIConfig{
//	    APIKey:    "sk-...",
//	    Model:     "gpt-4o",
//	    MaxTokens: 4096,
//	})
//
// ## Volcengine ARK
//
//	provider, err := NewArkProvider(ctx, &ArkConfig{
//	    APIKey:    "...",
//	    Model:     "endpoint-id",
//	    MaxTokens: 4096,
//	})
//
// # Building the Chat Callback
//
// FromConfig resolves the configured "provider/model" string, pulls
// credentials from the provider section or the environment, and returns a
// types.ChatFunc ready to hand to the engine:
//
//	chatFn, err := provider.FromConfig(ctx, cfg)
//	eng := engine.New(cfg, engine.WithChatFunc(chatFn))
//
// Transient API failures are retried with exponential backoff and jitter;
// the callback returns an error only after retries are exhausted or the
// context is canceled.
package provider

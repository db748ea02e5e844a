// Package llm wraps the external model provider behind a small client
// with per-call timeouts and a shared circuit breaker. All chat, vision,
// and extraction calls in the pipeline go through this client.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/mediavault/mediavault/pkg/config"
)

// Client wraps the provider connection for chat and vision completions.
type Client struct {
	chat    llms.Model
	vision  llms.Model
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewClient creates a provider client from configuration. The chat and
// vision models share one circuit breaker: a provider outage trips both.
func NewClient(providers config.ProviderConfig) (*Client, error) {
	chat, err := newModel(providers, providers.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	vision := chat
	if providers.VisionModel != providers.ChatModel {
		vision, err = newModel(providers, providers.VisionModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create vision model: %w", err)
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-provider",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	slog.Info("LLM client configured",
		"chat_model", providers.ChatModel, "vision_model", providers.VisionModel)

	return &Client{
		chat:    chat,
		vision:  vision,
		breaker: breaker,
		timeout: providers.RequestTimeout,
	}, nil
}

func newModel(providers config.ProviderConfig, model string) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(providers.APIKey),
		openai.WithModel(model),
	}
	if providers.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(providers.BaseURL))
	}
	return openai.New(opts...)
}

// Chat sends a system and user message and returns the completion text.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, c.chat, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	})
}

// ChatJSON is Chat with the provider's JSON output mode enabled.
func (c *Client) ChatJSON(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, c.chat, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}, llms.WithJSONMode())
}

// Caption describes one image with the vision model.
func (c *Client) Caption(ctx context.Context, imageData []byte, mimeType, prompt string) (string, error) {
	message := llms.MessageContent{
		Role: schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(mimeType, imageData),
			llms.TextPart(prompt),
		},
	}
	return c.generate(ctx, c.vision, []llms.MessageContent{message})
}

func (c *Client) generate(ctx context.Context, model llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := model.GenerateContent(callCtx, messages, opts...)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("provider returned no choices")
		}
		return resp.Choices[0].Content, nil
	})
	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	return out.(string), nil
}

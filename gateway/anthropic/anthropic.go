// Package anthropic provides a gateway.Provider backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chande-dhanush/Sakura/gateway"
)

// Options configures the Anthropic provider adapter (model id, temperature,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Provider wraps the Anthropic Messages API behind the gateway.Provider interface.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic provider using the official client
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic provider from an existing client
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Complete implements gateway.Provider against the Messages API.
func (p *Provider) Complete(ctx context.Context, req gateway.Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     p.opts.Model,
		Messages:  buildMessages(req.Messages),
		MaxTokens: p.opts.MaxTokens,
	}
	temp := p.opts.Temperature
	if req.Temperature > 0 {
		temp = req.Temperature
	}
	params.Temperature = anthropic.Float(temp)
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// buildMessages converts normalized messages to Anthropic message format.
func buildMessages(msgs []gateway.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// Treat unknown roles as user
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return messages
}

// Info returns metadata describing this Anthropic provider implementation.
func (p *Provider) Info() gateway.Info {
	return gateway.Info{
		Name:     string(p.opts.Model),
		Provider: "anthropic",
	}
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Message is one role-tagged entry of a completion request. The wrapper
// only ever sends plain text turns; tool traffic is flattened into text by
// the generators before it reaches the transport.
type Message struct {
	Role    string
	Content string
}

// ResponseSchema requests structured JSON output. Name is sanitized before
// being sent to the provider.
type ResponseSchema struct {
	Name   string
	Schema json.RawMessage
	Strict bool
}

// Request is a single completion request against the model backend.
type Request struct {
	Messages    []Message
	Schema      *ResponseSchema
	Temperature *float32
}

// Transport submits one completion request and returns the generated text.
// Implementations must honor ctx cancellation and deadlines.
type Transport interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAIConfig configures the OpenAI-compatible chat transport. BaseURL may
// point at any provider speaking the chat-completions protocol.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// OpenAIChat is a Transport backed by an OpenAI-compatible chat-completions
// endpoint. Model identity and temperature are resolved once at construction.
type OpenAIChat struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIChat creates the chat transport from resolved configuration.
func NewOpenAIChat(cfg OpenAIConfig, logger *slog.Logger) *OpenAIChat {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIChat{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Complete implements Transport.
func (c *OpenAIChat) Complete(ctx context.Context, req Request) (string, error) {
	out := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if req.Schema != nil {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   SanitizeSchemaName(req.Schema.Name),
				Schema: req.Schema.Schema,
				Strict: req.Schema.Strict,
			},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, out)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: provider returned no choices")
	}
	c.logger.Debug("llm: completion received",
		"model", c.model,
		"finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

var schemaNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeSchemaName replaces characters the provider rejects in structured
// output schema names. An empty result falls back to "assistant_turn".
func SanitizeSchemaName(name string) string {
	safe := schemaNameUnsafe.ReplaceAllString(name, "_")
	if safe == "" {
		return "assistant_turn"
	}
	return safe
}

var jsonFence = regexp.MustCompile("(?i)```json")

// CleanJSON strips markdown code fences that models wrap around JSON output.
func CleanJSON(raw string) string {
	cleaned := jsonFence.ReplaceAllString(raw, "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenAIConfig configures the OpenAI-compatible provider
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Temperature  float32
	HTTPClient   *http.Client
}

// OpenAIProvider implements Provider on top of the chat completions API
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	calls       metric.Int64Counter
}

// NewOpenAI creates a provider. BaseURL lets it target any OpenAI-compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	calls, _ := otel.Meter("sentra/llm").Int64Counter("sentra_llm_calls",
		metric.WithDescription("Model calls by mode and result"))

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.DefaultModel,
		temperature: cfg.Temperature,
		calls:       calls,
	}
}

func (p *OpenAIProvider) request(req Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temperature
	}

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: temp,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) record(ctx context.Context, mode string, err error) {
	if p.calls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("result", result),
	))
}

// Stream implements Provider
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (full string, err error) {
	defer func() { p.record(ctx, "stream", err) }()

	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(req, true))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion stream: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return b.String(), fmt.Errorf("stream receive: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return b.String(), err
		}
	}

	return b.String(), nil
}

// Complete implements Provider
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (out string, err error) {
	defer func() { p.record(ctx, "complete", err) }()

	resp, err := p.client.CreateChatCompletion(ctx, p.request(req, false))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

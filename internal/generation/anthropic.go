// ABOUTME: Anthropic Messages API generator built on anthropic-sdk-go.
// ABOUTME: Streams text deltas, then yields the tool calls of the completed message.

package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mimrai-org/mimrai-sub005/internal/executor"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens bounds one round's response when not configured.
const DefaultMaxTokens = 4096

// ErrMissingAPIKey indicates the Anthropic generator has no credentials.
var ErrMissingAPIKey = errors.New("anthropic api key is required")

// AnthropicConfig configures the Anthropic generator.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint.
	BaseURL string
	// MaxRetries overrides the SDK retry count when positive. Negative
	// disables retries.
	MaxRetries int
}

// Anthropic generates steps with the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropic creates the generator. Requests are traced through an
// otelhttp transport.
func NewAnthropic(cfg AnthropicConfig, logger *slog.Logger) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		logger:    logger.With("component", "generation", "provider", "anthropic"),
	}, nil
}

// Generate implements executor.Generator.
func (a *Anthropic) Generate(ctx context.Context, prompt executor.PromptContext) iter.Seq2[executor.Step, error] {
	return func(yield func(executor.Step, error) bool) {
		params, err := a.params(prompt)
		if err != nil {
			yield(executor.Step{}, err)
			return
		}

		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var msg anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				yield(executor.Step{}, fmt.Errorf("accumulating response: %w", err))
				return
			}
			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if !yield(executor.Delta(delta.Text), nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(executor.Step{}, fmt.Errorf("anthropic stream: %w", err))
			return
		}

		a.logger.Debug("message complete",
			"agent", prompt.Agent.Kind,
			"stop_reason", msg.StopReason,
			"input_tokens", msg.Usage.InputTokens,
			"output_tokens", msg.Usage.OutputTokens,
		)

		calls := 0
		for _, block := range msg.Content {
			use, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			calls++
			if !yield(executor.Call(use.ID, use.Name, use.Input), nil) {
				return
			}
		}
		if calls == 0 {
			yield(executor.Final(), nil)
		}
	}
}

func (a *Anthropic) params(prompt executor.PromptContext) (anthropic.MessageNewParams, error) {
	msgs := transcript(prompt)
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(msgs)),
	}
	for _, m := range msgs {
		params.Messages = append(params.Messages, m.param())
	}
	if system := systemPrompt(prompt); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, spec := range prompt.Tools {
		tool, err := toolParam(spec)
		if err != nil {
			return params, err
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params, nil
}

func systemPrompt(prompt executor.PromptContext) string {
	system := prompt.Agent.Instructions
	if prompt.Client.IsZero() {
		return system
	}

	var parts []string
	for _, p := range []string{prompt.Client.City, prompt.Client.Region, prompt.Client.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	var b strings.Builder
	b.WriteString(system)
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("User context:")
	if len(parts) > 0 {
		b.WriteString(" located in " + strings.Join(parts, ", ") + ".")
	}
	if prompt.Client.Timezone != "" {
		b.WriteString(" Timezone " + prompt.Client.Timezone + ".")
	}
	return b.String()
}

func (m message) param() anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	if m.text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.text))
	}
	for _, call := range m.calls {
		input := call.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
	}
	for _, out := range m.outcomes {
		blocks = append(blocks, anthropic.NewToolResultBlock(out.CallID, string(out.Output), out.IsError))
	}

	if m.role == roleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

// toolParam converts a JSON Schema object into the SDK's tool definition.
func toolParam(spec executor.ToolSpec) (anthropic.ToolParam, error) {
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if len(spec.InputSchema) > 0 {
		if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
			return anthropic.ToolParam{}, fmt.Errorf("tool %s input schema: %w", spec.Name, err)
		}
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}

	tool := anthropic.ToolParam{
		Name: spec.Name,
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		},
	}
	if spec.Description != "" {
		tool.Description = anthropic.String(spec.Description)
	}
	return tool, nil
}

var _ executor.Generator = (*Anthropic)(nil)

package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cexll/agentsdk-go/pkg/model"
	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/domain"
)

const defaultAnthropicMaxTokens = 4096

// MessagesAPI is the part of the Anthropic messages service the backend
// calls; &anthropic.Client.Messages is one.
type MessagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicBackend drives Claude through the messages API. Claude takes text
// only, and structured output is requested through the prompt. The SDK's own
// retries are disabled so the gateway policy is the only retry layer.
type AnthropicBackend struct {
	msgs        MessagesAPI
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewAnthropicBackend(cfg config.ProviderConfig, logger *zap.Logger) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return NewAnthropicBackendWithMessages(&client.Messages, cfg, logger)
}

func NewAnthropicBackendWithMessages(msgs MessagesAPI, cfg config.ProviderConfig, logger *zap.Logger) *AnthropicBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicBackend{
		msgs:        msgs,
		model:       cfg.ModelName(),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      logger.With(zap.String("component", "inference"), zap.String("backend", "anthropic")),
	}
}

func (b *AnthropicBackend) Name() string { return config.ProviderAnthropic }

func (b *AnthropicBackend) Generate(ctx context.Context, req Request) (string, error) {
	var sb strings.Builder
	for _, p := range req.Parts {
		if p.IsAudio() {
			return "", fmt.Errorf("%w: the anthropic backend does not accept audio notes", domain.ErrProcessing)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p.Text)
	}

	system := req.System
	if req.Schema != nil {
		system += "\n\n" + schemaInstruction(req.Schema) + "\nRespond with the JSON object only, without code fences."
	}

	msg, err := b.msgs.New(ctx, b.buildParams(model.Request{
		System:    system,
		Messages:  []model.Message{{Role: "user", Content: sb.String()}},
		MaxTokens: b.maxTokens,
	}))
	if err != nil {
		return "", classifyError(fmt.Errorf("anthropic complete: %w", err))
	}
	if msg == nil {
		return "", fmt.Errorf("%w: empty anthropic response", domain.ErrMalformedResponse)
	}
	b.logger.Debug("anthropic reply",
		zap.String("stop_reason", string(msg.StopReason)),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := stripCodeFence(out.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty anthropic response", domain.ErrMalformedResponse)
	}
	return text, nil
}

// buildParams maps a text-only request onto the messages API. System turns
// fold into the system prompt.
func (b *AnthropicBackend) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(b.temperature),
	}
	if s := strings.TrimSpace(req.System); s != "" {
		params.System = append(params.System, anthropic.TextBlockParam{Text: s})
	}
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return params
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

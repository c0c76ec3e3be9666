package inference

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/domain"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiBackend uses the Gemini API with native audio input and schema
// constrained JSON output.
type GeminiBackend struct {
	models      contentGenerator
	model       string
	maxTokens   int32
	temperature float32
	logger      *zap.Logger
}

func NewGeminiBackend(ctx context.Context, cfg config.ProviderConfig, logger *zap.Logger) (*GeminiBackend, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout()},
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %w", domain.ErrConfiguration, err)
	}
	return newGeminiBackend(client.Models, cfg, logger), nil
}

func newGeminiBackend(models contentGenerator, cfg config.ProviderConfig, logger *zap.Logger) *GeminiBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiBackend{
		models:      models,
		model:       cfg.ModelName(),
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
		logger:      logger.With(zap.String("component", "inference"), zap.String("backend", "gemini")),
	}
}

func (b *GeminiBackend) Name() string { return config.ProviderGemini }

func (b *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.IsAudio() {
			parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
			continue
		}
		parts = append(parts, genai.NewPartFromText(p.Text))
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(b.temperature),
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if b.maxTokens > 0 {
		genCfg.MaxOutputTokens = b.maxTokens
	}
	if req.Schema != nil {
		genCfg.ResponseSchema = req.Schema.Genai()
	}

	resp, err := b.models.GenerateContent(ctx, b.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, genCfg)
	if err != nil {
		return "", classifyError(fmt.Errorf("gemini generate: %w", err))
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty gemini response", domain.ErrMalformedResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", domain.ErrProcessing, resp.PromptFeedback.BlockReason)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty gemini response", domain.ErrMalformedResponse)
	}
	b.logger.Debug("gemini response", zap.String("schema", req.SchemaName), zap.Int("bytes", len(text)))
	return text, nil
}

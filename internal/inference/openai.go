package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/domain"
)

// OpenAIBackend talks to any OpenAI compatible chat completions endpoint.
type OpenAIBackend struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewOpenAIBackend(cfg config.ProviderConfig, logger *zap.Logger) *OpenAIBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultOpenAIBaseURL
	}
	return &OpenAIBackend{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.ModelName(),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		logger:      logger.With(zap.String("component", "inference"), zap.String("backend", "openai")),
	}
}

func (b *OpenAIBackend) Name() string { return config.ProviderOpenAI }

func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	content, err := openAIContent(req.Parts)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"model": b.model,
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": content},
		},
		"temperature": b.temperature,
	}
	if b.maxTokens > 0 {
		body["max_tokens"] = b.maxTokens
	}
	if req.Schema != nil {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName(req.SchemaName),
				"strict": true,
				"schema": req.Schema.JSON(),
			},
		}
	} else {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	text, statusCode, respBody, err := b.sendChatCompletion(ctx, body)
	if err == nil {
		return text, nil
	}

	if req.Schema != nil && isJSONSchemaUnsupported(statusCode, respBody) {
		b.logger.Warn("json_schema response format unsupported; retrying with json_object")
		body["response_format"] = map[string]string{"type": "json_object"}
		body["messages"] = []map[string]any{
			{"role": "system", "content": req.System + "\n\n" + schemaInstruction(req.Schema)},
			{"role": "user", "content": content},
		}
		text, _, _, retryErr := b.sendChatCompletion(ctx, body)
		if retryErr == nil {
			return text, nil
		}
		return "", retryErr
	}

	return "", err
}

func openAIContent(parts []Part) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		if !p.IsAudio() {
			out = append(out, map[string]any{"type": "text", "text": p.Text})
			continue
		}
		format, ok := openAIAudioFormat(p.MIMEType)
		if !ok {
			return nil, fmt.Errorf("%w: audio type %q is not supported by the openai backend", domain.ErrProcessing, p.MIMEType)
		}
		out = append(out, map[string]any{
			"type": "input_audio",
			"input_audio": map[string]string{
				"data":   base64.StdEncoding.EncodeToString(p.Data),
				"format": format,
			},
		})
	}
	return out, nil
}

func openAIAudioFormat(mimeType string) (string, bool) {
	mt, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), ";")
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav", true
	case "audio/mpeg", "audio/mp3":
		return "mp3", true
	default:
		return "", false
	}
}

func (b *OpenAIBackend) sendChatCompletion(ctx context.Context, body map[string]any) (string, int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", 0, nil, classifyError(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, nil, classifyError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, respBody, classifyError(&StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		})
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", resp.StatusCode, respBody, fmt.Errorf("%w: decode response: %w", domain.ErrMalformedResponse, err)
	}
	if len(decoded.Choices) == 0 {
		return "", resp.StatusCode, respBody, fmt.Errorf("%w: empty choices in response", domain.ErrMalformedResponse)
	}
	msg := decoded.Choices[0].Message
	if msg.Refusal != "" {
		return "", resp.StatusCode, respBody, fmt.Errorf("%w: model refused: %s", domain.ErrProcessing, msg.Refusal)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", resp.StatusCode, respBody, fmt.Errorf("%w: empty content in response", domain.ErrMalformedResponse)
	}
	return content, resp.StatusCode, respBody, nil
}

func isJSONSchemaUnsupported(statusCode int, respBody []byte) bool {
	if statusCode != http.StatusBadRequest && statusCode != http.StatusUnprocessableEntity {
		return false
	}

	var decoded struct {
		Error struct {
			Param   string `json:"param"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &decoded); err == nil {
		paramName := strings.ToLower(strings.TrimSpace(decoded.Error.Param))
		if strings.HasPrefix(paramName, "response_format") {
			return true
		}
		message := strings.ToLower(decoded.Error.Message)
		if strings.Contains(message, "json_schema") || strings.Contains(message, "response_format") {
			return true
		}
	}

	bodyText := strings.ToLower(string(respBody))
	return strings.Contains(bodyText, "json_schema")
}

func schemaName(name string) string {
	if name == "" {
		return "response"
	}
	return name
}

func schemaInstruction(s *Schema) string {
	raw, _ := json.Marshal(s.JSON())
	return "Return one JSON object matching this JSON Schema:\n" + string(raw)
}

// Package inference is the typed boundary to the generative model that
// extracts, validates and aggregates field report data.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/retry"
)

// Part is one piece of user input: text or an inline audio payload.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

func (p Part) IsAudio() bool { return len(p.Data) > 0 }

// Request is one structured generation call.
type Request struct {
	System     string
	Parts      []Part
	Schema     *Schema
	SchemaName string
}

// Backend sends a Request to a model and returns the raw JSON text it
// produced. Implementations classify transport errors with classifyError.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// StatusError is a non-2xx HTTP answer from a model endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// NewBackend selects a backend by provider type.
func NewBackend(ctx context.Context, cfg config.ProviderConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrConfiguration)
	}
	switch cfg.Type {
	case config.ProviderGemini, "":
		return NewGeminiBackend(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIBackend(cfg, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicBackend(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider type %q", domain.ErrConfiguration, cfg.Type)
	}
}

// classifyError maps a backend failure onto the error taxonomy. Errors that
// already carry a taxonomy sentinel or a context error pass through.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, sentinel := range []error{
		domain.ErrRateLimited, domain.ErrNetwork, domain.ErrMalformedResponse,
		domain.ErrProcessing, domain.ErrConfiguration,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if code := statusCodeOf(err); code != 0 {
		switch {
		case isRateLimitStatus(code):
			return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		default:
			return fmt.Errorf("%w: %w", domain.ErrProcessing, err)
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}

	return fmt.Errorf("%w: %w", domain.ErrProcessing, err)
}

func statusCodeOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		return anthErr.StatusCode
	}
	return 0
}

// 429 is the rate limit; 503 and 529 are the overload answers of the
// supported providers and clear up the same way.
func isRateLimitStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable || code == 529
}

// IsRetryable is the retry classifier shared by every gateway operation.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited)
}

// NewFromConfig builds the backend for cfg.Provider and wraps it in a
// Gateway using cfg.Retry.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	backend, err := NewBackend(ctx, cfg.Provider, logger)
	if err != nil {
		return nil, err
	}
	return NewGateway(backend, PolicyFromConfig(cfg.Retry), WithLogger(logger)), nil
}

func PolicyFromConfig(r config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = uint(r.MaxAttempts)
	}
	if r.BaseDelayMs > 0 {
		p.BaseDelay = r.BaseDelay()
	}
	if r.MaxDelayMs > 0 {
		p.MaxDelay = r.MaxDelay()
	}
	return p
}

package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/retry"
)

// Gateway turns notes into structured category data, checks categories
// against their checklists and writes the final report. Every call goes
// through the same retry policy; only rate-limit failures are retried.
type Gateway struct {
	backend Backend
	policy  retry.Policy
	logger  *zap.Logger
	now     func() time.Time
}

type GatewayOption func(*Gateway)

func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(backend Backend, policy retry.Policy, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend: backend,
		policy:  policy,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "inference"))
	return g
}

type extractionResponse struct {
	Transcript string          `json:"transcript"`
	Data       json.RawMessage `json:"data"`
}

type validationResponse struct {
	IsComplete  bool     `json:"is_complete"`
	MissingInfo []string `json:"missing_info"`
}

func extractionSchema(id domain.CategoryID) *Schema {
	return ObjectSchema("Transcript of the note and the merged section data",
		Property{"transcript", StringSchema("Faithful transcript of the new note, or " + domain.NoContentTranscript)},
		Property{"data", SchemaOf(domain.EmptyData(id))},
	)
}

var validationSchema = ObjectSchema("Checklist verdict",
	Property{"is_complete", BooleanSchema("True when every checklist item is present")},
	Property{"missing_info", ArraySchema("Missing checklist items", StringSchema(""))},
)

var reportSchema = SchemaOf(domain.FieldReport{})

// Extract transcribes src and merges its facts into prior. When the input
// has no intelligible content the result has NoContent set and Data equal
// to prior.
func (g *Gateway) Extract(ctx context.Context, src domain.NoteSource, id domain.CategoryID, prior domain.CategoryData) (domain.Extraction, error) {
	if !id.Valid() {
		return domain.Extraction{}, fmt.Errorf("extract: %w: %q", domain.ErrUnknownCategory, id)
	}
	if prior == nil {
		prior = domain.EmptyData(id)
	}
	if prior.CategoryID() != id {
		return domain.Extraction{}, fmt.Errorf("extract %s: %w: prior data belongs to %s", id, domain.ErrPrecondition, prior.CategoryID())
	}
	noContent := domain.Extraction{Transcript: domain.NoContentTranscript, Data: prior.Clone(), NoContent: true}
	if src.IsBlank() {
		return noContent, nil
	}

	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract %s: marshal prior data: %w", id, err)
	}
	parts := []Part{{Text: "Existing section data:\n" + string(priorJSON)}}
	if src.IsAudio() {
		parts = append(parts, Part{Text: "New note (audio recording follows):"}, Part{Data: src.Audio, MIMEType: src.MIMEType})
	} else {
		parts = append(parts, Part{Text: "New note:\n" + strings.TrimSpace(src.Text)})
	}

	raw, err := g.generate(ctx, "extract", Request{
		System:     extractionSystemPrompt(id),
		Parts:      parts,
		Schema:     extractionSchema(id),
		SchemaName: "extraction_" + string(id),
	})
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract %s: %w", id, err)
	}

	var resp extractionResponse
	if err := decodeObject(raw, &resp, "transcript", "data"); err != nil {
		return domain.Extraction{}, fmt.Errorf("extract %s: %w", id, err)
	}
	transcript := strings.TrimSpace(resp.Transcript)
	if transcript == domain.NoContentTranscript {
		g.logger.Debug("no content detected", zap.String("category", string(id)))
		return noContent, nil
	}
	if transcript == "" {
		return domain.Extraction{}, fmt.Errorf("extract %s: %w: empty transcript", id, domain.ErrMalformedResponse)
	}
	data, err := domain.DecodeData(id, resp.Data)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("extract %s: %w: %w", id, domain.ErrMalformedResponse, err)
	}
	return domain.Extraction{Transcript: transcript, Data: data}, nil
}

// Validate checks data against the category's checklist. An incomplete
// verdict is a normal result, not an error.
func (g *Gateway) Validate(ctx context.Context, id domain.CategoryID, data domain.CategoryData) (domain.Validation, error) {
	if !id.Valid() {
		return domain.Validation{}, fmt.Errorf("validate: %w: %q", domain.ErrUnknownCategory, id)
	}
	if len(domain.Checklist(id)) == 0 {
		return domain.Validation{IsComplete: true}, nil
	}
	if data == nil {
		data = domain.EmptyData(id)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return domain.Validation{}, fmt.Errorf("validate %s: marshal data: %w", id, err)
	}
	raw, err := g.generate(ctx, "validate", Request{
		System:     validationSystemPrompt(id),
		Parts:      []Part{{Text: "Section data:\n" + string(dataJSON)}},
		Schema:     validationSchema,
		SchemaName: "validation",
	})
	if err != nil {
		return domain.Validation{}, fmt.Errorf("validate %s: %w", id, err)
	}

	var resp validationResponse
	if err := decodeObject(raw, &resp, "is_complete"); err != nil {
		return domain.Validation{}, fmt.Errorf("validate %s: %w", id, err)
	}
	if resp.IsComplete {
		return domain.Validation{IsComplete: true}, nil
	}
	missing := make([]string, 0, len(resp.MissingInfo))
	for _, m := range resp.MissingInfo {
		if m = strings.TrimSpace(m); m != "" {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return domain.Validation{}, fmt.Errorf("validate %s: %w: incomplete without missing items", id, domain.ErrMalformedResponse)
	}
	return domain.Validation{MissingInfo: missing}, nil
}

// Aggregate writes the final report from every section and the supplemental notes.
func (g *Gateway) Aggregate(ctx context.Context, in domain.AggregateInput) (domain.FieldReport, error) {
	payload, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return domain.FieldReport{}, fmt.Errorf("aggregate: marshal input: %w", err)
	}
	raw, err := g.generate(ctx, "aggregate", Request{
		System:     aggregationPrompt,
		Parts:      []Part{{Text: "Field data:\n" + string(payload)}},
		Schema:     reportSchema,
		SchemaName: "field_report",
	})
	if err != nil {
		return domain.FieldReport{}, fmt.Errorf("aggregate: %w", err)
	}

	var report domain.FieldReport
	if err := decodeObject(raw, &report, reportSchema.Required()...); err != nil {
		return domain.FieldReport{}, fmt.Errorf("aggregate: %w", err)
	}
	report.GeneratedAt = g.now().UTC()
	return report, nil
}

func (g *Gateway) generate(ctx context.Context, op string, req Request) (string, error) {
	return retry.Do(ctx, g.policy, IsRetryable,
		func(ctx context.Context) (string, error) {
			out, err := g.backend.Generate(ctx, req)
			return out, classifyError(err)
		},
		retry.WithNotify(func(attempt int, err error, wait time.Duration) {
			g.logger.Warn("inference call failed; retrying",
				zap.String("op", op),
				zap.String("backend", g.backend.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
}

// decodeObject unmarshals raw into out after checking that raw is a JSON
// object holding every required key.
func decodeObject(raw string, out any, required ...string) error {
	body := []byte(strings.TrimSpace(raw))
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	for _, key := range required {
		v, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return fmt.Errorf("%w: missing field %q", domain.ErrMalformedResponse, key)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	return nil
}

package inference

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/retry"
)

type stubBackend struct {
	calls atomic.Int32
	last  Request
	fn    func(n int, req Request) (string, error)
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Generate(_ context.Context, req Request) (string, error) {
	n := int(s.calls.Add(1))
	s.last = req
	return s.fn(n, req)
}

func respond(body string) func(int, Request) (string, error) {
	return func(int, Request) (string, error) { return body, nil }
}

func rateLimitedTimes(times int, body string) func(int, Request) (string, error) {
	return func(n int, _ Request) (string, error) {
		if n <= times {
			return "", &StatusError{StatusCode: 429, Body: "slow down"}
		}
		return body, nil
	}
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func newTestGateway(b Backend) *Gateway {
	return NewGateway(b, testPolicy(), WithClock(func() time.Time {
		return time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)
	}))
}

const findsResponse = `{"transcript":"Found one obsidian flake","data":{"item_type":"lithic","quantity":"1","material":"","context":"","description":""}}`

func TestExtract_MergesNote(t *testing.T) {
	b := &stubBackend{fn: respond(findsResponse)}
	g := newTestGateway(b)

	got, err := g.Extract(context.Background(), domain.TextSource("Found one obsidian flake"), domain.CategoryFinds, domain.FindsData{})
	require.NoError(t, err)
	assert.False(t, got.NoContent)
	assert.Equal(t, "Found one obsidian flake", got.Transcript)
	assert.Equal(t, domain.FindsData{ItemType: "lithic", Quantity: "1"}, got.Data)

	assert.Equal(t, "extraction_finds", b.last.SchemaName)
	assert.Contains(t, b.last.System, "Finds & Materials")
	assert.Contains(t, b.last.Parts[len(b.last.Parts)-1].Text, "Found one obsidian flake")
	assert.Contains(t, b.last.Schema.Properties["data"].Properties, "material")
}

func TestExtract_BlankInputSkipsBackend(t *testing.T) {
	b := &stubBackend{fn: respond(findsResponse)}
	g := newTestGateway(b)
	prior := domain.FindsData{ItemType: "ceramic"}

	got, err := g.Extract(context.Background(), domain.TextSource("   "), domain.CategoryFinds, prior)
	require.NoError(t, err)
	assert.True(t, got.NoContent)
	assert.Equal(t, prior, got.Data)
	assert.Zero(t, b.calls.Load())
}

func TestExtract_NoContentSentinel(t *testing.T) {
	b := &stubBackend{fn: respond(`{"transcript":"[NO_CONTENT]","data":{"item_type":"something else"}}`)}
	g := newTestGateway(b)
	prior := domain.FindsData{ItemType: "ceramic", Quantity: "3"}

	got, err := g.Extract(context.Background(), domain.AudioSource([]byte{1, 2, 3}, "audio/ogg"), domain.CategoryFinds, prior)
	require.NoError(t, err)
	assert.True(t, got.NoContent)
	assert.Equal(t, domain.NoContentTranscript, got.Transcript)
	assert.Equal(t, prior, got.Data)

	var audio Part
	for _, p := range b.last.Parts {
		if p.IsAudio() {
			audio = p
		}
	}
	assert.Equal(t, "audio/ogg", audio.MIMEType)
}

func TestExtract_RejectsForeignPriorData(t *testing.T) {
	g := newTestGateway(&stubBackend{fn: respond(findsResponse)})
	_, err := g.Extract(context.Background(), domain.TextSource("x"), domain.CategoryFinds, domain.ProjectData{})
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestExtract_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "the flake is obsidian"},
		{"missing data", `{"transcript":"x"}`},
		{"null data", `{"transcript":"x","data":null}`},
		{"missing transcript", `{"data":{}}`},
		{"empty transcript", `{"transcript":"  ","data":{}}`},
		{"wrong data type", `{"transcript":"x","data":{"item_type":7}}`},
		{"array", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBackend{fn: respond(tt.body)}
			g := newTestGateway(b)
			_, err := g.Extract(context.Background(), domain.TextSource("x"), domain.CategoryFinds, nil)
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
			assert.Equal(t, int32(1), b.calls.Load(), "malformed responses are not retried")
		})
	}
}

func TestGateway_RetryLaw(t *testing.T) {
	job := completedJob()
	ops := map[string]struct {
		body string
		call func(g *Gateway) error
	}{
		"extract": {findsResponse, func(g *Gateway) error {
			_, err := g.Extract(context.Background(), domain.TextSource("flake"), domain.CategoryFinds, nil)
			return err
		}},
		"validate": {`{"is_complete":true,"missing_info":[]}`, func(g *Gateway) error {
			_, err := g.Validate(context.Background(), domain.CategoryFinds, domain.FindsData{ItemType: "lithic"})
			return err
		}},
		"aggregate": {fixedReportJSON, func(g *Gateway) error {
			_, err := g.Aggregate(context.Background(), job)
			return err
		}},
	}

	for name, op := range ops {
		t.Run(name+" succeeds on third attempt", func(t *testing.T) {
			b := &stubBackend{fn: rateLimitedTimes(2, op.body)}
			require.NoError(t, op.call(newTestGateway(b)))
			assert.Equal(t, int32(3), b.calls.Load())
		})
		t.Run(name+" gives up after bound", func(t *testing.T) {
			b := &stubBackend{fn: rateLimitedTimes(10, op.body)}
			err := op.call(newTestGateway(b))
			assert.ErrorIs(t, err, domain.ErrRateLimited)
			assert.Equal(t, "The system is busy, please try again in a moment.", domain.UserMessage(err))
			assert.Equal(t, int32(3), b.calls.Load())
		})
	}
}

func TestGateway_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, domain.ErrNetwork},
		{"server error", &StatusError{StatusCode: 500, Body: "oops"}, domain.ErrProcessing},
		{"auth", &StatusError{StatusCode: 401, Body: "bad key"}, domain.ErrConfiguration},
		{"other", errors.New("weird"), domain.ErrProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &stubBackend{fn: func(int, Request) (string, error) { return "", tt.err }}
			_, err := newTestGateway(b).Validate(context.Background(), domain.CategoryFinds, domain.FindsData{})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), b.calls.Load())
		})
	}
}

func TestValidate_Incomplete(t *testing.T) {
	b := &stubBackend{fn: respond(`{"is_complete":false,"missing_info":["material", " "]}`)}
	g := newTestGateway(b)

	got, err := g.Validate(context.Background(), domain.CategoryFinds, domain.FindsData{ItemType: "lithic", Quantity: "1"})
	require.NoError(t, err)
	assert.False(t, got.IsComplete)
	assert.Equal(t, []string{"material"}, got.MissingInfo)

	assert.Contains(t, b.last.System, "Material")
	assert.NotContains(t, b.last.System, "Supervising archaeologist")
	assert.Contains(t, b.last.Parts[0].Text, `"item_type":"lithic"`)
}

func TestValidate_CompleteClearsMissingInfo(t *testing.T) {
	b := &stubBackend{fn: respond(`{"is_complete":true,"missing_info":["stray"]}`)}
	got, err := newTestGateway(b).Validate(context.Background(), domain.CategoryFinds, domain.FindsData{})
	require.NoError(t, err)
	assert.True(t, got.IsComplete)
	assert.Empty(t, got.MissingInfo)
}

func TestValidate_IncompleteWithoutReasonsIsMalformed(t *testing.T) {
	b := &stubBackend{fn: respond(`{"is_complete":false,"missing_info":[]}`)}
	_, err := newTestGateway(b).Validate(context.Background(), domain.CategoryFinds, domain.FindsData{})
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestValidate_Idempotent(t *testing.T) {
	b := &stubBackend{fn: respond(`{"is_complete":false,"missing_info":["material","context"]}`)}
	g := newTestGateway(b)
	data := domain.FindsData{ItemType: "lithic"}

	first, err := g.Validate(context.Background(), domain.CategoryFinds, data)
	require.NoError(t, err)
	second, err := g.Validate(context.Background(), domain.CategoryFinds, data)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidate_OptionalCategoryIsVacuouslyComplete(t *testing.T) {
	b := &stubBackend{fn: respond(`{}`)}
	got, err := newTestGateway(b).Validate(context.Background(), domain.CategoryAdditional, nil)
	require.NoError(t, err)
	assert.True(t, got.IsComplete)
	assert.Zero(t, b.calls.Load())
}

const fixedReportJSON = `{
  "project": {"project_name": "Hill Fort", "site_code": "HF26", "location": "Ridge", "date": "2026-06-01", "supervisor": "R. Okafor", "crew": ["Ana", "Ben"]},
  "narrative": {"site_conditions": "Dry.", "excavation_summary": "Trench 1 opened.", "stratigraphy": "Topsoil over clay.", "features": "None.", "additional_observations": "Sheep nearby."},
  "finds": [{"item_type": "lithic", "quantity": "1", "material": "obsidian", "context": "101", "description": "flake"}],
  "site_log": [{"label": "Hours", "value": "8"}]
}`

func completedJob() domain.AggregateInput {
	return domain.AggregateInput{
		Sections: []domain.SectionData{
			{ID: domain.CategoryFinds, Title: "Finds & Materials", Data: domain.FindsData{ItemType: "lithic", Material: "obsidian"}},
		},
		Supplemental: []string{"Sheep nearby."},
	}
}

func TestAggregate_ReturnsReport(t *testing.T) {
	b := &stubBackend{fn: respond(fixedReportJSON)}
	got, err := newTestGateway(b).Aggregate(context.Background(), completedJob())
	require.NoError(t, err)

	want := domain.FieldReport{
		GeneratedAt: time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC),
		Project: domain.ProjectMetadata{
			ProjectName: "Hill Fort", SiteCode: "HF26", Location: "Ridge", Date: "2026-06-01",
			Supervisor: "R. Okafor", Crew: []string{"Ana", "Ben"},
		},
		Narrative: domain.Narrative{
			SiteConditions: "Dry.", ExcavationSummary: "Trench 1 opened.", Stratigraphy: "Topsoil over clay.",
			Features: "None.", AdditionalObservations: "Sheep nearby.",
		},
		Finds:   []domain.FindRecord{{ItemType: "lithic", Quantity: "1", Material: "obsidian", Context: "101", Description: "flake"}},
		SiteLog: []domain.LogEntry{{Label: "Hours", Value: "8"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, b.last.Parts[0].Text, "Sheep nearby.")
	assert.Contains(t, b.last.Parts[0].Text, `"material": "obsidian"`)
}

func TestAggregate_MissingSectionIsMalformed(t *testing.T) {
	body := strings.Replace(fixedReportJSON, `"site_log"`, `"log"`, 1)
	_, err := newTestGateway(&stubBackend{fn: respond(body)}).Aggregate(context.Background(), completedJob())
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxAttempts: 5, BaseDelayMs: 250, MaxDelayMs: 2000})
	assert.Equal(t, retry.Policy{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}, p)

	assert.Equal(t, retry.DefaultPolicy(), PolicyFromConfig(config.RetryConfig{}))
}

func TestNewFromConfig_MissingKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.Type = config.ProviderOpenAI
	_, err := NewFromConfig(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

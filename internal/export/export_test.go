package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

func sampleReport() domain.FieldReport {
	return domain.FieldReport{
		GeneratedAt: time.Date(2026, 6, 1, 17, 30, 0, 0, time.UTC),
		Project: domain.ProjectMetadata{
			ProjectName: "Hill Fort",
			SiteCode:    "HF 26",
			Location:    "Ridge north of the village",
			Date:        "2026-06-01",
			Supervisor:  "Dr. Ana Ruiz",
			Crew:        []string{"Ben", "Chloe"},
		},
		Narrative: domain.Narrative{
			SiteConditions:    "Overcast, ground damp after overnight rain.",
			ExcavationSummary: "Trench 1 taken down to 0.6 m by hand.",
		},
		Finds: []domain.FindRecord{
			{ItemType: "lithic", Quantity: "1", Material: "obsidian", Context: "101", Description: "flake | retouched"},
		},
		SiteLog: []domain.LogEntry{{Label: "Hours", Value: "08:00-16:00"}},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleReport())

	assert.True(t, strings.HasPrefix(md, "# Field Report: Hill Fort\n"))
	assert.Contains(t, md, "_Generated 2026-06-01T17:30:00Z_")
	assert.Contains(t, md, "| Crew | Ben, Chloe |")
	assert.Contains(t, md, "### Stratigraphy\n\n_Not recorded._")
	assert.Contains(t, md, `| lithic | 1 | obsidian | 101 | flake \| retouched |`)
	assert.Contains(t, md, "| Hours | 08:00-16:00 |")
}

func TestMarkdown_EmptySections(t *testing.T) {
	md := Markdown(domain.FieldReport{})
	assert.Contains(t, md, "# Field Report: Untitled project")
	assert.Contains(t, md, "_No finds recorded._")
	assert.Contains(t, md, "_No entries._")
	assert.NotContains(t, md, "_Generated")
}

func TestJSONAndYAMLDecodeBack(t *testing.T) {
	want := sampleReport()

	raw, err := JSON(want)
	require.NoError(t, err)
	var fromJSON domain.FieldReport
	require.NoError(t, json.Unmarshal(raw, &fromJSON))
	if diff := cmp.Diff(want, fromJSON); diff != "" {
		t.Fatalf("json (-want +got):\n%s", diff)
	}

	raw, err = YAML(want)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "site_code: HF 26")
	var fromYAML domain.FieldReport
	require.NoError(t, yaml.Unmarshal(raw, &fromYAML))
	if diff := cmp.Diff(want, fromYAML); diff != "" {
		t.Fatalf("yaml (-want +got):\n%s", diff)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"markdown", FormatMarkdown},
		{"MD", FormatMarkdown},
		{"json", FormatJSON},
		{" yml ", FormatYAML},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	r := sampleReport()

	for _, f := range []Format{FormatMarkdown, FormatJSON, FormatYAML} {
		path, err := WriteFile(dir, f, r)
		require.NoError(t, err)
		assert.Equal(t, "hf-26-field-report-20260601-173000"+f.Extension(), filepath.Base(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		want, err := Encode(f, r)
		require.NoError(t, err)
		assert.Equal(t, want, data)
	}

	_, err := WriteFile(dir, Format("pdf"), r)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	out, err := Render(sampleReport(), 60)
	require.NoError(t, err)
	assert.Contains(t, out, "Hill Fort")
	assert.Contains(t, out, "obsidian")
}

// Package export writes a finished FieldReport as Markdown, JSON or YAML.
// It only reads the report.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	default:
		return ".md"
	}
}

// Encode renders the report in the given format.
func Encode(f Format, r domain.FieldReport) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		return []byte(Markdown(r)), nil
	case FormatJSON:
		return JSON(r)
	case FormatYAML:
		return YAML(r)
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
}

func JSON(r domain.FieldReport) ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(b, '\n'), nil
}

func YAML(r domain.FieldReport) ([]byte, error) {
	b, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return b, nil
}

// Markdown lays the report out as a document with tables for finds and the
// site log.
func Markdown(r domain.FieldReport) string {
	var b strings.Builder
	title := r.Project.ProjectName
	if title == "" {
		title = "Untitled project"
	}
	fmt.Fprintf(&b, "# Field Report: %s\n\n", title)
	if !r.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "_Generated %s_\n\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	}

	b.WriteString("## Project\n\n")
	writeTable(&b, []string{"Field", "Value"}, [][]string{
		{"Project", r.Project.ProjectName},
		{"Site code", r.Project.SiteCode},
		{"Location", r.Project.Location},
		{"Date", r.Project.Date},
		{"Supervisor", r.Project.Supervisor},
		{"Crew", strings.Join(r.Project.Crew, ", ")},
	})

	b.WriteString("## Narrative\n\n")
	for _, s := range []struct{ title, body string }{
		{"Site conditions", r.Narrative.SiteConditions},
		{"Excavation summary", r.Narrative.ExcavationSummary},
		{"Stratigraphy", r.Narrative.Stratigraphy},
		{"Features", r.Narrative.Features},
		{"Additional observations", r.Narrative.AdditionalObservations},
	} {
		body := strings.TrimSpace(s.body)
		if body == "" {
			body = "_Not recorded._"
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", s.title, body)
	}

	b.WriteString("## Finds\n\n")
	if len(r.Finds) == 0 {
		b.WriteString("_No finds recorded._\n\n")
	} else {
		rows := make([][]string, len(r.Finds))
		for i, f := range r.Finds {
			rows[i] = []string{f.ItemType, f.Quantity, f.Material, f.Context, f.Description}
		}
		writeTable(&b, []string{"Type", "Quantity", "Material", "Context", "Description"}, rows)
	}

	b.WriteString("## Site log\n\n")
	if len(r.SiteLog) == 0 {
		b.WriteString("_No entries._\n")
	} else {
		rows := make([][]string, len(r.SiteLog))
		for i, e := range r.SiteLog {
			rows[i] = []string{e.Label, e.Value}
		}
		writeTable(&b, []string{"Label", "Value"}, rows)
	}
	return b.String()
}

func writeTable(b *strings.Builder, header []string, rows [][]string) {
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = cell(c)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	b.WriteString("\n")
}

func cell(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// FileName is the default file name for a report in the given format.
func FileName(f Format, r domain.FieldReport) string {
	stamp := r.GeneratedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := "field-report-" + stamp.UTC().Format("20060102-150405")
	if code := slug(r.Project.SiteCode); code != "" {
		name = code + "-" + name
	}
	return name + f.Extension()
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// WriteFile encodes the report into dir and returns the written path.
func WriteFile(dir string, f Format, r domain.FieldReport) (string, error) {
	data, err := Encode(f, r)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(f, r))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Render formats the markdown report for a terminal.
func Render(r domain.FieldReport, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := renderer.Render(Markdown(r))
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}

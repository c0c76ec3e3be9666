package domain

import (
	"strings"
)

// NoContentTranscript is the transcript the extraction backend returns when
// the input carried nothing intelligible.
const NoContentTranscript = "[NO_CONTENT]"

// NoteSource is the raw input of a note: either text, or an audio payload
// with its content type.
type NoteSource struct {
	Text     string
	Audio    []byte
	MIMEType string
}

func TextSource(text string) NoteSource {
	return NoteSource{Text: text}
}

func AudioSource(data []byte, mimeType string) NoteSource {
	return NoteSource{Audio: data, MIMEType: mimeType}
}

func (s NoteSource) IsAudio() bool {
	return len(s.Audio) > 0
}

// IsBlank reports whether the source has neither audio nor non-whitespace text.
func (s NoteSource) IsBlank() bool {
	return !s.IsAudio() && strings.TrimSpace(s.Text) == ""
}

// Extraction is the result of extracting one note.
type Extraction struct {
	Transcript string
	Data       CategoryData
	// NoContent is set when the input was unintelligible. Data then equals
	// the prior data and no note must be created.
	NoContent bool
}

// Validation is the outcome of checking a category against its checklist.
// An incomplete validation is a normal outcome, not an error.
type Validation struct {
	IsComplete  bool
	MissingInfo []string
}

// SectionData is one category's contribution to the aggregated report.
type SectionData struct {
	ID    CategoryID   `json:"id"`
	Title string       `json:"title"`
	Data  CategoryData `json:"data"`
}

// AggregateInput is everything the report generator sees: every category's
// structured data plus free-form notes that may be folded into any section.
type AggregateInput struct {
	Sections     []SectionData `json:"sections"`
	Supplemental []string      `json:"supplemental_notes"`
}

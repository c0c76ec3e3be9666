// Package domain holds the field report data model: the eight fixed report
// categories, their notes and structured data, the job state that groups
// them and the aggregated FieldReport.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CategoryID identifies one of the fixed report categories.
type CategoryID string

const (
	CategoryProject      CategoryID = "project"
	CategoryConditions   CategoryID = "conditions"
	CategoryPersonnel    CategoryID = "personnel"
	CategoryExcavation   CategoryID = "excavation"
	CategoryStratigraphy CategoryID = "stratigraphy"
	CategoryFeatures     CategoryID = "features"
	CategoryFinds        CategoryID = "finds"
	CategoryAdditional   CategoryID = "additional"
)

// OptionalCategory is the only category that is not required for job completion.
const OptionalCategory = CategoryAdditional

var categoryOrder = []CategoryID{
	CategoryProject,
	CategoryConditions,
	CategoryPersonnel,
	CategoryExcavation,
	CategoryStratigraphy,
	CategoryFeatures,
	CategoryFinds,
	CategoryAdditional,
}

var categoryTitles = map[CategoryID]string{
	CategoryProject:      "Project Details",
	CategoryConditions:   "Weather & Site Conditions",
	CategoryPersonnel:    "Personnel & Equipment",
	CategoryExcavation:   "Excavation Progress",
	CategoryStratigraphy: "Stratigraphy & Soils",
	CategoryFeatures:     "Features",
	CategoryFinds:        "Finds & Materials",
	CategoryAdditional:   "Additional Notes",
}

// AllCategories returns every category identifier in display order.
func AllCategories() []CategoryID {
	out := make([]CategoryID, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// RequiredCategories returns every category except the optional one.
func RequiredCategories() []CategoryID {
	out := make([]CategoryID, 0, len(categoryOrder)-1)
	for _, id := range categoryOrder {
		if id.Required() {
			out = append(out, id)
		}
	}
	return out
}

// ParseCategoryID accepts an identifier case-insensitively.
func ParseCategoryID(s string) (CategoryID, error) {
	id := CategoryID(strings.ToLower(strings.TrimSpace(s)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return id, nil
}

// Valid reports whether id is one of the eight report categories.
func (id CategoryID) Valid() bool {
	_, ok := categoryTitles[id]
	return ok
}

// Required reports whether the category must be complete before finishing.
func (id CategoryID) Required() bool {
	return id.Valid() && id != OptionalCategory
}

// Title is the display name of the category.
func (id CategoryID) Title() string {
	if t, ok := categoryTitles[id]; ok {
		return t
	}
	return string(id)
}

// Status is the lifecycle state of a category.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusComplete:
		return true
	default:
		return false
	}
}

// Note is one captured transcript. Notes are never edited once created.
type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Category is the live state of one report category.
type Category struct {
	ID          CategoryID
	Title       string
	Status      Status
	Notes       []Note
	Data        CategoryData
	MissingInfo []string
}

// NewCategory returns the not-started default for id.
func NewCategory(id CategoryID) Category {
	return Category{
		ID:     id,
		Title:  id.Title(),
		Status: StatusNotStarted,
		Data:   EmptyData(id),
	}
}

// Clone returns a copy that shares no slices or data with c.
func (c Category) Clone() Category {
	out := c
	if c.Notes != nil {
		out.Notes = make([]Note, len(c.Notes))
		copy(out.Notes, c.Notes)
	}
	if c.MissingInfo != nil {
		out.MissingInfo = make([]string, len(c.MissingInfo))
		copy(out.MissingInfo, c.MissingInfo)
	}
	if c.Data != nil {
		out.Data = c.Data.Clone()
	}
	return out
}

// FindNote returns the index of the note with the given id, or -1.
func (c Category) FindNote(noteID string) int {
	for i, n := range c.Notes {
		if n.ID == noteID {
			return i
		}
	}
	return -1
}

// CheckInvariants reports the first broken category invariant.
func (c Category) CheckInvariants() error {
	if !c.ID.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c.ID)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("category %s: invalid status %q", c.ID, c.Status)
	}
	if c.Data == nil {
		return fmt.Errorf("category %s: missing data", c.ID)
	}
	if c.Data.CategoryID() != c.ID {
		return fmt.Errorf("category %s: data belongs to %s", c.ID, c.Data.CategoryID())
	}
	switch c.Status {
	case StatusComplete:
		if len(c.MissingInfo) > 0 {
			return fmt.Errorf("category %s: complete with %d missing items", c.ID, len(c.MissingInfo))
		}
	case StatusNotStarted:
		if len(c.Notes) > 0 {
			return fmt.Errorf("category %s: not started with %d notes", c.ID, len(c.Notes))
		}
		if !c.Data.IsEmpty() {
			return fmt.Errorf("category %s: not started with data", c.ID)
		}
	}
	return nil
}

type categoryJSON struct {
	ID          CategoryID      `json:"id"`
	Title       string          `json:"title"`
	Status      Status          `json:"status"`
	Notes       []Note          `json:"notes"`
	Data        json.RawMessage `json:"data"`
	MissingInfo []string        `json:"missingInfo"`
}

func (c Category) MarshalJSON() ([]byte, error) {
	data := c.Data
	if data == nil {
		data = EmptyData(c.ID)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", c.ID, err)
	}
	notes := c.Notes
	if notes == nil {
		notes = []Note{}
	}
	missing := c.MissingInfo
	if missing == nil {
		missing = []string{}
	}
	return json.Marshal(categoryJSON{
		ID:          c.ID,
		Title:       c.Title,
		Status:      c.Status,
		Notes:       notes,
		Data:        raw,
		MissingInfo: missing,
	})
}

func (c *Category) UnmarshalJSON(b []byte) error {
	var in categoryJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if !in.ID.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, in.ID)
	}
	data, err := DecodeData(in.ID, in.Data)
	if err != nil {
		return err
	}
	*c = Category{
		ID:          in.ID,
		Title:       in.Title,
		Status:      in.Status,
		Notes:       in.Notes,
		Data:        data,
		MissingInfo: in.MissingInfo,
	}
	if c.Title == "" {
		c.Title = in.ID.Title()
	}
	if len(c.Notes) == 0 {
		c.Notes = nil
	}
	if len(c.MissingInfo) == 0 {
		c.MissingInfo = nil
	}
	return nil
}

package session

import (
	"fmt"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

// Snapshot is the persisted form of a session. In-flight calls are not part
// of it.
type Snapshot struct {
	Job      domain.JobState     `json:"job"`
	Selected domain.CategoryID   `json:"selected,omitempty"`
	View     View                `json:"view"`
	Report   *domain.FieldReport `json:"report,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Job: c.job.Clone(), Selected: c.selected, View: c.view}
	if c.report != nil {
		r := c.report.Clone()
		s.Report = &r
	}
	return s
}

// Restore replaces the session state with s. In-flight calls started before
// Restore are discarded like after Reset.
func (c *Controller) Restore(s Snapshot) error {
	if err := s.Job.Validate(); err != nil {
		return fmt.Errorf("restore: %w: %w", domain.ErrPrecondition, err)
	}
	if s.Selected != "" && !s.Selected.Valid() {
		return fmt.Errorf("restore: %w: %q", domain.ErrUnknownCategory, s.Selected)
	}
	view := s.View
	if view != ViewReport || s.Report == nil {
		view = ViewCategories
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = s.Job.Clone()
	c.selected = s.Selected
	c.view = view
	c.report = nil
	if s.Report != nil {
		r := s.Report.Clone()
		c.report = &r
	}
	c.processing = make(map[domain.CategoryID]bool)
	c.finishing = false
	c.generation++
	return nil
}

package domain

import (
	"fmt"
)

// JobState maps every category identifier to exactly one Category.
type JobState struct {
	Categories map[CategoryID]Category `json:"categories"`
}

// NewJobState returns a job with all eight categories not started.
func NewJobState() JobState {
	cats := make(map[CategoryID]Category, len(categoryOrder))
	for _, id := range categoryOrder {
		cats[id] = NewCategory(id)
	}
	return JobState{Categories: cats}
}

func (j JobState) Category(id CategoryID) (Category, bool) {
	c, ok := j.Categories[id]
	return c, ok
}

// IsJobComplete reports whether every required category is complete. It is
// always derived from the categories and never stored.
func (j JobState) IsJobComplete() bool {
	for _, id := range RequiredCategories() {
		c, ok := j.Categories[id]
		if !ok || c.Status != StatusComplete {
			return false
		}
	}
	return true
}

// Progress returns how many required categories are complete.
func (j JobState) Progress() (complete, required int) {
	for _, id := range RequiredCategories() {
		required++
		if c, ok := j.Categories[id]; ok && c.Status == StatusComplete {
			complete++
		}
	}
	return complete, required
}

// IncompleteRequired lists required categories that are not yet complete, in
// display order.
func (j JobState) IncompleteRequired() []CategoryID {
	var out []CategoryID
	for _, id := range RequiredCategories() {
		if c, ok := j.Categories[id]; !ok || c.Status != StatusComplete {
			out = append(out, id)
		}
	}
	return out
}

// Clone deep-copies the job.
func (j JobState) Clone() JobState {
	cats := make(map[CategoryID]Category, len(j.Categories))
	for id, c := range j.Categories {
		cats[id] = c.Clone()
	}
	return JobState{Categories: cats}
}

// Validate checks that the map is total over the fixed identifiers and that
// every category satisfies its invariants.
func (j JobState) Validate() error {
	if len(j.Categories) != len(categoryOrder) {
		return fmt.Errorf("job state has %d categories, want %d", len(j.Categories), len(categoryOrder))
	}
	for _, id := range categoryOrder {
		c, ok := j.Categories[id]
		if !ok {
			return fmt.Errorf("job state missing category %s", id)
		}
		if c.ID != id {
			return fmt.Errorf("job state key %s holds category %s", id, c.ID)
		}
		if err := c.CheckInvariants(); err != nil {
			return err
		}
	}
	return nil
}

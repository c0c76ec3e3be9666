// Package notestore appends and removes the notes of a category. Every
// operation returns a new Category value and never touches its input.
package notestore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

// Store creates and removes the notes of a category, stamping each new note
// with an id and time.
type Store struct {
	newID func() string
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the uuid note ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock sets the time source for note timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

func New(opts ...Option) *Store {
	s := &Store{
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a note with text to the end of c, replaces c's data with
// data and reopens the category.
func (s *Store) Append(c domain.Category, text string, data domain.CategoryData) (domain.Category, domain.Note, error) {
	if data == nil {
		data = domain.EmptyData(c.ID)
	}
	if data.CategoryID() != c.ID {
		return c, domain.Note{}, fmt.Errorf("append to %s: %w: data belongs to %s", c.ID, domain.ErrPrecondition, data.CategoryID())
	}

	note := domain.Note{
		ID:        s.newID(),
		Text:      text,
		Timestamp: s.now().UTC(),
	}
	out := c.Clone()
	out.Notes = append(out.Notes, note)
	out.Data = data.Clone()
	out.Status = domain.StatusInProgress
	return out, note, nil
}

// Remove deletes the note with noteID. A category left without notes goes
// back to not started, unless it is complete.
func (s *Store) Remove(c domain.Category, noteID string) (domain.Category, error) {
	idx := c.FindNote(noteID)
	if idx < 0 {
		return c, fmt.Errorf("remove from %s: %w: %s", c.ID, domain.ErrNoteNotFound, noteID)
	}

	out := c.Clone()
	out.Notes = append(out.Notes[:idx], out.Notes[idx+1:]...)
	if len(out.Notes) == 0 {
		out.Notes = nil
		if out.Status != domain.StatusComplete {
			out.Status = domain.StatusNotStarted
			out.Data = domain.EmptyData(out.ID)
			out.MissingInfo = nil
		}
	}
	return out, nil
}

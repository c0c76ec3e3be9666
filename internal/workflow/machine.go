// Package workflow drives a category through not_started, in_progress and
// complete in response to note additions, removals and finalize requests.
package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/notestore"
)

// Extractor turns a note into a transcript and merged category data.
type Extractor interface {
	Extract(ctx context.Context, src domain.NoteSource, id domain.CategoryID, prior domain.CategoryData) (domain.Extraction, error)
}

// Validator checks category data against its checklist.
type Validator interface {
	Validate(ctx context.Context, id domain.CategoryID, data domain.CategoryData) (domain.Validation, error)
}

// Trigger names the event behind a status transition.
type Trigger string

const (
	TriggerAppend   Trigger = "append"
	TriggerRemove   Trigger = "remove"
	TriggerFinalize Trigger = "finalize"
)

// AddResult is the outcome of AddNote. When NoContent is set the category
// is returned unchanged and Note is zero.
type AddResult struct {
	Category  domain.Category
	Note      domain.Note
	NoContent bool
}

// Machine applies note and finalize events to a category and returns the
// next value. It holds no category state.
type Machine struct {
	extractor Extractor
	validator Validator
	notes     *notestore.Store
	logger    *zap.Logger
}

// New builds a Machine; a nil logger discards output.
func New(extractor Extractor, validator Validator, notes *notestore.Store, logger *zap.Logger) *Machine {
	if notes == nil {
		notes = notestore.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		extractor: extractor,
		validator: validator,
		notes:     notes,
		logger:    logger.With(zap.String("component", "workflow")),
	}
}

// AddNote extracts src against the category's current data and appends the
// transcript as a new note. Nothing changes when extraction fails or finds
// no content.
func (m *Machine) AddNote(ctx context.Context, c domain.Category, src domain.NoteSource) (AddResult, error) {
	ext, err := m.extractor.Extract(ctx, src, c.ID, c.Data)
	if err != nil {
		return AddResult{Category: c}, err
	}
	if ext.NoContent {
		m.logger.Debug("no content; note skipped", zap.String("category", string(c.ID)))
		return AddResult{Category: c, NoContent: true}, nil
	}

	next, note, err := m.notes.Append(c, ext.Transcript, ext.Data)
	if err != nil {
		return AddResult{Category: c}, err
	}
	if err := checkTransition(c, next, TriggerAppend); err != nil {
		return AddResult{Category: c}, err
	}
	return AddResult{Category: next, Note: note}, nil
}

// RemoveNote deletes a note. Removing the last note of a complete category
// leaves it complete.
func (m *Machine) RemoveNote(c domain.Category, noteID string) (domain.Category, error) {
	next, err := m.notes.Remove(c, noteID)
	if err != nil {
		return c, err
	}
	if err := checkTransition(c, next, TriggerRemove); err != nil {
		return c, err
	}
	return next, nil
}

// Finalize validates the category. A complete verdict clears missingInfo
// and completes the category; an incomplete one records the missing items
// and keeps it in progress. A required category without notes cannot be
// finalized. Finalizing a complete category returns it unchanged.
func (m *Machine) Finalize(ctx context.Context, c domain.Category) (domain.Category, domain.Validation, error) {
	if c.Status == domain.StatusComplete {
		return c, domain.Validation{IsComplete: true}, nil
	}
	if len(c.Notes) == 0 {
		if c.ID.Required() {
			return c, domain.Validation{}, fmt.Errorf("finalize %s: %w: no notes recorded", c.ID, domain.ErrPrecondition)
		}
		next := c.Clone()
		next.Status = domain.StatusComplete
		next.MissingInfo = nil
		if err := checkTransition(c, next, TriggerFinalize); err != nil {
			return c, domain.Validation{}, err
		}
		return next, domain.Validation{IsComplete: true}, nil
	}

	v, err := m.validator.Validate(ctx, c.ID, c.Data)
	if err != nil {
		return c, domain.Validation{}, err
	}

	next := c.Clone()
	if v.IsComplete {
		next.Status = domain.StatusComplete
		next.MissingInfo = nil
	} else {
		next.Status = domain.StatusInProgress
		next.MissingInfo = append([]string(nil), v.MissingInfo...)
	}
	if err := checkTransition(c, next, TriggerFinalize); err != nil {
		return c, domain.Validation{}, err
	}
	m.logger.Debug("category finalized",
		zap.String("category", string(c.ID)),
		zap.String("status", string(next.Status)),
		zap.Strings("missing", next.MissingInfo))
	return next, v, nil
}

func checkTransition(from, to domain.Category, trigger Trigger) error {
	if !isValidTransition(from.ID, from.Status, to.Status, trigger) {
		return fmt.Errorf("%s %s: %w: invalid transition %s -> %s", trigger, from.ID, domain.ErrPrecondition, from.Status, to.Status)
	}
	if err := to.CheckInvariants(); err != nil {
		return fmt.Errorf("%s %s: %w: %w", trigger, from.ID, domain.ErrPrecondition, err)
	}
	return nil
}

// isValidTransition enforces the allowed category state machine edges.
func isValidTransition(id domain.CategoryID, from, to domain.Status, trigger Trigger) bool {
	switch trigger {
	case TriggerAppend:
		return to == domain.StatusInProgress
	case TriggerRemove:
		switch from {
		case domain.StatusInProgress:
			return to == domain.StatusInProgress || to == domain.StatusNotStarted
		case domain.StatusComplete:
			return to == domain.StatusComplete
		default:
			return false
		}
	case TriggerFinalize:
		switch from {
		case domain.StatusInProgress:
			return to == domain.StatusComplete || to == domain.StatusInProgress
		case domain.StatusNotStarted:
			return !id.Required() && to == domain.StatusComplete
		default:
			return false
		}
	default:
		return false
	}
}

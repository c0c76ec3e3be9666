package session

import (
	"fmt"
	"slices"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

// Patch is a partial category update. Nil fields keep the current value.
type Patch struct {
	Title       *string
	Status      *domain.Status
	Notes       *[]domain.Note
	Data        domain.CategoryData
	MissingInfo *[]string
}

func (p Patch) apply(cur domain.Category) (domain.Category, error) {
	next := cur.Clone()
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.Notes != nil {
		next.Notes = slices.Clone(*p.Notes)
	}
	if p.Data != nil {
		next.Data = p.Data.Clone()
	}
	if p.MissingInfo != nil {
		next.MissingInfo = slices.Clone(*p.MissingInfo)
	}
	if cur.Status == domain.StatusNotStarted && next.Status == domain.StatusComplete && cur.ID.Required() {
		return cur, fmt.Errorf("%w: %s cannot complete without notes", domain.ErrPrecondition, cur.ID)
	}
	if err := next.CheckInvariants(); err != nil {
		return cur, fmt.Errorf("%w: %w", domain.ErrPrecondition, err)
	}
	return next, nil
}

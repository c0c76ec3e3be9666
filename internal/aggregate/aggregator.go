// Package aggregate builds the final FieldReport from a completed job.
package aggregate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

// ReportGenerator writes a report from every section of a job.
type ReportGenerator interface {
	Aggregate(ctx context.Context, in domain.AggregateInput) (domain.FieldReport, error)
}

type Aggregator struct {
	gen    ReportGenerator
	logger *zap.Logger
}

func New(gen ReportGenerator, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{gen: gen, logger: logger.With(zap.String("component", "aggregate"))}
}

// Finish produces the report for job. Every required category must be
// complete. The job is only read.
func (a *Aggregator) Finish(ctx context.Context, job domain.JobState) (domain.FieldReport, error) {
	if pending := job.IncompleteRequired(); len(pending) > 0 {
		return domain.FieldReport{}, fmt.Errorf("finish: %w: incomplete categories: %s", domain.ErrPrecondition, joinIDs(pending))
	}

	in := BuildInput(job)
	a.logger.Info("generating report",
		zap.Int("sections", len(in.Sections)),
		zap.Int("supplemental_notes", len(in.Supplemental)))

	report, err := a.gen.Aggregate(ctx, in)
	if err != nil {
		return domain.FieldReport{}, fmt.Errorf("finish: %w", err)
	}
	return report, nil
}

// BuildInput collects every category's data in display order and the
// optional category's notes as supplemental text.
func BuildInput(job domain.JobState) domain.AggregateInput {
	in := domain.AggregateInput{}
	for _, id := range domain.AllCategories() {
		c, ok := job.Category(id)
		if !ok {
			continue
		}
		data := c.Data
		if data == nil {
			data = domain.EmptyData(id)
		}
		in.Sections = append(in.Sections, domain.SectionData{ID: id, Title: c.Title, Data: data.Clone()})
	}
	if opt, ok := job.Category(domain.OptionalCategory); ok {
		for _, n := range opt.Notes {
			if text := strings.TrimSpace(n.Text); text != "" {
				in.Supplemental = append(in.Supplemental, text)
			}
		}
	}
	return in
}

func joinIDs(ids []domain.CategoryID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

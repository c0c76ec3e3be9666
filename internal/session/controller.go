// Package session owns the job state of one working session and routes
// every user intent to the note store, state machine and aggregator.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/fieldnote/internal/aggregate"
	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/notestore"
	"github.com/stellarlinkco/fieldnote/internal/workflow"
)

// ErrSessionReset is returned by calls whose session was reset while they
// were in flight. Their results are discarded.
var ErrSessionReset = fmt.Errorf("%w: session was reset", domain.ErrPrecondition)

// ErrFinishing is returned by edits made while a report is being generated.
var ErrFinishing = fmt.Errorf("%w: report is being generated", domain.ErrPrecondition)

// Gateway is the inference boundary the controller needs.
type Gateway interface {
	workflow.Extractor
	workflow.Validator
	aggregate.ReportGenerator
}

// View is the screen a client should show for the session.
type View string

const (
	ViewCategories View = "categories"
	ViewReport     View = "report"
)

const finalizeConcurrency = 4

type Controller struct {
	mu         sync.Mutex
	job        domain.JobState
	selected   domain.CategoryID
	report     *domain.FieldReport
	view       View
	processing map[domain.CategoryID]bool
	finishing  bool
	generation uint64

	machine    *workflow.Machine
	aggregator *aggregate.Aggregator
	logger     *zap.Logger
}

type options struct {
	logger *zap.Logger
	notes  *notestore.Store
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithNoteStore(s *notestore.Store) Option {
	return func(o *options) { o.notes = s }
}

// New returns a controller with a fresh eight-category job.
func New(gw Gateway, opts ...Option) *Controller {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.With(zap.String("component", "session"))
	return &Controller{
		job:        domain.NewJobState(),
		view:       ViewCategories,
		processing: make(map[domain.CategoryID]bool),
		machine:    workflow.New(gw, gw, o.notes, o.logger),
		aggregator: aggregate.New(gw, o.logger),
		logger:     logger,
	}
}

func (c *Controller) SelectCategory(id domain.CategoryID) error {
	if !id.Valid() {
		return fmt.Errorf("select: %w: %q", domain.ErrUnknownCategory, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = id
	c.view = ViewCategories
	return nil
}

// Selected returns the selected category, if any.
func (c *Controller) Selected() (domain.CategoryID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != ""
}

// Job returns a deep copy of the job state.
func (c *Controller) Job() domain.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job.Clone()
}

func (c *Controller) Category(id domain.CategoryID) (domain.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, ok := c.job.Category(id)
	if !ok {
		return domain.Category{}, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, id)
	}
	return cat.Clone(), nil
}

func (c *Controller) IsJobComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job.IsJobComplete()
}

// Processing reports whether a call for id is in flight.
func (c *Controller) Processing(id domain.CategoryID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing[id]
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// ShowCategories switches back from the report view.
func (c *Controller) ShowCategories() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = ViewCategories
}

// Report returns the last generated report.
func (c *Controller) Report() (domain.FieldReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return domain.FieldReport{}, false
	}
	return c.report.Clone(), true
}

// UpdateCategory shallow-merges p into the category and stores the result
// as a new value. Patches that would break the category invariants fail.
func (c *Controller) UpdateCategory(id domain.CategoryID, p Patch) (domain.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.job.Category(id)
	if !ok {
		return domain.Category{}, fmt.Errorf("update: %w: %q", domain.ErrUnknownCategory, id)
	}
	if c.processing[id] {
		return cur.Clone(), fmt.Errorf("update %s: %w", id, domain.ErrCategoryBusy)
	}
	if c.finishing {
		return cur.Clone(), fmt.Errorf("update %s: %w", id, ErrFinishing)
	}
	next, err := p.apply(cur)
	if err != nil {
		return cur.Clone(), fmt.Errorf("update %s: %w", id, err)
	}
	c.job.Categories[id] = next
	return next.Clone(), nil
}

// AddNote extracts src into category id. The returned category is the
// stored one; on NoContent it is unchanged.
func (c *Controller) AddNote(ctx context.Context, id domain.CategoryID, src domain.NoteSource) (workflow.AddResult, error) {
	cur, gen, err := c.begin(id)
	if err != nil {
		return workflow.AddResult{}, fmt.Errorf("add note: %w", err)
	}

	res, err := c.machine.AddNote(ctx, cur, src)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.end(id, gen) {
		return workflow.AddResult{}, fmt.Errorf("add note %s: %w", id, ErrSessionReset)
	}
	if err != nil {
		return workflow.AddResult{Category: c.job.Categories[id].Clone()}, err
	}
	if !res.NoContent {
		c.job.Categories[id] = res.Category
		c.logger.Info("note added",
			zap.String("category", string(id)),
			zap.String("note_id", res.Note.ID),
			zap.Int("notes", len(res.Category.Notes)))
	}
	res.Category = c.job.Categories[id].Clone()
	return res, nil
}

func (c *Controller) RemoveNote(id domain.CategoryID, noteID string) (domain.Category, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.job.Category(id)
	if !ok {
		return domain.Category{}, fmt.Errorf("remove note: %w: %q", domain.ErrUnknownCategory, id)
	}
	if c.processing[id] {
		return cur.Clone(), fmt.Errorf("remove note %s: %w", id, domain.ErrCategoryBusy)
	}
	if c.finishing {
		return cur.Clone(), fmt.Errorf("remove note %s: %w", id, ErrFinishing)
	}
	next, err := c.machine.RemoveNote(cur, noteID)
	if err != nil {
		return cur.Clone(), err
	}
	c.job.Categories[id] = next
	return next.Clone(), nil
}

func (c *Controller) Finalize(ctx context.Context, id domain.CategoryID) (domain.Category, domain.Validation, error) {
	cur, gen, err := c.begin(id)
	if err != nil {
		return domain.Category{}, domain.Validation{}, fmt.Errorf("finalize: %w", err)
	}

	next, verdict, err := c.machine.Finalize(ctx, cur)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.end(id, gen) {
		return domain.Category{}, domain.Validation{}, fmt.Errorf("finalize %s: %w", id, ErrSessionReset)
	}
	if err != nil {
		return c.job.Categories[id].Clone(), domain.Validation{}, err
	}
	c.job.Categories[id] = next
	c.logger.Info("category finalized",
		zap.String("category", string(id)),
		zap.String("status", string(next.Status)),
		zap.Int("missing", len(next.MissingInfo)))
	return next.Clone(), verdict, nil
}

// FinalizeResult is the outcome of one category in FinalizeAll.
type FinalizeResult struct {
	ID         domain.CategoryID
	Category   domain.Category
	Validation domain.Validation
	Err        error
}

// FinalizeAll validates every in-progress category concurrently. Results
// are applied one by one; a failed category keeps its previous state. The
// returned error joins every per-category failure.
func (c *Controller) FinalizeAll(ctx context.Context) ([]FinalizeResult, error) {
	c.mu.Lock()
	if c.finishing {
		c.mu.Unlock()
		return nil, fmt.Errorf("finalize all: %w", ErrFinishing)
	}
	gen := c.generation
	var targets []domain.Category
	for _, id := range domain.AllCategories() {
		cat := c.job.Categories[id]
		if cat.Status != domain.StatusInProgress || c.processing[id] {
			continue
		}
		c.processing[id] = true
		targets = append(targets, cat.Clone())
	}
	c.mu.Unlock()

	results := make([]FinalizeResult, len(targets))
	var g errgroup.Group
	g.SetLimit(finalizeConcurrency)
	for i, cat := range targets {
		g.Go(func() error {
			next, verdict, err := c.machine.Finalize(ctx, cat)
			results[i] = FinalizeResult{ID: cat.ID, Category: next, Validation: verdict, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for i := range results {
		r := &results[i]
		if !c.end(r.ID, gen) {
			r.Err = ErrSessionReset
			errs = append(errs, fmt.Errorf("finalize %s: %w", r.ID, ErrSessionReset))
			continue
		}
		if r.Err != nil {
			r.Category = c.job.Categories[r.ID].Clone()
			errs = append(errs, r.Err)
			continue
		}
		c.job.Categories[r.ID] = r.Category
		r.Category = r.Category.Clone()
	}
	return results, errors.Join(errs...)
}

// FinishJob aggregates the job into a report and switches to the report
// view. It fails with ErrPrecondition while a required category is not
// complete or any category is processing, and edits are refused until it
// returns. A new report replaces the previous one.
func (c *Controller) FinishJob(ctx context.Context) (domain.FieldReport, error) {
	c.mu.Lock()
	if pending := c.job.IncompleteRequired(); len(pending) > 0 {
		c.mu.Unlock()
		return domain.FieldReport{}, fmt.Errorf("finish: %w: %d required categories are not complete", domain.ErrPrecondition, len(pending))
	}
	if c.finishing {
		c.mu.Unlock()
		return domain.FieldReport{}, fmt.Errorf("finish: %w", ErrFinishing)
	}
	for _, id := range domain.AllCategories() {
		if c.processing[id] {
			c.mu.Unlock()
			return domain.FieldReport{}, fmt.Errorf("finish: %s: %w", id, domain.ErrCategoryBusy)
		}
	}
	c.finishing = true
	gen := c.generation
	job := c.job.Clone()
	c.mu.Unlock()

	report, err := c.aggregator.Finish(ctx, job)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return domain.FieldReport{}, fmt.Errorf("finish: %w", ErrSessionReset)
	}
	c.finishing = false
	if err != nil {
		return domain.FieldReport{}, err
	}
	c.report = &report
	c.view = ViewReport
	c.logger.Info("report generated", zap.Int("finds", len(report.Finds)))
	return report.Clone(), nil
}

// Finishing reports whether a report is being generated.
func (c *Controller) Finishing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishing
}

// Reset discards the job and report and starts over with eight fresh
// categories. In-flight calls finish but their results are dropped.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = domain.NewJobState()
	c.report = nil
	c.selected = ""
	c.view = ViewCategories
	c.processing = make(map[domain.CategoryID]bool)
	c.finishing = false
	c.generation++
	c.logger.Info("session reset")
}

// begin marks id as processing and returns a copy of its category.
func (c *Controller) begin(id domain.CategoryID) (domain.Category, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.job.Category(id)
	if !ok {
		return domain.Category{}, 0, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, id)
	}
	if c.processing[id] {
		return domain.Category{}, 0, fmt.Errorf("%s: %w", id, domain.ErrCategoryBusy)
	}
	if c.finishing {
		return domain.Category{}, 0, fmt.Errorf("%s: %w", id, ErrFinishing)
	}
	c.processing[id] = true
	return cur.Clone(), c.generation, nil
}

// end clears the processing flag and reports whether the session is still
// the one the call started in. c.mu must be held.
func (c *Controller) end(id domain.CategoryID, gen uint64) bool {
	if gen != c.generation {
		return false
	}
	delete(c.processing, id)
	return true
}

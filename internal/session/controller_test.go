package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

type stubGateway struct {
	mu        sync.Mutex
	extracts  int
	validates int
	aggCalls  int

	gate     chan struct{}
	aggGate  chan struct{}
	validate func(id domain.CategoryID) (domain.Validation, error)
	report   domain.FieldReport
	aggErr   error
}

func (s *stubGateway) Extract(ctx context.Context, src domain.NoteSource, id domain.CategoryID, prior domain.CategoryData) (domain.Extraction, error) {
	s.mu.Lock()
	s.extracts++
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Extraction{}, ctx.Err()
		}
	}
	if src.Text == "mumble" {
		return domain.Extraction{Transcript: domain.NoContentTranscript, Data: prior, NoContent: true}, nil
	}
	return domain.Extraction{Transcript: src.Text, Data: sampleData(id)}, nil
}

func (s *stubGateway) Validate(_ context.Context, id domain.CategoryID, _ domain.CategoryData) (domain.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validates++
	if s.validate == nil {
		return domain.Validation{IsComplete: true}, nil
	}
	return s.validate(id)
}

func (s *stubGateway) Aggregate(ctx context.Context, _ domain.AggregateInput) (domain.FieldReport, error) {
	s.mu.Lock()
	s.aggCalls++
	gate := s.aggGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.FieldReport{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.aggErr
}

func sampleData(id domain.CategoryID) domain.CategoryData {
	switch id {
	case domain.CategoryProject:
		return domain.ProjectData{ProjectName: "Hill Fort", SiteCode: "HF26"}
	case domain.CategoryConditions:
		return domain.ConditionsData{Weather: "overcast"}
	case domain.CategoryPersonnel:
		return domain.PersonnelData{CrewMembers: []string{"Ana"}}
	case domain.CategoryExcavation:
		return domain.ExcavationData{Units: []string{"Trench 1"}}
	case domain.CategoryStratigraphy:
		return domain.StratigraphyData{Layers: []domain.Layer{{Context: "101"}}}
	case domain.CategoryFeatures:
		return domain.FeaturesData{NoneObserved: true}
	case domain.CategoryFinds:
		return domain.FindsData{ItemType: "lithic", Quantity: "1"}
	default:
		return domain.AdditionalData{Observations: []string{"sheep"}}
	}
}

func testReport() domain.FieldReport {
	return domain.FieldReport{
		GeneratedAt: time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC),
		Project:     domain.ProjectMetadata{ProjectName: "Hill Fort"},
		Finds:       []domain.FindRecord{{ItemType: "lithic"}},
	}
}

func completeRequired(t *testing.T, c *Controller) {
	t.Helper()
	ctx := context.Background()
	for _, id := range domain.RequiredCategories() {
		_, err := c.AddNote(ctx, id, domain.TextSource("note for "+string(id)))
		require.NoError(t, err)
		cat, v, err := c.Finalize(ctx, id)
		require.NoError(t, err)
		require.True(t, v.IsComplete)
		require.Equal(t, domain.StatusComplete, cat.Status)
	}
}

func TestSelectCategory(t *testing.T) {
	c := New(&stubGateway{})
	_, ok := c.Selected()
	assert.False(t, ok)

	assert.ErrorIs(t, c.SelectCategory("pottery"), domain.ErrUnknownCategory)
	require.NoError(t, c.SelectCategory(domain.CategoryFinds))
	id, ok := c.Selected()
	assert.True(t, ok)
	assert.Equal(t, domain.CategoryFinds, id)
}

func TestAddNoteThenIncompleteFinalize(t *testing.T) {
	gw := &stubGateway{validate: func(domain.CategoryID) (domain.Validation, error) {
		return domain.Validation{MissingInfo: []string{"material"}}, nil
	}}
	c := New(gw)
	ctx := context.Background()

	res, err := c.AddNote(ctx, domain.CategoryFinds, domain.TextSource("Found one obsidian flake"))
	require.NoError(t, err)
	assert.False(t, res.NoContent)
	assert.Equal(t, domain.StatusInProgress, res.Category.Status)
	require.Len(t, res.Category.Notes, 1)
	assert.Equal(t, "Found one obsidian flake", res.Category.Notes[0].Text)

	cat, v, err := c.Finalize(ctx, domain.CategoryFinds)
	require.NoError(t, err)
	assert.False(t, v.IsComplete)
	assert.Equal(t, domain.StatusInProgress, cat.Status)
	assert.Equal(t, []string{"material"}, cat.MissingInfo)
	assert.False(t, c.IsJobComplete())
	assert.False(t, c.Processing(domain.CategoryFinds))
}

func TestAddNote_NoContentLeavesCategory(t *testing.T) {
	c := New(&stubGateway{})
	before, err := c.Category(domain.CategoryConditions)
	require.NoError(t, err)

	res, err := c.AddNote(context.Background(), domain.CategoryConditions, domain.TextSource("mumble"))
	require.NoError(t, err)
	assert.True(t, res.NoContent)
	assert.Equal(t, before, res.Category)
	after, _ := c.Category(domain.CategoryConditions)
	assert.Equal(t, before, after)
}

func TestAddNote_UnknownCategory(t *testing.T) {
	gw := &stubGateway{}
	c := New(gw)
	_, err := c.AddNote(context.Background(), "pottery", domain.TextSource("x"))
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)
	assert.Zero(t, gw.extracts)
}

func TestFinishJob(t *testing.T) {
	gw := &stubGateway{report: testReport()}
	c := New(gw)

	_, err := c.FinishJob(context.Background())
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Zero(t, gw.aggCalls)
	_, ok := c.Report()
	assert.False(t, ok)

	completeRequired(t, c)
	require.True(t, c.IsJobComplete())
	add, _ := c.Category(domain.CategoryAdditional)
	assert.Equal(t, domain.StatusNotStarted, add.Status)

	got, err := c.FinishJob(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(testReport(), got); diff != "" {
		t.Fatalf("report (-want +got):\n%s", diff)
	}
	assert.Equal(t, ViewReport, c.View())
	stored, ok := c.Report()
	require.True(t, ok)
	assert.Equal(t, got, stored)
	assert.Equal(t, 1, gw.aggCalls)

	c.ShowCategories()
	assert.Equal(t, ViewCategories, c.View())
}

func TestFinishJob_ErrorKeepsCategoriesView(t *testing.T) {
	gw := &stubGateway{aggErr: fmt.Errorf("%w: 429", domain.ErrRateLimited)}
	c := New(gw)
	completeRequired(t, c)

	_, err := c.FinishJob(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, ViewCategories, c.View())
	assert.False(t, c.Finishing())
	_, ok := c.Report()
	assert.False(t, ok)
}

func TestFinishJob_RefusedWhileNoteInFlight(t *testing.T) {
	gw := &stubGateway{report: testReport()}
	c := New(gw)
	completeRequired(t, c)

	gw.mu.Lock()
	gw.gate = make(chan struct{})
	gw.mu.Unlock()
	done := make(chan error, 1)
	go func() {
		_, err := c.AddNote(context.Background(), domain.CategoryFinds, domain.TextSource("second flake"))
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Processing(domain.CategoryFinds) }, time.Second, time.Millisecond)

	_, err := c.FinishJob(context.Background())
	assert.ErrorIs(t, err, domain.ErrCategoryBusy)
	assert.Zero(t, gw.aggCalls)
	assert.Equal(t, ViewCategories, c.View())
	assert.False(t, c.Finishing())

	close(gw.gate)
	require.NoError(t, <-done)
	_, ok := c.Report()
	assert.False(t, ok)
}

func TestFinishJob_EditsWaitForReport(t *testing.T) {
	gw := &stubGateway{report: testReport()}
	c := New(gw)
	completeRequired(t, c)
	ctx := context.Background()

	gw.mu.Lock()
	gw.aggGate = make(chan struct{})
	gw.mu.Unlock()
	done := make(chan error, 1)
	go func() {
		_, err := c.FinishJob(ctx)
		done <- err
	}()
	require.Eventually(t, c.Finishing, time.Second, time.Millisecond)

	_, err := c.AddNote(ctx, domain.CategoryFinds, domain.TextSource("late flake"))
	assert.ErrorIs(t, err, ErrFinishing)
	_, _, err = c.Finalize(ctx, domain.CategoryFinds)
	assert.ErrorIs(t, err, ErrFinishing)
	_, err = c.FinalizeAll(ctx)
	assert.ErrorIs(t, err, ErrFinishing)
	_, err = c.RemoveNote(domain.CategoryFinds, "n1")
	assert.ErrorIs(t, err, ErrFinishing)
	title := "Finds"
	_, err = c.UpdateCategory(domain.CategoryFinds, Patch{Title: &title})
	assert.ErrorIs(t, err, ErrFinishing)
	assert.False(t, c.Processing(domain.CategoryFinds))

	close(gw.aggGate)
	require.NoError(t, <-done)
	assert.Equal(t, ViewReport, c.View())
	assert.True(t, c.IsJobComplete())
	cat, _ := c.Category(domain.CategoryFinds)
	assert.Len(t, cat.Notes, 1)
}

func TestProcessingGuard(t *testing.T) {
	gw := &stubGateway{gate: make(chan struct{})}
	c := New(gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.AddNote(ctx, domain.CategoryFinds, domain.TextSource("flake"))
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Processing(domain.CategoryFinds) }, time.Second, time.Millisecond)

	_, err := c.AddNote(ctx, domain.CategoryFinds, domain.TextSource("another"))
	assert.ErrorIs(t, err, domain.ErrCategoryBusy)
	_, _, err = c.Finalize(ctx, domain.CategoryFinds)
	assert.ErrorIs(t, err, domain.ErrCategoryBusy)
	_, err = c.RemoveNote(domain.CategoryFinds, "n1")
	assert.ErrorIs(t, err, domain.ErrCategoryBusy)
	title := "Finds"
	_, err = c.UpdateCategory(domain.CategoryFinds, Patch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrCategoryBusy)
	assert.False(t, c.Processing(domain.CategoryConditions))

	close(gw.gate)
	require.NoError(t, <-done)
	assert.False(t, c.Processing(domain.CategoryFinds))
	cat, _ := c.Category(domain.CategoryFinds)
	assert.Len(t, cat.Notes, 1)
}

func TestReset_DiscardsInFlightResult(t *testing.T) {
	gw := &stubGateway{gate: make(chan struct{}), report: testReport()}
	c := New(gw)
	require.NoError(t, c.SelectCategory(domain.CategoryFinds))

	done := make(chan error, 1)
	go func() {
		_, err := c.AddNote(context.Background(), domain.CategoryFinds, domain.TextSource("flake"))
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Processing(domain.CategoryFinds) }, time.Second, time.Millisecond)

	c.Reset()
	assert.False(t, c.Processing(domain.CategoryFinds))
	close(gw.gate)

	assert.ErrorIs(t, <-done, ErrSessionReset)
	cat, _ := c.Category(domain.CategoryFinds)
	assert.Equal(t, domain.NewCategory(domain.CategoryFinds), cat)
	_, ok := c.Selected()
	assert.False(t, ok)
	assert.Equal(t, domain.NewJobState(), c.Job())
}

func TestReset_DiscardsReport(t *testing.T) {
	c := New(&stubGateway{report: testReport()})
	completeRequired(t, c)
	_, err := c.FinishJob(context.Background())
	require.NoError(t, err)

	c.Reset()
	_, ok := c.Report()
	assert.False(t, ok)
	assert.Equal(t, ViewCategories, c.View())
	assert.False(t, c.IsJobComplete())
}

func TestFinalizeAll(t *testing.T) {
	gw := &stubGateway{validate: func(id domain.CategoryID) (domain.Validation, error) {
		switch id {
		case domain.CategoryStratigraphy:
			return domain.Validation{}, fmt.Errorf("%w: connection reset", domain.ErrNetwork)
		case domain.CategoryFinds:
			return domain.Validation{MissingInfo: []string{"material"}}, nil
		}
		return domain.Validation{IsComplete: true}, nil
	}}
	c := New(gw)
	ctx := context.Background()
	for _, id := range []domain.CategoryID{domain.CategoryProject, domain.CategoryStratigraphy, domain.CategoryFinds} {
		_, err := c.AddNote(ctx, id, domain.TextSource("note"))
		require.NoError(t, err)
	}

	results, err := c.FinalizeAll(ctx)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	require.Len(t, results, 3)
	assert.Equal(t, 3, gw.validates)

	byID := map[domain.CategoryID]FinalizeResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.NoError(t, byID[domain.CategoryProject].Err)
	assert.Equal(t, domain.StatusComplete, byID[domain.CategoryProject].Category.Status)
	assert.ErrorIs(t, byID[domain.CategoryStratigraphy].Err, domain.ErrNetwork)
	assert.Equal(t, []string{"material"}, byID[domain.CategoryFinds].Validation.MissingInfo)

	job := c.Job()
	assert.Equal(t, domain.StatusComplete, job.Categories[domain.CategoryProject].Status)
	assert.Equal(t, domain.StatusInProgress, job.Categories[domain.CategoryStratigraphy].Status)
	assert.Equal(t, domain.StatusInProgress, job.Categories[domain.CategoryFinds].Status)
	assert.Equal(t, []string{"material"}, job.Categories[domain.CategoryFinds].MissingInfo)
	assert.Equal(t, domain.StatusNotStarted, job.Categories[domain.CategoryConditions].Status)
	for _, id := range domain.AllCategories() {
		assert.False(t, c.Processing(id))
	}
}

func TestFinalizeAll_NothingInProgress(t *testing.T) {
	gw := &stubGateway{}
	results, err := New(gw).FinalizeAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, gw.validates)
}

func TestUpdateCategory(t *testing.T) {
	c := New(&stubGateway{})
	title := "Small finds"
	cat, err := c.UpdateCategory(domain.CategoryFinds, Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Small finds", cat.Title)
	assert.Equal(t, domain.StatusNotStarted, cat.Status)

	notes := []domain.Note{{ID: "x", Text: "flake"}}
	_, err = c.UpdateCategory(domain.CategoryFinds, Patch{Notes: &notes})
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	complete := domain.StatusComplete
	missing := []string{"material"}
	_, err = c.UpdateCategory(domain.CategoryFinds, Patch{Status: &complete, MissingInfo: &missing})
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = c.UpdateCategory(domain.CategoryFinds, Patch{Data: domain.ProjectData{ProjectName: "x"}})
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = c.UpdateCategory(domain.CategoryFinds, Patch{Status: &complete})
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.False(t, c.IsJobComplete())

	after, _ := c.Category(domain.CategoryFinds)
	assert.Equal(t, cat, after)

	_, err = c.UpdateCategory("pottery", Patch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)
}

func TestUpdateCategory_OptionalMayCompleteEmpty(t *testing.T) {
	c := New(&stubGateway{})
	complete := domain.StatusComplete
	cat, err := c.UpdateCategory(domain.CategoryAdditional, Patch{Status: &complete})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, cat.Status)
}

func TestUpdateCategory_RecomputesJobComplete(t *testing.T) {
	c := New(&stubGateway{})
	completeRequired(t, c)
	require.True(t, c.IsJobComplete())

	inProgress := domain.StatusInProgress
	_, err := c.UpdateCategory(domain.CategoryFeatures, Patch{Status: &inProgress})
	require.NoError(t, err)
	assert.False(t, c.IsJobComplete())
}

func TestJobIsSnapshot(t *testing.T) {
	c := New(&stubGateway{})
	_, err := c.AddNote(context.Background(), domain.CategoryPersonnel, domain.TextSource("Ana and Ben on site"))
	require.NoError(t, err)

	job := c.Job()
	cat := job.Categories[domain.CategoryPersonnel]
	cat.Notes[0].Text = "changed"
	cat.Data.(domain.PersonnelData).CrewMembers[0] = "changed"
	job.Categories[domain.CategoryPersonnel] = cat

	fresh, _ := c.Category(domain.CategoryPersonnel)
	assert.Equal(t, "Ana and Ben on site", fresh.Notes[0].Text)
	assert.Equal(t, []string{"Ana"}, fresh.Data.(domain.PersonnelData).CrewMembers)
}

func TestRemoveNote(t *testing.T) {
	c := New(&stubGateway{})
	res, err := c.AddNote(context.Background(), domain.CategoryExcavation, domain.TextSource("Trench 1 opened"))
	require.NoError(t, err)

	_, err = c.RemoveNote(domain.CategoryExcavation, "missing")
	assert.ErrorIs(t, err, domain.ErrNoteNotFound)

	cat, err := c.RemoveNote(domain.CategoryExcavation, res.Note.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewCategory(domain.CategoryExcavation), cat)
}

func TestSnapshotRestore(t *testing.T) {
	gw := &stubGateway{report: testReport()}
	c := New(gw)
	completeRequired(t, c)
	require.NoError(t, c.SelectCategory(domain.CategoryAdditional))
	_, err := c.FinishJob(context.Background())
	require.NoError(t, err)

	raw, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored := New(gw)
	require.NoError(t, restored.Restore(snap))
	if diff := cmp.Diff(c.Job(), restored.Job()); diff != "" {
		t.Fatalf("job (-want +got):\n%s", diff)
	}
	id, ok := restored.Selected()
	assert.True(t, ok)
	assert.Equal(t, domain.CategoryAdditional, id)
	assert.Equal(t, ViewReport, restored.View())
	rep, ok := restored.Report()
	require.True(t, ok)
	assert.True(t, rep.GeneratedAt.Equal(testReport().GeneratedAt))
}

func TestRestore_RejectsBrokenJob(t *testing.T) {
	c := New(&stubGateway{})
	job := domain.NewJobState()
	delete(job.Categories, domain.CategoryFinds)
	assert.ErrorIs(t, c.Restore(Snapshot{Job: job}), domain.ErrPrecondition)

	job = domain.NewJobState()
	bad := job.Categories[domain.CategoryFinds]
	bad.Notes = []domain.Note{{ID: "x"}}
	job.Categories[domain.CategoryFinds] = bad
	assert.ErrorIs(t, c.Restore(Snapshot{Job: job}), domain.ErrPrecondition)

	assert.ErrorIs(t, c.Restore(Snapshot{Job: domain.NewJobState(), Selected: "pottery"}), domain.ErrUnknownCategory)
	assert.Equal(t, domain.NewJobState(), c.Job())
}

func TestRestore_ReportViewNeedsReport(t *testing.T) {
	c := New(&stubGateway{})
	require.NoError(t, c.Restore(Snapshot{Job: domain.NewJobState(), View: ViewReport}))
	assert.Equal(t, ViewCategories, c.View())
}

// Random sequences of operations never leave the job in a state that breaks
// the category invariants, and completeness is always derived.
func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	gw := &stubGateway{report: testReport(), validate: func(domain.CategoryID) (domain.Validation, error) {
		if rng.Intn(3) == 0 {
			return domain.Validation{MissingInfo: []string{"context"}}, nil
		}
		return domain.Validation{IsComplete: true}, nil
	}}
	c := New(gw)
	ctx := context.Background()
	ids := domain.AllCategories()

	for step := 0; step < 500; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(6) {
		case 0, 1:
			_, _ = c.AddNote(ctx, id, domain.TextSource(fmt.Sprintf("note %d", step)))
		case 2:
			if cat, _ := c.Category(id); len(cat.Notes) > 0 {
				_, _ = c.RemoveNote(id, cat.Notes[rng.Intn(len(cat.Notes))].ID)
			}
		case 3:
			_, _, _ = c.Finalize(ctx, id)
		case 4:
			_, _ = c.FinalizeAll(ctx)
		case 5:
			if rng.Intn(10) == 0 {
				c.Reset()
			} else {
				_, _ = c.FinishJob(ctx)
			}
		}

		job := c.Job()
		require.NoError(t, job.Validate(), "step %d", step)
		complete := true
		for _, rid := range domain.RequiredCategories() {
			complete = complete && job.Categories[rid].Status == domain.StatusComplete
		}
		require.Equal(t, complete, c.IsJobComplete(), "step %d", step)
	}
}

package gateway

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/bus"
	"github.com/stellarlinkco/fieldnote/internal/cron"
	"github.com/stellarlinkco/fieldnote/internal/domain"
)

func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	switch job.Payload.Kind {
	case cron.PayloadReminder:
		n, err := g.sendReminders(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("reminded %d sessions", n), nil
	case cron.PayloadMessage, "":
		if job.Payload.Channel == "" || job.Payload.ChatID == "" {
			return "", fmt.Errorf("job %s has no target chat", job.Name)
		}
		err := g.bus.PublishOutbound(ctx, bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.ChatID,
			Content: job.Payload.Message,
		})
		return "sent", err
	default:
		return "", fmt.Errorf("unknown payload kind %q", job.Payload.Kind)
	}
}

// sendReminders tells every chat with a started but unfinished report which
// required categories are still open. Sessions on channels that are not
// running are skipped.
func (g *Gateway) sendReminders(ctx context.Context) (int, error) {
	records, err := g.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	enabled := g.channels.EnabledChannels()

	sent := 0
	for _, rec := range records {
		if !slices.Contains(enabled, rec.Channel) {
			continue
		}
		job := rec.Snapshot.Job
		if cs, ok := g.liveSession(rec.Key); ok {
			job = cs.ctrl.Job()
		}
		text, ok := reminderText(job)
		if !ok {
			continue
		}
		if err := g.bus.PublishOutbound(ctx, bus.OutboundMessage{
			Channel: rec.Channel,
			ChatID:  rec.ChatID,
			Content: text,
		}); err != nil {
			return sent, err
		}
		sent++
	}
	g.logger.Info("reminders sent", zap.Int("sessions", sent))
	return sent, nil
}

// reminderText reports false for jobs that were never started or whose
// required categories are all complete.
func reminderText(job domain.JobState) (string, bool) {
	started := false
	for _, cat := range job.Categories {
		if cat.Status != domain.StatusNotStarted {
			started = true
			break
		}
	}
	pending := job.IncompleteRequired()
	if !started || len(pending) == 0 {
		return "", false
	}

	var b strings.Builder
	done, required := job.Progress()
	fmt.Fprintf(&b, "Reminder: your field report is %d/%d complete. Still open:", done, required)
	for _, id := range pending {
		cat := job.Categories[id]
		fmt.Fprintf(&b, "\n- %s", cat.Title)
		if len(cat.MissingInfo) > 0 {
			fmt.Fprintf(&b, " (missing: %s)", strings.Join(cat.MissingInfo, "; "))
		}
	}
	return b.String(), true
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/bus"
	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/export"
)

const helpText = `Commands:
/use <category> - choose the category your next notes belong to
/notes [category] - list the notes of a category
/done [category] - check a category and mark it complete
/doneall - check every category in progress
/status - show progress of the report
/delete <noteId> - remove a note
/finish - generate the field report
/reports - list the reports generated in this chat
/reset - discard everything and start a new report
/help - show this message

Any other text or voice note is added to the selected category.`

var errNoSelection = errors.New("no category selected")

// handleMessage runs one inbound message against its chat session and
// returns the reply.
func (g *Gateway) handleMessage(ctx context.Context, msg bus.InboundMessage) string {
	cs, err := g.session(ctx, msg.Channel, msg.ChatID)
	if err != nil {
		g.logger.Error("session unavailable", zap.String("chat", msg.ChatID), zap.Error(err))
		return domain.UserMessage(err)
	}

	text := strings.TrimSpace(msg.Content)
	var (
		reply    string
		mutating = true
	)
	if !msg.HasAudio() && strings.HasPrefix(text, "/") {
		name, arg := splitCommand(text)
		reply, mutating, err = g.runCommand(ctx, cs, name, arg)
	} else {
		reply, err = g.addNote(ctx, cs, msg)
	}
	if mutating {
		g.persist(ctx, cs)
	}
	if err != nil {
		return g.errorReply(cs, err)
	}
	return reply
}

func (g *Gateway) errorReply(cs *chatSession, err error) string {
	if errors.Is(err, errNoSelection) {
		return "Select a category first with /use <category>.\n\n" + categoryList(cs.ctrl.Job())
	}
	switch domain.KindOf(err) {
	case domain.KindPrecondition, domain.KindNotFound:
		g.logger.Info("request rejected", zap.String("session", cs.key), zap.Error(err))
	default:
		g.logger.Warn("request failed", zap.String("session", cs.key), zap.Error(err))
	}
	return domain.UserMessage(err)
}

// splitCommand turns "/use@bot finds" into ("use", "finds").
func splitCommand(text string) (string, string) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// runCommand dispatches a slash command. mutating reports whether the
// session must be saved afterwards.
func (g *Gateway) runCommand(ctx context.Context, cs *chatSession, name, arg string) (reply string, mutating bool, err error) {
	switch name {
	case "use":
		reply, err = g.cmdUse(cs, arg)
		return reply, true, err
	case "notes":
		reply, err = g.cmdNotes(cs, arg)
		return reply, false, err
	case "done":
		reply, err = g.cmdDone(ctx, cs, arg)
		return reply, true, err
	case "doneall":
		reply, err = g.cmdDoneAll(ctx, cs)
		return reply, true, err
	case "status":
		return statusText(cs.ctrl.Job(), selectedID(cs)), false, nil
	case "delete":
		reply, err = g.cmdDelete(cs, arg)
		return reply, true, err
	case "finish":
		reply, err = g.cmdFinish(ctx, cs)
		return reply, true, err
	case "reports":
		reply, err = g.cmdReports(ctx, cs)
		return reply, false, err
	case "reset":
		cs.ctrl.Reset()
		return "Started a new report. All categories are empty again.", true, nil
	case "help", "start":
		return helpText, false, nil
	default:
		return fmt.Sprintf("Unknown command /%s. Send /help for the list.", name), false, nil
	}
}

func selectedID(cs *chatSession) domain.CategoryID {
	id, _ := cs.ctrl.Selected()
	return id
}

// targetCategory resolves an optional category argument, falling back to
// the selected category.
func targetCategory(cs *chatSession, arg string) (domain.CategoryID, error) {
	if arg != "" {
		return domain.ParseCategoryID(arg)
	}
	id, ok := cs.ctrl.Selected()
	if !ok {
		return "", errNoSelection
	}
	return id, nil
}

func (g *Gateway) cmdUse(cs *chatSession, arg string) (string, error) {
	if arg == "" {
		return "Usage: /use <category>\n\n" + categoryList(cs.ctrl.Job()), nil
	}
	id, err := domain.ParseCategoryID(arg)
	if err != nil {
		return "", err
	}
	if err := cs.ctrl.SelectCategory(id); err != nil {
		return "", err
	}
	cat, _ := cs.ctrl.Category(id)

	var b strings.Builder
	fmt.Fprintf(&b, "Selected %s (%s). Send text or voice notes.", cat.Title, cat.Status)
	if len(cat.MissingInfo) > 0 {
		b.WriteString("\n\nStill missing:")
		writeList(&b, cat.MissingInfo)
	} else if items := domain.Checklist(id); len(items) > 0 && cat.Status == domain.StatusNotStarted {
		b.WriteString("\n\nThis category needs:")
		for _, item := range items {
			b.WriteString("\n- " + item.Description)
		}
	}
	return b.String(), nil
}

func (g *Gateway) cmdNotes(cs *chatSession, arg string) (string, error) {
	id, err := targetCategory(cs, arg)
	if err != nil {
		return "", err
	}
	cat, err := cs.ctrl.Category(id)
	if err != nil {
		return "", err
	}
	if len(cat.Notes) == 0 {
		return fmt.Sprintf("%s has no notes yet.", cat.Title), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s notes:", cat.Title)
	for _, n := range cat.Notes {
		fmt.Fprintf(&b, "\n`%s` %s: %s", n.ID, n.Timestamp.Format("15:04"), truncate(n.Text, 200))
	}
	return b.String(), nil
}

func (g *Gateway) addNote(ctx context.Context, cs *chatSession, msg bus.InboundMessage) (string, error) {
	id, ok := cs.ctrl.Selected()
	if !ok {
		return "", errNoSelection
	}
	src := domain.TextSource(msg.Content)
	if msg.HasAudio() {
		src = domain.AudioSource(msg.Audio, msg.AudioMIME)
	}
	if src.IsBlank() {
		return "", nil
	}

	res, err := cs.ctrl.AddNote(ctx, id, src)
	if err != nil {
		return "", err
	}
	if res.NoContent {
		return "I couldn't find anything to record in that note. Please try again.", nil
	}
	return fmt.Sprintf("Added to %s (note `%s`, %d total):\n%s\n\nSend /done when this category is finished.",
		res.Category.Title, res.Note.ID, len(res.Category.Notes), truncate(res.Note.Text, 500)), nil
}

func (g *Gateway) cmdDone(ctx context.Context, cs *chatSession, arg string) (string, error) {
	id, err := targetCategory(cs, arg)
	if err != nil {
		return "", err
	}
	cat, verdict, err := cs.ctrl.Finalize(ctx, id)
	if err != nil {
		return "", err
	}
	reply := finalizeLine(cat, verdict)
	if cs.ctrl.IsJobComplete() {
		reply += "\n\nAll required categories are complete. Send /finish to generate the report."
	}
	return reply, nil
}

func (g *Gateway) cmdDoneAll(ctx context.Context, cs *chatSession) (string, error) {
	results, err := cs.ctrl.FinalizeAll(ctx)
	if len(results) == 0 {
		return "No category is in progress.", nil
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		if r.Err != nil {
			fmt.Fprintf(&b, "%s: %s", r.ID.Title(), domain.UserMessage(r.Err))
			continue
		}
		b.WriteString(finalizeLine(r.Category, r.Validation))
	}
	if err != nil {
		g.logger.Warn("finalize all had failures", zap.String("session", cs.key), zap.Error(err))
	}
	if cs.ctrl.IsJobComplete() {
		b.WriteString("\n\nAll required categories are complete. Send /finish to generate the report.")
	}
	return b.String(), nil
}

func (g *Gateway) cmdDelete(cs *chatSession, arg string) (string, error) {
	if arg == "" {
		return "Usage: /delete <noteId>. Use /notes to see note ids.", nil
	}
	job := cs.ctrl.Job()
	for _, id := range domain.AllCategories() {
		cat := job.Categories[id]
		if cat.FindNote(arg) < 0 {
			continue
		}
		next, err := cs.ctrl.RemoveNote(id, arg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed note from %s. %d notes left, status %s.", next.Title, len(next.Notes), next.Status), nil
	}
	return "", fmt.Errorf("delete %q: %w", arg, domain.ErrNoteNotFound)
}

func (g *Gateway) cmdFinish(ctx context.Context, cs *chatSession) (string, error) {
	job := cs.ctrl.Job()
	if pending := job.IncompleteRequired(); len(pending) > 0 {
		var b strings.Builder
		b.WriteString("These categories must be complete before finishing:")
		for _, id := range pending {
			b.WriteString("\n- " + id.Title())
		}
		return b.String(), nil
	}

	report, err := cs.ctrl.FinishJob(ctx)
	if err != nil {
		return "", err
	}
	if _, err := g.store.SaveReport(ctx, cs.key, report); err != nil {
		g.logger.Error("save report failed", zap.String("session", cs.key), zap.Error(err))
	}

	reply := export.Markdown(report)
	if path, err := g.exportReport(report); err != nil {
		g.logger.Warn("export failed", zap.String("session", cs.key), zap.Error(err))
	} else {
		reply += "\nSaved to " + path
	}
	return reply, nil
}

func (g *Gateway) exportReport(r domain.FieldReport) (string, error) {
	if g.cfg.Export.Dir == "" {
		return "", fmt.Errorf("no export directory configured")
	}
	format, err := export.ParseFormat(g.cfg.Export.Format)
	if err != nil {
		return "", err
	}
	return export.WriteFile(g.cfg.Export.Dir, format, r)
}

func finalizeLine(cat domain.Category, v domain.Validation) string {
	if v.IsComplete {
		return fmt.Sprintf("%s is complete.", cat.Title)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s still needs:", cat.Title)
	writeList(&b, cat.MissingInfo)
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	for _, item := range items {
		b.WriteString("\n- " + item)
	}
}

var statusMarks = map[domain.Status]string{
	domain.StatusNotStarted: "[ ]",
	domain.StatusInProgress: "[~]",
	domain.StatusComplete:   "[x]",
}

func statusText(job domain.JobState, selected domain.CategoryID) string {
	done, required := job.Progress()
	var b strings.Builder
	fmt.Fprintf(&b, "Progress: %d/%d required categories complete\n", done, required)
	for _, id := range domain.AllCategories() {
		cat := job.Categories[id]
		marker := " "
		if id == selected {
			marker = ">"
		}
		fmt.Fprintf(&b, "\n%s %s %s (%s), %d notes", marker, statusMarks[cat.Status], cat.Title, id, len(cat.Notes))
		if !id.Required() {
			b.WriteString(", optional")
		}
		if len(cat.MissingInfo) > 0 {
			fmt.Fprintf(&b, "\n    missing: %s", strings.Join(cat.MissingInfo, "; "))
		}
	}
	if job.IsJobComplete() {
		b.WriteString("\n\nReady: send /finish to generate the report.")
	}
	return b.String()
}

func categoryList(job domain.JobState) string {
	var b strings.Builder
	b.WriteString("Categories:")
	for _, id := range domain.AllCategories() {
		fmt.Fprintf(&b, "\n%s %s: %s", statusMarks[job.Categories[id].Status], id, id.Title())
	}
	return b.String()
}

const reportHistoryLimit = 5

func (g *Gateway) cmdReports(ctx context.Context, cs *chatSession) (string, error) {
	records, err := g.store.ListReports(ctx, cs.key, reportHistoryLimit)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No reports yet. Send /finish when every required category is complete.", nil
	}
	var b strings.Builder
	b.WriteString("Recent reports:")
	for _, r := range records {
		b.WriteString("\n")
		b.WriteString(r.Summary())
	}
	return b.String(), nil
}

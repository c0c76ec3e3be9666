package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8a8f98"))
	completeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
)

func statusLabel(s domain.Status) string {
	switch s {
	case domain.StatusComplete:
		return completeStyle.Render("complete")
	case domain.StatusInProgress:
		return progressStyle.Render("in progress")
	default:
		return mutedStyle.Render("not started")
	}
}

// renderStatus draws one row per category in report order.
func renderStatus(job domain.JobState, selected domain.CategoryID) string {
	rows := make([][]string, 0, len(job.Categories))
	for _, id := range domain.AllCategories() {
		cat, ok := job.Category(id)
		if !ok {
			continue
		}
		marker := ""
		if id == selected {
			marker = ">"
		}
		title := cat.Title
		if !id.Required() {
			title += " (optional)"
		}
		rows = append(rows, []string{
			marker,
			title,
			string(id),
			statusLabel(cat.Status),
			strconv.Itoa(len(cat.Notes)),
			strings.Join(cat.MissingInfo, "; "),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "Category", "ID", "Status", "Notes", "Missing").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	var b strings.Builder
	done, required := job.Progress()
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("Progress: %d/%d required categories complete", done, required)))
	b.WriteString(t.Render())
	b.WriteString("\n")
	if job.IsJobComplete() {
		b.WriteString("All required categories are complete. Run 'fieldnote finish'.\n")
	}
	return b.String()
}

// renderCategory shows the notes, open questions and structured data of one
// category.
func renderCategory(cat domain.Category) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", titleStyle.Render(cat.Title), statusLabel(cat.Status))

	if len(cat.Notes) == 0 {
		b.WriteString(mutedStyle.Render("No notes yet. Cover:"))
		b.WriteString("\n")
		for _, item := range domain.Checklist(cat.ID) {
			fmt.Fprintf(&b, "  - %s\n", item.Description)
		}
		return b.String()
	}

	b.WriteString("\nNotes:\n")
	for _, n := range cat.Notes {
		fmt.Fprintf(&b, "  %s  %s\n", mutedStyle.Render(n.ID), mutedStyle.Render(n.Timestamp.Local().Format("15:04")))
		fmt.Fprintf(&b, "    %s\n", n.Text)
	}

	if len(cat.MissingInfo) > 0 {
		b.WriteString("\nMissing:\n")
		for _, m := range cat.MissingInfo {
			fmt.Fprintf(&b, "  - %s\n", m)
		}
	}

	if cat.Data != nil && !cat.Data.IsEmpty() {
		if raw, err := json.MarshalIndent(cat.Data, "", "  "); err == nil {
			b.WriteString("\nData:\n")
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	return b.String()
}

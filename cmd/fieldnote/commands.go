package main

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/export"
	"github.com/stellarlinkco/fieldnote/internal/gateway"
)

func (c *cli) runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	if err := os.MkdirAll(c.cfg.Export.Dir, 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	fmt.Fprintf(out, "Reports go to: %s\n", c.cfg.Export.Dir)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to choose a provider and set its API key\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set FIELDNOTE_API_KEY (or GEMINI_API_KEY / OPENAI_API_KEY / ANTHROPIC_API_KEY)")
	fmt.Fprintln(out, "  3. Run 'fieldnote note project \"Hill fort, site HF-26\"' to record your first note")
	return nil
}

func (c *cli) runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ls, err := c.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer ls.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		id, err := domain.ParseCategoryID(args[0])
		if err != nil {
			return err
		}
		cat, err := ls.ctrl.Category(id)
		if err != nil {
			return err
		}
		fmt.Fprint(out, renderCategory(cat))
		return nil
	}

	selected, _ := ls.ctrl.Selected()
	fmt.Fprint(out, renderStatus(ls.ctrl.Job(), selected))
	if _, ok := ls.ctrl.Report(); ok {
		fmt.Fprintln(out, "\nA report has been generated. Run 'fieldnote finish' again to regenerate it.")
	}
	return nil
}

func (c *cli) runSelect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := domain.ParseCategoryID(args[0])
	if err != nil {
		return err
	}
	ls, err := c.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer ls.Close()

	if err := ls.ctrl.SelectCategory(id); err != nil {
		return err
	}
	if err := ls.save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Selected %s.\n", id.Title())
	return nil
}

func (c *cli) runNote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ls, err := c.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer ls.Close()

	id, rest, err := resolveCategory(ls.ctrl, args)
	if err != nil {
		return err
	}

	src := domain.TextSource(strings.Join(rest, " "))
	if c.audioPath != "" {
		data, err := os.ReadFile(c.audioPath)
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		src = domain.AudioSource(data, detectMIME(c.audioPath, c.audioMIME, data))
	}
	if src.IsBlank() {
		return fmt.Errorf("%w: nothing to record, pass text or --audio", domain.ErrPrecondition)
	}

	res, err := ls.ctrl.AddNote(ctx, id, src)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.NoContent {
		fmt.Fprintln(out, "Nothing to record was found in that note.")
		return nil
	}
	if err := ls.save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Added note %s to %s (%d notes).\n%s\n", res.Note.ID, res.Category.Title, len(res.Category.Notes), res.Note.Text)
	return nil
}

// detectMIME prefers the flag, then the file extension, then the content.
func detectMIME(path, flag string, data []byte) string {
	if flag != "" {
		return flag
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	t := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

func (c *cli) runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := domain.ParseCategoryID(args[0])
	if err != nil {
		return err
	}
	ls, err := c.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer ls.Close()

	cat, err := ls.ctrl.RemoveNote(id, args[1])
	if err != nil {
		return err
	}
	if err := ls.save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed note from %s. %d notes left, status %s.\n", cat.Title, len(cat.Notes), cat.Status)
	return nil
}

func (c *cli) runFinalize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if c.finalAll && len(args) > 0 {
		return fmt.Errorf("pass a category or --all, not both")
	}
	ls, err := c.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer ls.Close()
	out := cmd.OutOrStdout()

	if c.finalAll {
		results, err := ls.ctrl.FinalizeAll(ctx)
		if serr := ls.save(ctx); serr != nil {
			return serr
		}
		if len(results) == 0 {
			fmt.Fprintln(out, "No category is in progress.")
			return nil
		}
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(out, "%s: %s\n", r.ID.Title(), errorText(r.Err))
				continue
			}
			fmt.Fprint(out, verdictText(r.Category, r.Validation))
		}
		return err
	}

	var id domain.CategoryID
	if len(args) == 1 {
		id, err = domain.ParseCategoryID(args[0])
	} else {
		id, _, err = resolveCategory(ls.ctrl, nil)
	}
	if err != nil {
		return err
	}
	cat, verdict, err := ls.ctrl.Finalize(ctx, id)
	if err != nil {
		return err
	}
	if err := ls.save(ctx); err != nil {
		return err
	}
	fmt.Fprint(out, verdictText(cat, verdict))
	if ls.ctrl.IsJobComplete() {
		fmt.Fprintln(out, "All required categories are complete. Run 'fieldnote finish'.")
	}
	return nil
}

func verdictText(cat domain.Category, v domain.Validation) string {
	if v.IsComplete {
		return fmt.Sprintf("%s is complete.\n", cat.Title)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s still needs:\n", cat.Title)
	for _, m := range cat.MissingInfo {
		fmt.Fprintf(&b, "  - %s\n", m)
	}
	return b.String()
}

func (c *cli) runFinish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	formatName := c.format
	if formatName == "" {
		formatName = c.cfg.Export.Format
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	dir := c.outDir
	if dir == "" {
		dir = c.cfg.Export.Dir
	}

	ls, err := c.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer ls.Close()

	if pending := ls.ctrl.Job().IncompleteRequired(); len(pending) > 0 {
		titles := make([]string, len(pending))
		for i, id := range pending {
			titles[i] = id.Title()
		}
		return fmt.Errorf("%w: not complete yet: %s", domain.ErrPrecondition, strings.Join(titles, ", "))
	}

	report, err := ls.ctrl.FinishJob(ctx)
	if err != nil {
		return err
	}
	if err := ls.save(ctx); err != nil {
		return err
	}
	if _, err := ls.store.SaveReport(ctx, cliSessionKey, report); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	path, err := export.WriteFile(dir, format, report)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", path)

	if c.render {
		rendered, err := export.Render(report, c.renderWide)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
	}
	return nil
}

func (c *cli) runReports(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ls, err := c.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer ls.Close()

	records, err := ls.store.ListReports(ctx, cliSessionKey, c.limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No reports yet.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintln(out, r.Summary())
	}
	return nil
}

func (c *cli) runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ls, err := c.newLocalSession(ctx, false)
	if err != nil {
		return err
	}
	defer ls.Close()

	if err := ls.save(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Started a new report.")
	return nil
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	gw, err := gateway.New(c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

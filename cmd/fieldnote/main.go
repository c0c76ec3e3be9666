package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/inference"
	"github.com/stellarlinkco/fieldnote/internal/session"
)

// InferenceFactory builds the model boundary for commands that extract,
// validate or aggregate.
type InferenceFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Gateway, error)

// DefaultInferenceFactory validates cfg and builds the configured backend.
func DefaultInferenceFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gw, err := inference.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// Options for running the CLI with custom dependencies
type Options struct {
	InferenceFactory InferenceFactory
}

type cli struct {
	opts    Options
	cfg     *config.Config
	logger  *zap.Logger
	verbose bool

	// flags
	audioPath  string
	audioMIME  string
	finalAll   bool
	format     string
	outDir     string
	render     bool
	renderWide int
	limit      int
}

func newRootCmd(opts Options) *cobra.Command {
	if opts.InferenceFactory == nil {
		opts.InferenceFactory = DefaultInferenceFactory
	}
	c := &cli{opts: opts}

	root := &cobra.Command{
		Use:           "fieldnote",
		Short:         "fieldnote - daily archaeological field reports from spoken and written notes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg

			level := zapcore.WarnLevel
			if cmd.Name() == "serve" {
				level = zapcore.InfoLevel
			}
			if c.verbose {
				level = zapcore.DebugLevel
			}
			zcfg := zap.NewProductionConfig()
			zcfg.Level = zap.NewAtomicLevelAt(level)
			logger, err := zcfg.Build()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create the config file and report directory",
		Args:  cobra.NoArgs,
		RunE:  c.runOnboard,
	}

	statusCmd := &cobra.Command{
		Use:   "status [category]",
		Short: "Show report progress, or the notes of one category",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.runStatus,
	}

	selectCmd := &cobra.Command{
		Use:   "select <category>",
		Short: "Choose the category that notes go to by default",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runSelect,
	}

	noteCmd := &cobra.Command{
		Use:   "note [category] [text...]",
		Short: "Add a written or recorded note to a category",
		Long: `Adds a note to the named category, or to the selected one when the first
argument is not a category. Use --audio to send a recording instead of text.`,
		RunE: c.runNote,
	}
	noteCmd.Flags().StringVar(&c.audioPath, "audio", "", "audio file to transcribe")
	noteCmd.Flags().StringVar(&c.audioMIME, "mime", "", "MIME type of the audio file (detected when empty)")

	rmCmd := &cobra.Command{
		Use:   "rm <category> <noteId>",
		Short: "Remove a note",
		Args:  cobra.ExactArgs(2),
		RunE:  c.runRemove,
	}

	finalizeCmd := &cobra.Command{
		Use:   "finalize [category]",
		Short: "Check a category against its checklist",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.runFinalize,
	}
	finalizeCmd.Flags().BoolVar(&c.finalAll, "all", false, "finalize every category in progress")

	finishCmd := &cobra.Command{
		Use:   "finish",
		Short: "Generate and export the field report",
		Args:  cobra.NoArgs,
		RunE:  c.runFinish,
	}
	finishCmd.Flags().StringVar(&c.format, "format", "", "export format: markdown, json or yaml (default from config)")
	finishCmd.Flags().StringVar(&c.outDir, "out", "", "export directory (default from config)")
	finishCmd.Flags().BoolVar(&c.render, "render", false, "print the report to the terminal")
	finishCmd.Flags().IntVar(&c.renderWide, "width", 100, "wrap width for --render")

	reportsCmd := &cobra.Command{
		Use:   "reports",
		Short: "List generated reports, newest first",
		Args:  cobra.NoArgs,
		RunE:  c.runReports,
	}
	reportsCmd.Flags().IntVarP(&c.limit, "limit", "n", 10, "number of reports to list (0 for all)")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the current report and start over",
		Args:  cobra.NoArgs,
		RunE:  c.runReset,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat gateway (channels + reminders)",
		Args:  cobra.NoArgs,
		RunE:  c.runServe,
	}

	root.AddCommand(onboardCmd, statusCmd, selectCmd, noteCmd, rmCmd, finalizeCmd, finishCmd, reportsCmd, resetCmd, serveCmd)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(Options{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorText(err))
		os.Exit(1)
	}
}

// errorText prefers the field-worker wording for classified errors.
func errorText(err error) string {
	if domain.KindOf(err) == domain.KindUnknown {
		return err.Error()
	}
	return domain.UserMessage(err)
}

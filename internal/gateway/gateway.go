// Package gateway connects chat channels to per-chat session controllers.
package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/bus"
	"github.com/stellarlinkco/fieldnote/internal/channel"
	"github.com/stellarlinkco/fieldnote/internal/config"
	"github.com/stellarlinkco/fieldnote/internal/cron"
	"github.com/stellarlinkco/fieldnote/internal/inference"
	"github.com/stellarlinkco/fieldnote/internal/session"
	"github.com/stellarlinkco/fieldnote/internal/store"
)

const (
	busBufSize      = 100
	reminderJobName = "fieldnote-reminder"
)

// Options for creating a Gateway
type Options struct {
	// Inference is built from cfg.Provider when nil.
	Inference     session.Gateway
	Logger        *zap.Logger
	CronStorePath string
	SignalChan    chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	inference  session.Gateway
	store      *store.Store
	channels   *channel.ChannelManager
	cron       *cron.Service
	logger     *zap.Logger
	signalChan chan os.Signal

	mu       sync.Mutex
	sessions map[string]*chatSession

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, Options{Logger: logger})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(busBufSize),
		logger:     logger.With(zap.String("component", "gateway")),
		signalChan: opts.SignalChan,
		sessions:   make(map[string]*chatSession),
	}

	g.inference = opts.Inference
	if g.inference == nil {
		gw, err := inference.NewFromConfig(context.Background(), cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create inference gateway: %w", err)
		}
		g.inference = gw
	}

	st, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	cronStorePath := opts.CronStorePath
	if cronStorePath == "" {
		cronStorePath = filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	}
	g.cron = cron.NewService(cronStorePath, logger)
	g.cron.OnJob = g.runJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, g.bus, logger)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.bus.DispatchOutbound(ctx)
	}()

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", zap.Strings("channels", g.channels.EnabledChannels()))

	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("cron start failed", zap.Error(err))
	}
	if err := g.ensureReminder(); err != nil {
		g.logger.Warn("reminder not scheduled", zap.Error(err))
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.processLoop(ctx)
	}()

	g.logger.Info("running", zap.String("host", g.cfg.Gateway.Host), zap.Int("port", g.cfg.Gateway.Port))

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.logger.Debug("inbound",
				zap.String("channel", msg.Channel),
				zap.String("sender", msg.SenderID),
				zap.Bool("audio", msg.HasAudio()),
				zap.String("content", truncate(msg.Content, 80)))

			reply := g.handleMessage(ctx, msg)
			if reply == "" {
				continue
			}
			if err := g.bus.PublishOutbound(ctx, bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: reply,
			}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ensureReminder keeps the reminder job in line with cfg.Reminder.
func (g *Gateway) ensureReminder() error {
	if !g.cfg.Reminder.Enabled {
		if job, ok := g.cron.FindJob(reminderJobName); ok && job.Enabled {
			_, err := g.cron.EnableJob(job.ID, false)
			return err
		}
		return nil
	}
	_, err := g.cron.EnsureJob(reminderJobName,
		cron.Schedule{Kind: cron.KindCron, Expr: g.cfg.Reminder.Schedule},
		cron.Payload{Kind: cron.PayloadReminder})
	return err
}

func (g *Gateway) Shutdown() error {
	var err error
	g.shutdownOnce.Do(func() {
		if g.cancel != nil {
			g.cancel()
		}
		g.wg.Wait()
		g.cron.Stop()
		_ = g.channels.StopAll()
		if cerr := g.store.Close(); cerr != nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
		g.logger.Info("shutdown complete")
	})
	return err
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/session"
	"github.com/stellarlinkco/fieldnote/internal/store"
)

const (
	cliChannel    = "cli"
	cliChatID     = "local"
	cliSessionKey = cliChannel + ":" + cliChatID
)

// errOffline is returned by commands that reach the model without having
// asked for it.
var errOffline = fmt.Errorf("%w: this command does not use the inference service", domain.ErrConfiguration)

type offlineGateway struct{}

func (offlineGateway) Extract(context.Context, domain.NoteSource, domain.CategoryID, domain.CategoryData) (domain.Extraction, error) {
	return domain.Extraction{}, errOffline
}

func (offlineGateway) Validate(context.Context, domain.CategoryID, domain.CategoryData) (domain.Validation, error) {
	return domain.Validation{}, errOffline
}

func (offlineGateway) Aggregate(context.Context, domain.AggregateInput) (domain.FieldReport, error) {
	return domain.FieldReport{}, errOffline
}

// localSession is the single CLI session, persisted in the same store the
// chat gateway uses.
type localSession struct {
	store *store.Store
	ctrl  *session.Controller
}

// openSession opens the store and restores the CLI session from it.
func (c *cli) openSession(ctx context.Context, withInference bool) (*localSession, error) {
	ls, err := c.newLocalSession(ctx, withInference)
	if err != nil {
		return nil, err
	}
	if err := ls.restore(ctx); err != nil {
		_ = ls.Close()
		return nil, err
	}
	return ls, nil
}

// newLocalSession opens the store with a fresh controller and leaves the
// stored session alone.
func (c *cli) newLocalSession(ctx context.Context, withInference bool) (*localSession, error) {
	var gw session.Gateway = offlineGateway{}
	if withInference {
		var err error
		gw, err = c.opts.InferenceFactory(ctx, c.cfg, c.logger)
		if err != nil {
			return nil, err
		}
	}

	st, err := store.Open(c.cfg.Store.DBPath, c.logger)
	if err != nil {
		return nil, err
	}
	return &localSession{store: st, ctrl: session.New(gw, session.WithLogger(c.logger))}, nil
}

func (s *localSession) restore(ctx context.Context) error {
	rec, err := s.store.LoadSession(ctx, cliSessionKey)
	if err == nil {
		err = s.ctrl.Restore(rec.Snapshot)
		if err != nil {
			err = fmt.Errorf("%w: %w", store.ErrSessionCorrupt, err)
		}
	}
	switch {
	case err == nil, errors.Is(err, store.ErrSessionNotFound):
		return nil
	case errors.Is(err, store.ErrSessionCorrupt):
		return fmt.Errorf("stored session is unreadable, run 'fieldnote reset': %w", err)
	default:
		return err
	}
}

func (s *localSession) save(ctx context.Context) error {
	return s.store.SaveSession(ctx, store.SessionRecord{
		Key:      cliSessionKey,
		Channel:  cliChannel,
		ChatID:   cliChatID,
		Snapshot: s.ctrl.Snapshot(),
	})
}

func (s *localSession) Close() error {
	return s.store.Close()
}

// resolveCategory takes the category from the first argument when it names
// one, otherwise from the selection.
func resolveCategory(ctrl *session.Controller, args []string) (domain.CategoryID, []string, error) {
	if len(args) > 0 {
		if id, err := domain.ParseCategoryID(args[0]); err == nil {
			return id, args[1:], nil
		}
	}
	id, ok := ctrl.Selected()
	if !ok {
		return "", nil, fmt.Errorf("%w: no category selected, pass one or run 'fieldnote select <category>'", domain.ErrPrecondition)
	}
	return id, args, nil
}

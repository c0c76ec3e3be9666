package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stellarlinkco/fieldnote/internal/session"
	"github.com/stellarlinkco/fieldnote/internal/store"
)

type chatSession struct {
	key     string
	channel string
	chatID  string
	ctrl    *session.Controller
}

// session returns the live controller for a chat, restoring it from the
// store on first use.
func (g *Gateway) session(ctx context.Context, channel, chatID string) (*chatSession, error) {
	key := store.SessionKey(channel, chatID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if cs, ok := g.sessions[key]; ok {
		return cs, nil
	}

	cs := &chatSession{
		key:     key,
		channel: channel,
		chatID:  chatID,
		ctrl:    session.New(g.inference, session.WithLogger(g.logger.With(zap.String("session", key)))),
	}

	rec, err := g.store.LoadSession(ctx, key)
	if err == nil {
		err = cs.ctrl.Restore(rec.Snapshot)
		if err != nil {
			err = fmt.Errorf("%w: %w", store.ErrSessionCorrupt, err)
		}
	}
	switch {
	case err == nil, errors.Is(err, store.ErrSessionNotFound):
	case errors.Is(err, store.ErrSessionCorrupt):
		g.logger.Warn("discarding unreadable session", zap.String("session", key), zap.Error(err))
		if derr := g.store.DeleteSession(ctx, key); derr != nil {
			g.logger.Warn("delete session failed", zap.String("session", key), zap.Error(derr))
		}
	default:
		return nil, fmt.Errorf("load session: %w", err)
	}

	g.sessions[key] = cs
	return cs, nil
}

func (g *Gateway) persist(ctx context.Context, cs *chatSession) {
	err := g.store.SaveSession(ctx, store.SessionRecord{
		Key:      cs.key,
		Channel:  cs.channel,
		ChatID:   cs.chatID,
		Snapshot: cs.ctrl.Snapshot(),
	})
	if err != nil {
		g.logger.Error("save session failed", zap.String("session", cs.key), zap.Error(err))
	}
}

// liveSession returns the in-memory controller for key, if any.
func (g *Gateway) liveSession(key string) (*chatSession, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs, ok := g.sessions[key]
	return cs, ok
}

// Package store persists chat sessions and generated reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/fieldnote/internal/domain"
	"github.com/stellarlinkco/fieldnote/internal/session"
)

// ErrSessionNotFound is returned by LoadSession for an unknown key.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionCorrupt is returned by LoadSession when the stored row cannot be
// decoded into a snapshot.
var ErrSessionCorrupt = errors.New("session corrupt")

// Fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// SessionRecord is one persisted chat session.
type SessionRecord struct {
	Key       string
	Channel   string
	ChatID    string
	Snapshot  session.Snapshot
	UpdatedAt time.Time
}

// ReportRecord is one generated report.
type ReportRecord struct {
	ID          int64
	SessionKey  string
	GeneratedAt time.Time
	Report      domain.FieldReport
}

// Summary is a one-line description of the report for listings.
func (r ReportRecord) Summary() string {
	name := r.Report.Project.ProjectName
	if name == "" {
		name = "Untitled"
	}
	if code := r.Report.Project.SiteCode; code != "" {
		name += " (" + code + ")"
	}
	return fmt.Sprintf("#%d %s %s", r.ID, r.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"), name)
}

// SessionKey builds the key for a chat on a channel.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, logger: logger.With(zap.String("component", "store")), now: time.Now}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			key TEXT PRIMARY KEY,
			channel TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			snapshot TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			report TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_key, generated_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SaveSession inserts or replaces the session stored under rec.Key.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("save session: empty key")
	}
	raw, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("save session %s: marshal: %w", rec.Key, err)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, channel, chat_id, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			channel = excluded.channel,
			chat_id = excluded.chat_id,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`, rec.Key, rec.Channel, rec.ChatID, string(raw), updated.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, key string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, channel, chat_id, snapshot, updated_at FROM sessions WHERE key = ?
	`, key)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("load session %s: %w", key, ErrSessionNotFound)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load session %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) DeleteSession(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// ListSessions returns every stored session, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, channel, chat_id, snapshot, updated_at FROM sessions
		ORDER BY updated_at DESC, key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			s.logger.Warn("skipping unreadable session", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// SaveReport appends a generated report for a session and returns its id.
func (s *Store) SaveReport(ctx context.Context, sessionKey string, report domain.FieldReport) (int64, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("save report: marshal: %w", err)
	}
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (session_key, generated_at, report) VALUES (?, ?, ?)
	`, sessionKey, generated.UTC().Format(timeLayout), string(raw))
	if err != nil {
		return 0, fmt.Errorf("save report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save report: %w", err)
	}
	s.logger.Debug("report saved", zap.String("session", sessionKey), zap.Int64("id", id))
	return id, nil
}

// ListReports returns up to limit reports of a session, newest first. A
// non-positive limit returns all of them.
func (s *Store) ListReports(ctx context.Context, sessionKey string, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, generated_at, report FROM reports
		WHERE session_key = ?
		ORDER BY generated_at DESC, id DESC
		LIMIT ?
	`, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []ReportRecord
	for rows.Next() {
		var (
			rec       ReportRecord
			generated string
			raw       string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionKey, &generated, &raw); err != nil {
			return nil, fmt.Errorf("list reports: scan: %w", err)
		}
		t, err := time.Parse(timeLayout, generated)
		if err != nil {
			return nil, fmt.Errorf("list reports: parse generated_at %d: %w", rec.ID, err)
		}
		rec.GeneratedAt = t
		if err := json.Unmarshal([]byte(raw), &rec.Report); err != nil {
			return nil, fmt.Errorf("list reports: decode %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (SessionRecord, error) {
	var (
		rec     SessionRecord
		raw     string
		updated string
	)
	if err := sc.Scan(&rec.Key, &rec.Channel, &rec.ChatID, &raw, &updated); err != nil {
		return SessionRecord{}, err
	}
	if err := json.Unmarshal([]byte(raw), &rec.Snapshot); err != nil {
		return SessionRecord{}, fmt.Errorf("decode snapshot %s: %w: %w", rec.Key, ErrSessionCorrupt, err)
	}
	t, err := time.Parse(timeLayout, updated)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse updated_at %s: %w: %w", rec.Key, ErrSessionCorrupt, err)
	}
	rec.UpdatedAt = t
	return rec, nil
}

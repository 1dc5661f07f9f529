// Package sqlite stores durable identities and session telemetry in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
)

// Store is a SQLite implementation of ports.StorageProvider.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.StorageProvider = (*Store)(nil)

// New opens (or creates) the database at dsn.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			subject TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stream_sessions (
			request_id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			provider TEXT NOT NULL,
			model_id TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT,
			finish_reason TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			reasoning_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			has_errors INTEGER NOT NULL DEFAULT 0,
			record TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_sessions_started ON stream_sessions(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_sessions_model ON stream_sessions(provider, model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_sessions_status ON stream_sessions(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// ResolveIdentity returns the durable identity for subject, creating it on
// first sight, and refreshes its last-seen time.
func (s *Store) ResolveIdentity(ctx context.Context, subject string) (*domain.Identity, error) {
	now := s.now().UTC()

	query := `INSERT INTO identities (subject, user_id, created_at, last_seen)
	          VALUES (?, ?, ?, ?)
	          ON CONFLICT(subject) DO UPDATE SET last_seen = excluded.last_seen`
	if _, err := s.db.ExecContext(ctx, query, subject, subject, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert identity: %w", err)
	}

	var id domain.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT subject, user_id, created_at, last_seen FROM identities WHERE subject = ?`, subject).
		Scan(&id.Subject, &id.UserID, &id.CreatedAt, &id.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &id, nil
}

// SaveSession stores rec, replacing an earlier record with the same id.
func (s *Store) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	query := `INSERT OR REPLACE INTO stream_sessions (
	              request_id, subject, provider, model_id, source, status, error_kind, finish_reason,
	              input_tokens, output_tokens, reasoning_tokens, cost_usd, has_errors, record,
	              started_at, ended_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.RequestID, rec.Subject, rec.Provider, rec.ModelID, string(rec.Source), string(rec.Status),
		string(rec.ErrorKind), rec.FinishReason,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.ReasoningTokens, rec.CostUSD,
		rec.Monitor.HasErrors, string(body),
		rec.StartedAt.UTC(), rec.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, requestID string) (*domain.SessionRecord, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM stream_sessions WHERE request_id = ?`, requestID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound(fmt.Sprintf("session %s not found", requestID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeRecord(body)
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM stream_sessions ORDER BY started_at DESC, request_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.SessionRecord
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func decodeRecord(body string) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &rec, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

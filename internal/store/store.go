// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists conversations and messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("conversation not found")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// TYPES
// =============================================================================

// Status values a conversation can end in. A conversation stays
// "active" until its terminal write.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// MaxContentLen caps stored message content. Longer replies are
// truncated at a rune boundary before the insert.
const MaxContentLen = 12000

// Conversation is one dialogue session.
type Conversation struct {
	ID        string
	StartedAt time.Time
	ProviderA string
	ProviderB string
	Starter   string
	Status    string
}

// Message is one persisted turn.
type Message struct {
	ID             int64
	ConversationID string
	Provider       string
	Role           string
	Content        string
	CreatedAt      time.Time
	TokensEst      int
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// =============================================================================
// OPEN AND SCHEMA
// =============================================================================

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		started_at  TIMESTAMP NOT NULL,
		provider_a  TEXT NOT NULL,
		provider_b  TEXT NOT NULL,
		starter     TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		provider        TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		tokens_est      INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation inserts a new running conversation and returns its
// generated ID.
func (s *Store) CreateConversation(ctx context.Context, providerA, providerB, starter string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, started_at, provider_a, provider_b, starter, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), providerA, providerB, starter, StatusActive)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return id, nil
}

// SetStatus records a conversation's terminal status.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation loads one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, provider_a, provider_b, starter, status
		 FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.StartedAt, &c.ProviderA, &c.ProviderB, &c.Starter, &c.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return c, nil
}

// ListConversations returns conversations newest first, capped at limit
// (0 means no cap).
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	q := `SELECT id, started_at, provider_a, provider_b, starter, status
	      FROM conversations ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.StartedAt, &c.ProviderA, &c.ProviderB, &c.Starter, &c.Status); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage persists one turn. Content is truncated to MaxContentLen
// runes and the stored token estimate is max(1, word count).
func (s *Store) AppendMessage(ctx context.Context, conversationID, providerIdent, role, content string) (Message, error) {
	content = truncateRunes(content, MaxContentLen)
	m := Message{
		ConversationID: conversationID,
		Provider:       providerIdent,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		TokensEst:      EstimateTokens(content),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, provider, role, content, created_at, tokens_est)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.Provider, m.Role, m.Content, m.CreatedAt, m.TokensEst)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	m.ID, _ = res.LastInsertId()
	return m, nil
}

// Messages returns a conversation's messages in insertion order.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, provider, role, content, created_at, tokens_est
		 FROM messages WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the newest n messages across all conversations,
// oldest first. Used by the context provider.
func (s *Store) RecentMessages(ctx context.Context, n int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, provider, role, content, created_at, tokens_est
		 FROM (SELECT * FROM messages ORDER BY id DESC LIMIT ?)
		 ORDER BY id ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Provider, &m.Role,
			&m.Content, &m.CreatedAt, &m.TokensEst); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// EstimateTokens is a deliberately crude whitespace word count, floored
// at 1 so even an empty message costs something.
func EstimateTokens(content string) int {
	n := len(strings.Fields(content))
	if n < 1 {
		return 1
	}
	return n
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ABOUTME: SQLite implementation of ConversationStore using modernc.org/sqlite
// ABOUTME: Stores conversations as JSON blobs with a separate platform context mapping table

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/coven-assistant/internal/conversation"
)

// SQLiteStore implements ConversationStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every pooled connection to :memory: would get its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			conversation_json TEXT NOT NULL,
			message_count     INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS platform_contexts (
			conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			platform        TEXT NOT NULL,
			context         TEXT NOT NULL,

			UNIQUE(platform, context)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// FindByContext loads the conversation mapped to (platform, contextKey).
// Returns ErrNotFound if there is no such mapping.
func (s *SQLiteStore) FindByContext(ctx context.Context, platform, contextKey string) (*conversation.Conversation, error) {
	query := `
		SELECT c.conversation_json
		FROM platform_contexts p
		JOIN conversations c ON c.id = p.conversation_id
		WHERE p.platform = ? AND p.context = ?
	`
	return s.findOne(ctx, "find by context", query, platform, contextKey)
}

// FindByID loads a conversation by id.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) FindByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	query := `SELECT conversation_json FROM conversations WHERE id = ?`
	return s.findOne(ctx, "find by id", query, id.String())
}

func (s *SQLiteStore) findOne(ctx context.Context, op, query string, args ...any) (*conversation.Conversation, error) {
	var data string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backendError(op, err)
	}
	return decode([]byte(data))
}

// Upsert saves the conversation and maps (platform, contextKey) to it,
// replacing whatever mapping either side had before.
func (s *SQLiteStore) Upsert(ctx context.Context, conv *conversation.Conversation, platform, contextKey string) error {
	data, err := encode(conv)
	if err != nil {
		return err
	}
	id := conv.ID().String()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backendError("upsert", fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, conversation_json, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_json = excluded.conversation_json,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at
	`, id, string(data), conv.Len(), now, now)
	if err != nil {
		return backendError("upsert", fmt.Errorf("writing conversation: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM platform_contexts
		WHERE conversation_id = ? OR (platform = ? AND context = ?)
	`, id, platform, contextKey)
	if err != nil {
		return backendError("upsert", fmt.Errorf("clearing stale contexts: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO platform_contexts (conversation_id, platform, context)
		VALUES (?, ?, ?)
	`, id, platform, contextKey)
	if err != nil {
		return backendError("upsert", fmt.Errorf("mapping context: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return backendError("upsert", fmt.Errorf("committing: %w", err))
	}

	s.logger.Debug("saved conversation",
		"conversation_id", id,
		"platform", platform,
		"context", contextKey,
		"message_count", conv.Len())
	return nil
}

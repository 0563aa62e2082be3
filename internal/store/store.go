// ABOUTME: Conversation storage port, error taxonomy and backend factory
// ABOUTME: Conversations are stored whole and looked up by (platform, context) or by id

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/coven-assistant/internal/conversation"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// ErrUnknownBackend is returned by Open for an unsupported backend name
var ErrUnknownBackend = errors.New("unknown storage backend")

// ConversationStore persists conversations and the platform context keys
// that point at them. Each conversation has at most one context mapping;
// saving it under a new key drops the old one, and a key already owned by
// another conversation moves over.
type ConversationStore interface {
	FindByContext(ctx context.Context, platform, contextKey string) (*conversation.Conversation, error)
	FindByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	Upsert(ctx context.Context, conv *conversation.Conversation, platform, contextKey string) error
	Close() error
}

// ErrorKind classifies storage failures.
type ErrorKind int

const (
	// Backend covers database and network failures.
	Backend ErrorKind = iota
	// Serialization covers encoding and decoding of stored conversations.
	Serialization
)

func (k ErrorKind) String() string {
	switch k {
	case Backend:
		return "backend"
	case Serialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is a storage failure with the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func backendError(op string, err error) error {
	return &Error{Kind: Backend, Op: op, Err: err}
}

func serializationError(op string, err error) error {
	return &Error{Kind: Serialization, Op: op, Err: err}
}

// Config selects and configures a storage backend.
type Config struct {
	Backend    string // sqlite, memory or redis
	SQLitePath string
	Redis      RedisOptions
	Logger     *slog.Logger
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config) (ConversationStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, cfg.Logger)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg.Redis, cfg.Logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func encode(conv *conversation.Conversation) ([]byte, error) {
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, serializationError("encode", err)
	}
	return data, nil
}

func decode(data []byte) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, serializationError("decode", err)
	}
	return &conv, nil
}

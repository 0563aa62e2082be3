// ABOUTME: Service ties the engine to conversation storage for platform adapters
// ABOUTME: Restores by (platform, context), runs a turn, and persists only after the reply is delivered

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/store"
)

// ConversationStore defines what the service needs from storage.
type ConversationStore interface {
	FindByContext(ctx context.Context, platform, contextKey string) (*conversation.Conversation, error)
	Upsert(ctx context.Context, conv *conversation.Conversation, platform, contextKey string) error
}

// Processor runs turns. *Engine implements it.
type Processor interface {
	NewConversation() *conversation.Conversation
	Process(ctx context.Context, conv *conversation.Conversation, user conversation.UserMessage) (*conversation.Update, error)
}

// Service is the layer platform adapters talk to. It keeps no conversation
// state of its own; every turn round-trips through the store.
type Service struct {
	store     ConversationStore
	processor Processor
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(store ConversationStore, processor Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		processor: processor,
		logger:    logger.With("component", "assistant"),
	}
}

// TurnRequest identifies the thread being continued and carries the user message.
// An empty Context always starts a new conversation.
type TurnRequest struct {
	Platform string
	Context  string
	User     conversation.UserMessage
}

// Restore returns the conversation mapped to (platform, contextKey), or nil if there is none.
func (s *Service) Restore(ctx context.Context, platform, contextKey string) (*conversation.Conversation, error) {
	conv, err := s.store.FindByContext(ctx, platform, contextKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(LayerStorage, err)
	}
	if err := conv.Validate(); err != nil {
		s.logger.Warn("restored conversation is inconsistent",
			"conversation_id", conv.ID(),
			"error", err)
	}
	return conv, nil
}

// Save maps the conversation to (platform, contextKey).
func (s *Service) Save(ctx context.Context, conv *conversation.Conversation, platform, contextKey string) error {
	return wrap(LayerStorage, s.store.Upsert(ctx, conv, platform, contextKey))
}

// Turn restores or creates the conversation and processes the user message.
// Nothing is persisted; call Commit once the reply has been delivered.
func (s *Service) Turn(ctx context.Context, req *TurnRequest) (*conversation.Update, error) {
	conv, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.processor.Process(ctx, conv, req.User)
}

func (s *Service) resolve(ctx context.Context, req *TurnRequest) (*conversation.Conversation, error) {
	if req.Context == "" {
		s.logger.Info("creating new conversation", "platform", req.Platform)
		return s.processor.NewConversation(), nil
	}

	s.logger.Info("restoring conversation", "platform", req.Platform, "context", req.Context)
	conv, err := s.Restore(ctx, req.Platform, req.Context)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		s.logger.Info("conversation has been lost, creating new one",
			"platform", req.Platform,
			"context", req.Context)
		return s.processor.NewConversation(), nil
	}
	return conv, nil
}

// Commit finishes the update and stores the final conversation under the
// context key of the delivered reply.
func (s *Service) Commit(ctx context.Context, update *conversation.Update, platform, contextKey string) (*conversation.Conversation, error) {
	conv, err := update.Finish()
	if err != nil {
		return nil, wrap(LayerEngine, err)
	}
	if err := s.Save(ctx, conv, platform, contextKey); err != nil {
		return nil, fmt.Errorf("saving conversation %s: %w", conv.ID(), err)
	}

	s.logger.Debug("conversation saved",
		"conversation_id", conv.ID(),
		"platform", platform,
		"context", contextKey,
		"message_count", conv.Len())
	return conv, nil
}

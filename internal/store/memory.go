// ABOUTME: In-memory ConversationStore for tests and ephemeral deployments
// ABOUTME: Holds encoded conversations so callers never share state with the store

package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-assistant/internal/conversation"
)

type platformContext struct {
	platform string
	context  string
}

// MemoryStore is an in-memory ConversationStore.
type MemoryStore struct {
	mu       sync.RWMutex
	convs    map[uuid.UUID][]byte          // keyed by conversation ID
	contexts map[platformContext]uuid.UUID // (platform, context) -> conversation ID
	owned    map[uuid.UUID]platformContext // conversation ID -> its single mapping
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[uuid.UUID][]byte),
		contexts: make(map[platformContext]uuid.UUID),
		owned:    make(map[uuid.UUID]platformContext),
	}
}

// FindByContext loads the conversation mapped to (platform, contextKey).
func (m *MemoryStore) FindByContext(_ context.Context, platform, contextKey string) (*conversation.Conversation, error) {
	m.mu.RLock()
	id, ok := m.contexts[platformContext{platform, contextKey}]
	var data []byte
	if ok {
		data = m.convs[id]
	}
	m.mu.RUnlock()

	if data == nil {
		return nil, ErrNotFound
	}
	return decode(data)
}

// FindByID loads a conversation by id.
func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	m.mu.RLock()
	data, ok := m.convs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

// Upsert saves the conversation under (platform, contextKey).
func (m *MemoryStore) Upsert(_ context.Context, conv *conversation.Conversation, platform, contextKey string) error {
	data, err := encode(conv)
	if err != nil {
		return err
	}
	id := conv.ID()
	key := platformContext{platform, contextKey}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.owned[id]; ok {
		delete(m.contexts, old)
	}
	if prev, ok := m.contexts[key]; ok && prev != id {
		delete(m.owned, prev)
	}

	m.convs[id] = data
	m.contexts[key] = id
	m.owned[id] = key
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

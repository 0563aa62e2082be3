// Package store persists conversations for the assistant.
//
// # Architecture
//
// ConversationStore is the single storage port. Three backends implement it:
//
//   - SQLiteStore: modernc.org/sqlite, the default
//   - RedisStore: go-redis, for deployments sharing state across replicas
//   - MemoryStore: maps behind an RWMutex, for tests and throwaway sessions
//
// Open picks one from a Config.
//
// # Data Model
//
// A conversation is stored whole as tagged JSON (see conversation.MarshalJSON).
// Separately, each conversation owns at most one (platform, context) key,
// usually the id of the last message the assistant posted. Replying to that
// message restores the conversation. Upsert moves the key:
//
//   - the conversation's previous key is dropped
//   - a key that belonged to another conversation now points here
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Tables: conversations(id, conversation_json, message_count, created_at,
// updated_at) and platform_contexts(conversation_id, platform, context).
//
// # Error Handling
//
//   - ErrNotFound: no conversation for the key or id
//   - *Error with Kind Backend or Serialization for everything else
package store

// ABOUTME: Redis implementation of ConversationStore using go-redis
// ABOUTME: Keeps conversation blobs plus forward and reverse context keys, updated in one MULTI

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/2389/coven-assistant/internal/conversation"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// maxUpsertRetries bounds optimistic transaction retries when keys change underneath.
const maxUpsertRetries = 5

// RedisStore implements ConversationStore on Redis.
//
// Layout, relative to the key prefix:
//
//	conversation:<id>                  conversation JSON
//	context:<platform>:<context>       conversation id
//	conversation-context:<id>          "<platform>\x00<context>" owned by the conversation
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger = logger.With("component", "store")
	logger.Info("Redis store initialized", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client, prefix: opts.KeyPrefix, logger: logger}, nil
}

func (r *RedisStore) conversationKey(id string) string {
	return r.prefix + "conversation:" + id
}

func (r *RedisStore) contextKey(platform, contextKey string) string {
	return r.prefix + "context:" + platform + ":" + contextKey
}

func (r *RedisStore) ownerKey(id string) string {
	return r.prefix + "conversation-context:" + id
}

// FindByContext loads the conversation mapped to (platform, contextKey).
func (r *RedisStore) FindByContext(ctx context.Context, platform, contextKey string) (*conversation.Conversation, error) {
	id, err := r.client.Get(ctx, r.contextKey(platform, contextKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backendError("find by context", err)
	}
	return r.load(ctx, "find by context", id)
}

// FindByID loads a conversation by id.
func (r *RedisStore) FindByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	return r.load(ctx, "find by id", id.String())
}

func (r *RedisStore) load(ctx context.Context, op, id string) (*conversation.Conversation, error) {
	data, err := r.client.Get(ctx, r.conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backendError(op, err)
	}
	return decode(data)
}

// Upsert saves the conversation and moves the (platform, contextKey) mapping to it.
func (r *RedisStore) Upsert(ctx context.Context, conv *conversation.Conversation, platform, contextKey string) error {
	data, err := encode(conv)
	if err != nil {
		return err
	}
	id := conv.ID().String()
	target := r.contextKey(platform, contextKey)
	owner := r.ownerKey(id)

	txf := func(tx *redis.Tx) error {
		oldMapping, err := tx.Get(ctx, owner).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		prevOwner, err := tx.Get(ctx, target).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if oldPlatform, oldContext, ok := strings.Cut(oldMapping, "\x00"); ok {
				pipe.Del(ctx, r.contextKey(oldPlatform, oldContext))
			}
			if prevOwner != "" && prevOwner != id {
				pipe.Del(ctx, r.ownerKey(prevOwner))
			}
			pipe.Set(ctx, r.conversationKey(id), data, 0)
			pipe.Set(ctx, target, id, 0)
			pipe.Set(ctx, owner, platform+"\x00"+contextKey, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpsertRetries; i++ {
		err = r.client.Watch(ctx, txf, owner, target)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		r.logger.Debug("upsert raced, retrying", "conversation_id", id, "attempt", i+1)
	}
	if err != nil {
		return backendError("upsert", err)
	}

	r.logger.Debug("saved conversation",
		"conversation_id", id,
		"platform", platform,
		"context", contextKey)
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultIndexTTLHours mirrors the teacher statestore's default retention
// window for per-user indices.
const defaultIndexTTLHours = 24

// RedisConversationIndex is a Redis-backed alternative to ConversationIndex,
// for multi-process deployments where the handler-maintained conversation
// list must survive a process restart or be shared across replicas. Unlike
// the in-memory index's Go-native Set/Get, entries are JSON-serialized
// into a single string key per user (the list is handler-maintained and
// replaced wholesale on every Set, so there is no need for Redis-side list
// semantics here).
type RedisConversationIndex struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Index = (*RedisConversationIndex)(nil)

// RedisIndexOption configures a RedisConversationIndex.
type RedisIndexOption func(*RedisConversationIndex)

// WithIndexTTL overrides the default 24h key expiry. Zero disables expiry.
func WithIndexTTL(ttl time.Duration) RedisIndexOption {
	return func(r *RedisConversationIndex) { r.ttl = ttl }
}

// WithIndexPrefix overrides the default "bubblekit" key prefix.
func WithIndexPrefix(prefix string) RedisIndexOption {
	return func(r *RedisConversationIndex) { r.prefix = prefix }
}

// NewRedisConversationIndex constructs a Redis-backed index over client.
func NewRedisConversationIndex(client *redis.Client, opts ...RedisIndexOption) *RedisConversationIndex {
	r := &RedisConversationIndex{
		client: client,
		ttl:    defaultIndexTTLHours * time.Hour,
		prefix: "bubblekit",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisConversationIndex) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:conversations", r.prefix, NormalizeUserID(userID))
}

// Set validates entries and replaces the stored list for userID.
func (r *RedisConversationIndex) Set(ctx context.Context, userID string, entries []Entry) error {
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return err
		}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation entries: %w", err)
	}
	if err := r.client.Set(ctx, r.userKey(userID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis conversation index set failed: %w", err)
	}
	return nil
}

// Get returns the stored entries for userID, or an empty slice if none
// have been set.
func (r *RedisConversationIndex) Get(ctx context.Context, userID string) ([]Entry, error) {
	data, err := r.client.Get(ctx, r.userKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("redis conversation index get failed: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation entries: %w", err)
	}
	return entries, nil
}

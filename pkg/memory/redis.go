package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/theapemachine/minne/pkg/convo"
)

// Sessions longer than this keep only their newest turns; the recent
// window is far smaller, so nothing observable is lost.
const redisMaxTurns = 100

/*
RedisShortTerm keeps each session's turns in a Redis list under one
key, so appends and reads are atomic per session and expiry rides on
the key's TTL.
*/
type RedisShortTerm struct {
	client  *redis.Client
	idleTTL time.Duration
	prefix  string
}

type RedisShortTermOption func(*RedisShortTerm)

func NewRedisShortTerm(client *redis.Client, options ...RedisShortTermOption) *RedisShortTerm {
	store := &RedisShortTerm{
		client:  client,
		idleTTL: 10 * time.Minute,
		prefix:  "stm:",
	}

	for _, option := range options {
		option(store)
	}

	return store
}

// WithRedisIdleTTL overrides the default 600s session idle TTL.
func WithRedisIdleTTL(ttl time.Duration) RedisShortTermOption {
	return func(store *RedisShortTerm) {
		store.idleTTL = ttl
	}
}

// WithRedisPrefix overrides the default "stm:" key namespace.
func WithRedisPrefix(prefix string) RedisShortTermOption {
	return func(store *RedisShortTerm) {
		store.prefix = prefix
	}
}

func (store *RedisShortTerm) key(sessionID string) string {
	return store.prefix + sessionID
}

func (store *RedisShortTerm) Put(ctx context.Context, sessionID string, turn convo.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := store.key(sessionID)

	pipe := store.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -redisMaxTurns, -1)
	pipe.PExpire(ctx, key, store.idleTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	return nil
}

func (store *RedisShortTerm) GetRecent(ctx context.Context, sessionID string, n int) ([]convo.Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	values, err := store.client.LRange(ctx, store.key(sessionID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	turns := make([]convo.Turn, 0, len(values))
	for _, value := range values {
		var turn convo.Turn
		if err := json.Unmarshal([]byte(value), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}

	return turns, nil
}

func (store *RedisShortTerm) Touch(ctx context.Context, sessionID string) error {
	// Expire on a missing key is a no-op, which matches the contract:
	// touching an absent session is not an error.
	return store.client.PExpire(ctx, store.key(sessionID), store.idleTTL).Err()
}

func (store *RedisShortTerm) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

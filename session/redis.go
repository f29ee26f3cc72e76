package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore holds attempt-local tool-observation scratch state with a
// short TTL (spec.md §4.8 step 3), adapted from store/redis.
// RedisCheckpointStore's key-prefix + TTL idiom. It can also serve as the
// durable history backend (turns stored in a zero-TTL list) so both
// backends satisfy the same Store interface interchangeably.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "storyoracle:"
	TTL      time.Duration // Expiration for scratch keys, default 0 (no expiration)
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "storyoracle:"
	}

	return &RedisStore{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *RedisStore) historyKey(sessionID string) string {
	return fmt.Sprintf("%shistory:%s", s.prefix, sessionID)
}

func (s *RedisStore) scratchKey(sessionID string) string {
	return fmt.Sprintf("%sscratch:%s", s.prefix, sessionID)
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if err := s.client.RPush(ctx, s.historyKey(sessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to append turn to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	items, err := s.client.LRange(ctx, s.historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list turns from redis: %w", err)
	}
	turns := make([]Turn, 0, len(items))
	for _, raw := range items {
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) SaveScratch(ctx context.Context, sessionID string, observations []string) error {
	data, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("failed to marshal scratch: %w", err)
	}
	if err := s.client.Set(ctx, s.scratchKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save scratch to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadScratch(ctx context.Context, sessionID string) ([]string, error) {
	data, err := s.client.Get(ctx, s.scratchKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scratch from redis: %w", err)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scratch: %w", err)
	}
	return out, nil
}

func (s *RedisStore) ResetScratch(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.scratchKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to reset scratch in redis: %w", err)
	}
	return nil
}

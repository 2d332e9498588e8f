package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares lockout state between API instances.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
	cooldown    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, maxAttempts int, cooldown time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, maxAttempts, cooldown), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, maxAttempts int, cooldown time.Duration) *RedisStore {
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &RedisStore{
		client:      client,
		prefix:      "lockout:",
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
	}
}

func (s *RedisStore) failKey(email string) string {
	return s.prefix + "fail:" + normalize(email)
}

func (s *RedisStore) lockKey(email string) string {
	return s.prefix + "lock:" + normalize(email)
}

func (s *RedisStore) IsLocked(ctx context.Context, email string) (bool, time.Duration, error) {
	if s.maxAttempts <= 0 {
		return false, 0, nil
	}
	ttl, err := s.client.PTTL(ctx, s.lockKey(email)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("read lock: %w", err)
	}
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// RecordFailure counts a failure inside the cooldown window and sets the lock
// once the count reaches the maximum.
func (s *RedisStore) RecordFailure(ctx context.Context, email string) error {
	if s.maxAttempts <= 0 {
		return nil
	}
	key := s.failKey(email)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count failure: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.cooldown).Err(); err != nil {
			return fmt.Errorf("expire failure counter: %w", err)
		}
	}
	if count < int64(s.maxAttempts) {
		return nil
	}
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.lockKey(email), "1", s.cooldown)
		pipe.Del(ctx, key)
		return nil
	}); err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	return nil
}

func (s *RedisStore) RecordSuccess(ctx context.Context, email string) error {
	if s.maxAttempts <= 0 {
		return nil
	}
	if err := s.client.Del(ctx, s.failKey(email), s.lockKey(email)).Err(); err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

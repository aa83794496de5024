package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/coach"
)

// defaultTTL applies when no TTL is configured (30 days)
const defaultTTL = 30 * 24 * time.Hour

// commands is the subset of the Redis client the store needs. *redis.Client
// satisfies it.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStore keeps profiles as JSON under psysense_user_data:<id>
type RedisStore struct {
	client commands
	ttl    time.Duration
	logger zerolog.Logger

	// serializes read-modify-write of history within this process
	appendMu sync.Mutex
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client commands, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func (s *RedisStore) key(userID string) string {
	return KeyPrefix + userID
}

// Get implements Store. Refreshes TTL on every read.
func (s *RedisStore) Get(ctx context.Context, userID string) (*coach.UserProfile, error) {
	key := s.key(userID)
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var p coach.UserProfile
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to refresh profile TTL")
	}
	return &p, nil
}

// Set implements Store
func (s *RedisStore) Set(ctx context.Context, p *coach.UserProfile) error {
	if p == nil || p.ID == "" {
		return ErrInvalidProfile
	}
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.ID), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Clear implements Store
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

// AddSessionAnalysis implements Store
func (s *RedisStore) AddSessionAnalysis(ctx context.Context, userID string, analysis coach.SessionAnalysis) (*coach.UserProfile, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	p, err := s.Get(ctx, userID)
	if err != nil || p == nil {
		return nil, err
	}
	p.History = append(p.History, analysis)
	if err := s.Set(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Ping implements Store
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store
func (s *RedisStore) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ Store = (*RedisStore)(nil)

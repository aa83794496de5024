package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/psysense/voice-coach/internal/coach"
	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/resilience"
)

// KeyPrefix namespaces stored profiles
const KeyPrefix = "psysense_user_data:"

var (
	// ErrInvalidProfile is returned by Set for a profile without an id
	ErrInvalidProfile = errors.New("profile id is required")
	// ErrInvalidStoreType is returned by NewStore for an unknown driver
	ErrInvalidStoreType = errors.New("invalid profile store type")
)

// Store persists user profiles
type Store interface {
	// Get returns nil if the profile is not found (not an error)
	Get(ctx context.Context, userID string) (*coach.UserProfile, error)
	Set(ctx context.Context, profile *coach.UserProfile) error
	Clear(ctx context.Context, userID string) error
	// AddSessionAnalysis appends to the profile history and returns the
	// updated profile, or nil if there is no such profile
	AddSessionAnalysis(ctx context.Context, userID string, analysis coach.SessionAnalysis) (*coach.UserProfile, error)
	Ping(ctx context.Context) error
	Close() error
}

// StoreType selects a driver
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates the configured store. The Redis driver is dialed with
// reconnect backoff.
func NewStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Store, error) {
	switch StoreType(cfg.ProfileStore) {
	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)

		err = resilience.Reconnect(ctx, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
			Logger:      &logger,
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Profile store connected to Redis")
		return NewRedisStore(client, cfg.ProfileTTL(), logger), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, cfg.ProfileStore)
	}
}

func clone(p *coach.UserProfile) *coach.UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Preferences != nil {
		prefs := *p.Preferences
		prefs.FocusAreas = append([]string(nil), p.Preferences.FocusAreas...)
		out.Preferences = &prefs
	}
	out.History = append([]coach.SessionAnalysis(nil), p.History...)
	out.KnowledgeAssets = append([]coach.KnowledgeAsset(nil), p.KnowledgeAssets...)
	return &out
}

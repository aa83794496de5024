package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/psysense/voice-coach/internal/config"
	"github.com/psysense/voice-coach/internal/live"
)

// ErrNoCredential is returned when no API key is available
var ErrNoCredential = errors.New("gemini api key not configured")

// CredentialFunc returns the API key to use for the next client
type CredentialFunc func(ctx context.Context) (string, error)

// StaticCredential always returns key
func StaticCredential(key string) CredentialFunc {
	return func(context.Context) (string, error) {
		if key == "" {
			return "", ErrNoCredential
		}
		return key, nil
	}
}

// EnvCredential re-reads GEMINI_API_KEY on every call, falling back to
// the key loaded at startup
func EnvCredential(fallback string) CredentialFunc {
	return func(ctx context.Context) (string, error) {
		return StaticCredential(config.GetEnv("GEMINI_API_KEY", fallback))(ctx)
	}
}

// NewClient builds a genai client with the current credential
func NewClient(ctx context.Context, cred CredentialFunc) (*genai.Client, error) {
	key, err := cred(ctx)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// DialerFactory returns a factory that builds a fresh client for every
// connection attempt, so a rotated key applies to the next attempt
func DialerFactory(cred CredentialFunc, models ModelSet, logger zerolog.Logger) live.DialerFactory {
	return func(ctx context.Context) (live.Dialer, error) {
		client, err := NewClient(ctx, cred)
		if err != nil {
			return nil, err
		}
		return NewLiveDialer(client, models, logger), nil
	}
}

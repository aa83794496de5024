package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice coach gateway and terminal client
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:""` // comma separated websocket origins, empty allows any

	// Gemini credentials and model selection. Standard tier uses the base models,
	// premium tier uses the *_PREMIUM variants.
	GeminiAPIKey             string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiLiveModel          string `envconfig:"GEMINI_LIVE_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	GeminiLiveModelPremium   string `envconfig:"GEMINI_LIVE_MODEL_PREMIUM" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	GeminiTextModel          string `envconfig:"GEMINI_TEXT_MODEL" default:"gemini-2.5-flash"`
	GeminiVisionModel        string `envconfig:"GEMINI_VISION_MODEL" default:"gemini-2.5-flash"`
	GeminiVisionModelPremium string `envconfig:"GEMINI_VISION_MODEL_PREMIUM" default:"gemini-3-pro-preview"`
	GeminiEmbedModel         string `envconfig:"GEMINI_EMBED_MODEL" default:"text-embedding-004"`
	DefaultVoice             string `envconfig:"DEFAULT_VOICE" default:"Zephyr"`

	// Live session configuration
	ConnectTimeout   int `envconfig:"CONNECT_TIMEOUT" default:"30"`      // seconds, 0 waits indefinitely
	CaptureFrameSize int `envconfig:"CAPTURE_FRAME_SIZE" default:"4096"` // samples per outbound audio frame
	VideoFrameRate   int `envconfig:"VIDEO_FRAME_RATE" default:"2"`      // snapshots per second
	SnapshotQuality  int `envconfig:"SNAPSHOT_QUALITY" default:"60"`     // JPEG quality for streamed frames
	VolumeIntervalMs int `envconfig:"VOLUME_INTERVAL_MS" default:"50"`   // volume analyzer tick

	// Profile persistence
	ProfileStore    string `envconfig:"PROFILE_STORE" default:"memory"` // memory, redis
	RedisURL        string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	ProfileTTLHours int    `envconfig:"PROFILE_TTL_HOURS" default:"720"`

	// Knowledge retrieval
	QdrantURL               string  `envconfig:"QDRANT_URL" default:""` // empty keeps vector scoring in-process
	QdrantCollection        string  `envconfig:"QDRANT_COLLECTION" default:"coaching_frameworks"`
	QdrantAPIKey            string  `envconfig:"QDRANT_API_KEY" default:""`
	KnowledgeMatchThreshold float64 `envconfig:"KNOWLEDGE_MATCH_THRESHOLD" default:"0.65"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	switch c.ProfileStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("PROFILE_STORE must be memory or redis, got %q", c.ProfileStore)
	}
	if c.CaptureFrameSize <= 0 {
		return fmt.Errorf("CAPTURE_FRAME_SIZE must be positive")
	}
	if c.VideoFrameRate <= 0 {
		return fmt.Errorf("VIDEO_FRAME_RATE must be positive")
	}
	if c.SnapshotQuality < 1 || c.SnapshotQuality > 100 {
		return fmt.Errorf("SNAPSHOT_QUALITY must be between 1 and 100")
	}
	if c.VolumeIntervalMs <= 0 {
		return fmt.Errorf("VOLUME_INTERVAL_MS must be positive")
	}
	return nil
}

// ConnectTimeoutDuration returns the session-open timeout; zero means no timeout
func (c *Config) ConnectTimeoutDuration() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 0
	}
	return time.Duration(c.ConnectTimeout) * time.Second
}

// VideoInterval returns the period between streamed camera snapshots
func (c *Config) VideoInterval() time.Duration {
	return time.Second / time.Duration(c.VideoFrameRate)
}

// VolumeInterval returns the volume analyzer tick period
func (c *Config) VolumeInterval() time.Duration {
	return time.Duration(c.VolumeIntervalMs) * time.Millisecond
}

// ProfileTTL returns how long stored profiles live without being read
func (c *Config) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLHours) * time.Hour
}

// Origins returns the configured websocket origins
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

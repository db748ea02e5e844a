// Package config loads and validates process configuration. Configuration
// is environment-driven, built once at startup, and passed explicitly into
// constructors.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the immutable process configuration.
type Config struct {
	// HTTPPort is the listen port for the API server.
	HTTPPort string

	// DataDir is the root directory for temporary media, thumbnails, and
	// the local blob store.
	DataDir string

	// Database connection settings.
	Database DatabaseConfig

	// RedisAddr enables the embedding cache when non-empty.
	RedisAddr string

	// CORSOrigins is the list of allowed browser origins.
	CORSOrigins []string

	// Providers holds credentials and model names for the external
	// speech, vision, extraction, and embedding services.
	Providers ProviderConfig

	// Queue controls worker pool behavior.
	Queue QueueConfig

	// Tiers is the tier/pricing table.
	Tiers TierTable

	// Vision controls the frame sampling and captioning track.
	Vision VisionConfig

	// Speech holds the external speech service limits.
	Speech SpeechConfig

	// DetectSpeakers enables the speaker labeling pass.
	DetectSpeakers bool

	// InlineDispatch runs jobs in a background goroutine of the
	// enqueueing process instead of the durable queue. Single-node
	// fallback; invisible to callers.
	InlineDispatch bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the pgx-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ProviderConfig holds external model provider settings. Credentials have
// no defaults; a missing key degrades ingestion at run time, not startup.
type ProviderConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	VisionModel    string
	EmbeddingModel string
	SpeechModel    string
	RequestTimeout time.Duration
	EmbeddingDim   int
	EmbedCacheTTL  time.Duration
}

// VisionConfig controls frame sampling and captioning.
type VisionConfig struct {
	// FrameInterval is the base sampling cadence. The effective interval
	// widens adaptively so the frame count never exceeds MaxFrames.
	FrameInterval time.Duration

	// MaxFrames caps the number of sampled frames per job.
	MaxFrames int

	// MaxInFlight bounds concurrent vision captioning calls.
	MaxInFlight int
}

// SpeechConfig holds the external speech service's imposed limits.
type SpeechConfig struct {
	// MaxUploadBytes is the service's file size limit. Files above it are
	// chunked before submission.
	MaxUploadBytes int64

	// AcceptedFormats is the set of file extensions the service accepts
	// directly (without audio extraction).
	AcceptedFormats []string
}

// Load builds the configuration from the environment and the optional
// tiers YAML file, applying defaults and validating the result.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		DataDir:  getEnv("DATA_DIR", "./data"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "mediavault"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnv("DB_NAME", "mediavault"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		Providers: ProviderConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			BaseURL:        os.Getenv("OPENAI_BASE_URL"),
			ChatModel:      getEnv("CHAT_MODEL", "gpt-4o-mini"),
			VisionModel:    getEnv("VISION_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			SpeechModel:    getEnv("SPEECH_MODEL", "whisper-1"),
			RequestTimeout: getEnvDuration("PROVIDER_TIMEOUT", 90*time.Second),
			EmbeddingDim:   getEnvInt("EMBEDDING_DIM", 1536),
			EmbedCacheTTL:  getEnvDuration("EMBED_CACHE_TTL", 24*time.Hour),
		},
		Queue: DefaultQueueConfig(),
		Vision: VisionConfig{
			FrameInterval: getEnvDuration("FRAME_INTERVAL", 30*time.Second),
			MaxFrames:     getEnvInt("MAX_FRAMES", 20),
			MaxInFlight:   getEnvInt("VISION_MAX_IN_FLIGHT", 3),
		},
		Speech: SpeechConfig{
			MaxUploadBytes:  getEnvInt64("SPEECH_MAX_UPLOAD_BYTES", 25*1024*1024),
			AcceptedFormats: splitList(getEnv("SPEECH_FORMATS", "mp3,mp4,m4a,wav,webm,ogg,flac")),
		},
		DetectSpeakers: getEnvBool("DETECT_SPEAKERS", true),
		InlineDispatch: getEnvBool("INLINE_DISPATCH", false),
	}

	cfg.Queue.applyEnvOverrides()

	tiers, err := LoadTierTable(os.Getenv("TIERS_FILE"))
	if err != nil {
		return nil, fmt.Errorf("loading tier table: %w", err)
	}
	cfg.Tiers = tiers

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Providers.APIKey == "" {
		slog.Warn("No provider API key configured; ingestion will fail at the transcription stage")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Vision.MaxInFlight <= 0 {
		return fmt.Errorf("vision max_in_flight must be positive, got %d", c.Vision.MaxInFlight)
	}
	if c.Vision.MaxFrames <= 0 {
		return fmt.Errorf("vision max_frames must be positive, got %d", c.Vision.MaxFrames)
	}
	if c.Speech.MaxUploadBytes <= 0 {
		return fmt.Errorf("speech max_upload_bytes must be positive, got %d", c.Speech.MaxUploadBytes)
	}
	if c.Queue.WorkerCount <= 0 {
		return fmt.Errorf("queue worker_count must be positive, got %d", c.Queue.WorkerCount)
	}
	return c.Tiers.validate()
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

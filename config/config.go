package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Session  SessionConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)

	RateLimitRequests  int // per client IP on /api; 0 disables
	RateLimitWindowSec int
	BodyLimitBytes     int64
	WSMessagesPerSec   float64 // inbound frames per connection; 0 disables
	WSMessageBurst     int
}

// RateLimitWindow returns the window RateLimitRequests applies to.
func (c ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSec) * time.Second
}

// SessionConfig holds the classroom room settings.
type SessionConfig struct {
	DefaultRoom         string
	PollMinDuration     int
	PollMaxDuration     int
	PollDefaultDuration int
	ChatHistoryLimit    int
	ChatMaxLength       int
	TickIntervalMS      int
	EventBuffer         int
	MaxRooms            int
	TeacherPasscode     string // empty = anyone may join as teacher
}

// TickInterval returns the timerUpdate cadence.
func (c SessionConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string // empty disables the poll archive
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string // empty disables the broadcast mirror and the archive queue
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// S3Enabled reports whether poll exports can be written.
func (c AWSConfig) S3Enabled() bool {
	return c.Region != "" && c.ArchiveBucket != ""
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
			RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 100),
			RateLimitWindowSec: getEnvInt("RATE_LIMIT_WINDOW_SEC", 900),
			BodyLimitBytes:     int64(getEnvInt("BODY_LIMIT_BYTES", 10<<20)),
			WSMessagesPerSec:   getEnvFloat("WS_MESSAGES_PER_SEC", 20),
			WSMessageBurst:     getEnvInt("WS_MESSAGE_BURST", 40),
		},
		Session: SessionConfig{
			DefaultRoom:         getEnv("DEFAULT_ROOM", "main"),
			PollMinDuration:     getEnvInt("POLL_MIN_DURATION_SEC", 10),
			PollMaxDuration:     getEnvInt("POLL_MAX_DURATION_SEC", 300),
			PollDefaultDuration: getEnvInt("POLL_DEFAULT_DURATION_SEC", 60),
			ChatHistoryLimit:    getEnvInt("CHAT_HISTORY_LIMIT", 100),
			ChatMaxLength:       getEnvInt("CHAT_MAX_LENGTH", 500),
			TickIntervalMS:      getEnvInt("TICK_INTERVAL_MS", 1000),
			EventBuffer:         getEnvInt("EVENT_BUFFER", 256),
			MaxRooms:            getEnvInt("MAX_ROOMS", 100),
			TeacherPasscode:     getEnv("TEACHER_PASSCODE", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 12),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

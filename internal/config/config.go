// Package config reads bot and worker settings from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type SessionBackend string

const (
	SessionMemory SessionBackend = "memory"
	SessionRedis  SessionBackend = "redis"
)

//nolint:govet // grouped by concern
type Config struct {
	BotToken      string
	TgAPIEndpoint string
	RedisAddr     string
	HealthAddr    string

	SessionBackend SessionBackend
	SessionTTL     time.Duration

	MaxFormatOptions  int
	SearchLimit       int
	SearchPerPage     int
	SearchStubSources bool
	ProbeConcurrency  int

	YtDLPPath    string
	YtDLPCookies string
	FFmpegPath   string

	DownloadTimeout time.Duration
	QueueMaxRetry   int
	Concurrency     int
	MaxRetries      int
	RetryDelay      time.Duration

	TempDir   string
	RetainDir string
	RetainTTL time.Duration
	HistoryDB string

	MaxDirectSendBytes int64
	ResultTTL          time.Duration
	Signature          string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("invalid integer, using default")
	}
	return def
}

func mustInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("invalid integer, using default")
	}
	return def
}

func mustBool(k string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return def
}

// mustDuration accepts Go durations ("90s", "24h") or bare seconds.
func mustDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Warn().Str("key", k).Str("value", v).Msg("invalid duration, using default")
	return def
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		BotToken:      os.Getenv("BOT_TOKEN"),
		TgAPIEndpoint: getenv("TG_API_ENDPOINT", ""),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		HealthAddr:    getenv("HEALTH_ADDR", ":8080"),

		SessionBackend: SessionBackend(strings.ToLower(getenv("SESSION_BACKEND", string(SessionMemory)))),
		SessionTTL:     mustDuration("SESSION_TTL", 24*time.Hour),

		MaxFormatOptions:  mustInt("MAX_FORMAT_OPTIONS", 6),
		SearchLimit:       mustInt("SEARCH_LIMIT", 25),
		SearchPerPage:     mustInt("SEARCH_PER_PAGE", 5),
		SearchStubSources: mustBool("SEARCH_STUB_SOURCES", false),
		ProbeConcurrency:  mustInt("PROBE_CONCURRENCY", 4),

		YtDLPPath:    getenv("YTDLP_PATH", "yt-dlp"),
		YtDLPCookies: getenv("YTDLP_COOKIES", ""),
		FFmpegPath:   getenv("FFMPEG_PATH", "ffmpeg"),

		DownloadTimeout: mustDuration("DOWNLOAD_TIMEOUT", 30*time.Minute),
		QueueMaxRetry:   mustInt("QUEUE_MAX_RETRY", 2),
		Concurrency:     mustInt("CONCURRENCY", 2),
		MaxRetries:      mustInt("MAX_RETRIES", 3),
		RetryDelay:      mustDuration("RETRY_DELAY", 5*time.Second),

		TempDir:   getenv("TEMP_DIR", os.TempDir()),
		RetainDir: getenv("RETAIN_DIR", "/data/retain"),
		RetainTTL: mustDuration("RETAIN_TTL", 2*time.Hour),
		HistoryDB: getenv("HISTORY_DB", "/data/history.db"),

		MaxDirectSendBytes: mustInt64("MAX_DIRECT_SEND_BYTES", 50_000_000),
		ResultTTL:          time.Duration(mustInt("RESULT_TTL_SECONDS", 86400)) * time.Second,
		Signature:          getenv("SIGNATURE", ""),

		S3Bucket:   getenv("S3_BUCKET", ""),
		S3Region:   getenv("S3_REGION", ""),
		S3Endpoint: getenv("S3_ENDPOINT", ""),
		S3Prefix:   getenv("S3_PREFIX", "results"),
	}
}

func (c Config) validateCommon() []error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	return errs
}

func (c Config) ValidateBot() error {
	errs := c.validateCommon()
	if c.SessionBackend != SessionMemory && c.SessionBackend != SessionRedis {
		errs = append(errs, errors.New("SESSION_BACKEND must be memory or redis"))
	}
	if c.SearchPerPage < 1 {
		errs = append(errs, errors.New("SEARCH_PER_PAGE must be positive"))
	}
	if c.ProbeConcurrency < 1 {
		errs = append(errs, errors.New("PROBE_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) ValidateWorker() error {
	errs := c.validateCommon()
	if c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required"))
	}
	if c.MaxDirectSendBytes <= 0 {
		errs = append(errs, errors.New("MAX_DIRECT_SEND_BYTES must be positive"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kite-backfill/internal/markethours"
	"kite-backfill/internal/model"
)

// DefaultStartDate is the first day fetched for an instrument without
// partitions.
const DefaultStartDate = "2015-01-01"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Kite web session
	EncToken string
	UserID   string
	RootURL  string
	Headers  map[string]string

	// Backfill plan
	DataDir     string
	StartDate   time.Time
	EndDate     time.Time
	ChunkDays   int
	Workers     int
	RetryFailed bool
	StrictFetch bool

	// Historical API client
	FetchTimeout time.Duration
	RetryDelay   time.Duration
	RateLimitRPS float64

	InstrumentsFile string

	// Infrastructure, empty disables the component
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	LogLevel      string

	// Notification
	NotifyWebhookURL string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads an optional .env file, then configuration from environment
// variables with sensible defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	return FromEnv(os.Getenv, time.Now())
}

// FromEnv builds the config from getenv; now resolves the default end date.
func FromEnv(getenv func(string) string, now time.Time) (*Config, error) {
	e := env{get: getenv}

	cfg := &Config{
		EncToken: e.must("KITE_ENCTOKEN"),
		UserID:   e.must("KITE_USER_ID"),
		RootURL:  strings.TrimRight(e.str("KITE_ROOT_URL", "https://kite.zerodha.com"), "/"),
		Headers:  e.headers("KITE_HEADERS"),

		DataDir:     e.str("DATA_DIR", "data"),
		StartDate:   e.date("START_DATE", DefaultStartDate, now),
		EndDate:     e.date("END_DATE", "today", now),
		ChunkDays:   e.integer("CHUNK_DAYS", 30),
		Workers:     e.integer("WORKERS", 4),
		RetryFailed: e.boolean("RETRY_FAILED", false),
		StrictFetch: e.boolean("STRICT_FETCH", false),

		FetchTimeout: e.duration("FETCH_TIMEOUT", 10*time.Second),
		RetryDelay:   e.duration("RETRY_DELAY", 5*time.Second),
		RateLimitRPS: e.number("RATE_LIMIT_RPS", 3),

		InstrumentsFile: e.str("INSTRUMENTS_FILE", ""),

		SQLitePath:    e.str("SQLITE_PATH", "data/backfill.db"),
		RedisAddr:     e.str("REDIS_ADDR", ""),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		MetricsAddr:   e.str("METRICS_ADDR", ""),
		LogLevel:      e.str("LOG_LEVEL", "info"),

		NotifyWebhookURL: e.str("NOTIFY_WEBHOOK_URL", ""),
		TelegramBotToken: e.str("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   e.str("TELEGRAM_CHAT_ID", ""),
	}

	if cfg.ChunkDays < 1 {
		e.fail("CHUNK_DAYS must be >= 1, got %d", cfg.ChunkDays)
	}
	if cfg.Workers < 1 {
		e.fail("WORKERS must be >= 1, got %d", cfg.Workers)
	}
	if cfg.RateLimitRPS < 0 {
		e.fail("RATE_LIMIT_RPS must be >= 0, got %g", cfg.RateLimitRPS)
	}
	if cfg.FetchTimeout <= 0 {
		e.fail("FETCH_TIMEOUT must be positive")
	}
	if !cfg.StartDate.IsZero() && !cfg.EndDate.IsZero() && cfg.StartDate.After(cfg.EndDate) {
		e.fail("START_DATE %s is after END_DATE %s", model.FormatDay(cfg.StartDate), model.FormatDay(cfg.EndDate))
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		e.fail("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// env collects every problem instead of stopping at the first.
type env struct {
	get  func(string) string
	errs []error
}

func (e *env) fail(format string, args ...any) {
	e.errs = append(e.errs, fmt.Errorf(format, args...))
}

func (e *env) must(key string) string {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		e.fail("required env var %s not set", key)
	}
	return v
}

func (e *env) str(key, fallback string) string {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return fallback
	}
	return v
}

func (e *env) integer(key string, fallback int) int {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail("%s: invalid integer %q", key, v)
		return fallback
	}
	return n
}

func (e *env) number(key string, fallback float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail("%s: invalid number %q", key, v)
		return fallback
	}
	return f
}

func (e *env) boolean(key string, fallback bool) bool {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail("%s: invalid boolean %q", key, v)
		return fallback
	}
	return b
}

// duration accepts Go durations ("10s") or bare seconds ("10").
func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail("%s: invalid duration %q", key, v)
		return fallback
	}
	return d
}

// date parses YYYY-MM-DD; "today" is the current IST calendar date.
func (e *env) date(key, fallback string, now time.Time) time.Time {
	v := e.str(key, fallback)
	if strings.EqualFold(v, "today") {
		return markethours.Today(now)
	}
	d, err := model.ParseDay(v)
	if err != nil {
		e.fail("%s: invalid date %q, want YYYY-MM-DD", key, v)
		return time.Time{}
	}
	return d
}

// headers parses "Key: value | Other: value". Entries may also be newline
// separated. ';' is left alone so a multi-cookie Cookie header survives.
func (e *env) headers(key string) map[string]string {
	v := e.str(key, "")
	if v == "" {
		return nil
	}
	out := make(map[string]string)
	split := func(r rune) bool { return r == '|' || r == '\n' }
	for _, part := range strings.FieldsFunc(v, split) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, val, ok := strings.Cut(part, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			log.Printf("[config] skipping invalid %s entry: %q", key, part)
			continue
		}
		out[k] = strings.TrimSpace(val)
	}
	return out
}

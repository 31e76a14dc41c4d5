package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kite-backfill/internal/model"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func required() map[string]string {
	return map[string]string{"KITE_ENCTOKEN": "tok", "KITE_USER_ID": "AB1234"}
}

// 2024-03-10 20:00 UTC is already 2024-03-11 in IST.
var now = time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(required()), now)
	require.NoError(t, err)

	assert.Equal(t, "tok", cfg.EncToken)
	assert.Equal(t, "https://kite.zerodha.com", cfg.RootURL)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "2015-01-01", model.FormatDay(cfg.StartDate))
	assert.Equal(t, "2024-03-11", model.FormatDay(cfg.EndDate))
	assert.Equal(t, 30, cfg.ChunkDays)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, 3.0, cfg.RateLimitRPS)
	assert.Equal(t, "data/backfill.db", cfg.SQLitePath)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.MetricsAddr)
	assert.False(t, cfg.RetryFailed)
	assert.False(t, cfg.StrictFetch)
	assert.Nil(t, cfg.Headers)
}

func TestFromEnv_CookieHeaderKeepsSemicolons(t *testing.T) {
	m := required()
	m["KITE_HEADERS"] = "Cookie: kf_session=abc; public_token=def; user_id=AB1234\nUser-Agent: Mozilla/5.0 (X11; Linux x86_64)"

	cfg, err := FromEnv(envMap(m), now)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"Cookie":     "kf_session=abc; public_token=def; user_id=AB1234",
		"User-Agent": "Mozilla/5.0 (X11; Linux x86_64)",
	}, cfg.Headers)
}

func TestFromEnv_Overrides(t *testing.T) {
	m := required()
	m["KITE_ROOT_URL"] = "http://localhost:8080/"
	m["KITE_HEADERS"] = "X-Kite-Version: 3 | Cookie: a=b:c |broken"
	m["START_DATE"] = "2024-01-01"
	m["END_DATE"] = "2024-02-29"
	m["CHUNK_DAYS"] = "10"
	m["WORKERS"] = "8"
	m["FETCH_TIMEOUT"] = "2.5"
	m["RETRY_DELAY"] = "250ms"
	m["RATE_LIMIT_RPS"] = "0"
	m["RETRY_FAILED"] = "true"
	m["STRICT_FETCH"] = "1"
	m["TELEGRAM_BOT_TOKEN"] = "1:x"
	m["TELEGRAM_CHAT_ID"] = "-100"

	cfg, err := FromEnv(envMap(m), now)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.RootURL)
	assert.Equal(t, map[string]string{"X-Kite-Version": "3", "Cookie": "a=b:c"}, cfg.Headers)
	assert.Equal(t, "2024-01-01", model.FormatDay(cfg.StartDate))
	assert.Equal(t, "2024-02-29", model.FormatDay(cfg.EndDate))
	assert.Equal(t, 10, cfg.ChunkDays)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 2500*time.Millisecond, cfg.FetchTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.True(t, cfg.RetryFailed)
	assert.True(t, cfg.StrictFetch)
}

func TestFromEnv_CollectsErrors(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"START_DATE": "01/01/2024",
		"WORKERS":    "zero",
		"CHUNK_DAYS": "0",
	}), now)
	require.Error(t, err)

	for _, want := range []string{
		"KITE_ENCTOKEN not set",
		"KITE_USER_ID not set",
		"START_DATE: invalid date",
		"WORKERS: invalid integer",
		"CHUNK_DAYS must be >= 1",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestFromEnv_StartAfterEnd(t *testing.T) {
	m := required()
	m["START_DATE"] = "2024-03-01"
	m["END_DATE"] = "2024-02-01"
	_, err := FromEnv(envMap(m), now)
	assert.ErrorContains(t, err, "after END_DATE")
}

func TestFromEnv_TelegramPair(t *testing.T) {
	m := required()
	m["TELEGRAM_BOT_TOKEN"] = "1:x"
	_, err := FromEnv(envMap(m), now)
	assert.ErrorContains(t, err, "must be set together")
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KITE_ENCTOKEN=fromfile\nKITE_USER_ID=ZZ9\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	// .env never overrides the real environment
	t.Setenv("KITE_USER_ID", "real")
	t.Setenv("KITE_ENCTOKEN", "")
	os.Unsetenv("KITE_ENCTOKEN")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.EncToken)
	assert.Equal(t, "real", cfg.UserID)
}

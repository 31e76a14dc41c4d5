package kiteconnect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kite-backfill/internal/breaker"
)

const twoCandles = `{
	"status": "success",
	"data": {
		"candles": [
			["2024-01-01T09:15:00+0530", 21727.75, 21737.35, 21701.8, 21723.7, 0, 0],
			["2024-01-01T09:16:00+0530", 21723.9, 21730.1, 21715.05, 21729.6, 1250, 98000]
		]
	}
}`

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newTestClient(url string, mut func(*Config)) *Client {
	cfg := Config{
		EncToken:   "tok123",
		UserID:     "AB1234",
		RootURL:    url,
		RetryDelay: time.Millisecond,
		Timeout:    2 * time.Second,
	}
	if mut != nil {
		mut(&cfg)
	}
	return New(cfg)
}

func TestFetchHistorical_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oms/instruments/historical/256265/minute", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "AB1234", q.Get("user_id"))
		assert.Equal(t, "1", q.Get("oi"))
		assert.Equal(t, "2024-01-01", q.Get("from"))
		assert.Equal(t, "2024-01-31", q.Get("to"))
		assert.Equal(t, "enctoken tok123", r.Header.Get("Authorization"))
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(twoCandles))
	}))
	defer server.Close()

	kc := newTestClient(server.URL, func(c *Config) {
		c.Headers = map[string]string{"User-Agent": "Mozilla/5.0"}
	})
	candles, err := kc.FetchHistorical(context.Background(), 256265, day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, 21727.75, first.Open)
	assert.Equal(t, 21737.35, first.High)
	assert.Equal(t, 21701.8, first.Low)
	assert.Equal(t, 21723.7, first.Close)
	assert.Equal(t, int64(0), first.Volume)

	_, offset := first.TS.Zone()
	assert.Equal(t, 5*3600+1800, offset)
	assert.Equal(t, "09:15:00", first.TS.Format("15:04:05"))

	assert.Equal(t, int64(1250), candles[1].Volume)
	assert.Equal(t, int64(98000), candles[1].OI)
}

func TestFetchHistorical_Empty(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"candles":[]}}`))
	}))
	defer server.Close()

	candles, err := newTestClient(server.URL, nil).
		FetchHistorical(context.Background(), 260105, day(2024, 1, 26), day(2024, 1, 26))
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestFetchHistorical_RetriesOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(twoCandles))
	}))
	defer server.Close()

	var retries atomic.Int32
	kc := newTestClient(server.URL, func(c *Config) {
		c.OnRetry = func(error) { retries.Add(1) }
	})
	candles, err := kc.FetchHistorical(context.Background(), 256265, day(2024, 1, 1), day(2024, 1, 1))
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), retries.Load())
}

func TestFetchHistorical_FailsAfterRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, nil).
		FetchHistorical(context.Background(), 256265, day(2024, 1, 1), day(2024, 1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
}

func TestFetchHistorical_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","error_type":"InputException","message":"invalid token"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, nil).
		FetchHistorical(context.Background(), 1, day(2024, 1, 1), day(2024, 1, 1))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "InputException", apiErr.ErrorType)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestFetchHistorical_Timeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer server.Close()

	kc := newTestClient(server.URL, func(c *Config) { c.Timeout = 50 * time.Millisecond })
	_, err := kc.FetchHistorical(context.Background(), 1, day(2024, 1, 1), day(2024, 1, 1))
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchHistorical_CanceledContextSkipsRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(server.URL, nil).FetchHistorical(ctx, 1, day(2024, 1, 1), day(2024, 1, 1))
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), calls.Load())
}

func TestFetchHistorical_OpenBreakerFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := breaker.New(2, time.Hour)
	kc := newTestClient(server.URL, func(c *Config) { c.Breaker = cb })

	// Two attempts trip the breaker.
	_, err := kc.FetchHistorical(context.Background(), 1, day(2024, 1, 1), day(2024, 1, 1))
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Equal(t, breaker.StateOpen, cb.State())

	_, err = kc.FetchHistorical(context.Background(), 1, day(2024, 1, 2), day(2024, 1, 2))
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "no request while open")
}

func TestFetchHistorical_RateLimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"candles":[]}}`))
	}))
	defer server.Close()

	kc := newTestClient(server.URL, func(c *Config) { c.RateLimit = 20 })

	start := time.Now()
	for i := 0; i < 41; i++ {
		_, err := kc.FetchHistorical(context.Background(), 1, day(2024, 1, 1), day(2024, 1, 1))
		require.NoError(t, err)
	}
	// burst of 20, then 21 more at 20/s
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestParseCandles_SortsAndValidates(t *testing.T) {
	t.Parallel()

	rows := [][]byte{
		[]byte(`["2024-01-01T09:17:00+0530", 3, 3, 3, 3, 10]`),
		[]byte(`["2024-01-01T09:15:00+0530", 1, 1, 1, 1, 1.5e+03, 7]`),
	}
	candles, err := parseCandles(rawRows(t, rows))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.0, candles[0].Close)
	assert.Equal(t, int64(1500), candles[0].Volume)
	assert.Equal(t, int64(7), candles[0].OI)
	assert.Equal(t, int64(0), candles[1].OI, "oi is optional")

	_, err = parseCandles(rawRows(t, [][]byte{[]byte(`["2024-01-01T09:15:00+0530", 1, 1, 1]`)}))
	assert.Error(t, err)

	_, err = parseCandles(rawRows(t, [][]byte{[]byte(`["01-01-2024 09:15", 1, 1, 1, 1, 1]`)}))
	assert.Error(t, err)
}

func rawRows(t *testing.T, rows [][]byte) [][]json.RawMessage {
	t.Helper()
	out := make([][]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		var row []json.RawMessage
		require.NoError(t, json.Unmarshal(r, &row))
		out = append(out, row)
	}
	return out
}

// Package kiteconnect is a minimal client for the Kite web historical-candles
// endpoint. It authenticates with a pre-issued enctoken; acquiring one is out
// of scope.
//
// Usage example:
//
//	kc := kiteconnect.New(kiteconnect.Config{EncToken: "...", UserID: "AB1234"})
//	candles, err := kc.FetchHistorical(ctx, 256265, from, to)
//	if errors.Is(err, kiteconnect.ErrFetchFailed) { /* give up on this range */ }
package kiteconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"kite-backfill/internal/breaker"
	"kite-backfill/internal/model"
)

// ---- Config & client ----

type Config struct {
	EncToken string
	UserID   string

	RootURL    string            // default: https://kite.zerodha.com
	Headers    map[string]string // extra request headers (cookies, user agent)
	Timeout    time.Duration     // per attempt, default: 10s
	RetryDelay time.Duration     // wait before the single retry, default: 5s
	RateLimit  float64           // requests per second, 0 disables limiting
	Debug      bool

	HTTPClient *http.Client     // optional, overrides Timeout
	Breaker    *breaker.Breaker // optional

	// OnRetry is called before the retry attempt (metrics hook).
	OnRetry func(err error)
}

type Client struct {
	encToken string
	userID   string
	rootURL  string
	headers  map[string]string
	debug    bool

	timeout    time.Duration
	retryDelay time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *breaker.Breaker
	onRetry    func(err error)

	sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultRoot       = "https://kite.zerodha.com"
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = 5 * time.Second

	historicalRoute = "/oms/instruments/historical/%d/minute"
	queryDateLayout = "2006-01-02"
	candleTSLayout  = "2006-01-02T15:04:05-0700"
)

var (
	// ErrFetchFailed wraps the last error once the retry is exhausted.
	ErrFetchFailed = errors.New("historical fetch failed")
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("kite http %d: %s", e.StatusCode, e.Body)
}

// APIError is a {"status":"error"} payload.
type APIError struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

// NewHTTPClient returns an http.Client with a per-request timeout and a
// pooled transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: t}
}

// New initializes the client, filling defaults.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		encToken:   cfg.EncToken,
		userID:     cfg.UserID,
		rootURL:    strings.TrimRight(cfg.RootURL, "/"),
		headers:    cfg.Headers,
		debug:      cfg.Debug,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		httpClient: cfg.HTTPClient,
		limiter:    limiter,
		breaker:    cfg.Breaker,
		onRetry:    cfg.OnRetry,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---- Helpers ----

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	for k, v := range c.headers {
		h.Set(k, v)
	}
	h.Set("Accept", "application/json")
	if c.encToken != "" {
		h.Set("Authorization", "enctoken "+c.encToken)
	}
	return h
}

func (c *Client) historicalURL(token int64, from, to time.Time) string {
	q := url.Values{}
	q.Set("user_id", c.userID)
	q.Set("oi", "1")
	q.Set("from", from.Format(queryDateLayout))
	q.Set("to", to.Format(queryDateLayout))
	return c.rootURL + fmt.Sprintf(historicalRoute, token) + "?" + q.Encode()
}

type historicalResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Data      struct {
		Candles [][]json.RawMessage `json:"candles"`
	} `json:"data"`
}

func (c *Client) doRequest(ctx context.Context, reqURL string) ([]model.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.requestHeaders()

	if c.debug {
		log.Printf("[kite] request: GET %s", reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if c.debug {
		log.Printf("[kite] response: code=%d bytes=%d", resp.StatusCode, len(raw))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var body historicalResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("couldn't parse JSON response: %w", err)
	}
	if body.Status == "error" || body.ErrorType != "" {
		return nil, &APIError{ErrorType: body.ErrorType, Message: body.Message}
	}

	return parseCandles(body.Data.Candles)
}

// parseCandles converts [ts, open, high, low, close, volume, oi] rows.
// Open interest is optional; the result is sorted ascending by time.
func parseCandles(rows [][]json.RawMessage) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for i, r := range rows {
		if len(r) < 6 {
			return nil, fmt.Errorf("candle %d: expected at least 6 fields, got %d", i, len(r))
		}
		var ts string
		if err := json.Unmarshal(r[0], &ts); err != nil {
			return nil, fmt.Errorf("candle %d: timestamp: %w", i, err)
		}
		tm, err := time.Parse(candleTSLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("candle %d: parse time %q: %w", i, ts, err)
		}

		var f [4]float64
		for j := range f {
			if f[j], err = strconv.ParseFloat(string(r[j+1]), 64); err != nil {
				return nil, fmt.Errorf("candle %d: field %d: %w", i, j+1, err)
			}
		}
		vol, err := parseCount(r[5])
		if err != nil {
			return nil, fmt.Errorf("candle %d: volume: %w", i, err)
		}
		var oi int64
		if len(r) > 6 {
			if oi, err = parseCount(r[6]); err != nil {
				return nil, fmt.Errorf("candle %d: oi: %w", i, err)
			}
		}

		out = append(out, model.Candle{
			TS:     tm,
			Open:   f[0],
			High:   f[1],
			Low:    f[2],
			Close:  f[3],
			Volume: vol,
			OI:     oi,
		})
	}

	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) }) {
		sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	}
	return out, nil
}

// parseCount accepts integral JSON numbers, including the 1.2e+06 form.
func parseCount(raw json.RawMessage) (int64, error) {
	s := string(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ---- API Methods ----

// FetchHistorical returns the minute candles of token for the calendar days
// [from, to], inclusive on both ends as the API defines them. An empty slice
// with a nil error means the API had no data for the range.
//
// A failed attempt is retried once after RetryDelay; if that also fails the
// returned error wraps ErrFetchFailed and the last cause.
func (c *Client) FetchHistorical(ctx context.Context, token int64, from, to time.Time) ([]model.Candle, error) {
	reqURL := c.historicalURL(token, from, to)

	candles, err := c.attempt(ctx, reqURL)
	if err == nil {
		return candles, nil
	}
	if ctx.Err() != nil || errors.Is(err, breaker.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	log.Printf("[kite] fetch %d %s..%s failed: %v, retrying in %s",
		token, from.Format(queryDateLayout), to.Format(queryDateLayout), err, c.retryDelay)
	if c.onRetry != nil {
		c.onRetry(err)
	}
	if serr := c.sleep(ctx, c.retryDelay); serr != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, serr)
	}

	candles, err = c.attempt(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return candles, nil
}

func (c *Client) attempt(ctx context.Context, reqURL string) ([]model.Candle, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.breaker == nil {
		return c.doRequest(ctx, reqURL)
	}

	var candles []model.Candle
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		candles, err = c.doRequest(ctx, reqURL)
		return err
	})
	return candles, err
}

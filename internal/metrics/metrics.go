package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kite-backfill/internal/model"
)

// Metrics holds all Prometheus metrics of the backfill run. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	ChunksTotal  *prometheus.CounterVec // labels: status
	FetchDur     prometheus.Histogram
	WriteDur     prometheus.Histogram
	RowsWritten  prometheus.Counter
	FetchRetries prometheus.Counter

	// Circuit breaker
	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics registers all metrics with reg. With a nil reg a private
// registry is created. Handler serves reg when it is a *prometheus.Registry
// and the default gatherer otherwise.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backfill_chunks_total",
			Help: "Chunk outcomes by status",
		}, []string{"status"}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backfill_fetch_duration_seconds",
			Help:    "Historical API fetch latency per chunk, retries included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		WriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backfill_write_duration_seconds",
			Help:    "Parquet partition write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backfill_rows_written_total",
			Help: "Enriched rows written to partitions",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backfill_fetch_retries_total",
			Help: "Historical API requests retried after a failure",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backfill_breaker_state",
			Help: "API circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backfill_breaker_trips_total",
			Help: "Times the API circuit breaker tripped open",
		}),
	}

	switch r := reg.(type) {
	case nil:
		m.registry = prometheus.NewRegistry()
		reg = m.registry
	case *prometheus.Registry:
		m.registry = r
	}
	reg.MustRegister(
		m.ChunksTotal,
		m.FetchDur,
		m.WriteDur,
		m.RowsWritten,
		m.FetchRetries,
		m.BreakerState,
		m.BreakerTrips,
	)

	// expose every status from the start
	for _, s := range model.Statuses {
		m.ChunksTotal.WithLabelValues(string(s))
	}
	return m
}

// Handler serves the metrics of the registry they were registered with.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Record counts one chunk outcome.
func (m *Metrics) Record(_ context.Context, o model.Outcome) error {
	if m == nil {
		return nil
	}
	m.ChunksTotal.WithLabelValues(string(o.Status)).Inc()
	if o.Status == model.StatusWritten {
		m.RowsWritten.Add(float64(o.Rows))
	}
	return nil
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m != nil {
		m.FetchDur.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveWrite(d time.Duration) {
	if m != nil {
		m.WriteDur.Observe(d.Seconds())
	}
}

// FetchRetry counts one retried request.
func (m *Metrics) FetchRetry(error) {
	if m != nil {
		m.FetchRetries.Inc()
	}
}

// SetBreakerState records a breaker transition; state uses the gauge
// encoding and 1 counts as a trip.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
	if state == 1 {
		m.BreakerTrips.Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteEnabled  bool `json:"sqlite_enabled"`
	SQLiteOK       bool `json:"sqlite_ok"`
	BreakerOpen    bool `json:"breaker_open"`

	InstrumentsTotal int       `json:"instruments_total"`
	InstrumentsDone  int       `json:"instruments_done"`
	LastOutcomeAt    time.Time `json:"last_outcome_at"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// SetInstruments records how many instruments the run updates.
func (h *HealthStatus) SetInstruments(n int) {
	h.mu.Lock()
	h.InstrumentsTotal = n
	h.mu.Unlock()
}

// InstrumentDone marks one instrument update as finished.
func (h *HealthStatus) InstrumentDone() {
	h.mu.Lock()
	h.InstrumentsDone++
	h.mu.Unlock()
}

func (h *HealthStatus) SetBreakerOpen(v bool) {
	h.mu.Lock()
	h.BreakerOpen = v
	h.mu.Unlock()
}

// Record is an outcome sink keeping the time of the latest outcome.
func (h *HealthStatus) Record(_ context.Context, o model.Outcome) error {
	h.mu.Lock()
	h.LastOutcomeAt = o.At
	h.mu.Unlock()
	return nil
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are
// not probed.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	probe()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if redisDown || sqliteDown || h.BreakerOpen {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	lastOutcome := ""
	if !h.LastOutcomeAt.IsZero() {
		lastOutcome = h.LastOutcomeAt.Format(time.RFC3339)
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		InstrumentsTotal int     `json:"instruments_total"`
		InstrumentsDone  int     `json:"instruments_done"`
		LastOutcomeAt    string  `json:"last_outcome_at"`
		BreakerOpen      bool    `json:"breaker_open"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		SQLiteOK         bool    `json:"sqlite_ok"`
		SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		InstrumentsTotal: h.InstrumentsTotal,
		InstrumentsDone:  h.InstrumentsDone,
		LastOutcomeAt:    lastOutcome,
		BreakerOpen:      h.BreakerOpen,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz for the duration of a run.
type Server struct {
	ln  net.Listener
	srv *http.Server
}

// NewServer binds addr. The listener is opened here so a busy port fails
// the run before any chunk is fetched.
func NewServer(addr string, m *Metrics, health *HealthStatus) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		ln:  ln,
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}, nil
}

// Addr is the bound address, useful when addr was ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Start serves in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] serving on %s", s.Addr())
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop shuts the server down, waiting for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

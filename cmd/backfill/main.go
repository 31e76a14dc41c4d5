package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"kite-backfill/config"
	"kite-backfill/internal/backfill"
	"kite-backfill/internal/breaker"
	"kite-backfill/internal/logger"
	"kite-backfill/internal/markethours"
	"kite-backfill/internal/metrics"
	"kite-backfill/internal/model"
	"kite-backfill/internal/notification"
	"kite-backfill/internal/store/parquet"
	redisstore "kite-backfill/internal/store/redis"
	sqlitestore "kite-backfill/internal/store/sqlite"
	"kite-backfill/pkg/kiteconnect"
)

const (
	breakerFailures = 5
	breakerReset    = 30 * time.Second
	notifyTimeout   = 15 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("[backfill] %v", err)
		return 1
	}

	runID := uuid.NewString()
	lg := logger.Init("backfill", logger.ParseLevel(cfg.LogLevel)).With("run_id", runID)

	registry, err := config.LoadRegistry(cfg.InstrumentsFile)
	if err != nil {
		lg.Error("instrument registry", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		lg.Warn("signal received, cancelling pending chunks")
		cancel()
	}()

	// ── Metrics & health ──
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetInstruments(len(registry.Instruments))
	if cfg.MetricsAddr != "" {
		srv, err := metrics.NewServer(cfg.MetricsAddr, m, health)
		if err != nil {
			lg.Error("metrics server", "error", err)
			return 1
		}
		srv.Start()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := srv.Stop(sctx); err != nil {
				lg.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	// ── Historical API client ──
	br := breaker.New(breakerFailures, breakerReset)
	br.OnStateChange = func(from, to breaker.State) {
		lg.Warn("api circuit breaker", "from", from.String(), "to", to.String())
		m.SetBreakerState(int(to))
		health.SetBreakerOpen(to == breaker.StateOpen)
	}
	client := kiteconnect.New(kiteconnect.Config{
		EncToken:   cfg.EncToken,
		UserID:     cfg.UserID,
		RootURL:    cfg.RootURL,
		Headers:    cfg.Headers,
		Timeout:    cfg.FetchTimeout,
		RetryDelay: cfg.RetryDelay,
		RateLimit:  cfg.RateLimitRPS,
		Debug:      logger.IsDebug(cfg.LogLevel),
		Breaker:    br,
		OnRetry:    m.FetchRetry,
	})

	// ── Stores & sinks ──
	store := parquet.New(cfg.DataDir)
	sinks := []backfill.OutcomeSink{m, health}
	opts := []backfill.Option{backfill.WithLogger(lg)}

	var (
		journal *sqlitestore.Journal
		pub     *redisstore.Publisher
	)
	if cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			lg.Error("journal directory", "error", err)
			return 1
		}
		journal, err = sqlitestore.New(sqlitestore.JournalConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			lg.Error("journal open failed", "path", cfg.SQLitePath, "error", err)
			return 1
		}
		defer journal.Close()
		sinks = append(sinks, journal)
		opts = append(opts, backfill.WithFailedChunks(journal))
	} else if cfg.RetryFailed {
		lg.Warn("RETRY_FAILED needs SQLITE_PATH, failed chunks will not be retried")
	}
	if cfg.RedisAddr != "" {
		pub, err = redisstore.New(redisstore.PublisherConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			// publishing is best effort
			lg.Warn("redis unavailable, outcomes will not be published", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer pub.Close()
			sinks = append(sinks, pub)
		}
	}
	if journal != nil || pub != nil {
		var (
			db  *sql.DB
			rdb *goredis.Client
		)
		if journal != nil {
			db = journal.DB()
		}
		if pub != nil {
			rdb = pub.Client()
		}
		health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
	}
	opts = append(opts, backfill.WithSinks(sinks...))

	// ── Scheduler ──
	pf := backfill.NewPeriodFetcher(client, store)
	pf.Calendar = markethours.TradingDays
	pf.Observer = m
	pf.Logger = lg

	sched := backfill.NewScheduler(backfill.Config{
		DefaultStart: cfg.StartDate,
		End:          cfg.EndDate,
		ChunkDays:    cfg.ChunkDays,
		Workers:      cfg.Workers,
		RetryFailed:  cfg.RetryFailed,
		RunID:        runID,
	}, pf, opts...)

	lg.Info("backfill starting",
		"instruments", len(registry.Instruments),
		"start", model.FormatDay(cfg.StartDate),
		"end", model.FormatDay(cfg.EndDate),
		"data_dir", cfg.DataDir,
		"workers", cfg.Workers,
	)
	if !markethours.HasCalendar(cfg.EndDate.Year()) {
		lg.Warn("no holiday calendar for year, only weekends are excluded", "year", cfg.EndDate.Year())
	}

	started := time.Now()
	reports := sched.UpdateAll(ctx, registry.Instruments, func(r backfill.Report) {
		health.InstrumentDone()
		if r.Err != nil {
			return
		}
		lg.Info("instrument done", "instrument", r.Instrument, "summary", r.Summary())
	})

	failed := backfill.Failed(reports, cfg.StrictFetch)
	totals := backfill.Totals(reports)
	lg.Info("backfill finished",
		"elapsed", time.Since(started).Round(time.Millisecond).String(),
		"written", totals[model.StatusWritten],
		"skipped", totals[model.StatusSkipped],
		"no_data", totals[model.StatusNoData],
		"fetch_failed", totals[model.StatusFetchFailed],
		"failed", totals[model.StatusFailed],
		"ok", !failed,
	)

	alert := notification.RunSummary(reports, failed)
	alert.RunID = runID
	notify(lg, cfg, alert)

	if failed {
		return 1
	}
	return 0
}

// notify sends the run summary. It runs after cancellation too, so it gets
// its own context.
func notify(lg *slog.Logger, cfg *config.Config, alert notification.Alert) {
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.NotifyWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.NotifyWebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := notifiers.Send(ctx, alert); err != nil {
		lg.Warn("notification failed", "error", err)
	}
}

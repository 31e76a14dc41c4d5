package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"kite-backfill/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	outcomeStream       = "backfill:outcomes"
	outcomeStreamMaxLen = 10000
	instrumentKeyPrefix = "backfill:instrument:"
	pubsubPrefix        = "pub:backfill:"
)

// PublisherConfig configures the Redis outcome publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher mirrors chunk outcomes into Redis:
//
//	XADD    backfill:outcomes                 every outcome (trimmed, ~10k)
//	HSET    backfill:instrument:<name>        latest status + per-status counters
//	PUBLISH pub:backfill:<name>               live progress for dashboards
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// InstrumentKey is the status hash of an instrument.
func InstrumentKey(instrument string) string { return instrumentKeyPrefix + instrument }

// Channel is the pubsub channel of an instrument.
func Channel(instrument string) string { return pubsubPrefix + instrument }

// outcomeFields is the stream entry of an outcome.
func outcomeFields(o *model.Outcome) map[string]interface{} {
	return map[string]interface{}{
		"instrument": o.Instrument,
		"token":      o.Token,
		"start":      model.FormatDay(o.Chunk.Start),
		"end":        model.FormatDay(o.Chunk.End),
		"status":     string(o.Status),
		"rows":       o.Rows,
		"error":      o.ErrText(),
		"trace_id":   o.TraceID,
		"run_id":     o.RunID,
		"data":       string(o.JSON()),
	}
}

// statusFields is the latest-state part of the instrument hash.
func statusFields(o *model.Outcome) map[string]interface{} {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	return map[string]interface{}{
		"token":       o.Token,
		"last_status": string(o.Status),
		"last_chunk":  o.Chunk.FileName(),
		"last_error":  o.ErrText(),
		"updated_at":  at.UTC().Format(time.RFC3339),
	}
}

// Record publishes one outcome in a single pipeline.
func (p *Publisher) Record(ctx context.Context, o model.Outcome) error {
	jsonData := string(o.JSON())
	key := InstrumentKey(o.Instrument)

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: outcomeStream,
		MaxLen: outcomeStreamMaxLen,
		Approx: true,
		Values: outcomeFields(&o),
	})
	pipe.HSet(ctx, key, statusFields(&o))
	pipe.HIncrBy(ctx, key, "count:"+string(o.Status), 1)
	if o.Status == model.StatusWritten {
		pipe.HSet(ctx, key, "last_written", o.Chunk.FileName())
		pipe.HIncrBy(ctx, key, "rows_written", int64(o.Rows))
	}
	pipe.Publish(ctx, Channel(o.Instrument), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis outcome pipeline for %s %s: %w", o.Instrument, o.Chunk, err)
	}
	return nil
}

// Status returns the instrument hash, empty when nothing was published yet.
func (p *Publisher) Status(ctx context.Context, instrument string) (map[string]string, error) {
	m, err := p.client.HGetAll(ctx, InstrumentKey(instrument)).Result()
	if err != nil {
		if err == goredis.Nil {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("redis HGETALL %s: %w", InstrumentKey(instrument), err)
	}
	return m, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

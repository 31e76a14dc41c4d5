// Package backfill keeps per-instrument partition files up to date.
//
// An Update lists what is already on disk, resumes the day after the latest
// partition, splits the remaining range into chunks and hands them to a
// bounded worker pool. Each chunk is fetched, enriched with indicators and
// written as its own partition; its Outcome flows into the Run report and
// into any configured sinks (journal, publisher, metrics).
package backfill

import (
	"context"
	"time"

	"kite-backfill/internal/model"
)

// CandleFetcher downloads the minute candles of token for the inclusive
// date range [from, to]. An empty result with a nil error means no data.
type CandleFetcher interface {
	FetchHistorical(ctx context.Context, token int64, from, to time.Time) ([]model.Candle, error)
}

// PartitionStore is the on-disk partition layout.
type PartitionStore interface {
	EnsureDir(instrument string) error
	List(instrument string) ([]string, error)
	Exists(instrument string, p model.Partition) (bool, error)
	Write(instrument string, p model.Partition, rows []model.EnrichedRow) error
}

// OutcomeSink receives every chunk outcome. Sink errors are logged, they
// never change the outcome.
type OutcomeSink interface {
	Record(ctx context.Context, o model.Outcome) error
}

// FailedChunkSource lists chunks of earlier runs whose fetch failed.
type FailedChunkSource interface {
	FailedChunks(ctx context.Context, instrument string) ([]model.Partition, error)
}

// Observer receives stage timings.
type Observer interface {
	ObserveFetch(d time.Duration)
	ObserveWrite(d time.Duration)
}

// TradingCalendar counts exchange trading days in an inclusive date range.
type TradingCalendar func(start, end time.Time) int

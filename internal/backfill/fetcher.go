package backfill

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kite-backfill/internal/indicator"
	"kite-backfill/internal/logger"
	"kite-backfill/internal/model"
)

// PeriodFetcher runs one chunk: skip if present, fetch, enrich, write.
type PeriodFetcher struct {
	Fetcher    CandleFetcher
	Store      PartitionStore
	Indicators indicator.Config

	// Optional
	Calendar TradingCalendar
	Observer Observer
	Logger   *slog.Logger
}

// NewPeriodFetcher returns a fetcher with the default indicator periods.
func NewPeriodFetcher(f CandleFetcher, st PartitionStore) *PeriodFetcher {
	return &PeriodFetcher{
		Fetcher:    f,
		Store:      st,
		Indicators: indicator.DefaultConfig(),
	}
}

func (pf *PeriodFetcher) log() *slog.Logger {
	if pf.Logger != nil {
		return pf.Logger
	}
	return slog.Default()
}

// Fetch processes chunk p of inst and reports what happened. It never
// returns an error: every failure is an Outcome status.
func (pf *PeriodFetcher) Fetch(ctx context.Context, inst model.Instrument, p model.Partition) model.Outcome {
	start := time.Now()
	o := model.Outcome{
		Instrument: inst.Name,
		Token:      inst.Token,
		Chunk:      p,
		TraceID:    logger.TraceID(ctx),
	}
	if pf.Calendar != nil {
		o.TradingDays = pf.Calendar(p.Start, p.End)
	}
	finish := func(s model.Status, err error) model.Outcome {
		o.Status = s
		o.Err = err
		o.Duration = time.Since(start)
		o.At = time.Now()
		return o
	}

	l := pf.log().With(logger.LogWithTrace(ctx)...).With(
		slog.String("instrument", inst.Name),
		slog.String("chunk", p.String()),
	)

	exists, err := pf.Store.Exists(inst.Name, p)
	if err != nil {
		l.Error("partition check failed", "error", err)
		return finish(model.StatusFailed, err)
	}
	if exists {
		l.Info("partition exists, skipping")
		return finish(model.StatusSkipped, nil)
	}

	l.Info("fetching chunk")
	fetchStart := time.Now()
	candles, err := pf.Fetcher.FetchHistorical(ctx, inst.Token, p.Start, p.End)
	if pf.Observer != nil {
		pf.Observer.ObserveFetch(time.Since(fetchStart))
	}
	if err != nil {
		l.Warn("fetch failed, nothing written", "error", err)
		return finish(model.StatusFetchFailed, err)
	}
	if len(candles) == 0 {
		if o.TradingDays > 0 {
			l.Warn("no data for chunk with trading days", "trading_days", o.TradingDays)
		} else {
			l.Info("no data for chunk")
		}
		return finish(model.StatusNoData, nil)
	}

	rows := indicator.ComputeWith(pf.Indicators, candles)
	o.Rows = len(rows)

	writeStart := time.Now()
	err = pf.Store.Write(inst.Name, p, rows)
	if pf.Observer != nil {
		pf.Observer.ObserveWrite(time.Since(writeStart))
	}
	if err != nil {
		if errors.Is(err, model.ErrPartitionExists) {
			// another writer published it between the check and the write
			l.Info("partition appeared concurrently, skipping")
			o.Rows = 0
			return finish(model.StatusSkipped, nil)
		}
		l.Error("write failed", "error", err)
		return finish(model.StatusFailed, err)
	}

	l.Info("chunk saved", "rows", len(rows), "first", rows[0].Date, "last", rows[len(rows)-1].Date)
	return finish(model.StatusWritten, nil)
}

package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kite-backfill/internal/logger"
	"kite-backfill/internal/model"
)

// DefaultWorkers is the pool size of one Update.
const DefaultWorkers = 4

const sinkTimeout = 5 * time.Second

// Config drives the chunk plan.
type Config struct {
	DefaultStart time.Time // first day when an instrument has no partitions
	End          time.Time // master end date, inclusive
	ChunkDays    int       // chunk end offset, DefaultChunkDays when 0
	Workers      int       // per Update, DefaultWorkers when 0
	RetryFailed  bool      // re-queue journaled fetch_failed chunks
	RunID        string    // stamped on every outcome
}

// Scheduler plans and runs instrument updates.
type Scheduler struct {
	cfg     Config
	fetcher *PeriodFetcher
	store   PartitionStore
	failed  FailedChunkSource
	sinks   []OutcomeSink
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSinks adds outcome sinks.
func WithSinks(sinks ...OutcomeSink) Option {
	return func(s *Scheduler) { s.sinks = append(s.sinks, sinks...) }
}

// WithFailedChunks sets the source of chunks to retry.
func WithFailedChunks(src FailedChunkSource) Option {
	return func(s *Scheduler) { s.failed = src }
}

// WithLogger sets the logger (slog.Default otherwise).
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler writing through pf.Store.
func NewScheduler(cfg Config, pf *PeriodFetcher, opts ...Option) *Scheduler {
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = DefaultChunkDays
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	s := &Scheduler{
		cfg:     cfg,
		fetcher: pf,
		store:   pf.Store,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if pf.Logger == nil {
		pf.Logger = s.logger
	}
	return s
}

// Run is the handle of one Update. All chunks are queued when Update
// returns; Wait blocks until every chunk has an outcome.
type Run struct {
	Instrument model.Instrument
	Resume     time.Time
	Chunks     []model.Partition
	Retried    int // leading chunks that come from the failed-chunk source

	done   chan struct{}
	report Report
}

// Done is closed once the report is ready.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until all chunks are done and returns the report.
func (r *Run) Wait() Report {
	<-r.done
	return r.report
}

// Update plans the chunks still missing for inst and starts them on a
// bounded worker pool without waiting. It fails before scheduling anything
// when the partition listing cannot be read or contains a malformed name.
func (s *Scheduler) Update(ctx context.Context, inst model.Instrument) (*Run, error) {
	started := s.now()
	l := s.logger.With(slog.String("instrument", inst.Name), slog.Int64("token", inst.Token))

	if err := s.store.EnsureDir(inst.Name); err != nil {
		return nil, fmt.Errorf("update %s: %w", inst.Name, err)
	}
	names, err := s.store.List(inst.Name)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", inst.Name, err)
	}
	existing, err := ParsePartitions(names)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", inst.Name, err)
	}

	resume := ResumeDate(existing, s.cfg.DefaultStart)
	if len(existing) > 0 {
		l.Info("found existing partitions", "count", len(existing), "last_date", model.FormatDay(resume.AddDate(0, 0, -1)))
	}

	chunks := SplitRange(resume, s.cfg.End, s.cfg.ChunkDays)

	var retried []model.Partition
	if s.cfg.RetryFailed && s.failed != nil {
		failed, err := s.failed.FailedChunks(ctx, inst.Name)
		if err != nil {
			l.Warn("failed-chunk lookup failed, not retrying", "error", err)
		} else {
			retried = retryable(failed, existing, chunks)
		}
	}
	if len(retried) > 0 {
		l.Info("retrying failed chunks", "chunks", describe(retried))
		chunks = append(retried, chunks...)
	}

	run := &Run{
		Instrument: inst,
		Resume:     resume,
		Chunks:     chunks,
		Retried:    len(retried),
		done:       make(chan struct{}),
	}

	if len(chunks) == 0 {
		l.Info("already up-to-date", "resume", model.FormatDay(resume), "end", model.FormatDay(s.cfg.End))
		run.report = Report{Instrument: inst.Name, Token: inst.Token, Resume: resume}
		close(run.done)
		return run, nil
	}

	l.Info("updating", "resume", model.FormatDay(resume), "chunks", describe(chunks), "workers", s.workers(len(chunks)))
	s.start(ctx, run, started)
	return run, nil
}

func (s *Scheduler) workers(n int) int {
	if n < s.cfg.Workers {
		return n
	}
	return s.cfg.Workers
}

// start queues every chunk and spawns the pool. The task channel holds all
// chunks, so queuing never blocks the caller.
func (s *Scheduler) start(ctx context.Context, run *Run, started time.Time) {
	tasks := make(chan int, len(run.Chunks))
	for i := range run.Chunks {
		tasks <- i
	}
	close(tasks)

	outcomes := make([]model.Outcome, len(run.Chunks))
	workers := s.workers(len(run.Chunks))

	finished := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { finished <- struct{}{} }()
			for i := range tasks {
				outcomes[i] = s.runChunk(ctx, run.Instrument, run.Chunks[i])
			}
		}()
	}

	go func() {
		for w := 0; w < workers; w++ {
			<-finished
		}
		run.report = Report{
			Instrument: run.Instrument.Name,
			Token:      run.Instrument.Token,
			Resume:     run.Resume,
			Outcomes:   outcomes,
			Elapsed:    s.now().Sub(started),
		}
		s.logger.Info("update finished",
			"instrument", run.Instrument.Name,
			"summary", run.report.Summary(),
			"elapsed", run.report.Elapsed.String(),
		)
		close(run.done)
	}()
}

func (s *Scheduler) runChunk(ctx context.Context, inst model.Instrument, p model.Partition) model.Outcome {
	ctx = logger.WithTraceID(ctx, logger.ChunkTraceID(inst.Token, p.Start, s.now()))

	var o model.Outcome
	if err := ctx.Err(); err != nil {
		o = model.Outcome{
			Instrument: inst.Name,
			Token:      inst.Token,
			Chunk:      p,
			Status:     model.StatusFetchFailed,
			Err:        err,
			TraceID:    logger.TraceID(ctx),
			At:         s.now(),
		}
	} else {
		o = s.fetcher.Fetch(ctx, inst, p)
	}
	o.RunID = s.cfg.RunID

	s.record(ctx, o)
	return o
}

func (s *Scheduler) record(ctx context.Context, o model.Outcome) {
	if len(s.sinks) == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.Record(sctx, o); err != nil {
			s.logger.Warn("outcome sink failed",
				append(logger.LogWithTrace(ctx), "instrument", o.Instrument, "chunk", o.Chunk.String(), "error", err)...)
		}
	}
}

// UpdateAll starts an Update for every instrument, then waits for all of
// them. Reports are in instrument order; an instrument whose update could
// not be scheduled gets a report with Err set. done, when non-nil, is
// called as each instrument finishes.
func (s *Scheduler) UpdateAll(ctx context.Context, instruments []model.Instrument, done func(Report)) []Report {
	runs := make([]*Run, len(instruments))
	reports := make([]Report, len(instruments))

	for i, inst := range instruments {
		run, err := s.Update(ctx, inst)
		if err != nil {
			s.logger.Error("update failed", "instrument", inst.Name, "token", inst.Token, "error", err)
			reports[i] = Report{Instrument: inst.Name, Token: inst.Token, Err: err}
			if done != nil {
				done(reports[i])
			}
			continue
		}
		runs[i] = run
	}

	for i, run := range runs {
		if run == nil {
			continue
		}
		reports[i] = run.Wait()
		if done != nil {
			done(reports[i])
		}
	}
	return reports
}

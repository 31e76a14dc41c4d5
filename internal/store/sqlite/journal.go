package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"kite-backfill/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const dayLayout = "2006-01-02"

// JournalConfig configures the outcome journal.
type JournalConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/backfill.db"
}

// Journal is the durable ledger of chunk outcomes. It remembers chunks
// whose fetch failed so a later run can retry them.
type Journal struct {
	db *sqlx.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db.DB }

// New opens the journal database with WAL mode and creates the schema.
func New(cfg JournalConfig) (*Journal, error) {
	db, err := sqlx.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer: workers record concurrently through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened journal at %s", cfg.DBPath)
	return &Journal{db: db}, nil
}

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunk_outcomes (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT,
			instrument   TEXT    NOT NULL,
			token        INTEGER NOT NULL,
			start_date   TEXT    NOT NULL,
			end_date     TEXT    NOT NULL,
			status       TEXT    NOT NULL,
			row_count    INTEGER NOT NULL DEFAULT 0,
			error        TEXT,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			trading_days INTEGER NOT NULL DEFAULT 0,
			trace_id     TEXT,
			recorded_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunk_outcomes_chunk
			ON chunk_outcomes (instrument, start_date, end_date, id);
	`)
	return err
}

// outcomeRow is the chunk_outcomes row layout.
type outcomeRow struct {
	RunID       sql.NullString `db:"run_id"`
	Instrument  string         `db:"instrument"`
	Token       int64          `db:"token"`
	StartDate   string         `db:"start_date"`
	EndDate     string         `db:"end_date"`
	Status      string         `db:"status"`
	RowCount    int            `db:"row_count"`
	Error       sql.NullString `db:"error"`
	DurationMS  int64          `db:"duration_ms"`
	TradingDays int            `db:"trading_days"`
	TraceID     sql.NullString `db:"trace_id"`
	RecordedAt  int64          `db:"recorded_at"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toRow(o *model.Outcome) outcomeRow {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	return outcomeRow{
		RunID:       nullString(o.RunID),
		Instrument:  o.Instrument,
		Token:       o.Token,
		StartDate:   o.Chunk.Start.Format(dayLayout),
		EndDate:     o.Chunk.End.Format(dayLayout),
		Status:      string(o.Status),
		RowCount:    o.Rows,
		Error:       nullString(o.ErrText()),
		DurationMS:  o.Duration.Milliseconds(),
		TradingDays: o.TradingDays,
		TraceID:     nullString(o.TraceID),
		RecordedAt:  at.UnixMilli(),
	}
}

func (r *outcomeRow) outcome() (model.Outcome, error) {
	p, err := parseChunk(r.StartDate, r.EndDate)
	if err != nil {
		return model.Outcome{}, err
	}
	o := model.Outcome{
		RunID:       r.RunID.String,
		Instrument:  r.Instrument,
		Token:       r.Token,
		Chunk:       p,
		Status:      model.Status(r.Status),
		Rows:        r.RowCount,
		Duration:    time.Duration(r.DurationMS) * time.Millisecond,
		TradingDays: r.TradingDays,
		TraceID:     r.TraceID.String,
		At:          time.UnixMilli(r.RecordedAt),
	}
	if r.Error.Valid {
		o.Err = journaledError(r.Error.String)
	}
	return o, nil
}

const insertOutcome = `
	INSERT INTO chunk_outcomes
		(run_id, instrument, token, start_date, end_date, status, row_count, error, duration_ms, trading_days, trace_id, recorded_at)
	VALUES
		(:run_id, :instrument, :token, :start_date, :end_date, :status, :row_count, :error, :duration_ms, :trading_days, :trace_id, :recorded_at)
`

// Record appends one outcome.
func (j *Journal) Record(ctx context.Context, o model.Outcome) error {
	return j.RecordBatch(ctx, []model.Outcome{o})
}

// RecordBatch appends outcomes in a single transaction.
func (j *Journal) RecordBatch(ctx context.Context, outcomes []model.Outcome) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertOutcome)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range outcomes {
		o := &outcomes[i]
		if _, err := stmt.ExecContext(ctx, toRow(o)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert outcome %s %s: %w", o.Instrument, o.Chunk, err)
		}
	}

	return tx.Commit()
}

// FailedChunks returns the chunks of instrument whose latest recorded
// outcome is fetch_failed, ordered by start date.
func (j *Journal) FailedChunks(ctx context.Context, instrument string) ([]model.Partition, error) {
	var rows []struct {
		StartDate string `db:"start_date"`
		EndDate   string `db:"end_date"`
	}
	err := j.db.SelectContext(ctx, &rows, `
		SELECT o.start_date, o.end_date
		FROM chunk_outcomes o
		WHERE o.instrument = ?
		  AND o.id = (
			SELECT MAX(i.id) FROM chunk_outcomes i
			WHERE i.instrument = o.instrument
			  AND i.start_date = o.start_date
			  AND i.end_date = o.end_date
		  )
		  AND o.status = ?
		ORDER BY o.start_date ASC
	`, instrument, string(model.StatusFetchFailed))
	if err != nil {
		return nil, fmt.Errorf("sqlite query failed chunks: %w", err)
	}

	out := make([]model.Partition, 0, len(rows))
	for _, r := range rows {
		p, err := parseChunk(r.StartDate, r.EndDate)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// History returns the most recent outcomes of instrument, newest first.
func (j *Journal) History(ctx context.Context, instrument string, limit int) ([]model.Outcome, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outcomeRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT run_id, instrument, token, start_date, end_date, status, row_count, error, duration_ms, trading_days, trace_id, recorded_at
		FROM chunk_outcomes
		WHERE instrument = ?
		ORDER BY id DESC
		LIMIT ?
	`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query history: %w", err)
	}

	out := make([]model.Outcome, 0, len(rows))
	for i := range rows {
		o, err := rows[i].outcome()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// RunCounts returns outcome counts by status for one run.
func (j *Journal) RunCounts(ctx context.Context, runID string) (map[model.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := j.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n
		FROM chunk_outcomes
		WHERE run_id = ?
		GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query run counts: %w", err)
	}
	out := make(map[model.Status]int, len(rows))
	for _, r := range rows {
		out[model.Status(r.Status)] = r.N
	}
	return out, nil
}

func parseChunk(s, e string) (model.Partition, error) {
	start, err := model.ParseDay(s)
	if err != nil {
		return model.Partition{}, fmt.Errorf("sqlite bad start_date %q: %w", s, err)
	}
	end, err := model.ParseDay(e)
	if err != nil {
		return model.Partition{}, fmt.Errorf("sqlite bad end_date %q: %w", e, err)
	}
	return model.NewPartition(start, end), nil
}

// journaledError is an error restored from its stored text.
type journaledError string

func (e journaledError) Error() string { return string(e) }

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

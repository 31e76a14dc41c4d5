package backfill

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"kite-backfill/internal/model"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(s string) time.Time {
	t, err := model.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// memStore is an in-memory PartitionStore.
type memStore struct {
	mu      sync.Mutex
	files   map[string]map[string][]model.EnrichedRow
	listErr error
	extra   []string // names listed but holding no rows
	writes  int
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string]map[string][]model.EnrichedRow)}
}

func (m *memStore) EnsureDir(instrument string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[instrument] == nil {
		m.files[instrument] = make(map[string][]model.EnrichedRow)
	}
	return nil
}

func (m *memStore) List(instrument string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	names := append([]string(nil), m.extra...)
	for n := range m.files[instrument] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStore) Exists(instrument string, p model.Partition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[instrument][p.FileName()]
	return ok, nil
}

func (m *memStore) Write(instrument string, p model.Partition, rows []model.EnrichedRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[instrument][p.FileName()]; ok {
		return model.ErrPartitionExists
	}
	m.files[instrument][p.FileName()] = rows
	m.writes++
	return nil
}

func (m *memStore) seed(instrument string, names ...string) {
	_ = m.EnsureDir(instrument)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.files[instrument][n] = nil
	}
}

func (m *memStore) names(instrument string) []string {
	names, _ := m.List(instrument)
	return names
}

// fakeFetcher returns one candle per trading minute it is asked for, or
// canned results keyed by chunk start.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []model.Partition
	empty   map[time.Time]bool
	fail    map[time.Time]error
	perDay  int
	gate    chan struct{} // when set, every call blocks until closed
	active  int
	maxSeen int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		empty:  make(map[time.Time]bool),
		fail:   make(map[time.Time]error),
		perDay: 3,
	}
}

var errTransport = errors.New("connection reset")

func (f *fakeFetcher) FetchHistorical(ctx context.Context, token int64, from, to time.Time) ([]model.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model.NewPartition(from, to))
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	gate := f.gate
	err := f.fail[from]
	empty := f.empty[from]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}

	var out []model.Candle
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		open := time.Date(d.Year(), d.Month(), d.Day(), 9, 15, 0, 0, time.UTC)
		for i := 0; i < f.perDay; i++ {
			px := 100 + float64(i)
			out = append(out, model.Candle{
				TS: open.Add(time.Duration(i) * time.Minute), Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 10,
			})
		}
	}
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// sinkRecorder collects outcomes.
type sinkRecorder struct {
	mu       sync.Mutex
	outcomes []model.Outcome
	err      error
}

func (s *sinkRecorder) Record(_ context.Context, o model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return s.err
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

type staticFailed struct {
	chunks []model.Partition
	err    error
}

func (s staticFailed) FailedChunks(context.Context, string) ([]model.Partition, error) {
	return s.chunks, s.err
}

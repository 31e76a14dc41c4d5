// Package parquet stores enriched candle partitions as one Parquet file per
// instrument per date range: <dir>/<instrument>/<DD-MM-YYYY>_to_<DD-MM-YYYY>.parquet.
//
// A partition file is published with a hard link from a fully written temp
// file, so readers never observe a partial file and an existing partition is
// never replaced.
package parquet

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	pq "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"kite-backfill/internal/model"
)

var (
	ErrPartitionExists = model.ErrPartitionExists
	ErrDirMissing      = errors.New("instrument directory missing")
)

// np is the parquet-go marshalling parallelism per file.
const np = 2

// Store is the on-disk partition store. A single Store must be shared by
// everything writing under dir; its mutex serialises writes.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a store rooted at dir. The root is created lazily by EnsureDir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Root returns the base directory.
func (s *Store) Root() string { return s.dir }

// Dir returns the directory holding instrument's partitions.
func (s *Store) Dir(instrument string) string {
	return filepath.Join(s.dir, instrument)
}

// Path returns the final file path of partition p.
func (s *Store) Path(instrument string, p model.Partition) string {
	return filepath.Join(s.Dir(instrument), p.FileName())
}

// EnsureDir creates the instrument directory if needed.
func (s *Store) EnsureDir(instrument string) error {
	if err := os.MkdirAll(s.Dir(instrument), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.Dir(instrument), err)
	}
	return nil
}

// List returns the sorted names of the partition files of instrument.
// A missing directory lists as empty.
func (s *Store) List(instrument string) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(instrument))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", instrument, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.HasSuffix(e.Name(), model.PartitionExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether partition p of instrument has been written.
func (s *Store) Exists(instrument string, p model.Partition) (bool, error) {
	_, err := os.Stat(s.Path(instrument, p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", p.FileName(), err)
}

// Write persists rows as partition p. It fails with ErrDirMissing when the
// instrument directory does not exist and with ErrPartitionExists when the
// partition is already present.
func (s *Store) Write(instrument string, p model.Partition, rows []model.EnrichedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.Dir(instrument)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrDirMissing, dir)
	}

	final := s.Path(instrument, p)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%w: %s", ErrPartitionExists, final)
	}

	tmp, err := os.CreateTemp(dir, "."+p.FileName()+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := encode(tmp, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", p.FileName(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", p.FileName(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p.FileName(), err)
	}

	if err := os.Link(tmpPath, final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrPartitionExists, final)
		}
		return fmt.Errorf("publish %s: %w", p.FileName(), err)
	}

	log.Printf("[parquet] wrote %d rows to %s", len(rows), final)
	return nil
}

func encode(f *os.File, rows []model.EnrichedRow) error {
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(f), new(Row), np)
	if err != nil {
		return err
	}
	pw.CompressionType = pq.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(toRow(rows[i])); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return pw.WriteStop()
}

// Read loads partition p of instrument.
func (s *Store) Read(instrument string, p model.Partition) ([]model.EnrichedRow, error) {
	return ReadFile(s.Path(instrument, p))
}

// ReadFile loads every row of a partition file.
func ReadFile(path string) ([]model.EnrichedRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Row), np)
	if err != nil {
		return nil, fmt.Errorf("read footer %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	buf := make([]Row, n)
	if n > 0 {
		if err := pr.Read(&buf); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	out := make([]model.EnrichedRow, len(buf))
	for i := range buf {
		out[i] = fromRow(buf[i])
	}
	return out, nil
}

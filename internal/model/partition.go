package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PartitionExt is the file extension of partition files.
const PartitionExt = ".parquet"

const (
	partitionDateLayout = "02-01-2006" // DD-MM-YYYY
	partitionSep        = "_to_"
	apiDateLayout       = "2006-01-02"
)

// ErrMalformedPartition is returned when a partition file name cannot be
// parsed back into a start/end date pair.
var ErrMalformedPartition = errors.New("malformed partition name")

// ErrPartitionExists is returned by stores refusing to replace a partition.
var ErrPartitionExists = errors.New("partition already exists")

// Partition is an inclusive calendar date range [Start, End] covered by one
// partition file. Both dates are normalised with Day.
type Partition struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Day returns the calendar date of t (in t's location) as UTC midnight.
// All dates in the pipeline use this representation.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(apiDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// FormatDay formats a date as YYYY-MM-DD, the format the API expects.
func FormatDay(t time.Time) string {
	return t.Format(apiDateLayout)
}

// NewPartition builds a partition from two dates.
func NewPartition(start, end time.Time) Partition {
	return Partition{Start: Day(start), End: Day(end)}
}

// FileName returns "<DD-MM-YYYY>_to_<DD-MM-YYYY>.parquet".
func (p Partition) FileName() string {
	return p.Start.Format(partitionDateLayout) + partitionSep + p.End.Format(partitionDateLayout) + PartitionExt
}

// Span returns the number of days between Start and End.
func (p Partition) Span() int {
	return int(p.End.Sub(p.Start).Hours() / 24)
}

// Overlaps reports whether the two inclusive ranges share at least one day.
func (p Partition) Overlaps(o Partition) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

func (p Partition) String() string {
	return FormatDay(p.Start) + ".." + FormatDay(p.End)
}

// ParsePartitionName is the inverse of FileName.
func ParsePartitionName(name string) (Partition, error) {
	base, ok := strings.CutSuffix(name, PartitionExt)
	if !ok {
		return Partition{}, fmt.Errorf("%w: %q: missing %s extension", ErrMalformedPartition, name, PartitionExt)
	}
	startStr, endStr, ok := strings.Cut(base, partitionSep)
	if !ok {
		return Partition{}, fmt.Errorf("%w: %q: missing %q separator", ErrMalformedPartition, name, partitionSep)
	}
	start, err := time.Parse(partitionDateLayout, startStr)
	if err != nil {
		return Partition{}, fmt.Errorf("%w: %q: start date: %v", ErrMalformedPartition, name, err)
	}
	end, err := time.Parse(partitionDateLayout, endStr)
	if err != nil {
		return Partition{}, fmt.Errorf("%w: %q: end date: %v", ErrMalformedPartition, name, err)
	}
	if end.Before(start) {
		return Partition{}, fmt.Errorf("%w: %q: end before start", ErrMalformedPartition, name)
	}
	return NewPartition(start, end), nil
}

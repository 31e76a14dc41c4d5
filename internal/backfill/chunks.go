package backfill

import (
	"fmt"
	"time"

	"kite-backfill/internal/model"
)

// DefaultChunkDays is the offset from a chunk's start to its end. A chunk
// therefore covers at most DefaultChunkDays+1 calendar days.
const DefaultChunkDays = 30

// SplitRange splits [start, end] into consecutive chunks with
// chunkEnd = min(chunkStart+chunkDays, end) and the next chunk starting the
// day after. Returns nil when start is after end.
func SplitRange(start, end time.Time, chunkDays int) []model.Partition {
	if chunkDays < 0 {
		chunkDays = 0
	}
	cur := model.Day(start)
	last := model.Day(end)

	var out []model.Partition
	for !cur.After(last) {
		ce := cur.AddDate(0, 0, chunkDays)
		if ce.After(last) {
			ce = last
		}
		out = append(out, model.NewPartition(cur, ce))
		cur = ce.AddDate(0, 0, 1)
	}
	return out
}

// ParsePartitions parses every partition file name. Any name that does
// not parse fails the whole listing with model.ErrMalformedPartition.
func ParsePartitions(names []string) ([]model.Partition, error) {
	out := make([]model.Partition, 0, len(names))
	for _, n := range names {
		p, err := model.ParsePartitionName(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ResumeDate is the day after the latest end date among existing, or
// defaultStart when there are none. The maximum is taken over all
// partitions, independent of listing order.
func ResumeDate(existing []model.Partition, defaultStart time.Time) time.Time {
	if len(existing) == 0 {
		return model.Day(defaultStart)
	}
	latest := existing[0].End
	for _, p := range existing[1:] {
		if p.End.After(latest) {
			latest = p.End
		}
	}
	return latest.AddDate(0, 0, 1)
}

// retryable filters failed chunks down to those that overlap neither an
// existing partition nor a newly scheduled chunk, dropping duplicates.
func retryable(failed, existing, scheduled []model.Partition) []model.Partition {
	var out []model.Partition
	seen := make(map[model.Partition]bool, len(failed))

next:
	for _, f := range failed {
		if seen[f] || f.End.Before(f.Start) {
			continue
		}
		for _, sets := range [][]model.Partition{existing, scheduled, out} {
			for _, p := range sets {
				if f.Overlaps(p) {
					continue next
				}
			}
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func describe(ps []model.Partition) string {
	switch len(ps) {
	case 0:
		return "none"
	case 1:
		return ps[0].String()
	default:
		return fmt.Sprintf("%s..%s (%d chunks)", model.FormatDay(ps[0].Start), model.FormatDay(ps[len(ps)-1].End), len(ps))
	}
}

// Package indicator provides technical indicator calculations over candle data.
//
// Every indicator is a small state machine fed one candle at a time in
// ascending time order. State per step is O(1): rolling windows live in a
// ringbuf.Window, exponential averages and cumulative sums are scalars.
// Values are NaN until the indicator has seen enough candles.
package indicator

import "kite-backfill/internal/model"

// Indicator is the interface for single-valued technical indicators.
type Indicator interface {
	// Update feeds the next candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value, NaN if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

package indicator

import (
	"math"

	"kite-backfill/internal/model"
	"kite-backfill/internal/ringbuf"
)

// ATR calculates Average True Range as a simple rolling mean of true range.
// The first candle has no previous close, so its true range is high-low.
type ATR struct {
	count     int
	prevClose float64
	tr        *ringbuf.Window
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{tr: ringbuf.New(period)}
}

func (a *ATR) Update(candle model.Candle) {
	a.count++
	tr := candle.High - candle.Low
	if a.count > 1 {
		tr = math.Max(tr, math.Max(
			math.Abs(candle.High-a.prevClose),
			math.Abs(candle.Low-a.prevClose),
		))
	}
	a.prevClose = candle.Close
	a.tr.Push(tr)
}

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return math.NaN()
	}
	return a.tr.Mean()
}

func (a *ATR) Ready() bool { return a.tr.Full() }

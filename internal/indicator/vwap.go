package indicator

import (
	"math"

	"kite-backfill/internal/model"
)

// VWAP calculates the cumulative volume-weighted average of close since the
// first candle fed. It is not session aware: a fresh VWAP starts a new scope.
//
// The running form vwap += (close-vwap) * vol/cumVol equals
// Σ(close·vol)/Σvol and keeps the first value bit-identical to its close.
type VWAP struct {
	current float64
	cumVol  float64
}

// NewVWAP creates a new cumulative VWAP.
func NewVWAP() *VWAP { return &VWAP{} }

func (v *VWAP) Update(candle model.Candle) {
	vol := float64(candle.Volume)
	if vol <= 0 {
		return
	}
	v.cumVol += vol
	v.current += (candle.Close - v.current) * (vol / v.cumVol)
}

// Value is NaN while no volume has traded (index instruments report zero).
func (v *VWAP) Value() float64 {
	if v.cumVol == 0 {
		return math.NaN()
	}
	return v.current
}

func (v *VWAP) Ready() bool { return v.cumVol > 0 }

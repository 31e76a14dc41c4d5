package indicator

import (
	"math"

	"kite-backfill/internal/model"
	"kite-backfill/internal/ringbuf"
)

// RSI calculates the Relative Strength Index from simple rolling means of
// gains and losses (not Wilder's smoothing). The first candle contributes a
// zero gain and zero loss, so the first value appears on candle #period.
type RSI struct {
	count     int
	prevClose float64
	gains     *ringbuf.Window
	losses    *ringbuf.Window
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		gains:  ringbuf.New(period),
		losses: ringbuf.New(period),
	}
}

func (r *RSI) Update(candle model.Candle) {
	price := candle.Close
	r.count++

	gain, loss := 0.0, 0.0
	if r.count > 1 {
		delta := price - r.prevClose
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
	}
	r.prevClose = price

	r.gains.Push(gain)
	r.losses.Push(loss)
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return math.NaN()
	}
	return rsiFrom(r.gains.Mean(), r.losses.Mean())
}

func (r *RSI) Ready() bool { return r.gains.Full() }

// rsiFrom maps average gain/loss to [0, 100]. A window with losses but no
// gains is 0, gains but no losses is 100, a flat window is 50.
func rsiFrom(avgGain, avgLoss float64) float64 {
	avgGain = math.Max(avgGain, 0)
	if avgLoss <= 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	if avgGain == 0 {
		return 0
	}
	rs := avgGain / avgLoss
	return math.Min(math.Max(100.0-(100.0/(1.0+rs)), 0), 100)
}

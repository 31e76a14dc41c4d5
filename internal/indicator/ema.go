package indicator

import (
	"math"

	"kite-backfill/internal/model"
)

// EMA calculates Exponential Moving Average.
// The first value seeds the average (no SMA warm-up), after which
// EMA = price*k + EMA_prev*(1-k) with k = 2/(span+1). O(1) per update.
type EMA struct {
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(span int) *EMA {
	return &EMA{
		multiplier: 2.0 / float64(span+1),
	}
}

func (e *EMA) Update(candle model.Candle) { e.Add(candle.Close) }

// Add feeds a raw value and returns the updated average.
func (e *EMA) Add(v float64) float64 {
	e.count++
	if e.count == 1 {
		e.current = v
		return e.current
	}
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current
}

func (e *EMA) Value() float64 {
	if e.count == 0 {
		return math.NaN()
	}
	return e.current
}

// Ready is true from the first value on: the average is seeded, not warmed up.
func (e *EMA) Ready() bool { return e.count > 0 }

// MACD calculates EMA(fast) - EMA(slow) and its EMA(signal) signal line.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
	count  int
}

// NewMACD creates a new MACD indicator, typically (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Update(candle model.Candle) {
	m.line = m.fast.Add(candle.Close) - m.slow.Add(candle.Close)
	m.signal.Add(m.line)
	m.count++
}

func (m *MACD) Value() float64 {
	if m.count == 0 {
		return math.NaN()
	}
	return m.line
}

// Signal returns the signal line value.
func (m *MACD) Signal() float64 { return m.signal.Value() }

func (m *MACD) Ready() bool { return m.count > 0 }

package indicator

import (
	"math"

	"kite-backfill/internal/model"
	"kite-backfill/internal/ringbuf"
)

// SMA calculates Simple Moving Average of close over a rolling window.
type SMA struct {
	win *ringbuf.Window
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{win: ringbuf.New(period)}
}

func (s *SMA) Update(candle model.Candle) { s.Add(candle.Close) }

// Add feeds a raw value.
func (s *SMA) Add(v float64) { s.win.Push(v) }

func (s *SMA) Value() float64 {
	if !s.Ready() {
		return math.NaN()
	}
	return s.win.Mean()
}

func (s *SMA) Ready() bool { return s.win.Full() }

// StdDev returns the sample standard deviation of the window, NaN until ready.
func (s *SMA) StdDev() float64 {
	if !s.Ready() {
		return math.NaN()
	}
	return s.win.SampleStdDev()
}

// Bollinger calculates Bollinger Bands: SMA(period) ± k * sample stddev.
type Bollinger struct {
	sma *SMA
	k   float64
}

// NewBollinger creates Bollinger Bands with the given period and width.
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), k: k}
}

func (b *Bollinger) Update(candle model.Candle) { b.sma.Update(candle) }

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.sma.Value() }

func (b *Bollinger) Ready() bool { return b.sma.Ready() }

// Upper returns the upper band, NaN until ready.
func (b *Bollinger) Upper() float64 { return b.sma.Value() + b.k*b.sma.StdDev() }

// Lower returns the lower band, NaN until ready.
func (b *Bollinger) Lower() float64 { return b.sma.Value() - b.k*b.sma.StdDev() }

package indicator

import (
	"math"

	"kite-backfill/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Config holds the indicator periods of the enriched row schema.
type Config struct {
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	ATRPeriod       int
	BollingerPeriod int
	BollingerK      float64
	EMAShort        int // EMA_5
	EMAMid          int // EMA_9
	EMALong         int // EMA_21
}

// DefaultConfig is the fixed schema written to partition files.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		ATRPeriod:       14,
		BollingerPeriod: 20,
		BollingerK:      2,
		EMAShort:        5,
		EMAMid:          9,
		EMALong:         21,
	}
}

// Engine computes every enriched-row column for one ordered candle series.
// Not safe for concurrent use. One Engine covers exactly one chunk: all
// state, including VWAP, starts fresh in NewEngine.
type Engine struct {
	rsi   *RSI
	macd  *MACD
	atr   *ATR
	bb    *Bollinger
	ema5  *EMA
	ema9  *EMA
	ema21 *EMA
	vwap  *VWAP
	all   []Indicator

	prevClose float64
	count     int
}

// NewEngine creates an engine with fresh indicator state.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		rsi:   NewRSI(cfg.RSIPeriod),
		macd:  NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		atr:   NewATR(cfg.ATRPeriod),
		bb:    NewBollinger(cfg.BollingerPeriod, cfg.BollingerK),
		ema5:  NewEMA(cfg.EMAShort),
		ema9:  NewEMA(cfg.EMAMid),
		ema21: NewEMA(cfg.EMALong),
		vwap:  NewVWAP(),
	}
	e.all = []Indicator{e.rsi, e.macd, e.atr, e.bb, e.ema5, e.ema9, e.ema21, e.vwap}
	return e
}

// Process feeds the next candle and returns its enriched row.
// Candles must arrive in ascending time order.
func (e *Engine) Process(c model.Candle) model.EnrichedRow {
	for _, ind := range e.all {
		ind.Update(c)
	}

	row := model.EnrichedRow{
		Date:   c.TS.Format(dateLayout),
		Time:   c.TS.Format(timeLayout),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
		OI:     c.OI,

		ChgPrice: math.NaN(),
		ChgPct:   math.NaN(),

		RSI:    e.rsi.Value(),
		MACD:   e.macd.Value(),
		Signal: e.macd.Signal(),
		ATR:    e.atr.Value(),

		SMA20:          e.bb.Value(),
		BollingerUpper: e.bb.Upper(),
		BollingerLower: e.bb.Lower(),

		EMA5:  e.ema5.Value(),
		EMA9:  e.ema9.Value(),
		EMA21: e.ema21.Value(),

		VWAP: e.vwap.Value(),
	}

	if e.count > 0 {
		row.ChgPrice = round2(c.Close - e.prevClose)
		if e.prevClose != 0 {
			row.ChgPct = round2((c.Close/e.prevClose - 1) * 100)
		}
	}
	e.prevClose = c.Close
	e.count++

	return row
}

// Compute enriches a whole chunk with a fresh engine. The output has the
// same length and order as candles; row i depends only on rows <= i.
func Compute(candles []model.Candle) []model.EnrichedRow {
	return ComputeWith(DefaultConfig(), candles)
}

// ComputeWith is Compute with explicit periods.
func ComputeWith(cfg Config, candles []model.Candle) []model.EnrichedRow {
	e := NewEngine(cfg)
	rows := make([]model.EnrichedRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, e.Process(c))
	}
	return rows
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

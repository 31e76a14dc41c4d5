package model

import "time"

// Candle represents one 1-minute OHLCV sample as returned by the historical API.
// Prices are rupees as returned by the API; Volume and OI are contract counts.
type Candle struct {
	TS     time.Time `json:"ts"` // bucket start time (IST offset preserved)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	OI     int64     `json:"oi"` // open interest, 0 for cash/index instruments
}

// EnrichedRow is a Candle with its date/time split out and all derived
// indicator columns attached. Undefined values (warm-up rows) are NaN.
type EnrichedRow struct {
	Date   string // YYYY-MM-DD
	Time   string // HH:MM:SS
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	OI     int64

	ChgPrice float64 // close - prevClose, rounded to 2 decimals
	ChgPct   float64 // percentage change vs prevClose, rounded to 2 decimals

	RSI    float64 // RSI(14)
	MACD   float64 // EMA12 - EMA26
	Signal float64 // EMA9 of MACD
	ATR    float64 // ATR(14)

	SMA20          float64
	BollingerUpper float64 // SMA20 + 2σ
	BollingerLower float64 // SMA20 - 2σ

	EMA5  float64
	EMA9  float64
	EMA21 float64

	VWAP float64 // cumulative from the first row of the chunk
}

package parquet

import (
	"math"

	"kite-backfill/internal/model"
)

// Row is the on-disk schema of one enriched minute. Derived columns are
// OPTIONAL so warm-up NaNs are stored as nulls.
type Row struct {
	Date   string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Time   string  `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open   float64 `parquet:"name=open, type=DOUBLE"`
	High   float64 `parquet:"name=high, type=DOUBLE"`
	Low    float64 `parquet:"name=low, type=DOUBLE"`
	Close  float64 `parquet:"name=close, type=DOUBLE"`
	Volume int64   `parquet:"name=volume, type=INT64"`
	OI     int64   `parquet:"name=oi, type=INT64"`

	ChgPrice       *float64 `parquet:"name=chg_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	ChgPct         *float64 `parquet:"name=chg_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
	RSI            *float64 `parquet:"name=rsi, type=DOUBLE, repetitiontype=OPTIONAL"`
	MACD           *float64 `parquet:"name=macd, type=DOUBLE, repetitiontype=OPTIONAL"`
	Signal         *float64 `parquet:"name=signal, type=DOUBLE, repetitiontype=OPTIONAL"`
	ATR            *float64 `parquet:"name=atr, type=DOUBLE, repetitiontype=OPTIONAL"`
	SMA20          *float64 `parquet:"name=sma_20, type=DOUBLE, repetitiontype=OPTIONAL"`
	BollingerUpper *float64 `parquet:"name=bollinger_upper, type=DOUBLE, repetitiontype=OPTIONAL"`
	BollingerLower *float64 `parquet:"name=bollinger_lower, type=DOUBLE, repetitiontype=OPTIONAL"`
	EMA5           *float64 `parquet:"name=ema_5, type=DOUBLE, repetitiontype=OPTIONAL"`
	EMA9           *float64 `parquet:"name=ema_9, type=DOUBLE, repetitiontype=OPTIONAL"`
	EMA21          *float64 `parquet:"name=ema_21, type=DOUBLE, repetitiontype=OPTIONAL"`
	VWAP           *float64 `parquet:"name=vwap, type=DOUBLE, repetitiontype=OPTIONAL"`
}

func opt(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func val(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func toRow(r model.EnrichedRow) Row {
	return Row{
		Date:   r.Date,
		Time:   r.Time,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
		OI:     r.OI,

		ChgPrice:       opt(r.ChgPrice),
		ChgPct:         opt(r.ChgPct),
		RSI:            opt(r.RSI),
		MACD:           opt(r.MACD),
		Signal:         opt(r.Signal),
		ATR:            opt(r.ATR),
		SMA20:          opt(r.SMA20),
		BollingerUpper: opt(r.BollingerUpper),
		BollingerLower: opt(r.BollingerLower),
		EMA5:           opt(r.EMA5),
		EMA9:           opt(r.EMA9),
		EMA21:          opt(r.EMA21),
		VWAP:           opt(r.VWAP),
	}
}

func fromRow(r Row) model.EnrichedRow {
	return model.EnrichedRow{
		Date:   r.Date,
		Time:   r.Time,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
		OI:     r.OI,

		ChgPrice:       val(r.ChgPrice),
		ChgPct:         val(r.ChgPct),
		RSI:            val(r.RSI),
		MACD:           val(r.MACD),
		Signal:         val(r.Signal),
		ATR:            val(r.ATR),
		SMA20:          val(r.SMA20),
		BollingerUpper: val(r.BollingerUpper),
		BollingerLower: val(r.BollingerLower),
		EMA5:           val(r.EMA5),
		EMA9:           val(r.EMA9),
		EMA21:          val(r.EMA21),
		VWAP:           val(r.VWAP),
	}
}

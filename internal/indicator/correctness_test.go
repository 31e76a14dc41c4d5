package indicator

import (
	"math"
	"testing"

	"kite-backfill/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 100}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertNaN(t *testing.T, label string, got float64) {
	t.Helper()
	if !math.IsNaN(got) {
		t.Errorf("%s: expected NaN, got %.6f", label, got)
	}
}

// ────────────────────────────────────────────────────────────
// SMA / Bollinger Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102
	// SMA after candle 4: (102+104+103)/3 = 103
	// SMA after candle 5: (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102, 103, 104}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 1e-9)
		} else {
			assertNaN(t, "SMA(3) warm-up", sma.Value())
		}
	}
}

func TestBollinger_Correctness_Period3(t *testing.T) {
	// 1, 2, 3 → mean 2, sample stddev 1 → bands 4 / 0
	bb := NewBollinger(3, 2)
	for _, p := range []float64{1, 2, 3} {
		bb.Update(candle(p))
	}
	assertClose(t, "middle", bb.Value(), 2, 1e-12)
	assertClose(t, "upper", bb.Upper(), 4, 1e-12)
	assertClose(t, "lower", bb.Lower(), 0, 1e-12)
}

func TestBollinger_NaNBeforeReady(t *testing.T) {
	bb := NewBollinger(20, 2)
	for i := 0; i < 19; i++ {
		bb.Update(candle(100 + float64(i)))
		assertNaN(t, "upper", bb.Upper())
		assertNaN(t, "lower", bb.Lower())
	}
	bb.Update(candle(200))
	if math.IsNaN(bb.Upper()) {
		t.Fatal("upper band should be defined after 20 candles")
	}
}

// ────────────────────────────────────────────────────────────
// EMA / MACD Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_FirstValueSeed(t *testing.T) {
	// EMA(3): k = 0.5, seeded with the first price
	// 100 → 100
	// 102 → 102*0.5 + 100*0.5   = 101
	// 104 → 104*0.5 + 101*0.5   = 102.5
	// 103 → 103*0.5 + 102.5*0.5 = 102.75
	// 105 → 105*0.5 + 102.75*0.5 = 103.875
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{100, 101, 102.5, 102.75, 103.875}

	for i, p := range prices {
		ema.Update(candle(p))
		if !ema.Ready() {
			t.Fatalf("candle %d: EMA should be ready from the first value", i)
		}
		assertClose(t, "EMA(3)", ema.Value(), expected[i], 1e-12)
	}
}

func TestEMA_EmptyIsNaN(t *testing.T) {
	ema := NewEMA(9)
	assertNaN(t, "EMA before data", ema.Value())
	if ema.Ready() {
		t.Error("EMA should not be ready before data")
	}
}

func TestMACD_Correctness(t *testing.T) {
	// fast=1 follows price; slow=3 (k=0.5): 100, 101; signal=2 (k=2/3)
	// MACD: 0, 1 → signal: 0, 1*(2/3) + 0*(1/3)
	m := NewMACD(1, 3, 2)
	m.Update(candle(100))
	assertClose(t, "MACD[0]", m.Value(), 0, 1e-12)
	assertClose(t, "Signal[0]", m.Signal(), 0, 1e-12)

	m.Update(candle(102))
	assertClose(t, "MACD[1]", m.Value(), 1, 1e-12)
	assertClose(t, "Signal[1]", m.Signal(), 2.0/3.0, 1e-12)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// closes: 10, 11, 10, 12
	// gains:  0, 1, 0, 2   losses: 0, 0, 1, 0
	// idx 2: avgGain=1/3 avgLoss=1/3 → 50
	// idx 3: avgGain=1   avgLoss=1/3 → rs=3 → 75
	rsi := NewRSI(3)
	closes := []float64{10, 11, 10, 12}

	rsi.Update(candle(closes[0]))
	assertNaN(t, "RSI[0]", rsi.Value())
	rsi.Update(candle(closes[1]))
	assertNaN(t, "RSI[1]", rsi.Value())

	rsi.Update(candle(closes[2]))
	if !rsi.Ready() {
		t.Fatal("RSI(3) should be ready on the third candle")
	}
	assertClose(t, "RSI[2]", rsi.Value(), 50, 1e-9)

	rsi.Update(candle(closes[3]))
	assertClose(t, "RSI[3]", rsi.Value(), 75, 1e-9)
}

func TestRSI_AllGainsIs100(t *testing.T) {
	rsi := NewRSI(3)
	for _, p := range []float64{10, 11, 12} {
		rsi.Update(candle(p))
	}
	if rsi.Value() != 100 {
		t.Errorf("expected RSI=100 with zero average loss, got %f", rsi.Value())
	}
}

func TestRSI_AllLossesIs0(t *testing.T) {
	rsi := NewRSI(3)
	for _, p := range []float64{12, 11, 10, 9} {
		rsi.Update(candle(p))
	}
	if rsi.Value() != 0 {
		t.Errorf("expected RSI=0 with zero average gain, got %f", rsi.Value())
	}
}

func TestRSI_FlatWindowIs50(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 20; i++ {
		rsi.Update(candle(250))
	}
	if rsi.Value() != 50 {
		t.Errorf("expected RSI=50 on a flat window, got %f", rsi.Value())
	}
}

// ────────────────────────────────────────────────────────────
// ATR Correctness
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period2(t *testing.T) {
	// (H, L, C): (10, 8, 9), (12, 9, 11), (11, 7, 8)
	// TR0 = 10-8 = 2 (no previous close)
	// TR1 = max(3, |12-9|, |9-9|) = 3
	// TR2 = max(4, |11-11|, |7-11|) = 4
	atr := NewATR(2)
	bars := []model.Candle{
		{High: 10, Low: 8, Close: 9},
		{High: 12, Low: 9, Close: 11},
		{High: 11, Low: 7, Close: 8},
	}

	atr.Update(bars[0])
	assertNaN(t, "ATR[0]", atr.Value())
	atr.Update(bars[1])
	assertClose(t, "ATR[1]", atr.Value(), 2.5, 1e-12)
	atr.Update(bars[2])
	assertClose(t, "ATR[2]", atr.Value(), 3.5, 1e-12)
}

func TestATR_GapUsesPreviousClose(t *testing.T) {
	// Gap up: previous close 100, next bar 110-108 → TR = |110-100| = 10
	atr := NewATR(1)
	atr.Update(model.Candle{High: 101, Low: 99, Close: 100})
	atr.Update(model.Candle{High: 110, Low: 108, Close: 109})
	assertClose(t, "ATR gap", atr.Value(), 10, 1e-12)
}

// ────────────────────────────────────────────────────────────
// VWAP Correctness
// ────────────────────────────────────────────────────────────

func TestVWAP_Correctness(t *testing.T) {
	// (100 × 10 + 110 × 30) / 40 = 107.5
	v := NewVWAP()
	v.Update(model.Candle{Close: 100, Volume: 10})
	if v.Value() != 100 {
		t.Fatalf("first VWAP must equal close exactly, got %v", v.Value())
	}
	v.Update(model.Candle{Close: 110, Volume: 30})
	assertClose(t, "VWAP", v.Value(), 107.5, 1e-12)
}

func TestVWAP_ZeroVolumeIsNaN(t *testing.T) {
	v := NewVWAP()
	v.Update(model.Candle{Close: 22000, Volume: 0})
	assertNaN(t, "VWAP without volume", v.Value())
	if v.Ready() {
		t.Error("VWAP should not be ready without volume")
	}
}

func TestRSIFrom_RoundingNoiseStaysInRange(t *testing.T) {
	if got := rsiFrom(-3e-13, 0.8); got != 0 {
		t.Errorf("negative zero-ish gain: got %v, want 0", got)
	}
	if got := rsiFrom(0.8, -3e-13); got != 100 {
		t.Errorf("negative zero-ish loss: got %v, want 100", got)
	}
	if got := rsiFrom(0, 0); got != 50 {
		t.Errorf("flat: got %v, want 50", got)
	}
}

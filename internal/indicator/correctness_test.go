package indicator

import (
	"math"
	"strconv"
	"testing"

	"chartcore/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func assertValue(t *testing.T, label string, got model.NullFloat, want, tol float64) {
	t.Helper()
	if !got.Valid {
		t.Errorf("%s: got None, want %.6f", label, want)
		return
	}
	assertClose(t, label, got.Float64, want, tol)
}

func assertNone(t *testing.T, label string, got model.NullFloat) {
	t.Helper()
	if got.Valid {
		t.Errorf("%s: got %.6f, want None", label, got.Float64)
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after price 3: (100+102+104)/3 = 102.0000
	// SMA after price 4: (102+104+103)/3 = 103.0000
	// SMA after price 5: (104+103+105)/3 = 104.0000

	sma := must(NewSMA(3))
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		got := sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("price %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertValue(t, "SMA(3) price "+strconv.Itoa(i), got, expected[i], 0.0001)
		} else {
			assertNone(t, "SMA(3) price "+strconv.Itoa(i), got)
		}
	}
}

func TestSMA_Identity(t *testing.T) {
	prices := []float64{3.5, 7.25, 1.125, 9, 4.75, 6.5, 2.25}
	for p := 1; p <= len(prices); p++ {
		series := must(SMASeries(prices, p))
		if len(series) != len(prices) {
			t.Fatalf("period %d: len=%d, want %d", p, len(series), len(prices))
		}
		mean := 0.0
		for _, v := range prices[:p] {
			mean += v
		}
		mean /= float64(p)
		assertValue(t, "SMA identity period "+strconv.Itoa(p), series[p-1], mean, 1e-12)
		for i := 0; i < p-1; i++ {
			assertNone(t, "SMA warm-up", series[i])
		}
	}
}

func TestSMA_LongStreamDrift(t *testing.T) {
	// Well past several sum rebuilds the rolling mean must still match a
	// direct mean of the window.
	sma := must(NewSMA(7))
	var got model.NullFloat
	prices := make([]float64, 5000)
	for i := range prices {
		prices[i] = 1e6 + float64(i%13)*0.1 + float64(i)*1e-3
		got = sma.Update(prices[i])
	}
	want := 0.0
	for _, p := range prices[len(prices)-7:] {
		want += p
	}
	assertValue(t, "SMA(7) after 5000", got, want/7, 1e-5)
}

func TestSMA_Peek_DoesNotMutate(t *testing.T) {
	sma := must(NewSMA(3))
	for _, p := range []float64{100, 102, 104} {
		sma.Update(p)
	}
	valueBefore := sma.Value()

	sma.Peek(200)

	assertValue(t, "SMA after Peek", sma.Value(), valueBefore.Float64, 0.0001)
}

func TestSMA_Peek_CorrectValue(t *testing.T) {
	sma := must(NewSMA(3))
	assertNone(t, "SMA Peek cold", sma.Peek(100))
	sma.Update(100)
	sma.Update(102)
	// Window fills with the peeked price: (100+102+104)/3 = 102
	assertValue(t, "SMA Peek filling", sma.Peek(104), 102.0, 0.0001)
	sma.Update(104)
	// Peek with 106: (102+104+106)/3 = 104
	assertValue(t, "SMA Peek", sma.Peek(106), 104.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	//
	// Price 3: seed = (100+102+104)/3 = 102.0
	// Price 4: EMA = (103-102)*0.5 + 102 = 102.5
	// Price 5: EMA = (105-102.5)*0.5 + 102.5 = 103.75

	ema := must(NewEMA(3))
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		got := ema.Update(p)
		if ema.Ready() != ready[i] {
			t.Errorf("price %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertValue(t, "EMA(3)", got, expected[i], 0.0001)
		} else {
			assertNone(t, "EMA(3)", got)
		}
	}
}

func TestEMA_SeedEqualsSMA(t *testing.T) {
	prices := []float64{10, 11.5, 9.25, 12, 13.75, 8, 14, 15.5}
	for _, p := range []int{1, 2, 4, 8} {
		ema := must(EMASeries(prices, p))
		sma := must(SMASeries(prices, p))
		assertValue(t, "EMA seed period "+strconv.Itoa(p), ema[p-1], sma[p-1].Float64, 1e-12)
	}
}

func TestEMA_Seed(t *testing.T) {
	ema := must(NewEMA(3))
	ema.Seed(200)
	if !ema.Ready() {
		t.Fatal("seeded EMA should be ready")
	}
	assertValue(t, "EMA seeded value", ema.Value(), 200, 0)
	// First price after the seed applies the recurrence: (100-200)*0.5 + 200
	assertValue(t, "EMA after seed", ema.Update(100), 150, 1e-12)
}

func TestEMA_Peek_DoesNotMutate(t *testing.T) {
	ema := must(NewEMA(3))
	for _, p := range []float64{100, 102, 104} {
		ema.Update(p)
	}
	before := ema.Value()
	// Peek with 106: (106-102)*0.5 + 102 = 104
	assertValue(t, "EMA Peek", ema.Peek(106), 104.0, 0.0001)
	assertValue(t, "EMA after Peek", ema.Value(), before.Float64, 0)
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// Seed = (100+102+104)/3 = 102.0
	// Price 4: (102.0*2 + 103)/3 = 102.3333
	// Price 5: (102.3333*2 + 105)/3 = 103.2222

	smma := must(NewSMMA(3))
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}

	for i, p := range prices {
		got := smma.Update(p)
		if i < 2 {
			assertNone(t, "SMMA(3) warm-up", got)
			continue
		}
		assertValue(t, "SMMA(3)", got, expected[i], 0.001)
	}
	// Peek with 106: (103.2222*2 + 106)/3 = 104.1481
	assertValue(t, "SMMA Peek", smma.Peek(106), 104.1481, 0.001)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// Deltas 1-5: +0.34, -0.25, -0.48, +0.72, +0.50
	//   avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI(index 5) = 100 - 100/(1+2.136986) = 68.1223
	// Index 6 (+0.27): avgGain 0.3036, avgLoss 0.1168 → 72.2169
	// Index 7 (+0.32): avgGain 0.30688, avgLoss 0.09344 → 76.6587
	// Index 8 (+0.42): avgGain 0.329504, avgLoss 0.074752 → 81.5087

	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	series := must(RSISeries(prices, 5))

	for i := 0; i < 5; i++ {
		assertNone(t, "RSI(5) warm-up", series[i])
	}
	assertValue(t, "RSI(5) index 5", series[5], 68.1223, 0.001)
	assertValue(t, "RSI(5) index 6", series[6], 72.2169, 0.001)
	assertValue(t, "RSI(5) index 7", series[7], 76.6587, 0.001)
	assertValue(t, "RSI(5) index 8", series[8], 81.5087, 0.001)
}

func TestRSI_ZeroLossSentinel(t *testing.T) {
	// avgLoss == 0 uses rs = 100, so RSI is 100 - 100/101 and never 100.
	want := 100 - 100/101.0

	up := must(NewRSI(5))
	for i := 0; i < 10; i++ {
		up.Update(100 + float64(i))
	}
	assertValue(t, "RSI all up", up.Value(), want, 1e-9)

	flat := must(NewRSI(5))
	for i := 0; i < 10; i++ {
		flat.Update(100)
	}
	assertValue(t, "RSI flat", flat.Value(), want, 1e-9)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := must(NewRSI(5))
	for i := 0; i < 10; i++ {
		rsi.Update(200 - float64(i))
	}
	assertValue(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

func TestRSI_MonotonicTrend(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 20 + float64(i)*0.5
	}
	series := must(RSISeries(prices, DefaultRSIPeriod))
	for i := DefaultRSIPeriod; i < len(series); i++ {
		v := series[i]
		if !v.Valid || v.Float64 >= 100 || v.Float64 <= 90 {
			t.Errorf("index %d: RSI=%v, want in (90, 100)", i, v)
		}
	}
}

func TestRSI_Bounds(t *testing.T) {
	prices := []float64{50, 52, 49, 47, 53, 58, 51, 50, 50, 62, 40, 41, 39, 45, 44, 70, 20}
	series := must(RSISeries(prices, 3))
	for i, v := range series {
		if v.Valid && (v.Float64 < 0 || v.Float64 > 100) {
			t.Errorf("index %d: RSI=%.4f out of [0,100]", i, v.Float64)
		}
	}
}

func TestRSI_Peek(t *testing.T) {
	rsi := must(NewRSI(5))
	assertNone(t, "RSI Peek cold", rsi.Peek(100))
	for i := 0; i < 10; i++ {
		rsi.Update(100 + float64(i))
	}
	before := rsi.Value()

	// Peek with a lower price → RSI should decrease
	peekDown := rsi.Peek(80)
	if !peekDown.Valid || peekDown.Float64 >= before.Float64 {
		t.Errorf("RSI Peek with lower price should decrease: peek=%v, current=%v", peekDown, before)
	}
	assertValue(t, "RSI after Peek", rsi.Value(), before.Float64, 0)

	// Peek must agree with the Update that follows.
	want := rsi.Peek(104)
	assertValue(t, "RSI Update vs Peek", rsi.Update(104), want.Float64, 1e-12)
}

// ────────────────────────────────────────────────────────────
// Bollinger Bands
// ────────────────────────────────────────────────────────────

func TestBollinger_Correctness_Period3(t *testing.T) {
	// Window 2, 4, 6: mean 4, population variance (4+0+4)/3 = 8/3
	// σ = 1.632993, upper = 4 + 2σ = 7.265986, lower = 0.734014
	bands := must(BollingerSeries([]float64{2, 4, 6}, 3, 2))
	if bands[0].Valid || bands[1].Valid {
		t.Fatalf("warm-up bands should be absent: %+v", bands[:2])
	}
	b := bands[2]
	if !b.Valid {
		t.Fatal("band at period-1 should be present")
	}
	assertClose(t, "BB middle", b.Middle, 4, 1e-12)
	assertClose(t, "BB upper", b.Upper, 7.265986, 1e-6)
	assertClose(t, "BB lower", b.Lower, 0.734014, 1e-6)
}

func TestBollinger_Ordering(t *testing.T) {
	prices := []float64{10, 12, 11, 15, 9, 14, 13, 16, 12, 18, 11, 10}
	bands := must(BollingerSeries(prices, 4, DefaultBollingerK))
	for i, b := range bands {
		if !b.Valid {
			continue
		}
		if !(b.Lower < b.Middle && b.Middle < b.Upper) {
			t.Errorf("index %d: want lower < middle < upper, got %+v", i, b)
		}
	}
}

func TestBollinger_FlatWindowCollapses(t *testing.T) {
	bands := must(BollingerSeries([]float64{5, 5, 5, 5}, 3, 2))
	b := bands[3]
	assertClose(t, "BB flat upper", b.Upper, 5, 0)
	assertClose(t, "BB flat lower", b.Lower, 5, 0)
}

func TestBollinger_PeekMatchesUpdate(t *testing.T) {
	bb := must(NewBollinger(3, 2))
	for _, p := range []float64{1, 3, 2, 8} {
		bb.UpdateBand(p)
	}
	peek := bb.PeekBand(5)
	before := bb.Band()
	got := bb.UpdateBand(5)
	assertClose(t, "BB peek upper", peek.Upper, got.Upper, 1e-12)
	assertClose(t, "BB peek lower", peek.Lower, got.Lower, 1e-12)
	if before == got {
		t.Error("Update should have moved the band")
	}
}

func TestBollinger_InvalidK(t *testing.T) {
	for _, k := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := NewBollinger(20, k); err == nil {
			t.Errorf("k=%v: expected error", k)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Cross-indicator: same data → correct ordering
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	// With steadily rising prices, faster MAs should be above slower MAs
	sma5 := must(NewSMA(5))
	sma20 := must(NewSMA(20))
	ema5 := must(NewEMA(5))

	for i := 0; i < 30; i++ {
		p := 100 + float64(i)
		sma5.Update(p)
		sma20.Update(p)
		ema5.Update(p)
	}

	if sma5.Value().Float64 <= sma20.Value().Float64 {
		t.Errorf("SMA(5) should be > SMA(20) in uptrend: SMA5=%v, SMA20=%v", sma5.Value(), sma20.Value())
	}
	if ema5.Value().Float64 <= sma20.Value().Float64 {
		t.Errorf("EMA(5) should be > SMA(20) in uptrend: EMA5=%v, SMA20=%v", ema5.Value(), sma20.Value())
	}
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	sma := must(NewSMA(10))
	ema := must(NewEMA(10))

	for i := 0; i < 20; i++ {
		sma.Update(100)
		ema.Update(100)
	}

	// Sudden jump to 120
	s := sma.Update(120)
	e := ema.Update(120)

	if e.Float64 <= s.Float64 {
		t.Errorf("EMA should react more than SMA to sudden price jump: EMA=%.4f, SMA=%.4f", e.Float64, s.Float64)
	}
}

// ────────────────────────────────────────────────────────────
// Reset and validation
// ────────────────────────────────────────────────────────────

func TestReset_MatchesFreshInstance(t *testing.T) {
	prices := []float64{10, 12, 11, 15, 9, 14, 13, 16, 12, 18}
	noise := []float64{500, 1, 250, 3, 999, 42, 7}

	builders := map[string]func() Indicator{
		"SMA":  func() Indicator { return must(NewSMA(4)) },
		"EMA":  func() Indicator { return must(NewEMA(4)) },
		"BB":   func() Indicator { return must(NewBollinger(4, 2)) },
		"RSI":  func() Indicator { return must(NewRSI(4)) },
		"SMMA": func() Indicator { return must(NewSMMA(4)) },
	}
	for name, build := range builders {
		used := build()
		Calculate(used, noise)
		used.Reset()
		if used.Ready() || used.Value().Valid {
			t.Errorf("%s: reset instance should be cold", name)
		}

		got := Calculate(used, prices)
		want := Calculate(build(), prices)
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s index %d: after Reset %v, fresh %v", name, i, got[i], want[i])
			}
		}
	}
}

func TestEmptyInput(t *testing.T) {
	if s := must(SMASeries(nil, 3)); len(s) != 0 {
		t.Errorf("SMA empty: %v", s)
	}
	if s := must(EMASeries([]float64{}, 3)); len(s) != 0 {
		t.Errorf("EMA empty: %v", s)
	}
	if s := must(RSISeries(nil, 3)); len(s) != 0 {
		t.Errorf("RSI empty: %v", s)
	}
	if s := must(BollingerSeries(nil, 3, 2)); len(s) != 0 {
		t.Errorf("BB empty: %v", s)
	}
}

func TestInvalidPeriod(t *testing.T) {
	for _, p := range []int{0, -3} {
		if _, err := SMASeries([]float64{1}, p); err == nil {
			t.Errorf("SMA period %d: expected error", p)
		}
		if _, err := EMASeries([]float64{1}, p); err == nil {
			t.Errorf("EMA period %d: expected error", p)
		}
		if _, err := RSISeries([]float64{1}, p); err == nil {
			t.Errorf("RSI period %d: expected error", p)
		}
		if _, err := NewSMMA(p); err == nil {
			t.Errorf("SMMA period %d: expected error", p)
		}
		if _, err := BollingerSeries([]float64{1}, p, 2); err == nil {
			t.Errorf("BB period %d: expected error", p)
		}
	}
}

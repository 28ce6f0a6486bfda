package technical

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

func TestSMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	got, ok := SMA(vals, 3)
	if !ok || got != 4 {
		t.Errorf("SMA = %v (%v), want 4", got, ok)
	}
	if _, ok := SMA(vals, 6); ok {
		t.Error("SMA on short input must report not-ok")
	}
}

func TestSMASeries(t *testing.T) {
	got := SMASeries([]float64{1, 2, 3, 4, 5}, 2)
	want := []float64{1.5, 2.5, 3.5, 4.5}
	if len(got) != len(want) {
		t.Fatalf("series length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("series[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEMAConvergesToLevel(t *testing.T) {
	vals := make([]float64, 60)
	for i := range vals {
		vals[i] = 100
	}
	series := EMA(vals, 12)
	if len(series) == 0 {
		t.Fatal("empty EMA")
	}
	if last := series[len(series)-1]; !almostEqual(last, 100, 1e-9) {
		t.Errorf("EMA of flat series = %v, want 100", last)
	}
}

func TestRSIMonotoneDecline(t *testing.T) {
	// A strictly falling series must pin RSI to the floor.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 - float64(i)
	}
	rsi, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("RSI not computed")
	}
	if rsi > 1 {
		t.Errorf("RSI of falling series = %v, want ~0", rsi)
	}
}

func TestRSIMonotoneRise(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("RSI not computed")
	}
	if rsi < 99 {
		t.Errorf("RSI of rising series = %v, want ~100", rsi)
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	// Alternate gains and losses of equal size; Wilder smoothing keeps
	// RSI pinned near 50.
	closes := []float64{100}
	for i := 0; i < 29; i++ {
		if i%2 == 0 {
			closes = append(closes, closes[len(closes)-1]+1)
		} else {
			closes = append(closes, closes[len(closes)-1]-1)
		}
	}
	rsi, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("RSI not computed")
	}
	if rsi < 40 || rsi > 60 {
		t.Errorf("RSI of alternating series = %v, want near 50", rsi)
	}
}

func TestLocalMinima(t *testing.T) {
	lows := []float64{5, 4, 3, 4, 5, 4, 3.5, 4.5, 5.5, 5, 4.8, 5.2, 6}
	idx := LocalMinima(lows, 2)
	if len(idx) == 0 {
		t.Fatal("no minima found")
	}
	if idx[0] != 2 {
		t.Errorf("first minimum at %d, want 2", idx[0])
	}
}

func TestHigherLows(t *testing.T) {
	// Three minima at 3.0, 3.5, 4.0 with rebounds between them.
	lows := []float64{
		5, 4, 3, 4, 5,
		5, 4.2, 3.5, 4.2, 5,
		5, 4.5, 4, 4.5, 5, 5.5,
	}
	if !HigherLows(lows, 40, 2, 1.0) {
		t.Error("rising minima must pass")
	}

	// Last low breaks under the prior by far more than the tolerance.
	broken := []float64{
		5, 4, 3.5, 4, 5,
		5, 4.2, 3.8, 4.2, 5,
		5, 4, 2.5, 4, 5, 5.5,
	}
	if HigherLows(broken, 40, 2, 1.0) {
		t.Error("broken structure must fail")
	}
}

func TestPullbackPct(t *testing.T) {
	closes := []float64{90, 95, 100, 96, 92}
	got, ok := PullbackPct(closes, 20)
	if !ok || !almostEqual(got, 8, 1e-9) {
		t.Errorf("pullback = %v (%v), want 8", got, ok)
	}
}

func TestSlopeUp(t *testing.T) {
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	if !SlopeUp(rising, 5, 10, 0.01) {
		t.Error("rising series must slope up")
	}

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 100 - float64(i)
	}
	if SlopeUp(falling, 5, 10, 0.01) {
		t.Error("falling series must not slope up")
	}
}

func TestShrinkRun(t *testing.T) {
	// Contracting tail with one 4% bounce that the wobble forgives.
	vols := []int64{1000, 900, 800, 830, 700}
	if run := ShrinkRun(vols, 1.05); run != 4 {
		t.Errorf("run = %d, want 4", run)
	}
	// A 20% jump breaks the run.
	vols = []int64{1000, 900, 1080, 700}
	if run := ShrinkRun(vols, 1.05); run != 1 {
		t.Errorf("run = %d, want 1", run)
	}
}

func TestRiseRun(t *testing.T) {
	vals := []float64{100, 102, 101, 103, 105}
	// 101 is within 5% of 102, so the run spans the full tail.
	if run := RiseRun(vals, 0.95); run != 4 {
		t.Errorf("run = %d, want 4", run)
	}
	vals = []float64{100, 102, 90, 95}
	if run := RiseRun(vals, 0.95); run != 1 {
		t.Errorf("run = %d, want 1", run)
	}
}

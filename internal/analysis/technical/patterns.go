package technical

// LocalMinima returns the indices of local price minima: bars at least
// as low as every bar within halfWindow on each side. Edge bars without
// a full window never qualify.
func LocalMinima(lows []float64, halfWindow int) []int {
	if halfWindow <= 0 || len(lows) < 2*halfWindow+1 {
		return nil
	}
	var idx []int
	for i := halfWindow; i < len(lows)-halfWindow; i++ {
		min := true
		for j := i - halfWindow; j <= i+halfWindow; j++ {
			if lows[j] < lows[i] {
				min = false
				break
			}
		}
		if min {
			idx = append(idx, i)
		}
	}
	return idx
}

// HigherLows reports whether the series shows at least minCount rising
// steps between successive local minima inside the trailing lookback
// bars. tolerancePct allows a later low to undercut the prior one by up
// to that percentage and still count as holding.
func HigherLows(lows []float64, lookback, minCount int, tolerancePct float64) bool {
	if len(lows) > lookback {
		lows = lows[len(lows)-lookback:]
	}
	minima := LocalMinima(lows, 2)
	if len(minima) < 2 {
		return false
	}
	rising := 0
	for i := 1; i < len(minima); i++ {
		prev := lows[minima[i-1]]
		cur := lows[minima[i]]
		if cur >= prev*(1-tolerancePct/100) {
			rising++
		} else {
			rising = 0
		}
	}
	return rising >= minCount
}

// PullbackPct returns the percent decline of the last close from the
// highest close inside the trailing window.
func PullbackPct(closes []float64, window int) (float64, bool) {
	if len(closes) == 0 {
		return 0, false
	}
	if len(closes) > window {
		closes = closes[len(closes)-window:]
	}
	high := closes[0]
	for _, c := range closes {
		if c > high {
			high = c
		}
	}
	if high <= 0 {
		return 0, false
	}
	last := closes[len(closes)-1]
	return (high - last) / high * 100, true
}

// SlopeUp compares the mean of the last recent values against the mean
// of the recent values ending gap bars earlier. tolerance is a fraction
// the newer mean may fall short by and still count as rising.
func SlopeUp(series []float64, recent, gap int, tolerance float64) bool {
	if recent <= 0 || len(series) < recent+gap {
		return false
	}
	newer := mean(series[len(series)-recent:])
	older := mean(series[len(series)-recent-gap : len(series)-gap])
	return newer >= older*(1-tolerance)
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// ShrinkRun returns how many trailing bars form a contracting volume
// run. wobble is the multiple of the previous bar a day may reach and
// still extend the run (1.05 allows a 5% bounce).
func ShrinkRun(volumes []int64, wobble float64) int {
	if len(volumes) < 2 {
		return 0
	}
	run := 0
	for i := len(volumes) - 1; i > 0; i-- {
		if float64(volumes[i]) <= float64(volumes[i-1])*wobble {
			run++
		} else {
			break
		}
	}
	return run
}

// RiseRun returns how many trailing bars form a rising run. wobble is
// the multiple of the previous bar a day may dip to and still extend
// the run (0.95 allows a 5% pullback).
func RiseRun(values []float64, wobble float64) int {
	if len(values) < 2 {
		return 0
	}
	run := 0
	for i := len(values) - 1; i > 0; i-- {
		if values[i] >= values[i-1]*wobble {
			run++
		} else {
			break
		}
	}
	return run
}

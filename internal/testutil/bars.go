// Package testutil builds deterministic OHLCV fixtures for tests.
package testutil

import (
	"math"
	"math/rand"
	"time"

	"PatternScan/internal/domain/models"
)

// Epoch is the timestamp of the first generated bar.
var Epoch = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

// Bars turns close prices into bars one minute apart. Open is the previous
// close; high and low bracket open and close by a small margin.
func Bars(closes []float64) []models.Bar {
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		hi := math.Max(open, c) + 0.1
		lo := math.Min(open, c) - 0.1
		out[i] = models.Bar{
			Time:   Epoch.Add(time.Duration(i) * time.Minute),
			Open:   open,
			High:   hi,
			Low:    lo,
			Close:  c,
			Volume: 1000 + float64(i%7)*10,
		}
	}
	return out
}

// RandomWalk returns n closes starting at 100.
func RandomWalk(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	p := 100.0
	for i := range out {
		p += rng.NormFloat64()
		out[i] = p
	}
	return out
}

// DoubleTop returns n closes tracing two peaks, with noise of the given
// amplitude and a phase shift in bars.
func DoubleTop(seed int64, n int, noise float64, shift int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		x := float64(i+shift) / float64(n)
		out[i] = 100 + 10*peak(x, 0.3) + 10*peak(x, 0.7) + noise*rng.NormFloat64()
	}
	return out
}

// DoubleBottom is the reflection of DoubleTop.
func DoubleBottom(seed int64, n int, noise float64, shift int) []float64 {
	top := DoubleTop(seed, n, noise, shift)
	for i := range top {
		top[i] = 200 - top[i]
	}
	return top
}

// Trend returns n closes along a straight line of the given slope plus noise.
func Trend(seed int64, n int, slope, noise float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + slope*float64(i) + noise*rng.NormFloat64()
	}
	return out
}

// Flat returns n identical closes.
func Flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func peak(x, centre float64) float64 {
	d := (x - centre) / 0.08
	return math.Exp(-d * d)
}

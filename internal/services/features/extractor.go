package features

import (
	"math"
	"time"

	"PatternScan/internal/domain/models"
)

// Roughness is the mean absolute second difference of xs. It is zero for a
// straight line and unchanged when xs is negated or shifted.
func Roughness(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	sum := 0.0
	for i := 2; i < len(xs); i++ {
		sum += math.Abs(xs[i] - 2*xs[i-1] + xs[i-2])
	}
	return sum / float64(len(xs)-2)
}

// Smoothness maps roughness into (0,1].
func Smoothness(xs []float64) float64 {
	return 1 / (1 + Roughness(xs))
}

// Completeness is the share of bar-to-bar gaps equal to the most common gap,
// so a window with missing bars scores below 1.
func Completeness(w models.Window) float64 {
	if len(w) < 2 {
		return 1
	}
	counts := make(map[time.Duration]int, 4)
	best := 0
	for i := 1; i < len(w); i++ {
		gap := w[i].Time.Sub(w[i-1].Time)
		counts[gap]++
		best = max(best, counts[gap])
	}
	return float64(best) / float64(len(w)-1)
}

// Quality scores a template in [0,1] from its normalized shape and bar
// spacing. Both inputs survive mirroring, so a mirror scores like its parent.
func Quality(w models.Window, rep models.Representation) float64 {
	q := 0.5*Smoothness(rep.Normalized) + 0.5*Completeness(w)
	return math.Min(1, math.Max(0, q))
}

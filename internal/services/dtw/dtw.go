package dtw

import (
	"math"

	"PatternScan/internal/domain/errs"
)

// abandonSlack keeps ties on the cutoff from being abandoned after the
// cutoff has been rescaled from normalized units.
const abandonSlack = 1e-9

// Distance computes the raw DTW distance between a (length m) and b (length n):
//
//	cost(i,j) = |a[i] - b[j]|
//	D(0,0)    = cost(0,0)
//	D(i,j)    = cost(i,j) + min(D(i-1,j)+ω, D(i,j-1)+ω, D(i-1,j-1))
//
// ω is zero except under ADTW. Under SakoeChiba only cells with
// |i·n/m − j| ≤ w·max(m,n) are evaluated; the rest are +Inf, so a band too
// narrow to connect (0,0) to (m-1,n-1) yields +Inf.
//
// Two rows of the matrix are kept, so memory is O(n).
func Distance(a, b []float64, o Options) (float64, error) {
	return DistanceWithin(a, b, o, math.Inf(1))
}

// DistanceWithin is Distance with early abandoning: once every cell of a row
// exceeds cutoff the final distance must too, and +Inf is returned.
// Values equal to cutoff are never abandoned.
func DistanceWithin(a, b []float64, o Options, cutoff float64) (float64, error) {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return 0, errs.InvalidSequence("dtw.distance", "input sequences must be non-empty").
			WithParam("len_a", m).
			WithParam("len_b", n)
	}
	if i := firstNonFinite(a); i >= 0 {
		return 0, errs.InvalidSequence("dtw.distance", "non-finite value in first sequence").WithParam("index", i)
	}
	if i := firstNonFinite(b); i >= 0 {
		return 0, errs.InvalidSequence("dtw.distance", "non-finite value in second sequence").WithParam("index", i)
	}

	penalty := 0.0
	if o.Constraint == ADTW {
		penalty = o.Penalty
	}
	inf := math.Inf(1)

	prev := make([]float64, n)
	curr := make([]float64, n)
	for j := range prev {
		prev[j] = inf
		curr[j] = inf
	}
	// index ranges currently written in each buffer
	prevLo, prevHi := 0, -1
	currLo, currHi := 0, -1

	for i := 0; i < m; i++ {
		for j := currLo; j <= currHi; j++ {
			curr[j] = inf
		}
		lo, hi := rowBounds(i, m, n, o)
		rowMin := inf
		for j := lo; j <= hi; j++ {
			best := 0.0
			if i > 0 || j > 0 {
				best = prev[j] + penalty
				if j > 0 {
					best = min3(best, curr[j-1]+penalty, prev[j-1])
				}
			}
			v := math.Abs(a[i]-b[j]) + best
			curr[j] = v
			if v < rowMin {
				rowMin = v
			}
		}
		if rowMin > cutoff {
			return inf, nil
		}
		prev, curr = curr, prev
		currLo, currHi = prevLo, prevHi
		prevLo, prevHi = lo, hi
	}
	return prev[n-1], nil
}

// Normalized divides the raw distance by the combined length m+n so that
// distances of different window lengths are comparable.
func Normalized(a, b []float64, o Options) (float64, error) {
	return NormalizedWithin(a, b, o, math.Inf(1))
}

// NormalizedWithin is Normalized with early abandoning against a cutoff in
// normalized units.
func NormalizedWithin(a, b []float64, o Options, cutoff float64) (float64, error) {
	scale := float64(len(a) + len(b))
	raw, err := DistanceWithin(a, b, o, cutoff*scale*(1+abandonSlack))
	if err != nil {
		return 0, err
	}
	if math.IsInf(raw, 1) {
		return raw, nil
	}
	return raw / scale, nil
}

// rowBounds returns the inclusive column range evaluated in row i.
func rowBounds(i, m, n int, o Options) (int, int) {
	if o.Constraint != SakoeChiba {
		return 0, n - 1
	}
	r := o.Window*float64(max(m, n)) + bandEps
	c := float64(i) * float64(n) / float64(m)
	lo := int(math.Ceil(c - r))
	hi := int(math.Floor(c + r))
	return max(lo, 0), min(hi, n-1)
}

func firstNonFinite(xs []float64) int {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return i
		}
	}
	return -1
}

func min3(a, b, c float64) float64 {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

package dtw

import "PatternScan/internal/domain/errs"

// Envelope holds the LB_Keogh upper and lower envelopes of a sequence:
// Upper[i] = max(seq[i-r..i+r]), Lower[i] = min(seq[i-r..i+r]).
type Envelope struct {
	Upper []float64
	Lower []float64
}

// Len returns the envelope length.
func (e Envelope) Len() int { return len(e.Upper) }

// NewEnvelope computes the envelope of seq with half-width r using monotonic
// deques, O(len(seq)).
func NewEnvelope(seq []float64, r int) Envelope {
	n := len(seq)
	env := Envelope{Upper: make([]float64, n), Lower: make([]float64, n)}
	if n == 0 {
		return env
	}
	if r < 0 {
		r = 0
	}
	maxQ := make([]int, 0, n)
	minQ := make([]int, 0, n)
	next := 0
	for i := 0; i < n; i++ {
		// admit every index up to i+r
		for ; next < n && next <= i+r; next++ {
			for len(maxQ) > 0 && seq[maxQ[len(maxQ)-1]] <= seq[next] {
				maxQ = maxQ[:len(maxQ)-1]
			}
			maxQ = append(maxQ, next)
			for len(minQ) > 0 && seq[minQ[len(minQ)-1]] >= seq[next] {
				minQ = minQ[:len(minQ)-1]
			}
			minQ = append(minQ, next)
		}
		// evict indices left of i-r
		for maxQ[0] < i-r {
			maxQ = maxQ[1:]
		}
		for minQ[0] < i-r {
			minQ = minQ[1:]
		}
		env.Upper[i] = seq[maxQ[0]]
		env.Lower[i] = seq[minQ[0]]
	}
	return env
}

// LowerBound returns the absolute-form LB_Keogh bound
//
//	Σ_i max(0, q[i]-U[i], L[i]-q[i])
//
// which never exceeds Distance(q, t) when env was built from t with
// Radius(len(t), o) under the same options: every q[i] is matched by the
// warping path to some t[j] with |i-j| ≤ r, and |q[i]-t[j]| is at least the
// distance from q[i] to [L[i], U[i]].
func LowerBound(q []float64, env Envelope) (float64, error) {
	if len(q) != env.Len() {
		return 0, errs.InvalidSequence("dtw.lower_bound", "query and envelope lengths differ").
			WithParam("query_length", len(q)).
			WithParam("envelope_length", env.Len())
	}
	sum := 0.0
	for i, x := range q {
		switch {
		case x > env.Upper[i]:
			sum += x - env.Upper[i]
		case x < env.Lower[i]:
			sum += env.Lower[i] - x
		}
	}
	return sum, nil
}

// NormalizedLowerBound scales LowerBound by the same 2·len factor Normalized
// applies to equal-length sequences.
func NormalizedLowerBound(q []float64, env Envelope) (float64, error) {
	lb, err := LowerBound(q, env)
	if err != nil {
		return 0, err
	}
	if len(q) == 0 {
		return 0, nil
	}
	return lb / float64(2*len(q)), nil
}

// Applicable reports whether an envelope can bound a query of length n.
func (e Envelope) Applicable(n int) bool {
	return n > 0 && e.Len() == n
}

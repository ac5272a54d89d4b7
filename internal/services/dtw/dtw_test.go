package dtw_test

import (
	"math"
	"math/rand"
	"testing"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/services/dtw"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func options(c dtw.Constraint) dtw.Options {
	o := dtw.DefaultOptions()
	o.Constraint = c
	return o
}

// TestDistance_EmptyInput verifies that empty input is rejected.
func TestDistance_EmptyInput(t *testing.T) {
	_, err := dtw.Distance(nil, []float64{1, 2}, dtw.DefaultOptions())
	assert.ErrorIs(t, err, errs.ErrInvalidSequence)

	_, err = dtw.Distance([]float64{1}, []float64{}, dtw.DefaultOptions())
	assert.ErrorIs(t, err, errs.ErrInvalidSequence)
}

// TestDistance_NonFinite verifies that NaN input is rejected rather than
// propagated into the matrix.
func TestDistance_NonFinite(t *testing.T) {
	_, err := dtw.Distance([]float64{1, math.NaN()}, []float64{1, 2}, dtw.DefaultOptions())
	assert.ErrorIs(t, err, errs.ErrInvalidSequence)
}

// TestDistance_SelfIsZero checks DTW(S,S) = 0 for random sequences under
// every constraint.
func TestDistance_SelfIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, c := range []dtw.Constraint{dtw.SakoeChiba, dtw.ADTW, dtw.None} {
		for trial := 0; trial < 50; trial++ {
			s := randomSeq(rng, 2+rng.Intn(60))
			d, err := dtw.Distance(s, s, options(c))
			require.NoError(t, err)
			assert.Equal(t, 0.0, d, "constraint %s", c)
		}
	}
}

// TestDistance_Warping checks that a repeated element is absorbed by the
// warp when the path is free and blocked by a zero-width band.
func TestDistance_Warping(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{1, 2, 2, 3}

	d, err := dtw.Distance(a, b, options(dtw.None))
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)

	o := options(dtw.SakoeChiba)
	o.Window = 0
	d, err = dtw.Distance(a, b, o)
	require.NoError(t, err)
	assert.True(t, math.IsInf(d, 1), "unreachable corner must yield +Inf")

	o = options(dtw.ADTW)
	o.Penalty = 0.5
	d, err = dtw.Distance(a, b, o)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d, 1e-12, "one off-diagonal step pays the penalty once")
}

// TestDistance_KnownValue checks a hand-computed diagonal.
func TestDistance_KnownValue(t *testing.T) {
	a := []float64{0, 0, 0}
	b := []float64{1, 1, 1}
	d, err := dtw.Distance(a, b, options(dtw.None))
	require.NoError(t, err)
	assert.Equal(t, 3.0, d)

	n, err := dtw.Normalized(a, b, options(dtw.None))
	require.NoError(t, err)
	assert.Equal(t, 0.5, n)
}

// TestDistance_UnequalLengths checks a band that still connects both corners
// when m != n.
func TestDistance_UnequalLengths(t *testing.T) {
	a := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	b := []float64{0, 2, 4, 6, 8}
	o := options(dtw.SakoeChiba)
	o.Window = 0.2

	d, err := dtw.Distance(a, b, o)
	require.NoError(t, err)
	assert.False(t, math.IsInf(d, 0))
	assert.Greater(t, d, 0.0)

	free, err := dtw.Distance(a, b, options(dtw.None))
	require.NoError(t, err)
	assert.LessOrEqual(t, free, d, "the band can only remove paths")
}

// TestDistance_NegationInvariant checks that reflecting both sequences does
// not change the distance.
func TestDistance_NegationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 30; trial++ {
		a := randomSeq(rng, 10+rng.Intn(30))
		b := randomSeq(rng, 10+rng.Intn(30))
		d1, err := dtw.Distance(a, b, options(dtw.None))
		require.NoError(t, err)
		d2, err := dtw.Distance(negate(a), negate(b), options(dtw.None))
		require.NoError(t, err)
		assert.InDelta(t, d1, d2, 1e-9)
	}
}

// TestDistanceWithin_Abandon checks that abandoning only triggers strictly
// above the cutoff.
func TestDistanceWithin_Abandon(t *testing.T) {
	a := []float64{0, 0, 0}
	b := []float64{1, 1, 1}
	o := options(dtw.None)

	d, err := dtw.DistanceWithin(a, b, o, 2)
	require.NoError(t, err)
	assert.True(t, math.IsInf(d, 1))

	d, err = dtw.DistanceWithin(a, b, o, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, d)

	n, err := dtw.NormalizedWithin(a, b, o, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, n)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, dtw.DefaultOptions().Validate())

	o := dtw.DefaultOptions()
	o.Constraint = "itakura"
	assert.ErrorIs(t, o.Validate(), errs.ErrConfiguration)

	o = dtw.DefaultOptions()
	o.Variant = "raw"
	assert.ErrorIs(t, o.Validate(), errs.ErrConfiguration)

	o = dtw.DefaultOptions()
	o.Window = 1.5
	assert.ErrorIs(t, o.Validate(), errs.ErrConfiguration)

	o = dtw.DefaultOptions()
	o.Penalty = -1
	assert.ErrorIs(t, o.Validate(), errs.ErrConfiguration)
}

func TestSelect(t *testing.T) {
	rep := models.Representation{Normalized: []float64{1}, Derivative: []float64{2}}
	assert.Equal(t, []float64{1}, dtw.Select(rep, dtw.Standard))
	assert.Equal(t, []float64{2}, dtw.Select(rep, dtw.Derivative))
}

func randomSeq(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func negate(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = -x
	}
	return out
}

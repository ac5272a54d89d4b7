package preprocess

import (
	"math"
	"testing"
	"time"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformZScore(t *testing.T) {
	w := models.Window(testutil.Bars([]float64{1, 2, 3, 4, 5}))
	rep, err := New().Transform(w)
	require.NoError(t, err)
	require.Len(t, rep.Normalized, 5)
	require.Len(t, rep.Derivative, 5)

	mean, std := MeanStd(rep.Normalized)
	assert.InDelta(t, 0, mean, 1e-12)
	assert.InDelta(t, 1, std, 1e-12)

	// linear input: every derivative equals the normalized step
	step := rep.Normalized[1] - rep.Normalized[0]
	for _, d := range rep.Derivative {
		assert.InDelta(t, step, d, 1e-12)
	}
}

func TestTransformMinMax(t *testing.T) {
	w := models.Window(testutil.Bars([]float64{10, 20, 15}))
	rep, err := New(WithNormalization(MinMax)).Transform(w)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0.5}, rep.Normalized)
}

func TestTransformDegenerate(t *testing.T) {
	w := models.Window(testutil.Bars(testutil.Flat(20, 42)))
	_, err := New().Transform(w)
	assert.ErrorIs(t, err, errs.ErrDegenerateWindow)

	_, err = New(WithNormalization(MinMax)).Transform(w)
	assert.ErrorIs(t, err, errs.ErrDegenerateWindow)
}

func TestValidateRejectsBadWindows(t *testing.T) {
	p := New()

	assert.ErrorIs(t, p.Validate(models.Window(testutil.Bars([]float64{1}))), errs.ErrInvalidWindow)

	bars := testutil.Bars([]float64{1, 2, 3})
	bars[2].Time = bars[1].Time
	assert.ErrorIs(t, p.Validate(bars), errs.ErrInvalidWindow)

	bars = testutil.Bars([]float64{1, 2, 3})
	bars[1].Close = math.NaN()
	assert.ErrorIs(t, p.Validate(bars), errs.ErrInvalidWindow)
}

func TestDerivativeBoundaries(t *testing.T) {
	d := Derivative([]float64{0, 1, 4, 9})
	assert.Equal(t, []float64{1, 2, 4, 5}, d)
	assert.Equal(t, []float64{0}, Derivative([]float64{7}))
}

func TestPricesSources(t *testing.T) {
	w := models.Window{{Time: time.Unix(0, 0), Open: 1, High: 4, Low: 0, Close: 3}}
	assert.Equal(t, []float64{3}, Prices(w, SourceClose))
	assert.InDelta(t, 7.0/3, Prices(w, SourceHLC3)[0], 1e-12)
	assert.InDelta(t, 2, Prices(w, SourceOHLC4)[0], 1e-12)
}

func TestWindowOffsets(t *testing.T) {
	offs, err := WindowOffsets(500, 50, 5)
	require.NoError(t, err)
	assert.Len(t, offs, 91)
	assert.Equal(t, 0, offs[0])
	assert.Equal(t, 450, offs[len(offs)-1])

	offs, err = WindowOffsets(50, 50, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, offs)

	_, err = WindowOffsets(40, 50, 5)
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)
	_, err = WindowOffsets(100, 50, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)
}

func TestExtract(t *testing.T) {
	bars := testutil.Bars(testutil.RandomWalk(1, 30))

	w, err := ExtractFixed(bars, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, bars[10].Time, w.Start())
	assert.Equal(t, bars[14].Time, w.End())

	_, err = ExtractFixed(bars, 28, 5)
	assert.ErrorIs(t, err, errs.ErrInvalidWindow)

	w, start, err := ExtractAnchored(bars, 3, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, start)
	assert.Len(t, w, 7)

	w, start, err = ExtractAnchored(bars, 27, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 22, start)
	assert.Len(t, w, 8)
}

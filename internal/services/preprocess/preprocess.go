package preprocess

import (
	"math"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
)

// Normalization selects how a price sequence is scaled.
type Normalization string

const (
	ZScore Normalization = "zscore"
	MinMax Normalization = "minmax"
)

// Source selects which price of each bar feeds the sequence.
type Source string

const (
	SourceClose Source = "close"
	SourceHLC3  Source = "hlc3"
	SourceOHLC4 Source = "ohlc4"
)

// degenerateTol is the relative spread below which a window counts as flat.
const degenerateTol = 1e-12

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithNormalization sets the scaling method.
func WithNormalization(n Normalization) Option {
	return func(p *Preprocessor) {
		p.normalization = n
	}
}

// WithSource sets the price source.
func WithSource(s Source) Option {
	return func(p *Preprocessor) {
		p.source = s
	}
}

// Preprocessor turns raw windows into comparable numeric sequences.
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	normalization Normalization
	source        Source
}

// New returns a z-score, close-price preprocessor unless overridden.
func New(opts ...Option) *Preprocessor {
	p := &Preprocessor{normalization: ZScore, source: SourceClose}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Normalization reports the configured scaling method.
func (p *Preprocessor) Normalization() Normalization { return p.normalization }

// Source reports the configured price source.
func (p *Preprocessor) Source() Source { return p.source }

// Validate checks the window invariants: at least two bars, finite values,
// strictly increasing timestamps.
func (p *Preprocessor) Validate(w models.Window) error {
	const op = "preprocess.validate"
	if len(w) < 2 {
		return errs.InvalidWindow(op, "window needs at least 2 bars").WithParam("length", len(w))
	}
	return ValidateBars(op, w)
}

// Transform validates the window and returns its normalized and derivative
// sequences, both of length len(w).
func (p *Preprocessor) Transform(w models.Window) (models.Representation, error) {
	if err := p.Validate(w); err != nil {
		return models.Representation{}, err
	}
	prices := Prices(w, p.source)

	var (
		norm []float64
		err  error
	)
	switch p.normalization {
	case MinMax:
		norm, err = MinMaxScale(prices)
	case ZScore, "":
		norm, err = ZScoreScale(prices)
	default:
		return models.Representation{}, errs.Configurationf("preprocess.transform", "unknown normalization %q", p.normalization)
	}
	if err != nil {
		return models.Representation{}, err
	}
	return models.Representation{Normalized: norm, Derivative: Derivative(norm)}, nil
}

// ValidateBars checks finite values and strictly increasing timestamps.
func ValidateBars(op string, bars []models.Bar) error {
	for i, b := range bars {
		if !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close) || !finite(b.Volume) {
			return errs.InvalidWindow(op, "bar has a missing or non-finite value").WithParam("index", i)
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return errs.InvalidWindow(op, "timestamps must be strictly increasing").
				WithParam("index", i).
				WithParam("time", b.Time)
		}
	}
	return nil
}

// Prices extracts one value per bar according to src.
func Prices(w models.Window, src Source) []float64 {
	out := make([]float64, len(w))
	for i, b := range w {
		switch src {
		case SourceHLC3:
			out[i] = (b.High + b.Low + b.Close) / 3
		case SourceOHLC4:
			out[i] = (b.Open + b.High + b.Low + b.Close) / 4
		default:
			out[i] = b.Close
		}
	}
	return out
}

// ZScoreScale subtracts the mean and divides by the population standard deviation.
func ZScoreScale(xs []float64) ([]float64, error) {
	mean, std := MeanStd(xs)
	if std <= degenerateTol*math.Max(1, math.Abs(mean)) {
		return nil, errs.DegenerateWindow("preprocess.zscore", "standard deviation is zero").
			WithParam("length", len(xs)).
			WithParam("mean", mean)
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out, nil
}

// MinMaxScale maps xs onto [0,1].
func MinMaxScale(xs []float64) ([]float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	span := hi - lo
	if span <= degenerateTol*math.Max(1, math.Abs(hi)) {
		return nil, errs.DegenerateWindow("preprocess.minmax", "window has no price range").
			WithParam("length", len(xs)).
			WithParam("value", hi)
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - lo) / span
	}
	return out, nil
}

// Derivative is a centered finite difference with one-sided differences at
// both ends. The result has the same length as xs.
func Derivative(xs []float64) []float64 {
	n := len(xs)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = xs[1] - xs[0]
	out[n-1] = xs[n-1] - xs[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (xs[i+1] - xs[i-1]) / 2
	}
	return out
}

// MeanStd returns the mean and population standard deviation.
func MeanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

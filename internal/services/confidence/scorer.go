// Package confidence turns a nearest-neighbor result into a single score in
// [0,1] built from four factors: closeness, consensus, separation and
// template quality.
package confidence

import (
	"math"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/services/matcher"
)

// weightTolerance is how far the weights may stray from summing to 1.
const weightTolerance = 1e-6

// Weights are the coefficients of the four sub-scores.
type Weights struct {
	Closeness  float64 `json:"closeness" yaml:"closeness" default:"0.35" validate:"gte=0,lte=1"`
	Consensus  float64 `json:"consensus" yaml:"consensus" default:"0.30" validate:"gte=0,lte=1"`
	Separation float64 `json:"separation" yaml:"separation" default:"0.20" validate:"gte=0,lte=1"`
	Quality    float64 `json:"quality" yaml:"quality" default:"0.15" validate:"gte=0,lte=1"`
}

func DefaultWeights() Weights {
	return Weights{Closeness: 0.35, Consensus: 0.30, Separation: 0.20, Quality: 0.15}
}

func (w Weights) Sum() float64 {
	return w.Closeness + w.Consensus + w.Separation + w.Quality
}

// Validate requires nonnegative finite weights summing to 1.
func (w Weights) Validate() error {
	const op = "confidence.weights"
	for name, v := range map[string]float64{
		"closeness":  w.Closeness,
		"consensus":  w.Consensus,
		"separation": w.Separation,
		"quality":    w.Quality,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return errs.Configurationf(op, "weight %s must be a nonnegative number", name).WithParam(name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return errs.Configurationf(op, "weights sum to %g, want 1", sum).
			WithParam("sum", sum).
			WithParam("tolerance", weightTolerance)
	}
	return nil
}

// Scorer is stateless after construction and safe for concurrent use.
type Scorer struct {
	w Weights
}

func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{w: w}, nil
}

func (s *Scorer) Weights() Weights { return s.w }

// Score computes the sub-scores of res and their clamped weighted sum.
// k is the neighbor count requested; separation is 0 when it is 1.
func (s *Scorer) Score(res *matcher.Result, k int) (models.SubScores, float64) {
	sub := models.SubScores{
		Closeness:  Closeness(res.Nearest),
		Consensus:  Consensus(res),
		Separation: Separation(res, k),
		Quality:    Quality(res),
	}
	c := s.w.Closeness*sub.Closeness +
		s.w.Consensus*sub.Consensus +
		s.w.Separation*sub.Separation +
		s.w.Quality*sub.Quality
	return sub, clamp01(c)
}

// Closeness is 1/(1+d): 1 at distance 0, falling toward 0.
func Closeness(nearest float64) float64 {
	if math.IsNaN(nearest) || nearest < 0 {
		return 0
	}
	return clamp01(1 / (1 + nearest))
}

// Consensus is the winner's share of the total vote weight.
func Consensus(res *matcher.Result) float64 {
	total := res.TotalWeight()
	if total <= 0 {
		return 0
	}
	return clamp01(res.Votes[res.Label] / total)
}

// Separation is the winner's lead over the runner-up relative to the
// winner's weight. A unanimous vote scores 1; a single neighbor scores 0.
func Separation(res *matcher.Result, k int) float64 {
	if k <= 1 || len(res.Neighbors) <= 1 {
		return 0
	}
	top := res.Votes[res.Label]
	if top <= 0 {
		return 0
	}
	_, second := res.RunnerUp()
	return clamp01((top - second) / top)
}

// Quality averages the stored quality of the neighbors that voted for the
// winner, weighted by their votes.
func Quality(res *matcher.Result) float64 {
	num, den := 0.0, 0.0
	for _, n := range res.Neighbors {
		if n.Label != res.Label {
			continue
		}
		num += n.Weight * n.Quality
		den += n.Weight
	}
	if den <= 0 {
		return 0
	}
	return clamp01(num / den)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Min(1, math.Max(0, x))
}

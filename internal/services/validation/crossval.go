// Package validation measures how well a library classifies its own
// templates by held-out evaluation, and tunes the confidence threshold.
package validation

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/services/confidence"
	"PatternScan/internal/services/library"
	"PatternScan/internal/services/matcher"
	applogger "PatternScan/pkg/logger"
)

// Objective is the metric a threshold sweep maximizes.
type Objective string

const (
	F1        Objective = "f1"
	Precision Objective = "precision"
	Recall    Objective = "recall"
	Accuracy  Objective = "accuracy"
)

const (
	// looLimit is the largest library evaluated leave-one-out under auto folds.
	looLimit     = 10
	defaultFolds = 5
)

type Options struct {
	// Folds is the fold count; 0 picks leave-one-out for small libraries
	// and 5 folds otherwise.
	Folds            int   `json:"folds" yaml:"folds"`
	Seed             int64 `json:"seed" yaml:"seed"`
	ExcludeAugmented bool  `json:"exclude_augmented" yaml:"exclude_augmented"`
}

func DefaultOptions() Options {
	return Options{Seed: 42, ExcludeAugmented: true}
}

type Option func(*Validator)

func WithOptions(o Options) Option {
	return func(v *Validator) { v.opts = o }
}

func WithFolds(n int) Option {
	return func(v *Validator) { v.opts.Folds = n }
}

func WithLogger(l *applogger.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.l = l
		}
	}
}

// Validator runs cross-validation against the current library snapshot.
type Validator struct {
	lib    *library.Library
	m      *matcher.Matcher
	scorer *confidence.Scorer
	opts   Options
	l      *applogger.Logger
}

func New(lib *library.Library, m *matcher.Matcher, s *confidence.Scorer, opts ...Option) *Validator {
	v := &Validator{lib: lib, m: m, scorer: s, opts: DefaultOptions(), l: applogger.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run evaluates every template against the rest of the library and scores
// the predictions at threshold.
func (v *Validator) Run(ctx context.Context, threshold float64) (*Report, error) {
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}
	preds, folds, partial, err := v.Predict(ctx)
	if err != nil {
		return nil, err
	}
	rep := Evaluate(preds, threshold)
	rep.Folds = folds
	rep.Partial = partial
	v.l.Info("cross-validation finished",
		applogger.Int("templates", rep.Total),
		applogger.Int("folds", folds),
		applogger.Float64("threshold", threshold),
		applogger.Float64("accuracy", rep.Accuracy),
		applogger.Float64("macro_f1", rep.MacroF1),
		applogger.Bool("partial", partial),
	)
	return rep, nil
}

// Predict classifies each evaluable template against a training view that
// excludes its fold, together with mirrors of the fold's templates and
// parents of the fold's mirrors.
func (v *Validator) Predict(ctx context.Context) ([]Prediction, int, bool, error) {
	const op = "validation.predict"
	start := time.Now()
	snap, err := v.m.Snapshot()
	if err != nil {
		return nil, 0, false, err
	}

	var eval []*models.Pattern
	for _, p := range snap.Patterns() {
		if v.opts.ExcludeAugmented && p.Augmented {
			continue
		}
		eval = append(eval, p)
	}
	switch {
	case len(eval) == 0:
		return nil, 0, false, errs.EmptyLibrary(op)
	case len(eval) < 2:
		return nil, 0, false, errs.New(errs.ErrInsufficientNeighbors, op, "cross-validation needs at least 2 templates").
			WithParam("templates", len(eval))
	}
	if v.opts.Folds < 0 {
		return nil, 0, false, errs.Configuration(op, "folds must be non-negative").WithParam("folds", v.opts.Folds)
	}

	folds := v.assign(eval)
	preds := make([]Prediction, 0, len(eval))
	for _, fold := range folds {
		held := make(map[string]struct{}, len(fold))
		for _, p := range fold {
			held[p.ID] = struct{}{}
			if p.ParentID != "" {
				held[p.ParentID] = struct{}{}
			}
		}
		train := snap.Without(func(p *models.Pattern) bool {
			if _, ok := held[p.ID]; ok {
				return true
			}
			_, ok := held[p.ParentID]
			return p.ParentID != "" && ok
		})
		if train.Len() == 0 {
			continue
		}
		k := min(v.m.Options().K, train.Len())

		for _, p := range fold {
			if ctx.Err() != nil {
				v.l.Warn("cross-validation interrupted",
					applogger.Int("evaluated", len(preds)),
					applogger.Int("templates", len(eval)),
				)
				return preds, len(folds), true, nil
			}
			res, err := v.m.ClassifyRepresentation(train, p.Representation, k)
			if err != nil {
				return nil, 0, false, err
			}
			_, c := v.scorer.Score(res, k)
			preds = append(preds, Prediction{PatternID: p.ID, True: p.Label, Predicted: res.Label, Confidence: c})
		}
	}
	v.l.Debug("cross-validation predictions",
		applogger.Int("predictions", len(preds)),
		applogger.Int("folds", len(folds)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return preds, len(folds), false, nil
}

// assign splits templates into folds: one per template for leave-one-out,
// otherwise a seeded shuffle dealt round-robin.
func (v *Validator) assign(eval []*models.Pattern) [][]*models.Pattern {
	n := v.opts.Folds
	if n == 0 {
		n = defaultFolds
		if len(eval) <= looLimit {
			n = len(eval)
		}
	}
	n = min(n, len(eval))
	if n == len(eval) {
		out := make([][]*models.Pattern, n)
		for i, p := range eval {
			out[i] = []*models.Pattern{p}
		}
		return out
	}

	idx := rand.New(rand.NewSource(v.opts.Seed)).Perm(len(eval))
	out := make([][]*models.Pattern, n)
	for i, j := range idx {
		out[i%n] = append(out[i%n], eval[j])
	}
	for _, f := range out {
		sort.Slice(f, func(a, b int) bool { return f[a].ID < f[b].ID })
	}
	return out
}

func checkThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return errs.Configuration("validation.threshold", "threshold must be within [0,1]").WithParam("threshold", t)
	}
	return nil
}

package validation

import (
	"context"
	"sort"

	"PatternScan/internal/domain/errs"
	applogger "PatternScan/pkg/logger"
)

// DefaultThresholds are swept when none are given.
var DefaultThresholds = []float64{0.5, 0.6, 0.7, 0.8, 0.9}

// SweepPoint is one point of the precision/recall curve.
type SweepPoint struct {
	Threshold   float64 `json:"threshold"`
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1"`
	Accuracy    float64 `json:"accuracy"`
	MatchedRate float64 `json:"matched_rate"`
}

type SweepReport struct {
	Objective Objective    `json:"objective"`
	Points    []SweepPoint `json:"points"`
	Best      SweepPoint   `json:"best"`
	Partial   bool         `json:"partial"`
}

// Sweep classifies once and re-thresholds the predictions at every
// threshold. Best maximizes the objective; ties go to the lowest threshold.
func (v *Validator) Sweep(ctx context.Context, thresholds []float64, objective Objective) (*SweepReport, error) {
	const op = "validation.sweep"
	if objective == "" {
		objective = F1
	}
	switch objective {
	case F1, Precision, Recall, Accuracy:
	default:
		return nil, errs.Configurationf(op, "unknown objective %q", objective).WithParam("objective", string(objective))
	}
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	ts := append([]float64(nil), thresholds...)
	sort.Float64s(ts)
	for _, t := range ts {
		if err := checkThreshold(t); err != nil {
			return nil, err
		}
	}

	preds, _, partial, err := v.Predict(ctx)
	if err != nil {
		return nil, err
	}

	out := &SweepReport{Objective: objective, Partial: partial, Points: make([]SweepPoint, 0, len(ts))}
	bestScore := -1.0
	for _, t := range ts {
		rep := Evaluate(preds, t)
		pt := SweepPoint{
			Threshold:   t,
			Precision:   rep.MacroPrecision,
			Recall:      rep.MacroRecall,
			F1:          rep.MacroF1,
			Accuracy:    rep.Accuracy,
			MatchedRate: rep.MatchedRate,
		}
		out.Points = append(out.Points, pt)
		if s := rep.Score(objective); s > bestScore {
			bestScore = s
			out.Best = pt
		}
	}
	v.l.Info("threshold sweep finished",
		applogger.String("objective", string(objective)),
		applogger.Float64("best_threshold", out.Best.Threshold),
		applogger.Float64("best_score", bestScore),
		applogger.Int("points", len(out.Points)),
	)
	return out, nil
}

package validation

import (
	"sort"

	"PatternScan/internal/domain/models"
)

// Prediction is the held-out classification of one template.
type Prediction struct {
	PatternID  string  `json:"pattern_id"`
	True       string  `json:"true"`
	Predicted  string  `json:"predicted"`
	Confidence float64 `json:"confidence"`
}

type LabelMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report aggregates predictions at one confidence threshold. Predictions
// below the threshold count as NO_MATCH.
type Report struct {
	Threshold      float64                   `json:"threshold"`
	Total          int                       `json:"total"`
	Folds          int                       `json:"folds"`
	Accuracy       float64                   `json:"accuracy"`
	MacroPrecision float64                   `json:"macro_precision"`
	MacroRecall    float64                   `json:"macro_recall"`
	MacroF1        float64                   `json:"macro_f1"`
	PerLabel       map[string]LabelMetrics   `json:"per_label"`
	Confusion      map[string]map[string]int `json:"confusion"`
	MatchedRate    float64                   `json:"matched_rate"`
	AvgConfidence  float64                   `json:"avg_confidence"`
	Partial        bool                      `json:"partial"`
}

// OffDiagonal counts predictions whose label differs from the truth,
// NO_MATCH included.
func (r *Report) OffDiagonal() int {
	n := 0
	for truth, row := range r.Confusion {
		for pred, c := range row {
			if pred != truth {
				n += c
			}
		}
	}
	return n
}

// Score returns the value an objective optimizes.
func (r *Report) Score(o Objective) float64 {
	switch o {
	case Precision:
		return r.MacroPrecision
	case Recall:
		return r.MacroRecall
	case Accuracy:
		return r.Accuracy
	default:
		return r.MacroF1
	}
}

// Evaluate scores predictions at threshold.
func Evaluate(preds []Prediction, threshold float64) *Report {
	rep := &Report{
		Threshold: threshold,
		Total:     len(preds),
		PerLabel:  make(map[string]LabelMetrics),
		Confusion: make(map[string]map[string]int),
	}
	if len(preds) == 0 {
		return rep
	}

	correct, matched := 0, 0
	confSum := 0.0
	for _, p := range preds {
		pred := p.Predicted
		if p.Confidence < threshold {
			pred = models.NoMatch
		}
		row, ok := rep.Confusion[p.True]
		if !ok {
			row = make(map[string]int)
			rep.Confusion[p.True] = row
		}
		row[pred]++
		if pred == p.True {
			correct++
		}
		if pred != models.NoMatch {
			matched++
		}
		confSum += p.Confidence
	}
	n := float64(len(preds))
	rep.Accuracy = float64(correct) / n
	rep.MatchedRate = float64(matched) / n
	rep.AvgConfidence = confSum / n

	labels := make([]string, 0, len(rep.Confusion))
	for l := range rep.Confusion {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		tp := rep.Confusion[l][l]
		fp, support := 0, 0
		for truth, row := range rep.Confusion {
			if truth != l {
				fp += row[l]
			}
		}
		for _, c := range rep.Confusion[l] {
			support += c
		}
		m := LabelMetrics{Support: support}
		if tp+fp > 0 {
			m.Precision = float64(tp) / float64(tp+fp)
		}
		if support > 0 {
			m.Recall = float64(tp) / float64(support)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		rep.PerLabel[l] = m
		rep.MacroPrecision += m.Precision
		rep.MacroRecall += m.Recall
		rep.MacroF1 += m.F1
	}
	k := float64(len(labels))
	rep.MacroPrecision /= k
	rep.MacroRecall /= k
	rep.MacroF1 /= k
	return rep
}

// Package matcher classifies windows by distance-weighted k-nearest-neighbor
// voting over DTW distances, pruning candidates with LB_Keogh when the
// library carries a current index.
package matcher

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
	"PatternScan/internal/domain/repository"
	"PatternScan/internal/services/dtw"
	"PatternScan/internal/services/library"
	applogger "PatternScan/pkg/logger"
)

// VoteEpsilon keeps the vote weight of an exact match finite.
const VoteEpsilon = 1e-6

// Result is the outcome of one k-nearest-neighbor search.
type Result struct {
	Label     string
	Nearest   float64
	Neighbors []models.Neighbor
	Votes     map[string]float64
	Stats     models.SearchStats
}

// TotalWeight sums the vote weight of all neighbors in neighbor order, so
// the float result does not depend on map iteration.
func (r *Result) TotalWeight() float64 {
	total := 0.0
	for _, n := range r.Neighbors {
		total += n.Weight
	}
	return total
}

// RunnerUp returns the second-heaviest label and its weight, or ("", 0)
// when every neighbor voted for the winner.
func (r *Result) RunnerUp() (string, float64) {
	label, weight := "", 0.0
	for l, w := range r.Votes {
		if l == r.Label {
			continue
		}
		if label == "" || w > weight || (w == weight && l < label) {
			label, weight = l, w
		}
	}
	return label, weight
}

// AvgDistance is the mean distance over all neighbors.
func (r *Result) AvgDistance() float64 {
	if len(r.Neighbors) == 0 {
		return 0
	}
	sum := 0.0
	for _, n := range r.Neighbors {
		sum += n.Distance
	}
	return sum / float64(len(r.Neighbors))
}

// Matcher is safe for concurrent use. Each call reads a single library
// snapshot for its whole duration.
type Matcher struct {
	lib     *library.Library
	opts    Options
	l       *applogger.Logger
	metrics repository.Metrics
}

// New validates the options eagerly.
func New(lib *library.Library, opts ...Option) (*Matcher, error) {
	m := &Matcher{
		lib:     lib,
		opts:    DefaultOptions(),
		l:       applogger.Nop(),
		metrics: repository.NopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.opts.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) Options() Options { return m.opts }

func (m *Matcher) Library() *library.Library { return m.lib }

// Snapshot returns a library snapshot whose index, if any, is current for
// the matcher's DTW options, applying the stale index policy.
func (m *Matcher) Snapshot() (*library.Snapshot, error) {
	snap := m.lib.Snapshot()
	_, err := snap.IndexFor(m.opts.DTW)
	if err == nil {
		return snap, nil
	}
	if m.opts.OnStaleIndex == Fail {
		return nil, err
	}

	var stale *errs.Error
	fields := []applogger.Field{applogger.Error(err)}
	if errors.As(err, &stale) {
		if v, ok := stale.Param("index_version"); ok {
			fields = append(fields, applogger.Any("index_version", v))
		}
		if v, ok := stale.Param("library_version"); ok {
			fields = append(fields, applogger.Any("library_version", v))
		}
	}
	m.l.Warn("stale library index, rebuilding", fields...)

	if _, err := m.lib.BuildIndex(m.opts.DTW); err != nil {
		return nil, err
	}
	snap = m.lib.Snapshot()
	if _, err := snap.IndexFor(m.opts.DTW); err != nil {
		// a writer raced the rebuild; search this snapshot without pruning
		return snap.Unindexed(), nil
	}
	return snap, nil
}

// Classify preprocesses window and returns its k nearest templates and the
// winning label.
func (m *Matcher) Classify(ctx context.Context, window models.Window) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	rep, err := m.lib.Preprocessor().Transform(window)
	if err != nil {
		return nil, err
	}
	snap, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	res, err := m.ClassifyRepresentation(snap, rep, m.opts.K)
	if err != nil {
		return nil, err
	}
	m.metrics.RecordClassify(time.Since(start).Seconds(), res.Stats)
	m.l.Debug("classified window",
		applogger.String("label", res.Label),
		applogger.Float64("nearest", res.Nearest),
		applogger.Int("templates", res.Stats.Templates),
		applogger.Int("exact", res.Stats.Exact),
		applogger.Int("pruned", res.Stats.Pruned),
		applogger.Int("abandoned", res.Stats.Abandoned),
		applogger.Bool("indexed", res.Stats.Indexed),
	)
	return res, nil
}

// ClassifyRepresentation searches snap for the k nearest templates of an
// already preprocessed query. A stale index on snap is an error here; use
// Snapshot to obtain one the policy has been applied to.
func (m *Matcher) ClassifyRepresentation(snap *library.Snapshot, rep models.Representation, k int) (*Result, error) {
	const op = "matcher.classify"
	if k <= 0 {
		return nil, errs.Configuration(op, "k must be at least 1").WithParam("k", k)
	}
	if snap.Len() == 0 {
		return nil, errs.EmptyLibrary(op)
	}
	if k > snap.Len() {
		return nil, errs.InsufficientNeighbors(op, k, snap.Len())
	}
	ix, err := snap.IndexFor(m.opts.DTW)
	if err != nil {
		return nil, err
	}

	q := dtw.Select(rep, m.opts.DTW.Variant)
	best, stats, err := m.search(snap.Patterns(), ix, q, k)
	if err != nil {
		return nil, err
	}
	return vote(best, stats), nil
}

type candidate struct {
	p  *models.Pattern
	lb float64
}

func (m *Matcher) search(templates []*models.Pattern, ix *library.Index, q []float64, k int) ([]models.Neighbor, models.SearchStats, error) {
	stats := models.SearchStats{Templates: len(templates), Indexed: ix != nil}

	cands := make([]candidate, len(templates))
	for i, p := range templates {
		cands[i] = candidate{p: p}
		if ix == nil {
			continue
		}
		env, ok := ix.Envelope(p.ID)
		if !ok || !env.Applicable(len(q)) {
			continue
		}
		lb, err := dtw.NormalizedLowerBound(q, env)
		if err != nil {
			return nil, stats, err
		}
		cands[i].lb = lb
		stats.LowerBounds++
	}
	if ix != nil {
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].lb != cands[j].lb {
				return cands[i].lb < cands[j].lb
			}
			return cands[i].p.ID < cands[j].p.ID
		})
	}

	best := make([]models.Neighbor, 0, k+1)
	for i, c := range cands {
		full := len(best) == k
		if full && ix != nil && c.lb > best[k-1].Distance {
			stats.Pruned = len(cands) - i
			break
		}
		cutoff := math.Inf(1)
		if full && m.opts.EarlyAbandon {
			cutoff = best[k-1].Distance
		}
		d, err := dtw.NormalizedWithin(q, dtw.Select(c.p.Representation, m.opts.DTW.Variant), m.opts.DTW, cutoff)
		if err != nil {
			return nil, stats, err
		}
		stats.Exact++
		if math.IsInf(d, 1) && !math.IsInf(cutoff, 1) {
			stats.Abandoned++
			continue
		}
		n := models.Neighbor{PatternID: c.p.ID, Label: c.p.Label, Distance: d, Quality: c.p.Quality}
		if full && !closer(n, best[k-1]) {
			continue
		}
		pos := sort.Search(len(best), func(j int) bool { return closer(n, best[j]) })
		best = append(best, models.Neighbor{})
		copy(best[pos+1:], best[pos:])
		best[pos] = n
		if len(best) > k {
			best = best[:k]
		}
	}
	return best, stats, nil
}

// closer orders neighbors by distance, then id.
func closer(a, b models.Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.PatternID < b.PatternID
}

// vote weighs each neighbor by 1/(d+ε). The heaviest label wins; ties go
// to the label with the smaller nearest distance, then the smaller name.
func vote(best []models.Neighbor, stats models.SearchStats) *Result {
	votes := make(map[string]float64, len(best))
	nearest := make(map[string]float64, len(best))
	for i := range best {
		w := 1 / (best[i].Distance + VoteEpsilon)
		best[i].Weight = w
		votes[best[i].Label] += w
		if _, seen := nearest[best[i].Label]; !seen {
			nearest[best[i].Label] = best[i].Distance
		}
	}

	winner := ""
	for label, w := range votes {
		if winner == "" {
			winner = label
			continue
		}
		switch {
		case w > votes[winner]:
			winner = label
		case w == votes[winner]:
			if nearest[label] < nearest[winner] || (nearest[label] == nearest[winner] && label < winner) {
				winner = label
			}
		}
	}

	return &Result{
		Label:     winner,
		Nearest:   best[0].Distance,
		Neighbors: best,
		Votes:     votes,
		Stats:     stats,
	}
}

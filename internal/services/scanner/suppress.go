package scanner

import (
	"sort"

	"PatternScan/internal/domain/models"
)

// Suppress applies greedy non-max suppression within each label: results are
// taken in descending confidence and a result is dropped when it overlaps an
// already kept one of the same label by more than maxOverlap, measured as the
// shared bar count over the shorter window. The survivors are returned in
// offset order.
func Suppress(results []models.MatchResult, maxOverlap float64) []models.MatchResult {
	if len(results) < 2 {
		return results
	}
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := results[order[a]], results[order[b]]
		if ra.Confidence != rb.Confidence {
			return ra.Confidence > rb.Confidence
		}
		return ra.Offset < rb.Offset
	})

	kept := make(map[string][]models.MatchResult)
	out := make([]models.MatchResult, 0, len(results))
	for _, i := range order {
		r := results[i]
		suppressed := false
		for _, k := range kept[r.Label] {
			if overlap(r, k) > maxOverlap {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		kept[r.Label] = append(kept[r.Label], r)
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Offset < out[b].Offset })
	return out
}

func overlap(a, b models.MatchResult) float64 {
	lo := max(a.Offset, b.Offset)
	hi := min(a.Offset+a.Length, b.Offset+b.Length)
	if hi <= lo {
		return 0
	}
	shorter := min(a.Length, b.Length)
	if shorter <= 0 {
		return 0
	}
	return float64(hi-lo) / float64(shorter)
}

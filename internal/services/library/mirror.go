package library

import (
	"math"
	"strings"

	"PatternScan/internal/domain/models"

	"github.com/google/uuid"
)

const invertedSuffix = "_inverted"

// mirrorNamespace seeds deterministic mirror ids.
var mirrorNamespace = uuid.MustParse("6f1c2a8e-5d3b-4c7a-9e21-0b8d4f6a3c10")

var polarity = map[string]string{
	"bullish":    "bearish",
	"bearish":    "bullish",
	"bull":       "bear",
	"bear":       "bull",
	"top":        "bottom",
	"bottom":     "top",
	"tops":       "bottoms",
	"bottoms":    "tops",
	"ascending":  "descending",
	"descending": "ascending",
	"rising":     "falling",
	"falling":    "rising",
	"up":         "down",
	"down":       "up",
	"long":       "short",
	"short":      "long",
	"peak":       "trough",
	"trough":     "peak",
}

// MirrorID is the id given to the mirror of the pattern with parentID.
func MirrorID(parentID string) string {
	return uuid.NewSHA1(mirrorNamespace, []byte(parentID)).String()
}

// FlipLabel inverts the polarity of every underscore-separated token that has
// a known opposite. Labels without one gain the "_inverted" suffix, which a
// second flip removes.
func FlipLabel(label string) string {
	tokens := strings.Split(label, "_")
	flipped := false
	for i, tok := range tokens {
		if opp, ok := polarity[strings.ToLower(tok)]; ok {
			tokens[i] = matchCase(tok, opp)
			flipped = true
		}
	}
	if flipped {
		return strings.Join(tokens, "_")
	}
	if strings.HasSuffix(label, invertedSuffix) {
		return strings.TrimSuffix(label, invertedSuffix)
	}
	return label + invertedSuffix
}

// MirrorWindow reflects every price about the window's mid-range
// (max high + min low), so deltas change sign, highs and lows swap roles and
// prices stay within the original range. Time and volume are unchanged.
func MirrorWindow(w models.Window) models.Window {
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, b := range w {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	pivot := hi + lo
	out := make(models.Window, len(w))
	for i, b := range w {
		out[i] = models.Bar{
			Time:   b.Time,
			Open:   pivot - b.Open,
			High:   pivot - b.Low,
			Low:    pivot - b.High,
			Close:  pivot - b.Close,
			Volume: b.Volume,
		}
	}
	return out
}

func matchCase(src, word string) string {
	switch {
	case src == strings.ToUpper(src):
		return strings.ToUpper(word)
	case src[:1] == strings.ToUpper(src[:1]):
		return strings.ToUpper(word[:1]) + word[1:]
	default:
		return word
	}
}

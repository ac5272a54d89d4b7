package scanner

import (
	"testing"

	"PatternScan/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

func TestSuppress(t *testing.T) {
	in := []models.MatchResult{
		{Offset: 0, Length: 50, Label: "double_top", Confidence: 0.80},
		{Offset: 5, Length: 50, Label: "double_top", Confidence: 0.95},
		{Offset: 10, Length: 50, Label: "double_bottom", Confidence: 0.70},
		{Offset: 40, Length: 50, Label: "double_top", Confidence: 0.75},
		{Offset: 100, Length: 50, Label: "double_top", Confidence: 0.60},
	}
	out := Suppress(in, 0.5)

	offsets := make([]int, len(out))
	for i, r := range out {
		offsets[i] = r.Offset
	}
	// 0 overlaps 5 by 45/50; 40 overlaps 5 by 15/50
	assert.Equal(t, []int{5, 10, 40, 100}, offsets)

	assert.Len(t, Suppress(in, 1), len(in))
	assert.Len(t, Suppress(in[:1], 0), 1)
}

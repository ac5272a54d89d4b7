package matcher

import (
	"context"
	"fmt"
	"testing"

	"PatternScan/internal/services/dtw"
	"PatternScan/internal/services/library"
	"PatternScan/internal/testutil"
)

func benchmarkClassify(b *testing.B, indexed bool) {
	lib := library.New(nil)
	for i := 0; i < 200; i++ {
		_, err := lib.AddWindow(library.PatternSpec{
			ID:     fmt.Sprintf("w%03d", i),
			Label:  fmt.Sprintf("l%d", i%4),
			Window: testutil.Bars(testutil.RandomWalk(int64(i), 60)),
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	if indexed {
		if _, err := lib.BuildIndex(dtw.DefaultOptions()); err != nil {
			b.Fatal(err)
		}
	}
	m, err := New(lib)
	if err != nil {
		b.Fatal(err)
	}
	q := testutil.Bars(testutil.RandomWalk(9999, 60))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Classify(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClassify_Exact(b *testing.B)   { benchmarkClassify(b, false) }
func BenchmarkClassify_Indexed(b *testing.B) { benchmarkClassify(b, true) }

package dtw_test

import (
	"fmt"

	"PatternScan/internal/services/dtw"
)

// ExampleDistance shows a repeated sample absorbed by an unconstrained warp.
func ExampleDistance() {
	o := dtw.DefaultOptions()
	o.Constraint = dtw.None

	d, err := dtw.Distance([]float64{1, 2, 3}, []float64{1, 2, 2, 3}, o)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%.1f\n", d)
	// Output: 0.0
}

// ExampleLowerBound prunes a template without running the full recurrence.
func ExampleLowerBound() {
	tpl := []float64{0, 1, 2, 1, 0}
	env := dtw.NewEnvelope(tpl, 1)

	lb, _ := dtw.LowerBound([]float64{5, 5, 5, 5, 5}, env)
	fmt.Printf("%.0f\n", lb)
	// Output: 17
}

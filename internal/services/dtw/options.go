package dtw

import (
	"math"

	"PatternScan/internal/domain/errs"
	"PatternScan/internal/domain/models"
)

// Variant selects which representation of a window is warped.
type Variant string

const (
	// Standard compares z-scored price sequences.
	Standard Variant = "standard"
	// Derivative compares first-difference (shape) sequences.
	Derivative Variant = "derivative"
)

// Constraint selects how the warping path is restricted.
type Constraint string

const (
	// SakoeChiba limits the path to a band around the scaled diagonal.
	SakoeChiba Constraint = "sakoe_chiba"
	// ADTW leaves the path unbanded but charges Penalty for every
	// non-diagonal step, so the effective width adapts to the data.
	ADTW Constraint = "adtw"
	// None evaluates the full matrix.
	None Constraint = "none"
)

// bandEps absorbs floating-point noise in w·max(m,n).
const bandEps = 1e-9

// Options configures a distance computation.
type Options struct {
	Variant    Variant    `json:"variant" yaml:"variant"`
	Constraint Constraint `json:"constraint" yaml:"constraint"`
	// Window is the Sakoe-Chiba band as a fraction of the longer sequence.
	Window float64 `json:"sakoe_chiba_window" yaml:"sakoe_chiba_window"`
	// Penalty is the per-step amercing cost used by ADTW.
	Penalty float64 `json:"amercing_penalty" yaml:"amercing_penalty"`
}

// DefaultOptions returns derivative DTW under a 15% Sakoe-Chiba band.
func DefaultOptions() Options {
	return Options{
		Variant:    Derivative,
		Constraint: SakoeChiba,
		Window:     0.15,
		Penalty:    0.5,
	}
}

// Validate rejects unknown names and out-of-range numbers.
func (o Options) Validate() error {
	const op = "dtw.options"
	switch o.Variant {
	case Standard, Derivative:
	default:
		return errs.Configurationf(op, "unknown variant %q", o.Variant).WithParam("variant", string(o.Variant))
	}
	switch o.Constraint {
	case SakoeChiba, ADTW, None:
	default:
		return errs.Configurationf(op, "unknown constraint %q", o.Constraint).WithParam("constraint", string(o.Constraint))
	}
	if math.IsNaN(o.Window) || o.Window < 0 || o.Window > 1 {
		return errs.Configuration(op, "sakoe_chiba_window must be within [0,1]").WithParam("window", o.Window)
	}
	if math.IsNaN(o.Penalty) || o.Penalty < 0 {
		return errs.Configuration(op, "amercing_penalty must be non-negative").WithParam("penalty", o.Penalty)
	}
	return nil
}

// Select returns the sequence the variant compares.
func Select(rep models.Representation, v Variant) []float64 {
	if v == Derivative {
		return rep.Derivative
	}
	return rep.Normalized
}

// Radius is the envelope half-width that keeps LB_Keogh admissible for
// equal-length sequences of the given length. Unbanded constraints need the
// whole sequence.
func Radius(length int, o Options) int {
	if length <= 0 {
		return 0
	}
	if o.Constraint != SakoeChiba {
		return length - 1
	}
	r := int(math.Floor(o.Window*float64(length) + bandEps))
	return min(r, length-1)
}

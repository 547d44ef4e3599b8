package eval

import "math"

// CompareResult is the three-way encoding spec.md §9's open question
// requires: {LT, EQ, GT} are always returned, with no indeterminate
// fallthrough (the distilled source's own bug is not reproduced here).
type CompareResult int

const (
	CmpLT CompareResult = iota
	CmpEQ
	CmpGT
)

// CompareF64 implements the CmpF64 guest opcode (spec.md §4.2 "Compare-F64
// is handled separately", §4.6, §9 "Open question — CmpF64 return path").
// When goto-shadow-branch is enabled and the high-precision shadow
// disagrees with the guest's own IEEE comparison, the shadow's ordering
// wins for subsequent control flow and a single divergence notice is
// emitted per site (scenario S5).
func (e *Evaluator) CompareF64(origin uint64, a, b Operand, gotoShadowBranch bool) CompareResult {
	e.checkAndRecover(a.SV, a.IEEE)
	e.checkAndRecover(b.SV, b.IEEE)

	ieeeResult := ieeeCompare(a.IEEE, b.IEEE)

	var shadowA, shadowB float64
	if a.SV != nil && a.SV.Active {
		shadowA = a.SV.Value.Float64()
	} else {
		shadowA = a.IEEE
	}
	if b.SV != nil && b.SV.Active {
		shadowB = b.SV.Value.Float64()
	} else {
		shadowB = b.IEEE
	}
	shadowResult := ieeeCompare(shadowA, shadowB)

	if !gotoShadowBranch {
		return ieeeResult
	}
	if shadowResult != ieeeResult {
		e.noteBranchDivergence(origin)
		return shadowResult
	}
	return ieeeResult
}

func ieeeCompare(a, b float64) CompareResult {
	switch {
	case a < b:
		return CmpLT
	case a > b:
		return CmpGT
	default:
		return CmpEQ
	}
}

// noteBranchDivergence dedups the per-site notices scenario S5 requires
// ("a single divergence notice is emitted for the site").
func (e *Evaluator) noteBranchDivergence(origin uint64) {
	if e.divergences == nil {
		e.divergences = make(map[uint64]bool)
	}
	if e.divergences[origin] {
		return
	}
	e.divergences[origin] = true
	if e.OnBranchDivergence != nil {
		e.OnBranchDivergence(origin)
	}
}

// IntWidth identifies the target integer width and signedness for
// track-int conversions (spec.md §4.2 "Float-to-integer conversions").
type IntWidth struct {
	Bits   int
	Signed bool
}

// ConvertToInt implements the --track-int F64→I{16,32,64}{S,U} path
// (spec.md §9 "Open question — integer conversions"): the shadow value is
// rounded to nearest-even and saturated to the target width, matching the
// adopted rounding documented there.
func (e *Evaluator) ConvertToInt(x Operand, width IntWidth) int64 {
	var shadow float64
	if x.SV != nil && x.SV.Active {
		e.checkAndRecover(x.SV, x.IEEE)
		shadow = x.SV.Value.Float64()
	} else {
		shadow = x.IEEE
	}
	rounded := math.RoundToEven(shadow)

	var lo, hi float64
	if width.Signed {
		lo, hi = -math.Pow(2, float64(width.Bits-1)), math.Pow(2, float64(width.Bits-1))-1
	} else {
		lo, hi = 0, math.Pow(2, float64(width.Bits))-1
	}
	if rounded < lo {
		rounded = lo
	}
	if rounded > hi {
		rounded = hi
	}
	return int64(rounded)
}

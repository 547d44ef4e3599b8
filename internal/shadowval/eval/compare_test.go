package eval

import (
	"testing"

	"github.com/kolkov/shadowprobe/internal/mpfloat"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
)

func TestCompareF64Basic(t *testing.T) {
	e := newEvaluator()
	cases := []struct {
		a, b float64
		want CompareResult
	}{
		{1.0, 2.0, CmpLT},
		{2.0, 1.0, CmpGT},
		{2.0, 2.0, CmpEQ},
	}
	for _, c := range cases {
		got := e.CompareF64(0x1000, Operand{IEEE: c.a}, Operand{IEEE: c.b}, false)
		if got != c.want {
			t.Errorf("CompareF64(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareF64GotoShadowBranchDivergence(t *testing.T) {
	e := newEvaluator()
	// The guest's own comparison says a < b, but the tracked shadow for a
	// disagrees and places it above b: with --goto-shadow-branch, the
	// shadow ordering should win and a divergence notice should fire
	// exactly once for this origin (scenario S5).
	aSV := &store.ShadowValue{
		Active:   true,
		Value:    mpfloat.FromFloat64(mpfloat.DefaultPrecision, 5.0),
		OriValue: mpfloat.FromFloat64(mpfloat.Prec64, 1.0), // matches live IEEE, so checkAndRecover is a no-op
		MidValue: mpfloat.FromFloat64(mpfloat.Prec64, 5.0),
		OrgType:  store.OrgFloat64,
	}
	var notified int
	e.OnBranchDivergence = func(origin uint64) { notified++ }

	a := Operand{SV: aSV, IEEE: 1.0} // guest IEEE says small...
	b := Operand{IEEE: 2.0}

	got := e.CompareF64(0x2000, a, b, true)
	if got != CmpGT {
		t.Errorf("CompareF64 with diverging shadow = %v, want CmpGT (shadow wins)", got)
	}
	if notified != 1 {
		t.Errorf("OnBranchDivergence called %d times, want 1", notified)
	}

	// A second comparison at the same origin must not re-notify.
	e.CompareF64(0x2000, a, b, true)
	if notified != 1 {
		t.Errorf("OnBranchDivergence called %d times after repeat, want 1 (deduped per site)", notified)
	}
}

func TestConvertToIntRoundsAndSaturates(t *testing.T) {
	e := newEvaluator()
	cases := []struct {
		in   float64
		w    IntWidth
		want int64
	}{
		{2.5, IntWidth{Bits: 32, Signed: true}, 2},  // round to nearest even
		{3.5, IntWidth{Bits: 32, Signed: true}, 4},  // round to nearest even
		{1e20, IntWidth{Bits: 32, Signed: true}, int64(1<<31 - 1)},
		{-1e20, IntWidth{Bits: 32, Signed: true}, int64(-1 << 31)},
	}
	for _, c := range cases {
		got := e.ConvertToInt(Operand{IEEE: c.in}, c.w)
		if got != c.want {
			t.Errorf("ConvertToInt(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

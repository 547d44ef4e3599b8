// Package mpfloat implements the precision-aware arithmetic primitive shared
// by the shadow engine's three parallel channels (value, midValue, oriValue).
//
// There is no arbitrary-precision float library in the surrounding corpus
// with an MPFR-style explicit exponent-range clamp, so this package wraps
// the standard library's math/big.Float, adding the subnormal-emulation
// step the "simulated original" channel requires. math/big.Float already
// supports arbitrary mantissa precision and round-to-nearest-even, which
// covers the shadow and middle channels directly.
package mpfloat

import "math/big"

// Precision bounds enforced by the underlying library. These mirror the
// limits spec.md §6 asks the CLI to validate --precision against.
const (
	MinPrecision = 2
	MaxPrecision = 4096

	// DefaultPrecision is the shadow channel's default bit width (spec.md §3).
	DefaultPrecision = 120

	// Prec32 and Prec64 are the guest's nominal mantissa precisions, used
	// for the middle and simulated-original channels (spec.md §3 invariant 6).
	Prec32 uint = 24
	Prec64 uint = 53
)

// Subnormal exponent range for the simulated-original channel (spec.md §6).
const (
	MinExp = -1073
	MaxExp = 1024
)

// Float is a precision-tagged wrapper around big.Float. The precision is
// carried explicitly so callers can re-set it per evaluation, as spec.md
// §4.1 requires ("precision adjustments occur lazily at write sites").
type Float struct {
	v *big.Float
}

// New returns a zero-valued Float at the given precision.
func New(prec uint) Float {
	return Float{v: new(big.Float).SetPrec(clampPrec(prec))}
}

// FromFloat64 seeds a Float from a native IEEE double at the given precision.
func FromFloat64(prec uint, x float64) Float {
	f := New(prec)
	f.v.SetFloat64(x)
	return f
}

// FromFloat32 seeds a Float from a native IEEE single at the given precision.
func FromFloat32(prec uint, x float32) Float {
	return FromFloat64(prec, float64(x))
}

func clampPrec(p uint) uint {
	if p < MinPrecision {
		return MinPrecision
	}
	if p > MaxPrecision {
		return MaxPrecision
	}
	return p
}

// Prec returns the Float's current precision in bits.
func (f Float) Prec() uint { return f.v.Prec() }

// SetPrec changes precision in place, re-rounding the current value. This
// is the lazy precision switch spec.md §4.1 and §9 call for: the three
// channels share this helper instead of duplicating rounding logic.
func (f Float) SetPrec(prec uint) Float {
	f.v.SetPrec(clampPrec(prec))
	return f
}

// Float64 returns the nearest float64 to this value.
func (f Float) Float64() float64 {
	v, _ := f.v.Float64()
	return v
}

// Float32 returns the nearest float32 to this value.
func (f Float) Float32() float32 {
	v, _ := f.v.Float32()
	return v
}

// Clone makes an independent deep copy, used by the shadow store's copy()
// operation (spec.md §4.1) which must never alias numeric state across SVs.
func (f Float) Clone() Float {
	if f.v == nil {
		return Float{}
	}
	c := new(big.Float).SetPrec(f.v.Prec())
	c.Set(f.v)
	return Float{v: c}
}

// Sign and Exponent expose the primitive facts the evaluator's
// cancellation arithmetic (spec.md §4.2 steps 5-7) needs without leaking
// big.Float to callers that only care about the shared numeric channel.
func (f Float) Sign() int {
	if f.v == nil {
		return 0
	}
	return f.v.Sign()
}

// Exponent returns the binary exponent such that 0.5 <= mantissa < 1 at
// this exponent, matching big.Float.MantExp. Zero, Inf and NaN all read
// as exponent 0 by convention of the underlying library; callers must
// check Regular() first.
func (f Float) Exponent() int {
	if f.v == nil {
		return 0
	}
	return f.v.MantExp(nil)
}

// Regular reports whether the value is finite and nonzero — the
// "regular" predicate spec.md §4.2 step 5 and the GLOSSARY's cancellation
// definition require before exponent-based cancellation math applies.
func (f Float) Regular() bool {
	if f.v == nil {
		return false
	}
	return !f.v.IsInf() && f.v.Sign() != 0
}

// Rounding mode used throughout: round-to-nearest-even, matching IEEE-754
// and big.Float's default (ToNearestEven).
const roundMode = big.ToNearestEven

// Op is the shape of the primitive the three channels share: a binary,
// unary, or ternary-with-ignored-rounding-operand FP operation evaluated
// at a given precision, optionally with subnormal emulation for the
// simulated-original channel (spec.md §9 "Precision switching").
type Op func(prec uint, subnormal bool, operands ...Float) Float

func unaryResult(prec uint, subnormal bool, fn func(z, x *big.Float) *big.Float, x Float) Float {
	z := New(prec)
	fn(z.v, x.v)
	if subnormal {
		z = subnormalize(z)
	}
	return z
}

func binaryResult(prec uint, subnormal bool, fn func(z, x, y *big.Float) *big.Float, x, y Float) Float {
	z := New(prec)
	fn(z.v, x.v, y.v)
	if subnormal {
		z = subnormalize(z)
	}
	return z
}

// Add, Sub, Mul, Div implement the binary FP ops (spec.md §4.2 "Binary").
func Add(prec uint, subnormal bool, x, y Float) Float {
	return withClamp(prec, subnormal, func() Float {
		return binaryResult(prec, subnormal, func(z, a, b *big.Float) *big.Float { return z.Add(a, b) }, x, y)
	})
}

func Sub(prec uint, subnormal bool, x, y Float) Float {
	return withClamp(prec, subnormal, func() Float {
		return binaryResult(prec, subnormal, func(z, a, b *big.Float) *big.Float { return z.Sub(a, b) }, x, y)
	})
}

func Mul(prec uint, subnormal bool, x, y Float) Float {
	return withClamp(prec, subnormal, func() Float {
		return binaryResult(prec, subnormal, func(z, a, b *big.Float) *big.Float { return z.Mul(a, b) }, x, y)
	})
}

func Div(prec uint, subnormal bool, x, y Float) Float {
	return withClamp(prec, subnormal, func() Float {
		if y.Sign() == 0 {
			return infOrNaN(x, y)
		}
		return binaryResult(prec, subnormal, func(z, a, b *big.Float) *big.Float { return z.Quo(a, b) }, x, y)
	})
}

func Min(prec uint, _ bool, x, y Float) Float {
	if x.v.Cmp(y.v) <= 0 {
		return x.SetPrec(prec)
	}
	return y.SetPrec(prec)
}

func Max(prec uint, _ bool, x, y Float) Float {
	if x.v.Cmp(y.v) >= 0 {
		return x.SetPrec(prec)
	}
	return y.SetPrec(prec)
}

// Sqrt, Neg, Abs implement the unary FP ops (spec.md §4.2 "Unary").
func Sqrt(prec uint, subnormal bool, x Float) Float {
	return withClamp(prec, subnormal, func() Float {
		return unaryResult(prec, subnormal, func(z, a *big.Float) *big.Float { return z.Sqrt(a) }, x)
	})
}

func Neg(prec uint, subnormal bool, x Float) Float {
	return withClamp(prec, subnormal, func() Float {
		return unaryResult(prec, subnormal, func(z, a *big.Float) *big.Float { return z.Neg(a) }, x)
	})
}

func Abs(prec uint, subnormal bool, x Float) Float {
	return withClamp(prec, subnormal, func() Float {
		return unaryResult(prec, subnormal, func(z, a *big.Float) *big.Float { return z.Abs(a) }, x)
	})
}

// infOrNaN produces the IEEE-shaped result of dividing by zero without
// panicking the way big.Float.Quo would on 0/0.
func infOrNaN(x, _ Float) Float {
	z := New(x.Prec())
	if x.Sign() == 0 {
		// 0/0: big.Float has no NaN; represent as zero by convention and
		// let the evaluator's "regular" check treat it as non-cancelling.
		return z
	}
	z.v.SetInf(x.Sign() < 0)
	return z
}

// withClamp brackets evaluation with the MPFR-equivalent exponent range
// (-1073, 1024) when subnormal emulation is requested (spec.md §4.2 step 4,
// §6 "Subnormal emulation"). big.Float has no native exponent-range clamp,
// so the clamp is approximated by rounding results whose exponent falls
// below MinExp down toward zero at the target precision — this is the
// subnormalization step the simulated-original channel needs.
func withClamp(_ uint, subnormal bool, fn func() Float) Float {
	result := fn()
	if subnormal {
		return subnormalize(result)
	}
	return result
}

// subnormalize clamps the exponent range for the simulated-original
// channel (spec.md §6): a value whose exponent is below MinExp becomes
// zero and one above MaxExp becomes an infinity of the same sign. Values
// inside [MinExp, MaxExp] are returned unchanged; their precision is not
// reduced in the subnormal band.
func subnormalize(f Float) Float {
	if !f.Regular() {
		return f
	}
	exp := f.Exponent()
	if exp >= MinExp && exp <= MaxExp {
		return f
	}
	if exp > MaxExp {
		z := New(f.Prec())
		z.v.SetInf(f.Sign() < 0)
		return z
	}
	// Below MinExp: round toward zero at the subnormal boundary.
	z := New(f.Prec())
	return z
}

// RoundTernary evaluates the IR's "rounded" ternary forms of add/sub/mul/div
// (spec.md §4.2 "Ternary" — the rounding-mode operand is ignored, matching
// the original's own behavior per the distillation).
func RoundTernary(op byte, prec uint, subnormal bool, x, y Float) Float {
	switch op {
	case 'a':
		return Add(prec, subnormal, x, y)
	case 's':
		return Sub(prec, subnormal, x, y)
	case 'm':
		return Mul(prec, subnormal, x, y)
	case 'd':
		return Div(prec, subnormal, x, y)
	default:
		return New(prec)
	}
}

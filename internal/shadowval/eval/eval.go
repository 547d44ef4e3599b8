// Package eval implements the operation evaluator (spec.md §4.2 — C2):
// the component that actually advances the three shadow channels across
// one FP operation, computes cancellation bits and badness, applies the
// PSO runtime fix, and feeds the diagnostic accumulators.
//
// Grounded on the teacher's internal/race/detector/detector.go for shape:
// a single struct holding the tables a callback needs, one method per
// guest event, step-numbered comments mirroring the originating
// algorithm's own numbered steps. The three-channel arithmetic itself is
// grounded on internal/mpfloat, this repository's stand-in for an
// MPFR-style multi-precision library.
package eval

import (
	"math"

	"github.com/kolkov/shadowprobe/internal/diag"
	"github.com/kolkov/shadowprobe/internal/mpfloat"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
)

// Width is the guest's nominal FP precision for one operation.
type Width int

const (
	Width32 Width = 32
	Width64 Width = 64
)

func (w Width) nominalPrec() uint {
	if w == Width32 {
		return mpfloat.Prec32
	}
	return mpfloat.Prec64
}

func (w Width) orgType() store.OrgType {
	if w == Width32 {
		return store.OrgFloat32
	}
	return store.OrgFloat64
}

// UnaryOp enumerates the unary FP op family (spec.md §4.2 "Unary").
type UnaryOp int

const (
	OpSqrt UnaryOp = iota
	OpNeg
	OpAbs
)

// BinaryOp enumerates the binary FP op family, including min/max (spec.md
// §4.2 "Binary").
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMin
	OpMax
)

// Operand is one resolved argument: either a carrier's existing SV, or
// nil if untracked, paired with the guest's live IEEE value for that
// argument (spec.md §4.2 steps 1-3).
type Operand struct {
	SV   *store.ShadowValue
	IEEE float64
}

// UnOpArgs is the fixed-layout scratch record the instrumented IR
// populates ahead of a unary-op callback (spec.md §9 "Callback ABI").
type UnOpArgs struct {
	Op          UnaryOp
	Width       Width
	Origin      uint64
	X           Operand
	GuestResult float64 // the guest's own computed IEEE result.
}

// BinOpArgs is the binary-op scratch record.
type BinOpArgs struct {
	Op          BinaryOp
	Width       Width
	Origin      uint64
	A, B        Operand
	GuestResult float64
}

// TriOpArgs is the ternary (rounded add/sub/mul/div) scratch record; the
// IR's rounding-mode operand is accepted but ignored, matching the
// distilled behavior (spec.md §4.2 "Ternary").
type TriOpArgs struct {
	Op          byte // 'a', 's', 'm', 'd'
	Width       Width
	Origin      uint64
	A, B        Operand
	GuestResult float64
}

// Evaluator owns the shadow store and diagnostic context a C2 callback
// needs (spec.md §9 "pass that context through callbacks rather than
// relying on ambient module state").
type Evaluator struct {
	Store *store.Store
	Diag  *diag.Context

	// SimOriginal mirrors --sim-original: when set, the "value" channel
	// is computed at the guest's nominal precision instead of P
	// (spec.md Invariant 6).
	SimOriginal bool

	// OnBranchDivergence is invoked the first time a given CmpF64 site
	// diverges under --goto-shadow-branch (scenario S5). Optional.
	OnBranchDivergence func(origin uint64)

	divergences map[uint64]bool
}

// New constructs an Evaluator bound to a store and diagnostic context.
func New(s *store.Store, d *diag.Context, simOriginal bool) *Evaluator {
	return &Evaluator{Store: s, Diag: d, SimOriginal: simOriginal}
}

func (e *Evaluator) valuePrec(w Width) uint {
	if e.SimOriginal {
		return w.nominalPrec()
	}
	return e.Store.Precision()
}

// checkAndRecover implements spec.md §4.2 "checkAndRecover(sv)": the
// drift-repair step that must fire before any operand is consumed
// (scenario S3). live is the guest's current IEEE value read fresh from
// the carrier; if it disagrees with the shadow's own simulated-original
// channel, something wrote the carrier outside the tracked op set, and
// all three channels collapse to the live value.
func (e *Evaluator) checkAndRecover(sv *store.ShadowValue, live float64) {
	if sv == nil || !sv.Active {
		return
	}
	if sv.OriValue.Float64() != live {
		prec := sv.Value.Prec()
		mid := sv.MidValue.Prec()
		sv.Value = mpfloat.FromFloat64(prec, live)
		sv.MidValue = mpfloat.FromFloat64(mid, live)
		sv.OriValue = mpfloat.FromFloat64(mid, live)
	}
	switch sv.OrgType {
	case store.OrgFloat32:
		sv.Org = store.Org{Type: store.OrgFloat32, F32: float32(live)}
	case store.OrgFloat64:
		sv.Org = store.Org{Type: store.OrgFloat64, F64: live}
	default:
		sv.Org = store.Org{Type: store.OrgFloat64, F64: live}
		sv.OrgType = store.OrgFloat64
	}
}

// seed resolves one operand's three starting channel values per spec.md
// §4.2 steps 2-3: from its existing SV when tracked, else from its live
// IEEE value on all three channels.
func (e *Evaluator) seed(op Operand, w Width) (tmp, mid, ori mpfloat.Float, opCount, canceled int, cancelOrigin uint64) {
	if op.SV != nil && op.SV.Active {
		e.checkAndRecover(op.SV, op.IEEE)
		return op.SV.Value.Clone(), op.SV.MidValue.Clone(), op.SV.OriValue.Clone(),
			op.SV.OpCount, op.SV.Canceled, op.SV.CancelOrigin
	}
	nominal := w.nominalPrec()
	return mpfloat.FromFloat64(e.valuePrec(w), op.IEEE),
		mpfloat.FromFloat64(nominal, op.IEEE),
		mpfloat.FromFloat64(nominal, op.IEEE),
		0, 0, 0
}

// exactBitsRemaining implements spec.md §4.2 step 6: the cancellation-
// badness heuristic. argTmp is the operand's shadow value at its own
// precision; ieee is the operand's live guest value.
func exactBitsRemaining(argTmp mpfloat.Float, ieee float64, nominalBits uint) int {
	if !argTmp.Regular() || ieee == 0 {
		return 0
	}
	ieeeF := mpfloat.FromFloat64(argTmp.Prec(), ieee)
	if argTmp.Exponent() != ieeeF.Exponent() {
		return 0
	}
	diffExp := mpfloat.Sub(argTmp.Prec(), false, argTmp, ieeeF).Exponent()
	d := argTmp.Exponent() - diffExp
	if d < 0 {
		d = -d
	}
	d -= 2
	if d < 0 {
		d = 0
	}
	if uint(d) > nominalBits {
		d = int(nominalBits)
	}
	return d
}

// cancellationBits implements spec.md §4.2 step 5 / GLOSSARY "Cancellation
// bits": max(0, max(exp(a), exp(b)) - exp(result)) when all three operands
// are regular, else 0.
func cancellationBits(a, b, result mpfloat.Float) int {
	if !a.Regular() || !b.Regular() || !result.Regular() {
		return 0
	}
	maxExp := a.Exponent()
	if b.Exponent() > maxExp {
		maxExp = b.Exponent()
	}
	bits := maxExp - result.Exponent()
	if bits < 0 {
		return 0
	}
	return bits
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func badness(canceled int, exactBits ...int) float64 {
	min := -1
	for _, e := range exactBits {
		if min == -1 || e < min {
			min = e
		}
	}
	if min == -1 {
		min = 0
	}
	b := canceled - min
	if b < 0 {
		b = 0
	}
	return float64(b)
}

// applyBinary dispatches one channel's arithmetic to the primitive.
func applyBinary(op BinaryOp, prec uint, subnormal bool, x, y mpfloat.Float) mpfloat.Float {
	switch op {
	case OpAdd:
		return mpfloat.Add(prec, subnormal, x, y)
	case OpSub:
		return mpfloat.Sub(prec, subnormal, x, y)
	case OpMul:
		return mpfloat.Mul(prec, subnormal, x, y)
	case OpDiv:
		return mpfloat.Div(prec, subnormal, x, y)
	case OpMin:
		return mpfloat.Min(prec, subnormal, x, y)
	case OpMax:
		return mpfloat.Max(prec, subnormal, x, y)
	default:
		return mpfloat.New(prec)
	}
}

func applyUnary(op UnaryOp, prec uint, subnormal bool, x mpfloat.Float) mpfloat.Float {
	switch op {
	case OpSqrt:
		return mpfloat.Sqrt(prec, subnormal, x)
	case OpNeg:
		return mpfloat.Neg(prec, subnormal, x)
	case OpAbs:
		return mpfloat.Abs(prec, subnormal, x)
	default:
		return mpfloat.New(prec)
	}
}

// isAddSub reports whether an op participates in cancellation-bit
// accounting (only add/sub produce a cancellation per spec.md §4.2 step 5).
func isAddSub(op BinaryOp) bool { return op == OpAdd || op == OpSub }

// Binary evaluates one binary FP operation across all three channels and
// returns the result SV; the caller copies it into the operation's
// destination (spec.md §4.2).
func (e *Evaluator) Binary(args BinOpArgs) store.ShadowValue {
	nominal := args.Width.nominalPrec()
	valuePrec := e.valuePrec(args.Width)

	tmpA, midA, oriA, opCountA, cancA, cancOriginA := e.seed(args.A, args.Width)
	tmpB, midB, oriB, opCountB, cancB, cancOriginB := e.seed(args.B, args.Width)

	resultValue := applyBinary(args.Op, valuePrec, false, tmpA, tmpB)

	useOriginMid := e.Diag != nil && e.Diag.DetectedPSOAt(args.Origin)
	if useOriginMid {
		midA, midB = tmpA.Clone(), tmpB.Clone()
	}
	resultMid := applyBinary(args.Op, nominal, false, midA, midB)
	resultOri := applyBinary(args.Op, nominal, true, oriA, oriB)

	if useOriginMid {
		resultValue = resultMid.Clone().SetPrec(valuePrec)
	}

	canceled, cancelOrigin := cancA, cancOriginA
	if cancB > canceled {
		canceled, cancelOrigin = cancB, cancOriginB
	}
	var localBadness float64
	if isAddSub(args.Op) {
		local := cancellationBits(tmpA, tmpB, resultValue)
		canceled = maxInt(canceled, local)
		if local >= cancA && local >= cancB {
			cancelOrigin = args.Origin
		}
		exactA := exactBitsRemaining(tmpA, args.A.IEEE, nominal)
		exactB := exactBitsRemaining(tmpB, args.B.IEEE, nominal)
		localBadness = badness(local, exactA, exactB)
	}

	opCount := 1 + maxInt(opCountA, opCountB)

	result := store.ShadowValue{
		Value:        resultValue,
		MidValue:     resultMid,
		OriValue:     resultOri,
		OpCount:      opCount,
		Origin:       args.Origin,
		Canceled:     canceled,
		CancelOrigin: cancelOrigin,
		OrgType:      args.Width.orgType(),
	}
	e.setOrg(&result, args.Width, args.GuestResult)

	relError := diag.RelativeError(resultValue.Float64(), args.GuestResult)
	e.Diag.RecordEvaluation(args.Origin, relError, canceled, localBadness, [2]uint64{originOf(args.A), originOf(args.B)})

	inputRel := math.Max(operandRelError(args.A), operandRelError(args.B))
	e.Diag.AnalyzePSO(args.Origin, inputRel, relError, args.GuestResult, resultValue.Float64())

	return result
}

// Unary evaluates a unary FP operation (spec.md §4.2 "Unary").
func (e *Evaluator) Unary(args UnOpArgs) store.ShadowValue {
	nominal := args.Width.nominalPrec()
	valuePrec := e.valuePrec(args.Width)

	tmpX, midX, oriX, opCountX, cancX, cancOriginX := e.seed(args.X, args.Width)

	resultValue := applyUnary(args.Op, valuePrec, false, tmpX)

	useOriginMid := e.Diag != nil && e.Diag.DetectedPSOAt(args.Origin)
	if useOriginMid {
		midX = tmpX.Clone()
	}
	resultMid := applyUnary(args.Op, nominal, false, midX)
	resultOri := applyUnary(args.Op, nominal, true, oriX)

	if useOriginMid {
		resultValue = resultMid.Clone().SetPrec(valuePrec)
	}

	result := store.ShadowValue{
		Value:        resultValue,
		MidValue:     resultMid,
		OriValue:     resultOri,
		OpCount:      1 + opCountX,
		Origin:       args.Origin,
		Canceled:     cancX,
		CancelOrigin: cancOriginX,
		OrgType:      args.Width.orgType(),
	}
	e.setOrg(&result, args.Width, args.GuestResult)

	relError := diag.RelativeError(resultValue.Float64(), args.GuestResult)
	e.Diag.RecordEvaluation(args.Origin, relError, cancX, 0, [2]uint64{originOf(args.X), 0})

	inputRel := operandRelError(args.X)
	e.Diag.AnalyzePSO(args.Origin, inputRel, relError, args.GuestResult, resultValue.Float64())

	return result
}

// Ternary evaluates the IR's rounded add/sub/mul/div forms (spec.md §4.2
// "Ternary"): same arithmetic as Binary, with the rounding-mode operand
// dropped.
func (e *Evaluator) Ternary(args TriOpArgs) store.ShadowValue {
	op := map[byte]BinaryOp{'a': OpAdd, 's': OpSub, 'm': OpMul, 'd': OpDiv}[args.Op]
	return e.Binary(BinOpArgs{
		Op: op, Width: args.Width, Origin: args.Origin,
		A: args.A, B: args.B, GuestResult: args.GuestResult,
	})
}

func (e *Evaluator) setOrg(sv *store.ShadowValue, w Width, guestResult float64) {
	switch w {
	case Width32:
		sv.Org = store.Org{Type: store.OrgFloat32, F32: float32(guestResult)}
	default:
		sv.Org = store.Org{Type: store.OrgFloat64, F64: guestResult}
	}
}

func originOf(op Operand) uint64 {
	if op.SV != nil {
		return op.SV.Origin
	}
	return 0
}

func operandRelError(op Operand) float64 {
	if op.SV == nil || !op.SV.Active {
		return 0
	}
	return diag.RelativeError(op.SV.Value.Float64(), op.IEEE)
}

package host

import (
	"math"

	"github.com/kolkov/shadowprobe/internal/blockinstr"
	"github.com/kolkov/shadowprobe/internal/shadowval/eval"
)

// nativeUnaryOp and nativeBinaryOp translate a blockinstr.Op's Variant
// tag into the evaluator's own opcode enums, keeping the IR decoupled
// from eval's types (the IR is the ABI the instrumenter and C2 share;
// eval's enums are internal to the evaluator itself).
func nativeUnaryOp(op blockinstr.Op) eval.UnaryOp {
	switch op.Variant {
	case "sqrt":
		return eval.OpSqrt
	case "neg":
		return eval.OpNeg
	default:
		return eval.OpAbs
	}
}

func nativeBinaryOp(op blockinstr.Op) eval.BinaryOp {
	switch op.Variant {
	case "add":
		return eval.OpAdd
	case "sub":
		return eval.OpSub
	case "mul":
		return eval.OpMul
	case "div":
		return eval.OpDiv
	case "min":
		return eval.OpMin
	default:
		return eval.OpMax
	}
}

func ternaryCode(op blockinstr.Op) byte {
	switch op.Variant {
	case "add":
		return 'a'
	case "sub":
		return 's'
	case "mul":
		return 'm'
	default:
		return 'd'
	}
}

// nativeUnary and nativeBinary compute the guest's own IEEE result for a
// block's real (non-shadow) execution — the value execOp returns so later
// statements observe ordinary floating-point semantics, and the value
// eval's GuestResult field is populated with for drift/error comparison.
func nativeUnary(op blockinstr.Op, x float64) float64 {
	switch nativeUnaryOp(op) {
	case eval.OpSqrt:
		return math.Sqrt(x)
	case eval.OpNeg:
		return -x
	default:
		return math.Abs(x)
	}
}

func nativeBinary(op eval.BinaryOp, x, y float64) float64 {
	switch op {
	case eval.OpAdd:
		return x + y
	case eval.OpSub:
		return x - y
	case eval.OpMul:
		return x * y
	case eval.OpDiv:
		return x / y
	case eval.OpMin:
		return math.Min(x, y)
	default:
		return math.Max(x, y)
	}
}

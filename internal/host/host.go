// Package host implements the Host abstraction (spec.md §5, §9 "the
// host's single-threaded dispatch", "abort via the host's panic path"):
// the DBI framework surface the shadow engine is embedded in. Real
// fpdebug runs inside Valgrind's own scheduler; this module has no
// external DBI framework available, so Host doubles as a reference guest
// interpreter that drives blockinstr.Block sequences through the C1-C3
// components exactly the way a real binary-translation host would drive
// its emitted instrumentation callbacks.
//
// Grounded on ascrivener-jam's pvm package (handlers.go's "one function
// per opcode, dispatched from a central step loop" shape) and
// Jen1us-uPimulator's simulator package for the "single goroutine owns
// one guest thread's state" discipline spec.md §5 requires.
package host

import (
	"fmt"

	"github.com/kolkov/shadowprobe/internal/blockinstr"
	"github.com/kolkov/shadowprobe/internal/diag"
	"github.com/kolkov/shadowprobe/internal/report"
	"github.com/kolkov/shadowprobe/internal/shadowval/eval"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
	"github.com/kolkov/shadowprobe/internal/shadowval/transfer"
)

// Host owns one guest thread's shadow-tracking state and the native
// IEEE values of its temps, registers, and memory (spec.md §5: "all
// instrumentation callbacks run on the thread whose guest state they
// observe").
type Host struct {
	TID store.ThreadID

	Store    *store.Store
	Diag     *diag.Context
	Eval     *eval.Evaluator
	Transfer *transfer.Handlers
	Report   *report.Writer // optional; when set, receives the multi-lane simplification notice.

	GotoShadowBranch bool
	TrackInt         bool

	temps []float64
	regs  map[uint32]float64
	mem   map[uint64]float64

	lastCompare eval.CompareResult
}

// New builds a Host sharing a process-wide store and diagnostic context
// — the way spec.md §5 requires memory SVs, mean values, and PSO/stage
// state to be visible across every guest thread while the register slot
// table stays per-thread.
func New(tid store.ThreadID, s *store.Store, d *diag.Context, simOriginal bool) *Host {
	e := eval.New(s, d, simOriginal)
	h := &Host{
		TID:      tid,
		Store:    s,
		Diag:     d,
		Eval:     e,
		Transfer: transfer.New(s, d),
		regs:     make(map[uint32]float64),
		mem:      make(map[uint64]float64),
	}
	e.OnBranchDivergence = func(origin uint64) {
		// Default handler: a no-op. Callers may replace
		// h.Eval.OnBranchDivergence; nothing in this repository does.
	}
	return h
}

// RunBlock executes one translated superblock: increments the
// process-wide block counter (spec.md §4.4 "Every block also emits a
// 64-bit increment of the process-wide block counter at its head"), then
// walks the statement sequence, dispatching each statement by its kind
// to the transfer handlers or the evaluator. It does not call
// blockinstr.Analyze, so no substitution chain is applied.
func (h *Host) RunBlock(b *blockinstr.Block) {
	h.Store.IncrementBlock()
	h.temps = make([]float64, b.NTemps)

	for _, stmt := range b.Stmts {
		h.exec(stmt)
	}
}

func (h *Host) exec(stmt blockinstr.Stmt) {
	switch s := stmt.(type) {
	case blockinstr.IMark:
		// Boundary marker only; origins are carried on individual Op
		// nodes, so there is nothing to dispatch here.
		_ = s

	case blockinstr.WrTmp:
		h.temps[s.Dst] = h.execRHS(s.Dst, s.Rhs)

	case blockinstr.PutReg:
		h.regs[s.Offset] = h.temps[s.Src]
		if s.Offset == blockinstr.InstructionPointerOffset {
			return
		}
		h.Transfer.Put(h.TID, s.Offset, s.Src)

	case blockinstr.PutRegI:
		off := store.CircOffset(s.Base, s.Ix, s.Bias, s.NElems, s.ElemSize)
		h.regs[off] = h.temps[s.Src]
		h.Transfer.PutI(h.TID, s.Base, s.Ix, s.Bias, s.NElems, s.ElemSize, s.Src)

	case blockinstr.StoreMem:
		addr := h.addrOf(s.Addr)
		v := h.temps[s.Data]
		h.mem[addr] = v
		if ld, ok := s.Addr.(blockinstr.Load); ok && ld.ConstAddr {
			return
		}
		h.Transfer.Store(h.TID, addr, s.Data, store.OrgFloat64, v)

	default:
		panic(fmt.Sprintf("host: unhandled statement %T", stmt))
	}
}

// execRHS evaluates one WrTmp right-hand side, driving the evaluator or
// transfer handlers for shadow-relevant shapes, and always returns the
// native IEEE value so later statements can read it back.
func (h *Host) execRHS(dst blockinstr.Temp, rhs blockinstr.Expr) float64 {
	switch e := rhs.(type) {
	case blockinstr.Const:
		return e.Value

	case blockinstr.RdTmp:
		return h.temps[e.Tmp]

	case blockinstr.GetReg:
		h.Transfer.Get(h.TID, dst, e.Offset)
		return h.regs[e.Offset]

	case blockinstr.GetRegI:
		off := store.CircOffset(e.Base, e.Ix, e.Bias, e.NElems, e.ElemSize)
		h.Transfer.GetI(h.TID, dst, e.Base, e.Ix, e.Bias, e.NElems, e.ElemSize)
		return h.regs[off]

	case blockinstr.Load:
		addr := h.addrOf(e.Addr)
		if !e.ConstAddr {
			h.Transfer.Load(h.TID, dst, addr)
		}
		return h.mem[addr]

	case blockinstr.Op:
		return h.execOp(dst, e)

	default:
		panic(fmt.Sprintf("host: unhandled expression %T", rhs))
	}
}

func (h *Host) addrOf(e blockinstr.Expr) uint64 {
	switch a := e.(type) {
	case blockinstr.Const:
		return uint64(a.Value)
	case blockinstr.RdTmp:
		return uint64(h.temps[a.Tmp])
	default:
		return 0
	}
}

func (h *Host) operand(e blockinstr.Expr) eval.Operand {
	rt, ok := e.(blockinstr.RdTmp)
	if !ok {
		return eval.Operand{IEEE: 0}
	}
	ieee := h.temps[rt.Tmp]
	sv, ok := h.Store.GetTemp(h.TID, rt.Tmp)
	if !ok || !sv.Active {
		return eval.Operand{IEEE: ieee}
	}
	return eval.Operand{SV: sv, IEEE: ieee}
}

func (h *Host) execOp(dst blockinstr.Temp, op blockinstr.Op) float64 {
	width := eval.Width64
	if op.Width == 32 {
		width = eval.Width32
	}

	switch op.Kind {
	case blockinstr.OpPassThrough:
		if h.Report != nil && blockinstr.IsMultiLane(op.Name) {
			h.Report.NoteMultiLaneSimplification()
		}
		if len(op.Operands) == 0 {
			return 0
		}
		src, ok := op.Operands[0].(blockinstr.RdTmp)
		if !ok {
			return 0
		}
		if sv, ok := h.Store.GetTemp(h.TID, src.Tmp); ok && sv.Active {
			d := h.Store.SetTemp(h.TID, dst)
			store.Copy(d, sv)
		} else {
			h.Store.DeactivateTemp(h.TID, dst)
		}
		return h.temps[src.Tmp]

	case blockinstr.OpUnaryFP:
		x := h.operand(op.Operands[0])
		native := nativeUnary(op, x.IEEE)
		result := h.Eval.Unary(eval.UnOpArgs{
			Op: nativeUnaryOp(op), Width: width, Origin: op.Origin,
			X: x, GuestResult: native,
		})
		d := h.Store.SetTemp(h.TID, dst)
		store.Copy(d, &result)
		return native

	case blockinstr.OpBinaryFP:
		a, b := h.operand(op.Operands[0]), h.operand(op.Operands[1])
		bop := nativeBinaryOp(op)
		native := nativeBinary(bop, a.IEEE, b.IEEE)
		result := h.Eval.Binary(eval.BinOpArgs{
			Op: bop, Width: width, Origin: op.Origin,
			A: a, B: b, GuestResult: native,
		})
		d := h.Store.SetTemp(h.TID, dst)
		store.Copy(d, &result)
		return native

	case blockinstr.OpTernaryFP:
		a, b := h.operand(op.Operands[0]), h.operand(op.Operands[1])
		code := ternaryCode(op)
		native := nativeBinary(nativeBinaryOp(op), a.IEEE, b.IEEE)
		result := h.Eval.Ternary(eval.TriOpArgs{
			Op: code, Width: width, Origin: op.Origin,
			A: a, B: b, GuestResult: native,
		})
		d := h.Store.SetTemp(h.TID, dst)
		store.Copy(d, &result)
		return native

	case blockinstr.OpCmpF64:
		a, b := h.operand(op.Operands[0]), h.operand(op.Operands[1])
		h.lastCompare = h.Eval.CompareF64(op.Origin, a, b, h.GotoShadowBranch)
		return float64(h.lastCompare)

	case blockinstr.OpIntConvert:
		x := h.operand(op.Operands[0])
		iv := h.Eval.ConvertToInt(x, eval.IntWidth{Bits: op.Width, Signed: true})
		return float64(iv)

	default:
		blockinstr.RecordUnsupportedOpcode(fmt.Sprintf("kind=%d", op.Kind))
		h.Store.DeactivateTemp(h.TID, dst)
		return 0
	}
}

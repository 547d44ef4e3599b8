package blockinstr

import "sync"

// Importance is the backward pass's per-temp verdict (spec.md §4.4
// "Backward pass"): unknown (0), unused-for-shadow (-1), or important
// (true via impTmp > 0 in the source's own encoding, represented here as
// a tri-state for clarity).
type Importance int

const (
	ImportanceUnknown Importance = iota
	ImportanceUnused
	ImportanceImportant
)

// Analysis is the result of running both dataflow passes over one Block:
// the substitution chain the emission pass consults, plus the set of
// statements that actually need a transfer/evaluator callback.
type Analysis struct {
	// TmpInstead maps a destination temp to the ultimate source temp a
	// chain of pass-through ops and register reads resolves to; a temp
	// that resolves to nothing has no entry (spec.md §4.4 "Forward pass").
	TmpInstead map[Temp]Temp

	// ImportantTemps holds the set of temps importance marked as
	// ImportanceImportant by the backward pass.
	ImportantTemps map[Temp]bool

	// Emit lists, in order, every statement requiring a shadow callback.
	Emit []EmitPoint
}

// EmitPoint names one statement the evaluator or a transfer handler must
// see, with any substitution already resolved (spec.md §4.4 "Emission
// pass").
type EmitPoint struct {
	Stmt      Stmt
	Operand   Temp // substituted operand temp, if applicable; -1 otherwise.
	SkipShadow bool // true for the IP register or constant-address loads and stores.
}

// unsupportedOpcodes is the process-wide set spec.md §4.4 describes:
// "Unsupported FP opcodes are recorded in a process-wide set and emit a
// warning once at report time."
var unsupportedOpcodes = struct {
	mu   sync.Mutex
	seen map[string]bool
}{seen: make(map[string]bool)}

// RecordUnsupportedOpcode registers an opcode the instrumenter could not
// classify; it is reported at most once (spec.md §4.4, §7 "Unsupported
// opcode").
func RecordUnsupportedOpcode(name string) {
	unsupportedOpcodes.mu.Lock()
	defer unsupportedOpcodes.mu.Unlock()
	unsupportedOpcodes.seen[name] = true
}

// UnsupportedOpcodes returns every opcode recorded so far, for the
// termination-time warning.
func UnsupportedOpcodes() []string {
	unsupportedOpcodes.mu.Lock()
	defer unsupportedOpcodes.mu.Unlock()
	out := make([]string, 0, len(unsupportedOpcodes.seen))
	for name := range unsupportedOpcodes.seen {
		out = append(out, name)
	}
	return out
}

// Analyze runs the backward importance pass followed by the forward
// substitution-chain pass over a block, then builds the emission plan
// (spec.md §4.4, all three passes).
func Analyze(b *Block) *Analysis {
	impReg, impTmp := backwardImportance(b)
	tmpInstead := forwardSubstitution(b)

	a := &Analysis{
		TmpInstead:     tmpInstead,
		ImportantTemps: make(map[Temp]bool),
	}
	for t, imp := range impTmp {
		if imp == ImportanceImportant {
			a.ImportantTemps[t] = true
		}
	}
	_ = impReg // not part of the Analysis result.

	a.Emit = emissionPlan(b, tmpInstead)
	return a
}

// backwardImportance implements spec.md §4.4 "Backward pass — importance
// propagation": walking from the last statement upward, decide which
// registers are still read downstream and which temps feed a shadow-
// relevant sink.
func backwardImportance(b *Block) (impReg map[uint32]bool, impTmp map[Temp]Importance) {
	impReg = make(map[uint32]bool)
	impTmp = make(map[Temp]Importance)

	markImportant := func(e Expr) {
		if rt, ok := e.(RdTmp); ok {
			impTmp[rt.Tmp] = ImportanceImportant
		}
	}
	markUnusedIfUnknown := func(e Expr) {
		rt, ok := e.(RdTmp)
		if !ok {
			return
		}
		if _, has := impTmp[rt.Tmp]; !has {
			impTmp[rt.Tmp] = ImportanceUnused
		}
	}

	for i := len(b.Stmts) - 1; i >= 0; i-- {
		switch s := b.Stmts[i].(type) {
		case PutReg:
			impReg[s.Offset] = false
			impTmp[s.Src] = ImportanceImportant
		case PutRegI:
			impReg[s.Base] = false
			impTmp[s.Src] = ImportanceImportant
		case StoreMem:
			impTmp[s.Data] = ImportanceImportant
		case WrTmp:
			if op, ok := s.Rhs.(Op); ok {
				switch op.Kind {
				case OpPassThrough:
					for _, operand := range op.Operands {
						markImportant(operand)
					}
				case OpUnaryFP, OpBinaryFP, OpTernaryFP, OpCmpF64:
					for _, operand := range op.Operands {
						markImportant(operand)
					}
				default:
					for _, operand := range op.Operands {
						markUnusedIfUnknown(operand)
					}
				}
			}
		}
	}
	return impReg, impTmp
}

// forwardSubstitution implements spec.md §4.4 "Forward pass —
// substitution chain": walking top-down, resolve pass-through opcodes and
// Get-from-register so tmpInstead[dst] points to the ultimate source temp,
// skipping reinterprets and repackings.
//
// tmpInReg tracks offset→temp, the register's current source temp as of
// the statement being visited (fd_main.c's own forward sweep, lines
// ~3114-3144): a Put records which temp last wrote the register, and a
// later Get chases tmpInReg[offset] through tmpInstead the same way a
// pass-through chain is chased.
func forwardSubstitution(b *Block) map[Temp]Temp {
	tmpInstead := make(map[Temp]Temp)
	tmpInReg := make(map[uint32]Temp)

	resolve := func(t Temp) Temp {
		for {
			next, ok := tmpInstead[t]
			if !ok {
				return t
			}
			t = next
		}
	}

	for _, stmt := range b.Stmts {
		switch s := stmt.(type) {
		case PutReg:
			tmpInReg[s.Offset] = s.Src
		case WrTmp:
			switch rhs := s.Rhs.(type) {
			case GetReg:
				if src, ok := tmpInReg[rhs.Offset]; ok {
					tmpInstead[s.Dst] = resolve(src)
				}
			case Op:
				if rhs.Kind != OpPassThrough || len(rhs.Operands) == 0 {
					continue
				}
				if rt, ok := rhs.Operands[0].(RdTmp); ok {
					tmpInstead[s.Dst] = resolve(rt.Tmp)
				}
			}
		}
	}
	return tmpInstead
}

// emissionPlan implements spec.md §4.4 "Emission pass": for every
// statement that affects shadow state, build the callback site, routing
// through tmpInstead where it resolves, skipping IP writes and
// constant-address loads and stores.
func emissionPlan(b *Block, tmpInstead map[Temp]Temp) []EmitPoint {
	resolve := func(t Temp) Temp {
		for {
			next, ok := tmpInstead[t]
			if !ok {
				return t
			}
			t = next
		}
	}

	var plan []EmitPoint
	for _, stmt := range b.Stmts {
		switch s := stmt.(type) {
		case PutReg:
			if s.Offset == InstructionPointerOffset {
				plan = append(plan, EmitPoint{Stmt: s, Operand: -1, SkipShadow: true})
				continue
			}
			plan = append(plan, EmitPoint{Stmt: s, Operand: resolve(s.Src)})
		case PutRegI:
			plan = append(plan, EmitPoint{Stmt: s, Operand: resolve(s.Src)})
		case StoreMem:
			if _, ok := s.Addr.(Const); ok {
				plan = append(plan, EmitPoint{Stmt: s, Operand: -1, SkipShadow: true})
				continue
			}
			plan = append(plan, EmitPoint{Stmt: s, Operand: resolve(s.Data)})
		case WrTmp:
			if op, ok := s.Rhs.(Op); ok {
				switch op.Kind {
				case OpUnaryFP, OpBinaryFP, OpTernaryFP, OpCmpF64, OpIntConvert:
					plan = append(plan, EmitPoint{Stmt: s, Operand: s.Dst})
				case OpOther:
					// nothing to do for ops with no shadow relevance.
				}
			}
			if ld, ok := s.Rhs.(Load); ok {
				if ld.ConstAddr {
					plan = append(plan, EmitPoint{Stmt: s, Operand: -1, SkipShadow: true})
				} else {
					plan = append(plan, EmitPoint{Stmt: s, Operand: s.Dst})
				}
			}
		}
	}
	return plan
}

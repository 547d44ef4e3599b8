package blockinstr

import "testing"

func TestBackwardImportanceMarksBinaryFPOperandsImportant(t *testing.T) {
	b := &Block{
		NTemps: 3,
		Stmts: []Stmt{
			WrTmp{Dst: 2, Rhs: Op{Kind: OpBinaryFP, Variant: "add", Operands: []Expr{RdTmp{Tmp: 0}, RdTmp{Tmp: 1}}}},
		},
	}
	a := Analyze(b)
	if !a.ImportantTemps[0] || !a.ImportantTemps[1] {
		t.Error("both operands of a binary FP op should be marked important")
	}
}

func TestBackwardImportanceLeavesIntegerOpsUnused(t *testing.T) {
	b := &Block{
		NTemps: 2,
		Stmts: []Stmt{
			WrTmp{Dst: 1, Rhs: Op{Kind: OpOther, Operands: []Expr{RdTmp{Tmp: 0}}}},
		},
	}
	a := Analyze(b)
	if a.ImportantTemps[0] {
		t.Error("an operand feeding only a non-FP op should not be marked important")
	}
}

func TestForwardSubstitutionResolvesPassThroughChain(t *testing.T) {
	b := &Block{
		NTemps: 3,
		Stmts: []Stmt{
			WrTmp{Dst: 1, Rhs: Op{Kind: OpPassThrough, Name: "64Uto128", Operands: []Expr{RdTmp{Tmp: 0}}}},
			WrTmp{Dst: 2, Rhs: Op{Kind: OpBinaryFP, Variant: "add", Operands: []Expr{RdTmp{Tmp: 1}, RdTmp{Tmp: 1}}}},
		},
	}
	a := Analyze(b)
	if got, ok := a.TmpInstead[1]; !ok || got != 0 {
		t.Errorf("TmpInstead[1] = (%d,%v), want (0,true)", got, ok)
	}
}

func TestForwardSubstitutionChasesPutThenGetRegisterRoundTrip(t *testing.T) {
	b := &Block{
		NTemps: 2,
		Stmts: []Stmt{
			PutReg{Offset: 32, Src: 0},
			WrTmp{Dst: 1, Rhs: GetReg{Offset: 32}},
		},
	}
	a := Analyze(b)
	if got, ok := a.TmpInstead[1]; !ok || got != 0 {
		t.Errorf("TmpInstead[1] = (%d,%v), want (0,true): a Get should resolve through a prior Put to the same offset", got, ok)
	}
}

func TestForwardSubstitutionChasesPutThenGetThroughPassThroughChain(t *testing.T) {
	b := &Block{
		NTemps: 3,
		Stmts: []Stmt{
			WrTmp{Dst: 0, Rhs: Op{Kind: OpPassThrough, Name: "64Uto128", Operands: []Expr{RdTmp{Tmp: 5}}}},
			PutReg{Offset: 40, Src: 0},
			WrTmp{Dst: 2, Rhs: GetReg{Offset: 40}},
		},
	}
	a := Analyze(b)
	if got, ok := a.TmpInstead[2]; !ok || got != 5 {
		t.Errorf("TmpInstead[2] = (%d,%v), want (5,true): Get should chase the Put's source through its own pass-through resolution", got, ok)
	}
}

func TestForwardSubstitutionIgnoresGetFromUnwrittenOffset(t *testing.T) {
	b := &Block{
		NTemps: 1,
		Stmts: []Stmt{
			WrTmp{Dst: 0, Rhs: GetReg{Offset: 99}},
		},
	}
	a := Analyze(b)
	if _, ok := a.TmpInstead[0]; ok {
		t.Error("a Get from an offset never Put in this block should not resolve to anything")
	}
}

func TestEmissionPlanSkipsInstructionPointerPut(t *testing.T) {
	b := &Block{
		NTemps: 1,
		Stmts: []Stmt{
			PutReg{Offset: InstructionPointerOffset, Src: 0},
		},
	}
	a := Analyze(b)
	if len(a.Emit) != 1 || !a.Emit[0].SkipShadow {
		t.Error("a Put to the IP register offset should be emitted with SkipShadow")
	}
}

func TestEmissionPlanSkipsConstantAddressLoad(t *testing.T) {
	b := &Block{
		NTemps: 1,
		Stmts: []Stmt{
			WrTmp{Dst: 0, Rhs: Load{Addr: Const{Value: 0x1000}, ConstAddr: true}},
		},
	}
	a := Analyze(b)
	if len(a.Emit) != 1 || !a.Emit[0].SkipShadow {
		t.Error("a load from a constant address should be emitted with SkipShadow")
	}
}

func TestEmissionPlanSkipsConstantAddressStore(t *testing.T) {
	b := &Block{
		NTemps: 1,
		Stmts: []Stmt{
			StoreMem{Addr: Const{Value: 0x2000}, Data: 0},
		},
	}
	a := Analyze(b)
	if len(a.Emit) != 1 || !a.Emit[0].SkipShadow {
		t.Error("a store to a constant address should be emitted with SkipShadow")
	}
}

func TestEmissionPlanEmitsVariableAddressStore(t *testing.T) {
	b := &Block{
		NTemps: 1,
		Stmts: []Stmt{
			StoreMem{Addr: RdTmp{Tmp: 5}, Data: 0},
		},
	}
	a := Analyze(b)
	if len(a.Emit) != 1 || a.Emit[0].SkipShadow {
		t.Error("a store to a variable address should not be skipped")
	}
	if a.Emit[0].Operand != 0 {
		t.Errorf("Emit[0].Operand = %d, want 0", a.Emit[0].Operand)
	}
}

func TestEmissionPlanEmitsVariableAddressLoad(t *testing.T) {
	b := &Block{
		NTemps: 1,
		Stmts: []Stmt{
			WrTmp{Dst: 0, Rhs: Load{Addr: RdTmp{Tmp: 5}, ConstAddr: false}},
		},
	}
	a := Analyze(b)
	if len(a.Emit) != 1 || a.Emit[0].SkipShadow {
		t.Error("a load from a variable address should not be skipped")
	}
	if a.Emit[0].Operand != 0 {
		t.Errorf("Emit[0].Operand = %d, want 0", a.Emit[0].Operand)
	}
}

func TestEmissionPlanRoutesPutThroughSubstitution(t *testing.T) {
	b := &Block{
		NTemps: 3,
		Stmts: []Stmt{
			WrTmp{Dst: 1, Rhs: Op{Kind: OpPassThrough, Name: "64Uto128", Operands: []Expr{RdTmp{Tmp: 0}}}},
			PutReg{Offset: 32, Src: 1},
		},
	}
	a := Analyze(b)
	var putEmit *EmitPoint
	for i := range a.Emit {
		if _, ok := a.Emit[i].Stmt.(PutReg); ok {
			putEmit = &a.Emit[i]
		}
	}
	if putEmit == nil {
		t.Fatal("no emit point produced for the Put")
	}
	if putEmit.Operand != 0 {
		t.Errorf("Put operand = %d, want 0 (resolved through the pass-through chain)", putEmit.Operand)
	}
}

func TestUnsupportedOpcodesRecordedOnce(t *testing.T) {
	RecordUnsupportedOpcode("Iop_WeirdOp")
	RecordUnsupportedOpcode("Iop_WeirdOp")
	RecordUnsupportedOpcode("Iop_OtherOp")

	found := 0
	for _, name := range UnsupportedOpcodes() {
		if name == "Iop_WeirdOp" {
			found++
		}
	}
	if found != 1 {
		t.Errorf("Iop_WeirdOp recorded %d times in UnsupportedOpcodes(), want 1", found)
	}
}

func TestIsMultiLaneClassifiesLanePackingOps(t *testing.T) {
	if !IsMultiLane("64Uto128") {
		t.Error("64Uto128 should be classified as multi-lane")
	}
	if IsMultiLane("Iop_Add64") {
		t.Error("an unrelated pass-through name should not be classified as multi-lane")
	}
}

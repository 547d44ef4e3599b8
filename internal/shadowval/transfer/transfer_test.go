package transfer

import (
	"testing"

	"github.com/kolkov/shadowprobe/internal/diag"
	"github.com/kolkov/shadowprobe/internal/mpfloat"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
)

func newHandlers() (*Handlers, *store.Store) {
	s := store.New(mpfloat.DefaultPrecision)
	d := diag.NewContext(true, false)
	return New(s, d), s
}

func TestLoadCopiesActiveMemoryIntoTemp(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()

	mem := s.SetMem(0x4000)
	mem.Value = mpfloat.FromFloat64(mpfloat.DefaultPrecision, 9.0)

	h.Load(tid, 2, 0x4000)

	tmp, ok := s.GetTemp(tid, 2)
	if !ok {
		t.Fatal("Load should activate the destination temp")
	}
	if tmp.Value.Float64() != 9.0 {
		t.Errorf("Load copied Value = %v, want 9.0", tmp.Value.Float64())
	}
}

func TestLoadDeactivatesTempWhenMemoryUntracked(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()
	s.SetTemp(tid, 3) // pre-activate so we can observe deactivation.

	h.Load(tid, 3, 0x5000) // no SV ever set at this address.

	if _, ok := s.GetTemp(tid, 3); ok {
		t.Error("Load from an untracked address should deactivate the destination temp")
	}
}

func TestStoreCopiesActiveTempIntoMemoryAndRecordsOrg(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()

	tmp := s.SetTemp(tid, 0)
	tmp.Value = mpfloat.FromFloat64(mpfloat.DefaultPrecision, 3.5)

	h.Store(tid, 0x6000, 0, store.OrgFloat64, 3.5)

	mem, ok := s.GetMem(0x6000)
	if !ok {
		t.Fatal("Store should activate the destination memory SV")
	}
	if mem.Org.AsFloat64() != 3.5 {
		t.Errorf("Store recorded Org = %v, want 3.5", mem.Org.AsFloat64())
	}
}

func TestStoreDeactivatesMemoryWhenTempUntracked(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()
	s.SetMem(0x7000) // pre-activate so we can observe deactivation.

	h.Store(tid, 0x7000, 5, store.OrgFloat64, 1.0) // temp 5 was never set.

	if _, ok := s.GetMem(0x7000); ok {
		t.Error("Store from an untracked temp should deactivate the destination memory SV")
	}
}

func TestStoreFeedsActiveStages(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()

	h.Diag.StageStart(0)

	tmp := s.SetTemp(tid, 0)
	tmp.Value = mpfloat.FromFloat64(mpfloat.DefaultPrecision, 1.0)
	h.Store(tid, 0x8000, 0, store.OrgFloat64, 1.0)
	h.Diag.StageEnd(0)

	// Second iteration: shadow 2.0 against guest 2.5 gives relError 0.2,
	// a delta of 0.2 over the first iteration's 0.
	h.Diag.StageStart(0)
	tmp2 := s.SetTemp(tid, 0)
	tmp2.Value = mpfloat.FromFloat64(mpfloat.DefaultPrecision, 2.0)
	h.Store(tid, 0x8000, 0, store.OrgFloat64, 2.5)
	h.Diag.StageEnd(0)

	if reports := h.Diag.StageReports(); len(reports) == 0 {
		t.Error("Store should feed ActiveStages() via StageRecord, producing a divergence on the second iteration")
	}
}

func TestGetPutRoundTrip(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()

	tmp := s.SetTemp(tid, 0)
	tmp.Value = mpfloat.FromFloat64(mpfloat.DefaultPrecision, 7.0)

	h.Put(tid, 16, 0)
	reg, ok := s.GetReg(tid, 16)
	if !ok || reg.Value.Float64() != 7.0 {
		t.Fatal("Put did not copy the active temp into the register slot")
	}

	h.Get(tid, 1, 16)
	tmp2, ok := s.GetTemp(tid, 1)
	if !ok || tmp2.Value.Float64() != 7.0 {
		t.Fatal("Get did not copy the active register back into a temp")
	}
}

func TestPutDeactivatesRegisterWhenSourceUntracked(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()
	s.SetReg(tid, 24) // pre-activate.

	h.Put(tid, 24, 9) // temp 9 was never set.

	if _, ok := s.GetReg(tid, 24); ok {
		t.Error("Put from an untracked temp should deactivate the register")
	}
}

func TestGetIPutICircularIndexing(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()

	tmp := s.SetTemp(tid, 0)
	tmp.Value = mpfloat.FromFloat64(mpfloat.DefaultPrecision, 4.0)

	// base=100, nElem=8, elemSize=4: ix=-1 wraps to the last slot.
	h.PutI(tid, 100, -1, 0, 8, 4, 0)

	h.GetI(tid, 1, 100, -1, 0, 8, 4)
	got, ok := s.GetTemp(tid, 1)
	if !ok || got.Value.Float64() != 4.0 {
		t.Fatal("GetI/PutI did not round-trip through the same circular slot")
	}
}

func TestMuxSelectsActiveSide(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()

	selected := &store.ShadowValue{
		Active: true,
		Value:  mpfloat.FromFloat64(mpfloat.DefaultPrecision, 42.0),
	}
	h.Mux(tid, 2, selected)

	got, ok := s.GetTemp(tid, 2)
	if !ok || got.Value.Float64() != 42.0 {
		t.Fatal("Mux did not copy the selected side into the destination temp")
	}
}

func TestMuxDeactivatesWhenSelectedSideUntracked(t *testing.T) {
	h, s := newHandlers()
	tid := store.ThreadID(1)
	s.IncrementBlock()
	s.SetTemp(tid, 3) // pre-activate.

	h.Mux(tid, 3, nil)

	if _, ok := s.GetTemp(tid, 3); ok {
		t.Error("Mux with no selected SV should deactivate the destination temp")
	}
}

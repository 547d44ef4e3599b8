// Package transfer implements the state-transfer handlers (spec.md §4.3
// — C3): the plumbing that moves shadow values between carriers without
// performing arithmetic — Load, Store, Get, Put, GetI, PutI, and Mux.
//
// Grounded on the teacher's internal/race/shadowmem package for the
// "copy into a carrier, or deactivate on an untracked write" shape, here
// generalized from VarState promotion/demotion to the spec's
// active/inactive toggle over store.ShadowValue.
package transfer

import (
	"github.com/kolkov/shadowprobe/internal/diag"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
)

// Handlers bundles the shadow store and diagnostic context every C3
// entry point needs.
type Handlers struct {
	store *store.Store
	Diag  *diag.Context
}

// New constructs a Handlers bound to a store and diagnostic context.
func New(s *store.Store, d *diag.Context) *Handlers {
	return &Handlers{store: s, Diag: d}
}

// Load implements "Load tmp ← mem[addr]" (spec.md §4.3): if a memory SV
// exists and is active, copy it into set_temp(tmp); otherwise the temp is
// deactivated, matching Invariant 3.
func (h *Handlers) Load(tid store.ThreadID, tmp int, addr uint64) {
	if sv, ok := h.store.GetMem(addr); ok {
		dst := h.store.SetTemp(tid, tmp)
		store.Copy(dst, sv)
		return
	}
	h.store.DeactivateTemp(tid, tmp)
}

// Store implements "Store mem[addr] ← tmp" (spec.md §4.3). width
// classifies the stored value for orgType; guestValue is the guest's
// live IEEE value being written, recorded into Org when the temp is
// tracked. Any currently active stage observes the write.
func (h *Handlers) Store(tid store.ThreadID, addr uint64, tmp int, width store.OrgType, guestValue float64) {
	sv, ok := h.store.GetTemp(tid, tmp)
	relErr := 0.0
	if ok && sv.Active {
		dst := h.store.SetMem(addr)
		store.Copy(dst, sv)
		dst.OrgType = width
		dst.Org = orgFrom(width, guestValue)
		relErr = diag.RelativeError(dst.Value.Float64(), guestValue)
	} else {
		h.store.DeactivateMem(addr)
	}

	if h.Diag == nil {
		return
	}
	for _, stage := range h.Diag.ActiveStages() {
		h.Diag.StageRecord(stage, addr, guestValue, relErr)
	}
}

func orgFrom(t store.OrgType, v float64) store.Org {
	if t == store.OrgFloat32 {
		return store.Org{Type: store.OrgFloat32, F32: float32(v)}
	}
	return store.Org{Type: store.OrgFloat64, F64: v}
}

// Get implements "Get (register → temp)" (spec.md §4.3).
func (h *Handlers) Get(tid store.ThreadID, tmp int, regOffset uint32) {
	if sv, ok := h.store.GetReg(tid, regOffset); ok {
		dst := h.store.SetTemp(tid, tmp)
		store.Copy(dst, sv)
		return
	}
	h.store.DeactivateTemp(tid, tmp)
}

// Put implements "Put (temp → register)" (spec.md §4.3): "Put with an
// untracked source deactivates the register SV."
func (h *Handlers) Put(tid store.ThreadID, regOffset uint32, tmp int) {
	sv, ok := h.store.GetTemp(tid, tmp)
	if ok && sv.Active {
		dst := h.store.SetReg(tid, regOffset)
		store.Copy(dst, sv)
		return
	}
	h.store.DeactivateReg(tid, regOffset)
}

// GetI resolves the circular register index base+(ix+bias) mod nElems
// and behaves as Get (spec.md §4.3 "GetI/PutI").
func (h *Handlers) GetI(tid store.ThreadID, tmp int, base uint32, ix, bias, nElems int32, elemSize uint32) {
	offset := store.CircOffset(base, ix, bias, nElems, elemSize)
	h.Get(tid, tmp, offset)
}

// PutI is the symmetric circular-index Put.
func (h *Handlers) PutI(tid store.ThreadID, base uint32, ix, bias, nElems int32, elemSize uint32, tmp int) {
	offset := store.CircOffset(base, ix, bias, nElems, elemSize)
	h.Put(tid, offset, tmp)
}

// Mux implements "Mux(cond, e0, eX)" (spec.md §4.3): the caller has
// already resolved, from the guest's own condition, which side's SV (if
// any) was selected; if that side carries no SV, the destination temp
// gets none.
func (h *Handlers) Mux(tid store.ThreadID, dst int, selected *store.ShadowValue) {
	if selected != nil && selected.Active {
		d := h.store.SetTemp(tid, dst)
		store.Copy(d, selected)
		return
	}
	h.store.DeactivateTemp(tid, dst)
}

// Package store implements the shadow-value store (spec.md §3, §4.1 — C1):
// the central table owning all high-precision state keyed by temp index,
// guest-register byte offset, or guest memory address, along with the
// lifetime and activeness rules tying that state to the guest program.
//
// This is grounded on the teacher's internal/race/shadowmem package: a
// VarState cell per carrier, a sync.Map-backed table for the process-wide
// carriers (memory), and a GetOrCreate fast/slow path split. Here the cell
// is a ShadowValue instead of a VarState, and temps get their own
// per-thread, per-block-generation table instead of VarState's
// epoch/vector-clock promotion scheme — the lifetime rule is different
// (version-stamped presence, not happens-before) but the "lazily allocate,
// never free, reset via flag" shape is the same.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/shadowprobe/internal/mpfloat"
)

// MaxTemps bounds the per-thread temp table (spec.md §3 "Temps: array
// indexed 0..MAX_TEMPS-1"). The original Valgrind IR caps superblocks at a
// few hundred temporaries; this leaves generous headroom.
const MaxTemps = 1024

// OrgType classifies the guest's own IEEE result captured at SV creation
// (spec.md §3 "orgType").
type OrgType uint8

const (
	OrgInvalid OrgType = iota
	OrgFloat32
	OrgFloat64
)

// Org is the guest's own IEEE result, captured for drift comparison
// (spec.md §3 "Org.fl/Org.db").
type Org struct {
	Type OrgType
	F32  float32
	F64  float64
}

// AsFloat64 widens whichever native value is present to float64 for
// uniform comparison.
func (o Org) AsFloat64() float64 {
	switch o.Type {
	case OrgFloat32:
		return float64(o.F32)
	case OrgFloat64:
		return o.F64
	default:
		return 0
	}
}

// ShadowValue is the SV entity of spec.md §3.
type ShadowValue struct {
	Active  bool
	Version uint64 // temp-keyed SVs only; see Invariant 1.

	Value    mpfloat.Float // high precision P (or guest precision in simulate-original mode).
	MidValue mpfloat.Float // guest precision (24 or 53 bits).
	OriValue mpfloat.Float // guest precision with subnormal emulation.

	OpCount      int    // length of the longest FP dependency path (Invariant 3).
	Origin       uint64 // guest instruction address of the producing op.
	Canceled     int    // max cancelled bits anywhere on the dependency path (Invariant 4).
	CancelOrigin uint64 // address at which Canceled was maximal.

	OrgType OrgType
	Org     Org
}

// Copy performs the deep copy spec.md §4.1 describes: numeric and metadata
// fields are copied, but Active and Version on dst are left untouched —
// the caller (a transfer handler) owns carrier lifetime semantics.
func Copy(dst *ShadowValue, src *ShadowValue) {
	active, version := dst.Active, dst.Version
	*dst = *src
	dst.Value = src.Value.Clone()
	dst.MidValue = src.MidValue.Clone()
	dst.OriValue = src.OriValue.Clone()
	dst.Active, dst.Version = active, version
}

// ThreadID identifies a guest thread, the unit the host DBI framework
// schedules one-host-thread-per (spec.md §5).
type ThreadID uint32

// regKey addresses a register-carrier slot: (thread, byte offset). Circular
// register arrays are flattened into this same pool by the caller
// (spec.md §3 "Circular register arrays").
type regKey struct {
	tid    ThreadID
	offset uint32
}

type threadTemps struct {
	mu    sync.Mutex
	temps [MaxTemps]ShadowValue
}

// Store is the process-wide C1 singleton, created at tool init and torn
// down at fini (spec.md §9 "Process-wide singletons" — concentrated behind
// an explicit context rather than ambient package state).
type Store struct {
	precision uint

	threadsMu sync.Mutex
	threads   map[ThreadID]*threadTemps

	registers sync.Map // regKey -> *ShadowValue
	memory    sync.Map // uint64 (guest addr) -> *ShadowValue

	blockCounter uint64 // atomic; version stamp for temp SVs.

	mallocs uint64 // atomic; resource discipline invariant (spec.md §5).
	frees   uint64 // atomic.
}

// New creates an empty Store at the given shadow precision (spec.md §3
// "value — shadow number at user-configurable high precision P").
func New(precision uint) *Store {
	return &Store{
		precision: precision,
		threads:   make(map[ThreadID]*threadTemps),
	}
}

// Precision returns the configured shadow-channel precision P.
func (s *Store) Precision() uint { return s.precision }

// CurrentBlock returns the live block counter, the version stamp
// Invariant 1 compares temp SVs against.
func (s *Store) CurrentBlock() uint64 { return atomic.LoadUint64(&s.blockCounter) }

// IncrementBlock advances the process-wide block counter. Every translated
// block emits exactly one of these at its head (spec.md §4.4 "Every block
// also emits a 64-bit increment of the process-wide block counter").
func (s *Store) IncrementBlock() uint64 { return atomic.AddUint64(&s.blockCounter, 1) }

func (s *Store) threadState(tid ThreadID) *threadTemps {
	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()
	ts, ok := s.threads[tid]
	if !ok {
		ts = &threadTemps{}
		s.threads[tid] = ts
		atomic.AddUint64(&s.mallocs, 1)
	}
	return ts
}

// GetTemp returns the SV for temp idx on thread tid if present — i.e. its
// version equals the current block counter (Invariant 1) and it is
// currently Active, mirroring the register/memory presence check.
func (s *Store) GetTemp(tid ThreadID, idx int) (*ShadowValue, bool) {
	ts := s.threadState(tid)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	sv := &ts.temps[idx]
	if sv.Version != s.CurrentBlock() || !sv.Active {
		return nil, false
	}
	return sv, true
}

// SetTemp revives the existing entry at idx (stamping Version to the
// current block and marking Active) if present, or allocates fresh state
// in place. Either way it returns the slot for the caller to populate.
func (s *Store) SetTemp(tid ThreadID, idx int) *ShadowValue {
	ts := s.threadState(tid)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	sv := &ts.temps[idx]
	sv.Active = true
	sv.Version = s.CurrentBlock()
	return sv
}

// DeactivateTemp marks a temp as not currently tracked without discarding
// its historical fields, mirroring the register/memory deactivation path
// (Invariant 2 extended to temps for uniformity of the transfer handlers).
func (s *Store) DeactivateTemp(tid ThreadID, idx int) {
	ts := s.threadState(tid)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.temps[idx].Active = false
}

// GetReg returns the SV for (tid, offset) if one has ever been allocated
// and is Active, else (nil, false).
func (s *Store) GetReg(tid ThreadID, offset uint32) (*ShadowValue, bool) {
	val, ok := s.registers.Load(regKey{tid, offset})
	if !ok {
		return nil, false
	}
	sv := val.(*ShadowValue)
	if !sv.Active {
		return nil, false
	}
	return sv, true
}

// SetReg returns the SV slot for (tid, offset), allocating it on first use
// (spec.md §4.1 "get_reg/set_reg"). Allocation failure is not modeled in
// Go (the runtime's allocator panics on OOM, which is the fatal path
// spec.md §7 specifies for allocation failure).
func (s *Store) SetReg(tid ThreadID, offset uint32) *ShadowValue {
	key := regKey{tid, offset}
	if val, ok := s.registers.Load(key); ok {
		sv := val.(*ShadowValue)
		sv.Active = true
		return sv
	}
	sv := &ShadowValue{Active: true}
	actual, loaded := s.registers.LoadOrStore(key, sv)
	if !loaded {
		atomic.AddUint64(&s.mallocs, 1)
	}
	got := actual.(*ShadowValue)
	got.Active = true
	return got
}

// DeactivateReg implements Invariant 2 for the register carrier: storing
// any untracked value deactivates whatever SV previously lived there.
func (s *Store) DeactivateReg(tid ThreadID, offset uint32) {
	if val, ok := s.registers.Load(regKey{tid, offset}); ok {
		val.(*ShadowValue).Active = false
	}
}

// GetMem returns the SV for a guest address if allocated and Active.
func (s *Store) GetMem(addr uint64) (*ShadowValue, bool) {
	val, ok := s.memory.Load(addr)
	if !ok {
		return nil, false
	}
	sv := val.(*ShadowValue)
	if !sv.Active {
		return nil, false
	}
	return sv, true
}

// SetMem lazily allocates a memory-keyed SV on first tracked write and
// never frees it afterward — it only ever toggles Active (spec.md §3
// "Memory-keyed SVs are allocated on first store-through-tracked-temp and
// never freed; they toggle active instead").
func (s *Store) SetMem(addr uint64) *ShadowValue {
	if val, ok := s.memory.Load(addr); ok {
		sv := val.(*ShadowValue)
		sv.Active = true
		return sv
	}
	sv := &ShadowValue{Active: true}
	actual, loaded := s.memory.LoadOrStore(addr, sv)
	if !loaded {
		atomic.AddUint64(&s.mallocs, 1)
	}
	got := actual.(*ShadowValue)
	got.Active = true
	return got
}

// DeactivateMem implements Invariant 2 for the memory carrier.
func (s *Store) DeactivateMem(addr uint64) {
	if val, ok := s.memory.Load(addr); ok {
		val.(*ShadowValue).Active = false
	}
}

// CircOffset resolves a circular register array index to a flat register
// offset: base + (ix+bias) mod nElems (spec.md §3 "Circular register
// arrays", §4.3 "GetI/PutI"). It shares the same register slot pool as
// plain Get/Put.
func CircOffset(base uint32, ix, bias, nElems int32, elemSize uint32) uint32 {
	n := int32(nElems)
	idx := ((ix+bias)%n + n) % n
	return base + uint32(idx)*elemSize
}

// Stats reports the resource-discipline counters (spec.md §5). Mallocs
// counts allocations (one per thread temp table, register SV and memory
// SV); nothing is ever freed, so Frees stays zero and Mallocs - Frees
// counts every allocation, active or not.
type Stats struct {
	Mallocs uint64
	Frees   uint64
}

func (s *Store) Stats() Stats {
	return Stats{
		Mallocs: atomic.LoadUint64(&s.mallocs),
		Frees:   atomic.LoadUint64(&s.frees),
	}
}

// Reset deactivates every temp, register, and memory SV — the RESET
// client request (spec.md §4.6), required to be idempotent (spec.md §8
// property 6).
func (s *Store) Reset() {
	s.threadsMu.Lock()
	for _, ts := range s.threads {
		ts.mu.Lock()
		for i := range ts.temps {
			ts.temps[i].Active = false
		}
		ts.mu.Unlock()
	}
	s.threadsMu.Unlock()

	s.registers.Range(func(_, v interface{}) bool {
		v.(*ShadowValue).Active = false
		return true
	})
	s.memory.Range(func(_, v interface{}) bool {
		v.(*ShadowValue).Active = false
		return true
	})
}

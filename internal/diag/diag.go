// Package diag implements the diagnostic accumulators (spec.md §4.5 — C5):
// per-origin mean/max error bookkeeping, introduced-error computation, the
// stage tracker, and the PSO detector. It is the process-wide context
// object spec.md §9 "Process-wide singletons" calls for: one Context,
// created at init and threaded through every C2/C3 callback rather than
// kept as ambient package state.
//
// Grounded on the teacher's internal/race/detector/sampler.go for the
// shape of a small atomic-counter-driven accumulator, and on
// internal/race/stackdepot for the "process-wide dedup set" pattern
// reused here for the PSO and mean-value tables, which are plain maps
// keyed by origin address and guarded by a sync.Mutex.
package diag

import (
	"math"
	"sort"
	"sync"
)

// MaxStages bounds the stage-tracker table (spec.md §3 "Stage state ...
// indexed by stage number 0..MAX_STAGES-1").
const MaxStages = 256

// MemKey addresses a tracked guest memory location for stage and
// mean-value bookkeeping.
type MemKey = uint64

// OriginStats is the per-origin accumulator entry spec.md §3
// "Per-operation metadata entries" describes.
type OriginStats struct {
	Count int

	SumRelError float64
	MaxRelError float64

	SumCanceled int
	MaxCanceled int

	SumBadness float64
	MaxBadness float64

	// ParentOrigins is the operand-origin pair recorded from the run that
	// produced MaxRelError (spec.md §4.5 "operand-origin pair from the
	// max-error run").
	ParentOrigins [2]uint64

	Visited          bool
	CanceledOverflow bool
}

// Context is the process-wide accumulator set (spec.md §9). It owns the
// mean-value table, PSO state, and stage state, and is safe for
// concurrent use from whichever single callback currently owns the guest
// block being processed (spec.md §5 concurrency model — one writer at a
// time per table, enforced by the host's serialized dispatch, not by this
// package).
type Context struct {
	meanEnabled bool

	mu        sync.Mutex
	origins   map[uint64]*OriginStats
	ignoreEnd bool

	ignoreLibs func(addr uint64) bool

	pso psoState

	stagesMu sync.Mutex
	stages   [MaxStages]*stageState

	reportsMu sync.Mutex
	reports   map[stageKey]*StageReport
}

// NewContext creates an empty diagnostic context. meanErrorEnabled mirrors
// --mean-error; ignoreEnd mirrors --ignore-end (spec.md §6).
func NewContext(meanErrorEnabled, ignoreEnd bool) *Context {
	return &Context{
		meanEnabled: meanErrorEnabled,
		ignoreEnd:   ignoreEnd,
		origins:     make(map[uint64]*OriginStats),
		pso: psoState{
			errorMap: make(map[uint64]*psoRunEntry),
			detected: make(map[uint64]*DetectedPSO),
		},
		reports: make(map[stageKey]*StageReport),
	}
}

// SetIgnoreLibraries installs an address filter: origins for which pred
// returns true are not accumulated by RecordEvaluation. The PSO and stage
// tables do not consult it, and the ignoreEnd flag NewContext stores is
// not read by any filter. Nothing in this repository calls
// SetIgnoreLibraries, so --ignore-libraries and --ignore-end have no
// effect on the accumulators.
func (c *Context) SetIgnoreLibraries(pred func(addr uint64) bool) {
	c.ignoreLibs = pred
}

func (c *Context) filtered(addr uint64) bool {
	return c.ignoreLibs != nil && c.ignoreLibs(addr)
}

func (c *Context) origin(addr uint64) *OriginStats {
	st, ok := c.origins[addr]
	if !ok {
		st = &OriginStats{}
		c.origins[addr] = st
	}
	return st
}

// RecordEvaluation feeds one C2 evaluation's result into the mean-value
// table (spec.md §4.5 "Mean/max error per origin", invariant 2). parents
// are the two operand origins, or 0 where absent.
func (c *Context) RecordEvaluation(origin uint64, relError float64, canceled int, badness float64, parents [2]uint64) {
	if !c.meanEnabled || c.filtered(origin) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.origin(origin)
	before := st.SumCanceled
	st.Count++
	st.SumRelError += relError
	if relError > st.MaxRelError {
		st.MaxRelError = relError
		st.ParentOrigins = parents
	}
	st.SumCanceled += canceled
	if st.SumCanceled < before {
		st.CanceledOverflow = true
	}
	if canceled > st.MaxCanceled {
		st.MaxCanceled = canceled
	}
	st.SumBadness += badness
	if badness > st.MaxBadness {
		st.MaxBadness = badness
	}
}

// Stats returns a snapshot of the origin's accumulator, or false if no
// evaluation has touched it.
func (c *Context) Stats(origin uint64) (OriginStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.origins[origin]
	if !ok {
		return OriginStats{}, false
	}
	return *st, true
}

// IntroducedError implements spec.md §4.5 "Introduced error": the
// residual error a single origin contributes beyond what it inherited
// from its operand origins.
func (c *Context) IntroducedError(origin uint64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	self, ok := c.origins[origin]
	if !ok {
		return 0, false
	}
	p0, p1 := self.ParentOrigins[0], self.ParentOrigins[1]

	lookup := func(addr uint64) (float64, bool) {
		if addr == 0 {
			return 0, false
		}
		st, ok := c.origins[addr]
		if !ok {
			return 0, false
		}
		return st.MaxRelError, true
	}

	distinctParents := 0
	var parentMax [2]float64
	var parentOK [2]bool
	if p0 != 0 && p0 != origin {
		parentMax[0], parentOK[0] = lookup(p0)
		if parentOK[0] {
			distinctParents++
		}
	}
	if p1 != 0 && p1 != origin && p1 != p0 {
		parentMax[1], parentOK[1] = lookup(p1)
		if parentOK[1] {
			distinctParents++
		}
	}

	switch {
	case (p0 == origin || p1 == origin) && (p0 != 0 || p1 != 0):
		// A parent equals self (recursion): use self's max directly.
		return self.MaxRelError, true
	case distinctParents == 2:
		larger := parentMax[0]
		if parentMax[1] > larger {
			larger = parentMax[1]
		}
		return self.MaxRelError - larger, true
	case distinctParents == 1:
		var only float64
		if parentOK[0] {
			only = parentMax[0]
		} else {
			only = parentMax[1]
		}
		return self.MaxRelError - only, true
	default:
		return self.MaxRelError, true
	}
}

// Origins returns every origin address the mean-value accumulator has
// recorded a C2 evaluation for, sorted ascending so the report writer's
// dump files come out in a stable order run to run.
func (c *Context) Origins() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.origins))
	for o := range c.origins {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RelativeError computes |shadow-ieee|/|ieee|, the quantity spec.md §4.2
// step 10 and the GLOSSARY's error definitions are built from. When ieee
// is zero, the absolute difference is used instead to avoid a division
// blowup on an exact-zero guest value.
func RelativeError(shadow, ieee float64) float64 {
	if ieee == 0 {
		return math.Abs(shadow)
	}
	return math.Abs(shadow-ieee) / math.Abs(ieee)
}

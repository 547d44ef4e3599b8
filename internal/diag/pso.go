package diag

import (
	"sort"
	"sync"
)

// DetectedPSO is a persisted PSO candidate (spec.md §3 "PSO state ...
// detectedPSO keyed by origin"). Once present, the evaluator substitutes
// midValue for value at this origin on every subsequent run.
type DetectedPSO struct {
	FalsePositive bool
}

type psoRunEntry struct {
	errCnt   int
	ovCnt    int
	totalCnt int
}

// psoState is the detector's working state: a per-run errorMap and the
// cross-run detectedPSO table (spec.md §3).
type psoState struct {
	mu sync.Mutex

	running  bool
	errorMap map[uint64]*psoRunEntry
	detected map[uint64]*DetectedPSO

	// foundThisInstance is the single, unkeyed per-instance latch
	// fd_main.c's own findFirstPSO global implements: once any origin in
	// the current guest instance crosses the inflation threshold, every
	// later AnalyzePSO call in that instance — for any origin, not just
	// the one that fired — is skipped outright, including its totalCnt
	// increment (fd_main.c's analyzePSO returns unconditionally at its
	// top when findFirstPSO is set). Cleared each PSO_BEGIN_INSTANCE.
	foundThisInstance bool
}

// PSOBeginRun implements PSO_BEGIN_RUN: starts a fresh detection cycle
// (spec.md §4.6, §4.5 "After at least one beginOneRun()/endOneRun()
// cycle").
func (c *Context) PSOBeginRun() {
	c.pso.mu.Lock()
	defer c.pso.mu.Unlock()
	c.pso.running = true
	c.pso.errorMap = make(map[uint64]*psoRunEntry)
}

// PSOBeginInstance implements PSO_BEGIN_INSTANCE: clears the per-instance
// latch so the next AnalyzePSO call in this guest instance, for whichever
// origin reaches it first, can count (spec.md §4.5 "Only the first PSO in
// a single guest instance is counted", mirroring findFirstPSO's reset in
// fd_main.c's beginOneInstance(), lines 944-946).
func (c *Context) PSOBeginInstance() {
	c.pso.mu.Lock()
	defer c.pso.mu.Unlock()
	c.pso.foundThisInstance = false
}

// AnalyzePSO implements spec.md §4.5 `analyzePSO(inputRel, outputSV)`.
// origin identifies the operand/operation being analyzed; inputRel is the
// max of the operand input relative errors, outputRel the output
// relative error, and original/shadow the two values used for the
// near-zero check.
//
// The foundThisInstance guard is checked first and unconditionally, ahead
// of any origin-specific bookkeeping, matching fd_main.c's analyzePSO
// (line 1059: `if (findFirstPSO || ...) return;`, before any per-origin
// lookup runs): once any origin in this instance has already crossed the
// inflation threshold, every other origin's call is skipped outright,
// including its totalCnt increment.
func (c *Context) AnalyzePSO(origin uint64, inputRel, outputRel, original, shadow float64) {
	c.pso.mu.Lock()
	defer c.pso.mu.Unlock()

	if !c.pso.running {
		return
	}
	if c.pso.foundThisInstance {
		return
	}

	e, ok := c.pso.errorMap[origin]
	if !ok {
		e = &psoRunEntry{}
		c.pso.errorMap[origin] = e
	}

	var inflation float64
	if inputRel == 0 {
		inflation = abs(outputRel)
	} else {
		inflation = abs(outputRel / inputRel)
	}

	e.totalCnt++
	if inflation >= 1e6 {
		e.errCnt++
		if abs(original) < 1e-9 && abs(shadow) < 1e-15 {
			e.ovCnt++
		}
		c.pso.foundThisInstance = true
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PSOEndRun implements PSO_END_RUN: closes the detection cycle, promotes
// candidates crossing the 70% error-rate threshold into detectedPSO,
// marking them falsePositive when over 10% of their errors were
// near-zero artifacts, and purges false positives (spec.md §4.5).
func (c *Context) PSOEndRun() {
	c.pso.mu.Lock()
	defer c.pso.mu.Unlock()
	c.pso.running = false

	for origin, e := range c.pso.errorMap {
		if e.totalCnt == 0 {
			continue
		}
		if float64(e.errCnt) <= float64(e.totalCnt)*0.7 {
			continue
		}
		falsePositive := float64(e.ovCnt)/float64(e.totalCnt) > 0.1
		if falsePositive {
			delete(c.pso.detected, origin)
			continue
		}
		c.pso.detected[origin] = &DetectedPSO{FalsePositive: false}
	}
}

// IsPSOFinished implements IS_PSO_FINISHED: reports whether a detection
// run is not currently in progress.
func (c *Context) IsPSOFinished() bool {
	c.pso.mu.Lock()
	defer c.pso.mu.Unlock()
	return !c.pso.running
}

// DetectedPSOAt reports whether origin has been promoted to a persisted
// PSO site — the evaluator's step 8 gate (spec.md §4.2).
func (c *Context) DetectedPSOAt(origin uint64) bool {
	c.pso.mu.Lock()
	defer c.pso.mu.Unlock()
	d, ok := c.pso.detected[origin]
	return ok && !d.FalsePositive
}

// PSOOrigins returns every origin address present in the detected-PSO
// table (false positives included), sorted ascending, for `_pso.log_N`
// dumping (spec.md §6).
func (c *Context) PSOOrigins() []uint64 {
	c.pso.mu.Lock()
	defer c.pso.mu.Unlock()
	out := make([]uint64, 0, len(c.pso.detected))
	for o := range c.pso.detected {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

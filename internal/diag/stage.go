package diag

// stageState is the per-stage bookkeeping spec.md §3 "Stage state" and
// §4.5 "Stage tracker" describe.
type stageState struct {
	active    bool
	iteration int

	oldVals map[MemKey]valRel
	newVals map[MemKey]valRel
	limits  map[MemKey]float64
}

type valRel struct {
	value    float64
	relError float64
}

type stageKey struct {
	stage int
	addr  MemKey
}

// StageReport is the divergence record spec.md §4.5 and §8 scenario S6
// describe: one per (stage, address) pair that has ever diverged.
type StageReport struct {
	Stage    int
	Addr     MemKey
	IterMin  int
	IterMax  int
	Count    int
	LimitNow float64
}

func (c *Context) stage(i int) *stageState {
	c.stagesMu.Lock()
	defer c.stagesMu.Unlock()
	st := c.stages[i]
	if st == nil {
		st = &stageState{
			oldVals: make(map[MemKey]valRel),
			limits:  make(map[MemKey]float64),
		}
		c.stages[i] = st
	}
	return st
}

// StageStart implements BEGIN_STAGE(i): fresh newVals, iteration++
// (spec.md §4.5).
func (c *Context) StageStart(i int) {
	st := c.stage(i)
	c.stagesMu.Lock()
	defer c.stagesMu.Unlock()
	st.active = true
	st.iteration++
	st.newVals = make(map[MemKey]valRel)
}

// StageRecord implements "on each tracked memory store while stage i is
// active, record or update the largest relative error seen for that
// address since the last stageStart" (spec.md §4.5). Called by the
// transfer handlers' Store path for every active stage.
func (c *Context) StageRecord(i int, addr MemKey, value, relError float64) {
	st := c.stage(i)
	c.stagesMu.Lock()
	defer c.stagesMu.Unlock()
	if !st.active {
		return
	}
	cur, ok := st.newVals[addr]
	if !ok || relError > cur.relError {
		st.newVals[addr] = valRel{value: value, relError: relError}
	}
}

// ActiveStages reports which stage indices currently have BEGIN_STAGE in
// effect, for the transfer handlers to fan a store out to.
func (c *Context) ActiveStages() []int {
	c.stagesMu.Lock()
	defer c.stagesMu.Unlock()
	var out []int
	for i, st := range c.stages {
		if st != nil && st.active {
			out = append(out, i)
		}
	}
	return out
}

// StageEnd implements END_STAGE(i): pairs each newVals entry against the
// matching oldVals entry, emits/updates a StageReport when the relative
// error delta exceeds the address's recorded limit, raises the limit, and
// rolls newVals into oldVals for the next iteration (spec.md §4.5,
// scenario S6).
func (c *Context) StageEnd(i int) {
	st := c.stage(i)
	c.stagesMu.Lock()
	st.active = false
	newVals := st.newVals
	oldVals := st.oldVals
	iteration := st.iteration
	c.stagesMu.Unlock()

	for addr, nv := range newVals {
		ov, had := oldVals[addr]
		if !had {
			continue
		}
		delta := nv.relError - ov.relError
		if delta < 0 {
			delta = -delta
		}

		c.stagesMu.Lock()
		limit := st.limits[addr]
		c.stagesMu.Unlock()

		if delta > limit {
			c.recordStageDivergence(i, addr, iteration, delta)
			c.stagesMu.Lock()
			st.limits[addr] = delta
			c.stagesMu.Unlock()
		}
	}

	c.stagesMu.Lock()
	st.oldVals = newVals
	c.stagesMu.Unlock()
}

// ClearStage implements CLEAR_STAGE(i): discards all stage state,
// including accumulated limits, so the next BEGIN_STAGE starts fresh.
func (c *Context) ClearStage(i int) {
	c.stagesMu.Lock()
	defer c.stagesMu.Unlock()
	c.stages[i] = &stageState{
		oldVals: make(map[MemKey]valRel),
		limits:  make(map[MemKey]float64),
	}
}

func (c *Context) recordStageDivergence(stage int, addr MemKey, iteration int, limit float64) {
	c.reportsMu.Lock()
	defer c.reportsMu.Unlock()
	key := stageKey{stage, addr}
	r, ok := c.reports[key]
	if !ok {
		r = &StageReport{Stage: stage, Addr: addr, IterMin: iteration, IterMax: iteration}
		c.reports[key] = r
	}
	r.Count++
	if iteration < r.IterMin {
		r.IterMin = iteration
	}
	if iteration > r.IterMax {
		r.IterMax = iteration
	}
	r.LimitNow = limit
}

// StageReports returns every divergence record accumulated so far, for
// the report writer's `_stage_reports_N` dump (spec.md §6).
func (c *Context) StageReports() []StageReport {
	c.reportsMu.Lock()
	defer c.reportsMu.Unlock()
	out := make([]StageReport, 0, len(c.reports))
	for _, r := range c.reports {
		out = append(out, *r)
	}
	return out
}

// Package creq implements the client-request interface (spec.md §4.6 —
// C6): the in-band command dispatch a guest program reaches through a
// well-known inline marker sequence, exposed here as a Go Dispatch call
// so the public shadow package and tests can drive it directly instead
// of emulating the host's own trap mechanism.
//
// Grounded on the teacher's race/api.go: a thin, heavily-documented
// public-facing wrapper over the internal engine, one method per guest-
// visible operation, returning plain Go values instead of a raw word
// tag/args encoding.
package creq

import (
	"fmt"

	"github.com/kolkov/shadowprobe/internal/diag"
	"github.com/kolkov/shadowprobe/internal/mpfloat"
	"github.com/kolkov/shadowprobe/internal/report"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
)

// Tag identifies one client-request command (spec.md §4.6 table).
type Tag int

const (
	TagPrintError Tag = iota
	TagCondPrintError
	TagDumpErrorGraph
	TagCondDumpErrorGraph
	TagBeginStage
	TagEndStage
	TagClearStage
	TagErrorGreater
	TagReset
	TagInsertShadow
	TagSetShadow
	TagOriginalToShadow
	TagShadowToOriginal
	TagSetOriginal
	TagSetShadowBy
	TagGetRelativeError
	TagGetShadow
	TagPrintValues
	TagBegin
	TagEnd
	TagPSOBeginRun
	TagPSOEndRun
	TagPSOBeginInstance
	TagIsPSOFinished
)

// Dispatcher ties the client-request surface to the store and
// diagnostic context it operates on (spec.md §9 "pass that context
// through callbacks").
type Dispatcher struct {
	Store   *store.Store
	Diag    *diag.Context
	Writer  *report.Writer
	enabled bool
}

// New constructs a Dispatcher. The engine starts enabled, matching
// fpdebug's default of tracking from process start until a guest BEGIN
// or END request toggles it (spec.md §4.6 "BEGIN / END").
func New(s *store.Store, d *diag.Context, w *report.Writer) *Dispatcher {
	return &Dispatcher{Store: s, Diag: d, Writer: w, enabled: true}
}

// Enabled reports whether shadow tracking is currently active; callers
// upstream (the instrumenter's emitted calls) are expected to no-op
// every C1-C3 operation while disabled.
func (d *Dispatcher) Enabled() bool { return d.enabled }

// Begin and End implement the BEGIN/END toggle (spec.md §4.6).
func (d *Dispatcher) Begin() { d.enabled = true }
func (d *Dispatcher) End()   { d.enabled = false }

// Reset implements RESET: deactivates every temp/register/memory SV
// (spec.md §4.6, §8 property 6 idempotence).
func (d *Dispatcher) Reset() { d.Store.Reset() }

// BeginStage, EndStage, ClearStage implement the stage-tracker commands.
func (d *Dispatcher) BeginStage(i int) { d.Diag.StageStart(i) }
func (d *Dispatcher) EndStage(i int)   { d.Diag.StageEnd(i) }
func (d *Dispatcher) ClearStage(i int) { d.Diag.ClearStage(i) }

// ErrorGreater implements ERROR_GREATER(addr, &bound): compares
// |rel(addr)| >= bound using the memory SV's stored Org as the
// reference IEEE value.
func (d *Dispatcher) ErrorGreater(addr uint64, bound float64) bool {
	rel, ok := d.relativeErrorAt(addr)
	if !ok {
		return false
	}
	return abs(rel) >= bound
}

func (d *Dispatcher) relativeErrorAt(addr uint64) (float64, bool) {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return 0, false
	}
	return diag.RelativeError(sv.Value.Float64(), sv.Org.AsFloat64()), true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// InsertShadow implements INSERT_SHADOW(addr): writes SV.value into
// SV.midValue at the guest's nominal precision.
func (d *Dispatcher) InsertShadow(addr uint64) {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return
	}
	sv.MidValue = sv.Value.Clone().SetPrec(sv.MidValue.Prec())
}

// SetShadow implements SET_SHADOW(addr): writes midValue into value.
func (d *Dispatcher) SetShadow(addr uint64) {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return
	}
	sv.Value = sv.MidValue.Clone().SetPrec(sv.Value.Prec())
}

// SetShadowBy implements SET_SHADOW_BY(dst, src): copies value and
// midValue between two memory SVs.
func (d *Dispatcher) SetShadowBy(dst, src uint64) {
	srcSV, ok := d.Store.GetMem(src)
	if !ok {
		return
	}
	dstSV := d.Store.SetMem(dst)
	dstSV.Value = srcSV.Value.Clone()
	dstSV.MidValue = srcSV.MidValue.Clone()
}

// OriginalToShadow implements ORIGINAL_TO_SHADOW(addr): copies the
// guest's current IEEE value into all three shadow channels (spec.md §8
// property 5's first half).
func (d *Dispatcher) OriginalToShadow(addr uint64, precision uint, nominalPrec uint, guestValue float64) {
	sv := d.Store.SetMem(addr)
	sv.Value = mpfloat.FromFloat64(precision, guestValue)
	sv.MidValue = mpfloat.FromFloat64(nominalPrec, guestValue)
	sv.OriValue = mpfloat.FromFloat64(nominalPrec, guestValue)
	sv.OrgType = store.OrgFloat64
	sv.Org = store.Org{Type: store.OrgFloat64, F64: guestValue}
}

// ShadowToOriginal implements SHADOW_TO_ORIGINAL(addr): returns the IEEE
// double nearest to SV.value, which the caller writes back into guest
// memory — the second half of the property 5 round-trip.
func (d *Dispatcher) ShadowToOriginal(addr uint64) (float64, bool) {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return 0, false
	}
	return sv.Value.Float64(), true
}

// SetOriginal implements SET_ORIGINAL(addr, src): overwrites the guest's
// own IEEE value without touching the shadow channels; used for drift
// testing (scenario S3).
func (d *Dispatcher) SetOriginal(addr uint64, value float64) {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return
	}
	sv.Org = store.Org{Type: sv.OrgType, F64: value}
}

// GetRelativeError implements GET_RELATIVE_ERROR(addr, buf): formats the
// textual relative error for the given address.
func (d *Dispatcher) GetRelativeError(addr uint64) string {
	rel, ok := d.relativeErrorAt(addr)
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%g", rel)
}

// GetShadow implements GET_SHADOW(addr, buf): formats the textual shadow
// value.
func (d *Dispatcher) GetShadow(addr uint64) string {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%g", sv.Value.Float64())
}

// PrintError implements PRINT_ERROR / COND_PRINT_ERROR: full diagnostics
// for a memory-keyed SV (spec.md §4.6). When cond is true, output is
// suppressed unless the relative error is nonzero.
func (d *Dispatcher) PrintError(name string, addr uint64, cond bool) {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return
	}
	rel := diag.RelativeError(sv.Value.Float64(), sv.Org.AsFloat64())
	if cond && rel == 0 {
		return
	}
	d.Writer.PrintError(name, addr, sv, rel)
}

// PrintValues implements PRINT_VALUES(name, type, addr): paired
// original+shadow printout.
func (d *Dispatcher) PrintValues(name string, addr uint64) {
	sv, ok := d.Store.GetMem(addr)
	if !ok {
		return
	}
	d.Writer.PrintValues(name, addr, sv)
}

// DumpErrorGraph implements DUMP_ERROR_GRAPH / COND_DUMP_ERROR_GRAPH.
func (d *Dispatcher) DumpErrorGraph(file string, addr uint64, cond bool) error {
	if cond {
		sv, ok := d.Store.GetMem(addr)
		if !ok || sv.Origin == 0 {
			return nil
		}
		rel := diag.RelativeError(sv.Value.Float64(), sv.Org.AsFloat64())
		if rel == 0 {
			return nil
		}
	}
	return d.Writer.DumpGraph(file, addr, d.Diag)
}

// PSO control commands.
func (d *Dispatcher) PSOBeginRun()      { d.Diag.PSOBeginRun() }
func (d *Dispatcher) PSOEndRun()        { d.Diag.PSOEndRun() }
func (d *Dispatcher) PSOBeginInstance() { d.Diag.PSOBeginInstance() }
func (d *Dispatcher) IsPSOFinished() bool { return d.Diag.IsPSOFinished() }

// Package report implements the output-file writer (spec.md §6 "Output
// files"): per-run report files written beside the guest executable
// path, plus the textual print commands the client-request interface
// routes through it.
//
// Grounded on the teacher's internal/race/detector/report.go for style:
// plain fmt.Fprintf formatting, no external templating or structured-log
// library, because the teacher's own reporting surface is deliberately
// simple text aimed at a terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kolkov/shadowprobe/internal/diag"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
)

// Limits from spec.md §6.
const (
	MaxEntriesPerFile = 10000
	MaxDumpedGraphs   = 10
	MaxLevelOfGraph   = 10
)

// Suffixes names every report file kind spec.md §6 lists.
var Suffixes = struct {
	RelativeError string
	Canceled      string
	Special       string
	MeanAddr      string
	MeanCanceled  string
	MeanIntro     string
	StageReports  string
	PSOLog        string
}{
	RelativeError: "_shadow_values_relative_error",
	Canceled:      "_shadow_values_canceled",
	Special:       "_shadow_values_special",
	MeanAddr:      "_mean_errors_addr",
	MeanCanceled:  "_mean_errors_canceled",
	MeanIntro:     "_mean_errors_intro",
	StageReports:  "_stage_reports",
	PSOLog:        "_pso.log",
}

// Writer owns every output file for one run, rooted beside the guest
// executable (spec.md §6).
type Writer struct {
	execPath string

	mu             sync.Mutex
	out            io.Writer // PRINT_ERROR/PRINT_VALUES destination; defaults to stderr.
	graphsDumped   int
	entryCounts    map[string]int
	multiLaneNoted bool
	optionEcho     string
}

// NewWriter creates a Writer rooted beside execPath.
func NewWriter(execPath string) *Writer {
	return &Writer{execPath: execPath, out: os.Stderr, entryCounts: make(map[string]int)}
}

// SetOutput redirects PRINT_ERROR/PRINT_VALUES text, primarily for tests.
func (w *Writer) SetOutput(out io.Writer) { w.out = out }

// SetOptionEcho installs the active-flag-set line every subsequently
// created report file opens with (SUPPLEMENTED FEATURES "option echo").
func (w *Writer) SetOptionEcho(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.optionEcho = line
}

// nextFileName implements spec.md §6 "N is the smallest positive integer
// that does not collide with an existing file": base_suffix_N.
func (w *Writer) nextFileName(suffix string) (string, error) {
	base := w.execPath
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%s_%d", base, suffix, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// CreateReport opens a fresh report file for the given suffix, honoring
// the no-collision naming rule, and writes the option-echo header line
// (SUPPLEMENTED FEATURES "option echo") before returning it.
func (w *Writer) CreateReport(suffix string) (*os.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	name, err := w.nextFileName(suffix)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Clean(name))
	if err != nil {
		return nil, err
	}
	if w.optionEcho != "" {
		fmt.Fprintf(f, "# options: %s\n", w.optionEcho)
	}
	if w.multiLaneNoted {
		fmt.Fprintln(f, "# note: 128-bit values are shadow-tracked in their low lane only; high-lane shadow state is not recovered")
	}
	return f, nil
}

// PrintError implements PRINT_ERROR/COND_PRINT_ERROR's text body: full
// diagnostics for one memory-keyed shadow value.
func (w *Writer) PrintError(name string, addr uint64, sv *store.ShadowValue, relError float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "shadow error: %s @ 0x%x: shadow=%g mid=%g ori=%g org=%g relError=%g canceled=%d opCount=%d\n",
		name, addr, sv.Value.Float64(), sv.MidValue.Float64(), sv.OriValue.Float64(),
		sv.Org.AsFloat64(), relError, sv.Canceled, sv.OpCount)
}

// PrintValues implements PRINT_VALUES: paired original+shadow printout.
func (w *Writer) PrintValues(name string, addr uint64, sv *store.ShadowValue) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s @ 0x%x: original=%g shadow=%g\n", name, addr, sv.Org.AsFloat64(), sv.Value.Float64())
}

// entryBudget enforces MAX_ENTRIES_PER_FILE per output file kind.
func (w *Writer) entryBudget(suffix string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.entryCounts[suffix] >= MaxEntriesPerFile {
		return false
	}
	w.entryCounts[suffix]++
	return true
}

// WriteRelativeErrors dumps the `_shadow_values_relative_error_N` file:
// one line per origin with a recorded relative error.
func (w *Writer) WriteRelativeErrors(d *diag.Context, origins []uint64) error {
	f, err := w.CreateReport(Suffixes.RelativeError)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, o := range origins {
		if !w.entryBudget(Suffixes.RelativeError) {
			break
		}
		st, ok := d.Stats(o)
		if !ok {
			continue
		}
		fmt.Fprintf(f, "0x%x count=%d sumRelError=%g maxRelError=%g\n", o, st.Count, st.SumRelError, st.MaxRelError)
	}
	return nil
}

// WriteCanceled dumps `_shadow_values_canceled_N`.
func (w *Writer) WriteCanceled(d *diag.Context, origins []uint64) error {
	f, err := w.CreateReport(Suffixes.Canceled)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, o := range origins {
		if !w.entryBudget(Suffixes.Canceled) {
			break
		}
		st, ok := d.Stats(o)
		if !ok {
			continue
		}
		fmt.Fprintf(f, "0x%x sumCanceled=%d maxCanceled=%d overflow=%v\n", o, st.SumCanceled, st.MaxCanceled, st.CanceledOverflow)
	}
	return nil
}

// WriteMeanErrors dumps `_mean_errors_addr_N`, `_mean_errors_canceled_N`,
// and `_mean_errors_intro_N` together, since they all key off the same
// origin set.
func (w *Writer) WriteMeanErrors(d *diag.Context, origins []uint64) error {
	addrF, err := w.CreateReport(Suffixes.MeanAddr)
	if err != nil {
		return err
	}
	defer addrF.Close()

	cancF, err := w.CreateReport(Suffixes.MeanCanceled)
	if err != nil {
		return err
	}
	defer cancF.Close()

	introF, err := w.CreateReport(Suffixes.MeanIntro)
	if err != nil {
		return err
	}
	defer introF.Close()

	for _, o := range origins {
		st, ok := d.Stats(o)
		if !ok {
			continue
		}
		if w.entryBudget(Suffixes.MeanAddr) {
			fmt.Fprintf(addrF, "0x%x mean=%g max=%g\n", o, st.SumRelError/float64(maxInt(st.Count, 1)), st.MaxRelError)
		}
		if w.entryBudget(Suffixes.MeanCanceled) {
			fmt.Fprintf(cancF, "0x%x meanCanceled=%g maxCanceled=%d\n", o, float64(st.SumCanceled)/float64(maxInt(st.Count, 1)), st.MaxCanceled)
		}
		if intro, ok := d.IntroducedError(o); ok && w.entryBudget(Suffixes.MeanIntro) {
			fmt.Fprintf(introF, "0x%x introducedError=%g\n", o, intro)
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// WriteStageReports dumps `_stage_reports_N`.
func (w *Writer) WriteStageReports(d *diag.Context) error {
	f, err := w.CreateReport(Suffixes.StageReports)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, r := range d.StageReports() {
		if !w.entryBudget(Suffixes.StageReports) {
			break
		}
		fmt.Fprintf(f, "stage=%d addr=0x%x iterMin=%d iterMax=%d count=%d limit=%g\n",
			r.Stage, r.Addr, r.IterMin, r.IterMax, r.Count, r.LimitNow)
	}
	return nil
}

// WritePSOLog dumps `_pso.log_N`, one line per persisted PSO candidate.
func (w *Writer) WritePSOLog(origins []uint64, detected func(uint64) bool) error {
	f, err := w.CreateReport(Suffixes.PSOLog)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, o := range origins {
		if detected(o) {
			fmt.Fprintf(f, "0x%x detected\n", o)
		}
	}
	return nil
}

// NoteMultiLaneSimplification prints, once per run, the report-header
// notice spec.md §9 requires when a 128-bit multi-lane value is
// narrowed to single-lane shadow tracking (resolved Open Question: only
// the low lane carries a shadow; the high lane reports as untracked).
func (w *Writer) NoteMultiLaneSimplification() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.multiLaneNoted {
		return
	}
	w.multiLaneNoted = true
	fmt.Fprintln(w.out, "note: 128-bit values are shadow-tracked in their low lane only; high-lane shadow state is not recovered")
}

// UnsupportedOpcodeWarning prints the termination-time warning for
// unsupported opcodes (spec.md §4.4, §7).
func (w *Writer) UnsupportedOpcodeWarning(names []string) {
	if len(names) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "warning: %d unsupported opcode(s) encountered:\n", len(names))
	for _, n := range names {
		fmt.Fprintf(w.out, "  %s\n", n)
	}
}

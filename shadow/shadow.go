// Package shadow is the public surface a guest program (or the
// instrumenter acting on its behalf) uses to reach the shadow-value
// engine's client-request interface (spec.md §4.6 — C6).
//
// Modeled on the teacher's race package: a thin wrapper over an internal
// singleton, Init/Fini bracketing the process, with every other call a
// one-line forward. The instrumenter (cmd/shadowprobe/instrument) inserts
// these calls the same way the teacher's own tool inserts race.RaceRead/
// race.RaceWrite.
package shadow

import (
	"fmt"
	"os"

	"github.com/kolkov/shadowprobe/internal/blockinstr"
	"github.com/kolkov/shadowprobe/internal/config"
	"github.com/kolkov/shadowprobe/internal/creq"
	"github.com/kolkov/shadowprobe/internal/diag"
	"github.com/kolkov/shadowprobe/internal/report"
	"github.com/kolkov/shadowprobe/internal/shadowval/store"
)

// ThreadID identifies a guest thread; the instrumenter assigns these the
// way a DBI host assigns guest thread ids (spec.md §5).
type ThreadID = store.ThreadID

var (
	engineStore  *store.Store
	engineDiag   *diag.Context
	engineReq    *creq.Dispatcher
	engineCfg    config.Config
	engineReport *report.Writer
)

// Init initializes the shadow engine. It must be called before any other
// function in this package, and is a no-op on repeat calls (matching the
// teacher's race.Init contract).
func Init(cfg config.Config) {
	if engineStore != nil {
		return
	}
	engineCfg = cfg
	engineStore = store.New(cfg.Precision)
	engineDiag = diag.NewContext(cfg.MeanError, cfg.IgnoreEnd)
	engineReport = report.NewWriter(cfg.ExecPath)
	engineReport.SetOptionEcho(cfg.OptionEcho())
	engineReq = creq.New(engineStore, engineDiag, engineReport)
}

// Fini finalizes the engine: prints the store's malloc/free counters,
// writes the relative-error, canceled, mean-error, stage-report and PSO-log
// files, and warns about unsupported opcodes (spec.md §7). It writes no
// `_shadow_values_special_N` file.
func Fini() {
	if engineStore == nil {
		return
	}
	stats := engineStore.Stats()
	fmt.Fprintf(os.Stderr, "shadowprobe: mallocs=%d frees=%d\n", stats.Mallocs, stats.Frees)

	origins := engineDiag.Origins()
	if err := engineReport.WriteRelativeErrors(engineDiag, origins); err != nil {
		fmt.Fprintf(os.Stderr, "shadowprobe: writing relative-error report: %v\n", err)
	}
	if err := engineReport.WriteCanceled(engineDiag, origins); err != nil {
		fmt.Fprintf(os.Stderr, "shadowprobe: writing canceled report: %v\n", err)
	}
	if err := engineReport.WriteMeanErrors(engineDiag, origins); err != nil {
		fmt.Fprintf(os.Stderr, "shadowprobe: writing mean-error reports: %v\n", err)
	}
	if err := engineReport.WriteStageReports(engineDiag); err != nil {
		fmt.Fprintf(os.Stderr, "shadowprobe: writing stage reports: %v\n", err)
	}
	if err := engineReport.WritePSOLog(engineDiag.PSOOrigins(), engineDiag.DetectedPSOAt); err != nil {
		fmt.Fprintf(os.Stderr, "shadowprobe: writing PSO log: %v\n", err)
	}
	engineReport.UnsupportedOpcodeWarning(blockinstr.UnsupportedOpcodes())
}

// Enabled reports whether analysis is currently turned on.
func Enabled() bool {
	if engineReq == nil {
		return false
	}
	return engineReq.Enabled()
}

// Begin and End implement the BEGIN/END client requests.
func Begin() { engineReq.Begin() }
func End()   { engineReq.End() }

// Reset implements the RESET client request.
func Reset() { engineReq.Reset() }

// PrintError implements PRINT_ERROR.
func PrintError(name string, addr uint64) { engineReq.PrintError(name, addr, false) }

// CondPrintError implements COND_PRINT_ERROR.
func CondPrintError(name string, addr uint64) { engineReq.PrintError(name, addr, true) }

// PrintValues implements PRINT_VALUES.
func PrintValues(name string, addr uint64) { engineReq.PrintValues(name, addr) }

// DumpErrorGraph implements DUMP_ERROR_GRAPH.
func DumpErrorGraph(file string, addr uint64) error {
	return engineReq.DumpErrorGraph(file, addr, false)
}

// CondDumpErrorGraph implements COND_DUMP_ERROR_GRAPH.
func CondDumpErrorGraph(file string, addr uint64) error {
	return engineReq.DumpErrorGraph(file, addr, true)
}

// BeginStage, EndStage, ClearStage implement the stage-tracker commands.
func BeginStage(i int) { engineReq.BeginStage(i) }
func EndStage(i int)   { engineReq.EndStage(i) }
func ClearStage(i int) { engineReq.ClearStage(i) }

// ErrorGreater implements ERROR_GREATER(addr, &bound).
func ErrorGreater(addr uint64, bound float64) bool { return engineReq.ErrorGreater(addr, bound) }

// InsertShadow and SetShadow implement the two manual shadow-write
// commands.
func InsertShadow(addr uint64) { engineReq.InsertShadow(addr) }
func SetShadow(addr uint64)    { engineReq.SetShadow(addr) }

// SetShadowBy implements SET_SHADOW_BY(dst, src).
func SetShadowBy(dst, src uint64) { engineReq.SetShadowBy(dst, src) }

// OriginalToShadow and SetOriginal implement the guest/shadow bridging
// commands used for drift testing (scenario S3).
func OriginalToShadow(addr uint64, guestValue float64) {
	engineReq.OriginalToShadow(addr, engineStore.Precision(), nominalPrecisionFor(engineCfg), guestValue)
}

func SetOriginal(addr uint64, value float64) { engineReq.SetOriginal(addr, value) }

// ShadowToOriginal implements SHADOW_TO_ORIGINAL(addr); returns the IEEE
// double nearest the shadow value, and whether the address is tracked.
func ShadowToOriginal(addr uint64) (float64, bool) { return engineReq.ShadowToOriginal(addr) }

// GetRelativeError and GetShadow implement the two textual query
// commands.
func GetRelativeError(addr uint64) string { return engineReq.GetRelativeError(addr) }
func GetShadow(addr uint64) string        { return engineReq.GetShadow(addr) }

// PSOBeginRun, PSOEndRun, PSOBeginInstance, IsPSOFinished implement the
// PSO detector's control commands.
func PSOBeginRun()             { engineDiag.PSOBeginRun() }
func PSOEndRun()                { engineDiag.PSOEndRun() }
func PSOBeginInstance()         { engineDiag.PSOBeginInstance() }
func IsPSOFinished() bool       { return engineDiag.IsPSOFinished() }

func nominalPrecisionFor(cfg config.Config) uint {
	// The guest's nominal width is not visible to this call in the
	// client-request ABI; default to double precision, matching the
	// common case (single-precision callers pass through
	// INSERT_SHADOW/SET_SHADOW instead, which read the existing SV's own
	// recorded width).
	_ = cfg
	return 53
}

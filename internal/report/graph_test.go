package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kolkov/shadowprobe/internal/diag"
)

func TestDumpGraphWritesVCGFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "exec"))
	d := diag.NewContext(true, false)
	d.RecordEvaluation(0x2000, 0.1, 1, 0.05, [2]uint64{0x1000, 0})
	d.RecordEvaluation(0x1000, 0.01, 0, 0, [2]uint64{})

	target := filepath.Join(dir, "dump")
	if err := w.DumpGraph(target, 0x2000, d); err != nil {
		t.Fatalf("DumpGraph: %v", err)
	}

	data, err := os.ReadFile(target + "_1_0.vcg")
	if err != nil {
		t.Fatalf("expected vcg file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Error("vcg dump is empty")
	}
}

func TestDumpGraphRespectsMaxDumpedGraphs(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "exec"))
	d := diag.NewContext(true, false)

	for i := 0; i < MaxDumpedGraphs+2; i++ {
		if err := w.DumpGraph(filepath.Join(dir, "dump"), 0x3000, d); err != nil {
			t.Fatalf("DumpGraph iteration %d: %v", i, err)
		}
	}

	if w.graphsDumped != MaxDumpedGraphs {
		t.Errorf("graphsDumped = %d, want capped at %d", w.graphsDumped, MaxDumpedGraphs)
	}
}

func TestWalkGraphBreaksCycles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(filepath.Join(dir, "exec"))
	d := diag.NewContext(true, false)
	// Origin 0x1 claims 0x2 as a parent and vice versa: a naive walk
	// would recurse forever without the dedup set.
	d.RecordEvaluation(0x1, 0.1, 0, 0, [2]uint64{0x2, 0})
	d.RecordEvaluation(0x2, 0.1, 0, 0, [2]uint64{0x1, 0})

	done := make(chan error, 1)
	go func() {
		done <- w.DumpGraph(filepath.Join(dir, "cyc"), 0x1, d)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DumpGraph: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DumpGraph did not terminate on a cyclic origin graph")
	}
}

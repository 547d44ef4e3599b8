package report

import (
	"fmt"
	"os"

	"github.com/kolkov/shadowprobe/internal/diag"
)

// DumpGraph implements DUMP_ERROR_GRAPH/COND_DUMP_ERROR_GRAPH (spec.md
// §4.6, §6 "dependency-graph dumps `_<k>_<i>.vcg`"): a VCG-format walk of
// an origin's operand-origin ancestry, capped at MAX_LEVEL_OF_GRAPH and
// MAX_DUMPED_GRAPHS, breaking cycles with a dedicated dedup set rather
// than back-pointers on the shadow values themselves (spec.md §9 "Cyclic
// and graph-shaped origin references").
func (w *Writer) DumpGraph(file string, root uint64, d *diag.Context) error {
	w.mu.Lock()
	if w.graphsDumped >= MaxDumpedGraphs {
		w.mu.Unlock()
		return nil
	}
	w.graphsDumped++
	k := w.graphsDumped
	w.mu.Unlock()

	name := fmt.Sprintf("%s_%d_%d.vcg", file, k, 0)
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "graph: {\n title: \"%s\"\n", file)

	visited := make(map[uint64]bool)
	walkGraph(f, d, root, 0, visited)

	fmt.Fprintf(f, "}\n")
	return nil
}

func walkGraph(f *os.File, d *diag.Context, origin uint64, depth int, visited map[uint64]bool) {
	if depth > MaxLevelOfGraph || origin == 0 || visited[origin] {
		return
	}
	visited[origin] = true

	st, ok := d.Stats(origin)
	fmt.Fprintf(f, " node: { title: \"0x%x\" label: \"0x%x", origin, origin)
	if ok {
		fmt.Fprintf(f, "\\nmaxRelError=%g\\ncanceled=%d", st.MaxRelError, st.MaxCanceled)
	}
	fmt.Fprintf(f, "\" }\n")

	if !ok {
		return
	}
	for _, parent := range st.ParentOrigins {
		if parent == 0 {
			continue
		}
		fmt.Fprintf(f, " edge: { sourcename: \"0x%x\" targetname: \"0x%x\" }\n", origin, parent)
		walkGraph(f, d, parent, depth+1, visited)
	}
}

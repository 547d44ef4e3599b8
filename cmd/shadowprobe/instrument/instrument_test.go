package instrument

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSource = `package main

func main() {
	x := 1.0
	x = x + 1.0
	var i int
	i = i + 1
	_ = i
}
`

func instrumentSource(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "main.go")
	if err := os.WriteFile(srcPath, []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := InstrumentFile(srcPath, outDir); err != nil {
		t.Fatalf("InstrumentFile: %v", err)
	}
	out, err := os.ReadFile(filepath.Join(outDir, "main.go"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(out)
}

func TestInstrumentFileInjectsImports(t *testing.T) {
	got := instrumentSource(t, sampleSource)
	for _, want := range []string{
		`"` + ShadowPackageImportPath + `"`,
		`"` + ConfigPackageImportPath + `"`,
		`"os"`,
		`"unsafe"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instrumented output missing import %s:\n%s", want, got)
		}
	}
}

func TestInstrumentFileInsertsShadowCallAfterFloatArithmetic(t *testing.T) {
	got := instrumentSource(t, sampleSource)
	if !strings.Contains(got, "shadow.OriginalToShadow(uint64(uintptr(unsafe.Pointer(&x))), x)") {
		t.Errorf("instrumented output missing OriginalToShadow call after float assignment:\n%s", got)
	}
}

func TestInstrumentFileSkipsIntegerArithmetic(t *testing.T) {
	got := instrumentSource(t, sampleSource)
	if strings.Contains(got, "&i)))") {
		t.Errorf("instrumented output should not instrument integer arithmetic on i:\n%s", got)
	}
}

func TestInstrumentFileInjectsMainPreamble(t *testing.T) {
	got := instrumentSource(t, sampleSource)
	if !strings.Contains(got, "config.Parse(os.Args[1:])") {
		t.Errorf("instrumented output missing config.Parse preamble:\n%s", got)
	}
	if !strings.Contains(got, "shadow.Init(cfg)") {
		t.Errorf("instrumented output missing shadow.Init call:\n%s", got)
	}
	if !strings.Contains(got, "defer shadow.Fini()") {
		t.Errorf("instrumented output missing deferred shadow.Fini call:\n%s", got)
	}
}

func TestInstrumentFileDoesNotDuplicateExistingImports(t *testing.T) {
	src := `package main

import "os"

func main() {
	x := 1.0
	x = x * 2.0
	_ = os.Args
}
`
	got := instrumentSource(t, src)
	if strings.Count(got, `"os"`) != 1 {
		t.Errorf("instrumented output should not duplicate an already-present import:\n%s", got)
	}
}

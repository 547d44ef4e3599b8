package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateMakesSrcSubdirectory(t *testing.T) {
	w, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Cleanup()

	info, err := os.Stat(w.Dir())
	if err != nil {
		t.Fatalf("Dir() does not exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("Dir() should be a directory")
	}
}

func TestCleanupRemovesWorkspace(t *testing.T) {
	w, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dir := w.Dir()
	w.Cleanup()

	if _, err := os.Stat(filepath.Dir(dir)); !os.IsNotExist(err) {
		t.Error("Cleanup should remove the entire workspace directory")
	}
}

func TestWireShadowModuleWritesRequireLine(t *testing.T) {
	w, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Cleanup()

	if err := w.WireShadowModule(); err != nil {
		t.Fatalf("WireShadowModule: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(w.Dir()), "go.mod"))
	if err != nil {
		t.Fatalf("expected go.mod in the workspace root: %v", err)
	}
	if !strings.Contains(string(data), ShadowModulePath) {
		t.Errorf("go.mod missing require of %s:\n%s", ShadowModulePath, data)
	}
}

func TestWireShadowModuleAddsReplaceWhenDevModeSet(t *testing.T) {
	t.Setenv("SHADOWPROBE_MODULE_DIR", "/tmp/local-shadowprobe-checkout")

	w, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Cleanup()

	if err := w.WireShadowModule(); err != nil {
		t.Fatalf("WireShadowModule: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(w.Dir()), "go.mod"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "replace") {
		t.Error("go.mod should contain a replace directive when SHADOWPROBE_MODULE_DIR is set")
	}
}

func TestWireShadowModuleOmitsReplaceByDefault(t *testing.T) {
	w, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Cleanup()

	if err := w.WireShadowModule(); err != nil {
		t.Fatalf("WireShadowModule: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(w.Dir()), "go.mod"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "replace") {
		t.Error("go.mod should not contain a replace directive without SHADOWPROBE_MODULE_DIR")
	}
}

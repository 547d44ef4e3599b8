// Package workspace manages the temporary build tree shadowprobe
// instruments a guest program into before handing it to `go build`/
// `go run` (spec.md §6's build surface; there is no direct spec.md
// requirement for this, but every CLI tool in this corpus that
// instruments source needs a scratch tree to instrument into without
// mutating the user's own files).
//
// Grounded on the teacher's cmd/racedetector build.go workspace type and
// cmd/racedetector/runtime/link.go's go.mod overlay, generalized from
// "link in the race runtime" to "link in the shadow package" using the
// same golang.org/x/mod/modfile dependency this repository keeps from
// the teacher's own go.mod.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/mod/modfile"
)

// ShadowModulePath is the import path instrumented programs pull in for
// runtime shadow tracking (spec.md §4.6's client-request surface,
// exposed here as Go calls instead of an inline marker sequence).
const ShadowModulePath = "github.com/kolkov/shadowprobe"

// Workspace is a scratch directory holding instrumented sources plus an
// overlay go.mod wiring in the shadow package.
type Workspace struct {
	dir    string
	srcDir string
}

// Create allocates a fresh temporary workspace with a src/ subdirectory,
// mirroring the teacher's createWorkspace.
func Create() (*Workspace, error) {
	dir, err := os.MkdirTemp("", "shadowprobe-build-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create src directory: %w", err)
	}
	return &Workspace{dir: dir, srcDir: srcDir}, nil
}

// Dir returns the workspace's source directory, where instrumented files
// are written.
func (w *Workspace) Dir() string { return w.srcDir }

// Cleanup removes the temporary workspace.
func (w *Workspace) Cleanup() {
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}

// WireShadowModule writes a go.mod in the workspace root requiring the
// shadow engine module, using golang.org/x/mod/modfile the way the
// teacher's runtime.ModFileOverlay does for its own runtime package.
func (w *Workspace) WireShadowModule() error {
	mf := new(modfile.File)
	if err := mf.AddModuleStmt("shadowprobe/instrumented"); err != nil {
		return fmt.Errorf("failed to set module statement: %w", err)
	}
	if err := mf.AddGoStmt("1.24"); err != nil {
		return fmt.Errorf("failed to set go directive: %w", err)
	}
	if err := mf.AddRequire(ShadowModulePath, "v0.0.0"); err != nil {
		return fmt.Errorf("failed to add shadow requirement: %w", err)
	}
	if shadowDir := os.Getenv("SHADOWPROBE_MODULE_DIR"); shadowDir != "" {
		// Development mode: point the instrumented build straight at a
		// local checkout of this module instead of a published version,
		// the way the teacher's own linked-runtime overlay resolves
		// against the repo it was invoked from.
		if err := mf.AddReplace(ShadowModulePath, "", shadowDir, ""); err != nil {
			return fmt.Errorf("failed to add shadow replace directive: %w", err)
		}
	}

	out, err := mf.Format()
	if err != nil {
		return fmt.Errorf("failed to format go.mod: %w", err)
	}

	goModPath := filepath.Join(w.dir, "go.mod")
	if err := os.WriteFile(goModPath, out, 0o644); err != nil {
		return fmt.Errorf("failed to write go.mod: %w", err)
	}
	return nil
}

// Build invokes `go build` from the workspace's src directory.
func (w *Workspace) Build() error {
	cmd := exec.Command("go", "build", ".")
	cmd.Dir = w.srcDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Run invokes `go run` from the workspace's src directory, forwarding
// extraArgs to the instrumented program.
func (w *Workspace) Run(extraArgs []string) error {
	args := append([]string{"run", "."}, extraArgs...)
	cmd := exec.Command("go", args...)
	cmd.Dir = w.srcDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

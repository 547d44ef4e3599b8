// Package instrument - import injection, mirroring the teacher's
// inject.go but wiring the shadow runtime, its config parser, os (for
// os.Args), and unsafe instead of the race runtime.
package instrument

import (
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/ast/astutil"
)

// injectImports adds the shadow, config, os, and unsafe imports to
// file, skipping any that are already present. Uses astutil's
// AddNamedImport rather than a hand-rolled GenDecl walk, trading the
// teacher's own stdlib-only splice for the canonical import-rewriting
// helper already proven out elsewhere in the retrieval pack.
func injectImports(fset *token.FileSet, file *ast.File) error {
	needed := []struct {
		alias, path string
	}{
		{ShadowPackageAlias, ShadowPackageImportPath},
		{"config", ConfigPackageImportPath},
		{"", "os"},
		{"", "unsafe"},
	}

	for _, n := range needed {
		astutil.AddNamedImport(fset, file, n.alias, n.path)
	}
	return nil
}

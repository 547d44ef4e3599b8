package main

import (
	"fmt"
	"os"

	"github.com/kolkov/shadowprobe/cmd/shadowprobe/instrument"
	"github.com/kolkov/shadowprobe/cmd/shadowprobe/workspace"
	"github.com/kolkov/shadowprobe/internal/config"
)

// buildCommand implements 'shadowprobe build': instrument the named
// source files, set up a temporary workspace with the shadow module
// wired into its go.mod, then invoke `go build` there (spec.md §6 CLI
// flags feed into config.Parse; everything after the flags is the
// source file list, matching the teacher's parseBuildArgs split).
func buildCommand(args []string) {
	cfg, sources, err := parseSources(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ws, err := workspace.Create()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workspace: %v\n", err)
		os.Exit(1)
	}
	defer ws.Cleanup()

	for _, src := range sources {
		if err := instrument.InstrumentFile(src, ws.Dir()); err != nil {
			fmt.Fprintf(os.Stderr, "Error instrumenting %s: %v\n", src, err)
			os.Exit(1)
		}
	}

	if err := ws.WireShadowModule(); err != nil {
		fmt.Fprintf(os.Stderr, "Error wiring shadow module: %v\n", err)
		os.Exit(1)
	}

	if err := ws.Build(); err != nil {
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}

	_ = cfg // parsing validates the flags; build only needs the source list.
}

// runCommand implements 'shadowprobe run': build into the workspace and
// immediately execute the result, forwarding the parsed flags to the
// instrumented binary's own argv so its shadow.Init(config.Parse(...))
// preamble sees them at process start.
func runCommand(args []string) {
	_, sources, err := parseSources(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ws, err := workspace.Create()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workspace: %v\n", err)
		os.Exit(1)
	}
	defer ws.Cleanup()

	for _, src := range sources {
		if err := instrument.InstrumentFile(src, ws.Dir()); err != nil {
			fmt.Fprintf(os.Stderr, "Error instrumenting %s: %v\n", src, err)
			os.Exit(1)
		}
	}

	if err := ws.WireShadowModule(); err != nil {
		fmt.Fprintf(os.Stderr, "Error wiring shadow module: %v\n", err)
		os.Exit(1)
	}

	if err := ws.Run(args[:len(args)-len(sources)]); err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}
}

// parseSources splits argv into shadowprobe's own flags and the trailing
// Go source file list, the same two-part shape parseBuildArgs uses for
// `go build`'s own flags.
func parseSources(args []string) (config.Config, []string, error) {
	cfg, err := config.Parse(args)
	if err != nil {
		return cfg, nil, err
	}
	sources := append([]string{cfg.ExecPath}, cfg.Args...)
	if cfg.ExecPath == "" {
		return cfg, nil, fmt.Errorf("no source files given")
	}
	return cfg, sources, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/kolkov/shadowprobe/internal/report/relerr"
)

// relerrCommand implements 'shadowprobe relerr': the fd_relerr.cpp-
// equivalent post-processor (SUPPLEMENTED FEATURE).
func relerrCommand(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: shadowprobe relerr <shadow-dump> <original-dump> [output-file]")
		os.Exit(1)
	}
	out := "fpdebug_relerr.log"
	if len(args) >= 3 {
		out = args[2]
	}

	rel, err := relerr.Compute(args[0], args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := relerr.WriteReport(out, rel); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("relative error: %.15g (written to %s)\n", rel, out)
}

// Package relerr implements the standalone relative-error post-processor
// (SUPPLEMENTED FEATURE, grounded on original_source/valgrind/fpdebug's
// script/fd_relerr.cpp): given a shadow-value dump and an original-value
// dump from two separate runs, compute the relative difference between
// them and write a single-line report.
//
// The original tool is a tiny standalone C++ program invoked out-of-band
// after a run; here it is a library function the `shadowprobe relerr`
// subcommand calls, since there is no separate build step in a Go module.
package relerr

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kolkov/shadowprobe/internal/mpfloat"
)

// Precision matches the original's `#define PREC 120`.
const Precision = 120

// readTaggedValue scans a dump file for a line containing tag, then reads
// the following "value:" token pair, mirroring fd_relerr.cpp's
// line-at-a-time scan of "SHADOW"/"ORIGINAL" markers.
func readTaggedValue(path, tag string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		for i, word := range fields {
			if word != tag {
				continue
			}
			// Layout: TAG value: <number>
			if i+2 < len(fields) {
				return strconv.ParseFloat(fields[i+2], 64)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("relerr: tag %q not found in %s", tag, path)
}

// Compute implements the original's main(): read the shadow and original
// dumps, compute |shadow - original| / shadow when either is nonzero
// (else zero), matching mpfr_reldiff's convention of dividing by the
// first operand.
func Compute(shadowPath, originalPath string) (float64, error) {
	sv, err := readTaggedValue(shadowPath, "SHADOW")
	if err != nil {
		return 0, err
	}
	ov, err := readTaggedValue(originalPath, "ORIGINAL")
	if err != nil {
		return 0, err
	}

	shadow := mpfloat.FromFloat64(Precision, sv)
	original := mpfloat.FromFloat64(Precision, ov)

	if shadow.Sign() == 0 && original.Sign() == 0 {
		return 0, nil
	}
	diff := mpfloat.Sub(Precision, false, shadow, original)
	rel := mpfloat.Div(Precision, false, mpfloat.Abs(Precision, false, diff), shadow)
	return rel.Float64(), nil
}

// WriteReport writes the single-line `fpdebug_relerr.log`-equivalent
// report to outPath.
func WriteReport(outPath string, rel float64) error {
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%.15g\n", rel)
	return err
}

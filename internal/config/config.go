// Package config parses the engine's CLI flags (spec.md §6 "CLI flags").
//
// Modeled on the teacher's cmd/racedetector's parseBuildArgs: a hand-
// rolled `--flag=value` scanner rather than a third-party flag library,
// because the teacher itself never reaches for one and this tool's flag
// set is small and entirely boolean/numeric.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kolkov/shadowprobe/internal/mpfloat"
)

// Config holds every --flag from spec.md §6, plus the guest executable
// path the report writer roots its output beside.
type Config struct {
	Precision uint

	MeanError        bool
	IgnoreLibraries  bool
	IgnoreAccurate   bool
	SimOriginal      bool
	AnalyzeAll       bool
	IgnoreEnd        bool
	ErrorLocalization bool
	PrintEveryError  bool
	DetectPSO        bool
	GotoShadowBranch bool
	TrackInt         bool

	ExecPath string
	Args     []string
}

// Default returns the flag defaults spec.md §6 specifies (precision 120;
// every boolean flag defaults to no unless stated otherwise).
func Default() Config {
	return Config{Precision: mpfloat.DefaultPrecision}
}

// Parse scans argv (excluding the program name) for `--flag` and
// `--flag=value` forms. Unknown flags fail option parsing, per spec.md
// §6 ("Unknown flags must fail option parsing"); the first non-flag
// argument and everything after it is treated as the guest executable
// and its own arguments.
func Parse(argv []string) (Config, error) {
	cfg := Default()

	i := 0
	for ; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") {
			break
		}
		name, value, hasValue := splitFlag(arg)

		switch name {
		case "precision":
			if !hasValue {
				return cfg, fmt.Errorf("config: --precision requires a value")
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return cfg, fmt.Errorf("config: --precision: %w", err)
			}
			if n < mpfloat.MinPrecision || n > mpfloat.MaxPrecision {
				return cfg, fmt.Errorf("config: --precision must be in [%d, %d]", mpfloat.MinPrecision, mpfloat.MaxPrecision)
			}
			cfg.Precision = uint(n)

		case "mean-error":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --mean-error: %w", err)
			}
			cfg.MeanError = v
		case "ignore-libraries":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --ignore-libraries: %w", err)
			}
			cfg.IgnoreLibraries = v
		case "ignore-accurate":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --ignore-accurate: %w", err)
			}
			cfg.IgnoreAccurate = v
		case "sim-original":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --sim-original: %w", err)
			}
			cfg.SimOriginal = v
		case "analyze-all":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --analyze-all: %w", err)
			}
			cfg.AnalyzeAll = v
		case "ignore-end":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --ignore-end: %w", err)
			}
			cfg.IgnoreEnd = v
		case "error-localization":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --error-localization: %w", err)
			}
			cfg.ErrorLocalization = v
		case "print-every-error":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --print-every-error: %w", err)
			}
			cfg.PrintEveryError = v
		case "detect-pso":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --detect-pso: %w", err)
			}
			cfg.DetectPSO = v
		case "goto-shadow-branch":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --goto-shadow-branch: %w", err)
			}
			cfg.GotoShadowBranch = v
		case "track-int":
			v, err := parseYesNo(value, hasValue)
			if err != nil {
				return cfg, fmt.Errorf("config: --track-int: %w", err)
			}
			cfg.TrackInt = v

		default:
			return cfg, fmt.Errorf("config: unknown flag --%s", name)
		}
	}

	if i < len(argv) {
		cfg.ExecPath = argv[i]
		cfg.Args = argv[i+1:]
	}
	return cfg, nil
}

// OptionEcho renders the active flag set as a single line, written at
// the top of every report file (spec.md's SUPPLEMENTED FEATURES "option
// echo" — so a reader of an old report can tell which options produced
// it, notably whether the V128-lane simplification applies).
func (c Config) OptionEcho() string {
	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprintf(
		"precision=%d mean-error=%s ignore-libraries=%s ignore-accurate=%s sim-original=%s "+
			"analyze-all=%s ignore-end=%s error-localization=%s print-every-error=%s "+
			"detect-pso=%s goto-shadow-branch=%s track-int=%s",
		c.Precision, yesNo(c.MeanError), yesNo(c.IgnoreLibraries), yesNo(c.IgnoreAccurate),
		yesNo(c.SimOriginal), yesNo(c.AnalyzeAll), yesNo(c.IgnoreEnd), yesNo(c.ErrorLocalization),
		yesNo(c.PrintEveryError), yesNo(c.DetectPSO), yesNo(c.GotoShadowBranch), yesNo(c.TrackInt),
	)
}

func splitFlag(arg string) (name, value string, hasValue bool) {
	trimmed := strings.TrimPrefix(arg, "--")
	if idx := strings.IndexByte(trimmed, '='); idx >= 0 {
		return trimmed[:idx], trimmed[idx+1:], true
	}
	return trimmed, "", false
}

func parseYesNo(value string, hasValue bool) (bool, error) {
	if !hasValue {
		return false, fmt.Errorf("requires =yes or =no")
	}
	switch value {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected yes or no, got %q", value)
	}
}

package config

import (
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error: %v", err)
	}
	if cfg.Precision != 120 {
		t.Errorf("default Precision = %d, want 120", cfg.Precision)
	}
	if cfg.MeanError {
		t.Error("default MeanError should be false")
	}
}

func TestParsePrecision(t *testing.T) {
	cfg, err := Parse([]string{"--precision=256", "main.go"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Precision != 256 {
		t.Errorf("Precision = %d, want 256", cfg.Precision)
	}
	if cfg.ExecPath != "main.go" {
		t.Errorf("ExecPath = %q, want main.go", cfg.ExecPath)
	}
}

func TestParsePrecisionOutOfRange(t *testing.T) {
	if _, err := Parse([]string{"--precision=1"}); err == nil {
		t.Error("Parse(--precision=1) should fail: below MinPrecision")
	}
	if _, err := Parse([]string{"--precision=99999"}); err == nil {
		t.Error("Parse(--precision=99999) should fail: above MaxPrecision")
	}
}

func TestParseBooleanFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"--mean-error=yes",
		"--detect-pso=yes",
		"--goto-shadow-branch=no",
		"main.go", "arg1", "arg2",
	})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !cfg.MeanError {
		t.Error("MeanError = false, want true")
	}
	if !cfg.DetectPSO {
		t.Error("DetectPSO = false, want true")
	}
	if cfg.GotoShadowBranch {
		t.Error("GotoShadowBranch = true, want false")
	}
	if cfg.ExecPath != "main.go" {
		t.Errorf("ExecPath = %q, want main.go", cfg.ExecPath)
	}
	if len(cfg.Args) != 2 || cfg.Args[0] != "arg1" || cfg.Args[1] != "arg2" {
		t.Errorf("Args = %v, want [arg1 arg2]", cfg.Args)
	}
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	if _, err := Parse([]string{"--not-a-real-flag"}); err == nil {
		t.Error("Parse should fail on an unknown flag")
	}
}

func TestParseRejectsBadYesNo(t *testing.T) {
	if _, err := Parse([]string{"--mean-error=maybe"}); err == nil {
		t.Error("Parse should reject a non yes/no value")
	}
	if _, err := Parse([]string{"--mean-error"}); err == nil {
		t.Error("Parse should reject a boolean flag with no value")
	}
}

func TestOptionEchoReflectsActiveFlags(t *testing.T) {
	cfg, err := Parse([]string{"--precision=64", "--mean-error=yes", "--detect-pso=yes", "main.go"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	echo := cfg.OptionEcho()
	for _, want := range []string{"precision=64", "mean-error=yes", "detect-pso=yes", "ignore-libraries=no"} {
		if !strings.Contains(echo, want) {
			t.Errorf("OptionEcho() = %q, want it to contain %q", echo, want)
		}
	}
}

func TestParseNoSourceFiles(t *testing.T) {
	cfg, err := Parse([]string{"--precision=64"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.ExecPath != "" {
		t.Errorf("ExecPath = %q, want empty when no source file given", cfg.ExecPath)
	}
}

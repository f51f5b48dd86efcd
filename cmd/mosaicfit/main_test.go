package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/mosaicfit/internal/header"
	"github.com/spf13/pflag"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Fatalf("version output %q missing %q", out, version)
	}
}

// TestSynthThenFit drives both commands the way a user would: generate a
// dataset, then fit it and check the default header is written.
func TestSynthThenFit(t *testing.T) {
	data := filepath.Join(t.TempDir(), "data")
	out, err := execute(t, "synth", "--out", data, "--stars", "30", "--seed", "7")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	locators := parseLocators(out)
	if locators["catalog_url"] == "" || locators["reference_url"] == "" {
		t.Fatalf("synth output missing locators: %q", out)
	}

	heads := t.TempDir()
	out, err = execute(t, "fit",
		"--catalog-url", locators["catalog_url"],
		"--reference-url", locators["reference_url"],
		"--output-dir", heads,
	)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	want := filepath.Join(heads, "rc22.head")
	if strings.TrimSpace(out) != want {
		t.Fatalf("fit printed %q, want %q", out, want)
	}
	raw, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	doc, err := header.Parse(raw)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if _, ok := doc.Float("PV1_1"); !ok {
		t.Fatalf("header missing PV1_1")
	}
}

func TestFitFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mosaicfit.yaml")
	yaml := "catalog_url: data/cat_{rcid}.fits\n" +
		"reference_url: ref.fits\n" +
		"output_dir: from-file\n" +
		"max_mag: 19.5\n" +
		"refine:\n  max_iterations: 10\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fl := pflag.NewFlagSet("fit", pflag.ContinueOnError)
	var f fitFlags
	bindFitFlags(fl, &f)
	if err := fl.Parse([]string{"--config", path, "--output-dir", "from-flag", "--refine-iterations", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := f.resolve(fl)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.OutputDir != "from-flag" {
		t.Fatalf("OutputDir = %q, want flag value", cfg.OutputDir)
	}
	if cfg.MaxMag != 19.5 {
		t.Fatalf("MaxMag = %g, want value from file", cfg.MaxMag)
	}
	if cfg.Refine.MaxIterations != 0 {
		t.Fatalf("Refine.MaxIterations = %d, want explicit 0 from flag", cfg.Refine.MaxIterations)
	}
	if cfg.ReferenceURL != "ref.fits" {
		t.Fatalf("ReferenceURL = %q, want value from file", cfg.ReferenceURL)
	}
	if cfg.OutputQuadrant != -1 {
		t.Fatalf("OutputQuadrant = %d, want default -1", cfg.OutputQuadrant)
	}
}

func TestFitExitCodes(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "fit",
		"--catalog-url", filepath.Join(dir, "cat_{rcid}.fits"),
		"--reference-url", filepath.Join(dir, "missing.fits"),
		"--output-dir", dir,
	)
	if err == nil {
		t.Fatalf("expected missing reference to fail")
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("exit code = %d, want 2 for retrieval failure", code)
	}

	_, err = execute(t, "fit", "--output-dir", dir)
	if err == nil {
		t.Fatalf("expected incomplete configuration to fail")
	}
	if code := exitCode(err); code != 1 {
		t.Fatalf("exit code = %d, want 1 for invalid configuration", code)
	}
}

func parseLocators(out string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if ok {
			m[key] = value
		}
	}
	return m
}

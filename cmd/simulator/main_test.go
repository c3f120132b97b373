package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testNetwork = `
title: cli test
options:
  units: gpm
  quality:
    type: age
times:
  duration: "6:00"
  hydraulic_step: "1:00"
  quality_step: 5m
  report_step: "2:00"
curves:
  - {id: pc, kind: pump, points: [[600, 150]]}
junctions:
  - {id: J1, elevation: 20}
  - {id: J2, elevation: 30, demand: 150}
  - {id: J3, elevation: 25, demand: 200}
reservoirs:
  - {id: R1, head: 10}
tanks:
  - {id: T1, elevation: 120, init_level: 10, min_level: 2, max_level: 25, diameter: 40}
pipes:
  - {id: P1, from: J1, to: J2, length: 2000, diameter: 10, roughness: 110}
  - {id: P2, from: J2, to: J3, length: 1500, diameter: 8, roughness: 110}
  - {id: P3, from: J2, to: T1, length: 1000, diameter: 10, roughness: 110}
pumps:
  - {id: PU1, from: R1, to: J1, head_curve: pc}
`

func writeNetwork(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "net.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write network: %v", err)
	}
	return path
}

// execute runs the root command and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeNetwork(t, testNetwork)
	out, err := execute(t, "validate", path)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	for _, want := range []string{"ok", "3 junctions, 1 reservoirs, 1 tanks", "3 pipes, 1 pumps, 0 valves"} {
		if !strings.Contains(out, want) {
			t.Fatalf("validate output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateRejectsBrokenNetwork(t *testing.T) {
	path := writeNetwork(t, `
junctions:
  - {id: J1}
pipes:
  - {id: P1, from: J1, to: J9, length: 10, diameter: 6, roughness: 100}
`)
	if _, err := execute(t, "validate", path); err == nil {
		t.Fatalf("validate succeeded on a network with an undefined node")
	}
}

func TestRunWritesReport(t *testing.T) {
	path := writeNetwork(t, testNetwork)
	report := filepath.Join(t.TempDir(), "report.json")
	out, err := execute(t, "run", path, "--report", report)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	for _, want := range []string{"4 reporting periods", "Node results at 6:00:00", "Link results", "Pump energy", "PU1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("run output missing %q:\n%s", want, out)
		}
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var doc reportJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if doc.Title != "cli test" || doc.Units != "GPM" || len(doc.Periods) != 4 {
		t.Fatalf("report header = %q %q with %d periods", doc.Title, doc.Units, len(doc.Periods))
	}
	last := doc.Periods[3]
	if last.Time != 6*3600 {
		t.Fatalf("last period time = %d, want %d", last.Time, 6*3600)
	}
	if q := last.Nodes["J3"].Quality; q <= 0 {
		t.Fatalf("J3 water age = %v, want positive", q)
	}
	if f := last.Links["PU1"].Flow; f <= 0 {
		t.Fatalf("pump flow = %v, want positive", f)
	}
}

func TestHydraulicsFileReplay(t *testing.T) {
	path := writeNetwork(t, testNetwork)
	hyd := filepath.Join(t.TempDir(), "net.hyd")
	out, err := execute(t, "hydraulics", path, "--out", hyd)
	if err != nil {
		t.Fatalf("hydraulics error: %v", err)
	}
	if !strings.Contains(out, "6:00:00") {
		t.Fatalf("hydraulics output = %q", out)
	}
	if _, err := os.Stat(hyd); err != nil {
		t.Fatalf("hydraulics file missing: %v", err)
	}

	out, err = execute(t, "run", path, "--hyd-file", hyd)
	if err != nil {
		t.Fatalf("run with hydraulics file error: %v", err)
	}
	if !strings.Contains(out, "4 reporting periods") || strings.Contains(out, "Pump energy") {
		t.Fatalf("replay output:\n%s", out)
	}
}

func TestRunMissingFile(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "missing.yaml") {
		t.Fatalf("run error = %v, want one naming the file", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "simulator dev") {
		t.Fatalf("version output = %q", out)
	}
}

func TestSampleNetworkValidates(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("..", "..", "configs", "network.yaml"))
	if err != nil {
		t.Fatalf("validate sample network: %v", err)
	}
	if !strings.Contains(out, "6 junctions, 1 reservoirs, 1 tanks") {
		t.Fatalf("validate output:\n%s", out)
	}
}

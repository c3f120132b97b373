package core

import (
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/pipenet-simulator/kb"
)

// Reservoir feeding one junction through one pipe.
const singlePipeYAML = `
title: single pipe
options:
  units: cfs
junctions:
  - {id: J1, elevation: 0, demand: 1}
reservoirs:
  - {id: R1, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
`

// Reservoir filling a tank through a junction.
const fillingTankYAML = `
options:
  units: cfs
times:
  duration: "48:00"
  hydraulic_step: "24:00"
  pattern_step: "48:00"
  report_step: "48:00"
junctions:
  - {id: J1, elevation: 50}
reservoirs:
  - {id: R1, head: 150}
tanks:
  - {id: T1, elevation: 100, init_level: 10, min_level: 0, max_level: 20, diameter: 50}
pipes:
  - {id: P1, from: R1, to: J1, length: 500, diameter: 12, roughness: 100}
  - {id: P2, from: J1, to: T1, length: 500, diameter: 12, roughness: 100}
`

// Two reservoirs feeding a junction, with a timer closing one supply.
const timerControlYAML = `
options:
  units: cfs
times:
  duration: "4:00"
  hydraulic_step: "1:00"
junctions:
  - {id: J1, elevation: 0, demand: 2}
reservoirs:
  - {id: R1, head: 100}
  - {id: R2, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
  - {id: P2, from: R2, to: J1, length: 1000, diameter: 12, roughness: 100}
controls:
  - {link: P1, status: closed, type: timer, time: 5000s}
`

// Two unequal supplies meeting at J1, which feeds J2. R1 is traced.
const traceYAML = `
options:
  units: cfs
  quality:
    type: trace
    trace_node: R1
times:
  duration: "6:00"
  hydraulic_step: "1:00"
  quality_step: 60s
junctions:
  - {id: J1, elevation: 0}
  - {id: J2, elevation: 0, demand: 3}
reservoirs:
  - {id: R1, head: 100}
  - {id: R2, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
  - {id: P2, from: R2, to: J1, length: 3000, diameter: 10, roughness: 100}
  - {id: P3, from: J1, to: J2, length: 500, diameter: 12, roughness: 100}
`

// A small looped network with a tank and a pump, used for whole-run
// properties.
const loopedYAML = `
options:
  units: gpm
  quality:
    type: age
times:
  duration: "24:00"
  hydraulic_step: "1:00"
  quality_step: 5m
  pattern_step: "6:00"
  report_step: "2:00"
patterns:
  - {id: day, factors: [0.6, 1.2, 1.5, 0.7]}
curves:
  - {id: pc, kind: pump, points: [[600, 150]]}
junctions:
  - {id: J1, elevation: 20}
  - {id: J2, elevation: 30, demand: 150, pattern: day}
  - {id: J3, elevation: 25, demand: 200, pattern: day}
  - {id: J4, elevation: 35, demand: 100, pattern: day}
reservoirs:
  - {id: R1, head: 10}
tanks:
  - {id: T1, elevation: 120, init_level: 10, min_level: 2, max_level: 25, diameter: 40}
pipes:
  - {id: P1, from: J1, to: J2, length: 2000, diameter: 10, roughness: 110}
  - {id: P2, from: J2, to: J3, length: 1500, diameter: 8, roughness: 110}
  - {id: P3, from: J3, to: J4, length: 1500, diameter: 8, roughness: 110}
  - {id: P4, from: J4, to: J1, length: 2500, diameter: 8, roughness: 110}
  - {id: P5, from: J2, to: T1, length: 1000, diameter: 10, roughness: 110}
pumps:
  - {id: PU1, from: R1, to: J1, head_curve: pc}
`

func loadNet(t *testing.T, doc string) *kb.Network {
	t.Helper()
	net, err := LoadNetwork(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadNetwork error: %v", err)
	}
	return net
}

func newSession(t *testing.T, doc string, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession(loadNet(t, doc), opts...)
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	return s
}

func openHyd(t *testing.T, s *Session, flag int) {
	t.Helper()
	if err := s.OpenH(); err != nil {
		t.Fatalf("OpenH error: %v", err)
	}
	if err := s.InitH(flag); err != nil {
		t.Fatalf("InitH error: %v", err)
	}
}

func mustNode(t *testing.T, s *Session, id string) int {
	t.Helper()
	i, err := s.NodeIndex(id)
	if err != nil {
		t.Fatalf("NodeIndex(%q) error: %v", id, err)
	}
	return i
}

func mustLink(t *testing.T, s *Session, id string) int {
	t.Helper()
	k, err := s.LinkIndex(id)
	if err != nil {
		t.Fatalf("LinkIndex(%q) error: %v", id, err)
	}
	return k
}

// runHydraulics steps the open hydraulic solver to the end of the run,
// calling check after every solve.
func runHydraulics(t *testing.T, s *Session, check func(StepResult)) {
	t.Helper()
	ctx := context.Background()
	for {
		res, err := s.RunH(ctx)
		if err != nil {
			t.Fatalf("RunH error at %d s: %v", s.clock.Htime(), err)
		}
		if check != nil {
			check(res)
		}
		step, err := s.NextH(ctx)
		if err != nil {
			t.Fatalf("NextH error: %v", err)
		}
		if step == 0 {
			return
		}
	}
}

package core

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// Two loops fed by one reservoir.
const gridYAML = `
options:
  units: gpm
junctions:
  - {id: J1, elevation: 0}
  - {id: J2, elevation: 0}
  - {id: J3, elevation: 0}
  - {id: J4, elevation: 0}
  - {id: J5, elevation: 0}
reservoirs:
  - {id: R1, head: 200}
pipes:
  - {id: P0, from: R1, to: J1, length: 1000, diameter: 16, roughness: 120}
  - {id: P1, from: J1, to: J2, length: 1000, diameter: 12, roughness: 120}
  - {id: P2, from: J2, to: J3, length: 1000, diameter: 8, roughness: 120}
  - {id: P3, from: J1, to: J4, length: 1000, diameter: 12, roughness: 120}
  - {id: P4, from: J4, to: J3, length: 1000, diameter: 8, roughness: 120}
  - {id: P5, from: J4, to: J5, length: 1000, diameter: 8, roughness: 120}
  - {id: P6, from: J5, to: J3, length: 1500, diameter: 6, roughness: 120}
`

func TestHydraulicProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25

	properties := gopter.NewProperties(parameters)

	properties.Property("solved flows balance junction demands", prop.ForAll(
		func(demands []float64) bool {
			s := newSession(t, gridYAML)
			for j, d := range demands {
				if err := s.SetNodeValue(j+1, model.NodeBaseDemand, model.Real(d)); err != nil {
					return false
				}
			}
			if err := s.OpenH(); err != nil {
				return false
			}
			if err := s.InitH(model.NoSave); err != nil {
				return false
			}
			res, err := s.RunH(context.Background())
			if err != nil || res.RelErr > s.net.Options.Accuracy {
				return false
			}

			total := 0.0
			for _, d := range demands {
				total += d
			}
			tol := 1e-3*total + 1e-6
			for i, node := range s.net.Nodes {
				if node.Kind != model.Junction {
					continue
				}
				net := 0.0
				for k, l := range s.net.Links {
					q, err := s.LinkValue(k, model.LinkFlow)
					if err != nil {
						return false
					}
					switch i {
					case l.To:
						net += float64(q)
					case l.From:
						net -= float64(q)
					}
				}
				d, err := s.NodeValue(i, model.NodeDemand)
				if err != nil || math.Abs(net-float64(d)) > tol {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.Float64Range(0, 800)),
	))

	properties.Property("pattern factors round trip", prop.ForAll(
		func(factors []float64) bool {
			s := newSession(t, loopedYAML)
			day, err := s.PatternIndex("day")
			if err != nil {
				return false
			}
			in := make([]model.Real, len(factors))
			for j, f := range factors {
				in[j] = model.Real(f)
			}
			if err := s.SetPattern(day, in); err != nil {
				return false
			}
			n, err := s.PatternLen(day)
			if err != nil || n != len(factors) {
				return false
			}
			for j := range factors {
				v, err := s.PatternValue(day, j)
				if err != nil || v != in[j] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.Float64Range(0, 5)),
	))

	properties.Property("tank levels stay within bounds", prop.ForAll(
		func(mult float64) bool {
			s := newSession(t, loopedYAML)
			if err := s.SetOption(model.OptDemandMult, model.Real(mult)); err != nil {
				return false
			}
			t1 := mustNode(t, s, "T1")
			lo, hi := s.net.Nodes[t1].Storage.Hmin, s.net.Nodes[t1].Storage.Hmax
			if err := s.OpenH(); err != nil {
				return false
			}
			if err := s.InitH(model.NoSave); err != nil {
				return false
			}
			ctx := context.Background()
			for {
				if _, err := s.RunH(ctx); err != nil {
					return false
				}
				h := s.hyd.head[t1]
				if h < lo-1e-6 || h > hi+1e-6 {
					return false
				}
				step, err := s.NextH(ctx)
				if err != nil {
					return false
				}
				if step == 0 {
					return true
				}
			}
		},
		gen.Float64Range(0.2, 3),
	))

	properties.TestingRun(t)
}

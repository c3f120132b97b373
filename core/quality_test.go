package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// A reservoir at 2 mg/L feeding J2 at 1 cfs through J1. Formatted with
// the source of J1 and of R1.
const sourceNetworkYAML = `
options:
  units: cfs
  quality:
    type: chlorine
    chem_units: mg/L
times:
  duration: "4:00"
  hydraulic_step: "1:00"
  quality_step: 30s
junctions:
  - {id: J1, elevation: 0%s}
  - {id: J2, elevation: 0, demand: 1}
reservoirs:
  - {id: R1, head: 100, init_quality: 2%s}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
  - {id: P2, from: J1, to: J2, length: 1000, diameter: 12, roughness: 100}
`

// A reservoir at 100 mg/L feeding J1 at 0.5 cfs through one long pipe.
// Formatted with the global bulk and wall coefficients, per day.
const decayYAML = `
options:
  units: cfs
  quality:
    type: chlorine
    diffusivity: 0
  reactions: {global_bulk: %g, global_wall: %g}
times:
  duration: "6:00"
  hydraulic_step: "1:00"
  quality_step: 30s
junctions:
  - {id: J1, elevation: 0, demand: 0.5}
reservoirs:
  - {id: R1, head: 100, init_quality: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 5000, diameter: 12, roughness: 100}
`

func solveQuality(t *testing.T, doc string) *Session {
	t.Helper()
	s := newSession(t, doc)
	ctx := context.Background()
	require.NoError(t, s.SolveH(ctx))
	require.NoError(t, s.SolveQ(ctx))
	return s
}

func TestSourcesSetDownstreamQuality(t *testing.T) {
	massStrength := 60 * litersFT3 // 1 mg/L at 1 cfs
	cases := []struct {
		name     string
		junction string
		res      string
		want     float64
	}{
		{name: "concentration at reservoir", res: ", source: {type: concen, strength: 5}", want: 5},
		{name: "mass booster", junction: fmt.Sprintf(", source: {type: mass, strength: %g}", massStrength), want: 3},
		{name: "setpoint above inflow", junction: ", source: {type: setpoint, strength: 3}", want: 3},
		{name: "setpoint below inflow", junction: ", source: {type: setpoint, strength: 1}", want: 2},
		{name: "flow paced", junction: ", source: {type: flowpaced, strength: 1.5}", want: 3.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := solveQuality(t, fmt.Sprintf(sourceNetworkYAML, tc.junction, tc.res))
			for _, id := range []string{"J1", "J2"} {
				got, err := s.NodeValue(mustNode(t, s, id), model.NodeQuality)
				require.NoError(t, err)
				assert.InDelta(t, tc.want, float64(got), 1e-3, "quality at %s", id)
			}
			got, err := s.LinkValue(mustLink(t, s, "P2"), model.LinkQuality)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, float64(got), 1e-3, "quality in P2")
		})
	}
}

func TestMassSourceReportsInjectionRate(t *testing.T) {
	strength := 60 * litersFT3
	s := solveQuality(t, fmt.Sprintf(sourceNetworkYAML, fmt.Sprintf(", source: {type: mass, strength: %g}", strength), ""))
	j1 := mustNode(t, s, "J1")

	rate, err := s.NodeValue(j1, model.NodeSourceMass)
	require.NoError(t, err)
	assert.InDelta(t, strength, float64(rate), 1e-6)
	typ, err := s.NodeValue(j1, model.NodeSourceType)
	require.NoError(t, err)
	assert.Equal(t, model.Real(model.SourceMass), typ)
}

func TestSourcePatternScalesStrength(t *testing.T) {
	doc := strings.Replace(sourceNetworkYAML, "junctions:", "patterns:\n  - {id: half, factors: [0.5]}\njunctions:", 1)
	s := solveQuality(t, fmt.Sprintf(doc, ", source: {type: flowpaced, strength: 2, pattern: half}", ""))
	got, err := s.NodeValue(mustNode(t, s, "J2"), model.NodeQuality)
	require.NoError(t, err)
	assert.InDelta(t, 3, float64(got), 1e-3)
}

func TestFirstOrderDecayMatchesTravelTime(t *testing.T) {
	cases := []struct {
		name       string
		bulk, wall float64 // per day
	}{
		{name: "bulk", bulk: -5},
		{name: "wall", wall: -0.5},
		{name: "bulk and wall", bulk: -5, wall: -0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := solveQuality(t, fmt.Sprintf(decayYAML, tc.bulk, tc.wall))
			k := mustLink(t, s, "P1")
			l := s.net.Links[k]

			// c = c0 exp(k tau) with tau the travel time V/Q and k the
			// bulk rate plus the wall rate per unit volume.
			rate := l.Kb + 4*l.Kw/l.Diameter
			tau := s.qual.linkVol[k] / s.hyd.flow[k]
			want := 100 * math.Exp(rate*tau)

			got, err := s.NodeValue(mustNode(t, s, "J1"), model.NodeQuality)
			require.NoError(t, err)
			assert.InEpsilon(t, want, float64(got), 0.01)
			assert.Less(t, float64(got), 100.0)
		})
	}
}

func TestNoReactionKeepsSourceQuality(t *testing.T) {
	s := solveQuality(t, fmt.Sprintf(decayYAML, 0.0, 0.0))
	assert.False(t, s.qual.react)
	got, err := s.NodeValue(mustNode(t, s, "J1"), model.NodeQuality)
	require.NoError(t, err)
	assert.InDelta(t, 100, float64(got), 1e-6)
}

func TestTankFIFOPulseDecaysInStorage(t *testing.T) {
	const k = -1e-4 // per second
	q := oneTankQuality(model.MixFIFO, segment{v: 1000, c: 0})
	q.opts = &q.net.Options
	q.opts.Quality.Type = model.QualChem
	q.opts.Quality.TankOrder = 1
	q.tucf = 1
	q.net.Nodes[0].Storage.Kb = k
	step := func(qin, cin, qout float64) float64 {
		q.updateSegs(10)
		return tankStep(q, 10, qin, cin, qout)
	}

	step(10, 100, 0)
	var elapsed int64
	var pulse float64
	for elapsed = 0; elapsed < 300; elapsed += 10 {
		if c := step(10, 0, 10); c > 0 {
			pulse = c
			break
		}
	}
	require.Equal(t, int64(100), elapsed, "pulse leaves once the stored volume has passed")

	// The pulse reacted once per step spent in storage.
	reactions := 1 + int(elapsed/10)
	assert.InDelta(t, 100*math.Pow(1+k*10, float64(reactions)), pulse, 1e-9)
	assert.InEpsilon(t, 100*math.Exp(k*10*float64(reactions)), pulse, 1e-3)
	assert.Greater(t, q.massTank, 0.0)
}

func TestReportStatistics(t *testing.T) {
	s := solveQuality(t, loopedYAML)
	series, err := s.Report()
	require.NoError(t, err)
	require.Greater(t, len(series.Periods), 2)

	j2, p2 := mustNode(t, s, "J2"), mustLink(t, s, "P2")
	var pres, flow []float64
	for _, p := range series.Periods {
		pres = append(pres, p.Nodes[j2].Pressure)
		flow = append(flow, math.Abs(p.Links[p2].Flow))
	}
	stats := func(v []float64) map[model.StatisticType]float64 {
		lo, hi, sum := v[0], v[0], 0.0
		for _, x := range v {
			lo, hi, sum = math.Min(lo, x), math.Max(hi, x), sum+x
		}
		return map[model.StatisticType]float64{
			model.StatAverage: sum / float64(len(v)),
			model.StatMinimum: lo,
			model.StatMaximum: hi,
			model.StatRange:   hi - lo,
		}
	}
	wantPres, wantFlow := stats(pres), stats(flow)
	last := series.Periods[len(series.Periods)-1]

	for _, stat := range []model.StatisticType{model.StatAverage, model.StatMinimum, model.StatMaximum, model.StatRange} {
		t.Run(stat.String(), func(t *testing.T) {
			require.NoError(t, s.SetTimeParam(model.TimeStatistic, int64(stat)))
			rep, err := s.Report()
			require.NoError(t, err)
			assert.Equal(t, stat, rep.Statistic)
			require.Len(t, rep.Periods, 1)
			p := rep.Periods[0]
			assert.Equal(t, last.Time, p.Time)
			assert.InDelta(t, wantPres[stat], p.Nodes[j2].Pressure, 1e-9)
			assert.InDelta(t, wantFlow[stat], p.Links[p2].Flow, 1e-9)
			assert.Equal(t, last.Links[p2].Status, p.Links[p2].Status)
		})
	}
	assert.Greater(t, wantPres[model.StatRange], 0.0, "demand pattern should vary pressure")
}

func TestStatisticFromNetworkFile(t *testing.T) {
	doc := strings.Replace(loopedYAML, `report_step: "2:00"`, "report_step: \"2:00\"\n  statistic: maximum", 1)
	s := solveQuality(t, doc)
	rep, err := s.Report()
	require.NoError(t, err)
	assert.Equal(t, model.StatMaximum, rep.Statistic)
	require.Len(t, rep.Periods, 1)

	require.NoError(t, s.SetTimeParam(model.TimeStatistic, int64(model.StatSeries)))
	series, err := s.Report()
	require.NoError(t, err)
	j3 := mustNode(t, s, "J3")
	hi := math.Inf(-1)
	for _, p := range series.Periods {
		hi = math.Max(hi, p.Nodes[j3].Quality)
	}
	assert.InDelta(t, hi, rep.Periods[0].Nodes[j3].Quality, 1e-9)
}

package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

func TestSegRingGrowsAndKeepsOrder(t *testing.T) {
	r := newSegRing(2)
	// Offset the head so growth has to unwrap the buffer.
	r.pushBack(segment{v: 0, c: -1})
	r.popFront()
	for i := 0; i < 5; i++ {
		r.pushBack(segment{v: float64(i + 1), c: float64(i)})
	}
	if r.len() != 5 {
		t.Fatalf("len = %d, want 5", r.len())
	}
	for i := 0; i < 5; i++ {
		if got := r.at(i).c; got != float64(i) {
			t.Fatalf("at(%d).c = %v, want %d", i, got, i)
		}
	}
	if got := r.volume(); got != 15 {
		t.Fatalf("volume = %v, want 15", got)
	}

	r.reverse()
	if r.front().c != 4 || r.back().c != 0 {
		t.Fatalf("after reverse front=%v back=%v, want 4 and 0", r.front().c, r.back().c)
	}
	r.popFront()
	r.popBack()
	if r.len() != 3 || r.front().c != 3 || r.back().c != 1 {
		t.Fatalf("after pops len=%d front=%v back=%v", r.len(), r.front().c, r.back().c)
	}
	r.clear()
	if r.front() != nil || r.back() != nil {
		t.Fatalf("cleared ring still has segments")
	}
	r.popFront()
	r.popBack()
	if r.len() != 0 {
		t.Fatalf("popping an empty ring changed len to %d", r.len())
	}
}

// oneTankQuality returns a quality solver for a network whose only
// storage node is a tank at index 0 holding the given segments.
func oneTankQuality(mix model.MixModel, segs ...segment) *quality {
	q := &quality{
		net: &kb.Network{Nodes: []*model.Node{{
			ID:   "T1",
			Kind: model.Tank,
			Storage: &model.TankParams{
				MixModel:    mix,
				VolumeCurve: model.NoIndex,
				HeadPattern: model.NoIndex,
			},
		}}},
		hyd: &hydRecord{Demand: []float64{0}},
		c:   []float64{0},

		volIn:    []float64{0},
		massIn:   []float64{0},
		tankVol:  []float64{0},
		tankSegs: []segRing{newSegRing(4)},
		storage:  []int{0},
		tanks:    []int{0},
		ctol:     0.01,
	}
	for _, s := range segs {
		q.tankSegs[0].pushBack(s)
		q.tankVol[0] += s.v
	}
	return q
}

// tankStep feeds the tank for dt seconds with inflow qin at quality cin
// and outflow qout.
func tankStep(q *quality, dt int64, qin, cin, qout float64) float64 {
	q.volIn[0] = qin * float64(dt)
	q.massIn[0] = qin * float64(dt) * cin
	q.hyd.Demand[0] = qin - qout
	q.updateTanks(dt)
	return q.c[0]
}

func TestTankFIFODelaysPulseByStoredVolume(t *testing.T) {
	q := oneTankQuality(model.MixFIFO, segment{v: 1000, c: 0})

	// Fill 100 ft3 at c=100 on top of the stored water.
	if c := tankStep(q, 10, 10, 100, 0); c != 0 {
		t.Fatalf("quality while filling = %v, want 0", c)
	}

	// Pass 10 cfs through. The oldest 1000 ft3 has to leave first.
	var elapsed int64
	for elapsed = 0; elapsed < 300; elapsed += 10 {
		c := tankStep(q, 10, 10, 0, 10)
		if c > 0 {
			if c != 100 {
				t.Fatalf("pulse quality = %v, want 100", c)
			}
			break
		}
	}
	if elapsed != 100 {
		t.Fatalf("pulse left after %d s, want 100", elapsed)
	}
	if got := q.tankVol[0]; got != 1100 {
		t.Fatalf("tank volume = %v, want 1100", got)
	}
}

func TestTankLIFODrawsNewestWater(t *testing.T) {
	q := oneTankQuality(model.MixLIFO, segment{v: 1000, c: 5})

	tankStep(q, 10, 10, 50, 0)
	if q.tankSegs[0].len() != 2 {
		t.Fatalf("segments after fill = %d, want 2", q.tankSegs[0].len())
	}
	if c := tankStep(q, 5, 0, 0, 10); c != 50 {
		t.Fatalf("quality of first draw = %v, want 50", c)
	}
	if c := tankStep(q, 10, 0, 0, 10); math.Abs(c-(50*50+5*50)/100.0) > 1e-9 {
		t.Fatalf("quality across both layers = %v, want %v", c, (50*50+5*50)/100.0)
	}
}

func TestTankFullMixBlendsByVolume(t *testing.T) {
	q := oneTankQuality(model.MixFull, segment{v: 900, c: 0})
	if c := tankStep(q, 10, 10, 100, 0); math.Abs(c-10) > 1e-9 {
		t.Fatalf("mixed quality = %v, want 10", c)
	}
	if got := q.tankSegs[0].front().v; got != 1000 {
		t.Fatalf("segment volume = %v, want 1000", got)
	}
}

func TestTankTwoCompartmentSpillsIntoStagnantZone(t *testing.T) {
	q := oneTankQuality(model.MixTwo, segment{v: 0, c: 0}, segment{v: 100, c: 0})
	q.net.Nodes[0].Storage.V1max = 100

	// The mixing zone is full, so inflow spills its mixture into the
	// stagnant zone.
	c := tankStep(q, 10, 10, 100, 0)
	mix, stag := q.tankSegs[0].back(), q.tankSegs[0].front()
	if math.Abs(c-50) > 1e-9 || math.Abs(mix.c-50) > 1e-9 {
		t.Fatalf("mixing zone quality = %v, want 50", c)
	}
	if mix.v != 100 || stag.v != 100 {
		t.Fatalf("zone volumes = %v/%v, want 100/100", mix.v, stag.v)
	}
	if math.Abs(stag.c-50) > 1e-9 {
		t.Fatalf("stagnant zone quality = %v, want 50", stag.c)
	}
}

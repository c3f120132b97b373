package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// pumpEnergy accumulates the energy use of one pump over a run.
type pumpEnergy struct {
	hours    float64 // time on line
	effHours float64 // efficiency x hours
	kwFlow   float64 // kW per cfs x hours
	kwh      float64
	peakKW   float64
	cost     float64
}

type energyState struct {
	pumps  []pumpEnergy // indexed by link
	peakKW float64      // peak total pumping demand
}

func newEnergyState(nlinks int) energyState {
	return energyState{pumps: make([]pumpEnergy, nlinks)}
}

func (e *energyState) reset() {
	for i := range e.pumps {
		e.pumps[i] = pumpEnergy{}
	}
	e.peakKW = 0
}

// linkEnergy returns the power (kW) consumed across link k and, for
// pumps, the efficiency used to compute it.
func (h *hydraulics) linkEnergy(k int) (kw, eff float64) {
	if h.status[k].IsClosed() {
		return 0, 0
	}
	l := h.net.Links[k]
	q := math.Abs(h.flow[k])
	dh := math.Abs(h.head[l.From] - h.head[l.To])
	eff = 1
	if l.Kind == model.Pump {
		e := h.opts.GlobalEfficiency
		if c := l.Pump.EffCurve; c != model.NoIndex && c < len(h.net.Curves) {
			e = h.net.Curves[c].Interpolate(q)
		}
		eff = math.Max(math.Min(e, 100), 1) / 100
	}
	kw = dh * q * h.opts.SpecificGravity / 8.814 / eff * kwPerHP
	return kw, eff
}

// addEnergy accumulates pump energy over a hydraulic step of dt seconds
// starting at time t.
func (h *hydraulics) addEnergy(t, dt int64) {
	var hours float64
	switch {
	case h.clock.Duration() == 0:
		hours = 1
	case t < h.clock.Duration():
		hours = float64(dt) / 3600
	}
	if hours == 0 {
		return
	}
	period := h.clock.PatternPeriod(t)
	basePrice := h.opts.GlobalPrice
	baseFactor := 1.0
	if pat := h.opts.GlobalPattern; pat != model.NoIndex && pat < len(h.net.Patterns) {
		baseFactor = h.net.Patterns[pat].Multiplier(period)
	}

	total := 0.0
	for _, k := range h.pumps {
		if h.status[k].IsClosed() {
			continue
		}
		pp := h.net.Links[k].Pump
		q := math.Max(qzero, math.Abs(h.flow[k]))
		price := basePrice
		if pp.EnergyPrice > 0 {
			price = pp.EnergyPrice
		}
		if pat := pp.PricePattern; pat != model.NoIndex && pat < len(h.net.Patterns) {
			price *= h.net.Patterns[pat].Multiplier(period)
		} else {
			price *= baseFactor
		}
		kw, eff := h.linkEnergy(k)
		total += kw

		e := &h.energy.pumps[k]
		e.hours += hours
		e.effHours += eff * hours
		e.kwFlow += kw / q * hours
		e.kwh += kw * hours
		e.peakKW = math.Max(e.peakKW, kw)
		e.cost += price * kw * hours
	}
	h.energy.peakKW = math.Max(h.energy.peakKW, total)
}

package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// stepOutcome summarises one hydraulic solve.
type stepOutcome struct {
	controls int // links changed by simple controls before the solve
}

// runHyd solves the network at hydraulic time t.
func (h *hydraulics) runHyd(t int64) (stepOutcome, error) {
	var out stepOutcome
	h.warnings = 0
	h.demands(t)
	out.controls = h.applyControls(t)
	if err := h.netSolve(); err != nil {
		return out, err
	}
	for _, i := range h.junctions {
		h.demand[i] -= h.emitter[i]
	}
	if h.markDisconnected() {
		if err := h.netSolve(); err != nil {
			return out, err
		}
	} else {
		for _, i := range h.junctions {
			h.demand[i] += h.emitter[i]
		}
	}
	h.checkWarnings()
	return out, nil
}

// timeStep returns the length of the next hydraulic step from time t and
// integrates tank levels over it. Rules may truncate the step.
func (h *hydraulics) timeStep(t int64) (tstep int64, ruleActions int) {
	tstep = h.nextEvent(t)
	if len(h.net.Rules) > 0 {
		return h.ruleTimeStep(t, tstep)
	}
	h.tankLevels(tstep)
	return tstep, 0
}

// nextEvent returns the time from t to the next pattern period, report
// time, tank bound or control change, capped by the hydraulic step. It
// does not change any state.
func (h *hydraulics) nextEvent(t int64) int64 {
	tstep := h.clock.Times().HydStep
	bound := func(dt int64) {
		if dt > 0 && dt < tstep {
			tstep = dt
		}
	}
	bound(h.clock.TimeToNextPeriod(t))
	bound(h.clock.Rtime() - t)
	bound(h.clock.Duration() - t)
	tstep = h.tankTimeStep(tstep)
	return h.controlTimeStep(t, tstep)
}

// tankTimeStep shortens tstep to the time for any tank to fill or drain.
func (h *hydraulics) tankTimeStep(tstep int64) int64 {
	for _, i := range h.storage {
		node := h.net.Nodes[i]
		if node.Kind != model.Tank {
			continue
		}
		t := node.Storage
		q := h.demand[i]
		if math.Abs(q) <= qzero {
			continue
		}
		var v float64
		switch {
		case q > 0 && h.head[i] < t.Hmax:
			v = t.Vmax - h.volume[i]
		case q < 0 && h.head[i] > t.Hmin:
			v = t.Vmin - h.volume[i]
		default:
			continue
		}
		if dt := int64(math.Floor(v / q)); dt > 0 && dt < tstep {
			tstep = dt
		}
	}
	return tstep
}

// ruleTimeStep steps through the hydraulic step in rule-step increments,
// integrating tank levels, until a rule changes a link or the step ends.
// It returns the possibly shortened step.
func (h *hydraulics) ruleTimeStep(t, tstep int64) (int64, int) {
	rstep := h.clock.Times().RuleStep
	tmax := t + tstep
	dt := min(rstep, tstep)
	dt1 := min(rstep-t%rstep, tstep)
	if dt1 == 0 {
		dt1 = dt
	}
	now := t
	actions := 0
	for {
		now += dt1
		h.tankLevels(dt1)
		if actions = h.checkRules(now, dt1); actions > 0 {
			break
		}
		dt = min(dt, tmax-now)
		dt1 = dt
		if dt <= 0 {
			break
		}
	}
	return now - t, actions
}

// tankLevels integrates tank volumes over dt seconds, snapping a tank to
// its bound when it is within one second of flow of it. Volumes never
// leave [Vmin, Vmax].
func (h *hydraulics) tankLevels(dt int64) {
	for _, i := range h.storage {
		node := h.net.Nodes[i]
		if node.Kind != model.Tank {
			continue
		}
		t := node.Storage
		q := h.demand[i]
		v := h.volume[i] + q*float64(dt)
		switch {
		case q > 0 && v+q >= t.Vmax:
			v = t.Vmax
		case q < 0 && v+q <= t.Vmin:
			v = t.Vmin
		}
		h.volume[i] = min(max(v, t.Vmin), t.Vmax)
		h.head[i] = h.net.TankGrade(node, h.volume[i])
	}
}

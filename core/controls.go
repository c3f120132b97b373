package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// controlTarget returns the status and setting a control imposes on its
// link. Pumps take speed 1 or 0 from an open or closed status; a pump or
// valve setting implies the matching status.
func (h *hydraulics) controlTarget(c *model.Control) (model.LinkStatus, float64) {
	l := h.net.Links[c.Link]
	switch {
	case l.Kind == model.Pump:
		if model.IsMissing(c.Setting) {
			if c.Status.IsClosed() {
				return model.StatusClosed, 0
			}
			return model.StatusOpen, 1
		}
		if c.Setting > 0 {
			return model.StatusOpen, c.Setting
		}
		return model.StatusClosed, 0
	case l.Kind.IsValve():
		if model.IsMissing(c.Setting) {
			if l.Kind == model.GPV {
				return c.Status, h.setting[c.Link]
			}
			return c.Status, model.Missing
		}
		return model.StatusActive, c.Setting
	default:
		return c.Status, h.setting[c.Link]
	}
}

// applyControls fires the tank level, timer and time-of-day controls due
// at hydraulic time t. It returns the number of links changed.
func (h *hydraulics) applyControls(t int64) int {
	changed := 0
	for i := range h.net.Controls {
		c := &h.net.Controls[i]
		reset := false
		switch c.Type {
		case model.ControlLowLevel, model.ControlHiLevel:
			if c.Node == model.NoIndex || h.row[c.Node] >= 0 {
				continue
			}
			v1, v2 := h.head[c.Node], c.Grade
			vplus := math.Abs(h.demand[c.Node])
			if h.net.Nodes[c.Node].Kind == model.Tank {
				node := h.net.Nodes[c.Node]
				v1 = h.net.TankVolume(node, v1)
				v2 = h.net.TankVolume(node, v2)
			} else {
				vplus = 0
			}
			if c.Type == model.ControlLowLevel && v1 <= v2+vplus {
				reset = true
			}
			if c.Type == model.ControlHiLevel && v1 >= v2-vplus {
				reset = true
			}
		case model.ControlTimer:
			reset = c.Time == t
		case model.ControlTimeOfDay:
			reset = h.clock.TimeOfDay(t) == c.Time
		}
		if !reset {
			continue
		}
		s1 := model.StatusOpen
		if h.status[c.Link].IsClosed() {
			s1 = model.StatusClosed
		}
		s2, k2 := h.controlTarget(c)
		k1 := h.setting[c.Link]
		if h.net.Links[c.Link].Kind <= model.Pipe {
			k2 = k1
		}
		if s1 != s2 || k1 != k2 {
			h.status[c.Link] = s2
			h.setting[c.Link] = k2
			changed++
		}
	}
	return changed
}

// pressureSwitch applies junction pressure controls against the converged
// heads. Once MaxControlRetries switches have happened within one solve
// further switches are suppressed and the step is flagged unstable.
func (h *hydraulics) pressureSwitch() bool {
	switched := false
	for i := range h.net.Controls {
		c := &h.net.Controls[i]
		if c.Node == model.NoIndex || h.row[c.Node] < 0 {
			continue
		}
		if c.Type != model.ControlLowLevel && c.Type != model.ControlHiLevel {
			continue
		}
		hn := h.head[c.Node]
		reset := (c.Type == model.ControlLowLevel && hn <= c.Grade+htol) ||
			(c.Type == model.ControlHiLevel && hn >= c.Grade-htol)
		if !reset {
			continue
		}
		k := c.Link
		l := h.net.Links[k]
		s2, k2 := h.controlTarget(c)
		change := false
		switch {
		case l.Kind <= model.Pipe:
			change = h.status[k] != s2
		case l.Kind == model.Pump:
			change = h.setting[k] != k2
		default:
			change = h.setting[k] != k2 || (model.IsMissing(h.setting[k]) && h.status[k] != s2)
		}
		if !change {
			continue
		}
		if h.retries >= h.opts.MaxControlRetries {
			h.warn(WarnUnstable)
			continue
		}
		h.retries++
		h.status[k] = s2
		if l.Kind > model.Pipe {
			h.setting[k] = k2
		}
		switched = true
	}
	return switched
}

// controlTimeStep shortens tstep to the next time a level, timer or
// time-of-day control would change its link.
func (h *hydraulics) controlTimeStep(t, tstep int64) int64 {
	for i := range h.net.Controls {
		c := &h.net.Controls[i]
		var dt int64
		switch c.Type {
		case model.ControlLowLevel, model.ControlHiLevel:
			n := c.Node
			if n == model.NoIndex || h.net.Nodes[n].Kind != model.Tank {
				continue
			}
			q := h.demand[n]
			if math.Abs(q) <= qzero {
				continue
			}
			hn := h.head[n]
			if (hn < c.Grade && c.Type == model.ControlHiLevel && q > 0) ||
				(hn > c.Grade && c.Type == model.ControlLowLevel && q < 0) {
				v := h.net.TankVolume(h.net.Nodes[n], c.Grade) - h.volume[n]
				dt = int64(math.Round(v / q))
			}
		case model.ControlTimer:
			if c.Time > t {
				dt = c.Time - t
			}
		case model.ControlTimeOfDay:
			t1 := h.clock.TimeOfDay(t)
			if c.Time >= t1 {
				dt = c.Time - t1
			} else {
				dt = secPerDay - t1 + c.Time
			}
		}
		if dt <= 0 || dt >= tstep {
			continue
		}
		s2, k2 := h.controlTarget(c)
		k := c.Link
		if (h.net.Links[k].Kind > model.Pipe && h.setting[k] != k2) || h.status[k] != s2 {
			tstep = dt
		}
	}
	return tstep
}

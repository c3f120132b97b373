package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// valveStatus updates the status of pressure valves with a setting. It
// reports whether any status changed.
func (h *hydraulics) valveStatus() bool {
	change := false
	for _, k := range h.valves {
		if model.IsMissing(h.setting[k]) {
			continue
		}
		l := h.net.Links[k]
		n1, n2 := l.From, l.To
		s := h.status[k]
		switch l.Kind {
		case model.PRV:
			hset := h.net.Nodes[n2].Elevation + h.setting[k]
			h.status[k] = h.prvStatus(k, s, hset, h.head[n1], h.head[n2])
		case model.PSV:
			hset := h.net.Nodes[n1].Elevation + h.setting[k]
			h.status[k] = h.psvStatus(k, s, hset, h.head[n1], h.head[n2])
		default:
			continue
		}
		if h.status[k] != s {
			change = true
		}
	}
	return change
}

// linkStatus re-evaluates check valves, pumps, flow control valves and
// links attached to tanks. It reports whether any status changed.
func (h *hydraulics) linkStatus() bool {
	change := false
	for k, l := range h.net.Links {
		n1, n2 := l.From, l.To
		dh := h.head[n1] - h.head[n2]
		s := h.status[k]
		if s == model.StatusXHead || s == model.StatusTempClosed {
			h.status[k] = model.StatusOpen
		}
		switch l.Kind {
		case model.CVPipe:
			h.status[k] = cvStatus(h.status[k], dh, h.flow[k])
		case model.Pump:
			if h.status[k] >= model.StatusOpen && h.setting[k] > 0 {
				h.status[k] = h.pumpStatus(k, -dh)
			}
		case model.FCV:
			if !model.IsMissing(h.setting[k]) {
				h.status[k] = h.fcvStatus(k, s, h.head[n1], h.head[n2])
			}
		}
		if h.row[n1] < 0 || h.row[n2] < 0 {
			h.tankStatus(k)
		}
		if h.status[k] != s {
			change = true
		}
	}
	return change
}

// cvStatus closes a check valve against reverse head or flow.
func cvStatus(s model.LinkStatus, dh, q float64) model.LinkStatus {
	if math.Abs(dh) > htol {
		if dh < -htol || q < -qtol {
			return model.StatusClosed
		}
		return model.StatusOpen
	}
	if q < -qtol {
		return model.StatusClosed
	}
	return s
}

// pumpStatus shuts a pump that cannot deliver the head gain dh.
func (h *hydraulics) pumpStatus(k int, dh float64) model.LinkStatus {
	pp := h.net.Links[k].Pump
	hmax := math.Inf(1)
	if pp.CurveKind != model.PumpConstHP {
		hmax = h.setting[k] * h.setting[k] * pp.Hmax
	}
	if dh > hmax+htol {
		return model.StatusXHead
	}
	return model.StatusOpen
}

func (h *hydraulics) prvStatus(k int, s model.LinkStatus, hset, h1, h2 float64) model.LinkStatus {
	q := h.flow[k]
	hml := h.net.Links[k].KmFactor * q * q
	switch s {
	case model.StatusActive:
		switch {
		case q < -qtol:
			return model.StatusClosed
		case h1-hml < hset-htol:
			return model.StatusOpen
		}
		return model.StatusActive
	case model.StatusOpen:
		switch {
		case q < -qtol:
			return model.StatusClosed
		case h2 >= hset+htol:
			return model.StatusActive
		}
		return model.StatusOpen
	case model.StatusClosed:
		switch {
		case h1 >= hset+htol && h2 < hset-htol:
			return model.StatusActive
		case h1 < hset-htol && h1 > h2+htol:
			return model.StatusOpen
		}
		return model.StatusClosed
	case model.StatusXPressure:
		if q < -qtol {
			return model.StatusClosed
		}
	}
	return s
}

func (h *hydraulics) psvStatus(k int, s model.LinkStatus, hset, h1, h2 float64) model.LinkStatus {
	q := h.flow[k]
	hml := h.net.Links[k].KmFactor * q * q
	switch s {
	case model.StatusActive:
		switch {
		case q < -qtol:
			return model.StatusClosed
		case h2+hml > hset+htol:
			return model.StatusOpen
		}
		return model.StatusActive
	case model.StatusOpen:
		switch {
		case q < -qtol:
			return model.StatusClosed
		case h1 < hset-htol:
			return model.StatusActive
		}
		return model.StatusOpen
	case model.StatusClosed:
		switch {
		case h2 > hset+htol && h1 > h2+htol:
			return model.StatusOpen
		case h1 >= hset+htol && h1 > h2+htol:
			return model.StatusActive
		}
		return model.StatusClosed
	case model.StatusXPressure:
		if q < -qtol {
			return model.StatusClosed
		}
	}
	return s
}

func (h *hydraulics) fcvStatus(k int, s model.LinkStatus, h1, h2 float64) model.LinkStatus {
	switch {
	case h1-h2 < -htol:
		return model.StatusXFCV
	case h.flow[k] < -qtol:
		return model.StatusXFCV
	case s == model.StatusXFCV && h.flow[k] >= h.setting[k]:
		return model.StatusActive
	}
	return s
}

// tankStatus temporarily closes a link that would overfill a full tank or
// drain an empty one.
func (h *hydraulics) tankStatus(k int) {
	l := h.net.Links[k]
	tank, other := l.From, l.To
	q := h.flow[k]
	if h.row[tank] >= 0 {
		if h.row[other] >= 0 {
			return
		}
		tank, other = other, tank
		q = -q
	}
	node := h.net.Nodes[tank]
	if node.Kind != model.Tank || h.status[k].IsClosed() {
		return
	}
	t := node.Storage
	dh := h.head[tank] - h.head[other]

	if h.head[tank] >= t.Hmax-htol {
		if l.Kind == model.Pump {
			if l.To == tank {
				h.status[k] = model.StatusTempClosed
			}
		} else if cvStatus(model.StatusOpen, dh, q) == model.StatusClosed {
			h.status[k] = model.StatusTempClosed
		}
	}
	if h.head[tank] <= t.Hmin+htol {
		if l.Kind == model.Pump {
			if l.From == tank {
				h.status[k] = model.StatusTempClosed
			}
		} else if cvStatus(model.StatusClosed, dh, q) == model.StatusOpen {
			h.status[k] = model.StatusTempClosed
		}
	}
}

// setLinkStatus opens or closes a link the way a control does: pumps get
// full or zero speed and valves lose their setting.
func (h *hydraulics) setLinkStatus(k int, open bool) {
	l := h.net.Links[k]
	if open {
		h.status[k] = model.StatusOpen
	} else {
		h.status[k] = model.StatusClosed
	}
	switch {
	case l.Kind == model.Pump:
		if open {
			h.setting[k] = 1
		} else {
			h.setting[k] = 0
		}
	case l.Kind.IsValve() && l.Kind != model.GPV:
		h.setting[k] = model.Missing
	}
}

// setLinkSetting assigns a pump speed or valve setting, adjusting the
// status to match.
func (h *hydraulics) setLinkSetting(k int, v float64) {
	l := h.net.Links[k]
	switch l.Kind {
	case model.Pump:
		h.setting[k] = v
		if v > 0 && h.status[k].IsClosed() {
			h.status[k] = model.StatusOpen
		}
		if v == 0 && !h.status[k].IsClosed() {
			h.status[k] = model.StatusClosed
		}
	case model.FCV:
		h.setting[k] = v
		h.status[k] = model.StatusActive
	default:
		if model.IsMissing(h.setting[k]) && h.status[k].IsClosed() {
			h.status[k] = model.StatusOpen
		}
		h.setting[k] = v
	}
}

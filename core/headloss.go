package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// Solver constants.
const (
	htol   = 0.0005 // head tolerance, ft
	qtol   = 0.0001 // flow tolerance, cfs
	rqtol  = 1e-7   // low-flow resistance tolerance
	cbig   = 1e8    // conductance of a closed link is 1/cbig
	csmall = 1e-6
	tiny   = 1e-6
	qzero  = 1e-6 // flow assigned to closed links
)

// Darcy-Weisbach friction factor constants.
const (
	dwA1 = 0.314159265359e04  // 1000*pi
	dwA2 = 0.157079632679e04  // 500*pi
	dwA3 = 0.502654824574e02  // 16*pi
	dwA4 = 6.283185307        // 2*pi
	dwA8 = 4.61841319859      // 5.74*(pi/4)^0.9
	dwA9 = -8.685889638e-01   // -2/ln(10)
	dwAA = -1.5634601348      // -2*0.9*2/ln(10)
	dwAB = 3.28895476345e-03  // 5.74/(4000^0.9)
	dwAC = -5.14214965799e-03 // AA*AB
)

// headlossExponent returns the flow exponent of the friction formula.
func headlossExponent(f model.HeadlossFormula) float64 {
	if f == model.HazenWilliams {
		return 1.852
	}
	return 2
}

// pipeResistance returns the resistance coefficient r in h = r*q^n (times
// the friction factor for Darcy-Weisbach). Lengths and diameters in feet.
func pipeResistance(f model.HeadlossFormula, l *model.Link) float64 {
	L, d, e := l.Length, l.Diameter, l.Roughness
	switch f {
	case model.DarcyWeisbach:
		a := math.Pi * d * d / 4
		return L / 2.0 / 32.2 / d / (a * a)
	case model.ChezyManning:
		t := 4.0 * e / (1.49 * math.Pi * d * d)
		return t * t * math.Pow(d/4.0, -1.333) * L
	default:
		return 4.727 * L / math.Pow(e, 1.852) / math.Pow(d, 4.871)
	}
}

// minorLossFactor converts a dimensionless minor-loss coefficient into
// the factor m in h = m*q^2.
func minorLossFactor(k, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return 0.02517 * k / (d * d * d * d)
}

// closedCoeff gives a closed link a tiny conductance.
func (h *hydraulics) closedCoeff(k int) {
	h.p[k] = 1 / cbig
	h.y[k] = h.flow[k]
}

func (h *hydraulics) pipeCoeff(k int) {
	if h.status[k].IsClosed() {
		h.closedCoeff(k)
		return
	}
	l := h.net.Links[k]
	q := math.Abs(h.flow[k])
	ml := l.KmFactor
	r := l.Resistance
	f := 1.0
	if h.opts.Headloss == model.DarcyWeisbach {
		f = h.dwFriction(k)
	}
	r1 := f*r + ml

	if r1*q < rqtol {
		h.p[k] = 1 / rqtol
		h.y[k] = h.flow[k] / h.hexp
		return
	}

	if h.opts.Headloss == model.DarcyWeisbach {
		hpipe := r1 * q * q
		p := 1 / (2 * r1 * q)
		h.p[k] = p
		h.y[k] = sign(h.flow[k]) * hpipe * p
		return
	}
	hpipe := r * math.Pow(q, h.hexp)
	p := h.hexp * hpipe
	hml := 0.0
	if ml > 0 {
		hml = ml * q * q
		p += 2 * hml
	}
	p = h.flow[k] / p
	h.p[k] = math.Abs(p)
	h.y[k] = p * (hpipe + hml)
}

// dwFriction returns the Darcy-Weisbach friction factor using
// Swamee-Jain for turbulent flow, Hagen-Poiseuille for laminar flow and a
// cubic interpolation in the transition zone.
func (h *hydraulics) dwFriction(k int) float64 {
	l := h.net.Links[k]
	if l.Kind > model.Pipe {
		return 1
	}
	q := math.Abs(h.flow[k])
	s := h.viscos * l.Diameter
	w := q / s
	switch {
	case w >= dwA1:
		y1 := dwA8 / math.Pow(w, 0.9)
		y2 := l.Roughness/(3.7*l.Diameter) + y1
		y3 := dwA9 * math.Log(y2)
		return 1 / (y3 * y3)
	case w > dwA2:
		y2 := l.Roughness/(3.7*l.Diameter) + dwAB
		y3 := dwA9 * math.Log(y2)
		fa := 1 / (y3 * y3)
		fb := (2 + dwAC/(y2*y3)) * fa
		r := w / dwA2
		x1 := 7*fa - fb
		x2 := 0.128 - 17*fa + 2.5*fb
		x3 := -0.128 + 13*fa - (fb + fb)
		x4 := r * (0.032 - 3*fa + 0.5*fb)
		return x1 + r*(x2+r*(x3+x4))
	case w > dwA4:
		return dwA3 * s / q
	default:
		return 8
	}
}

// pumpCoeff linearizes the pump head curve at the current flow. Head loss
// across a pump is -s^2*H0 + R*s^(2-N)*q^N for relative speed s.
func (h *hydraulics) pumpCoeff(k int) {
	speed := h.setting[k]
	if h.status[k].IsClosed() || speed == 0 {
		h.closedCoeff(k)
		return
	}
	l := h.net.Links[k]
	pp := l.Pump
	q := math.Max(math.Abs(h.flow[k]), tiny)

	h0, r, n := pp.H0, pp.R, pp.N
	if pp.CurveKind == model.PumpCustom {
		c := h.net.Curves[pp.HeadCurve]
		ch0, cr := c.Segment(q / speed)
		h0, r, n = ch0, -cr, 1
	}
	hs := -speed * speed * h0
	rs := r * math.Pow(speed, 2-n)
	if n != 1 {
		rs = n * rs * math.Pow(q, n-1)
	}
	h.p[k] = 1 / math.Max(rs, rqtol)
	h.y[k] = h.flow[k]/n + h.p[k]*hs
}

// valveCoeff treats an open valve as a minor-loss element with factor km.
func (h *hydraulics) valveCoeff(k int, km float64) {
	if h.status[k].IsClosed() {
		h.closedCoeff(k)
		return
	}
	if km > 0 {
		p := 2 * km * math.Abs(h.flow[k])
		if p < rqtol {
			p = rqtol
		}
		h.p[k] = 1 / p
		h.y[k] = h.flow[k] / 2
		return
	}
	h.p[k] = 1 / rqtol
	h.y[k] = h.flow[k]
}

// tcvCoeff uses the setting as the valve's loss coefficient.
func (h *hydraulics) tcvCoeff(k int) {
	l := h.net.Links[k]
	km := l.KmFactor
	if !model.IsMissing(h.setting[k]) {
		km = minorLossFactor(h.setting[k], l.Diameter)
	}
	h.valveCoeff(k, km)
}

// pbvCoeff imposes a fixed head loss equal to the setting when the
// valve's own minor loss is lower.
func (h *hydraulics) pbvCoeff(k int) {
	l := h.net.Links[k]
	set := h.setting[k]
	if model.IsMissing(set) || set == 0 || h.status[k].IsClosed() {
		h.valveCoeff(k, l.KmFactor)
		return
	}
	if l.KmFactor*h.flow[k]*h.flow[k] > set {
		h.valveCoeff(k, l.KmFactor)
		return
	}
	h.p[k] = cbig
	h.y[k] = set * cbig
}

// gpvCoeff follows a head-loss versus flow curve.
func (h *hydraulics) gpvCoeff(k int) {
	l := h.net.Links[k]
	if h.status[k].IsClosed() || model.IsMissing(h.setting[k]) {
		h.valveCoeff(k, l.KmFactor)
		return
	}
	ci := int(h.setting[k])
	if ci < 0 || ci >= len(h.net.Curves) {
		h.valveCoeff(k, l.KmFactor)
		return
	}
	q := math.Max(math.Abs(h.flow[k]), tiny)
	h0, r := h.net.Curves[ci].Segment(q)
	r = math.Max(r, 3*tiny)
	h.p[k] = 1 / r
	h.y[k] = (h0/r + q) * sign(h.flow[k])
}

// emitterCoeffs adds the linearized emitter outflow of each junction.
func (h *hydraulics) emitterCoeffs() {
	for _, i := range h.junctions {
		node := h.net.Nodes[i]
		if node.Emitter == 0 {
			continue
		}
		ke := h.emitterKe(node)
		q := h.emitter[i]
		aq := math.Max(math.Abs(q), tiny)
		z := ke * math.Pow(aq, h.qexp)
		p := h.qexp * z / aq
		if p < rqtol {
			p = 1 / rqtol
		} else {
			p = 1 / p
		}
		y := sign(q) * z * p
		row := h.row[i]
		h.sys.addDiag(row, p)
		h.f[row] += y + p*node.Elevation
		h.x[i] -= q
	}
}

// emitterKe converts an emitter flow coefficient (q = C*p^gamma) into a
// head-loss coefficient (p = ke*q^(1/gamma)).
func (h *hydraulics) emitterKe(node *model.Node) float64 {
	c := math.Max(node.Emitter, csmall)
	return math.Max(math.Pow(1/c, h.qexp), csmall)
}

func (h *hydraulics) emitterFlowChange(i int) float64 {
	ke := h.emitterKe(h.net.Nodes[i])
	p := h.qexp * ke * math.Pow(math.Abs(h.emitter[i]), h.qexp-1)
	if p < rqtol {
		p = 1 / rqtol
	} else {
		p = 1 / p
	}
	return h.emitter[i]/h.qexp - p*(h.head[i]-h.net.Nodes[i].Elevation)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

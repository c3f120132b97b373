package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
	"github.com/signalsfoundry/pipenet-simulator/timectrl"
)

// hydraulics is the hydraulic state of one session and the gradient
// solver that updates it.
type hydraulics struct {
	net   *kb.Network
	opts  *model.Options
	clock *timectrl.Clock
	u     units

	row       []int // node -> junction row, -1 for fixed-grade nodes
	junctions []int // row -> node
	storage   []int // fixed-grade nodes
	valves    []int // PRV, PSV and FCV links
	pumps     []int
	sys       *sparseSystem

	head    []float64
	demand  []float64 // junction consumption; net inflow for tanks
	emitter []float64
	flow    []float64
	status  []model.LinkStatus
	setting []float64
	volume  []float64 // tanks only

	// Per-iteration coefficients.
	p, y []float64 // per link
	x    []float64 // per node net inflow
	f    []float64 // per row right-hand side

	hexp, qexp float64
	viscos     float64
	relax      float64

	iterations   int
	relErr       float64
	dsystem      float64
	disconnected []bool
	warnings     uint8
	retries      int

	energy energyState
}

func newHydraulics(net *kb.Network, clock *timectrl.Clock) *hydraulics {
	nn, nl := len(net.Nodes), len(net.Links)
	h := &hydraulics{
		net:          net,
		opts:         &net.Options,
		clock:        clock,
		row:          make([]int, nn),
		head:         make([]float64, nn),
		demand:       make([]float64, nn),
		emitter:      make([]float64, nn),
		volume:       make([]float64, nn),
		x:            make([]float64, nn),
		disconnected: make([]bool, nn),
		flow:         make([]float64, nl),
		status:       make([]model.LinkStatus, nl),
		setting:      make([]float64, nl),
		p:            make([]float64, nl),
		y:            make([]float64, nl),
	}
	for i, node := range net.Nodes {
		if node.IsFixedGrade() {
			h.row[i] = -1
			h.storage = append(h.storage, i)
			continue
		}
		h.row[i] = len(h.junctions)
		h.junctions = append(h.junctions, i)
	}
	h.f = make([]float64, len(h.junctions))

	ends := make([][2]int, nl)
	for k, l := range net.Links {
		ends[k] = [2]int{h.row[l.From], h.row[l.To]}
		switch l.Kind {
		case model.PRV, model.PSV, model.FCV:
			h.valves = append(h.valves, k)
		case model.Pump:
			h.pumps = append(h.pumps, k)
		}
	}
	h.sys = newSparseSystem(len(h.junctions), ends)
	h.energy = newEnergyState(nl)
	return h
}

// prepare derives the solver constants and per-link resistances from the
// current options.
func (h *hydraulics) prepare() {
	h.u = newUnits(h.opts)
	h.hexp = headlossExponent(h.opts.Headloss)
	h.qexp = 1 / h.opts.EmitterExponent
	h.viscos = h.opts.Viscosity * viscosWater
	for _, l := range h.net.Links {
		l.KmFactor = minorLossFactor(l.MinorLoss, l.Diameter)
		if l.Kind <= model.Pipe {
			l.Resistance = pipeResistance(h.opts.Headloss, l)
		}
	}
}

// init resets tanks, link statuses and settings to their initial values.
// Flows are re-initialised only when reinitFlows is set or the flow is
// still at its zero value.
func (h *hydraulics) init(reinitFlows bool) {
	h.prepare()
	for _, i := range h.storage {
		node := h.net.Nodes[i]
		t := node.Storage
		h.demand[i] = 0
		if node.Kind == model.Tank {
			h.head[i] = t.H0
			h.volume[i] = t.V0
		} else {
			h.head[i] = node.Elevation
		}
	}
	for _, i := range h.junctions {
		node := h.net.Nodes[i]
		h.head[i] = node.Elevation
		if node.Emitter > 0 {
			h.emitter[i] = 1
		} else {
			h.emitter[i] = 0
		}
	}
	for k, l := range h.net.Links {
		h.status[k] = l.InitStatus
		h.setting[k] = l.InitSetting
		switch l.Kind {
		case model.Pipe, model.CVPipe:
			h.setting[k] = l.Roughness
		case model.PRV, model.PSV, model.FCV:
			if !model.IsMissing(l.InitSetting) && !l.InitStatus.IsClosed() {
				h.status[k] = model.StatusActive
			}
		}
		if math.Abs(h.flow[k]) <= qzero || reinitFlows {
			h.initFlow(k)
		}
	}
	h.iterations, h.relErr, h.warnings, h.retries = 0, 0, 0, 0
	h.relax = 1
	h.energy.reset()
}

func (h *hydraulics) initFlow(k int) {
	l := h.net.Links[k]
	switch {
	case h.status[k].IsClosed():
		h.flow[k] = qzero
	case l.Kind == model.Pump:
		h.flow[k] = h.setting[k] * l.Pump.Q0
	default:
		h.flow[k] = math.Pi * l.Diameter * l.Diameter / 4
	}
}

// demands sets junction demands, reservoir heads and pump speeds for the
// pattern period containing t.
func (h *hydraulics) demands(t int64) {
	period := h.clock.PatternPeriod(t)
	mult := func(pat int) float64 {
		if pat == model.NoIndex || pat >= len(h.net.Patterns) {
			return 1
		}
		return h.net.Patterns[pat].Multiplier(period)
	}

	h.dsystem = 0
	for _, i := range h.junctions {
		sum := 0.0
		for _, d := range h.net.Nodes[i].Demands {
			pat := d.Pattern
			if pat == model.NoIndex {
				pat = h.opts.DefaultPattern
			}
			sum += d.Base * mult(pat) * h.opts.DemandMultiplier
		}
		h.demand[i] = sum
		h.dsystem += sum
	}
	for _, i := range h.storage {
		node := h.net.Nodes[i]
		if node.Kind == model.Reservoir && node.Storage.HeadPattern != model.NoIndex {
			h.head[i] = node.Elevation * mult(node.Storage.HeadPattern)
		}
	}
	for _, k := range h.pumps {
		pat := h.net.Links[k].Pump.SpeedPattern
		if pat != model.NoIndex {
			h.setLinkSetting(k, mult(pat))
		}
	}
}

// netSolve iterates the gradient method until the relative flow change
// falls below the accuracy option or the trial limit is reached.
func (h *hydraulics) netSolve() error {
	opts := h.opts
	maxTrials := opts.Trials
	if opts.ExtraTrials > 0 {
		maxTrials += opts.ExtraTrials
	}
	nextCheck := opts.CheckFreq
	h.relax = 1
	h.retries = 0

	iter := 1
	relErr := 0.0
	for iter <= maxTrials {
		h.markDisconnected()
		h.newCoeffs()
		if bad := h.sys.solve(h.f); bad >= 0 {
			if h.badValve(h.junctions[bad]) {
				continue
			}
			h.iterations, h.relErr = iter, relErr
			return errorf(ErrHydSolve.Code, "ill-conditioned at node %q", h.net.Nodes[h.junctions[bad]].ID)
		}
		for row, i := range h.junctions {
			h.head[i] = h.f[row]
		}
		relErr = h.newFlows()
		if opts.DampLimit > 0 && relErr <= opts.DampLimit {
			h.relax = 0.6
		}
		iter++

		valveChange := false
		if iter <= opts.Trials {
			valveChange = h.valveStatus()
		}
		if relErr <= opts.Accuracy {
			if iter > opts.Trials {
				break
			}
			change := valveChange
			if h.linkStatus() {
				change = true
			}
			if h.pressureSwitch() {
				change = true
			}
			if !change {
				break
			}
			nextCheck = iter + opts.CheckFreq
		} else if iter <= opts.MaxCheck && iter == nextCheck {
			h.linkStatus()
			nextCheck += opts.CheckFreq
		}
	}
	h.iterations, h.relErr = iter-1, relErr
	for _, i := range h.junctions {
		h.demand[i] += h.emitter[i]
	}
	return nil
}

func (h *hydraulics) newCoeffs() {
	h.sys.reset()
	for i := range h.x {
		h.x[i] = 0
	}
	for i := range h.f {
		h.f[i] = 0
	}
	h.linkCoeffs()
	h.emitterCoeffs()
	h.nodeCoeffs()
	h.valveCoeffs()
	h.isolatedCoeffs()
}

// isolated reports whether link k touches a junction with no open path to
// a fixed-grade node.
func (h *hydraulics) isolated(k int) bool {
	l := h.net.Links[k]
	return h.disconnected[l.From] || h.disconnected[l.To]
}

// isolatedCoeffs pins each disconnected junction to its current head.
// Links inside the region carry no coefficients, so without the anchor
// the region's block of the matrix is singular.
func (h *hydraulics) isolatedCoeffs() {
	for row, i := range h.junctions {
		if !h.disconnected[i] {
			continue
		}
		h.sys.addDiag(row, cbig)
		h.f[row] += cbig * h.head[i]
	}
}

func (h *hydraulics) linkCoeffs() {
	for k, l := range h.net.Links {
		if h.isolated(k) {
			h.p[k], h.y[k] = 0, 0
			continue
		}
		switch l.Kind {
		case model.CVPipe, model.Pipe:
			h.pipeCoeff(k)
		case model.Pump:
			h.pumpCoeff(k)
		case model.PBV:
			h.pbvCoeff(k)
		case model.TCV:
			h.tcvCoeff(k)
		case model.GPV:
			h.gpvCoeff(k)
		case model.PRV, model.PSV, model.FCV:
			if !model.IsMissing(h.setting[k]) {
				continue
			}
			h.valveCoeff(k, l.KmFactor)
		}
		n1, n2 := l.From, l.To
		r1, r2 := h.row[n1], h.row[n2]
		h.x[n1] -= h.flow[k]
		h.x[n2] += h.flow[k]
		h.sys.addOff(k, -h.p[k])
		if r1 >= 0 {
			h.sys.addDiag(r1, h.p[k])
			h.f[r1] += h.y[k]
		} else if r2 >= 0 {
			h.f[r2] += h.p[k] * h.head[n1]
		}
		if r2 >= 0 {
			h.sys.addDiag(r2, h.p[k])
			h.f[r2] -= h.y[k]
		} else if r1 >= 0 {
			h.f[r1] += h.p[k] * h.head[n2]
		}
	}
}

func (h *hydraulics) nodeCoeffs() {
	for row, i := range h.junctions {
		h.x[i] -= h.demand[i]
		h.f[row] += h.x[i]
	}
}

// valveCoeffs adds the pressure and flow control valves whose setting is
// in force.
func (h *hydraulics) valveCoeffs() {
	for _, k := range h.valves {
		if model.IsMissing(h.setting[k]) || h.isolated(k) {
			continue
		}
		l := h.net.Links[k]
		n1, n2 := l.From, l.To
		i, j := h.row[n1], h.row[n2]
		switch l.Kind {
		case model.PRV:
			if h.status[k] == model.StatusActive {
				hset := h.net.Nodes[n2].Elevation + h.setting[k]
				h.p[k] = 0
				h.y[k] = h.flow[k] + h.x[n2]
				h.f[j] += hset * cbig
				h.sys.addDiag(j, cbig)
				if h.x[n2] < 0 {
					h.f[i] += h.x[n2]
				}
				continue
			}
		case model.PSV:
			if h.status[k] == model.StatusActive {
				hset := h.net.Nodes[n1].Elevation + h.setting[k]
				h.p[k] = 0
				h.y[k] = h.flow[k] - h.x[n1]
				h.f[i] += hset * cbig
				h.sys.addDiag(i, cbig)
				if h.x[n1] > 0 {
					h.f[j] += h.x[n1]
				}
				continue
			}
		case model.FCV:
			if h.status[k] == model.StatusActive {
				q := h.setting[k]
				h.x[n1] -= q
				h.f[i] -= q
				h.x[n2] += q
				h.f[j] += q
				h.p[k] = 1 / cbig
				h.sys.addOff(k, -h.p[k])
				h.sys.addDiag(i, h.p[k])
				h.sys.addDiag(j, h.p[k])
				h.y[k] = h.flow[k] - q
				continue
			}
		}
		h.valveCoeff(k, l.KmFactor)
		h.sys.addOff(k, -h.p[k])
		h.sys.addDiag(i, h.p[k])
		h.sys.addDiag(j, h.p[k])
		h.f[i] += h.y[k] - h.flow[k]
		h.f[j] -= h.y[k] - h.flow[k]
	}
}

// newFlows applies the head solution to the link and emitter flows,
// accumulates tank net inflows and returns the relative flow change.
func (h *hydraulics) newFlows() float64 {
	for _, i := range h.storage {
		h.demand[i] = 0
	}
	var qsum, dqsum float64
	for k, l := range h.net.Links {
		if h.isolated(k) {
			h.flow[k] = qzero
			continue
		}
		n1, n2 := l.From, l.To
		dh := h.head[n1] - h.head[n2]
		dq := h.y[k] - h.p[k]*dh
		dq *= h.relax
		if l.Kind == model.Pump && l.Pump.CurveKind == model.PumpConstHP && dq > h.flow[k] {
			dq = h.flow[k] / 2
		}
		h.flow[k] -= dq
		qsum += math.Abs(h.flow[k])
		dqsum += math.Abs(dq)
		if !h.status[k].IsClosed() {
			if h.row[n1] < 0 {
				h.demand[n1] -= h.flow[k]
			}
			if h.row[n2] < 0 {
				h.demand[n2] += h.flow[k]
			}
		}
	}
	for _, i := range h.junctions {
		if h.net.Nodes[i].Emitter == 0 {
			continue
		}
		if h.disconnected[i] {
			h.emitter[i] = 0
			continue
		}
		dq := h.emitterFlowChange(i) * h.relax
		h.emitter[i] -= dq
		qsum += math.Abs(h.emitter[i])
		dqsum += math.Abs(dq)
	}
	if qsum > h.opts.Accuracy {
		return dqsum / qsum
	}
	return dqsum
}

// badValve re-statuses an active control valve attached to node n after
// an ill-conditioned pivot. It reports whether a valve was changed.
func (h *hydraulics) badValve(n int) bool {
	for _, k := range h.valves {
		l := h.net.Links[k]
		if (l.From != n && l.To != n) || h.status[k] != model.StatusActive {
			continue
		}
		if l.Kind == model.FCV {
			h.status[k] = model.StatusXFCV
		} else {
			h.status[k] = model.StatusXPressure
		}
		return true
	}
	return false
}

// markDisconnected flags junctions with no open path to a fixed-grade
// node and zeroes their demand. It reports whether any junction with
// demand was cut off.
func (h *hydraulics) markDisconnected() bool {
	n := len(h.net.Nodes)
	adj := make([][]int, n)
	for k, l := range h.net.Links {
		if h.status[k].IsClosed() {
			continue
		}
		adj[l.From] = append(adj[l.From], l.To)
		adj[l.To] = append(adj[l.To], l.From)
	}
	reached := make([]bool, n)
	queue := make([]int, 0, n)
	for _, i := range h.storage {
		reached[i] = true
		queue = append(queue, i)
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, j := range adj[i] {
			if !reached[j] {
				reached[j] = true
				queue = append(queue, j)
			}
		}
	}
	cut := false
	for _, i := range h.junctions {
		h.disconnected[i] = !reached[i]
		if !reached[i] && h.demand[i] != 0 {
			h.dsystem -= h.demand[i]
			h.demand[i] = 0
			cut = true
		}
	}
	if cut {
		h.warn(WarnDisconnected)
	}
	return cut
}

func (h *hydraulics) warn(code int) { h.warnings |= 1 << uint(code) }

// warningCodes lists the raised warnings in ascending order.
func (h *hydraulics) warningCodes() []int {
	var out []int
	for code := WarnUnbalanced; code <= WarnPressures; code++ {
		if h.warnings&(1<<uint(code)) != 0 {
			out = append(out, code)
		}
	}
	return out
}

// checkWarnings records the warnings implied by the converged state.
func (h *hydraulics) checkWarnings() {
	if h.relErr > h.opts.Accuracy {
		h.warn(WarnUnbalanced)
	} else if h.iterations > h.opts.Trials {
		h.warn(WarnUnstable)
	}
	for k, l := range h.net.Links {
		s := h.status[k]
		switch {
		case l.Kind == model.Pump && (s == model.StatusXHead || s == model.StatusXFlow):
			h.warn(WarnPumps)
		case l.Kind.IsValve() && s >= model.StatusXFCV:
			h.warn(WarnValves)
		}
	}
	for _, i := range h.junctions {
		if h.head[i] < h.net.Nodes[i].Elevation && h.demand[i] > 0 {
			h.warn(WarnPressures)
			break
		}
	}
}

// velocity returns the mean flow velocity in link k, zero for pumps.
func (h *hydraulics) velocity(k int) float64 {
	l := h.net.Links[k]
	if l.Kind == model.Pump || l.Diameter == 0 {
		return 0
	}
	return math.Abs(h.flow[k]) / (math.Pi * l.Diameter * l.Diameter / 4)
}

// headloss returns the head lost across link k. Pumps report the
// negative of the head they add.
func (h *hydraulics) headloss(k int) float64 {
	l := h.net.Links[k]
	dh := h.head[l.From] - h.head[l.To]
	if l.Kind == model.Pump {
		return dh
	}
	return math.Abs(dh)
}

package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
	"github.com/signalsfoundry/pipenet-simulator/timectrl"
)

// hydFeed supplies the hydraulic state that drives quality transport.
type hydFeed interface {
	// load returns the record in force from time t.
	load(t int64) (*hydRecord, error)
	// end returns the time at which rec stops applying.
	end(rec *hydRecord) int64
}

// liveFeed reads the state of a hydraulic solver stepped in lockstep
// with the quality solver.
type liveFeed struct {
	h *hydraulics
}

func (f liveFeed) load(t int64) (*hydRecord, error) {
	if ht := f.h.clock.Htime(); ht != t {
		return nil, errorf(ErrNoHydraulics.Code, "hydraulics at %d s, quality at %d s", ht, t)
	}
	return f.h.snapshot(t), nil
}

func (f liveFeed) end(*hydRecord) int64 { return f.h.clock.Htime() }

// recordFeed replays saved hydraulic records.
type recordFeed struct {
	recs []*hydRecord
	i    int
}

func (f *recordFeed) load(t int64) (*hydRecord, error) {
	for f.i < len(f.recs) {
		r := f.recs[f.i]
		if r.Time == t || (r.Time < t && t < r.Time+r.Step) {
			return r, nil
		}
		if r.Time > t {
			break
		}
		f.i++
	}
	return nil, errorf(ErrNoHydraulics.Code, "no saved hydraulics at %d s", t)
}

func (f *recordFeed) end(rec *hydRecord) int64 { return rec.Time + rec.Step }

// quality is the water-quality state of one session and the Lagrangian
// transport solver that updates it.
type quality struct {
	net   *kb.Network
	opts  *model.Options
	clock *timectrl.Clock
	u     units
	feed  hydFeed

	storage []int // fixed-grade nodes
	tanks   []int

	hyd     *hydRecord // hydraulics in force
	flowDir []bool     // true when a link's segments are ordered for reverse flow

	c          []float64 // node quality
	x          []float64 // source contribution released from a node
	volIn      []float64
	massIn     []float64
	tankVol    []float64
	sourceMass []float64

	linkVol   []float64
	linkSegs  []segRing
	tankSegs  []segRing // indexed by node
	wallCoeff []float64

	react      bool
	bucf, tucf float64
	climit     float64
	ctol       float64
	sc         float64
	diffus     float64
	viscos     float64

	massBulk, massWall, massTank, massSource float64
}

func newQuality(net *kb.Network, clock *timectrl.Clock, feed hydFeed) *quality {
	nn, nl := len(net.Nodes), len(net.Links)
	q := &quality{
		net:        net,
		opts:       &net.Options,
		clock:      clock,
		feed:       feed,
		flowDir:    make([]bool, nl),
		c:          make([]float64, nn),
		x:          make([]float64, nn),
		volIn:      make([]float64, nn),
		massIn:     make([]float64, nn),
		tankVol:    make([]float64, nn),
		sourceMass: make([]float64, nn),
		linkVol:    make([]float64, nl),
		linkSegs:   make([]segRing, nl),
		tankSegs:   make([]segRing, nn),
		wallCoeff:  make([]float64, nl),
	}
	capacity := q.opts.Quality.SegmentCapacity
	for k := range q.linkSegs {
		q.linkSegs[k] = newSegRing(capacity)
	}
	for i, node := range net.Nodes {
		if !node.IsFixedGrade() {
			continue
		}
		q.storage = append(q.storage, i)
		if node.Kind == model.Tank {
			q.tanks = append(q.tanks, i)
			q.tankSegs[i] = newSegRing(capacity)
		}
	}
	return q
}

// bucfFor returns the factor converting a bulk rate coefficient of the
// given order from per-litre to per-cubic-foot concentrations.
func bucfFor(order float64) float64 {
	if order < 0 {
		return litersFT3
	}
	return math.Pow(litersFT3, 1-order)
}

// init resets node and tank qualities to their initial values. Segments
// are built when the first hydraulics are loaded.
func (q *quality) init() {
	q.u = newUnits(q.opts)
	qo := &q.opts.Quality
	q.climit = q.u.in(qQuality, qo.Climit)
	q.ctol = q.u.in(qQuality, qo.Tolerance)
	q.viscos = q.opts.Viscosity * viscosWater
	q.diffus = qo.Diffusivity * diffusCl
	q.sc = 0
	if q.diffus > 0 {
		q.sc = q.viscos / q.diffus
	}

	q.bucf, q.tucf = 1, 1
	q.react = false
	switch qo.Type {
	case model.QualAge:
		q.react = true
	case model.QualChem:
		q.bucf = bucfFor(qo.BulkOrder)
		q.tucf = bucfFor(qo.TankOrder)
		for _, l := range q.net.Links {
			if l.Kb != 0 || l.Kw != 0 {
				q.react = true
			}
		}
		for _, i := range q.tanks {
			if q.net.Nodes[i].Storage.Kb != 0 {
				q.react = true
			}
		}
	}

	for i := range q.c {
		q.c[i] = q.initQual(i)
		q.x[i] = 0
		q.sourceMass[i] = 0
		if src := q.net.Nodes[i].Source; src != nil {
			src.MassRate = 0
		}
	}
	for _, i := range q.tanks {
		q.tankVol[i] = q.net.Nodes[i].Storage.V0
	}
	for k, l := range q.net.Links {
		q.linkVol[k] = 0.785398 * l.Length * l.Diameter * l.Diameter
		q.linkSegs[k].clear()
		q.wallCoeff[k] = 0
	}
	for _, i := range q.tanks {
		q.tankSegs[i].clear()
	}
	q.hyd = nil
	q.massBulk, q.massWall, q.massTank, q.massSource = 0, 0, 0, 0
}

func (q *quality) initQual(i int) float64 {
	switch q.opts.Quality.Type {
	case model.QualNone:
		return 0
	case model.QualTrace:
		if i == q.opts.Quality.TraceNode {
			return 100
		}
		return 0
	default:
		return q.net.Nodes[i].InitQual
	}
}

// hydEnd returns the time at which the hydraulics in force stop applying.
func (q *quality) hydEnd() int64 {
	if q.hyd == nil {
		return q.clock.Qtime()
	}
	return q.feed.end(q.hyd)
}

// loadHydraulics installs the hydraulics in force at t when the previous
// period has ended, re-orienting segments to the new flow directions.
func (q *quality) loadHydraulics(t int64) error {
	if q.hyd != nil && t < q.hydEnd() {
		return nil
	}
	first := q.hyd == nil
	rec, err := q.feed.load(t)
	if err != nil {
		return err
	}
	q.hyd = rec
	if q.opts.Quality.Type == model.QualNone || t >= q.clock.Duration() && !first {
		return nil
	}
	if q.react && q.opts.Quality.Type != model.QualAge {
		q.rateCoeffs()
	}
	if first {
		q.initSegs()
	} else {
		q.reorientSegs()
	}
	return nil
}

func (q *quality) upNode(k int) int {
	l := q.net.Links[k]
	if q.hyd.Flow[k] < 0 {
		return l.To
	}
	return l.From
}

func (q *quality) downNode(k int) int {
	l := q.net.Links[k]
	if q.hyd.Flow[k] < 0 {
		return l.From
	}
	return l.To
}

// initSegs fills each link with one segment of its downstream node's
// quality and each segmented tank with its initial contents.
func (q *quality) initSegs() {
	for k := range q.net.Links {
		q.flowDir[k] = q.hyd.Flow[k] < 0
		segs := &q.linkSegs[k]
		segs.clear()
		segs.pushBack(segment{v: q.linkVol[k], c: q.c[q.downNode(k)]})
	}
	for _, i := range q.tanks {
		t := q.net.Nodes[i].Storage
		segs := &q.tankSegs[i]
		segs.clear()
		c := q.c[i]
		v := q.tankVol[i]
		if t.MixModel == model.MixTwo {
			stag := math.Max(0, v-t.V1max)
			segs.pushBack(segment{v: stag, c: c})
			segs.pushBack(segment{v: v - stag, c: c})
			continue
		}
		segs.pushBack(segment{v: v, c: c})
	}
}

// reorientSegs reverses the segment order of links whose flow reversed.
func (q *quality) reorientSegs() {
	for k := range q.net.Links {
		f := q.hyd.Flow[k]
		if f == 0 {
			continue
		}
		rev := f < 0
		if rev != q.flowDir[k] {
			q.linkSegs[k].reverse()
			q.flowDir[k] = rev
		}
	}
}

// transport advances quality by tstep seconds under the hydraulics in
// force, in sub-steps no longer than the quality step.
func (q *quality) transport(tstep int64) {
	if q.opts.Quality.Type == model.QualNone || tstep <= 0 {
		return
	}
	for i := range q.sourceMass {
		q.sourceMass[i] = 0
	}
	qstep := q.clock.Times().QualStep
	for done := int64(0); done < tstep; {
		dt := min(qstep, tstep-done)
		done += dt
		if q.react {
			q.updateSegs(dt)
		}
		q.accumulate(dt)
		q.updateNodes(dt)
		q.sourceInput(dt)
		q.release(dt)
	}
	q.updateSourceNodes(tstep)
}

// accumulate moves the water leaving each link over dt seconds into its
// downstream node.
func (q *quality) accumulate(dt int64) {
	for i := range q.volIn {
		q.volIn[i], q.massIn[i], q.x[i] = 0, 0, 0
	}
	// Mean quality of the segments adjacent to each node, used where
	// nothing flows through the node.
	for k := range q.net.Links {
		if s := q.linkSegs[k].front(); s != nil {
			j := q.downNode(k)
			q.massIn[j] += s.c
			q.volIn[j]++
		}
		if s := q.linkSegs[k].back(); s != nil {
			j := q.upNode(k)
			q.massIn[j] += s.c
			q.volIn[j]++
		}
	}
	for i := range q.x {
		if q.volIn[i] > 0 {
			q.x[i] = q.massIn[i] / q.volIn[i]
		}
	}
	for i := range q.volIn {
		q.volIn[i], q.massIn[i] = 0, 0
	}

	for k := range q.net.Links {
		i, j := q.upNode(k), q.downNode(k)
		v := math.Abs(q.hyd.Flow[k]) * float64(dt)
		segs := &q.linkSegs[k]
		if q.linkVol[k] < v {
			c := q.c[i]
			if s := segs.front(); s != nil {
				c = s.c
			}
			q.volIn[j] += v
			q.massIn[j] += v * c
			segs.clear()
			continue
		}
		for v > 0 {
			s := segs.front()
			if s == nil {
				break
			}
			vseg := math.Min(s.v, v)
			if segs.len() == 1 {
				vseg = v
			}
			q.volIn[j] += vseg
			q.massIn[j] += vseg * s.c
			v -= vseg
			if v >= 0 && vseg >= s.v {
				segs.popFront()
			} else {
				s.v -= vseg
			}
		}
	}
}

// updateNodes sets junction quality to the flow-weighted mix of its
// inflows and mixes tank contents.
func (q *quality) updateNodes(dt int64) {
	for i, node := range q.net.Nodes {
		if node.IsFixedGrade() {
			continue
		}
		if d := q.hyd.Demand[i]; d < 0 {
			q.volIn[i] -= d * float64(dt)
		}
		if q.volIn[i] > 0 {
			q.c[i] = q.massIn[i] / q.volIn[i]
		} else {
			q.c[i] = q.x[i]
		}
	}
	q.updateTanks(dt)
	if q.opts.Quality.Type == model.QualTrace {
		q.c[q.opts.Quality.TraceNode] = 100
	}
}

// sourceQual returns the strength of a source at the current quality
// time, in internal units.
func (q *quality) sourceQual(src *model.Source) float64 {
	c := src.Strength
	if src.Pattern == model.NoIndex || src.Pattern >= len(q.net.Patterns) {
		return c
	}
	return c * q.net.Patterns[src.Pattern].Multiplier(q.clock.PatternPeriod(q.clock.Qtime()))
}

// sourceInput computes the quality added by chemical sources to the water
// leaving each node over dt seconds.
func (q *quality) sourceInput(dt int64) {
	for i := range q.x {
		q.x[i] = 0
	}
	if q.opts.Quality.Type != model.QualChem {
		return
	}
	fdt := float64(dt)
	cutoff := 10 * tiny
	reporting := q.clock.Qtime() >= q.clock.Times().ReportStart
	for i, node := range q.net.Nodes {
		src := node.Source
		if src == nil || src.Strength == 0 {
			continue
		}
		volOut := q.volIn[i]
		if node.IsFixedGrade() {
			volOut -= q.hyd.Demand[i] * fdt
		}
		if volOut/fdt <= cutoff {
			continue
		}
		s := q.sourceQual(src)
		var mass float64
		switch src.Type {
		case model.SourceConcen:
			if d := q.hyd.Demand[i]; d < 0 {
				mass = -s * d * fdt
				if node.IsFixedGrade() {
					q.c[i] = 0
				}
			}
		case model.SourceMass:
			mass = s * fdt
		case model.SourceSetpoint:
			if s > q.c[i] {
				mass = (s - q.c[i]) * volOut
			}
		case model.SourceFlowPaced:
			mass = s * volOut
		}
		q.x[i] = mass / volOut
		q.sourceMass[i] += mass
		if reporting {
			q.massSource += mass
		}
	}
}

// release pushes the water leaving each upstream node over dt seconds into
// the back of its outflow links.
func (q *quality) release(dt int64) {
	for k := range q.net.Links {
		f := q.hyd.Flow[k]
		if f == 0 {
			continue
		}
		n := q.upNode(k)
		v := math.Abs(f) * float64(dt)
		c := q.c[n] + q.x[n]
		segs := &q.linkSegs[k]
		s := segs.back()
		switch {
		case s == nil:
			segs.pushBack(segment{v: q.linkVol[k], c: c})
		case math.Abs(s.c-c) < q.ctol:
			s.c = (s.c*s.v + c*v) / (s.v + v)
			s.v += v
		default:
			segs.pushBack(segment{v: v, c: c})
		}
	}
}

// updateSourceNodes adds source contributions to node quality and
// normalises the mass injected by each source to a rate.
func (q *quality) updateSourceNodes(tstep int64) {
	if q.opts.Quality.Type != model.QualChem {
		return
	}
	for i, node := range q.net.Nodes {
		src := node.Source
		if src == nil {
			continue
		}
		q.c[i] += q.x[i]
		if node.Kind == model.Tank {
			q.c[i] = q.tankQual(i)
		}
		src.MassRate = q.sourceMass[i] / float64(tstep)
	}
}

// tankQual returns the quality of the water a tank releases.
func (q *quality) tankQual(i int) float64 {
	segs := &q.tankSegs[i]
	switch q.net.Nodes[i].Storage.MixModel {
	case model.MixTwo, model.MixLIFO:
		if s := segs.back(); s != nil {
			return s.c
		}
	default:
		if s := segs.front(); s != nil {
			return s.c
		}
	}
	return q.c[i]
}

// linkQual returns the volume-weighted mean quality of link k.
func (q *quality) linkQual(k int) float64 {
	segs := &q.linkSegs[k]
	if q.linkVol[k] > 0 && segs.len() > 0 {
		var vsum, msum float64
		for i := 0; i < segs.len(); i++ {
			s := segs.at(i)
			vsum += s.v
			msum += s.c * s.v
		}
		if vsum > 0 {
			return msum / vsum
		}
	}
	l := q.net.Links[k]
	return (q.c[l.From] + q.c[l.To]) / 2
}

package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// bulkRate returns the bulk reaction rate at concentration c for rate
// coefficient kb and reaction order. Negative orders select
// Michaelis-Menten kinetics.
func (q *quality) bulkRate(c, kb, order float64) float64 {
	climit := q.climit
	switch {
	case order == 0:
		c = 1
	case order < 0:
		c1 := climit + sign(kb)*c
		if math.Abs(c1) < tiny {
			c1 = sign(c1) * tiny
		}
		c /= c1
	default:
		c1 := c
		if climit != 0 {
			c1 = math.Max(0, sign(kb)*(climit-c))
		}
		switch order {
		case 1:
			c = c1
		case 2:
			c = c1 * c
		default:
			c = c1 * math.Pow(math.Max(0, c), order-1)
		}
	}
	if c < 0 {
		c = 0
	}
	return kb * c
}

// wallRate returns the wall reaction rate in a pipe of diameter d with
// wall coefficient kw and mass transfer term kf.
func (q *quality) wallRate(c, d, kw, kf float64) float64 {
	if kw == 0 || d == 0 {
		return 0
	}
	if q.opts.Quality.WallOrder == 0 {
		kf = sign(kw) * c * kf
		if math.Abs(kf) < math.Abs(kw) {
			kw = kf
		}
		return kw * 4 / d
	}
	return c * kf
}

// pipeRate returns the mass-transfer limited wall rate term of link k
// from the Sherwood number of the current flow.
func (q *quality) pipeRate(k int, flow float64) float64 {
	l := q.net.Links[k]
	d := l.Diameter
	if q.sc == 0 {
		if q.opts.Quality.WallOrder == 0 {
			return 1e10
		}
		return l.Kw * 4 / d
	}
	a := math.Pi * d * d / 4
	re := math.Abs(flow) / a * d / q.viscos
	var sh float64
	switch {
	case re < 1:
		sh = 2
	case re >= 2300:
		sh = 0.0149 * math.Pow(re, 0.88) * math.Pow(q.sc, 0.333)
	default:
		y := d / l.Length * re * q.sc
		sh = 3.65 + 0.0668*y/(1+0.04*math.Pow(y, 0.667))
	}
	kf := sh * q.diffus / d
	if q.opts.Quality.WallOrder == 0 {
		return kf
	}
	kw := l.Kw
	return 4 / d * kw * kf / (kf + math.Abs(kw))
}

// rateCoeffs refreshes the wall rate terms after a hydraulic change.
func (q *quality) rateCoeffs() {
	for k, l := range q.net.Links {
		q.wallCoeff[k] = 0
		if l.Kw != 0 && l.Length > 0 {
			q.wallCoeff[k] = q.pipeRate(k, q.hyd.Flow[k])
		}
	}
}

// pipeReact returns the quality of a link segment after dt seconds.
func (q *quality) pipeReact(k int, c, v float64, dt int64) float64 {
	if q.opts.Quality.Type == model.QualAge {
		return c + float64(dt)/3600
	}
	l := q.net.Links[k]
	rbulk := q.bulkRate(c, l.Kb, q.opts.Quality.BulkOrder) * q.bucf
	rwall := q.wallRate(c, l.Diameter, l.Kw, q.wallCoeff[k])
	dcb := rbulk * float64(dt)
	dcw := rwall * float64(dt)
	q.massBulk += math.Abs(dcb) * v
	q.massWall += math.Abs(dcw) * v
	return math.Max(0, c+dcb+dcw)
}

// tankReact returns the quality of tank water after dt seconds.
func (q *quality) tankReact(c, v, kb float64, dt int64) float64 {
	if q.opts.Quality.Type == model.QualAge {
		return c + float64(dt)/3600
	}
	dc := q.bulkRate(c, kb, q.opts.Quality.TankOrder) * q.tucf * float64(dt)
	q.massTank += math.Abs(dc) * v
	return math.Max(0, c+dc)
}

// updateSegs reacts every link and tank segment over dt seconds.
func (q *quality) updateSegs(dt int64) {
	for k, l := range q.net.Links {
		if l.Length == 0 {
			continue
		}
		segs := &q.linkSegs[k]
		for i := 0; i < segs.len(); i++ {
			s := segs.at(i)
			s.c = q.pipeReact(k, s.c, s.v, dt)
		}
	}
	for _, n := range q.tanks {
		kb := q.net.Nodes[n].Storage.Kb
		segs := &q.tankSegs[n]
		for i := 0; i < segs.len(); i++ {
			s := segs.at(i)
			s.c = q.tankReact(s.c, s.v, kb, dt)
		}
	}
}

package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// updateTanks mixes the inflow of each storage node over dt seconds.
// Reservoirs keep their initial quality.
func (q *quality) updateTanks(dt int64) {
	for _, n := range q.storage {
		node := q.net.Nodes[n]
		if node.Kind == model.Reservoir {
			q.c[n] = q.initQual(n)
			continue
		}
		switch node.Storage.MixModel {
		case model.MixTwo:
			q.tankMixTwo(n, dt)
		case model.MixFIFO:
			q.tankMixFIFO(n, dt)
		case model.MixLIFO:
			q.tankMixLIFO(n, dt)
		default:
			q.tankMixFull(n, dt)
		}
	}
}

func (q *quality) inflowQual(n int) float64 {
	if q.volIn[n] > 0 {
		return q.massIn[n] / q.volIn[n]
	}
	return 0
}

// tankMixFull blends the inflow into a single completely mixed
// compartment.
func (q *quality) tankMixFull(n int, dt int64) {
	seg := q.tankSegs[n].front()
	if seg == nil {
		return
	}
	vold := q.tankVol[n]
	q.tankVol[n] = math.Max(0, q.tankVol[n]+q.hyd.Demand[n]*float64(dt))
	vin := q.volIn[n]
	cin := q.inflowQual(n)
	if vin > 0 {
		cmax := math.Max(seg.c, cin)
		c := (seg.c*vold + cin*vin) / (vold + vin)
		seg.c = math.Max(0, math.Min(c, cmax))
	}
	seg.v = q.tankVol[n]
	q.c[n] = seg.c
}

// tankMixTwo models a mixing zone (back segment) that fills first and
// spills into a stagnant zone (front segment).
func (q *quality) tankMixTwo(n int, dt int64) {
	segs := &q.tankSegs[n]
	if segs.len() < 2 {
		q.tankMixFull(n, dt)
		return
	}
	mix, stag := segs.back(), segs.front()
	fdt := float64(dt)
	qnet := q.hyd.Demand[n]
	qin := q.volIn[n] / fdt
	cin := q.inflowQual(n)
	q.tankVol[n] = math.Max(0, q.tankVol[n]+qnet*fdt)
	vmz := q.net.Nodes[n].Storage.V1max

	switch {
	case qnet > 0:
		vt := math.Max(0, mix.v+qnet*fdt-vmz)
		if qin > 0 {
			mix.c = (mix.c*mix.v + cin*qin*fdt) / (mix.v + qin*fdt)
		}
		if vt > 0 {
			stag.c = (stag.c*stag.v + mix.c*vt) / (stag.v + vt)
		}
		mix.v += qnet*fdt - vt
		stag.v += vt
	case qnet < 0:
		vt := 0.0
		if stag.v > 0 {
			vt = math.Min(stag.v, -qnet*fdt)
		}
		if qin+vt > 0 {
			mix.c = (mix.c*mix.v + cin*qin*fdt + stag.c*vt) / (mix.v + qin*fdt + vt)
		}
		mix.v += qnet*fdt + vt
		stag.v -= vt
	default:
		if qin > 0 {
			mix.c = (mix.c*mix.v + cin*qin*fdt) / (mix.v + qin*fdt)
		}
	}
	q.c[n] = mix.c
}

// tankMixFIFO withdraws outflow from the oldest water and appends inflow
// as the newest.
func (q *quality) tankMixFIFO(n int, dt int64) {
	segs := &q.tankSegs[n]
	if segs.len() == 0 {
		return
	}
	vnet := q.hyd.Demand[n] * float64(dt)
	vin := q.volIn[n]
	vout := vin - vnet
	cin := q.inflowQual(n)
	q.tankVol[n] = math.Max(0, q.tankVol[n]+vnet)

	var vsum, csum float64
	for vout > 0 {
		seg := segs.front()
		if seg == nil {
			break
		}
		last := segs.len() == 1
		vseg := math.Min(seg.v, vout)
		if last {
			vseg = vout
		}
		vsum += vseg
		csum += seg.c * vseg
		vout -= vseg
		switch {
		case vout >= 0 && vseg >= seg.v && !last:
			segs.popFront()
		case last:
			seg.v = math.Max(0, seg.v-vseg)
		default:
			seg.v -= vseg
		}
	}
	if vsum > 0 {
		q.c[n] = csum / vsum
	} else {
		q.c[n] = segs.front().c
	}

	if vin > 0 {
		back := segs.back()
		if math.Abs(back.c-cin) < q.ctol || back.v == 0 {
			back.c = (back.c*back.v + cin*vin) / (back.v + vin)
			back.v += vin
		} else {
			segs.pushBack(segment{v: vin, c: cin})
		}
	}
}

// tankMixLIFO stacks inflow on top of the newest water and draws outflow
// from the top.
func (q *quality) tankMixLIFO(n int, dt int64) {
	segs := &q.tankSegs[n]
	if segs.len() == 0 {
		return
	}
	vnet := q.hyd.Demand[n] * float64(dt)
	vin := q.volIn[n]
	cin := q.inflowQual(n)
	q.tankVol[n] = math.Max(0, q.tankVol[n]+vnet)
	c := segs.back().c

	switch {
	case vnet > 0:
		back := segs.back()
		if math.Abs(back.c-cin) < q.ctol {
			back.v += vnet
		} else {
			segs.pushBack(segment{v: vnet, c: cin})
		}
		c = segs.back().c
	case vnet < 0:
		var vsum, csum float64
		vnet = -vnet
		for vnet > 0 {
			seg := segs.back()
			if seg == nil {
				break
			}
			last := segs.len() == 1
			vseg := math.Min(seg.v, vnet)
			if last {
				vseg = vnet
			}
			vsum += vseg
			csum += seg.c * vseg
			vnet -= vseg
			switch {
			case vnet >= 0 && vseg >= seg.v && !last:
				segs.popBack()
			case last:
				seg.v = math.Max(0, seg.v-vseg)
			default:
				seg.v -= vseg
			}
		}
		if vsum+vin > 0 {
			c = (csum + q.massIn[n]) / (vsum + vin)
		}
	}
	q.c[n] = c
}

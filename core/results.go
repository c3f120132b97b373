package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// NodeValues are the reported values of one node, in user units.
type NodeValues struct {
	Demand   float64
	Head     float64
	Pressure float64
	Quality  float64
}

// LinkValues are the reported values of one link, in user units.
type LinkValues struct {
	Flow     float64
	Velocity float64
	Headloss float64
	Quality  float64
	Status   model.LinkStatus
	Setting  float64
}

// Period holds the network state at one reporting time.
type Period struct {
	Time  int64
	Nodes []NodeValues
	Links []LinkValues
}

// Report is the reporting-period output of a run. With a statistic other
// than series it holds a single aggregated period.
type Report struct {
	Statistic model.StatisticType
	Periods   []Period
}

// results collects the reporting periods of a run.
type results struct {
	periods []Period
	index   map[int64]int
}

func newResults() *results {
	return &results{index: make(map[int64]int)}
}

func (r *results) reset() {
	r.periods = r.periods[:0]
	r.index = make(map[int64]int)
}

// isReportTime reports whether t falls on a reporting boundary.
func isReportTime(times *model.Times, t int64) bool {
	if t < times.ReportStart || times.ReportStep <= 0 {
		return false
	}
	return (t-times.ReportStart)%times.ReportStep == 0
}

func (r *results) period(t int64, nodes, links int) *Period {
	if i, ok := r.index[t]; ok {
		return &r.periods[i]
	}
	r.index[t] = len(r.periods)
	r.periods = append(r.periods, Period{
		Time:  t,
		Nodes: make([]NodeValues, nodes),
		Links: make([]LinkValues, links),
	})
	return &r.periods[len(r.periods)-1]
}

// recordHydraulics stores the hydraulic part of the period at time t.
func (r *results) recordHydraulics(h *hydraulics, t int64) {
	p := r.period(t, len(h.head), len(h.flow))
	for i, node := range h.net.Nodes {
		p.Nodes[i].Demand = h.u.out(qDemand, h.demand[i])
		p.Nodes[i].Head = h.u.out(qHead, h.head[i])
		p.Nodes[i].Pressure = h.u.out(qPressure, h.head[i]-node.Elevation)
	}
	for k := range h.net.Links {
		lv := &p.Links[k]
		lv.Flow = h.u.out(qFlow, h.flow[k])
		lv.Velocity = h.u.out(qVelocity, h.velocity(k))
		lv.Headloss = h.u.out(qHeadloss, h.headloss(k))
		lv.Status = h.status[k]
		lv.Setting = h.setting[k]
	}
}

// recordQuality stores the quality part of the period at time t.
func (r *results) recordQuality(q *quality, t int64) {
	p := r.period(t, len(q.c), len(q.net.Links))
	for n := range p.Nodes {
		p.Nodes[n].Quality = q.u.out(qQuality, q.c[n])
	}
	for k := range p.Links {
		p.Links[k].Quality = q.u.out(qQuality, q.linkQual(k))
	}
}

// report aggregates the stored periods with the given statistic.
func (r *results) report(stat model.StatisticType) Report {
	rep := Report{Statistic: stat}
	if len(r.periods) == 0 {
		return rep
	}
	if stat == model.StatSeries {
		rep.Periods = append(rep.Periods, r.periods...)
		return rep
	}
	first, last := r.periods[0], r.periods[len(r.periods)-1]
	out := Period{
		Time:  last.Time,
		Nodes: make([]NodeValues, len(first.Nodes)),
		Links: make([]LinkValues, len(first.Links)),
	}
	nodeVals := func(v NodeValues) [4]float64 { return [4]float64{v.Demand, v.Head, v.Pressure, v.Quality} }
	linkVals := func(v LinkValues) [4]float64 { return [4]float64{v.Flow, v.Velocity, v.Headloss, v.Quality} }

	for i := range out.Nodes {
		var acc statAccum
		for _, p := range r.periods {
			acc.add(nodeVals(p.Nodes[i]))
		}
		a := acc.result(stat)
		out.Nodes[i] = NodeValues{Demand: a[0], Head: a[1], Pressure: a[2], Quality: a[3]}
	}
	for k := range out.Links {
		var acc statAccum
		for _, p := range r.periods {
			// Flow statistics use magnitudes so that reversing flow does
			// not cancel out.
			v := linkVals(p.Links[k])
			v[0], v[1] = math.Abs(v[0]), math.Abs(v[1])
			acc.add(v)
		}
		a := acc.result(stat)
		lv := last.Links[k]
		out.Links[k] = LinkValues{Flow: a[0], Velocity: a[1], Headloss: a[2], Quality: a[3], Status: lv.Status, Setting: lv.Setting}
	}
	rep.Periods = []Period{out}
	return rep
}

type statAccum struct {
	n             int
	sum, min, max [4]float64
}

func (a *statAccum) add(v [4]float64) {
	for i, x := range v {
		if a.n == 0 {
			a.min[i], a.max[i] = x, x
		}
		a.sum[i] += x
		a.min[i] = math.Min(a.min[i], x)
		a.max[i] = math.Max(a.max[i], x)
	}
	a.n++
}

func (a *statAccum) result(stat model.StatisticType) [4]float64 {
	var out [4]float64
	for i := range out {
		switch stat {
		case model.StatAverage:
			out[i] = a.sum[i] / float64(a.n)
		case model.StatMinimum:
			out[i] = a.min[i]
		case model.StatMaximum:
			out[i] = a.max[i]
		case model.StatRange:
			out[i] = a.max[i] - a.min[i]
		}
	}
	return out
}

// PumpEnergyReport summarises the energy use of one pump.
type PumpEnergyReport struct {
	Link        int
	ID          string
	Utilization float64 // percent of the run on line
	Efficiency  float64 // average percent
	KWhPerVol   float64 // per million gallons (US) or cubic metre (SI)
	AverageKW   float64
	PeakKW      float64
	CostPerDay  float64
}

// EnergyReport is the pump energy summary of a hydraulic run.
type EnergyReport struct {
	Pumps        []PumpEnergyReport
	DemandCharge float64
	TotalCost    float64
}

// energyReport builds the pump energy summary for a run of duration
// seconds.
func (h *hydraulics) energyReport() EnergyReport {
	total := 1.0
	if d := h.clock.Duration(); d > 0 {
		total = float64(d) / 3600
	}
	volPerCFSHour := 3600 * 7.48052 / 1e6
	if h.opts.Units.IsSI() {
		volPerCFSHour = 3600 * m3PerFT3
	}
	var rep EnergyReport
	for _, k := range h.pumps {
		e := h.energy.pumps[k]
		pr := PumpEnergyReport{Link: k, ID: h.net.Links[k].ID}
		if e.hours > 0 {
			pr.Utilization = e.hours / total * 100
			pr.Efficiency = e.effHours / e.hours * 100
			pr.KWhPerVol = e.kwFlow / e.hours / volPerCFSHour
			pr.AverageKW = e.kwh / e.hours
		}
		pr.PeakKW = e.peakKW
		pr.CostPerDay = e.cost * 24 / total
		rep.TotalCost += pr.CostPerDay
		rep.Pumps = append(rep.Pumps, pr)
	}
	rep.DemandCharge = h.energy.peakKW * h.opts.DemandCharge
	rep.TotalCost += rep.DemandCharge
	return rep
}

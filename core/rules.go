package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

const ruleTol = 1e-3

// ruleAction is a pending rule action on one link.
type ruleAction struct {
	rule   int
	action model.Action
}

// checkRules evaluates every rule over the interval (t-dt, t] and applies
// the winning action per link. A rule with strictly higher priority
// replaces a pending action on the same link; on equal priority the
// earlier rule keeps it. It returns the number of links changed.
func (h *hydraulics) checkRules(t, dt int64) int {
	var pending []ruleAction
	for i := range h.net.Rules {
		r := &h.net.Rules[i]
		chain := r.Else
		if h.evalPremises(r, t, dt) {
			chain = r.Then
		}
		for _, a := range chain {
			pending = queueAction(pending, h.net.Rules, i, a)
		}
	}
	return h.takeActions(pending)
}

func queueAction(pending []ruleAction, rules []model.Rule, ri int, a model.Action) []ruleAction {
	for j := range pending {
		if pending[j].action.Link != a.Link {
			continue
		}
		if rules[ri].Priority > rules[pending[j].rule].Priority {
			pending[j] = ruleAction{rule: ri, action: a}
		}
		return pending
	}
	return append(pending, ruleAction{rule: ri, action: a})
}

func (h *hydraulics) takeActions(pending []ruleAction) int {
	n := 0
	for _, ra := range pending {
		a := ra.action
		k := a.Link
		s := h.status[k]
		changed := false
		switch {
		case a.Status == model.StatusOpen:
			if s.IsClosed() {
				h.setLinkStatus(k, true)
				changed = true
			}
		case a.Status == model.StatusClosed:
			if !s.IsClosed() {
				h.setLinkStatus(k, false)
				changed = true
			}
		case !model.IsMissing(a.Setting):
			x := h.settingIn(k, a.Setting)
			if math.Abs(x-h.setting[k]) > ruleTol {
				h.setLinkSetting(k, x)
				changed = true
			}
		}
		if changed {
			n++
		}
	}
	return n
}

// settingIn converts a user-unit setting of link k to internal units.
func (h *hydraulics) settingIn(k int, v float64) float64 {
	switch h.net.Links[k].Kind {
	case model.PRV, model.PSV, model.PBV:
		return h.u.in(qPressure, v)
	case model.FCV:
		return h.u.in(qFlow, v)
	}
	return v
}

// settingOut converts an internal setting of link k to user units.
func (h *hydraulics) settingOut(k int, v float64) float64 {
	switch h.net.Links[k].Kind {
	case model.PRV, model.PSV, model.PBV:
		return h.u.out(qPressure, v)
	case model.FCV:
		return h.u.out(qFlow, v)
	}
	return v
}

// evalPremises chains premises left to right: an OR clause is consulted
// only while the result so far is false, an AND clause only while it is
// true.
func (h *hydraulics) evalPremises(r *model.Rule, t, dt int64) bool {
	result := true
	for i := range r.Premises {
		p := &r.Premises[i]
		if p.Logic == model.LogicOr {
			if !result {
				result = h.checkPremise(p, t, dt)
			}
			continue
		}
		if !result {
			return false
		}
		result = h.checkPremise(p, t, dt)
	}
	return result
}

func (h *hydraulics) checkPremise(p *model.Premise, t, dt int64) bool {
	switch p.Variable {
	case model.VarTime, model.VarClockTime:
		return h.checkTime(p, t, dt)
	case model.VarStatus:
		return h.checkStatus(p)
	}
	return h.checkValue(p)
}

// checkTime compares a time premise against the evaluation interval
// (t-dt, t].
func (h *hydraulics) checkTime(p *model.Premise, t, dt int64) bool {
	t1, t2 := t-dt+1, t
	if p.Variable == model.VarClockTime {
		t1, t2 = h.clock.TimeOfDay(t1), h.clock.TimeOfDay(t2)
	}
	x := int64(p.Value)
	switch p.Op {
	case model.OpLT, model.OpBelow:
		return t1 < x
	case model.OpLE:
		return t1 <= x
	case model.OpGT, model.OpAbove:
		return t2 > x
	case model.OpGE:
		return t2 >= x
	case model.OpEQ, model.OpIs, model.OpNE, model.OpNot:
		var within bool
		if t2 < t1 {
			within = x >= t1 || x <= t2
		} else {
			within = x >= t1 && x <= t2
		}
		if p.Op == model.OpEQ || p.Op == model.OpIs {
			return within
		}
		return !within
	}
	return false
}

// checkStatus compares a link status premise. Statuses are grouped as
// closed, active or open.
func (h *hydraulics) checkStatus(p *model.Premise) bool {
	if p.Object != model.ObjectLink {
		return false
	}
	group := func(s model.LinkStatus) model.LinkStatus {
		switch {
		case s.IsClosed():
			return model.StatusClosed
		case s == model.StatusActive:
			return model.StatusActive
		}
		return model.StatusOpen
	}
	same := group(h.status[p.Index]) == group(p.Status)
	switch p.Op {
	case model.OpEQ, model.OpIs:
		return same
	case model.OpNE, model.OpNot:
		return !same
	}
	return false
}

func (h *hydraulics) checkValue(p *model.Premise) bool {
	x, ok := h.premiseValue(p)
	if !ok {
		return false
	}
	v := p.Value
	switch p.Op {
	case model.OpEQ, model.OpIs:
		return math.Abs(x-v) <= ruleTol
	case model.OpNE, model.OpNot:
		return math.Abs(x-v) >= ruleTol
	case model.OpLT, model.OpBelow:
		return x <= v+ruleTol
	case model.OpLE:
		return x <= v-ruleTol
	case model.OpGT, model.OpAbove:
		return x >= v-ruleTol
	case model.OpGE:
		return x >= v+ruleTol
	}
	return false
}

// premiseValue returns the current value of a premise variable in user
// units.
func (h *hydraulics) premiseValue(p *model.Premise) (float64, bool) {
	i := p.Index
	if p.Object == model.ObjectSystem {
		if p.Variable == model.VarDemand {
			return h.u.out(qDemand, h.dsystem), true
		}
		return 0, false
	}
	if p.Object == model.ObjectLink {
		switch p.Variable {
		case model.VarFlow:
			return h.u.out(qFlow, math.Abs(h.flow[i])), true
		case model.VarSetting:
			if model.IsMissing(h.setting[i]) {
				return 0, false
			}
			return h.settingOut(i, h.setting[i]), true
		case model.VarPower:
			if h.net.Links[i].Kind != model.Pump {
				return 0, false
			}
			kw, _ := h.linkEnergy(i)
			return kw, true
		}
		return 0, false
	}

	node := h.net.Nodes[i]
	switch p.Variable {
	case model.VarDemand:
		return h.u.out(qDemand, h.demand[i]), true
	case model.VarHead, model.VarGrade:
		return h.u.out(qHead, h.head[i]), true
	case model.VarPressure:
		return h.u.out(qPressure, h.head[i]-node.Elevation), true
	case model.VarLevel:
		return h.u.out(qHead, h.head[i]-node.Elevation), true
	case model.VarFillTime, model.VarDrainTime:
		if node.Kind != model.Tank {
			return 0, false
		}
		t := node.Storage
		q := h.demand[i]
		if p.Variable == model.VarFillTime {
			if q <= tiny {
				return 0, false
			}
			return (t.Vmax - h.volume[i]) / q, true
		}
		if q >= -tiny {
			return 0, false
		}
		return (t.Vmin - h.volume[i]) / q, true
	}
	return 0, false
}

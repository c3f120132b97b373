package core

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

func TestQueueActionKeepsHighestPriority(t *testing.T) {
	rules := []model.Rule{{ID: "a", Priority: 1}, {ID: "b", Priority: 3}, {ID: "c", Priority: 3}}
	closeP1 := model.Action{Link: 0, Status: model.StatusClosed, Setting: model.Missing}
	openP1 := model.Action{Link: 0, Status: model.StatusOpen, Setting: model.Missing}
	openP2 := model.Action{Link: 1, Status: model.StatusOpen, Setting: model.Missing}

	var pending []ruleAction
	pending = queueAction(pending, rules, 0, closeP1)
	pending = queueAction(pending, rules, 1, openP1)
	pending = queueAction(pending, rules, 2, closeP1)
	pending = queueAction(pending, rules, 0, openP2)

	if len(pending) != 2 {
		t.Fatalf("pending actions = %d, want 2", len(pending))
	}
	if pending[0].rule != 1 || pending[0].action.Status != model.StatusOpen {
		t.Fatalf("link 0 action from rule %d status %v, want rule 1 open", pending[0].rule, pending[0].action.Status)
	}
	if pending[1].rule != 0 || pending[1].action.Link != 1 {
		t.Fatalf("link 1 action = %+v", pending[1])
	}
}

// conflictingRulesYAML has two rules acting on P1 after one hour.
const conflictingRulesYAML = `
options:
  units: cfs
times:
  duration: "3:00"
  hydraulic_step: "1:00"
junctions:
  - {id: J1, elevation: 0, demand: 2}
reservoirs:
  - {id: R1, head: 100}
  - {id: R2, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
  - {id: P2, from: R2, to: J1, length: 1000, diameter: 12, roughness: 100}
rules:
  - id: shut
    priority: %g
    if: [{object: system, variable: time, op: ">=", value: 1}]
    then: [{link: P1, status: closed}]
  - id: keep
    priority: %g
    if: [{object: system, variable: time, op: ">=", value: 1}]
    then: [{link: P1, status: open}]
`

func TestRulePriorityDecidesConflictingActions(t *testing.T) {
	cases := []struct {
		name       string
		shut, keep float64
		wantClosed bool
	}{
		{name: "open rule outranks", shut: 1, keep: 5, wantClosed: false},
		{name: "close rule outranks", shut: 5, keep: 1, wantClosed: true},
		{name: "tie goes to first rule", shut: 2, keep: 2, wantClosed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t, fmt.Sprintf(conflictingRulesYAML, tc.shut, tc.keep))
			p1 := mustLink(t, s, "P1")
			openHyd(t, s, model.NoSave)

			closedAt := int64(-1)
			runHydraulics(t, s, func(res StepResult) {
				if closedAt < 0 && s.hyd.status[p1].IsClosed() {
					closedAt = res.Time
				}
			})
			if tc.wantClosed && closedAt != 3600 {
				t.Fatalf("P1 closed at %d s, want 3600", closedAt)
			}
			if !tc.wantClosed && closedAt >= 0 {
				t.Fatalf("P1 closed at %d s, want it open", closedAt)
			}
		})
	}
}

func TestRuleElseBranchAndOrLogic(t *testing.T) {
	s := newSession(t, `
options:
  units: cfs
times:
  duration: "3:00"
  hydraulic_step: "1:00"
junctions:
  - {id: J1, elevation: 0, demand: 2}
reservoirs:
  - {id: R1, head: 100}
  - {id: R2, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
  - {id: P2, from: R2, to: J1, length: 1000, diameter: 12, roughness: 100, status: closed}
rules:
  - id: swap
    if:
      - {object: system, variable: time, op: "<", value: 2}
      - {logic: or, object: junction, id: J1, variable: pressure, op: "<", value: -100}
    then: [{link: P2, status: closed}]
    else: [{link: P2, status: open}]
`)
	p2 := mustLink(t, s, "P2")
	openHyd(t, s, model.NoSave)

	openAt := int64(-1)
	runHydraulics(t, s, func(res StepResult) {
		if openAt < 0 && !s.hyd.status[p2].IsClosed() {
			openAt = res.Time
		}
	})
	// The time premise stops holding at the first rule step after 2:00.
	if want := int64(7200 + s.net.Times.RuleStep); openAt != want {
		t.Fatalf("P2 opened at %d s, want %d", openAt, want)
	}
}

func TestTankLevelControlStopsFilling(t *testing.T) {
	s := newSession(t, fillingTankYAML+`
controls:
  - {link: P1, status: closed, type: above, node: T1, value: 15}
`)
	t1 := mustNode(t, s, "T1")
	p1 := mustLink(t, s, "P1")
	openHyd(t, s, model.NoSave)

	var times []int64
	runHydraulics(t, s, func(res StepResult) { times = append(times, res.Time) })

	if len(times) < 3 || times[1] >= 24*3600 {
		t.Fatalf("step times %v, want a step cut short by the level control", times)
	}
	level, err := s.NodeValue(t1, model.NodeHead)
	if err != nil {
		t.Fatalf("NodeValue error: %v", err)
	}
	if got := float64(level) - 100; math.Abs(got-15) > 0.01 {
		t.Fatalf("tank level = %v, want 15", got)
	}
	if !s.hyd.status[p1].IsClosed() {
		t.Fatalf("P1 status = %v, want closed", s.hyd.status[p1])
	}
}

func TestControlTimeStepFindsTankCrossing(t *testing.T) {
	s := newSession(t, fillingTankYAML+`
controls:
  - {link: P1, status: closed, type: above, node: T1, value: 15}
`)
	t1 := mustNode(t, s, "T1")
	openHyd(t, s, model.NoSave)
	if _, err := s.RunH(context.Background()); err != nil {
		t.Fatalf("RunH error: %v", err)
	}
	h := s.hyd
	node := s.net.Nodes[t1]
	want := int64(math.Round((s.net.TankVolume(node, 115) - h.volume[t1]) / h.demand[t1]))
	if got := h.controlTimeStep(0, 24*3600); got != want {
		t.Fatalf("controlTimeStep = %d, want %d", got, want)
	}
	if got := h.controlTimeStep(0, want-1); got != want-1 {
		t.Fatalf("controlTimeStep with a shorter step = %d, want %d", got, want-1)
	}
}

// Package kb is the network knowledge base: ordered storage of the nodes,
// links, patterns, curves, controls and rules of one pipe network together
// with id lookup, structural validation and derived tank and pump terms.
//
// All stored values are in internal units (feet, cubic feet per second,
// seconds). Conversion to and from user units happens at the edges.
package kb

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

var (
	ErrDuplicateID       = errors.New("duplicate id")
	ErrEmptyID           = errors.New("empty id")
	ErrUnknownNode       = errors.New("undefined node")
	ErrUnknownLink       = errors.New("undefined link")
	ErrUnknownPattern    = errors.New("undefined time pattern")
	ErrUnknownCurve      = errors.New("undefined curve")
	ErrUnknownControl    = errors.New("nonexistent control")
	ErrInvalidValue      = errors.New("illegal numeric value")
	ErrSameEndpoints     = errors.New("link has same start and end nodes")
	ErrBadCurve          = errors.New("curve has nonincreasing x-values")
	ErrTankLevels        = errors.New("invalid tank levels")
	ErrNoPumpCurve       = errors.New("no head curve supplied for pump")
	ErrBadPumpCurve      = errors.New("invalid head curve for pump")
	ErrValveConnection   = errors.New("illegal valve connection to tank node")
	ErrValveToValve      = errors.New("illegal valve connection to another valve")
	ErrControlCV         = errors.New("attempt to control a check valve")
	ErrNoFixedGrade      = errors.New("no tanks or reservoirs in network")
	ErrTooFewNodes       = errors.New("not enough nodes in network")
	ErrInvalidOptions    = errors.New("illegal analysis option")
	ErrUnconnectedNode   = errors.New("network has unconnected node")
	ErrUnknownTraceNode  = errors.New("undefined trace node")
	ErrDemandCategory    = errors.New("nonexistent demand category")
	ErrNotATank          = errors.New("node is not a tank")
	ErrEmptyPatternCurve = errors.New("pattern or curve has no values")
)

// validate is the singleton struct-tag validator for options and times.
var validate = validator.New()

// EventType indicates what kind of change happened in the network.
type EventType int

const (
	EventPatternChanged EventType = iota
	EventCurveChanged
	EventTankChanged
	EventPumpChanged
)

// Event is emitted to subscribers after a mutation.
type Event struct {
	Type  EventType
	Index int
}

// Network owns every entity of one pipe network. Index order is insertion
// order and never changes once the network is open.
type Network struct {
	Nodes    []*model.Node
	Links    []*model.Link
	Patterns []*model.Pattern
	Curves   []*model.Curve
	Controls []model.Control
	Rules    []model.Rule

	Options model.Options
	Times   model.Times
	Title   string

	nodeIdx    map[string]int
	linkIdx    map[string]int
	patternIdx map[string]int
	curveIdx   map[string]int
	ruleIdx    map[string]int

	subs []func(Event)
}

// NewNetwork constructs an empty network with default options and times.
func NewNetwork() *Network {
	return &Network{
		Options:    model.DefaultOptions(),
		Times:      model.DefaultTimes(),
		nodeIdx:    make(map[string]int),
		linkIdx:    make(map[string]int),
		patternIdx: make(map[string]int),
		curveIdx:   make(map[string]int),
		ruleIdx:    make(map[string]int),
	}
}

// AddNode appends a node and returns its index.
func (n *Network) AddNode(node *model.Node) (int, error) {
	if node == nil || node.ID == "" {
		return model.NoIndex, fmt.Errorf("node: %w", ErrEmptyID)
	}
	if _, exists := n.nodeIdx[node.ID]; exists {
		return model.NoIndex, fmt.Errorf("node %q: %w", node.ID, ErrDuplicateID)
	}
	if node.Kind != model.Junction && node.Storage == nil {
		node.Storage = &model.TankParams{VolumeCurve: model.NoIndex, HeadPattern: model.NoIndex}
	}
	n.nodeIdx[node.ID] = len(n.Nodes)
	n.Nodes = append(n.Nodes, node)
	return len(n.Nodes) - 1, nil
}

// AddLink appends a link whose endpoints must already exist.
func (n *Network) AddLink(link *model.Link) (int, error) {
	if link == nil || link.ID == "" {
		return model.NoIndex, fmt.Errorf("link: %w", ErrEmptyID)
	}
	if _, exists := n.linkIdx[link.ID]; exists {
		return model.NoIndex, fmt.Errorf("link %q: %w", link.ID, ErrDuplicateID)
	}
	if !n.validNode(link.From) || !n.validNode(link.To) {
		return model.NoIndex, fmt.Errorf("link %q: %w", link.ID, ErrUnknownNode)
	}
	if link.From == link.To {
		return model.NoIndex, fmt.Errorf("link %q: %w", link.ID, ErrSameEndpoints)
	}
	if link.Kind == model.Pump && link.Pump == nil {
		link.Pump = &model.PumpParams{
			HeadCurve:    model.NoIndex,
			SpeedPattern: model.NoIndex,
			EffCurve:     model.NoIndex,
			PricePattern: model.NoIndex,
		}
		if link.InitSetting == 0 {
			link.InitSetting = 1
		}
	}
	n.linkIdx[link.ID] = len(n.Links)
	n.Links = append(n.Links, link)
	return len(n.Links) - 1, nil
}

// AddPattern appends a pattern. A pattern with no factors gets a single
// multiplier of 1.
func (n *Network) AddPattern(id string, factors []float64) (int, error) {
	if id == "" {
		return model.NoIndex, fmt.Errorf("pattern: %w", ErrEmptyID)
	}
	if _, exists := n.patternIdx[id]; exists {
		return model.NoIndex, fmt.Errorf("pattern %q: %w", id, ErrDuplicateID)
	}
	f := append([]float64(nil), factors...)
	if len(f) == 0 {
		f = []float64{1}
	}
	n.patternIdx[id] = len(n.Patterns)
	n.Patterns = append(n.Patterns, &model.Pattern{ID: id, Factors: f})
	return len(n.Patterns) - 1, nil
}

// AddCurve appends a curve. A curve with no points gets the single point
// (1, 1).
func (n *Network) AddCurve(id string, kind model.CurveKind, x, y []float64) (int, error) {
	if id == "" {
		return model.NoIndex, fmt.Errorf("curve: %w", ErrEmptyID)
	}
	if _, exists := n.curveIdx[id]; exists {
		return model.NoIndex, fmt.Errorf("curve %q: %w", id, ErrDuplicateID)
	}
	c := &model.Curve{ID: id, Kind: kind}
	if len(x) == 0 {
		c.X, c.Y = []float64{1}, []float64{1}
	} else if err := setCurvePoints(c, x, y); err != nil {
		return model.NoIndex, fmt.Errorf("curve %q: %w", id, err)
	}
	n.curveIdx[id] = len(n.Curves)
	n.Curves = append(n.Curves, c)
	return len(n.Curves) - 1, nil
}

// AddControl appends a simple control after checking its references.
func (n *Network) AddControl(c model.Control) (int, error) {
	if err := n.checkControl(c); err != nil {
		return model.NoIndex, err
	}
	n.Controls = append(n.Controls, c)
	return len(n.Controls) - 1, nil
}

// SetControl replaces the control at index i.
func (n *Network) SetControl(i int, c model.Control) error {
	if i < 0 || i >= len(n.Controls) {
		return fmt.Errorf("control %d: %w", i, ErrUnknownControl)
	}
	if err := n.checkControl(c); err != nil {
		return err
	}
	n.Controls[i] = c
	return nil
}

func (n *Network) checkControl(c model.Control) error {
	if !n.validLink(c.Link) {
		return fmt.Errorf("control: %w", ErrUnknownLink)
	}
	if n.Links[c.Link].Kind == model.CVPipe {
		return fmt.Errorf("control on %q: %w", n.Links[c.Link].ID, ErrControlCV)
	}
	switch c.Type {
	case model.ControlLowLevel, model.ControlHiLevel:
		if !n.validNode(c.Node) {
			return fmt.Errorf("control: %w", ErrUnknownNode)
		}
	case model.ControlTimer, model.ControlTimeOfDay:
		if c.Time < 0 {
			return fmt.Errorf("control time: %w", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("control type %d: %w", c.Type, ErrInvalidValue)
	}
	return nil
}

// AddRule appends a rule after checking premise and action references.
func (n *Network) AddRule(r model.Rule) (int, error) {
	if r.ID == "" {
		return model.NoIndex, fmt.Errorf("rule: %w", ErrEmptyID)
	}
	if _, exists := n.ruleIdx[r.ID]; exists {
		return model.NoIndex, fmt.Errorf("rule %q: %w", r.ID, ErrDuplicateID)
	}
	for _, p := range r.Premises {
		switch p.Object {
		case model.ObjectNode:
			if !n.validNode(p.Index) {
				return model.NoIndex, fmt.Errorf("rule %q: %w", r.ID, ErrUnknownNode)
			}
		case model.ObjectLink:
			if !n.validLink(p.Index) {
				return model.NoIndex, fmt.Errorf("rule %q: %w", r.ID, ErrUnknownLink)
			}
		}
	}
	for _, acts := range [][]model.Action{r.Then, r.Else} {
		for _, a := range acts {
			if !n.validLink(a.Link) {
				return model.NoIndex, fmt.Errorf("rule %q: %w", r.ID, ErrUnknownLink)
			}
		}
	}
	n.ruleIdx[r.ID] = len(n.Rules)
	n.Rules = append(n.Rules, r)
	return len(n.Rules) - 1, nil
}

// NodeIndex returns the index of the node with the given id.
func (n *Network) NodeIndex(id string) (int, error) {
	if i, ok := n.nodeIdx[id]; ok {
		return i, nil
	}
	return model.NoIndex, fmt.Errorf("node %q: %w", id, ErrUnknownNode)
}

// LinkIndex returns the index of the link with the given id.
func (n *Network) LinkIndex(id string) (int, error) {
	if i, ok := n.linkIdx[id]; ok {
		return i, nil
	}
	return model.NoIndex, fmt.Errorf("link %q: %w", id, ErrUnknownLink)
}

// PatternIndex returns the index of the pattern with the given id.
func (n *Network) PatternIndex(id string) (int, error) {
	if i, ok := n.patternIdx[id]; ok {
		return i, nil
	}
	return model.NoIndex, fmt.Errorf("pattern %q: %w", id, ErrUnknownPattern)
}

// CurveIndex returns the index of the curve with the given id.
func (n *Network) CurveIndex(id string) (int, error) {
	if i, ok := n.curveIdx[id]; ok {
		return i, nil
	}
	return model.NoIndex, fmt.Errorf("curve %q: %w", id, ErrUnknownCurve)
}

// Node returns the node at index i.
func (n *Network) Node(i int) (*model.Node, error) {
	if !n.validNode(i) {
		return nil, fmt.Errorf("node %d: %w", i, ErrUnknownNode)
	}
	return n.Nodes[i], nil
}

// Link returns the link at index i.
func (n *Network) Link(i int) (*model.Link, error) {
	if !n.validLink(i) {
		return nil, fmt.Errorf("link %d: %w", i, ErrUnknownLink)
	}
	return n.Links[i], nil
}

// Pattern returns the pattern at index i.
func (n *Network) Pattern(i int) (*model.Pattern, error) {
	if i < 0 || i >= len(n.Patterns) {
		return nil, fmt.Errorf("pattern %d: %w", i, ErrUnknownPattern)
	}
	return n.Patterns[i], nil
}

// Curve returns the curve at index i.
func (n *Network) Curve(i int) (*model.Curve, error) {
	if i < 0 || i >= len(n.Curves) {
		return nil, fmt.Errorf("curve %d: %w", i, ErrUnknownCurve)
	}
	return n.Curves[i], nil
}

// Count returns the number of components of the given type.
func (n *Network) Count(c model.CountType) (int, error) {
	switch c {
	case model.CountNodes:
		return len(n.Nodes), nil
	case model.CountTanks:
		tanks := 0
		for _, node := range n.Nodes {
			if node.IsFixedGrade() {
				tanks++
			}
		}
		return tanks, nil
	case model.CountLinks:
		return len(n.Links), nil
	case model.CountPatterns:
		return len(n.Patterns), nil
	case model.CountCurves:
		return len(n.Curves), nil
	case model.CountControls:
		return len(n.Controls), nil
	default:
		return 0, fmt.Errorf("count type %d: %w", c, ErrInvalidValue)
	}
}

// SetPattern replaces all multipliers of pattern i.
func (n *Network) SetPattern(i int, factors []float64) error {
	p, err := n.Pattern(i)
	if err != nil {
		return err
	}
	if len(factors) == 0 {
		return fmt.Errorf("pattern %q: %w", p.ID, ErrEmptyPatternCurve)
	}
	p.Factors = append(p.Factors[:0:0], factors...)
	n.notify(Event{Type: EventPatternChanged, Index: i})
	return nil
}

// SetPatternValue sets the multiplier of a single period (0-based).
func (n *Network) SetPatternValue(i, period int, v float64) error {
	p, err := n.Pattern(i)
	if err != nil {
		return err
	}
	if period < 0 || period >= len(p.Factors) {
		return fmt.Errorf("pattern %q period %d: %w", p.ID, period, ErrInvalidValue)
	}
	p.Factors[period] = v
	n.notify(Event{Type: EventPatternChanged, Index: i})
	return nil
}

// SetCurve replaces all points of curve i and re-derives the tanks and
// pumps that use it.
func (n *Network) SetCurve(i int, x, y []float64) error {
	c, err := n.Curve(i)
	if err != nil {
		return err
	}
	if len(x) == 0 {
		return fmt.Errorf("curve %q: %w", c.ID, ErrEmptyPatternCurve)
	}
	old := *c
	if err := setCurvePoints(c, x, y); err != nil {
		return fmt.Errorf("curve %q: %w", c.ID, err)
	}
	if err := n.rederiveCurveUsers(i); err != nil {
		*c = old
		_ = n.rederiveCurveUsers(i)
		return err
	}
	n.notify(Event{Type: EventCurveChanged, Index: i})
	return nil
}

func (n *Network) rederiveCurveUsers(ci int) error {
	for _, node := range n.Nodes {
		if node.Kind == model.Tank && node.Storage.VolumeCurve == ci {
			if err := n.DeriveTank(node); err != nil {
				return err
			}
		}
	}
	for _, link := range n.Links {
		if link.Kind == model.Pump && link.Pump.HeadCurve == ci {
			if err := n.DerivePump(link); err != nil {
				return err
			}
		}
	}
	return nil
}

func setCurvePoints(c *model.Curve, x, y []float64) error {
	if len(x) != len(y) {
		return ErrInvalidValue
	}
	for i := 1; i < len(x); i++ {
		if x[i] <= x[i-1] {
			return ErrBadCurve
		}
	}
	c.X = append([]float64(nil), x...)
	c.Y = append([]float64(nil), y...)
	return nil
}

// Subscribe registers a callback for network events. It returns an
// unsubscribe function.
func (n *Network) Subscribe(fn func(Event)) (unsubscribe func()) {
	n.subs = append(n.subs, fn)
	idx := len(n.subs) - 1
	return func() {
		if idx < 0 || idx >= len(n.subs) {
			return
		}
		n.subs[idx] = nil
		idx = -1
	}
}

// Notify publishes an event for a mutation made directly on an entity.
func (n *Network) Notify(e Event) { n.notify(e) }

func (n *Network) notify(e Event) {
	for _, sub := range n.subs {
		if sub != nil {
			sub(e)
		}
	}
}

func (n *Network) validNode(i int) bool { return i >= 0 && i < len(n.Nodes) }
func (n *Network) validLink(i int) bool { return i >= 0 && i < len(n.Links) }

// DeriveTank computes the head and volume bounds of a tank from its
// geometry. Reservoirs are left untouched.
func (n *Network) DeriveTank(node *model.Node) error {
	if node.Kind != model.Tank {
		return nil
	}
	t := node.Storage
	if t.MinLevel < 0 || t.MaxLevel < t.MinLevel || t.InitLevel < t.MinLevel || t.InitLevel > t.MaxLevel {
		return fmt.Errorf("tank %q: %w", node.ID, ErrTankLevels)
	}
	t.Hmin = node.Elevation + t.MinLevel
	t.Hmax = node.Elevation + t.MaxLevel
	t.H0 = node.Elevation + t.InitLevel
	if t.VolumeCurve != model.NoIndex {
		c, err := n.Curve(t.VolumeCurve)
		if err != nil {
			return fmt.Errorf("tank %q: %w", node.ID, err)
		}
		t.Vmin = c.Interpolate(t.MinLevel)
		t.Vmax = c.Interpolate(t.MaxLevel)
		t.V0 = c.Interpolate(t.InitLevel)
		if t.MaxLevel > t.MinLevel {
			t.Area = (t.Vmax - t.Vmin) / (t.MaxLevel - t.MinLevel)
		}
	} else {
		if t.Diameter <= 0 {
			return fmt.Errorf("tank %q diameter: %w", node.ID, ErrInvalidValue)
		}
		t.Area = math.Pi * t.Diameter * t.Diameter / 4
		t.Vmin = t.Area * t.MinLevel
		if t.MinVolume > 0 {
			t.Vmin = t.MinVolume
		}
		t.Vmax = t.Vmin + (t.MaxLevel-t.MinLevel)*t.Area
		t.V0 = t.Vmin + (t.InitLevel-t.MinLevel)*t.Area
	}
	if t.MixFraction <= 0 || t.MixFraction > 1 {
		t.MixFraction = 1
	}
	t.V1max = t.MixFraction * t.Vmax
	return nil
}

// TankVolume returns the volume of a tank whose water surface is at head h.
func (n *Network) TankVolume(node *model.Node, h float64) float64 {
	t := node.Storage
	if t.VolumeCurve != model.NoIndex && t.VolumeCurve < len(n.Curves) {
		return n.Curves[t.VolumeCurve].Interpolate(h - node.Elevation)
	}
	return t.Vmin + (h-t.Hmin)*t.Area
}

// TankGrade returns the head of a tank holding volume v.
func (n *Network) TankGrade(node *model.Node, v float64) float64 {
	t := node.Storage
	if t.VolumeCurve != model.NoIndex && t.VolumeCurve < len(n.Curves) {
		return node.Elevation + n.Curves[t.VolumeCurve].Inverse(v)
	}
	if t.Area == 0 {
		return t.Hmin
	}
	return t.Hmin + (v-t.Vmin)/t.Area
}

// DerivePump fits the head curve coefficients of a pump. Head gain is
// H0 - R*q^N for power-function curves; custom curves are linearized per
// iteration by the solver.
func (n *Network) DerivePump(link *model.Link) error {
	p := link.Pump
	if p.HeadCurve == model.NoIndex {
		if p.Power <= 0 {
			return fmt.Errorf("pump %q: %w", link.ID, ErrNoPumpCurve)
		}
		p.CurveKind = model.PumpConstHP
		p.H0, p.R, p.N = 0, -8.814*p.Power, -1
		p.Qmax, p.Hmax, p.Q0 = math.Inf(1), math.Inf(1), 1
		return nil
	}
	c, err := n.Curve(p.HeadCurve)
	if err != nil {
		return fmt.Errorf("pump %q: %w", link.ID, err)
	}
	switch {
	case c.Len() == 1:
		q1, h1 := c.X[0], c.Y[0]
		if q1 <= 0 || h1 <= 0 {
			return fmt.Errorf("pump %q: %w", link.ID, ErrBadPumpCurve)
		}
		p.CurveKind = model.PumpPowerFunc
		p.H0 = 4.0 / 3.0 * h1
		p.R = (p.H0 - h1) / (q1 * q1)
		p.N = 2
		p.Q0 = q1
		p.Qmax = math.Sqrt(p.H0 / p.R)
		p.Hmax = p.H0
	case c.Len() == 3 && c.X[0] == 0:
		h0, h1, h2 := c.Y[0], c.Y[1], c.Y[2]
		q1, q2 := c.X[1], c.X[2]
		r, exp, ok := powerCurve(h0, h1, h2, q1, q2)
		if !ok {
			return fmt.Errorf("pump %q: %w", link.ID, ErrBadPumpCurve)
		}
		p.CurveKind = model.PumpPowerFunc
		p.H0, p.R, p.N = h0, r, exp
		p.Q0 = q1
		p.Qmax = math.Pow(h0/r, 1/exp)
		p.Hmax = h0
	default:
		for i := 1; i < c.Len(); i++ {
			if c.Y[i] >= c.Y[i-1] {
				return fmt.Errorf("pump %q: %w", link.ID, ErrBadPumpCurve)
			}
		}
		p.CurveKind = model.PumpCustom
		p.N = 1
		p.Q0 = (c.X[0] + c.X[c.Len()-1]) / 2
		p.Qmax = c.X[c.Len()-1]
		p.Hmax = c.Y[0]
		p.H0, p.R = c.Segment(p.Q0)
		p.R = -p.R
	}
	return nil
}

// powerCurve fits h = h0 - r*q^n through three points with q0 = 0.
func powerCurve(h0, h1, h2, q1, q2 float64) (r, exp float64, ok bool) {
	if h0 < 1e-6 || h0 <= h1 || h1 <= h2 || q1 <= 0 || q2 <= q1 {
		return 0, 0, false
	}
	h4 := h0 - h1
	h5 := h0 - h2
	exp = math.Log(h5/h4) / math.Log(q2/q1)
	if exp <= 0 || exp > 20 {
		return 0, 0, false
	}
	r = h4 / math.Pow(q1, exp)
	if r <= 0 {
		return 0, 0, false
	}
	return r, exp, true
}

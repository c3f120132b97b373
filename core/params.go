package core

import (
	"math"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// Accessor values are in the user units implied by the flow units option.
// Indices are 0-based and model.NoIndex marks an absent reference.

func (s *Session) units() units { return newUnits(&s.net.Options) }

func (s *Session) node(i int) (*model.Node, error) {
	if i < 0 || i >= len(s.net.Nodes) {
		return nil, errorf(ErrUndefinedNode.Code, "node %d", i)
	}
	return s.net.Nodes[i], nil
}

func (s *Session) link(k int) (*model.Link, error) {
	if k < 0 || k >= len(s.net.Links) {
		return nil, errorf(ErrUndefinedLink.Code, "link %d", k)
	}
	return s.net.Links[k], nil
}

func (s *Session) hydState() (*hydraulics, error) {
	if s.hyd == nil || (!s.hydInit && s.hyd.iterations == 0) {
		return nil, ErrNoHydraulics
	}
	return s.hyd, nil
}

func badParam(p any) error { return errorf(ErrInvalidParam.Code, "parameter %v", p) }

func boolReal(b bool) model.Real {
	if b {
		return 1
	}
	return 0
}

// Count returns the number of components of the given type.
func (s *Session) Count(c model.CountType) (int, error) {
	n, err := s.net.Count(c)
	if err != nil {
		return 0, errorf(ErrInvalidParam.Code, "count type %d", c)
	}
	return n, nil
}

// NodeIndex returns the index of the node with the given id.
func (s *Session) NodeIndex(id string) (int, error) {
	i, err := s.net.NodeIndex(id)
	return i, wrapKB(err)
}

// NodeID returns the id of node i.
func (s *Session) NodeID(i int) (string, error) {
	node, err := s.node(i)
	if err != nil {
		return "", err
	}
	return node.ID, nil
}

// NodeType returns the kind of node i.
func (s *Session) NodeType(i int) (model.NodeKind, error) {
	node, err := s.node(i)
	if err != nil {
		return 0, err
	}
	return node.Kind, nil
}

// LinkIndex returns the index of the link with the given id.
func (s *Session) LinkIndex(id string) (int, error) {
	k, err := s.net.LinkIndex(id)
	return k, wrapKB(err)
}

// LinkID returns the id of link k.
func (s *Session) LinkID(k int) (string, error) {
	l, err := s.link(k)
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

// LinkType returns the kind of link k.
func (s *Session) LinkType(k int) (model.LinkKind, error) {
	l, err := s.link(k)
	if err != nil {
		return 0, err
	}
	return l.Kind, nil
}

// LinkNodes returns the nominal start and end nodes of link k.
func (s *Session) LinkNodes(k int) (from, to int, err error) {
	l, err := s.link(k)
	if err != nil {
		return 0, 0, err
	}
	return l.From, l.To, nil
}

// PatternIndex returns the index of the pattern with the given id.
func (s *Session) PatternIndex(id string) (int, error) {
	i, err := s.net.PatternIndex(id)
	return i, wrapKB(err)
}

// PatternID returns the id of pattern i.
func (s *Session) PatternID(i int) (string, error) {
	p, err := s.net.Pattern(i)
	if err != nil {
		return "", wrapKB(err)
	}
	return p.ID, nil
}

// CurveIndex returns the index of the curve with the given id.
func (s *Session) CurveIndex(id string) (int, error) {
	i, err := s.net.CurveIndex(id)
	return i, wrapKB(err)
}

// CurveID returns the id of curve i.
func (s *Session) CurveID(i int) (string, error) {
	c, err := s.net.Curve(i)
	if err != nil {
		return "", wrapKB(err)
	}
	return c.ID, nil
}

// FlowUnits returns the flow units used by the accessors.
func (s *Session) FlowUnits() model.FlowUnits { return s.net.Options.Units }

// NodeValue returns parameter p of node i.
func (s *Session) NodeValue(i int, p model.NodeParam) (model.Real, error) {
	node, err := s.node(i)
	if err != nil {
		return 0, err
	}
	u := s.units()
	switch p {
	case model.NodeElevation:
		return model.Real(u.out(qElev, node.Elevation)), nil
	case model.NodeBaseDemand:
		if len(node.Demands) == 0 {
			return 0, nil
		}
		return model.Real(u.out(qDemand, node.Demands[0].Base)), nil
	case model.NodePattern:
		if node.Kind == model.Reservoir {
			return model.Real(node.Storage.HeadPattern), nil
		}
		if len(node.Demands) == 0 {
			return model.NoIndex, nil
		}
		return model.Real(node.Demands[0].Pattern), nil
	case model.NodeEmitter:
		return model.Real(u.emitterOut(node.Emitter, s.net.Options.EmitterExponent)), nil
	case model.NodeInitQual:
		return model.Real(u.out(qQuality, node.InitQual)), nil
	case model.NodeSourceQual, model.NodeSourcePat, model.NodeSourceType, model.NodeSourceMass:
		return s.sourceValue(node, p, u)
	case model.NodeDemand, model.NodeHead, model.NodePressure:
		h, err := s.hydState()
		if err != nil {
			return 0, err
		}
		switch p {
		case model.NodeDemand:
			return model.Real(u.out(qDemand, h.demand[i])), nil
		case model.NodeHead:
			return model.Real(u.out(qHead, h.head[i])), nil
		default:
			return model.Real(u.out(qPressure, h.head[i]-node.Elevation)), nil
		}
	case model.NodeQuality:
		if s.qual == nil {
			return 0, ErrQualNotInitialized
		}
		return model.Real(u.out(qQuality, s.qual.c[i])), nil
	}
	if node.Kind != model.Tank {
		return 0, errorf(ErrInvalidParam.Code, "parameter %d needs a tank, node %q is a %s", p, node.ID, node.Kind)
	}
	t := node.Storage
	switch p {
	case model.NodeTankLevel:
		return model.Real(u.out(qElev, t.InitLevel)), nil
	case model.NodeInitVolume:
		return model.Real(u.out(qVolume, t.V0)), nil
	case model.NodeMixModel:
		return model.Real(t.MixModel), nil
	case model.NodeMixZoneVol:
		return model.Real(u.out(qVolume, t.V1max)), nil
	case model.NodeTankDiam:
		return model.Real(u.out(qElev, t.Diameter)), nil
	case model.NodeMinVolume:
		return model.Real(u.out(qVolume, t.Vmin)), nil
	case model.NodeVolCurve:
		return model.Real(t.VolumeCurve), nil
	case model.NodeMinLevel:
		return model.Real(u.out(qElev, t.MinLevel)), nil
	case model.NodeMaxLevel:
		return model.Real(u.out(qElev, t.MaxLevel)), nil
	case model.NodeMixFraction:
		return model.Real(t.MixFraction), nil
	case model.NodeTankKbulk:
		return model.Real(t.Kb * secPerDay), nil
	case model.NodeTankVolume:
		if s.hyd == nil {
			return model.Real(u.out(qVolume, t.V0)), nil
		}
		return model.Real(u.out(qVolume, s.hyd.volume[i])), nil
	case model.NodeMaxVolume:
		return model.Real(u.out(qVolume, t.Vmax)), nil
	}
	return 0, badParam(p)
}

func (s *Session) sourceValue(node *model.Node, p model.NodeParam, u units) (model.Real, error) {
	src := node.Source
	if src == nil {
		return 0, errorf(ErrNoSource.Code, "node %q", node.ID)
	}
	switch p {
	case model.NodeSourceQual:
		return model.Real(u.sourceOut(src.Type, src.Strength)), nil
	case model.NodeSourcePat:
		return model.Real(src.Pattern), nil
	case model.NodeSourceType:
		return model.Real(src.Type), nil
	default:
		return model.Real(src.MassRate * 60), nil
	}
}

// SetNodeValue sets input parameter p of node i.
func (s *Session) SetNodeValue(i int, p model.NodeParam, v model.Real) error {
	node, err := s.node(i)
	if err != nil {
		return err
	}
	u := s.units()
	x := float64(v)
	switch p {
	case model.NodeElevation:
		node.Elevation = u.in(qElev, x)
		if node.Kind == model.Tank {
			return s.rederiveTank(i, false)
		}
		return nil
	case model.NodeBaseDemand:
		if node.Kind != model.Junction {
			return badParam(p)
		}
		node.PrimaryDemand().Base = u.in(qDemand, x)
		return nil
	case model.NodePattern:
		pat, err := s.patternRef(x)
		if err != nil {
			return err
		}
		switch node.Kind {
		case model.Reservoir:
			node.Storage.HeadPattern = pat
		case model.Junction:
			node.PrimaryDemand().Pattern = pat
		default:
			return badParam(p)
		}
		return nil
	case model.NodeEmitter:
		if node.Kind != model.Junction || x < 0 {
			return errorf(ErrInvalidValue.Code, "emitter %g", x)
		}
		node.Emitter = u.emitterIn(x, s.net.Options.EmitterExponent)
		return nil
	case model.NodeInitQual:
		if x < 0 {
			return errorf(ErrInvalidValue.Code, "initial quality %g", x)
		}
		node.InitQual = u.in(qQuality, x)
		return nil
	case model.NodeSourceQual, model.NodeSourcePat, model.NodeSourceType:
		return s.setSource(node, p, x, u)
	}
	if node.Kind != model.Tank {
		return errorf(ErrInvalidParam.Code, "parameter %d needs a tank, node %q is a %s", p, node.ID, node.Kind)
	}
	t := node.Storage
	old := *t
	switch p {
	case model.NodeTankLevel:
		t.InitLevel = u.in(qElev, x)
		if err := s.net.DeriveTank(node); err != nil {
			*t = old
			return wrapKB(err)
		}
		return s.rederiveTank(i, true)
	case model.NodeTankDiam:
		if x <= 0 {
			return errorf(ErrInvalidValue.Code, "tank diameter %g", x)
		}
		t.Diameter = u.in(qElev, x)
	case model.NodeMinVolume:
		if x < 0 {
			return errorf(ErrInvalidValue.Code, "tank minimum volume %g", x)
		}
		t.MinVolume = u.in(qVolume, x)
	case model.NodeVolCurve:
		c := int(x)
		if c != model.NoIndex {
			if _, err := s.net.Curve(c); err != nil {
				return wrapKB(err)
			}
		}
		t.VolumeCurve = c
	case model.NodeMinLevel:
		t.MinLevel = u.in(qElev, x)
	case model.NodeMaxLevel:
		t.MaxLevel = u.in(qElev, x)
	case model.NodeMixModel:
		m := model.MixModel(x)
		if m < model.MixFull || m > model.MixLIFO {
			return errorf(ErrInvalidValue.Code, "mixing model %g", x)
		}
		t.MixModel = m
		return nil
	case model.NodeMixFraction:
		if x < 0 || x > 1 {
			return errorf(ErrInvalidValue.Code, "mixing fraction %g", x)
		}
		t.MixFraction = x
	case model.NodeTankKbulk:
		t.Kb = x / secPerDay
		return nil
	default:
		return badParam(p)
	}
	if err := s.net.DeriveTank(node); err != nil {
		*t = old
		return wrapKB(err)
	}
	return s.rederiveTank(i, false)
}

// rederiveTank refreshes an open solver after a tank's geometry changed.
// With reset the tank returns to its initial level.
func (s *Session) rederiveTank(i int, reset bool) error {
	node := s.net.Nodes[i]
	if err := s.net.DeriveTank(node); err != nil {
		return wrapKB(err)
	}
	if s.hyd == nil || !s.hydOpen {
		return nil
	}
	t := node.Storage
	if reset {
		s.hyd.head[i], s.hyd.volume[i] = t.H0, t.V0
		return nil
	}
	s.hyd.head[i] = math.Min(math.Max(s.hyd.head[i], t.Hmin), t.Hmax)
	s.hyd.volume[i] = s.net.TankVolume(node, s.hyd.head[i])
	return nil
}

func (s *Session) setSource(node *model.Node, p model.NodeParam, x float64, u units) error {
	src := node.Source
	if src == nil {
		src = &model.Source{Type: model.SourceConcen, Pattern: model.NoIndex}
	}
	switch p {
	case model.NodeSourceQual:
		if x < 0 {
			return errorf(ErrInvalidValue.Code, "source strength %g", x)
		}
		src.Strength = u.sourceIn(src.Type, x)
	case model.NodeSourcePat:
		pat, err := s.patternRef(x)
		if err != nil {
			return err
		}
		src.Pattern = pat
	case model.NodeSourceType:
		t := model.SourceType(x)
		if t < model.SourceConcen || t > model.SourceFlowPaced {
			return errorf(ErrInvalidValue.Code, "source type %g", x)
		}
		user := u.sourceOut(src.Type, src.Strength)
		src.Type = t
		src.Strength = u.sourceIn(t, user)
	}
	node.Source = src
	return nil
}

func (s *Session) patternRef(x float64) (int, error) {
	pat := int(x)
	if pat == model.NoIndex {
		return pat, nil
	}
	if _, err := s.net.Pattern(pat); err != nil {
		return 0, wrapKB(err)
	}
	return pat, nil
}

// LinkValue returns parameter p of link k.
func (s *Session) LinkValue(k int, p model.LinkParam) (model.Real, error) {
	l, err := s.link(k)
	if err != nil {
		return 0, err
	}
	u := s.units()
	opts := &s.net.Options
	switch p {
	case model.LinkDiameter:
		return model.Real(u.out(qDiam, l.Diameter)), nil
	case model.LinkLength:
		return model.Real(u.out(qLength, l.Length)), nil
	case model.LinkRoughness:
		return model.Real(u.roughnessOut(opts.Headloss, l.Roughness)), nil
	case model.LinkMinorLoss:
		return model.Real(l.MinorLoss), nil
	case model.LinkInitStatus:
		return boolReal(!l.InitStatus.IsClosed()), nil
	case model.LinkInitSetting:
		return model.Real(s.settingOut(l, l.InitSetting, u)), nil
	case model.LinkKbulk:
		return model.Real(l.Kb * secPerDay), nil
	case model.LinkKwall:
		return model.Real(u.wallOut(opts.Quality.WallOrder, l.Kw)), nil
	case model.LinkPattern:
		if l.Kind != model.Pump {
			return 0, badParam(p)
		}
		return model.Real(l.Pump.SpeedPattern), nil
	case model.LinkQuality:
		if s.qual == nil {
			return 0, ErrQualNotInitialized
		}
		return model.Real(u.out(qQuality, s.qual.linkQual(k))), nil
	}
	h, err := s.hydState()
	if err != nil {
		return 0, err
	}
	switch p {
	case model.LinkFlow:
		if h.status[k].IsClosed() {
			return 0, nil
		}
		return model.Real(u.out(qFlow, h.flow[k])), nil
	case model.LinkVelocity:
		if h.status[k].IsClosed() {
			return 0, nil
		}
		return model.Real(u.out(qVelocity, h.velocity(k))), nil
	case model.LinkHeadloss:
		return model.Real(u.out(qHeadloss, h.headloss(k))), nil
	case model.LinkStatusCode:
		return boolReal(!h.status[k].IsClosed()), nil
	case model.LinkSetting:
		return model.Real(s.settingOut(l, h.setting[k], u)), nil
	case model.LinkEnergy:
		kw, _ := h.linkEnergy(k)
		return model.Real(kw), nil
	}
	return 0, badParam(p)
}

// settingOut returns a link setting in user units: roughness for pipes,
// relative speed for pumps, curve index for GPVs.
func (s *Session) settingOut(l *model.Link, v float64, u units) float64 {
	switch {
	case l.Kind <= model.Pipe:
		return u.roughnessOut(s.net.Options.Headloss, l.Roughness)
	case model.IsMissing(v):
		return v
	}
	return u.settingOut(l.Kind, v)
}

// SetLinkValue sets parameter p of link k. Status and setting act on the
// running solver when hydraulics are open and on the initial values
// otherwise.
func (s *Session) SetLinkValue(k int, p model.LinkParam, v model.Real) error {
	l, err := s.link(k)
	if err != nil {
		return err
	}
	u := s.units()
	opts := &s.net.Options
	x := float64(v)
	switch p {
	case model.LinkDiameter:
		if l.Kind == model.Pump || x <= 0 {
			return errorf(ErrInvalidValue.Code, "diameter %g", x)
		}
		l.Diameter = u.in(qDiam, x)
	case model.LinkLength:
		if l.Kind > model.Pipe || x <= 0 {
			return errorf(ErrInvalidValue.Code, "length %g", x)
		}
		l.Length = u.in(qLength, x)
	case model.LinkRoughness:
		if l.Kind > model.Pipe || x <= 0 {
			return errorf(ErrInvalidValue.Code, "roughness %g", x)
		}
		l.Roughness = u.roughnessIn(opts.Headloss, x)
	case model.LinkMinorLoss:
		if l.Kind == model.Pump || x < 0 {
			return errorf(ErrInvalidValue.Code, "minor loss %g", x)
		}
		l.MinorLoss = x
	case model.LinkKbulk:
		l.Kb = x / secPerDay
		return nil
	case model.LinkKwall:
		l.Kw = u.wallIn(opts.Quality.WallOrder, x)
		return nil
	case model.LinkPattern:
		if l.Kind != model.Pump {
			return badParam(p)
		}
		pat, err := s.patternRef(x)
		if err != nil {
			return err
		}
		l.Pump.SpeedPattern = pat
		return nil
	case model.LinkInitStatus:
		return s.setInitStatus(l, x)
	case model.LinkInitSetting:
		return s.setInitSetting(l, x, u)
	case model.LinkStatusCode:
		if !s.hydOpen {
			return s.setInitStatus(l, x)
		}
		if l.Kind == model.CVPipe {
			return errorf(ErrControlCV.Code, "link %q", l.ID)
		}
		s.hyd.setLinkStatus(k, x != 0)
		return nil
	case model.LinkSetting:
		if !s.hydOpen || l.Kind <= model.Pipe {
			return s.setInitSetting(l, x, u)
		}
		if l.Kind == model.GPV {
			return badParam(p)
		}
		if x < 0 && l.Kind != model.PBV {
			return errorf(ErrInvalidValue.Code, "setting %g", x)
		}
		s.hyd.setLinkSetting(k, s.hyd.settingIn(k, x))
		return nil
	default:
		return badParam(p)
	}
	s.derivePipe(l)
	return nil
}

// derivePipe recomputes the resistance terms of a link after its
// geometry changed.
func (s *Session) derivePipe(l *model.Link) {
	l.KmFactor = minorLossFactor(l.MinorLoss, l.Diameter)
	if l.Kind <= model.Pipe {
		l.Resistance = pipeResistance(s.net.Options.Headloss, l)
	}
}

func (s *Session) setInitStatus(l *model.Link, x float64) error {
	if l.Kind == model.CVPipe {
		return errorf(ErrControlCV.Code, "link %q", l.ID)
	}
	if x != 0 && x != 1 {
		return errorf(ErrInvalidValue.Code, "status %g", x)
	}
	open := x == 1
	l.InitStatus = model.StatusClosed
	if open {
		l.InitStatus = model.StatusOpen
	}
	switch {
	case l.Kind == model.Pump:
		l.InitSetting = boolReal64(open)
	case l.Kind.IsValve() && l.Kind != model.GPV && l.Kind != model.TCV && l.Kind != model.PBV:
		l.InitSetting = model.Missing
	}
	return nil
}

func boolReal64(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (s *Session) setInitSetting(l *model.Link, x float64, u units) error {
	switch {
	case l.Kind <= model.Pipe:
		if x <= 0 {
			return errorf(ErrInvalidValue.Code, "roughness %g", x)
		}
		l.Roughness = u.roughnessIn(s.net.Options.Headloss, x)
		s.derivePipe(l)
	case l.Kind == model.Pump:
		if x < 0 {
			return errorf(ErrInvalidValue.Code, "pump speed %g", x)
		}
		l.InitSetting = x
		l.InitStatus = model.StatusOpen
		if x == 0 {
			l.InitStatus = model.StatusClosed
		}
	case l.Kind == model.GPV:
		return errorf(ErrInvalidParam.Code, "valve %q setting is a curve", l.ID)
	default:
		if x < 0 && l.Kind != model.PBV {
			return errorf(ErrInvalidValue.Code, "valve setting %g", x)
		}
		l.InitSetting = u.settingIn(l.Kind, x)
		l.InitStatus = model.StatusActive
	}
	return nil
}

// DemandCount returns the number of demand categories of node i.
func (s *Session) DemandCount(i int) (int, error) {
	node, err := s.node(i)
	if err != nil {
		return 0, err
	}
	return len(node.Demands), nil
}

func (s *Session) demand(i, cat int) (*model.Demand, error) {
	node, err := s.node(i)
	if err != nil {
		return nil, err
	}
	if cat < 0 || cat >= len(node.Demands) {
		return nil, errorf(ErrNoDemandCategory.Code, "node %q category %d", node.ID, cat)
	}
	return &node.Demands[cat], nil
}

// BaseDemand returns the base demand of category cat at node i.
func (s *Session) BaseDemand(i, cat int) (model.Real, error) {
	d, err := s.demand(i, cat)
	if err != nil {
		return 0, err
	}
	return model.Real(s.units().out(qDemand, d.Base)), nil
}

// SetBaseDemand sets the base demand of category cat at node i.
func (s *Session) SetBaseDemand(i, cat int, v model.Real) error {
	d, err := s.demand(i, cat)
	if err != nil {
		return err
	}
	d.Base = s.units().in(qDemand, float64(v))
	return nil
}

// DemandPattern returns the pattern of category cat at node i.
func (s *Session) DemandPattern(i, cat int) (int, error) {
	d, err := s.demand(i, cat)
	if err != nil {
		return 0, err
	}
	return d.Pattern, nil
}

// SetDemandPattern sets the pattern of category cat at node i.
func (s *Session) SetDemandPattern(i, cat, pattern int) error {
	d, err := s.demand(i, cat)
	if err != nil {
		return err
	}
	pat, err := s.patternRef(float64(pattern))
	if err != nil {
		return err
	}
	d.Pattern = pat
	return nil
}

// ControlSpec is a simple control in user units. Setting is model.Missing
// for controls that only open or close their link. Level is a tank level
// or junction pressure; Time is in seconds.
type ControlSpec struct {
	Type    model.ControlType
	Link    int
	Status  model.LinkStatus
	Setting model.Real
	Node    int
	Level   model.Real
	Time    int64
}

// Control returns simple control i.
func (s *Session) Control(i int) (ControlSpec, error) {
	if i < 0 || i >= len(s.net.Controls) {
		return ControlSpec{}, errorf(ErrNoControl.Code, "control %d", i)
	}
	c := s.net.Controls[i]
	u := s.units()
	cs := ControlSpec{
		Type:    c.Type,
		Link:    c.Link,
		Status:  c.Status,
		Setting: model.Real(c.Setting),
		Node:    c.Node,
		Time:    c.Time,
	}
	if !model.IsMissing(c.Setting) {
		cs.Setting = model.Real(u.settingOut(s.net.Links[c.Link].Kind, c.Setting))
	}
	if c.Node != model.NoIndex {
		cs.Level = model.Real(u.gradeOut(s.net.Nodes[c.Node], c.Grade))
	}
	return cs, nil
}

func (s *Session) controlIn(cs ControlSpec) (model.Control, error) {
	l, err := s.link(cs.Link)
	if err != nil {
		return model.Control{}, err
	}
	u := s.units()
	c := model.Control{
		Type:    cs.Type,
		Link:    cs.Link,
		Status:  cs.Status,
		Setting: model.Missing,
		Node:    model.NoIndex,
		Time:    cs.Time,
	}
	if !model.IsMissing(float64(cs.Setting)) {
		c.Setting = u.settingIn(l.Kind, float64(cs.Setting))
		c.Status = model.StatusActive
	}
	if cs.Type == model.ControlLowLevel || cs.Type == model.ControlHiLevel {
		node, err := s.node(cs.Node)
		if err != nil {
			return model.Control{}, err
		}
		c.Node = cs.Node
		c.Grade = u.gradeIn(node, float64(cs.Level))
	}
	return c, nil
}

// SetControl replaces simple control i.
func (s *Session) SetControl(i int, cs ControlSpec) error {
	c, err := s.controlIn(cs)
	if err != nil {
		return err
	}
	return wrapKB(s.net.SetControl(i, c))
}

// AddControl appends a simple control and returns its index.
func (s *Session) AddControl(cs ControlSpec) (int, error) {
	c, err := s.controlIn(cs)
	if err != nil {
		return model.NoIndex, err
	}
	i, err := s.net.AddControl(c)
	return i, wrapKB(err)
}

// AddPattern appends a pattern with a single multiplier of 1.
func (s *Session) AddPattern(id string) (int, error) {
	i, err := s.net.AddPattern(id, nil)
	return i, wrapKB(err)
}

// PatternLen returns the number of periods of pattern i.
func (s *Session) PatternLen(i int) (int, error) {
	p, err := s.net.Pattern(i)
	if err != nil {
		return 0, wrapKB(err)
	}
	return len(p.Factors), nil
}

// PatternValue returns the multiplier of pattern i for a period.
func (s *Session) PatternValue(i, period int) (model.Real, error) {
	p, err := s.net.Pattern(i)
	if err != nil {
		return 0, wrapKB(err)
	}
	if period < 0 || period >= len(p.Factors) {
		return 0, errorf(ErrInvalidValue.Code, "pattern %q period %d", p.ID, period)
	}
	return model.Real(p.Factors[period]), nil
}

// SetPatternValue sets the multiplier of pattern i for a period.
func (s *Session) SetPatternValue(i, period int, v model.Real) error {
	return wrapKB(s.net.SetPatternValue(i, period, float64(v)))
}

// SetPattern replaces all multipliers of pattern i.
func (s *Session) SetPattern(i int, factors []model.Real) error {
	f := make([]float64, len(factors))
	for j, v := range factors {
		f[j] = float64(v)
	}
	return wrapKB(s.net.SetPattern(i, f))
}

// AveragePatternValue returns the mean multiplier of pattern i.
func (s *Session) AveragePatternValue(i int) (model.Real, error) {
	p, err := s.net.Pattern(i)
	if err != nil {
		return 0, wrapKB(err)
	}
	return model.Real(p.Average()), nil
}

// AddCurve appends a curve with the single point (1, 1).
func (s *Session) AddCurve(id string) (int, error) {
	i, err := s.net.AddCurve(id, model.CurveGeneric, nil, nil)
	return i, wrapKB(err)
}

// CurveLen returns the number of points of curve i.
func (s *Session) CurveLen(i int) (int, error) {
	c, err := s.net.Curve(i)
	if err != nil {
		return 0, wrapKB(err)
	}
	return c.Len(), nil
}

// CurveValue returns point j of curve i.
func (s *Session) CurveValue(i, j int) (x, y model.Real, err error) {
	c, err := s.net.Curve(i)
	if err != nil {
		return 0, 0, wrapKB(err)
	}
	if j < 0 || j >= c.Len() {
		return 0, 0, errorf(ErrInvalidValue.Code, "curve %q point %d", c.ID, j)
	}
	cx, cy := s.units().curveOut(c.Kind, c.X[j], c.Y[j])
	return model.Real(cx), model.Real(cy), nil
}

// Curve returns all points of curve i.
func (s *Session) Curve(i int) (x, y []model.Real, err error) {
	c, err := s.net.Curve(i)
	if err != nil {
		return nil, nil, wrapKB(err)
	}
	u := s.units()
	x, y = make([]model.Real, c.Len()), make([]model.Real, c.Len())
	for j := range c.X {
		cx, cy := u.curveOut(c.Kind, c.X[j], c.Y[j])
		x[j], y[j] = model.Real(cx), model.Real(cy)
	}
	return x, y, nil
}

// SetCurveValue replaces point j of curve i.
func (s *Session) SetCurveValue(i, j int, x, y model.Real) error {
	c, err := s.net.Curve(i)
	if err != nil {
		return wrapKB(err)
	}
	if j < 0 || j >= c.Len() {
		return errorf(ErrInvalidValue.Code, "curve %q point %d", c.ID, j)
	}
	xs := append([]float64(nil), c.X...)
	ys := append([]float64(nil), c.Y...)
	xs[j], ys[j] = s.units().curveIn(c.Kind, float64(x), float64(y))
	return wrapKB(s.net.SetCurve(i, xs, ys))
}

// SetCurve replaces all points of curve i.
func (s *Session) SetCurve(i int, x, y []model.Real) error {
	c, err := s.net.Curve(i)
	if err != nil {
		return wrapKB(err)
	}
	if len(x) != len(y) {
		return errorf(ErrInvalidValue.Code, "curve %q: %d x values, %d y values", c.ID, len(x), len(y))
	}
	u := s.units()
	xs, ys := make([]float64, len(x)), make([]float64, len(y))
	for j := range x {
		xs[j], ys[j] = u.curveIn(c.Kind, float64(x[j]), float64(y[j]))
	}
	return wrapKB(s.net.SetCurve(i, xs, ys))
}

// QualityType returns the quality analysis type and, for trace analyses,
// the trace node.
func (s *Session) QualityType() (model.QualityType, int) {
	q := s.net.Options.Quality
	return q.Type, q.TraceNode
}

// SetQualityType selects the quality analysis. traceNode names the
// source node of a trace analysis and is ignored otherwise.
func (s *Session) SetQualityType(t model.QualityType, chemName, chemUnits, traceNode string) error {
	if s.qualOpen {
		return ErrAlreadyOpen
	}
	if t < model.QualNone || t > model.QualTrace {
		return errorf(ErrInvalidValue.Code, "quality type %d", t)
	}
	q := &s.net.Options.Quality
	trace := model.NoIndex
	if t == model.QualTrace {
		i, err := s.net.NodeIndex(traceNode)
		if err != nil {
			return wrapKB(err)
		}
		trace = i
	}
	q.Type, q.TraceNode = t, trace
	switch t {
	case model.QualChem:
		q.ChemName, q.ChemUnits = chemName, chemUnits
	case model.QualAge:
		q.ChemName, q.ChemUnits = "Age", "hrs"
	case model.QualTrace:
		q.ChemName, q.ChemUnits = "Trace", "%"
	}
	return nil
}

// Option returns analysis option p.
func (s *Session) Option(p model.OptionParam) (model.Real, error) {
	o := &s.net.Options
	switch p {
	case model.OptTrials:
		return model.Real(o.Trials), nil
	case model.OptAccuracy:
		return model.Real(o.Accuracy), nil
	case model.OptTolerance:
		return model.Real(o.Quality.Tolerance), nil
	case model.OptEmitExpon:
		return model.Real(o.EmitterExponent), nil
	case model.OptDemandMult:
		return model.Real(o.DemandMultiplier), nil
	}
	return 0, badParam(p)
}

// SetOption sets analysis option p.
func (s *Session) SetOption(p model.OptionParam, v model.Real) error {
	o := &s.net.Options
	x := float64(v)
	switch p {
	case model.OptTrials:
		if x < 1 {
			return errorf(ErrInvalidOption.Code, "trials %g", x)
		}
		o.Trials = int(x)
	case model.OptAccuracy:
		if x < 1e-5 || x > 1e-1 {
			return errorf(ErrInvalidOption.Code, "accuracy %g", x)
		}
		o.Accuracy = x
	case model.OptTolerance:
		if x < 0 {
			return errorf(ErrInvalidOption.Code, "tolerance %g", x)
		}
		o.Quality.Tolerance = x
	case model.OptEmitExpon:
		if x <= 0 {
			return errorf(ErrInvalidOption.Code, "emitter exponent %g", x)
		}
		u := s.units()
		for _, node := range s.net.Nodes {
			if node.Emitter > 0 {
				node.Emitter = u.emitterIn(u.emitterOut(node.Emitter, o.EmitterExponent), x)
			}
		}
		o.EmitterExponent = x
		if s.hyd != nil {
			s.hyd.qexp = 1 / x
		}
	case model.OptDemandMult:
		if x < 0 {
			return errorf(ErrInvalidOption.Code, "demand multiplier %g", x)
		}
		o.DemandMultiplier = x
	default:
		return badParam(p)
	}
	return nil
}

// Statistic returns a diagnostic of the last hydraulic solve.
func (s *Session) Statistic(p model.StatisticParam) (model.Real, error) {
	if s.hyd == nil {
		return 0, ErrNoHydraulics
	}
	switch p {
	case model.StatIterations:
		return model.Real(s.hyd.iterations), nil
	case model.StatRelativeError:
		return model.Real(s.hyd.relErr), nil
	}
	return 0, badParam(p)
}

// TimeParam returns time parameter p in seconds, or the statistic,
// period count or halt flag for those codes.
func (s *Session) TimeParam(p model.TimeParam) (int64, error) {
	t := s.net.Times
	switch p {
	case model.TimeDuration:
		return t.Duration, nil
	case model.TimeHydStep:
		return t.HydStep, nil
	case model.TimeQualStep:
		return t.QualStep, nil
	case model.TimePatternStep:
		return t.PatternStep, nil
	case model.TimePatternStart:
		return t.PatternStart, nil
	case model.TimeReportStep:
		return t.ReportStep, nil
	case model.TimeReportStart:
		return t.ReportStart, nil
	case model.TimeRuleStep:
		return t.RuleStep, nil
	case model.TimeStatistic:
		return int64(t.Statistic), nil
	case model.TimePeriods:
		if t.Duration < t.ReportStart {
			return 0, nil
		}
		return (t.Duration-t.ReportStart)/t.ReportStep + 1, nil
	case model.TimeStartTime:
		return t.StartClock, nil
	case model.TimeHtime:
		return s.clock.Htime(), nil
	case model.TimeQtime:
		return s.clock.Qtime(), nil
	case model.TimeHaltFlag:
		if s.clock.Halted() {
			return 1, nil
		}
		return 0, nil
	case model.TimeNextEvent:
		if s.hyd == nil || !s.hydInit {
			return 0, ErrHydNotInitialized
		}
		return s.hyd.nextEvent(s.clock.Htime()), nil
	}
	return 0, badParam(p)
}

// SetTimeParam sets time parameter p. Reporting and pattern times cannot
// change while a solver is open.
func (s *Session) SetTimeParam(p model.TimeParam, v int64) error {
	t := &s.net.Times
	active := s.hydOpen || s.qualOpen
	positive := func() error {
		if v <= 0 {
			return errorf(ErrInvalidValue.Code, "time parameter %d: %d", p, v)
		}
		return nil
	}
	switch p {
	case model.TimeReportStep, model.TimeReportStart, model.TimePatternStep, model.TimePatternStart, model.TimeStartTime:
		if active {
			return ErrTimeParamActive
		}
	}
	if v < 0 && p != model.TimeHaltFlag {
		return errorf(ErrInvalidValue.Code, "time parameter %d: %d", p, v)
	}
	switch p {
	case model.TimeDuration:
		t.Duration = v
	case model.TimeHydStep:
		if err := positive(); err != nil {
			return err
		}
		t.HydStep = v
		t.QualStep = min(t.QualStep, v)
	case model.TimeQualStep:
		if err := positive(); err != nil {
			return err
		}
		t.QualStep = min(v, t.HydStep)
	case model.TimePatternStep:
		if err := positive(); err != nil {
			return err
		}
		t.PatternStep = v
	case model.TimePatternStart:
		t.PatternStart = v
	case model.TimeReportStep:
		if err := positive(); err != nil {
			return err
		}
		t.ReportStep = v
	case model.TimeReportStart:
		t.ReportStart = v
	case model.TimeRuleStep:
		if err := positive(); err != nil {
			return err
		}
		t.RuleStep = min(v, t.HydStep)
	case model.TimeStatistic:
		if v > int64(model.StatRange) {
			return errorf(ErrInvalidValue.Code, "statistic %d", v)
		}
		t.Statistic = model.StatisticType(v)
	case model.TimeStartTime:
		if v >= secPerDay {
			return errorf(ErrInvalidValue.Code, "start time %d", v)
		}
		t.StartClock = v
	case model.TimeHaltFlag:
		s.clock.SetHalt(v != 0)
	default:
		return badParam(p)
	}
	return nil
}

package core

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

// internal YAML shapes – keep them unexported so we're free to evolve them.
type networkYAML struct {
	Title      string          `yaml:"title"`
	Options    optionsYAML     `yaml:"options"`
	Times      timesYAML       `yaml:"times"`
	Patterns   []patternYAML   `yaml:"patterns"`
	Curves     []curveYAML     `yaml:"curves"`
	Junctions  []junctionYAML  `yaml:"junctions"`
	Reservoirs []reservoirYAML `yaml:"reservoirs"`
	Tanks      []tankYAML      `yaml:"tanks"`
	Pipes      []pipeYAML      `yaml:"pipes"`
	Pumps      []pumpYAML      `yaml:"pumps"`
	Valves     []valveYAML     `yaml:"valves"`
	Controls   []controlYAML   `yaml:"controls"`
	Rules      []ruleYAML      `yaml:"rules"`
}

type optionsYAML struct {
	Units             string       `yaml:"units"`
	Headloss          string       `yaml:"headloss"`
	Trials            *int         `yaml:"trials"`
	Accuracy          *float64     `yaml:"accuracy"`
	Unbalanced        string       `yaml:"unbalanced"` // "stop" or "continue N"
	CheckFreq         *int         `yaml:"check_freq"`
	MaxCheck          *int         `yaml:"max_check"`
	DampLimit         float64      `yaml:"damp_limit"`
	MaxControlRetries *int         `yaml:"max_control_retries"`
	Strict            bool         `yaml:"strict"`
	SpecificGravity   *float64     `yaml:"specific_gravity"`
	Viscosity         *float64     `yaml:"viscosity"`
	DemandMultiplier  *float64     `yaml:"demand_multiplier"`
	EmitterExponent   *float64     `yaml:"emitter_exponent"`
	Pattern           string       `yaml:"pattern"`
	Energy            energyYAML   `yaml:"energy"`
	Quality           qualityYAML  `yaml:"quality"`
	Reactions         reactionYAML `yaml:"reactions"`
}

type energyYAML struct {
	Efficiency   *float64 `yaml:"efficiency"`
	Price        float64  `yaml:"price"`
	Pattern      string   `yaml:"pattern"`
	DemandCharge float64  `yaml:"demand_charge"`
}

type qualityYAML struct {
	Type            string   `yaml:"type"`
	ChemName        string   `yaml:"chem_name"`
	ChemUnits       string   `yaml:"chem_units"`
	TraceNode       string   `yaml:"trace_node"`
	Tolerance       *float64 `yaml:"tolerance"`
	Diffusivity     *float64 `yaml:"diffusivity"`
	SegmentCapacity int      `yaml:"segment_capacity"`
}

type reactionYAML struct {
	BulkOrder  *float64 `yaml:"bulk_order"`
	WallOrder  *float64 `yaml:"wall_order"`
	TankOrder  *float64 `yaml:"tank_order"`
	GlobalBulk float64  `yaml:"global_bulk"` // per day
	GlobalWall float64  `yaml:"global_wall"` // per day
	Limit      float64  `yaml:"limiting_concentration"`
}

type timesYAML struct {
	Duration     clockValue `yaml:"duration"`
	HydStep      clockValue `yaml:"hydraulic_step"`
	QualStep     clockValue `yaml:"quality_step"`
	PatternStep  clockValue `yaml:"pattern_step"`
	PatternStart clockValue `yaml:"pattern_start"`
	ReportStep   clockValue `yaml:"report_step"`
	ReportStart  clockValue `yaml:"report_start"`
	RuleStep     clockValue `yaml:"rule_step"`
	StartClock   clockValue `yaml:"start_clock"`
	Statistic    string     `yaml:"statistic"`
}

type patternYAML struct {
	ID      string    `yaml:"id"`
	Factors []float64 `yaml:"factors"`
}

type curveYAML struct {
	ID     string       `yaml:"id"`
	Kind   string       `yaml:"kind"`
	Points [][2]float64 `yaml:"points"`
}

type sourceYAML struct {
	Type     string  `yaml:"type"`
	Strength float64 `yaml:"strength"`
	Pattern  string  `yaml:"pattern"`
}

type demandYAML struct {
	Base    float64 `yaml:"base"`
	Pattern string  `yaml:"pattern"`
	Name    string  `yaml:"name"`
}

type junctionYAML struct {
	ID          string       `yaml:"id"`
	Elevation   float64      `yaml:"elevation"`
	Demand      float64      `yaml:"demand"`
	Pattern     string       `yaml:"pattern"`
	Demands     []demandYAML `yaml:"demands"`
	Emitter     float64      `yaml:"emitter"`
	InitQuality float64      `yaml:"init_quality"`
	Source      *sourceYAML  `yaml:"source"`
	Tag         string       `yaml:"tag"`
}

type reservoirYAML struct {
	ID          string      `yaml:"id"`
	Head        float64     `yaml:"head"`
	Pattern     string      `yaml:"pattern"`
	InitQuality float64     `yaml:"init_quality"`
	Source      *sourceYAML `yaml:"source"`
	Tag         string      `yaml:"tag"`
}

type tankYAML struct {
	ID          string      `yaml:"id"`
	Elevation   float64     `yaml:"elevation"`
	InitLevel   float64     `yaml:"init_level"`
	MinLevel    float64     `yaml:"min_level"`
	MaxLevel    float64     `yaml:"max_level"`
	Diameter    float64     `yaml:"diameter"`
	MinVolume   float64     `yaml:"min_volume"`
	VolumeCurve string      `yaml:"volume_curve"`
	Mixing      string      `yaml:"mixing"`
	MixFraction float64     `yaml:"mix_fraction"`
	Kbulk       *float64    `yaml:"kbulk"` // per day
	InitQuality float64     `yaml:"init_quality"`
	Source      *sourceYAML `yaml:"source"`
	Tag         string      `yaml:"tag"`
}

type pipeYAML struct {
	ID        string   `yaml:"id"`
	From      string   `yaml:"from"`
	To        string   `yaml:"to"`
	Length    float64  `yaml:"length"`
	Diameter  float64  `yaml:"diameter"`
	Roughness float64  `yaml:"roughness"`
	MinorLoss float64  `yaml:"minor_loss"`
	Status    string   `yaml:"status"` // open, closed or cv
	Kbulk     *float64 `yaml:"kbulk"`
	Kwall     *float64 `yaml:"kwall"`
	Tag       string   `yaml:"tag"`
}

type pumpYAML struct {
	ID              string  `yaml:"id"`
	From            string  `yaml:"from"`
	To              string  `yaml:"to"`
	HeadCurve       string  `yaml:"head_curve"`
	Power           float64 `yaml:"power"`
	Speed           float64 `yaml:"speed"`
	Pattern         string  `yaml:"pattern"`
	EfficiencyCurve string  `yaml:"efficiency_curve"`
	Price           float64 `yaml:"price"`
	PricePattern    string  `yaml:"price_pattern"`
	Status          string  `yaml:"status"`
	Tag             string  `yaml:"tag"`
}

type valveYAML struct {
	ID        string  `yaml:"id"`
	From      string  `yaml:"from"`
	To        string  `yaml:"to"`
	Type      string  `yaml:"type"`
	Diameter  float64 `yaml:"diameter"`
	Setting   float64 `yaml:"setting"`
	Curve     string  `yaml:"curve"` // GPV head loss curve
	MinorLoss float64 `yaml:"minor_loss"`
	Status    string  `yaml:"status"`
	Tag       string  `yaml:"tag"`
}

type controlYAML struct {
	Link    string     `yaml:"link"`
	Status  string     `yaml:"status"`
	Setting *float64   `yaml:"setting"`
	Type    string     `yaml:"type"` // below, above, timer, timeofday
	Node    string     `yaml:"node"`
	Value   float64    `yaml:"value"` // level or pressure
	Time    clockValue `yaml:"time"`
}

type premiseYAML struct {
	Logic    string  `yaml:"logic"`
	Object   string  `yaml:"object"`
	ID       string  `yaml:"id"`
	Variable string  `yaml:"variable"`
	Op       string  `yaml:"op"`
	Value    float64 `yaml:"value"`
	Status   string  `yaml:"status"`
}

type actionYAML struct {
	Link    string   `yaml:"link"`
	Status  string   `yaml:"status"`
	Setting *float64 `yaml:"setting"`
}

type ruleYAML struct {
	ID       string        `yaml:"id"`
	Priority float64       `yaml:"priority"`
	If       []premiseYAML `yaml:"if"`
	Then     []actionYAML  `yaml:"then"`
	Else     []actionYAML  `yaml:"else"`
}

// clockValue is a time in seconds written as "hh:mm[:ss]", a Go duration
// such as "90m", or a number of hours.
type clockValue struct {
	seconds int64
	set     bool
}

func (c *clockValue) UnmarshalYAML(node *yaml.Node) error {
	s, err := parseClock(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	c.seconds, c.set = s, true
	return nil
}

func parseClock(v string) (int64, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return 0, nil
	}
	pm := strings.HasSuffix(v, "pm")
	am := strings.HasSuffix(v, "am")
	if pm || am {
		v = strings.TrimSpace(v[:len(v)-2])
	}
	var secs int64
	switch {
	case strings.Contains(v, ":"):
		parts := strings.Split(v, ":")
		if len(parts) > 3 {
			return 0, fmt.Errorf("invalid clock time %q", v)
		}
		mult := int64(3600)
		for _, p := range parts {
			n, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid clock time %q", v)
			}
			secs += int64(math.Round(n * float64(mult)))
			mult /= 60
		}
	case strings.IndexFunc(v, func(r rune) bool { return r >= 'a' && r <= 'z' }) >= 0:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, err
		}
		secs = int64(d / time.Second)
	default:
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", v)
		}
		secs = int64(math.Round(h * 3600))
	}
	if pm || am {
		secs %= 12 * 3600
		if pm {
			secs += 12 * 3600
		}
	}
	return secs, nil
}

// LoadNetworkFile reads a YAML network description from path.
func LoadNetworkFile(path string) (*kb.Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errorf(ErrInvalidNetworkInput.Code, "open %s: %v", path, err)
	}
	defer f.Close()
	return LoadNetwork(f)
}

// LoadNetwork reads a YAML network description, converts its values from
// the declared flow units to internal units and validates the result.
func LoadNetwork(r io.Reader) (*kb.Network, error) {
	var doc networkYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errorf(ErrInvalidNetworkInput.Code, "decode: %v", err)
	}
	l := &loader{doc: &doc, net: kb.NewNetwork()}
	if err := l.load(); err != nil {
		return nil, wrapKB(err)
	}
	if err := l.net.Validate(); err != nil {
		return nil, wrapKB(err)
	}
	return l.net, nil
}

type loader struct {
	doc *networkYAML
	net *kb.Network
	u   units
}

func (l *loader) load() error {
	l.net.Title = l.doc.Title
	steps := []func() error{
		l.options,
		l.times,
		l.patterns,
		l.curves,
		l.junctions,
		l.reservoirs,
		l.tanks,
		l.pipes,
		l.pumps,
		l.valves,
		l.qualityRefs,
		l.controls,
		l.rules,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) patternRef(id string) (int, error) {
	if id == "" {
		return model.NoIndex, nil
	}
	return l.net.PatternIndex(id)
}

func (l *loader) curveRef(id string) (int, error) {
	if id == "" {
		return model.NoIndex, nil
	}
	return l.net.CurveIndex(id)
}

func (l *loader) options() error {
	in := &l.doc.Options
	o := &l.net.Options
	if in.Units != "" {
		u, ok := model.ParseFlowUnits(strings.ToUpper(in.Units))
		if !ok {
			return fmt.Errorf("units %q: %w", in.Units, kb.ErrInvalidOptions)
		}
		o.Units = u
	}
	switch strings.ToUpper(in.Headloss) {
	case "", "H-W", "HW":
		o.Headloss = model.HazenWilliams
	case "D-W", "DW":
		o.Headloss = model.DarcyWeisbach
	case "C-M", "CM":
		o.Headloss = model.ChezyManning
	default:
		return fmt.Errorf("headloss %q: %w", in.Headloss, kb.ErrInvalidOptions)
	}
	setInt(&o.Trials, in.Trials)
	setFloat(&o.Accuracy, in.Accuracy)
	setInt(&o.CheckFreq, in.CheckFreq)
	setInt(&o.MaxCheck, in.MaxCheck)
	setInt(&o.MaxControlRetries, in.MaxControlRetries)
	setFloat(&o.SpecificGravity, in.SpecificGravity)
	setFloat(&o.Viscosity, in.Viscosity)
	setFloat(&o.DemandMultiplier, in.DemandMultiplier)
	setFloat(&o.EmitterExponent, in.EmitterExponent)
	o.DampLimit = in.DampLimit
	o.Strict = in.Strict
	if err := parseUnbalanced(in.Unbalanced, o); err != nil {
		return err
	}

	setFloat(&o.GlobalEfficiency, in.Energy.Efficiency)
	o.GlobalPrice = in.Energy.Price
	o.DemandCharge = in.Energy.DemandCharge

	q := &o.Quality
	switch strings.ToLower(in.Quality.Type) {
	case "", "none":
		q.Type = model.QualNone
	case "age":
		q.Type = model.QualAge
	case "trace":
		q.Type = model.QualTrace
	default:
		q.Type = model.QualChem
		q.ChemName = in.Quality.Type
		if in.Quality.ChemName != "" {
			q.ChemName = in.Quality.ChemName
		}
		q.ChemUnits = in.Quality.ChemUnits
		if q.ChemUnits == "" {
			q.ChemUnits = "mg/L"
		}
	}
	setFloat(&q.Tolerance, in.Quality.Tolerance)
	setFloat(&q.Diffusivity, in.Quality.Diffusivity)
	if in.Quality.SegmentCapacity > 0 {
		q.SegmentCapacity = in.Quality.SegmentCapacity
	}
	setFloat(&q.BulkOrder, in.Reactions.BulkOrder)
	setFloat(&q.WallOrder, in.Reactions.WallOrder)
	setFloat(&q.TankOrder, in.Reactions.TankOrder)
	q.Climit = in.Reactions.Limit
	l.u = newUnits(o)
	return nil
}

func parseUnbalanced(v string, o *model.Options) error {
	fields := strings.Fields(strings.ToLower(v))
	switch {
	case len(fields) == 0:
	case fields[0] == "stop":
		o.ExtraTrials = -1
	case fields[0] == "continue":
		o.ExtraTrials = 0
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				return fmt.Errorf("unbalanced %q: %w", v, kb.ErrInvalidOptions)
			}
			o.ExtraTrials = n
		}
	default:
		return fmt.Errorf("unbalanced %q: %w", v, kb.ErrInvalidOptions)
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setClock(dst *int64, v clockValue) {
	if v.set {
		*dst = v.seconds
	}
}

func (l *loader) times() error {
	in := &l.doc.Times
	t := &l.net.Times
	setClock(&t.Duration, in.Duration)
	setClock(&t.HydStep, in.HydStep)
	setClock(&t.QualStep, in.QualStep)
	setClock(&t.PatternStep, in.PatternStep)
	setClock(&t.PatternStart, in.PatternStart)
	setClock(&t.ReportStep, in.ReportStep)
	setClock(&t.ReportStart, in.ReportStart)
	setClock(&t.RuleStep, in.RuleStep)
	setClock(&t.StartClock, in.StartClock)
	if !in.QualStep.set && t.QualStep > t.HydStep {
		t.QualStep = t.HydStep
	}
	switch strings.ToLower(in.Statistic) {
	case "", "none", "series":
		t.Statistic = model.StatSeries
	case "average", "averaged":
		t.Statistic = model.StatAverage
	case "minimum":
		t.Statistic = model.StatMinimum
	case "maximum":
		t.Statistic = model.StatMaximum
	case "range":
		t.Statistic = model.StatRange
	default:
		return fmt.Errorf("statistic %q: %w", in.Statistic, kb.ErrInvalidOptions)
	}
	return nil
}

func (l *loader) patterns() error {
	for _, p := range l.doc.Patterns {
		if _, err := l.net.AddPattern(p.ID, p.Factors); err != nil {
			return err
		}
	}
	o := &l.net.Options
	var err error
	if o.DefaultPattern, err = l.patternRef(l.doc.Options.Pattern); err != nil {
		return err
	}
	if o.GlobalPattern, err = l.patternRef(l.doc.Options.Energy.Pattern); err != nil {
		return err
	}
	return nil
}

var curveKinds = map[string]model.CurveKind{
	"":           model.CurveGeneric,
	"generic":    model.CurveGeneric,
	"volume":     model.CurveVolume,
	"pump":       model.CurvePump,
	"efficiency": model.CurveEfficiency,
	"headloss":   model.CurveHeadloss,
}

func (l *loader) curves() error {
	for _, c := range l.doc.Curves {
		kind, ok := curveKinds[strings.ToLower(c.Kind)]
		if !ok {
			return fmt.Errorf("curve %q kind %q: %w", c.ID, c.Kind, kb.ErrInvalidValue)
		}
		x := make([]float64, len(c.Points))
		y := make([]float64, len(c.Points))
		for i, p := range c.Points {
			x[i], y[i] = l.u.curveIn(kind, p[0], p[1])
		}
		if _, err := l.net.AddCurve(c.ID, kind, x, y); err != nil {
			return err
		}
	}
	return nil
}

// curveIn converts a user-unit curve point to internal units.
func (u units) curveIn(kind model.CurveKind, x, y float64) (float64, float64) {
	switch kind {
	case model.CurveVolume:
		return u.in(qElev, x), u.in(qVolume, y)
	case model.CurvePump, model.CurveHeadloss:
		return u.in(qFlow, x), u.in(qHead, y)
	case model.CurveEfficiency:
		return u.in(qFlow, x), y
	}
	return x, y
}

// curveOut converts an internal curve point to user units.
func (u units) curveOut(kind model.CurveKind, x, y float64) (float64, float64) {
	switch kind {
	case model.CurveVolume:
		return u.out(qElev, x), u.out(qVolume, y)
	case model.CurvePump, model.CurveHeadloss:
		return u.out(qFlow, x), u.out(qHead, y)
	case model.CurveEfficiency:
		return u.out(qFlow, x), y
	}
	return x, y
}

func (l *loader) source(s *sourceYAML) (*model.Source, error) {
	if s == nil {
		return nil, nil
	}
	src := &model.Source{}
	switch strings.ToLower(s.Type) {
	case "", "concen", "concentration":
		src.Type = model.SourceConcen
	case "mass":
		src.Type = model.SourceMass
	case "setpoint":
		src.Type = model.SourceSetpoint
	case "flowpaced":
		src.Type = model.SourceFlowPaced
	default:
		return nil, fmt.Errorf("source type %q: %w", s.Type, kb.ErrInvalidValue)
	}
	src.Strength = l.u.sourceIn(src.Type, s.Strength)
	var err error
	if src.Pattern, err = l.patternRef(s.Pattern); err != nil {
		return nil, err
	}
	return src, nil
}

// sourceIn converts a source strength to internal units: mass per second
// for mass sources, mass per cubic foot otherwise.
func (u units) sourceIn(t model.SourceType, v float64) float64 {
	if t == model.SourceMass {
		return v / 60
	}
	return u.in(qQuality, v)
}

func (u units) sourceOut(t model.SourceType, v float64) float64 {
	if t == model.SourceMass {
		return v * 60
	}
	return u.out(qQuality, v)
}

// emitterIn converts a user emitter coefficient (flow per pressure^exp)
// to internal units.
func (u units) emitterIn(c, exp float64) float64 {
	return c * math.Pow(u.f[qPressure], exp) / u.f[qFlow]
}

func (u units) emitterOut(c, exp float64) float64 {
	return c * u.f[qFlow] / math.Pow(u.f[qPressure], exp)
}

func (l *loader) junctions() error {
	for _, j := range l.doc.Junctions {
		node := &model.Node{
			ID:        j.ID,
			Kind:      model.Junction,
			Elevation: l.u.in(qElev, j.Elevation),
			Emitter:   l.u.emitterIn(j.Emitter, l.net.Options.EmitterExponent),
			InitQual:  l.u.in(qQuality, j.InitQuality),
			Tag:       j.Tag,
		}
		demands := j.Demands
		if len(demands) == 0 && (j.Demand != 0 || j.Pattern != "") {
			demands = []demandYAML{{Base: j.Demand, Pattern: j.Pattern}}
		}
		for _, d := range demands {
			pat, err := l.patternRef(d.Pattern)
			if err != nil {
				return fmt.Errorf("junction %q: %w", j.ID, err)
			}
			node.Demands = append(node.Demands, model.Demand{
				Base:    l.u.in(qDemand, d.Base),
				Pattern: pat,
				Name:    d.Name,
			})
		}
		src, err := l.source(j.Source)
		if err != nil {
			return fmt.Errorf("junction %q: %w", j.ID, err)
		}
		node.Source = src
		if _, err := l.net.AddNode(node); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) reservoirs() error {
	for _, r := range l.doc.Reservoirs {
		pat, err := l.patternRef(r.Pattern)
		if err != nil {
			return fmt.Errorf("reservoir %q: %w", r.ID, err)
		}
		src, err := l.source(r.Source)
		if err != nil {
			return fmt.Errorf("reservoir %q: %w", r.ID, err)
		}
		node := &model.Node{
			ID:        r.ID,
			Kind:      model.Reservoir,
			Elevation: l.u.in(qElev, r.Head),
			InitQual:  l.u.in(qQuality, r.InitQuality),
			Source:    src,
			Tag:       r.Tag,
			Storage:   &model.TankParams{VolumeCurve: model.NoIndex, HeadPattern: pat},
		}
		if _, err := l.net.AddNode(node); err != nil {
			return err
		}
	}
	return nil
}

var mixModels = map[string]model.MixModel{
	"":      model.MixFull,
	"mixed": model.MixFull,
	"2comp": model.MixTwo,
	"fifo":  model.MixFIFO,
	"lifo":  model.MixLIFO,
}

func (l *loader) tanks() error {
	for _, t := range l.doc.Tanks {
		mix, ok := mixModels[strings.ToLower(t.Mixing)]
		if !ok {
			return fmt.Errorf("tank %q mixing %q: %w", t.ID, t.Mixing, kb.ErrInvalidValue)
		}
		curve, err := l.curveRef(t.VolumeCurve)
		if err != nil {
			return fmt.Errorf("tank %q: %w", t.ID, err)
		}
		src, err := l.source(t.Source)
		if err != nil {
			return fmt.Errorf("tank %q: %w", t.ID, err)
		}
		kbulk := l.doc.Options.Reactions.GlobalBulk
		if t.Kbulk != nil {
			kbulk = *t.Kbulk
		}
		node := &model.Node{
			ID:        t.ID,
			Kind:      model.Tank,
			Elevation: l.u.in(qElev, t.Elevation),
			InitQual:  l.u.in(qQuality, t.InitQuality),
			Source:    src,
			Tag:       t.Tag,
			Storage: &model.TankParams{
				Diameter:    l.u.in(qElev, t.Diameter),
				InitLevel:   l.u.in(qElev, t.InitLevel),
				MinLevel:    l.u.in(qElev, t.MinLevel),
				MaxLevel:    l.u.in(qElev, t.MaxLevel),
				MinVolume:   l.u.in(qVolume, t.MinVolume),
				VolumeCurve: curve,
				MixModel:    mix,
				MixFraction: t.MixFraction,
				Kb:          kbulk / secPerDay,
				HeadPattern: model.NoIndex,
			},
		}
		if _, err := l.net.AddNode(node); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) endpoints(kind, id, from, to string) (int, int, error) {
	n1, err := l.net.NodeIndex(from)
	if err != nil {
		return 0, 0, fmt.Errorf("%s %q: %w", kind, id, err)
	}
	n2, err := l.net.NodeIndex(to)
	if err != nil {
		return 0, 0, fmt.Errorf("%s %q: %w", kind, id, err)
	}
	return n1, n2, nil
}

func parseStatus(s string, def model.LinkStatus) (model.LinkStatus, error) {
	switch strings.ToLower(s) {
	case "":
		return def, nil
	case "open":
		return model.StatusOpen, nil
	case "closed":
		return model.StatusClosed, nil
	case "active":
		return model.StatusActive, nil
	}
	return def, fmt.Errorf("status %q: %w", s, kb.ErrInvalidValue)
}

// roughnessIn converts a Darcy-Weisbach roughness height (millifeet or
// millimetres) to feet; other formulas use dimensionless roughness.
func (u units) roughnessIn(f model.HeadlossFormula, r float64) float64 {
	if f == model.DarcyWeisbach {
		return r / (1000 * u.f[qElev])
	}
	return r
}

func (u units) roughnessOut(f model.HeadlossFormula, r float64) float64 {
	if f == model.DarcyWeisbach {
		return r * 1000 * u.f[qElev]
	}
	return r
}

// wallIn converts a wall reaction coefficient per day to internal units.
func (u units) wallIn(order, kw float64) float64 {
	if order == 0 {
		return kw / secPerDay * u.f[qElev] * u.f[qElev]
	}
	return kw / secPerDay / u.f[qElev]
}

func (u units) wallOut(order, kw float64) float64 {
	if order == 0 {
		return kw * secPerDay / (u.f[qElev] * u.f[qElev])
	}
	return kw * secPerDay * u.f[qElev]
}

func (l *loader) pipes() error {
	rx := &l.doc.Options.Reactions
	o := &l.net.Options
	for _, p := range l.doc.Pipes {
		n1, n2, err := l.endpoints("pipe", p.ID, p.From, p.To)
		if err != nil {
			return err
		}
		kind := model.Pipe
		status := model.StatusOpen
		if strings.EqualFold(p.Status, "cv") {
			kind = model.CVPipe
		} else if status, err = parseStatus(p.Status, model.StatusOpen); err != nil {
			return fmt.Errorf("pipe %q: %w", p.ID, err)
		}
		kbulk, kwall := rx.GlobalBulk, rx.GlobalWall
		if p.Kbulk != nil {
			kbulk = *p.Kbulk
		}
		if p.Kwall != nil {
			kwall = *p.Kwall
		}
		if p.Length <= 0 || p.Diameter <= 0 || p.Roughness <= 0 {
			return fmt.Errorf("pipe %q: %w", p.ID, kb.ErrInvalidValue)
		}
		link := &model.Link{
			ID:         p.ID,
			Kind:       kind,
			From:       n1,
			To:         n2,
			Length:     l.u.in(qLength, p.Length),
			Diameter:   l.u.in(qDiam, p.Diameter),
			Roughness:  l.u.roughnessIn(o.Headloss, p.Roughness),
			MinorLoss:  p.MinorLoss,
			Kb:         kbulk / secPerDay,
			Kw:         l.u.wallIn(o.Quality.WallOrder, kwall),
			InitStatus: status,
			Tag:        p.Tag,
		}
		if _, err := l.net.AddLink(link); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) pumps() error {
	for _, p := range l.doc.Pumps {
		n1, n2, err := l.endpoints("pump", p.ID, p.From, p.To)
		if err != nil {
			return err
		}
		status, err := parseStatus(p.Status, model.StatusOpen)
		if err != nil {
			return fmt.Errorf("pump %q: %w", p.ID, err)
		}
		pp := &model.PumpParams{Power: l.u.in(qPower, p.Power), EnergyPrice: p.Price}
		if pp.HeadCurve, err = l.curveRef(p.HeadCurve); err != nil {
			return fmt.Errorf("pump %q: %w", p.ID, err)
		}
		if pp.EffCurve, err = l.curveRef(p.EfficiencyCurve); err != nil {
			return fmt.Errorf("pump %q: %w", p.ID, err)
		}
		if pp.SpeedPattern, err = l.patternRef(p.Pattern); err != nil {
			return fmt.Errorf("pump %q: %w", p.ID, err)
		}
		if pp.PricePattern, err = l.patternRef(p.PricePattern); err != nil {
			return fmt.Errorf("pump %q: %w", p.ID, err)
		}
		speed := p.Speed
		if speed == 0 {
			speed = 1
		}
		if status == model.StatusClosed {
			speed = 0
		}
		link := &model.Link{
			ID:          p.ID,
			Kind:        model.Pump,
			From:        n1,
			To:          n2,
			InitStatus:  status,
			InitSetting: speed,
			Pump:        pp,
			Tag:         p.Tag,
		}
		if _, err := l.net.AddLink(link); err != nil {
			return err
		}
	}
	return nil
}

var valveKinds = map[string]model.LinkKind{
	"prv": model.PRV,
	"psv": model.PSV,
	"pbv": model.PBV,
	"fcv": model.FCV,
	"tcv": model.TCV,
	"gpv": model.GPV,
}

func (l *loader) valves() error {
	for _, v := range l.doc.Valves {
		n1, n2, err := l.endpoints("valve", v.ID, v.From, v.To)
		if err != nil {
			return err
		}
		kind, ok := valveKinds[strings.ToLower(v.Type)]
		if !ok {
			return fmt.Errorf("valve %q type %q: %w", v.ID, v.Type, kb.ErrInvalidValue)
		}
		link := &model.Link{
			ID:         v.ID,
			Kind:       kind,
			From:       n1,
			To:         n2,
			Diameter:   l.u.in(qDiam, v.Diameter),
			MinorLoss:  v.MinorLoss,
			InitStatus: model.StatusActive,
			Tag:        v.Tag,
		}
		if v.Status != "" {
			if link.InitStatus, err = parseStatus(v.Status, model.StatusActive); err != nil {
				return fmt.Errorf("valve %q: %w", v.ID, err)
			}
		}
		if kind == model.GPV {
			c, err := l.net.CurveIndex(v.Curve)
			if err != nil {
				return fmt.Errorf("valve %q: %w", v.ID, err)
			}
			link.InitSetting = float64(c)
		} else {
			link.InitSetting = l.u.settingIn(kind, v.Setting)
		}
		if link.InitStatus != model.StatusActive && kind != model.GPV && kind != model.TCV && kind != model.PBV {
			link.InitSetting = model.Missing
		}
		if _, err := l.net.AddLink(link); err != nil {
			return err
		}
	}
	return nil
}

// settingIn converts a user-unit control setting for a link of the given
// kind to internal units.
func (u units) settingIn(kind model.LinkKind, v float64) float64 {
	switch kind {
	case model.PRV, model.PSV, model.PBV:
		return u.in(qPressure, v)
	case model.FCV:
		return u.in(qFlow, v)
	}
	return v
}

func (u units) settingOut(kind model.LinkKind, v float64) float64 {
	switch kind {
	case model.PRV, model.PSV, model.PBV:
		return u.out(qPressure, v)
	case model.FCV:
		return u.out(qFlow, v)
	}
	return v
}

func (l *loader) qualityRefs() error {
	q := &l.net.Options.Quality
	if q.Type != model.QualTrace {
		return nil
	}
	i, err := l.net.NodeIndex(l.doc.Options.Quality.TraceNode)
	if err != nil {
		return fmt.Errorf("trace node: %w", kb.ErrUnknownTraceNode)
	}
	q.TraceNode = i
	return nil
}

var controlTypes = map[string]model.ControlType{
	"below":     model.ControlLowLevel,
	"lowlevel":  model.ControlLowLevel,
	"above":     model.ControlHiLevel,
	"hilevel":   model.ControlHiLevel,
	"timer":     model.ControlTimer,
	"timeofday": model.ControlTimeOfDay,
}

func (l *loader) controls() error {
	for i, c := range l.doc.Controls {
		typ, ok := controlTypes[strings.ToLower(c.Type)]
		if !ok {
			return fmt.Errorf("control %d type %q: %w", i, c.Type, kb.ErrInvalidValue)
		}
		k, err := l.net.LinkIndex(c.Link)
		if err != nil {
			return fmt.Errorf("control %d: %w", i, err)
		}
		link := l.net.Links[k]
		ctl := model.Control{Type: typ, Link: k, Node: model.NoIndex, Setting: model.Missing}
		if c.Setting != nil {
			ctl.Status = model.StatusActive
			ctl.Setting = l.u.settingIn(link.Kind, *c.Setting)
		} else if ctl.Status, err = parseStatus(c.Status, model.StatusOpen); err != nil {
			return fmt.Errorf("control %d: %w", i, err)
		}
		switch typ {
		case model.ControlLowLevel, model.ControlHiLevel:
			n, err := l.net.NodeIndex(c.Node)
			if err != nil {
				return fmt.Errorf("control %d: %w", i, err)
			}
			ctl.Node = n
			ctl.Grade = l.u.gradeIn(l.net.Nodes[n], c.Value)
		default:
			ctl.Time = c.Time.seconds
		}
		if _, err := l.net.AddControl(ctl); err != nil {
			return err
		}
	}
	return nil
}

// gradeIn converts a control level (tanks) or pressure (junctions) to an
// internal head.
func (u units) gradeIn(node *model.Node, v float64) float64 {
	switch node.Kind {
	case model.Junction:
		return node.Elevation + u.in(qPressure, v)
	case model.Tank:
		return node.Elevation + u.in(qElev, v)
	}
	return u.in(qElev, v)
}

func (u units) gradeOut(node *model.Node, h float64) float64 {
	switch node.Kind {
	case model.Junction:
		return u.out(qPressure, h-node.Elevation)
	case model.Tank:
		return u.out(qElev, h-node.Elevation)
	}
	return u.out(qElev, h)
}

var (
	ruleObjects = map[string]model.RuleObject{
		"node": model.ObjectNode, "junction": model.ObjectNode, "tank": model.ObjectNode, "reservoir": model.ObjectNode,
		"link": model.ObjectLink, "pipe": model.ObjectLink, "pump": model.ObjectLink, "valve": model.ObjectLink,
		"system": model.ObjectSystem,
	}
	ruleVars = map[string]model.RuleVariable{
		"demand": model.VarDemand, "head": model.VarHead, "grade": model.VarGrade, "level": model.VarLevel,
		"pressure": model.VarPressure, "flow": model.VarFlow, "status": model.VarStatus, "setting": model.VarSetting,
		"power": model.VarPower, "time": model.VarTime, "clocktime": model.VarClockTime,
		"filltime": model.VarFillTime, "draintime": model.VarDrainTime,
	}
	ruleOps = map[string]model.RelOp{
		"=": model.OpEQ, "<>": model.OpNE, "<=": model.OpLE, ">=": model.OpGE, "<": model.OpLT, ">": model.OpGT,
		"is": model.OpIs, "not": model.OpNot, "below": model.OpBelow, "above": model.OpAbove,
	}
	ruleLogic = map[string]model.Logic{"": model.LogicIf, "if": model.LogicIf, "and": model.LogicAnd, "or": model.LogicOr}
)

func (l *loader) rules() error {
	for _, r := range l.doc.Rules {
		rule := model.Rule{ID: r.ID, Priority: r.Priority}
		for _, p := range r.If {
			prem, err := l.premise(p)
			if err != nil {
				return fmt.Errorf("rule %q: %w", r.ID, err)
			}
			rule.Premises = append(rule.Premises, prem)
		}
		var err error
		if rule.Then, err = l.actions(r.Then); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if rule.Else, err = l.actions(r.Else); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if _, err := l.net.AddRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) premise(p premiseYAML) (model.Premise, error) {
	var prem model.Premise
	var ok bool
	if prem.Logic, ok = ruleLogic[strings.ToLower(p.Logic)]; !ok {
		return prem, fmt.Errorf("logic %q: %w", p.Logic, kb.ErrInvalidValue)
	}
	if prem.Object, ok = ruleObjects[strings.ToLower(p.Object)]; !ok {
		return prem, fmt.Errorf("object %q: %w", p.Object, kb.ErrInvalidValue)
	}
	if prem.Variable, ok = ruleVars[strings.ToLower(p.Variable)]; !ok {
		return prem, fmt.Errorf("variable %q: %w", p.Variable, kb.ErrInvalidValue)
	}
	if prem.Op, ok = ruleOps[strings.ToLower(p.Op)]; !ok {
		return prem, fmt.Errorf("operator %q: %w", p.Op, kb.ErrInvalidValue)
	}
	var err error
	switch prem.Object {
	case model.ObjectNode:
		prem.Index, err = l.net.NodeIndex(p.ID)
	case model.ObjectLink:
		prem.Index, err = l.net.LinkIndex(p.ID)
	default:
		prem.Index = model.NoIndex
	}
	if err != nil {
		return prem, err
	}
	prem.Value = p.Value
	switch prem.Variable {
	case model.VarStatus:
		s, err := parseStatus(p.Status, model.StatusOpen)
		if err != nil {
			return prem, err
		}
		prem.Status = s
	case model.VarTime, model.VarClockTime, model.VarFillTime, model.VarDrainTime:
		prem.Value = p.Value * 3600
	}
	return prem, nil
}

func (l *loader) actions(in []actionYAML) ([]model.Action, error) {
	var out []model.Action
	for _, a := range in {
		k, err := l.net.LinkIndex(a.Link)
		if err != nil {
			return nil, err
		}
		act := model.Action{Link: k, Setting: model.Missing}
		if a.Setting != nil {
			act.Status = model.StatusActive
			act.Setting = *a.Setting
		} else if act.Status, err = parseStatus(a.Status, model.StatusOpen); err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, nil
}

package kb

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

func junction(id string, elev float64) *model.Node {
	return &model.Node{ID: id, Kind: model.Junction, Elevation: elev}
}

func reservoir(id string, head float64) *model.Node {
	return &model.Node{ID: id, Kind: model.Reservoir, Elevation: head}
}

func pipe(id string, from, to int) *model.Link {
	return &model.Link{
		ID: id, Kind: model.Pipe, From: from, To: to,
		Length: 1000, Diameter: 1, Roughness: 100,
		InitStatus: model.StatusOpen, InitSetting: 100,
	}
}

func smallNetwork(t *testing.T) *Network {
	t.Helper()
	net := NewNetwork()
	r, err := net.AddNode(reservoir("R1", 100))
	if err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	j, err := net.AddNode(junction("J1", 0))
	if err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	if _, err := net.AddLink(pipe("P1", r, j)); err != nil {
		t.Fatalf("AddLink error: %v", err)
	}
	return net
}

func TestAddAndLookup(t *testing.T) {
	net := smallNetwork(t)
	i, err := net.NodeIndex("J1")
	if err != nil || i != 1 {
		t.Fatalf("NodeIndex(J1) = %d, %v; want 1", i, err)
	}
	if _, err := net.LinkIndex("nope"); !errors.Is(err, ErrUnknownLink) {
		t.Fatalf("LinkIndex(nope) error = %v, want ErrUnknownLink", err)
	}
	if got, _ := net.Count(model.CountTanks); got != 1 {
		t.Fatalf("tank count = %d, want 1", got)
	}
	if got, _ := net.Count(model.CountLinks); got != 1 {
		t.Fatalf("link count = %d, want 1", got)
	}
}

func TestAddDuplicateAndBadEndpoints(t *testing.T) {
	net := smallNetwork(t)
	if _, err := net.AddNode(junction("J1", 5)); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate node error = %v, want ErrDuplicateID", err)
	}
	if _, err := net.AddLink(pipe("P2", 0, 7)); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("bad endpoint error = %v, want ErrUnknownNode", err)
	}
	if _, err := net.AddLink(pipe("P3", 1, 1)); !errors.Is(err, ErrSameEndpoints) {
		t.Fatalf("same endpoints error = %v, want ErrSameEndpoints", err)
	}
}

func TestValidateRequiresFixedGrade(t *testing.T) {
	net := NewNetwork()
	a, _ := net.AddNode(junction("A", 0))
	b, _ := net.AddNode(junction("B", 0))
	if _, err := net.AddLink(pipe("P", a, b)); err != nil {
		t.Fatalf("AddLink error: %v", err)
	}
	if err := net.Validate(); !errors.Is(err, ErrNoFixedGrade) {
		t.Fatalf("Validate error = %v, want ErrNoFixedGrade", err)
	}
}

func TestValidateRejectsBadOptions(t *testing.T) {
	net := smallNetwork(t)
	net.Options.Trials = 0
	if err := net.Validate(); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("Validate error = %v, want ErrInvalidOptions", err)
	}
}

func TestValidateRejectsValveAtTank(t *testing.T) {
	net := smallNetwork(t)
	v := &model.Link{ID: "V1", Kind: model.PRV, From: 0, To: 1, Diameter: 1, InitSetting: 10, InitStatus: model.StatusActive}
	if _, err := net.AddLink(v); err != nil {
		t.Fatalf("AddLink error: %v", err)
	}
	if err := net.Validate(); !errors.Is(err, ErrValveConnection) {
		t.Fatalf("Validate error = %v, want ErrValveConnection", err)
	}
}

func TestDeriveTankGeometry(t *testing.T) {
	net := smallNetwork(t)
	tank := &model.Node{ID: "T1", Kind: model.Tank, Elevation: 50, Storage: &model.TankParams{
		Diameter: 10, MinLevel: 2, MaxLevel: 12, InitLevel: 7,
		VolumeCurve: model.NoIndex, HeadPattern: model.NoIndex, MixFraction: 0.5,
	}}
	if _, err := net.AddNode(tank); err != nil {
		t.Fatalf("AddNode error: %v", err)
	}
	if err := net.DeriveTank(tank); err != nil {
		t.Fatalf("DeriveTank error: %v", err)
	}
	ts := tank.Storage
	area := math.Pi * 25
	if math.Abs(ts.Area-area) > 1e-9 {
		t.Fatalf("area = %v, want %v", ts.Area, area)
	}
	if ts.Hmin != 52 || ts.Hmax != 62 || ts.H0 != 57 {
		t.Fatalf("heads = %v/%v/%v, want 52/62/57", ts.Hmin, ts.Hmax, ts.H0)
	}
	if math.Abs(ts.Vmax-12*area) > 1e-9 {
		t.Fatalf("Vmax = %v, want %v", ts.Vmax, 12*area)
	}
	if math.Abs(ts.V1max-0.5*ts.Vmax) > 1e-9 {
		t.Fatalf("V1max = %v, want half of Vmax", ts.V1max)
	}
	if h := net.TankGrade(tank, net.TankVolume(tank, 58.5)); math.Abs(h-58.5) > 1e-9 {
		t.Fatalf("grade/volume round trip = %v, want 58.5", h)
	}

	tank.Storage.InitLevel = 20
	if err := net.DeriveTank(tank); !errors.Is(err, ErrTankLevels) {
		t.Fatalf("DeriveTank error = %v, want ErrTankLevels", err)
	}
}

func TestDerivePumpCurves(t *testing.T) {
	net := smallNetwork(t)
	one, _ := net.AddCurve("C1", model.CurvePump, []float64{2}, []float64{90})
	three, _ := net.AddCurve("C3", model.CurvePump, []float64{0, 2, 4}, []float64{120, 100, 40})
	pump := &model.Link{ID: "PU", Kind: model.Pump, From: 0, To: 1}
	if _, err := net.AddLink(pump); err != nil {
		t.Fatalf("AddLink error: %v", err)
	}

	pump.Pump.HeadCurve = one
	if err := net.DerivePump(pump); err != nil {
		t.Fatalf("DerivePump error: %v", err)
	}
	if got := pump.Pump.H0 - pump.Pump.R*4; math.Abs(got-90) > 1e-9 {
		t.Fatalf("one-point curve head at design flow = %v, want 90", got)
	}

	pump.Pump.HeadCurve = three
	if err := net.DerivePump(pump); err != nil {
		t.Fatalf("DerivePump error: %v", err)
	}
	p := pump.Pump
	for i, q := range []float64{2, 4} {
		want := []float64{100, 40}[i]
		if got := p.H0 - p.R*math.Pow(q, p.N); math.Abs(got-want) > 1e-6 {
			t.Fatalf("three-point fit at q=%v = %v, want %v", q, got, want)
		}
	}

	if err := net.SetCurve(three, []float64{0, 2, 4}, []float64{120, 130, 40}); !errors.Is(err, ErrBadPumpCurve) {
		t.Fatalf("SetCurve error = %v, want ErrBadPumpCurve", err)
	}
	if got := net.Curves[three].Y[1]; got != 100 {
		t.Fatalf("rejected SetCurve left y[1] = %v, want 100", got)
	}
}

func TestSetCurveRejectsNonIncreasingX(t *testing.T) {
	net := smallNetwork(t)
	c, _ := net.AddCurve("C", model.CurveGeneric, []float64{1, 2}, []float64{1, 2})
	if err := net.SetCurve(c, []float64{1, 1}, []float64{3, 4}); !errors.Is(err, ErrBadCurve) {
		t.Fatalf("SetCurve error = %v, want ErrBadCurve", err)
	}
}

func TestSubscribeReceivesPatternEvents(t *testing.T) {
	net := smallNetwork(t)
	p, _ := net.AddPattern("P", []float64{1, 2})
	var got []Event
	unsub := net.Subscribe(func(e Event) { got = append(got, e) })
	if err := net.SetPatternValue(p, 1, 3); err != nil {
		t.Fatalf("SetPatternValue error: %v", err)
	}
	unsub()
	if err := net.SetPatternValue(p, 0, 4); err != nil {
		t.Fatalf("SetPatternValue error: %v", err)
	}
	if len(got) != 1 || got[0].Type != EventPatternChanged || got[0].Index != p {
		t.Fatalf("events = %#v, want one pattern change", got)
	}
}

func TestControlOnCheckValveRejected(t *testing.T) {
	net := smallNetwork(t)
	net.Links[0].Kind = model.CVPipe
	_, err := net.AddControl(model.Control{Type: model.ControlTimer, Link: 0, Status: model.StatusClosed, Setting: model.Missing, Node: model.NoIndex, Time: 3600})
	if !errors.Is(err, ErrControlCV) {
		t.Fatalf("AddControl error = %v, want ErrControlCV", err)
	}
}

func TestPatternAndCurveRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("pattern set then get yields same values", prop.ForAll(
		func(factors []float64) bool {
			if len(factors) == 0 {
				return true
			}
			net := NewNetwork()
			i, err := net.AddPattern("P", []float64{1})
			if err != nil {
				return false
			}
			if err := net.SetPattern(i, factors); err != nil {
				return false
			}
			p, _ := net.Pattern(i)
			if len(p.Factors) != len(factors) {
				return false
			}
			for k := range factors {
				if p.Factors[k] != factors[k] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(0, 10)),
	))

	properties.Property("curve set then get yields same points", prop.ForAll(
		func(steps []float64) bool {
			if len(steps) == 0 {
				return true
			}
			x := make([]float64, len(steps))
			y := make([]float64, len(steps))
			acc := 0.0
			for k, s := range steps {
				acc += s
				x[k] = acc
				y[k] = 2 * s
			}
			net := NewNetwork()
			i, err := net.AddCurve("C", model.CurveGeneric, nil, nil)
			if err != nil {
				return false
			}
			if err := net.SetCurve(i, x, y); err != nil {
				return false
			}
			c, _ := net.Curve(i)
			for k := range x {
				if c.X[k] != x[k] || c.Y[k] != y[k] {
					return false
				}
			}
			return c.Len() == len(x)
		},
		gen.SliceOf(gen.Float64Range(0.5, 5)),
	))

	properties.TestingRun(t)
}

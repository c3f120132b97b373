package model

// FlowUnits selects the units of flow (and by extension US or SI units)
// used by the parameter accessors.
type FlowUnits int

const (
	CFS FlowUnits = iota
	GPM
	MGD
	IMGD
	AFD
	LPS
	LPM
	MLD
	CMH
	CMD
)

// IsSI reports whether the flow units imply metric units for other
// quantities.
func (u FlowUnits) IsSI() bool { return u >= LPS }

var flowUnitNames = [...]string{"CFS", "GPM", "MGD", "IMGD", "AFD", "LPS", "LPM", "MLD", "CMH", "CMD"}

func (u FlowUnits) String() string {
	if u < 0 || int(u) >= len(flowUnitNames) {
		return "unknown"
	}
	return flowUnitNames[u]
}

// ParseFlowUnits maps a name such as "GPM" to its FlowUnits value.
func ParseFlowUnits(s string) (FlowUnits, bool) {
	for i, n := range flowUnitNames {
		if n == s {
			return FlowUnits(i), true
		}
	}
	return CFS, false
}

// HeadlossFormula selects the pipe friction model.
type HeadlossFormula int

const (
	HazenWilliams HeadlossFormula = iota
	DarcyWeisbach
	ChezyManning
)

// QualityType selects the water-quality analysis.
type QualityType int

const (
	QualNone QualityType = iota
	QualChem
	QualAge
	QualTrace
)

func (q QualityType) String() string {
	switch q {
	case QualNone:
		return "none"
	case QualChem:
		return "chemical"
	case QualAge:
		return "age"
	case QualTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// StatisticType selects how reporting-period values are aggregated.
type StatisticType int

const (
	StatSeries StatisticType = iota
	StatAverage
	StatMinimum
	StatMaximum
	StatRange
)

func (s StatisticType) String() string {
	switch s {
	case StatAverage:
		return "average"
	case StatMinimum:
		return "minimum"
	case StatMaximum:
		return "maximum"
	case StatRange:
		return "range"
	default:
		return "series"
	}
}

// Options holds the hydraulic analysis options.
type Options struct {
	Units    FlowUnits       `validate:"gte=0,lte=9"`
	Headloss HeadlossFormula `validate:"gte=0,lte=2"`

	Trials   int     `validate:"gte=1"`
	Accuracy float64 `validate:"gt=0"`
	// ExtraTrials is the number of trials run with frozen statuses after
	// Trials is exhausted. Negative stops the run (UNBALANCED STOP).
	ExtraTrials int
	CheckFreq   int `validate:"gte=1"`
	MaxCheck    int `validate:"gte=0"`
	DampLimit   float64
	// MaxControlRetries bounds re-solves triggered by pressure controls.
	MaxControlRetries int `validate:"gte=0"`
	// Strict turns non-convergence into a fatal step error.
	Strict bool

	SpecificGravity  float64 `validate:"gt=0"`
	Viscosity        float64 `validate:"gt=0"` // relative to water at 20C
	DemandMultiplier float64 `validate:"gte=0"`
	EmitterExponent  float64 `validate:"gt=0"`
	DefaultPattern   int

	GlobalEfficiency float64 `validate:"gt=0,lte=100"`
	GlobalPrice      float64 `validate:"gte=0"`
	GlobalPattern    int
	DemandCharge     float64 `validate:"gte=0"`

	Quality QualityOptions
}

// QualityOptions holds the water-quality analysis options.
type QualityOptions struct {
	Type      QualityType `validate:"gte=0,lte=3"`
	ChemName  string
	ChemUnits string
	TraceNode int
	// Tolerance is the concentration difference below which adjacent
	// segments are merged.
	Tolerance   float64 `validate:"gte=0"`
	Diffusivity float64 `validate:"gte=0"` // relative to chlorine at 20C
	BulkOrder   float64
	WallOrder   float64 `validate:"gte=0,lte=1"`
	TankOrder   float64
	// Climit is the limiting concentration of growth/decay reactions.
	Climit float64 `validate:"gte=0"`
	// SegmentCapacity is the initial ring capacity per link and tank.
	SegmentCapacity int `validate:"gte=1"`
}

// Times holds the time parameters, all in seconds.
type Times struct {
	Duration     int64 `validate:"gte=0"`
	HydStep      int64 `validate:"gt=0"`
	QualStep     int64 `validate:"gt=0"`
	PatternStep  int64 `validate:"gt=0"`
	PatternStart int64 `validate:"gte=0"`
	ReportStep   int64 `validate:"gt=0"`
	ReportStart  int64 `validate:"gte=0"`
	RuleStep     int64 `validate:"gt=0"`
	StartClock   int64 `validate:"gte=0,lt=86400"`
	Statistic    StatisticType
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Units:             GPM,
		Headloss:          HazenWilliams,
		Trials:            200,
		Accuracy:          0.001,
		ExtraTrials:       -1,
		CheckFreq:         2,
		MaxCheck:          10,
		MaxControlRetries: 10,
		SpecificGravity:   1,
		Viscosity:         1,
		DemandMultiplier:  1,
		EmitterExponent:   0.5,
		DefaultPattern:    NoIndex,
		GlobalEfficiency:  75,
		GlobalPattern:     NoIndex,
		Quality: QualityOptions{
			TraceNode:       NoIndex,
			Tolerance:       0.01,
			Diffusivity:     1,
			BulkOrder:       1,
			WallOrder:       1,
			TankOrder:       1,
			SegmentCapacity: 16,
		},
	}
}

// DefaultTimes returns a single-period analysis with hourly steps.
func DefaultTimes() Times {
	return Times{
		HydStep:     3600,
		QualStep:    300,
		PatternStep: 3600,
		ReportStep:  3600,
		RuleStep:    360,
	}
}

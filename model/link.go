package model

// LinkKind tags the link variant. The solver dispatches on it exhaustively.
type LinkKind int

const (
	CVPipe LinkKind = iota // pipe with check valve
	Pipe
	Pump
	PRV // pressure reducing valve
	PSV // pressure sustaining valve
	PBV // pressure breaker valve
	FCV // flow control valve
	TCV // throttle control valve
	GPV // general purpose valve
)

func (k LinkKind) String() string {
	switch k {
	case CVPipe:
		return "cvpipe"
	case Pipe:
		return "pipe"
	case Pump:
		return "pump"
	case PRV:
		return "prv"
	case PSV:
		return "psv"
	case PBV:
		return "pbv"
	case FCV:
		return "fcv"
	case TCV:
		return "tcv"
	case GPV:
		return "gpv"
	default:
		return "unknown"
	}
}

// IsValve reports whether the kind is one of the valve variants.
func (k LinkKind) IsValve() bool { return k >= PRV }

// LinkStatus is the hydraulic status of a link. Values at or below Closed
// carry no flow.
type LinkStatus int

const (
	StatusXHead      LinkStatus = iota // pump cannot deliver head
	StatusTempClosed                   // temporarily closed (tank full/empty)
	StatusClosed
	StatusOpen
	StatusActive    // control valve regulating
	StatusXFlow     // pump exceeds maximum flow
	StatusXFCV      // FCV cannot supply flow
	StatusXPressure // valve cannot supply pressure
	StatusFilling
	StatusEmptying
)

func (s LinkStatus) String() string {
	switch s {
	case StatusXHead:
		return "xhead"
	case StatusTempClosed:
		return "tempclosed"
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusXFlow:
		return "xflow"
	case StatusXFCV:
		return "xfcv"
	case StatusXPressure:
		return "xpressure"
	case StatusFilling:
		return "filling"
	case StatusEmptying:
		return "emptying"
	default:
		return "unknown"
	}
}

// IsClosed reports whether the status blocks flow.
func (s LinkStatus) IsClosed() bool { return s <= StatusClosed }

// Missing marks an absent valve setting: a valve whose status was fixed
// open or closed by a control has no active setting.
const Missing = -1.0e10

// IsMissing reports whether a setting value is the Missing sentinel.
func IsMissing(v float64) bool { return v <= Missing/2 }

// PumpCurveKind describes how a pump's head curve is represented.
type PumpCurveKind int

const (
	PumpConstHP    PumpCurveKind = iota // constant horsepower
	PumpPowerFunc                       // h = h0 - r*q^n
	PumpCustom                          // piecewise linear curve
	PumpNoCurve
)

// PumpParams carries pump-only parameters.
type PumpParams struct {
	CurveKind    PumpCurveKind
	HeadCurve    int
	Power        float64 // horsepower for PumpConstHP
	SpeedPattern int
	EffCurve     int
	EnergyPrice  float64
	PricePattern int

	// Derived from the head curve.
	H0, R, N float64 // shutoff head, resistance, exponent
	Qmax     float64 // flow at zero head
	Hmax     float64 // maximum head
	Q0       float64 // design flow
}

// Link is a pipe, pump or valve. Pump links carry a non-nil Pump.
type Link struct {
	ID       string
	Kind     LinkKind
	From, To int
	Length   float64 // ft
	Diameter float64 // ft
	// Roughness is the C-factor (Hazen-Williams), roughness height in
	// feet (Darcy-Weisbach) or Manning n.
	Roughness float64
	MinorLoss float64 // dimensionless K
	Kb        float64 // bulk reaction coefficient (1/sec)
	Kw        float64 // wall reaction coefficient (ft/sec or mass/ft2/sec)

	InitStatus LinkStatus
	// InitSetting is pressure (ft) for PRV/PSV/PBV, flow (cfs) for FCV,
	// loss coefficient for TCV, curve index for GPV, relative speed for
	// pumps and the roughness for pipes.
	InitSetting float64

	Pump *PumpParams
	Tag  string

	// Derived resistance terms.
	Resistance float64
	KmFactor   float64 // 0.02517*K/d^4
}

package model

// NodeKind tags the node variant. Junctions are solved for head; reservoirs
// and tanks are fixed-grade nodes whose head is known at every solve.
type NodeKind int

const (
	Junction NodeKind = iota
	Reservoir
	Tank
)

func (k NodeKind) String() string {
	switch k {
	case Junction:
		return "junction"
	case Reservoir:
		return "reservoir"
	case Tank:
		return "tank"
	default:
		return "unknown"
	}
}

// NoIndex marks an absent pattern, curve, node or link reference.
const NoIndex = -1

// Demand is one demand category at a junction.
type Demand struct {
	Base    float64 // cfs
	Pattern int     // pattern index or NoIndex
	Name    string
}

// SourceType selects how a quality source modifies the water leaving a node.
type SourceType int

const (
	SourceConcen SourceType = iota
	SourceMass
	SourceSetpoint
	SourceFlowPaced
)

// Source is a water-quality source attached to a node.
type Source struct {
	Type     SourceType
	Strength float64 // concentration or mass rate (mass/sec)
	Pattern  int
	// MassRate is the source mass injected per second over the last
	// quality step. Computed.
	MassRate float64
}

// MixModel is a tank mixing model.
type MixModel int

const (
	MixFull   MixModel = iota // single well-mixed compartment
	MixTwo                    // mixing zone + ambient zone
	MixFIFO                   // plug flow, first in first out
	MixLIFO                   // plug flow, last in first out
)

func (m MixModel) String() string {
	switch m {
	case MixFull:
		return "mixed"
	case MixTwo:
		return "2comp"
	case MixFIFO:
		return "fifo"
	case MixLIFO:
		return "lifo"
	default:
		return "unknown"
	}
}

// TankParams carries the parameters of a storage node. Reservoirs use only
// HeadPattern; tanks use the geometry fields. All lengths are in feet
// above the node elevation, volumes in cubic feet.
type TankParams struct {
	Diameter    float64
	Area        float64
	InitLevel   float64
	MinLevel    float64
	MaxLevel    float64
	MinVolume   float64
	VolumeCurve int

	MixModel    MixModel
	MixFraction float64
	Kb          float64 // bulk reaction coefficient (1/sec)

	HeadPattern int // reservoirs only

	// Derived by the knowledge base whenever geometry changes.
	Hmin, Hmax, H0 float64
	Vmin, Vmax, V0 float64
	V1max          float64 // mixing zone volume (MixTwo)
}

// IsReservoir reports whether the storage node has no volume.
func (t *TankParams) IsReservoir() bool { return t.Area == 0 && t.VolumeCurve == NoIndex }

// Node is a junction, reservoir or tank. Tank and reservoir nodes carry a
// non-nil Storage.
type Node struct {
	ID        string
	Kind      NodeKind
	Elevation float64 // ft
	Demands   []Demand
	Emitter   float64 // flow coefficient, cfs / ft^(1/Qexp)
	InitQual  float64
	Source    *Source
	Storage   *TankParams
	Tag       string
}

// IsFixedGrade reports whether the node head is known during a solve.
func (n *Node) IsFixedGrade() bool { return n.Kind != Junction }

// PrimaryDemand returns the first demand category, creating it when absent.
func (n *Node) PrimaryDemand() *Demand {
	if len(n.Demands) == 0 {
		n.Demands = append(n.Demands, Demand{Pattern: NoIndex})
	}
	return &n.Demands[0]
}

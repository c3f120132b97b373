package model

// ControlType selects the trigger of a simple control.
type ControlType int

const (
	ControlLowLevel  ControlType = iota // node level/pressure below grade
	ControlHiLevel                      // node level/pressure above grade
	ControlTimer                        // elapsed simulation time
	ControlTimeOfDay                    // clock time of day
)

func (c ControlType) String() string {
	switch c {
	case ControlLowLevel:
		return "lowlevel"
	case ControlHiLevel:
		return "hilevel"
	case ControlTimer:
		return "timer"
	case ControlTimeOfDay:
		return "timeofday"
	default:
		return "unknown"
	}
}

// Control is a single-condition control acting on one link.
type Control struct {
	Type ControlType
	Link int
	// Status is Open, Closed or Active. Setting is Missing unless the
	// control assigns a valve setting or pump speed.
	Status  LinkStatus
	Setting float64
	Node    int     // controlling node for level controls, NoIndex otherwise
	Grade   float64 // head (ft) for level controls
	Time    int64   // seconds for timer controls, seconds of day for time-of-day
}

// RuleObject identifies the subject of a rule premise.
type RuleObject int

const (
	ObjectNode RuleObject = iota
	ObjectLink
	ObjectSystem
)

// RuleVariable is the attribute compared by a premise.
type RuleVariable int

const (
	VarDemand RuleVariable = iota
	VarHead
	VarGrade
	VarLevel
	VarPressure
	VarFlow
	VarStatus
	VarSetting
	VarPower
	VarTime
	VarClockTime
	VarFillTime
	VarDrainTime
)

// RelOp is a premise operator.
type RelOp int

const (
	OpEQ RelOp = iota
	OpNE
	OpLE
	OpGE
	OpLT
	OpGT
	OpIs
	OpNot
	OpBelow
	OpAbove
)

// Logic joins a premise to the preceding ones.
type Logic int

const (
	LogicIf Logic = iota
	LogicAnd
	LogicOr
)

// Premise is one clause of a rule condition.
type Premise struct {
	Logic    Logic
	Object   RuleObject
	Index    int // node or link index; ignored for system premises
	Variable RuleVariable
	Op       RelOp
	// Status is compared for VarStatus premises, Value otherwise. Values
	// are in user units; fill and drain times in seconds, times of day
	// in seconds after midnight.
	Status LinkStatus
	Value  float64
}

// Action opens or closes a link, or, with Status Active, assigns Setting
// in user units.
type Action struct {
	Link    int
	Status  LinkStatus
	Setting float64
}

// Rule is a prioritized conditional with THEN and ELSE actions.
type Rule struct {
	ID       string
	Priority float64
	Premises []Premise
	Then     []Action
	Else     []Action
}

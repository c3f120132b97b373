package model

// NodeParam is a node parameter code for the indexed accessors.
type NodeParam int

const (
	NodeElevation NodeParam = iota
	NodeBaseDemand
	NodePattern
	NodeEmitter
	NodeInitQual
	NodeSourceQual
	NodeSourcePat
	NodeSourceType
	NodeTankLevel
	NodeDemand
	NodeHead
	NodePressure
	NodeQuality
	NodeSourceMass
	NodeInitVolume
	NodeMixModel
	NodeMixZoneVol
	NodeTankDiam
	NodeMinVolume
	NodeVolCurve
	NodeMinLevel
	NodeMaxLevel
	NodeMixFraction
	NodeTankKbulk
	NodeTankVolume
	NodeMaxVolume
)

// LinkParam is a link parameter code for the indexed accessors.
type LinkParam int

const (
	LinkDiameter LinkParam = iota
	LinkLength
	LinkRoughness
	LinkMinorLoss
	LinkInitStatus
	LinkInitSetting
	LinkKbulk
	LinkKwall
	LinkFlow
	LinkVelocity
	LinkHeadloss
	LinkStatusCode
	LinkSetting
	LinkEnergy
	LinkQuality
	LinkPattern
)

// TimeParam is a time parameter code.
type TimeParam int

const (
	TimeDuration TimeParam = iota
	TimeHydStep
	TimeQualStep
	TimePatternStep
	TimePatternStart
	TimeReportStep
	TimeReportStart
	TimeRuleStep
	TimeStatistic
	TimePeriods
	TimeStartTime
	TimeHtime
	TimeQtime
	TimeHaltFlag
	TimeNextEvent
)

// StatisticParam is a solver diagnostic code.
type StatisticParam int

const (
	StatIterations StatisticParam = iota
	StatRelativeError
)

// CountType is a component count code.
type CountType int

const (
	CountNodes CountType = iota
	CountTanks
	CountLinks
	CountPatterns
	CountCurves
	CountControls
)

// OptionParam is an analysis option code.
type OptionParam int

const (
	OptTrials OptionParam = iota
	OptAccuracy
	OptTolerance
	OptEmitExpon
	OptDemandMult
)

// Flags for InitH and InitQ.
const (
	NoSave   = 0
	Save     = 1
	InitFlow = 10
)

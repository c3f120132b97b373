package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/timectrl"
)

// Warning codes embedded in step results. They never abort a run on their
// own.
const (
	WarnUnbalanced   = 1
	WarnUnstable     = 2
	WarnDisconnected = 3
	WarnPumps        = 4
	WarnValves       = 5
	WarnPressures    = 6
)

// Error is an engine error carrying a numeric code.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("error %d: %s", e.Code, ErrorMessage(e.Code))
	}
	return fmt.Sprintf("error %d: %s: %s", e.Code, ErrorMessage(e.Code), e.Msg)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code int) *Error { return &Error{Code: code} }

func errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrOutOfMemory         = newError(101)
	ErrNoNetwork           = newError(102)
	ErrHydNotInitialized   = newError(103)
	ErrNoHydraulics        = newError(104)
	ErrQualNotInitialized  = newError(105)
	ErrNoResults           = newError(106)
	ErrHydFromFile         = newError(107)
	ErrHydFileInUse        = newError(108)
	ErrTimeParamActive     = newError(109)
	ErrHydSolve            = newError(110)
	ErrHydNotOpen          = newError(111)
	ErrAlreadyOpen         = newError(112)
	ErrReentrant           = newError(113)
	ErrQualNotOpen         = newError(114)
	ErrUnbalancedHalt      = newError(115)
	ErrQualSolve           = newError(120)
	ErrCanceled            = newError(130)
	ErrInvalidValue        = newError(202)
	ErrUndefinedNode       = newError(203)
	ErrUndefinedLink       = newError(204)
	ErrUndefinedPattern    = newError(205)
	ErrUndefinedCurve      = newError(206)
	ErrControlCV           = newError(207)
	ErrInvalidOption       = newError(213)
	ErrDuplicateID         = newError(215)
	ErrValveConnection     = newError(219)
	ErrValveToValve        = newError(220)
	ErrSameEndpoints       = newError(222)
	ErrTooFewNodes         = newError(223)
	ErrNoFixedGrade        = newError(224)
	ErrTankLevels          = newError(225)
	ErrNoPumpCurve         = newError(226)
	ErrBadPumpCurve        = newError(227)
	ErrBadCurve            = newError(230)
	ErrUnconnectedNode     = newError(233)
	ErrNoSource            = newError(240)
	ErrNoControl           = newError(241)
	ErrInvalidParam        = newError(251)
	ErrNoDemandCategory    = newError(253)
	ErrHydFileOpen         = newError(305)
	ErrHydFileMismatch     = newError(306)
	ErrHydFileRead         = newError(307)
	ErrHydFileWrite        = newError(308)
	ErrInvalidNetworkInput = newError(200)
)

var messages = map[int]string{
	WarnUnbalanced:   "system hydraulically unbalanced",
	WarnUnstable:     "system may be hydraulically unstable",
	WarnDisconnected: "system disconnected",
	WarnPumps:        "pumps cannot deliver enough flow or head",
	WarnValves:       "valves cannot deliver enough flow or pressure",
	WarnPressures:    "system has negative pressures",

	101: "insufficient memory available",
	102: "no network data available",
	103: "hydraulics not initialized",
	104: "no hydraulics for water quality analysis",
	105: "water quality not initialized",
	106: "no results saved to report on",
	107: "hydraulics supplied from external file",
	108: "cannot use external file while hydraulics solver is active",
	109: "cannot change time parameter when solver is active",
	110: "cannot solve network hydraulic equations",
	111: "hydraulics solver not opened",
	112: "solver is already open",
	113: "engine call made from inside a step listener",
	114: "water quality solver not opened",
	115: "run halted on unbalanced hydraulics",
	120: "cannot solve water quality transport equations",
	130: "run canceled",

	200: "one or more errors detected in input data",
	202: "function call contains illegal numeric value",
	203: "function call refers to undefined node",
	204: "function call refers to undefined link",
	205: "function call refers to undefined time pattern",
	206: "function call refers to undefined curve",
	207: "function call attempts to control a check valve",
	213: "illegal option value",
	215: "duplicate id",
	219: "illegal valve connection to tank node",
	220: "illegal valve connection to another valve",
	222: "link has same start and end nodes",
	223: "not enough nodes in network",
	224: "no tanks or reservoirs in network",
	225: "invalid lower/upper levels for tank",
	226: "no head curve supplied for pump",
	227: "invalid head curve for pump",
	230: "curve has nonincreasing x-values",
	233: "network has unconnected node",
	240: "function call refers to nonexistent source",
	241: "function call refers to nonexistent control",
	251: "function call contains invalid parameter code",
	253: "function call refers to nonexistent demand category",

	305: "cannot open hydraulics file",
	306: "hydraulics file does not match network data",
	307: "cannot read hydraulics file",
	308: "cannot save results to file",
}

// ErrorMessage returns the text of an error or warning code.
func ErrorMessage(code int) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return fmt.Sprintf("unknown error code %d", code)
}

// CodeOf returns the engine code carried by err, or 0 when err carries
// none.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

var kbCodes = []struct {
	err  error
	code int
}{
	{kb.ErrDuplicateID, 215},
	{kb.ErrEmptyID, 202},
	{kb.ErrUnknownNode, 203},
	{kb.ErrUnknownLink, 204},
	{kb.ErrUnknownPattern, 205},
	{kb.ErrUnknownCurve, 206},
	{kb.ErrUnknownControl, 241},
	{kb.ErrInvalidValue, 202},
	{kb.ErrSameEndpoints, 222},
	{kb.ErrBadCurve, 230},
	{kb.ErrTankLevels, 225},
	{kb.ErrNoPumpCurve, 226},
	{kb.ErrBadPumpCurve, 227},
	{kb.ErrValveConnection, 219},
	{kb.ErrValveToValve, 220},
	{kb.ErrControlCV, 207},
	{kb.ErrNoFixedGrade, 224},
	{kb.ErrTooFewNodes, 223},
	{kb.ErrInvalidOptions, 213},
	{kb.ErrUnconnectedNode, 233},
	{kb.ErrUnknownTraceNode, 203},
	{kb.ErrDemandCategory, 253},
	{kb.ErrNotATank, 203},
	{kb.ErrEmptyPatternCurve, 202},
	{timectrl.ErrTimeReversal, 202},
}

// wrapKB converts a knowledge base error into an engine error with the
// matching code, keeping the original error text.
func wrapKB(err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != 0 {
		return err
	}
	for _, kc := range kbCodes {
		if errors.Is(err, kc.err) {
			return &Error{Code: kc.code, Msg: err.Error()}
		}
	}
	return &Error{Code: 200, Msg: err.Error()}
}

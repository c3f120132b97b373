package core

import "github.com/signalsfoundry/pipenet-simulator/model"

// Unit conversion constants.
const (
	gpmPerCFS  = 448.831
	afdPerCFS  = 1.9837
	mgdPerCFS  = 0.64632
	imgdPerCFS = 0.5382
	lpsPerCFS  = 28.317
	lpmPerCFS  = 1699.0
	cmhPerCFS  = 101.94
	cmdPerCFS  = 2446.6
	mldPerCFS  = 2.4466
	m3PerFT3   = 0.028317
	litersFT3  = 28.317
	mPerFT     = 0.3048
	psiPerFT   = 0.4333
	kwPerHP    = 0.7457
	secPerDay  = 86400

	viscosWater = 1.1e-5 // kinematic viscosity of water at 20C, ft2/s
	diffusCl    = 1.3e-8 // molecular diffusivity of chlorine at 20C, ft2/s
)

// quantity is a physical quantity with a unit conversion factor.
type quantity int

const (
	qElev quantity = iota
	qDemand
	qHead
	qPressure
	qQuality
	qLength
	qDiam
	qFlow
	qVelocity
	qHeadloss
	qVolume
	qPower
	qQualityNone
)

// units holds the user-unit factors, multiplied into internal values on
// output and divided out on input.
type units struct {
	f [qQualityNone + 1]float64
}

func newUnits(opts *model.Options) units {
	var u units
	flow := 1.0
	switch opts.Units {
	case model.GPM:
		flow = gpmPerCFS
	case model.MGD:
		flow = mgdPerCFS
	case model.IMGD:
		flow = imgdPerCFS
	case model.AFD:
		flow = afdPerCFS
	case model.LPS:
		flow = lpsPerCFS
	case model.LPM:
		flow = lpmPerCFS
	case model.MLD:
		flow = mldPerCFS
	case model.CMH:
		flow = cmhPerCFS
	case model.CMD:
		flow = cmdPerCFS
	}
	u.f[qFlow] = flow
	u.f[qDemand] = flow
	u.f[qQualityNone] = 1
	if opts.Units.IsSI() {
		u.f[qElev] = mPerFT
		u.f[qHead] = mPerFT
		u.f[qLength] = mPerFT
		u.f[qVelocity] = mPerFT
		u.f[qDiam] = 1000 * mPerFT
		u.f[qPressure] = mPerFT
		u.f[qVolume] = m3PerFT3
		u.f[qPower] = kwPerHP
	} else {
		u.f[qElev] = 1
		u.f[qHead] = 1
		u.f[qLength] = 1
		u.f[qVelocity] = 1
		u.f[qDiam] = 12
		u.f[qPressure] = psiPerFT * opts.SpecificGravity
		u.f[qVolume] = 1
		u.f[qPower] = 1
	}
	u.f[qHeadloss] = 1
	u.f[qQuality] = 1
	if opts.Quality.Type == model.QualChem {
		u.f[qQuality] = 1 / litersFT3
	}
	return u
}

// out converts an internal value to user units.
func (u units) out(q quantity, v float64) float64 { return v * u.f[q] }

// in converts a user value to internal units.
func (u units) in(q quantity, v float64) float64 {
	if u.f[q] == 0 {
		return v
	}
	return v / u.f[q]
}

package model

// Pattern is a looped sequence of multipliers, one per pattern step.
type Pattern struct {
	ID      string
	Factors []float64
}

// Multiplier returns the factor for a pattern period, looping over the
// sequence. An empty pattern yields 1.
func (p *Pattern) Multiplier(period int64) float64 {
	n := int64(len(p.Factors))
	if n == 0 {
		return 1
	}
	i := period % n
	if i < 0 {
		i += n
	}
	return p.Factors[i]
}

// Average returns the mean multiplier.
func (p *Pattern) Average() float64 {
	if len(p.Factors) == 0 {
		return 1
	}
	var sum float64
	for _, f := range p.Factors {
		sum += f
	}
	return sum / float64(len(p.Factors))
}

// CurveKind records how a curve is used.
type CurveKind int

const (
	CurveGeneric CurveKind = iota
	CurveVolume
	CurvePump
	CurveEfficiency
	CurveHeadloss
)

// Curve is an ordered (x, y) table with strictly increasing x.
type Curve struct {
	ID   string
	Kind CurveKind
	X, Y []float64
}

// Len returns the number of points.
func (c *Curve) Len() int { return len(c.X) }

// Interpolate returns y at x by linear interpolation, extrapolating from
// the end segments.
func (c *Curve) Interpolate(x float64) float64 {
	n := len(c.X)
	switch n {
	case 0:
		return 0
	case 1:
		return c.Y[0]
	}
	if x <= c.X[0] {
		return extrapolate(c.X[0], c.Y[0], c.X[1], c.Y[1], x)
	}
	for i := 1; i < n; i++ {
		if x <= c.X[i] {
			return extrapolate(c.X[i-1], c.Y[i-1], c.X[i], c.Y[i], x)
		}
	}
	return extrapolate(c.X[n-2], c.Y[n-2], c.X[n-1], c.Y[n-1], x)
}

// Inverse returns x at y for a curve with monotonically increasing y.
func (c *Curve) Inverse(y float64) float64 {
	n := len(c.Y)
	switch n {
	case 0:
		return 0
	case 1:
		return c.X[0]
	}
	if y <= c.Y[0] {
		return extrapolate(c.Y[0], c.X[0], c.Y[1], c.X[1], y)
	}
	for i := 1; i < n; i++ {
		if y <= c.Y[i] {
			return extrapolate(c.Y[i-1], c.X[i-1], c.Y[i], c.X[i], y)
		}
	}
	return extrapolate(c.Y[n-2], c.X[n-2], c.Y[n-1], c.X[n-1], y)
}

// Segment returns the intercept and slope of the linear segment containing x
// so that y ≈ h0 + r*x near x.
func (c *Curve) Segment(x float64) (h0, r float64) {
	n := len(c.X)
	if n < 2 {
		if n == 1 {
			return c.Y[0], 0
		}
		return 0, 0
	}
	i := 1
	for i < n-1 && x > c.X[i] {
		i++
	}
	dx := c.X[i] - c.X[i-1]
	if dx == 0 {
		return c.Y[i], 0
	}
	r = (c.Y[i] - c.Y[i-1]) / dx
	h0 = c.Y[i-1] - r*c.X[i-1]
	return h0, r
}

func extrapolate(x1, y1, x2, y2, x float64) float64 {
	if x2 == x1 {
		return y1
	}
	return y1 + (x-x1)*(y2-y1)/(x2-x1)
}

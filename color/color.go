// Package color implements the color math for sunsetr: blending between day
// and night setpoints, black-body white points, gamma ramp generation for
// ramp-based backends, and color transform matrices for CTM backends.
package color

import "math"

// Neutral is the identity state restored on shutdown.
var Neutral = State{Temperature: 6500, Gamma: 100}

// State is a target display color: a temperature in Kelvin and a gamma
// percentage applied as a per-channel brightness multiplier.
type State struct {
	Temperature int     // Kelvin, 1000..20000
	Gamma       float64 // percent, 10..200
}

// Equal compares states to the nearest Kelvin and 0.01%.
func (s State) Equal(o State) bool {
	return s.Temperature == o.Temperature && math.Round(s.Gamma*100) == math.Round(o.Gamma*100)
}

// WhitePoint is a per-channel multiplier where 1 is neutral.
type WhitePoint [3]float64

// Bezier control points for the transition easing curve. P0=(0,0) and
// P3=(1,1) are implicit.
const (
	bezierP1X = 0.33
	bezierP1Y = 0.07
	bezierP2X = 0.33
	bezierP2Y = 1.0
)

// Ease maps a linear progress value in [0, 1] to an eased blending weight
// using the cubic Bezier above. The curve is evaluated by solving the x
// polynomial for the curve parameter, then evaluating y.
func Ease(progress float64) float64 {
	switch {
	case progress <= 0:
		return 0
	case progress >= 1:
		return 1
	}
	t := solveBezierX(progress)
	return bezierComponent(t, bezierP1Y, bezierP2Y)
}

func bezierComponent(t, c1, c2 float64) float64 {
	u := 1 - t
	return 3*u*u*t*c1 + 3*u*t*t*c2 + t*t*t
}

func solveBezierX(x float64) float64 {
	// Newton iterations with a bisection fallback; x(t) is monotonic for our
	// control points.
	t := x
	for range 8 {
		fx := bezierComponent(t, bezierP1X, bezierP2X) - x
		if math.Abs(fx) < 1e-7 {
			return t
		}
		u := 1 - t
		dx := 3*u*u*bezierP1X + 6*u*t*(bezierP2X-bezierP1X) + 3*t*t*(1-bezierP2X)
		if dx < 1e-6 {
			break
		}
		t -= fx / dx
	}
	lo, hi := 0.0, 1.0
	for range 32 {
		t = (lo + hi) / 2
		if bezierComponent(t, bezierP1X, bezierP2X) < x {
			lo = t
		} else {
			hi = t
		}
	}
	return t
}

// Interpolate blends between two states at the given progress, applying the
// easing curve. Progress 0 yields exactly from, progress 1 exactly to.
func Interpolate(from, to State, progress float64) State {
	switch {
	case progress <= 0:
		return from
	case progress >= 1:
		return to
	}
	w := Ease(progress)
	return State{
		Temperature: from.Temperature + int(math.Round(float64(to.Temperature-from.Temperature)*w)),
		Gamma:       from.Gamma + (to.Gamma-from.Gamma)*w,
	}
}

// Lerp blends without easing. The smoothing engine applies its own curve to
// the parameter before calling this.
func Lerp(from, to State, w float64) State {
	switch {
	case w <= 0:
		return from
	case w >= 1:
		return to
	}
	return State{
		Temperature: from.Temperature + int(math.Round(float64(to.Temperature-from.Temperature)*w)),
		Gamma:       from.Gamma + (to.Gamma-from.Gamma)*w,
	}
}

// blackBody approximates the color of a black-body radiator at the given
// temperature using a piecewise polynomial fit, on a 0..255 scale per
// channel.
func blackBody(kelvin float64) (r, g, b float64) {
	t := kelvin / 100
	if t <= 66 {
		r = 255
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
	}
	if t <= 66 {
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}
	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}
	return clamp255(r), clamp255(g), clamp255(b)
}

func clamp255(v float64) float64 {
	return math.Min(255, math.Max(0, v))
}

// neutralR/G/B are the fit's channel values at 6500K, so that the white
// point at 6500K is exactly (1, 1, 1).
var neutralR, neutralG, neutralB = blackBody(6500)

// StateWhitePoint computes the per-channel multipliers for a state: the
// normalized black-body white point scaled by the gamma percentage.
func StateWhitePoint(s State) WhitePoint {
	r, g, b := blackBody(float64(s.Temperature))
	m := s.Gamma / 100
	return WhitePoint{
		r / neutralR * m,
		g / neutralG * m,
		b / neutralB * m,
	}
}

// Ramp fills a gamma ramp for one channel. A weight of 1 produces the
// identity ramp.
func Ramp[C ~uint16 | ~uint32](out []C, weight float64) {
	max := float64(^C(0))
	n := float64(len(out) - 1)
	for i := range out {
		v := math.Round(float64(i) / n * weight * max)
		out[i] = C(math.Min(max, math.Max(0, v)))
	}
}

// Ramps fills the three channel ramps for a state.
func Ramps[C ~uint16 | ~uint32](r, g, b []C, s State) {
	white := StateWhitePoint(s)
	Ramp(r, white[0])
	Ramp(g, white[1])
	Ramp(b, white[2])
}

// CTM returns the 3x3 color transform matrix for a state in row-major
// order. Off-diagonal entries are zero; CTM backends apply the white point
// as a diagonal scale.
func CTM(s State) [9]float64 {
	white := StateWhitePoint(s)
	return [9]float64{
		white[0], 0, 0,
		0, white[1], 0,
		0, 0, white[2],
	}
}

package units

import "math"

const twoPi = 2 * math.Pi

// Rad2Deg converts radians to degrees.
func Rad2Deg(rad float64) float64 { return rad * 180 / math.Pi }

// Deg2Rad converts degrees to radians.
func Deg2Rad(deg float64) float64 { return deg * math.Pi / 180 }

// WrapTo2Pi wraps an angle into [0, 2π).
func WrapTo2Pi(rad float64) float64 {
	r := math.Mod(rad, twoPi)
	if r < 0 {
		r += twoPi
	}
	// a tiny negative input rounds up to exactly 2π after the shift
	if r >= twoPi {
		r = 0
	}
	return r
}

// WrapToPi wraps an angle into (−π, π].
func WrapToPi(rad float64) float64 {
	r := math.Mod(rad+math.Pi, twoPi)
	if r <= 0 {
		r += twoPi
	}
	return r - math.Pi
}

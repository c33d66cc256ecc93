// Package units provides the unit constants and conversions used when packing
// vehicle state into telemetry fields.
package units

// Speed unit constants
const (
	MPS  = "mps"
	CMPS = "cmps"
	MMPS = "mmps"
	KPH  = "kph"
)

// Linear acceleration unit constants
const (
	MPS2 = "mps2"
	G    = "g"
	MG   = "mg"
)

// StandardGravity is the conventional value of g in m/s².
const StandardGravity = 9.80665

// ValidSpeedUnits contains all valid speed unit values
var ValidSpeedUnits = []string{MPS, CMPS, MMPS, KPH}

// ValidAccelUnits contains all valid acceleration unit values
var ValidAccelUnits = []string{MPS2, G, MG}

// IsValidSpeed checks if the given unit is a known speed unit
func IsValidSpeed(unit string) bool {
	for _, validUnit := range ValidSpeedUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// IsValidAccel checks if the given unit is a known acceleration unit
func IsValidAccel(unit string) bool {
	for _, validUnit := range ValidAccelUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
// State stores speeds in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case CMPS:
		return speedMPS * 100
	case MMPS:
		return speedMPS * 1000
	case KPH:
		return speedMPS * 3.6
	case MPS:
		return speedMPS
	default:
		return speedMPS // default to m/s if unknown unit
	}
}

// ConvertAccel converts an acceleration from m/s² to the target units.
func ConvertAccel(accelMPS2 float64, targetUnits string) float64 {
	switch targetUnits {
	case G:
		return accelMPS2 / StandardGravity
	case MG:
		return accelMPS2 / StandardGravity * 1000
	case MPS2:
		return accelMPS2
	default:
		return accelMPS2
	}
}

// MetersToMillimeters scales a distance for the integer millimetre fields.
func MetersToMillimeters(m float64) float64 { return m * 1000 }

// PascalToHectopascal scales a pressure for the hPa fields.
func PascalToHectopascal(pa float64) float64 { return pa / 100 }

// CelsiusToCenti scales a temperature to centi-degrees Celsius.
func CelsiusToCenti(c float64) float64 { return c * 100 }

// VoltsToMillivolts scales a voltage for the mV fields.
func VoltsToMillivolts(v float64) float64 { return v * 1000 }

// MilliampsToCentiamps scales a current for the 10 mA fields.
func MilliampsToCentiamps(ma float64) float64 { return ma * 0.1 }

// NormalizedToPWM maps a normalized channel value onto the 1000-2000 µs
// pulse-width range: 0 becomes 1000 and 1 becomes 2000. Values outside [0, 1]
// are not clamped.
func NormalizedToPWM(v float64) float64 { return v*1000 + 1000 }

package units

// Fixed-width conversions for wire fields. Each truncates toward zero through
// int64 and then narrows, so values outside the target range wrap the same way
// on every platform instead of hitting Go's implementation-defined float to
// small-int conversion. NaN and ±Inf produce an unspecified but non-panicking
// result.

func Int8(v float64) int8 { return int8(int64(v)) }

func Int16(v float64) int16 { return int16(int64(v)) }

func Int32(v float64) int32 { return int32(int64(v)) }

func Uint8(v float64) uint8 { return uint8(int64(v)) }

func Uint16(v float64) uint16 { return uint16(int64(v)) }

func Uint32(v float64) uint32 { return uint32(int64(v)) }

// NonZeroInt16 returns 1 in place of 0. Temperature fields use 0 to mean
// "not available", so a genuine 0.00 °C reading is nudged to 0.01 °C.
func NonZeroInt16(v int16) int16 {
	if v == 0 {
		return 1
	}
	return v
}

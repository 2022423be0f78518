package param

// FracDigits is the number of fractional bits of the fixed point
// representation used on the wire and in the value store.
const FracDigits = 5

// FromFloat converts a float to Q5 fixed point, truncating toward zero.
func FromFloat(v float32) int32 {
	return int32(v * (1 << FracDigits))
}

// ToFloat converts a Q5 fixed point value to a float.
func ToFloat(v int32) float32 {
	return float32(v) / (1 << FracDigits)
}

// FromInt converts an integer to Q5 fixed point.
func FromInt(v int32) int32 {
	return v << FracDigits
}

// ToInt truncates a Q5 fixed point value to an integer.
func ToInt(v int32) int32 {
	return v >> FracDigits
}

// Package half converts IEEE 754 single precision floats to half precision with round to
// nearest even, the rounding mode GPUs apply when sampling R16G16B16A16 SFLOAT textures.
package half

import "github.com/chewxy/math32"

const (
	signMask     = 0x8000
	infinity     = 0x7c00
	quietNaN     = 0x7e00
	f32Mantissa  = 0x7fffff
	f32Implicit  = 0x800000
	mantissaDrop = 13
)

// FromFloat32 returns the half precision bit pattern nearest to f. Values past the half range
// become infinity and values below half the smallest subnormal become signed zero. NaN stays
// NaN with the quiet bit set.
func FromFloat32(f float32) uint16 {
	bits := math32.Float32bits(f)
	sign := uint16(bits>>16) & signMask
	exponent := int32(bits>>23) & 0xff
	mantissa := bits & f32Mantissa

	if exponent == 0xff {
		if mantissa != 0 {
			return sign | quietNaN | uint16(mantissa>>mantissaDrop)
		}
		return sign | infinity
	}

	rebiased := exponent - 127 + 15
	if rebiased >= 0x1f {
		return sign | infinity
	}

	if rebiased > 0 {
		half := uint32(rebiased)<<10 | mantissa>>mantissaDrop
		return sign | uint16(roundNearestEven(half, mantissa, mantissaDrop))
	}

	// subnormal result: the implicit bit becomes explicit and the shift grows with the deficit
	shift := uint32(14 - rebiased)
	if shift > 24 {
		return sign
	}
	full := mantissa | f32Implicit
	return sign | uint16(roundNearestEven(full>>shift, full, shift))
}

// roundNearestEven rounds truncated up when the dropped low bits of source are above the
// halfway point, or exactly on it with an odd truncated value. A carry out of the mantissa
// lands in the exponent, which is the correct result in both the subnormal and overflow cases.
func roundNearestEven(truncated uint32, source uint32, dropped uint32) uint32 {
	remainder := source & (1<<dropped - 1)
	halfway := uint32(1) << (dropped - 1)
	if remainder > halfway || (remainder == halfway && truncated&1 == 1) {
		truncated++
	}
	return truncated
}

// ToFloat32 expands a half precision bit pattern. Every half value is exactly representable.
func ToFloat32(h uint16) float32 {
	sign := uint32(h&signMask) << 16
	exponent := uint32(h>>10) & 0x1f
	mantissa := uint32(h & 0x3ff)

	switch {
	case exponent == 0x1f:
		return math32.Float32frombits(sign | 0x7f800000 | mantissa<<mantissaDrop)
	case exponent != 0:
		return math32.Float32frombits(sign | (exponent+127-15)<<23 | mantissa<<mantissaDrop)
	case mantissa == 0:
		return math32.Float32frombits(sign)
	}

	value := float32(mantissa) / (1 << 24)
	if sign != 0 {
		return -value
	}
	return value
}

// Convert writes the half precision encoding of src into dst, which must be at least as long.
// Long runs use the vector converter when the CPU has one.
func Convert(dst []uint16, src []float32) {
	if len(dst) < len(src) {
		panic("half.Convert: destination shorter than source")
	}

	done := convertVector(dst, src)
	for i := done; i < len(src); i++ {
		dst[i] = FromFloat32(src[i])
	}
}

// Accelerated reports whether Convert uses the vector path on this machine
func Accelerated() bool {
	return vectorAvailable
}

package half_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/quartermaster/internal/half"
)

var vectors = map[string]struct {
	value    float32
	expected uint16
}{
	"Zero":              {value: 0, expected: 0x0000},
	"NegativeZero":      {value: float32(math.Copysign(0, -1)), expected: 0x8000},
	"One":               {value: 1, expected: 0x3c00},
	"Two":               {value: 2, expected: 0x4000},
	"Three":             {value: 3, expected: 0x4200},
	"Five":              {value: 5, expected: 0x4500},
	"Third":             {value: 0.333251953125, expected: 0x3555},
	"NegativeOne":       {value: -1, expected: 0xbc00},
	"NegativeThird":     {value: -0.333251953125, expected: 0xb555},
	"TieToEven":         {value: 5e4, expected: 0x7a1a},
	"SmallNormal":       {value: 1e-4, expected: 0x068e},
	"LargeSubnormal":    {value: 4.995e-5, expected: 0x0346},
	"Subnormal":         {value: 4.95e-6, expected: 0x0053},
	"TinySubnormal":     {value: 4.77e-7, expected: 0x0008},
	"RoundsToSubnormal": {value: 5e-8, expected: 0x0001},
	"Underflow":         {value: 2e-8, expected: 0x0000},
	"MaxHalf":           {value: 65504, expected: 0x7bff},
	"RoundsToInfinity":  {value: 65520, expected: 0x7c00},
	"Overflow":          {value: 1e5, expected: 0x7c00},
	"NegativeOverflow":  {value: -1e5, expected: 0xfc00},
	"Infinity":          {value: float32(math.Inf(1)), expected: 0x7c00},
	"NegativeInfinity":  {value: float32(math.Inf(-1)), expected: 0xfc00},
	"Float32Subnormal":  {value: math.Float32frombits(1), expected: 0x0000},
}

func TestFromFloat32(t *testing.T) {
	for name, vector := range vectors {
		t.Run(name, func(t *testing.T) {
			require.Equalf(t, vector.expected, half.FromFloat32(vector.value), "got %#04x", half.FromFloat32(vector.value))
		})
	}
}

func TestNaNStaysNaN(t *testing.T) {
	converted := half.FromFloat32(float32(math.NaN()))
	require.Equal(t, uint16(0x7c00), converted&0x7c00)
	require.NotZero(t, converted&0x03ff)
	require.True(t, math.IsNaN(float64(half.ToFloat32(converted))))
}

func TestRoundTripIsExact(t *testing.T) {
	for h := 0; h <= 0xffff; h++ {
		value := half.ToFloat32(uint16(h))
		if math.IsNaN(float64(value)) {
			continue
		}
		require.Equalf(t, uint16(h), half.FromFloat32(value), "round trip of %#04x", h)
	}
}

func TestConvertMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	// odd length so both the vector body and the scalar tail run
	src := make([]float32, 8*64+5)
	for i := range src {
		switch i % 4 {
		case 0:
			src[i] = math.Float32frombits(rng.Uint32())
		case 1:
			src[i] = (rng.Float32() - 0.5) * 131072
		case 2:
			src[i] = (rng.Float32() - 0.5) * 1e-4
		default:
			src[i] = rng.Float32()
		}
	}
	for _, vector := range vectors {
		src = append(src, vector.value)
	}

	dst := make([]uint16, len(src))
	half.Convert(dst, src)

	for i, value := range src {
		expected := half.FromFloat32(value)
		if math.IsNaN(float64(value)) {
			require.Equal(t, expected&0xfe00, dst[i]&0xfe00, "NaN at %d", i)
			continue
		}
		require.Equalf(t, expected, dst[i], "value %g at %d (accelerated: %v)", value, i, half.Accelerated())
	}
}

func TestConvertShortDestinationPanics(t *testing.T) {
	require.Panics(t, func() {
		half.Convert(make([]uint16, 3), make([]float32, 4))
	})
}

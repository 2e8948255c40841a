package fingerprint

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func flatGreyscale(fill float64) []float64 {
	plane := make([]float64, DctSize*DctSize)
	for i := range plane {
		plane[i] = fill
	}
	return plane
}

func gradientGreyscale() []float64 {
	plane := make([]float64, DctSize*DctSize)
	for y := 0; y < DctSize; y++ {
		for x := 0; x < DctSize; x++ {
			plane[y*DctSize+x] = float64(x+y) / float64(2*DctSize)
		}
	}
	return plane
}

func noisyGreyscale(seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	plane := make([]float64, DctSize*DctSize)
	for i := range plane {
		plane[i] = r.Float64()
	}
	return plane
}

func TestDctHash_Deterministic(t *testing.T) {
	img := gradientGreyscale()
	require.Equal(t, DctHash(img), DctHash(img))
}

func TestDctHash_DistinguishesDifferentImages(t *testing.T) {
	a := noisyGreyscale(1)
	b := noisyGreyscale(2)
	require.NotEqual(t, DctHash(a), DctHash(b))
}

func TestDctHash_PanicsOnWrongSize(t *testing.T) {
	require.Panics(t, func() {
		DctHash(make([]float64, 10))
	})
}

func TestHamming_IdenticalIsZero(t *testing.T) {
	require.Equal(t, 0, Hamming(0xdeadbeef, 0xdeadbeef))
}

func TestHamming_SingleBitFlip(t *testing.T) {
	require.Equal(t, 1, Hamming(0, 1))
	require.Equal(t, 1, Hamming(0xff, 0xfe))
}

func TestHamming_AllBitsDiffer(t *testing.T) {
	require.Equal(t, 64, Hamming(0, ^uint64(0)))
}

func TestDctHash_StableUnderMildPerturbation(t *testing.T) {
	// A linear ramp leaves most low-frequency coefficients at zero, so its
	// median-threshold bits follow rounding noise; use a textured plane.
	base := noisyGreyscale(3)
	perturbed := make([]float64, len(base))
	r := rand.New(rand.NewSource(7))
	for i, v := range base {
		perturbed[i] = v + (r.Float64()-0.5)*0.01
	}

	dist := Hamming(DctHash(base), DctHash(perturbed))
	require.LessOrEqual(t, dist, 10, "small pixel perturbation should not flip many bits")
}

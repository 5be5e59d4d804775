package correlation

import (
	"math"
	"math/rand"
	"testing"
)

// gaussianBlob renders a Gaussian of the given sigma and amplitude at a
// subpixel center into a row-major (nx, ny) array.
func gaussianBlob(ar []float64, nx, ny int, cx, cy, sigma, amplitude float64) {
	inv := 1 / (2 * sigma * sigma)
	for x := 0; x < nx; x++ {
		dx := float64(x) - cx
		for y := 0; y < ny; y++ {
			dy := float64(y) - cy
			ar[x*ny+y] += amplitude * math.Exp(-(dx*dx+dy*dy)*inv)
		}
	}
}

// originProbe builds a Gaussian probe template centered on the origin with
// periodic wrap, so correlation maxima land at blob positions.
func originProbe(nx, ny int, sigma float64) []float64 {
	probe := make([]float64, nx*ny)
	inv := 1 / (2 * sigma * sigma)
	for x := 0; x < nx; x++ {
		dx := float64(x)
		if x > nx/2 {
			dx = float64(x - nx)
		}
		for y := 0; y < ny; y++ {
			dy := float64(y)
			if y > ny/2 {
				dy = float64(y - ny)
			}
			probe[x*ny+y] = math.Exp(-(dx*dx + dy*dy) * inv)
		}
	}
	return probe
}

// TestFFTRoundTrip verifies that inverse(forward(x)) recovers the input
func TestFFTRoundTrip(t *testing.T) {
	nx, ny := 16, 24
	rng := rand.New(rand.NewSource(42))

	data := make([]float64, nx*ny)
	for i := range data {
		data[i] = rng.Float64()
	}

	f := newFFT2(nx, ny)
	freq := f.forward(data)
	f.inverse(freq)

	for i := range data {
		if math.Abs(real(freq[i])-data[i]) > 1e-10 {
			t.Fatalf("Round trip mismatch at %d: expected %v, got %v", i, data[i], real(freq[i]))
		}
		if math.Abs(imag(freq[i])) > 1e-10 {
			t.Fatalf("Round trip left imaginary residue %v at %d", imag(freq[i]), i)
		}
	}
}

// TestCrossCorrelatePeakLocation verifies that the correlation maximum of a
// single blob against an origin-centered probe lands at the blob position
func TestCrossCorrelatePeakLocation(t *testing.T) {
	nx, ny := 64, 64
	pattern := make([]float64, nx*ny)
	gaussianBlob(pattern, nx, ny, 20, 30, 2, 1)

	engine := NewEngine(nx, ny)
	kernelFT := engine.ProbeKernelFT(originProbe(nx, ny, 2))
	cc := engine.CrossCorrelate(pattern, kernelFT, 1)

	best := 0
	for i := range cc {
		if cc[i] > cc[best] {
			best = i
		}
	}
	if best/ny != 20 || best%ny != 30 {
		t.Errorf("Expected correlation peak at (20,30), got (%d,%d)", best/ny, best%ny)
	}
}

// TestSurfaceNonNegative verifies the clamp for the whole corrPower range
func TestSurfaceNonNegative(t *testing.T) {
	nx, ny := 32, 32
	rng := rand.New(rand.NewSource(7))

	pattern := make([]float64, nx*ny)
	for i := range pattern {
		pattern[i] = rng.Float64()
	}

	engine := NewEngine(nx, ny)
	kernelFT := engine.ProbeKernelFT(originProbe(nx, ny, 1.5))

	for _, corrPower := range []float64{0, 0.25, 0.5, 0.75, 1} {
		cc := engine.CrossCorrelate(pattern, kernelFT, corrPower)
		for i, v := range cc {
			if v < 0 {
				t.Fatalf("corrPower=%v: negative surface value %v at index %d", corrPower, v, i)
			}
		}
	}
}

// TestCrossCorrelateDeterminism verifies bit-identical repeated runs
func TestCrossCorrelateDeterminism(t *testing.T) {
	nx, ny := 32, 32
	pattern := make([]float64, nx*ny)
	gaussianBlob(pattern, nx, ny, 10.5, 17.25, 2, 1)

	engine := NewEngine(nx, ny)
	kernelFT := engine.ProbeKernelFT(originProbe(nx, ny, 2))

	first := engine.CrossCorrelate(pattern, kernelFT, 0.5)
	second := engine.CrossCorrelate(pattern, kernelFT, 0.5)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("Non-deterministic surface value at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

// TestGaussianFilterConstant verifies that smoothing preserves a constant field
func TestGaussianFilterConstant(t *testing.T) {
	nx, ny := 20, 20
	data := make([]float64, nx*ny)
	for i := range data {
		data[i] = 3.5
	}

	smoothed := GaussianFilter(data, nx, ny, 2)
	for i, v := range smoothed {
		if math.Abs(v-3.5) > 1e-12 {
			t.Fatalf("Expected constant 3.5 at %d, got %v", i, v)
		}
	}
}

// TestGaussianFilterSpreadsSpike verifies smoothing lowers and spreads a spike
func TestGaussianFilterSpreadsSpike(t *testing.T) {
	nx, ny := 21, 21
	data := make([]float64, nx*ny)
	data[10*ny+10] = 1

	smoothed := GaussianFilter(data, nx, ny, 1.5)

	if smoothed[10*ny+10] >= 1 {
		t.Errorf("Expected spike to be attenuated, got %v", smoothed[10*ny+10])
	}
	if smoothed[10*ny+11] <= 0 {
		t.Errorf("Expected spike to spread to neighbors, got %v", smoothed[10*ny+11])
	}

	// Mass is preserved by a normalized kernel
	var sum float64
	for _, v := range smoothed {
		sum += v
	}
	if math.Abs(sum-1) > 1e-10 {
		t.Errorf("Expected total mass 1 after smoothing, got %v", sum)
	}
}

// TestGaussianFilterZeroSigma verifies that sigma=0 is the identity
func TestGaussianFilterZeroSigma(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6}
	out := GaussianFilter(data, 2, 3, 0)
	for i := range data {
		if out[i] != data[i] {
			t.Fatalf("Expected identity at %d, got %v", i, out[i])
		}
	}
}

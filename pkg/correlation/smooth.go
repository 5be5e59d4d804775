package correlation

import (
	"math"
)

// GaussianFilter smooths a row-major (nx, ny) array with an isotropic
// Gaussian of standard deviation sigma, applied as two separable 1D passes.
// Boundaries are handled by reflection about the edge pixels, and the kernel
// is truncated at four standard deviations. A sigma of zero or less returns
// an unmodified copy.
func GaussianFilter(data []float64, nx, ny int, sigma float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	if sigma <= 0 {
		return out
	}

	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2

	// Horizontal pass
	tmp := make([]float64, len(data))
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				sum += kernel[k+radius] * out[x*ny+reflect(y+k, ny)]
			}
			tmp[x*ny+y] = sum
		}
	}

	// Vertical pass
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				sum += kernel[k+radius] * tmp[reflect(x+k, nx)*ny+y]
			}
			out[x*ny+y] = sum
		}
	}

	return out
}

// gaussianKernel builds a normalized 1D Gaussian kernel truncated at
// 4*sigma, with radius round(4*sigma).
func gaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// reflect maps an out-of-range index back into [0, n) by mirroring about
// the array edges, repeatedly for offsets beyond one array length.
func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		} else {
			i = 2*n - 1 - i
		}
	}
	return i
}

// Package correlation implements the numerical core of Bragg disk detection:
// Fourier-space cross/hybrid/phase correlation of a diffraction pattern
// against a probe template, Gaussian smoothing and local-maxima extraction
// on the correlation surface, and subpixel peak refinement by parabolic
// fitting or localized DFT upsampling.
package correlation

import (
	"math"
	"math/cmplx"
)

// Engine computes correlation surfaces between diffraction patterns and a
// probe template over a fixed pattern shape (nx, ny), in row-major order
// with x indexing rows and y indexing columns.
//
// The correlation family is parameterized by corrPower: a value of 1 gives a
// plain cross correlation, 0 gives a phase correlation, and intermediate
// values give magnitude-weighted hybrids. corrPower is deliberately not
// validated against [0,1]; out-of-range values produce whatever the formula
// yields, and enforcing the usual range is the caller's responsibility.
//
// An Engine is not safe for concurrent use. Parallel scan processing gives
// each worker its own Engine so correlation buffers are never shared.
type Engine struct {
	nx, ny int
	fft    *fft2
}

// NewEngine creates a correlation engine for patterns of shape (nx, ny).
func NewEngine(nx, ny int) *Engine {
	return &Engine{
		nx:  nx,
		ny:  ny,
		fft: newFFT2(nx, ny),
	}
}

// Shape returns the pattern dimensions (nx, ny) the engine was built for.
func (e *Engine) Shape() (int, int) {
	return e.nx, e.ny
}

// ProbeKernelFT converts a real-space probe template into the conjugated
// Fourier-space kernel consumed by the correlation methods:
//
//	kernelFT = conj(FFT2(probe))
//
// The conversion is done once per detection run; the returned kernel is
// read-only from the engine's point of view and may be shared freely
// between engines of the same shape.
func (e *Engine) ProbeKernelFT(probe []float64) []complex128 {
	kernel := e.fft.forward(probe)
	for i, v := range kernel {
		kernel[i] = cmplx.Conj(v)
	}
	return kernel
}

// HybridCorrelation computes the Fourier-space hybrid correlation
//
//	m = FFT2(pattern) * kernelFT
//	ccc = |m|^corrPower * exp(i*angle(m))
//
// and returns ccc prior to the inverse transform. This pre-inverse form is
// what the DFT upsampler consumes for subpixel refinement.
func (e *Engine) HybridCorrelation(pattern []float64, kernelFT []complex128, corrPower float64) []complex128 {
	ccc := e.fft.forward(pattern)
	for i := range ccc {
		m := ccc[i] * kernelFT[i]
		r, theta := cmplx.Polar(m)
		ccc[i] = cmplx.Rect(math.Pow(r, corrPower), theta)
	}
	return ccc
}

// Surface inverse-transforms a hybrid correlation and clamps the real part
// to non-negative values, producing the correlation surface searched for
// peaks. The input array is consumed as scratch space.
func (e *Engine) Surface(ccc []complex128) []float64 {
	e.fft.inverse(ccc)
	out := make([]float64, e.nx*e.ny)
	for i, v := range ccc {
		out[i] = math.Max(real(v), 0)
	}
	return out
}

// CrossCorrelate computes the full correlation surface between a pattern and
// a conjugated Fourier-space probe kernel in one step.
//
// Parameters:
//   - pattern: the diffraction pattern, row-major (nx, ny)
//   - kernelFT: the probe kernel from ProbeKernelFT
//   - corrPower: correlation family parameter, 1 = cross, 0 = phase
//
// Returns:
//   - The non-negative correlation surface, same shape as the pattern
func (e *Engine) CrossCorrelate(pattern []float64, kernelFT []complex128, corrPower float64) []float64 {
	return e.Surface(e.HybridCorrelation(pattern, kernelFT, corrPower))
}

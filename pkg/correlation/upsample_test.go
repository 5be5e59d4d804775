package correlation

import (
	"math"
	"math/cmplx"
	"testing"
)

// TestUpsampledCorrelation verifies that DFT upsampling refines a
// half-pixel estimate to the true subpixel peak position
func TestUpsampledCorrelation(t *testing.T) {
	nx, ny := 64, 64
	pattern := make([]float64, nx*ny)
	gaussianBlob(pattern, nx, ny, 20.25, 30.75, 2, 1)

	engine := NewEngine(nx, ny)
	kernelFT := engine.ProbeKernelFT(originProbe(nx, ny, 2))
	ccc := engine.HybridCorrelation(pattern, kernelFT, 1)

	// Start from the half-pixel rounded estimate, as the orchestrator does
	x, y := UpsampledCorrelation(ccc, nx, ny, 16, 20.5, 31.0)

	if math.Abs(x-20.25) > 0.1 {
		t.Errorf("Expected refined x within 0.1 of 20.25, got %v", x)
	}
	if math.Abs(y-30.75) > 0.1 {
		t.Errorf("Expected refined y within 0.1 of 30.75, got %v", y)
	}
}

// TestDFTUpsamplePatch verifies the matrix-multiply evaluation of the
// upsampled neighborhood against a direct triple sum over the same kernels
func TestDFTUpsamplePatch(t *testing.T) {
	nx, ny := 8, 8
	pattern := make([]float64, nx*ny)
	gaussianBlob(pattern, nx, ny, 3.4, 5.1, 1.5, 1)

	engine := NewEngine(nx, ny)
	kernelFT := engine.ProbeKernelFT(originProbe(nx, ny, 1.5))
	ccc := engine.HybridCorrelation(pattern, kernelFT, 1)

	factor := 4
	rowCenter, colCenter := 2.5, 1.25
	patch, rows, cols := dftUpsample(ccc, nx, ny, factor, rowCenter, colCenter)

	n := int(math.Ceil(1.5 * float64(factor)))
	if rows != n || cols != n {
		t.Fatalf("Expected a %dx%d patch, got %dx%d", n, n, rows, cols)
	}

	wRow := -2 * math.Pi / (float64(nx) * float64(factor))
	wCol := -2 * math.Pi / (float64(ny) * float64(factor))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var sum complex128
			for i := 0; i < nx; i++ {
				rowPhase := cmplx.Rect(1, wRow*(float64(r)-rowCenter)*float64(fftFreq(i, nx)))
				for j := 0; j < ny; j++ {
					colPhase := cmplx.Rect(1, wCol*float64(fftFreq(j, ny))*(float64(c)-colCenter))
					sum += rowPhase * cmplx.Conj(ccc[i*ny+j]) * colPhase
				}
			}
			if math.Abs(patch[r*cols+c]-real(sum)) > 1e-9*math.Max(1, math.Abs(real(sum))) {
				t.Fatalf("Patch (%d,%d): expected %v, got %v", r, c, real(sum), patch[r*cols+c])
			}
		}
	}
}

// TestUpsampledCorrelationIntegerPeak verifies refinement stays put for a
// peak that sits exactly on a pixel
func TestUpsampledCorrelationIntegerPeak(t *testing.T) {
	nx, ny := 32, 32
	pattern := make([]float64, nx*ny)
	gaussianBlob(pattern, nx, ny, 12, 9, 2, 1)

	engine := NewEngine(nx, ny)
	kernelFT := engine.ProbeKernelFT(originProbe(nx, ny, 2))
	ccc := engine.HybridCorrelation(pattern, kernelFT, 1)

	x, y := UpsampledCorrelation(ccc, nx, ny, 8, 12, 9)

	if math.Abs(x-12) > 0.05 {
		t.Errorf("Expected refined x within 0.05 of 12, got %v", x)
	}
	if math.Abs(y-9) > 0.05 {
		t.Errorf("Expected refined y within 0.05 of 9, got %v", y)
	}
}

// TestUpsampledCorrelationImprovesOnEstimate verifies the upsampled search
// moves a deliberately offset estimate toward the true peak
func TestUpsampledCorrelationImprovesOnEstimate(t *testing.T) {
	nx, ny := 64, 64
	trueX, trueY := 40.4, 22.6
	pattern := make([]float64, nx*ny)
	gaussianBlob(pattern, nx, ny, trueX, trueY, 2, 1)

	engine := NewEngine(nx, ny)
	kernelFT := engine.ProbeKernelFT(originProbe(nx, ny, 2))
	ccc := engine.HybridCorrelation(pattern, kernelFT, 1)

	startX, startY := 40.5, 22.5
	x, y := UpsampledCorrelation(ccc, nx, ny, 16, startX, startY)

	startErr := math.Hypot(startX-trueX, startY-trueY)
	refinedErr := math.Hypot(x-trueX, y-trueY)
	if refinedErr >= startErr {
		t.Errorf("Expected refinement to improve on the estimate: start error %v, refined error %v", startErr, refinedErr)
	}
}

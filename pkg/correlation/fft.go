package correlation

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2 holds the 1D FFT plans and scratch buffers for 2D transforms over a
// fixed nx-by-ny (row-major) grid. A transform of a 2D array is computed as
// a pass of row transforms followed by a pass of column transforms, each
// using a Gonum complex FFT plan of the matching length.
//
// An fft2 instance is not safe for concurrent use: the plans and scratch
// buffers are shared between calls. Workers processing patterns in parallel
// each own a private instance.
type fft2 struct {
	nx, ny int

	rowFFT *fourier.CmplxFFT // length ny, applied along each row
	colFFT *fourier.CmplxFFT // length nx, applied down each column

	rowBuf []complex128
	colBuf []complex128
}

func newFFT2(nx, ny int) *fft2 {
	return &fft2{
		nx:     nx,
		ny:     ny,
		rowFFT: fourier.NewCmplxFFT(ny),
		colFFT: fourier.NewCmplxFFT(nx),
		rowBuf: make([]complex128, ny),
		colBuf: make([]complex128, nx),
	}
}

// forward computes the full 2D DFT of a real-valued array, returning a new
// nx*ny complex array in row-major order with the zero-frequency component
// at index 0.
func (f *fft2) forward(data []float64) []complex128 {
	out := make([]complex128, f.nx*f.ny)
	for i, v := range data {
		out[i] = complex(v, 0)
	}
	f.transform(out)
	return out
}

// transform applies the forward 2D DFT in place to a complex row-major array.
func (f *fft2) transform(data []complex128) {
	// Row-wise pass
	for i := 0; i < f.nx; i++ {
		row := data[i*f.ny : (i+1)*f.ny]
		f.rowFFT.Coefficients(f.rowBuf, row)
		copy(row, f.rowBuf)
	}

	// Column-wise pass
	for j := 0; j < f.ny; j++ {
		for i := 0; i < f.nx; i++ {
			f.colBuf[i] = data[i*f.ny+j]
		}
		out := f.colFFT.Coefficients(nil, f.colBuf)
		for i := 0; i < f.nx; i++ {
			data[i*f.ny+j] = out[i]
		}
	}
}

// inverse computes the normalized inverse 2D DFT in place. Gonum's Sequence
// is unscaled, so the result is divided by nx*ny to recover the original
// signal amplitude.
func (f *fft2) inverse(data []complex128) {
	// Column-wise pass
	for j := 0; j < f.ny; j++ {
		for i := 0; i < f.nx; i++ {
			f.colBuf[i] = data[i*f.ny+j]
		}
		out := f.colFFT.Sequence(nil, f.colBuf)
		for i := 0; i < f.nx; i++ {
			data[i*f.ny+j] = out[i]
		}
	}

	// Row-wise pass
	for i := 0; i < f.nx; i++ {
		row := data[i*f.ny : (i+1)*f.ny]
		f.rowFFT.Sequence(f.rowBuf, row)
		copy(row, f.rowBuf)
	}

	norm := complex(float64(f.nx*f.ny), 0)
	for i := range data {
		data[i] /= norm
	}
}

package correlation

import (
	"sort"
)

// MaximaOptions controls smoothing, filtering and refinement in FindMaxima.
// Setting a numeric option to zero disables the corresponding step.
type MaximaOptions struct {
	// Sigma is the standard deviation of the Gaussian smoothing applied to
	// the surface before maxima are located.
	Sigma float64

	// EdgeBoundary discards maxima within this many pixels of any surface
	// edge. When zero and Subpixel is set, a one-pixel border is still
	// discarded so the parabolic fit always has a full neighborhood.
	EdgeBoundary int

	// MinRelativeIntensity discards maxima dimmer than this fraction of the
	// brightest remaining maximum.
	MinRelativeIntensity float64

	// MinSpacing greedily removes maxima closer than this distance (in
	// pixels) to a brighter maximum.
	MinSpacing float64

	// MaxNumPeaks truncates the result to the brightest N maxima.
	MaxNumPeaks int

	// Subpixel enables parabolic refinement of each maximum's position
	// using its 4-connected neighborhood on the smoothed surface.
	Subpixel bool
}

// Maxima holds detected local maxima as parallel coordinate and intensity
// arrays, ordered by descending intensity.
type Maxima struct {
	X         []float64
	Y         []float64
	Intensity []float64
}

// Len returns the number of detected maxima.
func (m Maxima) Len() int {
	return len(m.X)
}

// FindMaxima locates the local maxima of a row-major (nx, ny) correlation
// surface. The surface is first Gaussian-smoothed, then every pixel that
// beats its eight neighbors is collected (comparisons wrap periodically,
// matching the circular topology of an FFT-based correlation; ties are
// broken so that exactly one pixel of a flat pair survives). Maxima are
// sorted by descending intensity and filtered per the options: edge
// discard, greedy minimum-spacing dedup, relative-intensity threshold
// against the brightest survivor, and maximum-count truncation. Optional
// parabolic subpixel refinement adjusts positions using the smoothed
// surface; intensities keep their pixel-accurate values.
func FindMaxima(surface []float64, nx, ny int, opt MaximaOptions) Maxima {
	ar := GaussianFilter(surface, nx, ny, opt.Sigma)

	// wrap handles the periodic neighbor indexing
	wrap := func(i, n int) int {
		return ((i % n) + n) % n
	}
	at := func(x, y int) float64 {
		return ar[wrap(x, nx)*ny+wrap(y, ny)]
	}

	var xs, ys []int
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			v := ar[x*ny+y]
			if v > at(x+1, y) && v >= at(x-1, y) &&
				v > at(x, y+1) && v >= at(x, y-1) &&
				v > at(x+1, y+1) && v >= at(x+1, y-1) &&
				v > at(x-1, y+1) && v >= at(x-1, y-1) {
				xs = append(xs, x)
				ys = append(ys, y)
			}
		}
	}

	// Discard maxima too close to the surface edges. With subpixel fitting
	// enabled a one-pixel border is always excluded.
	edge := opt.EdgeBoundary
	if edge < 1 && opt.Subpixel {
		edge = 1
	}
	if edge > 0 {
		kept := 0
		for i := range xs {
			if xs[i] >= edge && xs[i] < nx-edge && ys[i] >= edge && ys[i] < ny-edge {
				xs[kept], ys[kept] = xs[i], ys[i]
				kept++
			}
		}
		xs, ys = xs[:kept], ys[:kept]
	}

	// Sort by descending intensity; stable so equal-intensity maxima keep
	// scan order.
	order := make([]int, len(xs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return ar[xs[order[i]]*ny+ys[order[i]]] > ar[xs[order[j]]*ny+ys[order[j]]]
	})

	m := Maxima{
		X:         make([]float64, len(order)),
		Y:         make([]float64, len(order)),
		Intensity: make([]float64, len(order)),
	}
	for i, idx := range order {
		m.X[i] = float64(xs[idx])
		m.Y[i] = float64(ys[idx])
		m.Intensity[i] = ar[xs[idx]*ny+ys[idx]]
	}

	if m.Len() == 0 {
		return m
	}

	// Greedy spacing dedup: a processed maximum deletes every dimmer
	// maximum within MinSpacing, and is never itself deleted afterwards.
	if opt.MinSpacing > 0 {
		r2 := opt.MinSpacing * opt.MinSpacing
		deleted := make([]bool, m.Len())
		for i := 0; i < m.Len(); i++ {
			if deleted[i] {
				continue
			}
			for j := i + 1; j < m.Len(); j++ {
				dx := m.X[j] - m.X[i]
				dy := m.Y[j] - m.Y[i]
				if dx*dx+dy*dy < r2 {
					deleted[j] = true
				}
			}
		}
		m = m.compact(deleted)
	}

	// Intensity threshold relative to the brightest survivor
	if opt.MinRelativeIntensity > 0 && m.Len() > 0 {
		max := m.Intensity[0]
		deleted := make([]bool, m.Len())
		for i, v := range m.Intensity {
			if v/max < opt.MinRelativeIntensity {
				deleted[i] = true
			}
		}
		m = m.compact(deleted)
	}

	if opt.MaxNumPeaks > 0 && m.Len() > opt.MaxNumPeaks {
		m.X = m.X[:opt.MaxNumPeaks]
		m.Y = m.Y[:opt.MaxNumPeaks]
		m.Intensity = m.Intensity[:opt.MaxNumPeaks]
	}

	if opt.Subpixel {
		for i := 0; i < m.Len(); i++ {
			x, y := int(m.X[i]), int(m.Y[i])
			ix0 := ar[x*ny+y]
			ixm := ar[(x-1)*ny+y]
			ixp := ar[(x+1)*ny+y]
			iym := ar[x*ny+y-1]
			iyp := ar[x*ny+y+1]
			if d := 4*ix0 - 2*ixp - 2*ixm; d != 0 {
				m.X[i] += (ixp - ixm) / d
			}
			if d := 4*ix0 - 2*iyp - 2*iym; d != 0 {
				m.Y[i] += (iyp - iym) / d
			}
		}
	}

	return m
}

func (m Maxima) compact(deleted []bool) Maxima {
	kept := 0
	for i := range deleted {
		if !deleted[i] {
			m.X[kept] = m.X[i]
			m.Y[kept] = m.Y[i]
			m.Intensity[kept] = m.Intensity[i]
			kept++
		}
	}
	m.X = m.X[:kept]
	m.Y = m.Y[:kept]
	m.Intensity = m.Intensity[:kept]
	return m
}

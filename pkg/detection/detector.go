// Package detection drives Bragg disk detection across 4D-STEM datasets.
// It orchestrates the correlation engine, maxima extraction and subpixel
// refinement over single patterns, selected scan positions, or the full
// scan grid, and applies post-detection thresholding to the results.
package detection

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"stem4d/pkg/correlation"
	"stem4d/pkg/datacube"
	"stem4d/pkg/peaks"
)

// Subpixel refinement modes.
const (
	// SubpixelNone reports pixel-accurate peak positions.
	SubpixelNone = "none"

	// SubpixelPoly refines positions with a local parabolic fit. Fast and
	// the default.
	SubpixelPoly = "poly"

	// SubpixelMulticorr refines positions by localized DFT upsampling.
	// The most accurate and the most expensive mode.
	SubpixelMulticorr = "multicorr"
)

// ErrInvalidConfiguration indicates a detection parameter set that is
// structurally impossible, such as an unrecognized subpixel mode. It is
// always surfaced before any correlation work begins.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// PeakSchema is the column schema shared by all peak lists produced by
// detection: subpixel position (qx, qy) and correlation intensity.
var PeakSchema = []string{"qx", "qy", "intensity"}

// Params holds the detection parameters. The defaults follow the values
// commonly used for probe-template matching on diffraction data.
type Params struct {
	// CorrPower selects the correlation family: 1 is a plain cross
	// correlation, 0 a phase correlation, intermediate values hybrids.
	// Values outside [0,1] are not rejected; the correlation formula
	// defines the result either way.
	CorrPower float64

	// Sigma is the standard deviation of the Gaussian smoothing applied
	// to each correlation surface before maxima are located.
	Sigma float64

	// EdgeBoundary discards peaks within this many pixels of the
	// diffraction pattern edge.
	EdgeBoundary int

	// MinRelativeIntensity discards peaks dimmer than this fraction of
	// the brightest peak in the same pattern.
	MinRelativeIntensity float64

	// MinPeakSpacing greedily discards peaks closer than this distance in
	// pixels to a brighter peak.
	MinPeakSpacing float64

	// MaxNumPeaks caps the number of peaks kept per pattern.
	MaxNumPeaks int

	// Subpixel selects the refinement mode: SubpixelNone, SubpixelPoly or
	// SubpixelMulticorr.
	Subpixel string

	// UpsampleFactor is the DFT upsampling factor used by multicorr
	// refinement. Must be at least 2 in that mode.
	UpsampleFactor int

	// NumWorkers is the number of goroutines used for full-scan
	// detection. Zero or less means one worker per CPU core.
	NumWorkers int

	// Verbose enables progress reporting during full-scan detection.
	Verbose bool
}

// DefaultParams returns the standard detection parameter set.
func DefaultParams() Params {
	return Params{
		CorrPower:            1,
		Sigma:                2,
		EdgeBoundary:         20,
		MinRelativeIntensity: 0.005,
		MinPeakSpacing:       60,
		MaxNumPeaks:          70,
		Subpixel:             SubpixelPoly,
		UpsampleFactor:       4,
		NumWorkers:           runtime.NumCPU(),
	}
}

// validate checks the parameter set before any correlation work is done.
func (p Params) validate() error {
	switch p.Subpixel {
	case SubpixelNone, SubpixelPoly, SubpixelMulticorr:
	default:
		return fmt.Errorf("%w: unrecognized subpixel mode %q, must be %q, %q or %q",
			ErrInvalidConfiguration, p.Subpixel, SubpixelNone, SubpixelPoly, SubpixelMulticorr)
	}
	if p.Subpixel == SubpixelMulticorr && p.UpsampleFactor < 2 {
		return fmt.Errorf("%w: upsample factor %d, multicorr refinement requires at least 2",
			ErrInvalidConfiguration, p.UpsampleFactor)
	}
	return nil
}

// Detector finds Bragg disks in diffraction patterns of a fixed shape by
// correlation against a probe template. The template's conjugated Fourier
// transform is computed once at construction and shared, read-only, by all
// detection calls.
//
// A Detector's correlation engine owns scratch buffers, so a single
// Detector must not run detections concurrently; FindAll handles this by
// giving each worker a private clone.
type Detector struct {
	params   Params
	qNx, qNy int
	engine   *correlation.Engine
	kernelFT []complex128
}

// NewDetector creates a detector for patterns of shape (qNx, qNy) from a
// real-space probe template. The template is converted internally to its
// conjugated Fourier form.
func NewDetector(qNx, qNy int, probe []float64, params Params) (*Detector, error) {
	if len(probe) != qNx*qNy {
		return nil, fmt.Errorf("probe template length %d does not match pattern shape (%d,%d)", len(probe), qNx, qNy)
	}
	engine := correlation.NewEngine(qNx, qNy)
	return newDetectorFK(qNx, qNy, engine, engine.ProbeKernelFT(probe), params)
}

// NewDetectorFK creates a detector from a probe kernel already in
// conjugated Fourier form, kernelFT = conj(FFT2(probe)).
func NewDetectorFK(qNx, qNy int, kernelFT []complex128, params Params) (*Detector, error) {
	if len(kernelFT) != qNx*qNy {
		return nil, fmt.Errorf("probe kernel length %d does not match pattern shape (%d,%d)", len(kernelFT), qNx, qNy)
	}
	return newDetectorFK(qNx, qNy, correlation.NewEngine(qNx, qNy), kernelFT, params)
}

func newDetectorFK(qNx, qNy int, engine *correlation.Engine, kernelFT []complex128, params Params) (*Detector, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Detector{
		params:   params,
		qNx:      qNx,
		qNy:      qNy,
		engine:   engine,
		kernelFT: kernelFT,
	}, nil
}

// Params returns the detector's parameter set.
func (d *Detector) Params() Params {
	return d.params
}

// clone creates a detector with a private correlation engine, sharing the
// read-only probe kernel. Used to give each full-scan worker its own
// scratch buffers.
func (d *Detector) clone() *Detector {
	return &Detector{
		params:   d.params,
		qNx:      d.qNx,
		qNy:      d.qNy,
		engine:   correlation.NewEngine(d.qNx, d.qNy),
		kernelFT: d.kernelFT,
	}
}

// DetectPattern finds the Bragg disks in a single diffraction pattern and
// appends them to list, creating a new PointList with PeakSchema when list
// is nil. Peaks are appended in descending intensity order.
func (d *Detector) DetectPattern(pattern []float64, list *peaks.PointList) (*peaks.PointList, error) {
	list, _, err := d.detect(pattern, list, false)
	return list, err
}

// DetectPatternCC is DetectPattern, additionally returning the smoothed
// correlation surface for diagnostic display.
func (d *Detector) DetectPatternCC(pattern []float64, list *peaks.PointList) (*peaks.PointList, []float64, error) {
	return d.detect(pattern, list, true)
}

func (d *Detector) detect(pattern []float64, list *peaks.PointList, returnCC bool) (*peaks.PointList, []float64, error) {
	if len(pattern) != d.qNx*d.qNy {
		return nil, nil, fmt.Errorf("pattern length %d does not match detector shape (%d,%d)", len(pattern), d.qNx, d.qNy)
	}

	opt := correlation.MaximaOptions{
		Sigma:                d.params.Sigma,
		EdgeBoundary:         d.params.EdgeBoundary,
		MinRelativeIntensity: d.params.MinRelativeIntensity,
		MinSpacing:           d.params.MinPeakSpacing,
		MaxNumPeaks:          d.params.MaxNumPeaks,
		Subpixel:             d.params.Subpixel != SubpixelNone,
	}

	var cc []float64
	var maxima correlation.Maxima

	if d.params.Subpixel == SubpixelMulticorr {
		// Keep the pre-inverse hybrid correlation around: the upsampler
		// consumes it after the pixel-scale search.
		ccc := d.engine.HybridCorrelation(pattern, d.kernelFT, d.params.CorrPower)
		surf := make([]complex128, len(ccc))
		copy(surf, ccc)
		cc = d.engine.Surface(surf)
		maxima = correlation.FindMaxima(cc, d.qNx, d.qNy, opt)

		for i := 0; i < maxima.Len(); i++ {
			// Drop to half-pixel accuracy before the upsampled search; the
			// parabolic estimate's extra digits are not worth carrying into
			// the DFT-upsampled refinement. math.Round breaks exact .25/.75
			// ties away from zero rather than to even; either half-pixel
			// start lies within the upsampled search's 1.5-pixel radius, so
			// the refined position is unaffected.
			xShift := math.Round(maxima.X[i]*2) / 2
			yShift := math.Round(maxima.Y[i]*2) / 2
			maxima.X[i], maxima.Y[i] = correlation.UpsampledCorrelation(
				ccc, d.qNx, d.qNy, d.params.UpsampleFactor, xShift, yShift)
		}
	} else {
		cc = d.engine.CrossCorrelate(pattern, d.kernelFT, d.params.CorrPower)
		maxima = correlation.FindMaxima(cc, d.qNx, d.qNy, opt)
	}

	if list == nil {
		list = peaks.NewPointList(PeakSchema)
	}
	if err := list.Append(maxima.X, maxima.Y, maxima.Intensity); err != nil {
		return nil, nil, err
	}

	if returnCC {
		return list, correlation.GaussianFilter(cc, d.qNx, d.qNy, d.params.Sigma), nil
	}
	return list, nil, nil
}

// FindSelected runs detection at the given scan positions of a datacube,
// returning one PointList per requested position, in request order.
func (d *Detector) FindSelected(cube *datacube.DataCube, positions [][2]int) ([]*peaks.PointList, error) {
	if cube.QNx != d.qNx || cube.QNy != d.qNy {
		return nil, fmt.Errorf("datacube pattern shape (%d,%d) does not match detector shape (%d,%d)", cube.QNx, cube.QNy, d.qNx, d.qNy)
	}
	lists := make([]*peaks.PointList, 0, len(positions))
	for _, pos := range positions {
		pattern, err := cube.Pattern(pos[0], pos[1])
		if err != nil {
			return nil, err
		}
		list, err := d.DetectPattern(pattern, nil)
		if err != nil {
			return nil, fmt.Errorf("detection failed at scan position (%d,%d): %v", pos[0], pos[1], err)
		}
		lists = append(lists, list)
	}
	return lists, nil
}

// FindAll runs detection over every scan position of a datacube and
// returns a PointListArray matching the scan-grid shape, with one peak
// list per position.
//
// Scan positions are partitioned across a worker pool. Each worker owns a
// private detector clone (its own FFT plans and correlation buffers) and
// writes only into its own grid cells, so no locking is needed; a collector
// goroutine tallies completions for progress reporting. The first
// per-position error aborts the scan and is returned.
func (d *Detector) FindAll(cube *datacube.DataCube) (*peaks.PointListArray, error) {
	if cube.QNx != d.qNx || cube.QNy != d.qNy {
		return nil, fmt.Errorf("datacube pattern shape (%d,%d) does not match detector shape (%d,%d)", cube.QNx, cube.QNy, d.qNx, d.qNy)
	}

	grid := peaks.NewPointListArray(PeakSchema, cube.RNx, cube.RNy)
	total := cube.RNx * cube.RNy

	numWorkers := d.params.NumWorkers
	if numWorkers < 1 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > total {
		numWorkers = total
	}

	type result struct {
		rx, ry int
		err    error
	}
	results := make(chan result)

	// Partition scan positions across workers by contiguous index range
	perWorker := (total + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > total {
			end = total
		}
		if start >= end {
			continue
		}

		go func(det *Detector, start, end int) {
			for idx := start; idx < end; idx++ {
				rx, ry := idx/cube.RNy, idx%cube.RNy
				res := result{rx: rx, ry: ry}

				pattern, err := cube.Pattern(rx, ry)
				if err == nil {
					var cell *peaks.PointList
					cell, err = grid.Get(rx, ry)
					if err == nil {
						_, err = det.DetectPattern(pattern, cell)
					}
				}
				res.err = err
				results <- res
			}
		}(d.clone(), start, end)
	}

	// Collect completions; the first failure is reported after all workers
	// have drained so no goroutine is left blocked.
	var firstErr error
	for completed := 0; completed < total; completed++ {
		res := <-results
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("detection failed at scan position (%d,%d): %v", res.rx, res.ry, res.err)
		}
		if d.params.Verbose {
			progress := float64(completed+1) / float64(total) * 100
			fmt.Printf("\rAnalyzing diffraction patterns: %.1f%% complete", progress)
		}
	}
	if d.params.Verbose {
		fmt.Println()
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return grid, nil
}

package detection

import (
	"fmt"
	"sync"

	"stem4d/pkg/peaks"
)

// ThresholdParams holds the post-detection filter parameters. Each filter
// is independently toggleable: a zero (or negative) value disables it.
type ThresholdParams struct {
	// MinRelativeIntensity deletes peaks dimmer than this fraction of the
	// brightest peak in the same cell.
	MinRelativeIntensity float64

	// MinPeakSpacing deletes peaks closer than this distance in pixels to
	// a brighter surviving peak.
	MinPeakSpacing float64

	// MaxNumPeaks truncates each cell to its brightest N peaks.
	MaxNumPeaks int

	// NumWorkers is the number of goroutines used to process cells. Zero
	// or less processes all cells on a single goroutine.
	NumWorkers int
}

// ThresholdPeaks re-filters every cell of an already-detected peak grid in
// place, applying per cell: a stable sort by descending intensity, the
// relative-intensity threshold, the greedy minimum-spacing sweep, and
// maximum-count truncation, in that order.
//
// The greedy sweep scans rows in descending-intensity order; each
// not-yet-deleted row deletes every later (dimmer) row within
// MinPeakSpacing, and once processed can never itself be deleted. This
// asymmetry guarantees the brighter member of any close pair survives.
//
// Cells are filtered independently and processed in parallel; each cell's
// sweep stays sequential, which preserves the survivor set of the greedy
// order exactly.
//
// Returns an error wrapping peaks.ErrSchemaMismatch, before any mutation,
// if the grid's schema lacks the qx, qy and intensity columns.
func ThresholdPeaks(grid *peaks.PointListArray, p ThresholdParams) error {
	for _, col := range []string{"qx", "qy", "intensity"} {
		found := false
		for _, s := range grid.Schema() {
			if s == col {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: peak grid schema %v lacks required column %q", peaks.ErrSchemaMismatch, grid.Schema(), col)
		}
	}

	numRx, numRy := grid.Shape()
	total := numRx * numRy

	numWorkers := p.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > total {
		numWorkers = total
	}

	errs := make([]error, numWorkers)
	perWorker := (total + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > total {
			end = total
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(worker, start, end int) {
			defer wg.Done()
			for idx := start; idx < end; idx++ {
				cell, err := grid.Get(idx/numRy, idx%numRy)
				if err == nil {
					err = thresholdCell(cell, p)
				}
				if err != nil && errs[worker] == nil {
					errs[worker] = fmt.Errorf("thresholding failed at scan position (%d,%d): %v", idx/numRy, idx%numRy, err)
					return
				}
			}
		}(w, start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// thresholdCell applies the filter sequence to a single peak list.
func thresholdCell(cell *peaks.PointList, p ThresholdParams) error {
	if err := cell.Sort("intensity", peaks.Descending); err != nil {
		return err
	}
	if cell.Length() == 0 {
		return nil
	}

	intensity, err := cell.Column("intensity")
	if err != nil {
		return err
	}

	// Relative-intensity threshold against the cell's brightest peak
	if p.MinRelativeIntensity > 0 {
		max := intensity[0]
		mask := make([]bool, len(intensity))
		for i, v := range intensity {
			mask[i] = v/max < p.MinRelativeIntensity
		}
		if err := cell.RemovePoints(mask); err != nil {
			return err
		}
	}

	// Greedy spacing sweep over the descending-intensity order
	if p.MinPeakSpacing > 0 {
		qx, err := cell.Column("qx")
		if err != nil {
			return err
		}
		qy, err := cell.Column("qy")
		if err != nil {
			return err
		}
		r2 := p.MinPeakSpacing * p.MinPeakSpacing
		mask := make([]bool, cell.Length())
		for i := range mask {
			if mask[i] {
				continue
			}
			for j := i + 1; j < len(mask); j++ {
				dx := qx[j] - qx[i]
				dy := qy[j] - qy[i]
				if dx*dx+dy*dy < r2 {
					mask[j] = true
				}
			}
		}
		if err := cell.RemovePoints(mask); err != nil {
			return err
		}
	}

	// Truncate to the brightest MaxNumPeaks of the surviving rows
	if p.MaxNumPeaks > 0 && cell.Length() > p.MaxNumPeaks {
		mask := make([]bool, cell.Length())
		for i := p.MaxNumPeaks; i < len(mask); i++ {
			mask[i] = true
		}
		if err := cell.RemovePoints(mask); err != nil {
			return err
		}
	}

	return nil
}

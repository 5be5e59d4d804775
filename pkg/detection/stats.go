package detection

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"stem4d/pkg/peaks"
)

// Summary aggregates descriptive statistics over a detected peak grid. It
// is a diagnostic aid; nothing downstream depends on it.
type Summary struct {
	// TotalPeaks is the number of peaks across all scan positions.
	TotalPeaks int

	// MeanPeaksPerPattern and StdPeaksPerPattern describe the per-cell
	// peak-count distribution.
	MeanPeaksPerPattern float64
	StdPeaksPerPattern  float64

	// MeanIntensity and MaxIntensity describe the correlation intensities
	// of all detected peaks.
	MeanIntensity float64
	MaxIntensity  float64

	// MedianNeighborSpacing is the median over all peaks of the distance
	// to the nearest other peak in the same pattern, in pixels. NaN when
	// no pattern holds two or more peaks.
	MedianNeighborSpacing float64
}

// peakPoint is a detected peak position adapted to the kdtree interfaces
// for nearest-neighbor queries.
type peakPoint struct {
	X, Y float64
}

// Compare implements the kdtree.Comparable interface
func (p peakPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(peakPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p peakPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p peakPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(peakPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// peakPoints is a collection of peakPoint that satisfies kdtree.Interface
type peakPoints []peakPoint

func (p peakPoints) Index(i int) kdtree.Comparable        { return p[i] }
func (p peakPoints) Len() int                             { return len(p) }
func (p peakPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p peakPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(peakPlane{peakPoints: p, Dim: d}, kdtree.MedianOfRandoms(peakPlane{peakPoints: p, Dim: d}, 100))
}

// peakPlane implements sort.Interface and kdtree.SortSlicer for peakPoints
type peakPlane struct {
	peakPoints
	kdtree.Dim
}

func (p peakPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.peakPoints[i].X < p.peakPoints[j].X
	case 1:
		return p.peakPoints[i].Y < p.peakPoints[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p peakPlane) Slice(start, end int) kdtree.SortSlicer {
	return peakPlane{peakPoints: p.peakPoints[start:end], Dim: p.Dim}
}

func (p peakPlane) Swap(i, j int) {
	p.peakPoints[i], p.peakPoints[j] = p.peakPoints[j], p.peakPoints[i]
}

// Summarize computes summary statistics over every cell of a detected peak
// grid. Nearest-neighbor spacings are found with a per-cell KD-tree, so
// the cost stays near-linear in the number of peaks per pattern.
func Summarize(grid *peaks.PointListArray) (Summary, error) {
	numRx, numRy := grid.Shape()

	var counts []float64
	var intensities []float64
	var spacings []float64

	for rx := 0; rx < numRx; rx++ {
		for ry := 0; ry < numRy; ry++ {
			cell, err := grid.Get(rx, ry)
			if err != nil {
				return Summary{}, err
			}
			counts = append(counts, float64(cell.Length()))

			intensity, err := cell.Column("intensity")
			if err != nil {
				return Summary{}, err
			}
			intensities = append(intensities, intensity...)

			qx, err := cell.Column("qx")
			if err != nil {
				return Summary{}, err
			}
			qy, err := cell.Column("qy")
			if err != nil {
				return Summary{}, err
			}
			spacings = append(spacings, neighborSpacings(qx, qy)...)
		}
	}

	s := Summary{
		TotalPeaks:          len(intensities),
		MeanPeaksPerPattern: stat.Mean(counts, nil),
		StdPeaksPerPattern:  stat.StdDev(counts, nil),
	}
	if len(intensities) > 0 {
		s.MeanIntensity = stat.Mean(intensities, nil)
		s.MaxIntensity = intensities[0]
		for _, v := range intensities {
			if v > s.MaxIntensity {
				s.MaxIntensity = v
			}
		}
	}
	if len(spacings) > 0 {
		sort.Float64s(spacings)
		s.MedianNeighborSpacing = stat.Quantile(0.5, stat.Empirical, spacings, nil)
	} else {
		s.MedianNeighborSpacing = math.NaN()
	}
	return s, nil
}

// neighborSpacings returns, for each peak in one cell, the Euclidean
// distance to the nearest other peak of that cell.
func neighborSpacings(qx, qy []float64) []float64 {
	if len(qx) < 2 {
		return nil
	}

	points := make(peakPoints, len(qx))
	for i := range qx {
		points[i] = peakPoint{X: qx[i], Y: qy[i]}
	}
	tree := kdtree.New(points, false)

	out := make([]float64, 0, len(points))
	for _, p := range points {
		// Two nearest: the point itself at distance zero, then its
		// true nearest neighbor.
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, p)

		best := math.Inf(1)
		found := false
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			if item.Dist > 0 && item.Dist < best {
				best = item.Dist
				found = true
			}
		}
		if found {
			out = append(out, math.Sqrt(best))
		}
	}
	return out
}

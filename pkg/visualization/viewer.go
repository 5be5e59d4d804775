// Package visualization renders diffraction patterns and correlation
// surfaces as grayscale images, optionally overlaying detected peak
// positions, and saves them for diagnostic inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"stem4d/pkg/datacube"
	"stem4d/pkg/peaks"
)

// Viewer renders a single row-major 2D float array, such as a diffraction
// pattern or a correlation surface, with x indexing rows and y indexing
// columns.
type Viewer struct {
	// data holds the 2D array being rendered
	data []float64

	// dimensions of the array
	nx int
	ny int
}

// NewViewer creates a viewer for a (nx, ny) array.
func NewViewer(data []float64, nx, ny int) (*Viewer, error) {
	if len(data) != nx*ny {
		return nil, fmt.Errorf("data length %d does not match shape (%d,%d)", len(data), nx, ny)
	}
	return &Viewer{data: data, nx: nx, ny: ny}, nil
}

// Render converts the array to a grayscale image, linearly rescaled so the
// array minimum maps to black and the maximum to white. Array rows map to
// image rows, so the x axis runs downward in the image.
func (v *Viewer) Render() *image.NRGBA {
	min, max := math.Inf(1), math.Inf(-1)
	for _, val := range v.data {
		min = math.Min(min, val)
		max = math.Max(max, val)
	}
	scale := 0.0
	if max > min {
		scale = 255 / (max - min)
	}

	img := image.NewNRGBA(image.Rect(0, 0, v.ny, v.nx))
	for x := 0; x < v.nx; x++ {
		for y := 0; y < v.ny; y++ {
			g := uint8((v.data[x*v.ny+y] - min) * scale)
			img.SetNRGBA(y, x, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img
}

// RenderWithPeaks renders the array with a red cross marker at each peak
// position of the given list.
func (v *Viewer) RenderWithPeaks(list *peaks.PointList) (*image.NRGBA, error) {
	img := v.Render()

	qx, err := list.Column("qx")
	if err != nil {
		return nil, err
	}
	qy, err := list.Column("qy")
	if err != nil {
		return nil, err
	}

	marker := color.NRGBA{R: 255, A: 255}
	const arm = 3
	for i := range qx {
		px := int(math.Round(qx[i]))
		py := int(math.Round(qy[i]))
		for d := -arm; d <= arm; d++ {
			if px+d >= 0 && px+d < v.nx && py >= 0 && py < v.ny {
				img.SetNRGBA(py, px+d, marker)
			}
			if py+d >= 0 && py+d < v.ny && px >= 0 && px < v.nx {
				img.SetNRGBA(py+d, px, marker)
			}
		}
	}
	return img, nil
}

// Save renders the array and writes it to the named file; the format is
// inferred from the file extension.
func (v *Viewer) Save(filename string) error {
	return imaging.Save(v.Render(), filename)
}

// SaveWithPeaks renders the array with peak markers and writes it to the
// named file.
func (v *Viewer) SaveWithPeaks(list *peaks.PointList, filename string) error {
	img, err := v.RenderWithPeaks(list)
	if err != nil {
		return err
	}
	return imaging.Save(img, filename)
}

// SaveScanOverlays renders every diffraction pattern of a datacube with its
// detected peaks overlaid and saves them into outputDir, one PNG per scan
// position. The peak grid's shape must match the cube's scan grid.
func SaveScanOverlays(cube *datacube.DataCube, grid *peaks.PointListArray, outputDir string) error {
	numRx, numRy := grid.Shape()
	if numRx != cube.RNx || numRy != cube.RNy {
		return fmt.Errorf("peak grid shape (%d,%d) does not match scan shape (%d,%d)", numRx, numRy, cube.RNx, cube.RNy)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for rx := 0; rx < numRx; rx++ {
		for ry := 0; ry < numRy; ry++ {
			pattern, err := cube.Pattern(rx, ry)
			if err != nil {
				return err
			}
			list, err := grid.Get(rx, ry)
			if err != nil {
				return err
			}
			viewer, err := NewViewer(pattern, cube.QNx, cube.QNy)
			if err != nil {
				return err
			}

			filename := filepath.Join(outputDir, fmt.Sprintf("pattern_%03d_%03d.png", rx, ry))
			if err := viewer.SaveWithPeaks(list, filename); err != nil {
				return err
			}
		}
	}

	return nil
}

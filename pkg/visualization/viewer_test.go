package visualization

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"stem4d/pkg/datacube"
	"stem4d/pkg/peaks"
)

// TestNewViewerShapeCheck verifies the data-length precondition
func TestNewViewerShapeCheck(t *testing.T) {
	if _, err := NewViewer(make([]float64, 10), 4, 4); err == nil {
		t.Error("Expected error for mismatched data length")
	}
	if _, err := NewViewer(make([]float64, 16), 4, 4); err != nil {
		t.Errorf("Expected NewViewer to accept a matching buffer, got %v", err)
	}
}

// TestRenderNormalization verifies the min-to-black, max-to-white rescale
// and the row/column orientation
func TestRenderNormalization(t *testing.T) {
	// 2 rows by 3 columns; minimum at (0,0), maximum at (1,2)
	data := []float64{-5, 0, 1, 2, 3, 5}
	viewer, err := NewViewer(data, 2, 3)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	img := viewer.Render()

	bounds := img.Bounds()
	if bounds.Dx() != 3 || bounds.Dy() != 2 {
		t.Fatalf("Expected 3x2 image, got %dx%d", bounds.Dx(), bounds.Dy())
	}

	// Array position (x,y) maps to image pixel (y,x)
	if c := img.NRGBAAt(0, 0); c.R != 0 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("Expected black at the minimum, got %v", c)
	}
	if c := img.NRGBAAt(2, 1); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("Expected white at the maximum, got %v", c)
	}
}

// TestRenderConstantArray verifies the degenerate flat input renders black
// instead of dividing by zero
func TestRenderConstantArray(t *testing.T) {
	data := []float64{4, 4, 4, 4}
	viewer, err := NewViewer(data, 2, 2)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	img := viewer.Render()
	if c := img.NRGBAAt(0, 0); c.R != 0 || c.A != 255 {
		t.Errorf("Expected black pixels for a constant array, got %v", c)
	}
}

// TestRenderWithPeaks verifies the cross marker lands at the peak position
func TestRenderWithPeaks(t *testing.T) {
	data := make([]float64, 16*16)
	viewer, err := NewViewer(data, 16, 16)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	list := peaks.NewPointList([]string{"qx", "qy", "intensity"})
	if err := list.AppendRow(8.2, 5.7, 1); err != nil {
		t.Fatalf("AppendRow failed: %v", err)
	}

	img, err := viewer.RenderWithPeaks(list)
	if err != nil {
		t.Fatalf("RenderWithPeaks failed: %v", err)
	}

	// The peak rounds to array position (8,6), image pixel (6,8)
	want := color.NRGBA{R: 255, A: 255}
	if c := img.NRGBAAt(6, 8); c != want {
		t.Errorf("Expected red marker at the peak center, got %v", c)
	}
	if c := img.NRGBAAt(6, 11); c != want {
		t.Errorf("Expected marker arm along x, got %v", c)
	}
	if c := img.NRGBAAt(9, 8); c != want {
		t.Errorf("Expected marker arm along y, got %v", c)
	}
	if c := img.NRGBAAt(0, 0); c == want {
		t.Error("Expected no marker far from the peak")
	}
}

// TestSaveWithPeaks verifies a PNG is actually written
func TestSaveWithPeaks(t *testing.T) {
	data := make([]float64, 8*8)
	data[3*8+4] = 1
	viewer, err := NewViewer(data, 8, 8)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	list := peaks.NewPointList([]string{"qx", "qy", "intensity"})
	list.AppendRow(3, 4, 1)

	path := filepath.Join(t.TempDir(), "peaks.png")
	if err := viewer.SaveWithPeaks(list, path); err != nil {
		t.Fatalf("SaveWithPeaks failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected output file, got %v", err)
	}
	if info.Size() == 0 {
		t.Error("Expected non-empty output file")
	}
}

// TestSaveScanOverlays verifies one image per scan position and the shape
// precondition
func TestSaveScanOverlays(t *testing.T) {
	disks := []datacube.Disk{{Qx: 8, Qy: 8, Intensity: 1}}
	cube, err := datacube.SyntheticLattice(2, 2, 16, 16, disks, 2, 0)
	if err != nil {
		t.Fatalf("SyntheticLattice failed: %v", err)
	}

	grid := peaks.NewPointListArray([]string{"qx", "qy", "intensity"}, 2, 2)
	for rx := 0; rx < 2; rx++ {
		for ry := 0; ry < 2; ry++ {
			cell, _ := grid.Get(rx, ry)
			cell.AppendRow(8, 8, 1)
		}
	}

	dir := t.TempDir()
	if err := SaveScanOverlays(cube, grid, dir); err != nil {
		t.Fatalf("SaveScanOverlays failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "pattern_*.png"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 4 {
		t.Errorf("Expected 4 overlay images, got %d", len(matches))
	}

	badGrid := peaks.NewPointListArray([]string{"qx", "qy", "intensity"}, 3, 2)
	if err := SaveScanOverlays(cube, badGrid, dir); err == nil {
		t.Error("Expected error for mismatched grid shape")
	}
}

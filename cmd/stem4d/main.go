package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"stem4d/pkg/config"
	"stem4d/pkg/datacube"
	"stem4d/pkg/detection"
	"stem4d/pkg/peaks"
	"stem4d/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Raw 4D-STEM datacube file (empty: run on a synthetic dataset)")
	probePath := flag.String("probe", "", "Raw probe template file (required with -input)")
	outputPath := flag.String("output", "peaks.csv", "Output CSV filename for detected peaks")
	configPath := flag.String("config", "stem4d.yaml", "Configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration file and exit")
	overlayDir := flag.String("overlay-dir", "", "Directory to save per-pattern peak overlay images (empty: skip)")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("BRAGG DISK DETECTION FOR 4D-STEM DATASETS")
	fmt.Println("Template cross-correlation with subpixel refinement")
	fmt.Println("================================")

	// Load or synthesize the dataset and probe template
	var cube *datacube.DataCube
	var probe []float64

	if *inputPath != "" {
		if *probePath == "" {
			log.Fatalf("-probe is required when -input is given")
		}
		cube, err = datacube.LoadRaw(*inputPath)
		if err != nil {
			log.Fatalf("Failed to load datacube: %v", err)
		}
		probeCube, err := datacube.LoadRaw(*probePath)
		if err != nil {
			log.Fatalf("Failed to load probe template: %v", err)
		}
		probe, err = probeCube.Pattern(0, 0)
		if err != nil {
			log.Fatalf("Failed to read probe template: %v", err)
		}
		if probeCube.QNx != cube.QNx || probeCube.QNy != cube.QNy {
			log.Fatalf("Probe shape (%d,%d) does not match pattern shape (%d,%d)",
				probeCube.QNx, probeCube.QNy, cube.QNx, cube.QNy)
		}
	} else {
		fmt.Println("No input file given, generating a synthetic 8x8 scan of 64x64 patterns...")
		disks := []datacube.Disk{
			{Qx: 16, Qy: 32, Intensity: 1.0},
			{Qx: 32, Qy: 32, Intensity: 2.0},
			{Qx: 48, Qy: 32, Intensity: 1.0},
			{Qx: 32, Qy: 16, Intensity: 0.8},
			{Qx: 32, Qy: 48, Intensity: 0.8},
		}
		cube, err = datacube.SyntheticLattice(8, 8, 64, 64, disks, 2.0, 1.5)
		if err != nil {
			log.Fatalf("Failed to generate synthetic dataset: %v", err)
		}
		probe = datacube.GaussianProbe(64, 64, 2.0)
	}

	fmt.Printf("Dataset: scan grid %dx%d, pattern size %dx%d\n", cube.RNx, cube.RNy, cube.QNx, cube.QNy)

	// Configure detection from the loaded settings
	params := detection.Params{
		CorrPower:            cfg.Detection.CorrPower,
		Sigma:                cfg.Detection.Sigma,
		EdgeBoundary:         cfg.Detection.EdgeBoundary,
		MinRelativeIntensity: cfg.Detection.MinRelativeIntensity,
		MinPeakSpacing:       cfg.Detection.MinPeakSpacing,
		MaxNumPeaks:          cfg.Detection.MaxNumPeaks,
		Subpixel:             cfg.Detection.Subpixel,
		UpsampleFactor:       cfg.Detection.UpsampleFactor,
		NumWorkers:           cfg.Processing.NumWorkers,
		Verbose:              cfg.Output.Verbose,
	}

	detector, err := detection.NewDetector(cube.QNx, cube.QNy, probe, params)
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}

	// Run detection over the full scan grid
	fmt.Printf("Detecting Bragg disks with %d workers (subpixel mode: %s)...\n",
		params.NumWorkers, params.Subpixel)
	startTime := time.Now()
	grid, err := detector.FindAll(cube)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}
	detectionTime := time.Since(startTime)

	// Re-filter the detected peaks
	if err := detection.ThresholdPeaks(grid, detection.ThresholdParams{
		MinRelativeIntensity: cfg.Detection.MinRelativeIntensity,
		MinPeakSpacing:       cfg.Detection.MinPeakSpacing,
		MaxNumPeaks:          cfg.Detection.MaxNumPeaks,
		NumWorkers:           cfg.Processing.NumWorkers,
	}); err != nil {
		log.Fatalf("Thresholding failed: %v", err)
	}

	summary, err := detection.Summarize(grid)
	if err != nil {
		log.Fatalf("Failed to summarize detection: %v", err)
	}

	fmt.Printf("\nDetection completed in %.2f seconds\n", detectionTime.Seconds())
	fmt.Printf("\nDetection summary:\n")
	fmt.Printf("==================\n")
	fmt.Printf("Total peaks: %d\n", summary.TotalPeaks)
	fmt.Printf("Peaks per pattern: %.2f +/- %.2f\n", summary.MeanPeaksPerPattern, summary.StdPeaksPerPattern)
	fmt.Printf("Mean correlation intensity: %.4f\n", summary.MeanIntensity)
	fmt.Printf("Max correlation intensity: %.4f\n", summary.MaxIntensity)
	fmt.Printf("Median nearest-neighbor spacing: %.2f px\n", summary.MedianNeighborSpacing)

	if err := writePeaksCSV(grid, *outputPath); err != nil {
		log.Fatalf("Failed to write peaks: %v", err)
	}
	fmt.Printf("\nDetected peaks saved to: %s\n", *outputPath)

	// Save per-pattern overlay images if requested
	if *overlayDir != "" || cfg.Output.SaveDiagnostics {
		dir := *overlayDir
		if dir == "" {
			dir = cfg.Output.DiagnosticsDir
		}
		fmt.Printf("Saving peak overlay images to: %s\n", dir)
		if err := visualization.SaveScanOverlays(cube, grid, dir); err != nil {
			log.Printf("Warning: Failed to save overlays: %v", err)
		}
	}
}

// writePeaksCSV writes every detected peak as one CSV row of
// (rx, ry, qx, qy, intensity).
func writePeaksCSV(grid *peaks.PointListArray, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"rx", "ry", "qx", "qy", "intensity"}); err != nil {
		return err
	}

	numRx, numRy := grid.Shape()
	for rx := 0; rx < numRx; rx++ {
		for ry := 0; ry < numRy; ry++ {
			cell, err := grid.Get(rx, ry)
			if err != nil {
				return err
			}
			qx, err := cell.Column("qx")
			if err != nil {
				return err
			}
			qy, err := cell.Column("qy")
			if err != nil {
				return err
			}
			intensity, err := cell.Column("intensity")
			if err != nil {
				return err
			}
			for i := range qx {
				record := []string{
					strconv.Itoa(rx),
					strconv.Itoa(ry),
					strconv.FormatFloat(qx[i], 'g', -1, 64),
					strconv.FormatFloat(qy[i], 'g', -1, 64),
					strconv.FormatFloat(intensity[i], 'g', -1, 64),
				}
				if err := w.Write(record); err != nil {
					return err
				}
			}
		}
	}

	return w.Error()
}

// splatprep turns a monocular video into a calibrated RGB-D dataset for
// Gaussian-splatting SLAM: it extracts frames, estimates per-frame depth with
// an external monocular model, recovers camera intrinsics and poses with
// structure-from-motion, injects the intrinsics into the downstream
// configuration, and lays everything out in the NeRFCapture dataset format.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/splatprep/splatprep/app"
	"github.com/splatprep/splatprep/splatprep"
)

func main() {
	video := flag.String("video", "", "input video file")
	out := flag.String("out", "dataset", "output dataset directory")
	stride := flag.Int("stride", 1, "keep every Nth frame")
	width := flag.Int("width", 0, "working frame width (0 = source)")
	height := flag.Int("height", 0, "working frame height (0 = source)")
	baseConfig := flag.String("config", "", "downstream base configuration (json)")
	outConfig := flag.String("out-config", "", "synthesized configuration path (default <out>/config.json)")
	modelCmd := flag.String("model", "python3 scripts/depth_worker.py", "depth model command")
	workers := flag.Int("workers", 1, "concurrent depth model processes")
	maxDepth := flag.Float64("max-depth", 10, "depth clamp bound for 16-bit quantization")
	monitor := flag.String("monitor", "", "address for the run-monitor endpoint (empty = off)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *video == "" {
		fmt.Fprintln(os.Stderr, "usage: splatprep -video input.mp4 -out dataset [-config base.json]")
		flag.PrintDefaults()
		os.Exit(splatprep.ExitFailure)
	}

	cfg := app.Config{
		VideoPath:      *video,
		OutDir:         *out,
		Stride:         *stride,
		Dims:           [2]int{*width, *height},
		BaseConfigPath: *baseConfig,
		OutConfigPath:  *outConfig,
		ModelCmd:       strings.Fields(*modelCmd),
		DepthWorkers:   *workers,
		MaxDepth:       *maxDepth,
	}
	pipeline := app.NewPipeline(cfg)
	log.SetOutput(io.MultiWriter(os.Stderr, pipeline.Job.LogWriter()))
	if *monitor != "" {
		app.StartMonitor(*monitor, pipeline.Job)
	}

	report, err := pipeline.Run()
	printReport(report)
	if err != nil {
		log.Printf("[main] run failed: %v", err)
		os.Exit(splatprep.ExitCode(err))
	}
}

func printReport(report *app.Report) {
	if report == nil {
		return
	}
	fmt.Printf("run %s\n", report.RunID)
	fmt.Printf("  frames extracted:   %d (%d decode failures)\n", report.FramesExtracted, report.DecodeFailures)
	fmt.Printf("  frames with depth:  %d (%d inference failures)\n", report.FramesWithDepth, report.InferenceFailures)
	fmt.Printf("  frames registered:  %d\n", report.FramesRegistered)
	fmt.Printf("  frames in manifest: %d\n", report.FramesInManifest)
	for _, ex := range report.Excluded {
		fmt.Printf("  excluded frame %d (%s)\n", ex.Index, ex.Reason)
	}
}

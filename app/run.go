package app

import (
	"log"
	"path/filepath"
	"sync"

	"github.com/splatprep/splatprep/assemble"
	"github.com/splatprep/splatprep/depth"
	"github.com/splatprep/splatprep/extract"
	"github.com/splatprep/splatprep/sfm"
	"github.com/splatprep/splatprep/splatprep"
	"github.com/splatprep/splatprep/synth"
)

type Config struct {
	VideoPath string
	// Dataset output root.
	OutDir string
	// Keep every Stride-th frame.
	Stride int
	// Working resolution; zero means source resolution.
	Dims [2]int
	// Downstream base configuration. Empty skips config synthesis.
	BaseConfigPath string
	// Where the synthesized config goes. Defaults to <OutDir>/config.json.
	OutConfigPath string
	// Depth model subprocess command.
	ModelCmd []string
	// Number of concurrent depth model processes.
	DepthWorkers int
	// Depth clamp bound for quantization.
	MaxDepth float64
	// Calibration options. Zero value uses defaults under <OutDir>/calib.
	SfM sfm.Options
}

// Report is the user-facing summary of a run: enough to judge whether the
// calibration is fit for downstream use.
type Report struct {
	RunID             string                     `json:"run_id"`
	Video             string                     `json:"video"`
	FramesExtracted   int                        `json:"frames_extracted"`
	FramesWithDepth   int                        `json:"frames_with_depth"`
	FramesRegistered  int                        `json:"frames_registered"`
	FramesInManifest  int                        `json:"frames_in_manifest"`
	DecodeFailures    int                        `json:"decode_failures"`
	InferenceFailures int                        `json:"inference_failures"`
	Excluded          []assemble.Exclusion       `json:"excluded"`
	Intrinsics        splatprep.CameraIntrinsics `json:"intrinsics"`
}

// Pipeline wires the five stages together. The stage functions are fields so
// tests can substitute any stage; NewPipeline installs the real ones.
type Pipeline struct {
	cfg Config
	Job *Job

	extractFn  func() (*extract.Result, error)
	depthFn    func([]splatprep.FrameRecord) (*depth.Result, error)
	sfmFn      func([]splatprep.FrameRecord) (*sfm.Reconstruction, error)
	synthFn    func(splatprep.CameraIntrinsics) error
	assembleFn func([]splatprep.FrameRecord, *depth.Result, *sfm.Reconstruction) (*assemble.Manifest, error)
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.OutConfigPath == "" {
		cfg.OutConfigPath = filepath.Join(cfg.OutDir, "config.json")
	}
	if cfg.SfM.CalibDir == "" {
		cfg.SfM = sfm.DefaultOptions(filepath.Join(cfg.OutDir, "calib"))
	}
	p := &Pipeline{cfg: cfg, Job: NewJob()}
	p.extractFn = func() (*extract.Result, error) {
		src, err := splatprep.OpenVideo(cfg.VideoPath)
		if err != nil {
			return nil, err
		}
		return extract.Extract(src, extract.Options{
			Stride: cfg.Stride,
			Dims:   cfg.Dims,
			OutDir: cfg.OutDir,
		})
	}
	p.depthFn = func(frames []splatprep.FrameRecord) (*depth.Result, error) {
		return depth.Run(frames, depth.Options{
			ModelCmd: cfg.ModelCmd,
			Workers:  cfg.DepthWorkers,
			MaxDepth: cfg.MaxDepth,
			OutDir:   cfg.OutDir,
		})
	}
	p.sfmFn = func(frames []splatprep.FrameRecord) (*sfm.Reconstruction, error) {
		return sfm.Calibrate(frames, cfg.SfM)
	}
	p.synthFn = func(intr splatprep.CameraIntrinsics) error {
		if cfg.BaseConfigPath == "" {
			log.Printf("[run] no base config given, skipping config synthesis")
			return nil
		}
		return synth.SynthesizeFile(cfg.BaseConfigPath, cfg.OutConfigPath, intr, cfg.MaxDepth)
	}
	p.assembleFn = func(frames []splatprep.FrameRecord, depths *depth.Result, recon *sfm.Reconstruction) (*assemble.Manifest, error) {
		return assemble.Run(frames, depths, recon, assemble.Options{
			Dir:      cfg.OutDir,
			MaxDepth: cfg.MaxDepth,
		})
	}
	return p
}

// Run executes the stage graph: extract first, then depth estimation and
// calibration concurrently (neither reads the other's output), then the two
// join points. A failed stage stops later stages from being invoked; there is
// no mid-flight cancellation.
func (p *Pipeline) Run() (*Report, error) {
	report := &Report{RunID: p.Job.RunID, Video: p.cfg.VideoPath}

	p.Job.SetStage("extract", StageRunning)
	extracted, err := p.extractFn()
	if err != nil {
		return p.fail(report, "extract", err)
	}
	p.Job.SetStage("extract", StageDone)
	report.FramesExtracted = len(extracted.Frames)
	report.DecodeFailures = len(extracted.Skipped)

	var wg sync.WaitGroup
	var depths *depth.Result
	var recon *sfm.Reconstruction
	var depthErr, sfmErr error
	p.Job.SetStage("depth", StageRunning)
	p.Job.SetStage("sfm", StageRunning)
	wg.Add(2)
	go func() {
		defer wg.Done()
		depths, depthErr = p.depthFn(extracted.Frames)
	}()
	go func() {
		defer wg.Done()
		recon, sfmErr = p.sfmFn(extracted.Frames)
	}()
	wg.Wait()

	if depthErr != nil {
		if sfmErr != nil {
			p.Job.SetStage("sfm", StageFailed)
		} else {
			p.Job.SetStage("sfm", StageDone)
		}
		p.Job.SetStage("synth", StageSkipped)
		p.Job.SetStage("assemble", StageSkipped)
		return p.fail(report, "depth", depthErr)
	}
	p.Job.SetStage("depth", StageDone)
	report.FramesWithDepth = len(depths.Done)
	report.InferenceFailures = len(depths.Failed)
	if sfmErr != nil {
		p.Job.SetStage("synth", StageSkipped)
		p.Job.SetStage("assemble", StageSkipped)
		return p.fail(report, "sfm", sfmErr)
	}
	p.Job.SetStage("sfm", StageDone)
	report.FramesRegistered = len(recon.Poses)
	report.Intrinsics = recon.Intrinsics

	p.Job.SetStage("synth", StageRunning)
	if err := p.synthFn(recon.Intrinsics); err != nil {
		p.Job.SetStage("assemble", StageSkipped)
		return p.fail(report, "synth", err)
	}
	p.Job.SetStage("synth", StageDone)

	p.Job.SetStage("assemble", StageRunning)
	manifest, err := p.assembleFn(extracted.Frames, depths, recon)
	if err != nil {
		return p.fail(report, "assemble", err)
	}
	p.Job.SetStage("assemble", StageDone)
	report.FramesInManifest = len(manifest.Included)
	report.Excluded = manifest.Excluded

	if err := splatprep.WriteJSONFile(filepath.Join(p.cfg.OutDir, "report.json"), report); err != nil {
		log.Printf("[run] could not write report: %v", err)
	}
	p.Job.Finish(nil)
	log.Printf("[run] extracted=%d depth=%d registered=%d manifest=%d",
		report.FramesExtracted, report.FramesWithDepth, report.FramesRegistered, report.FramesInManifest)
	return report, nil
}

func (p *Pipeline) fail(report *Report, stage string, err error) (*Report, error) {
	p.Job.SetStage(stage, StageFailed)
	p.Job.Finish(err)
	log.Printf("[run] %s failed: %v", stage, err)
	return report, err
}

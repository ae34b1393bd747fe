package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/splatprep/splatprep/assemble"
	"github.com/splatprep/splatprep/depth"
	"github.com/splatprep/splatprep/extract"
	"github.com/splatprep/splatprep/sfm"
	"github.com/splatprep/splatprep/splatprep"
)

// testPipeline returns a pipeline whose extract, depth, and sfm stages are
// faked but write real artifacts, so the assembler runs for real: n frames on
// disk, depth for all but noDepth, poses for all but noPose.
func testPipeline(t *testing.T, n int, noDepth map[int]bool, noPose map[int]bool) *Pipeline {
	dir := t.TempDir()
	p := NewPipeline(Config{VideoPath: "test.mp4", OutDir: dir})
	p.extractFn = func() (*extract.Result, error) {
		if err := splatprep.Mkdirs(filepath.Join(dir, "rgb"), filepath.Join(dir, "depth")); err != nil {
			return nil, err
		}
		res := &extract.Result{Decoded: n}
		for i := 0; i < n; i++ {
			im := splatprep.NewImage(16, 8)
			fname := splatprep.RGBPath(dir, i)
			if err := im.SaveAsPNG(fname); err != nil {
				return nil, err
			}
			res.Frames = append(res.Frames, splatprep.FrameRecord{
				Index: i, Width: 16, Height: 8, Fname: fname,
			})
		}
		return res, nil
	}
	p.depthFn = func(frames []splatprep.FrameRecord) (*depth.Result, error) {
		res := &depth.Result{Done: make(map[int]bool)}
		for _, frame := range frames {
			if noDepth[frame.Index] {
				res.Failed = append(res.Failed, splatprep.InferenceError{Frame: frame.Index})
				continue
			}
			dm, err := splatprep.NewDepthMap(frame.Index, 16, 8, make([]float32, 16*8))
			if err != nil {
				return nil, err
			}
			if err := dm.SaveAsPNG16(splatprep.DepthPath(dir, frame.Index), 10); err != nil {
				return nil, err
			}
			res.Done[frame.Index] = true
		}
		return res, nil
	}
	p.sfmFn = func(frames []splatprep.FrameRecord) (*sfm.Reconstruction, error) {
		recon := &sfm.Reconstruction{
			Intrinsics: splatprep.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 8, Cy: 4, Width: 16, Height: 8},
			Poses:      make(map[int]sfm.Pose),
		}
		for _, frame := range frames {
			if noPose[frame.Index] {
				recon.Unregistered = append(recon.Unregistered, frame.Index)
				continue
			}
			recon.Poses[frame.Index] = sfm.IdentityPose()
		}
		return recon, nil
	}
	return p
}

func TestRunFullPipeline(t *testing.T) {
	p := testPipeline(t, 10, map[int]bool{5: true}, map[int]bool{3: true})
	report, err := p.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.FramesExtracted != 10 || report.FramesWithDepth != 9 || report.FramesRegistered != 9 {
		t.Errorf("report counts = %d/%d/%d; want 10/9/9",
			report.FramesExtracted, report.FramesWithDepth, report.FramesRegistered)
	}
	if report.FramesInManifest != 8 {
		t.Errorf("manifest has %d frames; want 8", report.FramesInManifest)
	}
	if report.InferenceFailures != 1 {
		t.Errorf("inference failures = %d; want 1", report.InferenceFailures)
	}
	if len(report.Excluded) != 2 {
		t.Fatalf("excluded = %v; want frames 3 and 5", report.Excluded)
	}
	byIndex := make(map[int]string)
	for _, ex := range report.Excluded {
		byIndex[ex.Index] = ex.Reason
	}
	if byIndex[3] != assemble.ReasonPose {
		t.Errorf("frame 3 excluded for %q; want %q", byIndex[3], assemble.ReasonPose)
	}
	if byIndex[5] != assemble.ReasonDepth {
		t.Errorf("frame 5 excluded for %q; want %q", byIndex[5], assemble.ReasonDepth)
	}

	snap := p.Job.Snapshot()
	for _, stage := range []string{"extract", "depth", "sfm", "synth", "assemble"} {
		if snap.Stages[stage] != StageDone {
			t.Errorf("stage %s = %s; want done", stage, snap.Stages[stage])
		}
	}
	if !snap.Done || snap.Error != "" {
		t.Errorf("job done=%v error=%q", snap.Done, snap.Error)
	}
	if _, err := os.Stat(filepath.Join(p.cfg.OutDir, "report.json")); err != nil {
		t.Errorf("report.json not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.cfg.OutDir, "transforms.json")); err != nil {
		t.Errorf("transforms.json not written: %v", err)
	}
}

func TestRunCalibrationFailureSkipsLaterStages(t *testing.T) {
	p := testPipeline(t, 5, nil, nil)
	synthCalled := false
	p.synthFn = func(intr splatprep.CameraIntrinsics) error {
		synthCalled = true
		return nil
	}
	p.sfmFn = func(frames []splatprep.FrameRecord) (*sfm.Reconstruction, error) {
		return nil, splatprep.InsufficientRegistrationError{Registered: 1, Needed: 2}
	}
	_, err := p.Run()
	var insuf splatprep.InsufficientRegistrationError
	if !errors.As(err, &insuf) {
		t.Fatalf("got %v; want InsufficientRegistrationError", err)
	}
	if synthCalled {
		t.Errorf("synthesis ran after calibration failed")
	}
	snap := p.Job.Snapshot()
	if snap.Stages["sfm"] != StageFailed {
		t.Errorf("sfm stage = %s; want failed", snap.Stages["sfm"])
	}
	if snap.Stages["synth"] != StageSkipped || snap.Stages["assemble"] != StageSkipped {
		t.Errorf("later stages = %s, %s; want skipped", snap.Stages["synth"], snap.Stages["assemble"])
	}
	// depth ran concurrently and still completed
	if snap.Stages["depth"] != StageDone {
		t.Errorf("depth stage = %s; want done", snap.Stages["depth"])
	}
	if !snap.Done || snap.Error == "" {
		t.Errorf("job done=%v error=%q", snap.Done, snap.Error)
	}
}

func TestRunDepthFailureSkipsLaterStages(t *testing.T) {
	p := testPipeline(t, 4, nil, nil)
	p.depthFn = func(frames []splatprep.FrameRecord) (*depth.Result, error) {
		return nil, errors.New("model command not found")
	}
	_, err := p.Run()
	if err == nil {
		t.Fatalf("expected depth failure")
	}
	snap := p.Job.Snapshot()
	if snap.Stages["depth"] != StageFailed {
		t.Errorf("depth stage = %s; want failed", snap.Stages["depth"])
	}
	// calibration ran concurrently and finished on its own
	if snap.Stages["sfm"] != StageDone {
		t.Errorf("sfm stage = %s; want done", snap.Stages["sfm"])
	}
	if snap.Stages["synth"] != StageSkipped || snap.Stages["assemble"] != StageSkipped {
		t.Errorf("later stages = %s, %s; want skipped", snap.Stages["synth"], snap.Stages["assemble"])
	}
}

func TestRunDegenerateCalibrationNeverReachesSynthesis(t *testing.T) {
	p := testPipeline(t, 5, nil, nil)
	synthCalled := false
	p.synthFn = func(intr splatprep.CameraIntrinsics) error {
		synthCalled = true
		return nil
	}
	p.sfmFn = func(frames []splatprep.FrameRecord) (*sfm.Reconstruction, error) {
		return nil, splatprep.DegenerateCalibrationError{Reason: "non-positive focal length"}
	}
	_, err := p.Run()
	if splatprep.ExitCode(err) != splatprep.ExitDegenerateCalibration {
		t.Fatalf("exit code %d; want %d", splatprep.ExitCode(err), splatprep.ExitDegenerateCalibration)
	}
	if synthCalled {
		t.Errorf("degenerate intrinsics reached the synthesizer")
	}
}

func TestRunExtractFailure(t *testing.T) {
	p := testPipeline(t, 5, nil, nil)
	p.extractFn = func() (*extract.Result, error) {
		return nil, splatprep.SourceUnavailableError{Path: "test.mp4", Err: errors.New("no such file")}
	}
	depthCalled := false
	p.depthFn = func(frames []splatprep.FrameRecord) (*depth.Result, error) {
		depthCalled = true
		return &depth.Result{Done: map[int]bool{}}, nil
	}
	_, err := p.Run()
	if splatprep.ExitCode(err) != splatprep.ExitSourceUnavailable {
		t.Fatalf("exit code %d; want %d", splatprep.ExitCode(err), splatprep.ExitSourceUnavailable)
	}
	if depthCalled {
		t.Errorf("depth ran without frames")
	}
	snap := p.Job.Snapshot()
	if snap.Stages["extract"] != StageFailed {
		t.Errorf("extract stage = %s; want failed", snap.Stages["extract"])
	}
	if snap.Stages["depth"] != StagePending {
		t.Errorf("depth stage = %s; want pending", snap.Stages["depth"])
	}
}

func TestRunSynthesisFailureSkipsAssembly(t *testing.T) {
	p := testPipeline(t, 3, nil, nil)
	p.synthFn = func(intr splatprep.CameraIntrinsics) error {
		return splatprep.SchemaMismatchError{Field: "camera_params.fx"}
	}
	assembleCalled := false
	originalAssemble := p.assembleFn
	p.assembleFn = func(frames []splatprep.FrameRecord, depths *depth.Result, recon *sfm.Reconstruction) (*assemble.Manifest, error) {
		assembleCalled = true
		return originalAssemble(frames, depths, recon)
	}
	_, err := p.Run()
	if splatprep.ExitCode(err) != splatprep.ExitSchemaMismatch {
		t.Fatalf("exit code %d; want %d", splatprep.ExitCode(err), splatprep.ExitSchemaMismatch)
	}
	if assembleCalled {
		t.Errorf("assembly ran after synthesis failed")
	}
	if p.Job.Snapshot().Stages["assemble"] != StageSkipped {
		t.Errorf("assemble stage = %s; want skipped", p.Job.Snapshot().Stages["assemble"])
	}
}

func TestRunEmptyDataset(t *testing.T) {
	// every frame loses its pose, so assembly has nothing left
	noPose := map[int]bool{0: true, 1: true, 2: true}
	p := testPipeline(t, 3, nil, noPose)
	_, err := p.Run()
	if !errors.Is(err, splatprep.ErrEmptyDataset) {
		t.Fatalf("got %v; want ErrEmptyDataset", err)
	}
	if splatprep.ExitCode(err) != splatprep.ExitEmptyDataset {
		t.Errorf("exit code %d; want %d", splatprep.ExitCode(err), splatprep.ExitEmptyDataset)
	}
	if p.Job.Snapshot().Stages["assemble"] != StageFailed {
		t.Errorf("assemble stage = %s; want failed", p.Job.Snapshot().Stages["assemble"])
	}
}

func TestRunIdempotent(t *testing.T) {
	p := testPipeline(t, 6, map[int]bool{2: true}, nil)
	first, err := p.Run()
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run()
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.FramesInManifest != second.FramesInManifest {
		t.Errorf("manifest size changed between runs: %d -> %d", first.FramesInManifest, second.FramesInManifest)
	}
	if len(first.Excluded) != len(second.Excluded) {
		t.Fatalf("exclusions changed between runs: %v -> %v", first.Excluded, second.Excluded)
	}
	for i := range first.Excluded {
		if first.Excluded[i] != second.Excluded[i] {
			t.Errorf("exclusion %d changed: %v -> %v", i, first.Excluded[i], second.Excluded[i])
		}
	}
}

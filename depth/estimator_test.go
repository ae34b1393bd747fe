package depth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/splatprep/splatprep/splatprep"
)

// fakeInferer returns a flat depth map per frame and fails on chosen frame
// indices. halfRes makes it answer at half the frame resolution to exercise
// the upsampling path.
type fakeInferer struct {
	failAt  map[int]bool
	halfRes bool
	closed  bool
}

func (inf *fakeInferer) Infer(frame splatprep.FrameRecord, im splatprep.Image) (splatprep.DepthMap, error) {
	if inf.failAt[frame.Index] {
		return splatprep.DepthMap{}, errors.New("model blew up")
	}
	w, h := im.Width, im.Height
	if inf.halfRes {
		w /= 2
		h /= 2
	}
	values := make([]float32, w*h)
	for i := range values {
		values[i] = float32(frame.Index) + 1
	}
	return splatprep.NewDepthMap(frame.Index, w, h, values)
}

func (inf *fakeInferer) Close() {
	inf.closed = true
}

// writeTestFrames puts real frame images on disk, since estimation reloads
// each frame by path.
func writeTestFrames(t *testing.T, dir string, n int) []splatprep.FrameRecord {
	if err := splatprep.Mkdirs(filepath.Join(dir, "rgb")); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	frames := make([]splatprep.FrameRecord, n)
	for i := 0; i < n; i++ {
		im := splatprep.NewImage(16, 8)
		fname := splatprep.RGBPath(dir, i)
		if err := im.SaveAsPNG(fname); err != nil {
			t.Fatalf("save frame %d: %v", i, err)
		}
		frames[i] = splatprep.FrameRecord{Index: i, Width: 16, Height: 8, Fname: fname}
	}
	return frames
}

func TestRunAllFrames(t *testing.T) {
	dir := t.TempDir()
	frames := writeTestFrames(t, dir, 6)
	newInferer := func() (inferer, error) {
		return &fakeInferer{}, nil
	}
	res, err := run(frames, Options{Workers: 3, MaxDepth: 10, OutDir: dir}, newInferer)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Done) != 6 || len(res.Failed) != 0 {
		t.Fatalf("done=%d failed=%d; want 6, 0", len(res.Done), len(res.Failed))
	}
	indices := res.SortedIndices()
	for i, idx := range indices {
		if idx != i {
			t.Errorf("sorted index %d = %d", i, idx)
		}
	}
	for _, frame := range frames {
		fname := splatprep.DepthPath(dir, frame.Index)
		dims, err := splatprep.GetImageDims(fname)
		if err != nil {
			t.Fatalf("depth for frame %d not on disk: %v", frame.Index, err)
		}
		if dims != [2]int{16, 8} {
			t.Errorf("frame %d depth dims = %v; want the frame resolution", frame.Index, dims)
		}
	}
}

func TestRunRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	frames := writeTestFrames(t, dir, 5)
	newInferer := func() (inferer, error) {
		return &fakeInferer{failAt: map[int]bool{2: true}}, nil
	}
	res, err := run(frames, Options{Workers: 1, MaxDepth: 10, OutDir: dir}, newInferer)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Done) != 4 {
		t.Errorf("done=%d; want 4", len(res.Done))
	}
	if res.Done[2] {
		t.Errorf("failed frame 2 marked done")
	}
	if len(res.Failed) != 1 || res.Failed[0].Frame != 2 {
		t.Fatalf("failed = %+v; want one failure on frame 2", res.Failed)
	}
	if _, err := os.Stat(splatprep.DepthPath(dir, 2)); err == nil {
		t.Errorf("failed frame 2 has a depth file")
	}
}

func TestRunUpsamplesModelOutput(t *testing.T) {
	dir := t.TempDir()
	frames := writeTestFrames(t, dir, 2)
	newInferer := func() (inferer, error) {
		return &fakeInferer{halfRes: true}, nil
	}
	res, err := run(frames, Options{Workers: 1, MaxDepth: 10, OutDir: dir}, newInferer)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Done) != 2 {
		t.Fatalf("done=%d; want 2", len(res.Done))
	}
	// depth on disk must be at the frame resolution even though the model
	// answered at half resolution
	for idx := 0; idx < 2; idx++ {
		dm, err := splatprep.LoadDepthPNG16(splatprep.DepthPath(dir, idx), idx, 10)
		if err != nil {
			t.Fatalf("load depth %d: %v", idx, err)
		}
		if dm.Width != 16 || dm.Height != 8 {
			t.Errorf("depth %d is %dx%d; want 16x8", idx, dm.Width, dm.Height)
		}
	}
}

func TestRunSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	frames := writeTestFrames(t, dir, 3)
	newInferer := func() (inferer, error) {
		return nil, fmt.Errorf("no such model command")
	}
	res, err := run(frames, Options{Workers: 1, MaxDepth: 10, OutDir: dir}, newInferer)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// every frame fails, none complete, and the run itself still returns
	if len(res.Done) != 0 || len(res.Failed) != 3 {
		t.Errorf("done=%d failed=%d; want 0, 3", len(res.Done), len(res.Failed))
	}
}

func TestRunNoModelCommand(t *testing.T) {
	if _, err := Run(nil, Options{OutDir: t.TempDir()}); err == nil {
		t.Errorf("expected error without a model command")
	}
}

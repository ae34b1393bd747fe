// Package depth runs a monocular depth model over extracted frames. The model
// is an external subprocess speaking a length-prefixed stream protocol; each
// frame is a pure function of its own pixels, so frames are distributed over
// a pool of model processes with no ordering requirement.
package depth

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/splatprep/splatprep/splatprep"
)

type Options struct {
	// Model subprocess command, e.g. ["python3", "scripts/depth_worker.py"].
	ModelCmd []string
	// Number of model processes. Defaults to 1.
	Workers int
	// Depth values above MaxDepth clamp to MaxDepth before quantization.
	MaxDepth float64
	// Dataset root. Depth images are written under <OutDir>/depth/.
	OutDir string
}

type Result struct {
	// Frame indices with a written depth map. Always a subset of the input
	// frame indices.
	Done map[int]bool
	// Per-frame inference failures. These frames stay in the run but are
	// excluded from the final manifest.
	Failed []splatprep.InferenceError
}

// SortedIndices returns the completed frame indices in increasing order.
func (r *Result) SortedIndices() []int {
	indices := make([]int, 0, len(r.Done))
	for idx := range r.Done {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// inferer produces a depth map for one frame. The production implementation
// wraps a model subprocess; tests substitute their own.
type inferer interface {
	Infer(frame splatprep.FrameRecord, im splatprep.Image) (splatprep.DepthMap, error)
	Close()
}

type newInfererFunc func() (inferer, error)

// Run estimates depth for every frame and writes each result as a 16-bit
// grayscale PNG at the frame's resolution. A frame whose inference fails is
// recorded and dropped; the run continues.
func Run(frames []splatprep.FrameRecord, opts Options) (*Result, error) {
	if len(opts.ModelCmd) == 0 {
		return nil, fmt.Errorf("no depth model command configured")
	}
	newInferer := func() (inferer, error) {
		return startModelProc(opts.ModelCmd)
	}
	return run(frames, opts, newInferer)
}

func run(frames []splatprep.FrameRecord, opts Options, newInferer newInfererFunc) (*Result, error) {
	if err := splatprep.Mkdirs(opts.OutDir + "/depth"); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(frames) && len(frames) > 0 {
		workers = len(frames)
	}

	res := &Result{Done: make(map[int]bool)}
	var mu sync.Mutex
	ch := make(chan splatprep.FrameRecord)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var inf inferer
			defer func() {
				if inf != nil {
					inf.Close()
				}
			}()
			for frame := range ch {
				if inf == nil {
					var err error
					inf, err = newInferer()
					if err != nil {
						mu.Lock()
						res.Failed = append(res.Failed, splatprep.InferenceError{Frame: frame.Index, Err: err})
						mu.Unlock()
						continue
					}
				}
				err := estimateOne(inf, frame, opts)
				if err != nil {
					log.Printf("[depth] frame %d failed: %v", frame.Index, err)
					mu.Lock()
					res.Failed = append(res.Failed, splatprep.InferenceError{Frame: frame.Index, Err: err})
					mu.Unlock()
					// the model process may be wedged; drop it and start
					// fresh on the next frame
					inf.Close()
					inf = nil
					continue
				}
				mu.Lock()
				res.Done[frame.Index] = true
				mu.Unlock()
			}
		}()
	}
	for _, frame := range frames {
		ch <- frame
	}
	close(ch)
	wg.Wait()

	log.Printf("[depth] %d of %d frames have depth (%d failed)", len(res.Done), len(frames), len(res.Failed))
	return res, nil
}

func estimateOne(inf inferer, frame splatprep.FrameRecord, opts Options) error {
	im, err := frame.LoadImage()
	if err != nil {
		return err
	}
	dm, err := inf.Infer(frame, im)
	if err != nil {
		return err
	}
	if dm.Width != frame.Width || dm.Height != frame.Height {
		dm = dm.Upsample(frame.Width, frame.Height, opts.MaxDepth)
	}
	return dm.SaveAsPNG16(splatprep.DepthPath(opts.OutDir, frame.Index), opts.MaxDepth)
}

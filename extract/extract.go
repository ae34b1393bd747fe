// Package extract decodes the input video into an ordered, on-disk frame
// sequence. It is the only stage that touches the video; everything after it
// resolves frames by index from the rgb/ directory.
package extract

import (
	"fmt"
	"io"
	"log"

	"github.com/splatprep/splatprep/splatprep"
)

type Options struct {
	// Keep every Stride-th decoded frame. 1 keeps all frames.
	Stride int
	// Working resolution. Zero means the source resolution.
	Dims [2]int
	// Dataset root. Frames are written under <OutDir>/rgb/.
	OutDir string
}

type Result struct {
	Frames []splatprep.FrameRecord
	// Per-frame decode failures, in source-frame order. These frames have no
	// index and appear nowhere downstream.
	Skipped []splatprep.DecodeError
	// Number of frames decoded from the source before stride sampling.
	Decoded int
}

// Run extracts frames from src through rd. Frames that fail to decode are
// logged and skipped; indices are assigned to successful frames only, so the
// output sequence is contiguous from zero.
func Run(src splatprep.VideoSource, rd splatprep.VideoReader, opts Options) (*Result, error) {
	if opts.Stride < 1 {
		return nil, fmt.Errorf("stride must be >= 1, got %d", opts.Stride)
	}
	if err := splatprep.Mkdirs(opts.OutDir + "/rgb"); err != nil {
		return nil, err
	}

	rate := src.Metadata.Framerate
	res := &Result{}
	outIdx := 0
	for srcIdx := 0; ; srcIdx++ {
		im, err := rd.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			log.Printf("[extract] skipping frame %d: %v", srcIdx, err)
			res.Skipped = append(res.Skipped, splatprep.DecodeError{Frame: srcIdx, Err: err})
			continue
		}
		res.Decoded++
		if srcIdx%opts.Stride != 0 {
			continue
		}
		// frames on disk must be at the working resolution even when the
		// reader decoded at another size
		if opts.Dims[0] > 0 && opts.Dims[1] > 0 {
			im = im.Resize(opts.Dims[0], opts.Dims[1])
		}
		fname := splatprep.RGBPath(opts.OutDir, outIdx)
		if err := im.SaveAsPNG(fname); err != nil {
			log.Printf("[extract] skipping frame %d: write %s: %v", srcIdx, fname, err)
			res.Skipped = append(res.Skipped, splatprep.DecodeError{Frame: srcIdx, Err: err})
			continue
		}
		res.Frames = append(res.Frames, splatprep.FrameRecord{
			Index:     outIdx,
			Timestamp: float64(srcIdx) * float64(rate[1]) / float64(rate[0]),
			Width:     im.Width,
			Height:    im.Height,
			Fname:     fname,
		})
		outIdx++
	}
	log.Printf("[extract] %d frames decoded, %d kept (stride %d), %d skipped",
		res.Decoded, len(res.Frames), opts.Stride, len(res.Skipped))
	return res, nil
}

// Extract opens the video and runs extraction with an ffmpeg reader. It is
// restartable: re-running with the same video and options yields the same
// frame sequence.
func Extract(src splatprep.VideoSource, opts Options) (*Result, error) {
	dims := opts.Dims
	if dims[0] == 0 || dims[1] == 0 {
		dims = src.Metadata.Dims
	}
	rd, err := splatprep.ReadVideo(src, dims)
	if err != nil {
		return nil, splatprep.SourceUnavailableError{Path: src.Fname, Err: err}
	}
	defer rd.Close()
	return Run(src, rd, opts)
}

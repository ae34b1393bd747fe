// Package assemble builds the final dataset manifest and on-disk layout. A
// frame makes it into the manifest only with all three of RGB, depth, and a
// registered pose; everything else is excluded with a recorded reason.
package assemble

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/splatprep/splatprep/depth"
	"github.com/splatprep/splatprep/sfm"
	"github.com/splatprep/splatprep/splatprep"
)

// Exclusion reasons, in the order they are checked per frame.
const (
	ReasonRGB   = "rgb"
	ReasonDepth = "depth"
	ReasonPose  = "pose"
)

type Exclusion struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Manifest is the authoritative set of frames ready for downstream
// reconstruction.
type Manifest struct {
	Included []int       `json:"included"`
	Excluded []Exclusion `json:"excluded"`
}

type Options struct {
	// Dataset root; rgb/ and depth/ already live under it.
	Dir string
	// Depth clamp bound used at quantization time; recorded in the manifest
	// so downstream can undo the integer scaling.
	MaxDepth float64
}

// transforms.json in the NeRFCapture layout the downstream loader reads.
type transformsFile struct {
	FlX               float64           `json:"fl_x"`
	FlY               float64           `json:"fl_y"`
	Cx                float64           `json:"cx"`
	Cy                float64           `json:"cy"`
	W                 int               `json:"w"`
	H                 int               `json:"h"`
	IntegerDepthScale float64           `json:"integer_depth_scale"`
	Frames            []transformsFrame `json:"frames"`
}

type transformsFrame struct {
	TransformMatrix [4][4]float64 `json:"transform_matrix"`
	FilePath        string        `json:"file_path"`
	DepthPath       string        `json:"depth_path"`
}

// Run intersects the three upstream frame sets, validates the on-disk
// artifacts, and writes transforms.json. It fails only when nothing usable
// remains.
func Run(frames []splatprep.FrameRecord, depths *depth.Result, recon *sfm.Reconstruction, opts Options) (*Manifest, error) {
	manifest := &Manifest{}
	var included []splatprep.FrameRecord
	for _, frame := range frames {
		reason := checkFrame(frame, depths, recon, opts)
		if reason != "" {
			log.Printf("[assemble] frame %d excluded (%s)", frame.Index, reason)
			manifest.Excluded = append(manifest.Excluded, Exclusion{Index: frame.Index, Reason: reason})
			continue
		}
		manifest.Included = append(manifest.Included, frame.Index)
		included = append(included, frame)
	}
	sort.Ints(manifest.Included)

	if len(manifest.Included) == 0 {
		return nil, splatprep.ErrEmptyDataset
	}

	tf := transformsFile{
		FlX:               recon.Intrinsics.Fx,
		FlY:               recon.Intrinsics.Fy,
		Cx:                recon.Intrinsics.Cx,
		Cy:                recon.Intrinsics.Cy,
		W:                 recon.Intrinsics.Width,
		H:                 recon.Intrinsics.Height,
		IntegerDepthScale: opts.MaxDepth / 65535.0,
	}
	for _, frame := range included {
		tf.Frames = append(tf.Frames, transformsFrame{
			TransformMatrix: recon.Poses[frame.Index].Matrix(),
			FilePath:        filepath.Join("rgb", splatprep.FrameName(frame.Index)),
			DepthPath:       filepath.Join("depth", splatprep.FrameName(frame.Index)),
		})
	}
	if err := splatprep.WriteJSONFile(filepath.Join(opts.Dir, "transforms.json"), tf); err != nil {
		return nil, err
	}
	log.Printf("[assemble] manifest: %d frames included, %d excluded", len(manifest.Included), len(manifest.Excluded))
	return manifest, nil
}

// checkFrame returns the exclusion reason for a frame, or "" if the frame has
// a complete triple. RGB and depth checks verify the file actually on disk,
// since that file is what downstream consumes: the depth file must decode as
// 16-bit grayscale at the frame's resolution.
func checkFrame(frame splatprep.FrameRecord, depths *depth.Result, recon *sfm.Reconstruction, opts Options) string {
	if err := checkImageFile(splatprep.RGBPath(opts.Dir, frame.Index), frame); err != nil {
		log.Printf("[assemble] frame %d rgb: %v", frame.Index, err)
		return ReasonRGB
	}
	if !depths.Done[frame.Index] {
		return ReasonDepth
	}
	dm, err := splatprep.LoadDepthPNG16(splatprep.DepthPath(opts.Dir, frame.Index), frame.Index, opts.MaxDepth)
	if err != nil {
		log.Printf("[assemble] frame %d depth: %v", frame.Index, err)
		return ReasonDepth
	}
	if dm.Width != frame.Width || dm.Height != frame.Height {
		log.Printf("[assemble] frame %d depth is %dx%d, want %dx%d",
			frame.Index, dm.Width, dm.Height, frame.Width, frame.Height)
		return ReasonDepth
	}
	if _, ok := recon.Poses[frame.Index]; !ok {
		return ReasonPose
	}
	return ""
}

func checkImageFile(fname string, frame splatprep.FrameRecord) error {
	dims, err := splatprep.GetImageDims(fname)
	if err != nil {
		return err
	}
	if dims[0] != frame.Width || dims[1] != frame.Height {
		return fmt.Errorf("%s is %dx%d, want %dx%d", fname, dims[0], dims[1], frame.Width, frame.Height)
	}
	return nil
}

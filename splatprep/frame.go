package splatprep

import (
	"path/filepath"
)

// FrameRecord describes one extracted frame. Index is zero-based and
// contiguous over the frames that decoded successfully; Timestamp is the
// source presentation time in seconds. The pixels live on disk under Fname so
// later stages can resolve a frame by index without re-decoding the video.
type FrameRecord struct {
	Index     int
	Timestamp float64
	Width     int
	Height    int
	Fname     string
}

func (f FrameRecord) LoadImage() (Image, error) {
	return ImageFromFile(f.Fname)
}

// RGBPath returns the frame image path for idx under datasetDir.
func RGBPath(datasetDir string, idx int) string {
	return filepath.Join(datasetDir, "rgb", FrameName(idx))
}

// DepthPath returns the depth image path for idx under datasetDir.
func DepthPath(datasetDir string, idx int) string {
	return filepath.Join(datasetDir, "depth", FrameName(idx))
}

// Package sfm recovers camera intrinsics, per-frame poses, and a sparse point
// cloud from the extracted frame sequence. It runs as one batch over the whole
// sequence: FAST corners and BRIEF descriptors per frame, hamming matching
// over sequential frame pairs, then two-view geometry to chain poses and
// triangulate points.
package sfm

import (
	"image"
	"math"
	"sort"
)

// fastCircle is the Bresenham circle of radius 3 used by the FAST detector,
// starting at 12 o'clock and going clockwise.
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

type Keypoint struct {
	X           int
	Y           int
	Score       int
	Orientation float64
}

type FeatureConfig struct {
	// FAST intensity threshold.
	Threshold int
	// Number of contiguous circle pixels that must all be brighter or all be
	// darker than the center.
	ContigCount int
	// Window size for non-maximum suppression.
	NMSWindow int
	// Keep at most this many keypoints per frame, strongest first.
	MaxKeypoints int
}

func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		Threshold:    20,
		ContigCount:  9,
		NMSWindow:    7,
		MaxKeypoints: 1200,
	}
}

// DetectKeypoints finds FAST corners in img with non-maximum suppression and
// intensity-centroid orientations. Keypoints too close to the border for a
// descriptor patch are not returned.
func DetectKeypoints(img *image.Gray, cfg FeatureConfig) []Keypoint {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	margin := patchRadius + 1
	var kps []Keypoint
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			if score, ok := cornerScore(img, x, y, cfg); ok {
				kps = append(kps, Keypoint{X: x, Y: y, Score: score})
			}
		}
	}
	kps = suppressNonMax(kps, cfg.NMSWindow)
	if len(kps) > cfg.MaxKeypoints {
		sort.Slice(kps, func(i, j int) bool { return kps[i].Score > kps[j].Score })
		kps = kps[:cfg.MaxKeypoints]
	}
	// restore scan order so output is deterministic
	sort.Slice(kps, func(i, j int) bool {
		if kps[i].Y != kps[j].Y {
			return kps[i].Y < kps[j].Y
		}
		return kps[i].X < kps[j].X
	})
	for i := range kps {
		kps[i].Orientation = orientation(img, kps[i].X, kps[i].Y)
	}
	return kps
}

func pixel(img *image.Gray, x, y int) int {
	return int(img.Pix[y*img.Stride+x])
}

// cornerScore runs the segment test at (x, y): the point is a corner if some
// arc of cfg.ContigCount contiguous circle pixels is entirely brighter than
// center+threshold or entirely darker than center-threshold. The score is the
// sum of absolute differences over the circle.
func cornerScore(img *image.Gray, x, y int, cfg FeatureConfig) (int, bool) {
	center := pixel(img, x, y)
	var brighter, darker [16]bool
	score := 0
	for i, off := range fastCircle {
		v := pixel(img, x+off[0], y+off[1])
		d := v - center
		if d > cfg.Threshold {
			brighter[i] = true
		} else if d < -cfg.Threshold {
			darker[i] = true
		}
		if d < 0 {
			d = -d
		}
		score += d
	}
	if hasContiguousArc(brighter, cfg.ContigCount) || hasContiguousArc(darker, cfg.ContigCount) {
		return score, true
	}
	return 0, false
}

func hasContiguousArc(flags [16]bool, n int) bool {
	run := 0
	// wrap around the circle so arcs crossing index 0 count
	for i := 0; i < 16+n; i++ {
		if flags[i%16] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func suppressNonMax(kps []Keypoint, window int) []Keypoint {
	if window <= 1 {
		return kps
	}
	half := window / 2
	// bucket keypoints by cell; a keypoint survives if it has the best score
	// within its window
	type cell struct{ cx, cy int }
	byCell := make(map[cell][]Keypoint)
	for _, kp := range kps {
		c := cell{kp.X / window, kp.Y / window}
		byCell[c] = append(byCell[c], kp)
	}
	var out []Keypoint
	for _, kp := range kps {
		best := true
		c := cell{kp.X / window, kp.Y / window}
		for dy := -1; dy <= 1 && best; dy++ {
			for dx := -1; dx <= 1 && best; dx++ {
				for _, other := range byCell[cell{c.cx + dx, c.cy + dy}] {
					if other.X == kp.X && other.Y == kp.Y {
						continue
					}
					if abs(other.X-kp.X) <= half && abs(other.Y-kp.Y) <= half {
						if other.Score > kp.Score ||
							(other.Score == kp.Score && (other.Y < kp.Y || (other.Y == kp.Y && other.X < kp.X))) {
							best = false
							break
						}
					}
				}
			}
		}
		if best {
			out = append(out, kp)
		}
	}
	return out
}

const orientationRadius = 15

// orientation computes the intensity centroid angle over a disk around the
// keypoint.
func orientation(img *image.Gray, x, y int) float64 {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	var m10, m01 int
	for dy := -orientationRadius; dy <= orientationRadius; dy++ {
		for dx := -orientationRadius; dx <= orientationRadius; dx++ {
			if dx*dx+dy*dy > orientationRadius*orientationRadius {
				continue
			}
			px, py := x+dx, y+dy
			if px < 0 || px >= w || py < 0 || py >= h {
				continue
			}
			v := pixel(img, px, py)
			m10 += v * dx
			m01 += v * dy
		}
	}
	return math.Atan2(float64(m01), float64(m10))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

package sfm

import (
	"image"
	"math"
	"math/bits"
	"math/rand"
)

const (
	descriptorBits = 256
	patchRadius    = 15
	// Fixed seed for the BRIEF sampling pattern. The pattern must be identical
	// across runs and across frames or descriptors are not comparable, and
	// re-running the pipeline on the same video must give the same
	// reconstruction.
	briefSeed = 42
)

// Descriptor is a 256-bit BRIEF descriptor.
type Descriptor [4]uint64

type samplePair struct {
	x0, y0, x1, y1 int
}

// briefPattern is generated once; all descriptors use the same pairs.
var briefPattern = generatePattern()

func generatePattern() []samplePair {
	rng := rand.New(rand.NewSource(briefSeed))
	pattern := make([]samplePair, descriptorBits)
	for i := range pattern {
		pattern[i] = samplePair{
			x0: rng.Intn(2*patchRadius+1) - patchRadius,
			y0: rng.Intn(2*patchRadius+1) - patchRadius,
			x1: rng.Intn(2*patchRadius+1) - patchRadius,
			y1: rng.Intn(2*patchRadius+1) - patchRadius,
		}
	}
	return pattern
}

// ComputeDescriptors computes a steered BRIEF descriptor per keypoint on a
// blurred copy of img. Keypoints are assumed to be at least patchRadius+1
// from the border (DetectKeypoints guarantees this).
func ComputeDescriptors(img *image.Gray, kps []Keypoint) []Descriptor {
	blurred := blurGray(img)
	descs := make([]Descriptor, len(kps))
	for i, kp := range kps {
		sin, cos := math.Sincos(kp.Orientation)
		var d Descriptor
		for b, pair := range briefPattern {
			x0, y0 := rotatePoint(pair.x0, pair.y0, sin, cos)
			x1, y1 := rotatePoint(pair.x1, pair.y1, sin, cos)
			v0 := sampleClamped(blurred, kp.X+x0, kp.Y+y0)
			v1 := sampleClamped(blurred, kp.X+x1, kp.Y+y1)
			if v0 < v1 {
				d[b/64] |= 1 << uint(b%64)
			}
		}
		descs[i] = d
	}
	return descs
}

func rotatePoint(x, y int, sin, cos float64) (int, int) {
	rx := cos*float64(x) - sin*float64(y)
	ry := sin*float64(x) + cos*float64(y)
	return int(math.Round(rx)), int(math.Round(ry))
}

func sampleClamped(img *image.Gray, x, y int) int {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	if x < 0 {
		x = 0
	} else if x >= w {
		x = w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= h {
		y = h - 1
	}
	return pixel(img, x, y)
}

// blurGray applies a 3x3 binomial blur. BRIEF compares single pixels, so
// without smoothing the descriptor is dominated by sensor noise.
func blurGray(img *image.Gray) *image.Gray {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	kernel := [3][3]int{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, weight := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px, py := x+dx, y+dy
					if px < 0 || px >= w || py < 0 || py >= h {
						continue
					}
					k := kernel[dy+1][dx+1]
					sum += k * pixel(img, px, py)
					weight += k
				}
			}
			out.Pix[y*out.Stride+x] = uint8(sum / weight)
		}
	}
	return out
}

// HammingDistance counts differing bits between two descriptors.
func HammingDistance(a, b Descriptor) int {
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

package sfm

import (
	"fmt"
	"log"
	"math"
	"path/filepath"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/splatprep/splatprep/splatprep"
)

type Options struct {
	Features FeatureConfig
	Matching MatchConfig
	// A frame pair participates in registration only with at least this many
	// matches.
	MinPairMatches int
	// Of a pair's matches, at least this fraction must survive the cheirality
	// check for the relative pose to be trusted.
	MinInlierFraction float64
	// Fewer registered frames than this aborts the run.
	MinRegistered int
	// Cap on triangulated points kept in the sparse cloud.
	MaxPoints int
	// Directory for calibration artifacts (feature database, point cloud).
	CalibDir string
	// Whether to export the sparse cloud as PLY.
	ExportPLY bool
}

func DefaultOptions(calibDir string) Options {
	return Options{
		Features:          DefaultFeatureConfig(),
		Matching:          DefaultMatchConfig(),
		MinPairMatches:    30,
		MinInlierFraction: 0.5,
		MinRegistered:     2,
		MaxPoints:         20000,
		CalibDir:          calibDir,
		ExportPLY:         true,
	}
}

// Point3 is one sparse-cloud point with the frames that observe it.
type Point3 struct {
	Position     r3.Vector
	Observations []int
}

// Reconstruction is the calibrator's output. Immutable once returned.
type Reconstruction struct {
	Intrinsics splatprep.CameraIntrinsics
	// Camera-to-world pose per registered frame index.
	Poses map[int]Pose
	// Frame indices that failed to register, with the reason logged.
	Unregistered []int
	Points       []Point3
	// Path of the feature-matching database.
	DBPath string
}

// RegisteredIndices returns the registered frame indices in increasing order.
func (r *Reconstruction) RegisteredIndices() []int {
	indices := make([]int, 0, len(r.Poses))
	for idx := range r.Poses {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

type frameFeatures struct {
	frame splatprep.FrameRecord
	kps   []Keypoint
	descs []Descriptor
}

type framePair struct {
	a, b    int // frame indices
	matches []Match
}

// Calibrate runs structure-from-motion over the full frame sequence. It needs
// the whole set at once; unlike depth estimation it is not decomposable per
// frame.
func Calibrate(frames []splatprep.FrameRecord, opts Options) (*Reconstruction, error) {
	if len(frames) < opts.MinRegistered {
		return nil, splatprep.InsufficientRegistrationError{Registered: len(frames), Needed: opts.MinRegistered}
	}
	if err := splatprep.Mkdirs(opts.CalibDir); err != nil {
		return nil, err
	}
	width := frames[0].Width
	height := frames[0].Height

	dbPath := filepath.Join(opts.CalibDir, "features.sqlite3")
	fdb, err := OpenFeatureDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer fdb.Close()

	features, err := extractFeatures(frames, opts, fdb)
	if err != nil {
		return nil, err
	}
	pairs := matchPairs(features, opts, fdb)
	stored := 0
	for key := range pairs {
		stored += fdb.CountMatches(key[0], key[1])
	}
	log.Printf("[sfm] %d pairs matched, %d matches in %s", len(pairs), stored, dbPath)

	intr := refineIntrinsics(initialIntrinsics(width, height), features, pairs, opts)
	if err := intr.Validate(); err != nil {
		return nil, err
	}

	recon := registerFrames(features, pairs, intr, opts)
	recon.DBPath = dbPath
	if len(recon.Poses) < opts.MinRegistered {
		return nil, splatprep.InsufficientRegistrationError{Registered: len(recon.Poses), Needed: opts.MinRegistered}
	}

	if opts.ExportPLY && len(recon.Points) > 0 {
		plyPath := filepath.Join(opts.CalibDir, "points.ply")
		if err := WritePLYFile(plyPath, recon.Points); err != nil {
			log.Printf("[sfm] ply export failed: %v", err)
		}
	}
	log.Printf("[sfm] %d of %d frames registered, %d sparse points, fx=%.1f fy=%.1f",
		len(recon.Poses), len(frames), len(recon.Points), intr.Fx, intr.Fy)
	return recon, nil
}

// extractFeatures detects and describes keypoints one frame at a time, so
// only one decoded image is in memory at once.
func extractFeatures(frames []splatprep.FrameRecord, opts Options, fdb *FeatureDB) ([]frameFeatures, error) {
	features := make([]frameFeatures, len(frames))
	for i, frame := range frames {
		im, err := frame.LoadImage()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %v", frame.Index, err)
		}
		gray := im.ToGray()
		kps := DetectKeypoints(gray, opts.Features)
		descs := ComputeDescriptors(gray, kps)
		features[i] = frameFeatures{frame: frame, kps: kps, descs: descs}
		fdb.InsertFrame(frame.Index, frame.Width, frame.Height, kps)
		if i%25 == 0 {
			log.Printf("[sfm] features %d/%d (%d keypoints)", i+1, len(frames), len(kps))
		}
	}
	return features, nil
}

// matchPairs matches each frame against its next two successors. The short
// extra baseline lets registration bridge a single bad frame.
func matchPairs(features []frameFeatures, opts Options, fdb *FeatureDB) map[[2]int]framePair {
	pairs := make(map[[2]int]framePair)
	for i := range features {
		for _, j := range []int{i + 1, i + 2} {
			if j >= len(features) {
				continue
			}
			matches := MatchDescriptors(features[i].descs, features[j].descs, opts.Matching)
			a := features[i].frame.Index
			b := features[j].frame.Index
			fdb.InsertMatches(a, b, matches)
			pairs[[2]int{a, b}] = framePair{a: a, b: b, matches: matches}
		}
	}
	return pairs
}

// initialIntrinsics is the standard guess for an uncalibrated camera: focal
// 1.2x the larger image dimension, principal point at the center.
func initialIntrinsics(width int, height int) splatprep.CameraIntrinsics {
	f := 1.2 * float64(max(width, height))
	return splatprep.CameraIntrinsics{
		Fx:     f,
		Fy:     f,
		Cx:     float64(width) / 2,
		Cy:     float64(height) / 2,
		Width:  width,
		Height: height,
	}
}

// refineIntrinsics searches the shared focal length by golden section,
// scoring each candidate by how many triangulated points land in front of
// both cameras over a sample of pairs. The principal point stays at the
// image center.
func refineIntrinsics(guess splatprep.CameraIntrinsics, features []frameFeatures, pairs map[[2]int]framePair, opts Options) splatprep.CameraIntrinsics {
	sample := samplePairs(features, pairs, opts, 12)
	if len(sample) == 0 {
		return guess
	}
	support := func(f float64) int {
		intr := guess
		intr.Fx = f
		intr.Fy = f
		total := 0
		for _, s := range sample {
			res, err := recoverRelativePose(s.px1, s.px2, intr)
			if err != nil {
				continue
			}
			total += len(res.inliers)
		}
		return total
	}

	const phi = 1.618033988749895
	lo := 0.4 * guess.Fx
	hi := 2.5 * guess.Fx
	a, b := lo, hi
	c := b - (b-a)/phi
	d := a + (b-a)/phi
	fc, fd := support(c), support(d)
	for i := 0; i < 24 && b-a > guess.Fx*0.01; i++ {
		if fc > fd {
			b, d, fd = d, c, fc
			c = b - (b-a)/phi
			fc = support(c)
		} else {
			a, c, fc = c, d, fd
			d = a + (b-a)/phi
			fd = support(d)
		}
	}
	best := (a + b) / 2
	out := guess
	out.Fx = best
	out.Fy = best
	log.Printf("[sfm] refined focal %.1f -> %.1f", guess.Fx, best)
	return out
}

type sampledPair struct {
	px1, px2 []r2.Point
}

// samplePairs picks up to n well-matched consecutive pairs spread over the
// sequence for the focal search.
func samplePairs(features []frameFeatures, pairs map[[2]int]framePair, opts Options, n int) []sampledPair {
	var keys [][2]int
	for key, pair := range pairs {
		if key[1]-key[0] == 1 && len(pair.matches) >= opts.MinPairMatches {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i][0] < keys[j][0] })
	if len(keys) > n {
		step := float64(len(keys)) / float64(n)
		var picked [][2]int
		for i := 0; i < n; i++ {
			picked = append(picked, keys[int(float64(i)*step)])
		}
		keys = picked
	}
	byIndex := featureIndex(features)
	var out []sampledPair
	for _, key := range keys {
		pair := pairs[key]
		px1, px2 := matchedPixels(byIndex[pair.a], byIndex[pair.b], pair.matches, 100)
		out = append(out, sampledPair{px1: px1, px2: px2})
	}
	return out
}

func featureIndex(features []frameFeatures) map[int]frameFeatures {
	byIndex := make(map[int]frameFeatures, len(features))
	for _, f := range features {
		byIndex[f.frame.Index] = f
	}
	return byIndex
}

// matchedPixels returns the matched pixel coordinates for a pair, capped at
// limit matches (strongest first; MatchDescriptors output is unordered so cap
// by lowest distance).
func matchedPixels(f1, f2 frameFeatures, matches []Match, limit int) ([]r2.Point, []r2.Point) {
	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Dist < sorted[j].Dist })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	px1 := make([]r2.Point, len(sorted))
	px2 := make([]r2.Point, len(sorted))
	for i, m := range sorted {
		px1[i] = r2.Point{X: float64(f1.kps[m.Idx1].X), Y: float64(f1.kps[m.Idx1].Y)}
		px2[i] = r2.Point{X: float64(f2.kps[m.Idx2].X), Y: float64(f2.kps[m.Idx2].Y)}
	}
	return px1, px2
}

// registerFrames chains relative poses along the sequence. The first frame
// sits at the identity; each later frame registers off the nearest earlier
// registered frame it shares a pair with. Frames with too few matches or too
// little cheirality support stay unregistered.
func registerFrames(features []frameFeatures, pairs map[[2]int]framePair, intr splatprep.CameraIntrinsics, opts Options) *Reconstruction {
	recon := &Reconstruction{
		Intrinsics: intr,
		Poses:      make(map[int]Pose),
	}
	if len(features) == 0 {
		return recon
	}
	byIndex := featureIndex(features)
	first := features[0].frame.Index
	recon.Poses[first] = IdentityPose()

	for i := 1; i < len(features); i++ {
		idx := features[i].frame.Index
		registered := false
		// prefer the immediate predecessor, then the one before it
		for back := 1; back <= 2 && i-back >= 0; back++ {
			anchor := features[i-back].frame.Index
			anchorPose, ok := recon.Poses[anchor]
			if !ok {
				continue
			}
			pair, ok := pairs[[2]int{anchor, idx}]
			if !ok || len(pair.matches) < opts.MinPairMatches {
				continue
			}
			px1, px2 := matchedPixels(byIndex[anchor], byIndex[idx], pair.matches, 200)
			res, err := recoverRelativePose(px1, px2, intr)
			if err != nil {
				continue
			}
			if float64(len(res.inliers)) < opts.MinInlierFraction*float64(len(px1)) {
				continue
			}
			// res.rel maps anchor-camera coords to this camera's coords;
			// camera-to-world for this frame chains through its inverse
			camToAnchor := Pose{R: res.rel.R, T: res.rel.T}.Inverse()
			recon.Poses[idx] = anchorPose.Compose(camToAnchor)
			registered = true
			recon.addPoints(anchorPose, res, anchor, idx, opts.MaxPoints)
			break
		}
		if !registered {
			log.Printf("[sfm] frame %d failed to register", idx)
			recon.Unregistered = append(recon.Unregistered, idx)
		}
	}
	return recon
}

// addPoints folds a pair's triangulated points (in the anchor camera frame)
// into the world-frame sparse cloud.
func (r *Reconstruction) addPoints(anchorPose Pose, res *pairResult, anchor int, idx int, maxPoints int) {
	for _, pt := range res.points {
		if len(r.Points) >= maxPoints {
			return
		}
		if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsNaN(pt.Z) {
			continue
		}
		r.Points = append(r.Points, Point3{
			Position:     anchorPose.Apply(pt),
			Observations: []int{anchor, idx},
		})
	}
}

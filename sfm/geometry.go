package sfm

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/splatprep/splatprep/splatprep"
)

// Two-view geometry over normalized camera coordinates. A relative pose
// (R, T) maps points from the first camera's frame into the second:
// X2 = R*X1 + T. Translation is unit length; monocular input fixes scale only
// up to a global factor.

var errDegenerate = errors.New("degenerate point configuration")

// normalizePixel maps a pixel coordinate onto the normalized image plane.
func normalizePixel(p r2.Point, intr splatprep.CameraIntrinsics) r2.Point {
	return r2.Point{
		X: (p.X - intr.Cx) / intr.Fx,
		Y: (p.Y - intr.Cy) / intr.Fy,
	}
}

// conditionPoints translates and scales points so their centroid is the
// origin and their mean distance from it is sqrt(2) (Hartley normalization).
// Returns the transformed points and the 3x3 conditioning transform.
func conditionPoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	n := float64(len(pts))
	var mu r2.Point
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1 / n)
	d := 0.0
	for _, pt := range pts {
		dx := pt.X - mu.X
		dy := pt.Y - mu.Y
		d += math.Sqrt(dx*dx+dy*dy) / n
	}
	if d == 0 {
		d = 1
	}
	scale := math.Sqrt2 / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = r2.Point{X: scale * (pt.X - mu.X), Y: scale * (pt.Y - mu.Y)}
	}
	return out, T
}

// essentialMatrix computes the essential matrix from >= 8 correspondences in
// normalized camera coordinates, using the conditioned 8-point algorithm with
// the rank-2 constraint enforced.
func essentialMatrix(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("point sets differ in length")
	}
	if len(pts1) < 8 {
		return nil, errors.New("need at least 8 correspondences")
	}
	cond1, T1 := conditionPoints(pts1)
	cond2, T2 := conditionPoints(pts2)

	m := mat.NewDense(len(cond1), 9, nil)
	for i := range cond1 {
		v1 := cond1[i]
		v2 := cond2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("svd on correspondence matrix failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	col := make([]float64, 9)
	for i := range col {
		col[i] = v.At(i, 8)
	}
	E := mat.NewDense(3, 3, col)

	// enforce rank 2 by zeroing only the smallest singular value. The
	// conditioning transforms are affine, so the conditioned matrix is not
	// essential-shaped; the (1, 1, 0) form is realized in decomposeEssential,
	// which factorizes the unconditioned matrix itself.
	var svd2 mat.SVD
	if ok := svd2.Factorize(E, mat.SVDFull); !ok {
		return nil, errors.New("svd on essential matrix failed")
	}
	var u, vE mat.Dense
	svd2.UTo(&u)
	svd2.VTo(&vE)
	vals := svd2.Values(nil)
	s := mat.NewDense(3, 3, nil)
	s.Set(0, 0, vals[0])
	s.Set(1, 1, vals[1])
	E.Mul(&u, s)
	E.Mul(E, vE.T())

	// undo conditioning: T2^T * E * T1
	E.Mul(transpose(T2), E)
	E.Mul(E, T1)
	return E, nil
}

// decomposeEssential returns the two rotation candidates and the translation
// direction from an essential matrix.
func decomposeEssential(E *mat.Dense) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	var svd mat.SVD
	if ok := svd.Factorize(E, mat.SVDFull); !ok {
		return nil, nil, r3.Vector{}, errors.New("svd on essential matrix failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	if mat.Det(&u) < 0 {
		u.Scale(-1, &u)
	}
	if mat.Det(&v) < 0 {
		v.Scale(-1, &v)
	}
	W := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	vt := transpose(&v)
	R1 := mat.NewDense(3, 3, nil)
	R1.Mul(&u, W)
	R1.Mul(R1, vt)
	R2 := mat.NewDense(3, 3, nil)
	R2.Mul(&u, transpose(W))
	R2.Mul(R2, vt)
	t := r3.Vector{X: u.At(0, 2), Y: u.At(1, 2), Z: u.At(2, 2)}
	return R1, R2, t, nil
}

// triangulate recovers the 3D point (in the first camera's frame) for one
// correspondence via the linear cross-product method.
func triangulate(R *mat.Dense, T r3.Vector, p1, p2 r2.Point) (r3.Vector, error) {
	// projection rows for P1 = [I|0] and P2 = [R|T]
	P2 := mat.NewDense(3, 4, []float64{
		R.At(0, 0), R.At(0, 1), R.At(0, 2), T.X,
		R.At(1, 0), R.At(1, 1), R.At(1, 2), T.Y,
		R.At(2, 0), R.At(2, 1), R.At(2, 2), T.Z,
	})
	// rows x*P3 - P1 and y*P3 - P2 per camera
	A := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		var p1row3 float64
		if j == 2 {
			p1row3 = 1
		}
		var p1row0, p1row1 float64
		if j == 0 {
			p1row0 = 1
		}
		if j == 1 {
			p1row1 = 1
		}
		A.Set(0, j, p1.X*p1row3-p1row0)
		A.Set(1, j, p1.Y*p1row3-p1row1)
		A.Set(2, j, p2.X*P2.At(2, j)-P2.At(0, j))
		A.Set(3, j, p2.Y*P2.At(2, j)-P2.At(1, j))
	}
	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return r3.Vector{}, errDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)
	w := v.At(3, 3)
	if math.Abs(w) < 1e-12 {
		return r3.Vector{}, errDegenerate
	}
	return r3.Vector{
		X: v.At(0, 3) / w,
		Y: v.At(1, 3) / w,
		Z: v.At(2, 3) / w,
	}, nil
}

type relativePose struct {
	R *mat.Dense
	T r3.Vector
}

type pairResult struct {
	rel relativePose
	// triangulated points in the first camera's frame, one per supporting
	// correspondence
	points []r3.Vector
	// indices into the correspondence list that passed the cheirality check
	inliers []int
}

// recoverRelativePose estimates the relative pose between two views from
// pixel correspondences. Of the four (R, t) candidates from the essential
// matrix, the one placing the most triangulated points in front of both
// cameras wins; points behind either camera are outliers.
func recoverRelativePose(px1, px2 []r2.Point, intr splatprep.CameraIntrinsics) (*pairResult, error) {
	pts1 := make([]r2.Point, len(px1))
	pts2 := make([]r2.Point, len(px2))
	for i := range px1 {
		pts1[i] = normalizePixel(px1[i], intr)
		pts2[i] = normalizePixel(px2[i], intr)
	}
	E, err := essentialMatrix(pts1, pts2)
	if err != nil {
		return nil, err
	}
	R1, R2, t, err := decomposeEssential(E)
	if err != nil {
		return nil, err
	}
	tOpp := t.Mul(-1)
	candidates := []relativePose{
		{R: R1, T: t},
		{R: R1, T: tOpp},
		{R: R2, T: t},
		{R: R2, T: tOpp},
	}
	var best *pairResult
	for _, cand := range candidates {
		res := evaluateCandidate(cand, pts1, pts2)
		if best == nil || len(res.inliers) > len(best.inliers) {
			best = res
		}
	}
	if best == nil || len(best.inliers) == 0 {
		return nil, errDegenerate
	}
	return best, nil
}

func evaluateCandidate(cand relativePose, pts1, pts2 []r2.Point) *pairResult {
	res := &pairResult{rel: cand}
	for i := range pts1 {
		pt, err := triangulate(cand.R, cand.T, pts1[i], pts2[i])
		if err != nil {
			continue
		}
		if pt.Z <= 0 {
			continue
		}
		// depth in the second camera
		z2 := cand.R.At(2, 0)*pt.X + cand.R.At(2, 1)*pt.Y + cand.R.At(2, 2)*pt.Z + cand.T.Z
		if z2 <= 0 {
			continue
		}
		res.points = append(res.points, pt)
		res.inliers = append(res.inliers, i)
	}
	return res
}

func transpose(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(c, r, nil)
	out.Copy(m.T())
	return out
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

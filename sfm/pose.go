package sfm

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid camera-to-world transform: Xworld = R*Xcam + T.
type Pose struct {
	R *mat.Dense
	T r3.Vector
}

func IdentityPose() Pose {
	return Pose{R: eye(3), T: r3.Vector{}}
}

// Apply transforms a point from camera coordinates to world coordinates.
func (p Pose) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.R.At(0, 0)*v.X + p.R.At(0, 1)*v.Y + p.R.At(0, 2)*v.Z + p.T.X,
		Y: p.R.At(1, 0)*v.X + p.R.At(1, 1)*v.Y + p.R.At(1, 2)*v.Z + p.T.Y,
		Z: p.R.At(2, 0)*v.X + p.R.At(2, 1)*v.Y + p.R.At(2, 2)*v.Z + p.T.Z,
	}
}

// Compose returns the pose p∘q, i.e. q expressed in p's world frame.
func (p Pose) Compose(q Pose) Pose {
	r := mat.NewDense(3, 3, nil)
	r.Mul(p.R, q.R)
	return Pose{R: r, T: p.Apply(q.T)}
}

// Inverse returns the world-to-camera transform as a Pose.
func (p Pose) Inverse() Pose {
	rt := transpose(p.R)
	t := r3.Vector{
		X: -(rt.At(0, 0)*p.T.X + rt.At(0, 1)*p.T.Y + rt.At(0, 2)*p.T.Z),
		Y: -(rt.At(1, 0)*p.T.X + rt.At(1, 1)*p.T.Y + rt.At(1, 2)*p.T.Z),
		Z: -(rt.At(2, 0)*p.T.X + rt.At(2, 1)*p.T.Y + rt.At(2, 2)*p.T.Z),
	}
	return Pose{R: rt, T: t}
}

// Matrix returns the 4x4 homogeneous camera-to-world matrix.
func (p Pose) Matrix() [4][4]float64 {
	var m [4][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = p.R.At(i, j)
		}
	}
	m[0][3] = p.T.X
	m[1][3] = p.T.Y
	m[2][3] = p.T.Z
	m[3][3] = 1
	return m
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package planar

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// PoseEstimator solves board pose from the plane homography.
type PoseEstimator struct{}

var _ vision.PoseEstimator = PoseEstimator{}

// EstimatePose implements vision.PoseEstimator.
func (PoseEstimator) EstimatePose(obj []pattern.Point3, img []pattern.Point2, k vision.Intrinsics) (vision.Extrinsics, error) {
	h, err := Homography(obj, img)
	if err != nil {
		return vision.Extrinsics{}, err
	}
	return decompose(h, k)
}

// decompose recovers [R|t] from H = λK[r1 r2 t], choosing the solution with
// the board in front of the camera.
func decompose(h *mat.Dense, k vision.Intrinsics) (vision.Extrinsics, error) {
	var kinv mat.Dense
	if err := kinv.Inverse(k.Matrix()); err != nil {
		return vision.Extrinsics{}, errors.Wrap(ErrDegenerate, "singular camera matrix")
	}
	var a mat.Dense
	a.Mul(&kinv, h)

	a1 := mat.Col(nil, 0, &a)
	a2 := mat.Col(nil, 1, &a)
	t := mat.Col(nil, 2, &a)

	n1, n2 := floats.Norm(a1, 2), floats.Norm(a2, 2)
	if n1 < 1e-12 || n2 < 1e-12 {
		return vision.Extrinsics{}, errors.Wrap(ErrDegenerate, "homography has no rotation component")
	}
	lambda := 2 / (n1 + n2)
	if t[2] < 0 {
		lambda = -lambda
	}
	floats.Scale(lambda, a1)
	floats.Scale(lambda, a2)
	floats.Scale(lambda, t)
	a3 := cross(a1, a2)

	raw := mat.NewDense(3, 3, nil)
	raw.SetCol(0, a1)
	raw.SetCol(1, a2)
	raw.SetCol(2, a3)
	r, err := orthonormalize(raw)
	if err != nil {
		return vision.Extrinsics{}, err
	}
	return vision.Extrinsics{Rotation: r, Translation: t}, nil
}

func cross(a, b []float64) []float64 {
	return []float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// orthonormalize returns the rotation closest to m in Frobenius norm.
func orthonormalize(m *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.Wrap(ErrDegenerate, "svd did not converge")
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return &r, nil
}

// Project maps object points through a view's pose, the camera matrix and the
// radial distortion terms (k1, k2) into pixel coordinates. Missing distortion
// terms are treated as zero.
func Project(obj []pattern.Point3, ext vision.Extrinsics, k vision.Intrinsics, dist []float64) []pattern.Point2 {
	r := rotationOf(ext.Rotation)
	var t [3]float64
	copy(t[:], ext.Translation)
	k1, k2 := radial(dist)
	out := make([]pattern.Point2, len(obj))
	for i, p := range obj {
		out[i] = projectPoint(r, t, k, k1, k2, p)
	}
	return out
}

func radial(dist []float64) (k1, k2 float64) {
	if len(dist) > 0 {
		k1 = dist[0]
	}
	if len(dist) > 1 {
		k2 = dist[1]
	}
	return k1, k2
}

func projectPoint(r rotation, t [3]float64, k vision.Intrinsics, k1, k2 float64, p pattern.Point3) pattern.Point2 {
	xc, yc, zc := r.apply(p.X, p.Y, p.Z)
	xc, yc, zc = xc+t[0], yc+t[1], zc+t[2]
	x, y := xc/zc, yc/zc
	r2 := x*x + y*y
	d := 1 + k1*r2 + k2*r2*r2
	x, y = x*d, y*d
	return pattern.Point2{
		X: k.Fx*x + k.Skew*y + k.Cx,
		Y: k.Fy*y + k.Cy,
	}
}

// ReprojectionRMS is the root mean square pixel distance between the observed
// image points and the projected object points.
func ReprojectionRMS(obj []pattern.Point3, img []pattern.Point2, ext vision.Extrinsics, k vision.Intrinsics, dist []float64) float64 {
	if len(img) == 0 {
		return 0
	}
	return math.Sqrt(squaredError(obj, img, ext, k, dist) / float64(len(img)))
}

func squaredError(obj []pattern.Point3, img []pattern.Point2, ext vision.Extrinsics, k vision.Intrinsics, dist []float64) float64 {
	proj := Project(obj, ext, k, dist)
	var sum float64
	for i := range proj {
		dx, dy := proj[i].X-img[i].X, proj[i].Y-img[i].Y
		sum += dx*dx + dy*dy
	}
	return sum
}

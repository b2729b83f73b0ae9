// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package planar implements the pose and calibration primitives of the vision
// contracts for planar targets in pure Go on top of gonum: normalized DLT
// homographies, pose-from-homography, Zhang's closed-form intrinsic solve and
// an optional nonlinear refinement of the pinhole model.
package planar

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
)

var (
	ErrTooFewPoints = errors.New("planar: at least 4 point correspondences are required")
	ErrTooFewViews  = errors.New("planar: at least 3 views are required")
	ErrDegenerate   = errors.New("planar: degenerate configuration")
	ErrNonPlanar    = errors.New("planar: object points must lie on the Z=0 plane")
)

const (
	planeTolerance = 1e-9
	rankTolerance  = 1e-9
)

// Homography estimates H such that img ~ H·[X Y 1]ᵀ for points on the Z=0 plane.
// The result is scaled so that H[2][2] == 1 whenever that entry is non-zero.
func Homography(obj []pattern.Point3, img []pattern.Point2) (*mat.Dense, error) {
	if len(obj) != len(img) {
		return nil, errors.Wrapf(calerr.ErrDimensionMismatch, "%d object points vs %d image points", len(obj), len(img))
	}
	n := len(obj)
	if n < 4 {
		return nil, ErrTooFewPoints
	}

	ox, oy := make([]float64, n), make([]float64, n)
	ix, iy := make([]float64, n), make([]float64, n)
	for i := range obj {
		if math.Abs(obj[i].Z) > planeTolerance {
			return nil, ErrNonPlanar
		}
		ox[i], oy[i] = obj[i].X, obj[i].Y
		ix[i], iy[i] = img[i].X, img[i].Y
	}
	t1 := normalizer(ox, oy)
	t2 := normalizer(ix, iy)

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := apply(t1, ox[i], oy[i])
		u, v := apply(t2, ix[i], iy[i])
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	h, err := nullVector(a)
	if err != nil {
		return nil, err
	}

	var t2inv mat.Dense
	if err := t2inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(ErrDegenerate, "image normalization")
	}
	var tmp, out mat.Dense
	tmp.Mul(&t2inv, mat.NewDense(3, 3, h))
	out.Mul(&tmp, t1)
	if s := out.At(2, 2); math.Abs(s) > 1e-12 {
		out.Scale(1/s, &out)
	}
	return &out, nil
}

// normalizer returns the similarity moving the centroid to the origin with a
// mean distance of sqrt(2).
func normalizer(xs, ys []float64) *mat.Dense {
	n := float64(len(xs))
	cx := floats.Sum(xs) / n
	cy := floats.Sum(ys) / n
	var d float64
	for i := range xs {
		d += math.Hypot(xs[i]-cx, ys[i]-cy)
	}
	d /= n
	s := math.Sqrt2
	if d > 0 {
		s = math.Sqrt2 / d
	}
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
}

func apply(t *mat.Dense, x, y float64) (float64, float64) {
	return t.At(0, 0)*x + t.At(0, 1)*y + t.At(0, 2),
		t.At(1, 0)*x + t.At(1, 1)*y + t.At(1, 2)
}

// nullVector returns the right singular vector of the smallest singular value,
// failing when a's null space has more than one dimension.
func nullVector(a *mat.Dense) ([]float64, error) {
	_, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.Wrap(ErrDegenerate, "svd did not converge")
	}
	vals := svd.Values(nil)
	if len(vals) < c-1 || vals[0] == 0 || vals[c-2]/vals[0] < rankTolerance {
		return nil, errors.Wrap(ErrDegenerate, "rank deficient system")
	}
	var v mat.Dense
	svd.VTo(&v)
	return mat.Col(nil, c-1, &v), nil
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package planar

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// MinViews is the minimum number of views Zhang's method needs when skew is free.
const MinViews = 3

// DefaultMaxIterations bounds the refinement stage.
const DefaultMaxIterations = 200

// Solver calibrates from planar views. The zero value runs the closed-form
// solve only.
type Solver struct {
	// Refine jointly optimizes the pinhole intrinsics and every view's pose
	// against reprojection error, starting from the closed-form result.
	// Distortion is not modeled.
	Refine        bool
	MaxIterations int
}

var _ vision.Solver = Solver{}

// Calibrate implements vision.Solver.
func (s Solver) Calibrate(ctx context.Context, objectSets [][]pattern.Point3, imageSets [][]pattern.Point2, size image.Point) (vision.Calibration, error) {
	if len(objectSets) != len(imageSets) {
		return vision.Calibration{}, errors.Wrapf(calerr.ErrDimensionMismatch, "%d object sets vs %d image sets", len(objectSets), len(imageSets))
	}
	if len(objectSets) < MinViews {
		return vision.Calibration{}, errors.Wrapf(ErrTooFewViews, "have %d", len(objectSets))
	}
	if size.X <= 0 || size.Y <= 0 {
		return vision.Calibration{}, calerr.Config("image_size", size, "must be positive")
	}

	// Homographies are estimated in [-1, 1] image coordinates to keep the
	// Zhang system well conditioned.
	w, h := float64(size.X), float64(size.Y)
	hs := make([]*mat.Dense, len(objectSets))
	for i := range objectSets {
		if err := ctx.Err(); err != nil {
			return vision.Calibration{}, err
		}
		norm := make([]pattern.Point2, len(imageSets[i]))
		for j, p := range imageSets[i] {
			norm[j] = pattern.Point2{X: 2*p.X/w - 1, Y: 2*p.Y/h - 1}
		}
		hm, err := Homography(objectSets[i], norm)
		if err != nil {
			return vision.Calibration{}, errors.Wrapf(err, "view %d", i)
		}
		hs[i] = hm
	}

	kn, err := closedForm(hs)
	if err != nil {
		return vision.Calibration{}, err
	}
	k := vision.Intrinsics{
		Fx:   w / 2 * kn.Fx,
		Fy:   h / 2 * kn.Fy,
		Skew: w / 2 * kn.Skew,
		Cx:   w/2*kn.Cx + w/2,
		Cy:   h/2*kn.Cy + h/2,
	}

	views := make([]vision.Extrinsics, len(objectSets))
	for i := range objectSets {
		ext, err := PoseEstimator{}.EstimatePose(objectSets[i], imageSets[i], k)
		if err != nil {
			return vision.Calibration{}, errors.Wrapf(err, "view %d pose", i)
		}
		views[i] = ext
	}
	dist := make([]float64, 5)

	cal := summarize(objectSets, imageSets, views, k, dist, size)
	if s.Refine {
		if err := ctx.Err(); err != nil {
			return vision.Calibration{}, err
		}
		rk, rviews, rerr := s.refine(ctx, objectSets, imageSets, k, views)
		if err := ctx.Err(); err != nil {
			return vision.Calibration{}, err
		}
		if rerr == nil {
			if refined := summarize(objectSets, imageSets, rviews, rk, dist, size); refined.RMS < cal.RMS {
				cal = refined
			}
		}
	}
	return cal, nil
}

func summarize(objectSets [][]pattern.Point3, imageSets [][]pattern.Point2, views []vision.Extrinsics, k vision.Intrinsics, dist []float64, size image.Point) vision.Calibration {
	perView := make([]float64, len(views))
	mse := make([]float64, len(views))
	weights := make([]float64, len(views))
	for i := range views {
		n := float64(len(imageSets[i]))
		if n == 0 {
			continue
		}
		mse[i] = squaredError(objectSets[i], imageSets[i], views[i], k, dist) / n
		perView[i] = math.Sqrt(mse[i])
		weights[i] = n
	}
	// overall RMS weights every corner equally
	var rms float64
	if floats.Sum(weights) > 0 {
		rms = math.Sqrt(stat.Mean(mse, weights))
	}
	return vision.Calibration{
		Intrinsics: k,
		Distortion: append([]float64(nil), dist...),
		PerViewRMS: perView,
		RMS:        rms,
		Views:      len(views),
		ImageSize:  size,
	}
}

// closedForm solves Vb = 0 for the image of the absolute conic and extracts K.
func closedForm(hs []*mat.Dense) (vision.Intrinsics, error) {
	v := mat.NewDense(2*len(hs), 6, nil)
	for i, h := range hs {
		v11 := vij(h, 0, 0)
		v22 := vij(h, 1, 1)
		floats.Sub(v11, v22)
		v.SetRow(2*i, vij(h, 0, 1))
		v.SetRow(2*i+1, v11)
	}
	b, err := nullVector(v)
	if err != nil {
		return vision.Intrinsics{}, errors.Wrap(err, "views do not constrain the camera")
	}
	if b[0] < 0 {
		floats.Scale(-1, b)
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]

	den := b11*b22 - b12*b12
	if b11 <= 0 || den <= 0 {
		return vision.Intrinsics{}, errors.Wrap(ErrDegenerate, "conic is not positive definite")
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda <= 0 {
		return vision.Intrinsics{}, errors.Wrap(ErrDegenerate, "negative conic scale")
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	gamma := -b12 * alpha * alpha * beta / lambda
	u0 := gamma*v0/beta - b13*alpha*alpha/lambda

	return vision.Intrinsics{Fx: alpha, Fy: beta, Cx: u0, Cy: v0, Skew: gamma}, nil
}

func vij(h *mat.Dense, i, j int) []float64 {
	hi0, hi1, hi2 := h.At(0, i), h.At(1, i), h.At(2, i)
	hj0, hj1, hj2 := h.At(0, j), h.At(1, j), h.At(2, j)
	return []float64{
		hi0 * hj0,
		hi0*hj1 + hi1*hj0,
		hi1 * hj1,
		hi2*hj0 + hi0*hj2,
		hi2*hj1 + hi1*hj2,
		hi2 * hj2,
	}
}

// Parameter layout: fx fy cx cy, then per view rx ry rz tx ty tz.
// Intrinsics and translations are scaled to order one.
const intrinsicParams = 4

func (s Solver) refine(ctx context.Context, objectSets [][]pattern.Point3, imageSets [][]pattern.Point2, k vision.Intrinsics, views []vision.Extrinsics) (vision.Intrinsics, []vision.Extrinsics, error) {
	fscale := k.Fx
	tscale := make([]float64, len(views))
	x0 := make([]float64, intrinsicParams+6*len(views))
	x0[0], x0[1], x0[2], x0[3] = k.Fx/fscale, k.Fy/fscale, k.Cx/fscale, k.Cy/fscale
	for i, ext := range views {
		w := toRodrigues(rotationOf(ext.Rotation))
		tscale[i] = math.Max(floats.Norm(ext.Translation, 2), 1)
		off := intrinsicParams + 6*i
		copy(x0[off:], w[:])
		for j := 0; j < 3; j++ {
			x0[off+3+j] = ext.Translation[j] / tscale[i]
		}
	}

	unpack := func(x []float64) (vision.Intrinsics, []rotation, [][3]float64) {
		ki := vision.Intrinsics{Fx: x[0] * fscale, Fy: x[1] * fscale, Cx: x[2] * fscale, Cy: x[3] * fscale}
		rs := make([]rotation, len(views))
		ts := make([][3]float64, len(views))
		for i := range views {
			off := intrinsicParams + 6*i
			rs[i] = fromRodrigues([3]float64{x[off], x[off+1], x[off+2]})
			for j := 0; j < 3; j++ {
				ts[i][j] = x[off+3+j] * tscale[i]
			}
		}
		return ki, rs, ts
	}

	cost := func(x []float64) float64 {
		ki, rs, ts := unpack(x)
		var sum float64
		for i := range objectSets {
			for j, p := range objectSets[i] {
				q := projectPoint(rs[i], ts[i], ki, 0, 0, p)
				dx, dy := q.X-imageSets[i][j].X, q.Y-imageSets[i][j].Y
				sum += dx*dx + dy*dy
			}
		}
		return sum
	}

	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	settings := &optimize.Settings{MajorIterations: maxIter, GradientThreshold: 1e-9}
	if deadline, ok := ctx.Deadline(); ok {
		settings.Runtime = time.Until(deadline)
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if err != nil {
		return vision.Intrinsics{}, nil, errors.Wrap(err, "refinement")
	}
	ki, rs, ts := unpack(res.X)
	out := make([]vision.Extrinsics, len(views))
	for i := range views {
		out[i] = vision.Extrinsics{Rotation: rs[i].dense(), Translation: []float64{ts[i][0], ts[i][1], ts[i][2]}}
	}
	return ki, out, nil
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package planar

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

var (
	testSize  = image.Pt(1280, 720)
	testK     = vision.Intrinsics{Fx: 800, Fy: 800, Cx: 640, Cy: 360}
	testBoard = pattern.Spec{Columns: 9, Rows: 6, SquareSize: 25}
)

// view places the board centre at the given distance along the optical axis.
func view(p orientation.Pose) vision.Extrinsics {
	r := orientation.Rotation(p)
	c := testBoard.Center()
	var rc mat.VecDense
	rc.MulVec(r, mat.NewVecDense(3, []float64{c.X, c.Y, c.Z}))
	return vision.Extrinsics{
		Rotation:    r,
		Translation: []float64{-rc.AtVec(0), -rc.AtVec(1), -rc.AtVec(2) + p.Distance},
	}
}

var testPoses = []orientation.Pose{
	{Pitch: 10, Distance: 500},
	{Pitch: -15, Yaw: 10, Roll: 5, Distance: 550},
	{Yaw: -20, Roll: 10, Distance: 480},
	{Pitch: 20, Yaw: 15, Roll: -10, Distance: 600},
	{Pitch: 5, Yaw: -10, Roll: 25, Distance: 520},
}

func TestHomography_RecoversKnownMapping(t *testing.T) {
	want := mat.NewDense(3, 3, []float64{
		1.2, 0.1, 30,
		-0.05, 0.9, 40,
		0.0004, 0.0002, 1,
	})
	obj := testBoard.ObjectPoints()
	img := make([]pattern.Point2, len(obj))
	for i, p := range obj {
		u := want.At(0, 0)*p.X + want.At(0, 1)*p.Y + want.At(0, 2)
		v := want.At(1, 0)*p.X + want.At(1, 1)*p.Y + want.At(1, 2)
		w := want.At(2, 0)*p.X + want.At(2, 1)*p.Y + want.At(2, 2)
		img[i] = pattern.Point2{X: u / w, Y: v / w}
	}

	got, err := Homography(obj, img)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-6), "got %v", mat.Formatted(got))
}

func TestHomography_Errors(t *testing.T) {
	obj := testBoard.ObjectPoints()
	img := Project(obj, view(testPoses[0]), testK, nil)

	_, err := Homography(obj[:3], img[:3])
	assert.True(t, errors.Is(err, ErrTooFewPoints))

	_, err = Homography(obj, img[:10])
	assert.True(t, errors.Is(err, calerr.ErrDimensionMismatch))

	raised := append([]pattern.Point3(nil), obj...)
	raised[4].Z = 3
	_, err = Homography(raised, img)
	assert.True(t, errors.Is(err, ErrNonPlanar))

	// All points on one row of the board.
	line := obj[:testBoard.Columns]
	_, err = Homography(line, img[:testBoard.Columns])
	assert.True(t, errors.Is(err, ErrDegenerate), "err=%v", err)
}

func TestEstimatePose(t *testing.T) {
	obj := testBoard.ObjectPoints()
	for _, p := range testPoses {
		want := view(p)
		img := Project(obj, want, testK, nil)

		got, err := PoseEstimator{}.EstimatePose(obj, img, testK)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(want.Rotation, got.Rotation, 1e-6))
		assert.InDeltaSlice(t, want.Translation, got.Translation, 1e-4)

		pose := orientation.FromRotation(got.Rotation, got.Translation)
		assert.InDelta(t, p.Pitch, pose.Pitch, 1e-4)
		assert.InDelta(t, p.Yaw, pose.Yaw, 1e-4)
		assert.InDelta(t, p.Roll, pose.Roll, 1e-4)
		assert.Less(t, ReprojectionRMS(obj, img, got, testK, nil), 1e-6)
	}
}

func TestRodriguesRoundTrip(t *testing.T) {
	for _, p := range append(testPoses, orientation.Pose{}, orientation.Pose{Roll: 180}) {
		r := rotationOf(orientation.Rotation(p))
		back := fromRodrigues(toRodrigues(r))
		for i := range r {
			assert.InDelta(t, r[i], back[i], 1e-9, "pose %+v entry %d", p, i)
		}
	}
}

func synthViews(dist []float64) ([][]pattern.Point3, [][]pattern.Point2) {
	var objs [][]pattern.Point3
	var imgs [][]pattern.Point2
	for _, p := range testPoses {
		obj := testBoard.ObjectPoints()
		objs = append(objs, obj)
		imgs = append(imgs, Project(obj, view(p), testK, dist))
	}
	return objs, imgs
}

func TestSolver_ClosedForm(t *testing.T) {
	objs, imgs := synthViews(nil)

	cal, err := Solver{}.Calibrate(context.Background(), objs, imgs, testSize)
	require.NoError(t, err)
	assert.InDelta(t, testK.Fx, cal.Intrinsics.Fx, 0.5)
	assert.InDelta(t, testK.Fy, cal.Intrinsics.Fy, 0.5)
	assert.InDelta(t, testK.Cx, cal.Intrinsics.Cx, 0.5)
	assert.InDelta(t, testK.Cy, cal.Intrinsics.Cy, 0.5)
	assert.InDelta(t, 0, cal.Intrinsics.Skew, 0.5)
	assert.Equal(t, len(testPoses), cal.Views)
	assert.Len(t, cal.PerViewRMS, len(testPoses))
	assert.Len(t, cal.Distortion, 5)
	assert.Less(t, cal.RMS, 1e-3)
	assert.Equal(t, vision.QualityExcellent, cal.Quality())
	assert.Equal(t, testSize, cal.ImageSize)
}

func TestSolver_RefineNeverWorsens(t *testing.T) {
	objs, imgs := synthViews(nil)
	for _, img := range imgs {
		for j := range img {
			img[j].X += 0.3 * float64(j%3-1)
			img[j].Y += 0.2 * float64(j%5-2)
		}
	}

	closed, err := Solver{}.Calibrate(context.Background(), objs, imgs, testSize)
	require.NoError(t, err)
	refined, err := Solver{Refine: true, MaxIterations: 100}.Calibrate(context.Background(), objs, imgs, testSize)
	require.NoError(t, err)

	assert.LessOrEqual(t, refined.RMS, closed.RMS)
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, refined.Distortion)
	assert.InDelta(t, testK.Fx, refined.Intrinsics.Fx, 50)
}

func TestSolver_Errors(t *testing.T) {
	objs, imgs := synthViews(nil)
	ctx := context.Background()

	_, err := Solver{}.Calibrate(ctx, objs[:2], imgs[:2], testSize)
	assert.True(t, errors.Is(err, ErrTooFewViews))

	_, err = Solver{}.Calibrate(ctx, objs, imgs[:4], testSize)
	assert.True(t, errors.Is(err, calerr.ErrDimensionMismatch))

	_, err = Solver{}.Calibrate(ctx, objs, imgs, image.Point{})
	assert.True(t, calerr.IsConfiguration(err))

	same := [][]pattern.Point2{imgs[0], imgs[0], imgs[0]}
	_, err = Solver{}.Calibrate(ctx, objs[:3], same, testSize)
	assert.True(t, errors.Is(err, ErrDegenerate), "err=%v", err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Solver{}.Calibrate(cancelled, objs, imgs, testSize)
	assert.True(t, errors.Is(err, context.Canceled))

}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package vision defines the contracts the capture controller expects from a
// vision-primitives library: frame acquisition, grayscale conversion, chessboard
// detection, sub-pixel refinement, pose solving and multi-view calibration.
//
// Anything that holds native memory (frames, corner matrices) implements Close
// and must be released by whoever acquired it.
package vision

import (
	"context"
	"image"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
)

// Frame is an image buffer owned by the caller that acquired it.
type Frame interface {
	Size() image.Point
	Close() error
}

// Cloner is implemented by frames that can be retained across ticks.
type Cloner interface {
	Clone() (Frame, error)
}

// Imager is implemented by frames that can be exported for snapshots.
type Imager interface {
	Image() (image.Image, error)
}

// FrameSource yields the most recent frame. ok is false when no frame is available yet.
type FrameSource interface {
	CurrentFrame() (f Frame, ok bool, err error)
}

// Grayscaler converts a frame to a single-channel frame.
type Grayscaler interface {
	Gray(f Frame) (Frame, error)
}

// Corners is a detected corner set in pattern order.
type Corners interface {
	Points() []pattern.Point2
	Close() error
}

// CornerDetector finds the inner chessboard corners.
type CornerDetector interface {
	DetectCorners(gray Frame, patternSize image.Point) (c Corners, found bool, err error)
}

// Criteria is the termination criteria for iterative refinement.
type Criteria struct {
	MaxIterations int
	Epsilon       float64
}

// DefaultCriteria matches the usual 30 iterations / 0.001 px.
var DefaultCriteria = Criteria{MaxIterations: 30, Epsilon: 0.001}

// SubpixRefiner refines corner locations in place.
type SubpixRefiner interface {
	RefineSubpixel(gray Frame, c Corners, window image.Point, crit Criteria) error
}

// Tracker follows a point set from one grayscale frame to the next, returning
// per-point tracking errors alongside the new locations.
type Tracker interface {
	Track(prev, next Frame, points []pattern.Point2) (tracked []pattern.Point2, errs []float64, err error)
}

// Extrinsics is the board-to-camera rigid transform of one view.
type Extrinsics struct {
	Rotation    *mat.Dense
	Translation []float64
}

// PoseEstimator solves the perspective pose of a planar pattern.
type PoseEstimator interface {
	EstimatePose(objectPoints []pattern.Point3, imagePoints []pattern.Point2, k Intrinsics) (Extrinsics, error)
}

// Solver runs multi-view intrinsic calibration.
type Solver interface {
	Calibrate(ctx context.Context, objectSets [][]pattern.Point3, imageSets [][]pattern.Point2, imageSize image.Point) (Calibration, error)
}

// Backend bundles the collaborators a controller is wired with.
// Refiner and Tracker are optional.
type Backend struct {
	Source   FrameSource
	Gray     Grayscaler
	Detector CornerDetector
	Refiner  SubpixRefiner
	Tracker  Tracker
	Pose     PoseEstimator
	Solver   Solver
}

// PointSet is a Corners backed by a plain slice; Close is a no-op.
type PointSet []pattern.Point2

func (p PointSet) Points() []pattern.Point2 { return append([]pattern.Point2(nil), p...) }
func (p PointSet) Close() error { return nil }

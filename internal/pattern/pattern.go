// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pattern describes the calibration chessboard and its object points.
package pattern

import (
	"image"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
)

// Point2 is a detected image point in pixels.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3 is a pattern-frame coordinate in square-size units.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Spec describes the chessboard: inner-corner counts and the square edge length.
type Spec struct {
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"square_size"`
}

// Validate checks the pattern dimensions. Both corner counts need at least two
// corners and the square size must be positive.
func (s Spec) Validate() error {
	if s.Columns < 2 {
		return calerr.Config("columns", s.Columns, "must be >= 2")
	}
	if s.Rows < 2 {
		return calerr.Config("rows", s.Rows, "must be >= 2")
	}
	if !(s.SquareSize > 0) {
		return calerr.Config("square_size", s.SquareSize, "must be > 0")
	}
	return nil
}

// PointCount is the number of corners in one view (rows*columns).
func (s Spec) PointCount() int {
	return s.Rows * s.Columns
}

// Size is the pattern size in the (columns, rows) order the detector expects.
func (s Spec) Size() image.Point {
	return image.Pt(s.Columns, s.Rows)
}

// ObjectPoints returns the planar grid in row-major order:
// for row i and column j the point is (j*squareSize, i*squareSize, 0).
func (s Spec) ObjectPoints() []Point3 {
	pts := make([]Point3, 0, s.PointCount())
	for i := 0; i < s.Rows; i++ {
		for j := 0; j < s.Columns; j++ {
			pts = append(pts, Point3{
				X: float64(j) * s.SquareSize,
				Y: float64(i) * s.SquareSize,
			})
		}
	}
	return pts
}

// Center is the midpoint of the grid, used to place the board in front of a camera.
func (s Spec) Center() Point3 {
	return Point3{
		X: float64(s.Columns-1) * s.SquareSize / 2,
		Y: float64(s.Rows-1) * s.SquareSize / 2,
	}
}

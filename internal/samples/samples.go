// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package samples collects the object/image point pairs accepted during a session.
package samples

import (
	"github.com/pkg/errors"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
)

// Sample is one accepted view: object points and index-aligned image points.
type Sample struct {
	ObjectPoints []pattern.Point3 `json:"object_points"`
	ImagePoints  []pattern.Point2 `json:"image_points"`
}

// Accumulator stores accepted samples for one session, in acceptance order.
// There is no removal; a new session gets a new Accumulator. It is owned by a
// single controller and is not safe for concurrent use.
type Accumulator struct {
	spec    pattern.Spec
	samples []Sample
}

// New returns an empty Accumulator for the given pattern.
func New(spec pattern.Spec) (*Accumulator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Accumulator{spec: spec}, nil
}

// Accept appends a sample. Both slices must have rows*columns entries.
// The slices are copied, so callers may reuse their buffers.
func (a *Accumulator) Accept(objectPoints []pattern.Point3, imagePoints []pattern.Point2) error {
	want := a.spec.PointCount()
	if len(objectPoints) != len(imagePoints) {
		return errors.Wrapf(calerr.ErrDimensionMismatch,
			"%d object points vs %d image points", len(objectPoints), len(imagePoints))
	}
	if len(objectPoints) != want {
		return errors.Wrapf(calerr.ErrDimensionMismatch,
			"got %d points, pattern %dx%d needs %d", len(objectPoints), a.spec.Columns, a.spec.Rows, want)
	}

	a.samples = append(a.samples, Sample{
		ObjectPoints: append([]pattern.Point3(nil), objectPoints...),
		ImagePoints:  append([]pattern.Point2(nil), imagePoints...),
	})
	return nil
}

// Count is the number of accepted samples.
func (a *Accumulator) Count() int {
	return len(a.samples)
}

// Spec returns the pattern the accumulator was created for.
func (a *Accumulator) Spec() pattern.Spec {
	return a.spec
}

// Samples returns a copy of the accepted samples in acceptance order.
func (a *Accumulator) Samples() []Sample {
	out := make([]Sample, len(a.samples))
	for i, s := range a.samples {
		out[i] = Sample{
			ObjectPoints: append([]pattern.Point3(nil), s.ObjectPoints...),
			ImagePoints:  append([]pattern.Point2(nil), s.ImagePoints...),
		}
	}
	return out
}

// PointSets splits the samples into the parallel object/image sets a
// multi-view solver takes.
func (a *Accumulator) PointSets() ([][]pattern.Point3, [][]pattern.Point2) {
	obj := make([][]pattern.Point3, len(a.samples))
	img := make([][]pattern.Point2, len(a.samples))
	for i, s := range a.Samples() {
		obj[i] = s.ObjectPoints
		img[i] = s.ImagePoints
	}
	return obj, img
}

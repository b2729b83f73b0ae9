// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"image"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// cornerStrategy turns a grayscale frame into pattern-ordered corners. The
// strategy releases any corner buffers it acquires before returning.
type cornerStrategy interface {
	detect(gray vision.Frame, spec pattern.Spec) (pts []pattern.Point2, found, tracked bool, err error)
	reset()
}

// fullDetector runs chessboard detection on every frame.
type fullDetector struct {
	detector vision.CornerDetector
	refiner  vision.SubpixRefiner
	window   image.Point
	criteria vision.Criteria
}

func (d *fullDetector) detect(gray vision.Frame, spec pattern.Spec) ([]pattern.Point2, bool, bool, error) {
	c, found, err := d.detector.DetectCorners(gray, spec.Size())
	if c != nil {
		defer c.Close()
	}
	if err != nil {
		return nil, false, false, errors.Wrap(err, "detect corners")
	}
	if !found {
		return nil, false, false, nil
	}
	if d.refiner != nil {
		if err := d.refiner.RefineSubpixel(gray, c, d.window, d.criteria); err != nil {
			return nil, false, false, errors.Wrap(err, "refine corners")
		}
	}
	return c.Points(), true, false, nil
}

func (d *fullDetector) reset() {}

// trackedDetector follows the previous frame's corners with optical flow and
// falls back to full detection when any point's tracking error reaches
// maxError. It keeps one cloned grayscale frame between ticks.
type trackedDetector struct {
	full     *fullDetector
	tracker  vision.Tracker
	maxError float64
	log      logrus.FieldLogger

	prevGray vision.Frame
	prevPts  []pattern.Point2
}

func (d *trackedDetector) detect(gray vision.Frame, spec pattern.Spec) ([]pattern.Point2, bool, bool, error) {
	pts, tracked := d.track(gray, spec)
	found := tracked
	if !tracked {
		var err error
		pts, found, _, err = d.full.detect(gray, spec)
		if err != nil {
			d.reset()
			return nil, false, false, err
		}
	}
	d.remember(gray, pts, found)
	return pts, found, tracked, nil
}

func (d *trackedDetector) track(gray vision.Frame, spec pattern.Spec) ([]pattern.Point2, bool) {
	if d.prevGray == nil || len(d.prevPts) != spec.PointCount() {
		return nil, false
	}
	next, errs, err := d.tracker.Track(d.prevGray, gray, d.prevPts)
	if err != nil {
		d.log.WithError(err).Debug("tracking failed, redetecting")
		return nil, false
	}
	if len(next) != len(d.prevPts) || len(errs) != len(next) {
		return nil, false
	}
	for _, e := range errs {
		if !(e < d.maxError) {
			return nil, false
		}
	}
	return next, true
}

func (d *trackedDetector) remember(gray vision.Frame, pts []pattern.Point2, found bool) {
	d.reset()
	if !found {
		return
	}
	cl, ok := gray.(vision.Cloner)
	if !ok {
		return
	}
	clone, err := cl.Clone()
	if err != nil {
		d.log.WithError(err).Debug("cannot retain frame for tracking")
		return
	}
	d.prevGray = clone
	d.prevPts = append([]pattern.Point2(nil), pts...)
}

func (d *trackedDetector) reset() {
	if d.prevGray != nil {
		_ = d.prevGray.Close()
	}
	d.prevGray = nil
	d.prevPts = nil
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"time"

	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// GuidanceEvent is published for every evaluated frame.
type GuidanceEvent struct {
	Session    string           `json:"session"`
	At         time.Time        `json:"at"`
	Accepted   bool             `json:"accepted"`
	Guidance   string           `json:"guidance"`
	Message    string           `json:"message"`
	Pose       orientation.Pose `json:"pose"`
	Tracked    bool             `json:"tracked"`
	Count      int              `json:"count"`
	MinSamples int              `json:"min_samples"`
}

// CalibrationEvent is published for every finished solve.
type CalibrationEvent struct {
	Session     string             `json:"session"`
	At          time.Time          `json:"at"`
	Final       bool               `json:"final"`
	Quality     string             `json:"quality"`
	Calibration vision.Calibration `json:"calibration"`
}

// PoseEvent is published for every accepted sample.
type PoseEvent struct {
	Session string           `json:"session"`
	At      time.Time        `json:"at"`
	Count   int              `json:"count"`
	Pose    orientation.Pose `json:"pose"`
}

func newGuidanceEvent(res capture.Result, minSamples int) GuidanceEvent {
	return GuidanceEvent{
		Session:    res.Session,
		At:         res.At,
		Accepted:   res.Accepted(),
		Guidance:   string(res.Decision.Guidance),
		Message:    res.Decision.Message,
		Pose:       res.Pose,
		Tracked:    res.Tracked,
		Count:      res.Count,
		MinSamples: minSamples,
	}
}

func newCalibrationEvent(session string, at time.Time, cal vision.Calibration, final bool) CalibrationEvent {
	return CalibrationEvent{
		Session:     session,
		At:          at,
		Final:       final,
		Quality:     string(cal.Quality()),
		Calibration: cal,
	}
}

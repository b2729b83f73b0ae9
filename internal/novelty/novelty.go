// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package novelty decides whether a candidate pose is angularly distinct enough
// from the accepted history to be worth keeping, and tells the operator which
// way to move the camera or board when it is not.
package novelty

import (
	"math"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
)

// DefaultThreshold is the minimum per-axis separation in degrees.
const DefaultThreshold = 10.0

// Guidance is the operator hint attached to every decision.
type Guidance string

const (
	GuidanceVertical   Guidance = "vertical"
	GuidanceHorizontal Guidance = "horizontal"
	GuidanceRotate     Guidance = "rotate"
	GuidanceOK         Guidance = "ok"
)

var messages = map[Guidance]string{
	GuidanceVertical:   "move camera/board vertically",
	GuidanceHorizontal: "move camera/board horizontally",
	GuidanceRotate:     "rotate camera/board",
	GuidanceOK:         "angle acceptable, continue capturing",
}

// Message is the human-readable text shown to the operator.
func (g Guidance) Message() string {
	return messages[g]
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Accept   bool     `json:"accept"`
	Guidance Guidance `json:"guidance"`
	Message  string   `json:"message"`
}

// Evaluator applies a fixed per-axis novelty threshold.
type Evaluator struct {
	threshold float64
}

// New returns an Evaluator. The threshold must be positive.
func New(thresholdDeg float64) (*Evaluator, error) {
	if !(thresholdDeg > 0) {
		return nil, calerr.Config("novelty_threshold", thresholdDeg, "must be > 0")
	}
	return &Evaluator{threshold: thresholdDeg}, nil
}

// Threshold returns the per-axis separation in degrees.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate checks pitch, then yaw, then roll. For each axis the separation is
// the distance to the closest pose in history (0 when history is empty), so an
// accepted pose differs by at least the threshold on every axis from every
// pose in history. The first axis that falls short picks the guidance.
func (e *Evaluator) Evaluate(p orientation.Pose, history []orientation.Pose) Decision {
	if separation(history, p.Pitch, pitchOf) < e.threshold {
		return reject(GuidanceVertical)
	}
	if separation(history, p.Yaw, yawOf) < e.threshold {
		return reject(GuidanceHorizontal)
	}
	if separation(history, p.Roll, rollOf) < e.threshold {
		return reject(GuidanceRotate)
	}
	return Decision{Accept: true, Guidance: GuidanceOK, Message: GuidanceOK.Message()}
}

func reject(g Guidance) Decision {
	return Decision{Guidance: g, Message: g.Message()}
}

func pitchOf(p orientation.Pose) float64 { return p.Pitch }
func yawOf(p orientation.Pose) float64   { return p.Yaw }
func rollOf(p orientation.Pose) float64  { return p.Roll }

// separation is min over history of |angle - axis(h)|.
func separation(history []orientation.Pose, angle float64, axis func(orientation.Pose) float64) float64 {
	if len(history) == 0 {
		return 0
	}
	nearest := math.Inf(1)
	for _, h := range history {
		if d := math.Abs(angle - axis(h)); d < nearest {
			nearest = d
		}
	}
	return nearest
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Intrinsics is the pinhole camera matrix
//
//	| Fx  Skew Cx |
//	| 0   Fy   Cy |
//	| 0   0    1  |
type Intrinsics struct {
	Fx   float64 `json:"fx"`
	Fy   float64 `json:"fy"`
	Cx   float64 `json:"cx"`
	Cy   float64 `json:"cy"`
	Skew float64 `json:"skew"`
}

// Matrix returns K as a 3x3 dense matrix.
func (k Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		k.Fx, k.Skew, k.Cx,
		0, k.Fy, k.Cy,
		0, 0, 1,
	})
}

// IsZero reports whether no focal length is set.
func (k Intrinsics) IsZero() bool {
	return k.Fx == 0 && k.Fy == 0
}

// GuessIntrinsics is the starting camera matrix used before any calibration:
// focal length equal to the larger image side, principal point at the center.
func GuessIntrinsics(size image.Point) Intrinsics {
	f := float64(size.X)
	if size.Y > size.X {
		f = float64(size.Y)
	}
	return Intrinsics{
		Fx: f,
		Fy: f,
		Cx: float64(size.X) / 2,
		Cy: float64(size.Y) / 2,
	}
}

// Quality grades a calibration from its overall reprojection RMS.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityUnknown   Quality = "unknown"
)

// Reprojection RMS thresholds (pixels).
const (
	RMSThresholdExcellent = 0.3
	RMSThresholdGood      = 0.6
	RMSThresholdFair      = 1.0
)

// GradeRMS maps a reprojection RMS to a Quality.
func GradeRMS(rms float64) Quality {
	switch {
	case math.IsNaN(rms) || rms < 0:
		return QualityUnknown
	case rms < RMSThresholdExcellent:
		return QualityExcellent
	case rms < RMSThresholdGood:
		return QualityGood
	case rms < RMSThresholdFair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Calibration is the output of a multi-view solve.
type Calibration struct {
	Intrinsics Intrinsics  `json:"intrinsics"`
	Distortion []float64   `json:"distortion"`
	PerViewRMS []float64   `json:"per_view_rms"`
	RMS        float64     `json:"rms"`
	Views      int         `json:"views"`
	ImageSize  image.Point `json:"image_size"`
}

// Quality grades the calibration's overall RMS.
func (c Calibration) Quality() Quality {
	return GradeRMS(c.RMS)
}

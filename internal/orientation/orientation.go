// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Pose is the camera-relative orientation of the board for one view.
// Angles are degrees in [-180, 180]; Distance is in pattern square-size units.
type Pose struct {
	Pitch    float64 `json:"pitch"`
	Yaw      float64 `json:"yaw"`
	Roll     float64 `json:"roll"`
	Distance float64 `json:"distance"`
}

// Source is anything that can provide poses over time.
type Source interface {
	Next() (Pose, error)
}

// gimbalEpsilon bounds sqrt(r00² + r10²) below which the decomposition is
// treated as gimbal-locked.
const gimbalEpsilon = 1e-6

const radToDeg = 180.0 / math.Pi

// RotationToEuler is FromRotation without a translation; Distance is zero.
func RotationToEuler(r mat.Matrix) Pose {
	return FromRotation(r, nil)
}

// FromRotation decomposes a 3x3 rotation matrix R = Rz(roll)·Ry(yaw)·Rx(pitch)
// into Euler angles and takes the distance as the norm of the translation.
//
// Near gimbal lock (yaw ≈ ±90°) roll is fixed to 0 and pitch absorbs the
// remaining rotation:
//
//	pitch = atan2(-r12, r11)
//	yaw   = atan2(-r20, sy)
//	roll  = 0
func FromRotation(r mat.Matrix, translation []float64) Pose {
	sy := math.Hypot(r.At(0, 0), r.At(1, 0))

	var pitch, yaw, roll float64
	if sy >= gimbalEpsilon {
		pitch = math.Atan2(r.At(2, 1), r.At(2, 2))
		yaw = math.Atan2(-r.At(2, 0), sy)
		roll = math.Atan2(r.At(1, 0), r.At(0, 0))
	} else {
		pitch = math.Atan2(-r.At(1, 2), r.At(1, 1))
		yaw = math.Atan2(-r.At(2, 0), sy)
		roll = 0
	}

	var dist float64
	if len(translation) > 0 {
		dist = floats.Norm(translation, 2)
	}

	return Pose{
		Pitch:    pitch * radToDeg,
		Yaw:      yaw * radToDeg,
		Roll:     roll * radToDeg,
		Distance: dist,
	}
}

// Rotation builds Rz(roll)·Ry(yaw)·Rx(pitch) from the pose angles.
func Rotation(p Pose) *mat.Dense {
	a := p.Pitch / radToDeg
	b := p.Yaw / radToDeg
	g := p.Roll / radToDeg

	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(a), -math.Sin(a),
		0, math.Sin(a), math.Cos(a),
	})
	ry := mat.NewDense(3, 3, []float64{
		math.Cos(b), 0, math.Sin(b),
		0, 1, 0,
		-math.Sin(b), 0, math.Cos(b),
	})
	rz := mat.NewDense(3, 3, []float64{
		math.Cos(g), -math.Sin(g), 0,
		math.Sin(g), math.Cos(g), 0,
		0, 0, 1,
	})

	var zy, r mat.Dense
	zy.Mul(rz, ry)
	r.Mul(&zy, rx)
	return &r
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package planar

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// rotation is a row-major 3x3 rotation matrix.
type rotation [9]float64

func rotationOf(m mat.Matrix) rotation {
	var r rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[3*i+j] = m.At(i, j)
		}
	}
	return r
}

func (r rotation) dense() *mat.Dense {
	d := r
	return mat.NewDense(3, 3, d[:])
}

func (r rotation) apply(x, y, z float64) (float64, float64, float64) {
	return r[0]*x + r[1]*y + r[2]*z,
		r[3]*x + r[4]*y + r[5]*z,
		r[6]*x + r[7]*y + r[8]*z
}

// fromRodrigues converts an axis-angle vector to a rotation.
func fromRodrigues(w [3]float64) rotation {
	theta := math.Sqrt(w[0]*w[0] + w[1]*w[1] + w[2]*w[2])
	if theta < 1e-12 {
		return rotation{
			1, -w[2], w[1],
			w[2], 1, -w[0],
			-w[1], w[0], 1,
		}
	}
	kx, ky, kz := w[0]/theta, w[1]/theta, w[2]/theta
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c
	return rotation{
		c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s,
		ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s,
		kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v,
	}
}

// toRodrigues converts a rotation to its axis-angle vector.
func toRodrigues(r rotation) [3]float64 {
	cos := (r[0] + r[4] + r[8] - 1) / 2
	cos = math.Max(-1, math.Min(1, cos))
	theta := math.Acos(cos)

	switch {
	case theta < 1e-12:
		return [3]float64{(r[7] - r[5]) / 2, (r[2] - r[6]) / 2, (r[3] - r[1]) / 2}
	case math.Pi-theta < 1e-6:
		// R ≈ 2kkᵀ - I; pick the best conditioned column of (R+I)/2.
		diag := [3]float64{(r[0] + 1) / 2, (r[4] + 1) / 2, (r[8] + 1) / 2}
		col := 0
		for i := 1; i < 3; i++ {
			if diag[i] > diag[col] {
				col = i
			}
		}
		n := math.Sqrt(diag[col])
		var k [3]float64
		for i := 0; i < 3; i++ {
			k[i] = (r[3*i+col] + boolf(i == col)) / 2 / n
		}
		return [3]float64{theta * k[0], theta * k[1], theta * k[2]}
	default:
		f := theta / (2 * math.Sin(theta))
		return [3]float64{f * (r[7] - r[5]), f * (r[2] - r[6]), f * (r[3] - r[1])}
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

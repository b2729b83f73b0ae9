// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/chessboard_calibrator/internal/timeutil"
)

func TestFromRotation_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pose Pose
	}{
		{name: "identity", pose: Pose{}},
		{name: "pitch only", pose: Pose{Pitch: 25}},
		{name: "yaw only", pose: Pose{Yaw: -40}},
		{name: "roll only", pose: Pose{Roll: 170}},
		{name: "mixed", pose: Pose{Pitch: 20, Yaw: -15, Roll: 30}},
		{name: "negative mixed", pose: Pose{Pitch: -65, Yaw: 45, Roll: -120}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromRotation(Rotation(tt.pose), nil)
			assert.InDelta(t, tt.pose.Pitch, got.Pitch, 1e-9)
			assert.InDelta(t, tt.pose.Yaw, got.Yaw, 1e-9)
			assert.InDelta(t, tt.pose.Roll, got.Roll, 1e-9)
			assert.Zero(t, got.Distance)
		})
	}
}

func TestFromRotation_GimbalLockFallback(t *testing.T) {
	r := Rotation(Pose{Pitch: 30, Yaw: 90, Roll: 0})
	got := FromRotation(r, nil)

	assert.InDelta(t, 90, got.Yaw, 1e-6)
	assert.Zero(t, got.Roll)
	// Recomposing the fallback angles must reproduce the same rotation.
	back := Rotation(got)
	assert.True(t, mat.EqualApprox(r, back, 1e-6))
}

func TestFromRotation_Distance(t *testing.T) {
	got := FromRotation(Rotation(Pose{}), []float64{3, 0, 4})
	assert.InDelta(t, 5, got.Distance, 1e-12)
}

func TestRotation_IsOrthonormal(t *testing.T) {
	r := Rotation(Pose{Pitch: 12, Yaw: -33, Roll: 71})
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	require.True(t, mat.EqualApprox(&rrt, eye3(), 1e-12))
	assert.InDelta(t, 1, mat.Det(r), 1e-12)
}

func TestMockSource_Bounded(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewMockSource(clock, 2)
	for i := 0; i < 500; i++ {
		p, err := src.Next()
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Pitch, 35.0)
		assert.GreaterOrEqual(t, p.Pitch, -35.0)
		assert.LessOrEqual(t, p.Yaw, 35.0)
		assert.LessOrEqual(t, p.Roll, 30.0)
		assert.Greater(t, p.Distance, 0.0)
		clock.Advance(100 * time.Millisecond)
	}
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func TestRotationToEuler(t *testing.T) {
	p := RotationToEuler(Rotation(Pose{Pitch: 12, Yaw: -7, Roll: 33}))
	assert.InDelta(t, 12, p.Pitch, 1e-9)
	assert.InDelta(t, -7, p.Yaw, 1e-9)
	assert.InDelta(t, 33, p.Roll, 1e-9)
	assert.Zero(t, p.Distance)
}

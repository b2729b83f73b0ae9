// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package novelty

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := New(DefaultThreshold)
	require.NoError(t, err)
	return e
}

func TestEvaluate_EmptyHistoryAlwaysAsksForPitch(t *testing.T) {
	e := newEvaluator(t)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		p := orientation.Pose{
			Pitch:    rng.Float64()*360 - 180,
			Yaw:      rng.Float64()*360 - 180,
			Roll:     rng.Float64()*360 - 180,
			Distance: rng.Float64() * 10,
		}
		d := e.Evaluate(p, nil)
		assert.False(t, d.Accept)
		assert.Equal(t, GuidanceVertical, d.Guidance)
		assert.Equal(t, "move camera/board vertically", d.Message)
	}
}

func TestEvaluate_AxisOrder(t *testing.T) {
	e := newEvaluator(t)
	history := []orientation.Pose{{}}

	tests := []struct {
		name   string
		pose   orientation.Pose
		accept bool
		want   Guidance
		msg    string
	}{
		{"pitch too close", orientation.Pose{Pitch: 9.99, Yaw: 50, Roll: 50}, false, GuidanceVertical, "move camera/board vertically"},
		{"yaw too close", orientation.Pose{Pitch: 15, Yaw: -5, Roll: 50}, false, GuidanceHorizontal, "move camera/board horizontally"},
		{"roll too close", orientation.Pose{Pitch: 15, Yaw: 15, Roll: 0}, false, GuidanceRotate, "rotate camera/board"},
		{"all distinct", orientation.Pose{Pitch: 15, Yaw: 15, Roll: 15}, true, GuidanceOK, "angle acceptable, continue capturing"},
		{"exactly at threshold", orientation.Pose{Pitch: -10, Yaw: 10, Roll: -10}, true, GuidanceOK, "angle acceptable, continue capturing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.pose, history)
			assert.Equal(t, tt.accept, d.Accept)
			assert.Equal(t, tt.want, d.Guidance)
			assert.Equal(t, tt.msg, d.Message)
		})
	}
}

func TestEvaluate_ComparesAgainstEveryHistoryEntry(t *testing.T) {
	e := newEvaluator(t)
	history := []orientation.Pose{
		{Pitch: 0, Yaw: 0, Roll: 0},
		{Pitch: 40, Yaw: 40, Roll: 40},
	}
	// Far from the first entry on every axis but only 2° of pitch from the second.
	d := e.Evaluate(orientation.Pose{Pitch: 38, Yaw: 20, Roll: 20}, history)
	assert.False(t, d.Accept)
	assert.Equal(t, GuidanceVertical, d.Guidance)

	d = e.Evaluate(orientation.Pose{Pitch: 20, Yaw: 20, Roll: 20}, history)
	assert.True(t, d.Accept)
}

// An accepted pose differs by at least the threshold on every axis from every
// history entry.
func TestEvaluate_AcceptImpliesSeparationOnEveryAxis(t *testing.T) {
	e := newEvaluator(t)
	rng := rand.New(rand.NewSource(42))
	angle := func() float64 { return rng.Float64()*120 - 60 }

	accepted := 0
	for trial := 0; trial < 2000; trial++ {
		n := rng.Intn(6)
		history := make([]orientation.Pose, n)
		for i := range history {
			history[i] = orientation.Pose{Pitch: angle(), Yaw: angle(), Roll: angle()}
		}
		p := orientation.Pose{Pitch: angle(), Yaw: angle(), Roll: angle()}
		d := e.Evaluate(p, history)
		if !d.Accept {
			continue
		}
		accepted++
		for _, h := range history {
			assert.GreaterOrEqual(t, math.Abs(p.Pitch-h.Pitch), e.Threshold())
			assert.GreaterOrEqual(t, math.Abs(p.Yaw-h.Yaw), e.Threshold())
			assert.GreaterOrEqual(t, math.Abs(p.Roll-h.Roll), e.Threshold())
		}
	}
	assert.Positive(t, accepted)
}

func TestEvaluate_DistanceIgnored(t *testing.T) {
	e := newEvaluator(t)
	history := []orientation.Pose{{Distance: 1}}
	d := e.Evaluate(orientation.Pose{Distance: 100}, history)
	assert.False(t, d.Accept)
	assert.Equal(t, GuidanceVertical, d.Guidance)
}

func TestNew_InvalidThreshold(t *testing.T) {
	for _, th := range []float64{0, -10, math.NaN()} {
		_, err := New(th)
		require.Error(t, err)
		assert.True(t, calerr.IsConfiguration(err))
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"

	"github.com/relabs-tech/chessboard_calibrator/internal/timeutil"
)

type mockSource struct {
	clock    timeutil.Clock
	start    time.Time
	distance float64
}

// NewMockSource creates a mock orientation source that sweeps pitch, yaw and
// roll smoothly at incommensurate rates, like an operator waving a board
// around in front of the camera.
func NewMockSource(clock timeutil.Clock, distance float64) Source {
	return &mockSource{clock: clock, start: clock.Now(), distance: distance}
}

func (m *mockSource) Next() (Pose, error) {
	elapsed := m.clock.Since(m.start).Seconds()

	return Pose{
		Pitch:    35 * math.Sin(elapsed*0.9),
		Yaw:      35 * math.Sin(elapsed*0.61+1),
		Roll:     30 * math.Sin(elapsed*0.37+2),
		Distance: m.distance * (1 + 0.15*math.Sin(elapsed*0.23)),
	}, nil
}

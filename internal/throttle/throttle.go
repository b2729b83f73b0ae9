// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package throttle gates the capture pipeline to a target frame rate,
// independent of how often the caller's scheduler ticks.
package throttle

import (
	"time"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
)

// DefaultFPS is the capture rate used when none is configured.
const DefaultFPS = 10

// Throttler holds the last fire time and the minimum interval (1000/fps ms).
// It is not safe for concurrent use; the capture controller serializes ticks.
type Throttler struct {
	minInterval time.Duration
	lastFire    time.Time
	fired       bool
}

// New returns a Throttler for fps. A non-positive fps is a configuration error.
func New(fps float64) (*Throttler, error) {
	if !(fps > 0) {
		return nil, calerr.Config("fps", fps, "must be > 0")
	}
	return &Throttler{
		minInterval: time.Duration(float64(time.Second) / fps),
	}, nil
}

// ShouldRun reports whether a tick at now may proceed. The first call always
// proceeds; later calls proceed once more than the minimum interval has passed
// since the last proceeding call. A false result has no side effect.
func (t *Throttler) ShouldRun(now time.Time) bool {
	if t.fired && now.Sub(t.lastFire) <= t.minInterval {
		return false
	}
	t.lastFire = now
	t.fired = true
	return true
}

// MinInterval returns 1000/fps as a duration.
func (t *Throttler) MinInterval() time.Duration {
	return t.minInterval
}

// Reset forgets the last fire time so the next call proceeds.
func (t *Throttler) Reset() {
	t.lastFire = time.Time{}
	t.fired = false
}

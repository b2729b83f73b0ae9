// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// shot scripts what the fake camera sees on one acquisition.
type shot struct {
	pose      orientation.Pose
	noFrame   bool
	noBoard   bool
	points    int // corner count override; 0 means the pattern's count
	grayErr   error
	detectErr error
	poseErr   error
}

// fakeRig is a scripted vision backend that counts live buffers.
type fakeRig struct {
	mu     sync.Mutex
	shots  []shot
	next   int
	live   atomic.Int64
	frames atomic.Int64
	solver *fakeSolver
}

func newRig(shots ...shot) *fakeRig {
	return &fakeRig{shots: shots, solver: &fakeSolver{}}
}

func (r *fakeRig) push(shots ...shot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shots = append(r.shots, shots...)
}

func (r *fakeRig) backend() vision.Backend {
	return vision.Backend{
		Source:   r,
		Gray:     r,
		Detector: r,
		Refiner:  r,
		Pose:     r,
		Solver:   r.solver,
	}
}

type fakeFrame struct {
	rig    *fakeRig
	shot   shot
	closed atomic.Bool
}

func (f *fakeFrame) Size() image.Point { return image.Pt(640, 480) }

func (f *fakeFrame) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		f.rig.live.Add(-1)
	}
	return nil
}

func (r *fakeRig) newFrame(s shot) *fakeFrame {
	r.live.Add(1)
	return &fakeFrame{rig: r, shot: s}
}

func (r *fakeRig) CurrentFrame() (vision.Frame, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.shots) {
		return nil, false, nil
	}
	s := r.shots[r.next]
	r.next++
	if s.noFrame {
		return nil, false, nil
	}
	r.frames.Add(1)
	return r.newFrame(s), true, nil
}

func (r *fakeRig) Gray(f vision.Frame) (vision.Frame, error) {
	ff := f.(*fakeFrame)
	if ff.shot.grayErr != nil {
		return nil, ff.shot.grayErr
	}
	return r.newFrame(ff.shot), nil
}

type fakeCorners struct {
	rig    *fakeRig
	pts    []pattern.Point2
	closed atomic.Bool
}

func (c *fakeCorners) Points() []pattern.Point2 { return append([]pattern.Point2(nil), c.pts...) }

func (c *fakeCorners) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.rig.live.Add(-1)
	}
	return nil
}

func (r *fakeRig) DetectCorners(gray vision.Frame, size image.Point) (vision.Corners, bool, error) {
	s := gray.(*fakeFrame).shot
	if s.detectErr != nil {
		return nil, false, s.detectErr
	}
	if s.noBoard {
		return nil, false, nil
	}
	n := s.points
	if n == 0 {
		n = size.X * size.Y
	}
	pts := make([]pattern.Point2, n)
	for i := range pts {
		pts[i] = pattern.Point2{X: float64(i), Y: s.pose.Pitch}
	}
	r.live.Add(1)
	return &fakeCorners{rig: r, pts: pts}, true, nil
}

func (r *fakeRig) RefineSubpixel(gray vision.Frame, c vision.Corners, window image.Point, crit vision.Criteria) error {
	return nil
}

// EstimatePose returns the pose scripted for the latest acquisition.
func (r *fakeRig) EstimatePose(obj []pattern.Point3, img []pattern.Point2, k vision.Intrinsics) (vision.Extrinsics, error) {
	r.mu.Lock()
	s := r.shots[r.next-1]
	r.mu.Unlock()
	if s.poseErr != nil {
		return vision.Extrinsics{}, s.poseErr
	}
	return vision.Extrinsics{
		Rotation:    orientation.Rotation(s.pose),
		Translation: []float64{0, 0, s.pose.Distance},
	}, nil
}

type fakeSolver struct {
	mu    sync.Mutex
	calls []int
	err   error
	gate  chan struct{}
}

func (f *fakeSolver) Calibrate(ctx context.Context, objs [][]pattern.Point3, imgs [][]pattern.Point2, sz image.Point) (vision.Calibration, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return vision.Calibration{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, len(objs))
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return vision.Calibration{}, err
	}
	return vision.Calibration{
		Intrinsics: vision.Intrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240},
		Views:      len(objs),
		RMS:        0.25,
		ImageSize:  sz,
	}, nil
}

func (f *fakeSolver) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

var errBoom = errors.New("boom")

// distinct returns n poses that are pairwise, and from the reference pose,
// at least 15 degrees apart on every axis.
func distinct(n int) []shot {
	yaws := []float64{15, -15, 30, -30, 45, -45, 60, -60}
	out := make([]shot, n)
	for k := 0; k < n; k++ {
		out[k] = shot{pose: orientation.Pose{
			Pitch:    15 * float64(k+1),
			Yaw:      yaws[k%len(yaws)],
			Roll:     20 * float64(k+1),
			Distance: 1,
		}}
	}
	return out
}

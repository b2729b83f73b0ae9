// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package synthetic is a simulated camera for running the capture pipeline
// without hardware. Each frame carries the board pose drawn from an
// orientation.Source; detection projects the board through an ideal pinhole
// camera, and pose solving and calibration are delegated to the planar package.
//
// Every frame and corner set handed out is counted until closed, so tests can
// assert that the controller releases what it acquires.
package synthetic

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/timeutil"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision/planar"
)

// Name is the registry name of this backend.
const Name = "synthetic"

// DefaultDistance is the nominal board distance in pattern units.
const DefaultDistance = 500

var (
	ErrClosed      = errors.New("synthetic: use of closed frame")
	ErrNotGray     = errors.New("synthetic: frame is not grayscale")
	ErrOutOfView   = errors.New("synthetic: board left the field of view")
	ErrNotStarted  = errors.New("synthetic: library not initialized")
	errForeignData = errors.New("synthetic: frame or corners from another backend")
)

func init() {
	vision.Register(Name, func(opts vision.Options) (vision.Library, error) {
		return New(Options{ImageSize: opts.ImageSize, Pattern: opts.Pattern}), nil
	})
}

// Options configures the simulated camera.
type Options struct {
	ImageSize image.Point
	Pattern   pattern.Spec
	// Intrinsics defaults to fx = fy = 800 with a centred principal point.
	Intrinsics vision.Intrinsics
	// Source defaults to a mock orientation source on the real clock.
	Source orientation.Source
	// Noise is the standard deviation of pixel noise added to detections.
	Noise float64
	Seed  int64
	// Solver defaults to a refining planar solver.
	Solver vision.Solver
}

// Library is the simulated vision library.
type Library struct {
	opts    Options
	started atomic.Bool
	live    atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ vision.Library = (*Library)(nil)

// New builds an uninitialized simulated library.
func New(opts Options) *Library {
	if opts.ImageSize.X <= 0 || opts.ImageSize.Y <= 0 {
		opts.ImageSize = image.Pt(1280, 720)
	}
	if opts.Pattern.Validate() != nil {
		opts.Pattern = pattern.Spec{Columns: 9, Rows: 6, SquareSize: 25}
	}
	if opts.Intrinsics.IsZero() {
		opts.Intrinsics = vision.Intrinsics{
			Fx: 800,
			Fy: 800,
			Cx: float64(opts.ImageSize.X) / 2,
			Cy: float64(opts.ImageSize.Y) / 2,
		}
	}
	if opts.Source == nil {
		opts.Source = orientation.NewMockSource(timeutil.RealClock{}, DefaultDistance)
	}
	if opts.Solver == nil {
		opts.Solver = planar.Solver{Refine: true}
	}
	return &Library{opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}
}

func (l *Library) Name() string { return Name }

func (l *Library) Init() error {
	l.started.Store(true)
	return nil
}

func (l *Library) Shutdown() error {
	l.started.Store(false)
	return nil
}

// Outstanding is the number of frames and corner sets not yet closed.
func (l *Library) Outstanding() int64 {
	return l.live.Load()
}

// Intrinsics is the ground-truth camera matrix.
func (l *Library) Intrinsics() vision.Intrinsics {
	return l.opts.Intrinsics
}

func (l *Library) Backend() vision.Backend {
	return vision.Backend{
		Source:   source{l},
		Gray:     grayscaler{l},
		Detector: detector{l},
		Refiner:  refiner{},
		Tracker:  tracker{l},
		Pose:     planar.PoseEstimator{},
		Solver:   l.opts.Solver,
	}
}

// Frame is a simulated image: the pose the board was held at when captured.
type Frame struct {
	lib    *Library
	pose   orientation.Pose
	gray   bool
	closed atomic.Bool
}

func (l *Library) newFrame(p orientation.Pose, gray bool) *Frame {
	l.live.Add(1)
	return &Frame{lib: l, pose: p, gray: gray}
}

func (f *Frame) Size() image.Point { return f.lib.opts.ImageSize }

// Pose is the board pose the frame was rendered from.
func (f *Frame) Pose() orientation.Pose { return f.pose }

func (f *Frame) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		f.lib.live.Add(-1)
	}
	return nil
}

func (f *Frame) Clone() (vision.Frame, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	return f.lib.newFrame(f.pose, f.gray), nil
}

// Image renders the board as a black and white checkerboard.
func (f *Frame) Image() (image.Image, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	l := f.lib
	size := l.opts.ImageSize
	img := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	ext := l.extrinsics(f.pose)
	k := l.opts.Intrinsics
	h := mat.NewDense(3, 3, nil)
	var r1r2t mat.Dense
	r1r2t.CloneFrom(ext.Rotation)
	r1r2t.SetCol(2, ext.Translation)
	h.Mul(k.Matrix(), &r1r2t)
	var hinv mat.Dense
	if err := hinv.Inverse(h); err != nil {
		return img, nil
	}

	s := l.opts.Pattern.SquareSize
	cols, rows := float64(l.opts.Pattern.Columns), float64(l.opts.Pattern.Rows)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			u, v := float64(x)+0.5, float64(y)+0.5
			w := hinv.At(2, 0)*u + hinv.At(2, 1)*v + hinv.At(2, 2)
			if w == 0 {
				continue
			}
			bx := (hinv.At(0, 0)*u + hinv.At(0, 1)*v + hinv.At(0, 2)) / w / s
			by := (hinv.At(1, 0)*u + hinv.At(1, 1)*v + hinv.At(1, 2)) / w / s
			if bx < -1 || by < -1 || bx >= cols || by >= rows {
				continue
			}
			if (int(math.Floor(bx))+int(math.Floor(by)))%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}

// extrinsics places the board centre on the optical axis at the pose distance.
func (l *Library) extrinsics(p orientation.Pose) vision.Extrinsics {
	r := orientation.Rotation(p)
	c := l.opts.Pattern.Center()
	var rc mat.VecDense
	rc.MulVec(r, mat.NewVecDense(3, []float64{c.X, c.Y, c.Z}))
	return vision.Extrinsics{
		Rotation:    r,
		Translation: []float64{-rc.AtVec(0), -rc.AtVec(1), p.Distance - rc.AtVec(2)},
	}
}

// project returns the pattern corners for pose p, or false when any corner
// falls outside the image.
func (l *Library) project(p orientation.Pose, size image.Point) ([]pattern.Point2, bool) {
	spec := pattern.Spec{Columns: size.X, Rows: size.Y, SquareSize: l.opts.Pattern.SquareSize}
	pts := planar.Project(spec.ObjectPoints(), l.extrinsics(p), l.opts.Intrinsics, nil)
	bounds := l.opts.ImageSize
	if l.opts.Noise > 0 {
		l.rngMu.Lock()
		for i := range pts {
			pts[i].X += l.rng.NormFloat64() * l.opts.Noise
			pts[i].Y += l.rng.NormFloat64() * l.opts.Noise
		}
		l.rngMu.Unlock()
	}
	for _, q := range pts {
		if q.X < 0 || q.Y < 0 || q.X >= float64(bounds.X) || q.Y >= float64(bounds.Y) {
			return nil, false
		}
	}
	return pts, true
}

func (l *Library) frameOf(f vision.Frame) (*Frame, error) {
	sf, ok := f.(*Frame)
	if !ok || sf.lib != l {
		return nil, errForeignData
	}
	if sf.closed.Load() {
		return nil, ErrClosed
	}
	return sf, nil
}

type source struct{ l *Library }

func (s source) CurrentFrame() (vision.Frame, bool, error) {
	if !s.l.started.Load() {
		return nil, false, ErrNotStarted
	}
	p, err := s.l.opts.Source.Next()
	if err != nil {
		return nil, false, errors.Wrap(err, "read orientation")
	}
	return s.l.newFrame(p, false), true, nil
}

type grayscaler struct{ l *Library }

func (g grayscaler) Gray(f vision.Frame) (vision.Frame, error) {
	sf, err := g.l.frameOf(f)
	if err != nil {
		return nil, err
	}
	return g.l.newFrame(sf.pose, true), nil
}

// corners is a counted vision.Corners.
type corners struct {
	lib    *Library
	pts    []pattern.Point2
	closed atomic.Bool
}

func (l *Library) newCorners(pts []pattern.Point2) *corners {
	l.live.Add(1)
	return &corners{lib: l, pts: pts}
}

func (c *corners) Points() []pattern.Point2 {
	return append([]pattern.Point2(nil), c.pts...)
}

func (c *corners) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.lib.live.Add(-1)
	}
	return nil
}

type detector struct{ l *Library }

func (d detector) DetectCorners(gray vision.Frame, size image.Point) (vision.Corners, bool, error) {
	sf, err := d.l.frameOf(gray)
	if err != nil {
		return nil, false, err
	}
	if !sf.gray {
		return nil, false, ErrNotGray
	}
	pts, ok := d.l.project(sf.pose, size)
	if !ok {
		return nil, false, nil
	}
	return d.l.newCorners(pts), true, nil
}

type refiner struct{}

// RefineSubpixel is a no-op: simulated corners are already at sub-pixel precision.
func (refiner) RefineSubpixel(gray vision.Frame, c vision.Corners, window image.Point, crit vision.Criteria) error {
	if window.X <= 0 || window.Y <= 0 {
		return errors.Errorf("synthetic: invalid refinement window %v", window)
	}
	return nil
}

type tracker struct{ l *Library }

func (t tracker) Track(prev, next vision.Frame, points []pattern.Point2) ([]pattern.Point2, []float64, error) {
	if _, err := t.l.frameOf(prev); err != nil {
		return nil, nil, err
	}
	nf, err := t.l.frameOf(next)
	if err != nil {
		return nil, nil, err
	}
	spec := t.l.opts.Pattern
	if len(points) != spec.PointCount() {
		return nil, nil, errors.Errorf("synthetic: tracking %d points, pattern has %d", len(points), spec.PointCount())
	}
	pts, ok := t.l.project(nf.pose, spec.Size())
	if !ok {
		return nil, nil, ErrOutOfView
	}
	errs := make([]float64, len(pts))
	for i := range pts {
		errs[i] = math.Hypot(pts[i].X-points[i].X, pts[i].Y-points[i].Y) / 100
	}
	return pts, errs, nil
}

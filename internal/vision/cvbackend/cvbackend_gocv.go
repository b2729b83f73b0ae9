// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build gocv

package cvbackend

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision/planar"
)

// Available reports whether the OpenCV binding is compiled in.
func Available() bool { return true }

func open(opts vision.Options) (vision.Library, error) {
	return &Library{opts: opts}, nil
}

// Library owns the capture device.
type Library struct {
	opts vision.Options

	mu  sync.Mutex
	cap *gocv.VideoCapture
}

func (l *Library) Name() string { return Name }

func (l *Library) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cap != nil {
		return nil
	}
	var device interface{} = l.opts.Device
	if id, err := strconv.Atoi(l.opts.Device); err == nil {
		device = id
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return errors.Wrapf(err, "open capture device %q", l.opts.Device)
	}
	if l.opts.ImageSize.X > 0 && l.opts.ImageSize.Y > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(l.opts.ImageSize.X))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(l.opts.ImageSize.Y))
	}
	l.cap = vc
	return nil
}

func (l *Library) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cap == nil {
		return nil
	}
	err := l.cap.Close()
	l.cap = nil
	return err
}

func (l *Library) Backend() vision.Backend {
	return vision.Backend{
		Source:   source{l},
		Gray:     grayscaler{},
		Detector: detector{},
		Refiner:  refiner{},
		Tracker:  tracker{},
		Pose:     planar.PoseEstimator{},
		Solver:   solver{},
	}
}

// frame wraps a gocv.Mat.
type frame struct {
	m gocv.Mat
}

func (f *frame) Size() image.Point { return image.Pt(f.m.Cols(), f.m.Rows()) }
func (f *frame) Close() error      { return f.m.Close() }

func (f *frame) Clone() (vision.Frame, error) {
	return &frame{m: f.m.Clone()}, nil
}

func (f *frame) Image() (image.Image, error) {
	return f.m.ToImage()
}

func matOf(f vision.Frame) (gocv.Mat, error) {
	cf, ok := f.(*frame)
	if !ok {
		return gocv.Mat{}, errors.New("opencv: frame from another backend")
	}
	return cf.m, nil
}

type source struct{ l *Library }

func (s source) CurrentFrame() (vision.Frame, bool, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	if s.l.cap == nil {
		return nil, false, errors.New("opencv: capture device not opened")
	}
	m := gocv.NewMat()
	if ok := s.l.cap.Read(&m); !ok || m.Empty() {
		m.Close()
		return nil, false, nil
	}
	return &frame{m: m}, true, nil
}

type grayscaler struct{}

func (grayscaler) Gray(f vision.Frame) (vision.Frame, error) {
	src, err := matOf(f)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return &frame{m: dst}, nil
}

// corners is a CV_32FC2 column of points.
type corners struct {
	m gocv.Mat
}

func (c *corners) Points() []pattern.Point2 {
	n := c.m.Rows()
	pts := make([]pattern.Point2, n)
	for i := 0; i < n; i++ {
		v := c.m.GetVecfAt(i, 0)
		pts[i] = pattern.Point2{X: float64(v[0]), Y: float64(v[1])}
	}
	return pts
}

func (c *corners) Close() error { return c.m.Close() }

func matFromPoints(pts []pattern.Point2) gocv.Mat {
	fs := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		fs[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	v := gocv.NewPoint2fVectorFromPoints(fs)
	defer v.Close()
	return gocv.NewMatFromPoint2fVector(v, true)
}

type detector struct{}

func (detector) DetectCorners(gray vision.Frame, size image.Point) (vision.Corners, bool, error) {
	src, err := matOf(gray)
	if err != nil {
		return nil, false, err
	}
	out := gocv.NewMat()
	found := gocv.FindChessboardCorners(src, size, &out, gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage)
	if !found || out.Rows() != size.X*size.Y {
		out.Close()
		return nil, false, nil
	}
	return &corners{m: out}, true, nil
}

type refiner struct{}

func (refiner) RefineSubpixel(gray vision.Frame, c vision.Corners, window image.Point, crit vision.Criteria) error {
	src, err := matOf(gray)
	if err != nil {
		return err
	}
	cc, ok := c.(*corners)
	if !ok {
		return errors.New("opencv: corners from another backend")
	}
	half := image.Pt(window.X/2, window.Y/2)
	tc := gocv.NewTermCriteria(gocv.Count|gocv.EPS, crit.MaxIterations, crit.Epsilon)
	gocv.CornerSubPix(src, &cc.m, half, image.Pt(-1, -1), tc)
	return nil
}

type tracker struct{}

func (tracker) Track(prev, next vision.Frame, points []pattern.Point2) ([]pattern.Point2, []float64, error) {
	pm, err := matOf(prev)
	if err != nil {
		return nil, nil, err
	}
	nm, err := matOf(next)
	if err != nil {
		return nil, nil, err
	}
	in := matFromPoints(points)
	defer in.Close()
	out := gocv.NewMat()
	defer out.Close()
	status := gocv.NewMat()
	defer status.Close()
	errMat := gocv.NewMat()
	defer errMat.Close()

	gocv.CalcOpticalFlowPyrLK(pm, nm, in, out, &status, &errMat)
	if out.Rows() != len(points) {
		return nil, nil, errors.Errorf("opencv: tracked %d of %d points", out.Rows(), len(points))
	}
	tracked := make([]pattern.Point2, len(points))
	errs := make([]float64, len(points))
	for i := range points {
		v := out.GetVecfAt(i, 0)
		tracked[i] = pattern.Point2{X: float64(v[0]), Y: float64(v[1])}
		if status.GetUCharAt(i, 0) == 0 {
			return nil, nil, errors.Errorf("opencv: lost point %d", i)
		}
		errs[i] = float64(errMat.GetFloatAt(i, 0))
	}
	return tracked, errs, nil
}

type solver struct{}

func (solver) Calibrate(ctx context.Context, objectSets [][]pattern.Point3, imageSets [][]pattern.Point2, size image.Point) (vision.Calibration, error) {
	if err := ctx.Err(); err != nil {
		return vision.Calibration{}, err
	}
	if len(objectSets) != len(imageSets) || len(objectSets) == 0 {
		return vision.Calibration{}, errors.Errorf("opencv: %d object sets vs %d image sets", len(objectSets), len(imageSets))
	}
	obj := make([][]gocv.Point3f, len(objectSets))
	img := make([][]gocv.Point2f, len(imageSets))
	for i := range objectSets {
		for _, p := range objectSets[i] {
			obj[i] = append(obj[i], gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)})
		}
		for _, p := range imageSets[i] {
			img[i] = append(img[i], gocv.Point2f{X: float32(p.X), Y: float32(p.Y)})
		}
	}
	ov := gocv.NewPoints3fVectorFromPoints(obj)
	defer ov.Close()
	iv := gocv.NewPoints2fVectorFromPoints(img)
	defer iv.Close()

	k := gocv.NewMat()
	defer k.Close()
	dist := gocv.NewMat()
	defer dist.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(ov, iv, size, &k, &dist, &rvecs, &tvecs, 0)
	if err := ctx.Err(); err != nil {
		return vision.Calibration{}, err
	}

	intr := vision.Intrinsics{
		Fx:   k.GetDoubleAt(0, 0),
		Fy:   k.GetDoubleAt(1, 1),
		Cx:   k.GetDoubleAt(0, 2),
		Cy:   k.GetDoubleAt(1, 2),
		Skew: k.GetDoubleAt(0, 1),
	}
	coeffs := make([]float64, dist.Cols()*dist.Rows())
	for i := range coeffs {
		coeffs[i] = dist.GetDoubleAt(0, i)
	}

	perView := make([]float64, len(objectSets))
	for i := range objectSets {
		ext, err := planar.PoseEstimator{}.EstimatePose(objectSets[i], imageSets[i], intr)
		if err != nil {
			continue
		}
		perView[i] = planar.ReprojectionRMS(objectSets[i], imageSets[i], ext, intr, coeffs)
	}

	return vision.Calibration{
		Intrinsics: intr,
		Distortion: coeffs,
		PerViewRMS: perView,
		RMS:        rms,
		Views:      len(objectSets),
		ImageSize:  size,
	}, nil
}

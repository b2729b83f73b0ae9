// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package capture is the guided calibration capture controller. Each Tick
// throttles, acquires one frame, finds the chessboard, solves its pose, asks
// the novelty evaluator whether the view is new enough, and on acceptance
// records a sample and consults the calibration trigger. The operator
// guidance is returned on every evaluated tick, accepted or not.
package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/novelty"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/samples"
	"github.com/relabs-tech/chessboard_calibrator/internal/throttle"
	"github.com/relabs-tech/chessboard_calibrator/internal/trigger"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle  State = "idle"
	StateArmed State = "armed"
)

// Outcome classifies a tick.
type Outcome string

const (
	OutcomeThrottled  Outcome = "throttled"
	OutcomeNoFrame    Outcome = "no_frame"
	OutcomeNoCorners  Outcome = "no_corners"
	OutcomePoseFailed Outcome = "pose_failed"
	OutcomeEvaluated  Outcome = "evaluated"
)

// Defaults for Options.
const (
	DefaultMaxTrackingError = 8.0
	DefaultSubpixWindow     = 11
)

// Result is what one tick (or forced calibration) produced.
type Result struct {
	Outcome  Outcome          `json:"outcome"`
	Session  string           `json:"session"`
	At       time.Time        `json:"at"`
	Decision novelty.Decision `json:"decision"`
	Pose     orientation.Pose `json:"pose"`
	Tracked  bool             `json:"tracked"`
	Count    int              `json:"count"`
	// ImagePoints are the corners the decision was made on.
	ImagePoints []pattern.Point2 `json:"image_points,omitempty"`
	ImageSize   image.Point      `json:"image_size"`

	Calibration        *vision.Calibration `json:"calibration,omitempty"`
	CalibrationErr     error               `json:"-"`
	CalibrationPending bool                `json:"calibration_pending"`
}

// Accepted reports whether the tick added a sample.
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeEvaluated && r.Decision.Accept
}

// Options configures a Controller. Zero values take the package defaults.
type Options struct {
	FPS              float64
	NoveltyThreshold float64
	MinSamples       int
	Policy           trigger.Policy
	AsyncCalibration bool

	// Tracking enables the optical-flow detection strategy.
	Tracking         bool
	MaxTrackingError float64

	SubpixWindow image.Point
	Criteria     vision.Criteria

	// Intrinsics is the starting camera guess. When zero it is derived from
	// the frame size.
	Intrinsics vision.Intrinsics

	Logger logrus.FieldLogger
	Meter  metric.Meter
}

func (o *Options) setDefaults() {
	if o.FPS == 0 {
		o.FPS = throttle.DefaultFPS
	}
	if o.NoveltyThreshold == 0 {
		o.NoveltyThreshold = novelty.DefaultThreshold
	}
	if o.MinSamples == 0 {
		o.MinSamples = trigger.DefaultMinSamples
	}
	if o.MaxTrackingError == 0 {
		o.MaxTrackingError = DefaultMaxTrackingError
	}
	if o.SubpixWindow == (image.Point{}) {
		o.SubpixWindow = image.Pt(DefaultSubpixWindow, DefaultSubpixWindow)
	}
	if o.Criteria == (vision.Criteria{}) {
		o.Criteria = vision.DefaultCriteria
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State              State               `json:"state"`
	Session            string              `json:"session,omitempty"`
	Pattern            pattern.Spec        `json:"pattern"`
	Count              int                 `json:"count"`
	MinSamples         int                 `json:"min_samples"`
	Policy             trigger.Policy      `json:"policy"`
	LastOutcome        Outcome             `json:"last_outcome,omitempty"`
	LastDecision       *novelty.Decision   `json:"last_decision,omitempty"`
	LastPose           *orientation.Pose   `json:"last_pose,omitempty"`
	Calibration        *vision.Calibration `json:"calibration,omitempty"`
	CalibrationPending bool                `json:"calibration_pending"`
	Ticks              uint64              `json:"ticks"`
}

// Controller owns one capture session at a time. All methods are safe for
// concurrent use; ticks are serialized.
type Controller struct {
	backend   vision.Backend
	opts      Options
	log       logrus.FieldLogger
	throttle  *throttle.Throttler
	evaluator *novelty.Evaluator
	trigger   *trigger.Trigger
	strategy  cornerStrategy
	metrics   *metrics

	mu         sync.Mutex
	state      State
	closed     bool
	spec       pattern.Spec
	objPoints  []pattern.Point3
	session    string
	acc        *samples.Accumulator
	history    []orientation.Pose
	intrinsics vision.Intrinsics
	imageSize  image.Point

	ticks        uint64
	lastOutcome  Outcome
	lastDecision *novelty.Decision
	lastPose     *orientation.Pose
	lastCal      *vision.Calibration
	pending      bool
}

// New validates the backend and options. The controller starts Idle.
func New(backend vision.Backend, opts Options) (*Controller, error) {
	switch {
	case backend.Source == nil:
		return nil, calerr.Config("backend.source", nil, "required")
	case backend.Gray == nil:
		return nil, calerr.Config("backend.gray", nil, "required")
	case backend.Detector == nil:
		return nil, calerr.Config("backend.detector", nil, "required")
	case backend.Pose == nil:
		return nil, calerr.Config("backend.pose", nil, "required")
	case backend.Solver == nil:
		return nil, calerr.Config("backend.solver", nil, "required")
	}
	opts.setDefaults()

	th, err := throttle.New(opts.FPS)
	if err != nil {
		return nil, err
	}
	ev, err := novelty.New(opts.NoveltyThreshold)
	if err != nil {
		return nil, err
	}
	if opts.Tracking && !(opts.MaxTrackingError > 0) {
		return nil, calerr.Config("max_tracking_error", opts.MaxTrackingError, "must be > 0")
	}
	if opts.SubpixWindow.X <= 0 || opts.SubpixWindow.Y <= 0 {
		return nil, calerr.Config("subpix_window", opts.SubpixWindow, "must be positive")
	}
	log := opts.Logger.WithField("component", "capture")
	tr, err := trigger.New(backend.Solver, trigger.Options{
		MinSamples: opts.MinSamples,
		Policy:     opts.Policy,
		Async:      opts.AsyncCalibration,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	m, err := newMetrics(opts.Meter)
	if err != nil {
		return nil, err
	}

	full := &fullDetector{
		detector: backend.Detector,
		refiner:  backend.Refiner,
		window:   opts.SubpixWindow,
		criteria: opts.Criteria,
	}
	var strategy cornerStrategy = full
	if opts.Tracking {
		if backend.Tracker == nil {
			return nil, calerr.Config("backend.tracker", nil, "required when tracking is enabled")
		}
		strategy = &trackedDetector{full: full, tracker: backend.Tracker, maxError: opts.MaxTrackingError, log: log}
	}

	return &Controller{
		backend:    backend,
		opts:       opts,
		log:        log,
		throttle:   th,
		evaluator:  ev,
		trigger:    tr,
		strategy:   strategy,
		metrics:    m,
		state:      StateIdle,
		intrinsics: opts.Intrinsics,
	}, nil
}

// Arm validates the pattern, starts a fresh session and moves to Armed.
func (c *Controller) Arm(spec pattern.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.spec = spec
	c.objPoints = spec.ObjectPoints()
	if err := c.resetLocked(); err != nil {
		return err
	}
	c.state = StateArmed
	c.log.WithFields(logrus.Fields{
		"session": c.session,
		"columns": spec.Columns,
		"rows":    spec.Rows,
		"square":  spec.SquareSize,
	}).Info("armed")
	return nil
}

// Disarm returns to Idle, dropping the session and any pending solve.
// The last calibration stays visible in Status.
func (c *Controller) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
}

func (c *Controller) disarmLocked() {
	if c.state == StateIdle {
		return
	}
	c.trigger.Reset()
	c.strategy.reset()
	c.log.WithFields(logrus.Fields{"session": c.session, "count": c.acc.Count()}).Info("disarmed")
	c.state = StateIdle
	c.session = ""
	c.acc = nil
	c.history = nil
	c.pending = false
}

// Reset starts a new session with the same pattern and returns its ID.
func (c *Controller) Reset() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		return "", ErrNotArmed
	}
	prev := c.session
	if err := c.resetLocked(); err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{"session": c.session, "previous": prev}).Info("session reset")
	return c.session, nil
}

func (c *Controller) resetLocked() error {
	acc, err := samples.New(c.spec)
	if err != nil {
		return err
	}
	c.trigger.Reset()
	c.strategy.reset()
	c.throttle.Reset()
	c.session = uuid.NewString()
	c.acc = acc
	c.history = nil
	c.intrinsics = c.opts.Intrinsics
	c.lastOutcome = ""
	c.lastDecision = nil
	c.lastPose = nil
	c.pending = false
	return nil
}

// comparison is the set a candidate pose is judged against: the reference
// pose followed by every accepted pose. The reference is never a sample.
func (c *Controller) comparison() []orientation.Pose {
	set := make([]orientation.Pose, 0, len(c.history)+1)
	set = append(set, orientation.Pose{})
	return append(set, c.history...)
}

// Tick runs one pass of the capture loop at time now.
func (c *Controller) Tick(ctx context.Context, now time.Time) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Result{}, ErrClosed
	}
	if c.state != StateArmed {
		return Result{}, ErrNotArmed
	}
	c.ticks++

	res := Result{Session: c.session, At: now, Count: c.acc.Count(), ImageSize: c.imageSize}
	c.apply(ctx, &res, c.trigger.Poll())

	if !c.throttle.ShouldRun(now) {
		res.Outcome = OutcomeThrottled
		c.metrics.tick(ctx, res.Outcome)
		return res, nil
	}

	err := c.process(ctx, &res)
	c.metrics.tick(ctx, res.Outcome)
	c.noteOutcome(res)
	return res, err
}

// process acquires and releases the frame buffers for one tick.
func (c *Controller) process(ctx context.Context, res *Result) error {
	frame, ok, err := c.backend.Source.CurrentFrame()
	if frame != nil {
		defer frame.Close()
	}
	if err != nil {
		res.Outcome = OutcomeNoFrame
		return errors.Wrap(err, "acquire frame")
	}
	if !ok || frame == nil {
		res.Outcome = OutcomeNoFrame
		return nil
	}
	c.imageSize = frame.Size()
	res.ImageSize = c.imageSize

	gray, err := c.backend.Gray.Gray(frame)
	if gray != nil {
		defer gray.Close()
	}
	if err != nil {
		res.Outcome = OutcomeNoFrame
		return errors.Wrap(err, "grayscale")
	}

	pts, found, tracked, err := c.strategy.detect(gray, c.spec)
	if err != nil {
		res.Outcome = OutcomeNoCorners
		return err
	}
	if !found {
		res.Outcome = OutcomeNoCorners
		return nil
	}
	res.Tracked = tracked
	res.ImagePoints = pts

	k := c.intrinsics
	if k.IsZero() {
		k = vision.GuessIntrinsics(c.imageSize)
	}
	ext, err := c.backend.Pose.EstimatePose(c.objPoints, pts, k)
	if err != nil {
		res.Outcome = OutcomePoseFailed
		c.log.WithError(err).WithField("session", c.session).Debug("pose estimation failed")
		return nil
	}
	pose := orientation.FromRotation(ext.Rotation, ext.Translation)

	decision := c.evaluator.Evaluate(pose, c.comparison())
	res.Outcome = OutcomeEvaluated
	res.Decision = decision
	res.Pose = pose
	c.lastDecision = &decision
	c.lastPose = &pose
	if !decision.Accept {
		return nil
	}

	if err := c.acc.Accept(c.objPoints, pts); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"session":  c.session,
			"expected": c.spec.PointCount(),
			"got":      len(pts),
		}).Error("sample rejected by accumulator")
		return errors.Wrap(err, "accumulate sample")
	}
	c.history = append(c.history, pose)
	res.Count = c.acc.Count()
	c.metrics.accept(ctx)
	c.log.WithFields(logrus.Fields{
		"session":  c.session,
		"count":    res.Count,
		"guidance": decision.Guidance,
		"pitch":    pose.Pitch,
		"yaw":      pose.Yaw,
		"roll":     pose.Roll,
	}).Info("sample accepted")

	c.apply(ctx, res, c.trigger.MaybeCalibrate(ctx, c.acc, c.imageSize))
	return nil
}

// apply folds a trigger outcome into the result and controller state.
func (c *Controller) apply(ctx context.Context, res *Result, out trigger.Outcome) {
	c.pending = out.Pending
	res.CalibrationPending = out.Pending
	if !out.Ran {
		return
	}
	c.metrics.calibration(ctx, calibrationRMS(out.Calibration), out.Err)
	if out.Err != nil {
		res.CalibrationErr = out.Err
		return
	}
	res.Calibration = out.Calibration
	c.lastCal = out.Calibration
	c.intrinsics = out.Calibration.Intrinsics
}

func calibrationRMS(cal *vision.Calibration) float64 {
	if cal == nil {
		return 0
	}
	return cal.RMS
}

// noteOutcome logs at debug level only when the outcome or guidance changes.
func (c *Controller) noteOutcome(res Result) {
	changed := res.Outcome != c.lastOutcome
	c.lastOutcome = res.Outcome
	if !changed && res.Outcome != OutcomeEvaluated {
		return
	}
	entry := c.log.WithFields(logrus.Fields{"session": res.Session, "outcome": res.Outcome, "count": res.Count})
	if res.Outcome == OutcomeEvaluated {
		entry = entry.WithField("guidance", res.Decision.Guidance)
	}
	entry.Debug("tick")
}

// Recalibrate forces a solve over the current samples, ignoring the trigger policy.
func (c *Controller) Recalibrate(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		return Result{}, ErrNotArmed
	}
	res := Result{Session: c.session, At: time.Now(), Count: c.acc.Count(), ImageSize: c.imageSize}
	out := c.trigger.Recalibrate(ctx, c.acc, c.imageSize)
	if errors.Is(out.Err, trigger.ErrNotEnoughSamples) {
		return res, out.Err
	}
	c.apply(ctx, &res, out)
	return res, nil
}

// Finalize runs a synchronous solve over every sample and disarms. The
// controller stays armed when there are too few samples.
func (c *Controller) Finalize(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateArmed {
		return Result{}, ErrNotArmed
	}
	res := Result{Session: c.session, At: time.Now(), Count: c.acc.Count(), ImageSize: c.imageSize}
	out := c.trigger.Finalize(ctx, c.acc, c.imageSize)
	if errors.Is(out.Err, trigger.ErrNotEnoughSamples) {
		return res, out.Err
	}
	c.apply(ctx, &res, out)
	c.disarmLocked()
	return res, nil
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:              c.state,
		Session:            c.session,
		Pattern:            c.spec,
		MinSamples:         c.trigger.MinSamples(),
		Policy:             c.trigger.Policy(),
		LastOutcome:        c.lastOutcome,
		LastDecision:       c.lastDecision,
		LastPose:           c.lastPose,
		Calibration:        c.lastCal,
		CalibrationPending: c.pending,
		Ticks:              c.ticks,
	}
	if c.acc != nil {
		st.Count = c.acc.Count()
	}
	return st
}

// History returns the accepted poses of the current session in order.
func (c *Controller) History() []orientation.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]orientation.Pose(nil), c.history...)
}

// Samples returns copies of the accepted samples of the current session.
func (c *Controller) Samples() []samples.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acc == nil {
		return nil
	}
	return c.acc.Samples()
}

// Snapshot grabs a frame outside the tick cadence and exports it as an image.
// It fails when the backend's frames cannot be exported.
func (c *Controller) Snapshot() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	frame, ok, err := c.backend.Source.CurrentFrame()
	if frame != nil {
		defer frame.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "acquire frame")
	}
	if !ok || frame == nil {
		return nil, errors.New("no frame available")
	}
	im, ok := frame.(vision.Imager)
	if !ok {
		return nil, errors.New("backend frames cannot be exported")
	}
	return im.Image()
}

// Close stops any background solve and releases retained buffers.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.strategy.reset()
	c.state = StateIdle
	c.mu.Unlock()
	c.trigger.Close()
	return nil
}

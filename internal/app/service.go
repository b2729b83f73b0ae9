// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/overlay"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/store"
	"github.com/relabs-tech/chessboard_calibrator/internal/timeutil"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// snapshotWidth bounds the width of exported snapshots.
const snapshotWidth = 960

// Topics are the MQTT topics events go to.
type Topics struct {
	Guidance    string
	Calibration string
	Pose        string
}

// ServiceOptions wires a Service. Only Controller is required.
type ServiceOptions struct {
	Controller *capture.Controller
	Store      *store.Store
	Publisher  Publisher
	Hub        *Hub
	Topics     Topics
	Pattern    pattern.Spec
	Clock      timeutil.Clock
	Logger     logrus.FieldLogger
}

// Service drives a capture controller and fans its results out to the
// store, the MQTT publisher and websocket clients. Every operation is
// serialized.
type Service struct {
	ctrl       *capture.Controller
	store      *store.Store
	pub        Publisher
	hub        *Hub
	topics     Topics
	spec       pattern.Spec
	clock      timeutil.Clock
	log        logrus.FieldLogger
	minSamples int

	mu      sync.Mutex
	session string
	corners []pattern.Point2
	lastErr string
}

// NewService validates opts and fills in defaults.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Controller == nil {
		return nil, errors.New("service: controller is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = NopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		ctrl:       opts.Controller,
		store:      opts.Store,
		pub:        opts.Publisher,
		hub:        opts.Hub,
		topics:     opts.Topics,
		spec:       opts.Pattern,
		clock:      opts.Clock,
		log:        opts.Logger.WithField("component", "service"),
		minSamples: opts.Controller.Status().MinSamples,
	}, nil
}

// Start arms the controller with the configured pattern.
func (s *Service) Start(ctx context.Context) error {
	return s.Arm(ctx, s.Pattern())
}

// Arm closes the current session, if any, and starts a new one for spec.
func (s *Service) Arm(ctx context.Context, spec pattern.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.ctrl.History()
	if err := s.ctrl.Arm(spec); err != nil {
		return err
	}
	s.endSessionLocked(ctx, hist)
	s.spec = spec
	s.beginSessionLocked(ctx)
	return nil
}

// Disarm closes the current session and idles the controller.
func (s *Service) Disarm(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.ctrl.History()
	s.ctrl.Disarm()
	s.endSessionLocked(ctx, hist)
	s.broadcastStatus()
}

// Tick runs one controller pass at the clock's current time.
func (s *Service) Tick(ctx context.Context) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.ctrl.Tick(ctx, s.clock.Now())
	if err != nil {
		return res, err
	}
	s.handleLocked(ctx, res, false)
	return res, nil
}

// Run ticks on every ticker fire until ctx is done. Idle ticks are skipped
// silently; repeated tick errors are logged once.
func (s *Service) Run(ctx context.Context, ticker timeutil.Ticker) error {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			_, err := s.Tick(ctx)
			switch {
			case err == nil, errors.Is(err, capture.ErrNotArmed):
				s.noteError(nil)
			case errors.Is(err, capture.ErrClosed):
				return err
			default:
				s.noteError(err)
			}
		}
	}
}

func (s *Service) noteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	if err.Error() == s.lastErr {
		return
	}
	s.lastErr = err.Error()
	s.log.WithError(err).Warn("tick failed")
}

// Reset starts a new session with the same pattern.
func (s *Service) Reset(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.ctrl.History()
	id, err := s.ctrl.Reset()
	if err != nil {
		return "", err
	}
	s.endSessionLocked(ctx, hist)
	s.beginSessionLocked(ctx)
	return id, nil
}

// Recalibrate forces a solve over the current samples.
func (s *Service) Recalibrate(ctx context.Context) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.ctrl.Recalibrate(ctx)
	if err != nil {
		return res, err
	}
	s.handleLocked(ctx, res, false)
	return res, nil
}

// Finalize runs the final solve and closes the session.
func (s *Service) Finalize(ctx context.Context) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.ctrl.History()
	res, err := s.ctrl.Finalize(ctx)
	if err != nil {
		return res, err
	}
	s.handleLocked(ctx, res, true)
	s.endSessionLocked(ctx, hist)
	s.broadcastStatus()
	return res, nil
}

// Pattern is the pattern the next Start arms with.
func (s *Service) Pattern() pattern.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Status is the controller status.
func (s *Service) Status() capture.Status {
	return s.ctrl.Status()
}

// History is the accepted poses of the current session.
func (s *Service) History() []orientation.Pose {
	return s.ctrl.History()
}

// LatestCalibration returns the controller's last calibration, falling back
// to the newest stored one.
func (s *Service) LatestCalibration(ctx context.Context) (vision.Calibration, error) {
	if cal := s.ctrl.Status().Calibration; cal != nil {
		return *cal, nil
	}
	if s.store == nil {
		return vision.Calibration{}, store.ErrNotFound
	}
	rec, err := s.store.LatestCalibration(ctx, "")
	if err != nil {
		return vision.Calibration{}, err
	}
	return rec.Calibration()
}

// Sessions lists stored sessions, newest first.
func (s *Service) Sessions(ctx context.Context, limit int) ([]store.Session, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Sessions(ctx, limit)
}

// Snapshot renders the current frame with the latest guidance on top.
func (s *Service) Snapshot() (image.Image, error) {
	img, err := s.ctrl.Snapshot()
	if err != nil {
		return nil, err
	}
	st := s.ctrl.Status()
	s.mu.Lock()
	corners := s.corners
	s.mu.Unlock()
	return overlay.Render(img, overlay.Annotation{
		Corners:    corners,
		Decision:   st.LastDecision,
		Pose:       st.LastPose,
		Count:      st.Count,
		MinSamples: st.MinSamples,
		Session:    st.Session,
	}, snapshotWidth), nil
}

// Close ends the open session and closes the controller.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endSessionLocked(ctx, s.ctrl.History())
	return s.ctrl.Close()
}

func (s *Service) handleLocked(ctx context.Context, res capture.Result, final bool) {
	if res.Outcome == capture.OutcomeEvaluated {
		s.corners = res.ImagePoints
		ev := newGuidanceEvent(res, s.minSamples)
		s.publish(s.topics.Guidance, false, ev)
		s.broadcast(WSResponse{Type: "guidance", Guidance: &ev})
	}
	if res.Accepted() {
		s.publish(s.topics.Pose, false, PoseEvent{Session: res.Session, At: res.At, Count: res.Count, Pose: res.Pose})
	}
	if res.CalibrationErr != nil {
		s.log.WithError(res.CalibrationErr).WithField("session", res.Session).Warn("calibration failed")
		s.broadcast(WSResponse{Type: "error", Message: res.CalibrationErr.Error()})
	}
	if res.Calibration == nil {
		return
	}
	cal := *res.Calibration
	if s.store != nil {
		if _, err := s.store.SaveCalibration(ctx, res.Session, cal, final, res.At); err != nil {
			s.log.WithError(err).Error("failed to store calibration")
		}
	}
	ce := newCalibrationEvent(res.Session, res.At, cal, final)
	s.publish(s.topics.Calibration, true, ce)
	s.broadcast(WSResponse{Type: "calibration", Calibration: &ce})
	s.log.WithFields(logrus.Fields{
		"session": res.Session,
		"rms":     cal.RMS,
		"quality": cal.Quality(),
		"views":   cal.Views,
		"final":   final,
	}).Info("calibration stored")
}

func (s *Service) beginSessionLocked(ctx context.Context) {
	st := s.ctrl.Status()
	s.session = st.Session
	s.corners = nil
	if s.store != nil {
		if err := s.store.SaveSession(ctx, st.Session, st.Pattern, s.clock.Now()); err != nil {
			s.log.WithError(err).Error("failed to store session")
		}
	}
	s.broadcast(WSResponse{Type: "session", Session: st.Session})
}

func (s *Service) endSessionLocked(ctx context.Context, hist []orientation.Pose) {
	if s.session == "" {
		return
	}
	if s.store != nil {
		if err := s.store.EndSession(ctx, s.session, s.clock.Now(), hist); err != nil {
			s.log.WithError(err).WithField("session", s.session).Error("failed to close session")
		}
	}
	s.session = ""
	s.corners = nil
}

func (s *Service) publish(topic string, retained bool, v interface{}) {
	if topic == "" {
		return
	}
	if err := s.pub.Publish(topic, retained, v); err != nil {
		s.log.WithError(err).WithField("topic", topic).Warn("publish failed")
	}
}

func (s *Service) broadcast(msg WSResponse) {
	if s.hub != nil {
		s.hub.Broadcast(msg)
	}
}

func (s *Service) broadcastStatus() {
	st := s.ctrl.Status()
	s.broadcast(WSResponse{Type: "status", Status: &st})
}

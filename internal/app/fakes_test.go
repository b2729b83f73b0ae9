// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/store"
	"github.com/relabs-tech/chessboard_calibrator/internal/timeutil"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision/synthetic"
)

var (
	t0        = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	board     = pattern.Spec{Columns: 6, Rows: 6, SquareSize: 0.02}
	imageSize = image.Pt(1280, 720)
	topics    = Topics{Guidance: "t/guidance", Calibration: "t/calibration", Pose: "t/pose"}
	// Four poses that are each novel on every axis against the others and
	// the reference pose.
	novelPoses = []orientation.Pose{
		{Pitch: 20, Yaw: 20, Roll: 20, Distance: 1},
		{Pitch: 35, Yaw: -20, Roll: -35, Distance: 1},
		{Pitch: -20, Yaw: 35, Roll: -20, Distance: 1},
		{Pitch: -35, Yaw: -35, Roll: 35, Distance: 1},
	}
)

// step is longer than one period at the controller's default frame rate.
const step = 150 * time.Millisecond

type message struct {
	Topic    string
	Retained bool
	Payload  []byte
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []message
}

func (r *recordingPublisher) Publish(topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.messages = append(r.messages, message{Topic: topic, Retained: retained, Payload: payload})
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) Close() {}

func (r *recordingPublisher) on(topic string) []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []message
	for _, m := range r.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// scriptedPoses cycles through a fixed list. Safe for use from one goroutine
// at a time.
type scriptedPoses struct {
	mu    sync.Mutex
	poses []orientation.Pose
	i     int
}

func (s *scriptedPoses) Next() (orientation.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.poses[s.i%len(s.poses)]
	s.i++
	return p, nil
}

func newSyntheticLibrary(t *testing.T, poses []orientation.Pose) *synthetic.Library {
	t.Helper()
	lib := synthetic.New(synthetic.Options{
		ImageSize:  imageSize,
		Pattern:    board,
		Intrinsics: vision.GuessIntrinsics(imageSize),
		Source:     &scriptedPoses{poses: poses},
	})
	require.NoError(t, lib.Init())
	t.Cleanup(func() { _ = lib.Shutdown() })
	return lib
}

type fixture struct {
	svc   *Service
	pub   *recordingPublisher
	store *store.Store
	hub   *Hub
	clock *timeutil.MockClock
	lib   *synthetic.Library
}

func newFixture(t *testing.T, minSamples int) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	lib := newSyntheticLibrary(t, novelPoses)

	ctrl, err := capture.New(lib.Backend(), capture.Options{MinSamples: minSamples, Logger: logger})
	require.NoError(t, err)

	st, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := timeutil.NewMockClock(t0)
	pub := &recordingPublisher{}
	hub := NewHub(logger)
	svc, err := NewService(ServiceOptions{
		Controller: ctrl,
		Store:      st,
		Publisher:  pub,
		Hub:        hub,
		Topics:     topics,
		Pattern:    board,
		Clock:      clock,
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return &fixture{svc: svc, pub: pub, store: st, hub: hub, clock: clock, lib: lib}
}

// tick advances the clock past the throttle period and runs one tick.
func (f *fixture) tick(t *testing.T) capture.Result {
	t.Helper()
	f.clock.Advance(step)
	res, err := f.svc.Tick(t.Context())
	require.NoError(t, err)
	return res
}

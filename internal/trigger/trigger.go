// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trigger decides when the accumulated samples are handed to the
// multi-view solver.
package trigger

import (
	"context"
	"image"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/samples"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// DefaultMinSamples is the sample count at which calibration becomes possible.
const DefaultMinSamples = 15

// Policy selects when the solver re-runs once the threshold is met.
type Policy string

const (
	// PolicyOnce solves on the threshold crossing only. Further runs need an
	// explicit Recalibrate or Finalize.
	PolicyOnce Policy = "once"
	// PolicyEvery solves on every accepted sample at or above the threshold.
	PolicyEvery Policy = "every"
)

// ParsePolicy accepts "once" or "every", case-insensitively. Empty means once.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyOnce:
		return PolicyOnce, nil
	case PolicyEvery:
		return PolicyEvery, nil
	}
	return "", calerr.Config("trigger_policy", s, `must be "once" or "every"`)
}

// ErrNotEnoughSamples is returned by forced runs below the threshold.
var ErrNotEnoughSamples = errors.New("not enough samples to calibrate")

// Outcome reports what a consultation did. Ran is set when a solve finished,
// with either Calibration or Err populated. Pending is set while an
// asynchronous solve is in flight.
type Outcome struct {
	Ran         bool
	Pending     bool
	Calibration *vision.Calibration
	Err         error
}

// Options configures a Trigger.
type Options struct {
	MinSamples int
	Policy     Policy
	// Async runs solves on a background worker. Results are collected with Poll.
	Async  bool
	Logger logrus.FieldLogger
}

type job struct {
	objs [][]pattern.Point3
	imgs [][]pattern.Point2
	size image.Point
}

// Trigger owns the solve timing for one controller.
type Trigger struct {
	solver     vision.Solver
	minSamples int
	policy     Policy
	async      bool
	log        logrus.FieldLogger

	mu     sync.Mutex
	cond   *sync.Cond
	fired  bool
	closed bool

	// Async worker state. generation is bumped on Cancel so a stale result
	// is dropped.
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	inflight   bool
	queued     *job
	completed  *Outcome
	wg         sync.WaitGroup
}

// New validates opts and returns a Trigger.
func New(solver vision.Solver, opts Options) (*Trigger, error) {
	if solver == nil {
		return nil, calerr.Config("solver", nil, "required")
	}
	if opts.MinSamples == 0 {
		opts.MinSamples = DefaultMinSamples
	}
	if opts.MinSamples < 1 {
		return nil, calerr.Config("min_samples", opts.MinSamples, "must be >= 1")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyOnce
	}
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	t := &Trigger{
		solver:     solver,
		minSamples: opts.MinSamples,
		policy:     opts.Policy,
		async:      opts.Async,
		log:        opts.Logger.WithField("component", "trigger"),
	}
	t.cond = sync.NewCond(&t.mu)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t, nil
}

// MinSamples returns the configured threshold.
func (t *Trigger) MinSamples() int { return t.minSamples }

// Policy returns the configured policy.
func (t *Trigger) Policy() Policy { return t.policy }

// MaybeCalibrate is consulted after every accepted sample and runs the solver
// when the policy says so.
func (t *Trigger) MaybeCalibrate(ctx context.Context, acc *samples.Accumulator, size image.Point) Outcome {
	t.mu.Lock()
	if acc.Count() < t.minSamples || (t.policy == PolicyOnce && t.fired) {
		pending := t.inflight
		t.mu.Unlock()
		return Outcome{Pending: pending}
	}
	t.fired = true
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{"count": acc.Count(), "policy": t.policy}).Info("calibration triggered")
	return t.run(ctx, snapshot(acc, size))
}

// Recalibrate forces a run regardless of policy.
func (t *Trigger) Recalibrate(ctx context.Context, acc *samples.Accumulator, size image.Point) Outcome {
	if n := acc.Count(); n < t.minSamples {
		return Outcome{Err: errors.Wrapf(ErrNotEnoughSamples, "have %d, need %d", n, t.minSamples)}
	}
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	return t.run(ctx, snapshot(acc, size))
}

// Finalize discards any in-flight solve and runs one synchronously over every
// sample.
func (t *Trigger) Finalize(ctx context.Context, acc *samples.Accumulator, size image.Point) Outcome {
	if n := acc.Count(); n < t.minSamples {
		return Outcome{Err: errors.Wrapf(ErrNotEnoughSamples, "have %d, need %d", n, t.minSamples)}
	}
	t.Cancel()
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	return t.solve(ctx, snapshot(acc, size))
}

// Poll returns the result of a finished asynchronous solve, if any, and
// whether one is still in flight.
func (t *Trigger) Poll() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Outcome{Pending: t.inflight}
	if t.completed != nil {
		out.Ran = true
		out.Calibration = t.completed.Calibration
		out.Err = t.completed.Err
		t.completed = nil
	}
	return out
}

// Wait blocks until no asynchronous solve is in flight or queued.
func (t *Trigger) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.inflight {
		t.cond.Wait()
	}
}

// Cancel aborts an in-flight solve and drops its result.
func (t *Trigger) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Reset cancels pending work and re-arms the one-shot latch for a new session.
func (t *Trigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.fired = false
}

func (t *Trigger) cancelLocked() {
	if t.inflight {
		t.log.WithField("generation", t.generation).Info("discarding in-flight calibration")
	}
	t.cancel()
	t.generation++
	t.inflight = false
	t.queued = nil
	t.completed = nil
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.cond.Broadcast()
}

// Close cancels pending work and waits for the worker to exit.
func (t *Trigger) Close() {
	t.mu.Lock()
	t.closed = true
	t.cancelLocked()
	t.cancel()
	t.mu.Unlock()
	t.wg.Wait()
}

func snapshot(acc *samples.Accumulator, size image.Point) job {
	objs, imgs := acc.PointSets()
	return job{objs: objs, imgs: imgs, size: size}
}

func (t *Trigger) run(ctx context.Context, j job) Outcome {
	if !t.async {
		return t.solve(ctx, j)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Outcome{Err: context.Canceled}
	}
	if t.inflight {
		// Coalesce: only the newest snapshot is worth solving next.
		t.queued = &j
		return Outcome{Pending: true}
	}
	t.launchLocked(j)
	return Outcome{Pending: true}
}

func (t *Trigger) solve(ctx context.Context, j job) Outcome {
	cal, err := t.solver.Calibrate(ctx, j.objs, j.imgs, j.size)
	if err != nil {
		t.log.WithError(err).WithField("views", len(j.objs)).Warn("calibration failed")
		return Outcome{Ran: true, Err: err}
	}
	t.log.WithFields(logrus.Fields{
		"views":   cal.Views,
		"rms":     cal.RMS,
		"quality": cal.Quality(),
	}).Info("calibration complete")
	return Outcome{Ran: true, Calibration: &cal}
}

func (t *Trigger) launchLocked(j job) {
	t.inflight = true
	gen := t.generation
	ctx := t.ctx
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		out := t.solve(ctx, j)

		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.generation {
			return
		}
		t.completed = &out
		if next := t.queued; next != nil {
			t.queued = nil
			t.launchLocked(*next)
			return
		}
		t.inflight = false
		t.cond.Broadcast()
	}()
}

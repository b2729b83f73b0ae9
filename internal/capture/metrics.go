// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/relabs-tech/chessboard_calibrator/internal/capture"

type metrics struct {
	ticks        metric.Int64Counter
	accepted     metric.Int64Counter
	calibrations metric.Int64Counter
	rms          metric.Float64Histogram
}

// newMetrics uses the global provider when m is nil, which is a no-op unless
// the application installed one.
func newMetrics(m metric.Meter) (*metrics, error) {
	if m == nil {
		m = otel.Meter(instrumentationName)
	}
	var (
		out metrics
		err error
	)
	out.ticks, err = m.Int64Counter(
		"capture.ticks",
		metric.WithDescription("Controller ticks by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating ticks counter")
	}
	out.accepted, err = m.Int64Counter(
		"capture.samples.accepted",
		metric.WithDescription("Samples accepted into the session"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating accepted counter")
	}
	out.calibrations, err = m.Int64Counter(
		"capture.calibrations",
		metric.WithDescription("Finished calibration runs by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating calibrations counter")
	}
	out.rms, err = m.Float64Histogram(
		"capture.calibration.rms",
		metric.WithDescription("Reprojection RMS of successful calibrations"),
		metric.WithUnit("px"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating rms histogram")
	}
	return &out, nil
}

func (m *metrics) tick(ctx context.Context, o Outcome) {
	m.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(o))))
}

func (m *metrics) accept(ctx context.Context) {
	m.accepted.Add(ctx, 1)
}

func (m *metrics) calibration(ctx context.Context, rms float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.rms.Record(ctx, rms)
	}
	m.calibrations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

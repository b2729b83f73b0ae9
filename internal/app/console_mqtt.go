// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/config"
)

// RunConsoleMQTT prints guidance, pose and calibration events from the broker
// until SIGINT/SIGTERM or ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log := logrus.WithField("component", "console")
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is not set")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "connect to MQTT broker %s", cfg.MQTTBroker)
	}
	defer client.Disconnect(250)
	log.WithField("broker", cfg.MQTTBroker).Info("connected to MQTT broker")

	subs := map[string]func([]byte) (string, error){
		cfg.TopicGuidance:    decodeLine(formatGuidance),
		cfg.TopicPose:        decodeLine(formatPose),
		cfg.TopicCalibration: decodeLine(formatCalibration),
	}
	for topic, format := range subs {
		if topic == "" {
			continue
		}
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			line, err := format(msg.Payload())
			if err != nil {
				log.WithError(err).WithField("topic", msg.Topic()).Warn("unmarshal error")
				return
			}
			fmt.Fprintln(out, line)
		})
		token.Wait()
		if token.Error() != nil {
			return errors.Wrapf(token.Error(), "subscribe %s", topic)
		}
		log.WithField("topic", topic).Info("subscribed")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	return nil
}

func decodeLine[T any](format func(T) string) func([]byte) (string, error) {
	return func(payload []byte) (string, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return "", err
		}
		return format(v), nil
	}
}

func formatGuidance(e GuidanceEvent) string {
	mark := " "
	if e.Accepted {
		mark = "+"
	}
	return fmt.Sprintf("[GUIDE]%s %-10s %2d/%-2d  PITCH=%7.2f  YAW=%7.2f  ROLL=%7.2f  %s",
		mark, e.Guidance, e.Count, e.MinSamples, e.Pose.Pitch, e.Pose.Yaw, e.Pose.Roll, e.Message)
}

func formatPose(e PoseEvent) string {
	return fmt.Sprintf("[POSE ] #%-3d PITCH=%7.2f  YAW=%7.2f  ROLL=%7.2f  DIST=%.1f",
		e.Count, e.Pose.Pitch, e.Pose.Yaw, e.Pose.Roll, e.Pose.Distance)
}

func formatCalibration(e CalibrationEvent) string {
	k := e.Calibration.Intrinsics
	kind := "CALIB"
	if e.Final {
		kind = "FINAL"
	}
	return fmt.Sprintf("[%s] views=%d rms=%.3f (%s)  fx=%.1f fy=%.1f cx=%.1f cy=%.1f",
		kind, e.Calibration.Views, e.Calibration.RMS, e.Quality, k.Fx, k.Fy, k.Cx, k.Cy)
}

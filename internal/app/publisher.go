// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Publisher ships JSON events to the outside world.
type Publisher interface {
	Publish(topic string, retained bool, v interface{}) error
	Close()
}

// MQTTPublisher publishes events to an MQTT broker.
type MQTTPublisher struct {
	client mqtt.Client
	log    logrus.FieldLogger
}

// NewMQTTPublisher connects to broker. The connection is kept alive and
// re-established by the paho client.
func NewMQTTPublisher(broker, clientID string, log logrus.FieldLogger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connect to MQTT broker %s", broker)
	}
	log.WithField("broker", broker).Info("connected to MQTT broker")
	return &MQTTPublisher{client: client, log: log}, nil
}

func (p *MQTTPublisher) Publish(topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s payload", topic)
	}
	if token := p.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "publish %s", topic)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// NopPublisher drops everything. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, bool, interface{}) error { return nil }
func (NopPublisher) Close()                                  {}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/telemetry"
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	BrokerURL      string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	QoS            byte
}

// MQTT is a transport backed by an MQTT broker.
type MQTT struct {
	client mqtt.Client
	qos    byte
	logger zerolog.Logger
}

// NewMQTT connects to the broker. The client reconnects on its own after
// the initial connection succeeded.
func NewMQTT(ctx context.Context, cfg MQTTConfig, logger zerolog.Logger) (*MQTT, error) {
	logger = logger.With().Str("component", "transport").Str("backend", "mqtt").Logger()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info().Str("broker", cfg.BrokerURL).Msg("mqtt connected")
		})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.BrokerURL, err)
	}

	return &MQTT{client: client, qos: cfg.QoS, logger: logger}, nil
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish sends payload to topic.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := wait(ctx, m.client.Publish(topic, m.qos, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	telemetry.TransportMessagesTotal.WithLabelValues("mqtt", "out").Inc()
	return nil
}

// Subscribe registers handler for topic and waits for the broker's ack.
func (m *MQTT) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		telemetry.TransportMessagesTotal.WithLabelValues("mqtt", "in").Inc()
		handler(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	}
	if err := wait(ctx, m.client.Subscribe(topic, m.qos, cb)); err != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return &mqttSub{m: m, topic: topic}, nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	m.logger.Debug().Msg("mqtt disconnected")
	return nil
}

type mqttSub struct {
	m     *MQTT
	topic string
}

func (s *mqttSub) Unsubscribe() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wait(ctx, s.m.client.Unsubscribe(s.topic)); err != nil {
		return fmt.Errorf("mqtt unsubscribe %s: %w", s.topic, err)
	}
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/events"
)

// Envelope is the wire format of a bridged bus event.
type Envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// EventTopic returns the topic an event type is bridged to.
func EventTopic(namespace string, eventType events.EventType) string {
	return fmt.Sprintf("%s/events/%s", namespace, eventType)
}

// Bridge republishes in-process bus events on a transport.
type Bridge struct {
	bus       *events.Bus
	transport Transport
	namespace string
	nodeID    string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewBridge creates a bridge from bus to t.
func NewBridge(bus *events.Bus, t Transport, namespace, nodeID string, logger zerolog.Logger) *Bridge {
	return &Bridge{
		bus:       bus,
		transport: t,
		namespace: namespace,
		nodeID:    nodeID,
		logger:    logger.With().Str("component", "event_bridge").Logger(),
		now:       time.Now,
	}
}

// Run forwards the given event types until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, types ...events.EventType) {
	var wg sync.WaitGroup
	for _, eventType := range types {
		sub := b.bus.Subscribe(eventType)
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer b.bus.Unsubscribe(eventType, sub)
			b.forward(ctx, eventType, sub)
		}(eventType, sub)
	}
	wg.Wait()
}

func (b *Bridge) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	topic := EventTopic(b.namespace, eventType)
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(Envelope{
				EventType: eventType,
				Payload:   payload,
				Timestamp: b.now().UTC(),
				NodeID:    b.nodeID,
			})
			if err != nil {
				b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
				continue
			}

			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = b.transport.Publish(pubCtx, topic, data)
			cancel()
			if err != nil {
				b.logger.Warn().Err(err).Str("topic", topic).Msg("failed to bridge event")
			}
		}
	}
}

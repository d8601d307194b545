/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transport abstracts the publish/subscribe brokers the door
// actuator is reachable through. Topics use "/" as separator; backends that
// use another separator translate at the edge.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Message is a delivered publication.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes delivered messages. Handlers must not block for long;
// backends call them from their delivery goroutine.
type Handler func(Message)

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Transport publishes and subscribes to topics.
type Transport interface {
	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for topic. The subscription is active
	// when Subscribe returns.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	// Close releases the broker connection.
	Close() error
}

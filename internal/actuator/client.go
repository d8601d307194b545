/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package actuator drives the door hardware through request/reply calls
// over a publish/subscribe transport.
//
// A call subscribes to a reply topic unique to the call, publishes the
// request carrying that topic, and waits for one message on it. Any reply
// counts as success. Calls are never retried here.
package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/telemetry"
	"github.com/friendsincode/doorkeeper/internal/transport"
)

// DefaultTimeout bounds a call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when no reply arrived within the call timeout.
var ErrTimeout = errors.New("actuator did not reply")

// Method is an actuator RPC method.
type Method string

const (
	MethodLock   Method = "lock"
	MethodUnlock Method = "unlock"
	MethodOpen   Method = "open"
)

// MethodFor maps a door state to the method that produces it.
func MethodFor(state models.DoorState) (Method, error) {
	switch state {
	case models.DoorLocked:
		return MethodLock, nil
	case models.DoorUnlocked:
		return MethodUnlock, nil
	case models.DoorOpen:
		return MethodOpen, nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrInvalidDoorState, state)
	}
}

// Request is the payload published on a request topic.
type Request struct {
	ReplyTo string `json:"replyTo"`
}

// RequestTopic returns the topic requests for method are published on.
func RequestTopic(namespace string, method Method) string {
	return fmt.Sprintf("%s/rpc/service/door/%s", namespace, method)
}

// ResponseTopic returns the reply topic for a correlation id.
func ResponseTopic(namespace, correlationID string) string {
	return fmt.Sprintf("%s/rpc/response/%s", namespace, correlationID)
}

// Client performs actuator calls.
type Client struct {
	transport transport.Transport
	namespace string
	timeout   time.Duration
	newID     func() string
	logger    zerolog.Logger
}

// NewClient creates an actuator client. A non-positive timeout uses DefaultTimeout.
func NewClient(t transport.Transport, namespace string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		transport: t,
		namespace: namespace,
		timeout:   timeout,
		newID:     uuid.NewString,
		logger:    logger.With().Str("component", "actuator").Logger(),
	}
}

// Lock locks the door.
func (c *Client) Lock(ctx context.Context) error { return c.Call(ctx, MethodLock) }

// Unlock releases the door for entry.
func (c *Client) Unlock(ctx context.Context) error { return c.Call(ctx, MethodUnlock) }

// Open opens the door once.
func (c *Client) Open(ctx context.Context) error { return c.Call(ctx, MethodOpen) }

// Drive calls the method matching state.
func (c *Client) Drive(ctx context.Context, state models.DoorState) error {
	method, err := MethodFor(state)
	if err != nil {
		return err
	}
	return c.Call(ctx, method)
}

// Call performs one request/reply exchange. The reply subscription is
// removed before Call returns, whatever the outcome.
func (c *Client) Call(ctx context.Context, method Method) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerActuator, "actuator.call")
	defer span.End()

	id := c.newID()
	replyTo := ResponseTopic(c.namespace, id)
	telemetry.AddSpanAttributes(span, map[string]any{
		"actuator.method":         string(method),
		"actuator.correlation_id": id,
	})

	start := time.Now()
	defer func() {
		telemetry.ActuatorCallDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
		telemetry.ActuatorCallsTotal.WithLabelValues(string(method), callResult(err)).Inc()
		telemetry.RecordError(span, err)
	}()

	replies := make(chan struct{}, 1)
	sub, err := c.transport.Subscribe(ctx, replyTo, func(transport.Message) {
		select {
		case replies <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("%s: subscribe reply: %w", method, err)
	}
	defer func() {
		if uerr := sub.Unsubscribe(); uerr != nil {
			c.logger.Warn().Err(uerr).Str("reply_to", replyTo).Msg("failed to remove reply subscription")
		}
	}()

	payload, err := json.Marshal(Request{ReplyTo: replyTo})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	if err := c.transport.Publish(ctx, RequestTopic(c.namespace, method), payload); err != nil {
		return fmt.Errorf("%s: publish request: %w", method, err)
	}

	select {
	case <-replies:
		c.logger.Debug().Str("method", string(method)).Str("correlation_id", id).Dur("rtt", time.Since(start)).Msg("actuator replied")
		return nil
	case <-timer.C:
		return fmt.Errorf("%s after %s: %w", method, c.timeout, ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

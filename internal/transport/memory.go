/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"sync"
)

// Memory is an in-process transport. Handlers run synchronously on the
// publisher's goroutine, in subscription order.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

// NewMemory creates an in-process transport.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memorySub)}
}

type memorySub struct {
	m       *Memory
	topic   string
	handler Handler
	once    sync.Once
}

func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		defer s.m.mu.Unlock()
		subs := s.m.subs[s.topic]
		for i, candidate := range subs {
			if candidate == s {
				subs = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(s.m.subs, s.topic)
		} else {
			s.m.subs[s.topic] = subs
		}
	})
	return nil
}

// Publish delivers payload to the current subscribers of topic.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*memorySub(nil), m.subs[topic]...)
	m.mu.RUnlock()

	for _, sub := range subs {
		buf := append([]byte(nil), payload...)
		sub.handler(Message{Topic: topic, Payload: buf})
	}
	return nil
}

// Subscribe registers handler for topic.
func (m *Memory) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{m: m, topic: topic, handler: handler}
	m.subs[topic] = append(m.subs[topic], sub)
	return sub, nil
}

// Subscriptions returns the number of active subscriptions across all topics.
func (m *Memory) Subscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.subs {
		n += len(subs)
	}
	return n
}

// Close drops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string][]*memorySub)
	return nil
}

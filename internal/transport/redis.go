/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/telemetry"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Redis is a transport backed by Redis pub/sub channels named after topics.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	return NewRedisWithClient(client, logger), nil
}

// NewRedisWithClient wraps an existing client. Close closes the client.
func NewRedisWithClient(client *redis.Client, logger zerolog.Logger) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client: client,
		logger: logger.With().Str("component", "transport").Str("backend", "redis").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends payload to the channel named topic.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	telemetry.TransportMessagesTotal.WithLabelValues("redis", "out").Inc()
	return nil
}

// Subscribe registers handler for topic. It waits for the subscription
// confirmation so that a publish issued afterwards is delivered.
func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	pubsub := r.client.Subscribe(r.ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &redisSub{pubsub: pubsub, done: make(chan struct{})}
	r.wg.Add(1)
	go r.receive(topic, sub, handler)
	return sub, nil
}

func (r *Redis) receive(topic string, sub *redisSub, handler Handler) {
	defer r.wg.Done()

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-sub.done:
			return
		case msg, ok := <-ch:
			if !ok {
				r.logger.Debug().Str("topic", topic).Msg("redis channel closed")
				return
			}
			telemetry.TransportMessagesTotal.WithLabelValues("redis", "in").Inc()
			handler(Message{Topic: msg.Channel, Payload: []byte(msg.Payload)})
		}
	}
}

// Close stops all receivers and closes the Redis client.
func (r *Redis) Close() error {
	r.cancel()
	r.wg.Wait()
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

type redisSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

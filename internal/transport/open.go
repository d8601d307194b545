/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Backend names accepted by Open.
const (
	BackendMQTT   = "mqtt"
	BackendNATS   = "nats"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	MQTT    MQTTConfig
	NATS    NATSConfig
	Redis   RedisConfig
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Transport, error) {
	switch cfg.Backend {
	case BackendMQTT:
		return NewMQTT(ctx, cfg.MQTT, logger)
	case BackendNATS:
		return NewNATS(cfg.NATS, logger)
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis, logger)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown transport backend %q", cfg.Backend)
	}
}

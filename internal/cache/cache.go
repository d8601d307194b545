/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides the in-process bounded TTL cache and a Redis tier
// shared between instances for slow-changing lookups.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/models"
)

// DefaultHolidayTTL keeps a fetched year for a month; published holiday lists rarely change.
const DefaultHolidayTTL = 30 * 24 * time.Hour

// KeyHolidays is the Redis key prefix for holiday lists, followed by country and year.
const KeyHolidays = "doorkeeper:cache:holidays:"

// Config contains Redis tier configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HolidayTTL time.Duration

	// If true, disable the tier on the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default Redis tier configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		HolidayTTL:     DefaultHolidayTTL,
		DisableOnError: true,
	}
}

// Redis stores holiday lists in Redis with graceful fallback: when Redis is
// unreachable every lookup is a miss and every write a no-op.
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// NewRedis connects to Redis. A failed ping yields a disabled tier, not an error.
func NewRedis(cfg Config, logger zerolog.Logger) *Redis {
	if cfg.HolidayTTL <= 0 {
		cfg.HolidayTTL = DefaultHolidayTTL
	}
	logger = logger.With().Str("component", "holiday_cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, holiday lists are cached in-process only")
		_ = client.Close()
		return &Redis{logger: logger, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis holiday cache initialized")
	return &Redis{client: client, logger: logger, config: cfg}
}

// NewRedisWithClient wraps an existing client without pinging it.
func NewRedisWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *Redis {
	if cfg.HolidayTTL <= 0 {
		cfg.HolidayTTL = DefaultHolidayTTL
	}
	return &Redis{
		client: client,
		logger: logger.With().Str("component", "holiday_cache").Logger(),
		config: cfg,
	}
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the tier is operational.
func (c *Redis) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Redis) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling holiday cache due to Redis error")
	}
}

func holidayKey(country string, year int) string {
	return fmt.Sprintf("%s%s:%d", KeyHolidays, country, year)
}

// GetHolidays returns the cached holiday list for country and year.
func (c *Redis) GetHolidays(ctx context.Context, country string, year int) ([]models.Holiday, bool) {
	if !c.IsAvailable() {
		return nil, false
	}

	data, err := c.client.Get(ctx, holidayKey(country, year)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.handleError(err, "get")
		return nil, false
	}

	var holidays []models.Holiday
	if err := json.Unmarshal(data, &holidays); err != nil {
		c.logger.Debug().Err(err).Int("year", year).Msg("failed to unmarshal cached holidays")
		return nil, false
	}
	return holidays, true
}

// SetHolidays stores the holiday list for country and year.
func (c *Redis) SetHolidays(ctx context.Context, country string, year int, holidays []models.Holiday) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(holidays)
	if err != nil {
		return fmt.Errorf("marshal holidays: %w", err)
	}

	if err := c.client.Set(ctx, holidayKey(country, year), data, c.config.HolidayTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// InvalidateHolidays removes the cached list for country and year.
func (c *Redis) InvalidateHolidays(ctx context.Context, country string, year int) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, holidayKey(country, year)).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

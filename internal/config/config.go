/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/doorkeeper/internal/models"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Transport backends for the actuator RPC.
const (
	TransportMQTT   = "mqtt"
	TransportNATS   = "nats"
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Scheduling
	Timezone            string
	Location            *time.Location
	ReconfigureInterval time.Duration
	DelayBeforeMinutes  int
	DelayAfterMinutes   int
	OpenHold            time.Duration

	// Holidays
	HolidayCountry      string
	HolidayAPIURL       string
	HolidayCacheSize    int
	HolidayCacheMaxAge  time.Duration
	HolidayFetchTimeout time.Duration
	HolidayRedisEnabled bool

	// Actuator transport
	Transport    string
	Namespace    string
	RPCTimeout   time.Duration
	MQTTURL      string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	NATSURL      string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	e := &env{}
	cfg := &Config{
		Environment: e.get("DOORKEEPER_ENV", "development"),
		HTTPBind:    e.get("DOORKEEPER_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    e.getInt("DOORKEEPER_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(e.get("DOORKEEPER_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       e.get("DOORKEEPER_DB_DSN", "doorkeeper.db"),

		Timezone:            e.get("DOORKEEPER_TIMEZONE", "Local"),
		ReconfigureInterval: e.getSeconds("DOORKEEPER_RECONFIGURE_INTERVAL_SECONDS", 300),
		DelayBeforeMinutes:  e.getInt("DOORKEEPER_DELAY_BEFORE_MINUTES", 0),
		DelayAfterMinutes:   e.getInt("DOORKEEPER_DELAY_AFTER_MINUTES", 0),
		OpenHold:            e.getSeconds("DOORKEEPER_OPEN_HOLD_SECONDS", 5),

		HolidayCountry:      strings.ToUpper(e.get("DOORKEEPER_HOLIDAY_COUNTRY", "AT")),
		HolidayAPIURL:       e.get("DOORKEEPER_HOLIDAY_API_URL", "https://date.nager.at"),
		HolidayCacheSize:    e.getInt("DOORKEEPER_HOLIDAY_CACHE_SIZE", 2),
		HolidayCacheMaxAge:  time.Duration(e.getInt("DOORKEEPER_HOLIDAY_CACHE_MAX_AGE_HOURS", 168)) * time.Hour,
		HolidayFetchTimeout: e.getSeconds("DOORKEEPER_HOLIDAY_FETCH_TIMEOUT_SECONDS", 10),
		HolidayRedisEnabled: e.getBool("DOORKEEPER_HOLIDAY_REDIS_ENABLED", false),

		Transport:    strings.ToLower(e.get("DOORKEEPER_TRANSPORT", TransportMQTT)),
		Namespace:    strings.Trim(e.get("DOORKEEPER_NAMESPACE", "doorkeeper"), "/"),
		RPCTimeout:   e.getSeconds("DOORKEEPER_RPC_TIMEOUT_SECONDS", 10),
		MQTTURL:      e.get("DOORKEEPER_MQTT_URL", "tcp://localhost:1883"),
		MQTTClientID: e.get("DOORKEEPER_MQTT_CLIENT_ID", ""),
		MQTTUsername: e.get("DOORKEEPER_MQTT_USERNAME", ""),
		MQTTPassword: e.get("DOORKEEPER_MQTT_PASSWORD", ""),
		NATSURL:      e.get("DOORKEEPER_NATS_URL", "nats://localhost:4222"),

		TracingEnabled:    e.getBool("DOORKEEPER_TRACING_ENABLED", false),
		OTLPEndpoint:      e.get("DOORKEEPER_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: e.getFloat("DOORKEEPER_TRACING_SAMPLE_RATE", 1.0),

		LeaderElectionEnabled: e.getBool("DOORKEEPER_LEADER_ELECTION_ENABLED", false),
		RedisAddr:             e.get("DOORKEEPER_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         e.get("DOORKEEPER_REDIS_PASSWORD", ""),
		RedisDB:               e.getInt("DOORKEEPER_REDIS_DB", 0),
		InstanceID:            e.get("DOORKEEPER_INSTANCE_ID", ""),
	}
	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DOORKEEPER_DB_DSN must be provided")
	}

	switch c.Transport {
	case TransportMQTT, TransportNATS, TransportRedis, TransportMemory:
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	if c.Namespace == "" {
		return fmt.Errorf("DOORKEEPER_NAMESPACE must not be empty")
	}

	if c.ReconfigureInterval <= 0 {
		return fmt.Errorf("DOORKEEPER_RECONFIGURE_INTERVAL_SECONDS must be positive")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("DOORKEEPER_RPC_TIMEOUT_SECONDS must be positive")
	}
	if c.HolidayFetchTimeout <= 0 {
		return fmt.Errorf("DOORKEEPER_HOLIDAY_FETCH_TIMEOUT_SECONDS must be positive")
	}
	if c.OpenHold < 0 {
		return fmt.Errorf("DOORKEEPER_OPEN_HOLD_SECONDS must not be negative")
	}
	if err := c.Delay().Validate(); err != nil {
		return err
	}
	if c.HolidayCacheSize < 0 {
		return fmt.Errorf("DOORKEEPER_HOLIDAY_CACHE_SIZE must not be negative")
	}
	if c.HolidayCacheMaxAge < 0 {
		return fmt.Errorf("DOORKEEPER_HOLIDAY_CACHE_MAX_AGE_HOURS must not be negative")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("DOORKEEPER_TRACING_SAMPLE_RATE must be within [0, 1]")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid DOORKEEPER_HTTP_PORT %d", c.HTTPPort)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid DOORKEEPER_TIMEZONE: %w", err)
	}
	c.Location = loc
	return nil
}

// Delay returns the configured unlock window extension.
func (c *Config) Delay() models.Delay {
	return models.Delay{Before: c.DelayBeforeMinutes, After: c.DelayAfterMinutes}
}

// HTTPAddr returns the listen address of the HTTP server.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPBind, strconv.Itoa(c.HTTPPort))
}

// env reads typed environment variables and collects parse errors so a
// malformed value fails Load instead of silently falling back.
type env struct {
	errs []error
}

func (e *env) get(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func (e *env) getInt(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, val))
		return def
	}
	return parsed
}

func (e *env) getSeconds(key string, def int) time.Duration {
	return time.Duration(e.getInt(key, def)) * time.Second
}

func (e *env) getBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "":
		return def
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, val))
		return def
	}
}

func (e *env) getFloat(key string, def float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a number", key, val))
		return def
	}
	return parsed
}

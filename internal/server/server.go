/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/doorkeeper/internal/actuator"
	"github.com/friendsincode/doorkeeper/internal/api"
	"github.com/friendsincode/doorkeeper/internal/cache"
	"github.com/friendsincode/doorkeeper/internal/clock"
	"github.com/friendsincode/doorkeeper/internal/config"
	"github.com/friendsincode/doorkeeper/internal/db"
	"github.com/friendsincode/doorkeeper/internal/door"
	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/holiday"
	"github.com/friendsincode/doorkeeper/internal/leadership"
	"github.com/friendsincode/doorkeeper/internal/logbuffer"
	"github.com/friendsincode/doorkeeper/internal/openinghours"
	"github.com/friendsincode/doorkeeper/internal/telemetry"
	"github.com/friendsincode/doorkeeper/internal/transport"
)

// bridgedEvents are re-published on the transport for other services.
var bridgedEvents = []events.EventType{
	events.EventDoorState,
	events.EventActuatorFailed,
	events.EventOverwriteChanged,
	events.EventOpeningHoursChanged,
	events.EventLeadership,
}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	bus         *events.Bus
	logBuffer   *logbuffer.Buffer
	store       *openinghours.Store
	holidays    *holiday.Service
	transport   transport.Transport
	simulator   *actuator.Simulator
	engine      *door.Engine
	leaderAware *door.LeaderAware
	bridge      *transport.Bridge
	nodeID      string

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("doorkeeper-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// the state stream is long lived
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// websocket streams manage their own deadlines
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg.DBBackend, s.cfg.DBDSN, s.logger)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.store = openinghours.NewStore(database, s.bus, s.logger)

	// Optional Redis tier shared between instances
	var shared holiday.SharedStore
	if s.cfg.HolidayRedisEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		redisTier := cache.NewRedis(cacheCfg, s.logger)
		s.DeferClose(redisTier.Close)
		shared = redisTier
	}

	fetcher := holiday.NewNagerClient(s.cfg.HolidayAPIURL, s.cfg.HolidayCountry, s.cfg.HolidayFetchTimeout)
	s.holidays, err = holiday.NewService(holiday.Config{
		Country:      s.cfg.HolidayCountry,
		CacheSize:    s.cfg.HolidayCacheSize,
		CacheMaxAge:  s.cfg.HolidayCacheMaxAge,
		FetchTimeout: s.cfg.HolidayFetchTimeout,
	}, fetcher, shared, s.logger)
	if err != nil {
		return fmt.Errorf("create holiday service: %w", err)
	}
	s.DeferClose(func() error { s.holidays.Close(); return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	t, err := transport.Open(ctx, s.transportConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("open %s transport: %w", s.cfg.Transport, err)
	}
	s.transport = t
	s.DeferClose(t.Close)

	// Without a broker nothing answers RPCs, so a simulated device does.
	if s.cfg.Transport == config.TransportMemory {
		s.simulator = actuator.NewSimulator(t, s.cfg.Namespace, s.logger)
		if err := s.simulator.Start(ctx); err != nil {
			return fmt.Errorf("start simulated actuator: %w", err)
		}
		s.DeferClose(s.simulator.Stop)
		s.logger.Warn().Msg("memory transport selected, door commands go to a simulated actuator")
	}

	client := actuator.NewClient(t, s.cfg.Namespace, s.cfg.RPCTimeout, s.logger)
	s.engine = door.NewEngine(door.EngineOptions{
		Scheduler: door.Options{
			Store:    s.store,
			Holidays: s.holidays,
			Ticker:   clock.NewTicker(s.cfg.ReconfigureInterval),
			Delay:    s.cfg.Delay(),
			Location: s.cfg.Location,
		},
		Actuator: client,
		Bus:      s.bus,
		OpenHold: s.cfg.OpenHold,
	}, s.logger)

	s.nodeID = s.cfg.InstanceID
	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.nodeID = election.InstanceID()
		s.leaderAware = door.NewLeaderAware(s.engine.Run, election, s.bus, s.logger)

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", s.nodeID).
			Msg("leader election enabled for door scheduler")
	}

	s.bridge = transport.NewBridge(s.bus, t, s.cfg.Namespace, s.nodeID, s.logger)
	return nil
}

func (s *Server) transportConfig() transport.Config {
	nats := transport.DefaultNATSConfig()
	nats.URL = s.cfg.NATSURL

	return transport.Config{
		Backend: s.cfg.Transport,
		MQTT: transport.MQTTConfig{
			BrokerURL: s.cfg.MQTTURL,
			ClientID:  s.cfg.MQTTClientID,
			Username:  s.cfg.MQTTUsername,
			Password:  s.cfg.MQTTPassword,
			QoS:       1,
		},
		NATS: nats,
		Redis: transport.RedisConfig{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		},
	}
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	doorAPI := api.New(s.engine, s.store, s.holidays, s.bus, s.logger)
	if s.logBuffer != nil {
		doorAPI.SetLogBuffer(s.logBuffer)
	}
	doorAPI.Routes(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "ok",
		"scheduler": s.engine.Running(),
	}

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the buffer attached to the logger, if any.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Door scheduler (leader-aware if configured, otherwise direct)
	if s.leaderAware != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAware.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware door scheduler exited")
			}
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("door scheduler exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.bridge.Run(ctx, bridgedEvents...)
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/talkclock/internal/api"
	"github.com/friendsincode/talkclock/internal/codec"
	"github.com/friendsincode/talkclock/internal/config"
	"github.com/friendsincode/talkclock/internal/db"
	"github.com/friendsincode/talkclock/internal/eventbus"
	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/logbuffer"
	"github.com/friendsincode/talkclock/internal/player"
	"github.com/friendsincode/talkclock/internal/settings"
	"github.com/friendsincode/talkclock/internal/telemetry"
	"github.com/friendsincode/talkclock/internal/version"
)

// Deps are the hardware-facing pieces the caller opens: the real UART and
// board hooks, or the simulator.
type Deps struct {
	Link codec.Link
	Host player.Host
}

// Server bundles the player controller, its control surface and the
// supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	metrics    *http.Server
	closers    []func() error

	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	db        *gorm.DB
	settings  *settings.Store
	player    *player.Controller
	api       *api.API
	nats      *eventbus.NATSBridge
	redis     *eventbus.RedisBridge
	tracer    *telemetry.TracerProvider

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, deps Deps, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("talkclock-api"))
	router.Use(telemetry.MetricsMiddleware)
	// websocket upgrades are long-lived; everything else gets a deadline
	router.Use(func(next http.Handler) http.Handler {
		timed := middleware.Timeout(30 * time.Second)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	})

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}
	if err := s.initDependencies(ctx, deps); err != nil {
		_ = s.Close()
		return nil, err
	}
	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		s.metrics = &http.Server{Addr: cfg.MetricsBind, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) initDependencies(ctx context.Context, deps Deps) error {
	tp, err := telemetry.InitTracer(ctx, s.cfg.Tracer(version.Version), s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracer = tp
	s.DeferClose(func() error { return tp.Shutdown(context.Background()) })

	database, err := db.Connect(s.cfg.Database())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	s.settings = settings.NewStore(database, s.bus, s.logger)

	pcfg, err := s.cfg.Player()
	if err != nil {
		return err
	}
	opts, err := s.settings.Restore(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stored settings unavailable, using configuration")
	}
	opts = append(opts,
		player.WithEventBus(s.bus),
		player.WithListener(player.EventListener{Bus: s.bus}),
	)
	s.player = player.New(pcfg, deps.Link, deps.Host, s.logger, opts...)

	s.api = api.New(s.player, s.bus, s.logBuffer, []byte(s.cfg.JWTSigningKey), s.logger)
	s.api.SetSettingsStore(s.settings)

	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NewNodeID()
	}
	if s.cfg.NATSEnabled {
		nb, err := eventbus.NewNATSBridge(s.cfg.NATS(), nodeID, s.logger)
		if err != nil {
			return err
		}
		s.nats = nb
		s.DeferClose(nb.Close)
	}
	if s.cfg.RedisEnabled {
		rb := eventbus.NewRedisBridge(s.cfg.Redis(), nodeID, s.logger)
		s.redis = rb
		s.DeferClose(rb.Close)
	}
	return nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		decoder := "off"
		if s.player.Snapshot().Powered {
			decoder = "on"
		}
		_, _ = fmt.Fprintf(w, `{"status":"ok","decoder":%q,"state":%q}`, decoder, s.player.State())
	})
	if s.metrics == nil {
		s.router.Handle("/metrics", telemetry.Handler())
	}
	s.api.Routes(s.router)
}

// Start launches the controller loop, the bridges and the listeners. It
// returns once everything is running.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.goRun("player", func() {
		if err := s.player.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("player controller exited")
		}
	})
	s.goRun("settings", func() { s.settings.TrackVolume(ctx, s.bus) })
	s.goRun("db-metrics", func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			db.UpdateConnectionMetrics(s.db)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})

	if s.nats != nil {
		s.goRun("nats-forward", func() { s.nats.Forward(ctx, s.bus) })
		if err := s.nats.ServeControl(ctx, s.player); err != nil {
			return err
		}
	}
	if s.redis != nil {
		s.goRun("redis-forward", func() { s.redis.Forward(ctx, s.bus) })
	}

	s.goRun("http", func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("control surface listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server failed")
		}
	})
	if s.metrics != nil {
		s.goRun("metrics", func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics server failed")
			}
		})
	}
	return nil
}

func (s *Server) goRun(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
		s.logger.Debug().Str("worker", name).Msg("worker stopped")
	}()
}

// Player returns the controller.
func (s *Server) Player() *player.Controller {
	return s.player
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown stops accepting requests, silences the decoder and stops the
// workers.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if s.metrics != nil {
		_ = s.metrics.Shutdown(ctx)
	}
	if s.player != nil && s.cancel != nil {
		if err := s.player.Stop(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("stop on shutdown failed")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
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

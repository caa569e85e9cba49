// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package monitor serves the run factory's HTTP endpoint: supervisor
// health, Prometheus metrics and run creation for the CLI.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/metrics"
	"github.com/tombee/runfactory/internal/run"
	"github.com/tombee/runfactory/internal/supervisor"
)

// HealthFunc reports the supervisor snapshot.
type HealthFunc func() supervisor.Health

// Runs is the part of the coordinator the endpoint exposes.
type Runs interface {
	CreateRun(ctx context.Context, req factory.CreateRequest) (run.Handle, error)
	OperatingCount(ctx context.Context) (int, error)
	RunCount() int
}

// Config configures a Server.
type Config struct {
	// Address to listen on, e.g. "127.0.0.1:9090".
	Address string
	// ReadTimeout bounds reading a request. Default: 15s
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a response. It must cover a run
	// creation, which may restart the factory. Default: 3m
	WriteTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown. Default: 5s
	ShutdownTimeout time.Duration
	// Metrics serves /metrics. Default: metrics.Handler()
	Metrics http.Handler
	// Logger is the structured logger. Default: slog.Default()
	Logger *slog.Logger
}

// Server is the monitoring HTTP server.
type Server struct {
	cfg    Config
	health HealthFunc
	runs   Runs
	router chi.Router
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// New builds a Server. runs may be nil, in which case the run routes
// answer 503.
func New(cfg Config, health HealthFunc, runs Runs) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Handler()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		health: health,
		runs:   runs,
		logger: log.WithComponent(cfg.Logger, "monitor"),
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleRunStats)
		r.Post("/", s.handleCreateRun)
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return s.listener.Addr().String(), nil
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return "", fmt.Errorf("monitor: listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("starting monitor endpoint", slog.String("addr", ln.Addr().String()))

	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor endpoint error", log.Error(err))
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("monitor shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

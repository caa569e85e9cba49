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

package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
)

var (
	// ErrServerClosed is returned when operations are attempted on a closed server.
	ErrServerClosed = errors.New("rpc: server closed")

	// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout.
	ErrShutdownTimeout = errors.New("rpc: shutdown timeout exceeded")
)

// ServerConfig configures the RPC server.
type ServerConfig struct {
	// Address is the TCP address to listen on.
	// Default: 127.0.0.1:0 (any free loopback port)
	Address string

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 5 seconds
	ShutdownTimeout time.Duration

	// Logger is the structured logger for server events.
	// If nil, a default logger is used.
	Logger *slog.Logger
}

// DefaultConfig returns a ServerConfig with sensible defaults.
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Address:         "127.0.0.1:0",
		ShutdownTimeout: 5 * time.Second,
		Logger:          slog.Default(),
	}
}

// Server hosts one or more gRPC services on a single listener.
type Server struct {
	config *ServerConfig
	logger *slog.Logger
	grpc   *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	shutdownOnce sync.Once
	doneCh       chan struct{}
}

// NewServer creates a new RPC server with the given configuration.
func NewServer(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.Address == "" {
		config.Address = "127.0.0.1:0"
	}

	return &Server{
		config: config,
		logger: config.Logger,
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor(config.Logger)),
		),
		doneCh: make(chan struct{}),
	}
}

// Register attaches a service implementation. It must be called before Start.
func (s *Server) Register(desc *grpc.ServiceDesc, impl any) {
	s.grpc.RegisterService(desc, impl)
}

// Start listens on the configured address and serves in the background.
// It returns the address actually bound, which differs from the configured
// one when port 0 was requested.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrServerClosed
	}
	if s.listener != nil {
		return s.listener.Addr().String(), nil
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return "", fmt.Errorf("rpc: listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener
	addr := listener.Addr().String()

	go func() {
		defer close(s.doneCh)
		if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("rpc server error", "error", err)
		}
	}()

	s.logger.Info("rpc server started", "address", addr)
	return addr, nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight calls up to the
// configured timeout (or ctx, whichever is sooner) before forcing it.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.listener != nil
		s.mu.Unlock()

		if !started {
			s.grpc.Stop()
			return
		}

		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()

		timer := time.NewTimer(s.config.ShutdownTimeout)
		defer timer.Stop()

		select {
		case <-stopped:
		case <-timer.C:
			s.grpc.Stop()
			err = ErrShutdownTimeout
		case <-ctx.Done():
			s.grpc.Stop()
			err = ctx.Err()
		}
		<-s.doneCh
		s.logger.Info("rpc server stopped")
	})
	return err
}

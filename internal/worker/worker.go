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

// Package worker implements the subprocess side of the run factory: it
// serves the factory and run services, publishes itself in the registry,
// and withdraws and exits when asked to shut down.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/rpc"
	"github.com/tombee/runfactory/internal/run"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// DefaultExitDelay is how long Shutdown waits before stopping the worker so
// the shutdown reply can reach the caller.
const DefaultExitDelay = 250 * time.Millisecond

// Config configures a Worker.
type Config struct {
	// Command is the engine executable handed to the builder.
	Command string
	// Name is the registry name to bind.
	Name string
	// ExtraArgs are passed to the builder as engine arguments.
	ExtraArgs []string
	// Builder selects the run builder. Default: "engine"
	Builder string
	// WorkDir is the parent directory for run directories.
	WorkDir string
	// Address is where the services listen. Default: 127.0.0.1:0
	Address string
	// Registry is where the worker publishes itself.
	Registry registry.Client
	// ExitDelay overrides DefaultExitDelay.
	ExitDelay time.Duration
	// Out receives the confirmation line. Default: os.Stdout
	Out io.Writer
	// Logger is the structured logger. Default: slog.Default()
	Logger *slog.Logger
}

// Worker is one run factory process.
type Worker struct {
	cfg     Config
	builder run.Builder
	runs    *run.Table
	logger  *slog.Logger

	mu           sync.Mutex
	shuttingDown bool
	cancel       context.CancelFunc
	exitOnce     sync.Once
}

var _ factory.Backend = (*Worker)(nil)

// New validates cfg and creates a worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Command == "" {
		return nil, &rferrors.ValidationError{Field: "command", Message: "execution command is required"}
	}
	if cfg.Name == "" {
		return nil, &rferrors.ValidationError{Field: "name", Message: "registration name is required"}
	}
	if cfg.Registry == nil {
		return nil, &rferrors.ValidationError{Field: "registry", Message: "registry client is required"}
	}
	if cfg.Builder == "" {
		cfg.Builder = "engine"
	}
	if cfg.ExitDelay <= 0 {
		cfg.ExitDelay = DefaultExitDelay
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	builder, err := run.LookupBuilder(cfg.Builder)
	if err != nil {
		return nil, &rferrors.ValidationError{Field: "builder", Message: err.Error()}
	}

	return &Worker{
		cfg:     cfg,
		builder: builder,
		runs:    run.NewTable(),
		logger:  log.WithProcess(log.WithComponent(cfg.Logger, "worker"), cfg.Name),
	}, nil
}

// Run serves until ctx is cancelled or a Shutdown's exit delay elapses.
// The registry name is withdrawn and live runs are finished before it
// returns.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	srv := rpc.NewServer(&rpc.ServerConfig{Address: w.cfg.Address, Logger: w.logger})
	srv.Register(&factory.ServiceDesc, factory.NewService(w))
	srv.Register(&run.ServiceDesc, run.NewService(w.runs))

	addr, err := srv.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start factory service: %w", err)
	}

	handle := registry.Handle{Address: addr, PID: os.Getpid()}
	if err := w.cfg.Registry.Bind(ctx, w.cfg.Name, handle); err != nil {
		_ = srv.Shutdown(context.Background())
		return fmt.Errorf("failed to bind %s: %w", w.cfg.Name, err)
	}
	fmt.Fprintf(w.cfg.Out, "registered run factory with ID %s\n", w.cfg.Name)
	w.logger.Info("factory ready", "address", addr, "builder", w.cfg.Builder)

	<-ctx.Done()

	w.withdraw(context.Background())
	w.finishRuns()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn("factory service shutdown", log.Error(err))
	}
	w.logger.Info("factory exited")
	return nil
}

// Create builds a run from the workflow inside req.Workflow.
func (w *Worker) Create(ctx context.Context, req factory.CreateRequest) (string, error) {
	w.mu.Lock()
	down := w.shuttingDown
	w.mu.Unlock()
	if down {
		return "", &rferrors.Error{Kind: rferrors.KindUnbound, Op: "worker.create", Name: w.cfg.Name}
	}

	workflow, err := ExtractWorkflow(req.Workflow)
	if err != nil {
		return "", err
	}

	h, err := w.builder(ctx, run.BuildRequest{
		Command:  w.cfg.Command,
		Args:     w.cfg.ExtraArgs,
		Workflow: workflow,
		RunID:    req.RunID,
		Creator:  req.Creator,
		Notify:   req.Notify,
		WorkDir:  w.cfg.WorkDir,
		Logger:   w.cfg.Logger,
	})
	if err != nil {
		return "", &rferrors.Error{Kind: rferrors.KindInvocationFailed, Op: "worker.create", Name: w.cfg.Name, Cause: err}
	}

	w.runs.Add(h)
	w.logger.Info("run created", log.RunIDKey, h.ID(), "creator", req.Creator)
	return h.ID(), nil
}

// OperatingCount returns the number of runs currently operating.
func (w *Worker) OperatingCount(ctx context.Context) int {
	return w.runs.Operating(ctx)
}

// Shutdown withdraws the registry name and schedules the worker to stop
// after the exit delay. Repeated calls have no further effect.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.withdraw(ctx)
	w.exitOnce.Do(func() {
		w.mu.Lock()
		cancel := w.cancel
		w.mu.Unlock()
		if cancel != nil {
			time.AfterFunc(w.cfg.ExitDelay, cancel)
		}
	})
	return nil
}

// withdraw unbinds the worker's name at most once.
func (w *Worker) withdraw(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shuttingDown {
		return
	}
	w.shuttingDown = true

	if err := w.cfg.Registry.Unbind(ctx, w.cfg.Name); err != nil {
		w.logger.Warn("failed to unbind factory", log.Error(err))
		return
	}
	w.logger.Info("factory unbound")
}

// finishRuns moves every live run to finished so no engine outlives the worker.
func (w *Worker) finishRuns() {
	ctx := context.Background()
	for _, h := range w.runs.All() {
		st, err := h.Status(ctx)
		if err != nil || (st != run.StatusOperating && st != run.StatusStopped) {
			continue
		}
		if _, err := h.SetStatus(ctx, run.StatusFinished); err != nil {
			w.logger.Warn("failed to finish run", log.RunIDKey, h.ID(), log.Error(err))
		}
	}
}

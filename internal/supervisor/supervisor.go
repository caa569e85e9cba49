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

// Package supervisor owns the lifecycle of one worker factory subprocess.
//
// A supervisor moves through idle -> starting -> ready -> stopping -> idle.
// Start launches the worker and polls the registry until the worker has
// bound its name or the startup deadline passes. Stop asks the factory to
// shut down, waits briefly, then terminates the process and records how it
// exited.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/lifecycle"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/metrics"
	"github.com/tombee/runfactory/internal/registry"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// State is the supervisor state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateStopping State = "stopping"
)

// Config configures a Supervisor.
type Config struct {
	// WorkerBinary is the worker executable.
	WorkerBinary string
	// ExecuteCommand is the engine command handed to the worker.
	ExecuteCommand string
	// ExtraArgs follow the process name on the worker command line.
	ExtraArgs []string
	// WorkDir is the worker's working directory.
	WorkDir string
	// Env is added to the worker's environment.
	Env []string
	// ProcessNamePrefix prefixes every generated process name.
	// Default: "runfactory-"
	ProcessNamePrefix string
	// WaitTime bounds startup polling. Default: 40s
	WaitTime time.Duration
	// Sleep is the interval between registry lookups. Default: 1s
	Sleep time.Duration
	// GracefulWait is how long to wait for exit after a shutdown request.
	// Default: 700ms
	GracefulWait time.Duration
	// ForcedWait is how long to wait for exit after terminating.
	// Default: 350ms
	ForcedWait time.Duration
	// OutputLines is how many recent output lines to keep. Default: 200
	OutputLines int

	// Launcher starts the worker. Default: lifecycle.NewSpawner()
	Launcher lifecycle.Launcher
	// Registry is polled for the worker's binding.
	Registry registry.Client
	// Dialer connects to the bound factory.
	Dialer factory.Dialer
	// Events optionally journals lifecycle events.
	Events *lifecycle.EventLog
	// Logger is the structured logger. Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ProcessNamePrefix == "" {
		c.ProcessNamePrefix = "runfactory-"
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 40 * time.Second
	}
	if c.Sleep <= 0 {
		c.Sleep = time.Second
	}
	if c.GracefulWait <= 0 {
		c.GracefulWait = 700 * time.Millisecond
	}
	if c.ForcedWait <= 0 {
		c.ForcedWait = 350 * time.Millisecond
	}
	if c.Launcher == nil {
		c.Launcher = lifecycle.NewSpawner()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Handle is the supervisor's record of a live factory process.
type Handle struct {
	Name      string
	Process   lifecycle.Process
	StartedAt time.Time
	Deadline  time.Time
}

// Supervisor manages at most one factory process at a time.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	output *lifecycle.RingBuffer

	// opMu serialises Start and Stop; mu guards the fields below it.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	handle     *Handle
	factory    factory.Factory
	drains     *errgroup.Group
	lastChecks int
	lastExit   lifecycle.ExitStatus
	lastName   string
}

// New creates an idle supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.WorkerBinary == "" {
		return nil, &rferrors.ValidationError{Field: "worker_binary", Message: "worker binary is required"}
	}
	if cfg.Registry == nil {
		return nil, &rferrors.ValidationError{Field: "registry", Message: "registry client is required"}
	}
	if cfg.Dialer == nil {
		return nil, &rferrors.ValidationError{Field: "dialer", Message: "factory dialer is required"}
	}
	cfg.applyDefaults()

	return &Supervisor{
		cfg:      cfg,
		logger:   log.WithComponent(cfg.Logger, "supervisor"),
		output:   lifecycle.NewRingBuffer(cfg.OutputLines),
		state:    StateIdle,
		lastExit: lifecycle.DecodeExit(-1, false),
	}, nil
}

// Start returns the live factory, launching one first if none is ready.
// Polling is not interrupted by ctx cancellation; it ends when the factory
// binds, the worker exits, or the deadline passes.
func (s *Supervisor) Start(ctx context.Context) (factory.Factory, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateReady && s.factory != nil {
		f := s.factory
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	name := s.cfg.ProcessNamePrefix + uuid.NewString()
	logger := log.WithProcess(s.logger, name)

	args := append([]string{s.cfg.ExecuteCommand, name}, s.cfg.ExtraArgs...)
	proc, err := s.cfg.Launcher.Launch(ctx, lifecycle.Command{
		Path: s.cfg.WorkerBinary,
		Args: args,
		Dir:  s.cfg.WorkDir,
		Env:  s.cfg.Env,
	})
	if err != nil {
		metrics.RecordFactoryStart(metrics.StartLaunchError, 0, 0)
		logEventErr(logger, s.cfg.Events.LogStartFailure(name, 0, err))
		return nil, fmt.Errorf("supervisor: launch %s: %w", s.cfg.WorkerBinary, err)
	}

	now := time.Now()
	h := &Handle{Name: name, Process: proc, StartedAt: now, Deadline: now.Add(s.cfg.WaitTime)}

	s.output.Reset()
	drains := &errgroup.Group{}
	sink := s.outputSink(logger)
	drains.Go(func() error {
		lifecycle.Drain(proc.Stdout(), name, lifecycle.StreamOut, logger, sink)
		return nil
	})
	drains.Go(func() error {
		lifecycle.Drain(proc.Stderr(), name, lifecycle.StreamErr, logger, sink)
		return nil
	})

	s.mu.Lock()
	s.state = StateStarting
	s.handle = h
	s.drains = drains
	s.lastChecks = 0
	s.lastName = name
	s.mu.Unlock()

	logger.Info("factory process launched", "pid", proc.Pid())
	logEventErr(logger, s.cfg.Events.LogStart(name, proc.Pid()))

	f, err := s.poll(context.WithoutCancel(ctx), h, logger)
	checks := s.LastStartupCheckCount()
	if err != nil {
		metrics.RecordFactoryStart(metrics.StartTimeout, checks, time.Since(now))
		logEventErr(logger, s.cfg.Events.LogStartFailure(name, checks, err))
		logger.Warn("factory failed to start", "checks", checks, log.Error(err),
			"recent_output", s.recentLines(10))
		s.teardown(ctx, nil, h, drains)
		return nil, err
	}

	s.mu.Lock()
	s.state = StateReady
	s.factory = f
	s.mu.Unlock()

	metrics.RecordFactoryStart(metrics.StartReady, checks, time.Since(now))
	logEventErr(logger, s.cfg.Events.LogStartSuccess(name, proc.Pid(), checks, time.Since(now)))
	logger.Info("factory ready", "checks", checks, "duration", time.Since(now))
	return f, nil
}

// poll waits for h.Name to appear in the registry.
func (s *Supervisor) poll(ctx context.Context, h *Handle, logger *slog.Logger) (factory.Factory, error) {
	var last error = &rferrors.Error{Kind: rferrors.KindNotBound, Op: "registry.lookup", Name: h.Name}
	checks := 0

	for {
		timer := time.NewTimer(s.cfg.Sleep)
		select {
		case <-timer.C:
		case <-h.Process.Done():
			timer.Stop()
			status := lifecycle.DecodeExit(h.Process.ExitCode())
			return nil, s.startupError(h, checks, fmt.Errorf("worker %s during startup: %w", status, last))
		}

		checks++
		s.mu.Lock()
		s.lastChecks = checks
		s.mu.Unlock()

		if _, err := s.cfg.Registry.List(ctx); err != nil {
			logger.Warn("registry probe failed", "check", checks, log.Error(err))
		}

		binding, err := s.cfg.Registry.Lookup(ctx, h.Name)
		if err == nil {
			f, derr := s.cfg.Dialer(ctx, binding)
			if derr == nil {
				return f, nil
			}
			err = derr
		}
		last = err
		logger.Debug("factory not ready", "check", checks, log.Error(err))

		if !time.Now().Before(h.Deadline) {
			return nil, s.startupError(h, checks, last)
		}
	}
}

func (s *Supervisor) startupError(h *Handle, checks int, cause error) error {
	return &rferrors.Error{
		Kind:     rferrors.KindProcessStartupTimeout,
		Op:       "supervisor.start",
		Name:     h.Name,
		Attempts: checks,
		Cause:    cause,
	}
}

// Stop tears the factory down. It is a no-op when nothing is running.
// Failures along the way are logged; afterwards the supervisor is idle.
func (s *Supervisor) Stop(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	h, f, drains := s.handle, s.factory, s.drains
	if h == nil {
		if f != nil {
			_ = f.Close()
		}
		s.factory = nil
		s.state = StateIdle
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.teardown(ctx, f, h, drains)
}

// teardown runs the graceful then forced phases and clears the handles.
func (s *Supervisor) teardown(ctx context.Context, f factory.Factory, h *Handle, drains *errgroup.Group) {
	logger := log.WithProcess(s.logger, h.Name)
	ctx = context.WithoutCancel(ctx)

	defer func() {
		s.mu.Lock()
		s.handle = nil
		s.factory = nil
		s.drains = nil
		s.state = StateIdle
		s.mu.Unlock()
	}()

	exited := false
	if f != nil {
		if err := f.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown request failed", log.Error(err))
		}
		if err := f.Close(); err != nil {
			logger.Debug("closing factory connection", log.Error(err))
		}
		exited = lifecycle.WaitForExit(h.Process, s.cfg.GracefulWait)
	}

	forced := false
	if !exited {
		forced = true
		if err := h.Process.Terminate(); err != nil {
			logger.Warn("terminate failed", log.Error(err))
		}
		exited = lifecycle.WaitForExit(h.Process, s.cfg.ForcedWait)
	}

	status := lifecycle.DecodeExit(h.Process.ExitCode())
	s.mu.Lock()
	s.lastExit = status
	s.mu.Unlock()

	mode := metrics.StopGraceful
	switch {
	case status.Kind == lifecycle.ExitUnknown:
		mode = metrics.StopUnresolved
		logger.Warn("factory process is not yet dead", "pid", h.Process.Pid())
	case forced:
		mode = metrics.StopForced
		logger.Info("factory process terminated", "status", status.String())
	default:
		logger.Info("factory process exited", "status", status.String())
	}
	metrics.RecordFactoryStop(mode, status.Code)
	logEventErr(logger, s.cfg.Events.LogStop(h.Name, h.Process.Pid(), status, forced))

	if exited && drains != nil {
		_ = drains.Wait()
	}
}

// Factory returns the live factory, or nil when not ready.
func (s *Supervisor) Factory() factory.Factory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil
	}
	return s.factory
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastStartupCheckCount returns the number of registry lookups made by the
// most recent startup.
func (s *Supervisor) LastStartupCheckCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChecks
}

// LastExitCode returns the exit code of the most recently stopped process.
// ok is false if no process has been stopped or its exit was unresolved.
func (s *Supervisor) LastExitCode() (code int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastExit.Kind == lifecycle.ExitUnknown {
		return -1, false
	}
	return s.lastExit.Code, true
}

// LastExit returns the decoded exit status of the most recently stopped process.
func (s *Supervisor) LastExit() lifecycle.ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExit
}

// FactoryProcessName returns the name of the live process, or "" when idle.
func (s *Supervisor) FactoryProcessName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.Name
}

// LastProcessName returns the name of the most recently launched process.
func (s *Supervisor) LastProcessName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastName
}

func (s *Supervisor) outputSink(logger *slog.Logger) lifecycle.Sink {
	out := log.WithComponent(logger, "worker-output")
	return func(rec lifecycle.Record) {
		s.output.Add(rec)
		out.Info(rec.Line, log.StreamKey, string(rec.Stream))
	}
}

func (s *Supervisor) recentLines(n int) []string {
	recs := s.output.Last(n)
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = string(r.Stream) + ": " + r.Line
	}
	return lines
}

func logEventErr(logger *slog.Logger, err error) {
	if err != nil {
		logger.Debug("writing lifecycle event", log.Error(err))
	}
}

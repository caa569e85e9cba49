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

// Package daemon assembles the run factory service: the registry, the
// factory supervisor and coordinator, the monitor endpoint and config
// reloading.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/runfactory/internal/config"
	"github.com/tombee/runfactory/internal/coordinator"
	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/lifecycle"
	internallog "github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/monitor"
	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/supervisor"
	"github.com/tombee/runfactory/internal/tracing"
	"github.com/tombee/runfactory/internal/watch"
)

// Environment variables handed to every worker.
const (
	EnvRegistryAddr = "RUNFACTORY_REGISTRY_ADDR"
	EnvBuilder      = "RUNFACTORY_BUILDER"
)

// Options contains daemon options set at build time or on the command
// line.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath, when set, is watched and reloaded on change.
	ConfigPath string

	// Launcher overrides the worker launcher, for tests.
	Launcher lifecycle.Launcher

	// Logger overrides the logger built from the config.
	Logger *slog.Logger
}

// Daemon is the long-running run factory service.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	registryHost   *registryHost
	registryRemote *registry.Remote
	registryClient registry.Client
	registryAddr   string

	coordinator *coordinator.Coordinator
	monitor     *monitor.Server
	tracer      *tracing.Provider
	watcher     *watch.Watcher

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	started bool
}

// New validates cfg and prepares a daemon. Nothing is started until
// Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = internallog.New(&internallog.Config{
			Level:     cfg.Log.Level,
			Format:    internallog.Format(cfg.Log.Format),
			AddSource: cfg.Log.AddSource,
		})
	}
	return &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: internallog.WithComponent(logger, "daemon"),
	}, nil
}

// Start brings up every component. The factory itself is launched on the
// first request.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("daemon already started")
	}

	tp, err := tracing.New(ctx, tracing.Config{
		ServiceName:    "runfactory",
		ServiceVersion: d.opts.Version,
		Exporter:       tracing.Exporter(d.cfg.Tracing.Exporter),
		Endpoint:       d.cfg.Tracing.Endpoint,
		Insecure:       d.cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	d.tracer = tp

	if d.cfg.Registry.IsEmbedded() {
		host, addr, err := startRegistry(ctx, d.cfg.Registry, d.logger)
		if err != nil {
			d.shutdownLocked(ctx)
			return err
		}
		d.registryHost = host
		d.registryClient = host.client
		d.registryAddr = addr
	} else {
		remote, err := registry.Dial(ctx, d.cfg.Registry.Address, 0)
		if err != nil {
			d.shutdownLocked(ctx)
			return err
		}
		d.registryRemote = remote
		d.registryClient = remote
		d.registryAddr = d.cfg.Registry.Address
	}

	sup, err := d.newSupervisor(d.cfg)
	if err != nil {
		d.shutdownLocked(ctx)
		return err
	}
	d.sup = sup

	coordCfg := coordinator.Config{
		Attempts: d.cfg.Factory.CreateAttempts,
		Tracer:   tp.Tracer("github.com/tombee/runfactory/internal/coordinator"),
		Meter:    tp.Meter("github.com/tombee/runfactory/internal/coordinator"),
		Logger:   d.logger,
	}
	if d.cfg.Factory.RestartRate > 0 {
		coordCfg.RestartLimiter = rate.NewLimiter(rate.Limit(d.cfg.Factory.RestartRate), 1)
	}
	coord, err := coordinator.New(sup, coordCfg)
	if err != nil {
		d.shutdownLocked(ctx)
		return err
	}
	d.coordinator = coord

	if d.cfg.Monitor.Address != "" {
		d.monitor = monitor.New(monitor.Config{
			Address: d.cfg.Monitor.Address,
			Logger:  d.logger,
		}, d.health, coord)
		if _, err := d.monitor.Start(); err != nil {
			d.shutdownLocked(ctx)
			return err
		}
	}

	if d.opts.ConfigPath != "" {
		w, err := watch.New(watch.Config{
			Path:     d.opts.ConfigPath,
			OnChange: d.reload,
			Logger:   d.logger,
		})
		if err != nil {
			d.logger.Warn("config reload disabled", internallog.Error(err))
		} else {
			d.watcher = w
		}
	}

	d.started = true
	d.logger.Info("run factory service started",
		slog.String("version", d.opts.Version),
		slog.String("registry", d.registryAddr))
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Shutdown(context.WithoutCancel(ctx))
}

// Coordinator returns the run coordinator. It is nil before Start.
func (d *Daemon) Coordinator() *coordinator.Coordinator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coordinator
}

// RegistryAddr returns the registry address workers are given.
func (d *Daemon) RegistryAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registryAddr
}

// health reports the current supervisor snapshot.
func (d *Daemon) health() supervisor.Health {
	d.mu.Lock()
	sup := d.sup
	d.mu.Unlock()
	if sup == nil {
		return supervisor.Health{State: supervisor.StateIdle}
	}
	return sup.Health()
}

// Shutdown stops the factory and every component.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.shutdownLocked(ctx)
	d.started = false
	d.logger.Info("run factory service stopped")
	return nil
}

func (d *Daemon) shutdownLocked(ctx context.Context) {
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Error("config watcher close error", internallog.Error(err))
		}
		d.watcher = nil
	}
	if d.monitor != nil {
		if err := d.monitor.Shutdown(ctx); err != nil {
			d.logger.Error("monitor shutdown error", internallog.Error(err))
		}
		d.monitor = nil
	}
	if d.coordinator != nil {
		d.coordinator.Close(ctx)
		d.coordinator = nil
	}
	if d.registryHost != nil {
		if err := d.registryHost.shutdown(ctx); err != nil {
			d.logger.Error("registry shutdown error", internallog.Error(err))
		}
		d.registryHost = nil
	}
	if d.registryRemote != nil {
		_ = d.registryRemote.Close()
		d.registryRemote = nil
	}
	if d.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.tracer.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("OpenTelemetry provider shutdown error", internallog.Error(err))
		}
		d.tracer = nil
	}
}

// newSupervisor builds a supervisor for cfg against the daemon's registry.
func (d *Daemon) newSupervisor(cfg *config.Config) (*supervisor.Supervisor, error) {
	var events *lifecycle.EventLog
	if cfg.Factory.EventLog != "" {
		events = lifecycle.NewEventLog(cfg.Factory.EventLog)
	}
	return supervisor.New(supervisor.Config{
		WorkerBinary:      cfg.Worker.Binary,
		ExecuteCommand:    cfg.Worker.ExecuteCommand,
		ExtraArgs:         cfg.Worker.ExtraArgs,
		WorkDir:           cfg.Worker.WorkDir,
		Env:               []string{EnvRegistryAddr + "=" + d.registryAddr, EnvBuilder + "=" + cfg.Worker.Builder},
		ProcessNamePrefix: cfg.Factory.ProcessNamePrefix,
		WaitTime:          cfg.Factory.WaitTime(),
		Sleep:             cfg.Factory.Sleep,
		GracefulWait:      cfg.Factory.GracefulWait,
		ForcedWait:        cfg.Factory.ForcedWait,
		Launcher:          d.opts.Launcher,
		Registry:          d.registryClient,
		Dialer:            factory.NewDialer(cfg.Factory.CallTimeout),
		Events:            events,
		Logger:            d.logger,
	})
}

// reload applies a changed configuration file. Only factory and worker
// settings take effect; the registry, monitor and tracing keep running
// as started.
func (d *Daemon) reload(path string) {
	cfg, err := config.Load(path)
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		d.logger.Warn("ignoring invalid configuration", slog.String("path", path), internallog.Error(err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	sup, err := d.newSupervisor(cfg)
	if err != nil {
		d.logger.Warn("ignoring configuration", internallog.Error(err))
		return
	}
	if err := d.coordinator.Reinit(context.Background(), sup); err != nil {
		d.logger.Error("factory restart after reload failed", internallog.Error(err))
	}
	d.sup = sup
	d.cfg.Factory = cfg.Factory
	d.cfg.Worker = cfg.Worker
	d.logger.Info("configuration reloaded", slog.String("path", path))
}

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

// Package coordinator creates runs on top of a supervised factory.
//
// A Coordinator makes sure a factory is ready, asks it for a run and, when
// the factory has gone away mid-call, restarts it and tries again with the
// same run ID. Every operation holds one mutex, so a teardown triggered by
// one caller can never race another caller's create.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/metrics"
	"github.com/tombee/runfactory/internal/run"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

const instrumentationName = "github.com/tombee/runfactory/internal/coordinator"

// DefaultAttempts is how many times CreateRun tries before giving up.
const DefaultAttempts = 3

// Supervisor is the part of supervisor.Supervisor the coordinator drives.
type Supervisor interface {
	Start(ctx context.Context) (factory.Factory, error)
	Stop(ctx context.Context)
	Factory() factory.Factory
	LastProcessName() string
}

// Config configures a Coordinator.
type Config struct {
	// Attempts bounds CreateRun. Default: 3
	Attempts int
	// RestartLimiter, if set, paces factory restarts across calls.
	RestartLimiter *rate.Limiter
	// Tracer records one span per CreateRun. Default: the global provider.
	Tracer trace.Tracer
	// Meter records attempt counts. Default: the global provider.
	Meter metric.Meter
	// Logger is the structured logger. Default: slog.Default()
	Logger *slog.Logger
}

// Coordinator serialises run creation against one supervisor.
type Coordinator struct {
	mu       sync.Mutex
	sup      Supervisor
	attempts int
	limiter  *rate.Limiter
	tracer   trace.Tracer
	counter  metric.Int64Counter
	logger   *slog.Logger

	runs   int
	closed bool
}

// New returns a Coordinator driving sup.
func New(sup Supervisor, cfg Config) (*Coordinator, error) {
	if sup == nil {
		return nil, &rferrors.ValidationError{Field: "supervisor", Message: "is required"}
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(instrumentationName)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	counter, err := cfg.Meter.Int64Counter("runfactory.create.attempts",
		metric.WithDescription("Run creation attempts by outcome"))
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		sup:      sup,
		attempts: cfg.Attempts,
		limiter:  cfg.RestartLimiter,
		tracer:   cfg.Tracer,
		counter:  counter,
		logger:   log.WithComponent(cfg.Logger, "coordinator"),
	}, nil
}

// CreateRun asks a factory for a run, restarting the factory when it is
// lost or unbound. The request's RunID is kept across attempts and filled
// in when empty.
func (c *Coordinator) CreateRun(ctx context.Context, req factory.CreateRequest) (run.Handle, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if err := run.ValidateRunID(req.RunID); err != nil {
		metrics.RecordRunCreateFailure("validation")
		return nil, err
	}
	ctx, span := c.tracer.Start(ctx, "runfactory.CreateRun", trace.WithAttributes(
		attribute.String("runfactory.creator", req.Creator),
		attribute.String("runfactory.run_id", req.RunID),
	))
	defer span.End()

	h, err := c.createRun(ctx, req, span)
	if err != nil {
		kind := rferrors.KindOf(err)
		metrics.RecordRunCreateFailure(string(kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return h, nil
}

func (c *Coordinator) createRun(ctx context.Context, req factory.CreateRequest, span trace.Span) (run.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}

	logger := log.WithRun(c.logger, req.RunID)
	var last error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 && c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		f, err := c.sup.Start(ctx)
		if err != nil {
			c.countAttempt(ctx, "start_failed")
			return nil, err
		}

		h, err := f.Create(ctx, req)
		if err == nil {
			c.runs++
			c.countAttempt(ctx, "created")
			metrics.RecordRunCreated()
			span.SetAttributes(attribute.Int("runfactory.attempts", attempt))
			logger.Info("run created",
				slog.Int(log.AttemptKey, attempt),
				slog.String("creator", req.Creator))
			return h, nil
		}

		// Once the caller's context is done the factory cannot be judged.
		if !restartable(err) || ctx.Err() != nil {
			c.countAttempt(ctx, "failed")
			return nil, err
		}

		last = err
		c.countAttempt(ctx, "restarted")
		span.AddEvent("factory restart", trace.WithAttributes(
			attribute.Int("runfactory.attempt", attempt),
			attribute.String("runfactory.process", c.sup.LastProcessName()),
			attribute.String("error.kind", string(rferrors.KindOf(err))),
		))
		logger.Warn("factory lost during create, restarting",
			slog.Int(log.AttemptKey, attempt),
			slog.String(log.ProcessKey, c.sup.LastProcessName()),
			log.Error(err))
		c.sup.Stop(ctx)
		if attempt < c.attempts {
			metrics.RecordCreateRetry()
		}
	}

	return nil, &rferrors.Error{
		Kind:     rferrors.KindCreationExhausted,
		Op:       "coordinator.create_run",
		Name:     c.sup.LastProcessName(),
		Attempts: c.attempts,
		Cause:    last,
	}
}

// OperatingCount reports how many runs the current factory is executing,
// starting a factory if none is ready. A factory that turns out to be gone
// is stopped so the next call starts a fresh one.
func (c *Coordinator) OperatingCount(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errClosed
	}

	f, err := c.sup.Start(ctx)
	if err != nil {
		return 0, err
	}
	n, err := f.OperatingCount(ctx)
	if err != nil {
		if restartable(err) && ctx.Err() == nil {
			c.logger.Warn("factory lost during operating count",
				slog.String(log.ProcessKey, c.sup.LastProcessName()),
				log.Error(err))
			c.sup.Stop(ctx)
		}
		return 0, err
	}
	return n, nil
}

// RunCount returns how many runs this coordinator has created.
func (c *Coordinator) RunCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Reinit stops the current factory and, if one was running, starts a
// fresh one. When next is non-nil it replaces the supervisor first, which
// is how configuration changes take effect.
func (c *Coordinator) Reinit(ctx context.Context, next Supervisor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	wasRunning := c.sup.Factory() != nil
	c.sup.Stop(ctx)
	if next != nil {
		c.sup = next
	}
	c.logger.Info("factory reinitialised", slog.Bool("restart", wasRunning))
	if !wasRunning {
		return nil
	}
	_, err := c.sup.Start(ctx)
	return err
}

// Close stops the factory. Later calls fail.
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.sup.Stop(ctx)
}

func (c *Coordinator) countAttempt(ctx context.Context, outcome string) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

var errClosed = errors.New("coordinator: closed")

// restartable looks only at the outermost kind: an invocation failure
// whose remote cause mentions a lost connection is still an invocation
// failure.
func restartable(err error) bool {
	switch rferrors.KindOf(err) {
	case rferrors.KindConnectionLost, rferrors.KindUnbound:
		return true
	}
	return false
}

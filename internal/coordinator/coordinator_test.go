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

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/run"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// fakeFactory answers Create from a script of errors; an exhausted script
// succeeds with a static run.
type fakeFactory struct {
	mu        sync.Mutex
	createErr []error
	countErr  error
	requests  []factory.CreateRequest
	inFlight  *atomic.Int32
	maxFlight *atomic.Int32
}

func (f *fakeFactory) Create(ctx context.Context, req factory.CreateRequest) (run.Handle, error) {
	if f.inFlight != nil {
		n := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			m := f.maxFlight.Load()
			if n <= m || f.maxFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.createErr) > 0 {
		err := f.createErr[0]
		f.createErr = f.createErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return run.BuildStatic(ctx, run.BuildRequest{RunID: req.RunID})
}

func (f *fakeFactory) OperatingCount(context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return 2, nil
}

func (f *fakeFactory) Shutdown(context.Context) error { return nil }
func (f *fakeFactory) Close() error                   { return nil }

// fakeSupervisor hands out the same factory on every start and names each
// launch like the real supervisor would.
type fakeSupervisor struct {
	mu       sync.Mutex
	factory  *fakeFactory
	startErr error
	current  factory.Factory
	starts   int
	stops    int
	last     string
}

func (s *fakeSupervisor) Start(context.Context) (factory.Factory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current, nil
	}
	s.starts++
	s.last = fmt.Sprintf("runfactory-%d", s.starts)
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.current = s.factory
	return s.current, nil
}

func (s *fakeSupervisor) Stop(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.stops++
	s.current = nil
}

func (s *fakeSupervisor) Factory() factory.Factory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSupervisor) LastProcessName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func newCoordinator(t *testing.T, sup Supervisor, cfg Config) *Coordinator {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	c, err := New(sup, cfg)
	require.NoError(t, err)
	return c
}

func lost() error {
	return &rferrors.Error{Kind: rferrors.KindConnectionLost, Op: "factory.create"}
}

func TestNew_RequiresSupervisor(t *testing.T) {
	_, err := New(nil, Config{})
	var verr *rferrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCreateRun_CountsSuccess(t *testing.T) {
	sup := &fakeSupervisor{factory: &fakeFactory{}}
	c := newCoordinator(t, sup, Config{})

	h, err := c.CreateRun(context.Background(), factory.CreateRequest{
		Creator:  "alice",
		Workflow: "<run><workflow/></run>",
		RunID:    "run-7",
	})
	require.NoError(t, err)

	assert.Equal(t, "run-7", h.ID())
	assert.Equal(t, 1, c.RunCount())
	assert.Equal(t, 1, sup.starts)
	assert.Equal(t, 0, sup.stops)
}

func TestCreateRun_GeneratesRunID(t *testing.T) {
	ff := &fakeFactory{}
	c := newCoordinator(t, &fakeSupervisor{factory: ff}, Config{})

	h, err := c.CreateRun(context.Background(), factory.CreateRequest{Creator: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, h.ID(), ff.requests[0].RunID)
}

func TestCreateRun_RetriesWithSameRunID(t *testing.T) {
	ff := &fakeFactory{createErr: []error{lost()}}
	sup := &fakeSupervisor{factory: ff}
	c := newCoordinator(t, sup, Config{})

	h, err := c.CreateRun(context.Background(), factory.CreateRequest{Creator: "alice", RunID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, "r1", h.ID())
	assert.Equal(t, 2, sup.starts)
	assert.Equal(t, 1, sup.stops)
	require.Len(t, ff.requests, 2)
	assert.Equal(t, ff.requests[0], ff.requests[1])
	assert.Equal(t, 1, c.RunCount())
}

func TestCreateRun_UnboundIsRetried(t *testing.T) {
	unbound := &rferrors.Error{Kind: rferrors.KindUnbound, Op: "factory.create"}
	ff := &fakeFactory{createErr: []error{unbound, unbound}}
	sup := &fakeSupervisor{factory: ff}
	c := newCoordinator(t, sup, Config{})

	_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 3, sup.starts)
}

func TestCreateRun_ExhaustsAfterThreeStarts(t *testing.T) {
	ff := &fakeFactory{createErr: []error{lost(), lost(), lost(), lost()}}
	sup := &fakeSupervisor{factory: ff}
	c := newCoordinator(t, sup, Config{})

	_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: "r1"})
	require.Error(t, err)

	var rerr *rferrors.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rferrors.KindCreationExhausted, rerr.Kind)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Equal(t, "runfactory-3", rerr.Name)
	assert.ErrorIs(t, err, rferrors.ErrConnectionLost)

	assert.Equal(t, 3, sup.starts)
	assert.Equal(t, 3, sup.stops)
	assert.Nil(t, sup.Factory(), "factory left stopped")
	assert.Equal(t, 0, c.RunCount())
}

func TestCreateRun_InvocationFailedNotRetried(t *testing.T) {
	failed := &rferrors.Error{
		Kind:  rferrors.KindInvocationFailed,
		Op:    "factory.create",
		Cause: errors.New("workflow: no child element"),
	}
	ff := &fakeFactory{createErr: []error{failed}}
	sup := &fakeSupervisor{factory: ff}
	c := newCoordinator(t, sup, Config{})

	_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: "r1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, rferrors.ErrInvocationFailed)
	assert.Contains(t, err.Error(), "no child element")
	assert.Equal(t, 1, sup.starts)
	assert.Equal(t, 0, sup.stops)
}

func TestCreateRun_InvocationWrappingLostIsNotRetried(t *testing.T) {
	failed := &rferrors.Error{Kind: rferrors.KindInvocationFailed, Cause: lost()}
	ff := &fakeFactory{createErr: []error{failed}}
	sup := &fakeSupervisor{factory: ff}
	c := newCoordinator(t, sup, Config{})

	_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: "r1"})
	assert.ErrorIs(t, err, rferrors.ErrInvocationFailed)
	assert.Equal(t, 1, sup.starts)
}

func TestCreateRun_CallerDeadlineKeepsFactory(t *testing.T) {
	ff := &fakeFactory{createErr: []error{lost()}}
	sup := &fakeSupervisor{factory: ff}
	c := newCoordinator(t, sup, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := c.CreateRun(ctx, factory.CreateRequest{RunID: "r1"})
	require.Error(t, err)
	assert.Equal(t, 1, sup.starts)
	assert.Equal(t, 0, sup.stops)
	assert.NotNil(t, sup.Factory())
}

func TestOperatingCount_CallerDeadlineKeepsFactory(t *testing.T) {
	sup := &fakeSupervisor{factory: &fakeFactory{countErr: lost()}}
	c := newCoordinator(t, sup, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.OperatingCount(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, sup.stops)
}

func TestCreateRun_RejectsUnsafeRunID(t *testing.T) {
	sup := &fakeSupervisor{factory: &fakeFactory{}}
	c := newCoordinator(t, sup, Config{})

	_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: "x/../../escaped"})
	var verr *rferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "run_id", verr.Field)
	assert.Equal(t, 0, sup.starts)
}

func TestCreateRun_StartupTimeoutFails(t *testing.T) {
	timeout := &rferrors.Error{Kind: rferrors.KindProcessStartupTimeout, Attempts: 40}
	sup := &fakeSupervisor{factory: &fakeFactory{}, startErr: timeout}
	c := newCoordinator(t, sup, Config{})

	_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: "r1"})
	assert.ErrorIs(t, err, rferrors.ErrProcessStartupTimeout)
	assert.Equal(t, 1, sup.starts)
}

func TestCreateRun_Serialised(t *testing.T) {
	var inFlight, maxFlight atomic.Int32
	ff := &fakeFactory{inFlight: &inFlight, maxFlight: &maxFlight}
	c := newCoordinator(t, &fakeSupervisor{factory: ff}, Config{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: fmt.Sprintf("r%d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxFlight.Load())
	assert.Equal(t, 8, c.RunCount())
}

func TestCreateRun_RestartLimiterHonoursContext(t *testing.T) {
	ff := &fakeFactory{createErr: []error{lost(), lost()}}
	sup := &fakeSupervisor{factory: ff}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow()
	c := newCoordinator(t, sup, Config{RestartLimiter: limiter})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CreateRun(ctx, factory.CreateRequest{RunID: "r1"})
	require.Error(t, err)
	assert.Equal(t, 1, sup.starts)
}

func TestCreateRun_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	ff := &fakeFactory{createErr: []error{lost()}}
	c := newCoordinator(t, &fakeSupervisor{factory: ff}, Config{Tracer: tp.Tracer("test")})

	_, err := c.CreateRun(context.Background(), factory.CreateRequest{Creator: "alice", RunID: "r1"})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "runfactory.CreateRun", spans[0].Name)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "factory restart", spans[0].Events[0].Name)
}

func TestOperatingCount(t *testing.T) {
	sup := &fakeSupervisor{factory: &fakeFactory{}}
	c := newCoordinator(t, sup, Config{})

	n, err := c.OperatingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, sup.starts)
}

func TestOperatingCount_StopsLostFactory(t *testing.T) {
	sup := &fakeSupervisor{factory: &fakeFactory{countErr: lost()}}
	c := newCoordinator(t, sup, Config{})

	_, err := c.OperatingCount(context.Background())
	assert.ErrorIs(t, err, rferrors.ErrConnectionLost)
	assert.Equal(t, 1, sup.stops)
	assert.Nil(t, sup.Factory())
}

func TestReinit(t *testing.T) {
	t.Run("idle stays idle", func(t *testing.T) {
		sup := &fakeSupervisor{factory: &fakeFactory{}}
		c := newCoordinator(t, sup, Config{})

		require.NoError(t, c.Reinit(context.Background(), nil))
		assert.Equal(t, 0, sup.starts)
	})

	t.Run("running factory restarts on replacement", func(t *testing.T) {
		old := &fakeSupervisor{factory: &fakeFactory{}}
		c := newCoordinator(t, old, Config{})
		_, err := c.OperatingCount(context.Background())
		require.NoError(t, err)

		next := &fakeSupervisor{factory: &fakeFactory{}}
		require.NoError(t, c.Reinit(context.Background(), next))

		assert.Equal(t, 1, old.stops)
		assert.Nil(t, old.Factory())
		assert.Equal(t, 1, next.starts)
		assert.NotNil(t, next.Factory())
	})
}

func TestClose(t *testing.T) {
	sup := &fakeSupervisor{factory: &fakeFactory{}}
	c := newCoordinator(t, sup, Config{})
	_, err := c.CreateRun(context.Background(), factory.CreateRequest{RunID: "r1"})
	require.NoError(t, err)

	c.Close(context.Background())
	c.Close(context.Background())

	assert.Equal(t, 1, sup.stops)
	_, err = c.CreateRun(context.Background(), factory.CreateRequest{RunID: "r2"})
	assert.ErrorIs(t, err, errClosed)
	assert.ErrorIs(t, c.Reinit(context.Background(), nil), errClosed)
}

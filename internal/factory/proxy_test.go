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

package factory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/rpc"
	"github.com/tombee/runfactory/internal/run"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

type fakeBackend struct {
	mu        sync.Mutex
	table     *run.Table
	createErr error
	shutdowns int
	lastReq   CreateRequest
}

func (b *fakeBackend) Create(ctx context.Context, req CreateRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastReq = req
	if b.createErr != nil {
		return "", b.createErr
	}
	h, err := run.BuildStatic(ctx, run.BuildRequest{RunID: req.RunID})
	if err != nil {
		return "", err
	}
	b.table.Add(h)
	return h.ID(), nil
}

func (b *fakeBackend) OperatingCount(ctx context.Context) int {
	return b.table.Operating(ctx)
}

func (b *fakeBackend) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdowns++
	return nil
}

func serve(t *testing.T, b *fakeBackend) (*rpc.Server, registry.Handle) {
	t.Helper()
	srv := rpc.NewServer(&rpc.ServerConfig{Logger: log.Discard()})
	srv.Register(&ServiceDesc, NewService(b))
	srv.Register(&run.ServiceDesc, run.NewService(b.table))
	addr, err := srv.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, registry.Handle{Name: "runfactory-test", Address: addr}
}

func TestProxy_CreateAndCount(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{table: run.NewTable()}
	_, h := serve(t, b)

	p, err := Dial(ctx, h, time.Second)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "runfactory-test", p.Name())

	req := CreateRequest{Workflow: "<w/>", Creator: "alice", RunID: "7", Notify: "mailto:alice@example.com"}
	rh, err := p.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "7", rh.ID())
	b.mu.Lock()
	assert.Equal(t, req, b.lastReq)
	b.mu.Unlock()

	_, err = rh.SetStatus(ctx, run.StatusOperating)
	require.NoError(t, err)

	n, err := p.OperatingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, p.Shutdown(ctx))
	b.mu.Lock()
	assert.Equal(t, 1, b.shutdowns)
	b.mu.Unlock()
}

func TestProxy_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		want      error
	}{
		{"unbound factory", &rferrors.Error{Kind: rferrors.KindUnbound, Op: "worker.create"}, rferrors.ErrUnbound},
		{"builder failure", errors.New("engine exploded"), rferrors.ErrInvocationFailed},
		{"bad request", &rferrors.ValidationError{Field: "workflow", Message: "empty"}, rferrors.ErrInvocationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := serve(t, &fakeBackend{table: run.NewTable(), createErr: tt.createErr})
			p, err := Dial(context.Background(), h, time.Second)
			require.NoError(t, err)
			defer p.Close()

			_, err = p.Create(context.Background(), CreateRequest{RunID: "1"})
			require.ErrorIs(t, err, tt.want)

			var rerr *rferrors.Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, "runfactory-test", rerr.Name)
		})
	}
}

func TestProxy_ConnectionLost(t *testing.T) {
	srv, h := serve(t, &fakeBackend{table: run.NewTable()})
	require.NoError(t, srv.Shutdown(context.Background()))

	p, err := NewDialer(300 * time.Millisecond)(context.Background(), h)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Create(context.Background(), CreateRequest{RunID: "1"})
	require.ErrorIs(t, err, rferrors.ErrConnectionLost)
	assert.True(t, rferrors.IsRetryable(err))

	err = p.Shutdown(context.Background())
	require.ErrorIs(t, err, rferrors.ErrConnectionLost)
}

func TestProxy_CallerDeadlineIsNotConnectionLost(t *testing.T) {
	_, h := serve(t, &fakeBackend{table: run.NewTable()})
	p, err := Dial(context.Background(), h, time.Second)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err = p.Create(ctx, CreateRequest{RunID: "1"})
	require.ErrorIs(t, err, rferrors.ErrInvocationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, rferrors.ErrConnectionLost))

	_, err = p.OperatingCount(ctx)
	assert.ErrorIs(t, err, rferrors.ErrInvocationFailed)

	rh, err := p.Create(context.Background(), CreateRequest{RunID: "2"})
	require.NoError(t, err)
	assert.Equal(t, "2", rh.ID())
}

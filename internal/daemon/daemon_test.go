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

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runfactory/internal/config"
	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/lifecycle"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/run"
	"github.com/tombee/runfactory/internal/worker"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// inProcessLauncher runs each worker as a goroutine instead of a
// subprocess, speaking the real gRPC protocol to the daemon's registry.
type inProcessLauncher struct {
	mu       sync.Mutex
	launched []*workerProcess
}

func (l *inProcessLauncher) Launch(_ context.Context, cmd lifecycle.Command) (lifecycle.Process, error) {
	if len(cmd.Args) < 2 {
		return nil, fmt.Errorf("expected command and name, got %v", cmd.Args)
	}
	env := map[string]string{}
	for _, kv := range cmd.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	reg, err := registry.Dial(context.Background(), env[EnvRegistryAddr], time.Second)
	if err != nil {
		return nil, err
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	w, err := worker.New(worker.Config{
		Command:  cmd.Args[0],
		Name:     cmd.Args[1],
		Builder:  env[EnvBuilder],
		Registry: reg,
		Out:      outW,
		Logger:   log.Discard(),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &workerProcess{stdout: outR, stderr: errR, cancel: cancel, done: make(chan struct{})}
	go func() {
		_ = w.Run(ctx)
		_ = reg.Close()
		outW.Close()
		errW.Close()
		close(p.done)
	}()

	l.mu.Lock()
	l.launched = append(l.launched, p)
	l.mu.Unlock()
	return p, nil
}

func (l *inProcessLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type workerProcess struct {
	stdout, stderr io.ReadCloser
	cancel         context.CancelFunc
	done           chan struct{}

	mu         sync.Mutex
	terminated bool
}

func (p *workerProcess) Pid() int              { return os.Getpid() }
func (p *workerProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *workerProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *workerProcess) Done() <-chan struct{} { return p.done }
func (p *workerProcess) Kill() error           { return p.Terminate() }

func (p *workerProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.cancel()
	return nil
}

func (p *workerProcess) ExitCode() (int, bool) {
	select {
	case <-p.done:
	default:
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return 143, true
	}
	return 0, true
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Registry.Address = "127.0.0.1:0"
	cfg.Worker.Binary = "runworker"
	cfg.Worker.ExecuteCommand = "engine"
	cfg.Worker.Builder = "static"
	cfg.Worker.WorkDir = t.TempDir()
	cfg.Factory.WaitSeconds = 5
	cfg.Factory.Sleep = 20 * time.Millisecond
	cfg.Factory.CallTimeout = 5 * time.Second
	cfg.Monitor.Address = "127.0.0.1:0"
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config, opts Options) *Daemon {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	d, err := New(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	return d
}

func TestNew_RequiresWorkerSettings(t *testing.T) {
	_, err := New(config.Default(), Options{Logger: log.Discard()})
	var cerr *rferrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "worker.binary", cerr.Key)
}

func TestDaemon_CreateRunEndToEnd(t *testing.T) {
	launcher := &inProcessLauncher{}
	d := startDaemon(t, testConfig(t), Options{Launcher: launcher})

	ctx := context.Background()
	h, err := d.Coordinator().CreateRun(ctx, factory.CreateRequest{
		Creator:  "alice",
		RunID:    "run-7",
		Workflow: `<container xmlns:w="urn:wf"><w:workflow name="demo"/></container>`,
	})
	require.NoError(t, err)
	defer func() {
		if c, ok := h.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	assert.Equal(t, "run-7", h.ID())
	st, err := h.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.StatusInitialized, st)

	st, err = h.SetStatus(ctx, run.StatusOperating)
	require.NoError(t, err)
	assert.Equal(t, run.StatusOperating, st)

	_, err = h.SetStatus(ctx, run.StatusInitialized)
	assert.ErrorIs(t, err, rferrors.ErrIllegalStateTransition)

	n, err := d.Coordinator().OperatingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, d.Coordinator().RunCount())
	assert.Equal(t, 1, launcher.count())

	health := d.health()
	assert.Equal(t, "ready", string(health.State))
	assert.NotEmpty(t, health.ProcessName)
}

func TestDaemon_RestartsLostFactory(t *testing.T) {
	launcher := &inProcessLauncher{}
	d := startDaemon(t, testConfig(t), Options{Launcher: launcher})
	ctx := context.Background()
	req := factory.CreateRequest{Workflow: `<c><workflow/></c>`, RunID: "r1"}

	_, err := d.Coordinator().CreateRun(ctx, req)
	require.NoError(t, err)

	// Kill the worker behind the supervisor's back.
	launcher.mu.Lock()
	first := launcher.launched[0]
	launcher.mu.Unlock()
	require.NoError(t, first.Terminate())
	<-first.Done()

	req.RunID = "r2"
	h, err := d.Coordinator().CreateRun(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "r2", h.ID())
	assert.Equal(t, 2, launcher.count())
	assert.Equal(t, 2, d.Coordinator().RunCount())
}

func TestDaemon_MonitorEndpoint(t *testing.T) {
	d := startDaemon(t, testConfig(t), Options{Launcher: &inProcessLauncher{}})

	d.mu.Lock()
	handler := d.monitor.Handler()
	d.mu.Unlock()

	body := strings.NewReader(`{"workflow":"<c><workflow/></c>","creator":"bob"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"ready"`)
}

func TestDaemon_ReloadSwapsSupervisor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := testConfig(t)
	d := startDaemon(t, cfg, Options{Launcher: &inProcessLauncher{}, ConfigPath: path})

	_, err := d.Coordinator().CreateRun(context.Background(), factory.CreateRequest{Workflow: `<c><workflow/></c>`})
	require.NoError(t, err)

	content := fmt.Sprintf(`
registry:
  address: 127.0.0.1:0
factory:
  process_name_prefix: reloaded-
  wait_seconds: 5
  sleep: 20ms
worker:
  binary: runworker
  execute_command: engine
  builder: static
  work_dir: %s
`, dir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	d.reload(path)

	health := d.health()
	assert.Equal(t, "ready", string(health.State))
	assert.True(t, strings.HasPrefix(health.ProcessName, "reloaded-"), health.ProcessName)
}

func TestDaemon_ShutdownIdempotent(t *testing.T) {
	d, err := New(testConfig(t), Options{Launcher: &inProcessLauncher{}, Logger: log.Discard()})
	require.NoError(t, err)
	require.NoError(t, d.Shutdown(context.Background()))

	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestServeRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Registry.Backend = "sqlite"
	cfg.Registry.SQLitePath = filepath.Join(t.TempDir(), "state", "registry.db")

	store, err := openStore(cfg.Registry)
	require.NoError(t, err)
	defer store.Close()
	_, ok := store.(*registry.SQLiteStore)
	assert.True(t, ok)

	cfg.Registry.Backend = "memory"
	cfg.Registry.Address = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ServeRegistry(ctx, cfg, log.Discard()) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeRegistry did not return")
	}
}

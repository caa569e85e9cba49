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

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/runfactory/internal/lifecycle"
	"github.com/tombee/runfactory/internal/log"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// WorkflowFileName is the name of the workflow file in a run directory.
const WorkflowFileName = "workflow.xml"

// killWait bounds how long finishing a run waits for the engine to die.
const killWait = 5 * time.Second

// EngineRun drives one invocation of the external workflow engine. Moving
// to operating starts the engine, stopped and operating suspend and resume
// it, and finished kills it. When the engine exits on its own the run
// becomes finished.
type EngineRun struct {
	id       string
	req      BuildRequest
	dir      string
	file     string
	machine  *Machine
	launcher lifecycle.Launcher
	logger   *slog.Logger

	mu   sync.Mutex
	proc lifecycle.Process
	exit lifecycle.ExitStatus
	done chan struct{}
}

var _ Handle = (*EngineRun)(nil)

// BuildEngine is the "engine" builder. It writes the workflow into a fresh
// run directory under req.WorkDir.
func BuildEngine(_ context.Context, req BuildRequest) (Handle, error) {
	return newEngineRun(req, lifecycle.NewSpawner())
}

func newEngineRun(req BuildRequest, launcher lifecycle.Launcher) (*EngineRun, error) {
	if err := ValidateRunID(req.RunID); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, &rferrors.ValidationError{Field: "command", Message: "engine command is required"}
	}
	base := req.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "run-"+req.RunID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	file := filepath.Join(dir, WorkflowFileName)
	if err := writeFileAtomic(file, []byte(req.Workflow), 0600); err != nil {
		return nil, fmt.Errorf("failed to write workflow: %w", err)
	}

	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EngineRun{
		id:       req.RunID,
		req:      req,
		dir:      dir,
		file:     file,
		machine:  NewMachine(),
		launcher: launcher,
		logger:   log.WithRun(logger, req.RunID),
		exit:     lifecycle.DecodeExit(-1, false),
		done:     make(chan struct{}),
	}, nil
}

func (r *EngineRun) ID() string { return r.id }

// Dir returns the run directory.
func (r *EngineRun) Dir() string { return r.dir }

func (r *EngineRun) Status(context.Context) (Status, error) {
	return r.machine.Status(), nil
}

// Exit returns the engine's decoded exit status.
func (r *EngineRun) Exit() lifecycle.ExitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exit
}

// Done is closed once the engine has exited and its output is drained.
// It never closes for a run that was never started.
func (r *EngineRun) Done() <-chan struct{} { return r.done }

func (r *EngineRun) SetStatus(ctx context.Context, to Status) (Status, error) {
	return r.machine.SetStatus(ctx, to, r.apply)
}

func (r *EngineRun) apply(ctx context.Context, from, to Status) error {
	switch {
	case from == StatusInitialized && to == StatusOperating:
		return r.start(ctx)
	case to == StatusStopped:
		return lifecycle.Suspend(r.pid())
	case from == StatusStopped && to == StatusOperating:
		return lifecycle.Resume(r.pid())
	case to == StatusFinished:
		return r.kill()
	}
	return nil
}

func (r *EngineRun) start(ctx context.Context) error {
	args := append(append([]string(nil), r.req.Args...), r.file)
	proc, err := r.launcher.Launch(ctx, lifecycle.Command{
		Path: r.req.Command,
		Args: args,
		Dir:  r.dir,
		Env: []string{
			"RUNFACTORY_RUN_ID=" + r.id,
			"RUNFACTORY_CREATOR=" + r.req.Creator,
			"RUNFACTORY_NOTIFY=" + r.req.Notify,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	r.mu.Lock()
	r.proc = proc
	r.mu.Unlock()

	r.logger.Info("engine started", "pid", proc.Pid(), "workflow", r.file)
	go r.watch(proc)
	return nil
}

// watch drains engine output and marks the run finished when it exits.
func (r *EngineRun) watch(proc lifecycle.Process) {
	var g errgroup.Group
	sink := lifecycle.LogSink(r.logger)
	g.Go(func() error {
		lifecycle.Drain(proc.Stdout(), r.id, lifecycle.StreamOut, r.logger, sink)
		return nil
	})
	g.Go(func() error {
		lifecycle.Drain(proc.Stderr(), r.id, lifecycle.StreamErr, r.logger, sink)
		return nil
	})
	<-proc.Done()
	_ = g.Wait()

	status := lifecycle.DecodeExit(proc.ExitCode())
	r.mu.Lock()
	r.exit = status
	r.mu.Unlock()
	r.logger.Info("engine exited", "status", status.String())

	if _, err := r.machine.SetStatus(context.Background(), StatusFinished, nil); err != nil {
		r.logger.Debug("engine exit after run finished", log.Error(err))
	}
	close(r.done)
}

func (r *EngineRun) pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return 0
	}
	return r.proc.Pid()
}

func (r *EngineRun) kill() error {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	if proc == nil {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill engine: %w", err)
	}
	if !lifecycle.WaitForExit(proc, killWait) {
		return errors.New("engine did not exit after kill")
	}
	return nil
}

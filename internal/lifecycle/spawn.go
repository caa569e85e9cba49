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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Command describes a subprocess to launch.
type Command struct {
	// Path is the executable.
	Path string
	// Args are passed after Path.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the spawner's base environment.
	Env []string
}

// Process is a launched subprocess.
type Process interface {
	// Pid returns the OS process ID.
	Pid() int
	// Stdout and Stderr are the read ends of the output pipes. Each must be
	// drained and closed by the caller.
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Terminate asks the process to exit (SIGTERM). Signalling a process
	// that already exited is not an error.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitCode returns the shell-style exit code once the process has exited.
	ExitCode() (int, bool)
}

// Launcher starts subprocesses.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Process, error)
}

// Spawner launches subprocesses in their own process group with output on
// pipes. The process outlives ctx; only Terminate and Kill end it.
type Spawner struct {
	// Env is the base environment for every spawned process.
	Env []string
}

var _ Launcher = (*Spawner)(nil)

// NewSpawner creates a spawner that inherits the current environment.
func NewSpawner() *Spawner {
	return &Spawner{
		Env: os.Environ(),
	}
}

// Launch starts cmd.
func (s *Spawner) Launch(ctx context.Context, c Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Path == "" {
		return nil, errors.New("lifecycle: empty command path")
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(append([]string(nil), s.Env...), c.Env...)
	cmd.Stdin = nil
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, fmt.Errorf("failed to start %s: %w", c.Path, err)
	}

	// The child holds its own copies; closing ours lets the readers see EOF
	// when it exits.
	outW.Close()
	errW.Close()

	p := &execProcess{
		cmd:    cmd,
		stdout: outR,
		stderr: errR,
		done:   make(chan struct{}),
		code:   -1,
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File
	done   chan struct{}

	mu     sync.Mutex
	code   int
	exited bool
}

func (p *execProcess) wait() {
	_ = p.cmd.Wait()
	code, ok := exitCode(p.cmd.ProcessState)
	p.mu.Lock()
	p.code, p.exited = code, ok
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Stderr() io.ReadCloser { return p.stderr }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.exited
}

func (p *execProcess) Terminate() error {
	return ignoreDone(terminate(p.cmd.Process))
}

func (p *execProcess) Kill() error {
	return ignoreDone(p.cmd.Process.Kill())
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

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

package supervisor

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/lifecycle"
	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/run"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// fakeProcess is a lifecycle.Process whose exit is controlled by the test.
type fakeProcess struct {
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter
	done             chan struct{}

	// terminateCode is the exit code used when Terminate is called; a
	// negative value means Terminate is ignored.
	terminateCode int

	mu         sync.Mutex
	code       int
	exited     bool
	terminates int
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{done: make(chan struct{}), terminateCode: 143, code: -1}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.code, p.exited = code, true
	p.stdoutW.Close()
	p.stderrW.Close()
	close(p.done)
}

func (p *fakeProcess) Pid() int { return 0 }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutR }
func (p *fakeProcess) Stderr() io.ReadCloser { return p.stderrR }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminates++
	code := p.terminateCode
	p.mu.Unlock()
	if code >= 0 {
		p.exit(code)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.exit(137)
	return nil
}

func (p *fakeProcess) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.exited
}

func (p *fakeProcess) terminateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminates
}

// fakeLauncher hands out fakeProcesses.
type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	commands []lifecycle.Command
	onLaunch func(cmd lifecycle.Command, p *fakeProcess)
	prepare  func(p *fakeProcess)
}

func (l *fakeLauncher) Launch(_ context.Context, cmd lifecycle.Command) (lifecycle.Process, error) {
	p := newFakeProcess()
	if l.prepare != nil {
		l.prepare(p)
	}
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.commands = append(l.commands, cmd)
	hook := l.onLaunch
	l.mu.Unlock()
	if hook != nil {
		hook(cmd, p)
	}
	return p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) last() (*fakeProcess, lifecycle.Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1], l.commands[len(l.commands)-1]
}

// fakeRegistry binds any name after bindAfter lookups of it. bindAfter < 0
// never binds.
type fakeRegistry struct {
	bindAfter int
	lookupErr error
	listErr   error

	lookups atomic.Int32
	lists   atomic.Int32
}

func (r *fakeRegistry) Lookup(_ context.Context, name string) (registry.Handle, error) {
	n := int(r.lookups.Add(1))
	if r.lookupErr != nil {
		return registry.Handle{}, r.lookupErr
	}
	if r.bindAfter < 0 || n < r.bindAfter {
		return registry.Handle{}, &rferrors.Error{Kind: rferrors.KindNotBound, Op: "registry.lookup", Name: name}
	}
	return registry.Handle{Name: name, Address: "fake"}, nil
}

func (r *fakeRegistry) Bind(context.Context, string, registry.Handle) error { return nil }
func (r *fakeRegistry) Unbind(context.Context, string) error { return nil }

func (r *fakeRegistry) List(context.Context) ([]string, error) {
	r.lists.Add(1)
	if r.listErr != nil {
		return nil, r.listErr
	}
	return nil, nil
}

// fakeFactory is a factory.Factory with scripted shutdown behaviour.
type fakeFactory struct {
	name        string
	shutdownErr error
	onShutdown  func()

	shutdowns atomic.Int32
	closes    atomic.Int32
}

func (f *fakeFactory) Create(context.Context, factory.CreateRequest) (run.Handle, error) {
	return nil, nil
}

func (f *fakeFactory) OperatingCount(context.Context) (int, error) { return 0, nil }

func (f *fakeFactory) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	if f.onShutdown != nil {
		f.onShutdown()
	}
	return f.shutdownErr
}

func (f *fakeFactory) Close() error {
	f.closes.Add(1)
	return nil
}

//go:build unix

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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runfactory/internal/log"
)

func drainAll(p Process) (out, errOut []string) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	collect := func(dst *[]string) Sink {
		return func(rec Record) {
			mu.Lock()
			*dst = append(*dst, rec.Line)
			mu.Unlock()
		}
	}
	wg.Add(2)
	go func() { defer wg.Done(); Drain(p.Stdout(), "test", StreamOut, log.Discard(), collect(&out)) }()
	go func() { defer wg.Done(); Drain(p.Stderr(), "test", StreamErr, log.Discard(), collect(&errOut)) }()
	wg.Wait()
	return out, errOut
}

func TestSpawner_LaunchCapturesOutputAndExit(t *testing.T) {
	p, err := NewSpawner().Launch(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", `echo "$GREETING"; echo oops >&2; exit 3`},
		Env:  []string{"GREETING=hello"},
	})
	require.NoError(t, err)

	out, errOut := drainAll(p)
	require.True(t, WaitForExit(p, 5*time.Second))

	assert.Equal(t, []string{"hello"}, out)
	assert.Equal(t, []string{"oops"}, errOut)
	code, ok := p.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestSpawner_TerminateReportsSignal(t *testing.T) {
	p, err := NewSpawner().Launch(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "exec sleep 30"}})
	require.NoError(t, err)
	go drainAll(p)

	_, ok := p.ExitCode()
	assert.False(t, ok, "process should still be running")
	assert.True(t, IsProcessRunning(p.Pid()))

	require.NoError(t, p.Terminate())
	require.True(t, WaitForExit(p, 5*time.Second))

	status := DecodeExit(p.ExitCode())
	assert.Equal(t, ExitSignaled, status.Kind)
	assert.Equal(t, 15, status.Signal)

	// Signalling a reaped process is not an error.
	assert.NoError(t, p.Terminate())
}

func TestSpawner_LaunchErrors(t *testing.T) {
	s := NewSpawner()

	_, err := s.Launch(context.Background(), Command{})
	assert.Error(t, err)

	_, err = s.Launch(context.Background(), Command{Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Launch(ctx, Command{Path: "/bin/true"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpawner_WorkDir(t *testing.T) {
	dir := t.TempDir()
	p, err := NewSpawner().Launch(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "pwd"}, Dir: dir})
	require.NoError(t, err)

	out, _ := drainAll(p)
	require.True(t, WaitForExit(p, 5*time.Second))
	require.Len(t, out, 1)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(out[0])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "factory.jsonl")
	l := NewEventLog(path)

	require.NoError(t, l.LogStart("runfactory-1", 100))
	require.NoError(t, l.LogStartSuccess("runfactory-1", 100, 2, 120*time.Millisecond))
	require.NoError(t, l.LogStop("runfactory-1", 100, DecodeExit(143, true), true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var events []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev Event
		require.NoError(t, dec.Decode(&ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "start_success", events[1].Event)
	assert.Equal(t, 2, events[1].Checks)
	assert.Equal(t, "stop_forced", events[2].Event)
	require.NotNil(t, events[2].ExitCode)
	assert.Equal(t, 143, *events[2].ExitCode)

	var nilLog *EventLog
	assert.NoError(t, nilLog.LogStart("x", 1))
}

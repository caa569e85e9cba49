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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one factory lifecycle event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // "start", "start_success", "stop", ...
	Process   string    `json:"process,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Checks    int       `json:"checks,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventLog appends factory lifecycle events to a JSON-lines file. A nil
// *EventLog or one with an empty path discards events.
type EventLog struct {
	mu      sync.Mutex
	logPath string
}

// NewEventLog creates an event log writing to logPath.
func NewEventLog(logPath string) *EventLog {
	return &EventLog{logPath: logPath}
}

// LogStart records that a factory process was launched.
func (l *EventLog) LogStart(process string, pid int) error {
	return l.write(Event{
		Event:   "start",
		Process: process,
		PID:     pid,
		Success: true,
		Message: "factory process launched",
	})
}

// LogStartSuccess records that the factory bound its name.
func (l *EventLog) LogStartSuccess(process string, pid, checks int, duration time.Duration) error {
	return l.write(Event{
		Event:   "start_success",
		Process: process,
		PID:     pid,
		Checks:  checks,
		Success: true,
		Message: fmt.Sprintf("factory ready (checks: %d, duration: %v)", checks, duration),
	})
}

// LogStartFailure records a failed startup.
func (l *EventLog) LogStartFailure(process string, checks int, err error) error {
	return l.write(Event{
		Event:   "start_failure",
		Process: process,
		Checks:  checks,
		Message: "factory failed to start",
		Error:   errString(err),
	})
}

// LogStop records the outcome of a teardown.
func (l *EventLog) LogStop(process string, pid int, status ExitStatus, forced bool) error {
	ev := Event{
		Event:   "stop",
		Process: process,
		PID:     pid,
		Success: status.Kind != ExitUnknown,
		Message: status.String(),
	}
	if forced {
		ev.Event = "stop_forced"
	}
	if status.Kind != ExitUnknown {
		code := status.Code
		ev.ExitCode = &code
	}
	return l.write(ev)
}

func (l *EventLog) write(ev Event) error {
	if l == nil || l.logPath == "" {
		return nil
	}
	ev.Timestamp = time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

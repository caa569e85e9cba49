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

// Package run defines workflow runs as seen by the factory: their status
// machine, the builders that create them, and the wire service that lets
// callers drive a run living in a worker process.
//
// A run starts Initialized and moves through:
//
//	initialized -> operating
//	operating   -> stopped | finished
//	stopped     -> operating | finished
//
// Every other change, including staying in the same status, is rejected
// with a KindIllegalStateTransition error and leaves the status as it was.
package run

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// Status is the lifecycle status of a run.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusOperating   Status = "operating"
	StatusStopped     Status = "stopped"
	StatusFinished    Status = "finished"
)

var transitions = map[Status][]Status{
	StatusInitialized: {StatusOperating},
	StatusOperating:   {StatusStopped, StatusFinished},
	StatusStopped:     {StatusOperating, StatusFinished},
}

// IsValid checks if a status is one of the four known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusInitialized, StatusOperating, StatusStopped, StatusFinished:
		return true
	}
	return false
}

// IsTerminal returns true for Finished.
func (s Status) IsTerminal() bool {
	return s == StatusFinished
}

// ParseStatus converts a wire value to a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", &rferrors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown run status %q", v)}
	}
	return s, nil
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Action is a side effect applied while changing status. If it fails the
// status is left unchanged.
type Action func(ctx context.Context, from, to Status) error

// Machine holds the status of one run and serialises changes to it.
type Machine struct {
	mu        sync.Mutex
	status    Status
	updatedAt time.Time
}

// NewMachine returns a machine in StatusInitialized.
func NewMachine() *Machine {
	return &Machine{status: StatusInitialized, updatedAt: time.Now()}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// UpdatedAt returns when the status last changed.
func (m *Machine) UpdatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatedAt
}

// SetStatus moves the machine to `to`, running apply first when non-nil.
// It returns the resulting status.
func (m *Machine) SetStatus(ctx context.Context, to Status, apply Action) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.status
	if !CanTransition(from, to) {
		return from, &rferrors.Error{
			Kind:    rferrors.KindIllegalStateTransition,
			Op:      "run.set_status",
			Message: fmt.Sprintf("cannot move run from %s to %s", from, to),
		}
	}
	if apply != nil {
		if err := apply(ctx, from, to); err != nil {
			return from, fmt.Errorf("run.set_status %s -> %s: %w", from, to, err)
		}
	}
	m.status = to
	m.updatedAt = time.Now()
	return to, nil
}

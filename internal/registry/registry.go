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

// Package registry implements the shared name service that worker factories
// publish themselves in and that supervisors poll to find them.
package registry

import (
	"context"
	"time"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// Handle is what a name is bound to: enough to reach the factory that owns it.
type Handle struct {
	Name    string    `json:"name"`
	Address string    `json:"address"`
	PID     int       `json:"pid,omitempty"`
	BoundAt time.Time `json:"bound_at"`
}

// Client is the registry contract used by supervisors and workers.
//
// Lookup and Unbind fail with a KindNotBound error for absent names, Bind
// with KindAlreadyBound for taken ones. Any failure to reach the registry
// itself is reported as KindRegistryUnreachable.
type Client interface {
	Lookup(ctx context.Context, name string) (Handle, error)
	Bind(ctx context.Context, name string, h Handle) error
	Unbind(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// Store persists bindings for a registry server.
type Store interface {
	Put(ctx context.Context, h Handle) error
	Get(ctx context.Context, name string) (Handle, error)
	Delete(ctx context.Context, name string) error
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// Local is a Client that talks to a Store in-process.
type Local struct {
	store Store
}

var _ Client = (*Local)(nil)

// NewLocal returns a Client backed directly by store.
func NewLocal(store Store) *Local {
	return &Local{store: store}
}

// Lookup returns the handle bound to name.
func (l *Local) Lookup(ctx context.Context, name string) (Handle, error) {
	h, err := l.store.Get(ctx, name)
	if err != nil {
		return Handle{}, classify("registry.lookup", name, err)
	}
	return h, nil
}

// Bind binds name to h. h.Name is overwritten with name.
func (l *Local) Bind(ctx context.Context, name string, h Handle) error {
	h.Name = name
	if h.BoundAt.IsZero() {
		h.BoundAt = time.Now().UTC()
	}
	return classify("registry.bind", name, l.store.Put(ctx, h))
}

// Unbind removes name.
func (l *Local) Unbind(ctx context.Context, name string) error {
	return classify("registry.unbind", name, l.store.Delete(ctx, name))
}

// List returns every bound name in sorted order.
func (l *Local) List(ctx context.Context) ([]string, error) {
	names, err := l.store.Names(ctx)
	if err != nil {
		return nil, classify("registry.list", "", err)
	}
	return names, nil
}

// classify keeps binding errors as they are and turns anything else into
// KindRegistryUnreachable.
func classify(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch rferrors.KindOf(err) {
	case rferrors.KindNotBound, rferrors.KindAlreadyBound, rferrors.KindRegistryUnreachable:
		return err
	}
	e := rferrors.New(rferrors.KindRegistryUnreachable, op, "")
	e.Name = name
	e.Cause = err
	return e
}

func notBound(op, name string) error {
	e := rferrors.New(rferrors.KindNotBound, op, "")
	e.Name = name
	return e
}

func alreadyBound(op, name string) error {
	e := rferrors.New(rferrors.KindAlreadyBound, op, "")
	e.Name = name
	return e
}

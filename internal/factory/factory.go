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

// Package factory defines the remote run factory contract, the proxy the
// supervisor uses to call a live factory, and the gRPC service a worker
// hosts to answer it.
package factory

import (
	"context"

	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/run"
)

// CreateRequest asks a factory for one run. It is built by the caller and
// consumed once; the same request is re-sent unchanged on retries.
type CreateRequest struct {
	// Workflow is the container document wrapping the workflow.
	Workflow string `json:"workflow"`
	// Creator is the identity of the user creating the run.
	Creator string `json:"creator"`
	// RunID identifies the run across every attempt.
	RunID string `json:"run_id"`
	// Notify is an optional result-notification destination.
	Notify string `json:"notify,omitempty"`
}

// Factory is a handle to a live run factory.
//
// Errors are classified: KindConnectionLost and KindUnbound mean the factory
// should be restarted, KindInvocationFailed means it answered with an
// application failure.
type Factory interface {
	Create(ctx context.Context, req CreateRequest) (run.Handle, error)
	OperatingCount(ctx context.Context) (int, error)
	// Shutdown asks the factory to withdraw and exit. It does not wait for
	// the process to go away.
	Shutdown(ctx context.Context) error
	// Close drops the handle without contacting the factory.
	Close() error
}

// Dialer produces a Factory for a registry binding.
type Dialer func(ctx context.Context, h registry.Handle) (Factory, error)

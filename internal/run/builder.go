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
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// BuildRequest carries everything a builder needs to create one run.
type BuildRequest struct {
	// Command is the engine executable the worker was started with.
	Command string
	// Args are extra engine arguments, placed before the workflow file.
	Args []string
	// Workflow is the serialised workflow document.
	Workflow string
	// RunID identifies the run.
	RunID string
	// Creator is the identity of the user creating the run.
	Creator string
	// Notify is an optional destination for result notifications.
	Notify string
	// WorkDir is the parent directory for per-run files.
	WorkDir string
	// Logger receives engine output and run events.
	Logger *slog.Logger
}

// ValidateRunID checks that id can name a run directory: it must be
// non-empty and must not contain path separators or "..".
func ValidateRunID(id string) error {
	switch {
	case id == "":
		return &rferrors.ValidationError{Field: "run_id", Message: "run ID is required"}
	case strings.ContainsAny(id, `/\`) || strings.Contains(id, ".."):
		return &rferrors.ValidationError{Field: "run_id", Message: fmt.Sprintf("invalid run ID %q", id)}
	}
	return nil
}

// Builder creates a run.
type Builder func(ctx context.Context, req BuildRequest) (Handle, error)

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{}
)

// RegisterBuilder makes a builder available by name. It panics on a
// duplicate name, like database/sql drivers.
func RegisterBuilder(name string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if b == nil {
		panic("run: RegisterBuilder builder is nil")
	}
	if _, dup := builders[name]; dup {
		panic("run: RegisterBuilder called twice for " + name)
	}
	builders[name] = b
}

// LookupBuilder returns the builder registered under name.
func LookupBuilder(name string) (Builder, error) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown run builder %q (available: %v)", name, builderNames())
	}
	return b, nil
}

// Builders lists registered builder names in sorted order.
func Builders() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	return builderNames()
}

func builderNames() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func init() {
	RegisterBuilder("static", BuildStatic)
	RegisterBuilder("engine", BuildEngine)
}

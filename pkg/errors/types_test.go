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

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *rferrors.Error
		wantMsg string
	}{
		{
			name:    "kind only",
			err:     &rferrors.Error{Kind: rferrors.KindNotBound},
			wantMsg: "not bound",
		},
		{
			name:    "op and name",
			err:     &rferrors.Error{Kind: rferrors.KindNotBound, Op: "registry.lookup", Name: "W1"},
			wantMsg: "registry.lookup: not bound [W1]",
		},
		{
			name: "attempts and cause",
			err: &rferrors.Error{
				Kind:     rferrors.KindCreationExhausted,
				Op:       "coordinator.create",
				Name:     "runfactory-abc",
				Attempts: 3,
				Message:  "total failure to connect to factory",
				Cause:    errors.New("connection refused"),
			},
			wantMsg: "coordinator.create: total failure to connect to factory [runfactory-abc] after 3 attempts: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", &rferrors.Error{Kind: rferrors.KindConnectionLost, Op: "factory.create"})

	if !errors.Is(err, rferrors.ErrConnectionLost) {
		t.Error("errors.Is should match ErrConnectionLost through wrapping")
	}
	if errors.Is(err, rferrors.ErrUnbound) {
		t.Error("errors.Is should not match a different kind")
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		kind rferrors.Kind
		want bool
	}{
		{rferrors.KindRegistryUnreachable, true},
		{rferrors.KindNotBound, true},
		{rferrors.KindConnectionLost, true},
		{rferrors.KindUnbound, true},
		{rferrors.KindAlreadyBound, false},
		{rferrors.KindInvocationFailed, false},
		{rferrors.KindIllegalStateTransition, false},
		{rferrors.KindProcessStartupTimeout, false},
		{rferrors.KindCreationExhausted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &rferrors.Error{Kind: tt.kind}
			if got := e.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
			if got := e.ErrorType(); got != string(tt.kind) {
				t.Errorf("ErrorType() = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	cause := errors.New("yaml: line 3")
	err := &rferrors.ConfigError{Key: "config_file", Reason: "failed to parse", Cause: cause}

	if !strings.Contains(err.Error(), "config error at config_file: failed to parse") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("ConfigError should unwrap to its cause")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &rferrors.ValidationError{Field: "builder", Message: "unknown builder \"x\""}
	if got, want := err.Error(), "validation failed on builder: unknown builder \"x\""; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = &rferrors.ValidationError{Message: "missing arguments"}
	if got, want := err.Error(), "validation failed: missing arguments"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

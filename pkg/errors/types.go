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

package errors

import (
	"fmt"
	"strings"
)

// Kind is the closed set of failure categories the run factory reports.
type Kind string

const (
	// KindRegistryUnreachable means the name registry itself could not be
	// contacted. Transient while polling for a factory.
	KindRegistryUnreachable Kind = "registry_unreachable"

	// KindNotBound means the registry is reachable but the name has no
	// binding (yet).
	KindNotBound Kind = "not_bound"

	// KindAlreadyBound means a bind was attempted for a name in use.
	KindAlreadyBound Kind = "already_bound"

	// KindConnectionLost means a factory that was reachable no longer is.
	// The coordinator restarts the factory on this kind.
	KindConnectionLost Kind = "connection_lost"

	// KindInvocationFailed means the call reached the factory (or run) and
	// it reported an application failure.
	KindInvocationFailed Kind = "invocation_failed"

	// KindUnbound means the factory withdrew its registry name.
	KindUnbound Kind = "unbound"

	// KindIllegalStateTransition means a run status change was refused.
	KindIllegalStateTransition Kind = "illegal_state_transition"

	// KindProcessStartupTimeout means a spawned factory never announced
	// itself before its deadline.
	KindProcessStartupTimeout Kind = "process_startup_timeout"

	// KindCreationExhausted means every run creation attempt failed.
	KindCreationExhausted Kind = "creation_exhausted"
)

// Sentinels for errors.Is comparisons. Any *Error with the same Kind
// matches.
var (
	ErrRegistryUnreachable    = &Error{Kind: KindRegistryUnreachable}
	ErrNotBound               = &Error{Kind: KindNotBound}
	ErrAlreadyBound           = &Error{Kind: KindAlreadyBound}
	ErrConnectionLost         = &Error{Kind: KindConnectionLost}
	ErrInvocationFailed       = &Error{Kind: KindInvocationFailed}
	ErrUnbound                = &Error{Kind: KindUnbound}
	ErrIllegalStateTransition = &Error{Kind: KindIllegalStateTransition}
	ErrProcessStartupTimeout  = &Error{Kind: KindProcessStartupTimeout}
	ErrCreationExhausted      = &Error{Kind: KindCreationExhausted}
)

// Error is a classified failure carrying the operation, the name it was
// about (registry name or factory process name) and the original cause.
type Error struct {
	// Kind is the failure category.
	Kind Kind

	// Op is the operation that failed (e.g. "registry.lookup").
	Op string

	// Name is the registry or factory process name involved, if any.
	Name string

	// Attempts is the number of attempts made (creation and startup only).
	Attempts int

	// Message is an optional human-readable description.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Message != "" {
		sb.WriteString(e.Message)
	} else {
		sb.WriteString(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	if e.Name != "" {
		fmt.Fprintf(&sb, " [%s]", e.Name)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&sb, " after %d attempts", e.Attempts)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ErrorType implements ErrorClassifier.
func (e *Error) ErrorType() string {
	return string(e.Kind)
}

// IsRetryable implements ErrorClassifier.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindRegistryUnreachable, KindNotBound, KindConnectionLost, KindUnbound:
		return true
	default:
		return false
	}
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g. "factory.wait_seconds")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g. file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ValidationError represents bad input: wrong arguments, unknown builder
// names, malformed workflow documents.
type ValidationError struct {
	// Field identifies which input failed validation
	Field string

	// Message is the human-readable error description
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

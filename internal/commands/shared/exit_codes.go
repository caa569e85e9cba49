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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// Exit codes for runfactory commands
const (
	ExitSuccess     = 0
	ExitFailed      = 1
	ExitConfigError = 2
	ExitUnavailable = 69 // EX_UNAVAILABLE from sysexits.h
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for unusable configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// NewUnavailableError creates an error for an unreachable registry,
// factory or service
func NewUnavailableError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUnavailable, Message: msg, Cause: cause}
}

// ExitCode picks the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var cfgErr *rferrors.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	switch rferrors.KindOf(err) {
	case rferrors.KindRegistryUnreachable, rferrors.KindConnectionLost,
		rferrors.KindProcessStartupTimeout, rferrors.KindCreationExhausted:
		return ExitUnavailable
	}
	return ExitFailed
}

// HandleExitError prints err and exits with the matching code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	printError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, RenderError("Error: "+err.Error()))
}

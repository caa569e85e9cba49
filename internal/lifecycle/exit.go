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
	"fmt"
	"os"
	"syscall"
)

// ExitKind classifies how a process ended.
type ExitKind int

const (
	// ExitUnknown means no exit code was obtainable: the process is not yet dead.
	ExitUnknown ExitKind = iota
	// ExitNormal means the process called exit.
	ExitNormal
	// ExitSignaled means the process was terminated by a signal.
	ExitSignaled
)

// ExitStatus is a decoded exit code.
type ExitStatus struct {
	Kind ExitKind
	// Code is the raw code, -1 when Kind is ExitUnknown.
	Code int
	// Signal is set when Kind is ExitSignaled.
	Signal int
}

// DecodeExit classifies an exit code using the shell convention. Codes in
// (128, 255] mean the process died from signal code-128, codes in [0, 128]
// are normal exits. ok=false or a negative code means the process has not
// exited. Codes above 255 cannot come from a wait status and are reported
// as normal exits.
func DecodeExit(code int, ok bool) ExitStatus {
	switch {
	case !ok || code < 0:
		return ExitStatus{Kind: ExitUnknown, Code: -1}
	case code > 128 && code <= 255:
		return ExitStatus{Kind: ExitSignaled, Code: code, Signal: code - 128}
	default:
		return ExitStatus{Kind: ExitNormal, Code: code}
	}
}

func (s ExitStatus) String() string {
	switch s.Kind {
	case ExitSignaled:
		return fmt.Sprintf("terminated by signal %d", s.Signal)
	case ExitNormal:
		return fmt.Sprintf("exited with code %d", s.Code)
	default:
		return "not yet dead"
	}
}

// exitCode converts a wait result to a shell-style exit code.
func exitCode(ps *os.ProcessState) (int, bool) {
	if ps == nil {
		return -1, false
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	code := ps.ExitCode()
	return code, code >= 0
}

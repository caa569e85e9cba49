//go:build !unix

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
	"errors"
	"os"
	"syscall"
)

var errUnsupported = errors.New("lifecycle: not supported on this platform")

func sysProcAttr() *syscall.SysProcAttr { return nil }

func terminate(p *os.Process) error { return p.Kill() }

func probe(p *os.Process) error {
	if p == nil {
		return ErrProcessNotRunning
	}
	return nil
}

// Suspend is not supported on this platform.
func Suspend(int) error { return errUnsupported }

// Resume is not supported on this platform.
func Resume(int) error { return errUnsupported }

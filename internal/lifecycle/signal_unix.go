//go:build unix

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
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	// Own process group so a terminal Ctrl-C aimed at the supervisor does not
	// reach the worker before the supervisor can shut it down.
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func probe(p *os.Process) error {
	return p.Signal(syscall.Signal(0))
}

// Suspend stops the process with SIGSTOP.
func Suspend(pid int) error {
	return SendSignal(pid, syscall.SIGSTOP)
}

// Resume continues a stopped process with SIGCONT.
func Resume(pid int) error {
	return SendSignal(pid, syscall.SIGCONT)
}

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

/*
Package lifecycle launches and tears down worker subprocesses.

It owns the OS-facing half of factory supervision:

  - Spawner starts a subprocess with its stdout and stderr on pipes and
    records its exit status when it dies.
  - Lines and Drain turn one of those pipes into a stream of Records.
  - DecodeExit classifies a raw exit code as a normal exit, a signal, or
    "not yet dead".
  - EventLog appends factory start/stop events to a JSON-lines file.

# Draining Output

Each subprocess gets two drains, one per stream. A drain ends at EOF or on
the first read error and always closes its pipe:

	g.Go(func() error {
	    lifecycle.Drain(proc.Stdout(), name, lifecycle.StreamOut, logger, sink)
	    return nil
	})

# Exit Codes

Exit codes follow the shell convention: a process killed by signal N
reports 128+N. DecodeExit(143, true) is therefore "signal 15".
*/
package lifecycle

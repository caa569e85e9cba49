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

import "context"

// StaticRun is a run with a status and nothing behind it. It backs dry runs
// and tests.
type StaticRun struct {
	id      string
	machine *Machine
}

var _ Handle = (*StaticRun)(nil)

// BuildStatic is the "static" builder.
func BuildStatic(_ context.Context, req BuildRequest) (Handle, error) {
	return &StaticRun{id: req.RunID, machine: NewMachine()}, nil
}

func (r *StaticRun) ID() string { return r.id }

func (r *StaticRun) Status(context.Context) (Status, error) {
	return r.machine.Status(), nil
}

func (r *StaticRun) SetStatus(ctx context.Context, to Status) (Status, error) {
	return r.machine.SetStatus(ctx, to, nil)
}

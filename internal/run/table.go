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
	"sync"
)

// Table holds the runs created by one factory, keyed by run ID.
type Table struct {
	mu   sync.RWMutex
	runs map[string]Handle
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{runs: make(map[string]Handle)}
}

// Add stores h, replacing any run with the same ID.
func (t *Table) Add(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[h.ID()] = h
}

// Get returns the run with the given ID.
func (t *Table) Get(id string) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.runs[id]
	return h, ok
}

// Len returns the number of runs in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}

// All returns every run in the table.
func (t *Table) All() []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handles := make([]Handle, 0, len(t.runs))
	for _, h := range t.runs {
		handles = append(handles, h)
	}
	return handles
}

// Operating counts runs whose status is StatusOperating.
func (t *Table) Operating(ctx context.Context) int {
	n := 0
	for _, h := range t.All() {
		if s, err := h.Status(ctx); err == nil && s == StatusOperating {
			n++
		}
	}
	return n
}

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

package registry

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps bindings in a map. It is the default backend for an
// embedded registry.
type MemoryStore struct {
	mu       sync.RWMutex
	bindings map[string]Handle
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[string]Handle)}
}

func (m *MemoryStore) Put(_ context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bindings[h.Name]; exists {
		return alreadyBound("memory.put", h.Name)
	}
	m.bindings[h.Name] = h
	return nil
}

func (m *MemoryStore) Get(_ context.Context, name string) (Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.bindings[name]
	if !ok {
		return Handle{}, notBound("memory.get", name)
	}
	return h, nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bindings[name]; !ok {
		return notBound("memory.delete", name)
	}
	delete(m.bindings, name)
	return nil
}

func (m *MemoryStore) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.bindings))
	for name := range m.bindings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (m *MemoryStore) Close() error { return nil }

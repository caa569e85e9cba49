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

import "sync"

// RingBuffer keeps the most recent records of a subprocess.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Record
	head    int
	tail    int
	size    int
	count   int
}

// NewRingBuffer creates a ring buffer holding up to capacity records.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &RingBuffer{
		entries: make([]Record, capacity),
		size:    capacity,
	}
}

// Add appends a record, evicting the oldest when full.
func (rb *RingBuffer) Add(rec Record) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.tail] = rec
	rb.tail = (rb.tail + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % rb.size
	}
}

// Last returns the last n records, oldest first.
func (rb *RingBuffer) Last(n int) []Record {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count || n < 0 {
		n = rb.count
	}
	result := make([]Record, n)
	start := rb.count - n
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(rb.head+start+i)%rb.size]
	}
	return result
}

// Reset drops every record.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head, rb.tail, rb.count = 0, 0, 0
}

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
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runfactory/internal/log"
)

type countingCloser struct {
	io.Reader
	closes atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

type failingReader struct {
	data string
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.done {
		return 0, errors.New("read: connection reset")
	}
	f.done = true
	return copy(p, f.data), nil
}

func TestLines(t *testing.T) {
	r := &countingCloser{Reader: strings.NewReader("first\nsecond\nthird")}

	var got []Record
	for rec := range Lines(r, "runfactory-1", StreamErr, log.Discard()) {
		got = append(got, rec)
	}

	require.Len(t, got, 3)
	assert.Equal(t, Record{Source: "runfactory-1", Stream: StreamErr, Line: "first"}, got[0])
	assert.Equal(t, "third", got[2].Line)
	assert.Equal(t, int32(1), r.closes.Load())
}

func TestLines_EarlyBreakCloses(t *testing.T) {
	r := &countingCloser{Reader: strings.NewReader("a\nb\nc\n")}

	for rec := range Lines(r, "p", StreamOut, log.Discard()) {
		if rec.Line == "a" {
			break
		}
	}
	assert.Equal(t, int32(1), r.closes.Load())
}

func TestLines_SecondIterationClosesOnce(t *testing.T) {
	r := &countingCloser{Reader: strings.NewReader("only\n")}
	seq := Lines(r, "p", StreamOut, log.Discard())

	var n int
	for range seq {
		n++
	}
	for range seq {
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), r.closes.Load())
}

func TestLines_ReadErrorEndsQuietly(t *testing.T) {
	r := &countingCloser{Reader: &failingReader{data: "partial\nline"}}

	var lines []string
	Drain(r, "p", StreamOut, log.Discard(), func(rec Record) {
		lines = append(lines, rec.Line)
	})

	assert.Equal(t, []string{"partial", "line"}, lines)
	assert.Equal(t, int32(1), r.closes.Load())
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, line := range []string{"1", "2", "3", "4", "5"} {
		rb.Add(Record{Line: line})
	}

	lines := func(recs []Record) []string {
		var out []string
		for _, r := range recs {
			out = append(out, r.Line)
		}
		return out
	}

	assert.Equal(t, []string{"3", "4", "5"}, lines(rb.Last(-1)))
	assert.Equal(t, []string{"4", "5"}, lines(rb.Last(2)))
	assert.Equal(t, []string{"3", "4", "5"}, lines(rb.Last(10)))

	rb.Reset()
	assert.Empty(t, rb.Last(-1))
}

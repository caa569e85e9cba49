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
	"bufio"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync"

	"github.com/tombee/runfactory/internal/log"
)

// Stream identifies which subprocess output a Record came from.
type Stream string

const (
	StreamOut Stream = "out"
	StreamErr Stream = "err"
)

// maxLineSize bounds a single output line. Longer lines end the drain.
const maxLineSize = 1024 * 1024

// Record is one line of subprocess output.
type Record struct {
	Source string `json:"source"`
	Stream Stream `json:"stream"`
	Line   string `json:"line"`
}

// Sink consumes drained records.
type Sink func(Record)

// Lines returns a lazy sequence over the lines of r. The sequence ends at
// EOF or on the first read error, which is logged at debug level and not
// returned. r is closed exactly once when the sequence completes, including
// when the consumer stops early. The sequence is single use.
func Lines(r io.ReadCloser, source string, stream Stream, logger *slog.Logger) iter.Seq[Record] {
	if logger == nil {
		logger = slog.Default()
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := r.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				logger.Debug("closing output stream failed",
					log.ProcessKey, source, log.StreamKey, string(stream), log.Error(err))
			}
		})
	}

	return func(yield func(Record) bool) {
		defer release()

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			if !yield(Record{Source: source, Stream: stream, Line: scanner.Text()}) {
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Debug("output stream ended with error",
				log.ProcessKey, source, log.StreamKey, string(stream), log.Error(err))
		}
	}
}

// Drain consumes r to completion, passing every line to sink.
func Drain(r io.ReadCloser, source string, stream Stream, logger *slog.Logger, sink Sink) {
	for rec := range Lines(r, source, stream, logger) {
		sink(rec)
	}
}

// LogSink returns a Sink that logs each record at info level.
func LogSink(logger *slog.Logger) Sink {
	return func(rec Record) {
		logger.Info(rec.Line, log.ProcessKey, rec.Source, log.StreamKey, string(rec.Stream))
	}
}

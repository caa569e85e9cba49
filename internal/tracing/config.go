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

package tracing

import (
	"fmt"
	"io"
)

// Exporter names a span export destination.
type Exporter string

const (
	// ExporterNone records spans without exporting them.
	ExporterNone Exporter = "none"

	// ExporterStdout writes spans to Config.Writer as JSON.
	ExporterStdout Exporter = "stdout"

	// ExporterOTLP sends spans to an OTLP collector over gRPC.
	ExporterOTLP Exporter = "otlp"

	// ExporterOTLPHTTP sends spans to an OTLP collector over HTTP.
	ExporterOTLPHTTP Exporter = "otlphttp"
)

// Config holds tracing configuration.
type Config struct {
	// ServiceName identifies this process in traces.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Exporter selects the span destination (default: none).
	Exporter Exporter

	// Endpoint is the collector address for the OTLP exporters.
	Endpoint string

	// Insecure disables TLS for the OTLP exporters.
	Insecure bool

	// Writer receives spans for the stdout exporter (default: os.Stdout).
	Writer io.Writer

	// PrettyPrint indents stdout output.
	PrettyPrint bool
}

// DefaultConfig returns a configuration that records spans locally
// without exporting them.
func DefaultConfig() Config {
	return Config{
		ServiceName: "runfactory",
		Exporter:    ExporterNone,
	}
}

// Validate checks the exporter selection.
func (c Config) Validate() error {
	switch c.Exporter {
	case "", ExporterNone, ExporterStdout:
		return nil
	case ExporterOTLP, ExporterOTLPHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("tracing: exporter %q requires an endpoint", c.Exporter)
		}
		return nil
	default:
		return fmt.Errorf("tracing: unknown exporter %q", c.Exporter)
	}
}

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

// Package tracing configures OpenTelemetry for the run factory.
//
// A Provider owns the SDK tracer and meter providers and installs them
// as the process globals, so packages that call otel.Tracer or
// otel.Meter pick them up without extra wiring. Spans are exported to
// stdout, an OTLP collector over gRPC or HTTP, or dropped entirely.
// Metrics recorded through the OpenTelemetry API are exposed on the
// Prometheus registry the monitor endpoint serves.
package tracing

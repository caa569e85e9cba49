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

// Package metrics defines the Prometheus metrics exported by the run factory.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runfactory_runs_created_total",
			Help: "Total runs created through the coordinator",
		},
	)

	runCreateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runfactory_run_create_failures_total",
			Help: "Total failed run creations by error kind",
		},
		[]string{"kind"},
	)

	createRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runfactory_run_create_retries_total",
			Help: "Total run creation attempts retried after restarting the factory",
		},
	)

	factoryStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runfactory_factory_starts_total",
			Help: "Total factory process starts by outcome (ready, timeout, launch_error)",
		},
		[]string{"outcome"},
	)

	factoryStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runfactory_factory_stops_total",
			Help: "Total factory process teardowns by mode (graceful, forced, unresolved)",
		},
		[]string{"mode"},
	)

	startupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runfactory_factory_startup_seconds",
			Help:    "Time from launch until the factory bound its registry name",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	lastStartupChecks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runfactory_factory_last_startup_checks",
			Help: "Registry lookups performed during the most recent factory startup",
		},
	)

	lastExitCode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runfactory_factory_last_exit_code",
			Help: "Exit code of the most recently stopped factory process, -1 if unresolved",
		},
	)

	factoryReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runfactory_factory_ready",
			Help: "1 while a factory process is ready to create runs",
		},
	)
)

// Factory start outcomes.
const (
	StartReady       = "ready"
	StartTimeout     = "timeout"
	StartLaunchError = "launch_error"
)

// Factory stop modes.
const (
	StopGraceful   = "graceful"
	StopForced     = "forced"
	StopUnresolved = "unresolved"
)

// RecordRunCreated increments the created runs counter.
func RecordRunCreated() {
	runsCreated.Inc()
}

// RecordRunCreateFailure counts a failed creation. kind is the error kind,
// or "unknown".
func RecordRunCreateFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	runCreateFailures.WithLabelValues(kind).Inc()
}

// RecordCreateRetry counts an attempt retried after a factory restart.
func RecordCreateRetry() {
	createRetries.Inc()
}

// RecordFactoryStart records the outcome of a factory startup.
func RecordFactoryStart(outcome string, checks int, elapsed time.Duration) {
	factoryStarts.WithLabelValues(outcome).Inc()
	lastStartupChecks.Set(float64(checks))
	if outcome == StartReady {
		startupDuration.Observe(elapsed.Seconds())
		factoryReady.Set(1)
	}
}

// RecordFactoryStop records a teardown. code is -1 when no exit code was
// obtained.
func RecordFactoryStop(mode string, code int) {
	factoryStops.WithLabelValues(mode).Inc()
	lastExitCode.Set(float64(code))
	factoryReady.Set(0)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

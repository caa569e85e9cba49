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

// Package config loads run factory configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	rferrors "github.com/tombee/runfactory/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config is the complete run factory configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Registry RegistryConfig `yaml:"registry"`
	Factory  FactoryConfig  `yaml:"factory"`
	Worker   WorkerConfig   `yaml:"worker"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`
	// Format is json or text. Default: json
	Format string `yaml:"format"`
	// AddSource includes file:line in records.
	AddSource bool `yaml:"add_source"`
}

// RegistryConfig configures the name registry.
type RegistryConfig struct {
	// Address is the registry's gRPC address.
	// Environment: RUNFACTORY_REGISTRY_ADDR
	// Default: 127.0.0.1:7410
	Address string `yaml:"address"`

	// Embedded serves the registry inside the coordinator process.
	// Default: true
	Embedded *bool `yaml:"embedded,omitempty"`

	// Backend stores bindings for an embedded or standalone registry:
	// memory or sqlite. Default: memory
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	// Default: <data dir>/registry.db
	SQLitePath string `yaml:"sqlite_path"`
}

// IsEmbedded reports whether the registry is served in-process.
func (r RegistryConfig) IsEmbedded() bool {
	return r.Embedded == nil || *r.Embedded
}

// FactoryConfig configures the factory supervisor and coordinator.
type FactoryConfig struct {
	// ProcessNamePrefix prefixes generated factory names.
	// Default: runfactory-
	ProcessNamePrefix string `yaml:"process_name_prefix"`

	// WaitSeconds bounds startup polling. Default: 40
	WaitSeconds int `yaml:"wait_seconds"`

	// Sleep is the interval between registry lookups. Default: 1s
	Sleep time.Duration `yaml:"sleep"`

	// GracefulWait is how long to wait for exit after a shutdown request.
	// Default: 700ms
	GracefulWait time.Duration `yaml:"graceful_wait"`

	// ForcedWait is how long to wait for exit after termination.
	// Default: 350ms
	ForcedWait time.Duration `yaml:"forced_wait"`

	// CreateAttempts bounds run creation. Default: 3
	CreateAttempts int `yaml:"create_attempts"`

	// RestartRate limits factory restarts per second across calls.
	// Zero disables the limit.
	RestartRate float64 `yaml:"restart_rate"`

	// CallTimeout bounds each remote factory call. Default: 30s
	CallTimeout time.Duration `yaml:"call_timeout"`

	// EventLog is an optional JSON lines file of lifecycle events.
	EventLog string `yaml:"event_log,omitempty"`
}

// WaitTime returns WaitSeconds as a duration.
func (f FactoryConfig) WaitTime() time.Duration {
	return time.Duration(f.WaitSeconds) * time.Second
}

// WorkerConfig describes how factory subprocesses are launched.
type WorkerConfig struct {
	// Binary is the worker executable.
	// Environment: RUNFACTORY_WORKER_BINARY
	Binary string `yaml:"binary"`

	// ExecuteCommand is the engine command handed to the worker.
	// Environment: RUNFACTORY_EXECUTE_COMMAND
	ExecuteCommand string `yaml:"execute_command"`

	// ExtraArgs follow the process name on the worker command line.
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// WorkDir is the worker's working directory. Default: the temp dir
	WorkDir string `yaml:"work_dir"`

	// Builder names the run builder the worker uses. Default: engine
	Builder string `yaml:"builder"`
}

// MonitorConfig configures the HTTP monitoring endpoint.
type MonitorConfig struct {
	// Address to listen on; empty disables the endpoint.
	// Environment: RUNFACTORY_MONITOR_ADDR
	Address string `yaml:"address"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is none, stdout, otlp or otlphttp. Default: none
	Exporter string `yaml:"exporter"`
	// Endpoint is the collector address for the OTLP exporters.
	Endpoint string `yaml:"endpoint"`
	// Insecure disables TLS for the OTLP exporters.
	Insecure bool `yaml:"insecure"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Registry: RegistryConfig{
			Address: "127.0.0.1:7410",
			Backend: "memory",
		},
		Factory: FactoryConfig{
			ProcessNamePrefix: "runfactory-",
			WaitSeconds:       40,
			Sleep:             time.Second,
			GracefulWait:      700 * time.Millisecond,
			ForcedWait:        350 * time.Millisecond,
			CreateAttempts:    3,
			CallTimeout:       30 * time.Second,
		},
		Worker: WorkerConfig{
			WorkDir: os.TempDir(),
			Builder: "engine",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

// Load reads configuration from configPath (if non-empty), fills in
// defaults, applies environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &rferrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &rferrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// applyDefaults fills in zero values so minimal files work.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Registry.Address == "" {
		c.Registry.Address = d.Registry.Address
	}
	if c.Registry.Backend == "" {
		c.Registry.Backend = d.Registry.Backend
	}
	if c.Registry.Backend == "sqlite" && c.Registry.SQLitePath == "" {
		c.Registry.SQLitePath = filepath.Join(DataDir(), "registry.db")
	}

	if c.Factory.ProcessNamePrefix == "" {
		c.Factory.ProcessNamePrefix = d.Factory.ProcessNamePrefix
	}
	if c.Factory.WaitSeconds == 0 {
		c.Factory.WaitSeconds = d.Factory.WaitSeconds
	}
	if c.Factory.Sleep == 0 {
		c.Factory.Sleep = d.Factory.Sleep
	}
	if c.Factory.GracefulWait == 0 {
		c.Factory.GracefulWait = d.Factory.GracefulWait
	}
	if c.Factory.ForcedWait == 0 {
		c.Factory.ForcedWait = d.Factory.ForcedWait
	}
	if c.Factory.CreateAttempts == 0 {
		c.Factory.CreateAttempts = d.Factory.CreateAttempts
	}
	if c.Factory.CallTimeout == 0 {
		c.Factory.CallTimeout = d.Factory.CallTimeout
	}

	if c.Worker.WorkDir == "" {
		c.Worker.WorkDir = d.Worker.WorkDir
	}
	if c.Worker.Builder == "" {
		c.Worker.Builder = d.Worker.Builder
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
}

// loadFromFile decodes a YAML file into c.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv applies environment overrides. Malformed numeric values
// are ignored.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("RUNFACTORY_DEBUG"); val == "1" || strings.ToLower(val) == "true" {
		c.Log.Level = "debug"
	}

	if val := os.Getenv("RUNFACTORY_REGISTRY_ADDR"); val != "" {
		c.Registry.Address = val
	}
	if val := os.Getenv("RUNFACTORY_REGISTRY_BACKEND"); val != "" {
		c.Registry.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("RUNFACTORY_REGISTRY_SQLITE_PATH"); val != "" {
		c.Registry.SQLitePath = val
	}

	if val := os.Getenv("RUNFACTORY_WAIT_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Factory.WaitSeconds = n
		}
	}
	if val := os.Getenv("RUNFACTORY_SLEEP"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Factory.Sleep = d
		}
	}
	if val := os.Getenv("RUNFACTORY_CREATE_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Factory.CreateAttempts = n
		}
	}
	if val := os.Getenv("RUNFACTORY_CALL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Factory.CallTimeout = d
		}
	}

	if val := os.Getenv("RUNFACTORY_WORKER_BINARY"); val != "" {
		c.Worker.Binary = val
	}
	if val := os.Getenv("RUNFACTORY_EXECUTE_COMMAND"); val != "" {
		c.Worker.ExecuteCommand = val
	}
	if val := os.Getenv("RUNFACTORY_WORK_DIR"); val != "" {
		c.Worker.WorkDir = val
	}
	if val := os.Getenv("RUNFACTORY_BUILDER"); val != "" {
		c.Worker.Builder = val
	}

	if val := os.Getenv("RUNFACTORY_MONITOR_ADDR"); val != "" {
		c.Monitor.Address = val
	}

	if val := os.Getenv("RUNFACTORY_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("RUNFACTORY_TRACING_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Registry.Address == "" {
		errs = append(errs, "registry.address is required")
	}
	switch c.Registry.Backend {
	case "memory":
	case "sqlite":
		if c.Registry.SQLitePath == "" {
			errs = append(errs, "registry.sqlite_path is required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("registry.backend must be one of [memory, sqlite], got %q", c.Registry.Backend))
	}

	if c.Factory.WaitSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("factory.wait_seconds must be positive, got %d", c.Factory.WaitSeconds))
	}
	if c.Factory.Sleep <= 0 {
		errs = append(errs, fmt.Sprintf("factory.sleep must be positive, got %v", c.Factory.Sleep))
	}
	if c.Factory.GracefulWait < 0 || c.Factory.ForcedWait < 0 {
		errs = append(errs, "factory.graceful_wait and factory.forced_wait must not be negative")
	}
	if c.Factory.CreateAttempts < 1 {
		errs = append(errs, fmt.Sprintf("factory.create_attempts must be at least 1, got %d", c.Factory.CreateAttempts))
	}
	if c.Factory.RestartRate < 0 {
		errs = append(errs, fmt.Sprintf("factory.restart_rate must not be negative, got %v", c.Factory.RestartRate))
	}
	if c.Factory.CallTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("factory.call_timeout must be positive, got %v", c.Factory.CallTimeout))
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp", "otlphttp":
		if c.Tracing.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("tracing.endpoint is required for exporter %q", c.Tracing.Exporter))
		}
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [none, stdout, otlp, otlphttp], got %q", c.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateWorker checks the settings needed to launch factories. Commands
// that only talk to the registry do not need them.
func (c *Config) ValidateWorker() error {
	if c.Worker.Binary == "" {
		return &rferrors.ConfigError{Key: "worker.binary", Reason: "is required to launch factories"}
	}
	if c.Worker.ExecuteCommand == "" {
		return &rferrors.ConfigError{Key: "worker.execute_command", Reason: "is required to launch factories"}
	}
	return nil
}

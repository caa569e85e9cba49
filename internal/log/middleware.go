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

package log

import (
	"context"
	"log/slog"
	"time"
)

// RPCRequest describes an inbound RPC for logging purposes.
type RPCRequest struct {
	// Method is the full RPC method name (e.g. "/runfactory.Factory/Create").
	Method string

	// RemoteAddr is the remote address of the caller, if known.
	RemoteAddr string
}

// RPCResponse describes the outcome of an RPC for logging purposes.
type RPCResponse struct {
	// Success indicates whether the request was successful.
	Success bool

	// Error is the error message if the request failed.
	Error string

	// DurationMs is the duration of the request in milliseconds.
	DurationMs int64
}

// LogRPCRequest logs an incoming RPC request at debug level.
func LogRPCRequest(ctx context.Context, logger *slog.Logger, req *RPCRequest) {
	logger.DebugContext(ctx, "rpc request received",
		"event", "rpc_request",
		"method", req.Method,
		"remote", req.RemoteAddr,
	)
}

// LogRPCResponse logs an RPC response. Failures are logged at warn level.
func LogRPCResponse(ctx context.Context, logger *slog.Logger, req *RPCRequest, resp *RPCResponse) {
	attrs := []any{
		"event", "rpc_response",
		"method", req.Method,
		"success", resp.Success,
		"duration_ms", resp.DurationMs,
	}
	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	if !resp.Success {
		logger.WarnContext(ctx, "rpc request failed", attrs...)
		return
	}
	logger.DebugContext(ctx, "rpc request completed", attrs...)
}

// RPCMiddleware wraps RPC handler functions with request/response logging.
type RPCMiddleware struct {
	logger *slog.Logger
}

// NewRPCMiddleware creates a new RPC logging middleware.
func NewRPCMiddleware(logger *slog.Logger) *RPCMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCMiddleware{logger: logger}
}

// Handle runs handler, logging the request when it arrives and the response
// when it completes.
func (m *RPCMiddleware) Handle(ctx context.Context, req *RPCRequest, handler func() error) error {
	start := time.Now()
	LogRPCRequest(ctx, m.logger, req)

	err := handler()

	resp := &RPCResponse{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	LogRPCResponse(ctx, m.logger, req, resp)

	return err
}

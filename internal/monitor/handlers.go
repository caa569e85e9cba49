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

package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tombee/runfactory/internal/factory"
	rferrors "github.com/tombee/runfactory/pkg/errors"
)

// CreateRunResponse is the body of a successful POST /runs.
type CreateRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunStats is the body of GET /runs.
type RunStats struct {
	Created   int `json:"created"`
	Operating int `json:"operating"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusServiceUnavailable, "no supervisor")
		return
	}
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run creation disabled")
		return
	}
	n, err := s.runs.OperatingCount(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RunStats{Created: s.runs.RunCount(), Operating: n})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run creation disabled")
		return
	}
	var req factory.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Workflow == "" {
		writeError(w, http.StatusBadRequest, "workflow is required")
		return
	}

	h, err := s.runs.CreateRun(r.Context(), req)
	if err != nil {
		s.logger.Warn("run creation failed", slog.String("creator", req.Creator), slog.Any("error", err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := CreateRunResponse{RunID: h.ID()}
	if st, err := h.Status(r.Context()); err == nil {
		resp.Status = string(st)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// statusFor maps a classified failure to an HTTP status.
func statusFor(err error) int {
	switch rferrors.KindOf(err) {
	case rferrors.KindInvocationFailed:
		return http.StatusUnprocessableEntity
	case rferrors.KindCreationExhausted, rferrors.KindProcessStartupTimeout,
		rferrors.KindConnectionLost, rferrors.KindUnbound, rferrors.KindRegistryUnreachable:
		return http.StatusServiceUnavailable
	}
	var verr *rferrors.ValidationError
	if rferrors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

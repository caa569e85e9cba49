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

package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tombee/runfactory/internal/lifecycle"
)

// Health is a snapshot of the supervisor for monitoring.
type Health struct {
	State                 State              `json:"state"`
	ProcessName           string             `json:"process_name,omitempty"`
	PID                   int                `json:"pid,omitempty"`
	LastStartupCheckCount int                `json:"last_startup_check_count"`
	LastExitCode          *int               `json:"last_exit_code,omitempty"`
	LastExit              string             `json:"last_exit"`
	RSSBytes              uint64             `json:"rss_bytes,omitempty"`
	CPUPercent            float64            `json:"cpu_percent,omitempty"`
	RecentOutput          []lifecycle.Record `json:"recent_output,omitempty"`
}

// Health returns the current health snapshot. Process resource figures are
// best effort and left zero when unavailable.
func (s *Supervisor) Health() Health {
	s.mu.Lock()
	h := Health{
		State:                 s.state,
		LastStartupCheckCount: s.lastChecks,
		LastExit:              s.lastExit.String(),
	}
	if s.lastExit.Kind != lifecycle.ExitUnknown {
		code := s.lastExit.Code
		h.LastExitCode = &code
	}
	if s.handle != nil {
		h.ProcessName = s.handle.Name
		h.PID = s.handle.Process.Pid()
	}
	s.mu.Unlock()

	h.RecentOutput = s.output.Last(20)

	if h.PID > 0 {
		collectProcessStats(&h)
	}
	return h
}

func collectProcessStats(h *Health) {
	p, err := process.NewProcess(int32(h.PID))
	if err != nil {
		return
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		h.RSSBytes = mi.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		h.CPUPercent = cpu
	}
}

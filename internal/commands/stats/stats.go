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

// Package stats implements the stats command.
package stats

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/runfactory/internal/commands/shared"
	"github.com/tombee/runfactory/internal/monitor"
)

// NewCommand creates the stats command.
func NewCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show run counts from the running service",
		Long: `Show how many runs the service has created and how many are still
operating on the current worker factory. Asking for the operating count
starts a factory if none is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				cfg, err := shared.LoadConfig()
				if err != nil {
					return err
				}
				addr = cfg.Monitor.Address
			}
			if addr == "" {
				return shared.NewConfigError("no service address", errors.New("set --addr or monitor.address"))
			}

			var stats monitor.RunStats
			url := shared.ServiceURL(addr) + "/runs"
			if err := shared.DoJSON(cmd.Context(), http.MethodGet, url, nil, &stats, time.Minute); err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("created:  "), stats.Created)
			fmt.Fprintf(out, "%s %d\n", shared.RenderLabel("operating:"), stats.Operating)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Service monitor address (default: monitor.address)")
	return cmd
}

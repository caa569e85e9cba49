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

// Package serve implements the serve command.
package serve

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/runfactory/internal/commands/shared"
	"github.com/tombee/runfactory/internal/daemon"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var monitorAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the run factory service",
		Long: `Start the run factory service. It hosts the registry (unless
registry.embedded is false), launches a worker factory on the first
request and serves health, metrics and run creation on the monitor
address. The config file is watched and factory settings are applied
on change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if monitorAddr != "" {
				cfg.Monitor.Address = monitorAddr
			}
			if shared.GetVerbose() {
				cfg.Log.Level = "debug"
			}

			v, c, b := shared.GetVersion()
			d, err := daemon.New(cfg, daemon.Options{
				Version:    v,
				Commit:     c,
				BuildDate:  b,
				ConfigPath: shared.ResolveConfigPath(),
			})
			if err != nil {
				return shared.NewConfigError("invalid configuration", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&monitorAddr, "monitor", "", "Monitor endpoint address (overrides monitor.address)")
	return cmd
}

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

// Command runworker is the worker factory process launched by the
// supervisor as: runworker <execute-command> <name> [engine args...]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/runfactory/internal/daemon"
	"github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/registry"
	"github.com/tombee/runfactory/internal/worker"
)

const defaultRegistryAddr = "127.0.0.1:7410"

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "runworker:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		builder      string
		registryAddr string
		workDir      string
	)

	cmd := &cobra.Command{
		Use:           "runworker <execute-command> <name> [engine-args...]",
		Short:         "Run factory worker process",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Engine output shares stdout with the confirmation line, so
			// logs go to stderr.
			logger := log.New(log.FromEnv()).With(slog.String("process", args[1]))
			slog.SetDefault(logger)

			if workDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workDir = wd
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			reg, err := registry.Dial(dialCtx, registryAddr, 0)
			cancel()
			if err != nil {
				return err
			}
			defer reg.Close()

			w, err := worker.New(worker.Config{
				Command:   args[0],
				Name:      args[1],
				ExtraArgs: args[2:],
				Builder:   builder,
				WorkDir:   workDir,
				Registry:  reg,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	// Engine arguments may look like flags.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&builder, "builder", envOr(daemon.EnvBuilder, "engine"), "Run builder (engine, static)")
	cmd.Flags().StringVar(&registryAddr, "registry", envOr(daemon.EnvRegistryAddr, defaultRegistryAddr), "Registry address")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Parent directory for run directories (default: current directory)")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

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

// Package registry implements the registry commands.
package registry

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/runfactory/internal/commands/shared"
	"github.com/tombee/runfactory/internal/daemon"
	internallog "github.com/tombee/runfactory/internal/log"
	"github.com/tombee/runfactory/internal/registry"
)

// NewCommand creates the registry command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Run or inspect the name registry",
	}
	cmd.AddCommand(newServeCommand(), newListCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a standalone registry",
		Long: `Serve the registry on registry.address with the configured backend.
Services that set registry.embedded to false use a registry like this
one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			logger := internallog.New(&internallog.Config{
				Level:  cfg.Log.Level,
				Format: internallog.Format(cfg.Log.Format),
			})
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return daemon.ServeRegistry(ctx, cfg, logger)
		},
	}
}

// ListEntry is one binding in list output.
type ListEntry struct {
	Name    string    `json:"name"`
	Address string    `json:"address,omitempty"`
	PID     int       `json:"pid,omitempty"`
	BoundAt time.Time `json:"bound_at,omitzero"`
}

func newListCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered factories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				cfg, err := shared.LoadConfig()
				if err != nil {
					return err
				}
				addr = cfg.Registry.Address
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			client, err := registry.Dial(ctx, addr, 0)
			if err != nil {
				return shared.NewUnavailableError("registry unreachable", err)
			}
			defer client.Close()

			entries, err := list(ctx, client)
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, shared.RenderLabel("no factories registered"))
				return nil
			}
			fmt.Fprintln(out, shared.Header.Render("Registered factories"))
			for _, e := range entries {
				fmt.Fprintf(out, "  %s  %s %s  %s %d\n", e.Name,
					shared.RenderLabel("addr"), e.Address,
					shared.RenderLabel("pid"), e.PID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Registry address (default: registry.address)")
	return cmd
}

// list resolves every bound name. Names unbound between List and Lookup
// are skipped.
func list(ctx context.Context, client registry.Client) ([]ListEntry, error) {
	names, err := client.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]ListEntry, 0, len(names))
	for _, name := range names {
		h, err := client.Lookup(ctx, name)
		if err != nil {
			continue
		}
		entries = append(entries, ListEntry{Name: name, Address: h.Address, PID: h.PID, BoundAt: h.BoundAt})
	}
	return entries, nil
}

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

// Package create implements the create command.
package create

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/runfactory/internal/commands/shared"
	"github.com/tombee/runfactory/internal/factory"
	"github.com/tombee/runfactory/internal/monitor"
)

type options struct {
	addr    string
	creator string
	runID   string
	notify  string
	timeout time.Duration
}

// NewCommand creates the create command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "create [workflow-file]",
		Short: "Create a run on the running service",
		Long: `Submit a workflow container document to a running 'runfactory serve'
and print the new run's ID. The document is read from the named file, or
from standard input when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.addr == "" {
				cfg, err := shared.LoadConfig()
				if err != nil {
					return err
				}
				opts.addr = cfg.Monitor.Address
			}
			if opts.addr == "" {
				return shared.NewConfigError("no service address", errors.New("set --addr or monitor.address"))
			}
			workflow, err := readWorkflow(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return run(cmd, opts, workflow)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Service monitor address (default: monitor.address)")
	cmd.Flags().StringVar(&opts.creator, "creator", defaultCreator(), "Identity recorded as the run's creator")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run ID (default: generated)")
	cmd.Flags().StringVar(&opts.notify, "notify", "", "Result notification destination")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 3*time.Minute, "How long to wait for the run")
	return cmd
}

func run(cmd *cobra.Command, opts options, workflow string) error {
	req := factory.CreateRequest{
		Workflow: workflow,
		Creator:  opts.creator,
		RunID:    opts.runID,
		Notify:   opts.notify,
	}
	var resp monitor.CreateRunResponse
	url := shared.ServiceURL(opts.addr) + "/runs"
	if err := shared.DoJSON(cmd.Context(), http.MethodPost, url, req, &resp, opts.timeout); err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("created run "+resp.RunID))
	if resp.Status != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", shared.RenderLabel("status:"), shared.RenderRunStatus(resp.Status))
	}
	return nil
}

func readWorkflow(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read workflow: %w", err)
		}
		return string(data), nil
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no workflow file given and standard input is a terminal")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read workflow from stdin: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("empty workflow")
	}
	return string(data), nil
}

func defaultCreator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

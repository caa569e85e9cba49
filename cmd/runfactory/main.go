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

package main

import (
	"os"

	"github.com/tombee/runfactory/internal/cli"
	"github.com/tombee/runfactory/internal/commands/create"
	"github.com/tombee/runfactory/internal/commands/registry"
	"github.com/tombee/runfactory/internal/commands/serve"
	"github.com/tombee/runfactory/internal/commands/stats"
	versioncmd "github.com/tombee/runfactory/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(serve.NewCommand())
	rootCmd.AddCommand(create.NewCommand())
	rootCmd.AddCommand(registry.NewCommand())
	rootCmd.AddCommand(stats.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
		os.Exit(1)
	}
}

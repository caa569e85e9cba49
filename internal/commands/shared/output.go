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

package shared

import (
	"encoding/json"
	"io"

	"github.com/tombee/runfactory/internal/config"
)

// EmitJSON writes v as indented JSON.
func EmitJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// LoadConfig loads the file named by --config, or the default config
// file when it exists, applying defaults and environment overrides.
func LoadConfig() (*config.Config, error) {
	path := ResolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// ResolveConfigPath returns --config, or the default config path when
// that file exists, or "".
func ResolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	path, err := config.ConfigPath()
	if err != nil || !fileExists(path) {
		return ""
	}
	return path
}

// Copyright 2025 Kadir Pekel
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
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/tripplanner/pkg/config"
)

type ValidateCmd struct {
	// PrintConfig prints the expanded configuration
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved, secrets masked)."`
	Format      string `short:"f" help:"Output format for --print-config: yaml, json." default:"yaml" enum:"yaml,json"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	source := cli.Config
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Fprintf(os.Stderr, "Configuration valid (%s)\n", source)
	for _, missing := range cfg.MissingSettings() {
		fmt.Fprintf(os.Stderr, "  warning: %s is empty\n", missing)
	}

	if !c.PrintConfig {
		return nil
	}
	return printConfig(c.Format, maskSecrets(*cfg))
}

// maskSecrets hides credentials in a copy of cfg.
func maskSecrets(cfg config.Config) config.Config {
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = "****"
	}
	if cfg.MCP.URL != "" {
		cfg.MCP.URL = maskQueryKey(cfg.MCP.URL)
	}
	return cfg
}

// maskQueryKey hides the AMap key carried in the MCP URL query.
func maskQueryKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("key") == "" {
		return raw
	}
	q.Set("key", "****")
	u.RawQuery = q.Encode()
	return u.String()
}

func printConfig(format string, cfg config.Config) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

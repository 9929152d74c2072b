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

// Command tripplanner serves travel plans produced by an LLM with AMap
// mapping tools.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/tripplanner/pkg/config"
	"github.com/kadirpekel/tripplanner/pkg/model"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the travel-planning server."`
	Plan     PlanCmd     `cmd:"" help:"Plan a trip and stream it to stdout."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration file."`

	Config    string `short:"c" help:"Path to config file (empty = defaults and environment)." type:"path" env:"TRIPPLANNER_CONFIG"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat string `help:"Log format (simple, verbose, json)." env:"LOG_FORMAT"`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("tripplanner version %s\n", buildVersion())
	return nil
}

func buildVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

// ModelFlags override the configured model for one process or request.
type ModelFlags struct {
	Model   string `help:"Model name (overrides LLM_MODEL)."`
	BaseURL string `name:"base-url" help:"OpenAI-compatible API base URL (overrides LLM_BASE_URL)."`
	APIKey  string `name:"api-key" help:"API key (overrides LLM_API_KEY)."`
}

func (f ModelFlags) config() model.Config {
	return model.Config{Model: f.Model, BaseURL: f.BaseURL, APIKey: f.APIKey}
}

// loadConfig loads the configuration, applies overrides and installs the
// logger. The returned cleanup closes the log file.
func (cli *CLI) loadConfig(override func(*config.Config)) (*config.Config, func(), error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cleanup, nil
}

func main() {
	// .env files must be loaded before kong reads env-backed flags.
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("tripplanner"),
		kong.Description("Streaming travel planner backed by an OpenAI-compatible LLM and AMap MCP tools."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	err := ctx.Run(&cli)
	if err != nil {
		slog.Debug("Command failed", "command", ctx.Command(), "error", err)
	}
	ctx.FatalIfErrorf(err)
}

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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/tripplanner/pkg/config"
	"github.com/kadirpekel/tripplanner/pkg/runtime"
	"github.com/kadirpekel/tripplanner/pkg/server"
)

type ServeCmd struct {
	ModelFlags `embed:""`

	Mode   string `help:"Server mode (ndjson, sse-query, sse-body, sync)."`
	Host   string `help:"Host to bind to."`
	Port   int    `help:"Port to listen on."`
	MCPURL string `name:"mcp-url" help:"MCP server URL (default: AMap SSE endpoint keyed by AMAP_KEY)."`
	Strict bool   `help:"Fail at startup when model or AMap settings are empty."`
	Watch  bool   `help:"Reload the instruction file when it changes."`
}

func (c *ServeCmd) apply(cfg *config.Config) {
	if c.Mode != "" {
		cfg.Server.Mode = config.ServerMode(c.Mode)
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
	if c.BaseURL != "" {
		cfg.LLM.BaseURL = c.BaseURL
	}
	if c.APIKey != "" {
		cfg.LLM.APIKey = c.APIKey
	}
	if c.MCPURL != "" {
		cfg.MCP.URL = c.MCPURL
	}
	if c.Strict {
		cfg.LLM.Strict = true
	}
	if c.Watch {
		cfg.Agent.WatchInstruction = true
	}
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cleanup, err := cli.loadConfig(c.apply)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := runtime.New(ctx, cfg, runtime.Options{Version: buildVersion()})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			slog.Warn("Runtime cleanup error", "error", err)
		}
	}()

	opts := []server.Option{server.WithObservability(rt.Observability())}
	if pool := rt.Pool(); pool != nil {
		opts = append(opts, server.WithPoolStats(pool))
	}
	srv, err := server.New(cfg.Server, rt.Session(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	route := server.RoutePlanStream
	method := "POST"
	switch cfg.Server.Mode {
	case config.ModeSync:
		route = server.RoutePlan
	case config.ModeSSEQuery:
		method = "GET"
	}
	fmt.Printf("\nTrip planner ready (%s mode)\n", cfg.Server.Mode)
	fmt.Printf("   Plan:    %s http://%s%s\n", method, srv.Address(), route)
	fmt.Printf("   Health:  GET http://%s%s\n", srv.Address(), server.RouteHealth)
	if rt.Observability().MetricsHandler() != nil {
		fmt.Printf("   Metrics: GET http://%s%s\n", srv.Address(), rt.Observability().MetricsPath())
	}
	fmt.Println()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Agent.WatchInstruction {
		g.Go(func() error {
			return rt.Prompts().Watch(gctx)
		})
	}
	return g.Wait()
}
